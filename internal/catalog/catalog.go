// Package catalog defines production tiers: the cost/quality classes a
// pilot can run at, their pass thresholds and the viability rule used to
// pick candidate tiers for a budget.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/pilotforge/internal/ir"
)

// Viability constants.
const (
	// SafetyFactor inflates the raw cost estimate of a tier.
	SafetyFactor = 1.5
	// MaxBudgetShare is the share of the total budget a tier estimate may use.
	MaxBudgetShare = 0.8
)

// ErrUnknownTier is returned for a tier id missing from the catalog.
var ErrUnknownTier = errors.New("unknown tier")

// Tier is one cost/quality class of generation.
type Tier struct {
	ID            string       `json:"id"`
	CostPerSecond float64      `json:"cost_per_second"`
	PassThreshold float64      `json:"pass_threshold"`
	AssetType     ir.AssetType `json:"asset_type"`
	Provider      string       `json:"provider,omitempty"`
	Description   string       `json:"description,omitempty"`
}

// CostPerMinute returns the tier's cost for one minute of output.
func (t Tier) CostPerMinute() float64 {
	return t.CostPerSecond * 60
}

// EstimatedCost is the padded cost of producing durationSeconds of output:
// (duration/60) * cost_per_minute * 1.5.
func (t Tier) EstimatedCost(durationSeconds float64) float64 {
	return (durationSeconds / 60) * t.CostPerMinute() * SafetyFactor
}

// Viable reports whether the tier fits the budget:
// estimated_cost <= 0.8 * total_budget.
func (t Tier) Viable(totalBudget, durationSeconds float64) bool {
	return t.EstimatedCost(durationSeconds) <= MaxBudgetShare*totalBudget+1e-9
}

// Validate checks a single tier definition.
func (t Tier) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tier: id is required")
	}
	if t.CostPerSecond <= 0 {
		return fmt.Errorf("tier %s: cost_per_second must be positive", t.ID)
	}
	if t.PassThreshold < 0 || t.PassThreshold > 100 {
		return fmt.Errorf("tier %s: pass_threshold %v outside 0..100", t.ID, t.PassThreshold)
	}
	if !t.AssetType.Valid() {
		return fmt.Errorf("tier %s: invalid asset_type %q", t.ID, t.AssetType)
	}
	return nil
}

// Catalog is an immutable set of tiers.
type Catalog struct {
	tiers map[string]Tier
}

// New builds a catalog and validates that pass thresholds increase
// monotonically with tier cost.
func New(tiers []Tier) (*Catalog, error) {
	c := &Catalog{tiers: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.tiers[t.ID]; dup {
			return nil, fmt.Errorf("tier %s: defined twice", t.ID)
		}
		c.tiers[t.ID] = t
	}

	sorted := c.List()
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.PassThreshold < prev.PassThreshold {
			return nil, fmt.Errorf("tier %s: pass_threshold %v lower than cheaper tier %s (%v)",
				cur.ID, cur.PassThreshold, prev.ID, prev.PassThreshold)
		}
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultTiers returns the built-in tier definitions, cheapest first.
func DefaultTiers() []Tier {
	return []Tier{
		{
			ID:            "static_images",
			CostPerSecond: 0.02,
			PassThreshold: 70,
			AssetType:     ir.AssetImage,
			Provider:      "simulated",
			Description:   "still frames with pan/zoom",
		},
		{
			ID:            "motion_graphics",
			CostPerSecond: 0.15,
			PassThreshold: 75,
			AssetType:     ir.AssetVideo,
			Provider:      "simulated",
			Description:   "animated figures and typography",
		},
		{
			ID:            "photorealistic_video",
			CostPerSecond: 0.50,
			PassThreshold: 85,
			AssetType:     ir.AssetVideo,
			Provider:      "simulated",
			Description:   "generated live-action footage",
		},
	}
}

// Get returns a tier by id.
func (c *Catalog) Get(id string) (Tier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %s", ErrUnknownTier, id)
	}
	return t, nil
}

// List returns all tiers ordered by ascending cost, then id.
func (c *Catalog) List() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	SortByCost(out)
	return out
}

// Resolve returns the named tiers, or every tier when ids is empty.
func (c *Catalog) Resolve(ids []string) ([]Tier, error) {
	if len(ids) == 0 {
		return c.List(), nil
	}
	out := make([]Tier, 0, len(ids))
	for _, id := range ids {
		t, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	SortByCost(out)
	return out, nil
}

// SortByCost orders tiers by ascending cost; equal costs order by id.
func SortByCost(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].CostPerSecond != tiers[j].CostPerSecond {
			return tiers[i].CostPerSecond < tiers[j].CostPerSecond
		}
		return tiers[i].ID < tiers[j].ID
	})
}
