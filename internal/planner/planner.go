// Package planner computes the minimal generation work for a production:
// which segments still lack approved assets, the task specs that fill them,
// the re-issue path for rejected assets and the assembly plan built from
// the library.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
)

// DefaultSeedCostPerSecond prices the still image generated to seed a
// chained video task.
const DefaultSeedCostPerSecond = 0.02

// Library is the part of the Content Library the planner reads and, on the
// re-issue path, writes. *library.Library satisfies it.
type Library interface {
	HasApprovedAssetFor(ctx context.Context, segmentID string, assetType ir.AssetType) (bool, error)
	Get(ctx context.Context, id string) (ir.AssetRecord, error)
	Query(ctx context.Context, q library.Query) ([]ir.AssetRecord, error)
	CountRevisions(ctx context.Context, id string) (int, error)
	MarkRevised(ctx context.Context, id, reason string) (ir.AssetRecord, error)
}

// Planner diffs required work against the Content Library.
type Planner struct {
	lib Library
}

// New creates a planner over a library.
func New(lib Library) *Planner {
	return &Planner{lib: lib}
}

// GetGenerationPlan returns the segments that lack an APPROVED record of
// the given type. Input order is preserved and duplicates are dropped.
// The check is exact: an approved record of another type or for another
// segment never satisfies a segment.
func (p *Planner) GetGenerationPlan(ctx context.Context, segments []string, assetType ir.AssetType) ([]string, error) {
	if !assetType.Valid() {
		return nil, fmt.Errorf("generation plan: invalid asset type %q", assetType)
	}
	seen := make(map[string]bool, len(segments))
	plan := []string{}
	for _, seg := range segments {
		if seen[seg] {
			continue
		}
		seen[seg] = true

		ok, err := p.lib.HasApprovedAssetFor(ctx, seg, assetType)
		if err != nil {
			return nil, fmt.Errorf("generation plan %s: %w", seg, err)
		}
		if !ok {
			plan = append(plan, seg)
		}
	}
	return plan, nil
}

// TaskOptions describes the tasks to plan for one pilot.
type TaskOptions struct {
	PilotID  string
	Tier     catalog.Tier
	Segments []ir.Segment
	// Variations per segment; zero means one.
	Variations int
	// FirstVariation numbers the first planned variation. Regeneration
	// rounds start past the variations already produced.
	FirstVariation int
	// Count caps the number of segments planned; zero plans all of them.
	Count int
	// ChainSeedImages plans an image task ahead of every video task and
	// chains the two through a shared seed key.
	ChainSeedImages   bool
	SeedCostPerSecond float64
	// Provider overrides the tier's provider.
	Provider string
	Timeout  time.Duration
	Tags     []string
}

// PlanTasks expands the cache-miss plan for a tier into graph task specs.
// Segments already covered by an APPROVED asset of the tier's type get no
// tasks.
func (p *Planner) PlanTasks(ctx context.Context, opts TaskOptions) ([]graph.TaskSpec, error) {
	if opts.PilotID == "" {
		return nil, fmt.Errorf("plan tasks: pilot id is required")
	}
	if err := opts.Tier.Validate(); err != nil {
		return nil, fmt.Errorf("plan tasks: %w", err)
	}
	variations := opts.Variations
	if variations <= 0 {
		variations = 1
	}
	providerName := opts.Provider
	if providerName == "" {
		providerName = opts.Tier.Provider
	}
	seedCost := opts.SeedCostPerSecond
	if seedCost <= 0 {
		seedCost = DefaultSeedCostPerSecond
	}

	byID := make(map[string]ir.Segment, len(opts.Segments))
	ids := make([]string, 0, len(opts.Segments))
	for _, seg := range opts.Segments {
		if seg.ID == "" {
			return nil, fmt.Errorf("plan tasks: segment id is required")
		}
		if seg.DurationSeconds <= 0 {
			return nil, fmt.Errorf("plan tasks: segment %s: duration must be positive", seg.ID)
		}
		if _, dup := byID[seg.ID]; !dup {
			byID[seg.ID] = seg
		}
		ids = append(ids, seg.ID)
	}

	needed, err := p.GetGenerationPlan(ctx, ids, opts.Tier.AssetType)
	if err != nil {
		return nil, err
	}
	if opts.Count > 0 && len(needed) > opts.Count {
		needed = needed[:opts.Count]
	}

	chain := opts.ChainSeedImages && opts.Tier.AssetType == ir.AssetVideo
	var specs []graph.TaskSpec
	for _, segID := range needed {
		seg := byID[segID]

		var approvedImage []string
		needImage := false
		if chain {
			imgs, err := p.lib.Query(ctx, library.Query{Type: ir.AssetImage, Status: ir.StatusApproved, Segment: segID})
			if err != nil {
				return nil, fmt.Errorf("plan tasks %s: %w", segID, err)
			}
			if len(imgs) > 0 {
				approvedImage = []string{imgs[0].ID}
			} else {
				needImage = true
			}
		}

		for v := opts.FirstVariation; v < opts.FirstVariation+variations; v++ {
			base := graph.TaskSpec{
				PilotID:         opts.PilotID,
				Tier:            opts.Tier.ID,
				Provider:        providerName,
				SegmentID:       segID,
				Variation:       v,
				DurationSeconds: seg.DurationSeconds,
				Timeout:         opts.Timeout,
				Tags:            mergeTags(seg.Tags, opts.Tags),
			}
			if chain {
				base.SeedKey = fmt.Sprintf("%s/v%d", segID, v)
			}
			if needImage {
				img := base
				img.ID = TaskID(opts.PilotID, segID, v, ir.AssetImage)
				img.AssetType = ir.AssetImage
				img.CostPerSecond = seedCost
				specs = append(specs, img)
			}
			main := base
			main.ID = TaskID(opts.PilotID, segID, v, opts.Tier.AssetType)
			main.AssetType = opts.Tier.AssetType
			main.CostPerSecond = opts.Tier.CostPerSecond
			main.Seeds = approvedImage
			specs = append(specs, main)
		}
	}
	return specs, nil
}

// TaskID names the task generating one asset of a segment variation.
func TaskID(pilotID, segmentID string, variation int, assetType ir.AssetType) string {
	return fmt.Sprintf("%s/%s/v%d/%s", pilotID, segmentID, variation, assetType)
}

// Estimate is the sum of the reservations the specs will request.
func Estimate(specs []graph.TaskSpec) float64 {
	var sum float64
	for _, s := range specs {
		sum += s.DurationSeconds * s.CostPerSecond
	}
	return sum
}

func mergeTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
