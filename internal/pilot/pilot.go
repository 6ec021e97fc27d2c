// Package pilot implements the Pilot Scheduler: competing production
// strategies are planned against a budget, tested in parallel, scored, and
// the winner inherits the losers' unspent allocation for full production.
package pilot

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/oracle"
)

// Status is the lifecycle state of a pilot.
type Status string

const (
	StatusPlanned   Status = "PLANNED"
	StatusTesting   Status = "TESTING"
	StatusEvaluated Status = "EVALUATED"
	StatusWinner    Status = "WINNER"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPlanned:   {StatusTesting, StatusCancelled},
	StatusTesting:   {StatusEvaluated, StatusCancelled},
	StatusEvaluated: {StatusWinner, StatusCancelled},
}

// CanTransition reports whether a pilot may move between two statuses.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// SoftFailPolicy decides how a soft-failing pilot pays for its one
// regeneration round.
type SoftFailPolicy string

const (
	// FreshReservation regenerates only if the pilot's unspent allocation
	// still covers the test-phase estimate.
	FreshReservation SoftFailPolicy = "fresh_reservation"
	// ReuseReservation holds an envelope of the test-phase estimate from
	// before testing; a soft fail releases it to pay for regeneration.
	ReuseReservation SoftFailPolicy = "reuse_reservation"
)

// Valid reports whether p is a known policy.
func (p SoftFailPolicy) Valid() bool {
	return p == FreshReservation || p == ReuseReservation
}

// Round is one scored test phase of a pilot.
type Round struct {
	Index  int            `json:"index"`
	Result graph.Result   `json:"result"`
	Scores []oracle.Score `json:"scores"`
	Score  float64        `json:"score"`
	// ScoringFailures counts oracle calls that returned an error.
	ScoringFailures int `json:"scoring_failures,omitempty"`

	scoringErr error
}

// Unscored reports whether every oracle call of the round failed.
func (r Round) Unscored() bool {
	return len(r.Scores) == 0 && r.ScoringFailures > 0
}

// Pilot is one competing production strategy.
type Pilot struct {
	ID            string       `json:"id"`
	Tier          catalog.Tier `json:"tier"`
	Allocated     float64      `json:"allocated_budget"`
	Status        Status       `json:"status"`
	TestTaskCount int          `json:"test_task_count"`
	FullTaskCount int          `json:"full_task_count"`
	Rationale     string       `json:"rationale"`
	Score         float64      `json:"score"`
	Regenerated   bool         `json:"regenerated"`
	Rounds        []Round      `json:"rounds,omitempty"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Err           error        `json:"-"`

	observe func(Transition)
}

// Transition is one pilot status change. From is empty for the initial
// PLANNED status.
type Transition struct {
	PilotID   string `json:"pilot_id"`
	From      Status `json:"from,omitempty"`
	To        Status `json:"to"`
	Rationale string `json:"rationale,omitempty"`
}

// ID returns the pilot id for a tier.
func ID(tierID string) string {
	return "pilot-" + tierID
}

func (p *Pilot) transition(to Status, rationale string) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: pilot %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, to)
	}
	from := p.Status
	p.Status = to
	if rationale != "" {
		p.Rationale = rationale
	}
	p.notify(from)
	return nil
}

// cancel moves the pilot to CANCELLED, recording err as the cause.
func (p *Pilot) cancel(rationale string, err error) {
	if p.Status == StatusCancelled || p.Status == StatusWinner {
		return
	}
	from := p.Status
	p.Status = StatusCancelled
	p.Rationale = rationale
	p.Err = err
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		p.ErrorCode = coded.ErrorCode()
	}
	p.notify(from)
}

func (p *Pilot) notify(from Status) {
	if p.observe != nil {
		p.observe(Transition{PilotID: p.ID, From: from, To: p.Status, Rationale: p.Rationale})
	}
}

// Splits returns the budget shares for n pilots ordered by ascending tier
// cost: two pilots split 45/55, three 30/35/35, otherwise equally.
func Splits(n int) []float64 {
	switch n {
	case 0:
		return nil
	case 2:
		return []float64{0.45, 0.55}
	case 3:
		return []float64{0.30, 0.35, 0.35}
	}
	shares := make([]float64, n)
	for i := range shares {
		shares[i] = 1 / float64(n)
	}
	return shares
}

// Allocations splits budget by Splits(n). The last pilot absorbs rounding
// so the amounts sum to budget exactly.
func Allocations(budget float64, n int) []float64 {
	shares := Splits(n)
	out := make([]float64, n)
	var assigned float64
	for i, share := range shares {
		if i == n-1 {
			out[i] = budget - assigned
			break
		}
		out[i] = budget * share
		assigned += out[i]
	}
	return out
}

// SelectTiers returns the viable tiers for a budget and duration, cheapest
// first, capped at limit (zero means no cap). When no tier is viable the
// single cheapest tier is returned and viable is false.
func SelectTiers(tiers []catalog.Tier, budget, durationSeconds float64, limit int) (selected []catalog.Tier, viable bool) {
	sorted := slices.Clone(tiers)
	catalog.SortByCost(sorted)
	for _, t := range sorted {
		if t.Viable(budget, durationSeconds) {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		if len(sorted) == 0 {
			return nil, false
		}
		return sorted[:1], false
	}
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, true
}
