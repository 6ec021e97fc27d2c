package harness

import (
	"github.com/roach88/pilotforge/internal/engine"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/pilot"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if the expected outcome and every assertion matched.
	Pass bool `json:"pass"`

	// Run is the engine's run report, including the timeline.
	Run *engine.RunReport `json:"run"`

	// Assets are the library records after the run, ordered by id.
	Assets []ir.AssetRecord `json:"assets"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(run *engine.RunReport) *Result {
	return &Result{
		Pass:   true,
		Run:    run,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Pilot returns a pilot of the run report by id.
func (r *Result) Pilot(id string) (*pilot.Pilot, bool) {
	if r.Run == nil || r.Run.Report == nil {
		return nil, false
	}
	return r.Run.Report.Pilot(id)
}

// Timeline returns the statuses a pilot went through, in order.
func (r *Result) Timeline(pilotID string) []pilot.Status {
	var out []pilot.Status
	if r.Run == nil {
		return out
	}
	for _, ev := range r.Run.Timeline {
		if ev.PilotID == pilotID {
			out = append(out, ev.To)
		}
	}
	return out
}
