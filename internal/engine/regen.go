package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ledger"
	"github.com/roach88/pilotforge/internal/pilot"
	"github.com/roach88/pilotforge/internal/planner"
)

// RegenConfig tunes the regeneration of one rejected asset.
type RegenConfig struct {
	Budget          float64
	Tier            catalog.Tier
	DurationSeconds float64
	Runner          graph.Config
}

// RegenReport is what a regeneration persists and returns.
type RegenReport struct {
	RunID     string           `json:"run_id"`
	Outcome   string           `json:"outcome"`
	Reissue   planner.Reissue  `json:"reissue"`
	Task      graph.TaskResult `json:"task"`
	Ledger    ledger.Snapshot  `json:"ledger"`
	ErrorCode string           `json:"error_code,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Regenerate re-issues a REJECTED asset and runs the single task that
// produces its revision, under its own run record and budget.
func (e *Engine) Regenerate(ctx context.Context, assetID string, cfg RegenConfig) (*RegenReport, error) {
	if cfg.DurationSeconds <= 0 {
		return nil, fmt.Errorf("regenerate %s: duration must be positive", assetID)
	}
	if err := cfg.Tier.Validate(); err != nil {
		return nil, fmt.Errorf("regenerate %s: %w", assetID, err)
	}
	l, err := ledger.New(cfg.Budget)
	if err != nil {
		return nil, fmt.Errorf("regenerate %s: %w", assetID, err)
	}

	ri, err := planner.New(e.library).Reissue(ctx, assetID)
	if err != nil {
		return nil, err
	}

	runID := e.ids.Generate()
	if err := e.store().WriteRun(ctx, runID, e.now().UTC()); err != nil {
		return nil, err
	}
	rep := &RegenReport{RunID: runID, Outcome: OutcomeFailed, Reissue: ri}

	runErr := e.regenerate(ctx, runID, ri, cfg, l, rep)
	rep.Ledger = l.Snapshot()
	if runErr != nil {
		rep.Error = runErr.Error()
		rep.ErrorCode = errorCode(runErr)
	}
	if err := e.finish(context.WithoutCancel(ctx), runID, rep.Outcome, rep, e.now().UTC()); err != nil {
		return rep, errors.Join(runErr, err)
	}
	slog.Info("regeneration finished", "run", runID, "asset", ri.NewID, "outcome", rep.Outcome)
	return rep, runErr
}

func (e *Engine) regenerate(ctx context.Context, runID string, ri planner.Reissue, cfg RegenConfig, l *ledger.Ledger, rep *RegenReport) error {
	pilotID := ri.PilotID
	if pilotID == "" {
		pilotID = pilot.ID(cfg.Tier.ID)
	}
	if err := l.Allocate(pilotID, cfg.Budget); err != nil {
		return err
	}

	spec := ri.TaskSpec(pilotID, cfg.Tier, cfg.DurationSeconds)
	g, err := graph.Build([]graph.TaskSpec{spec})
	if err != nil {
		return err
	}
	res := e.newRunner(runID, cfg.Runner, l).Run(ctx, g)

	task, _ := res.Task(spec.ID)
	rep.Task = task
	if task.Status != graph.StatusDone {
		if task.Err != nil {
			return task.Err
		}
		return fmt.Errorf("regenerate %s: task ended %s", ri.BaseID, task.Status)
	}
	rep.Outcome = string(pilot.OutcomeCompleted)
	return nil
}
