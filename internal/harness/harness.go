package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/roach88/pilotforge/internal/blob"
	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/config"
	"github.com/roach88/pilotforge/internal/engine"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
	"github.com/roach88/pilotforge/internal/provider"
	"github.com/roach88/pilotforge/internal/store"
	"github.com/roach88/pilotforge/internal/testutil"
)

// Epoch is the start time of every scenario's clock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// setupPilot owns the records a scenario registers before the run.
const setupPilot = "setup"

// Harness holds the services one scenario runs against.
type Harness struct {
	store   *store.Store
	library *library.Library
	clock   *testutil.StepClock
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with payloads in a
// temporary directory, a stepping clock and a fixed run id. A run that
// ends in an error (no viable pilot, for instance) is a result like any
// other; Run only fails when the scenario cannot be executed at all.
//
// Execution flow:
// 1. Create fresh in-memory database and payload directory
// 2. Register setup assets
// 3. Run the production through the engine
// 4. Evaluate the expected outcome and assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	payloads, err := os.MkdirTemp("", "pilotforge-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create payload dir: %w", err)
	}
	defer os.RemoveAll(payloads)

	clock := testutil.NewStepClock(Epoch, time.Second)
	lib, err := library.New(st, library.WithClock(clock.Now))
	if err != nil {
		return nil, err
	}
	h := &Harness{store: st, library: lib, clock: clock}

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	cfg := config.Config{Production: scenario.Production, Runner: scenario.Runner}
	runCfg, err := cfg.RunConfig(catalog.Default())
	if err != nil {
		return nil, fmt.Errorf("invalid production: %w", err)
	}
	providers, err := provider.BuildRegistry(scenario.Providers)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewFileStore(payloads)
	if err != nil {
		return nil, err
	}

	eng := engine.New(lib, providers, blobs, testutil.NewScriptedOracle(scenario.Scores),
		engine.WithRunIDs(engine.NewFixedGenerator(scenario.RunID)),
		engine.WithNow(clock.Now),
		engine.WithSleep(func(context.Context, time.Duration) error { return nil }))

	rr, runErr := eng.Run(ctx, runCfg)
	if rr == nil {
		return nil, fmt.Errorf("run %s: %w", scenario.Name, runErr)
	}
	slog.Debug("scenario run finished", "scenario", scenario.Name, "outcome", rr.Outcome, "error", runErr)

	result := NewResult(rr)
	result.Assets, err = lib.Query(ctx, library.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to read assets: %w", err)
	}
	slices.SortFunc(result.Assets, func(a, b ir.AssetRecord) int { return strings.Compare(a.ID, b.ID) })

	for _, msg := range checkExpect(rr, scenario.Expect) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup registers each setup asset and moves it to its status.
func (h *Harness) executeSetup(ctx context.Context, setup []SetupAsset) error {
	for i, step := range setup {
		id, err := ir.AssetID(ir.AssetKey{
			PilotID:   setupPilot,
			SegmentID: step.Segment,
			AssetType: step.Type,
			Provider:  setupPilot,
		})
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if _, err := h.library.Register(ctx, ir.AssetRecord{
			ID:        id,
			Type:      step.Type,
			Path:      fmt.Sprintf("setup://%s/%s", step.Segment, step.Type),
			PilotID:   setupPilot,
			SegmentID: step.Segment,
			Provenance: ir.Provenance{
				Provider:  setupPilot,
				RunID:     setupPilot,
				CreatedAt: h.clock.Now(),
			},
		}); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}

		status := step.Status
		if status == "" {
			status = ir.StatusApproved
		}
		switch status {
		case ir.StatusDraft:
		case ir.StatusReview:
			_, err = h.library.Submit(ctx, id)
		case ir.StatusApproved:
			_, err = h.library.Approve(ctx, id)
		case ir.StatusRejected:
			_, err = h.library.Reject(ctx, id, "rejected in setup")
		default:
			err = fmt.Errorf("status %s cannot be set up", status)
		}
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		slog.Debug("setup asset registered", "asset", id, "segment", step.Segment, "type", step.Type, "status", status)
	}
	return nil
}

// checkExpect compares the run report with the expected outcome.
func checkExpect(rr *engine.RunReport, want Expect) []string {
	var errs []string
	if rr.Outcome != want.Outcome {
		errs = append(errs, fmt.Sprintf("expect.outcome: got %q, want %q (error: %s)", rr.Outcome, want.Outcome, rr.Error))
	}
	winner := ""
	if rr.Report != nil {
		winner = rr.Report.Winner
	}
	if winner != want.Winner {
		errs = append(errs, fmt.Sprintf("expect.winner: got %q, want %q", winner, want.Winner))
	}
	if rr.ErrorCode != want.ErrorCode {
		errs = append(errs, fmt.Sprintf("expect.error_code: got %q, want %q", rr.ErrorCode, want.ErrorCode))
	}
	return errs
}
