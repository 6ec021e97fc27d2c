package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/blob"
	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
	"github.com/roach88/pilotforge/internal/oracle"
	"github.com/roach88/pilotforge/internal/pilot"
	"github.com/roach88/pilotforge/internal/provider"
	"github.com/roach88/pilotforge/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, scores map[string]float64, ids ...string) *Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	lib, err := library.New(s)
	require.NoError(t, err)

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	providers, err := provider.BuildRegistry(nil)
	require.NoError(t, err)

	return New(lib, providers, blobs, oracle.NewHeuristic(oracle.HeuristicConfig{TierScores: scores}),
		WithRunIDs(NewFixedGenerator(ids...)),
		WithNow(func() time.Time { return fixedNow }),
		WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func runConfig(t *testing.T, budget float64, tierIDs ...string) RunConfig {
	t.Helper()
	tiers, err := catalog.Default().Resolve(tierIDs)
	require.NoError(t, err)
	segs := make([]ir.Segment, 6)
	for i := range segs {
		segs[i] = ir.Segment{ID: fmt.Sprintf("seg-%02d", i+1), DurationSeconds: 10}
	}
	return RunConfig{Scheduler: pilot.Config{Budget: budget, Segments: segs, Tiers: tiers}}
}

func TestRun_CompletedRunIsPersisted(t *testing.T) {
	e := newEngine(t, map[string]float64{"motion_graphics": 77, "static_images": 72}, "run-1")

	rr, err := e.Run(context.Background(), runConfig(t, 100, "static_images", "motion_graphics"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", rr.RunID)
	assert.Equal(t, "completed", rr.Outcome)
	assert.Empty(t, rr.ErrorCode)
	require.NotNil(t, rr.Report)
	assert.Equal(t, "pilot-motion_graphics", rr.Report.Winner)
	require.NoError(t, rr.Report.Ledger.CheckInvariants())

	stored, err := e.Report(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, rr.Outcome, stored.Outcome)
	assert.Equal(t, rr.Report.Winner, stored.Report.Winner)
	assert.Equal(t, rr.Report.Ledger, stored.Report.Ledger)
	assert.Equal(t, rr.Timeline, stored.Timeline)
	assert.True(t, stored.FinishedAt.Equal(fixedNow))

	runs, err := e.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Outcome)
}

func TestRun_TimelineIsTotallyOrdered(t *testing.T) {
	e := newEngine(t, map[string]float64{"motion_graphics": 77, "static_images": 72}, "run-1")

	rr, err := e.Run(context.Background(), runConfig(t, 100, "static_images", "motion_graphics"))
	require.NoError(t, err)

	perPilot := map[string][]pilot.Status{}
	for i, ev := range rr.Timeline {
		assert.Equal(t, int64(i+1), ev.Seq)
		perPilot[ev.PilotID] = append(perPilot[ev.PilotID], ev.To)
	}
	assert.Equal(t, []pilot.Status{pilot.StatusPlanned, pilot.StatusTesting, pilot.StatusEvaluated, pilot.StatusWinner},
		perPilot["pilot-motion_graphics"])
	assert.Equal(t, []pilot.Status{pilot.StatusPlanned, pilot.StatusTesting, pilot.StatusEvaluated, pilot.StatusCancelled},
		perPilot["pilot-static_images"])
}

func TestRun_NoViablePilotIsRecorded(t *testing.T) {
	e := newEngine(t, map[string]float64{"motion_graphics": 30, "static_images": 20}, "run-1")

	rr, err := e.Run(context.Background(), runConfig(t, 100, "static_images", "motion_graphics"))
	require.Error(t, err)
	assert.True(t, pilot.IsNoViablePilot(err))
	require.NotNil(t, rr)
	assert.Equal(t, "no_viable_pilot", rr.Outcome)
	assert.Equal(t, "E_NO_VIABLE_PILOT", rr.ErrorCode)

	stored, err := e.Report(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "no_viable_pilot", stored.Outcome)
	assert.Equal(t, "E_NO_VIABLE_PILOT", stored.ErrorCode)
	assert.Zero(t, stored.Report.Ledger.Reserved)
}

func TestRun_InvalidConfigFailsTheRun(t *testing.T) {
	e := newEngine(t, nil, "run-1")

	cfg := runConfig(t, 100, "static_images")
	cfg.Scheduler.TestTaskCount = 9
	rr, err := e.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_task_count")
	assert.Equal(t, OutcomeFailed, rr.Outcome)
	assert.Nil(t, rr.Report)

	stored, err := e.Report(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, stored.Outcome)
}

func TestRun_EachRunGetsItsOwnLedger(t *testing.T) {
	e := newEngine(t, map[string]float64{"static_images": 90}, "run-1", "run-2")

	first, err := e.Run(context.Background(), runConfig(t, 50, "static_images"))
	require.NoError(t, err)
	second, err := e.Run(context.Background(), runConfig(t, 50, "static_images"))
	require.NoError(t, err)

	assert.Equal(t, "completed", first.Outcome)
	// The library already holds the first run's images, but none is
	// approved, so the second run generates again against a fresh budget.
	assert.Equal(t, "completed", second.Outcome)
	assert.InDelta(t, 50, second.Report.Ledger.Total, 1e-9)
	assert.InDelta(t, first.Report.Ledger.Spent, second.Report.Ledger.Spent, 1e-9)
}

func TestCancelPilot_UnknownRun(t *testing.T) {
	e := newEngine(t, nil)
	assert.False(t, e.CancelPilot("missing", "pilot-static_images"))
}

func TestReport_NotFound(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.Report(context.Background(), "missing")
	require.Error(t, err)
}
