package pilot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/blob"
	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/ledger"
	"github.com/roach88/pilotforge/internal/library"
	"github.com/roach88/pilotforge/internal/oracle"
	"github.com/roach88/pilotforge/internal/planner"
	"github.com/roach88/pilotforge/internal/provider"
	"github.com/roach88/pilotforge/internal/store"
)

type harness struct {
	ledger    *ledger.Ledger
	library   *library.Library
	scheduler *Scheduler
}

func segments(n int, seconds float64) []ir.Segment {
	out := make([]ir.Segment, n)
	for i := range out {
		out[i] = ir.Segment{ID: fmt.Sprintf("seg-%02d", i+1), DurationSeconds: seconds}
	}
	return out
}

func tiers(t *testing.T, ids ...string) []catalog.Tier {
	t.Helper()
	c := catalog.Default()
	out := make([]catalog.Tier, 0, len(ids))
	for _, id := range ids {
		tier, err := c.Get(id)
		require.NoError(t, err)
		out = append(out, tier)
	}
	return out
}

func newHarness(t *testing.T, cfg Config, scores oracle.HeuristicConfig, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithOracle(t, cfg, oracle.NewHeuristic(scores), opts...)
}

func newHarnessWithOracle(t *testing.T, cfg Config, o oracle.Oracle, opts ...Option) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	lib, err := library.New(s)
	require.NoError(t, err)
	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	providers, err := provider.BuildRegistry(nil)
	require.NoError(t, err)

	l, err := ledger.New(cfg.Budget)
	require.NoError(t, err)
	runner := graph.NewRunner(graph.Config{RunID: "run-test"}, l, providers, blobs, lib,
		graph.WithSleep(func(context.Context, time.Duration) error { return nil }))

	sched, err := NewScheduler(cfg, l, planner.New(lib), runner, o, opts...)
	require.NoError(t, err)
	return &harness{ledger: l, library: lib, scheduler: sched}
}

// outageOracle fails every call for one tier and delegates the rest.
type outageOracle struct {
	oracle.Oracle
	tier string
}

func (o outageOracle) Score(ctx context.Context, asset oracle.Asset, sc oracle.Context) (oracle.Score, error) {
	if sc.Tier == o.tier {
		return oracle.Score{}, errors.New("oracle unavailable")
	}
	return o.Oracle.Score(ctx, asset, sc)
}

func assertLedgerSettled(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	snap := l.Snapshot()
	require.NoError(t, snap.CheckInvariants())
	assert.Zero(t, snap.Reserved, "every reservation is settled")
}

func TestPlan_ViableTiersSplitBudget(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(6, 10),
		Tiers:    tiers(t, "motion_graphics", "static_images"),
	}, oracle.HeuristicConfig{})

	pilots, viable, err := h.scheduler.Plan()
	require.NoError(t, err)
	assert.True(t, viable)
	require.Len(t, pilots, 2)

	assert.Equal(t, "pilot-static_images", pilots[0].ID)
	assert.InDelta(t, 45, pilots[0].Allocated, 1e-9)
	assert.Equal(t, "pilot-motion_graphics", pilots[1].ID)
	assert.InDelta(t, 55, pilots[1].Allocated, 1e-9)
	assert.Contains(t, pilots[1].Rationale, "estimated 13.50 <= 80.00")
	for _, p := range pilots {
		assert.Equal(t, StatusPlanned, p.Status)
		assert.Equal(t, DefaultTestTaskCount, p.TestTaskCount)
		assert.Equal(t, 6, p.FullTaskCount)
	}

	snap := h.ledger.Snapshot()
	mg, ok := snap.Pilot("pilot-motion_graphics")
	require.True(t, ok)
	assert.InDelta(t, 55, mg.Allocated, 1e-9)
}

func TestRun_HardFailCancels(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(6, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 42, "static_images": 80}})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	mg, ok := report.Pilot("pilot-motion_graphics")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, mg.Status)
	assert.InDelta(t, 42, mg.Score, 1e-9)
	assert.Equal(t, "E_SCORING_HARD_FAIL", mg.ErrorCode)
	assert.True(t, IsScoringHardFail(mg.Err))
	assert.False(t, mg.Regenerated, "hard fails never regenerate")

	assert.Equal(t, "pilot-static_images", report.Winner)
	assertLedgerSettled(t, h.ledger)
}

func TestRun_WinnerInheritsBudget(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(6, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 77, "static_images": 72}})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, "pilot-motion_graphics", report.Winner)

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.Equal(t, StatusWinner, mg.Status)
	assert.InDelta(t, 77, mg.Score, 1e-9)
	require.Len(t, mg.Rounds, 1)
	assert.Len(t, mg.Rounds[0].Scores, 2)

	static, _ := report.Pilot("pilot-static_images")
	assert.Equal(t, StatusCancelled, static.Status)
	assert.Contains(t, static.Rationale, "outscored")

	// static spent 2 x 10s x 0.02 in testing; the rest moved to the winner.
	assert.InDelta(t, 0.4, static.Allocated, 1e-9)
	assert.InDelta(t, 99.6, mg.Allocated, 1e-9)
	snapMG, _ := report.Ledger.Pilot("pilot-motion_graphics")
	assert.InDelta(t, 99.6, snapMG.Allocated, 1e-9)

	// Full production covers the four untested segments.
	require.NotNil(t, report.Production)
	assert.Equal(t, 4, mg.FullTaskCount)
	assert.Equal(t, 4, report.Production.Count(graph.StatusDone))
	assert.InDelta(t, 0.4+3+6, report.Ledger.Spent, 1e-9)
	assertLedgerSettled(t, h.ledger)

	videos, err := h.library.Query(context.Background(), library.Query{Type: ir.AssetVideo})
	require.NoError(t, err)
	assert.Len(t, videos, 6)
}

func TestRun_ChainedSeedImagesKeepTheirRecords(t *testing.T) {
	h := newHarness(t, Config{
		Budget:          100,
		Segments:        segments(2, 10),
		Tiers:           tiers(t, "motion_graphics"),
		ChainSeedImages: true,
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 90}})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pilot-motion_graphics", report.Winner)

	ctx := context.Background()
	images, err := h.library.Query(ctx, library.Query{Type: ir.AssetImage})
	require.NoError(t, err)
	videos, err := h.library.Query(ctx, library.Query{Type: ir.AssetVideo})
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Len(t, videos, 2)

	mg, _ := report.Pilot("pilot-motion_graphics")
	require.NotEmpty(t, mg.Rounds)
	for _, seg := range []string{"seg-01", "seg-02"} {
		img, ok := mg.Rounds[0].Result.Task(planner.TaskID(mg.ID, seg, 0, ir.AssetImage))
		require.True(t, ok)
		vid, ok := mg.Rounds[0].Result.Task(planner.TaskID(mg.ID, seg, 0, ir.AssetVideo))
		require.True(t, ok)

		assert.NotEqual(t, img.AssetID, vid.AssetID, "image and video of %s share an id", seg)
		require.Equal(t, []string{img.AssetID}, vid.Seeds)

		seed, err := h.library.Get(ctx, vid.Seeds[0])
		require.NoError(t, err)
		assert.Equal(t, ir.AssetImage, seed.Type)
		assert.Equal(t, seg, seed.SegmentID)
	}
	assertLedgerSettled(t, h.ledger)
}

func TestRun_ObserverSeesEveryTransition(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]Status{}
	)
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(6, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 42, "static_images": 80}},
		WithObserver(func(tr Transition) {
			mu.Lock()
			defer mu.Unlock()
			seen[tr.PilotID] = append(seen[tr.PilotID], tr.To)
		}))

	_, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusPlanned, StatusTesting, StatusCancelled}, seen["pilot-motion_graphics"])
	assert.Equal(t, []Status{StatusPlanned, StatusTesting, StatusEvaluated, StatusWinner}, seen["pilot-static_images"])
}

func TestPlan_GrantsOverrunAllowance(t *testing.T) {
	h := newHarness(t, Config{
		Budget:           100,
		Segments:         segments(2, 10),
		Tiers:            tiers(t, "static_images", "motion_graphics"),
		OverrunAllowance: 1.5,
	}, oracle.HeuristicConfig{})

	pilots, _, err := h.scheduler.Plan()
	require.NoError(t, err)
	require.Len(t, pilots, 2)

	// 2 x 1.5 is set aside before the 45/55 split.
	assert.InDelta(t, 0.45*97, pilots[0].Allocated, 1e-9)
	assert.InDelta(t, 0.55*97, pilots[1].Allocated, 1e-9)
	snap := h.ledger.Snapshot()
	require.NoError(t, snap.CheckInvariants())
	static, _ := snap.Pilot(pilots[0].ID)
	assert.InDelta(t, 1.5, static.Overrun, 1e-9)

	// A reservation of 1 committed at 2 only succeeds with an allowance.
	tok, err := h.ledger.Reserve(pilots[0].ID, 1)
	require.NoError(t, err)
	require.NoError(t, h.ledger.Commit(tok, 2))
	assert.InDelta(t, 2, h.ledger.Snapshot().Spent, 1e-9)
	require.NoError(t, h.ledger.Snapshot().CheckInvariants())
}

func TestPlan_OverrunAllowanceMustLeaveBudget(t *testing.T) {
	h := newHarness(t, Config{
		Budget:           10,
		Segments:         segments(2, 10),
		Tiers:            tiers(t, "static_images", "motion_graphics"),
		OverrunAllowance: 5,
	}, oracle.HeuristicConfig{})

	_, _, err := h.scheduler.Plan()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overrun allowance")
}

func TestRun_TieGoesToCheaperTier(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(4, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, oracle.HeuristicConfig{DefaultScore: 90})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pilot-static_images", report.Winner)
}

func TestRun_SoftFailFreshReservationRegenerates(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(4, 10),
		Tiers:    tiers(t, "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 60}, RegenBonus: 20})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.Equal(t, StatusWinner, mg.Status)
	assert.True(t, mg.Regenerated)
	require.Len(t, mg.Rounds, 2)
	assert.InDelta(t, 60, mg.Rounds[0].Score, 1e-9)
	assert.InDelta(t, 80, mg.Rounds[1].Score, 1e-9)

	// Regenerated outputs are new variations, not replacements.
	for _, task := range mg.Rounds[1].Result.Tasks {
		assert.Equal(t, 1, task.Variation)
	}
	assertLedgerSettled(t, h.ledger)
}

func TestRun_SoftFailWithoutBudgetCancels(t *testing.T) {
	// A $5 budget cannot afford 60s of motion graphics, so the tier runs as
	// the non-viable fallback; after a $3 test only $2 remains.
	h := newHarness(t, Config{
		Budget:   5,
		Segments: segments(6, 10),
		Tiers:    tiers(t, "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 60}, RegenBonus: 20})

	report, err := h.scheduler.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsNoViablePilot(err))
	assert.False(t, report.Viable)
	assert.Equal(t, OutcomeNoViablePilot, report.Outcome)

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.Equal(t, StatusCancelled, mg.Status)
	assert.False(t, mg.Regenerated)
	assert.Equal(t, "E_SCORING_SOFT_FAIL", mg.ErrorCode)
	assertLedgerSettled(t, h.ledger)
}

func TestRun_SoftFailReuseReservation(t *testing.T) {
	h := newHarness(t, Config{
		Budget:         20,
		Segments:       segments(4, 10),
		Tiers:          tiers(t, "motion_graphics"),
		SoftFailPolicy: ReuseReservation,
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 60}, RegenBonus: 20})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.True(t, mg.Regenerated)
	assert.Equal(t, StatusWinner, mg.Status)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	// test 3 + regeneration 3 + two remaining segments 3
	assert.InDelta(t, 9, report.Ledger.Spent, 1e-9)
	assertLedgerSettled(t, h.ledger)
}

func TestRun_SoftFailAfterRegenerationCancels(t *testing.T) {
	h := newHarness(t, Config{
		Budget:         20,
		Segments:       segments(4, 10),
		Tiers:          tiers(t, "motion_graphics"),
		SoftFailPolicy: ReuseReservation,
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 60}, RegenBonus: 5})

	report, err := h.scheduler.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsNoViablePilot(err))

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.True(t, mg.Regenerated)
	var soft *ScoringSoftFailError
	require.ErrorAs(t, mg.Err, &soft)
	assert.True(t, soft.Regenerated)
	assert.InDelta(t, 65, soft.Score, 1e-9)
	assertLedgerSettled(t, h.ledger)
}

func TestRun_NoViablePilot(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(4, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics", "photorealistic_video"),
	}, oracle.HeuristicConfig{DefaultScore: 10})

	report, err := h.scheduler.Run(context.Background())
	require.Error(t, err)
	var nv *NoViablePilotError
	require.ErrorAs(t, err, &nv)
	assert.Len(t, nv.Reasons, 3)
	assert.Empty(t, report.Winner)
	assert.Nil(t, report.Production)
	for _, p := range report.Pilots {
		assert.Equal(t, StatusCancelled, p.Status)
	}
	assertLedgerSettled(t, h.ledger)
}

func TestRun_SatisfiedByLibrary(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(2, 10),
		Tiers:    tiers(t, "motion_graphics"),
	}, oracle.HeuristicConfig{})

	ctx := context.Background()
	for _, seg := range []string{"seg-01", "seg-02"} {
		id := "approved-" + seg
		_, err := h.library.Register(ctx, ir.AssetRecord{
			ID: id, Type: ir.AssetVideo, Path: "file:///x", SegmentID: seg,
			Provenance: ir.Provenance{Provider: "simulated", RunID: "earlier"},
		})
		require.NoError(t, err)
		_, err = h.library.Approve(ctx, id)
		require.NoError(t, err)
	}

	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSatisfied, report.Outcome)
	assert.Zero(t, report.Ledger.Spent)
}

func TestRun_CancelledPilotIsNotScored(t *testing.T) {
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(4, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, oracle.HeuristicConfig{DefaultScore: 90})

	h.scheduler.Cancel("pilot-static_images")
	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	static, _ := report.Pilot("pilot-static_images")
	assert.Equal(t, StatusCancelled, static.Status)
	require.Len(t, static.Rounds, 1)
	assert.Empty(t, static.Rounds[0].Scores)
	assert.Equal(t, "pilot-motion_graphics", report.Winner)
}

func TestRun_CancelAfterEvaluationCannotWin(t *testing.T) {
	var sched *Scheduler
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(6, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 77, "static_images": 72}},
		WithObserver(func(tr Transition) {
			if tr.PilotID == "pilot-motion_graphics" && tr.To == StatusEvaluated {
				sched.Cancel(tr.PilotID)
			}
		}))
	sched = h.scheduler

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, "pilot-static_images", report.Winner)

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.Equal(t, StatusCancelled, mg.Status)
	assert.Equal(t, "cancelled on request", mg.Rationale)

	static, _ := report.Pilot("pilot-static_images")
	assert.Equal(t, StatusWinner, static.Status)
	assert.Greater(t, static.Allocated, 45.0, "the cancelled pilot's budget moves to the winner")
	require.NotNil(t, report.Production)
	assert.Equal(t, 4, report.Production.Count(graph.StatusDone))
	assertLedgerSettled(t, h.ledger)
}

func TestRun_CancelBeforeRegenerationSkipsIt(t *testing.T) {
	var sched *Scheduler
	h := newHarness(t, Config{
		Budget:   100,
		Segments: segments(4, 10),
		Tiers:    tiers(t, "motion_graphics"),
	}, oracle.HeuristicConfig{TierScores: map[string]float64{"motion_graphics": 60}},
		WithObserver(func(tr Transition) {
			if tr.To == StatusTesting {
				sched.Cancel(tr.PilotID)
			}
		}))
	sched = h.scheduler

	report, err := h.scheduler.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsNoViablePilot(err))

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.Equal(t, StatusCancelled, mg.Status)
	assert.False(t, mg.Regenerated)
	assert.LessOrEqual(t, len(mg.Rounds), 1)
	assertLedgerSettled(t, h.ledger)
}

func TestRun_OracleOutageLeavesPilotUnscored(t *testing.T) {
	h := newHarnessWithOracle(t, Config{
		Budget:   100,
		Segments: segments(4, 10),
		Tiers:    tiers(t, "static_images", "motion_graphics"),
	}, outageOracle{Oracle: oracle.NewHeuristic(oracle.HeuristicConfig{}), tier: "motion_graphics"})

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pilot-static_images", report.Winner)

	mg, _ := report.Pilot("pilot-motion_graphics")
	assert.Equal(t, StatusCancelled, mg.Status)
	assert.Equal(t, "E_SCORING_UNAVAILABLE", mg.ErrorCode)
	assert.True(t, IsScoringUnavailable(mg.Err))
	assert.False(t, IsScoringHardFail(mg.Err))
	assert.Contains(t, mg.Rationale, "scoring unavailable")
	require.Len(t, mg.Rounds, 1)
	assert.Equal(t, 2, mg.Rounds[0].ScoringFailures)
	assert.True(t, mg.Rounds[0].Unscored())
	assertLedgerSettled(t, h.ledger)
}

func TestNewScheduler_Validation(t *testing.T) {
	l, err := ledger.New(10)
	require.NoError(t, err)

	base := Config{Budget: 10, Segments: segments(1, 10), Tiers: tiers(t, "static_images")}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"budget", func(c *Config) { c.Budget = 0 }, "budget must be positive"},
		{"segments", func(c *Config) { c.Segments = nil }, "segment"},
		{"tiers", func(c *Config) { c.Tiers = nil }, "tier"},
		{"test count", func(c *Config) { c.TestTaskCount = 5 }, "test_task_count"},
		{"policy", func(c *Config) { c.SoftFailPolicy = "hope" }, "soft_fail_policy"},
		{"ledger", func(c *Config) { c.Budget = 11 }, "exceeds ledger total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewScheduler(cfg, l, nil, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
