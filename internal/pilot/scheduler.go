package pilot

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/ledger"
	"github.com/roach88/pilotforge/internal/oracle"
	"github.com/roach88/pilotforge/internal/planner"
)

// Scheduler defaults.
const (
	DefaultMaxPilots     = 3
	DefaultTestTaskCount = 2
	MinTestTaskCount     = 2
	MaxTestTaskCount     = 4
	DefaultHardFailFloor = 50
)

// Config tunes a production run.
type Config struct {
	Budget   float64
	Segments []ir.Segment
	// Tiers are the candidate tiers, in any order.
	Tiers     []catalog.Tier
	MaxPilots int
	// TestTaskCount is the number of segments each pilot tests, 2 to 4.
	TestTaskCount   int
	Variations      int
	SoftFailPolicy  SoftFailPolicy
	ChainSeedImages bool
	HardFailFloor   float64
	// OverrunAllowance is granted to every pilot for provider overruns and
	// set aside from the budget before it is split.
	OverrunAllowance float64
}

func (c Config) withDefaults() Config {
	if c.MaxPilots <= 0 {
		c.MaxPilots = DefaultMaxPilots
	}
	if c.TestTaskCount == 0 {
		c.TestTaskCount = DefaultTestTaskCount
	}
	if c.Variations <= 0 {
		c.Variations = 1
	}
	if c.SoftFailPolicy == "" {
		c.SoftFailPolicy = FreshReservation
	}
	if c.HardFailFloor == 0 {
		c.HardFailFloor = DefaultHardFailFloor
	}
	return c
}

// Validate checks a configuration after defaults are applied.
func (c Config) Validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %v", c.Budget)
	}
	if len(c.Segments) == 0 {
		return fmt.Errorf("at least one segment is required")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	if c.TestTaskCount < MinTestTaskCount || c.TestTaskCount > MaxTestTaskCount {
		return fmt.Errorf("test_task_count %d outside %d..%d", c.TestTaskCount, MinTestTaskCount, MaxTestTaskCount)
	}
	if !c.SoftFailPolicy.Valid() {
		return fmt.Errorf("unknown soft_fail_policy %q", c.SoftFailPolicy)
	}
	if c.OverrunAllowance < 0 {
		return fmt.Errorf("overrun_allowance must not be negative, got %v", c.OverrunAllowance)
	}
	return nil
}

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomePartial       Outcome = "partial"
	OutcomeSatisfied     Outcome = "satisfied"
	OutcomeNoViablePilot Outcome = "no_viable_pilot"
	OutcomeCancelled     Outcome = "cancelled"
)

// Report is the outcome of a production run.
type Report struct {
	Budget     float64         `json:"budget"`
	Duration   float64         `json:"duration_seconds"`
	Viable     bool            `json:"viable"`
	Pilots     []*Pilot        `json:"pilots"`
	Winner     string          `json:"winner,omitempty"`
	Production *graph.Result   `json:"production,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	Ledger     ledger.Snapshot `json:"ledger"`
}

// Pilot returns a pilot of the report by id.
func (r *Report) Pilot(id string) (*Pilot, bool) {
	for _, p := range r.Pilots {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Scheduler drives pilots through PLANNED, TESTING and EVALUATED to a
// WINNER, then runs the winner's full production.
type Scheduler struct {
	cfg     Config
	ledger  *ledger.Ledger
	planner *planner.Planner
	runner  *graph.Runner
	oracle  oracle.Oracle
	observe func(Transition)

	mu         sync.Mutex
	executions map[string]*graph.Execution
	cancelled  map[string]bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver receives every pilot status change. Test phases run
// concurrently, so fn must be safe for concurrent use.
func WithObserver(fn func(Transition)) Option {
	return func(s *Scheduler) {
		s.observe = fn
	}
}

// NewScheduler validates cfg and creates a scheduler.
func NewScheduler(cfg Config, l *ledger.Ledger, p *planner.Planner, r *graph.Runner, o oracle.Oracle, opts ...Option) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if l.Total() < cfg.Budget {
		return nil, fmt.Errorf("scheduler config: budget %v exceeds ledger total %v", cfg.Budget, l.Total())
	}
	s := &Scheduler{
		cfg:        cfg,
		ledger:     l,
		planner:    p,
		runner:     r,
		oracle:     o,
		executions: make(map[string]*graph.Execution),
		cancelled:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Plan creates the pilots and allocates their budget shares.
func (s *Scheduler) Plan() ([]*Pilot, bool, error) {
	duration := ir.TotalDuration(s.cfg.Segments)
	tiers, viable := SelectTiers(s.cfg.Tiers, s.cfg.Budget, duration, s.cfg.MaxPilots)
	if len(tiers) == 0 {
		return nil, false, fmt.Errorf("plan: no tiers")
	}

	// Overrun allowances come off the top so allocations plus allowances
	// never exceed the budget.
	reserve := s.cfg.OverrunAllowance * float64(len(tiers))
	if reserve >= s.cfg.Budget {
		return nil, false, fmt.Errorf("plan: overrun allowance %.2f x %d pilots leaves no budget to allocate", s.cfg.OverrunAllowance, len(tiers))
	}
	amounts := Allocations(s.cfg.Budget-reserve, len(tiers))
	pilots := make([]*Pilot, 0, len(tiers))
	for i, t := range tiers {
		p := &Pilot{
			ID:            ID(t.ID),
			Tier:          t,
			Allocated:     amounts[i],
			Status:        StatusPlanned,
			TestTaskCount: s.cfg.TestTaskCount,
			FullTaskCount: len(s.cfg.Segments) * s.cfg.Variations,
		}
		est := t.EstimatedCost(duration)
		if viable {
			p.Rationale = fmt.Sprintf("viable: estimated %.2f <= %.2f", est, catalog.MaxBudgetShare*s.cfg.Budget)
		} else {
			p.Rationale = fmt.Sprintf("no viable tier: cheapest selected (estimated %.2f > %.2f)", est, catalog.MaxBudgetShare*s.cfg.Budget)
		}
		if err := s.ledger.Allocate(p.ID, p.Allocated); err != nil {
			return nil, false, fmt.Errorf("plan %s: %w", p.ID, err)
		}
		if s.cfg.OverrunAllowance > 0 {
			if err := s.ledger.GrantOverrun(p.ID, s.cfg.OverrunAllowance); err != nil {
				return nil, false, fmt.Errorf("plan %s: %w", p.ID, err)
			}
		}
		p.observe = s.observe
		p.notify("")
		slog.Info("pilot planned", "pilot", p.ID, "tier", t.ID, "allocated", p.Allocated, "viable", viable)
		pilots = append(pilots, p)
	}
	return pilots, viable, nil
}

// Run executes the whole competitive evaluation and the winner's full
// production. A run in which no pilot passes returns the report together
// with a NoViablePilotError.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	pilots, viable, err := s.Plan()
	if err != nil {
		return nil, err
	}
	report := &Report{
		Budget:   s.cfg.Budget,
		Duration: ir.TotalDuration(s.cfg.Segments),
		Viable:   viable,
		Pilots:   pilots,
	}
	defer func() { report.Ledger = s.ledger.Snapshot() }()

	// Pilots with nothing to generate sit out; if none has work the
	// library already satisfies the production.
	var active []*Pilot
	for _, p := range pilots {
		needed, err := s.planner.GetGenerationPlan(ctx, segmentIDs(s.cfg.Segments), p.Tier.AssetType)
		if err != nil {
			return report, err
		}
		if len(needed) == 0 {
			p.cancel(fmt.Sprintf("nothing to generate: every segment has an approved %s", p.Tier.AssetType), nil)
			continue
		}
		active = append(active, p)
	}
	if len(active) == 0 {
		report.Outcome = OutcomeSatisfied
		return report, nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	for _, p := range active {
		eg.Go(func() error {
			return s.testPilot(egctx, p)
		})
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		for _, p := range pilots {
			p.cancel("run cancelled", ctx.Err())
		}
		report.Outcome = OutcomeCancelled
		return report, ctx.Err()
	}

	winner, err := s.selectWinner(pilots)
	if err != nil {
		report.Outcome = OutcomeNoViablePilot
		return report, err
	}
	report.Winner = winner.ID

	if err := s.reallocate(pilots, winner); err != nil {
		return report, err
	}

	prod, err := s.produce(ctx, winner)
	if err != nil {
		return report, err
	}
	report.Production = &prod
	report.Outcome = OutcomeCompleted
	if prod.Partial() {
		report.Outcome = OutcomePartial
	}
	if prod.Cancelled {
		report.Outcome = OutcomeCancelled
	}
	return report, nil
}

// Cancel stops a pilot: its pending tasks are cancelled and running ones
// drain. Drained outputs are registered but never scored.
func (s *Scheduler) Cancel(pilotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[pilotID] = true
	if exec, ok := s.executions[pilotID]; ok {
		exec.Cancel()
	}
}

func (s *Scheduler) isCancelled(pilotID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[pilotID]
}

// cancelRequested moves a pilot whose cancellation was requested through
// Cancel to CANCELLED. It reports whether the pilot is cancelled.
func (s *Scheduler) cancelRequested(p *Pilot) bool {
	if !s.isCancelled(p.ID) {
		return false
	}
	p.cancel("cancelled on request", graph.ErrCancelled)
	slog.Info("pilot cancelled", "pilot", p.ID, "reason", p.Rationale)
	return true
}

// testPilot runs a pilot's test phase and applies the evaluation gate. It
// returns an error only when the pilot could not be planned or built.
func (s *Scheduler) testPilot(ctx context.Context, p *Pilot) error {
	if err := p.transition(StatusTesting, ""); err != nil {
		return err
	}

	specs, err := s.planTasks(ctx, p, s.cfg.TestTaskCount, 0)
	if err != nil {
		return err
	}
	estimate := planner.Estimate(specs)

	var envelope *ledger.Token
	if s.cfg.SoftFailPolicy == ReuseReservation {
		tok, err := s.ledger.Reserve(p.ID, estimate)
		if err != nil {
			slog.Warn("regeneration envelope not reserved", "pilot", p.ID, "estimate", estimate, "error", err)
		} else {
			envelope = &tok
		}
	}
	releaseEnvelope := func() {
		if envelope == nil {
			return
		}
		if err := s.ledger.Release(*envelope); err != nil {
			slog.Error("release regeneration envelope", "pilot", p.ID, "error", err)
		}
		envelope = nil
	}
	defer releaseEnvelope()

	round, err := s.runRound(ctx, p, specs, 0)
	if err != nil {
		return err
	}
	if round.Result.Cancelled {
		p.cancel("cancelled during testing", graph.ErrCancelled)
		return nil
	}
	if s.cancelRequested(p) {
		return nil
	}
	if round.Unscored() {
		s.cancelUnscored(p, round)
		return nil
	}

	verdict := s.gate(p, round.Score, false)
	if verdict != verdictSoft {
		return nil
	}

	// One regeneration round for a soft fail, paid per policy.
	allowed := false
	switch s.cfg.SoftFailPolicy {
	case ReuseReservation:
		allowed = envelope != nil
		releaseEnvelope()
	case FreshReservation:
		allowed = s.ledger.Unspent(p.ID)+1e-9 >= estimate
	}
	if s.cancelRequested(p) {
		return nil
	}
	if !allowed {
		err := &ScoringSoftFailError{PilotID: p.ID, Score: round.Score, Threshold: p.Tier.PassThreshold}
		p.cancel(fmt.Sprintf("soft fail: score %.1f < %.1f, no budget to regenerate", round.Score, p.Tier.PassThreshold), err)
		slog.Info("pilot cancelled", "pilot", p.ID, "reason", p.Rationale)
		return nil
	}

	p.Regenerated = true
	slog.Info("pilot regenerating", "pilot", p.ID, "score", round.Score, "threshold", p.Tier.PassThreshold, "policy", s.cfg.SoftFailPolicy)
	specs, err = s.planTasks(ctx, p, s.cfg.TestTaskCount, s.cfg.Variations)
	if err != nil {
		return err
	}
	round, err = s.runRound(ctx, p, specs, 1)
	if err != nil {
		return err
	}
	if round.Result.Cancelled {
		p.cancel("cancelled during regeneration", graph.ErrCancelled)
		return nil
	}
	if s.cancelRequested(p) {
		return nil
	}
	if round.Unscored() {
		s.cancelUnscored(p, round)
		return nil
	}
	s.gate(p, round.Score, true)
	return nil
}

// cancelUnscored cancels a pilot whose round got no score back from the
// oracle. The pilot is left unscored rather than failed on a zero score.
func (s *Scheduler) cancelUnscored(p *Pilot, round Round) {
	err := &ScoringUnavailableError{PilotID: p.ID, Round: round.Index, Failures: round.ScoringFailures, Err: round.scoringErr}
	p.cancel(fmt.Sprintf("scoring unavailable: %d oracle call(s) failed in round %d", round.ScoringFailures, round.Index), err)
	slog.Warn("pilot cancelled", "pilot", p.ID, "reason", p.Rationale, "error", round.scoringErr)
}

type verdict int

const (
	verdictPass verdict = iota
	verdictSoft
	verdictHard
)

// gate applies the evaluation thresholds. A soft fail on the first round
// leaves the pilot TESTING for the caller to decide on regeneration.
func (s *Scheduler) gate(p *Pilot, score float64, regenerated bool) verdict {
	p.Score = score
	threshold := p.Tier.PassThreshold
	switch {
	case score < s.cfg.HardFailFloor:
		err := &ScoringHardFailError{PilotID: p.ID, Score: score, Floor: s.cfg.HardFailFloor}
		p.cancel(fmt.Sprintf("hard fail: score %.1f < %.1f", score, s.cfg.HardFailFloor), err)
		slog.Info("pilot cancelled", "pilot", p.ID, "reason", p.Rationale)
		return verdictHard
	case score < threshold:
		if !regenerated {
			return verdictSoft
		}
		err := &ScoringSoftFailError{PilotID: p.ID, Score: score, Threshold: threshold, Regenerated: true}
		p.cancel(fmt.Sprintf("soft fail after regeneration: score %.1f < %.1f", score, threshold), err)
		slog.Info("pilot cancelled", "pilot", p.ID, "reason", p.Rationale)
		return verdictSoft
	default:
		_ = p.transition(StatusEvaluated, fmt.Sprintf("passed: score %.1f >= %.1f", score, threshold))
		slog.Info("pilot evaluated", "pilot", p.ID, "score", score, "threshold", threshold)
		return verdictPass
	}
}

func (s *Scheduler) planTasks(ctx context.Context, p *Pilot, count, firstVariation int) ([]graph.TaskSpec, error) {
	specs, err := s.planner.PlanTasks(ctx, planner.TaskOptions{
		PilotID:         p.ID,
		Tier:            p.Tier,
		Segments:        s.cfg.Segments,
		Variations:      s.cfg.Variations,
		FirstVariation:  firstVariation,
		Count:           count,
		ChainSeedImages: s.cfg.ChainSeedImages,
	})
	if err != nil {
		return nil, fmt.Errorf("pilot %s: %w", p.ID, err)
	}
	return specs, nil
}

// runRound executes one test phase and scores its undrained outputs of the
// tier's asset type.
func (s *Scheduler) runRound(ctx context.Context, p *Pilot, specs []graph.TaskSpec, index int) (Round, error) {
	g, err := graph.Build(specs)
	if err != nil {
		return Round{}, fmt.Errorf("pilot %s: %w", p.ID, err)
	}
	res := s.execute(ctx, p.ID, g)

	round := Round{Index: index, Result: res, Scores: []oracle.Score{}}
	if !res.Cancelled {
		sc := oracle.Context{Tier: p.Tier.ID, PassThreshold: p.Tier.PassThreshold, Round: index}
		for _, t := range res.Scorable() {
			if t.AssetType != p.Tier.AssetType {
				continue
			}
			score, err := s.oracle.Score(ctx, oracle.Asset{
				ID:        t.AssetID,
				PilotID:   p.ID,
				SegmentID: t.SegmentID,
				Type:      t.AssetType,
				Payload:   t.Payload,
				MIME:      t.MIME,
			}, sc)
			if err != nil {
				slog.Warn("scoring failed", "pilot", p.ID, "asset", t.AssetID, "oracle", s.oracle.Name(), "error", err)
				round.ScoringFailures++
				round.scoringErr = err
				continue
			}
			round.Scores = append(round.Scores, score)
		}
	}
	round.Score = oracle.Mean(round.Scores)
	p.Rounds = append(p.Rounds, round)
	slog.Info("pilot round scored",
		"pilot", p.ID, "round", index, "done", res.Count(graph.StatusDone),
		"scored", len(round.Scores), "score", round.Score)
	return round, nil
}

// execute runs a graph while keeping it cancellable through Cancel.
func (s *Scheduler) execute(ctx context.Context, pilotID string, g *graph.Graph) graph.Result {
	exec := s.runner.Start(ctx, g)
	s.mu.Lock()
	s.executions[pilotID] = exec
	if s.cancelled[pilotID] {
		exec.Cancel()
	}
	s.mu.Unlock()

	res := exec.Wait()

	s.mu.Lock()
	delete(s.executions, pilotID)
	s.mu.Unlock()
	return res
}

// selectWinner promotes the best EVALUATED pilot: highest score, then
// cheapest tier, then pilot id. Other EVALUATED pilots are cancelled.
func (s *Scheduler) selectWinner(pilots []*Pilot) (*Pilot, error) {
	var evaluated []*Pilot
	var reasons []string
	for _, p := range pilots {
		if p.Status == StatusEvaluated {
			s.cancelRequested(p)
		}
		if p.Status == StatusEvaluated {
			evaluated = append(evaluated, p)
		} else {
			reasons = append(reasons, fmt.Sprintf("%s: %s", p.ID, p.Rationale))
		}
	}
	if len(evaluated) == 0 {
		slog.Warn("no viable pilot", "pilots", len(pilots))
		return nil, &NoViablePilotError{Reasons: reasons}
	}

	slices.SortStableFunc(evaluated, func(a, b *Pilot) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Tier.CostPerSecond, b.Tier.CostPerSecond); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	winner := evaluated[0]
	if err := winner.transition(StatusWinner, fmt.Sprintf("winner: score %.1f", winner.Score)); err != nil {
		return nil, err
	}
	for _, p := range evaluated[1:] {
		p.cancel(fmt.Sprintf("outscored by %s (%.1f vs %.1f)", winner.ID, winner.Score, p.Score), nil)
	}
	slog.Info("pilot selected", "pilot", winner.ID, "score", winner.Score)
	return winner, nil
}

// reallocate moves every cancelled pilot's unspent allocation to the winner.
func (s *Scheduler) reallocate(pilots []*Pilot, winner *Pilot) error {
	for _, p := range pilots {
		if p.Status != StatusCancelled {
			continue
		}
		amount := s.ledger.Unspent(p.ID)
		if amount <= 0 {
			continue
		}
		if err := s.ledger.Reallocate(p.ID, winner.ID, amount); err != nil {
			return fmt.Errorf("reallocate %s -> %s: %w", p.ID, winner.ID, err)
		}
		p.Allocated -= amount
		winner.Allocated += amount
		slog.Info("budget reallocated", "from", p.ID, "to", winner.ID, "amount", amount)
	}
	return nil
}

// produce runs the winner's full task set over the segments its final test
// round did not already produce.
func (s *Scheduler) produce(ctx context.Context, winner *Pilot) (graph.Result, error) {
	produced := make(map[string]bool)
	if n := len(winner.Rounds); n > 0 {
		for _, t := range winner.Rounds[n-1].Result.Scorable() {
			if t.AssetType == winner.Tier.AssetType {
				produced[t.SegmentID] = true
			}
		}
	}
	var remaining []ir.Segment
	for _, seg := range s.cfg.Segments {
		if !produced[seg.ID] {
			remaining = append(remaining, seg)
		}
	}

	specs, err := s.planner.PlanTasks(ctx, planner.TaskOptions{
		PilotID:         winner.ID,
		Tier:            winner.Tier,
		Segments:        remaining,
		Variations:      s.cfg.Variations,
		ChainSeedImages: s.cfg.ChainSeedImages,
	})
	if err != nil {
		return graph.Result{}, fmt.Errorf("pilot %s: %w", winner.ID, err)
	}
	winner.FullTaskCount = len(specs)

	g, err := graph.Build(specs)
	if err != nil {
		return graph.Result{}, fmt.Errorf("pilot %s: %w", winner.ID, err)
	}
	slog.Info("full production started", "pilot", winner.ID, "tasks", len(specs), "allocated", winner.Allocated)
	res := s.execute(ctx, winner.ID, g)
	slog.Info("full production finished",
		"pilot", winner.ID, "done", res.Count(graph.StatusDone), "failed", res.Count(graph.StatusFailed),
		"cancelled", res.Count(graph.StatusCancelled), "spent", res.Spent())
	return res, nil
}

func segmentIDs(segments []ir.Segment) []string {
	ids := make([]string, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	return ids
}
