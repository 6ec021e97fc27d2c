// Package engine wires one production run end to end: it opens a run
// record, builds a budget ledger, graph runner and pilot scheduler for the
// run, drives the scheduler, and persists the final report.
//
// Thread-safety: an Engine may run several productions concurrently. Each
// Run gets its own ledger, runner, scheduler and clock; they share the
// content library, provider registry, payload store and oracle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/pilotforge/internal/blob"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ledger"
	"github.com/roach88/pilotforge/internal/library"
	"github.com/roach88/pilotforge/internal/oracle"
	"github.com/roach88/pilotforge/internal/pilot"
	"github.com/roach88/pilotforge/internal/planner"
	"github.com/roach88/pilotforge/internal/provider"
	"github.com/roach88/pilotforge/internal/store"
)

// OutcomeFailed marks a run that ended with an error before the scheduler
// could classify it.
const OutcomeFailed = "failed"

// RunConfig is everything one production run needs besides the shared
// services. Runner.RunID is assigned by the engine.
type RunConfig struct {
	Scheduler pilot.Config
	Runner    graph.Config
}

// Event is one entry of a run's timeline.
type Event struct {
	Seq int64 `json:"seq"`
	pilot.Transition
}

// RunReport is what a run persists and returns.
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Outcome    string        `json:"outcome"`
	Report     *pilot.Report `json:"report,omitempty"`
	Timeline   []Event       `json:"timeline"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Engine runs productions against shared services.
type Engine struct {
	library   *library.Library
	providers *provider.Registry
	blobs     blob.Store
	oracle    oracle.Oracle

	ids   RunIDGenerator
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]*pilot.Scheduler
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunIDs replaces the UUIDv7 run id generator.
func WithRunIDs(gen RunIDGenerator) Option {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithNow sets the wall clock used for run and provenance timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep replaces the retry backoff wait of every run's graph runner.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New creates an engine. The library also provides the store that run
// records are written to.
func New(lib *library.Library, providers *provider.Registry, blobs blob.Store, o oracle.Oracle, opts ...Option) *Engine {
	e := &Engine{
		library:   lib,
		providers: providers,
		blobs:     blobs,
		oracle:    o,
		ids:       UUIDv7Generator{},
		now:       time.Now,
		active:    make(map[string]*pilot.Scheduler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one production. The run record is written before anything
// is spent and finished with the report even when the run fails, so the
// store always has the final ledger snapshot. The returned report is nil
// only when the run record itself could not be written.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*RunReport, error) {
	runID := e.ids.Generate()
	rr := &RunReport{RunID: runID, StartedAt: e.now().UTC(), Timeline: []Event{}}
	if err := e.store().WriteRun(ctx, runID, rr.StartedAt); err != nil {
		return nil, err
	}
	slog.Info("run started", "run", runID, "budget", cfg.Scheduler.Budget, "segments", len(cfg.Scheduler.Segments))

	report, runErr := e.run(ctx, runID, cfg, rr)
	rr.Report = report
	rr.FinishedAt = e.now().UTC()
	rr.Outcome = OutcomeFailed
	if report != nil && report.Outcome != "" {
		rr.Outcome = string(report.Outcome)
	}
	if runErr != nil {
		rr.Error = runErr.Error()
		rr.ErrorCode = errorCode(runErr)
	}

	// The run context may already be cancelled; the record is written anyway.
	if err := e.finish(context.WithoutCancel(ctx), runID, rr.Outcome, rr, rr.FinishedAt); err != nil {
		return rr, errors.Join(runErr, err)
	}
	slog.Info("run finished", "run", runID, "outcome", rr.Outcome, "error_code", rr.ErrorCode)
	return rr, runErr
}

func (e *Engine) run(ctx context.Context, runID string, cfg RunConfig, rr *RunReport) (*pilot.Report, error) {
	l, err := ledger.New(cfg.Scheduler.Budget)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	runner := e.newRunner(runID, cfg.Runner, l)

	clock := NewClock()
	var mu sync.Mutex
	record := func(tr pilot.Transition) {
		mu.Lock()
		defer mu.Unlock()
		rr.Timeline = append(rr.Timeline, Event{Seq: clock.Next(), Transition: tr})
	}

	sched, err := pilot.NewScheduler(cfg.Scheduler, l, planner.New(e.library), runner, e.oracle, pilot.WithObserver(record))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	e.mu.Lock()
	e.active[runID] = sched
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
	}()

	return sched.Run(ctx)
}

func (e *Engine) newRunner(runID string, cfg graph.Config, l *ledger.Ledger) *graph.Runner {
	cfg.RunID = runID
	opts := []graph.RunnerOption{graph.WithClock(e.now)}
	if e.sleep != nil {
		opts = append(opts, graph.WithSleep(e.sleep))
	}
	return graph.NewRunner(cfg, l, e.providers, e.blobs, e.library, opts...)
}

// CancelPilot cancels one pilot of an active run. It reports whether the
// run was active.
func (e *Engine) CancelPilot(runID, pilotID string) bool {
	e.mu.Lock()
	sched, ok := e.active[runID]
	e.mu.Unlock()
	if ok {
		slog.Info("pilot cancel requested", "run", runID, "pilot", pilotID)
		sched.Cancel(pilotID)
	}
	return ok
}

func (e *Engine) finish(ctx context.Context, runID, outcome string, report any, finishedAt time.Time) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run report %s: %w", runID, err)
	}
	return e.store().FinishRun(ctx, runID, outcome, data, finishedAt)
}

// Report reads back a persisted run report.
func (e *Engine) Report(ctx context.Context, runID string) (*RunReport, error) {
	rec, err := e.store().ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rr := &RunReport{RunID: rec.ID, StartedAt: rec.StartedAt, Outcome: rec.Outcome}
	if len(rec.Report) > 0 {
		if err := json.Unmarshal(rec.Report, rr); err != nil {
			return nil, fmt.Errorf("decode run report %s: %w", runID, err)
		}
	}
	return rr, nil
}

// Runs lists persisted run records, oldest first.
func (e *Engine) Runs(ctx context.Context) ([]store.RunRecord, error) {
	return e.store().ListRuns(ctx)
}

func (e *Engine) store() *store.Store {
	return e.library.Store()
}

func errorCode(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, graph.ErrCancelled) {
		return "E_CANCELLED"
	}
	return ""
}
