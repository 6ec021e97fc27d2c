package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/pilotforge/internal/blob"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/ledger"
	"github.com/roach88/pilotforge/internal/provider"
	"github.com/roach88/pilotforge/internal/store"
)

// Runner defaults.
const (
	DefaultMaxParallel = 4
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
)

// Registrar records completed outputs. *library.Library satisfies it.
type Registrar interface {
	Register(ctx context.Context, rec ir.AssetRecord) (store.RegisterResult, error)
}

// Config tunes a Runner.
type Config struct {
	RunID       string
	MaxParallel int
	MaxAttempts int
	// BaseDelay is the first retry backoff; attempt n waits BaseDelay * 2^(n-1).
	BaseDelay time.Duration
}

// Runner executes graphs. One Runner may run many graphs concurrently;
// each Start creates an independent Execution.
type Runner struct {
	cfg       Config
	ledger    *ledger.Ledger
	providers *provider.Registry
	blobs     blob.Store
	registrar Registrar
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSleep replaces the retry backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// WithClock sets the clock used for provenance timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner. Zero config values take the defaults.
func NewRunner(cfg Config, l *ledger.Ledger, providers *provider.Registry, blobs blob.Store, reg Registrar, opts ...RunnerOption) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	r := &Runner{
		cfg:       cfg,
		ledger:    l,
		providers: providers,
		blobs:     blobs,
		registrar: reg,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the graph to completion and returns per-task results.
func (r *Runner) Run(ctx context.Context, g *Graph) Result {
	return r.Start(ctx, g).Wait()
}

// Start begins executing the graph in the background.
func (r *Runner) Start(ctx context.Context, g *Graph) *Execution {
	e := &Execution{
		runner:   r,
		graph:    g,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.coordinate(ctx)
	return e
}

// Execution is one in-progress run of a graph.
type Execution struct {
	runner *Runner
	graph  *Graph

	cancelOnce sync.Once
	cancelCh   chan struct{}
	cancelled  atomic.Bool

	done   chan struct{}
	result Result
}

// Cancel stops the execution: PENDING and READY tasks become CANCELLED at
// once and no new reservations are made. RUNNING tasks drain to completion
// or failure without further retries; their outputs are registered but
// flagged as drained.
func (e *Execution) Cancel() {
	e.cancelOnce.Do(func() {
		e.cancelled.Store(true)
		close(e.cancelCh)
	})
}

// Wait blocks until every task is terminal and returns the result.
func (e *Execution) Wait() Result {
	<-e.done
	return e.result
}

// Done is closed when the execution has finished.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

type taskState struct {
	status    TaskStatus
	remaining int
	result    TaskResult
}

// outcome is what a worker reports back for one job.
type outcome struct {
	id     string
	result TaskResult
}

// coordinate is the single owner of task state. Workers only execute jobs
// and report outcomes over the results channel.
func (e *Execution) coordinate(ctx context.Context) {
	defer close(e.done)

	r := e.runner
	g := e.graph
	states := make(map[string]*taskState, g.Len())
	var ready []string

	for _, id := range g.order {
		task := g.tasks[id]
		st := &taskState{
			status:    StatusPending,
			remaining: len(task.DependsOn),
			result:    newTaskResult(task.Spec),
		}
		states[id] = st
		if st.remaining == 0 {
			st.status = StatusReady
			ready = append(ready, id)
		}
	}

	queue := newJobQueue()
	results := make(chan outcome, g.Len())
	workerCtx := context.WithoutCancel(ctx)

	var workers sync.WaitGroup
	for i := 0; i < r.cfg.MaxParallel; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			e.work(workerCtx, queue, results)
		}()
	}
	defer func() {
		queue.Close()
		workers.Wait()
	}()

	// cascade cancels every not-yet-started transitive dependent of id.
	var cascade func(id string)
	cascade = func(id string) {
		parent := states[id]
		for _, child := range g.tasks[id].dependents {
			st := states[child]
			if st.status != StatusPending && st.status != StatusReady {
				continue
			}
			st.status = StatusCancelled
			st.result.Status = StatusCancelled
			st.result.Err = &DependencyUnresolvedError{
				TaskID:           child,
				Dependency:       id,
				DependencyStatus: parent.status,
				Cause:            parent.result.Err,
			}
			slog.Info("task cancelled", "pilot", g.pilotID, "task", child, "dependency", id, "reason", parent.status)
			cascade(child)
		}
	}

	// stop cancels every task that has not started. Running tasks drain.
	stopped := false
	stop := func(cause error) {
		stopped = true
		e.cancelled.Store(true)
		for _, id := range g.order {
			st := states[id]
			if st.status == StatusPending || st.status == StatusReady {
				st.status = StatusCancelled
				st.result.Status = StatusCancelled
				st.result.Err = cause
			}
		}
		ready = nil
		slog.Info("execution cancelled", "pilot", g.pilotID, "reason", cause)
	}
	ctxCause := func() error {
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	running := 0
	for {
		if !stopped {
			select {
			case <-e.cancelCh:
				stop(ErrCancelled)
			case <-ctx.Done():
				stop(ctxCause())
			default:
			}
		}

		// Dispatch while slots are free.
		for running < r.cfg.MaxParallel && len(ready) > 0 && !stopped {
			id := ready[0]
			ready = ready[1:]
			st := states[id]
			if st.status != StatusReady {
				continue
			}
			j, err := e.prepare(g.tasks[id], states)
			if err != nil {
				st.status = StatusCancelled
				if !ledger.IsBudgetExceeded(err) {
					st.status = StatusFailed
				}
				st.result.Status = st.status
				st.result.Err = err
				slog.Warn("task not started", "pilot", g.pilotID, "task", id, "status", st.status, "error", err)
				cascade(id)
				continue
			}
			st.status = StatusRunning
			st.result.Status = StatusRunning
			st.result.Seeds = j.seeds
			running++
			queue.Enqueue(j)
		}

		if running == 0 && (len(ready) == 0 || stopped) {
			break
		}

		var cancelCh <-chan struct{}
		var ctxDone <-chan struct{}
		if !stopped {
			cancelCh = e.cancelCh
			ctxDone = ctx.Done()
		}

		select {
		case out := <-results:
			running--
			st := states[out.id]
			out.result.Drained = stopped || e.cancelled.Load()
			st.result = out.result
			st.status = out.result.Status
			if st.status == StatusDone {
				for _, child := range g.tasks[out.id].dependents {
					cst := states[child]
					cst.remaining--
					if cst.remaining == 0 && cst.status == StatusPending {
						cst.status = StatusReady
						cst.result.Status = StatusReady
						ready = append(ready, child)
					}
				}
			} else {
				cascade(out.id)
			}
		case <-cancelCh:
			stop(ErrCancelled)
		case <-ctxDone:
			stop(ctxCause())
		}
	}

	res := Result{PilotID: g.pilotID, Cancelled: stopped}
	for _, id := range g.order {
		res.Tasks = append(res.Tasks, states[id].result)
	}
	e.result = res
}

// prepare resolves the provider, gathers seeds and reserves the estimate.
func (e *Execution) prepare(task *Task, states map[string]*taskState) (job, error) {
	r := e.runner
	spec := task.Spec

	p, err := r.providers.Get(spec.Provider)
	if err != nil {
		return job{}, fmt.Errorf("task %s: %w", spec.ID, err)
	}

	seeds := make([]string, 0, len(spec.Seeds)+len(task.DependsOn))
	seeds = append(seeds, spec.Seeds...)
	for _, dep := range task.DependsOn {
		seeds = append(seeds, states[dep].result.AssetID)
	}

	estimate := p.Estimate(requestFor(spec, seeds, 0))
	tok, err := r.ledger.Reserve(spec.PilotID, estimate)
	if err != nil {
		return job{}, fmt.Errorf("task %s: reserve %.4f: %w", spec.ID, estimate, err)
	}
	return job{task: task, seeds: seeds, prov: p, hold: tok}, nil
}

func (e *Execution) work(ctx context.Context, q *jobQueue, results chan<- outcome) {
	for {
		if j, ok := q.TryDequeue(); ok {
			results <- outcome{id: j.task.Spec.ID, result: e.execute(ctx, j)}
			continue
		}
		if _, open := <-q.Wait(); !open {
			return
		}
	}
}

// execute runs one job with retries and settles its reservation. Every
// path out of execute commits or releases the job's token.
func (e *Execution) execute(ctx context.Context, j job) TaskResult {
	r := e.runner
	spec := j.task.Spec
	res := newTaskResult(spec)
	res.Seeds = j.seeds

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = j.prov.Timeout()
	}

	var (
		gen     provider.Result
		lastErr error
		spent   float64
	)
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		gen, lastErr = j.prov.Generate(callCtx, requestFor(spec, j.seeds, attempt))
		cancel()
		if lastErr == nil {
			break
		}

		spent += provider.ReportedCost(lastErr)
		if !provider.IsTransient(lastErr) || attempt == r.cfg.MaxAttempts || e.cancelled.Load() {
			break
		}
		delay := r.cfg.BaseDelay << (attempt - 1)
		slog.Warn("provider attempt failed, retrying",
			"pilot", spec.PilotID, "task", spec.ID, "attempt", attempt, "delay", delay, "error", lastErr)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}

	if lastErr != nil {
		res.Cost = e.settle(j.hold, spent)
		return res.fail(lastErr)
	}

	total := spent + gen.Cost
	if err := r.ledger.Commit(j.hold, total); err != nil {
		charged := e.settle(j.hold, total)
		res.Cost = charged
		return res.fail(fmt.Errorf("task %s: commit: %w", spec.ID, err))
	}
	res.Cost = total

	assetID := spec.AssetID
	if assetID == "" {
		id, err := ir.AssetID(ir.AssetKey{
			PilotID:   spec.PilotID,
			SegmentID: spec.SegmentID,
			Variation: spec.Variation,
			AssetType: spec.AssetType,
			Provider:  j.prov.Name(),
		})
		if err != nil {
			return res.fail(err)
		}
		assetID = id
	}

	path := fmt.Sprintf("%s/%s-v%d%s", spec.PilotID, spec.SegmentID, spec.Variation, provider.Extension(spec.AssetType))
	uri, err := r.blobs.Put(ctx, r.cfg.RunID, path, gen.Payload, gen.MIME)
	if err != nil {
		return res.fail(fmt.Errorf("task %s: store payload: %w", spec.ID, err))
	}

	reg, err := r.registrar.Register(ctx, ir.AssetRecord{
		ID:         assetID,
		Type:       spec.AssetType,
		Path:       uri,
		PilotID:    spec.PilotID,
		SegmentID:  spec.SegmentID,
		Variation:  spec.Variation,
		RevisionOf: spec.RevisionOf,
		Tags:       spec.Tags,
		Provenance: ir.Provenance{
			Provider:  j.prov.Name(),
			RunID:     r.cfg.RunID,
			Cost:      total,
			CreatedAt: r.now(),
		},
	})
	if err != nil {
		return res.fail(fmt.Errorf("task %s: register: %w", spec.ID, err))
	}

	res.Status = StatusDone
	res.AssetID = reg.ID
	res.AssetStatus = reg.Status
	res.RevisionOf = reg.RevisionOf
	res.Path = uri
	res.Payload = gen.Payload
	res.MIME = gen.MIME
	slog.Info("task done",
		"pilot", spec.PilotID, "task", spec.ID, "asset", reg.ID,
		"attempts", res.Attempts, "cost", total)
	return res
}

// settle books spend against a reservation, capping at the reserved amount
// when the ledger refuses the overrun. Returns the amount charged.
func (e *Execution) settle(tok ledger.Token, spend float64) float64 {
	l := e.runner.ledger
	if err := l.Commit(tok, spend); err == nil {
		return spend
	} else if !ledger.IsBudgetExceeded(err) {
		slog.Error("settle reservation", "pilot", tok.PilotID, "error", err)
		return 0
	}
	refused, err := l.CommitCapped(tok, spend)
	if err != nil {
		slog.Error("settle reservation capped", "pilot", tok.PilotID, "error", err)
		return 0
	}
	return spend - refused
}

func requestFor(spec TaskSpec, seeds []string, attempt int) provider.Request {
	return provider.Request{
		TaskID:          spec.ID,
		PilotID:         spec.PilotID,
		Tier:            spec.Tier,
		SegmentID:       spec.SegmentID,
		Variation:       spec.Variation,
		AssetType:       spec.AssetType,
		DurationSeconds: spec.DurationSeconds,
		CostPerSecond:   spec.CostPerSecond,
		Seeds:           seeds,
		Attempt:         attempt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errorCode extracts a taxonomy code from err, if it carries one.
func errorCode(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
