package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/lock"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/metrics"
)

const defaultMaxAttempts = 5

var defaultBackoff = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

type attemptExecutor interface {
	Execute(ctx context.Context, runID string, params Params) (Summary, Phase, error)
}

type runStore interface {
	Create(ctx context.Context, run *models.ImportRun) error
	Save(ctx context.Context, run *models.ImportRun) error
}

type lockFactory func(name string, ttl time.Duration) (lock.Lease, error)

// RunOptions describe who triggered a run. RunID is generated when nil.
type RunOptions struct {
	RunID       uuid.UUID
	TriggeredBy string
}

type RunnerParams struct {
	Pipeline    attemptExecutor
	Runs        runStore
	Store       kv.Store
	Events      importlog.Stream
	Logger      *logger.Logger
	Metrics     *metrics.ImportMetrics
	Config      config.ImportConfig
	LockFactory lockFactory
	// Wait sleeps between attempts and returns early when ctx is done.
	Wait func(ctx context.Context, d time.Duration) error
	Now  func() time.Time
}

// Runner wraps pipeline attempts in the tuple lock and retries failed
// attempts with backoff, recording progress on the run row.
type Runner struct {
	pipeline    attemptExecutor
	runs        runStore
	store       kv.Store
	events      importlog.Stream
	logg        *logger.Logger
	metrics     *metrics.ImportMetrics
	locks       lockFactory
	lockTTL     time.Duration
	maxAttempts int
	backoff     []time.Duration
	wait        func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Pipeline == nil {
		return nil, fmt.Errorf("pipeline required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("run repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("import log stream required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	locks := params.LockFactory
	if locks == nil {
		store := params.Store
		locks = func(name string, ttl time.Duration) (lock.Lease, error) {
			return lock.New(store, name, ttl)
		}
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := params.Config.Backoff
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}
	wait := params.Wait
	if wait == nil {
		wait = waitContext
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		pipeline:    params.Pipeline,
		runs:        params.Runs,
		store:       params.Store,
		events:      params.Events,
		logg:        params.Logger,
		metrics:     params.Metrics,
		locks:       locks,
		lockTTL:     params.Config.LockTTL,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		wait:        wait,
		now:         now,
	}, nil
}

// keepLease extends the tuple lock every third of its TTL until the
// returned stop func is called, so runs longer than the TTL stay exclusive.
func (r *Runner) keepLease(ctx context.Context, lease lock.Lease, params Params) (stop func()) {
	every := lease.TTL() / 3
	if every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		logCtx := r.logg.WithField(ctx, "lock", params.LockName())
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := lease.Extend(ctx)
				if err != nil {
					r.logg.Error(logCtx, "extend import lock", err)
					continue
				}
				if !held {
					r.logg.Warn(logCtx, "import lock lost before the run finished")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffFor returns the delay after the given failed attempt; the last
// configured value repeats.
func (r *Runner) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(r.backoff) {
		idx = len(r.backoff) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return r.backoff[idx]
}

// Run executes an import for params while holding the tuple lock. When
// another run already holds the lock the call records a skipped run and
// returns without processing. Terminal outcomes are reported through the
// returned record; an error means the run could not be started or recorded.
func (r *Runner) Run(ctx context.Context, params Params, opts RunOptions) (*models.ImportRun, error) {
	params, err := params.Normalize()
	if err != nil {
		return nil, err
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}
	// bookkeeping must survive cancellation of the run itself
	bg := context.WithoutCancel(ctx)

	named, err := r.locks(params.LockName(), r.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build import lock")
	}
	acquired, err := named.Acquire(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire import lock")
	}
	if !acquired {
		return r.skip(bg, params, opts)
	}
	stopRenew := r.keepLease(bg, named, params)
	defer func() {
		stopRenew()
		if err := named.Release(bg); err != nil {
			r.logg.Error(bg, "release import lock", err)
		}
	}()

	// a flag left behind by an earlier run must not cancel this one
	r.clearCancel(bg, params)
	defer r.clearCancel(bg, params)

	started := r.now().UTC()
	run := &models.ImportRun{
		ID:          opts.RunID,
		StartPage:   params.StartPage,
		MaxPages:    params.MaxPages,
		BatchSize:   params.BatchSize,
		TriggeredBy: opts.TriggeredBy,
		Status:      enums.ImportRunStatusRunning,
		StartedAt:   &started,
	}
	if err := r.runs.Create(bg, run); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create import run")
	}
	runID := run.ID.String()
	logCtx := r.logg.WithFields(r.logg.WithRunID(ctx, runID), params.fields())
	r.logg.Info(logCtx, "import run started")
	r.emit(bg, importlog.Event{
		Type:     enums.ImportLogTypeRunStarted,
		Status:   enums.ImportLogStatusInfo,
		Message:  "import run started",
		RunID:    runID,
		Metadata: withTrigger(params.fields(), opts.TriggeredBy),
	})

	var summary Summary
	for attempt := 1; ; attempt++ {
		run.Attempts = attempt
		run.Status = enums.ImportRunStatusRunning
		r.save(bg, run)

		result, phase, err := r.pipeline.Execute(ctx, runID, params)
		summary = result
		if err == nil {
			r.metrics.IncAttempt("success")
			run.Status = enums.ImportRunStatusSucceeded
			if phase == PhaseCancelled {
				run.Status = enums.ImportRunStatusCancelled
			}
			break
		}

		r.metrics.IncAttempt("failure")
		msg := pkgerrors.Describe(err)
		run.LastError = &msg
		if attempt >= r.maxAttempts || !pkgerrors.IsRetryable(err) {
			run.Status = enums.ImportRunStatusFailedPermanently
			break
		}

		delay := r.backoffFor(attempt)
		run.Status = enums.ImportRunStatusRetrying
		r.save(bg, run)
		r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   msg,
		}), "import attempt failed, retrying")
		r.emit(bg, importlog.Event{
			Type:    enums.ImportLogTypeRetry,
			Status:  enums.ImportLogStatusWarning,
			Message: msg,
			RunID:   runID,
			Metadata: map[string]any{
				"attempt": attempt,
				"delay":   delay.String(),
			},
		})
		if err := r.wait(ctx, delay); err != nil {
			run.Status = enums.ImportRunStatusCancelled
			break
		}
	}

	return run, r.finish(bg, run, summary, started)
}

func (r *Runner) finish(ctx context.Context, run *models.ImportRun, summary Summary, started time.Time) error {
	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.PagesProcessed = summary.PagesProcessed
	run.TotalProcessed = summary.TotalProcessed
	run.SuccessCount = summary.SuccessCount
	run.FailedCount = summary.FailedCount
	run.SkippedCount = summary.SkippedCount
	run.NewBooks = summary.NewBooks
	run.UpdatedBooks = summary.UpdatedBooks

	meta := summary.metadata()
	meta["attempts"] = run.Attempts
	event := importlog.Event{RunID: run.ID.String(), Metadata: meta}
	switch run.Status {
	case enums.ImportRunStatusSucceeded:
		event.Type = enums.ImportLogTypeRunCompleted
		event.Status = enums.ImportLogStatusSuccess
		event.Message = fmt.Sprintf("import completed: %d new, %d updated, %d skipped, %d failed",
			summary.NewBooks, summary.UpdatedBooks, summary.SkippedCount, summary.FailedCount)
	case enums.ImportRunStatusCancelled:
		event.Type = enums.ImportLogTypeRunCancelled
		event.Status = enums.ImportLogStatusWarning
		event.Message = "import cancelled"
	default:
		event.Type = enums.ImportLogTypeRunFailed
		event.Status = enums.ImportLogStatusError
		event.Message = fmt.Sprintf("import failed after %d attempts", run.Attempts)
		if run.LastError != nil {
			meta["error"] = *run.LastError
		}
	}
	r.emit(ctx, event)

	r.metrics.IncRun(string(run.Status))
	r.metrics.ObserveRun(finished.Sub(started))

	logCtx := r.logg.WithFields(r.logg.WithRunID(ctx, run.ID.String()), map[string]any{
		"status":   string(run.Status),
		"attempts": run.Attempts,
		"summary":  meta,
	})
	r.logg.Info(logCtx, "import run finished")

	if err := r.runs.Save(ctx, run); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save import run")
	}
	return nil
}

func (r *Runner) skip(ctx context.Context, params Params, opts RunOptions) (*models.ImportRun, error) {
	now := r.now().UTC()
	run := &models.ImportRun{
		ID:          opts.RunID,
		StartPage:   params.StartPage,
		MaxPages:    params.MaxPages,
		BatchSize:   params.BatchSize,
		TriggeredBy: opts.TriggeredBy,
		Status:      enums.ImportRunStatusSkipped,
		StartedAt:   &now,
		FinishedAt:  &now,
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create import run")
	}
	logCtx := r.logg.WithFields(r.logg.WithRunID(ctx, run.ID.String()), params.fields())
	r.logg.Info(logCtx, "import already running for these parameters, skipping")
	r.emit(ctx, importlog.Event{
		Type:     enums.ImportLogTypeRunSkipped,
		Status:   enums.ImportLogStatusWarning,
		Message:  "import already running for these parameters",
		RunID:    run.ID.String(),
		Metadata: withTrigger(params.fields(), opts.TriggeredBy),
	})
	r.metrics.IncRun(string(run.Status))
	return run, nil
}

// Cancel asks the run holding the params lock to stop at its next page
// boundary.
func (r *Runner) Cancel(ctx context.Context, params Params) error {
	params, err := params.Normalize()
	if err != nil {
		return err
	}
	running, err := r.store.Exists(ctx, lock.KeyFor(params.LockName()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check import lock")
	}
	if !running {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no import running for these parameters").
			WithDetails(params.fields())
	}
	if err := r.store.Set(ctx, params.cancelKey(), "1", r.lockTTL); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request import cancellation")
	}
	r.logg.Info(r.logg.WithFields(ctx, params.fields()), "import cancellation requested")
	return nil
}

func (r *Runner) save(ctx context.Context, run *models.ImportRun) {
	if err := r.runs.Save(ctx, run); err != nil {
		r.logg.Error(r.logg.WithRunID(ctx, run.ID.String()), "save import run", err)
	}
}

func (r *Runner) clearCancel(ctx context.Context, params Params) {
	if err := r.store.Del(ctx, params.cancelKey()); err != nil {
		r.logg.Error(ctx, "clear import cancellation", err)
	}
}

func (r *Runner) emit(ctx context.Context, event importlog.Event) {
	if _, err := r.events.Append(ctx, event); err != nil {
		r.logg.Error(ctx, "append import log", err)
	}
}

func withTrigger(fields map[string]any, trigger string) map[string]any {
	fields["triggered_by"] = trigger
	return fields
}
