package cron

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/lock"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/metrics"
)

const defaultTick = 5 * time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     lock.Lock
	Store    kv.Store
	Metrics  *metrics.CronJobMetrics
	Tick     time.Duration
	Now      func() time.Time
}

// Service wakes up every tick and, while holding the global cron lock,
// runs each job whose own interval has elapsed. Last run times live in the
// kv store so they survive worker restarts and failover.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     lock.Lock
	store    kv.Store
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		store:    params.Store,
		metrics:  params.Metrics,
		tick:     tick,
		now:      now,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.metrics.IncCycle(metrics.CycleErrored)
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncCycle(metrics.CycleLocked)
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}
	s.metrics.IncCycle(metrics.CycleRan)
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		due, err := s.due(ctx, job)
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "job", job.Name()), "read last run", err)
			continue
		}
		if !due {
			continue
		}
		s.runJob(ctx, job)
	}
	return nil
}

func lastRunKey(job Job) string {
	return kv.Key("cron", "last", job.Name())
}

func (s *Service) due(ctx context.Context, job Job) (bool, error) {
	interval := intervalOf(job)
	if interval <= 0 {
		return true, nil
	}
	raw, err := s.store.Get(ctx, lastRunKey(job))
	if errors.Is(err, kv.ErrNil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// unreadable marker; run and overwrite it
		return true, nil
	}
	return !s.now().Before(time.Unix(last, 0).Add(interval)), nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	duration := s.now().Sub(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
	} else {
		s.logg.Info(jobCtx, "job completed")
		s.metrics.RecordSuccess(job.Name(), s.now())
	}
	// failures wait for the next interval too; the jobs are sweeps
	if intervalOf(job) > 0 {
		if err := s.store.Set(ctx, lastRunKey(job), strconv.FormatInt(start.Unix(), 10), 0); err != nil {
			s.logg.Error(jobCtx, "record last run", err)
		}
	}
}
