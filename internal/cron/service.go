package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
)

const defaultTick = 30 * time.Second

// LockFactory returns the cross-process lock guarding one job.
type LockFactory func(job string) (Lock, error)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	Tick     time.Duration
	Now      func() time.Time
}

// Service wakes every tick and runs each job whose schedule is due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time

	mu   sync.Mutex
	next map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
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
		locks:    params.Locks,
		metrics:  params.Metrics,
		tick:     tick,
		now:      now,
		next:     map[string]time.Time{},
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.arm(s.now().UTC())
	for _, entry := range s.registry.Entries() {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"job":      entry.Job.Name(),
			"next_run": s.nextFor(entry.Job.Name()),
		})
		s.logg.Info(logCtx, "cron job scheduled")
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Service) arm(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.registry.Entries() {
		if _, ok := s.next[entry.Job.Name()]; !ok {
			s.next[entry.Job.Name()] = entry.Schedule.Next(now)
		}
	}
}

func (s *Service) nextFor(job string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next[job]
}

// runDue executes every job whose next activation has passed, one at a time.
func (s *Service) runDue(ctx context.Context) {
	now := s.now().UTC()
	s.arm(now)
	for _, entry := range s.registry.Entries() {
		name := entry.Job.Name()
		due := s.nextFor(name)
		if due.After(now) {
			continue
		}
		s.mu.Lock()
		s.next[name] = entry.Schedule.Next(now)
		s.mu.Unlock()

		if err := s.runLocked(ctx, entry.Job); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "job", name), "scheduled run failed", err)
		}
	}
}

func (s *Service) runLocked(ctx context.Context, job Job) error {
	lock, err := s.locks(job.Name())
	if err != nil {
		return fmt.Errorf("build lock: %w", err)
	}
	locked, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(s.logg.WithField(ctx, "job", job.Name()), "job running elsewhere; skipping")
		s.metrics.Skipped(job.Name())
		return nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	jobCtx, stop := s.keepLease(ctx, job.Name(), lock)
	defer stop()
	s.runJob(jobCtx, job)
	return nil
}

// keepLease renews a renewable lock at a third of its TTL while the job runs
// and cancels the job if the lease is lost to another replica.
func (s *Service) keepLease(ctx context.Context, name string, lock Lock) (context.Context, func()) {
	lease, ok := lock.(renewable)
	if !ok || lease.TTL() <= 0 {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(lease.TTL()/3, time.Millisecond))
		defer ticker.Stop()
		logCtx := s.logg.WithField(ctx, "job", name)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := lease.Renew(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				// try again next tick; the lease is still valid for 2/3 TTL
				s.logg.Error(logCtx, "cron lease renewal failed", err)
			case err == nil && !held:
				s.logg.Warn(logCtx, "cron lease lost; cancelling job")
				cancel()
				return
			}
		}
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := s.safeRun(jobCtx, job)
	duration := time.Since(start)
	s.metrics.Observe(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

func (s *Service) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
