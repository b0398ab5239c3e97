package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
)

const (
	defaultBatchSize    = 25
	defaultPollInterval = time.Second
	defaultLease        = 2 * time.Minute
	defaultMaxBackoff   = 10 * time.Minute
	baseBackoff         = 5 * time.Second
)

// Task is the view of a claimed row handed to a Handler.
type Task struct {
	ID      uuid.UUID
	Kind    string
	Payload json.RawMessage
	Attempt int
}

// Decode unmarshals the task payload into dst.
func (t Task) Decode(dst any) error {
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return NonRetryable(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

// Handler executes one task kind.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error { return f(ctx, task) }

// WorkerConfig tunes polling and retry behaviour.
type WorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	Lease        time.Duration
	MaxBackoff   time.Duration
}

// WorkerParams wires a Worker.
type WorkerParams struct {
	Repo    Repository
	Logger  *logger.Logger
	Metrics *metrics.TaskMetrics
	Config  WorkerConfig
	Now     func() time.Time
}

// Worker claims due tasks and dispatches them to registered handlers.
type Worker struct {
	repo     Repository
	logg     *logger.Logger
	metrics  *metrics.TaskMetrics
	cfg      WorkerConfig
	now      func() time.Time
	jitter   func(time.Duration) time.Duration
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker validates params and applies defaults.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("scheduler repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		repo:     params.Repo,
		logg:     params.Logger,
		metrics:  params.Metrics,
		cfg:      cfg,
		now:      now,
		jitter:   defaultJitter,
		handlers: map[string]Handler{},
	}, nil
}

// Register binds a handler to a task kind. Registering a kind twice is an error.
func (w *Worker) Register(kind string, handler Handler) error {
	if kind == "" || handler == nil {
		return fmt.Errorf("task kind and handler required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for %q", kind)
	}
	w.handlers[kind] = handler
	return nil
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logg.Info(ctx, "task worker started")
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logg.Error(ctx, "task poll failed", err)
		}
		if n == w.cfg.BatchSize {
			// full batch, there is probably more due work
			continue
		}
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "task worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and handles it, returning how many tasks were claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.repo.ClaimDue(ctx, w.now().UTC(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.BatchSize)
	for i := range tasks {
		task := tasks[i]
		g.Go(func() error {
			w.process(gctx, task)
			return nil
		})
	}
	return len(tasks), g.Wait()
}

func (w *Worker) process(ctx context.Context, row models.ScheduledTask) {
	ctx = w.logg.WithFields(ctx, map[string]any{
		"task_id":   row.ID.String(),
		"task_kind": row.Kind,
		"attempt":   row.AttemptCount + 1,
	})
	started := w.now()

	w.mu.RLock()
	handler, ok := w.handlers[row.Kind]
	w.mu.RUnlock()

	var err error
	if !ok {
		err = NonRetryable(fmt.Errorf("no handler registered for %q", row.Kind))
	} else {
		err = w.invoke(ctx, handler, row)
	}

	outcome := w.settle(ctx, row, err)
	w.metrics.Observe(row.Kind, outcome, w.now().Sub(started))
}

func (w *Worker) invoke(ctx context.Context, handler Handler, row models.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, Task{
		ID:      row.ID,
		Kind:    row.Kind,
		Payload: row.Payload,
		Attempt: row.AttemptCount + 1,
	})
}

func (w *Worker) settle(ctx context.Context, row models.ScheduledTask, handleErr error) string {
	now := w.now().UTC()
	var lease time.Time
	if row.LockedUntil != nil {
		lease = *row.LockedUntil
	}

	if handleErr == nil {
		var err error
		if row.Recurring() {
			err = w.repo.Rearm(ctx, row.ID, lease, nextRun(row.RunAt, time.Duration(*row.IntervalSeconds)*time.Second, now))
		} else {
			err = w.repo.MarkDone(ctx, row.ID, lease)
		}
		w.reportSettle(ctx, "failed to finalize task", err)
		return metrics.TaskOutcomeDone
	}

	attempts := row.AttemptCount + 1
	if IsNonRetryable(handleErr) || attempts >= row.MaxAttempts {
		w.reportSettle(ctx, "failed to dead-letter task", w.repo.MarkDead(ctx, row.ID, lease, attempts, handleErr))
		code := pkgerrors.CodeInternal
		if pe := pkgerrors.As(handleErr); pe != nil {
			code = pe.Code()
		}
		alertCtx := w.logg.WithField(ctx, "error_code", string(code))
		w.logg.Error(alertCtx, "task dead-lettered", handleErr)
		return metrics.TaskOutcomeDead
	}

	delay := w.jitter(backoffFor(attempts, w.cfg.MaxBackoff))
	w.reportSettle(ctx, "failed to reschedule task", w.repo.MarkRetry(ctx, row.ID, lease, attempts, now.Add(delay), handleErr))
	retryCtx := w.logg.WithField(ctx, "retry_in", delay.String())
	w.logg.Warn(retryCtx, "task failed, retrying: "+handleErr.Error())
	return metrics.TaskOutcomeRetry
}

// reportSettle logs a failed outcome write. After a lost lease the outcome
// belongs to whichever worker claimed the task next.
func (w *Worker) reportSettle(ctx context.Context, msg string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrLeaseLost):
		w.logg.Warn(ctx, "task lease lost before its outcome was recorded")
	default:
		w.logg.Error(ctx, msg, err)
	}
}

// nextRun advances a recurring schedule by whole intervals past now.
func nextRun(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if next.After(now) {
		return next
	}
	return now.Add(interval)
}

func backoffFor(attempt int, max time.Duration) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

var (
	jitterMu     sync.Mutex
	jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return d + time.Duration(jitterSource.Int63n(int64(d/5)+1))
}
