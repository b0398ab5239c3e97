package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/herfa-app/herfa-backend/pkg/db"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

const (
	dedupeConstraint   = "ux_scheduled_tasks_dedupe"
	defaultMaxAttempts = 8
)

type scheduleOptions struct {
	tx          *gorm.DB
	dedupeKey   string
	maxAttempts int
}

// Option customizes a single Schedule call.
type Option func(*scheduleOptions)

// WithTx enqueues the task inside an outer transaction, so it commits or
// rolls back together with the caller's domain writes.
func WithTx(tx *gorm.DB) Option {
	return func(o *scheduleOptions) { o.tx = tx }
}

// WithDedupeKey makes the call a no-op when a task with the same key exists.
func WithDedupeKey(key string) Option {
	return func(o *scheduleOptions) { o.dedupeKey = strings.TrimSpace(key) }
}

// WithMaxAttempts overrides the attempt budget for the task.
func WithMaxAttempts(n int) Option {
	return func(o *scheduleOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Scheduler enqueues durable one-shot and recurring tasks.
type Scheduler struct {
	repo        Repository
	now         func() time.Time
	maxAttempts int
}

// NewScheduler builds a Scheduler. maxAttempts <= 0 falls back to the default budget.
func NewScheduler(repo Repository, maxAttempts int, now func() time.Time) (*Scheduler, error) {
	if repo == nil {
		return nil, fmt.Errorf("scheduler repository required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{repo: repo, now: now, maxAttempts: maxAttempts}, nil
}

// ScheduleOnce enqueues kind to run once after delay.
func (s *Scheduler) ScheduleOnce(ctx context.Context, delay time.Duration, kind string, payload any, opts ...Option) (*models.ScheduledTask, error) {
	if delay < 0 {
		delay = 0
	}
	return s.schedule(ctx, delay, nil, kind, payload, opts)
}

// ScheduleRecurring enqueues kind to run every interval, first after one interval.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, interval time.Duration, kind string, payload any, opts ...Option) (*models.ScheduledTask, error) {
	if interval < time.Second {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recurring interval must be at least one second")
	}
	seconds := int64(interval / time.Second)
	return s.schedule(ctx, interval, &seconds, kind, payload, opts)
}

func (s *Scheduler) schedule(ctx context.Context, delay time.Duration, intervalSeconds *int64, kind string, payload any, opts []Option) (*models.ScheduledTask, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task kind is required")
	}

	cfg := scheduleOptions{maxAttempts: s.maxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode task payload")
	}

	task := &models.ScheduledTask{
		Kind:            kind,
		Payload:         raw,
		RunAt:           s.now().UTC().Add(delay),
		IntervalSeconds: intervalSeconds,
		Status:          enums.ScheduledTaskPending,
		MaxAttempts:     cfg.maxAttempts,
	}
	if cfg.dedupeKey != "" {
		key := cfg.dedupeKey
		task.DedupeKey = &key
	}

	repo := s.repo.WithTx(cfg.tx)
	if err := repo.Insert(ctx, task); err != nil {
		if task.DedupeKey != nil && dbpkg.IsUniqueViolation(err, dedupeConstraint) {
			existing, findErr := repo.FindByDedupeKey(ctx, *task.DedupeKey)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "load deduplicated task")
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert scheduled task")
	}
	return task, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("payload is not valid json")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
