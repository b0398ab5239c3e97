package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
)

const maxTaskErrorLen = 2048

// ErrLeaseLost means the claim behind an outcome expired and the task was
// re-claimed or finished by another worker.
var ErrLeaseLost = errors.New("scheduled task lease lost")

// Repository persists scheduled tasks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, task *models.ScheduledTask) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error)
	FindByDedupeKey(ctx context.Context, key string) (*models.ScheduledTask, error)
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ScheduledTask, error)
	MarkDone(ctx context.Context, id uuid.UUID, lease time.Time) error
	Rearm(ctx context.Context, id uuid.UUID, lease, runAt time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, lease time.Time, attempts int, runAt time.Time, cause error) error
	MarkDead(ctx context.Context, id uuid.UUID, lease time.Time, attempts int, cause error) error
	PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a task repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Insert runs in a savepoint so a dedupe collision does not poison an outer transaction.
func (r *repository) Insert(ctx context.Context, task *models.ScheduledTask) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(task).Error
	})
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *repository) FindByDedupeKey(ctx context.Context, key string) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// ClaimDue leases up to limit due tasks. Rows locked by another worker are skipped.
func (r *repository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ScheduledTask, error) {
	var claimed []models.ScheduledTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.ScheduledTask
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_at <= ?", enums.ScheduledTaskPending, now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("run_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		// Postgres keeps microseconds; the outcome update matches on this value.
		until := now.Add(lease).Truncate(time.Microsecond)
		if err := tx.Model(&models.ScheduledTask{}).
			Where("id IN ?", ids).
			Update("locked_until", until).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].LockedUntil = &until
		}
		claimed = rows
		return nil
	})
	return claimed, err
}

// The outcome updates below only apply while the caller still holds the
// lease it claimed.

func (r *repository) MarkDone(ctx context.Context, id uuid.UUID, lease time.Time) error {
	return r.settleLeased(ctx, id, lease, map[string]any{
		"status":       enums.ScheduledTaskDone,
		"locked_until": nil,
		"last_error":   nil,
	})
}

func (r *repository) Rearm(ctx context.Context, id uuid.UUID, lease, runAt time.Time) error {
	return r.settleLeased(ctx, id, lease, map[string]any{
		"run_at":        runAt,
		"attempt_count": 0,
		"locked_until":  nil,
		"last_error":    nil,
	})
}

func (r *repository) MarkRetry(ctx context.Context, id uuid.UUID, lease time.Time, attempts int, runAt time.Time, cause error) error {
	return r.settleLeased(ctx, id, lease, map[string]any{
		"run_at":        runAt,
		"attempt_count": attempts,
		"locked_until":  nil,
		"last_error":    truncate(cause),
	})
}

func (r *repository) MarkDead(ctx context.Context, id uuid.UUID, lease time.Time, attempts int, cause error) error {
	return r.settleLeased(ctx, id, lease, map[string]any{
		"status":        enums.ScheduledTaskDead,
		"attempt_count": attempts,
		"locked_until":  nil,
		"last_error":    truncate(cause),
	})
}

func (r *repository) settleLeased(ctx context.Context, id uuid.UUID, lease time.Time, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ? AND locked_until = ?", id, enums.ScheduledTaskPending, lease).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// PurgeFinishedBefore deletes done tasks last touched before cutoff. Dead tasks are kept for inspection.
func (r *repository) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.ScheduledTaskDone, cutoff).
		Delete(&models.ScheduledTask{})
	return res.RowsAffected, res.Error
}

func truncate(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxTaskErrorLen {
		msg = strings.ToValidUTF8(msg[:maxTaskErrorLen], "")
	}
	return &msg
}
