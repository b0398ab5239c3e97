package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
)

// Repository is the notifications table. Every read and write except the
// retention purge is scoped to one recipient.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, q listQuery) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	Delete(ctx context.Context, userID, notificationID uuid.UUID) (bool, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

type listQuery struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type markOutcome int

const (
	markMissing markOutcome = iota
	markAlreadyRead
	markApplied
)

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) mine(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}

func (r *gormRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// List returns up to q.Limit rows newest first; callers over-fetch by one to
// detect a next page.
func (r *gormRepository) List(ctx context.Context, q listQuery) ([]models.Notification, error) {
	query := r.mine(ctx, q.UserID)
	if q.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	var rows []models.Notification
	err := pagination.Apply(query, q.Cursor).Limit(q.Limit).Find(&rows).Error
	return rows, err
}

func (r *gormRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.mine(ctx, userID).Where("read = ?", false).Count(&n).Error
	return n, err
}

func (r *gormRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
	res := r.mine(ctx, userID).
		Where("id = ? AND read = ?", notificationID, false).
		UpdateColumns(map[string]any{"read": true, "read_at": now})
	switch {
	case res.Error != nil:
		return markMissing, res.Error
	case res.RowsAffected > 0:
		return markApplied, nil
	}

	// nothing changed: either already read or not this user's row
	var existing models.Notification
	err := r.mine(ctx, userID).Select("id").Where("id = ?", notificationID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return markMissing, nil
	}
	if err != nil {
		return markMissing, err
	}
	return markAlreadyRead, nil
}

func (r *gormRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	res := r.mine(ctx, userID).
		Where("read = ?", false).
		UpdateColumns(map[string]any{"read": true, "read_at": now})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) Delete(ctx context.Context, userID, notificationID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	return res.RowsAffected > 0, res.Error
}

// DeleteReadBefore removes at most batch read notifications created before
// cutoff, oldest first. Unread rows are kept regardless of age.
func (r *gormRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	oldest := r.db.Model(&models.Notification{}).
		Select("id").
		Where("read = ? AND created_at < ?", true, cutoff).
		Order("created_at ASC").
		Limit(batch)
	res := r.db.WithContext(ctx).Where("id IN (?)", oldest).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
