package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
)

// Repository persists appointments. Status writes are conditional on the
// status the caller observed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, appt *models.Appointment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.AppointmentStatus, fields map[string]any) (bool, error)
	SetHold(ctx context.Context, id, holdID uuid.UUID) error
	ListForUser(ctx context.Context, params listParams) ([]models.Appointment, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error)
}

type listParams struct {
	UserID uuid.UUID
	Status *enums.AppointmentStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an appointments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, appt *models.Appointment) error {
	return r.db.WithContext(ctx).Create(appt).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&appt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// UpdateStatus moves the row only while it still holds from. The boolean is
// false when another writer got there first.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.AppointmentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetHold(ctx context.Context, id, holdID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ?", id).
		Update("wallet_hold_txn_id", holdID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListForUser(ctx context.Context, params listParams) ([]models.Appointment, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("(customer_id = ? OR craftsman_id = ?)", params.UserID, params.UserID)
	if params.Status != nil {
		q = q.Where("status = ?", *params.Status)
	}
	var rows []models.Appointment
	err := pagination.Apply(q, params.Cursor).Limit(params.Limit).Find(&rows).Error
	return rows, err
}

// ListExpiredPending returns the oldest pending bookings created before cutoff.
func (r *repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error) {
	var rows []models.Appointment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.AppointmentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
