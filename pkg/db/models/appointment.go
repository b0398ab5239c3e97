package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// Price is the booking price breakdown in minor units.
type Price struct {
	Currency      enums.Currency `gorm:"column:currency"`
	SubtotalCents int64          `gorm:"column:subtotal_cents"`
	FeesCents     int64          `gorm:"column:fees_cents"`
	TotalCents    int64          `gorm:"column:total_cents"`
}

type Address struct {
	Label string   `gorm:"column:label"`
	Line1 string   `gorm:"column:line1"`
	City  string   `gorm:"column:city"`
	Area  string   `gorm:"column:area"`
	Lat   *float64 `gorm:"column:lat"`
	Lng   *float64 `gorm:"column:lng"`
}

type Tracking struct {
	Enabled   bool       `gorm:"column:enabled"`
	StartedAt *time.Time `gorm:"column:started_at"`
	LastLat   *float64   `gorm:"column:last_lat"`
	LastLng   *float64   `gorm:"column:last_lng"`
}

// Appointment owns the reference to its active hold.
type Appointment struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID      uuid.UUID               `gorm:"column:customer_id;type:uuid;not null"`
	CraftsmanID     uuid.UUID               `gorm:"column:craftsman_id;type:uuid;not null"`
	CategoryID      uuid.UUID               `gorm:"column:category_id;type:uuid;not null"`
	ScheduledAt     time.Time               `gorm:"column:scheduled_at;not null"`
	DurationMins    int                     `gorm:"column:duration_mins;not null"`
	Status          enums.AppointmentStatus `gorm:"column:status;type:appointment_status;not null"`
	Price           Price                   `gorm:"embedded;embeddedPrefix:price_"`
	Address         Address                 `gorm:"embedded;embeddedPrefix:address_"`
	Tracking        Tracking                `gorm:"embedded;embeddedPrefix:tracking_"`
	Notes           *string                 `gorm:"column:notes"`
	WalletHoldTxnID *uuid.UUID              `gorm:"column:wallet_hold_txn_id;type:uuid"`
	CancelReason    *string                 `gorm:"column:cancel_reason"`
	CanceledAt      *time.Time              `gorm:"column:canceled_at"`
	CompletedAt     *time.Time              `gorm:"column:completed_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Appointment) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

func (a Appointment) PageKey() (time.Time, uuid.UUID) { return a.CreatedAt, a.ID }
