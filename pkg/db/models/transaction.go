package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// Transaction is an append-only ledger entry. Hold entries carry HoldState,
// the only column that changes after insert.
type Transaction struct {
	ID                uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	WalletID          uuid.UUID                  `gorm:"column:wallet_id;type:uuid;not null"`
	Type              enums.TransactionType      `gorm:"column:type;type:transaction_type;not null"`
	AmountCents       int64                      `gorm:"column:amount_cents;not null"`
	Currency          enums.Currency             `gorm:"column:currency;not null"`
	Direction         enums.TransactionDirection `gorm:"column:direction;type:transaction_direction;not null"`
	Status            enums.TransactionStatus    `gorm:"column:status;type:transaction_status;not null"`
	AppointmentID     *uuid.UUID                 `gorm:"column:appointment_id;type:uuid"`
	HoldTransactionID *uuid.UUID                 `gorm:"column:hold_transaction_id;type:uuid"`
	ProviderRef       *string                    `gorm:"column:provider_ref"`
	OrderID           *string                    `gorm:"column:order_id"`
	HoldState         *enums.HoldState           `gorm:"column:hold_state;type:hold_state"`
	SettledAt         *time.Time                 `gorm:"column:settled_at"`
	CreatedAt         time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// SignedAmount returns the balance effect of a succeeded entry.
func (t Transaction) SignedAmount() int64 {
	if t.Status != enums.TransactionStatusSucceeded {
		return 0
	}
	return t.Direction.Sign() * t.AmountCents
}

func (t Transaction) PageKey() (time.Time, uuid.UUID) { return t.CreatedAt, t.ID }
