package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// Wallet is the materialized balance projection for one owner.
type Wallet struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OwnerType    enums.WalletOwnerType `gorm:"column:owner_type;type:wallet_owner_type;not null"`
	OwnerID      uuid.UUID             `gorm:"column:owner_id;type:uuid;not null"`
	BalanceCents int64                 `gorm:"column:balance_cents;not null;default:0"`
	Currency     enums.Currency        `gorm:"column:currency;not null"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Wallet) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
