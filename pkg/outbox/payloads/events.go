package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// NotificationRequestedEvent asks the notification consumer to persist an in-app notification.
type NotificationRequestedEvent struct {
	UserID uuid.UUID              `json:"user_id"`
	Type   enums.NotificationType `json:"type"`
	Title  string                 `json:"title"`
	Body   string                 `json:"body"`
	Data   json.RawMessage        `json:"data,omitempty"`
}

// AppointmentStatusChangedEvent is emitted inside every committed status transition.
type AppointmentStatusChangedEvent struct {
	AppointmentID uuid.UUID               `json:"appointment_id"`
	CustomerID    uuid.UUID               `json:"customer_id"`
	CraftsmanID   uuid.UUID               `json:"craftsman_id"`
	From          enums.AppointmentStatus `json:"from,omitempty"`
	To            enums.AppointmentStatus `json:"to"`
	Reason        string                  `json:"reason,omitempty"`
	ChangedAt     time.Time               `json:"changed_at"`
}

// PaymentSettledEvent records the capture split of a completed appointment.
type PaymentSettledEvent struct {
	AppointmentID     uuid.UUID `json:"appointment_id"`
	HoldTransactionID uuid.UUID `json:"hold_transaction_id"`
	CraftsmanWalletID uuid.UUID `json:"craftsman_wallet_id"`
	AmountCents       int64     `json:"amount_cents"`
	PlatformFeeCents  int64     `json:"platform_fee_cents"`
	PayoutCents       int64     `json:"payout_cents"`
	Currency          string    `json:"currency"`
}

// WalletToppedUpEvent reports a credited provider top-up.
type WalletToppedUpEvent struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	ProviderRef   string    `json:"provider_ref"`
	OrderID       string    `json:"order_id,omitempty"`
}
