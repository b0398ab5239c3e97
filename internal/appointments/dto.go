package appointments

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

// BookInput is a customer's booking request.
type BookInput struct {
	CustomerID   uuid.UUID
	CraftsmanID  uuid.UUID
	CategoryID   uuid.UUID
	ScheduledAt  time.Time
	DurationMins int
	Price        models.Price
	Address      models.Address
	Tracking     bool
	Notes        string
}

// Validate checks the invariants a booking needs before touching the ledger.
func (in BookInput) Validate() error {
	switch {
	case in.CustomerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	case in.CraftsmanID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "craftsman id required")
	case in.CustomerID == in.CraftsmanID:
		return pkgerrors.New(pkgerrors.CodeValidation, "customer and craftsman must differ")
	case in.CategoryID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "category id required")
	case in.ScheduledAt.IsZero():
		return pkgerrors.New(pkgerrors.CodeValidation, "scheduled time required")
	case in.DurationMins <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "duration must be positive")
	case in.Price.TotalCents <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "total price must be positive")
	case in.Price.SubtotalCents < 0 || in.Price.FeesCents < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "price components cannot be negative")
	case in.Price.SubtotalCents+in.Price.FeesCents != in.Price.TotalCents:
		return pkgerrors.New(pkgerrors.CodeValidation, "total must equal subtotal plus fees").
			WithDetails(map[string]any{
				"subtotal_cents": in.Price.SubtotalCents,
				"fees_cents":     in.Price.FeesCents,
				"total_cents":    in.Price.TotalCents,
			})
	case strings.TrimSpace(in.Address.Line1) == "" || strings.TrimSpace(in.Address.City) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "address line1 and city required")
	}
	if in.Price.Currency != "" && !in.Price.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	return nil
}

// ActionInput identifies who is asking to move an appointment.
type ActionInput struct {
	AppointmentID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
	Reason        string
}

func (in ActionInput) validate() error {
	if in.AppointmentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "appointment id required")
	}
	if in.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return nil
}

// ListParams filters a participant's appointments.
type ListParams struct {
	UserID uuid.UUID
	Status string
	Limit  int
	Cursor string
}
