package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/api/responses"
	"github.com/herfa-app/herfa-backend/api/validators"
	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
	"github.com/herfa-app/herfa-backend/pkg/types"
)

const maxNotesLen = 1000

type priceRequest struct {
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	SubtotalCents int64  `json:"subtotal_cents" validate:"min=0"`
	FeesCents     int64  `json:"fees_cents" validate:"min=0"`
	TotalCents    int64  `json:"total_cents" validate:"required,gt=0"`
}

type addressRequest struct {
	Label string   `json:"label" validate:"max=64"`
	Line1 string   `json:"line1" validate:"required,max=255"`
	City  string   `json:"city" validate:"required,max=128"`
	Area  string   `json:"area" validate:"max=128"`
	Lat   *float64 `json:"lat" validate:"omitempty,min=-90,max=90"`
	Lng   *float64 `json:"lng" validate:"omitempty,min=-180,max=180"`
}

type bookRequest struct {
	CraftsmanID  string         `json:"craftsman_id" validate:"required,uuid"`
	CategoryID   string         `json:"category_id" validate:"required,uuid"`
	ScheduledAt  time.Time      `json:"scheduled_at" validate:"required"`
	DurationMins int            `json:"duration_mins" validate:"required,gt=0"`
	Price        priceRequest   `json:"price"`
	Address      addressRequest `json:"address"`
	Tracking     bool           `json:"tracking"`
	Notes        string         `json:"notes"`
}

func (b bookRequest) input(customerID uuid.UUID) appointments.BookInput {
	return appointments.BookInput{
		CustomerID:   customerID,
		CraftsmanID:  uuid.MustParse(b.CraftsmanID),
		CategoryID:   uuid.MustParse(b.CategoryID),
		ScheduledAt:  b.ScheduledAt.UTC(),
		DurationMins: b.DurationMins,
		Price: models.Price{
			Currency:      enums.Currency(strings.ToUpper(b.Price.Currency)),
			SubtotalCents: b.Price.SubtotalCents,
			FeesCents:     b.Price.FeesCents,
			TotalCents:    b.Price.TotalCents,
		},
		Address: models.Address{
			Label: validators.SanitizeString(b.Address.Label, 64),
			Line1: validators.SanitizeString(b.Address.Line1, 255),
			City:  validators.SanitizeString(b.Address.City, 128),
			Area:  validators.SanitizeString(b.Address.Area, 128),
			Lat:   b.Address.Lat,
			Lng:   b.Address.Lng,
		},
		Tracking: b.Tracking,
		Notes:    validators.SanitizeString(b.Notes, maxNotesLen),
	}
}

type actionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type appointmentView struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id"`
	CraftsmanID     string     `json:"craftsman_id"`
	CategoryID      string     `json:"category_id"`
	Status          string     `json:"status"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	DurationMins    int        `json:"duration_mins"`
	Price           priceView  `json:"price"`
	Address         any        `json:"address"`
	Tracking        bool       `json:"tracking"`
	TrackingStarted *time.Time `json:"tracking_started_at,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	WalletHoldTxnID *string    `json:"wallet_hold_txn_id,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	CanceledAt      *time.Time `json:"canceled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type priceView struct {
	Currency      string `json:"currency"`
	SubtotalCents int64  `json:"subtotal_cents"`
	FeesCents     int64  `json:"fees_cents"`
	TotalCents    int64  `json:"total_cents"`
	Total         string `json:"total"`
}

func newAppointmentView(a *models.Appointment) appointmentView {
	view := appointmentView{
		ID:           a.ID.String(),
		CustomerID:   a.CustomerID.String(),
		CraftsmanID:  a.CraftsmanID.String(),
		CategoryID:   a.CategoryID.String(),
		Status:       string(a.Status),
		ScheduledAt:  a.ScheduledAt,
		DurationMins: a.DurationMins,
		Price: priceView{
			Currency:      string(a.Price.Currency),
			SubtotalCents: a.Price.SubtotalCents,
			FeesCents:     a.Price.FeesCents,
			TotalCents:    a.Price.TotalCents,
			Total:         ledger.FormatAmount(a.Price.TotalCents),
		},
		Address: map[string]any{
			"label": a.Address.Label,
			"line1": a.Address.Line1,
			"city":  a.Address.City,
			"area":  a.Address.Area,
			"lat":   a.Address.Lat,
			"lng":   a.Address.Lng,
		},
		Tracking:        a.Tracking.Enabled,
		TrackingStarted: a.Tracking.StartedAt,
		Notes:           a.Notes,
		CancelReason:    a.CancelReason,
		CanceledAt:      a.CanceledAt,
		CompletedAt:     a.CompletedAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.WalletHoldTxnID != nil {
		hold := a.WalletHoldTxnID.String()
		view.WalletHoldTxnID = &hold
	}
	return view
}

// BookAppointment places a booking for the calling customer and holds its total.
func BookAppointment(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "appointments service unavailable"))
			return
		}
		customerID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body bookRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appt, err := svc.Book(r.Context(), body.input(customerID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newAppointmentView(appt))
	}
}

func ListAppointments(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListForUser(r.Context(), appointments.ListParams{
			UserID: userID,
			Status: validators.QueryString(r, "status"),
			Limit:  limit,
			Cursor: validators.QueryString(r, "cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]appointmentView, 0, len(page.Items))
		for i := range page.Items {
			views = append(views, newAppointmentView(&page.Items[i]))
		}
		responses.WriteSuccess(w, types.CursorPage[appointmentView]{Items: views, NextCursor: page.NextCursor})
	}
}

func GetAppointment(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		appt, err := svc.Get(r.Context(), id, userID, role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAppointmentView(appt))
	}
}

type appointmentAction func(ctx context.Context, input appointments.ActionInput) (*models.Appointment, error)

func appointmentActions(svc appointments.Service) map[string]appointmentAction {
	return map[string]appointmentAction{
		"accept":   svc.Accept,
		"reject":   svc.Reject,
		"cancel":   svc.Cancel,
		"start":    svc.Start,
		"complete": svc.Complete,
		"dispute":  svc.Dispute,
		"refund":   svc.Refund,
	}
}

// AppointmentAction applies the transition named by the {action} route parameter.
// Authorization per transition is decided by the service.
func AppointmentAction(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	actions := appointmentActions(svc)
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		name := chi.URLParam(r, "action")
		action, ok := actions[name]
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown appointment action").
				WithDetails(map[string]any{"action": name}))
			return
		}

		var body actionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithAppointmentID(ctx, id.String())
		}
		appt, err := action(ctx, appointments.ActionInput{
			AppointmentID: id,
			ActorID:       actorID,
			ActorRole:     role,
			Reason:        validators.SanitizeString(body.Reason, 500),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAppointmentView(appt))
	}
}
