package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
	"github.com/herfa-app/herfa-backend/pkg/pagination"
	"github.com/herfa-app/herfa-backend/pkg/types"
)

// ExpiredReason is stored as cancel_reason when the sweep cancels a booking.
const ExpiredReason = "expired"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type taskScheduler interface {
	ScheduleOnce(ctx context.Context, delay time.Duration, kind string, payload any, opts ...scheduler.Option) (*models.ScheduledTask, error)
}

type notifier interface {
	NotifyAll(ctx context.Context, reqs ...notifications.Request)
}

// Service drives the appointment state machine. Every transition commits the
// status change, its ledger effect and its outbox event together.
type Service interface {
	Book(ctx context.Context, input BookInput) (*models.Appointment, error)
	Accept(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Reject(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Cancel(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Start(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Complete(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Dispute(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Refund(ctx context.Context, input ActionInput) (*models.Appointment, error)
	Get(ctx context.Context, id, actorID uuid.UUID, role enums.UserRole) (*models.Appointment, error)
	ListForUser(ctx context.Context, params ListParams) (*types.CursorPage[models.Appointment], error)
	Find(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error)
	ExpirePending(ctx context.Context, id uuid.UUID) (*models.Appointment, bool, error)
}

// ServiceParams wires the appointment service.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Ledger    ledger.Service
	Scheduler taskScheduler
	Outbox    outboxPublisher
	Notifier  notifier
	Logger    *logger.Logger
	Currency  enums.Currency
	Now       func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   ledger.Service
	tasks    taskScheduler
	outbox   outboxPublisher
	notifier notifier
	logg     *logger.Logger
	currency enums.Currency
	now      func() time.Time
}

// NewService builds an appointment service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("appointments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("task scheduler required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	currency := params.Currency
	if currency == "" {
		currency = enums.CurrencyEGP
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		ledger:   params.Ledger,
		tasks:    params.Scheduler,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		logg:     params.Logger,
		currency: currency,
		now:      now,
	}, nil
}

func (s *service) Book(ctx context.Context, input BookInput) (*models.Appointment, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	price := input.Price
	if price.Currency == "" {
		price.Currency = s.currency
	}
	if price.Currency != s.currency {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency").
			WithDetails(map[string]any{"currency": price.Currency})
	}

	wallet, err := s.ledger.EnsureWallet(ctx, enums.WalletOwnerCustomer, input.CustomerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	appt := &models.Appointment{
		ID:           uuid.New(),
		CustomerID:   input.CustomerID,
		CraftsmanID:  input.CraftsmanID,
		CategoryID:   input.CategoryID,
		ScheduledAt:  input.ScheduledAt.UTC(),
		DurationMins: input.DurationMins,
		Status:       enums.AppointmentStatusPending,
		Price:        price,
		Address:      input.Address,
		Tracking:     models.Tracking{Enabled: input.Tracking},
		Notes:        optionalString(input.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, appt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create appointment")
		}
		hold, err := s.ledger.WithTx(tx).PlaceHold(ctx, wallet.ID, price.TotalCents, appt.ID)
		if err != nil {
			return err
		}
		if err := repo.SetHold(ctx, appt.ID, hold.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link hold")
		}
		appt.WalletHoldTxnID = &hold.ID
		if err := s.scheduleReminders(ctx, tx, appt, now); err != nil {
			return err
		}
		return s.emitStatusChanged(ctx, tx, appt, "", enums.AppointmentStatusPending, "", &outbox.ActorRef{
			UserID: input.CustomerID,
			Role:   string(enums.UserRoleCustomer),
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithAppointmentID(ctx, appt.ID.String())
	s.logg.Info(logCtx, "appointment booked")
	s.notifier.NotifyAll(ctx, notifications.Request{
		UserID: appt.CraftsmanID,
		Type:   enums.NotificationTypeBookingRequested,
		Title:  "New Booking Request",
		Body:   "You have a new booking request waiting for your response.",
		Data:   appointmentData(appt),
	})
	return appt, nil
}

func (s *service) scheduleReminders(ctx context.Context, tx *gorm.DB, appt *models.Appointment, now time.Time) error {
	for typ, delay := range reminderDelays(appt.ScheduledAt, now) {
		payload := ReminderPayload{AppointmentID: appt.ID, Type: typ}
		if _, err := s.tasks.ScheduleOnce(ctx, delay, ReminderKind, payload,
			scheduler.WithTx(tx),
			scheduler.WithDedupeKey(reminderDedupeKey(appt.ID, typ)),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Accept(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusAccepted,
		allowed: craftsmanOnly,
		notify: func(appt *models.Appointment, _ ActionInput) []notifications.Request {
			return []notifications.Request{{
				UserID: appt.CustomerID,
				Type:   enums.NotificationTypeAppointmentAccepted,
				Title:  "Booking Accepted",
				Body:   "Your booking request has been accepted.",
				Data:   appointmentData(appt),
			}}
		},
	})
}

func (s *service) Reject(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusRejected,
		allowed: craftsmanOnly,
		fields:  cancelFields,
		effect:  s.releaseHold,
		notify: func(appt *models.Appointment, _ ActionInput) []notifications.Request {
			return []notifications.Request{{
				UserID: appt.CustomerID,
				Type:   enums.NotificationTypeAppointmentRejected,
				Title:  "Booking Rejected",
				Body:   "Your booking request was declined. The held amount has been released back to your wallet.",
				Data:   appointmentData(appt),
			}}
		},
	})
}

func (s *service) Cancel(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusCanceled,
		allowed: participant,
		fields:  cancelFields,
		effect:  s.releaseHold,
		notify: func(appt *models.Appointment, in ActionInput) []notifications.Request {
			return counterparts(appt, in, enums.NotificationTypeAppointmentCanceled,
				"Appointment Canceled", "An appointment has been canceled.")
		},
	})
}

func (s *service) Start(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusInProgress,
		allowed: craftsmanOnly,
		fields: func(appt *models.Appointment, _ ActionInput, now time.Time) map[string]any {
			if !appt.Tracking.Enabled {
				return nil
			}
			return map[string]any{"tracking_started_at": now}
		},
		notify: func(appt *models.Appointment, _ ActionInput) []notifications.Request {
			return []notifications.Request{{
				UserID: appt.CustomerID,
				Type:   enums.NotificationTypeAppointmentStarted,
				Title:  "Appointment Started",
				Body:   "Your craftsman has started the appointment.",
				Data:   appointmentData(appt),
			}}
		},
	})
}

// Complete commits the status together with a durable settlement task; the
// capture itself runs in the worker.
func (s *service) Complete(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusCompleted,
		allowed: completer,
		fields: func(_ *models.Appointment, _ ActionInput, now time.Time) map[string]any {
			return map[string]any{"completed_at": now}
		},
		effect: func(ctx context.Context, tx *gorm.DB, appt *models.Appointment) error {
			_, err := s.tasks.ScheduleOnce(ctx, 0, SettleKind, SettlePayload{AppointmentID: appt.ID},
				scheduler.WithTx(tx),
				scheduler.WithDedupeKey(settleDedupeKey(appt.ID)),
			)
			return err
		},
		notify: func(appt *models.Appointment, in ActionInput) []notifications.Request {
			return counterparts(appt, in, enums.NotificationTypeAppointmentCompleted,
				"Appointment Completed", "An appointment has been marked as completed.")
		},
	})
}

func (s *service) Dispute(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusDisputed,
		allowed: participant,
		notify: func(appt *models.Appointment, in ActionInput) []notifications.Request {
			return counterparts(appt, in, enums.NotificationTypeAppointmentDisputed,
				"Appointment Disputed", "An appointment has been disputed and is under review.")
		},
	})
}

// Refund releases the hold when it is still active. A captured hold only
// moves the status; reversing a payout happens outside the ledger.
func (s *service) Refund(ctx context.Context, input ActionInput) (*models.Appointment, error) {
	return s.transition(ctx, input, transitionSpec{
		to:      enums.AppointmentStatusRefunded,
		allowed: adminOnly,
		effect: func(ctx context.Context, tx *gorm.DB, appt *models.Appointment) error {
			if appt.WalletHoldTxnID == nil {
				return errMissingHold(appt.ID)
			}
			led := s.ledger.WithTx(tx)
			hold, err := led.GetHold(ctx, *appt.WalletHoldTxnID)
			if err != nil {
				return err
			}
			if hold.HoldState == nil || *hold.HoldState != enums.HoldStateActive {
				return nil
			}
			_, err = led.ReleaseHold(ctx, hold.ID)
			return err
		},
		notify: func(appt *models.Appointment, in ActionInput) []notifications.Request {
			return counterparts(appt, in, enums.NotificationTypeAppointmentRefunded,
				"Appointment Refunded", "An appointment has been refunded.")
		},
	})
}

func (s *service) releaseHold(ctx context.Context, tx *gorm.DB, appt *models.Appointment) error {
	if appt.WalletHoldTxnID == nil {
		return errMissingHold(appt.ID)
	}
	_, err := s.ledger.WithTx(tx).ReleaseHold(ctx, *appt.WalletHoldTxnID)
	return err
}

type transitionSpec struct {
	to      enums.AppointmentStatus
	allowed func(appt *models.Appointment, in ActionInput) bool
	fields  func(appt *models.Appointment, in ActionInput, now time.Time) map[string]any
	effect  func(ctx context.Context, tx *gorm.DB, appt *models.Appointment) error
	notify  func(appt *models.Appointment, in ActionInput) []notifications.Request
}

func (s *service) transition(ctx context.Context, input ActionInput, spec transitionSpec) (*models.Appointment, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	var updated *models.Appointment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		appt, err := repo.FindByID(ctx, input.AppointmentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
		}
		if appt == nil {
			return errNotFound(input.AppointmentID)
		}
		if !spec.allowed(appt, input) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to change this appointment")
		}
		from := appt.Status
		if !CanTransition(from, spec.to) {
			return errIllegalTransition(appt.ID, from, spec.to)
		}

		now := s.now()
		fields := map[string]any{"updated_at": now}
		if spec.fields != nil {
			for k, v := range spec.fields(appt, input, now) {
				fields[k] = v
			}
		}
		ok, err := repo.UpdateStatus(ctx, appt.ID, from, spec.to, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update appointment status")
		}
		if !ok {
			current, err := repo.FindByID(ctx, appt.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload appointment")
			}
			if current == nil {
				return errNotFound(appt.ID)
			}
			return errIllegalTransition(appt.ID, current.Status, spec.to)
		}
		if spec.effect != nil {
			if err := spec.effect(ctx, tx, appt); err != nil {
				return err
			}
		}
		if err := s.emitStatusChanged(ctx, tx, appt, from, spec.to, input.Reason, &outbox.ActorRef{
			UserID: input.ActorID,
			Role:   string(input.ActorRole),
		}); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, appt.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload appointment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"appointment_id": updated.ID.String(),
		"status":         string(updated.Status),
		"actor_id":       input.ActorID.String(),
	})
	s.logg.Info(logCtx, "appointment status changed")
	if spec.notify != nil {
		s.notifier.NotifyAll(ctx, spec.notify(updated, input)...)
	}
	return updated, nil
}

// errAlreadyHandled rolls back an expiry whose candidate moved on.
var errAlreadyHandled = errors.New("appointment already handled")

// ExpirePending cancels a stale pending booking and releases its hold in one
// transaction. The boolean is false when the candidate was no longer pending
// or its hold had already been consumed.
func (s *service) ExpirePending(ctx context.Context, id uuid.UUID) (*models.Appointment, bool, error) {
	var expired *models.Appointment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		appt, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
		}
		if appt == nil || appt.Status != enums.AppointmentStatusPending {
			return errAlreadyHandled
		}
		now := s.now()
		reason := ExpiredReason
		ok, err := repo.UpdateStatus(ctx, id, enums.AppointmentStatusPending, enums.AppointmentStatusCanceled, map[string]any{
			"cancel_reason": reason,
			"canceled_at":   now,
			"updated_at":    now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expire appointment")
		}
		if !ok {
			return errAlreadyHandled
		}
		if appt.WalletHoldTxnID == nil {
			return errMissingHold(id)
		}
		if _, err := s.ledger.WithTx(tx).ReleaseHold(ctx, *appt.WalletHoldTxnID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeHoldAlreadySettled) {
				return errAlreadyHandled
			}
			return err
		}
		if err := s.emitStatusChanged(ctx, tx, appt, enums.AppointmentStatusPending, enums.AppointmentStatusCanceled, reason, nil); err != nil {
			return err
		}
		appt.Status = enums.AppointmentStatusCanceled
		appt.CancelReason = &reason
		appt.CanceledAt = &now
		expired = appt
		return nil
	})
	if errors.Is(err, errAlreadyHandled) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return expired, true, nil
}

func (s *service) Get(ctx context.Context, id, actorID uuid.UUID, role enums.UserRole) (*models.Appointment, error) {
	appt, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != enums.UserRoleAdmin && actorID != appt.CustomerID && actorID != appt.CraftsmanID {
		// Hide existence from non-participants.
		return nil, errNotFound(id)
	}
	return appt, nil
}

// Find loads an appointment without participant checks.
func (s *service) Find(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "appointment id required")
	}
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
	}
	if appt == nil {
		return nil, errNotFound(id)
	}
	return appt, nil
}

func (s *service) ListForUser(ctx context.Context, params ListParams) (*types.CursorPage[models.Appointment], error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	query := listParams{UserID: params.UserID}
	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, err := enums.ParseAppointmentStatus(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	items, next, err := pagination.Fetch(pagination.Params{Limit: params.Limit, Cursor: params.Cursor},
		func(cursor *pagination.Cursor, limit int) ([]models.Appointment, error) {
			query.Cursor, query.Limit = cursor, limit
			return s.repo.ListForUser(ctx, query)
		})
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list appointments")
	}
	return &types.CursorPage[models.Appointment]{Items: items, NextCursor: next}, nil
}

func (s *service) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error) {
	rows, err := s.repo.ListExpiredPending(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired appointments")
	}
	return rows, nil
}

// emitStatusChanged queues the status event. An empty from marks creation.
func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, appt *models.Appointment, from, to enums.AppointmentStatus, reason string, actor *outbox.ActorRef) error {
	now := s.now()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAppointmentStatusChanged,
		AggregateType: enums.AggregateAppointment,
		AggregateID:   appt.ID,
		Version:       1,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.AppointmentStatusChangedEvent{
			AppointmentID: appt.ID,
			CustomerID:    appt.CustomerID,
			CraftsmanID:   appt.CraftsmanID,
			From:          from,
			To:            to,
			Reason:        reason,
			ChangedAt:     now,
		},
	})
}
