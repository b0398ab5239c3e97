package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/internal/email"
	"github.com/herfa-app/herfa-backend/internal/ledger"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
)

const (
	opSettle            = "settle"
	paymentTitle        = "Payment Received"
	paymentBodyTemplate = "Payment of %s %s has been credited to your wallet"
)

// SettleHandlerParams wires the capture handler for completed appointments.
type SettleHandlerParams struct {
	Logger       *logger.Logger
	Appointments appointmentFinder
	Ledger       ledger.Service
	Users        userDirectory
	Notifier     notifier
	Mailer       mailer
	Tx           txRunner
	Outbox       outboxPublisher
	Metrics      *metrics.LedgerMetrics
	FeeRatio     decimal.Decimal
}

// NewSettleHandler handles appointments.SettleKind tasks.
func NewSettleHandler(params SettleHandlerParams) (scheduler.Handler, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Appointments == nil:
		return nil, fmt.Errorf("appointments service required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Users == nil:
		return nil, fmt.Errorf("users directory required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Mailer == nil:
		return nil, fmt.Errorf("mailer required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.FeeRatio.IsNegative() || params.FeeRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee ratio %s must be in [0, 1)", params.FeeRatio)
	}
	return &settleHandler{
		logg:         params.Logger,
		appointments: params.Appointments,
		ledger:       params.Ledger,
		users:        params.Users,
		notifier:     params.Notifier,
		mailer:       params.Mailer,
		tx:           params.Tx,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		feeRatio:     params.FeeRatio,
	}, nil
}

type settleHandler struct {
	logg         *logger.Logger
	appointments appointmentFinder
	ledger       ledger.Service
	users        userDirectory
	notifier     notifier
	mailer       mailer
	tx           txRunner
	outbox       outboxPublisher
	metrics      *metrics.LedgerMetrics
	feeRatio     decimal.Decimal
}

func (h *settleHandler) Handle(ctx context.Context, task scheduler.Task) error {
	var payload appointments.SettlePayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	ctx = h.logg.WithAppointmentID(ctx, payload.AppointmentID.String())

	appt, err := h.appointments.Find(ctx, payload.AppointmentID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return h.integrity(ctx, pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "settlement for missing appointment"))
		}
		return err
	}
	if appt.Status != enums.AppointmentStatusCompleted {
		h.logg.Info(h.logg.WithField(ctx, "status", string(appt.Status)), "settlement skipped: appointment not completed")
		return nil
	}
	if appt.WalletHoldTxnID == nil {
		return h.integrity(ctx, pkgerrors.New(pkgerrors.CodeDataIntegrity, "completed appointment has no wallet hold"))
	}

	hold, err := h.ledger.GetHold(ctx, *appt.WalletHoldTxnID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidHold) {
			return h.integrity(ctx, pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "hold transaction missing"))
		}
		return err
	}
	if done, err := h.checkHold(ctx, hold); done || err != nil {
		return err
	}

	payee, err := h.ledger.EnsureWallet(ctx, enums.WalletOwnerCraftsman, appt.CraftsmanID)
	if err != nil {
		return err
	}
	msg, err := h.paymentEmail(ctx, appt)
	if err != nil {
		return err
	}

	var result *ledger.CaptureResult
	err = h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = h.ledger.WithTx(tx).CaptureAndSplit(ctx, hold.ID, h.feeRatio, payee.ID)
		if err != nil {
			return err
		}
		if err := h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateAppointment,
			AggregateID:   appt.ID,
			Version:       1,
			Data: payloads.PaymentSettledEvent{
				AppointmentID:     appt.ID,
				HoldTransactionID: hold.ID,
				CraftsmanWalletID: payee.ID,
				AmountCents:       result.AmountCents,
				PlatformFeeCents:  result.PlatformFeeCents,
				PayoutCents:       result.PayoutCents,
				Currency:          string(hold.Currency),
			},
		}); err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		msg.Context["amount"] = ledger.FormatAmount(result.PayoutCents)
		msg.Context["fee"] = ledger.FormatAmount(result.PlatformFeeCents)
		return h.mailer.Request(ctx, *msg, scheduler.WithTx(tx), scheduler.WithDedupeKey("email:payment:"+appt.ID.String()))
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeHoldAlreadySettled) {
			return h.afterLostCapture(ctx, appt)
		}
		return err
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"hold_transaction_id": hold.ID.String(),
		"amount_cents":        result.AmountCents,
		"platform_fee_cents":  result.PlatformFeeCents,
		"payout_cents":        result.PayoutCents,
	})
	h.logg.Info(logCtx, "appointment settled")
	h.notifier.NotifyAll(ctx, notifications.Request{
		UserID: appt.CraftsmanID,
		Type:   enums.NotificationTypePaymentReceived,
		Title:  paymentTitle,
		Body:   fmt.Sprintf(paymentBodyTemplate, ledger.FormatAmount(result.PayoutCents), hold.Currency),
		Data:   map[string]any{"appointmentId": appt.ID.String()},
	})
	return nil
}

// paymentEmail prepares the craftsman's receipt. A nil message means the
// craftsman cannot be mailed; settlement still proceeds.
func (h *settleHandler) paymentEmail(ctx context.Context, appt *models.Appointment) (*email.Message, error) {
	users, err := h.users.FindByIDs(ctx, appt.CraftsmanID)
	if err != nil {
		return nil, fmt.Errorf("load craftsman: %w", err)
	}
	craftsman, ok := users[appt.CraftsmanID]
	if !ok {
		h.logg.Warn(ctx, "payment email skipped: unknown craftsman")
		return nil, nil
	}
	msg := &email.Message{
		To:       craftsman.Email,
		Subject:  paymentTitle,
		Template: email.TemplatePaymentReceived,
		Context: map[string]any{
			"name":          craftsman.FirstName,
			"appointmentId": appt.ID.String(),
		},
	}
	if err := msg.Validate(); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "payment email skipped")
		return nil, nil
	}
	return msg, nil
}

// checkHold reports done for a hold that was already captured by an earlier
// delivery. A released hold under a completed appointment is corrupt state.
func (h *settleHandler) checkHold(ctx context.Context, hold *models.Transaction) (bool, error) {
	if hold.HoldState == nil {
		return true, h.integrity(ctx, pkgerrors.New(pkgerrors.CodeDataIntegrity, "hold has no state").
			WithDetails(map[string]any{"hold_transaction_id": hold.ID}))
	}
	switch *hold.HoldState {
	case enums.HoldStateActive:
		return false, nil
	case enums.HoldStateCaptured:
		h.logg.Info(ctx, "settlement skipped: hold already captured")
		return true, nil
	default:
		return true, h.integrity(ctx, pkgerrors.New(pkgerrors.CodeDataIntegrity, "hold of completed appointment was released").
			WithDetails(map[string]any{"hold_transaction_id": hold.ID, "hold_state": *hold.HoldState}))
	}
}

// afterLostCapture resolves a capture that lost the consume-once race. A
// concurrent refund may have released the hold legitimately.
func (h *settleHandler) afterLostCapture(ctx context.Context, appt *models.Appointment) error {
	current, err := h.appointments.Find(ctx, appt.ID)
	if err != nil {
		return err
	}
	if current.Status != enums.AppointmentStatusCompleted {
		return nil
	}
	hold, err := h.ledger.GetHold(ctx, *appt.WalletHoldTxnID)
	if err != nil {
		return err
	}
	_, err = h.checkHold(ctx, hold)
	return err
}

func (h *settleHandler) integrity(ctx context.Context, err error) error {
	code := string(pkgerrors.CodeDataIntegrity)
	h.metrics.IncFailure(opSettle, code)
	h.logg.Error(h.logg.WithField(ctx, "error_code", code), "settlement data integrity violation", err)
	return scheduler.NonRetryable(err)
}
