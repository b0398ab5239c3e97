package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/herfa-app/herfa-backend/internal/cron"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

const (
	defaultHoldExpiry     = 15 * time.Minute
	defaultSweepBatchSize = 100

	expiredTitle         = "Booking Request Expired"
	expiredCustomerBody  = "Your booking request has expired. The held amount has been released back to your wallet."
	expiredCraftsmanBody = "A booking request has expired due to no response."
)

// ExpiredHoldSweepJobParams wires the pending-booking expiry sweep.
type ExpiredHoldSweepJobParams struct {
	Logger       *logger.Logger
	Appointments appointmentExpirer
	Notifier     notifier
	HoldExpiry   time.Duration
	BatchSize    int
	Now          func() time.Time
}

// NewExpiredHoldSweepJob cancels pending bookings nobody answered within the
// hold expiry and returns their held funds.
func NewExpiredHoldSweepJob(params ExpiredHoldSweepJobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Appointments == nil {
		return nil, fmt.Errorf("appointments service required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	expiry := params.HoldExpiry
	if expiry <= 0 {
		expiry = defaultHoldExpiry
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &expiredHoldSweepJob{
		logg:         params.Logger,
		appointments: params.Appointments,
		notifier:     params.Notifier,
		expiry:       expiry,
		batch:        batch,
		now:          now,
	}, nil
}

type expiredHoldSweepJob struct {
	logg         *logger.Logger
	appointments appointmentExpirer
	notifier     notifier
	expiry       time.Duration
	batch        int
	now          func() time.Time
}

func (j *expiredHoldSweepJob) Name() string { return "expired-hold-sweep" }

func (j *expiredHoldSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.expiry)
	candidates, err := j.appointments.ListExpiredPending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list expired bookings: %w", err)
	}

	var (
		errs    error
		expired int
		skipped int
	)
	for _, candidate := range candidates {
		appt, ok, err := j.appointments.ExpirePending(ctx, candidate.ID)
		if err != nil {
			logCtx := j.logg.WithAppointmentID(ctx, candidate.ID.String())
			j.logg.Error(logCtx, "failed to expire booking", err)
			errs = multierr.Append(errs, fmt.Errorf("expire appointment %s: %w", candidate.ID, err))
			continue
		}
		if !ok {
			skipped++
			continue
		}
		expired++
		j.notifier.NotifyAll(ctx, expiryNotifications(appt)...)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(candidates),
		"expired":    expired,
		"skipped":    skipped,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "expired hold sweep complete")
	return errs
}

func expiryNotifications(appt *models.Appointment) []notifications.Request {
	data := map[string]any{"appointmentId": appt.ID.String()}
	return []notifications.Request{
		{
			UserID: appt.CustomerID,
			Type:   enums.NotificationTypeAppointmentExpired,
			Title:  expiredTitle,
			Body:   expiredCustomerBody,
			Data:   data,
		},
		{
			UserID: appt.CraftsmanID,
			Type:   enums.NotificationTypeAppointmentExpired,
			Title:  expiredTitle,
			Body:   expiredCraftsmanBody,
			Data:   data,
		},
	}
}
