package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/internal/email"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

const (
	reminderTitle   = "Upcoming Appointment Reminder"
	reminderTimeFmt = "Mon, 02 Jan 2006 15:04 MST"
)

var reminderBodies = map[appointments.ReminderType]string{
	appointments.Reminder24h: "You have an appointment scheduled for tomorrow",
	appointments.Reminder2h:  "You have an appointment in 2 hours",
}

var reminderTypes = map[appointments.ReminderType]enums.NotificationType{
	appointments.Reminder24h: enums.NotificationTypeReminder24h,
	appointments.Reminder2h:  enums.NotificationTypeReminder2h,
}

// ReminderHandlerParams wires the appointment reminder task handler.
type ReminderHandlerParams struct {
	Logger       *logger.Logger
	Appointments appointmentFinder
	Users        userDirectory
	Notifier     notifier
	Mailer       mailer
}

// NewReminderHandler handles appointments.ReminderKind tasks.
func NewReminderHandler(params ReminderHandlerParams) (scheduler.Handler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Appointments == nil {
		return nil, fmt.Errorf("appointments service required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users directory required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	return &reminderHandler{
		logg:         params.Logger,
		appointments: params.Appointments,
		users:        params.Users,
		notifier:     params.Notifier,
		mailer:       params.Mailer,
	}, nil
}

type reminderHandler struct {
	logg         *logger.Logger
	appointments appointmentFinder
	users        userDirectory
	notifier     notifier
	mailer       mailer
}

// Handle queues the reminder emails first, deduplicated per recipient, so a
// retry never sends the in-app notifications twice.
func (h *reminderHandler) Handle(ctx context.Context, task scheduler.Task) error {
	var payload appointments.ReminderPayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	if !payload.Type.IsValid() {
		return scheduler.NonRetryable(fmt.Errorf("unknown reminder type %q", payload.Type))
	}
	ctx = h.logg.WithAppointmentID(ctx, payload.AppointmentID.String())

	appt, err := h.appointments.Find(ctx, payload.AppointmentID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			h.logg.Warn(ctx, "reminder for missing appointment dropped")
			return nil
		}
		return err
	}
	if appt.Status != enums.AppointmentStatusPending && appt.Status != enums.AppointmentStatusAccepted {
		return nil
	}

	participants := []uuid.UUID{appt.CustomerID, appt.CraftsmanID}
	users, err := h.users.FindByIDs(ctx, participants...)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	var errs error
	for _, userID := range participants {
		user, ok := users[userID]
		if !ok {
			h.logg.Warn(h.logg.WithUserID(ctx, userID.String()), "reminder email skipped: unknown user")
			continue
		}
		msg := email.Message{
			To:       user.Email,
			Subject:  reminderTitle,
			Template: email.TemplateAppointmentReminder,
			Context: map[string]any{
				"name": user.FirstName,
				"time": appt.ScheduledAt.UTC().Format(reminderTimeFmt),
				"type": string(payload.Type),
			},
		}
		if err := msg.Validate(); err != nil {
			h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "reminder email skipped")
			continue
		}
		key := fmt.Sprintf("email:reminder:%s:%s:%s", appt.ID, payload.Type, userID)
		errs = multierr.Append(errs, h.mailer.Request(ctx, msg, scheduler.WithDedupeKey(key)))
	}
	if errs != nil {
		return fmt.Errorf("queue reminder emails: %w", errs)
	}

	h.notifier.NotifyAll(ctx, reminderNotifications(appt, payload.Type)...)
	h.logg.Info(h.logg.WithField(ctx, "reminder_type", string(payload.Type)), "appointment reminder sent")
	return nil
}

func reminderNotifications(appt *models.Appointment, typ appointments.ReminderType) []notifications.Request {
	data := map[string]any{"appointmentId": appt.ID.String()}
	reqs := make([]notifications.Request, 0, 2)
	for _, userID := range []uuid.UUID{appt.CustomerID, appt.CraftsmanID} {
		reqs = append(reqs, notifications.Request{
			UserID: userID,
			Type:   reminderTypes[typ],
			Title:  reminderTitle,
			Body:   reminderBodies[typ],
			Data:   data,
		})
	}
	return reqs
}
