package appointments

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

func craftsmanOnly(appt *models.Appointment, in ActionInput) bool {
	return in.ActorID == appt.CraftsmanID
}

func participant(appt *models.Appointment, in ActionInput) bool {
	return in.ActorRole == enums.UserRoleAdmin ||
		in.ActorID == appt.CustomerID ||
		in.ActorID == appt.CraftsmanID
}

func adminOnly(_ *models.Appointment, in ActionInput) bool {
	return in.ActorRole == enums.UserRoleAdmin
}

// completer lets either party close a job in progress. A disputed appointment
// is resolved by an admin only, like Refund.
func completer(appt *models.Appointment, in ActionInput) bool {
	if appt.Status == enums.AppointmentStatusDisputed {
		return adminOnly(appt, in)
	}
	return participant(appt, in)
}

func cancelFields(_ *models.Appointment, in ActionInput, now time.Time) map[string]any {
	fields := map[string]any{"canceled_at": now}
	if reason := strings.TrimSpace(in.Reason); reason != "" {
		fields["cancel_reason"] = reason
	}
	return fields
}

// counterparts addresses the participants other than the actor. Admin
// actions reach both sides.
func counterparts(appt *models.Appointment, in ActionInput, typ enums.NotificationType, title, body string) []notifications.Request {
	var reqs []notifications.Request
	for _, userID := range []uuid.UUID{appt.CustomerID, appt.CraftsmanID} {
		if userID == in.ActorID {
			continue
		}
		reqs = append(reqs, notifications.Request{
			UserID: userID,
			Type:   typ,
			Title:  title,
			Body:   body,
			Data:   appointmentData(appt),
		})
	}
	return reqs
}

func appointmentData(appt *models.Appointment) map[string]any {
	return map[string]any{
		"appointmentId": appt.ID.String(),
		"status":        string(appt.Status),
		"scheduledAt":   appt.ScheduledAt,
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func errMissingHold(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeDataIntegrity, "appointment has no wallet hold").
		WithDetails(map[string]any{"appointment_id": id})
}
