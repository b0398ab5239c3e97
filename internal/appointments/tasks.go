package appointments

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// ReminderKind is the scheduled task that nudges both parties ahead of a visit.
	ReminderKind = "appointment.reminder"
	// SettleKind is the scheduled task that captures the hold of a completed appointment.
	SettleKind = "appointment.settle"
)

// ReminderType selects how far ahead of the visit a reminder fires.
type ReminderType string

const (
	Reminder24h ReminderType = "24h"
	Reminder2h  ReminderType = "2h"
)

// Offset is how long before the scheduled time the reminder is due.
func (r ReminderType) Offset() time.Duration {
	switch r {
	case Reminder24h:
		return 24 * time.Hour
	case Reminder2h:
		return 2 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether r is a known reminder type.
func (r ReminderType) IsValid() bool {
	return r.Offset() > 0
}

var reminderTypes = []ReminderType{Reminder24h, Reminder2h}

// ReminderPayload is the body of a ReminderKind task.
type ReminderPayload struct {
	AppointmentID uuid.UUID    `json:"appointmentId"`
	Type          ReminderType `json:"type"`
}

// SettlePayload is the body of a SettleKind task.
type SettlePayload struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

func reminderDedupeKey(id uuid.UUID, typ ReminderType) string {
	return fmt.Sprintf("reminder:%s:%s", id, typ)
}

func settleDedupeKey(id uuid.UUID) string {
	return "settle:" + id.String()
}

// reminderDelays returns the reminders still worth scheduling at now.
func reminderDelays(scheduledAt, now time.Time) map[ReminderType]time.Duration {
	out := make(map[ReminderType]time.Duration, len(reminderTypes))
	for _, typ := range reminderTypes {
		delay := scheduledAt.Add(-typ.Offset()).Sub(now)
		if delay > 0 {
			out[typ] = delay
		}
	}
	return out
}
