package appointments

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

func TestCanTransition(t *testing.T) {
	allowed := map[enums.AppointmentStatus][]enums.AppointmentStatus{
		enums.AppointmentStatusPending:    {enums.AppointmentStatusAccepted, enums.AppointmentStatusRejected, enums.AppointmentStatusCanceled},
		enums.AppointmentStatusAccepted:   {enums.AppointmentStatusInProgress, enums.AppointmentStatusCanceled},
		enums.AppointmentStatusInProgress: {enums.AppointmentStatusCompleted, enums.AppointmentStatusDisputed},
		enums.AppointmentStatusCompleted:  {enums.AppointmentStatusRefunded},
		enums.AppointmentStatusDisputed:   {enums.AppointmentStatusRefunded, enums.AppointmentStatusCompleted},
	}
	all := []enums.AppointmentStatus{
		enums.AppointmentStatusPending,
		enums.AppointmentStatusAccepted,
		enums.AppointmentStatusRejected,
		enums.AppointmentStatusCanceled,
		enums.AppointmentStatusInProgress,
		enums.AppointmentStatusCompleted,
		enums.AppointmentStatusDisputed,
		enums.AppointmentStatusRefunded,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	for _, terminal := range []enums.AppointmentStatus{enums.AppointmentStatusRejected, enums.AppointmentStatusCanceled, enums.AppointmentStatusRefunded} {
		if !IsTerminal(terminal) {
			t.Fatalf("expected %s to be terminal", terminal)
		}
	}
}

func TestReminderDelays(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	delays := reminderDelays(now.Add(30*time.Hour), now)
	if len(delays) != 2 || delays[Reminder24h] != 6*time.Hour || delays[Reminder2h] != 28*time.Hour {
		t.Fatalf("unexpected delays %v", delays)
	}
	if delays := reminderDelays(now.Add(90*time.Minute), now); len(delays) != 0 {
		t.Fatalf("expected no reminders, got %v", delays)
	}
	if got := reminderDedupeKey(uuid.Nil, Reminder2h); got != "reminder:00000000-0000-0000-0000-000000000000:2h" {
		t.Fatalf("unexpected dedupe key %q", got)
	}
	if ReminderType("1h").IsValid() {
		t.Fatalf("expected unknown reminder type to be invalid")
	}
}
