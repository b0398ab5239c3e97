package appointments

import (
	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/enums"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

var transitions = map[enums.AppointmentStatus][]enums.AppointmentStatus{
	enums.AppointmentStatusPending: {
		enums.AppointmentStatusAccepted,
		enums.AppointmentStatusRejected,
		enums.AppointmentStatusCanceled,
	},
	enums.AppointmentStatusAccepted: {
		enums.AppointmentStatusInProgress,
		enums.AppointmentStatusCanceled,
	},
	enums.AppointmentStatusInProgress: {
		enums.AppointmentStatusCompleted,
		enums.AppointmentStatusDisputed,
	},
	enums.AppointmentStatusCompleted: {
		enums.AppointmentStatusRefunded,
	},
	enums.AppointmentStatusDisputed: {
		enums.AppointmentStatusRefunded,
		enums.AppointmentStatusCompleted,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to enums.AppointmentStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status enums.AppointmentStatus) bool {
	return len(transitions[status]) == 0
}

func errIllegalTransition(id uuid.UUID, from, to enums.AppointmentStatus) error {
	return pkgerrors.New(pkgerrors.CodeIllegalTransition, "appointment cannot move to the requested status").
		WithDetails(map[string]any{"appointment_id": id, "from": from, "to": to})
}

func errNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found").
		WithDetails(map[string]any{"appointment_id": id})
}
