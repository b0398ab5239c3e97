package enums

import "fmt"

// AppointmentStatus maps to the appointment_status enum in Postgres.
type AppointmentStatus string

const (
	AppointmentStatusPending    AppointmentStatus = "pending"
	AppointmentStatusAccepted   AppointmentStatus = "accepted"
	AppointmentStatusRejected   AppointmentStatus = "rejected"
	AppointmentStatusCanceled   AppointmentStatus = "canceled"
	AppointmentStatusInProgress AppointmentStatus = "in_progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusDisputed   AppointmentStatus = "disputed"
	AppointmentStatusRefunded   AppointmentStatus = "refunded"
)

var validAppointmentStatuses = []AppointmentStatus{
	AppointmentStatusPending,
	AppointmentStatusAccepted,
	AppointmentStatusRejected,
	AppointmentStatusCanceled,
	AppointmentStatusInProgress,
	AppointmentStatusCompleted,
	AppointmentStatusDisputed,
	AppointmentStatusRefunded,
}

// String implements fmt.Stringer.
func (s AppointmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known appointment status.
func (s AppointmentStatus) IsValid() bool {
	for _, candidate := range validAppointmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAppointmentStatus converts raw input into AppointmentStatus.
func ParseAppointmentStatus(value string) (AppointmentStatus, error) {
	for _, candidate := range validAppointmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid appointment status %q", value)
}
