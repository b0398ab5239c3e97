package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeBookingRequested     NotificationType = "booking_requested"
	NotificationTypeAppointmentAccepted  NotificationType = "appointment_accepted"
	NotificationTypeAppointmentRejected  NotificationType = "appointment_rejected"
	NotificationTypeAppointmentCanceled  NotificationType = "appointment_canceled"
	NotificationTypeAppointmentExpired   NotificationType = "appointment_expired"
	NotificationTypeAppointmentStarted   NotificationType = "appointment_started"
	NotificationTypeAppointmentCompleted NotificationType = "appointment_completed"
	NotificationTypeAppointmentDisputed  NotificationType = "appointment_disputed"
	NotificationTypeAppointmentRefunded  NotificationType = "appointment_refunded"
	NotificationTypeReminder24h          NotificationType = "appointment_reminder_24h"
	NotificationTypeReminder2h           NotificationType = "appointment_reminder_2h"
	NotificationTypePaymentReceived      NotificationType = "payment_received"
	NotificationTypeWalletTopUp          NotificationType = "wallet_topup"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeBookingRequested,
	NotificationTypeAppointmentAccepted,
	NotificationTypeAppointmentRejected,
	NotificationTypeAppointmentCanceled,
	NotificationTypeAppointmentExpired,
	NotificationTypeAppointmentStarted,
	NotificationTypeAppointmentCompleted,
	NotificationTypeAppointmentDisputed,
	NotificationTypeAppointmentRefunded,
	NotificationTypeReminder24h,
	NotificationTypeReminder2h,
	NotificationTypePaymentReceived,
	NotificationTypeWalletTopUp,
}

// IsValid reports whether the value is a known NotificationType.
func (v NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
