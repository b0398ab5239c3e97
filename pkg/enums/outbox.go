package enums

import "slices"

// OutboxAggregateType is the Postgres aggregate_type enum: the kind of row
// an outbox event describes.
type OutboxAggregateType string

const (
	AggregateAppointment  OutboxAggregateType = "appointment"
	AggregateWallet       OutboxAggregateType = "wallet"
	AggregateNotification OutboxAggregateType = "notification"
)

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains([]OutboxAggregateType{AggregateAppointment, AggregateWallet, AggregateNotification}, a)
}

// OutboxEventType is the Postgres event_type enum. Adding a value needs a
// migration and a relay route.
type OutboxEventType string

const (
	EventNotificationRequested    OutboxEventType = "notification_requested"
	EventAppointmentStatusChanged OutboxEventType = "appointment_status_changed"
	EventPaymentSettled           OutboxEventType = "payment_settled"
	EventWalletToppedUp           OutboxEventType = "wallet_topped_up"
)

// OutboxEventTypes lists every event type in declaration order.
func OutboxEventTypes() []OutboxEventType {
	return []OutboxEventType{
		EventNotificationRequested,
		EventAppointmentStatusChanged,
		EventPaymentSettled,
		EventWalletToppedUp,
	}
}

func (e OutboxEventType) IsValid() bool {
	return slices.Contains(OutboxEventTypes(), e)
}
