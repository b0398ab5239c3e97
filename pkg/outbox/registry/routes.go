package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures a retry cannot fix. The relay dead-letters rows
// whose error wraps it.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent wraps err with ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Route says which aggregate owns an event type and where it is published.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(data []byte) (any, error)
}

// ResolvedEvent is an outbox row whose envelope and payload decoded cleanly.
type ResolvedEvent struct {
	Route    Route
	EventID  uuid.UUID
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// EventRegistry maps each event type to its route.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(data []byte) (any, error) {
			out := new(T)
			return out, json.Unmarshal(data, out)
		},
	}
}

// NewEventRegistry routes notification requests to the notification topic
// and every other domain event to the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.NotificationTopic == "":
		return nil, errors.New("notification topic is required")
	case cfg.DomainTopic == "":
		return nil, errors.New("domain topic is required")
	}
	reg := &EventRegistry{routes: map[enums.OutboxEventType]Route{}}
	for _, r := range []Route{
		route[payloads.NotificationRequestedEvent](enums.EventNotificationRequested, enums.AggregateNotification, cfg.NotificationTopic),
		route[payloads.AppointmentStatusChangedEvent](enums.EventAppointmentStatusChanged, enums.AggregateAppointment, cfg.DomainTopic),
		route[payloads.PaymentSettledEvent](enums.EventPaymentSettled, enums.AggregateAppointment, cfg.DomainTopic),
		route[payloads.WalletToppedUpEvent](enums.EventWalletToppedUp, enums.AggregateWallet, cfg.DomainTopic),
	} {
		reg.routes[r.EventType] = r
	}
	for _, t := range enums.OutboxEventTypes() {
		if _, ok := reg.routes[t]; !ok {
			return nil, fmt.Errorf("event type %q has no route", t)
		}
	}
	return reg, nil
}

// Resolve checks the row against its route and decodes the typed payload.
// Every error it returns is permanent.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("no route for event type %q", event.EventType))
	case rt.AggregateType != event.AggregateType:
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row has %s", event.EventType, rt.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Permanent(fmt.Errorf("%s row %s has no aggregate id", event.EventType, event.ID))
	}

	env, eventID, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	payload, err := rt.decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: rt, EventID: eventID, Envelope: env, Payload: payload}, nil
}
