package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
)

func TestResolveDecodesSettlement(t *testing.T) {
	reg := testRegistry(t)
	appointmentID := uuid.New()
	eventID := uuid.New()
	data, _ := json.Marshal(payloads.PaymentSettledEvent{
		AppointmentID:    appointmentID,
		AmountCents:      3000,
		PlatformFeeCents: 300,
		PayoutCents:      2700,
		Currency:         "EGP",
	})

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregateAppointment,
		AggregateID:   appointmentID,
		Payload:       envelope(t, eventID, data),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Route.Topic != "domain-topic" || resolved.EventID != eventID {
		t.Fatalf("unexpected route %q / event id %s", resolved.Route.Topic, resolved.EventID)
	}
	payload, ok := resolved.Payload.(*payloads.PaymentSettledEvent)
	if !ok || payload.PayoutCents != 2700 || payload.AppointmentID != appointmentID {
		t.Fatalf("unexpected payload %#v", resolved.Payload)
	}
}

func TestResolveRoutesByEventType(t *testing.T) {
	reg := testRegistry(t)
	cases := []struct {
		eventType enums.OutboxEventType
		aggregate enums.OutboxAggregateType
		topic     string
	}{
		{enums.EventNotificationRequested, enums.AggregateNotification, "notification-topic"},
		{enums.EventAppointmentStatusChanged, enums.AggregateAppointment, "domain-topic"},
		{enums.EventWalletToppedUp, enums.AggregateWallet, "domain-topic"},
	}
	for _, tc := range cases {
		resolved, err := reg.Resolve(models.OutboxEvent{
			EventType:     tc.eventType,
			AggregateType: tc.aggregate,
			AggregateID:   uuid.New(),
			Payload:       envelope(t, uuid.New(), []byte(`{}`)),
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.eventType, err)
		}
		if resolved.Route.Topic != tc.topic {
			t.Fatalf("%s routed to %q, want %q", tc.eventType, resolved.Route.Topic, tc.topic)
		}
	}
}

func TestResolveFailuresArePermanent(t *testing.T) {
	reg := testRegistry(t)
	good := func() models.OutboxEvent {
		return models.OutboxEvent{
			EventType:     enums.EventWalletToppedUp,
			AggregateType: enums.AggregateWallet,
			AggregateID:   uuid.New(),
			Payload:       envelope(t, uuid.New(), []byte(`{"amount_cents":100}`)),
		}
	}
	cases := map[string]func(e *models.OutboxEvent){
		"unknown event":      func(e *models.OutboxEvent) { e.EventType = "reservation_released" },
		"aggregate mismatch": func(e *models.OutboxEvent) { e.AggregateType = enums.AggregateAppointment },
		"nil aggregate id":   func(e *models.OutboxEvent) { e.AggregateID = uuid.Nil },
		"null data":          func(e *models.OutboxEvent) { e.Payload = envelope(t, uuid.New(), []byte("null")) },
		"wrong data shape":   func(e *models.OutboxEvent) { e.Payload = envelope(t, uuid.New(), []byte(`[1,2]`)) },
		"broken envelope":    func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":`) },
	}
	for name, mutate := range cases {
		event := good()
		mutate(&event)
		_, err := reg.Resolve(event)
		if !errors.Is(err, ErrPermanent) {
			t.Fatalf("%s: expected permanent error, got %v", name, err)
		}
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should stay nil")
	}
	if errors.Is(errors.New("timeout"), ErrPermanent) {
		t.Fatal("plain errors are not permanent")
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "d"}); err == nil {
		t.Fatal("expected notification topic error")
	}
	if _, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "n"}); err == nil {
		t.Fatal("expected domain topic error")
	}
}

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "notification-topic", DomainTopic: "domain-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func envelope(t *testing.T, id uuid.UUID, data []byte) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}
