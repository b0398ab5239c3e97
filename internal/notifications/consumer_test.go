package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/idempotency"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
)

type memoryStore struct {
	keys map[string]string
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "herfa:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type recordingCreator struct {
	created []models.Notification
	err     error
}

func (r *recordingCreator) Create(_ context.Context, n *models.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, *n)
	return nil
}

func newTestConsumer(t *testing.T, repo creator) *Consumer {
	t.Helper()
	claims, err := idempotency.NewGuard(&memoryStore{keys: map[string]string{}}, NotificationConsumer, time.Hour)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return &Consumer{repo: repo, decoders: newDecoders(), claims: claims, logg: testLogger()}
}

func notificationMessage(t *testing.T, eventID string, event payloads.NotificationRequestedEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID, OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         "msg-" + eventID,
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(enums.EventNotificationRequested)},
	}
}

func TestConsumerStoresNotificationOnce(t *testing.T) {
	repo := &recordingCreator{}
	consumer := newTestConsumer(t, repo)
	userID := uuid.New()
	msg := notificationMessage(t, uuid.NewString(), payloads.NotificationRequestedEvent{
		UserID: userID,
		Type:   enums.NotificationTypeReminder2h,
		Title:  "Upcoming Appointment Reminder",
		Body:   "You have an appointment in 2 hours",
	})

	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack on redelivery, got %+v", res)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(repo.created))
	}
	if got := repo.created[0]; got.UserID != userID || got.Type != enums.NotificationTypeReminder2h {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestConsumerNacksAndReleasesOnStoreFailure(t *testing.T) {
	repo := &recordingCreator{err: errors.New("db down")}
	consumer := newTestConsumer(t, repo)
	msg := notificationMessage(t, uuid.NewString(), payloads.NotificationRequestedEvent{
		UserID: uuid.New(),
		Type:   enums.NotificationTypePaymentReceived,
		Title:  "Payment Received",
	})

	if res := consumer.process(context.Background(), msg); !res.nack {
		t.Fatalf("expected nack, got %+v", res)
	}

	repo.err = nil
	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack after recovery, got %+v", res)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected redelivery to store the notification")
	}
}

func TestConsumerDropsUnusableMessages(t *testing.T) {
	repo := &recordingCreator{}
	consumer := newTestConsumer(t, repo)
	ctx := context.Background()

	other := &pubsub.Message{ID: "1", Attributes: map[string]string{"event_type": string(enums.EventPaymentSettled)}}
	garbage := &pubsub.Message{ID: "2", Data: []byte("{"), Attributes: map[string]string{"event_type": string(enums.EventNotificationRequested)}}
	badID := notificationMessage(t, "not-a-uuid", payloads.NotificationRequestedEvent{UserID: uuid.New(), Type: enums.NotificationTypePaymentReceived, Title: "x"})
	badType := notificationMessage(t, uuid.NewString(), payloads.NotificationRequestedEvent{UserID: uuid.New(), Type: "bogus", Title: "x"})
	noUser := notificationMessage(t, uuid.NewString(), payloads.NotificationRequestedEvent{Type: enums.NotificationTypePaymentReceived, Title: "x"})

	for _, msg := range []*pubsub.Message{other, garbage, badID, badType, noUser} {
		if res := consumer.process(ctx, msg); !res.ack {
			t.Fatalf("message %s: expected ack, got %+v", msg.ID, res)
		}
	}
	if len(repo.created) != 0 {
		t.Fatalf("no notification should be stored, got %d", len(repo.created))
	}
}
