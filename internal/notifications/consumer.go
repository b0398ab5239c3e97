package notifications

import (
	"context"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/idempotency"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
	"github.com/herfa-app/herfa-backend/pkg/outbox/registry"
)

// NotificationConsumer scopes the consumer's idempotency claims.
const NotificationConsumer = "notification-consumer"

type creator interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer persists notification_requested events as user notifications.
type Consumer struct {
	repo         creator
	subscription *pubsub.Subscriber
	decoders     *registry.DecoderRegistry
	claims       *idempotency.Guard
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer.
func NewConsumer(repo creator, subscription *pubsub.Subscriber, claims *idempotency.Guard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if claims == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		decoders:     newDecoders(),
		claims:       claims,
		logg:         logg,
	}, nil
}

func newDecoders() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.NotificationRequestedEvent](reg, enums.EventNotificationRequested, 1)
	return reg
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventNotificationRequested) {
		c.logg.Info(logCtx, "skipping non-notification event")
		return processResult{ack: true}
	}

	envelope, eventID, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	decoded, err := c.decoders.Decode(enums.EventNotificationRequested, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return processResult{ack: true}
	}
	event, ok := decoded.(payloads.NotificationRequestedEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("got %T", decoded))
		return processResult{ack: true}
	}
	if err := validateEvent(event); err != nil {
		c.logg.Error(logCtx, "dropping invalid notification", err)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithUserID(logCtx, event.UserID.String())

	fresh, err := c.claims.Claim(ctx, eventID.String())
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !fresh {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification := &models.Notification{
		UserID: event.UserID,
		Type:   event.Type,
		Title:  strings.TrimSpace(event.Title),
		Body:   strings.TrimSpace(event.Body),
		Data:   event.Data,
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "failed to store notification", err)
		_ = c.claims.Release(ctx, eventID.String())
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "notification stored")
	return processResult{ack: true}
}

func validateEvent(event payloads.NotificationRequestedEvent) error {
	if event.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}
	if !event.Type.IsValid() {
		return fmt.Errorf("unknown notification type %q", event.Type)
	}
	if strings.TrimSpace(event.Title) == "" {
		return fmt.Errorf("title missing")
	}
	return nil
}
