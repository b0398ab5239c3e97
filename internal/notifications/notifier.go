package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/outbox"
	"github.com/herfa-app/herfa-backend/pkg/outbox/payloads"
)

// Request is one in-app notification addressed to a user.
type Request struct {
	UserID uuid.UUID
	Type   enums.NotificationType
	Title  string
	Body   string
	Data   map[string]any
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Notifier queues notification_requested events. Delivery is best-effort:
// failures are logged and never surface to the caller.
type Notifier struct {
	db     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewNotifier wires the outbox-backed notifier.
func NewNotifier(db txRunner, emitter outboxEmitter, logg *logger.Logger) (*Notifier, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Notifier{db: db, outbox: emitter, logg: logg}, nil
}

// Notify queues a single notification.
func (n *Notifier) Notify(ctx context.Context, req Request) {
	n.NotifyAll(ctx, req)
}

// NotifyAll queues every request in one transaction.
func (n *Notifier) NotifyAll(ctx context.Context, reqs ...Request) {
	if len(reqs) == 0 {
		return
	}
	err := n.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, req := range reqs {
			event, err := buildEvent(req)
			if err != nil {
				return err
			}
			if err := n.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logCtx := n.logg.WithFields(ctx, map[string]any{
			"notification_type": string(reqs[0].Type),
			"recipients":        len(reqs),
		})
		n.logg.Error(logCtx, "failed to queue notification", err)
	}
}

func buildEvent(req Request) (outbox.DomainEvent, error) {
	if req.UserID == uuid.Nil {
		return outbox.DomainEvent{}, fmt.Errorf("notification recipient required")
	}
	if !req.Type.IsValid() {
		return outbox.DomainEvent{}, fmt.Errorf("invalid notification type %q", req.Type)
	}
	var data json.RawMessage
	if len(req.Data) > 0 {
		raw, err := json.Marshal(req.Data)
		if err != nil {
			return outbox.DomainEvent{}, err
		}
		data = raw
	}
	return outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   req.UserID,
		Data: payloads.NotificationRequestedEvent{
			UserID: req.UserID,
			Type:   req.Type,
			Title:  req.Title,
			Body:   req.Body,
			Data:   data,
		},
	}, nil
}
