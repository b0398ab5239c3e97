package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// SendKind is the scheduler task kind carrying one email.
const SendKind = "email.send"

// Message is a templated email request.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Context  map[string]any `json:"context"`
}

// Validate checks the recipient address and required fields.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient required")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", m.To, err)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject required")
	}
	if strings.TrimSpace(m.Template) == "" {
		return fmt.Errorf("template required")
	}
	return nil
}

type onceScheduler interface {
	ScheduleOnce(ctx context.Context, delay time.Duration, kind string, payload any, opts ...scheduler.Option) (*models.ScheduledTask, error)
}

// Dispatcher queues emails as durable tasks.
type Dispatcher struct {
	scheduler onceScheduler
	logg      *logger.Logger
}

// NewDispatcher wires the email dispatcher.
func NewDispatcher(s onceScheduler, logg *logger.Logger) (*Dispatcher, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{scheduler: s, logg: logg}, nil
}

// Request enqueues msg for delivery. Pass scheduler.WithTx to tie it to a caller transaction.
func (d *Dispatcher) Request(ctx context.Context, msg Message, opts ...scheduler.Option) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := d.scheduler.ScheduleOnce(ctx, 0, SendKind, msg, opts...); err != nil {
		return fmt.Errorf("queue email: %w", err)
	}
	d.logg.Debug(d.logg.WithField(ctx, "template", msg.Template), "email queued")
	return nil
}
