package email

import (
	"context"
	"fmt"

	"github.com/herfa-app/herfa-backend/internal/scheduler"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// NewHandler renders and delivers email.send tasks.
func NewHandler(sender Sender, templates *Templates, logg *logger.Logger) (scheduler.Handler, error) {
	if sender == nil {
		return nil, fmt.Errorf("email sender required")
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return scheduler.HandlerFunc(func(ctx context.Context, task scheduler.Task) error {
		var msg Message
		if err := task.Decode(&msg); err != nil {
			return err
		}
		if err := msg.Validate(); err != nil {
			return scheduler.NonRetryable(err)
		}
		body, ok := templates.Lookup(msg.Template)
		if !ok {
			return scheduler.NonRetryable(fmt.Errorf("unknown email template %q", msg.Template))
		}
		if err := sender.Send(ctx, msg.To, msg.Subject, Render(body, msg.Context)); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "template", msg.Template), "email sent")
		return nil
	}), nil
}
