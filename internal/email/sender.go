package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// Sender delivers a rendered HTML email.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	from   string
	dialer dialer
}

// NewSender returns an SMTP sender when SMTP is configured, otherwise a
// sender that only logs.
func NewSender(cfg config.SMTPConfig, logg *logger.Logger) Sender {
	if !cfg.Enabled() {
		return &logSender{logg: logg}
	}
	return &SMTPSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(buildMessage(s.from, to, subject, html)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, html string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)
	return m
}

type logSender struct {
	logg *logger.Logger
}

func (s *logSender) Send(ctx context.Context, to, subject, _ string) error {
	if s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"to":      to,
			"subject": subject,
		}), "smtp not configured; email dropped")
	}
	return nil
}
