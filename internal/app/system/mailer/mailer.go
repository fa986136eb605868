// internal/app/system/mailer/mailer.go
package mailer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// Email is one outbound message. HTMLBody is optional.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// ErrNotConfigured is returned by Send when no SMTP host is set.
var ErrNotConfigured = errors.New("mailer: smtp host not configured")

// dialer is the part of *gomail.Dialer the Mailer uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends email over SMTP.
type Mailer struct {
	cfg    Config
	dialer dialer
	log    *zap.Logger
}

// New creates a Mailer. An empty Host yields a Mailer whose Send always
// fails with ErrNotConfigured, so callers can treat mail as best-effort.
func New(cfg Config, logger *zap.Logger) *Mailer {
	m := &Mailer{cfg: cfg, log: logger}
	if cfg.Host != "" {
		m.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	}
	return m
}

// Configured reports whether an SMTP host is set.
func (m *Mailer) Configured() bool {
	return m != nil && m.dialer != nil
}

func (m *Mailer) message(e Email) *gomail.Message {
	msg := gomail.NewMessage()
	if m.cfg.FromName != "" {
		msg.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	} else {
		msg.SetHeader("From", m.cfg.From)
	}
	msg.SetHeader("To", e.To)
	msg.SetHeader("Subject", e.Subject)
	msg.SetBody("text/plain", e.TextBody)
	if e.HTMLBody != "" {
		msg.AddAlternative("text/html", e.HTMLBody)
	}
	return msg
}

// Send delivers e. It blocks until the SMTP exchange finishes.
func (m *Mailer) Send(e Email) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	if e.To == "" {
		return errors.New("mailer: empty recipient")
	}
	if err := m.dialer.DialAndSend(m.message(e)); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", e.To, err)
	}
	m.log.Debug("email sent", zap.String("to", e.To), zap.String("subject", e.Subject))
	return nil
}

// SendContext is Send that gives up waiting when ctx is done. The SMTP
// exchange itself keeps running in the background until it finishes.
func (m *Mailer) SendContext(ctx context.Context, e Email) error {
	done := make(chan error, 1)
	go func() { done <- m.Send(e) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
