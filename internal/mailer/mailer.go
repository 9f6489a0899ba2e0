// Package mailer delivers one-time codes over SMTP.
package mailer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"eventgate/internal/config"
	"eventgate/internal/util"
)

// Sender delivers a one-time code to an email address. Implementations must
// respect the context deadline; a code whose delivery fails is still live
// until it expires.
type Sender interface {
	SendOTP(ctx context.Context, email, code string, ttl time.Duration) error
}

// SMTPSender sends codes through a configured SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg *config.Config) *SMTPSender {
	smtpConfig := cfg.SMTP

	dialer := gomail.NewDialer(
		smtpConfig.Host,
		smtpConfig.Port,
		smtpConfig.Username,
		smtpConfig.Password,
	)

	util.Info("SMTP sender initialized",
		zap.String("host", smtpConfig.Host),
		zap.Int("port", smtpConfig.Port),
		zap.String("from", smtpConfig.From),
	)

	return &SMTPSender{
		dialer: dialer,
		from:   smtpConfig.From,
	}
}

func (s *SMTPSender) SendOTP(ctx context.Context, email, code string, ttl time.Duration) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Your sign-in code")
	m.SetBody("text/plain", fmt.Sprintf(
		"Your sign-in code is %s.\n\nIt expires in %d minutes. If you did not request it, ignore this message.\n",
		code, int(ttl.Minutes()),
	))

	// DialAndSend has no context support, so run it on the side and race the
	// deadline. A send that loses the race keeps running but its outcome no
	// longer matters to the caller.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send code email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("code email delivery timed out: %w", ctx.Err())
	}
}
