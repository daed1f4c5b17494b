// Package mailer submits notification emails with the filtered spreadsheet
// attached.
package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"zakupbot/internal/config"
)

// SMTP sends mail through a single configured SMTP account using STARTTLS.
type SMTP struct {
	host     string
	port     int
	sender   string
	password string
}

// New creates an SMTP mailer from configuration.
func New(cfg config.SMTPConfig) *SMTP {
	return &SMTP{
		host:     cfg.Host,
		port:     cfg.Port,
		sender:   cfg.Sender,
		password: cfg.Password,
	}
}

// Send delivers a plain-text message with one file attached.
func (s *SMTP) Send(ctx context.Context, to, subject, body, attachmentPath string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.sender); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	// Attachment read errors surface on send.
	msg.AttachFile(attachmentPath)

	client, err := mail.NewClient(s.host,
		mail.WithPort(s.port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(s.sender),
		mail.WithPassword(s.password),
	)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
