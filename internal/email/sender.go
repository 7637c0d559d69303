package email

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"greendrake/offerdesk/internal/config"
)

// Sender transmits a fully composed RFC 5322 message.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender delivers through an SMTP relay with optional PLAIN auth.
type SMTPSender struct {
	addr     string
	from     string
	auth     sasl.Client
	implicit bool
}

// NewSMTPSender returns an SMTP sender, or a LoggingSender when no host is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		log.Println("SMTP host not configured, using logging email sender.")
		return &LoggingSender{from: cfg.SmtpFromAddress}
	}

	var auth sasl.Client
	if cfg.SmtpUsername != "" {
		auth = sasl.NewPlainClient("", cfg.SmtpUsername, cfg.SmtpPassword)
	}

	return &SMTPSender{
		addr:     cfg.SmtpAddr(),
		from:     cfg.SmtpFromAddress,
		auth:     auth,
		implicit: cfg.SmtpPort == 465,
	}
}

// Send relays rawMessage. STARTTLS is used when the server offers it.
func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if s.implicit {
		err = smtp.SendMailTLS(s.addr, s.auth, s.from, to, bytes.NewReader(rawMessage))
	} else {
		err = smtp.SendMail(s.addr, s.auth, s.from, to, bytes.NewReader(rawMessage))
	}
	if err != nil {
		log.Printf("Failed to send email via SMTP to %v: %v", to, err)
		return fmt.Errorf("smtp error: %w", err)
	}
	log.Printf("Email sent via SMTP to %v (Subject: %s)", to, subject)
	return nil
}

// LoggingSender logs messages instead of sending them.
type LoggingSender struct {
	from string
}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	log.Printf("--- Sending Email (Logged) ---")
	log.Printf("From: %s To: %v Subject: %s", s.from, to, subject)
	log.Println(string(rawMessage))
	log.Println("--- End Email ---")
	return nil
}
