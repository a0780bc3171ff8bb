package mail

import (
	"context"
	"log"
	"net/smtp"
	"strings"
)

// Mailer delivers the raw reset token out-of-band. Delivery is
// fire-and-forget from the caller's point of view: a send failure is logged
// by the orchestrator, never propagated to the requester.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// SMTPMailer sends plain-text mail over SMTP.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTP(addr, user, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if user != "" || password != "" {
		auth = smtp.PlainAuth("", user, password, host(addr))
	}
	return &SMTPMailer{addr: addr, auth: auth, from: from}
}

func (m *SMTPMailer) SendPasswordReset(_ context.Context, email, resetURL string) error {
	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + email + "\r\n" +
			"Subject: Password reset\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"A password reset was requested for your account.\r\n" +
			"Follow this link to set a new password:\r\n\r\n" +
			resetURL + "\r\n\r\n" +
			"If you did not request this, you can ignore this email.\r\n")

	return smtp.SendMail(m.addr, m.auth, m.from, []string{email}, msg)
}

// DevConsoleMailer logs reset links instead of sending them; local runs only.
type DevConsoleMailer struct {
	enabled bool
}

func NewDevConsoleMailer(enabled bool) *DevConsoleMailer {
	return &DevConsoleMailer{enabled: enabled}
}

func (m *DevConsoleMailer) SendPasswordReset(_ context.Context, email, resetURL string) error {
	if m.enabled {
		log.Printf("[DEV-EMAIL] password reset email=%s url=%s", email, resetURL)
	}
	return nil
}

func host(addr string) string {
	if i := strings.Index(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
