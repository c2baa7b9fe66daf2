// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers one-time sign-in codes.
package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/i18n"
	"codeberg.org/counselpoint/authcore/internal/templates"
	"github.com/wneessen/go-mail"
)

// SMTPNotifier sends one-time codes by email.
type SMTPNotifier struct {
	cfg     *config.SMTPConfig
	appName string
	now     func() time.Time
	send    func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPNotifier creates a notifier delivering through the configured SMTP server.
func NewSMTPNotifier(cfg *config.SMTPConfig, appName string) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}
	switch cfg.TLS {
	case "", "starttls", "tls", "none":
	default:
		return nil, fmt.Errorf("unknown SMTP TLS policy %q", cfg.TLS)
	}

	n := &SMTPNotifier{cfg: cfg, appName: appName, now: time.Now}
	n.send = n.dialAndSend
	return n, nil
}

// SendCode mails code to the recipient, localized for the context locale.
func (n *SMTPNotifier) SendCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	msg, err := n.buildMessage(ctx, to, code, minutesUntil(n.now(), expiresAt))
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func (n *SMTPNotifier) buildMessage(ctx context.Context, to, code string, minutes int) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if n.cfg.FromName != "" {
		if err := msg.FromFormat(n.cfg.FromName, n.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	data := map[string]any{"Code": code, "AppName": n.appName}
	content := templates.OTPEmail{
		Lang:      i18n.Locale(ctx),
		Greeting:  i18n.T(ctx, i18n.MsgOTPGreeting),
		Body:      i18n.TData(ctx, i18n.MsgOTPBody, data),
		Code:      code,
		Expiry:    i18n.TPlural(ctx, i18n.MsgOTPExpiry, minutes, nil),
		Ignore:    i18n.T(ctx, i18n.MsgOTPIgnore),
		Signature: i18n.TData(ctx, i18n.MsgOTPSignature, data),
	}

	msg.Subject(i18n.TData(ctx, i18n.MsgOTPSubject, data))
	msg.SetBodyString(mail.TypeTextPlain, plainBody(content))

	var html bytes.Buffer
	if err := templates.OTPEmailHTML(content).Render(ctx, &html); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}
	msg.AddAlternativeString(mail.TypeTextHTML, html.String())

	return msg, nil
}

func plainBody(c templates.OTPEmail) string {
	return fmt.Sprintf("%s\n\n%s\n\n    %s\n\n%s\n%s\n\n%s\n",
		c.Greeting, c.Body, c.Code, c.Expiry, c.Ignore, c.Signature)
}

func (n *SMTPNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
	}

	switch n.cfg.TLS {
	case "tls":
		opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	if n.cfg.Username != "" && n.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// minutesUntil returns the whole minutes left until t, rounded up.
func minutesUntil(now, t time.Time) int {
	m := int(math.Ceil(t.Sub(now).Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

// LogNotifier writes codes to the log instead of sending them.
// It is used when no SMTP server is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// SendCode logs the code.
func (n LogNotifier) SendCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "otp code (log delivery)",
		"email", to,
		"code", code,
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}
