package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// EmailConfig holds the SMTP settings for the email notifier
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	TLS      bool
}

// EmailNotifier sends alerts over SMTP
type EmailNotifier struct {
	client *mail.Client
	from   string
	to     string
}

// NewEmailNotifier creates an EmailNotifier from the given config
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30 * time.Second),
	}

	if config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if config.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &EmailNotifier{
		client: client,
		from:   config.From,
		to:     config.To,
	}, nil
}

// Send delivers one alert email
func (n *EmailNotifier) Send(ctx context.Context, alert Alert) error {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(n.to); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}

	msg.Subject(alert.Subject)
	body := alert.Body
	if alert.EmployeeID != "" {
		body = fmt.Sprintf("%s\n\nEmployee: %s", body, alert.EmployeeID)
	}
	body = fmt.Sprintf("%s\nOccurred: %s", body, alert.OccurredAt.Format(time.RFC3339))
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	slog.Info("Sent security alert email", "subject", alert.Subject, "to", n.to)
	return nil
}
