// Package notify delivers security alerts to administrators.
package notify

import (
	"context"
	"time"
)

// Alert describes a security condition worth an administrator's
// immediate attention.
type Alert struct {
	Subject    string
	Body       string
	EmployeeID string
	OccurredAt time.Time
}

// Notifier delivers alerts. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// NoopNotifier discards all alerts. Used when alerting is disabled.
type NoopNotifier struct{}

// NewNoopNotifier creates a notifier that does nothing
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

// Send discards the alert
func (n *NoopNotifier) Send(ctx context.Context, alert Alert) error {
	return nil
}
