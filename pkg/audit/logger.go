package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/corpsec/device-trust/pkg/errors"
	"github.com/corpsec/device-trust/pkg/notify"
)

// Logger validates and appends audit rows. Severity and access results
// are checked before they reach the store; an out-of-enum value is a
// caller bug and fails fast.
type Logger struct {
	repository Repository
	notifier   notify.Notifier
}

// NewLogger creates a Logger on the given repository. A nil notifier
// disables alerting.
func NewLogger(repository Repository, notifier notify.Notifier) *Logger {
	if notifier == nil {
		notifier = notify.NewNoopNotifier()
	}
	return &Logger{
		repository: repository,
		notifier:   notifier,
	}
}

// LogAccess appends one access log row
func (l *Logger) LogAccess(ctx context.Context, entry AccessEntry) error {
	if entry.EmployeeID == "" {
		return errors.MissingRequired("employee_id")
	}
	if !entry.Result.Valid() {
		return errors.Newf(errors.ErrCodeValidationFailed, "unknown access result: %q", entry.Result)
	}
	if entry.AccessTime.IsZero() {
		entry.AccessTime = time.Now().UTC()
	}

	id, err := l.repository.InsertAccess(ctx, entry)
	if err != nil {
		slog.Error("Failed to log device access", "err", err, "employeeID", entry.EmployeeID)
		return err
	}
	slog.Debug("Logged device access", "id", id, "employeeID", entry.EmployeeID, "result", entry.Result)
	return nil
}

// LogEvent appends one security event row. CRITICAL events additionally
// trigger an alert; a notifier failure is logged, never propagated, so
// alerting cannot fail the access decision.
func (l *Logger) LogEvent(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.MissingRequired("event_type")
	}
	if !event.Severity.Valid() {
		return errors.Newf(errors.ErrCodeValidationFailed, "unknown severity: %q", event.Severity)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	id, err := l.repository.InsertEvent(ctx, event)
	if err != nil {
		slog.Error("Failed to log security event", "err", err, "eventType", event.Type)
		return err
	}
	slog.Info("Logged security event", "id", id, "eventType", event.Type, "severity", event.Severity)

	if event.Severity == SeverityCritical {
		alert := notify.Alert{
			Subject:    "CRITICAL security event: " + event.Type,
			Body:       event.Description,
			EmployeeID: event.EmployeeID,
			OccurredAt: event.CreatedAt,
		}
		if err := l.notifier.Send(ctx, alert); err != nil {
			slog.Error("Failed to send critical event alert", "err", err, "eventType", event.Type)
		}
	}
	return nil
}

// AccessHistory returns all access attempts for an employee, newest first
func (l *Logger) AccessHistory(ctx context.Context, employeeID string) ([]AccessEntry, error) {
	return l.repository.AccessHistory(ctx, employeeID)
}

// SecuritySummary aggregates security events over the last N days
func (l *Logger) SecuritySummary(ctx context.Context, days int) ([]SummaryRow, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return l.repository.SummarizeEvents(ctx, cutoff)
}
