package audit

import (
	"context"
	"time"
)

// Repository defines the append-only storage contract for audit rows.
// There are deliberately no update or delete operations.
type Repository interface {
	InsertAccess(ctx context.Context, entry AccessEntry) (int64, error)
	InsertEvent(ctx context.Context, event Event) (int64, error)

	// AccessHistory returns all access attempts for an employee,
	// newest first.
	AccessHistory(ctx context.Context, employeeID string) ([]AccessEntry, error)

	// EventsSince returns security events created after the cutoff,
	// newest first.
	EventsSince(ctx context.Context, cutoff time.Time) ([]Event, error)

	// SummarizeEvents aggregates events by type, severity and day
	// since the cutoff.
	SummarizeEvents(ctx context.Context, cutoff time.Time) ([]SummaryRow, error)
}
