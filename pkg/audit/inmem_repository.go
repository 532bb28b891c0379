package audit

import (
	"context"
	"sync"
	"time"
)

// InMemRepository is an in-memory Repository used by unit tests and the
// quick-start server. Rows are append-only, matching the store contract.
type InMemRepository struct {
	mu       sync.RWMutex
	nextID   int64
	accesses []AccessEntry
	events   []Event
}

// NewInMemRepository creates an empty in-memory audit repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{nextID: 1}
}

// InsertAccess appends one access log row
func (r *InMemRepository) InsertAccess(ctx context.Context, entry AccessEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = r.nextID
	r.nextID++
	r.accesses = append(r.accesses, entry)
	return entry.ID, nil
}

// InsertEvent appends one security event row
func (r *InMemRepository) InsertEvent(ctx context.Context, event Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event.ID = r.nextID
	r.nextID++
	r.events = append(r.events, event)
	return event.ID, nil
}

// AccessHistory returns all access attempts for an employee, newest first
func (r *InMemRepository) AccessHistory(ctx context.Context, employeeID string) ([]AccessEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []AccessEntry
	for i := len(r.accesses) - 1; i >= 0; i-- {
		if r.accesses[i].EmployeeID == employeeID {
			entries = append(entries, r.accesses[i])
		}
	}
	return entries, nil
}

// EventsSince returns security events created after the cutoff, newest first
func (r *InMemRepository) EventsSince(ctx context.Context, cutoff time.Time) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if !r.events[i].CreatedAt.Before(cutoff) {
			events = append(events, r.events[i])
		}
	}
	return events, nil
}

// SummarizeEvents aggregates events by type, severity and day since the cutoff
func (r *InMemRepository) SummarizeEvents(ctx context.Context, cutoff time.Time) ([]SummaryRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		eventType string
		severity  Severity
		date      string
	}
	counts := make(map[key]int)
	for _, event := range r.events {
		if event.CreatedAt.Before(cutoff) {
			continue
		}
		k := key{event.Type, event.Severity, event.CreatedAt.UTC().Format("2006-01-02")}
		counts[k]++
	}

	summary := make([]SummaryRow, 0, len(counts))
	for k, count := range counts {
		summary = append(summary, SummaryRow{
			EventType: k.eventType,
			Severity:  k.severity,
			Count:     count,
			Date:      k.date,
		})
	}
	return summary, nil
}
