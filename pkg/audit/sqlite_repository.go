package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corpsec/device-trust/pkg/store"
)

// SqliteRepository implements Repository on the shared store adapter
type SqliteRepository struct {
	store *store.Store
}

// NewSqliteRepository creates a sqlite-backed audit repository
func NewSqliteRepository(s *store.Store) *SqliteRepository {
	return &SqliteRepository{store: s}
}

// InsertAccess appends one access log row
func (r *SqliteRepository) InsertAccess(ctx context.Context, entry AccessEntry) (int64, error) {
	res, err := r.store.Run(ctx, `
		INSERT INTO device_access_logs (
			employee_id, fingerprint_hash, access_result,
			ip_address, user_agent, security_notes, access_time
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EmployeeID, entry.FingerprintHash, string(entry.Result),
		entry.IPAddress, entry.UserAgent, entry.SecurityNotes, entry.AccessTime,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// InsertEvent appends one security event row
func (r *SqliteRepository) InsertEvent(ctx context.Context, event Event) (int64, error) {
	details, err := marshalDetails(event.Details)
	if err != nil {
		return 0, err
	}

	res, err := r.store.Run(ctx, `
		INSERT INTO security_events (
			event_type, severity, employee_id, description, details, ip_address, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Type, string(event.Severity), nullable(event.EmployeeID),
		event.Description, details, nullable(event.IPAddress), event.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// AccessHistory returns all access attempts for an employee, newest first
func (r *SqliteRepository) AccessHistory(ctx context.Context, employeeID string) ([]AccessEntry, error) {
	var entries []AccessEntry
	err := r.store.All(ctx, `
		SELECT id, employee_id, fingerprint_hash, access_result,
		       ip_address, user_agent, security_notes, access_time
		FROM device_access_logs
		WHERE employee_id = ?
		ORDER BY access_time DESC`,
		[]interface{}{employeeID},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var entry AccessEntry
				var result string
				var hash, ip, ua, notes sql.NullString
				if err := rows.Scan(&entry.ID, &entry.EmployeeID, &hash, &result,
					&ip, &ua, &notes, &entry.AccessTime); err != nil {
					return err
				}
				entry.Result = AccessResult(result)
				entry.FingerprintHash = hash.String
				entry.IPAddress = ip.String
				entry.UserAgent = ua.String
				entry.SecurityNotes = notes.String
				entries = append(entries, entry)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EventsSince returns security events created after the cutoff, newest first
func (r *SqliteRepository) EventsSince(ctx context.Context, cutoff time.Time) ([]Event, error) {
	var events []Event
	err := r.store.All(ctx, `
		SELECT id, event_type, severity, employee_id, description, details, ip_address, created_at
		FROM security_events
		WHERE created_at >= ?
		ORDER BY created_at DESC`,
		[]interface{}{cutoff},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var event Event
				var severity string
				var employeeID, description, details, ip sql.NullString
				if err := rows.Scan(&event.ID, &event.Type, &severity, &employeeID,
					&description, &details, &ip, &event.CreatedAt); err != nil {
					return err
				}
				event.Severity = Severity(severity)
				event.EmployeeID = employeeID.String
				event.Description = description.String
				event.IPAddress = ip.String
				if details.Valid && details.String != "" {
					if err := json.Unmarshal([]byte(details.String), &event.Details); err != nil {
						return fmt.Errorf("failed to unmarshal event details: %w", err)
					}
				}
				events = append(events, event)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SummarizeEvents aggregates events by type, severity and day since the cutoff
func (r *SqliteRepository) SummarizeEvents(ctx context.Context, cutoff time.Time) ([]SummaryRow, error) {
	var summary []SummaryRow
	err := r.store.All(ctx, `
		SELECT event_type, severity, COUNT(*) as count, DATE(created_at) as date
		FROM security_events
		WHERE created_at >= ?
		GROUP BY event_type, severity, DATE(created_at)
		ORDER BY date DESC`,
		[]interface{}{cutoff},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var row SummaryRow
				var severity string
				if err := rows.Scan(&row.EventType, &severity, &row.Count, &row.Date); err != nil {
					return err
				}
				row.Severity = Severity(severity)
				summary = append(summary, row)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func marshalDetails(details map[string]interface{}) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event details: %w", err)
	}
	return string(raw), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
