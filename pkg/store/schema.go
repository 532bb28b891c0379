package store

import "context"

// Schema for the three device-trust tables. Statuses, access results
// and severities are validated in Go before they reach the store, so
// the columns stay plain TEXT.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS device_registrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		device_id TEXT NOT NULL UNIQUE,
		fingerprint_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		security_score INTEGER NOT NULL DEFAULT 100,
		registration_ip TEXT,
		user_agent TEXT,
		approved_by TEXT,
		approved_at DATETIME,
		approval_reason TEXT,
		registered_at DATETIME NOT NULL,
		last_login_at DATETIME,
		last_login_ip TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS device_access_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id TEXT NOT NULL,
		fingerprint_hash TEXT,
		access_result TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		security_notes TEXT,
		access_time DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS security_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		employee_id TEXT,
		description TEXT,
		details TEXT,
		ip_address TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_status ON device_registrations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_registered ON device_registrations(registered_at)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_employee ON device_access_logs(employee_id)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_time ON device_access_logs(access_time)`,
	`CREATE INDEX IF NOT EXISTS idx_events_severity ON security_events(severity)`,
	`CREATE INDEX IF NOT EXISTS idx_events_created ON security_events(created_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.Run(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
