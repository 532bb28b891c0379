package device

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corpsec/device-trust/pkg/errors"
	"github.com/corpsec/device-trust/pkg/store"
)

// SqliteRepository implements Repository on the shared store adapter.
// All writes go through the adapter; this package never holds its own
// database handle.
type SqliteRepository struct {
	store *store.Store
}

// NewSqliteRepository creates a sqlite-backed device repository
func NewSqliteRepository(s *store.Store) *SqliteRepository {
	return &SqliteRepository{store: s}
}

const registrationColumns = `
	id, employee_id, full_name, device_id, fingerprint_hash, status,
	security_score, registration_ip, user_agent, approved_by, approved_at,
	approval_reason, registered_at, last_login_at, last_login_ip`

// Create inserts a new registration. A unique violation on employee_id
// or device_id is returned as ErrCodeDuplicateRegistration.
func (r *SqliteRepository) Create(ctx context.Context, registration Registration) (Registration, error) {
	if registration.RegisteredAt.IsZero() {
		registration.RegisteredAt = time.Now().UTC()
	}
	if registration.SecurityScore == 0 {
		registration.SecurityScore = ScoreInitial
	}

	res, err := r.store.Run(ctx, `
		INSERT INTO device_registrations (
			employee_id, full_name, device_id, fingerprint_hash, status,
			security_score, registration_ip, user_agent, registered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		registration.EmployeeID, registration.FullName, registration.DeviceID,
		registration.FingerprintHash, string(registration.Status),
		registration.SecurityScore, registration.RegistrationIP,
		registration.UserAgent, registration.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Debug("Duplicate registration", "employeeID", registration.EmployeeID, "deviceID", registration.DeviceID)
			return Registration{}, errors.New(errors.ErrCodeDuplicateRegistration,
				"employee or device already registered")
		}
		return Registration{}, err
	}

	registration.ID = res.LastInsertID
	slog.Debug("Registration created", "id", registration.ID, "employeeID", registration.EmployeeID)
	return registration, nil
}

// GetByEmployeeID retrieves the registration for an employee
func (r *SqliteRepository) GetByEmployeeID(ctx context.Context, employeeID string) (Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM device_registrations WHERE employee_id = ?`

	registration, err := r.getOne(ctx, query, employeeID)
	if err == store.ErrNoRows {
		return Registration{}, errors.NotFound("registration", employeeID)
	}
	return registration, err
}

// GetApproved retrieves an approved registration for the exact pair
func (r *SqliteRepository) GetApproved(ctx context.Context, employeeID, deviceID string) (Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM device_registrations
		WHERE employee_id = ? AND device_id = ? AND status = 'approved'`

	registration, err := r.getOne(ctx, query, employeeID, deviceID)
	if err == store.ErrNoRows {
		return Registration{}, errors.NotFound("approved registration", employeeID)
	}
	return registration, err
}

// UpdateStatus moves a registration between statuses with a guard on
// the current status, so concurrent admin actions surface as conflicts
// instead of silently double-applying.
func (r *SqliteRepository) UpdateStatus(ctx context.Context, id int64, from []Status, to Status, adminID, reason string) error {
	if len(from) == 0 {
		return errors.InvalidInput("from", "at least one current status is required")
	}

	placeholders := make([]string, len(from))
	args := []interface{}{string(to), adminID, time.Now().UTC(), reason, id}
	for i, status := range from {
		placeholders[i] = "?"
		args = append(args, string(status))
	}

	query := fmt.Sprintf(`
		UPDATE device_registrations
		SET status = ?, approved_by = ?, approved_at = ?, approval_reason = ?
		WHERE id = ? AND status IN (%s)`, strings.Join(placeholders, ","))

	res, err := r.store.Run(ctx, query, args...)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return errors.Newf(errors.ErrCodeConflict, "device %d not found or already processed", id)
	}
	return nil
}

// UpdateLastLogin records the time and IP of the latest successful login
func (r *SqliteRepository) UpdateLastLogin(ctx context.Context, employeeID string, at time.Time, ip string) error {
	_, err := r.store.Run(ctx, `
		UPDATE device_registrations
		SET last_login_at = ?, last_login_ip = ?
		WHERE employee_id = ?`,
		at, ip, employeeID)
	return err
}

// DecaySecurityScore lowers the score by penalty, floored at 0
func (r *SqliteRepository) DecaySecurityScore(ctx context.Context, employeeID string, penalty int) error {
	_, err := r.store.Run(ctx, `
		UPDATE device_registrations
		SET security_score = MAX(0, security_score - ?)
		WHERE employee_id = ?`,
		penalty, employeeID)
	return err
}

// FindPending returns pending registrations matching the criteria,
// oldest first so long-waiting requests are prioritized.
func (r *SqliteRepository) FindPending(ctx context.Context, criteria Criteria, limit int) ([]Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM device_registrations WHERE status = 'pending'`
	var args []interface{}

	if criteria.Department != "" {
		query += ` AND (full_name LIKE ? OR employee_id LIKE ?)`
		pattern := "%" + criteria.Department + "%"
		args = append(args, pattern, pattern)
	}
	if !criteria.DateFrom.IsZero() {
		query += ` AND registered_at >= ?`
		args = append(args, criteria.DateFrom)
	}
	if !criteria.DateTo.IsZero() {
		query += ` AND registered_at <= ?`
		args = append(args, criteria.DateTo)
	}
	if criteria.IPRange != "" {
		query += ` AND registration_ip LIKE ?`
		args = append(args, criteria.IPRange+"%")
	}

	query += ` ORDER BY registered_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var registrations []Registration
	err := r.store.All(ctx, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			registration, err := scanRegistration(rows.Scan)
			if err != nil {
				return err
			}
			registrations = append(registrations, registration)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return registrations, nil
}

// CountByStatus returns the number of registrations per status
func (r *SqliteRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	counts := make(map[Status]int)
	err := r.store.All(ctx,
		`SELECT status, COUNT(*) FROM device_registrations GROUP BY status`,
		nil,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var status string
				var count int
				if err := rows.Scan(&status, &count); err != nil {
					return err
				}
				counts[Status(status)] = count
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *SqliteRepository) getOne(ctx context.Context, query string, args ...interface{}) (Registration, error) {
	var registration Registration
	err := r.store.Get(ctx, query, args, func(row *sql.Row) error {
		var err error
		registration, err = scanRegistration(row.Scan)
		return err
	})
	return registration, err
}

// scanRegistration scans one registration row through either a *sql.Row
// or *sql.Rows Scan function.
func scanRegistration(scan func(dest ...interface{}) error) (Registration, error) {
	var registration Registration
	var status string
	var registrationIP, userAgent, approvedBy, approvalReason, lastLoginIP sql.NullString
	var approvedAt, lastLoginAt sql.NullTime

	err := scan(
		&registration.ID,
		&registration.EmployeeID,
		&registration.FullName,
		&registration.DeviceID,
		&registration.FingerprintHash,
		&status,
		&registration.SecurityScore,
		&registrationIP,
		&userAgent,
		&approvedBy,
		&approvedAt,
		&approvalReason,
		&registration.RegisteredAt,
		&lastLoginAt,
		&lastLoginIP,
	)
	if err != nil {
		return Registration{}, err
	}

	registration.Status = Status(status)
	registration.RegistrationIP = registrationIP.String
	registration.UserAgent = userAgent.String
	registration.ApprovedBy = approvedBy.String
	registration.ApprovalReason = approvalReason.String
	registration.LastLoginIP = lastLoginIP.String
	if approvedAt.Valid {
		t := approvedAt.Time
		registration.ApprovedAt = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		registration.LastLoginAt = &t
	}
	return registration, nil
}

// isUniqueViolation detects a sqlite unique-constraint failure through
// the store's error wrapping.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
