package device

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/corpsec/device-trust/pkg/errors"
)

// DBTX is an interface that allows us to use either a database
// connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL, for
// deployments that back the engine with a shared relational server
// instead of the embedded store.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL device repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const pgRegistrationColumns = `
	id, employee_id, full_name, device_id, fingerprint_hash, status,
	security_score, registration_ip, user_agent, approved_by, approved_at,
	approval_reason, registered_at, last_login_at, last_login_ip`

// Create inserts a new registration
func (r *PostgresRepository) Create(ctx context.Context, registration Registration) (Registration, error) {
	if registration.RegisteredAt.IsZero() {
		registration.RegisteredAt = time.Now().UTC()
	}
	if registration.SecurityScore == 0 {
		registration.SecurityScore = ScoreInitial
	}

	query := `
		INSERT INTO device_registrations (
			employee_id, full_name, device_id, fingerprint_hash, status,
			security_score, registration_ip, user_agent, registered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	row := r.db.QueryRow(ctx, query,
		registration.EmployeeID, registration.FullName, registration.DeviceID,
		registration.FingerprintHash, string(registration.Status),
		registration.SecurityScore, registration.RegistrationIP,
		registration.UserAgent, registration.RegisteredAt,
	)
	if err := row.Scan(&registration.ID); err != nil {
		if isPgUniqueViolation(err) {
			slog.Debug("Duplicate registration", "employeeID", registration.EmployeeID, "deviceID", registration.DeviceID)
			return Registration{}, errors.New(errors.ErrCodeDuplicateRegistration,
				"employee or device already registered")
		}
		slog.Error("Failed to create registration", "err", err, "employeeID", registration.EmployeeID)
		return Registration{}, errors.StoreFailure(err, "failed to create registration")
	}

	return registration, nil
}

// GetByEmployeeID retrieves the registration for an employee
func (r *PostgresRepository) GetByEmployeeID(ctx context.Context, employeeID string) (Registration, error) {
	query := `SELECT ` + pgRegistrationColumns + `
		FROM device_registrations WHERE employee_id = $1`

	row := r.db.QueryRow(ctx, query, employeeID)
	registration, err := scanRegistration(row.Scan)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return Registration{}, errors.NotFound("registration", employeeID)
		}
		return Registration{}, errors.StoreFailure(err, "failed to get registration")
	}
	return registration, nil
}

// GetApproved retrieves an approved registration for the exact pair
func (r *PostgresRepository) GetApproved(ctx context.Context, employeeID, deviceID string) (Registration, error) {
	query := `SELECT ` + pgRegistrationColumns + `
		FROM device_registrations
		WHERE employee_id = $1 AND device_id = $2 AND status = 'approved'`

	row := r.db.QueryRow(ctx, query, employeeID, deviceID)
	registration, err := scanRegistration(row.Scan)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return Registration{}, errors.NotFound("approved registration", employeeID)
		}
		return Registration{}, errors.StoreFailure(err, "failed to get approved registration")
	}
	return registration, nil
}

// UpdateStatus moves a registration between statuses with a guard on
// the current status
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, from []Status, to Status, adminID, reason string) error {
	if len(from) == 0 {
		return errors.InvalidInput("from", "at least one current status is required")
	}

	placeholders := make([]string, len(from))
	args := []interface{}{string(to), adminID, time.Now().UTC(), reason, id}
	for i, status := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(status))
	}

	query := fmt.Sprintf(`
		UPDATE device_registrations
		SET status = $1, approved_by = $2, approved_at = $3, approval_reason = $4
		WHERE id = $5 AND status IN (%s)`, strings.Join(placeholders, ","))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return errors.StoreFailure(err, "failed to update status")
	}
	if result.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeConflict, "device %d not found or already processed", id)
	}
	return nil
}

// UpdateLastLogin records the time and IP of the latest successful login
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, employeeID string, at time.Time, ip string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE device_registrations
		SET last_login_at = $2, last_login_ip = $3
		WHERE employee_id = $1`,
		employeeID, at, ip)
	if err != nil {
		return errors.StoreFailure(err, "failed to update last login")
	}
	return nil
}

// DecaySecurityScore lowers the score by penalty, floored at 0
func (r *PostgresRepository) DecaySecurityScore(ctx context.Context, employeeID string, penalty int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE device_registrations
		SET security_score = GREATEST(0, security_score - $2)
		WHERE employee_id = $1`,
		employeeID, penalty)
	if err != nil {
		return errors.StoreFailure(err, "failed to decay security score")
	}
	return nil
}

// FindPending returns pending registrations matching the criteria,
// oldest first
func (r *PostgresRepository) FindPending(ctx context.Context, criteria Criteria, limit int) ([]Registration, error) {
	query := `SELECT ` + pgRegistrationColumns + `
		FROM device_registrations WHERE status = 'pending'`
	var args []interface{}

	if criteria.Department != "" {
		pattern := "%" + criteria.Department + "%"
		args = append(args, pattern)
		query += fmt.Sprintf(` AND (full_name LIKE $%d OR employee_id LIKE $%d)`, len(args), len(args))
	}
	if !criteria.DateFrom.IsZero() {
		args = append(args, criteria.DateFrom)
		query += fmt.Sprintf(` AND registered_at >= $%d`, len(args))
	}
	if !criteria.DateTo.IsZero() {
		args = append(args, criteria.DateTo)
		query += fmt.Sprintf(` AND registered_at <= $%d`, len(args))
	}
	if criteria.IPRange != "" {
		args = append(args, criteria.IPRange+"%")
		query += fmt.Sprintf(` AND registration_ip LIKE $%d`, len(args))
	}

	query += ` ORDER BY registered_at ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.StoreFailure(err, "failed to find pending registrations")
	}
	defer rows.Close()

	var registrations []Registration
	for rows.Next() {
		registration, err := scanRegistration(rows.Scan)
		if err != nil {
			return nil, errors.StoreFailure(err, "failed to scan registration")
		}
		registrations = append(registrations, registration)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreFailure(err, "error iterating over registrations")
	}
	return registrations, nil
}

// CountByStatus returns the number of registrations per status
func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM device_registrations GROUP BY status`)
	if err != nil {
		return nil, errors.StoreFailure(err, "failed to count registrations")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.StoreFailure(err, "failed to scan count")
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreFailure(err, "error iterating over counts")
	}
	return counts, nil
}

// isPgUniqueViolation detects a PostgreSQL unique-constraint failure
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
