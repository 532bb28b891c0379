package device

import (
	"context"
	"time"
)

// Status is the lifecycle gate on whether a registered device may
// access the platform.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusBlocked  Status = "blocked"
	StatusDrift    Status = "drift"
)

// Valid reports whether the status is one of the known values
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusBlocked, StatusDrift:
		return true
	}
	return false
}

// Security score penalties applied on drift and mismatch events.
// The score starts at 100 and never goes below 0.
const (
	ScoreInitial         = 100
	ScorePenaltyDrift    = 10
	ScorePenaltyMismatch = 25
)

// Registration is one (employee, device) trust record. The raw
// fingerprint is never stored; only its peppered hash is.
type Registration struct {
	ID              int64      `json:"id"`
	EmployeeID      string     `json:"employee_id"`
	FullName        string     `json:"full_name"`
	DeviceID        string     `json:"device_id"`
	FingerprintHash string     `json:"-"`
	Status          Status     `json:"status"`
	SecurityScore   int        `json:"security_score"`
	RegistrationIP  string     `json:"registration_ip,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovalReason  string     `json:"approval_reason,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP     string     `json:"last_login_ip,omitempty"`
}

// Criteria filters pending devices for bulk operations and reports.
// Department is a substring match on full name or employee ID, IPRange
// a prefix match on the registration IP. Zero time values disable the
// date bounds.
type Criteria struct {
	Department string
	DateFrom   time.Time
	DateTo     time.Time
	IPRange    string
}

// Repository defines the storage contract for device registrations.
// Implementations map unique-constraint violations on employee_id or
// device_id to ErrCodeDuplicateRegistration and absence to
// ErrCodeNotFound so the engine never sees raw driver errors.
type Repository interface {
	Create(ctx context.Context, registration Registration) (Registration, error)
	GetByEmployeeID(ctx context.Context, employeeID string) (Registration, error)

	// GetApproved looks up an approved registration for the exact
	// (employee, device) pair.
	GetApproved(ctx context.Context, employeeID, deviceID string) (Registration, error)

	// UpdateStatus moves a registration to a new status only when its
	// current status is one of from. Returns ErrCodeConflict when the
	// guard matches no row (already processed, or never existed).
	UpdateStatus(ctx context.Context, id int64, from []Status, to Status, adminID, reason string) error

	UpdateLastLogin(ctx context.Context, employeeID string, at time.Time, ip string) error

	// DecaySecurityScore lowers the score by penalty, floored at 0
	DecaySecurityScore(ctx context.Context, employeeID string, penalty int) error

	// FindPending returns pending registrations matching the criteria,
	// oldest first, capped at limit (0 means no cap).
	FindPending(ctx context.Context, criteria Criteria, limit int) ([]Registration, error)

	CountByStatus(ctx context.Context) (map[Status]int, error)
}
