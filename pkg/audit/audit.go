// Package audit appends immutable access-log and security-event rows.
// Neither log is ever updated or deleted in normal operation; only the
// retention purge in pkg/store removes rows past the configured horizon.
package audit

import (
	"time"
)

// AccessResult is the outcome recorded for one access attempt
type AccessResult string

const (
	AccessSuccess       AccessResult = "success"
	AccessBlocked       AccessResult = "blocked"
	AccessPending       AccessResult = "pending"
	AccessDriftDetected AccessResult = "drift_detected"
)

// Valid reports whether the access result is one of the known values
func (r AccessResult) Valid() bool {
	switch r {
	case AccessSuccess, AccessBlocked, AccessPending, AccessDriftDetected:
		return true
	}
	return false
}

// Severity of a security event. Derived deterministically from the
// triggering condition, never freely chosen by the caller.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether the severity is one of the known values
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Security event types emitted by the engine
const (
	EventDeviceRegistered    = "DEVICE_REGISTERED"
	EventFingerprintDrift    = "FINGERPRINT_DRIFT"
	EventFingerprintMismatch = "FINGERPRINT_MISMATCH"
	EventBulkApproval        = "BULK_DEVICE_APPROVAL"
	EventBulkRejection       = "BULK_DEVICE_REJECTION"
)

// AccessEntry is one row in the device access log
type AccessEntry struct {
	ID              int64        `json:"id"`
	EmployeeID      string       `json:"employee_id"`
	FingerprintHash string       `json:"fingerprint_hash"`
	Result          AccessResult `json:"access_result"`
	IPAddress       string       `json:"ip_address"`
	UserAgent       string       `json:"user_agent"`
	SecurityNotes   string       `json:"security_notes,omitempty"`
	AccessTime      time.Time    `json:"access_time"`
}

// Event is one row in the security event log. EmployeeID is empty for
// system-wide events.
type Event struct {
	ID          int64                  `json:"id"`
	Type        string                 `json:"event_type"`
	Severity    Severity               `json:"severity"`
	EmployeeID  string                 `json:"employee_id,omitempty"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SummaryRow is one line of the aggregated security report
type SummaryRow struct {
	EventType string   `json:"event_type"`
	Severity  Severity `json:"severity"`
	Count     int      `json:"count"`
	Date      string   `json:"date"`
}
