package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpsec/device-trust/pkg/audit"
	"github.com/corpsec/device-trust/pkg/errors"
	"github.com/corpsec/device-trust/pkg/fingerprint"
)

// Validation reasons beyond the fingerprint classification labels
const (
	ReasonNotRegistered = "DEVICE_NOT_REGISTERED"
	ReasonNotApproved   = "DEVICE_NOT_APPROVED"
)

// SystemActor is recorded as the acting admin for automatic transitions
const SystemActor = "system"

// RequestContext carries the caller-observed network attributes of an
// access attempt.
type RequestContext struct {
	IP        string
	UserAgent string
}

// RegisterParams are the inputs to Register
type RegisterParams struct {
	EmployeeID  string
	FullName    string
	DeviceID    string
	Fingerprint string // raw fingerprint, hashed before storage
	Context     RequestContext
}

// RegisterResult reports a successful registration
type RegisterResult struct {
	RegistrationID int64  `json:"registration_id"`
	Status         Status `json:"status"`
}

// ValidationResult is the policy outcome of a fingerprint check. Drift
// and mismatch are results, not errors; only infrastructure failures
// propagate as errors.
type ValidationResult struct {
	Valid       bool    `json:"valid"`
	Reason      string  `json:"reason"`
	Similarity  float64 `json:"similarity,omitempty"`
	RequiresMFA bool    `json:"requires_mfa,omitempty"`
	Status      Status  `json:"status,omitempty"` // current status when not approved
}

// Options holds registration engine policy settings
type Options struct {
	// AutoApprove registers devices directly as approved instead of
	// pending admin review
	AutoApprove bool
}

// Service is the device registration engine. It owns the decision
// logic; all persistence goes through the injected repository and all
// audit rows through the injected logger.
type Service struct {
	repository  Repository
	hasher      *fingerprint.Hasher
	auditLogger *audit.Logger
	options     Options
}

// NewService creates a registration engine
func NewService(repository Repository, hasher *fingerprint.Hasher, auditLogger *audit.Logger, options Options) *Service {
	return &Service{
		repository:  repository,
		hasher:      hasher,
		auditLogger: auditLogger,
		options:     options,
	}
}

// Register creates a new device registration. The raw fingerprint is
// hashed with the process pepper before it touches the store. A
// concurrent duplicate is a normal, expected error
// (ErrCodeDuplicateRegistration), not a fatal one.
func (s *Service) Register(ctx context.Context, params RegisterParams) (RegisterResult, error) {
	if params.EmployeeID == "" {
		return RegisterResult{}, errors.MissingRequired("employee_id")
	}
	if params.DeviceID == "" {
		return RegisterResult{}, errors.MissingRequired("device_id")
	}
	if params.Fingerprint == "" {
		return RegisterResult{}, errors.MissingRequired("fingerprint")
	}

	status := StatusPending
	if s.options.AutoApprove {
		status = StatusApproved
	}

	hash := s.hasher.Hash(params.Fingerprint)
	registration, err := s.repository.Create(ctx, Registration{
		EmployeeID:      params.EmployeeID,
		FullName:        params.FullName,
		DeviceID:        params.DeviceID,
		FingerprintHash: hash,
		Status:          status,
		SecurityScore:   ScoreInitial,
		RegistrationIP:  params.Context.IP,
		UserAgent:       params.Context.UserAgent,
		RegisteredAt:    time.Now().UTC(),
	})
	if err != nil {
		return RegisterResult{}, err
	}

	// Logged after the insert it describes
	if err := s.auditLogger.LogEvent(ctx, audit.Event{
		Type:        audit.EventDeviceRegistered,
		Severity:    audit.SeverityMedium,
		EmployeeID:  params.EmployeeID,
		Description: fmt.Sprintf("Device registered for %s", params.FullName),
		Details: map[string]interface{}{
			"device_id":        params.DeviceID,
			"fingerprint_hash": hash[:16],
			"status":           string(status),
		},
		IPAddress: params.Context.IP,
	}); err != nil {
		return RegisterResult{}, err
	}

	slog.Info("Device registered", "employeeID", params.EmployeeID, "deviceID", params.DeviceID, "status", status)
	return RegisterResult{RegistrationID: registration.ID, Status: status}, nil
}

// ValidateFingerprint checks a presented fingerprint against the stored
// hash and applies the drift decision table. Exactly one access log row
// is appended per call, after the decision is finalized.
func (s *Service) ValidateFingerprint(ctx context.Context, employeeID, rawFingerprint string, reqCtx RequestContext) (ValidationResult, error) {
	if employeeID == "" {
		return ValidationResult{}, errors.MissingRequired("employee_id")
	}
	if rawFingerprint == "" {
		return ValidationResult{}, errors.MissingRequired("fingerprint")
	}

	presented := s.hasher.Hash(rawFingerprint)

	registration, err := s.repository.GetByEmployeeID(ctx, employeeID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			// Distinct from mismatch: the caller should route to the
			// registration flow, not drift handling.
			result := ValidationResult{Valid: false, Reason: ReasonNotRegistered}
			return result, s.logAccess(ctx, employeeID, presented, audit.AccessBlocked, reqCtx,
				"no registration on file")
		}
		return ValidationResult{}, err
	}

	if registration.Status != StatusApproved {
		result := ValidationResult{
			Valid:  false,
			Reason: ReasonNotApproved,
			Status: registration.Status,
		}
		return result, s.logAccess(ctx, employeeID, presented, accessResultForStatus(registration.Status), reqCtx,
			fmt.Sprintf("registration status is %s", registration.Status))
	}

	classification := fingerprint.Classify(registration.FingerprintHash, presented)

	switch classification.Match {
	case fingerprint.MatchExact:
		if err := s.repository.UpdateLastLogin(ctx, employeeID, time.Now().UTC(), reqCtx.IP); err != nil {
			return ValidationResult{}, err
		}
		result := ValidationResult{Valid: true, Reason: string(fingerprint.MatchExact)}
		return result, s.logAccess(ctx, employeeID, presented, audit.AccessSuccess, reqCtx, "")

	case fingerprint.MatchMinor:
		if err := s.repository.UpdateLastLogin(ctx, employeeID, time.Now().UTC(), reqCtx.IP); err != nil {
			return ValidationResult{}, err
		}
		if err := s.auditLogger.LogEvent(ctx, audit.Event{
			Type:        audit.EventFingerprintDrift,
			Severity:    audit.SeverityLow,
			EmployeeID:  employeeID,
			Description: fmt.Sprintf("Minor device fingerprint drift detected (%.1f%% match)", classification.Similarity*100),
			Details: map[string]interface{}{
				"similarity": classification.Similarity,
				"action":     "ALLOWED",
			},
			IPAddress: reqCtx.IP,
		}); err != nil {
			return ValidationResult{}, err
		}
		result := ValidationResult{
			Valid:      true,
			Reason:     string(fingerprint.MatchMinor),
			Similarity: classification.Similarity,
		}
		return result, s.logAccess(ctx, employeeID, presented, audit.AccessSuccess, reqCtx, "minor fingerprint drift")

	case fingerprint.MatchMajor:
		if err := s.repository.DecaySecurityScore(ctx, employeeID, ScorePenaltyDrift); err != nil {
			return ValidationResult{}, err
		}
		// Pending re-approval: the registration leaves the approved
		// state until an admin re-approves it.
		if err := s.repository.UpdateStatus(ctx, registration.ID,
			[]Status{StatusApproved}, StatusDrift, SystemActor, "major fingerprint drift"); err != nil && !errors.IsCode(err, errors.ErrCodeConflict) {
			return ValidationResult{}, err
		}
		if err := s.auditLogger.LogEvent(ctx, audit.Event{
			Type:        audit.EventFingerprintDrift,
			Severity:    audit.SeverityHigh,
			EmployeeID:  employeeID,
			Description: fmt.Sprintf("Major device fingerprint drift detected (%.1f%% match)", classification.Similarity*100),
			Details: map[string]interface{}{
				"similarity": classification.Similarity,
				"action":     "REQUIRE_MFA",
			},
			IPAddress: reqCtx.IP,
		}); err != nil {
			return ValidationResult{}, err
		}
		result := ValidationResult{
			Valid:       false,
			Reason:      string(fingerprint.MatchMajor),
			Similarity:  classification.Similarity,
			RequiresMFA: true,
		}
		return result, s.logAccess(ctx, employeeID, presented, audit.AccessDriftDetected, reqCtx, "major fingerprint drift")

	default: // fingerprint.MatchMismatch
		if err := s.repository.DecaySecurityScore(ctx, employeeID, ScorePenaltyMismatch); err != nil {
			return ValidationResult{}, err
		}
		if err := s.auditLogger.LogEvent(ctx, audit.Event{
			Type:        audit.EventFingerprintMismatch,
			Severity:    audit.SeverityCritical,
			EmployeeID:  employeeID,
			Description: fmt.Sprintf("Device fingerprint completely changed (%.1f%% match)", classification.Similarity*100),
			Details: map[string]interface{}{
				"similarity": classification.Similarity,
				"action":     "BLOCKED",
			},
			IPAddress: reqCtx.IP,
		}); err != nil {
			return ValidationResult{}, err
		}
		result := ValidationResult{
			Valid:      false,
			Reason:     string(fingerprint.MatchMismatch),
			Similarity: classification.Similarity,
		}
		return result, s.logAccess(ctx, employeeID, presented, audit.AccessBlocked, reqCtx, "fingerprint mismatch")
	}
}

// CheckRegistration looks up an approved registration for the exact
// (employee, device) pair. Returns nil when none exists. Every check is
// itself evidence of access, so a hit records a success access log row.
func (s *Service) CheckRegistration(ctx context.Context, employeeID, deviceID string, reqCtx RequestContext) (*Registration, error) {
	if employeeID == "" {
		return nil, errors.MissingRequired("employee_id")
	}
	if deviceID == "" {
		return nil, errors.MissingRequired("device_id")
	}

	registration, err := s.repository.GetApproved(ctx, employeeID, deviceID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.logAccess(ctx, employeeID, registration.FingerprintHash, audit.AccessSuccess, reqCtx, ""); err != nil {
		return nil, err
	}
	return &registration, nil
}

// Approve moves a pending or drifted registration to approved. Covers
// both initial approval and re-approval after drift.
func (s *Service) Approve(ctx context.Context, id int64, adminID, reason string) error {
	return s.repository.UpdateStatus(ctx, id, []Status{StatusPending, StatusDrift}, StatusApproved, adminID, reason)
}

// Reject moves a pending registration to blocked
func (s *Service) Reject(ctx context.Context, id int64, adminID, reason string) error {
	return s.repository.UpdateStatus(ctx, id, []Status{StatusPending}, StatusBlocked, adminID, reason)
}

// Block moves an approved or drifted registration to blocked. Blocked
// is terminal; recovery requires operator intervention and a fresh
// registration.
func (s *Service) Block(ctx context.Context, id int64, adminID, reason string) error {
	return s.repository.UpdateStatus(ctx, id, []Status{StatusApproved, StatusDrift}, StatusBlocked, adminID, reason)
}

func (s *Service) logAccess(ctx context.Context, employeeID, fingerprintHash string, result audit.AccessResult, reqCtx RequestContext, notes string) error {
	return s.auditLogger.LogAccess(ctx, audit.AccessEntry{
		EmployeeID:      employeeID,
		FingerprintHash: fingerprintHash,
		Result:          result,
		IPAddress:       reqCtx.IP,
		UserAgent:       reqCtx.UserAgent,
		SecurityNotes:   notes,
		AccessTime:      time.Now().UTC(),
	})
}

func accessResultForStatus(status Status) audit.AccessResult {
	switch status {
	case StatusPending:
		return audit.AccessPending
	case StatusDrift:
		return audit.AccessDriftDetected
	default:
		return audit.AccessBlocked
	}
}
