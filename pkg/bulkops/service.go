// Package bulkops batches admin approvals and rejections of pending
// device registrations and builds the pending-review risk report.
package bulkops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corpsec/device-trust/pkg/audit"
	"github.com/corpsec/device-trust/pkg/device"
	"github.com/corpsec/device-trust/pkg/errors"
)

// DefaultMaxBatchSize caps how many registrations one bulk call may
// touch. Larger matches are truncated, oldest first, and the remainder
// left for the next call.
const DefaultMaxBatchSize = 100

// Risk levels assigned to pending registrations
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Recommendations paired with each risk level
const (
	RecommendSafeToApprove    = "SAFE_TO_APPROVE"
	RecommendManualReview     = "MANUAL_REVIEW"
	RecommendRejectOrForceMFA = "REJECT_OR_REQUIRE_MFA"
)

// DefaultApproveReason fills the audit trail when an admin approves
// without stating a reason. Rejections always require one.
const DefaultApproveReason = "bulk approval"

// Options holds bulk operation settings
type Options struct {
	MaxBatchSize int
}

// ProcessedDevice identifies one registration a bulk call transitioned
type ProcessedDevice struct {
	RegistrationID int64  `json:"registration_id"`
	EmployeeID     string `json:"employee_id"`
	DeviceID       string `json:"device_id"`
}

// DeviceError records one registration a bulk call failed to transition.
// A failed device never aborts the batch.
type DeviceError struct {
	RegistrationID int64  `json:"registration_id"`
	EmployeeID     string `json:"employee_id"`
	Error          string `json:"error"`
}

// Result summarizes one bulk approval or rejection
type Result struct {
	BatchID   string            `json:"batch_id"`
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Devices   []ProcessedDevice `json:"devices"`
	Errors    []DeviceError     `json:"errors,omitempty"`
}

// PendingDevice is one line of the pending-review report
type PendingDevice struct {
	RegistrationID int64     `json:"registration_id"`
	EmployeeID     string    `json:"employee_id"`
	FullName       string    `json:"full_name"`
	DeviceID       string    `json:"device_id"`
	RegisteredAt   time.Time `json:"registered_at"`
	DaysPending    int       `json:"days_pending"`
	AccessAttempts int       `json:"access_attempts"`
	HadBlocked     bool      `json:"had_blocked_attempt"`
	RiskLevel      string    `json:"risk_level"`
	Recommendation string    `json:"recommendation"`
}

// ReportSummary counts pending registrations per risk level
type ReportSummary struct {
	LowRisk    int `json:"low_risk"`
	MediumRisk int `json:"medium_risk"`
	HighRisk   int `json:"high_risk"`
}

// Report is the full pending-review report
type Report struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	TotalPending int             `json:"total_pending"`
	Devices      []PendingDevice `json:"devices"`
	Summary      ReportSummary   `json:"summary"`
}

// Service runs bulk admin operations against the device repository.
// Every batch is audited as one security event carrying a batch id.
type Service struct {
	repository   device.Repository
	auditLogger  *audit.Logger
	maxBatchSize int
}

// NewService creates a bulk operations service
func NewService(repository device.Repository, auditLogger *audit.Logger, options Options) *Service {
	maxBatchSize := options.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Service{
		repository:   repository,
		auditLogger:  auditLogger,
		maxBatchSize: maxBatchSize,
	}
}

// BulkApprove approves pending registrations matching the criteria,
// oldest first, up to the batch cap. The reason is optional and
// defaults to DefaultApproveReason.
func (s *Service) BulkApprove(ctx context.Context, adminID, reason string, criteria device.Criteria) (Result, error) {
	if reason == "" {
		reason = DefaultApproveReason
	}
	return s.process(ctx, adminID, reason, criteria, device.StatusApproved, audit.EventBulkApproval)
}

// BulkReject moves pending registrations matching the criteria to
// blocked, oldest first, up to the batch cap
func (s *Service) BulkReject(ctx context.Context, adminID, reason string, criteria device.Criteria) (Result, error) {
	return s.process(ctx, adminID, reason, criteria, device.StatusBlocked, audit.EventBulkRejection)
}

func (s *Service) process(ctx context.Context, adminID, reason string, criteria device.Criteria, to device.Status, eventType string) (Result, error) {
	if adminID == "" {
		return Result{}, errors.MissingRequired("admin_id")
	}
	if reason == "" {
		return Result{}, errors.MissingRequired("reason")
	}

	pending, err := s.repository.FindPending(ctx, criteria, s.maxBatchSize)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		BatchID: uuid.NewString(),
		Total:   len(pending),
	}

	for _, registration := range pending {
		err := s.repository.UpdateStatus(ctx, registration.ID,
			[]device.Status{device.StatusPending}, to, adminID, reason)
		if err != nil {
			// A registration processed by a concurrent admin stays in
			// the error list; the rest of the batch proceeds.
			result.Failed++
			result.Errors = append(result.Errors, DeviceError{
				RegistrationID: registration.ID,
				EmployeeID:     registration.EmployeeID,
				Error:          err.Error(),
			})
			continue
		}
		result.Processed++
		result.Devices = append(result.Devices, ProcessedDevice{
			RegistrationID: registration.ID,
			EmployeeID:     registration.EmployeeID,
			DeviceID:       registration.DeviceID,
		})
	}

	if err := s.auditLogger.LogEvent(ctx, audit.Event{
		Type:        eventType,
		Severity:    audit.SeverityMedium,
		Description: fmt.Sprintf("Bulk operation by %s: %d processed, %d failed", adminID, result.Processed, result.Failed),
		Details: map[string]interface{}{
			"batch_id":  result.BatchID,
			"admin_id":  adminID,
			"reason":    reason,
			"processed": result.Processed,
			"failed":    result.Failed,
			"criteria":  criteriaDetails(criteria),
		},
	}); err != nil {
		return Result{}, err
	}

	slog.Info("Bulk operation complete",
		"batchID", result.BatchID, "adminID", adminID, "target", to,
		"processed", result.Processed, "failed", result.Failed)
	return result, nil
}

// PendingReport scores every pending registration for admin triage. The
// risk heuristic favors false highs: any blocked attempt or an unusual
// attempt count outranks mere queue age.
func (s *Service) PendingReport(ctx context.Context, criteria device.Criteria) (Report, error) {
	pending, err := s.repository.FindPending(ctx, criteria, 0)
	if err != nil {
		return Report{}, err
	}

	now := time.Now().UTC()
	report := Report{
		GeneratedAt:  now,
		TotalPending: len(pending),
		Devices:      make([]PendingDevice, 0, len(pending)),
	}

	for _, registration := range pending {
		history, err := s.auditLogger.AccessHistory(ctx, registration.EmployeeID)
		if err != nil {
			return Report{}, err
		}

		hadBlocked := false
		for _, entry := range history {
			if entry.Result == audit.AccessBlocked {
				hadBlocked = true
				break
			}
		}

		daysPending := int(now.Sub(registration.RegisteredAt).Hours() / 24)
		riskLevel, recommendation := assessRisk(hadBlocked, len(history), daysPending)

		switch riskLevel {
		case RiskHigh:
			report.Summary.HighRisk++
		case RiskMedium:
			report.Summary.MediumRisk++
		default:
			report.Summary.LowRisk++
		}

		report.Devices = append(report.Devices, PendingDevice{
			RegistrationID: registration.ID,
			EmployeeID:     registration.EmployeeID,
			FullName:       registration.FullName,
			DeviceID:       registration.DeviceID,
			RegisteredAt:   registration.RegisteredAt,
			DaysPending:    daysPending,
			AccessAttempts: len(history),
			HadBlocked:     hadBlocked,
			RiskLevel:      riskLevel,
			Recommendation: recommendation,
		})
	}

	return report, nil
}

func assessRisk(hadBlocked bool, attempts, daysPending int) (string, string) {
	if hadBlocked || attempts > 5 {
		return RiskHigh, RecommendRejectOrForceMFA
	}
	if daysPending > 7 {
		return RiskMedium, RecommendManualReview
	}
	return RiskLow, RecommendSafeToApprove
}

func criteriaDetails(criteria device.Criteria) map[string]interface{} {
	details := make(map[string]interface{})
	if criteria.Department != "" {
		details["department"] = criteria.Department
	}
	if !criteria.DateFrom.IsZero() {
		details["date_from"] = criteria.DateFrom.Format(time.RFC3339)
	}
	if !criteria.DateTo.IsZero() {
		details["date_to"] = criteria.DateTo.Format(time.RFC3339)
	}
	if criteria.IPRange != "" {
		details["ip_range"] = criteria.IPRange
	}
	return details
}
