// Package api exposes the device trust engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/corpsec/device-trust/pkg/audit"
	"github.com/corpsec/device-trust/pkg/device"
	"github.com/corpsec/device-trust/pkg/errors"
	"github.com/corpsec/device-trust/pkg/fingerprint"
	"github.com/corpsec/device-trust/pkg/mfa"
	"github.com/corpsec/device-trust/pkg/ratelimit"
)

// Handle handles HTTP requests for device registration and validation
type Handle struct {
	deviceService *device.Service
	auditLogger   *audit.Logger
	mfaService    *mfa.Service
}

// NewHandle creates a new device API handler
func NewHandle(deviceService *device.Service, auditLogger *audit.Logger, mfaService *mfa.Service) *Handle {
	return &Handle{
		deviceService: deviceService,
		auditLogger:   auditLogger,
		mfaService:    mfaService,
	}
}

// RegisterRequest is the request body for registering a device
type RegisterRequest struct {
	EmployeeID  string `json:"employee_id"`
	FullName    string `json:"full_name"`
	DeviceID    string `json:"device_id"`
	Fingerprint string `json:"fingerprint"`
}

// RegisterResponse is the response body for registering a device
type RegisterResponse struct {
	Status       string                `json:"status"`
	Message      string                `json:"message"`
	Registration device.RegisterResult `json:"registration"`
}

// ValidateRequest is the request body for validating a fingerprint
type ValidateRequest struct {
	EmployeeID  string `json:"employee_id"`
	Fingerprint string `json:"fingerprint"`
}

// ValidateResponse is the response body for validating a fingerprint
type ValidateResponse struct {
	Status     string                  `json:"status"`
	Validation device.ValidationResult `json:"validation"`
}

// TransitionRequest is the request body for admin status transitions
type TransitionRequest struct {
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

// CheckResponse is the response body for a registration check
type CheckResponse struct {
	Status       string               `json:"status"`
	Registered   bool                 `json:"registered"`
	Registration *device.Registration `json:"registration,omitempty"`
}

// HistoryResponse is the response body for access history
type HistoryResponse struct {
	Status  string              `json:"status"`
	History []audit.AccessEntry `json:"history"`
}

// SummaryResponse is the response body for the security event summary
type SummaryResponse struct {
	Status  string            `json:"status"`
	Summary []audit.SummaryRow `json:"summary"`
}

// MfaVerifyRequest is the request body for verifying an MFA passcode
type MfaVerifyRequest struct {
	EmployeeID string `json:"employee_id"`
	Passcode   string `json:"passcode"`
}

// SuccessResponse is a generic success response
type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is an error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Register handles new device registration
func (h *Handle) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request body", "error", err)
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	// Synthesize a fingerprint from request attributes when the client
	// did not collect one itself
	if req.Fingerprint == "" {
		req.Fingerprint = fingerprint.Generate(fingerprint.FromRequest(r))
	}

	var params device.RegisterParams
	if err := copier.Copy(&params, &req); err != nil {
		slog.Error("Failed to map register request", "error", err)
		renderError(w, r, errors.Internal("failed to map request"))
		return
	}
	params.Context = requestContext(r)

	result, err := h.deviceService.Register(r.Context(), params)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, RegisterResponse{
		Status:       "success",
		Message:      "Device registered successfully",
		Registration: result,
	})
}

// Validate handles fingerprint validation for an access attempt
func (h *Handle) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request body", "error", err)
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.Fingerprint == "" {
		req.Fingerprint = fingerprint.Generate(fingerprint.FromRequest(r))
	}

	result, err := h.deviceService.ValidateFingerprint(r.Context(), req.EmployeeID, req.Fingerprint, requestContext(r))
	if err != nil {
		renderError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusForbidden
	}
	render.Status(r, status)
	render.JSON(w, r, ValidateResponse{Status: "success", Validation: result})
}

// Check reports whether an approved registration exists for the pair
func (h *Handle) Check(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employee_id")
	deviceID := chi.URLParam(r, "device_id")

	registration, err := h.deviceService.CheckRegistration(r.Context(), employeeID, deviceID, requestContext(r))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, CheckResponse{
		Status:       "success",
		Registered:   registration != nil,
		Registration: registration,
	})
}

// Approve handles admin approval of a pending or drifted registration
func (h *Handle) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.deviceService.Approve, "Device approved")
}

// Reject handles admin rejection of a pending registration
func (h *Handle) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.deviceService.Reject, "Device rejected")
}

// Block handles admin blocking of an approved or drifted registration
func (h *Handle) Block(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.deviceService.Block, "Device blocked")
}

// History returns the access history for an employee, newest first
func (h *Handle) History(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employee_id")
	if employeeID == "" {
		renderError(w, r, errors.MissingRequired("employee_id"))
		return
	}

	history, err := h.auditLogger.AccessHistory(r.Context(), employeeID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, HistoryResponse{Status: "success", History: history})
}

// Summary returns aggregated security events over the last N days
func (h *Handle) Summary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			renderError(w, r, errors.InvalidInput("days", "must be an integer"))
			return
		}
		days = parsed
	}

	summary, err := h.auditLogger.SecuritySummary(r.Context(), days)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SummaryResponse{Status: "success", Summary: summary})
}

// MfaEnroll issues a TOTP secret for an employee
func (h *Handle) MfaEnroll(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employee_id")

	enrollment, err := h.mfaService.Enroll(r.Context(), employeeID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, enrollment)
}

// MfaVerify checks a TOTP passcode for an employee
func (h *Handle) MfaVerify(w http.ResponseWriter, r *http.Request) {
	var req MfaVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request body", "error", err)
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	valid, err := h.mfaService.Verify(r.Context(), req.EmployeeID, req.Passcode)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if !valid {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Status: "error", Message: "Invalid passcode"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SuccessResponse{Status: "success", Message: "Passcode verified"})
}

func (h *Handle) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64, adminID, reason string) error, message string) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		renderError(w, r, errors.InvalidInput("id", "must be an integer"))
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request body", "error", err)
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.AdminID == "" {
		renderError(w, r, errors.MissingRequired("admin_id"))
		return
	}

	if err := op(r.Context(), id, req.AdminID, req.Reason); err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SuccessResponse{Status: "success", Message: message})
}

// Routes returns a http.Handler for the device API
func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/register", h.Register)
	r.Post("/validate", h.Validate)
	r.Get("/check/{employee_id}/{device_id}", h.Check)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/block", h.Block)
	r.Get("/history/{employee_id}", h.History)
	r.Get("/events/summary", h.Summary)
	r.Post("/mfa/enroll/{employee_id}", h.MfaEnroll)
	r.Post("/mfa/verify", h.MfaVerify)

	return r
}

func requestContext(r *http.Request) device.RequestContext {
	return device.RequestContext{
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// renderError maps a service error onto an HTTP response
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	render.Status(r, errors.MapErrorCodeToHTTPStatus(code))
	render.JSON(w, r, ErrorResponse{
		Status:  "error",
		Message: err.Error(),
		Code:    string(code),
	})
}
