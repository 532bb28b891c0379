// Package api exposes bulk admin operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/corpsec/device-trust/pkg/bulkops"
	"github.com/corpsec/device-trust/pkg/device"
	"github.com/corpsec/device-trust/pkg/errors"
)

// Handle handles HTTP requests for bulk admin operations
type Handle struct {
	bulkService *bulkops.Service
}

// NewHandle creates a new bulk operations handler
func NewHandle(bulkService *bulkops.Service) *Handle {
	return &Handle{bulkService: bulkService}
}

// BulkRequest is the request body for bulk approve and reject
type BulkRequest struct {
	AdminID  string `json:"admin_id"`
	Reason   string `json:"reason"`
	Criteria struct {
		Department string `json:"department,omitempty"`
		DateFrom   string `json:"date_from,omitempty"`
		DateTo     string `json:"date_to,omitempty"`
		IPRange    string `json:"ip_range,omitempty"`
	} `json:"criteria"`
}

// BulkResponse is the response body for bulk approve and reject
type BulkResponse struct {
	Status string         `json:"status"`
	Result bulkops.Result `json:"result"`
}

// ReportResponse is the response body for the pending report
type ReportResponse struct {
	Status string         `json:"status"`
	Report bulkops.Report `json:"report"`
}

// ErrorResponse is an error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Approve handles bulk approval of pending registrations
func (h *Handle) Approve(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.bulkService.BulkApprove)
}

// Reject handles bulk rejection of pending registrations
func (h *Handle) Reject(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.bulkService.BulkReject)
}

// PendingReport returns the risk-scored pending review report
func (h *Handle) PendingReport(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r)
	if err != nil {
		renderError(w, r, err)
		return
	}

	report, err := h.bulkService.PendingReport(r.Context(), criteria)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ReportResponse{Status: "success", Report: report})
}

func (h *Handle) process(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, adminID, reason string, criteria device.Criteria) (bulkops.Result, error)) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request body", "error", err)
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	criteria, err := parseCriteria(req.Criteria.Department, req.Criteria.DateFrom, req.Criteria.DateTo, req.Criteria.IPRange)
	if err != nil {
		renderError(w, r, err)
		return
	}

	result, err := op(r.Context(), req.AdminID, req.Reason, criteria)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, BulkResponse{Status: "success", Result: result})
}

// Routes returns a http.Handler for the bulk operations API
func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/approve", h.Approve)
	r.Post("/reject", h.Reject)
	r.Get("/pending-report", h.PendingReport)

	return r
}

func criteriaFromQuery(r *http.Request) (device.Criteria, error) {
	q := r.URL.Query()
	return parseCriteria(q.Get("department"), q.Get("date_from"), q.Get("date_to"), q.Get("ip_range"))
}

func parseCriteria(department, dateFrom, dateTo, ipRange string) (device.Criteria, error) {
	criteria := device.Criteria{
		Department: department,
		IPRange:    ipRange,
	}

	if dateFrom != "" {
		t, err := time.Parse(time.RFC3339, dateFrom)
		if err != nil {
			return device.Criteria{}, errors.InvalidInput("date_from", "must be RFC 3339")
		}
		criteria.DateFrom = t
	}
	if dateTo != "" {
		t, err := time.Parse(time.RFC3339, dateTo)
		if err != nil {
			return device.Criteria{}, errors.InvalidInput("date_to", "must be RFC 3339")
		}
		criteria.DateTo = t
	}
	return criteria, nil
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	render.Status(r, errors.MapErrorCodeToHTTPStatus(code))
	render.JSON(w, r, ErrorResponse{
		Status:  "error",
		Message: err.Error(),
		Code:    string(code),
	})
}
