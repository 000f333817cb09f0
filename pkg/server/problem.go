package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/credalabs/credence/pkg/audit"
	"github.com/credalabs/credence/pkg/governance"
)

// Problem implements RFC 7807 (Problem Details for HTTP APIs). All
// error responses use this format.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links the response to the request for log correlation.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *Problem) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// writeProblem writes an RFC 7807 response enriched with request
// context (trace_id from X-Request-ID, instance from the request URI).
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &Problem{
		Type:     fmt.Sprintf("https://credalabs.io/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "Bad Request", detail)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	writeProblem(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	writeProblem(w, r, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.")
}

// writeInternal logs err but never exposes it to the client.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "path", r.URL.Path, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred. Please try again later.")
}

// writeKernelError maps the kernel's sentinel errors onto statuses.
// Validation failures are 400, missing records 404, duplicates and
// unevaluated executions 409, approval gates 403.
func writeKernelError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, governance.ErrDuplicateID):
		writeProblem(w, r, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, governance.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, governance.ErrNotEvaluated):
		writeProblem(w, r, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, governance.ErrApprovalRequired),
		errors.Is(err, governance.ErrExecutionDenied):
		writeProblem(w, r, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, governance.ErrInvalidConfidence),
		errors.Is(err, governance.ErrInvalidCategory),
		errors.Is(err, governance.ErrInvalidCriticality),
		errors.Is(err, governance.ErrUnknownAssumption),
		errors.Is(err, governance.ErrNoDependencies),
		errors.Is(err, governance.ErrInvalidOutcome),
		errors.Is(err, governance.ErrCycle),
		errors.Is(err, governance.ErrInvalidGuard),
		errors.Is(err, governance.ErrInvalidSchema),
		errors.Is(err, governance.ErrContextViolation),
		errors.Is(err, governance.ErrInvalidConfig):
		writeBadRequest(w, r, err.Error())
	case errors.Is(err, audit.ErrChainBroken):
		writeProblem(w, r, http.StatusConflict, "Conflict", err.Error())
	default:
		writeInternal(w, r, err)
	}
}

// writeJSON encodes v with the given status. Encoding failures after
// the header is written can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
