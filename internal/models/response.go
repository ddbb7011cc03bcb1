// Package models - API response types and error handling.
// This file defines the outgoing API response structures of the gatekeeper shim.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps
package models

import (
	"time"
)

// CheckResponse is returned by the check endpoint when the attempt is allowed.
type CheckResponse struct {
	Allowed   bool      `json:"allowed"`
	Action    string    `json:"action"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// PolicyInfo describes one compiled-in rate limit policy.
type PolicyInfo struct {
	Action        string `json:"action"`
	Limit         int    `json:"limit"`
	Window        string `json:"window"`
	WindowSeconds int64  `json:"window_seconds"`
}

type ListPoliciesResponse struct {
	Policies []PolicyInfo `json:"policies"`
}

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Validation errors: malformed body or unknown action
// - Rate limit errors: the caller must try again later
// - Internal errors: server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health status constants
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Error code constants
const (
	ErrorCodeNotFound          = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeUnknownAction     = "UNKNOWN_ACTION"      // 404: No policy for the action
	ErrorCodeBadRequest        = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED" // 429: Too many attempts
	ErrorCodeInternalError     = "INTERNAL_ERROR"      // 500: Server-side error
)

// NewErrorResponse creates a new error response
func NewErrorResponse(message, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WithDetails adds a detail entry to the error response
func (er *ErrorResponse) WithDetails(key, value string) *ErrorResponse {
	if er.Details == nil {
		er.Details = make(map[string]string)
	}
	er.Details[key] = value
	return er
}

// NewHealthCheckResponse creates a health check response with the given status
func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records the health of a single component
func (hcr *HealthCheckResponse) AddComponent(name, status, message string) {
	if hcr.Components == nil {
		hcr.Components = make(map[string]ComponentHealth)
	}
	hcr.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
