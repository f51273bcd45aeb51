// internal/errdefs/errdefs.go
//
// Typed error taxonomy for the platform.
//
// Context
// -------
// Every failure that can cross a component boundary is classified into one
// of the kinds below.  Handlers map a kind to its HTTP status with
// HTTPStatus(), and render the wire shape with WriteJSON().  Components
// wrap the underlying cause with %w so callers can still reach driver
// errors via errors.Unwrap.
//
// Notes
// -----
//   - The hot path never panics; unexpected errors become KindTenantDatabase
//     or a generic 500 at the edge.
package errdefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates the failure classes surfaced by the platform.
type Kind string

const (
	KindTenantRequired     Kind = "TENANT_REQUIRED"
	KindTenantNotFound     Kind = "TENANT_NOT_FOUND"
	KindTenantConfig       Kind = "TENANT_CONFIG_INVALID"
	KindTenantUnavailable  Kind = "TENANT_UNAVAILABLE"
	KindUnauthorized       Kind = "UNAUTHORIZED_TENANT_ACCESS"
	KindDBConnection       Kind = "DATABASE_CONNECTION_FAILED"
	KindTenantDatabase     Kind = "TENANT_DATABASE_ERROR"
	KindRateLimit          Kind = "RATE_LIMIT_EXCEEDED"
	KindInvalidToken       Kind = "INVALID_TENANT_TOKEN"
	KindSecurityViolation  Kind = "SECURITY_VIOLATION"
	KindTenantCreation     Kind = "TENANT_CREATION_FAILED"
)

// Error is the single concrete error type used across components.
type Error struct {
	Kind     Kind
	Message  string
	TenantID string
	Details  map[string]any
	cause    error
}

// New builds an Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause.  The cause remains reachable via errors.Unwrap.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// WithTenant records the tenant the failure belongs to.
func (e *Error) WithTenant(id string) *Error {
	e.TenantID = id
	return e
}

// WithDetail attaches one key of structured detail.
func (e *Error) WithDetail(key string, val any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = val
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps a kind to its wire status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindTenantRequired, KindTenantConfig, KindSecurityViolation:
		return http.StatusBadRequest
	case KindTenantNotFound:
		return http.StatusNotFound
	case KindTenantUnavailable:
		return http.StatusForbidden
	case KindUnauthorized, KindInvalidToken:
		return http.StatusUnauthorized
	case KindDBConnection:
		return http.StatusServiceUnavailable
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTenantDatabase, KindTenantCreation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts an *Error from err, or wraps err as a generic
// tenant-database failure so handlers always have a typed value.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindTenantDatabase, "internal error", err)
}

//
// Wire shape
//

type wireError struct {
	Code      Kind           `json:"code"`
	Message   string         `json:"message"`
	TenantID  string         `json:"tenantId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type wireBody struct {
	Error wireError `json:"error"`
}

// WriteJSON renders the canonical error body and status to w.
func WriteJSON(w http.ResponseWriter, err error) {
	e := AsError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(wireBody{Error: wireError{
		Code:      e.Kind,
		Message:   e.Message,
		TenantID:  e.TenantID,
		Details:   e.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})
}
