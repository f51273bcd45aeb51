// internal/errdefs/errdefs_test.go
//
// Run: go test ./internal/errdefs -v

package errdefs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindTenantRequired:    http.StatusBadRequest,
		KindTenantConfig:      http.StatusBadRequest,
		KindSecurityViolation: http.StatusBadRequest,
		KindTenantNotFound:    http.StatusNotFound,
		KindTenantUnavailable: http.StatusForbidden,
		KindUnauthorized:      http.StatusUnauthorized,
		KindInvalidToken:      http.StatusUnauthorized,
		KindDBConnection:      http.StatusServiceUnavailable,
		KindRateLimit:         http.StatusTooManyRequests,
		KindTenantDatabase:    http.StatusInternalServerError,
		KindTenantCreation:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Errorf("%s: status = %d, want %d", kind, got, want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindTenantCreation, "descriptor save failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause must survive wrapping")
	}
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != KindTenantCreation {
		t.Fatal("errors.As must find the typed error")
	}
}

func TestAsErrorWrapsForeign(t *testing.T) {
	e := AsError(errors.New("plain"))
	if e.Kind != KindTenantDatabase {
		t.Fatalf("foreign errors default to TENANT_DATABASE_ERROR, got %s", e.Kind)
	}
	orig := New(KindRateLimit, "slow down")
	if AsError(orig) != orig {
		t.Fatal("typed errors must pass through unchanged")
	}
}

func TestWriteJSONShape(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Newf(KindTenantNotFound, "tenant %q not found", "ghost").
		WithTenant("ghost").
		WithDetail("hint", "check the id")
	WriteJSON(rec, err)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error struct {
			Code      string         `json:"code"`
			Message   string         `json:"message"`
			TenantID  string         `json:"tenantId"`
			Details   map[string]any `json:"details"`
			Timestamp string         `json:"timestamp"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "TENANT_NOT_FOUND" || body.Error.TenantID != "ghost" {
		t.Fatalf("unexpected body: %+v", body.Error)
	}
	if body.Error.Timestamp == "" || body.Error.Details["hint"] != "check the id" {
		t.Fatalf("missing envelope fields: %+v", body.Error)
	}
}
