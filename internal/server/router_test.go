// internal/server/router_test.go
//
// Route-table tests: public endpoints, the admin gate, response
// annotations, and the security-header middleware.
//
// Run: go test ./internal/server -v

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/WhitecodeAi/aicms-core/internal/admin"
	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/resolver"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	root := t.TempDir()
	store, err := tenant.NewStore(root, time.Minute)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mapper := domainmap.New(root)
	env := envfile.New(root, mapper)
	pools := pool.New(pool.Options{ReapInterval: time.Hour})
	t.Cleanup(pools.Shutdown)
	svc := admin.New(store, env, mapper, pools, admin.NoopProvisioner{}, nil,
		admin.Options{BaseDomain: "whitecode.tech"})

	return NewRouter(Deps{
		Store:    store,
		Resolver: resolver.New(store, "", nil),
		Env:      env,
		Mapper:   mapper,
		Pools:    pools,
		Admin:    svc,
	})
}

func TestHealthEndpoint(t *testing.T) {
	h := testRouter(t)
	for _, path := range []string{"/health", "/api/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "http://x"+path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: code = %d", path, rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if body["status"] != "ok" || body["version"] == "" || body["timestamp"] == "" {
			t.Fatalf("%s: body = %v", path, body)
		}
	}
}

func TestMetricsExposed(t *testing.T) {
	h := testRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://x/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: code = %d", rec.Code)
	}
}

func TestAdminGateRejectsNonAdmin(t *testing.T) {
	h := testRouter(t)

	// No identification at all.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://x/admin/tenants", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: code = %d, want 401", rec.Code)
	}

	// Identified as an ordinary tenant.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "http://x/admin/tenants", nil)
	req.Header.Set("X-Tenant-ID", "hiray")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ordinary tenant: code = %d, want 401", rec.Code)
	}
}

func TestAdminGateAdmitsAdminHeader(t *testing.T) {
	h := testRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "http://x/admin/tenants", nil)
	req.Header.Set("X-Tenant-ID", "admin")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin header: code = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Count   int           `json:"count"`
		Tenants []interface{} `json:"tenants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Fatalf("fresh install should list zero tenants, got %d", body.Count)
	}
}

func TestEveryResponseCarriesRequestIDAndHeaders(t *testing.T) {
	h := testRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://x/health", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}
	for _, hdr := range []string{
		"Strict-Transport-Security",
		"Content-Security-Policy",
		"X-Frame-Options",
		"X-Content-Type-Options",
		"Referrer-Policy",
	} {
		if rec.Header().Get(hdr) == "" {
			t.Errorf("%s missing", hdr)
		}
	}
}

func TestSecurityHeadersPreserveExisting(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	SecurityHeaders(inner).ServeHTTP(rec, httptest.NewRequest("GET", "http://x/", nil))
	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Fatalf("handler-set header overwritten: %q", got)
	}
}
