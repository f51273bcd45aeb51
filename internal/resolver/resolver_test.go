// internal/resolver/resolver_test.go
//
// Unit-tests for the six-strategy identification pipeline and the bypass
// list.
//
// Run: go test ./internal/resolver -v

package resolver

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// fakeLookup maps custom domains to tenant ids.
type fakeLookup map[string]string

func (f fakeLookup) FindByDomain(domain string) (*tenant.Descriptor, error) {
	id, ok := f[domain]
	if !ok {
		return nil, nil
	}
	return &tenant.Descriptor{TenantID: id, Domain: domain}, nil
}

func TestResolveSubdomain(t *testing.T) {
	r := New(fakeLookup{}, "", nil)

	req := httptest.NewRequest("GET", "http://hiray.whitecode.tech/dashboard", nil)
	id, method := r.Resolve(req)
	if id != "hiray" || method != MethodSubdomain {
		t.Fatalf("got (%q, %q), want (hiray, subdomain)", id, method)
	}

	// Port suffix never leaks into the labels.
	req = httptest.NewRequest("GET", "http://hiray.whitecode.tech:8080/", nil)
	if id, _ := r.Resolve(req); id != "hiray" {
		t.Fatalf("port suffix broke subdomain parse: %q", id)
	}
}

func TestResolveReservedSubdomainFallsThrough(t *testing.T) {
	r := New(fakeLookup{}, "", nil)
	for _, label := range []string{"www", "api", "admin", "app", "mail", "ftp"} {
		req := httptest.NewRequest("GET", "http://"+label+".whitecode.tech/", nil)
		if id, method := r.Resolve(req); id != "" || method != MethodNone {
			t.Errorf("reserved label %q resolved to (%q, %q)", label, id, method)
		}
	}
}

func TestResolveCustomDomainPrecedesSubdomain(t *testing.T) {
	r := New(fakeLookup{"portal.hiray.edu": "hiray"}, "", nil)

	// The host parses as subdomain "portal", but the registered custom
	// domain wins.
	req := httptest.NewRequest("GET", "http://portal.hiray.edu/", nil)
	id, method := r.Resolve(req)
	if id != "hiray" || method != MethodCustomDomain {
		t.Fatalf("got (%q, %q), want (hiray, custom_domain)", id, method)
	}
}

func TestResolveHeader(t *testing.T) {
	r := New(fakeLookup{}, "", nil)

	req := httptest.NewRequest("GET", "http://localhost/", nil)
	req.Header.Set("X-Tenant-ID", "hiray")
	id, method := r.Resolve(req)
	if id != "hiray" || method != MethodHeader {
		t.Fatalf("got (%q, %q), want (hiray, header)", id, method)
	}

	// Malformed ids are ignored, not passed through.
	req.Header.Set("X-Tenant-ID", "bad id!")
	if id, _ := r.Resolve(req); id != "" {
		t.Fatalf("malformed header id resolved: %q", id)
	}
}

func TestResolveBearerToken(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	r := New(fakeLookup{}, secret, nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenantId": "hiray",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	id, method := r.Resolve(req)
	if id != "hiray" || method != MethodToken {
		t.Fatalf("got (%q, %q), want (hiray, token)", id, method)
	}

	// Wrong key never resolves.
	bad, _ := tok.SignedString([]byte("another-secret-another-secret-xx"))
	req.Header.Set("Authorization", "Bearer "+bad)
	if id, _ := r.Resolve(req); id != "" {
		t.Fatalf("forged token resolved: %q", id)
	}

	// With no configured secret the strategy is disabled entirely.
	r2 := New(fakeLookup{}, "", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	if id, _ := r2.Resolve(req); id != "" {
		t.Fatalf("token resolved without a configured secret: %q", id)
	}
}

func TestResolvePathAndQuery(t *testing.T) {
	r := New(fakeLookup{}, "", nil)

	req := httptest.NewRequest("GET", "http://localhost/tenant/hiray/pages", nil)
	id, method := r.Resolve(req)
	if id != "hiray" || method != MethodPath {
		t.Fatalf("path: got (%q, %q)", id, method)
	}

	req = httptest.NewRequest("GET", "http://localhost/pages?tenant=hiray", nil)
	id, method = r.Resolve(req)
	if id != "hiray" || method != MethodQuery {
		t.Fatalf("query: got (%q, %q)", id, method)
	}

	req = httptest.NewRequest("GET", "http://localhost/pages?t=hiray", nil)
	if id, _ := r.Resolve(req); id != "hiray" {
		t.Fatalf("short query param: got %q", id)
	}
}

func TestResolveHeaderPrecedesToken(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	r := New(fakeLookup{}, secret, nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenantId": "fromtoken"})
	signed, _ := tok.SignedString([]byte(secret))

	req := httptest.NewRequest("GET", "http://localhost/", nil)
	req.Header.Set("X-Tenant-ID", "fromheader")
	req.Header.Set("Authorization", "Bearer "+signed)
	id, method := r.Resolve(req)
	if id != "fromheader" || method != MethodHeader {
		t.Fatalf("got (%q, %q), want header precedence", id, method)
	}
}

func TestSkipPath(t *testing.T) {
	r := New(fakeLookup{}, "", []string{"/custom"})

	skip := []string{
		"/api/health",
		"/api/system/info",
		"/_next/static/chunk.js",
		"/favicon.ico",
		"/.well-known/acme-challenge/token",
		"/custom",
		"/custom/sub",
	}
	for _, p := range skip {
		if !r.SkipPath(p) {
			t.Errorf("SkipPath(%q) = false, want true", p)
		}
	}

	serve := []string{"/", "/dashboard", "/api/pages", "/customer"}
	for _, p := range serve {
		if r.SkipPath(p) {
			t.Errorf("SkipPath(%q) = true, want false", p)
		}
	}
}
