// internal/resolver/resolver.go
//
// Tenant identification pipeline.
//
// Context
// -------
// Given one HTTP request, the Resolver tries six strategies in a fixed
// order and stops at the first hit:
//
//  1. custom domain   – host equals some descriptor's `domain`
//  2. subdomain       – first label of a ≥3-label host
//  3. header          – X-Tenant-ID
//  4. bearer token    – JWT claim tenantId / tenant
//  5. path prefix     – /tenant/<id>
//  6. query parameter – ?tenant= or ?t=
//
// The order is part of the platform contract: custom domain strictly
// precedes subdomain.  Additional strategies, if ever added, append to
// the end.  The pipeline is stateless and side-effect-free; counters are
// the only instrumentation.
//
// Notes
// -----
package resolver

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/WhitecodeAi/aicms-core/internal/metrics"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// Method names the strategy that produced a tenant id.
type Method string

const (
	MethodCustomDomain Method = "custom_domain"
	MethodSubdomain    Method = "subdomain"
	MethodHeader       Method = "header"
	MethodToken        Method = "token"
	MethodPath         Method = "path"
	MethodQuery        Method = "query"
	MethodNone         Method = "none"
)

// routingReserved are host labels that never identify a tenant via the
// subdomain strategy.  This is the short routing list; the full
// reserved-subdomain list in internal/tenant governs provisioning.
var routingReserved = map[string]struct{}{
	"www": {}, "api": {}, "admin": {}, "app": {}, "mail": {}, "ftp": {},
}

var (
	tenantIDRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)
	pathPrefixRe = regexp.MustCompile(`^/tenant/([^/]+)`)
)

// defaultSkipPaths bypass identification entirely.
var defaultSkipPaths = []string{
	"/api/health",
	"/api/system",
	"/api/admin/tenants",
	"/_next",
	"/favicon.ico",
	"/robots.txt",
	"/sitemap.xml",
	"/.well-known/",
}

// DomainLookup is the slice of the descriptor store the resolver needs.
type DomainLookup interface {
	FindByDomain(domain string) (*tenant.Descriptor, error)
}

// Resolver runs the identification pipeline.
type Resolver struct {
	store     DomainLookup
	jwtSecret []byte
	skip      []string
}

// New builds a Resolver.  jwtSecret may be empty, which disables the
// bearer strategy.  extraSkip is merged into the built-in bypass list.
func New(store DomainLookup, jwtSecret string, extraSkip []string) *Resolver {
	skip := make([]string, 0, len(defaultSkipPaths)+len(extraSkip))
	skip = append(skip, defaultSkipPaths...)
	skip = append(skip, extraSkip...)
	return &Resolver{store: store, jwtSecret: []byte(jwtSecret), skip: skip}
}

// SkipPath reports whether p bypasses tenant identification.
func (r *Resolver) SkipPath(p string) bool {
	for _, s := range r.skip {
		if strings.HasSuffix(s, "/") {
			if strings.HasPrefix(p, s) {
				return true
			}
			continue
		}
		if p == s || strings.HasPrefix(p, s+"/") {
			return true
		}
	}
	return false
}

// Resolve returns the tenant id for req and the strategy that found it,
// or ("", MethodNone).
func (r *Resolver) Resolve(req *http.Request) (string, Method) {
	host := stripPort(req.Host)

	if id := r.byCustomDomain(host); id != "" {
		return r.hit(id, MethodCustomDomain)
	}
	if id := bySubdomain(host); id != "" {
		return r.hit(id, MethodSubdomain)
	}
	if id := byHeader(req); id != "" {
		return r.hit(id, MethodHeader)
	}
	if id := r.byBearer(req); id != "" {
		return r.hit(id, MethodToken)
	}
	if id := byPath(req.URL.Path); id != "" {
		return r.hit(id, MethodPath)
	}
	if id := byQuery(req); id != "" {
		return r.hit(id, MethodQuery)
	}
	return "", MethodNone
}

func (r *Resolver) hit(id string, m Method) (string, Method) {
	metrics.ResolutionsTotal.WithLabelValues(string(m)).Inc()
	return id, m
}

//
// strategies
//

func (r *Resolver) byCustomDomain(host string) string {
	if r.store == nil || host == "" {
		return ""
	}
	d, err := r.store.FindByDomain(host)
	if err != nil || d == nil {
		return ""
	}
	return d.TenantID
}

func bySubdomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	first := labels[0]
	if _, reserved := routingReserved[first]; reserved || first == "" {
		return ""
	}
	return first
}

func byHeader(req *http.Request) string {
	id := req.Header.Get("X-Tenant-ID")
	if id == "" || !tenantIDRe.MatchString(id) {
		return ""
	}
	return id
}

func (r *Resolver) byBearer(req *http.Request) string {
	if len(r.jwtSecret) == 0 {
		return ""
	}
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	raw := strings.TrimSpace(auth[len(prefix):])

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return r.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !tok.Valid {
		return ""
	}

	id, _ := claims["tenantId"].(string)
	if id == "" {
		id, _ = claims["tenant"].(string)
	}
	if !tenantIDRe.MatchString(id) {
		return ""
	}
	return id
}

func byPath(p string) string {
	m := pathPrefixRe.FindStringSubmatch(p)
	if m == nil {
		return ""
	}
	return m[1]
}

func byQuery(req *http.Request) string {
	q := req.URL.Query()
	if id := q.Get("tenant"); id != "" {
		return id
	}
	return q.Get("t")
}

// stripPort removes the :port suffix from Host when present.
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i != -1 {
		return h[:i]
	}
	return h
}
