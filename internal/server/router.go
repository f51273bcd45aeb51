// internal/server/router.go
//
// Ingress route wiring.
//
// Context
// -------
// One chi router serves three route families:
//
//   - Public:       /health, /api/health, /metrics — bypass identification.
//   - Tenant-scoped: everything else, behind the materialiser.
//   - Admin:        /admin/** — bypass the materialiser and instead
//     require the fixed tenant id "admin" from the resolver.
//
// Middleware order matters: request enrichment first, then security
// headers, then the rate limiter, then materialisation, so a 429 carries
// headers and a request id, and bypass paths never pay the tenant cost.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WhitecodeAi/aicms-core/internal/admin"
	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/requestinfo"
	"github.com/WhitecodeAi/aicms-core/internal/resolver"
	"github.com/WhitecodeAi/aicms-core/internal/security"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
	"github.com/WhitecodeAi/aicms-core/internal/tenantctx"
)

// Version is stamped by the build; handlers echo it in health responses.
var Version = "dev"

// Deps aggregates the process-wide services the router needs.
type Deps struct {
	Store    *tenant.Store
	Resolver *resolver.Resolver
	Env      *envfile.Manager
	Mapper   *domainmap.Mapper
	Pools    *pool.Manager
	Admin    *admin.Service

	RateLimiter *security.RateLimiter
	AllowList   *security.AllowList

	RequireTenant  bool
	FallbackTenant string
	LegacyApplyEnv bool
}

// NewRouter assembles the full middleware chain and route table.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(requestinfo.Enrich)
	r.Use(SecurityHeaders)
	if d.AllowList != nil {
		r.Use(d.AllowList.Middleware)
	}
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	// Public endpoints sit on the resolver's bypass list.
	r.Get("/health", handleHealth)
	r.Get("/api/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Admin family: no materialisation, fixed admin tenant required.
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(requireAdmin(d.Resolver))
		h := &adminHandlers{svc: d.Admin, pools: d.Pools, env: d.Env}
		ar.Get("/tenants", h.list)
		ar.Post("/tenant/create", h.create)
		ar.Get("/tenant/{id}", h.get)
		ar.Put("/tenant/{id}", h.update)
		ar.Post("/tenant/{id}/suspend", h.suspend)
		ar.Post("/tenant/{id}/activate", h.activate)
		ar.Post("/tenant/{id}/archive", h.archive)
		ar.Delete("/tenant/{id}", h.delete)
		ar.Get("/tenant/{id}/export", h.export)
		ar.Get("/tenant/{id}/usage", h.usage)
		ar.Get("/tenant/{id}/limits", h.limits)
		ar.Get("/health", h.health)
		ar.Post("/query", h.query)
	})

	// Everything else is tenant-scoped.
	r.Group(func(tr chi.Router) {
		tr.Use(tenantctx.Materialise(tenantctx.Deps{
			Store:          d.Store,
			Resolver:       d.Resolver,
			Env:            d.Env,
			Mapper:         d.Mapper,
			Pools:          d.Pools,
			Limiter:        d.RateLimiter,
			RequireTenant:  d.RequireTenant,
			FallbackTenant: d.FallbackTenant,
			LegacyApplyEnv: d.LegacyApplyEnv,
		}))
		th := &tenantHandlers{pools: d.Pools}
		tr.Get("/tenant/info", th.info)
		tr.Get("/tenant/stats", th.stats)
		tr.NotFound(func(w http.ResponseWriter, req *http.Request) {
			// Downstream application handlers mount here in the full
			// deployment; the kernel alone answers 404.
			http.NotFound(w, req)
		})
	})

	return r
}

// requireAdmin gates the admin family on the fixed "admin" tenant id,
// resolved by header, bearer token, or query — never by subdomain games.
func requireAdmin(res *resolver.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := res.Resolve(r)
			if id != "admin" {
				security.Audit(security.EventUnauthorized, id, map[string]any{
					"path": r.URL.Path, "ip": requestinfo.ClientIP(r),
				})
				errdefs.WriteJSON(w, errdefs.New(errdefs.KindUnauthorized,
					"admin tenant required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
