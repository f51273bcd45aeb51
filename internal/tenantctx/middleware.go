// internal/tenantctx/middleware.go
//
// Context materialiser middleware.
//
// Context
// -------
// For every non-bypassed request the middleware runs, in order: identify
// the tenant, load its descriptor, gate on status, build the env view,
// obtain the pool, attach the Context, and annotate the response.  The
// first failure halts the chain with the typed error surface.  With
// RequireTenant set (the shipped default) an unidentified request is
// refused outright; clearing it is a dev-mode concession that lets such
// requests pass through untenanted, optionally substituting
// FallbackTenant.
//
// Ordering guarantee: the descriptor used for a request is the snapshot
// visible at load time.  A concurrent admin update produces the new
// descriptor for the next request but never splices into this one.
//
// Notes
// -----
//   - The env view is request-scoped.  LegacyApplyEnv copies it into the
//     process environment for collaborators that cannot accept the
//     context; it is off by default and not part of the supported path.
package tenantctx

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/requestinfo"
	"github.com/WhitecodeAi/aicms-core/internal/resolver"
	"github.com/WhitecodeAi/aicms-core/internal/security"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// MethodFallback marks a dev-mode substitution rather than a resolver hit.
const MethodFallback = resolver.Method("fallback")

// Deps wires the materialiser; all services are process-wide singletons
// with explicit lifecycle, injected here rather than reached ambiently.
type Deps struct {
	Store    *tenant.Store
	Resolver *resolver.Resolver
	Env      *envfile.Manager
	Mapper   *domainmap.Mapper
	Pools    *pool.Manager

	// Limiter, when set, also enforces each descriptor's own rateLimit
	// policy on top of the per-IP ingress budget.
	Limiter *security.RateLimiter

	RequireTenant  bool
	FallbackTenant string
	LegacyApplyEnv bool
}

// Materialise returns the middleware running the seven-step pipeline.
func Materialise(d Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d.Resolver.SkipPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// 1. Identify.
			id, method := d.Resolver.Resolve(r)
			if id == "" {
				if d.FallbackTenant != "" && !d.RequireTenant {
					id, method = d.FallbackTenant, MethodFallback
				} else if d.RequireTenant {
					errdefs.WriteJSON(w, errdefs.New(errdefs.KindTenantRequired,
						"no tenant could be identified for this request"))
					return
				} else {
					next.ServeHTTP(w, r)
					return
				}
			}

			// 2. Descriptor snapshot.
			desc, err := d.Store.Get(id)
			if err != nil {
				fail(w, r, id, err)
				return
			}
			if desc == nil && method == resolver.MethodSubdomain {
				// The subdomain label need not equal the tenant id.
				desc, err = d.Store.FindBySubdomain(id)
				if err != nil {
					fail(w, r, id, err)
					return
				}
			}
			if desc == nil {
				errdefs.WriteJSON(w, errdefs.Newf(errdefs.KindTenantNotFound,
					"tenant %q not found", id).WithTenant(id))
				return
			}

			// 3. Status gate.
			if desc.Status != tenant.StatusActive {
				errdefs.WriteJSON(w, errdefs.Newf(errdefs.KindTenantUnavailable,
					"tenant %q is %s", desc.TenantID, desc.Status).
					WithTenant(desc.TenantID).
					WithDetail("status", string(desc.Status)))
				return
			}

			// 3b. Tenant budget, when the descriptor declares one.
			if d.Limiter != nil {
				if p := desc.Security.RateLimit; p.Requests > 0 {
					dec := d.Limiter.AllowPolicy("tenant:"+desc.TenantID, p.Requests,
						time.Duration(p.WindowMS)*time.Millisecond)
					if !dec.Allowed {
						security.Audit(security.EventRateLimit, desc.TenantID, map[string]any{
							"path": r.URL.Path, "scope": "tenant",
						})
						errdefs.WriteJSON(w, errdefs.Newf(errdefs.KindRateLimit,
							"tenant %q request budget exhausted", desc.TenantID).
							WithTenant(desc.TenantID))
						return
					}
				}
			}

			// 4. Request-scoped env view.
			env := d.loadEnv(r.Host)
			if d.LegacyApplyEnv {
				for k, v := range env {
					os.Setenv(k, v)
				}
			}

			// 5. Pool.
			db, err := d.Pools.Get(r.Context(), desc.TenantID, desc.Database)
			if err != nil {
				fail(w, r, desc.TenantID, err)
				return
			}

			// 6. Attach.
			tc := &Context{
				TenantID:  desc.TenantID,
				Subdomain: desc.Subdomain,
				Method:    method,
				Config:    desc,
				Env:       env,
				DB:        db,
			}

			// 7. Annotate.  Public annotations carry no secrets.
			w.Header().Set("X-Tenant-ID", desc.TenantID)
			w.Header().Set("X-Tenant-Method", string(method))

			security.Audit(security.EventTenantAccess, desc.TenantID, map[string]any{
				"method": string(method),
				"path":   r.URL.Path,
			})

			next.ServeHTTP(w, r.WithContext(With(r.Context(), tc)))
		})
	}
}

// loadEnv resolves the request host to a domain mapping and parses its
// env file.  A missing mapping or file is not fatal on the hot path.
func (d Deps) loadEnv(host string) map[string]string {
	if d.Mapper == nil || d.Env == nil {
		return nil
	}
	entry, err := d.Mapper.Resolve(host)
	if err != nil || entry == nil || !entry.IsActive {
		return nil
	}
	env, err := d.Env.Load(entry.Domain)
	if err != nil {
		zap.S().Debugw("env load skipped", "domain", entry.Domain, "err", err)
		return nil
	}
	security.Audit(security.EventConfigLoaded, "", map[string]any{
		"domain": entry.Domain, "keys": len(env),
	})
	return env
}

// fail logs an unexpected hot-path failure with full request identity and
// renders the typed surface.
func fail(w http.ResponseWriter, r *http.Request, tenantID string, err error) {
	info := requestinfo.FromContext(r.Context())
	fields := []any{"tenant", tenantID, "err", err}
	if info != nil {
		fields = append(fields,
			"request_id", info.ID, "ip", info.IP,
			"method", info.Method, "path", info.Path)
	}
	zap.S().Errorw("tenant context failed", fields...)
	errdefs.WriteJSON(w, err)
}
