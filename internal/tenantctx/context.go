// internal/tenantctx/context.go
//
// Request-scoped tenant context.
//
// The Context binds one resolved tenant to one HTTP request: descriptor
// snapshot, request-scoped env view, and a borrowed pool handle.  It is
// created by the Materialise middleware, lives exactly as long as the
// request, and is never shared across requests.  The pool is owned by the
// pool manager and outlives the context.
package tenantctx

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/WhitecodeAi/aicms-core/internal/resolver"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// Context is created once per tenant-scoped request.
type Context struct {
	TenantID  string
	Subdomain string
	Method    resolver.Method
	// Config is a read-only snapshot; admin updates become visible to
	// later requests only, never mid-request.
	Config *tenant.Descriptor
	// Env is the request-scoped environment view for the tenant's domain.
	Env map[string]string
	// DB is borrowed from the pool manager; callers must not Close it.
	DB *sqlx.DB
}

type ctxKey struct{}

// With stores tc in ctx.
func With(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the tenant context attached by Materialise, or nil
// on bypass paths.
func FromContext(ctx context.Context) *Context {
	v, _ := ctx.Value(ctxKey{}).(*Context)
	return v
}
