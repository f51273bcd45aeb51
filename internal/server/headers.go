// internal/server/headers.go
//
// Security-header middleware.
//
// Context
// -------
// Every response leaving the router carries a baseline header set: HSTS,
// a self-only CSP, click-jacking and MIME-sniffing defences, a strict
// referrer policy, and a deny-by-default permissions policy.  Tenant
// domains terminate TLS at the proxy, so HSTS is still meaningful here.
//
// Notes
// -----
// • Headers are applied after next.ServeHTTP, and a header the handler
//   already set is left alone.
package server

import "net/http"

// baseline is applied to every response unless the handler set the
// header itself.
var baseline = [...][2]string{
	{"Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload"},
	{"Content-Security-Policy", "default-src 'self'; img-src 'self' data:; " +
		"object-src 'none'; base-uri 'self'; frame-ancestors 'none'"},
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

// SecurityHeaders sets the baseline security headers for every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		h := w.Header()
		for _, kv := range baseline {
			if h.Get(kv[0]) == "" {
				h.Set(kv[0], kv[1])
			}
		}
	})
}
