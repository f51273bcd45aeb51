// internal/requestinfo/requestinfo.go
//
// Per-request metadata: request id, client IP, and timestamp.
//
// Context
// -------
// The Enrich middleware sits first in the chain.  It assigns a UUID
// request id (or adopts an inbound X-Request-ID), extracts the left-most
// client address from X-Forwarded-For or X-Real-IP with a fall back to
// RemoteAddr, and stores the record in the request context so error logs
// and audit events can always name the request they belong to.
//
// Notes
// -----
//   - The struct is inert: no handles, no large buffers, safe to log.
package requestinfo

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestInfo is attached to every inbound request.
type RequestInfo struct {
	ID        string
	IP        string
	Method    string
	Path      string
	Timestamp time.Time
}

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the record stored by Enrich, or nil.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// Enrich wraps an http.Handler, attaches *RequestInfo, and echoes the
// request id back on the response.
func Enrich(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		info := &RequestInfo{
			ID:        id,
			IP:        ClientIP(r),
			Method:    r.Method,
			Path:      r.URL.Path,
			Timestamp: time.Now().UTC(),
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP extracts the left-most address from X-Forwarded-For or
// X-Real-IP, falling back to r.RemoteAddr ("ip:port").
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
	}
	if xrip := r.Header.Get("X-Real-Ip"); xrip != "" {
		if ip := net.ParseIP(strings.TrimSpace(xrip)); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
