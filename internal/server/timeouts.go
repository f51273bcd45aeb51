// internal/server/timeouts.go
//
// Hardened *http.Server construction.  Multi-tenant ingress sits on the
// open internet, so slow-loris headers, unbounded responses, and idle
// keep-alives all get deadlines.
package server

import (
	"net/http"
	"time"
)

const (
	readTimeout  = 10 * time.Second // full request headers + body
	writeTimeout = 15 * time.Second // total response time
	idleTimeout  = 60 * time.Second // keep-alive reuse window
	headerBytes  = 1 << 20          // 1 MiB of headers is already hostile
)

// NewHTTPServer wraps handler in an *http.Server with the ingress
// deadlines applied.  Callers may still inject TLSConfig afterwards.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: headerBytes,
	}
}
