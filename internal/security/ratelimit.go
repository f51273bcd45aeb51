// internal/security/ratelimit.go
//
// Fixed-window request rate limiter.
//
// Context
// -------
// Counters are keyed by client IP (or by tenant id for the descriptor-
// driven variant) and live in a sync.Map.  A counter belongs to one
// window; once the window lapses the next hit resets it, and a lazy sweep
// evicts counters whose window expired so the map never grows without
// bound.  The middleware sets X-RateLimit-{Limit,Remaining,Reset} on
// every response and Retry-After on a 429.
//
// The window algorithm is a deliberate fixed window, not a token bucket:
// the platform contract specifies window-reset semantics for the response
// headers.
package security

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/metrics"
	"github.com/WhitecodeAi/aicms-core/internal/requestinfo"
)

const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 15 * time.Minute
)

type window struct {
	start    int64 // UnixNano of window start
	count    int64 // atomic
	interval int64 // window length in ns, fixed at first hit
}

// RateLimiter is a fixed-window counter set.
type RateLimiter struct {
	limit    int
	interval time.Duration
	m        sync.Map // key → *window
	sweepAt  int64    // atomic UnixNano of next lazy sweep
}

// NewRateLimiter builds a limiter; zero arguments select the defaults.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if interval <= 0 {
		interval = DefaultRateWindow
	}
	return &RateLimiter{limit: limit, interval: interval}
}

// Decision reports one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Allow admits or rejects one hit for key under the process-wide policy.
func (rl *RateLimiter) Allow(key string) Decision {
	return rl.AllowPolicy(key, rl.limit, rl.interval)
}

// AllowPolicy admits one hit under a caller-supplied budget, keyed
// independently of the IP counters.  Descriptors with their own rateLimit
// policy go through here with a "tenant:"-prefixed key.  Non-positive
// arguments fall back to the limiter's own policy.
func (rl *RateLimiter) AllowPolicy(key string, limit int, interval time.Duration) Decision {
	if limit <= 0 {
		limit = rl.limit
	}
	if interval <= 0 {
		interval = rl.interval
	}
	now := time.Now()
	rl.maybeSweep(now)

	v, _ := rl.m.LoadOrStore(key, &window{start: now.UnixNano(), interval: int64(interval)})
	w := v.(*window)

	start := atomic.LoadInt64(&w.start)
	if now.UnixNano()-start >= w.interval {
		// Window lapsed: reset in place.  A racing reset is harmless —
		// both writers observe a fresh window.
		atomic.StoreInt64(&w.count, 0)
		atomic.StoreInt64(&w.start, now.UnixNano())
		start = now.UnixNano()
	}

	n := atomic.AddInt64(&w.count, 1)
	reset := time.Unix(0, start+w.interval)
	remaining := limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(n) <= limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// maybeSweep drops expired windows at most once per interval.
func (rl *RateLimiter) maybeSweep(now time.Time) {
	next := atomic.LoadInt64(&rl.sweepAt)
	if now.UnixNano() < next {
		return
	}
	if !atomic.CompareAndSwapInt64(&rl.sweepAt, next, now.Add(rl.interval).UnixNano()) {
		return
	}
	rl.m.Range(func(key, value any) bool {
		w := value.(*window)
		// A window is garbage once a full extra interval passed since it
		// started; an active key recreates its entry on the next hit.
		if now.UnixNano()-atomic.LoadInt64(&w.start) >= 2*w.interval {
			rl.m.Delete(key)
		}
		return true
	})
}

// Middleware enforces the limiter per client IP and decorates responses
// with the X-RateLimit header triple.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := requestinfo.ClientIP(r)
		d := rl.Allow(ip)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

		if !d.Allowed {
			metrics.RateLimitRejections.Inc()
			Audit(EventRateLimit, "", map[string]any{"ip": ip, "path": r.URL.Path})
			retry := int(time.Until(d.Reset).Seconds())
			if retry < 1 {
				retry = 1
			}
			h.Set("Retry-After", strconv.Itoa(retry))
			errdefs.WriteJSON(w, errdefs.New(errdefs.KindRateLimit, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
