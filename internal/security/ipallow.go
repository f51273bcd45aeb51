// internal/security/ipallow.go
//
// Optional CIDR allow-list for the ingress.
package security

import (
	"net"
	"net/http"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/requestinfo"
)

// AllowList matches client IPs against a set of CIDR blocks.  An empty
// list allows everything.
type AllowList struct {
	nets []*net.IPNet
}

// NewAllowList parses CIDR strings; bare IPs get a /32 (or /128).
func NewAllowList(cidrs []string) (*AllowList, error) {
	al := &AllowList{}
	for _, c := range cidrs {
		if ip := net.ParseIP(c); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			al.nets = append(al.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		al.nets = append(al.nets, n)
	}
	return al, nil
}

// Contains reports whether ip is allowed.
func (al *AllowList) Contains(ip net.IP) bool {
	if len(al.nets) == 0 {
		return true
	}
	if ip == nil {
		return false
	}
	for _, n := range al.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests from outside the allow-list with 403.
func (al *AllowList) Middleware(next http.Handler) http.Handler {
	if len(al.nets) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipStr := requestinfo.ClientIP(r)
		if !al.Contains(net.ParseIP(ipStr)) {
			Audit(EventUnauthorized, "", map[string]any{"ip": ipStr, "path": r.URL.Path})
			errdefs.WriteJSON(w, errdefs.New(errdefs.KindUnauthorized, "source address not permitted"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
