// internal/security/audit.go
//
// Structured audit events.
//
// Audit events ride the process zap logger with a fixed `audit` field so
// downstream log pipelines can route them to the security sink.  Fields
// are scrubbed through RedactMap-style key matching before emission.
package security

import (
	"go.uber.org/zap"
)

// Event names the audit event classes.
type Event string

const (
	EventTenantAccess      Event = "TENANT_ACCESS"
	EventConfigLoaded      Event = "CONFIG_LOADED"
	EventDBConnection      Event = "DB_CONNECTION"
	EventRateLimit         Event = "RATE_LIMIT"
	EventUnauthorized      Event = "UNAUTHORIZED"
	EventSecurityViolation Event = "SECURITY_VIOLATION"
)

// Audit emits one structured audit event.  tenantID may be empty when the
// event precedes identification.
func Audit(ev Event, tenantID string, fields map[string]any) {
	kv := make([]any, 0, 2*(len(fields)+2))
	kv = append(kv, "audit", string(ev))
	if tenantID != "" {
		kv = append(kv, "tenant", tenantID)
	}
	for k, v := range fields {
		if sensitiveKeyRe.MatchString(k) {
			v = Redacted
		}
		kv = append(kv, k, v)
	}
	zap.S().Infow("audit", kv...)
}
