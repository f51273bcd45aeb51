// internal/security/redact.go
//
// Secret redaction for configuration crossing a trust boundary.
//
// Context
// -------
// Exports, response payloads, and log fields must never carry raw
// secrets.  RedactDescriptor deep-copies a descriptor through its JSON
// form and replaces the sensitive leaves; RedactMap walks arbitrary
// string-keyed maps and blanks any key matching (secret|key|password),
// case-insensitively.  Redaction is total: the original value is
// unrecoverable from the output.
package security

import (
	"encoding/json"
	"regexp"

	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// Redacted is the fixed marker substituted for secret values.
const Redacted = "[REDACTED]"

var sensitiveKeyRe = regexp.MustCompile(`(?i)(secret|key|password)`)

// RedactDescriptor returns a deep copy of d safe for export: the security
// triple, the API key, the database password, and the SMTP password are
// replaced with the redaction marker, and the free-form environment map
// is scrubbed by key pattern.
func RedactDescriptor(d *tenant.Descriptor) *tenant.Descriptor {
	if d == nil {
		return nil
	}

	// Deep copy through JSON; the descriptor is a plain data record.
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var out tenant.Descriptor
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	out.Security.JWTSecret = Redacted
	out.Security.EncryptionKey = Redacted
	out.Security.SessionSecret = Redacted
	if out.Security.APIKey != "" {
		out.Security.APIKey = Redacted
	}
	out.Database.Password = Redacted
	if out.SMTP != nil && out.SMTP.Password != "" {
		out.SMTP.Password = Redacted
	}
	if out.AdminUser != nil && out.AdminUser.PasswordHash != "" {
		out.AdminUser.PasswordHash = Redacted
	}
	out.Environment = RedactMap(out.Environment)
	return &out
}

// RedactMap blanks every value whose key looks sensitive.
func RedactMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if sensitiveKeyRe.MatchString(k) {
			out[k] = Redacted
		} else {
			out[k] = v
		}
	}
	return out
}
