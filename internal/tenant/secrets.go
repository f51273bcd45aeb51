// internal/tenant/secrets.go
//
// Entropy-backed secret generation shared by the admin service and the
// env-file manager.
package tenant

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomHex returns n random bytes hex-encoded (2n characters).  It
// panics only if the platform CSPRNG is broken, which is unrecoverable.
func RandomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// NewSecret returns a 32-byte secret as 64 hex characters, satisfying the
// minimum-length rule for jwtSecret, encryptionKey, and sessionSecret.
func NewSecret() string { return RandomHex(32) }

// NewDBPassword returns a 16-byte hex password for provisioned DB users.
func NewDBPassword() string { return RandomHex(16) }
