// internal/config/model.go
//
// Typed configuration model for the platform process.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `conf/.env`                    – dotenv values,
//   • `conf/global.yaml`                      – primary static file,
//   • `AICMS_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *after* unmarshalling, so secrets such as the
// provisioning admin password stay out of flat files and git history.
//
// Validation happens immediately after unmarshal; the process fails fast
// if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`
}

//
// Tenancy section
//

// Tenancy controls identification and the request-context materialiser.
type Tenancy struct {
	// ConfigRoot holds `<tenantId>.json` descriptors and
	// domain-mappings.json.  Relative paths resolve against Paths.Root.
	ConfigRoot string `koanf:"config_root" validate:"required"`
	// EnvRoot is where per-domain `.env.<strippedDomain>` files live.
	EnvRoot string `koanf:"env_root"`
	// RequireTenant refuses requests no strategy could identify.  The
	// shipped global.yaml enables it; turning it off is for dev setups.
	RequireTenant bool `koanf:"require_tenant"`
	// FallbackTenant substitutes for unresolved requests in dev setups.
	// Ignored when RequireTenant is true.
	FallbackTenant string `koanf:"fallback_tenant"`
	// SkipPaths is merged into the built-in identification bypass list.
	SkipPaths []string `koanf:"skip_paths"`
	// LegacyApplyEnv copies the tenant env into the process environment.
	// Off by default; request-scoped env is the supported path.
	LegacyApplyEnv bool `koanf:"legacy_apply_env"`
	// JWTSecret verifies bearer-token identification (strategy 4).
	JWTSecret string        `koanf:"jwt_secret"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

//
// Pools section
//

// Pools bounds the multi-tenant connection-pool manager.
type Pools struct {
	MaxTotal     int           `koanf:"max_total"`
	MaxPerTenant int           `koanf:"max_per_tenant"`
	MaxIdle      time.Duration `koanf:"max_idle"`
	ReapInterval time.Duration `koanf:"reap_interval"`
}

//
// Security section
//

// Security holds the ingress rate-limit policy and IP allow-list.
type Security struct {
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	AllowCIDRs        []string      `koanf:"allow_cidrs"`
}

//
// Provisioning section
//

// Provisioning configures the admin DSN used to create tenant databases
// and users.  AdminPassword may be a `vault:mount/path#key` reference; a
// literal `%s` in AdminDSN is substituted with the resolved password.
type Provisioning struct {
	AdminDSN      string `koanf:"admin_dsn"`
	AdminPassword string `koanf:"admin_password"`
	// BaseDomain hosts subdomain tenants ("<sub>.<BaseDomain>").
	BaseDomain string `koanf:"base_domain"`
	// DBHost/DBPort are written into new tenant descriptors.
	DBHost string `koanf:"db_host"`
	DBPort int    `koanf:"db_port"`
	// SchemaFile is an optional SQL file run inside each new database.
	SchemaFile string `koanf:"schema_file"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or AICMS_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // AICMS_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP         HTTP         `koanf:"http"`
	Tenancy      Tenancy      `koanf:"tenancy"`
	Pools        Pools        `koanf:"pools"`
	Security     Security     `koanf:"security"`
	Provisioning Provisioning `koanf:"provisioning"`
	Paths        Paths        `koanf:"-"` // not loaded from config files
}
