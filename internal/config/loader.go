// internal/config/loader.go
//
// Configuration loader and hot-reloader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file — `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `AICMS_`, where `__` maps to “.”
     (e.g., `AICMS_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
validated, enriched with the runtime root path and defaults, and cached in
an `atomic.Pointer` for lock-free reads.  `Reload()` simply calls `Load()`
again and swaps the pointer.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`;
    this lets `go run ./cmd/server` work from any sub-directory.
  • `vault:`-prefixed values are resolved lazily by the provisioner, not
    here, so a missing Vault server only breaks provisioning.
*/
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves AICMS_ROOT or climbs directories until conf/global.yaml
// is found.  Falls back to executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("AICMS_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, validates, and caches Config.
func Load() (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: AICMS_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("AICMS_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	applyDefaults(&cfg)
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"config_root", cfg.Tenancy.ConfigRoot,
		"require_tenant", cfg.Tenancy.RequireTenant,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// applyDefaults fills zero values with the documented defaults and
// resolves relative roots against Paths.Root.
func applyDefaults(c *Config) {
	if c.Tenancy.CacheTTL == 0 {
		c.Tenancy.CacheTTL = 5 * time.Minute
	}
	if c.Tenancy.EnvRoot == "" {
		c.Tenancy.EnvRoot = c.Paths.Root
	}
	if !filepath.IsAbs(c.Tenancy.ConfigRoot) {
		c.Tenancy.ConfigRoot = filepath.Join(c.Paths.Root, c.Tenancy.ConfigRoot)
	}
	if !filepath.IsAbs(c.Tenancy.EnvRoot) {
		c.Tenancy.EnvRoot = filepath.Join(c.Paths.Root, c.Tenancy.EnvRoot)
	}
	if c.Pools.MaxTotal == 0 {
		c.Pools.MaxTotal = 50
	}
	if c.Pools.MaxPerTenant == 0 {
		c.Pools.MaxPerTenant = 5
	}
	if c.Pools.MaxIdle == 0 {
		c.Pools.MaxIdle = 30 * time.Minute
	}
	if c.Pools.ReapInterval == 0 {
		c.Pools.ReapInterval = 5 * time.Minute
	}
	if c.Security.RateLimitRequests == 0 {
		c.Security.RateLimitRequests = 100
	}
	if c.Security.RateLimitWindow == 0 {
		c.Security.RateLimitWindow = 15 * time.Minute
	}
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
