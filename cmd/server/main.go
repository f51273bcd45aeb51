// cmd/server/main.go
//
// AiCMS core – HTTP entry point.
//
// Startup sequence
// ----------------
//
//  1. Load layered configuration (conf/.env → conf/global.yaml → AICMS_*).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Resolve the provisioning admin password, via Vault when the value
//     carries a `vault:` prefix, and open the control-plane admin pool.
//     Without an admin DSN the process still serves traffic; provisioning
//     degrades to descriptor-and-env-file-only (NoopProvisioner).
//
//  4. Build the tenant plumbing: descriptor store, domain mapper, env-file
//     manager, resolver, pool manager, and admin service.
//
//  5. Assemble the router (security headers, allow-list, rate limiter,
//     materialiser) and serve with hardened timeouts.
//
//  6. On SIGINT/SIGTERM, drain HTTP with a deadline, then close every
//     tenant pool and flush the log.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/WhitecodeAi/aicms-core/internal/admin"
	"github.com/WhitecodeAi/aicms-core/internal/config"
	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/logger"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/resolver"
	"github.com/WhitecodeAi/aicms-core/internal/security"
	"github.com/WhitecodeAi/aicms-core/internal/server"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
	"github.com/WhitecodeAi/aicms-core/internal/vault"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	//
	// ── 1.  Config + logger ─────────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	//
	// ── 2.  Provisioning admin pool (optional) ─────────────────────────
	//
	var provisioner admin.Provisioner = admin.NoopProvisioner{}
	var adminDB *sqlx.DB
	if dsn := cfg.Provisioning.AdminDSN; dsn != "" {
		resolved, err := resolveAdminDSN(ctx, cfg, logOut.Infof)
		if err != nil {
			logOut.Fatalw("resolve admin credentials", "err", err)
		}
		adminDB, err = sqlx.ConnectContext(ctx, "mysql", resolved)
		if err != nil {
			logOut.Fatalw("connect admin DB", "err", err)
		}
		provisioner = &admin.SQLProvisioner{Admin: adminDB}
		logOut.Infow("provisioning online", "host", cfg.Provisioning.DBHost)
	} else {
		logOut.Infow("no admin DSN; provisioning disabled")
	}
	if adminDB != nil {
		defer adminDB.Close()
	}

	//
	// ── 3.  Tenant plumbing ────────────────────────────────────────────
	//
	store, err := tenant.NewStore(cfg.Tenancy.ConfigRoot, cfg.Tenancy.CacheTTL)
	if err != nil {
		logOut.Fatalw("open descriptor store", "root", cfg.Tenancy.ConfigRoot, "err", err)
	}
	mapper := domainmap.New(cfg.Tenancy.ConfigRoot)
	envMgr := envfile.New(cfg.Tenancy.EnvRoot, mapper)
	res := resolver.New(store, cfg.Tenancy.JWTSecret, cfg.Tenancy.SkipPaths)

	pools := pool.New(pool.Options{
		MaxTotal:     cfg.Pools.MaxTotal,
		MaxPerTenant: cfg.Pools.MaxPerTenant,
		MaxIdle:      cfg.Pools.MaxIdle,
		ReapInterval: cfg.Pools.ReapInterval,
	})

	adminSvc := admin.New(store, envMgr, mapper, pools, provisioner, nil, admin.Options{
		BaseDomain: cfg.Provisioning.BaseDomain,
		SchemaDDL:  loadSchema(cfg.Provisioning.SchemaFile, logOut.Warnw),
		DBHost:     cfg.Provisioning.DBHost,
		DBPort:     cfg.Provisioning.DBPort,
	})

	//
	// ── 4.  Ingress ────────────────────────────────────────────────────
	//
	var allow *security.AllowList
	if len(cfg.Security.AllowCIDRs) > 0 {
		allow, err = security.NewAllowList(cfg.Security.AllowCIDRs)
		if err != nil {
			logOut.Fatalw("parse allow list", "err", err)
		}
	}
	limiter := security.NewRateLimiter(cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow)

	handler := server.NewRouter(server.Deps{
		Store:          store,
		Resolver:       res,
		Env:            envMgr,
		Mapper:         mapper,
		Pools:          pools,
		Admin:          adminSvc,
		RateLimiter:    limiter,
		AllowList:      allow,
		RequireTenant:  cfg.Tenancy.RequireTenant,
		FallbackTenant: cfg.Tenancy.FallbackTenant,
		LegacyApplyEnv: cfg.Tenancy.LegacyApplyEnv,
	})

	srv := server.NewHTTPServer(cfg.HTTP.ListenAddr, handler)

	//
	// ── 5.  Serve + graceful shutdown ──────────────────────────────────
	//
	errCh := make(chan error, 1)
	go func() {
		logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr, "version", server.Version)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logOut.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		logOut.Errorw("http server", "err", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logOut.Errorw("http drain", "err", err)
	}
	pools.Shutdown()
	logOut.Infow("goodbye")
}

// resolveAdminDSN resolves a `vault:mount/path#key` admin password and
// substitutes it into the DSN when the DSN carries a literal `%s`.
func resolveAdminDSN(ctx context.Context, cfg *config.Config, logFn func(string, ...any)) (string, error) {
	dsn := cfg.Provisioning.AdminDSN
	pass := cfg.Provisioning.AdminPassword

	if vault.IsRef(pass) {
		vc, err := vault.New(ctx, logFn)
		if err != nil {
			return "", err
		}
		pass, err = vc.Resolve(ctx, pass, time.Hour)
		if err != nil {
			return "", err
		}
	}

	if strings.Contains(dsn, "%s") {
		return fmt.Sprintf(dsn, pass), nil
	}
	return dsn, nil
}

// loadSchema reads the optional baseline-schema file and splits it into
// statements.  A missing file is a warning, not a fatal.
func loadSchema(path string, warn func(string, ...any)) []string {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		warn("schema file unreadable; provisioning will skip DDL", "file", path, "err", err)
		return nil
	}
	var stmts []string
	for _, s := range strings.Split(string(raw), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
