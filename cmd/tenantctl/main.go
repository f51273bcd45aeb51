// cmd/tenantctl/main.go
//
// tenantctl – operator CLI for tenant administration.
//
// Context
// -------
// Wraps the same admin service the HTTP /admin family uses, so CLI and
// API behaviour never drift.  When conf/global.yaml carries an admin DSN
// the CLI provisions real databases; otherwise it degrades to descriptor
// and env-file management only.
//
// Exit codes
// ----------
//
//	0  success
//	1  general failure
//	2  validation failure
//	3  tenant not found
//	4  file I/O failure
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/WhitecodeAi/aicms-core/internal/admin"
	"github.com/WhitecodeAi/aicms-core/internal/config"
	"github.com/WhitecodeAi/aicms-core/internal/domainmap"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

const (
	exitOK         = 0
	exitGeneral    = 1
	exitValidation = 2
	exitNotFound   = 3
	exitIO         = 4
)

// app bundles the services every subcommand needs.
type app struct {
	cfg    *config.Config
	store  *tenant.Store
	mapper *domainmap.Mapper
	env    *envfile.Manager
	pools  *pool.Manager
	svc    *admin.Service

	adminDB *sqlx.DB
}

func newApp() (*app, error) {
	// The CLI stays quiet; zap's global no-op absorbs library logging.
	zap.ReplaceGlobals(zap.NewNop())

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := tenant.NewStore(cfg.Tenancy.ConfigRoot, cfg.Tenancy.CacheTTL)
	if err != nil {
		return nil, err
	}
	mapper := domainmap.New(cfg.Tenancy.ConfigRoot)
	env := envfile.New(cfg.Tenancy.EnvRoot, mapper)
	pools := pool.New(pool.Options{
		MaxTotal:     cfg.Pools.MaxTotal,
		MaxPerTenant: cfg.Pools.MaxPerTenant,
		MaxIdle:      cfg.Pools.MaxIdle,
		ReapInterval: cfg.Pools.ReapInterval,
	})

	var prov admin.Provisioner = admin.NoopProvisioner{}
	var adminDB *sqlx.DB
	if cfg.Provisioning.AdminDSN != "" {
		adminDB, err = sqlx.Connect("mysql", cfg.Provisioning.AdminDSN)
		if err != nil {
			return nil, err
		}
		prov = &admin.SQLProvisioner{Admin: adminDB}
	}

	svc := admin.New(store, env, mapper, pools, prov, nil, admin.Options{
		BaseDomain: cfg.Provisioning.BaseDomain,
		DBHost:     cfg.Provisioning.DBHost,
		DBPort:     cfg.Provisioning.DBPort,
	})

	return &app{
		cfg: cfg, store: store, mapper: mapper, env: env,
		pools: pools, svc: svc, adminDB: adminDB,
	}, nil
}

func (a *app) close() {
	a.pools.Shutdown()
	if a.adminDB != nil {
		_ = a.adminDB.Close()
	}
}

// exitFor maps a typed error onto the documented exit codes.
func exitFor(err error) int {
	if err == nil {
		return exitOK
	}
	switch errdefs.AsError(err).Kind {
	case errdefs.KindTenantConfig:
		return exitValidation
	case errdefs.KindTenantNotFound:
		return exitNotFound
	default:
		if os.IsNotExist(err) || os.IsPermission(err) {
			return exitIO
		}
		return exitGeneral
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitFor(err))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func main() {
	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Administer tenants: descriptors, env files, databases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		createCmd(), listCmd(), getCmd(),
		suspendCmd(), activateCmd(), archiveCmd(), deleteCmd(),
		exportCmd(), envCmd(), healthCmd(),
	)

	if err := root.Execute(); err != nil {
		fail(err)
	}
}

func createCmd() *cobra.Command {
	var req tenant.CreateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new tenant end to end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.svc.Create(cmd.Context(), &req)
			if err != nil {
				return err
			}
			fmt.Printf("tenant %q created (status %s)\n", d.TenantID, d.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&req.Subdomain, "subdomain", "", "subdomain label (required)")
	cmd.Flags().StringVar(&req.Domain, "domain", "", "custom domain (optional)")
	cmd.Flags().StringVar(&req.Tier, "tier", "starter", "limits preset: starter|professional|enterprise")
	cmd.Flags().StringVar(&req.AdminEmail, "admin-email", "", "initial admin email (required)")
	cmd.Flags().StringVar(&req.AdminPassword, "admin-password", "", "initial admin password (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("subdomain")
	_ = cmd.MarkFlagRequired("admin-email")
	_ = cmd.MarkFlagRequired("admin-password")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			sums, err := a.svc.ListSummary(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sums {
				host := s.Domain
				if host == "" {
					host = s.Subdomain
				}
				fmt.Printf("%-24s %-12s %-30s %s\n", s.TenantID, s.Status, host, s.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show one tenant descriptor (secrets redacted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			raw, err := a.svc.ExportConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
}

func suspendCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "suspend <tenant-id>",
		Short: "Suspend an active tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.svc.Suspend(cmd.Context(), args[0], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "audit note")
	return cmd
}

func activateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <tenant-id>",
		Short: "Activate a suspended or pending tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.svc.Activate(cmd.Context(), args[0])
		},
	}
}

func archiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <tenant-id>",
		Short: "Archive a tenant (terminal state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.svc.Archive(cmd.Context(), args[0], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "audit note")
	return cmd
}

func deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant: pools, database, env files, descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.svc.Delete(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <tenant-id>",
		Short: "Export a redacted descriptor to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			raw, err := a.svc.ExportConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Println(string(raw))
				return nil
			}
			return os.WriteFile(out, raw, 0o600)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func envCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage per-domain env files",
	}
	cmd.AddCommand(envGenerateCmd(), envValidateCmd(), envListCmd())
	return cmd
}

func envGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <tenant-id>",
		Short: "Regenerate the env-file pair from the stored descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			adm, web, err := a.env.GeneratePair(a.cfg.Provisioning.BaseDomain, d.TenantID, envfile.Template{
				TenantID:      d.TenantID,
				TenantName:    d.Name,
				Database:      d.Database,
				JWTSecret:     d.Security.JWTSecret,
				EncryptionKey: d.Security.EncryptionKey,
				SessionSecret: d.Security.SessionSecret,
				AppURL:        "https://" + primaryHost(d, a.cfg.Provisioning.BaseDomain),
			})
			if err != nil {
				return err
			}
			fmt.Println("wrote", adm.EnvPath)
			fmt.Println("wrote", web.EnvPath)
			return nil
		},
	}
}

func envValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <domain>",
		Short: "Validate an env file for required keys and sane values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			v, err := a.env.Validate(args[0])
			if err != nil {
				return err
			}
			printJSON(v)
			if !v.Valid {
				os.Exit(exitValidation)
			}
			return nil
		},
	}
}

func envListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known env files with mapping state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			infos, err := a.env.List()
			if err != nil {
				return err
			}
			printJSON(infos)
			return nil
		},
	}
}

// primaryHost prefers the custom domain, falling back to the subdomain
// under the platform base domain.
func primaryHost(d *tenant.Descriptor, baseDomain string) string {
	if d.Domain != "" {
		return d.Domain
	}
	return d.Subdomain + "." + baseDomain
}

func healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every active tenant database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rep, err := a.svc.HealthCheck(ctx)
			if err != nil {
				return err
			}
			printJSON(rep)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall probe deadline")
	return cmd
}
