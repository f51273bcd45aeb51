// internal/admin/provision.go
//
// Tenant database provisioning against the control-plane DB server.
//
// Context
// -------
// The provisioner connects to the DB server's system database with admin
// credentials and materialises a tenant: CREATE DATABASE with UTF-8
// collation, CREATE USER, GRANT, then the baseline schema DDL supplied by
// the caller.  The DDL itself is an external collaborator; this component
// only runs the statements it is handed.
//
// Identifier safety: database and user names are derived from validated
// tenant ids ([a-z0-9-]), with hyphens mapped to underscores, so they can
// be spliced into DDL where placeholders are not accepted.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/security"
)

// Provisioner creates and destroys tenant databases and users.
type Provisioner interface {
	// Provision creates the database, the user, and the grants, then
	// runs the baseline DDL inside the new database.
	Provision(ctx context.Context, dbName, user, password string, ddl []string) error
	// Deprovision drops the user and the database.  Absence is success.
	Deprovision(ctx context.Context, dbName, user string) error
}

// SQLProvisioner provisions against MySQL/MariaDB using an admin pool.
type SQLProvisioner struct {
	Admin *sqlx.DB
	// AllowedHost is the host part of created users ('%' by default).
	AllowedHost string
}

func (p *SQLProvisioner) host() string {
	if p.AllowedHost == "" {
		return "%"
	}
	return p.AllowedHost
}

// ident normalises a validated tenant-derived name into a safe SQL
// identifier.
func ident(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// Provision implements Provisioner.
func (p *SQLProvisioner) Provision(ctx context.Context, dbName, user, password string, ddl []string) error {
	db, usr := ident(dbName), ident(user)

	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", db),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%s' IDENTIFIED BY '%s'", usr, p.host(), password),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%s'", db, usr, p.host()),
		"FLUSH PRIVILEGES",
	}
	for _, s := range stmts {
		if _, err := p.Admin.ExecContext(ctx, s); err != nil {
			return pool.Classify(err)
		}
	}

	security.Audit(security.EventDBConnection, "", map[string]any{
		"action": "provision", "database": db, "user": usr,
	})

	if len(ddl) == 0 {
		return nil
	}
	// Run the baseline schema inside the new database on a dedicated
	// connection so USE does not leak into the admin pool.
	conn, err := p.Admin.Connx(ctx)
	if err != nil {
		return pool.Classify(err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("USE `%s`", db)); err != nil {
		return pool.Classify(err)
	}
	for _, s := range ddl {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			return errdefs.Wrap(errdefs.KindTenantCreation, "baseline schema failed", err)
		}
	}
	return nil
}

// NoopProvisioner satisfies Provisioner without touching any DB server.
// Used by file-only installs and the CLI when no admin DSN is configured;
// descriptors and env files are still written, databases are expected to
// exist already or be created out of band.
type NoopProvisioner struct{}

func (NoopProvisioner) Provision(context.Context, string, string, string, []string) error {
	return nil
}

func (NoopProvisioner) Deprovision(context.Context, string, string) error { return nil }

// Deprovision implements Provisioner.
func (p *SQLProvisioner) Deprovision(ctx context.Context, dbName, user string) error {
	db, usr := ident(dbName), ident(user)
	stmts := []string{
		fmt.Sprintf("DROP USER IF EXISTS '%s'@'%s'", usr, p.host()),
		fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", db),
		"FLUSH PRIVILEGES",
	}
	for _, s := range stmts {
		if _, err := p.Admin.ExecContext(ctx, s); err != nil {
			return pool.Classify(err)
		}
	}
	security.Audit(security.EventDBConnection, "", map[string]any{
		"action": "deprovision", "database": db, "user": usr,
	})
	return nil
}
