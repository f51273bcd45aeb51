// internal/pool/classify.go
//
// Driver-error classification at the component edge.
//
// Context
// -------
// Raw driver errors never leave this package untyped.  Classify folds
// MySQL error numbers, pgx wire errors, and transport failures into the
// platform taxonomy:
//
//	connection refused / timeout   → DATABASE_CONNECTION_FAILED
//	access denied (1044, 1045)     → UNAUTHORIZED_TENANT_ACCESS
//	unknown database (1049)        → TENANT_DATABASE_ERROR
//	too many connections (1040)    → DATABASE_CONNECTION_FAILED
//	anything else                  → TENANT_DATABASE_ERROR
package pool

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
)

// Classify maps a driver error onto the platform taxonomy.  A nil input
// returns nil, so callers may classify unconditionally.
func Classify(err error) *errdefs.Error {
	if err == nil {
		return nil
	}

	var typed *errdefs.Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errdefs.Wrap(errdefs.KindDBConnection, "database operation timed out", err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045: // access denied for user / to database
			return errdefs.Wrap(errdefs.KindUnauthorized, "database access denied", err)
		case 1049: // unknown database
			return errdefs.Wrap(errdefs.KindTenantDatabase, "unknown database", err)
		case 1040, 1203: // too many connections / user connections
			return errdefs.Wrap(errdefs.KindDBConnection, "too many database connections", err)
		}
		return errdefs.Wrap(errdefs.KindTenantDatabase, "database error", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01": // invalid authorization / password
			return errdefs.Wrap(errdefs.KindUnauthorized, "database access denied", err)
		case "3D000": // invalid catalog name
			return errdefs.Wrap(errdefs.KindTenantDatabase, "unknown database", err)
		case "53300": // too many connections
			return errdefs.Wrap(errdefs.KindDBConnection, "too many database connections", err)
		}
		return errdefs.Wrap(errdefs.KindTenantDatabase, "database error", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errdefs.Wrap(errdefs.KindDBConnection, "database unreachable", err)
	}
	if msg := err.Error(); strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout") {
		return errdefs.Wrap(errdefs.KindDBConnection, "database unreachable", err)
	}

	return errdefs.Wrap(errdefs.KindTenantDatabase, "database error", err)
}
