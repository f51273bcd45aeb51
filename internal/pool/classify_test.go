// internal/pool/classify_test.go
//
// Unit-tests for driver-error classification.
//
// Run: go test ./internal/pool -v

package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
)

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("nil must classify to nil")
	}
}

func TestClassifyPassesTypedThrough(t *testing.T) {
	orig := errdefs.New(errdefs.KindRateLimit, "already typed")
	if got := Classify(orig); got != orig {
		t.Fatalf("typed error must pass through, got %v", got)
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	e := Classify(fmt.Errorf("query: %w", context.DeadlineExceeded))
	if e.Kind != errdefs.KindDBConnection {
		t.Fatalf("deadline → %s, want DATABASE_CONNECTION_FAILED", e.Kind)
	}
}

func TestClassifyMySQLNumbers(t *testing.T) {
	cases := map[uint16]errdefs.Kind{
		1044: errdefs.KindUnauthorized,
		1045: errdefs.KindUnauthorized,
		1049: errdefs.KindTenantDatabase,
		1040: errdefs.KindDBConnection,
		1203: errdefs.KindDBConnection,
		1146: errdefs.KindTenantDatabase, // table doesn't exist → generic
	}
	for num, want := range cases {
		err := &mysql.MySQLError{Number: num, Message: "boom"}
		if got := Classify(err).Kind; got != want {
			t.Errorf("mysql %d → %s, want %s", num, got, want)
		}
	}
}

func TestClassifyPostgresCodes(t *testing.T) {
	cases := map[string]errdefs.Kind{
		"28000": errdefs.KindUnauthorized,
		"28P01": errdefs.KindUnauthorized,
		"3D000": errdefs.KindTenantDatabase,
		"53300": errdefs.KindDBConnection,
		"42P01": errdefs.KindTenantDatabase, // undefined table → generic
	}
	for code, want := range cases {
		err := &pgconn.PgError{Code: code, Message: "boom"}
		if got := Classify(err).Kind; got != want {
			t.Errorf("pg %s → %s, want %s", code, got, want)
		}
	}
}

func TestClassifyTransportStrings(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 127.0.0.1:3306: connection refused",
		"lookup db.internal: no such host",
		"read tcp: i/o timeout",
	} {
		if got := Classify(errors.New(msg)).Kind; got != errdefs.KindDBConnection {
			t.Errorf("%q → %s, want DATABASE_CONNECTION_FAILED", msg, got)
		}
	}
}

func TestClassifyCausePreserved(t *testing.T) {
	cause := &mysql.MySQLError{Number: 1045, Message: "denied"}
	e := Classify(cause)
	var back *mysql.MySQLError
	if !errors.As(e, &back) || back.Number != 1045 {
		t.Fatal("driver error must stay reachable through the wrapper")
	}
}
