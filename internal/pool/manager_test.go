// internal/pool/manager_test.go
//
// Unit-tests for pool-manager behaviour that needs no live database:
// option defaults, driver mapping, identity reuse, and typed failures.
//
// Run: go test ./internal/pool -v

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

func TestOptionsFillDefaults(t *testing.T) {
	var o Options
	o.fill()
	if o.MaxTotal != DefaultMaxTotal || o.MaxPerTenant != DefaultMaxPerTenant {
		t.Errorf("count defaults: %+v", o)
	}
	if o.MaxIdle != DefaultMaxIdle || o.ReapInterval != DefaultReapInterval {
		t.Errorf("duration defaults: %+v", o)
	}

	o = Options{MaxTotal: 7, MaxIdle: time.Minute}
	o.fill()
	if o.MaxTotal != 7 || o.MaxIdle != time.Minute {
		t.Errorf("explicit values must survive fill: %+v", o)
	}
}

func TestDriverFor(t *testing.T) {
	if d, err := driverFor(tenant.DBMySQL); err != nil || d != "mysql" {
		t.Errorf("mysql: (%q, %v)", d, err)
	}
	if d, err := driverFor(""); err != nil || d != "mysql" {
		t.Errorf("empty type defaults to mysql: (%q, %v)", d, err)
	}
	if d, err := driverFor(tenant.DBPostgreSQL); err != nil || d != "pgx" {
		t.Errorf("postgresql: (%q, %v)", d, err)
	}
	if _, err := driverFor(tenant.DBSQLite); err == nil {
		t.Error("sqlite must report the missing driver")
	}
	if _, err := driverFor("oracle"); err == nil {
		t.Error("unknown type must fail")
	}
}

func TestGetSQLiteIsTypedFailure(t *testing.T) {
	m := New(Options{ReapInterval: time.Hour})
	defer m.Shutdown()

	_, err := m.Get(context.Background(), "hiray",
		tenant.DBConfig{Type: tenant.DBSQLite, Database: "/data/hiray.db"})
	if err == nil {
		t.Fatal("sqlite open must fail")
	}
	e := errdefs.AsError(err)
	if e.Kind != errdefs.KindTenantDatabase || e.TenantID != "hiray" {
		t.Fatalf("got %s tenant=%q, want TENANT_DATABASE_ERROR for hiray", e.Kind, e.TenantID)
	}
}

func TestGetEnforcesTotalCap(t *testing.T) {
	m := New(Options{MaxTotal: 1, ReapInterval: time.Hour})
	defer m.Shutdown()

	// Saturate the live counter without dialing anything.
	m.live = 1

	_, err := m.Get(context.Background(), "hiray",
		tenant.DBConfig{Type: tenant.DBMySQL, Host: "127.0.0.1", Port: 3306,
			Database: "hiray_cms", Username: "u", Password: "p"})
	if err == nil {
		t.Fatal("capacity breach must fail")
	}
	if errdefs.AsError(err).Kind != errdefs.KindDBConnection {
		t.Fatalf("got %s, want DATABASE_CONNECTION_FAILED", errdefs.AsError(err).Kind)
	}
}

func TestStatsEmptyManager(t *testing.T) {
	m := New(Options{ReapInterval: time.Hour})
	defer m.Shutdown()
	if stats := m.Stats(); len(stats) != 0 {
		t.Fatalf("fresh manager should report no pools, got %v", stats)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	m := New(Options{ReapInterval: time.Hour})
	m.Shutdown()
	m.Shutdown() // second call must not panic or block
}
