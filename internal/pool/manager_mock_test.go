// internal/pool/manager_mock_test.go
//
// Pool lifecycle tests backed by sqlmock: reuse, replacement, reaping,
// and the query/transaction helpers.  The manager's dial hook hands out
// mock-backed handles so no real server is needed.
//
// Run: go test ./internal/pool -v

package pool

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
)

// mockDialer stands in for sqlx.Open and keeps every mock it handed out
// so tests can add expectations or verify closes afterwards.
type mockDialer struct {
	t     *testing.T
	opens int
	mocks []sqlmock.Sqlmock
	// prep registers expectations beyond the SELECT 1 check on each new mock.
	prep func(sqlmock.Sqlmock)
}

func (md *mockDialer) dial(driver, dsn string) (*sqlx.DB, error) {
	md.t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		md.t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectExec(regexp.QuoteMeta("SELECT 1")).WillReturnResult(sqlmock.NewResult(0, 0))
	if md.prep != nil {
		md.prep(mock)
	}
	md.opens++
	md.mocks = append(md.mocks, mock)
	return sqlx.NewDb(db, "sqlmock"), nil
}

func mockedManager(t *testing.T, opts Options) (*Manager, *mockDialer) {
	t.Helper()
	if opts.ReapInterval == 0 {
		opts.ReapInterval = time.Hour
	}
	m := New(opts)
	t.Cleanup(m.Shutdown)
	md := &mockDialer{t: t}
	m.dial = md.dial
	return m, md
}

func mockCfg() tenant.DBConfig {
	return tenant.DBConfig{
		Type: tenant.DBMySQL, Host: "127.0.0.1", Port: 3306,
		Database: "hiray_cms", Username: "hiray", Password: "s3cret",
		ConnectionLimit: 2,
	}
}

func TestGetReusesPoolWhileConfigEqual(t *testing.T) {
	m, md := mockedManager(t, Options{})
	ctx := context.Background()

	db1, err := m.Get(ctx, "hiray", mockCfg())
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	db2, err := m.Get(ctx, "hiray", mockCfg())
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if db1 != db2 {
		t.Error("identical config must reuse the live pool")
	}
	if md.opens != 1 {
		t.Errorf("opens = %d, want 1", md.opens)
	}
	if err := md.mocks[0].ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestGetReplacesPoolOnChangedConfig(t *testing.T) {
	m, md := mockedManager(t, Options{})
	ctx := context.Background()

	db1, err := m.Get(ctx, "hiray", mockCfg())
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	md.mocks[0].ExpectClose()

	rotated := mockCfg()
	rotated.Password = "rotated"
	db2, err := m.Get(ctx, "hiray", rotated)
	if err != nil {
		t.Fatalf("Get after rotation: %v", err)
	}
	if db1 == db2 {
		t.Error("changed credentials must open a fresh pool")
	}
	if md.opens != 2 {
		t.Errorf("opens = %d, want 2", md.opens)
	}
	// The retired pool must actually have been closed.
	if err := md.mocks[0].ExpectationsWereMet(); err != nil {
		t.Errorf("old pool: %v", err)
	}
}

func TestReapClosesIdlePools(t *testing.T) {
	m, md := mockedManager(t, Options{MaxIdle: time.Millisecond})
	ctx := context.Background()

	if _, err := m.Get(ctx, "hiray", mockCfg()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	s := m.slot("hiray")
	s.mu.Lock()
	atomic.StoreInt64(&s.ent.lastUsed, time.Now().Add(-time.Hour).UnixNano())
	atomic.StoreInt64(&s.ent.inFlight, 1)
	s.mu.Unlock()

	// In-flight work pins the pool even past the idle deadline.
	m.reapOnce()
	s.mu.Lock()
	pinned := s.ent != nil
	if pinned {
		atomic.StoreInt64(&s.ent.inFlight, 0)
	}
	s.mu.Unlock()
	if !pinned {
		t.Fatal("pool with in-flight work must survive the reaper")
	}

	md.mocks[0].ExpectClose()
	m.reapOnce()
	s.mu.Lock()
	gone := s.ent == nil
	s.mu.Unlock()
	if !gone {
		t.Fatal("idle pool past MaxIdle must be reaped")
	}
	if err := md.mocks[0].ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestExecuteQueryScansRows(t *testing.T) {
	m, md := mockedManager(t, Options{})
	md.prep = func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
				AddRow(1, "amit").
				AddRow(2, "neha"))
	}

	rows, err := m.ExecuteQuery(context.Background(), "hiray", mockCfg(),
		"SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["name"] != "amit" || rows[1]["name"] != "neha" {
		t.Errorf("row values scanned wrong: %v", rows)
	}
	if err := md.mocks[0].ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestExecuteTransactionCommits(t *testing.T) {
	m, md := mockedManager(t, Options{})
	ctx := context.Background()

	if _, err := m.Get(ctx, "hiray", mockCfg()); err != nil {
		t.Fatalf("warm pool: %v", err)
	}
	mock := md.mocks[0]
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pages SET title = ?")).
		WithArgs("Welcome").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.ExecuteTransaction(ctx, "hiray", mockCfg(), func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE pages SET title = ?", "Welcome")
		return err
	})
	if err != nil {
		t.Fatalf("ExecuteTransaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestExecuteTransactionRollsBackOnError(t *testing.T) {
	m, md := mockedManager(t, Options{})
	ctx := context.Background()

	if _, err := m.Get(ctx, "hiray", mockCfg()); err != nil {
		t.Fatalf("warm pool: %v", err)
	}
	mock := md.mocks[0]
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("business rule violated")
	err := m.ExecuteTransaction(ctx, "hiray", mockCfg(), func(*sqlx.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("callback error must surface unchanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("rollback not issued: %v", err)
	}
}

func TestGetEnforcesPerTenantOpenCap(t *testing.T) {
	m, _ := mockedManager(t, Options{MaxPerTenant: 2})

	// Two dials already in flight for this tenant.
	s := m.slot("hiray")
	s.mu.Lock()
	s.opening = 2
	s.mu.Unlock()

	_, err := m.Get(context.Background(), "hiray", mockCfg())
	if err == nil {
		t.Fatal("third concurrent open must be refused")
	}
	if errdefs.AsError(err).Kind != errdefs.KindDBConnection {
		t.Fatalf("got %s, want DATABASE_CONNECTION_FAILED", errdefs.AsError(err).Kind)
	}
}
