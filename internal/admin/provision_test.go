// internal/admin/provision_test.go
//
// Unit-tests for the SQL provisioner using sqlmock.
//
// Run: go test ./internal/admin -v

package admin

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
)

func newMockProvisioner(t *testing.T) (*SQLProvisioner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &SQLProvisioner{Admin: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestProvisionRunsFullStatementSet(t *testing.T) {
	p, mock := newMockProvisioner(t)

	ok := sqlmock.NewResult(0, 0)
	mock.ExpectExec(regexp.QuoteMeta(
		"CREATE DATABASE IF NOT EXISTS `hiray_cms` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci")).
		WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta(
		"CREATE USER IF NOT EXISTS 'hiray'@'%' IDENTIFIED BY 'pw'")).
		WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta(
		"GRANT ALL PRIVILEGES ON `hiray_cms`.* TO 'hiray'@'%'")).
		WillReturnResult(ok)
	mock.ExpectExec("FLUSH PRIVILEGES").WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta("USE `hiray_cms`")).WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta(
		"CREATE TABLE users (id INT PRIMARY KEY)")).
		WillReturnResult(ok)

	err := p.Provision(context.Background(), "hiray_cms", "hiray", "pw",
		[]string{"CREATE TABLE users (id INT PRIMARY KEY)"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestProvisionNormalisesIdentifiers(t *testing.T) {
	p, mock := newMockProvisioner(t)

	ok := sqlmock.NewResult(0, 0)
	// Hyphens in tenant-derived names become underscores.
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `hiray_college_cms`")).
		WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta("CREATE USER IF NOT EXISTS 'hiray_college'@'%'")).
		WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta("ON `hiray_college_cms`.* TO 'hiray_college'@'%'")).
		WillReturnResult(ok)
	mock.ExpectExec("FLUSH PRIVILEGES").WillReturnResult(ok)

	err := p.Provision(context.Background(), "hiray-college_cms", "hiray-college", "pw", nil)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestProvisionSurfacesSchemaFailure(t *testing.T) {
	p, mock := newMockProvisioner(t)

	ok := sqlmock.NewResult(0, 0)
	mock.ExpectExec("CREATE DATABASE").WillReturnResult(ok)
	mock.ExpectExec("CREATE USER").WillReturnResult(ok)
	mock.ExpectExec("GRANT ALL").WillReturnResult(ok)
	mock.ExpectExec("FLUSH PRIVILEGES").WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta("USE `hiray_cms`")).WillReturnResult(ok)
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))

	err := p.Provision(context.Background(), "hiray_cms", "hiray", "pw",
		[]string{"CREATE TABLE broken"})
	if err == nil {
		t.Fatal("schema failure must surface")
	}
	if errdefs.AsError(err).Kind != errdefs.KindTenantCreation {
		t.Fatalf("got %s, want TENANT_CREATION_FAILED", errdefs.AsError(err).Kind)
	}
}

func TestDeprovisionDropsUserAndDatabase(t *testing.T) {
	p, mock := newMockProvisioner(t)

	ok := sqlmock.NewResult(0, 0)
	mock.ExpectExec(regexp.QuoteMeta("DROP USER IF EXISTS 'hiray'@'%'")).WillReturnResult(ok)
	mock.ExpectExec(regexp.QuoteMeta("DROP DATABASE IF EXISTS `hiray_cms`")).WillReturnResult(ok)
	mock.ExpectExec("FLUSH PRIVILEGES").WillReturnResult(ok)

	if err := p.Deprovision(context.Background(), "hiray_cms", "hiray"); err != nil {
		t.Fatalf("Deprovision: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
