package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"crmgate.org/internal/tenant"
)

func registryWithMock(t *testing.T) (tenant.Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &tenantRegistry{db: db}, mock
}

func TestRegistryCreateMapsUniqueViolation(t *testing.T) {
	r, mock := registryWithMock(t)

	mock.ExpectExec("insert into tenants").
		WithArgs("acme", "Acme Inc", "tenant_acme", true, sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := r.Create(context.Background(), &tenant.Tenant{
		ID: "acme", Name: "Acme Inc", SchemaName: "tenant_acme",
		Active: true, CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, tenant.ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestRegistryFindMissingTenant(t *testing.T) {
	r, mock := registryWithMock(t)

	mock.ExpectQuery("select id, name, schema_name, active, created_at").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "schema_name", "active", "created_at"}))

	_, err := r.Find(context.Background(), "ghost")
	if !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistrySetActiveUnknownIDIsNotFound(t *testing.T) {
	r, mock := registryWithMock(t)

	mock.ExpectExec("update tenants set active").
		WithArgs("ghost", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.SetActive(context.Background(), "ghost", false)
	if !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
