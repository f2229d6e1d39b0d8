// Package pg owns the shared PostgreSQL pool and the global (unscoped)
// tables: the tenant registry lives here because scoping is derived from it,
// so it can never itself be scoped.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crmgate.org/internal/tenant"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Tenants returns the registry backed by this pool.
func (s *Store) Tenants() tenant.Registry { return &tenantRegistry{db: s.db} }

var _ tenant.Registry = (*tenantRegistry)(nil)

type tenantRegistry struct {
	db *sql.DB
}

func (r *tenantRegistry) Create(ctx context.Context, t *tenant.Tenant) error {
	_, err := r.db.ExecContext(ctx, `
		insert into tenants(id, name, schema_name, active, created_at)
		values ($1, $2, nullif($3,''), $4, $5)
	`, t.ID, t.Name, t.SchemaName, t.Active, t.CreatedAt)
	if isUniqueViolation(err) {
		return tenant.ErrExists
	}
	return err
}

func (r *tenantRegistry) Find(ctx context.Context, id string) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var schema sql.NullString
	err := r.db.QueryRowContext(ctx, `
		select id, name, schema_name, active, created_at
		from tenants where id=$1
	`, id).Scan(&t.ID, &t.Name, &schema, &t.Active, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.SchemaName = schema.String
	return &t, nil
}

func (r *tenantRegistry) List(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, schema_name, active, created_at
		from tenants order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		var schema sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &schema, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.SchemaName = schema.String
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r *tenantRegistry) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `update tenants set active=$2 where id=$1`, id, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
