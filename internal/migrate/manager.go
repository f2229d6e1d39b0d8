// Package migrate applies the on-disk SQL migration and seed files, and
// provisions per-tenant schemas when schema isolation is in use.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"crmgate.org/internal/tenant"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"
)

// Manager executes SQL migrations and seed files stored on disk against the
// shared (public) schema.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

func NewManager(db *sql.DB, migrationsDir, seedsDir string) *Manager {
	return &Manager{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies all pending migrations in filename order.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, migrationsTable)
	if err != nil {
		return err
	}
	files, err := sqlFiles(m.migrationsDir, ".up.sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f] {
			continue
		}
		if err := m.execFile(ctx, filepath.Join(m.migrationsDir, f)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if err := m.record(ctx, migrationsTable, f); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	history, err := m.history(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("no migrations applied")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	downPath := filepath.Join(m.migrationsDir, down)
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.execFile(ctx, downPath); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx, `delete from `+migrationsTable+` where name = $1`, last)
	return err
}

// Status returns applied migrations in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

// Seed applies seed files once each.
func (m *Manager) Seed(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, seedsTable)
	if err != nil {
		return err
	}
	files, err := sqlFiles(m.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f] {
			continue
		}
		if err := m.execFile(ctx, filepath.Join(m.seedsDir, f)); err != nil {
			return fmt.Errorf("apply seed %s: %w", f, err)
		}
		if err := m.record(ctx, seedsTable, f); err != nil {
			return err
		}
	}
	return nil
}

// tenantTables is the DDL stamped into every per-tenant schema. The tables
// deliberately omit tenant_id: the schema itself is the tenant boundary.
var tenantTables = []string{
	`create table if not exists %s.contacts (
		id text primary key,
		first_name text not null,
		last_name text not null,
		email text not null,
		phone text not null default '',
		company text not null default '',
		owner_id text not null default '',
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
	`create table if not exists %s.leads (
		id text primary key,
		name text not null,
		email text not null default '',
		phone text not null default '',
		source text not null default '',
		status text not null,
		owner_id text not null default '',
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
}

// EnsureTenantSchema creates the private schema for a tenant and the entity
// tables inside it. Idempotent; safe to re-run for existing tenants.
func (m *Manager) EnsureTenantSchema(ctx context.Context, tenantID string) (string, error) {
	schema, err := tenant.SchemaName(tenantID)
	if err != nil {
		return "", err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`create schema if not exists %q`, schema)); err != nil {
		return "", fmt.Errorf("create schema %s: %w", schema, err)
	}
	quoted := fmt.Sprintf("%q", schema)
	for _, ddl := range tenantTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(ddl, quoted)); err != nil {
			return "", fmt.Errorf("provision schema %s: %w", schema, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return schema, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `select name from `+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		seen[name] = true
	}
	return seen, rows.Err()
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `select name from `+migrationsTable+` order by applied_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func sqlFiles(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits a file into statements on semicolons outside of
// single-quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, r := range sql {
		switch r {
		case '\'':
			inString = !inString
			current.WriteRune(r)
		case ';':
			current.WriteRune(r)
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
