package tenant

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"
)

// Querier is the subset of database/sql shared by *sql.DB, *sql.Conn and
// *sql.Tx that handles dispatch through.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle is a data-access capability pre-bound to one tenant's isolation
// rule. Every operation dispatched through it is scoped transparently: result
// shapes are identical whether or not scoping applied, and the underlying
// operation's errors pass through unchanged.
//
// A Handle is operation-scoped: obtain it from the Resolver, use it for the
// duration of one request's work, and Close it. The shared pool it borrows
// from is never owned by the handle.
type Handle interface {
	Select(ctx context.Context, q Query) (*sql.Rows, error)
	SelectRow(ctx context.Context, q Query) *sql.Row
	Count(ctx context.Context, q Query) (int64, error)
	Insert(ctx context.Context, ins Insert) error
	Update(ctx context.Context, upd Update) (int64, error)
	Delete(ctx context.Context, del Delete) (int64, error)

	// Tenant returns the tenant the handle is bound to; empty for an
	// unscoped handle.
	Tenant() string
	Close() error
}

// dispatcher executes rendered statements against a Querier. It is the
// common tail of every mode: the per-mode work happens before dispatch
// (predicate merging) or at handle construction (schema selection).
type dispatcher struct {
	q Querier
}

func (d dispatcher) execSelect(ctx context.Context, q Query) (*sql.Rows, error) {
	stmt, args := buildSelect(q)
	return d.q.QueryContext(ctx, stmt, args...)
}

func (d dispatcher) execSelectRow(ctx context.Context, q Query) *sql.Row {
	stmt, args := buildSelect(q)
	return d.q.QueryRowContext(ctx, stmt, args...)
}

func (d dispatcher) execCount(ctx context.Context, q Query) (int64, error) {
	stmt, args := buildCount(q)
	var n int64
	if err := d.q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d dispatcher) execInsert(ctx context.Context, ins Insert) error {
	stmt, args := buildInsert(ins)
	_, err := d.q.ExecContext(ctx, stmt, args...)
	return err
}

func (d dispatcher) execUpdate(ctx context.Context, upd Update) (int64, error) {
	stmt, args := buildUpdate(upd)
	res, err := d.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d dispatcher) execDelete(ctx context.Context, del Delete) (int64, error) {
	stmt, args := buildDelete(del)
	res, err := d.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// unscopedHandle dispatches verbatim against the shared pool (mode none).
type unscopedHandle struct {
	dispatcher
}

func (h *unscopedHandle) Select(ctx context.Context, q Query) (*sql.Rows, error) {
	return h.execSelect(ctx, q)
}
func (h *unscopedHandle) SelectRow(ctx context.Context, q Query) *sql.Row {
	return h.execSelectRow(ctx, q)
}
func (h *unscopedHandle) Count(ctx context.Context, q Query) (int64, error) {
	return h.execCount(ctx, q)
}
func (h *unscopedHandle) Insert(ctx context.Context, ins Insert) error {
	return h.execInsert(ctx, ins)
}
func (h *unscopedHandle) Update(ctx context.Context, upd Update) (int64, error) {
	return h.execUpdate(ctx, upd)
}
func (h *unscopedHandle) Delete(ctx context.Context, del Delete) (int64, error) {
	return h.execDelete(ctx, del)
}
func (h *unscopedHandle) Tenant() string { return "" }
func (h *unscopedHandle) Close() error   { return nil }

// fieldHandle merges a tenant_id constraint into every statement before
// dispatch. Stateless between calls; it shares the pool directly.
type fieldHandle struct {
	dispatcher
	tenantID string
}

func (h *fieldHandle) Select(ctx context.Context, q Query) (*sql.Rows, error) {
	q.Where = scopeWhere(q.Where, h.tenantID)
	return h.execSelect(ctx, q)
}

func (h *fieldHandle) SelectRow(ctx context.Context, q Query) *sql.Row {
	q.Where = scopeWhere(q.Where, h.tenantID)
	return h.execSelectRow(ctx, q)
}

func (h *fieldHandle) Count(ctx context.Context, q Query) (int64, error) {
	q.Where = scopeWhere(q.Where, h.tenantID)
	return h.execCount(ctx, q)
}

func (h *fieldHandle) Insert(ctx context.Context, ins Insert) error {
	ins.Values = scopeValues(ins.Values, h.tenantID)
	return h.execInsert(ctx, ins)
}

func (h *fieldHandle) Update(ctx context.Context, upd Update) (int64, error) {
	upd.Set = stripTenant(upd.Set)
	upd.Where = scopeWhere(upd.Where, h.tenantID)
	return h.execUpdate(ctx, upd)
}

func (h *fieldHandle) Delete(ctx context.Context, del Delete) (int64, error) {
	del.Where = scopeWhere(del.Where, h.tenantID)
	return h.execDelete(ctx, del)
}

func (h *fieldHandle) Tenant() string { return h.tenantID }
func (h *fieldHandle) Close() error   { return nil }

// schemaHandle pins a single pooled connection for its whole lifetime. The
// search_path selection and every subsequent statement run on that one
// connection; statements from concurrent requests can never interleave into
// this session.
type schemaHandle struct {
	dispatcher
	conn     *sql.Conn
	tenantID string
}

func (h *schemaHandle) Select(ctx context.Context, q Query) (*sql.Rows, error) {
	return h.execSelect(ctx, q)
}
func (h *schemaHandle) SelectRow(ctx context.Context, q Query) *sql.Row {
	return h.execSelectRow(ctx, q)
}
func (h *schemaHandle) Count(ctx context.Context, q Query) (int64, error) {
	return h.execCount(ctx, q)
}
func (h *schemaHandle) Insert(ctx context.Context, ins Insert) error {
	return h.execInsert(ctx, ins)
}
func (h *schemaHandle) Update(ctx context.Context, upd Update) (int64, error) {
	return h.execUpdate(ctx, upd)
}
func (h *schemaHandle) Delete(ctx context.Context, del Delete) (int64, error) {
	return h.execDelete(ctx, del)
}
func (h *schemaHandle) Tenant() string { return h.tenantID }

// Close resets the session search_path and returns the connection to the
// pool. If the reset fails the connection is poisoned so the pool discards
// it: returning a connection still pinned to a tenant schema would leak that
// schema into another tenant's request.
func (h *schemaHandle) Close() error {
	if _, err := h.conn.ExecContext(context.Background(), `set search_path to public`); err != nil {
		_ = h.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	return h.conn.Close()
}

var schemaIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SchemaName derives the private schema name for a tenant identifier.
func SchemaName(tenantID string) (string, error) {
	name := "tenant_" + strings.ToLower(strings.TrimSpace(tenantID))
	if !schemaIdentifier.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return name, nil
}
