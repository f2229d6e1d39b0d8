package tenant

import (
	"context"
	"database/sql"
	"fmt"
)

// Resolver produces scoped handles for the configured isolation mode. One
// resolver is built at startup and shared by all requests; the tenant id
// varies per call.
type Resolver struct {
	db   *sql.DB
	mode Mode
}

// NewResolver binds the shared pool to an isolation mode.
func NewResolver(db *sql.DB, mode Mode) *Resolver {
	return &Resolver{db: db, mode: mode}
}

// Mode returns the process-wide isolation mode.
func (r *Resolver) Mode() Mode { return r.mode }

// Scope returns a Handle bound to the given tenant.
//
// In schema mode the handle checks a connection out of the pool, switches
// its search_path to the tenant's private schema and keeps the connection
// until Close. Issuing the schema selection against the pool itself would
// let the selection and the scoped statements land on different physical
// connections under concurrency, silently crossing tenants; pinning rules
// that out.
//
// In field mode the handle is stateless and shares the pool; in mode none
// the handle is the shared pool, unscoped.
func (r *Resolver) Scope(ctx context.Context, tenantID string) (Handle, error) {
	switch r.mode {
	case ModeNone:
		return &unscopedHandle{dispatcher{r.db}}, nil
	case ModeField:
		if tenantID == "" {
			return nil, ErrTenantRequired
		}
		return &fieldHandle{dispatcher: dispatcher{r.db}, tenantID: tenantID}, nil
	case ModeSchema:
		if tenantID == "" {
			return nil, ErrTenantRequired
		}
		schema, err := SchemaName(tenantID)
		if err != nil {
			return nil, err
		}
		conn, err := r.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", err)
		}
		// The scoped path names the tenant schema and nothing else. With
		// public on the path, a missing or half-provisioned schema would
		// silently resolve unqualified table names to the shared public
		// tables, unscoped; without it the first statement fails with
		// "relation does not exist". Shared lookups never go through a
		// scoped handle, so nothing here needs public.
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`set search_path to %q`, schema)); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("select schema %s: %w", schema, err)
		}
		return &schemaHandle{dispatcher: dispatcher{conn}, conn: conn, tenantID: tenantID}, nil
	default:
		return nil, fmt.Errorf("%w: isolation mode %q", ErrBadMode, r.mode)
	}
}
