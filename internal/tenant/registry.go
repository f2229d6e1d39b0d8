package tenant

import (
	"context"
	"time"
)

// Tenant is one row of the global tenant registry. The registry is the only
// tenant-aware table that is never scoped: it is what scoping is derived
// from.
type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SchemaName string    `json:"schema_name,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registry is the persistence contract for the tenant directory.
type Registry interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	SetActive(ctx context.Context, id string, active bool) error
}
