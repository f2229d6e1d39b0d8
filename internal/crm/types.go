// Package crm holds the tenant-scoped business entities. Repositories here
// never mention tenants: all scoping comes from the tenant.Handle they are
// given, so the same code serves schema and field isolation unchanged.
package crm

import "time"

// Contact is a person record inside one tenant.
type Contact struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lead statuses form a simple linear funnel.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusConverted = "converted"
	LeadStatusLost      = "lost"
)

// Lead is a potential deal inside one tenant.
type Lead struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Source    string    `json:"source,omitempty"`
	Status    string    `json:"status"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOptions narrows and pages entity listings.
type ListOptions struct {
	Status  string
	OwnerID string
	Limit   int
	Offset  int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}
