package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crmgate.org/internal/ids"
	"crmgate.org/internal/tenant"
)

const leadsTable = "leads"

var leadColumns = []string{
	"id", "name", "email", "phone", "source", "status", "owner_id",
	"created_at", "updated_at",
}

var leadStatuses = map[string]struct{}{
	LeadStatusNew:       {},
	LeadStatusContacted: {},
	LeadStatusQualified: {},
	LeadStatusConverted: {},
	LeadStatusLost:      {},
}

// ValidLeadStatus reports whether s is a known funnel stage.
func ValidLeadStatus(s string) bool {
	_, ok := leadStatuses[s]
	return ok
}

// Leads is a repository bound to one scoped handle.
type Leads struct {
	h tenant.Handle
}

func NewLeads(h tenant.Handle) *Leads {
	return &Leads{h: h}
}

func (r *Leads) Create(ctx context.Context, l *Lead) error {
	if l.ID == "" {
		l.ID = ids.New()
	}
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	if !ValidLeadStatus(l.Status) {
		return fmt.Errorf("unknown lead status %q", l.Status)
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	return r.h.Insert(ctx, tenant.Insert{
		Table: leadsTable,
		Values: []tenant.Assign{
			tenant.Set("id", l.ID),
			tenant.Set("name", l.Name),
			tenant.Set("email", l.Email),
			tenant.Set("phone", l.Phone),
			tenant.Set("source", l.Source),
			tenant.Set("status", l.Status),
			tenant.Set("owner_id", l.OwnerID),
			tenant.Set("created_at", l.CreatedAt),
			tenant.Set("updated_at", l.UpdatedAt),
		},
	})
}

func (r *Leads) Get(ctx context.Context, id string) (*Lead, error) {
	row := r.h.SelectRow(ctx, tenant.Query{
		Table:   leadsTable,
		Columns: leadColumns,
		Where:   []tenant.Predicate{tenant.Eq("id", id)},
	})
	var l Lead
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Source, &l.Status,
		&l.OwnerID, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.TenantID = r.h.Tenant()
	return &l, nil
}

func (r *Leads) List(ctx context.Context, opts ListOptions) ([]Lead, error) {
	var where []tenant.Predicate
	if opts.Status != "" {
		where = append(where, tenant.Eq("status", opts.Status))
	}
	if opts.OwnerID != "" {
		where = append(where, tenant.Eq("owner_id", opts.OwnerID))
	}
	rows, err := r.h.Select(ctx, tenant.Query{
		Table:   leadsTable,
		Columns: leadColumns,
		Where:   where,
		OrderBy: "created_at desc",
		Limit:   opts.limit(),
		Offset:  opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Source, &l.Status,
			&l.OwnerID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.TenantID = r.h.Tenant()
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r *Leads) Update(ctx context.Context, l *Lead) error {
	if !ValidLeadStatus(l.Status) {
		return fmt.Errorf("unknown lead status %q", l.Status)
	}
	l.UpdatedAt = time.Now().UTC()
	affected, err := r.h.Update(ctx, tenant.Update{
		Table: leadsTable,
		Set: []tenant.Assign{
			tenant.Set("name", l.Name),
			tenant.Set("email", l.Email),
			tenant.Set("phone", l.Phone),
			tenant.Set("source", l.Source),
			tenant.Set("status", l.Status),
			tenant.Set("owner_id", l.OwnerID),
			tenant.Set("updated_at", l.UpdatedAt),
		},
		Where: []tenant.Predicate{tenant.Eq("id", l.ID)},
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (r *Leads) Delete(ctx context.Context, id string) error {
	affected, err := r.h.Delete(ctx, tenant.Delete{
		Table: leadsTable,
		Where: []tenant.Predicate{tenant.Eq("id", id)},
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// CountByStatus is the aggregate used by the pipeline dashboard.
func (r *Leads) CountByStatus(ctx context.Context, status string) (int64, error) {
	return r.h.Count(ctx, tenant.Query{
		Table: leadsTable,
		Where: []tenant.Predicate{tenant.Eq("status", status)},
	})
}
