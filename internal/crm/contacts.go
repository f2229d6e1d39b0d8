package crm

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crmgate.org/internal/ids"
	"crmgate.org/internal/tenant"
)

const contactsTable = "contacts"

var contactColumns = []string{
	"id", "first_name", "last_name", "email", "phone", "company", "owner_id",
	"created_at", "updated_at",
}

// Contacts is a repository bound to one scoped handle for the duration of an
// operation.
type Contacts struct {
	h tenant.Handle
}

func NewContacts(h tenant.Handle) *Contacts {
	return &Contacts{h: h}
}

func (r *Contacts) Create(ctx context.Context, c *Contact) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	return r.h.Insert(ctx, tenant.Insert{
		Table: contactsTable,
		Values: []tenant.Assign{
			tenant.Set("id", c.ID),
			tenant.Set("first_name", c.FirstName),
			tenant.Set("last_name", c.LastName),
			tenant.Set("email", c.Email),
			tenant.Set("phone", c.Phone),
			tenant.Set("company", c.Company),
			tenant.Set("owner_id", c.OwnerID),
			tenant.Set("created_at", c.CreatedAt),
			tenant.Set("updated_at", c.UpdatedAt),
		},
	})
}

func (r *Contacts) Get(ctx context.Context, id string) (*Contact, error) {
	row := r.h.SelectRow(ctx, tenant.Query{
		Table:   contactsTable,
		Columns: contactColumns,
		Where:   []tenant.Predicate{tenant.Eq("id", id)},
	})
	var c Contact
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Company, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.TenantID = r.h.Tenant()
	return &c, nil
}

func (r *Contacts) List(ctx context.Context, opts ListOptions) ([]Contact, error) {
	var where []tenant.Predicate
	if opts.OwnerID != "" {
		where = append(where, tenant.Eq("owner_id", opts.OwnerID))
	}
	rows, err := r.h.Select(ctx, tenant.Query{
		Table:   contactsTable,
		Columns: contactColumns,
		Where:   where,
		OrderBy: "created_at desc",
		Limit:   opts.limit(),
		Offset:  opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
			&c.Company, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.TenantID = r.h.Tenant()
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *Contacts) Update(ctx context.Context, c *Contact) error {
	c.UpdatedAt = time.Now().UTC()
	affected, err := r.h.Update(ctx, tenant.Update{
		Table: contactsTable,
		Set: []tenant.Assign{
			tenant.Set("first_name", c.FirstName),
			tenant.Set("last_name", c.LastName),
			tenant.Set("email", c.Email),
			tenant.Set("phone", c.Phone),
			tenant.Set("company", c.Company),
			tenant.Set("owner_id", c.OwnerID),
			tenant.Set("updated_at", c.UpdatedAt),
		},
		Where: []tenant.Predicate{tenant.Eq("id", c.ID)},
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (r *Contacts) Delete(ctx context.Context, id string) error {
	affected, err := r.h.Delete(ctx, tenant.Delete{
		Table: contactsTable,
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
