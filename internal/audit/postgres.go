package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

var _ Store = (*PGStore)(nil)

// PGStore persists audit records in a shared, tenant-discriminated table.
// The audit trail deliberately sits outside the per-tenant scoping layer:
// it must stay queryable across process restarts and, in schema mode, must
// not depend on any tenant's private schema existing.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	meta, _ := json.Marshal(rec.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, tenant_id, actor_id, action, resource_type, resource_id, metadata, occurred_at)
		 values($1,$2,nullif($3,''),$4,$5,$6,$7,$8)`,
		rec.ID, rec.TenantID, rec.ActorID, rec.Action, rec.ResourceType, rec.ResourceID,
		meta, rec.OccurredAt,
	)
	return err
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}

	query := `select id, tenant_id, coalesce(actor_id,''), action, resource_type, resource_id, metadata, occurred_at
		from audit_log`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by occurred_at desc"

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" limit $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var (
			rec  Record
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.ActorID, &rec.Action,
			&rec.ResourceType, &rec.ResourceID, &meta, &rec.OccurredAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &rec.Metadata)
		res = append(res, rec)
	}
	return res, rows.Err()
}
