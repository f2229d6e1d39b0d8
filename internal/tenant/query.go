package tenant

import (
	"fmt"
	"strings"
)

// TenantColumn is the discriminator column used by field-mode scoping.
const TenantColumn = "tenant_id"

// Predicate is one comparison in a WHERE clause. Queries are built from this
// constrained representation rather than raw SQL fragments so that scoping
// can merge a tenant constraint in structurally instead of by string
// rewriting.
type Predicate struct {
	Column string
	Op     string
	Value  any
}

// Eq builds an equality predicate.
func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Op: "=", Value: value}
}

// Gte builds a >= predicate.
func Gte(column string, value any) Predicate {
	return Predicate{Column: column, Op: ">=", Value: value}
}

// Lte builds a <= predicate.
func Lte(column string, value any) Predicate {
	return Predicate{Column: column, Op: "<=", Value: value}
}

// Assign is one column value in an INSERT or UPDATE.
type Assign struct {
	Column string
	Value  any
}

// Set builds an assignment.
func Set(column string, value any) Assign {
	return Assign{Column: column, Value: value}
}

// Query describes a read.
type Query struct {
	Table   string
	Columns []string
	Where   []Predicate
	OrderBy string
	Limit   int
	Offset  int
}

// Insert describes a row creation.
type Insert struct {
	Table  string
	Values []Assign
}

// Update describes a predicated mutation.
type Update struct {
	Table string
	Set   []Assign
	Where []Predicate
}

// Delete describes a predicated removal.
type Delete struct {
	Table string
	Where []Predicate
}

// buildSelect renders a Query to SQL with positional arguments.
func buildSelect(q Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString("select ")
	if len(q.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(q.Columns, ", "))
	}
	sb.WriteString(" from ")
	sb.WriteString(q.Table)

	args := appendWhere(&sb, q.Where, nil)

	if q.OrderBy != "" {
		sb.WriteString(" order by ")
		sb.WriteString(q.OrderBy)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " limit $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " offset $%d", len(args))
	}
	return sb.String(), args
}

// buildCount renders the aggregate form of a Query.
func buildCount(q Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString("select count(*) from ")
	sb.WriteString(q.Table)
	args := appendWhere(&sb, q.Where, nil)
	return sb.String(), args
}

func buildInsert(ins Insert) (string, []any) {
	cols := make([]string, 0, len(ins.Values))
	holes := make([]string, 0, len(ins.Values))
	args := make([]any, 0, len(ins.Values))
	for _, a := range ins.Values {
		args = append(args, a.Value)
		cols = append(cols, a.Column)
		holes = append(holes, fmt.Sprintf("$%d", len(args)))
	}
	return fmt.Sprintf("insert into %s(%s) values (%s)",
		ins.Table, strings.Join(cols, ", "), strings.Join(holes, ", ")), args
}

func buildUpdate(upd Update) (string, []any) {
	var sb strings.Builder
	sb.WriteString("update ")
	sb.WriteString(upd.Table)
	sb.WriteString(" set ")
	var args []any
	for i, a := range upd.Set {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, a.Value)
		fmt.Fprintf(&sb, "%s = $%d", a.Column, len(args))
	}
	args = appendWhere(&sb, upd.Where, args)
	return sb.String(), args
}

func buildDelete(del Delete) (string, []any) {
	var sb strings.Builder
	sb.WriteString("delete from ")
	sb.WriteString(del.Table)
	args := appendWhere(&sb, del.Where, nil)
	return sb.String(), args
}

func appendWhere(sb *strings.Builder, where []Predicate, args []any) []any {
	for i, p := range where {
		if i == 0 {
			sb.WriteString(" where ")
		} else {
			sb.WriteString(" and ")
		}
		args = append(args, p.Value)
		fmt.Fprintf(sb, "%s %s $%d", p.Column, p.Op, len(args))
	}
	return args
}

// scopeWhere merges the tenant constraint into a caller-supplied predicate
// list. Caller predicates on other columns are kept as-is; a caller-supplied
// tenant_id predicate is discarded so the scope can never be widened from
// above.
func scopeWhere(where []Predicate, tenantID string) []Predicate {
	out := make([]Predicate, 0, len(where)+1)
	for _, p := range where {
		if p.Column == TenantColumn {
			continue
		}
		out = append(out, p)
	}
	return append(out, Eq(TenantColumn, tenantID))
}

// scopeValues forces the tenant_id column of an insert value list.
func scopeValues(values []Assign, tenantID string) []Assign {
	out := make([]Assign, 0, len(values)+1)
	for _, a := range values {
		if a.Column == TenantColumn {
			continue
		}
		out = append(out, a)
	}
	return append(out, Set(TenantColumn, tenantID))
}

// stripTenant drops tenant_id assignments from an update set list: a scoped
// update must not be able to move a row to another tenant.
func stripTenant(values []Assign) []Assign {
	out := make([]Assign, 0, len(values))
	for _, a := range values {
		if a.Column == TenantColumn {
			continue
		}
		out = append(out, a)
	}
	return out
}
