package database

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Op is a comparison operator understood by the query builder.
type Op string

const (
	OpEq      Op = "="
	OpNotEq   Op = "<>"
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpIn      Op = "IN"
	OpNotIn   Op = "NOT IN"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Predicate is one declarative filter. Column names come from code, never from input.
type Predicate struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Predicate    { return Predicate{column, OpEq, value} }
func NotEq(column string, value any) Predicate { return Predicate{column, OpNotEq, value} }
func Lt(column string, value any) Predicate    { return Predicate{column, OpLt, value} }
func Lte(column string, value any) Predicate   { return Predicate{column, OpLte, value} }
func Gt(column string, value any) Predicate    { return Predicate{column, OpGt, value} }
func Gte(column string, value any) Predicate   { return Predicate{column, OpGte, value} }
func IsNull(column string) Predicate           { return Predicate{Column: column, Op: OpIsNull} }
func NotNull(column string) Predicate          { return Predicate{Column: column, Op: OpNotNull} }

// In matches any element of values, which must be a slice pq.Array understands.
func In(column string, values any) Predicate { return Predicate{column, OpIn, values} }

func NotIn(column string, values any) Predicate { return Predicate{column, OpNotIn, values} }

// Assignment is one SET clause of an UPDATE. Raw assignments are copied verbatim.
type Assignment struct {
	Column string
	Value  any
	Raw    string
}

func Set(column string, value any) Assignment { return Assignment{Column: column, Value: value} }

func SetRaw(column, expr string) Assignment { return Assignment{Column: column, Raw: expr} }

type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where(preds []Predicate) {
	if len(preds) == 0 {
		return
	}
	b.sb.WriteString(" WHERE ")
	for i, p := range preds {
		if i > 0 {
			b.sb.WriteString(" AND ")
		}
		switch p.Op {
		case OpIsNull, OpNotNull:
			fmt.Fprintf(&b.sb, "%s %s", p.Column, p.Op)
		case OpIn:
			fmt.Fprintf(&b.sb, "%s = ANY(%s)", p.Column, b.bind(pq.Array(p.Value)))
		case OpNotIn:
			fmt.Fprintf(&b.sb, "NOT (%s = ANY(%s))", p.Column, b.bind(pq.Array(p.Value)))
		default:
			fmt.Fprintf(&b.sb, "%s %s %s", p.Column, p.Op, b.bind(p.Value))
		}
	}
}

// SelectQuery compiles to SELECT ... FROM ... WHERE ... ORDER BY ... LIMIT ... [FOR UPDATE].
type SelectQuery struct {
	table     string
	columns   []string
	where     []Predicate
	orderBy   string
	limit     int
	forUpdate bool
}

func Select(table string, columns ...string) SelectQuery {
	return SelectQuery{table: table, columns: columns}
}

func (q SelectQuery) Where(preds ...Predicate) SelectQuery {
	q.where = append(append([]Predicate(nil), q.where...), preds...)
	return q
}

func (q SelectQuery) OrderBy(expr string) SelectQuery {
	q.orderBy = expr
	return q
}

func (q SelectQuery) Limit(n int) SelectQuery {
	q.limit = n
	return q
}

func (q SelectQuery) ForUpdate() SelectQuery {
	q.forUpdate = true
	return q
}

func (q SelectQuery) Build() (string, []any) {
	b := &builder{}
	fmt.Fprintf(&b.sb, "SELECT %s FROM %s", strings.Join(q.columns, ", "), q.table)
	b.where(q.where)
	if q.orderBy != "" {
		b.sb.WriteString(" ORDER BY " + q.orderBy)
	}
	if q.limit > 0 {
		b.sb.WriteString(" LIMIT " + b.bind(q.limit))
	}
	if q.forUpdate {
		b.sb.WriteString(" FOR UPDATE")
	}
	return b.sb.String(), b.args
}

// UpdateQuery compiles to UPDATE ... SET ... WHERE ... RETURNING ....
type UpdateQuery struct {
	table     string
	set       []Assignment
	where     []Predicate
	returning []string
}

func Update(table string, set ...Assignment) UpdateQuery {
	return UpdateQuery{table: table, set: set}
}

func (q UpdateQuery) Where(preds ...Predicate) UpdateQuery {
	q.where = append(append([]Predicate(nil), q.where...), preds...)
	return q
}

func (q UpdateQuery) Returning(columns ...string) UpdateQuery {
	q.returning = columns
	return q
}

func (q UpdateQuery) Build() (string, []any) {
	b := &builder{}
	fmt.Fprintf(&b.sb, "UPDATE %s SET ", q.table)
	for i, a := range q.set {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		if a.Raw != "" {
			fmt.Fprintf(&b.sb, "%s = %s", a.Column, a.Raw)
			continue
		}
		fmt.Fprintf(&b.sb, "%s = %s", a.Column, b.bind(a.Value))
	}
	b.where(q.where)
	if len(q.returning) > 0 {
		b.sb.WriteString(" RETURNING " + strings.Join(q.returning, ", "))
	}
	return b.sb.String(), b.args
}
