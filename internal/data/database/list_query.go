// Package database builds parameterized list queries with sanitized identifiers.
package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Op is a comparison operator usable in a Condition.
type Op string

const (
	Equal              Op = "="
	GreaterThanOrEqual Op = ">="
	LessThan           Op = "<"
	GreaterThan        Op = ">"
)

// Condition is one `field op $n` predicate joined with AND.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Condition.
func Where(field string, op Op, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// ListQuery describes a SELECT over a single table.
type ListQuery struct {
	Table      string
	Columns    []string
	Conditions []Condition
	OrderBy    string
	OrderDir   string
	Limit      int // 0 means no LIMIT
	Offset     int
}

func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func validOp(op Op) bool {
	switch op {
	case Equal, GreaterThanOrEqual, LessThan, GreaterThan:
		return true
	default:
		return false
	}
}

// Build renders the query and its positional arguments. Conditions with an
// empty field or unknown operator are dropped.
func (q ListQuery) Build() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		cols := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			cols[i] = ident(c)
		}
		b.WriteString(strings.Join(cols, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(ident(q.Table))

	args := make([]any, 0, len(q.Conditions)+2)
	var where []string
	for _, c := range q.Conditions {
		if c.Field == "" || !validOp(c.Op) {
			continue
		}
		args = append(args, c.Value)
		where = append(where, fmt.Sprintf("%s %s $%d", ident(c.Field), c.Op, len(args)))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(ident(q.OrderBy))
		if dir := strings.ToUpper(q.OrderDir); dir == "ASC" || dir == "DESC" {
			b.WriteString(" " + dir)
		}
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
