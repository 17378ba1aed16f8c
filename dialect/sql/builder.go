package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/dynacrud/dialect"
)

// Builder accumulates a statement and its arguments for one dialect.
// Placeholders are written as $n for Postgres and ? otherwise.
type Builder struct {
	dialect string
	sb      strings.Builder
	args    []any
}

// NewBuilder returns an empty statement builder for the given dialect.
func NewBuilder(dialect string) *Builder {
	return &Builder{dialect: dialect}
}

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string {
	return b.dialect
}

// WriteString appends raw SQL.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends a quoted identifier.
func (b *Builder) Ident(name string) *Builder {
	b.sb.WriteString(b.Quote(name))
	return b
}

// Quote returns the identifier quoted for the dialect.
func (b *Builder) Quote(name string) string {
	if b.dialect == dialect.MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Arg appends a placeholder bound to v.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteByte('$')
		b.sb.WriteString(strconv.Itoa(len(b.args)))
		return b
	}
	b.sb.WriteByte('?')
	return b
}

// Args appends a comma separated list of placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// IdentList appends a comma separated list of quoted identifiers.
func (b *Builder) IdentList(names ...string) *Builder {
	for i, name := range names {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(name)
	}
	return b
}

// Limit appends the LIMIT/OFFSET clause. A zero limit with a positive
// offset still produces a valid clause on every dialect.
func (b *Builder) Limit(limit, offset int) *Builder {
	switch {
	case limit > 0:
		b.sb.WriteString(" LIMIT ")
		b.sb.WriteString(strconv.Itoa(limit))
	case offset > 0 && b.dialect == dialect.SQLite:
		b.sb.WriteString(" LIMIT -1")
	case offset > 0 && b.dialect == dialect.MySQL:
		b.sb.WriteString(" LIMIT 18446744073709551615")
	}
	if offset > 0 {
		b.sb.WriteString(" OFFSET ")
		b.sb.WriteString(strconv.Itoa(offset))
	}
	return b
}

// Query returns the statement and its arguments.
func (b *Builder) Query() (string, []any) {
	args := b.args
	if args == nil {
		args = []any{}
	}
	return b.sb.String(), args
}

// String returns the statement text.
func (b *Builder) String() string {
	return b.sb.String()
}
