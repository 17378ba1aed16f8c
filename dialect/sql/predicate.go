package sql

import (
	"fmt"
	"strings"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/dialect"
	"github.com/syssam/dynacrud/querylanguage"
	"github.com/syssam/dynacrud/schema"
)

// Where appends " WHERE <predicate>" for the given envelope, or nothing
// when the envelope is empty. Unknown fields and malformed envelopes fail
// with a *dynacrud.ValidationError.
func Where(b *Builder, m *schema.Model, where dynacrud.Where) error {
	p, err := querylanguage.Parse(where)
	if err != nil {
		return dynacrud.NewValidationError(m.Name, "where", err)
	}
	if p == nil {
		return nil
	}
	b.WriteString(" WHERE ")
	return Predicate(b, m, p)
}

// Predicate compiles p into a boolean SQL expression over the columns of m.
// Null handling follows querylanguage.Eval: a comparison against a null
// column is false, "not equal" and "not in" match null columns, and a
// negation of a false comparison is true.
func Predicate(b *Builder, m *schema.Model, p querylanguage.P) error {
	c := &compiler{b: b, m: m}
	return c.expr(p)
}

type compiler struct {
	b *Builder
	m *schema.Model
}

func (c *compiler) expr(x querylanguage.Expr) error {
	switch x := x.(type) {
	case *querylanguage.UnaryExpr:
		c.b.WriteString("NOT COALESCE((")
		if err := c.expr(x.X); err != nil {
			return err
		}
		c.b.WriteString("), FALSE)")
		return nil
	case *querylanguage.NaryExpr:
		return c.junction(x.Op, x.Xs)
	case *querylanguage.BinaryExpr:
		if x.Op == querylanguage.OpAnd || x.Op == querylanguage.OpOr {
			return c.junction(x.Op, []querylanguage.Expr{x.X, x.Y})
		}
		return c.binary(x)
	case *querylanguage.CallExpr:
		return c.call(x)
	default:
		return fmt.Errorf("dialect/sql: unexpected expression %T", x)
	}
}

func (c *compiler) junction(op querylanguage.Op, xs []querylanguage.Expr) error {
	sep := " AND "
	if op == querylanguage.OpOr {
		sep = " OR "
	}
	c.b.WriteString("(")
	for i, x := range xs {
		if i > 0 {
			c.b.WriteString(sep)
		}
		if err := c.expr(x); err != nil {
			return err
		}
	}
	c.b.WriteString(")")
	return nil
}

// operands returns the field and value of a comparison.
func (c *compiler) operands(x, y querylanguage.Expr) (*schema.Field, any, error) {
	f, ok := x.(*querylanguage.Field)
	if !ok {
		return nil, nil, fmt.Errorf("dialect/sql: expected a field operand, got %T", x)
	}
	v, ok := y.(*querylanguage.Value)
	if !ok {
		return nil, nil, fmt.Errorf("dialect/sql: expected a value operand, got %T", y)
	}
	field, ok := c.m.Lookup(f.Name)
	if !ok {
		return nil, nil, dynacrud.Validationf(c.m.Name, f.Name, "unknown field")
	}
	return field, v.V, nil
}

func (c *compiler) column(f *schema.Field) string {
	return c.b.Quote(c.m.Column(f.Name))
}

func (c *compiler) arg(f *schema.Field, v any) error {
	v, err := encode(c.b.Dialect(), c.m, f, v)
	if err != nil {
		return err
	}
	c.b.Arg(v)
	return nil
}

var binaryOps = map[querylanguage.Op]string{
	querylanguage.OpEQ:  " = ",
	querylanguage.OpGT:  " > ",
	querylanguage.OpGTE: " >= ",
	querylanguage.OpLT:  " < ",
	querylanguage.OpLTE: " <= ",
}

func (c *compiler) binary(x *querylanguage.BinaryExpr) error {
	f, v, err := c.operands(x.X, x.Y)
	if err != nil {
		return err
	}
	col := c.column(f)
	switch x.Op {
	case querylanguage.OpIn, querylanguage.OpNotIn:
		vs, _ := v.([]any)
		return c.in(f, col, vs, x.Op == querylanguage.OpNotIn)
	case querylanguage.OpEQ:
		if v == nil {
			c.b.WriteString(col + " IS NULL")
			return nil
		}
	case querylanguage.OpNEQ:
		if v == nil {
			c.b.WriteString(col + " IS NOT NULL")
			return nil
		}
		c.b.WriteString("(" + col + " <> ")
		if err := c.arg(f, v); err != nil {
			return err
		}
		c.b.WriteString(" OR " + col + " IS NULL)")
		return nil
	}
	op, ok := binaryOps[x.Op]
	if !ok {
		return fmt.Errorf("dialect/sql: unsupported operator %s", x.Op)
	}
	if v == nil {
		// Ordering against null never matches.
		c.b.WriteString("1 = 0")
		return nil
	}
	c.b.WriteString(col + op)
	return c.arg(f, v)
}

func (c *compiler) in(f *schema.Field, col string, vs []any, negate bool) error {
	values := make([]any, 0, len(vs))
	hasNil := false
	for _, v := range vs {
		if v == nil {
			hasNil = true
			continue
		}
		v, err := encode(c.b.Dialect(), c.m, f, v)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	switch {
	case !negate && len(values) == 0 && hasNil:
		c.b.WriteString(col + " IS NULL")
	case !negate && len(values) == 0:
		c.b.WriteString("1 = 0")
	case !negate:
		c.b.WriteString("(" + col + " IN (")
		c.b.Args(values...)
		c.b.WriteString(")")
		if hasNil {
			c.b.WriteString(" OR " + col + " IS NULL")
		}
		c.b.WriteString(")")
	case len(values) == 0 && hasNil:
		c.b.WriteString(col + " IS NOT NULL")
	case len(values) == 0:
		c.b.WriteString("1 = 1")
	default:
		c.b.WriteString("(" + col + " NOT IN (")
		c.b.Args(values...)
		if hasNil {
			c.b.WriteString(") AND " + col + " IS NOT NULL)")
		} else {
			c.b.WriteString(") OR " + col + " IS NULL)")
		}
	}
	return nil
}

func (c *compiler) call(x *querylanguage.CallExpr) error {
	if len(x.Args) != 2 {
		return fmt.Errorf("dialect/sql: %s expects 2 arguments", x.Func)
	}
	f, v, err := c.operands(x.Args[0], x.Args[1])
	if err != nil {
		return err
	}
	s, ok := v.(string)
	if !ok {
		return dynacrud.Validationf(c.m.Name, f.Name, "%s expects a string, got %T", x.Func, v)
	}
	col := c.column(f)
	fold := false
	switch x.Func {
	case querylanguage.FuncEqualFold:
		c.b.WriteString("LOWER(" + col + ") = LOWER(")
		c.b.Arg(s)
		c.b.WriteString(")")
		return nil
	case querylanguage.FuncContainsFold, querylanguage.FuncHasPrefixFold, querylanguage.FuncHasSuffixFold:
		fold = true
	}
	if s == "" {
		c.b.WriteString(col + " IS NOT NULL")
		return nil
	}
	if fold {
		col = "LOWER(" + col + ")"
		s = strings.ToLower(s)
	}
	if c.b.Dialect() == dialect.SQLite {
		// LIKE is case-insensitive on SQLite.
		switch x.Func {
		case querylanguage.FuncContains, querylanguage.FuncContainsFold:
			c.b.WriteString("instr(" + col + ", ").Arg(s).WriteString(") > 0")
		case querylanguage.FuncHasPrefix, querylanguage.FuncHasPrefixFold:
			c.b.WriteString("substr(" + col + ", 1, length(").Arg(s).WriteString(")) = ").Arg(s)
		case querylanguage.FuncHasSuffix, querylanguage.FuncHasSuffixFold:
			c.b.WriteString("substr(" + col + ", -length(").Arg(s).WriteString(")) = ").Arg(s)
		default:
			return fmt.Errorf("dialect/sql: unsupported function %s", x.Func)
		}
		return nil
	}
	pattern := likeEscaper.Replace(s)
	switch x.Func {
	case querylanguage.FuncContains, querylanguage.FuncContainsFold:
		pattern = "%" + pattern + "%"
	case querylanguage.FuncHasPrefix, querylanguage.FuncHasPrefixFold:
		pattern += "%"
	case querylanguage.FuncHasSuffix, querylanguage.FuncHasSuffixFold:
		pattern = "%" + pattern
	default:
		return fmt.Errorf("dialect/sql: unsupported function %s", x.Func)
	}
	c.b.WriteString(col + " LIKE ").Arg(pattern)
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
