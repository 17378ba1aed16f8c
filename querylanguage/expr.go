// Package querylanguage provides the filter language of the engine.
//
// A where envelope (see Parse) is turned into an expression tree of
// predicates (P). Storage backends either evaluate the tree directly
// (Eval) or compile it into their native query language.
package querylanguage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// An Op represents an operator.
type Op int

// Operators.
const (
	OpAnd   Op = iota // logical and.
	OpOr              // logical or.
	OpNot             // logical negation.
	OpEQ              // ==
	OpNEQ             // !=
	OpGT              // >
	OpGTE             // >=
	OpLT              // <
	OpLTE             // <=
	OpIn              // within
	OpNotIn           // out of
)

var ops = [...]string{
	OpAnd:   "&&",
	OpOr:    "||",
	OpNot:   "!",
	OpEQ:    "==",
	OpNEQ:   "!=",
	OpGT:    ">",
	OpGTE:   ">=",
	OpLT:    "<",
	OpLTE:   "<=",
	OpIn:    "in",
	OpNotIn: "not in",
}

// String returns the text representation of an operator.
func (o Op) String() string {
	if o >= 0 && int(o) < len(ops) {
		return ops[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// A Func represents a function expression.
type Func string

// Functions.
const (
	FuncEqualFold     Func = "equal_fold"
	FuncContains      Func = "contains"
	FuncContainsFold  Func = "contains_fold"
	FuncHasPrefix     Func = "has_prefix"
	FuncHasSuffix     Func = "has_suffix"
	FuncHasPrefixFold Func = "has_prefix_fold"
	FuncHasSuffixFold Func = "has_suffix_fold"
)

type (
	// Expr represents a filter expression.
	Expr interface {
		fmt.Stringer
		expr()
	}

	// P represents an expression that returns a boolean value depending on its variables.
	P interface {
		Expr
		Negate() P
	}
)

type (
	// An UnaryExpr represents a unary expression.
	UnaryExpr struct {
		Op Op
		X  Expr
	}

	// A BinaryExpr represents a binary expression.
	BinaryExpr struct {
		Op   Op
		X, Y Expr
	}

	// A NaryExpr represents a n-ary expression.
	NaryExpr struct {
		Op Op
		Xs []Expr
	}

	// A CallExpr represents a function call with its arguments.
	CallExpr struct {
		Func Func
		Args []Expr
	}

	// A Field represents a record field.
	Field struct {
		Name string
	}

	// A Value represents an arbitrary value.
	Value struct {
		V any
	}
)

// F returns a field expression for the given name.
func F(name string) *Field {
	return &Field{Name: name}
}

// V returns a value expression for the given value.
func V(v any) *Value {
	return &Value{V: v}
}

// Not returns a new negation predicate.
func Not(x P) P {
	return &UnaryExpr{Op: OpNot, X: x}
}

// And returns a composed predicate that represents the logical AND
// of the given predicates. A nil result means "match everything".
func And(xs ...P) P {
	return junction(OpAnd, xs)
}

// Or returns a composed predicate that represents the logical OR
// of the given predicates.
func Or(xs ...P) P {
	return junction(OpOr, xs)
}

func junction(op Op, xs []P) P {
	ps := make([]Expr, 0, len(xs))
	for _, x := range xs {
		if x != nil {
			ps = append(ps, x)
		}
	}
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0].(P)
	case 2:
		return &BinaryExpr{Op: op, X: ps[0], Y: ps[1]}
	default:
		return &NaryExpr{Op: op, Xs: ps}
	}
}

// EQ returns a predicate to check if the expressions are equal.
func EQ(x, y Expr) P {
	return &BinaryExpr{Op: OpEQ, X: x, Y: y}
}

// NEQ returns a predicate to check if the expressions are not equal.
func NEQ(x, y Expr) P {
	return &BinaryExpr{Op: OpNEQ, X: x, Y: y}
}

// GT returns a predicate to check if the expression x > than expression y.
func GT(x, y Expr) P {
	return &BinaryExpr{Op: OpGT, X: x, Y: y}
}

// GTE returns a predicate to check if the expression x >= than expression y.
func GTE(x, y Expr) P {
	return &BinaryExpr{Op: OpGTE, X: x, Y: y}
}

// LT returns a predicate to check if the expression x < than expression y.
func LT(x, y Expr) P {
	return &BinaryExpr{Op: OpLT, X: x, Y: y}
}

// LTE returns a predicate to check if the expression x <= than expression y.
func LTE(x, y Expr) P {
	return &BinaryExpr{Op: OpLTE, X: x, Y: y}
}

// FieldEQ returns a predicate to check if a field is equivalent to a given value.
func FieldEQ(name string, v any) P {
	return EQ(F(name), V(v))
}

// FieldNEQ returns a predicate to check if a field is not equivalent to a given value.
func FieldNEQ(name string, v any) P {
	return NEQ(F(name), V(v))
}

// FieldGT returns a predicate to check if a field is > than the given value.
func FieldGT(name string, v any) P {
	return GT(F(name), V(v))
}

// FieldGTE returns a predicate to check if a field is >= than the given value.
func FieldGTE(name string, v any) P {
	return GTE(F(name), V(v))
}

// FieldLT returns a predicate to check if a field is < than the given value.
func FieldLT(name string, v any) P {
	return LT(F(name), V(v))
}

// FieldLTE returns a predicate to check if a field is <= than the given value.
func FieldLTE(name string, v any) P {
	return LTE(F(name), V(v))
}

// FieldIn returns a predicate to check if the field value matches any value in the given list.
func FieldIn(name string, vs ...any) P {
	return &BinaryExpr{Op: OpIn, X: F(name), Y: V(vs)}
}

// FieldNotIn returns a predicate to check if the field value doesn't match any value in the given list.
func FieldNotIn(name string, vs ...any) P {
	return &BinaryExpr{Op: OpNotIn, X: F(name), Y: V(vs)}
}

// FieldNil returns a predicate to check if a field is nil (null in databases).
func FieldNil(name string) P {
	return EQ(F(name), V(nil))
}

// FieldNotNil returns a predicate to check if a field is not nil (not null in databases).
func FieldNotNil(name string) P {
	return NEQ(F(name), V(nil))
}

// FieldContains returns a predicate to check if the field value contains a substr.
func FieldContains(name, substr string) P {
	return call(FuncContains, name, substr)
}

// FieldContainsFold returns a predicate to check if the field value contains a substr under case-folding.
func FieldContainsFold(name, substr string) P {
	return call(FuncContainsFold, name, substr)
}

// FieldEqualFold returns a predicate to check if the field is equal to the given string under case-folding.
func FieldEqualFold(name, v string) P {
	return call(FuncEqualFold, name, v)
}

// FieldHasPrefix returns a predicate to check if the field starts with the given prefix.
func FieldHasPrefix(name, prefix string) P {
	return call(FuncHasPrefix, name, prefix)
}

// FieldHasPrefixFold returns a predicate to check if the field starts with the given prefix under case-folding.
func FieldHasPrefixFold(name, prefix string) P {
	return call(FuncHasPrefixFold, name, prefix)
}

// FieldHasSuffix returns a predicate to check if the field ends with the given suffix.
func FieldHasSuffix(name, suffix string) P {
	return call(FuncHasSuffix, name, suffix)
}

// FieldHasSuffixFold returns a predicate to check if the field ends with the given suffix under case-folding.
func FieldHasSuffixFold(name, suffix string) P {
	return call(FuncHasSuffixFold, name, suffix)
}

func call(fn Func, name, arg string) P {
	return &CallExpr{Func: fn, Args: []Expr{F(name), V(arg)}}
}

// Negate negates the predicate.
func (e *BinaryExpr) Negate() P {
	return Not(e)
}

// Negate negates the predicate.
func (e *NaryExpr) Negate() P {
	return Not(e)
}

// Negate negates the predicate.
func (e *CallExpr) Negate() P {
	return Not(e)
}

// Negate negates the predicate.
func (e *UnaryExpr) Negate() P {
	return Not(e)
}

// String returns the text representation of a binary expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.X, e.Op, e.Y)
}

// String returns the text representation of a unary expression.
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("%s(%s)", e.Op, e.X)
}

// String returns the text representation of a n-ary expression.
func (e *NaryExpr) String() string {
	var s strings.Builder
	s.WriteByte('(')
	for i, x := range e.Xs {
		if i > 0 {
			s.WriteString(" " + e.Op.String() + " ")
		}
		s.WriteString(x.String())
	}
	s.WriteByte(')')
	return s.String()
}

// String returns the text representation of a call expression.
func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Func, strings.Join(args, ", "))
}

// String returns the text representation of a field.
func (f *Field) String() string {
	return f.Name
}

// String returns the text representation of a value.
func (v *Value) String() string {
	if v.V == nil {
		return "nil"
	}
	buf, err := json.Marshal(v.V)
	if err != nil {
		return fmt.Sprint(v.V)
	}
	return string(buf)
}

func (*Field) expr()      {}
func (*Value) expr()      {}
func (*CallExpr) expr()   {}
func (*NaryExpr) expr()   {}
func (*UnaryExpr) expr()  {}
func (*BinaryExpr) expr() {}
