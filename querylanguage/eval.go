package querylanguage

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Eval reports whether the record satisfies the predicate.
// A nil predicate matches every record.
func Eval(p P, rec map[string]any) bool {
	if p == nil {
		return true
	}
	return evalBool(p, rec)
}

func evalBool(x Expr, rec map[string]any) bool {
	switch x := x.(type) {
	case *UnaryExpr:
		return !evalBool(x.X, rec)
	case *NaryExpr:
		return junctionEval(x.Op, x.Xs, rec)
	case *BinaryExpr:
		if x.Op == OpAnd || x.Op == OpOr {
			return junctionEval(x.Op, []Expr{x.X, x.Y}, rec)
		}
		return evalBinary(x, rec)
	case *CallExpr:
		return evalCall(x, rec)
	default:
		return false
	}
}

func junctionEval(op Op, xs []Expr, rec map[string]any) bool {
	for _, x := range xs {
		ok := evalBool(x, rec)
		if op == OpAnd && !ok {
			return false
		}
		if op == OpOr && ok {
			return true
		}
	}
	return op == OpAnd
}

func resolve(x Expr, rec map[string]any) any {
	switch x := x.(type) {
	case *Field:
		return rec[x.Name]
	case *Value:
		return x.V
	default:
		return nil
	}
}

func evalBinary(x *BinaryExpr, rec map[string]any) bool {
	l, r := resolve(x.X, rec), resolve(x.Y, rec)
	switch x.Op {
	case OpEQ:
		return Equal(l, r)
	case OpNEQ:
		return !Equal(l, r)
	case OpIn, OpNotIn:
		vs, _ := toList(r)
		found := false
		for _, v := range vs {
			if Equal(l, v) {
				found = true
				break
			}
		}
		return found == (x.Op == OpIn)
	}
	if l == nil || r == nil {
		return false
	}
	c, ok := Compare(l, r)
	if !ok {
		return false
	}
	switch x.Op {
	case OpGT:
		return c > 0
	case OpGTE:
		return c >= 0
	case OpLT:
		return c < 0
	case OpLTE:
		return c <= 0
	default:
		return false
	}
}

func evalCall(x *CallExpr, rec map[string]any) bool {
	if len(x.Args) != 2 {
		return false
	}
	s, ok := resolve(x.Args[0], rec).(string)
	if !ok {
		return false
	}
	arg, ok := resolve(x.Args[1], rec).(string)
	if !ok {
		return false
	}
	switch x.Func {
	case FuncEqualFold:
		return strings.EqualFold(s, arg)
	case FuncContains:
		return strings.Contains(s, arg)
	case FuncContainsFold:
		return strings.Contains(strings.ToLower(s), strings.ToLower(arg))
	case FuncHasPrefix:
		return strings.HasPrefix(s, arg)
	case FuncHasSuffix:
		return strings.HasSuffix(s, arg)
	case FuncHasPrefixFold:
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(arg))
	case FuncHasSuffixFold:
		return strings.HasSuffix(strings.ToLower(s), strings.ToLower(arg))
	default:
		return false
	}
}

// Equal reports whether two scalar values are equal. Numbers of different
// Go types compare by value and times compare against RFC 3339 strings.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return false
}

// Compare orders two scalar values. It reports false when the values are
// not comparable. Nil sorts before every other value.
func Compare(a, b any) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}
	if x, ok := Number(a); ok {
		if y, ok := Number(b); ok {
			return cmpFloat(x, y), true
		}
		return 0, false
	}
	if x, ok := asTime(a); ok {
		if y, ok := asTime(b); ok {
			return x.Compare(y), true
		}
		if s, ok := b.(string); ok {
			if y, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return x.Compare(y), true
			}
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
		if y, ok := asTime(b); ok {
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t.Compare(y), true
			}
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return strings.Compare(string(x), string(y)), true
		}
	}
	return 0, false
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func asTime(v any) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v != nil {
			return *v, true
		}
	}
	return time.Time{}, false
}

// Number converts any Go numeric value (including json.Number) to float64.
func Number(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Fields returns the names of the fields referenced by the predicate.
func Fields(p P) []string {
	var (
		names []string
		seen  = make(map[string]bool)
		walk  func(Expr)
	)
	walk = func(x Expr) {
		switch x := x.(type) {
		case *Field:
			if !seen[x.Name] {
				seen[x.Name] = true
				names = append(names, x.Name)
			}
		case *UnaryExpr:
			walk(x.X)
		case *BinaryExpr:
			walk(x.X)
			walk(x.Y)
		case *NaryExpr:
			for _, y := range x.Xs {
				walk(y)
			}
		case *CallExpr:
			for _, y := range x.Args {
				walk(y)
			}
		}
	}
	if p != nil {
		walk(p)
	}
	return names
}
