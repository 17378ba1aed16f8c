package querylanguage

import (
	"fmt"
	"slices"
	"sort"
)

// Logical keys of a where envelope.
const (
	KeyAnd = "AND"
	KeyOr  = "OR"
	KeyNot = "NOT"
)

// Operator keys accepted inside a field filter object.
const (
	opEquals     = "equals"
	opNot        = "not"
	opIn         = "in"
	opNotIn      = "notIn"
	opLT         = "lt"
	opLTE        = "lte"
	opGT         = "gt"
	opGTE        = "gte"
	opContains   = "contains"
	opStartsWith = "startsWith"
	opEndsWith   = "endsWith"
	opMode       = "mode"
)

var fieldOps = []string{
	opEquals, opNot, opIn, opNotIn, opLT, opLTE, opGT, opGTE,
	opContains, opStartsWith, opEndsWith, opMode,
}

// ModeInsensitive selects case-insensitive string matching.
const ModeInsensitive = "insensitive"

// SyntaxError reports a malformed where envelope.
type SyntaxError struct {
	Field string
	Msg   string
}

// Error returns the error string.
func (e *SyntaxError) Error() string {
	if e.Field == "" {
		return "querylanguage: " + e.Msg
	}
	return fmt.Sprintf("querylanguage: field %q: %s", e.Field, e.Msg)
}

func syntaxErrorf(field, format string, a ...any) error {
	return &SyntaxError{Field: field, Msg: fmt.Sprintf(format, a...)}
}

// Parse converts a where envelope into a predicate.
//
// The envelope maps field names to a scalar (equality), nil (is null) or an
// operator object such as {"in": [...], "gte": 3, "contains": "x",
// "mode": "insensitive"}. The AND, OR and NOT keys combine nested envelopes
// given as an object or a list of objects. An empty envelope yields a nil
// predicate which matches every record.
func Parse(where map[string]any) (P, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ps := make([]P, 0, len(keys))
	for _, k := range keys {
		v := where[k]
		switch k {
		case KeyAnd, KeyOr, KeyNot:
			xs, err := parseList(k, v)
			if err != nil {
				return nil, err
			}
			switch k {
			case KeyAnd:
				ps = append(ps, And(xs...))
			case KeyOr:
				if len(xs) == 0 {
					// OR of nothing matches nothing.
					ps = append(ps, FieldIn(idFallback))
					continue
				}
				ps = append(ps, Or(xs...))
			case KeyNot:
				if p := And(xs...); p != nil {
					ps = append(ps, Not(p))
				}
			}
		default:
			p, err := parseField(k, v)
			if err != nil {
				return nil, err
			}
			ps = append(ps, p)
		}
	}
	return And(ps...), nil
}

// idFallback is the field used to express an always-false predicate.
const idFallback = "id"

func parseList(key string, v any) ([]P, error) {
	var items []any
	switch v := v.(type) {
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	case []map[string]any:
		for _, m := range v {
			items = append(items, m)
		}
	default:
		return nil, syntaxErrorf(key, "expected object or list, got %T", v)
	}
	ps := make([]P, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, syntaxErrorf(key, "expected object, got %T", item)
		}
		p, err := Parse(m)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps, nil
}

func parseField(name string, v any) (P, error) {
	if v == nil {
		return FieldNil(name), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		if isList(v) {
			return nil, syntaxErrorf(name, "list values require the %q operator", opIn)
		}
		return FieldEQ(name, v), nil
	}
	for k := range m {
		if !slices.Contains(fieldOps, k) {
			return nil, syntaxErrorf(name, "unknown operator %q", k)
		}
	}
	fold := false
	if mode, ok := m[opMode]; ok {
		switch mode {
		case ModeInsensitive:
			fold = true
		case "default":
		default:
			return nil, syntaxErrorf(name, "unknown mode %v", mode)
		}
	}
	var ps []P
	for _, op := range fieldOps {
		arg, ok := m[op]
		if !ok || op == opMode {
			continue
		}
		p, err := parseOp(name, op, arg, fold)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	if len(ps) == 0 {
		return nil, syntaxErrorf(name, "empty filter")
	}
	return And(ps...), nil
}

func parseOp(name, op string, arg any, fold bool) (P, error) {
	switch op {
	case opEquals:
		if arg == nil {
			return FieldNil(name), nil
		}
		if s, ok := arg.(string); ok && fold {
			return FieldEqualFold(name, s), nil
		}
		return FieldEQ(name, arg), nil
	case opNot:
		switch arg := arg.(type) {
		case nil:
			return FieldNotNil(name), nil
		case map[string]any:
			p, err := parseField(name, arg)
			if err != nil {
				return nil, err
			}
			return Not(p), nil
		default:
			if s, ok := arg.(string); ok && fold {
				return Not(FieldEqualFold(name, s)), nil
			}
			return FieldNEQ(name, arg), nil
		}
	case opIn, opNotIn:
		vs, ok := toList(arg)
		if !ok {
			return nil, syntaxErrorf(name, "%q expects a list, got %T", op, arg)
		}
		if op == opIn {
			return FieldIn(name, vs...), nil
		}
		return FieldNotIn(name, vs...), nil
	case opLT:
		return FieldLT(name, arg), nil
	case opLTE:
		return FieldLTE(name, arg), nil
	case opGT:
		return FieldGT(name, arg), nil
	case opGTE:
		return FieldGTE(name, arg), nil
	}
	s, ok := arg.(string)
	if !ok {
		return nil, syntaxErrorf(name, "%q expects a string, got %T", op, arg)
	}
	switch {
	case op == opContains && fold:
		return FieldContainsFold(name, s), nil
	case op == opContains:
		return FieldContains(name, s), nil
	case op == opStartsWith && fold:
		return FieldHasPrefixFold(name, s), nil
	case op == opStartsWith:
		return FieldHasPrefix(name, s), nil
	case op == opEndsWith && fold:
		return FieldHasSuffixFold(name, s), nil
	default:
		return FieldHasSuffix(name, s), nil
	}
}

func isList(v any) bool {
	_, ok := toList(v)
	return ok
}

func toList(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []int64:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	default:
		return nil, false
	}
}
