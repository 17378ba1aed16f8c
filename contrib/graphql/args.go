package graphql

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/querylanguage"
)

// args reads the arguments of one root field.
type args map[string]any

func (a args) string(name string) (string, error) {
	switch v := a[name].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case nil:
	default:
		return "", dynacrud.Validationf("", name, "expected a string, got %T", v)
	}
	return "", dynacrud.Validationf("", name, "is required")
}

func (a args) object(name string) (map[string]any, error) {
	return object(name, a[name])
}

func (a args) record(name string) (dynacrud.Record, error) {
	m, err := a.object(name)
	if err != nil || m == nil {
		return nil, err
	}
	return dynacrud.Record(m), nil
}

func (a args) input(name string) (args, error) {
	m, err := a.object(name)
	if m == nil {
		m = map[string]any{}
	}
	return args(m), err
}

func (a args) int(name string) (int, error) {
	v := a[name]
	if v == nil {
		return 0, nil
	}
	f, ok := querylanguage.Number(v)
	if !ok || f != math.Trunc(f) {
		return 0, dynacrud.Validationf("", name, "expected an integer, got %v", v)
	}
	return int(f), nil
}

func (a args) bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a args) where(name string) (dynacrud.Where, error) {
	m, err := a.object(name)
	return dynacrud.Where(m), err
}

func (a args) orderBy(name string) ([]dynacrud.Order, error) {
	if a[name] == nil {
		return nil, nil
	}
	return dynacrud.ParseOrderBy(a[name])
}

// projection reads the select and include arguments.
func (a args) projection() (dynacrud.Projection, error) {
	sel, err := a.object("select")
	if err != nil {
		return dynacrud.Projection{}, err
	}
	inc, err := a.object("include")
	if err != nil {
		return dynacrud.Projection{}, err
	}
	return dynacrud.Projection{Select: sel, Include: inc}, nil
}

func (a args) records(name string) ([]dynacrud.Record, error) {
	list, ok := a[name].([]any)
	if !ok {
		return nil, dynacrud.Validationf("", name, "expected a list of objects")
	}
	recs := make([]dynacrud.Record, len(list))
	for i, v := range list {
		m, err := object(fmt.Sprintf("%s[%d]", name, i), v)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, dynacrud.Validationf("", fmt.Sprintf("%s[%d]", name, i), "is required")
		}
		recs[i] = m
	}
	return recs, nil
}

// id resolves the target record of updateOne and deleteOne: input.id,
// then input.where.id, then input.data.id.
func (a args) id() (any, error) {
	if id := a[dynacrud.DefaultIDField]; id != nil {
		return id, nil
	}
	for _, key := range []string{"where", "data"} {
		if m, ok := a[key].(map[string]any); ok && m[dynacrud.DefaultIDField] != nil {
			return m[dynacrud.DefaultIDField], nil
		}
	}
	return nil, dynacrud.Validationf("", "id", "is required")
}

func object(name string, v any) (map[string]any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	default:
		return nil, dynacrud.Validationf("", name, "expected an object, got %T", v)
	}
}

// numbers replaces every json.Number in v by an int64 or a float64.
func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, x := range v {
			v[k] = numbers(x)
		}
		return v
	case []any:
		for i, x := range v {
			v[i] = numbers(x)
		}
		return v
	default:
		return v
	}
}
