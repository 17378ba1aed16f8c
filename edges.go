package dynacrud

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/syssam/dynacrud/contrib/dataloader"
	"github.com/syssam/dynacrud/querylanguage"
	"github.com/syssam/dynacrud/schema"
)

// Described is implemented by delegates that expose their model declaration.
type Described interface {
	Schema() *schema.Model
}

// ApplyProjection shapes records fetched by a delegate of model m.
//
// Include keys (and relation keys inside select) attach related records
// loaded through r, one batched query per relation. Select keeps only the
// selected keys. A key naming neither a field nor a relation fails with a
// *ValidationError before anything is loaded.
func ApplyProjection(ctx context.Context, r Resolver, m *schema.Model, p Projection, recs []Record) error {
	p = p.Normalize()
	if p.IsZero() {
		return nil
	}
	directives, including := p.Include, len(p.Include) > 0
	if !including {
		directives = p.Select
	}
	keys := make([]string, 0, len(directives))
	for k, v := range directives {
		if !enabled(v) {
			continue
		}
		_, isRel := m.Relation(k)
		switch {
		case isRel:
		case including:
			return Validationf(m.Name, k, "unknown relation")
		case !m.HasField(k):
			return Validationf(m.Name, k, "unknown field")
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(recs) == 0 {
		return nil
	}
	for _, k := range keys {
		if rel, ok := m.Relation(k); ok {
			if err := loadEdge(ctx, r, rel, directives[k], recs); err != nil {
				return err
			}
		}
	}
	if !including {
		for _, rec := range recs {
			for f := range rec {
				if !slices.Contains(keys, f) {
					delete(rec, f)
				}
			}
		}
	}
	return nil
}

// nestedQuery reads the optional where/orderBy/select/include of an
// include directive such as {"comments": {"orderBy": {"createdAt": "desc"}}}.
func nestedQuery(model, name string, v any) (*Query, error) {
	q := &Query{}
	m, ok := v.(map[string]any)
	if !ok {
		return q, nil
	}
	for k, x := range m {
		switch k {
		case "where":
			w, err := whereOf(x)
			if err != nil {
				return nil, err
			}
			q.Where = w
		case "orderBy":
			orders, err := ParseOrderBy(x)
			if err != nil {
				return nil, err
			}
			q.OrderBy = orders
		case "select":
			q.Select, _ = x.(map[string]any)
		case "include":
			q.Include, _ = x.(map[string]any)
		default:
			return nil, Validationf(model, name, "unknown include option %q", k)
		}
	}
	return q, nil
}

func loadEdge(ctx context.Context, r Resolver, rel *schema.Relation, directive any, recs []Record) error {
	target, err := r.Resolve(rel.Model)
	if err != nil {
		return err
	}
	nested, err := nestedQuery(rel.Model, rel.Name, directive)
	if err != nil {
		return err
	}
	// The join field must survive a nested select; it is removed again below.
	added := false
	if len(nested.Include) == 0 && len(nested.Select) > 0 && !enabled(nested.Select[rel.References]) {
		sel := make(map[string]any, len(nested.Select)+1)
		for k, v := range nested.Select {
			sel[k] = v
		}
		sel[rel.References] = true
		nested.Select, added = sel, true
	}
	raw := make(map[string]any)
	keys := dataloader.Keys(recs, func(rec Record) (string, bool) {
		k, ok := EdgeKey(rec[rel.Field])
		if ok {
			raw[k] = rec[rel.Field]
		}
		return k, ok
	})
	fetch := func(ctx context.Context, keys []string) ([]Record, error) {
		in := make([]any, len(keys))
		for i, k := range keys {
			in[i] = raw[k]
		}
		where := Where{rel.References: map[string]any{"in": in}}
		if len(nested.Where) > 0 {
			where = Where{querylanguage.KeyAnd: []any{map[string]any(where), map[string]any(nested.Where)}}
		}
		return target.FindMany(ctx, &Query{Where: where, OrderBy: nested.OrderBy, Projection: nested.Projection})
	}
	grouped, err := dataloader.Load(ctx, keys, fetch, func(rec Record) string {
		k, _ := EdgeKey(rec[rel.References])
		return k
	})
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", rel.Model, rel.Name, err)
	}
	if added {
		for _, group := range grouped {
			for _, child := range group {
				delete(child, rel.References)
			}
		}
	}
	for _, rec := range recs {
		var group []Record
		if k, ok := EdgeKey(rec[rel.Field]); ok {
			group = grouped[k]
		}
		if rel.Unique {
			if len(group) > 0 {
				rec[rel.Name] = group[0]
			} else {
				rec[rel.Name] = nil
			}
			continue
		}
		rec[rel.Name] = append([]Record{}, group...)
	}
	return nil
}

// EdgeKey returns a comparable join key for a field value. Numbers of
// different Go types produce the same key. It reports false for nil.
func EdgeKey(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if f, ok := querylanguage.Number(v); ok {
		return "n:" + strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "s:" + fmt.Sprint(v), true
}

func enabled(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case map[string]any:
		return true
	default:
		return false
	}
}
