package sql

import (
	"context"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/schema"
)

// aggColumn is one aggregate expression of a select list. A nil field
// stands for COUNT(*).
type aggColumn struct {
	fn    string
	field *schema.Field
}

var aggFuncs = map[string]string{
	dynacrud.AggCount: "COUNT",
	dynacrud.AggSum:   "SUM",
	dynacrud.AggAvg:   "AVG",
	dynacrud.AggMin:   "MIN",
	dynacrud.AggMax:   "MAX",
}

// Aggregate computes the requested aggregates over the records matching
// q.Where in one statement.
func (t *Table) Aggregate(ctx context.Context, q *dynacrud.AggregateQuery) (dynacrud.Record, error) {
	cols, err := t.aggColumns(q)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return dynacrud.Record{}, nil
	}
	b := t.builder()
	b.WriteString("SELECT ")
	t.writeAggs(b, cols)
	b.WriteString(" FROM ").Ident(t.model.TableName())
	if err := Where(b, t.model, q.Where); err != nil {
		return nil, err
	}
	rows, err := t.queryValues(ctx, t.drv, b, len(cols))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return dynacrud.ComputeAggregate(nil, q), nil
	}
	return assemble(q, cols, rows[0]), nil
}

// GroupBy computes the requested aggregates per distinct combination of the
// q.By fields. Rows are ordered by q.OrderBy, which may only name q.By
// fields, or by the q.By fields when no order is given.
func (t *Table) GroupBy(ctx context.Context, q *dynacrud.GroupByQuery) ([]dynacrud.Record, error) {
	if len(q.By) == 0 {
		return nil, dynacrud.Validationf(t.model.Name, "by", "at least one field is required")
	}
	by := make([]*schema.Field, len(q.By))
	for i, name := range q.By {
		f, ok := t.model.Lookup(name)
		if !ok {
			return nil, dynacrud.Validationf(t.model.Name, name, "unknown field")
		}
		by[i] = f
	}
	cols, err := t.aggColumns(&q.AggregateQuery)
	if err != nil {
		return nil, err
	}
	b := t.builder()
	b.WriteString("SELECT ")
	for i, f := range by {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(t.model.Column(f.Name))
	}
	if len(cols) > 0 {
		b.WriteString(", ")
		t.writeAggs(b, cols)
	}
	b.WriteString(" FROM ").Ident(t.model.TableName())
	if err := Where(b, t.model, q.Where); err != nil {
		return nil, err
	}
	b.WriteString(" GROUP BY ")
	for i, f := range by {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(t.model.Column(f.Name))
	}
	orders := q.OrderBy
	if len(orders) == 0 {
		for _, name := range q.By {
			orders = append(orders, dynacrud.Order{Field: name})
		}
	}
	if err := t.orderBy(b, orders, q.By); err != nil {
		return nil, err
	}
	b.Limit(q.Take, q.Skip)
	rows, err := t.queryValues(ctx, t.drv, b, len(by)+len(cols))
	if err != nil {
		return nil, err
	}
	out := make([]dynacrud.Record, 0, len(rows))
	for _, values := range rows {
		rec := assemble(&q.AggregateQuery, cols, values[len(by):])
		for i, f := range by {
			rec[f.Name] = decode(f, values[i])
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *Table) aggColumns(q *dynacrud.AggregateQuery) ([]aggColumn, error) {
	var cols []aggColumn
	if q.CountAll {
		cols = append(cols, aggColumn{fn: dynacrud.AggCount})
	}
	for _, group := range []struct {
		fn     string
		fields []string
	}{
		{dynacrud.AggCount, q.Count},
		{dynacrud.AggSum, q.Sum},
		{dynacrud.AggAvg, q.Avg},
		{dynacrud.AggMin, q.Min},
		{dynacrud.AggMax, q.Max},
	} {
		for _, name := range group.fields {
			f, ok := t.model.Lookup(name)
			if !ok {
				return nil, dynacrud.Validationf(t.model.Name, name, "unknown field")
			}
			cols = append(cols, aggColumn{fn: group.fn, field: f})
		}
	}
	return cols, nil
}

func (t *Table) writeAggs(b *Builder, cols []aggColumn) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(aggFuncs[c.fn] + "(")
		if c.field == nil {
			b.WriteString("*")
		} else {
			b.Ident(t.model.Column(c.field.Name))
		}
		b.WriteString(")")
	}
}

// assemble shapes aggregate values like dynacrud.ComputeAggregate does.
func assemble(q *dynacrud.AggregateQuery, cols []aggColumn, values []any) dynacrud.Record {
	out := dynacrud.Record{}
	group := func(key string) map[string]any {
		m, _ := out[key].(map[string]any)
		if m == nil {
			m = map[string]any{}
			out[key] = m
		}
		return m
	}
	for i, c := range cols {
		v := values[i]
		switch {
		case c.fn == dynacrud.AggCount && c.field == nil && len(q.Count) == 0:
			out[dynacrud.AggCount] = toInt(v)
		case c.fn == dynacrud.AggCount && c.field == nil:
			group(dynacrud.AggCount)[dynacrud.AggAll] = toInt(v)
		case c.fn == dynacrud.AggCount:
			group(dynacrud.AggCount)[c.field.Name] = toInt(v)
		case c.fn == dynacrud.AggSum || c.fn == dynacrud.AggAvg:
			group(c.fn)[c.field.Name] = toFloat(v)
		default:
			group(c.fn)[c.field.Name] = decode(c.field, v)
		}
	}
	return out
}
