package dynacrud

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/syssam/dynacrud/querylanguage"
)

// Aggregation option keys.
const (
	AggCount = "_count"
	AggSum   = "_sum"
	AggAvg   = "_avg"
	AggMin   = "_min"
	AggMax   = "_max"
	AggAll   = "_all"
)

// AggregateQuery describes an aggregate request over the records matching Where.
type AggregateQuery struct {
	Where    Where
	CountAll bool
	Count    []string
	Sum      []string
	Avg      []string
	Min      []string
	Max      []string
}

// IsEmpty reports whether no aggregate was requested.
func (q *AggregateQuery) IsEmpty() bool {
	return !q.CountAll && len(q.Count)+len(q.Sum)+len(q.Avg)+len(q.Min)+len(q.Max) == 0
}

// GroupByQuery describes a grouped aggregate request.
type GroupByQuery struct {
	AggregateQuery
	By      []string
	OrderBy []Order
	Skip    int
	Take    int
}

// ParseAggregate parses aggregate options of the form
// {where, _count: true | {f: true}, _sum: {f: true}, _avg, _min, _max}.
func ParseAggregate(opts map[string]any) (*AggregateQuery, error) {
	q := &AggregateQuery{}
	for k, v := range opts {
		var err error
		switch k {
		case "where":
			q.Where, err = whereOf(v)
		case AggCount:
			if b, ok := v.(bool); ok {
				q.CountAll = b
				continue
			}
			var fields []string
			if fields, err = selectedFields(k, v); err == nil {
				for _, f := range fields {
					if f == AggAll {
						q.CountAll = true
						continue
					}
					q.Count = append(q.Count, f)
				}
			}
		case AggSum:
			q.Sum, err = selectedFields(k, v)
		case AggAvg:
			q.Avg, err = selectedFields(k, v)
		case AggMin:
			q.Min, err = selectedFields(k, v)
		case AggMax:
			q.Max, err = selectedFields(k, v)
		case "by", "orderBy", "skip", "take":
			// Handled by ParseGroupBy.
		default:
			err = Validationf("", k, "unknown aggregate option")
		}
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

// ParseGroupBy parses groupBy options: the aggregate options plus a
// required non-empty "by" list and optional orderBy, skip and take.
func ParseGroupBy(opts map[string]any) (*GroupByQuery, error) {
	agg, err := ParseAggregate(opts)
	if err != nil {
		return nil, err
	}
	q := &GroupByQuery{AggregateQuery: *agg}
	switch by := opts["by"].(type) {
	case string:
		q.By = []string{by}
	case []string:
		q.By = by
	case []any:
		for _, v := range by {
			s, ok := v.(string)
			if !ok {
				return nil, Validationf("", "by", "expected field name, got %T", v)
			}
			q.By = append(q.By, s)
		}
	}
	if len(q.By) == 0 {
		return nil, Validationf("", "by", "at least one field is required")
	}
	if q.OrderBy, err = ParseOrderBy(opts["orderBy"]); err != nil {
		return nil, err
	}
	if q.Skip, err = intOpt("skip", opts["skip"]); err != nil {
		return nil, err
	}
	if q.Take, err = intOpt("take", opts["take"]); err != nil {
		return nil, err
	}
	return q, nil
}

// ParseOrderBy parses {field: "asc"|"desc"} or a list of such objects.
// Keys of a single object are applied in sorted order.
func ParseOrderBy(v any) ([]Order, error) {
	var items []map[string]any
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		items = []map[string]any{v}
	case []map[string]any:
		items = v
	case []any:
		for _, x := range v {
			m, ok := x.(map[string]any)
			if !ok {
				return nil, Validationf("", "orderBy", "expected object, got %T", x)
			}
			items = append(items, m)
		}
	default:
		return nil, Validationf("", "orderBy", "expected object or list, got %T", v)
	}
	var orders []Order
	for _, m := range items {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dir, _ := m[k].(string)
			switch strings.ToLower(dir) {
			case "asc":
				orders = append(orders, Order{Field: k})
			case "desc":
				orders = append(orders, Order{Field: k, Desc: true})
			default:
				return nil, Validationf("", "orderBy", "invalid direction %v for %q", m[k], k)
			}
		}
	}
	return orders, nil
}

// SortRecords orders records in place. Values that cannot be compared keep
// their relative order.
func SortRecords(rs []Record, orders []Order) {
	if len(orders) == 0 {
		return
	}
	slices.SortStableFunc(rs, func(a, b Record) int {
		for _, o := range orders {
			c, ok := querylanguage.Compare(a[o.Field], b[o.Field])
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return -c
			}
			return c
		}
		return 0
	})
}

// ComputeAggregate evaluates an aggregate over records already filtered by
// the caller. It is the reference semantics for backends without native
// aggregation.
func ComputeAggregate(rs []Record, q *AggregateQuery) Record {
	out := Record{}
	if q.CountAll || len(q.Count) > 0 {
		if q.CountAll && len(q.Count) == 0 {
			out[AggCount] = len(rs)
		} else {
			counts := map[string]any{}
			if q.CountAll {
				counts[AggAll] = len(rs)
			}
			for _, f := range q.Count {
				n := 0
				for _, r := range rs {
					if r[f] != nil {
						n++
					}
				}
				counts[f] = n
			}
			out[AggCount] = counts
		}
	}
	if len(q.Sum) > 0 {
		out[AggSum] = fieldAgg(rs, q.Sum, func(vs []any) any {
			sum, n := sumOf(vs)
			if n == 0 {
				return nil
			}
			return sum
		})
	}
	if len(q.Avg) > 0 {
		out[AggAvg] = fieldAgg(rs, q.Avg, func(vs []any) any {
			sum, n := sumOf(vs)
			if n == 0 {
				return nil
			}
			return sum / float64(n)
		})
	}
	if len(q.Min) > 0 {
		out[AggMin] = fieldAgg(rs, q.Min, func(vs []any) any { return extreme(vs, -1) })
	}
	if len(q.Max) > 0 {
		out[AggMax] = fieldAgg(rs, q.Max, func(vs []any) any { return extreme(vs, 1) })
	}
	return out
}

// ComputeGroupBy groups records by the q.By fields and aggregates each group.
func ComputeGroupBy(rs []Record, q *GroupByQuery) []Record {
	var (
		keys   []string
		groups = map[string][]Record{}
	)
	for _, r := range rs {
		parts := make([]string, len(q.By))
		for i, f := range q.By {
			parts[i] = fmt.Sprintf("%T:%v", r[f], r[f])
		}
		k := strings.Join(parts, "\x00")
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	rows := make([]Record, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		row := ComputeAggregate(g, &q.AggregateQuery)
		for _, f := range q.By {
			row[f] = g[0][f]
		}
		rows = append(rows, row)
	}
	SortRecords(rows, q.OrderBy)
	return Window(rows, q.Skip, q.Take)
}

// Window applies skip/take to a slice. A zero take means no limit.
func Window[T any](xs []T, skip, take int) []T {
	if skip > 0 {
		if skip >= len(xs) {
			return xs[:0]
		}
		xs = xs[skip:]
	}
	if take > 0 && take < len(xs) {
		xs = xs[:take]
	}
	return xs
}

func fieldAgg(rs []Record, fields []string, fn func([]any) any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		vs := make([]any, 0, len(rs))
		for _, r := range rs {
			if v := r[f]; v != nil {
				vs = append(vs, v)
			}
		}
		out[f] = fn(vs)
	}
	return out
}

func sumOf(vs []any) (float64, int) {
	var (
		sum float64
		n   int
	)
	for _, v := range vs {
		if f, ok := querylanguage.Number(v); ok {
			sum += f
			n++
		}
	}
	return sum, n
}

func extreme(vs []any, sign int) any {
	var best any
	for _, v := range vs {
		if best == nil {
			best = v
			continue
		}
		if c, ok := querylanguage.Compare(v, best); ok && c*sign > 0 {
			best = v
		}
	}
	return best
}

func selectedFields(key string, v any) ([]string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, Validationf("", key, "expected object of fields, got %T", v)
	}
	fields := make([]string, 0, len(m))
	for f, sel := range m {
		if b, ok := sel.(bool); ok && b {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields, nil
}

func whereOf(v any) (Where, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case Where:
		return v, nil
	case map[string]any:
		return Where(v), nil
	default:
		return nil, Validationf("", "where", "expected object, got %T", v)
	}
}

func intOpt(name string, v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	f, ok := querylanguage.Number(v)
	if !ok || f < 0 || f != float64(int(f)) {
		return 0, Validationf("", name, "expected a non-negative integer, got %v", v)
	}
	return int(f), nil
}
