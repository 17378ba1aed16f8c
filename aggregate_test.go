package dynacrud_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dynacrud"
)

func TestParseAggregate(t *testing.T) {
	q, err := dynacrud.ParseAggregate(map[string]any{
		"where":  map[string]any{"done": false},
		"_count": map[string]any{"_all": true, "userId": true},
		"_sum":   map[string]any{"points": true, "hours": true, "skip": false},
		"_avg":   map[string]any{"points": true},
		"_min":   map[string]any{"createdAt": true},
		"_max":   map[string]any{"createdAt": true},
	})
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Where{"done": false}, q.Where)
	assert.True(t, q.CountAll)
	assert.Equal(t, []string{"userId"}, q.Count)
	assert.Equal(t, []string{"hours", "points"}, q.Sum)
	assert.Equal(t, []string{"points"}, q.Avg)
	assert.False(t, q.IsEmpty())

	q, err = dynacrud.ParseAggregate(map[string]any{"_count": true})
	require.NoError(t, err)
	assert.True(t, q.CountAll)
	assert.Empty(t, q.Count)

	q, err = dynacrud.ParseAggregate(nil)
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())

	for _, opts := range []map[string]any{
		{"_median": map[string]any{"x": true}},
		{"_sum": true},
		{"where": "x"},
	} {
		_, err := dynacrud.ParseAggregate(opts)
		assert.True(t, dynacrud.IsValidationError(err), "%v", opts)
	}
}

func TestParseGroupBy(t *testing.T) {
	q, err := dynacrud.ParseGroupBy(map[string]any{
		"by":      []any{"status"},
		"_count":  true,
		"orderBy": []any{map[string]any{"status": "desc"}},
		"take":    2.0,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"status"}, q.By)
	assert.Equal(t, []dynacrud.Order{{Field: "status", Desc: true}}, q.OrderBy)
	assert.Equal(t, 2, q.Take)

	_, err = dynacrud.ParseGroupBy(map[string]any{"_count": true})
	assert.True(t, dynacrud.IsValidationError(err))
	_, err = dynacrud.ParseGroupBy(map[string]any{"by": "status", "skip": -1})
	assert.True(t, dynacrud.IsValidationError(err))
	_, err = dynacrud.ParseGroupBy(map[string]any{"by": []any{1}})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestParseOrderBy(t *testing.T) {
	orders, err := dynacrud.ParseOrderBy(map[string]any{"title": "asc", "createdAt": "DESC"})
	require.NoError(t, err)
	assert.Equal(t, []dynacrud.Order{{Field: "createdAt", Desc: true}, {Field: "title"}}, orders)

	orders, err = dynacrud.ParseOrderBy(nil)
	require.NoError(t, err)
	assert.Nil(t, orders)

	_, err = dynacrud.ParseOrderBy(map[string]any{"title": "up"})
	assert.True(t, dynacrud.IsValidationError(err))
	_, err = dynacrud.ParseOrderBy("title")
	assert.True(t, dynacrud.IsValidationError(err))
}

func tasks() []dynacrud.Record {
	return []dynacrud.Record{
		{"id": "t1", "status": "open", "points": 3, "userId": "u1"},
		{"id": "t2", "status": "done", "points": 5.5, "userId": nil},
		{"id": "t3", "status": "open", "points": nil, "userId": "u2"},
		{"id": "t4", "status": "open", "points": int64(1), "userId": "u1"},
	}
}

func TestComputeAggregate(t *testing.T) {
	out := dynacrud.ComputeAggregate(tasks(), &dynacrud.AggregateQuery{
		CountAll: true,
		Count:    []string{"userId"},
		Sum:      []string{"points"},
		Avg:      []string{"points"},
		Min:      []string{"points", "id"},
		Max:      []string{"points"},
	})
	assert.Equal(t, map[string]any{"_all": 4, "userId": 3}, out["_count"])
	assert.Equal(t, map[string]any{"points": 9.5}, out["_sum"])
	assert.InDelta(t, 9.5/3, out["_avg"].(map[string]any)["points"], 1e-9)
	assert.EqualValues(t, 1, out["_min"].(map[string]any)["points"])
	assert.Equal(t, "t1", out["_min"].(map[string]any)["id"])
	assert.Equal(t, 5.5, out["_max"].(map[string]any)["points"])

	out = dynacrud.ComputeAggregate(nil, &dynacrud.AggregateQuery{CountAll: true, Sum: []string{"points"}})
	assert.Equal(t, 0, out["_count"])
	assert.Equal(t, map[string]any{"points": nil}, out["_sum"])
}

func TestComputeGroupBy(t *testing.T) {
	rows := dynacrud.ComputeGroupBy(tasks(), &dynacrud.GroupByQuery{
		AggregateQuery: dynacrud.AggregateQuery{CountAll: true, Sum: []string{"points"}},
		By:             []string{"status"},
		OrderBy:        []dynacrud.Order{{Field: "status"}},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "done", rows[0]["status"])
	assert.Equal(t, 1, rows[0]["_count"])
	assert.Equal(t, "open", rows[1]["status"])
	assert.Equal(t, 3, rows[1]["_count"])
	assert.Equal(t, map[string]any{"points": 4.0}, rows[1]["_sum"])

	rows = dynacrud.ComputeGroupBy(tasks(), &dynacrud.GroupByQuery{
		AggregateQuery: dynacrud.AggregateQuery{CountAll: true},
		By:             []string{"status", "userId"},
		Skip:           1,
		Take:           1,
	})
	require.Len(t, rows, 1)
	assert.Equal(t, dynacrud.Record{"status": "done", "userId": nil, "_count": 1}, rows[0])
}

func TestSortRecordsAndWindow(t *testing.T) {
	rs := tasks()
	dynacrud.SortRecords(rs, []dynacrud.Order{{Field: "points", Desc: true}})
	ids := make([]any, len(rs))
	for i, r := range rs {
		ids[i] = r["id"]
	}
	assert.Equal(t, []any{"t2", "t1", "t4", "t3"}, ids)

	xs := []int{1, 2, 3, 4}
	assert.Equal(t, []int{2, 3}, dynacrud.Window(xs, 1, 2))
	assert.Empty(t, dynacrud.Window(xs, 9, 0))
	assert.Equal(t, xs, dynacrud.Window(xs, 0, 0))
}
