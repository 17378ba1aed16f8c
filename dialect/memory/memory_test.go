package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/dialect/memory"
	"github.com/syssam/dynacrud/schema"
)

var (
	userModel = &schema.Model{
		Name: "User",
		Fields: []schema.Field{
			{Name: "email", Type: schema.TypeString, Required: true, Unique: true},
			{Name: "name", Type: schema.TypeString},
		},
		Relations: []schema.Relation{
			{Name: "tasks", Model: "Task", Field: "id", References: "userId"},
		},
	}
	taskModel = &schema.Model{
		Name: "Task",
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString, Required: true},
			{Name: "done", Type: schema.TypeBool, Default: false},
			{Name: "points", Type: schema.TypeInt},
			{Name: "weight", Type: schema.TypeFloat},
			{Name: "userId", Type: schema.TypeUUID},
			{Name: "dueAt", Type: schema.TypeTime},
			{Name: "labels", Type: schema.TypeJSON},
			{Name: "updatedAt", Type: schema.TypeTime, Default: schema.Now, OnUpdate: schema.Now},
		},
		Relations: []schema.Relation{
			{Name: "owner", Model: "User", Field: "userId", References: "id", Unique: true},
		},
	}
)

type fixture struct {
	users *memory.Table
	tasks *memory.Table
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var (
		mu  sync.Mutex
		seq int
	)
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id%d", seq)
	}
	clock := func() time.Time { return f.now }
	registry := dynacrud.NewRegistry()
	f.users = memory.NewTable(userModel, memory.WithResolver(registry), memory.WithIDGenerator(ids), memory.WithClock(clock))
	f.tasks = memory.NewTable(taskModel, memory.WithResolver(registry), memory.WithIDGenerator(ids), memory.WithClock(clock))
	registry.Register("User", f.users)
	registry.Register("Task", f.tasks)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []dynacrud.Record{
		{"id": "u1", "email": "ada@example.com", "name": "Ada"},
		{"id": "u2", "email": "bob@example.com", "name": "Bob"},
	} {
		_, err := f.users.Create(ctx, u, dynacrud.Projection{})
		require.NoError(t, err)
	}
	for _, task := range []dynacrud.Record{
		{"id": "t1", "title": "write docs", "points": 3, "weight": 1.5, "userId": "u1", "dueAt": "2024-06-01T00:00:00Z"},
		{"id": "t2", "title": "Fix bug", "points": 5, "done": true, "userId": "u1"},
		{"id": "t3", "title": "review", "points": 1, "userId": "u2", "labels": []any{"a"}},
	} {
		_, err := f.tasks.Create(ctx, task, dynacrud.Projection{})
		require.NoError(t, err)
	}
}

func ids(recs []dynacrud.Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r["id"]
	}
	return out
}

func TestTableCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.tasks.Create(ctx, dynacrud.Record{"title": "a", "points": 2.0, "dueAt": "2024-06-01T10:00:00+02:00"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "id1", rec["id"])
	assert.Equal(t, int64(2), rec["points"])
	assert.Equal(t, false, rec["done"])
	assert.Equal(t, f.now, rec["updatedAt"])
	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), rec["dueAt"])
	assert.Nil(t, rec["weight"])
	assert.Contains(t, rec, "weight", "records carry every declared field")

	rec["title"] = "changed"
	got, err := f.tasks.FindUnique(ctx, &dynacrud.Query{Where: dynacrud.Where{"id": "id1"}})
	require.NoError(t, err)
	assert.Equal(t, "a", got["title"], "returned records are copies")
}

func TestTableCreate_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	tests := []struct {
		name  string
		data  dynacrud.Record
		check func(*testing.T, error)
	}{
		{
			name: "MissingRequired",
			data: dynacrud.Record{"points": 1},
			check: func(t *testing.T, err error) {
				ce, ok := dynacrud.AsConstraintError(err)
				require.True(t, ok)
				assert.Equal(t, dynacrud.ConstraintNotNull, ce.Kind)
				assert.Equal(t, "title", ce.Field)
			},
		},
		{
			name: "DuplicateID",
			data: dynacrud.Record{"id": "t1", "title": "again"},
			check: func(t *testing.T, err error) {
				ce, ok := dynacrud.AsConstraintError(err)
				require.True(t, ok)
				assert.Equal(t, dynacrud.ConstraintUnique, ce.Kind)
				assert.Equal(t, "id", ce.Field)
			},
		},
		{
			name:  "UnknownField",
			data:  dynacrud.Record{"title": "x", "color": "red"},
			check: func(t *testing.T, err error) { assert.True(t, dynacrud.IsValidationError(err)) },
		},
		{
			name:  "FractionalInt",
			data:  dynacrud.Record{"title": "x", "points": 1.5},
			check: func(t *testing.T, err error) { assert.True(t, dynacrud.IsValidationError(err)) },
		},
		{
			name:  "InvalidTime",
			data:  dynacrud.Record{"title": "x", "dueAt": "tomorrow"},
			check: func(t *testing.T, err error) { assert.True(t, dynacrud.IsValidationError(err)) },
		},
		{
			name:  "WrongType",
			data:  dynacrud.Record{"title": 42},
			check: func(t *testing.T, err error) { assert.True(t, dynacrud.IsValidationError(err)) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tasks.Create(ctx, tt.data, dynacrud.Projection{})
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, 3, f.tasks.Len())
		})
	}

	_, err := f.users.Create(ctx, dynacrud.Record{"email": "ada@example.com"}, dynacrud.Projection{})
	ce, ok := dynacrud.AsConstraintError(err)
	require.True(t, ok)
	assert.Equal(t, "email", ce.Field)
}

func TestTableIntID(t *testing.T) {
	ctx := context.Background()
	counters := memory.NewTable(&schema.Model{
		Name:   "Counter",
		IDType: schema.IDInt,
		Fields: []schema.Field{{Name: "label", Type: schema.TypeString}},
	})
	a, err := counters.Create(ctx, dynacrud.Record{"label": "a"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a["id"])
	b, err := counters.Create(ctx, dynacrud.Record{"id": 10, "label": "b"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), b["id"])
	c, err := counters.Create(ctx, dynacrud.Record{"label": "c"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, int64(11), c["id"])

	got, err := counters.FindUnique(ctx, &dynacrud.Query{Where: dynacrud.Where{"id": 10}})
	require.NoError(t, err)
	assert.Equal(t, "b", got["label"])

	updated, err := counters.Update(ctx, 1.0, dynacrud.Record{"label": "z"}, dynacrud.Projection{})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "z", updated["label"])

	t.Run("StringForm", func(t *testing.T) {
		got, err := counters.FindUnique(ctx, &dynacrud.Query{Where: dynacrud.Where{"id": "10"}})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b", got["label"])

		recs, err := counters.FindMany(ctx, &dynacrud.Query{Where: dynacrud.Where{"id": map[string]any{"in": []any{"1", "11", "x"}}}})
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		none, err := counters.FindUnique(ctx, &dynacrud.Query{Where: dynacrud.Where{"id": "abc"}})
		require.NoError(t, err)
		assert.Nil(t, none)

		updated, err := counters.Update(ctx, "11", dynacrud.Record{"label": "y"}, dynacrud.Projection{})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, int64(11), updated["id"])

		deleted, err := counters.Delete(ctx, "11", dynacrud.Projection{})
		require.NoError(t, err)
		require.NotNil(t, deleted)
		assert.Equal(t, 2, counters.Len())
	})
}

func TestTableStringIDRequired(t *testing.T) {
	slugs := memory.NewTable(&schema.Model{Name: "Slug", IDType: schema.IDString})
	_, err := slugs.Create(context.Background(), dynacrud.Record{}, dynacrud.Projection{})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestTableFindMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	tests := []struct {
		name  string
		query dynacrud.Query
		want  []any
	}{
		{"All", dynacrud.Query{}, []any{"t1", "t2", "t3"}},
		{"Equal", dynacrud.Query{Where: dynacrud.Where{"userId": "u1"}}, []any{"t1", "t2"}},
		{"Range", dynacrud.Query{Where: dynacrud.Where{"points": map[string]any{"gte": 3}}}, []any{"t1", "t2"}},
		{"Null", dynacrud.Query{Where: dynacrud.Where{"dueAt": nil}}, []any{"t2", "t3"}},
		{"Time", dynacrud.Query{Where: dynacrud.Where{"dueAt": map[string]any{"lt": "2025-01-01T00:00:00Z"}}}, []any{"t1"}},
		{"Or", dynacrud.Query{Where: dynacrud.Where{"OR": []any{
			map[string]any{"done": true},
			map[string]any{"points": 1},
		}}}, []any{"t2", "t3"}},
		{"OrderDesc", dynacrud.Query{OrderBy: []dynacrud.Order{{Field: "points", Desc: true}}}, []any{"t2", "t1", "t3"}},
		{"Window", dynacrud.Query{OrderBy: []dynacrud.Order{{Field: "points"}}, Skip: 1, Take: 1}, []any{"t1"}},
		{"SkipPastEnd", dynacrud.Query{Skip: 5}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := f.tasks.FindMany(ctx, &tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(recs))
			if tt.query.Skip == 0 && tt.query.Take == 0 {
				n, err := f.tasks.Count(ctx, tt.query.Where)
				require.NoError(t, err)
				assert.Equal(t, len(tt.want), n)
			}
		})
	}

	_, err := f.tasks.FindMany(ctx, &dynacrud.Query{Where: dynacrud.Where{"color": "red"}})
	assert.True(t, dynacrud.IsValidationError(err))
	_, err = f.tasks.FindMany(ctx, &dynacrud.Query{Where: dynacrud.Where{"AND": "x"}})
	assert.True(t, dynacrud.IsValidationError(err))
	_, err = f.tasks.FindMany(ctx, &dynacrud.Query{OrderBy: []dynacrud.Order{{Field: "color"}}})
	assert.True(t, dynacrud.IsValidationError(err))

	first, err := f.tasks.FindFirst(ctx, &dynacrud.Query{Where: dynacrud.Where{"userId": "u2"}})
	require.NoError(t, err)
	assert.Equal(t, "t3", first["id"])
	missing, err := f.tasks.FindFirst(ctx, &dynacrud.Query{Where: dynacrud.Where{"userId": "nobody"}})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTableProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	users, err := f.users.FindMany(ctx, &dynacrud.Query{
		OrderBy: []dynacrud.Order{{Field: "email"}},
		Projection: dynacrud.Projection{Include: map[string]any{
			"tasks": map[string]any{"orderBy": map[string]any{"points": "desc"}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, []any{"t2", "t1"}, ids(users[0]["tasks"].([]dynacrud.Record)))
	assert.Equal(t, []any{"t3"}, ids(users[1]["tasks"].([]dynacrud.Record)))

	task, err := f.tasks.FindUnique(ctx, &dynacrud.Query{
		Where: dynacrud.Where{"id": "t3"},
		Projection: dynacrud.Projection{Select: map[string]any{
			"title": true,
			"owner": map[string]any{"select": map[string]any{"name": true}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Record{"title": "review", "owner": dynacrud.Record{"name": "Bob"}}, task)

	created, err := f.tasks.Create(ctx, dynacrud.Record{"title": "new", "userId": "u2"},
		dynacrud.Projection{Include: map[string]any{"owner": true}})
	require.NoError(t, err)
	assert.Equal(t, "Bob", created["owner"].(dynacrud.Record)["name"])

	_, err = f.tasks.FindMany(ctx, &dynacrud.Query{Projection: dynacrud.Projection{Include: map[string]any{"nope": true}}})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestTableUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.now = f.now.Add(time.Hour)

	rec, err := f.tasks.Update(ctx, "t1", dynacrud.Record{"done": true, "weight": 2}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, true, rec["done"])
	assert.Equal(t, 2.0, rec["weight"])
	assert.Equal(t, "write docs", rec["title"])
	assert.Equal(t, f.now, rec["updatedAt"])

	rec, err = f.tasks.Update(ctx, "nope", dynacrud.Record{"done": true}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = f.tasks.Update(ctx, "t1", dynacrud.Record{"title": nil}, dynacrud.Projection{})
	ce, ok := dynacrud.AsConstraintError(err)
	require.True(t, ok)
	assert.Equal(t, dynacrud.ConstraintNotNull, ce.Kind)

	_, err = f.users.Update(ctx, "u2", dynacrud.Record{"email": "ada@example.com"}, dynacrud.Projection{})
	ce, ok = dynacrud.AsConstraintError(err)
	require.True(t, ok)
	assert.Equal(t, dynacrud.ConstraintUnique, ce.Kind)

	// Updating a record to its own unique value is not a conflict.
	_, err = f.users.Update(ctx, "u1", dynacrud.Record{"email": "ada@example.com"}, dynacrud.Projection{})
	require.NoError(t, err)

	unchanged, err := f.tasks.FindUnique(ctx, &dynacrud.Query{Where: dynacrud.Where{"id": "t1"}})
	require.NoError(t, err)
	assert.Equal(t, "write docs", unchanged["title"], "failed updates leave the record untouched")
}

func TestTableDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	rec, err := f.tasks.Delete(ctx, "t2", dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", rec["title"])
	assert.Equal(t, 2, f.tasks.Len())

	rec, err = f.tasks.Delete(ctx, "t2", dynacrud.Projection{})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTableCreateMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	batch := []dynacrud.Record{
		{"email": "cy@example.com"},
		{"email": "ada@example.com"},
		{"email": "dee@example.com"},
	}
	_, err := f.users.CreateMany(ctx, batch, dynacrud.CreateManyOptions{})
	require.Error(t, err)
	assert.Equal(t, 2, f.users.Len(), "a failed batch stores nothing")

	n, err := f.users.CreateMany(ctx, batch, dynacrud.CreateManyOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, f.users.Len())

	_, err = f.users.CreateMany(ctx, []dynacrud.Record{{"email": "eve@example.com"}, {"name": "anonymous"}},
		dynacrud.CreateManyOptions{SkipDuplicates: true})
	ce, ok := dynacrud.AsConstraintError(err)
	require.True(t, ok)
	assert.Equal(t, dynacrud.ConstraintNotNull, ce.Kind, "only unique violations are skipped")
	assert.Equal(t, 4, f.users.Len())
}

func TestTableUpdateMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	n, err := f.tasks.UpdateMany(ctx, dynacrud.Where{"userId": "u1"}, dynacrud.Record{"done": true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	done, err := f.tasks.Count(ctx, dynacrud.Where{"done": true})
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	_, err = f.users.UpdateMany(ctx, dynacrud.Where{}, dynacrud.Record{"email": "same@example.com"})
	require.Error(t, err)
	n, err = f.users.Count(ctx, dynacrud.Where{"email": "same@example.com"})
	require.NoError(t, err)
	assert.Zero(t, n, "a failed batch updates nothing")

	_, err = f.tasks.UpdateMany(ctx, nil, dynacrud.Record{"color": "red"})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestTableDeleteMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	n, err := f.tasks.DeleteMany(ctx, dynacrud.Where{"points": map[string]any{"lt": 5}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	recs, err := f.tasks.FindMany(ctx, &dynacrud.Query{})
	require.NoError(t, err)
	assert.Equal(t, []any{"t2"}, ids(recs))

	n, err = f.tasks.DeleteMany(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.tasks.Len())
}

func TestTableUpsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	rec, err := f.users.Upsert(ctx, dynacrud.Where{"email": "cy@example.com"},
		dynacrud.Record{"email": "cy@example.com", "name": "Cy"},
		dynacrud.Record{"name": "Cyrus"},
		dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "Cy", rec["name"])

	rec, err = f.users.Upsert(ctx, dynacrud.Where{"email": "cy@example.com"},
		dynacrud.Record{"email": "cy@example.com", "name": "Cy"},
		dynacrud.Record{"name": "Cyrus"},
		dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "Cyrus", rec["name"])
	assert.Equal(t, 3, f.users.Len())
}

func TestTableAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	got, err := f.tasks.Aggregate(ctx, &dynacrud.AggregateQuery{
		CountAll: true,
		Count:    []string{"dueAt"},
		Sum:      []string{"points", "weight"},
		Avg:      []string{"points"},
		Min:      []string{"title"},
		Max:      []string{"points"},
	})
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Record{
		dynacrud.AggCount: map[string]any{dynacrud.AggAll: 3, "dueAt": 1},
		dynacrud.AggSum:   map[string]any{"points": 9.0, "weight": 1.5},
		dynacrud.AggAvg:   map[string]any{"points": 3.0},
		dynacrud.AggMin:   map[string]any{"title": "Fix bug"},
		dynacrud.AggMax:   map[string]any{"points": int64(5)},
	}, got)

	got, err = f.tasks.Aggregate(ctx, &dynacrud.AggregateQuery{
		Where:    dynacrud.Where{"userId": "nobody"},
		CountAll: true,
	})
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Record{dynacrud.AggCount: 0}, got)

	_, err = f.tasks.Aggregate(ctx, &dynacrud.AggregateQuery{Sum: []string{"color"}})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestTableGroupBy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	rows, err := f.tasks.GroupBy(ctx, &dynacrud.GroupByQuery{
		AggregateQuery: dynacrud.AggregateQuery{CountAll: true, Sum: []string{"points"}},
		By:             []string{"userId"},
		OrderBy:        []dynacrud.Order{{Field: "userId", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []dynacrud.Record{
		{"userId": "u2", dynacrud.AggCount: 1, dynacrud.AggSum: map[string]any{"points": 1.0}},
		{"userId": "u1", dynacrud.AggCount: 2, dynacrud.AggSum: map[string]any{"points": 8.0}},
	}, rows)

	rows, err = f.tasks.GroupBy(ctx, &dynacrud.GroupByQuery{
		AggregateQuery: dynacrud.AggregateQuery{CountAll: true},
		By:             []string{"done"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, false, rows[0]["done"], "groups default to ascending by the grouping fields")

	for name, q := range map[string]*dynacrud.GroupByQuery{
		"NoBy":        {AggregateQuery: dynacrud.AggregateQuery{CountAll: true}},
		"UnknownBy":   {By: []string{"color"}},
		"OrderNotBy":  {By: []string{"userId"}, OrderBy: []dynacrud.Order{{Field: "points"}}},
		"UnknownAggr": {By: []string{"userId"}, AggregateQuery: dynacrud.AggregateQuery{Min: []string{"color"}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.tasks.GroupBy(ctx, q)
			assert.True(t, dynacrud.IsValidationError(err))
		})
	}
}

func TestTableConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.users.Create(ctx, dynacrud.Record{"email": "same@example.com"}, dynacrud.Projection{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.users.Len())
}
