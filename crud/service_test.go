package crud_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/cache"
	"github.com/syssam/dynacrud/crud"
	"github.com/syssam/dynacrud/dialect/memory"
	"github.com/syssam/dynacrud/normalize"
	"github.com/syssam/dynacrud/schema"
)

var (
	userModel = &schema.Model{
		Name:   "User",
		IDType: schema.IDString,
		Fields: []schema.Field{
			{Name: "email", Type: schema.TypeString, Required: true, Unique: true},
			{Name: "name", Type: schema.TypeString},
		},
	}
	projectModel = &schema.Model{
		Name: "Project",
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "ownerId", Type: schema.TypeString, Required: true},
		},
	}
	taskModel = &schema.Model{
		Name: "Task",
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString, Required: true},
			{Name: "done", Type: schema.TypeBool, Default: false},
			{Name: "points", Type: schema.TypeInt},
			{Name: "userId", Type: schema.TypeString, Required: true},
			{Name: "projectId", Type: schema.TypeString},
		},
	}
)

// counting wraps a memory table and counts delegate calls. failOn, when
// set, injects an error before the named call reaches the table; id is the
// target record id when the call has one.
type counting struct {
	*memory.Table
	mu     sync.Mutex
	calls  map[string]int
	last   *dynacrud.Query
	failOn func(op string, id any) error
}

func newCounting(m *schema.Model, r dynacrud.Resolver) *counting {
	return &counting{Table: memory.NewTable(m, memory.WithResolver(r)), calls: map[string]int{}}
}

func (c *counting) record(op string, id any) error {
	c.mu.Lock()
	c.calls[op]++
	fail := c.failOn
	c.mu.Unlock()
	if fail != nil {
		return fail(op, id)
	}
	return nil
}

func (c *counting) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *counting) FindUnique(ctx context.Context, q *dynacrud.Query) (dynacrud.Record, error) {
	if err := c.record("FindUnique", nil); err != nil {
		return nil, err
	}
	return c.Table.FindUnique(ctx, q)
}

func (c *counting) FindFirst(ctx context.Context, q *dynacrud.Query) (dynacrud.Record, error) {
	if err := c.record("FindFirst", nil); err != nil {
		return nil, err
	}
	return c.Table.FindFirst(ctx, q)
}

func (c *counting) FindMany(ctx context.Context, q *dynacrud.Query) ([]dynacrud.Record, error) {
	if err := c.record("FindMany", nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.last = q
	c.mu.Unlock()
	return c.Table.FindMany(ctx, q)
}

func (c *counting) Count(ctx context.Context, where dynacrud.Where) (int, error) {
	if err := c.record("Count", nil); err != nil {
		return 0, err
	}
	return c.Table.Count(ctx, where)
}

func (c *counting) Create(ctx context.Context, data dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	if err := c.record("Create", data["id"]); err != nil {
		return nil, err
	}
	return c.Table.Create(ctx, data, p)
}

func (c *counting) Update(ctx context.Context, id any, data dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	if err := c.record("Update", id); err != nil {
		return nil, err
	}
	return c.Table.Update(ctx, id, data, p)
}

func (c *counting) Delete(ctx context.Context, id any, p dynacrud.Projection) (dynacrud.Record, error) {
	if err := c.record("Delete", id); err != nil {
		return nil, err
	}
	return c.Table.Delete(ctx, id, p)
}

func (c *counting) CreateMany(ctx context.Context, data []dynacrud.Record, opts dynacrud.CreateManyOptions) (int, error) {
	if err := c.record("CreateMany", nil); err != nil {
		return 0, err
	}
	return c.Table.CreateMany(ctx, data, opts)
}

func (c *counting) UpdateMany(ctx context.Context, where dynacrud.Where, data dynacrud.Record) (int, error) {
	if err := c.record("UpdateMany", nil); err != nil {
		return 0, err
	}
	return c.Table.UpdateMany(ctx, where, data)
}

func (c *counting) DeleteMany(ctx context.Context, where dynacrud.Where) (int, error) {
	if err := c.record("DeleteMany", nil); err != nil {
		return 0, err
	}
	return c.Table.DeleteMany(ctx, where)
}

func (c *counting) Upsert(ctx context.Context, where dynacrud.Where, create, update dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	if err := c.record("Upsert", nil); err != nil {
		return nil, err
	}
	return c.Table.Upsert(ctx, where, create, update, p)
}

type env struct {
	registry *dynacrud.Registry
	users    *counting
	projects *counting
	tasks    *counting
	cache    *cache.Memory
	svc      *crud.Service
}

func newEnv(t *testing.T, opts ...crud.Option) *env {
	t.Helper()
	e := &env{registry: dynacrud.NewRegistry(), cache: cache.NewMemory()}
	e.users = newCounting(userModel, e.registry)
	e.projects = newCounting(projectModel, e.registry)
	e.tasks = newCounting(taskModel, e.registry)
	e.registry.Register("User", e.users)
	e.registry.Register("Project", e.projects)
	e.registry.Register("Task", e.tasks)
	opts = append([]crud.Option{
		crud.WithNormalizer(normalize.Defaults(e.registry)),
		crud.WithCache(e.cache),
	}, opts...)
	e.svc = crud.New(e.registry, opts...)

	ctx := context.Background()
	for _, u := range []dynacrud.Record{
		{"id": "owner-1", "email": "owner@example.com"},
		{"id": "u1", "email": "u1@example.com"},
		{"id": "u2", "email": "u2@example.com"},
	} {
		_, err := e.users.Table.Create(ctx, u, dynacrud.Projection{})
		require.NoError(t, err)
	}
	for _, task := range []dynacrud.Record{
		{"id": "t1", "title": "one", "points": 1, "userId": "u1"},
		{"id": "t2", "title": "two", "points": 2, "userId": "u1"},
		{"id": "t3", "title": "three", "points": 3, "userId": "u2"},
	} {
		_, err := e.tasks.Table.Create(ctx, task, dynacrud.Projection{})
		require.NoError(t, err)
	}
	return e
}

func TestFindByID_Cache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first, err := e.svc.FindByID(ctx, "Task", "t1", dynacrud.Projection{})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, e.tasks.Calls("FindUnique"))
	assert.Equal(t, 1, e.cache.Len())

	second, err := e.svc.FindByID(ctx, "Task", "t1", dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.tasks.Calls("FindUnique"), "served from cache")

	projected := dynacrud.Projection{Select: map[string]any{"title": true}}
	rec, err := e.svc.FindByID(ctx, "Task", "t2", projected)
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Record{"title": "two"}, rec)
	assert.Equal(t, 2, e.tasks.Calls("FindUnique"))
	assert.Equal(t, 1, e.cache.Len(), "projected reads are never cached")

	_, err = e.svc.FindByID(ctx, "Task", "t1", projected)
	require.NoError(t, err)
	assert.Equal(t, 3, e.tasks.Calls("FindUnique"), "projected reads are never served from cache")

	missing, err := e.svc.FindByID(ctx, "Task", "nope", dynacrud.Projection{})
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 1, e.cache.Len(), "absent records are not cached")
}

func TestFindByID_WithoutCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, crud.WithCache(nil))
	for range 2 {
		_, err := e.svc.FindByID(ctx, "Task", "t1", dynacrud.Projection{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, e.tasks.Calls("FindUnique"))
}

func TestInvalidation(t *testing.T) {
	ctx := context.Background()
	caller := dynacrud.WithCaller(ctx, "u1")
	mutations := map[string]func(*testing.T, *env){
		"Create": func(t *testing.T, e *env) {
			_, err := e.svc.Create(caller, "Task", dynacrud.Record{"title": "new"}, dynacrud.Projection{})
			require.NoError(t, err)
		},
		"Update": func(t *testing.T, e *env) {
			_, err := e.svc.Update(ctx, "Task", "t2", dynacrud.Record{"done": true}, dynacrud.Projection{})
			require.NoError(t, err)
		},
		"Delete": func(t *testing.T, e *env) {
			_, err := e.svc.Delete(ctx, "Task", "t3", dynacrud.Projection{})
			require.NoError(t, err)
		},
		"Upsert": func(t *testing.T, e *env) {
			_, err := e.svc.Upsert(caller, "Task", dynacrud.Where{"title": "x"},
				dynacrud.Record{"title": "x"}, dynacrud.Record{"done": true}, dynacrud.Projection{})
			require.NoError(t, err)
		},
		"CreateBulk": func(t *testing.T, e *env) {
			_, err := e.svc.CreateBulk(caller, "Task", []dynacrud.Record{{"title": "a"}}, false, dynacrud.Projection{})
			require.NoError(t, err)
		},
		"UpdateBulk": func(t *testing.T, e *env) {
			_, err := e.svc.UpdateBulk(ctx, "Task", dynacrud.Where{"userId": "u2"}, dynacrud.Record{"done": true}, dynacrud.Projection{})
			require.NoError(t, err)
		},
		"DeleteBulk": func(t *testing.T, e *env) {
			_, err := e.svc.DeleteBulk(ctx, "Task", dynacrud.Where{"userId": "u2"}, dynacrud.Projection{})
			require.NoError(t, err)
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.svc.FindByID(ctx, "Task", "t1", dynacrud.Projection{})
			require.NoError(t, err)
			_, err = e.svc.FindByID(ctx, "User", "u1", dynacrud.Projection{})
			require.NoError(t, err)
			require.Equal(t, 2, e.cache.Len())

			mutate(t, e)
			assert.Equal(t, 1, e.cache.Len(), "only the mutated model is invalidated")

			before := e.tasks.Calls("FindUnique")
			_, err = e.svc.FindByID(ctx, "Task", "t1", dynacrud.Projection{})
			require.NoError(t, err)
			assert.Equal(t, before+1, e.tasks.Calls("FindUnique"))
		})
	}
}

func TestCreate_OwnershipBackfill(t *testing.T) {
	ctx := dynacrud.WithCaller(context.Background(), "u1")
	e := newEnv(t)

	rec, err := e.svc.Create(ctx, "Task", dynacrud.Record{"title": "x"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "u1", rec["userId"])

	rec, err = e.svc.Create(ctx, "Task", dynacrud.Record{"title": "x", "userId": "u2"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "u2", rec["userId"], "explicit field wins over the caller")

	rec, err = e.svc.Create(ctx, "Task", dynacrud.Record{
		"title": "x",
		"user":  map[string]any{"connect": map[string]any{"id": "u2"}},
	}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "u2", rec["userId"], "connector wins over the caller")
	assert.NotContains(t, rec, "user")

	_, err = e.svc.Create(context.Background(), "Task", dynacrud.Record{"title": "x"}, dynacrud.Projection{})
	var verr *dynacrud.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "userId", verr.Name)
	assert.Equal(t, 3, e.tasks.Calls("Create"), "invalid payloads never reach the delegate")
}

func TestCreate_ProjectOwner(t *testing.T) {
	e := newEnv(t)

	rec, err := e.svc.Create(dynacrud.WithCaller(context.Background(), "owner-1"), "Project",
		dynacrud.Record{"name": "P1"}, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "owner-1", rec["ownerId"])

	_, err = e.svc.Create(dynacrud.WithCaller(context.Background(), "ghost"), "Project",
		dynacrud.Record{"name": "P2"}, dynacrud.Projection{})
	require.Error(t, err)
	assert.True(t, dynacrud.IsNotFound(err))
	assert.Equal(t, 1, e.projects.Calls("Create"))
}

func TestCreate_ErrorTranslation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.Create(ctx, "Invoice", dynacrud.Record{}, dynacrud.Projection{})
	assert.True(t, dynacrud.IsInvalidModel(err))
	assert.Equal(t, dynacrud.CodeBadUserInput, dynacrud.Code(err))

	_, err = e.svc.Create(ctx, "User", dynacrud.Record{"id": "x", "email": "u1@example.com"}, dynacrud.Projection{})
	var conflict *dynacrud.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "User", conflict.Model)
	assert.Equal(t, "email", conflict.Field)

	_, err = e.svc.Create(ctx, "User", dynacrud.Record{"id": "x"}, dynacrud.Projection{})
	var verr *dynacrud.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Name)

	boom := errors.New("connection reset")
	e.users.failOn = func(op string, _ any) error {
		if op == "Create" {
			return boom
		}
		return nil
	}
	_, err = e.svc.Create(ctx, "User", dynacrud.Record{"id": "y", "email": "y@example.com"}, dynacrud.Projection{})
	var bad *dynacrud.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, crud.OpCreate, bad.Op)
	assert.Equal(t, "User", bad.Model)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestOwnerLookupFailure(t *testing.T) {
	ctx := dynacrud.WithCaller(context.Background(), "owner-1")
	e := newEnv(t)
	refused := errors.New("driver: connection refused")
	e.users.failOn = func(op string, _ any) error {
		if op == "FindUnique" {
			return refused
		}
		return nil
	}

	check := func(t *testing.T, err error) {
		t.Helper()
		var bad *dynacrud.BadRequestError
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, "Project", bad.Model)
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, dynacrud.CodeBadRequest, dynacrud.Code(err))
	}
	_, err := e.svc.Create(ctx, "Project", dynacrud.Record{"name": "P1"}, dynacrud.Projection{})
	check(t, err)
	_, err = e.svc.CreateBulk(ctx, "Project", []dynacrud.Record{{"name": "P2"}}, false, dynacrud.Projection{})
	check(t, err)
	_, err = e.svc.Upsert(ctx, "Project", dynacrud.Where{"name": "P3"}, dynacrud.Record{"name": "P3"}, nil, dynacrud.Projection{})
	check(t, err)
	assert.Zero(t, e.projects.Calls("Create"))
	assert.Zero(t, e.projects.Len())
}

func TestUpdateDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.Update(ctx, "Task", "missing-id", dynacrud.Record{"done": true}, dynacrud.Projection{})
	assert.True(t, dynacrud.IsNotFound(err))
	_, err = e.svc.Delete(ctx, "Task", "missing-id", dynacrud.Projection{})
	assert.True(t, dynacrud.IsNotFound(err))
	var nf *dynacrud.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing-id", nf.ID())

	assert.Zero(t, e.tasks.Calls("Update"))
	assert.Zero(t, e.tasks.Calls("Delete"))

	_, err = e.svc.Update(ctx, "Task", nil, dynacrud.Record{}, dynacrud.Projection{})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestUpdateDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	rec, err := e.svc.Update(ctx, "Task", "t1", dynacrud.Record{"points": 10}, dynacrud.Projection{
		Select: map[string]any{"points": true},
	})
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Record{"points": int64(10)}, rec)

	_, err = e.svc.Update(ctx, "Task", "t1", dynacrud.Record{"userId": 7}, dynacrud.Projection{})
	assert.True(t, dynacrud.IsValidationError(err), "owner fields stay strings on update")

	rec, err = e.svc.Delete(ctx, "Task", "t1", dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "one", rec["title"])
	n, err := e.svc.Count(ctx, "Task", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := dynacrud.WithCaller(context.Background(), "u1")
	e := newEnv(t)

	where := dynacrud.Where{"title": "daily"}
	create := func() dynacrud.Record { return dynacrud.Record{"title": "daily", "points": 1} }
	update := func() dynacrud.Record { return dynacrud.Record{"points": 5} }

	first, err := e.svc.Upsert(ctx, "Task", where, create(), update(), dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first["points"])
	second, err := e.svc.Upsert(ctx, "Task", where, create(), update(), dynacrud.Projection{})
	require.NoError(t, err)
	third, err := e.svc.Upsert(ctx, "Task", where, create(), update(), dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, second, third)
	assert.Equal(t, int64(5), third["points"])

	n, err := e.svc.Count(ctx, "Task", where)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.svc.Upsert(ctx, "Task", nil, create(), update(), dynacrud.Projection{})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestCreateBulk(t *testing.T) {
	ctx := context.Background()
	projection := dynacrud.Projection{Select: map[string]any{"email": true}}

	t.Run("Strict", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateBulk(ctx, "User", []dynacrud.Record{
			{"id": "a", "email": "a@example.com"},
			{"id": "b", "email": "b@example.com"},
		}, false, dynacrud.Projection{})
		require.NoError(t, err)
		assert.Equal(t, &crud.BulkResult{Success: true, Count: 2}, res)
		assert.Equal(t, 1, e.users.Calls("CreateMany"))

		_, err = e.svc.CreateBulk(ctx, "User", []dynacrud.Record{
			{"id": "c", "email": "c@example.com"},
			{"id": "d", "email": "a@example.com"},
		}, false, dynacrud.Projection{})
		assert.True(t, dynacrud.IsConflict(err))
		assert.Equal(t, 5, e.users.Len(), "the strict path is all-or-nothing")
	})

	t.Run("SkipDuplicates", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateBulk(ctx, "User", []dynacrud.Record{
			{"id": "a", "email": "a@example.com"},
			{"id": "b", "email": "u1@example.com"},
		}, true, dynacrud.Projection{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count)
	})

	t.Run("PartialFailure", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateBulk(ctx, "User", []dynacrud.Record{
			{"id": "a", "email": "a@example.com"},
			{"id": "b", "email": "u1@example.com"},
			{"id": "c", "email": "c@example.com"},
		}, false, projection)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 2, res.Count)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, 1, res.Errors[0].Index)
		assert.True(t, dynacrud.IsConflict(res.Errors[0].Err))
		assert.Equal(t, []dynacrud.Record{{"email": "a@example.com"}, {"email": "c@example.com"}}, res.Data)
		assert.Equal(t, 3, e.users.Calls("Create"))
		assert.Zero(t, e.users.Calls("CreateMany"))
	})

	t.Run("ProjectedSkipDuplicates", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateBulk(ctx, "User", []dynacrud.Record{
			{"id": "a", "email": "a@example.com"},
			{"id": "b", "email": "u1@example.com"},
		}, true, projection)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Count)
		assert.Empty(t, res.Errors)
		assert.Equal(t, []dynacrud.Record{{"email": "a@example.com"}}, res.Data)
	})

	t.Run("NormalizationAborts", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateBulk(dynacrud.WithCaller(ctx, "u1"), "Task", []dynacrud.Record{
			{"title": "ok"},
			{"title": "bad", "userId": 3},
		}, false, projection)
		assert.True(t, dynacrud.IsValidationError(err))
		assert.Zero(t, e.tasks.Calls("Create"))
		assert.Zero(t, e.tasks.Calls("CreateMany"))
	})
}

func TestCreateBulk_Concurrency(t *testing.T) {
	e := newEnv(t, crud.WithConcurrency(3))
	data := make([]dynacrud.Record, 40)
	for i := range data {
		data[i] = dynacrud.Record{"id": fmt.Sprintf("x%02d", i), "email": fmt.Sprintf("x%02d@example.com", i)}
	}
	res, err := e.svc.CreateBulk(context.Background(), "User", data, false, dynacrud.Projection{
		Select: map[string]any{"id": true},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Data, 40)
	for i, rec := range res.Data {
		assert.Equal(t, fmt.Sprintf("x%02d", i), rec["id"], "results keep input order")
	}
}

func TestUpdateBulk(t *testing.T) {
	ctx := context.Background()

	t.Run("Bulk", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.UpdateBulk(ctx, "Task", dynacrud.Where{"userId": "u1"}, dynacrud.Record{"done": true}, dynacrud.Projection{})
		require.NoError(t, err)
		assert.Equal(t, &crud.BulkResult{Success: true, Count: 2}, res)
		assert.Equal(t, 1, e.tasks.Calls("UpdateMany"))
		assert.Zero(t, e.tasks.Calls("Update"))
	})

	t.Run("Projected", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.UpdateBulk(ctx, "Task", dynacrud.Where{"userId": "u1"}, dynacrud.Record{"done": true},
			dynacrud.Projection{Select: map[string]any{"id": true, "done": true}})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 2, res.Count)
		assert.Equal(t, []dynacrud.Record{{"id": "t1", "done": true}, {"id": "t2", "done": true}}, res.Data)
		assert.Equal(t, 2, e.tasks.Calls("Update"))
	})

	t.Run("ProjectedPartialFailure", func(t *testing.T) {
		e := newEnv(t)
		e.tasks.failOn = func(op string, id any) error {
			if op == "Update" && id == "t2" {
				return errors.New("lock timeout")
			}
			return nil
		}
		res, err := e.svc.UpdateBulk(ctx, "Task", nil, dynacrud.Record{"points": 0},
			dynacrud.Projection{Select: map[string]any{"id": true}})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 2, res.Count)
		require.Len(t, res.Errors, 1)
		assert.True(t, dynacrud.IsBadRequest(res.Errors[0].Err))
	})

	t.Run("EmptyMatch", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.UpdateBulk(ctx, "Task", dynacrud.Where{"userId": "nobody"}, dynacrud.Record{"done": true},
			dynacrud.Projection{Include: map[string]any{}, Select: map[string]any{"id": true}})
		require.NoError(t, err)
		assert.Equal(t, &crud.BulkResult{Success: true, Data: []dynacrud.Record{}}, res)
		assert.Zero(t, e.tasks.Calls("Update"))
	})
}

func TestDeleteBulk(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	res, err := e.svc.DeleteBulk(ctx, "Task", dynacrud.Where{"userId": "u1"},
		dynacrud.Projection{Select: map[string]any{"title": true}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []dynacrud.Record{{"title": "one"}, {"title": "two"}}, res.Data)

	res, err = e.svc.DeleteBulk(ctx, "Task", nil, dynacrud.Projection{})
	require.NoError(t, err)
	assert.Equal(t, &crud.BulkResult{Success: true, Count: 1}, res)
	assert.Equal(t, 2, e.tasks.Calls("DeleteMany"))
	assert.Zero(t, e.tasks.Calls("Delete"))
}

func TestFindManyPaginated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, crud.WithPagination(5, 20))
	_, err := e.tasks.DeleteMany(ctx, nil)
	require.NoError(t, err)
	data := make([]dynacrud.Record, 23)
	for i := range data {
		data[i] = dynacrud.Record{"title": fmt.Sprintf("task %02d", i), "userId": "u1"}
	}
	_, err = e.tasks.Table.CreateMany(ctx, data, dynacrud.CreateManyOptions{})
	require.NoError(t, err)

	page, err := e.svc.FindManyPaginated(ctx, "Task", crud.PageQuery{
		Page:    3,
		Limit:   10,
		OrderBy: []dynacrud.Order{{Field: "title"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 20, e.tasks.last.Skip)
	assert.Equal(t, crud.Meta{Total: 23, Page: 3, Limit: 10, TotalPages: 3, HasNextPage: false, HasPrevPage: true}, page.Meta)
	require.Len(t, page.Data, 3)
	assert.Equal(t, "task 20", page.Data[0]["title"])
	assert.Equal(t, 1, e.tasks.Calls("Count"))

	page, err = e.svc.FindManyPaginated(ctx, "Task", crud.PageQuery{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 20, page.Meta.Limit, "limit is clamped")
	assert.Equal(t, 1, page.Meta.Page)
	assert.Len(t, page.Data, 20)

	page, err = e.svc.FindManyPaginated(ctx, "Task", crud.PageQuery{Page: -2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Meta.Limit)
	assert.Equal(t, 0, e.tasks.last.Skip)
	assert.True(t, page.Meta.HasNextPage)
}

func TestFindManyWithMeta(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	page, err := e.svc.FindManyWithMeta(ctx, "Task", &dynacrud.Query{Skip: 2, Take: 2})
	require.NoError(t, err)
	assert.Equal(t, crud.Meta{Total: 3, Page: 2, Limit: 2, TotalPages: 2, HasPrevPage: true}, page.Meta)
	assert.Len(t, page.Data, 1)

	page, err = e.svc.FindManyWithMeta(ctx, "Task", &dynacrud.Query{Where: dynacrud.Where{"userId": "u2"}})
	require.NoError(t, err)
	assert.Equal(t, crud.DefaultLimit, page.Meta.Limit)
	assert.Equal(t, 1, page.Meta.Total)

	_, err = e.svc.FindManyWithMeta(ctx, "Task", &dynacrud.Query{Where: dynacrud.Where{"color": "red"}})
	assert.True(t, dynacrud.IsValidationError(err))
}

func TestNewMeta(t *testing.T) {
	tests := []struct {
		total, page, limit int
		want               crud.Meta
	}{
		{23, 3, 10, crud.Meta{Total: 23, Page: 3, Limit: 10, TotalPages: 3, HasPrevPage: true}},
		{23, 1, 10, crud.Meta{Total: 23, Page: 1, Limit: 10, TotalPages: 3, HasNextPage: true}},
		{0, 1, 10, crud.Meta{Total: 0, Page: 1, Limit: 10}},
		{20, 2, 10, crud.Meta{Total: 20, Page: 2, Limit: 10, TotalPages: 2, HasPrevPage: true}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%d", tt.total, tt.page, tt.limit), func(t *testing.T) {
			assert.Equal(t, tt.want, crud.NewMeta(tt.total, tt.page, tt.limit))
		})
	}
}

func TestFindMany(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	recs, err := e.svc.FindMany(ctx, "Task", &dynacrud.Query{
		Where:   dynacrud.Where{"points": map[string]any{"gt": 1}},
		OrderBy: []dynacrud.Order{{Field: "points", Desc: true}},
		Projection: dynacrud.Projection{
			Select:  map[string]any{"title": true},
			Include: map[string]any{},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []dynacrud.Record{{"title": "three"}, {"title": "two"}}, recs)

	recs, err = e.svc.FindMany(ctx, "Task", &dynacrud.Query{Where: dynacrud.Where{"userId": "nobody"}})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	first, err := e.svc.FindFirst(ctx, "Task", &dynacrud.Query{OrderBy: []dynacrud.Order{{Field: "points", Desc: true}}})
	require.NoError(t, err)
	assert.Equal(t, "t3", first["id"])
}

func TestCountExists(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	n, err := e.svc.Count(ctx, "Task", dynacrud.Where{"userId": "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := e.svc.Exists(ctx, "Task", dynacrud.Where{"userId": "u2"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.svc.Exists(ctx, "Task", dynacrud.Where{"userId": "nobody"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, e.tasks.Calls("FindFirst"))

	e.tasks.failOn = func(string, any) error { return errors.New("timeout") }
	_, err = e.svc.Count(ctx, "Task", nil)
	var bad *dynacrud.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, crud.OpCount, bad.Op)
	_, err = e.svc.Exists(ctx, "Task", nil)
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, crud.OpExists, bad.Op)
}

type plainDelegate struct {
	dynacrud.Delegate
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	rec, err := e.svc.Aggregate(ctx, "Task", &dynacrud.AggregateQuery{CountAll: true, Sum: []string{"points"}})
	require.NoError(t, err)
	assert.Equal(t, dynacrud.Record{
		dynacrud.AggCount: 3,
		dynacrud.AggSum:   map[string]any{"points": 6.0},
	}, rec)

	rows, err := e.svc.GroupBy(ctx, "Task", &dynacrud.GroupByQuery{
		AggregateQuery: dynacrud.AggregateQuery{CountAll: true},
		By:             []string{"userId"},
	})
	require.NoError(t, err)
	assert.Equal(t, []dynacrud.Record{
		{"userId": "u1", dynacrud.AggCount: 2},
		{"userId": "u2", dynacrud.AggCount: 1},
	}, rows)

	_, err = e.svc.Aggregate(ctx, "Task", &dynacrud.AggregateQuery{})
	assert.True(t, dynacrud.IsValidationError(err))
	_, err = e.svc.GroupBy(ctx, "Task", &dynacrud.GroupByQuery{AggregateQuery: dynacrud.AggregateQuery{CountAll: true}})
	assert.True(t, dynacrud.IsValidationError(err))

	e.registry.Register("Legacy", plainDelegate{e.tasks})
	_, err = e.svc.Aggregate(ctx, "Legacy", &dynacrud.AggregateQuery{CountAll: true})
	assert.True(t, dynacrud.IsBadRequest(err))
	_, err = e.svc.GroupBy(ctx, "Legacy", &dynacrud.GroupByQuery{By: []string{"userId"}})
	assert.True(t, dynacrud.IsBadRequest(err))
}
