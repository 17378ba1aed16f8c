// Package memory provides an in-process dynacrud.Delegate. Records live in
// insertion order behind a mutex; filters are evaluated with package
// querylanguage and unique and required fields are enforced like the SQL
// backend enforces them.
//
// It serves tests, demos and the "memory" dialect of the server:
//
//	registry := dynacrud.NewRegistry()
//	registry.Register("Task", memory.NewTable(taskModel, memory.WithResolver(registry)))
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/querylanguage"
	"github.com/syssam/dynacrud/schema"
)

// Table is the in-memory delegate of one model.
type Table struct {
	mu       sync.RWMutex
	model    *schema.Model
	rows     []dynacrud.Record
	seq      int64
	resolver dynacrud.Resolver
	newID    func() string
	now      func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithResolver sets the resolver used to load include edges.
func WithResolver(r dynacrud.Resolver) Option {
	return func(t *Table) {
		t.resolver = r
	}
}

// WithIDGenerator overrides the generator of uuid identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(t *Table) {
		t.newID = fn
	}
}

// WithClock overrides the clock used for "now" defaults.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

// NewTable returns an empty table for model m.
func NewTable(m *schema.Model, opts ...Option) *Table {
	t := &Table{
		model:    m,
		resolver: dynacrud.NewRegistry(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Schema returns the model declaration of the table.
func (t *Table) Schema() *schema.Model {
	return t.model
}

// Len returns the number of stored records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// FindUnique returns the record matching q.Where, or nil.
func (t *Table) FindUnique(ctx context.Context, q *dynacrud.Query) (dynacrud.Record, error) {
	return t.FindFirst(ctx, &dynacrud.Query{Where: q.Where, Projection: q.Projection})
}

// FindFirst returns the first record of the query, or nil.
func (t *Table) FindFirst(ctx context.Context, q *dynacrud.Query) (dynacrud.Record, error) {
	first := *q
	first.Take = 1
	recs, err := t.FindMany(ctx, &first)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindMany returns copies of the records of the query. Records are in
// insertion order unless q.OrderBy is given.
func (t *Table) FindMany(ctx context.Context, q *dynacrud.Query) ([]dynacrud.Record, error) {
	if err := t.checkOrder(q.OrderBy, nil); err != nil {
		return nil, err
	}
	p, err := t.predicate(q.Where)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	recs := t.matching(p)
	t.mu.RUnlock()
	dynacrud.SortRecords(recs, q.OrderBy)
	recs = dynacrud.Window(recs, q.Skip, q.Take)
	out := make([]dynacrud.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	if err := t.project(ctx, q.Projection, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records matching where.
func (t *Table) Count(_ context.Context, where dynacrud.Where) (int, error) {
	p, err := t.predicate(where)
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.matching(p)), nil
}

// Create stores a record and returns a copy of it.
func (t *Table) Create(ctx context.Context, data dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	t.mu.Lock()
	rec, err := t.insert(data)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, rec.Clone())
}

// Update sets the given fields on the record with the given id and
// returns a copy of it, or nil when no such record exists.
func (t *Table) Update(ctx context.Context, id any, data dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	t.mu.Lock()
	i := t.indexOf(id)
	if i < 0 {
		t.mu.Unlock()
		if err := t.checkFields(data); err != nil {
			return nil, err
		}
		return nil, nil
	}
	rec, err := t.update(i, data, t.now())
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, rec.Clone())
}

// Delete removes the record with the given id and returns it, or nil when
// no such record exists.
func (t *Table) Delete(ctx context.Context, id any, p dynacrud.Projection) (dynacrud.Record, error) {
	t.mu.Lock()
	i := t.indexOf(id)
	if i < 0 {
		t.mu.Unlock()
		return nil, nil
	}
	rec := t.rows[i]
	t.rows = slices.Delete(t.rows, i, i+1)
	t.mu.Unlock()
	return t.projectOne(ctx, p, rec)
}

// CreateMany stores every record or none. With SkipDuplicates, records
// violating a unique field are skipped instead of failing the batch.
func (t *Table) CreateMany(_ context.Context, data []dynacrud.Record, opts dynacrud.CreateManyOptions) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, seq := len(t.rows), t.seq
	n := 0
	for _, rec := range data {
		_, err := t.insert(rec)
		if ce, ok := dynacrud.AsConstraintError(err); ok && opts.SkipDuplicates && ce.Kind == dynacrud.ConstraintUnique {
			continue
		}
		if err != nil {
			t.rows, t.seq = t.rows[:rows], seq
			return 0, err
		}
		n++
	}
	return n, nil
}

// UpdateMany sets the given fields on every record matching where. The
// batch is applied to every record or to none.
func (t *Table) UpdateMany(_ context.Context, where dynacrud.Where, data dynacrud.Record) (int, error) {
	if err := t.checkFields(data); err != nil {
		return 0, err
	}
	p, err := t.predicate(where)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make([]dynacrud.Record, len(t.rows))
	for i, r := range t.rows {
		snapshot[i] = r.Clone()
	}
	now, n := t.now(), 0
	for i, r := range t.rows {
		if p != nil && !querylanguage.Eval(p, r) {
			continue
		}
		if _, err := t.update(i, data, now); err != nil {
			t.rows = snapshot
			return 0, err
		}
		n++
	}
	return n, nil
}

// DeleteMany removes every record matching where.
func (t *Table) DeleteMany(_ context.Context, where dynacrud.Where) (int, error) {
	p, err := t.predicate(where)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.rows[:0]
	n := 0
	for _, r := range t.rows {
		if p == nil || querylanguage.Eval(p, r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	clear(t.rows[len(kept):])
	t.rows = kept
	return n, nil
}

// Upsert updates the first record matching where, or creates one when
// nothing matches. The lookup and the write happen under one lock.
func (t *Table) Upsert(ctx context.Context, where dynacrud.Where, create, update dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	pred, err := t.predicate(where)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	var rec dynacrud.Record
	if found := t.first(pred); found >= 0 {
		rec, err = t.update(found, update, t.now())
	} else {
		rec, err = t.insert(create)
	}
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, rec.Clone())
}

// Aggregate computes the requested aggregates over the records matching q.Where.
func (t *Table) Aggregate(_ context.Context, q *dynacrud.AggregateQuery) (dynacrud.Record, error) {
	if err := t.checkAggregate(q); err != nil {
		return nil, err
	}
	p, err := t.predicate(q.Where)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return dynacrud.ComputeAggregate(t.matching(p), q), nil
}

// GroupBy computes the requested aggregates per distinct combination of
// the q.By fields, ordered by q.OrderBy or by the q.By fields.
func (t *Table) GroupBy(_ context.Context, q *dynacrud.GroupByQuery) ([]dynacrud.Record, error) {
	if len(q.By) == 0 {
		return nil, dynacrud.Validationf(t.model.Name, "by", "at least one field is required")
	}
	for _, name := range q.By {
		if !t.model.HasField(name) {
			return nil, dynacrud.Validationf(t.model.Name, name, "unknown field")
		}
	}
	if err := t.checkAggregate(&q.AggregateQuery); err != nil {
		return nil, err
	}
	if err := t.checkOrder(q.OrderBy, q.By); err != nil {
		return nil, err
	}
	p, err := t.predicate(q.Where)
	if err != nil {
		return nil, err
	}
	grouped := *q
	if len(grouped.OrderBy) == 0 {
		for _, name := range q.By {
			grouped.OrderBy = append(grouped.OrderBy, dynacrud.Order{Field: name})
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return dynacrud.ComputeGroupBy(t.matching(p), &grouped), nil
}

func (t *Table) predicate(where dynacrud.Where) (querylanguage.P, error) {
	p, err := querylanguage.Parse(t.idWhere(where))
	if err != nil {
		return nil, dynacrud.NewValidationError(t.model.Name, "where", err)
	}
	if p == nil {
		return nil, nil
	}
	for _, name := range querylanguage.Fields(p) {
		if !t.model.HasField(name) {
			return nil, dynacrud.Validationf(t.model.Name, name, "unknown field")
		}
	}
	return p, nil
}

// matching returns the stored records satisfying p. Callers hold the lock
// and must not modify the returned records.
func (t *Table) matching(p querylanguage.P) []dynacrud.Record {
	out := make([]dynacrud.Record, 0, len(t.rows))
	for _, r := range t.rows {
		if p == nil || querylanguage.Eval(p, r) {
			out = append(out, r)
		}
	}
	return out
}

func (t *Table) first(p querylanguage.P) int {
	for i, r := range t.rows {
		if p == nil || querylanguage.Eval(p, r) {
			return i
		}
	}
	return -1
}

func (t *Table) indexOf(id any) int {
	if id == nil {
		return -1
	}
	v := t.idValue(id)
	for i, r := range t.rows {
		if querylanguage.Equal(r[t.model.ID()], v) {
			return i
		}
	}
	return -1
}

// idValue converts id to the stored type of the identifier. Integer ids
// also accept their decimal string form, as sent for GraphQL ID values.
// Values that do not convert are returned as is and match nothing.
func (t *Table) idValue(id any) any {
	idField, _ := t.model.Lookup(t.model.ID())
	if s, ok := id.(string); ok && idField.Type == schema.TypeInt {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return id
	}
	if v, err := coerce(t.model, idField, id); err == nil {
		return v
	}
	return id
}

// idWhere returns where with the values compared to the identifier
// converted by idValue. where is not modified.
func (t *Table) idWhere(where dynacrud.Where) dynacrud.Where {
	cond, ok := where[t.model.ID()]
	if !ok || cond == nil {
		return where
	}
	out := make(dynacrud.Where, len(where))
	for k, v := range where {
		out[k] = v
	}
	ops, ok := cond.(map[string]any)
	if !ok {
		out[t.model.ID()] = t.idValue(cond)
		return out
	}
	conv := make(map[string]any, len(ops))
	for op, v := range ops {
		switch op {
		case "equals", "not":
			if _, nested := v.(map[string]any); !nested && v != nil {
				v = t.idValue(v)
			}
		case "in", "notIn":
			if list, ok := v.([]any); ok {
				ids := make([]any, len(list))
				for i, x := range list {
					ids[i] = t.idValue(x)
				}
				v = ids
			}
		}
		conv[op] = v
	}
	out[t.model.ID()] = conv
	return out
}

func (t *Table) checkOrder(orders []dynacrud.Order, allowed []string) error {
	for _, o := range orders {
		if !t.model.HasField(o.Field) || (allowed != nil && !slices.Contains(allowed, o.Field)) {
			return dynacrud.Validationf(t.model.Name, o.Field, "cannot order by this field")
		}
	}
	return nil
}

func (t *Table) checkAggregate(q *dynacrud.AggregateQuery) error {
	for _, fields := range [][]string{q.Count, q.Sum, q.Avg, q.Min, q.Max} {
		for _, name := range fields {
			if !t.model.HasField(name) {
				return dynacrud.Validationf(t.model.Name, name, "unknown field")
			}
		}
	}
	return nil
}

func (t *Table) checkFields(data dynacrud.Record) error {
	for k := range data {
		if !t.model.HasField(k) {
			return dynacrud.Validationf(t.model.Name, k, "unknown field")
		}
	}
	return nil
}

// insert validates data and appends it. Callers hold the write lock.
func (t *Table) insert(data dynacrud.Record) (dynacrud.Record, error) {
	m := t.model
	if err := t.checkFields(data); err != nil {
		return nil, err
	}
	rec := make(dynacrud.Record, len(m.Fields)+1)
	for _, name := range m.FieldNames() {
		f, _ := m.Lookup(name)
		v, err := coerce(m, f, data[name])
		if err != nil {
			return nil, err
		}
		rec[name] = v
	}
	if rec[m.ID()] == nil {
		switch m.IDStrategy() {
		case schema.IDUUID:
			rec[m.ID()] = t.newID()
		case schema.IDString:
			return nil, dynacrud.Validationf(m.Name, m.ID(), "is required")
		default:
			rec[m.ID()] = t.seq + 1
		}
	}
	now := t.now().UTC()
	for i := range m.Fields {
		f := &m.Fields[i]
		if _, ok := data[f.Name]; ok && rec[f.Name] != nil {
			continue
		}
		if v, ok := f.DefaultValue(now); ok {
			v, err := coerce(m, f, v)
			if err != nil {
				return nil, err
			}
			rec[f.Name] = v
		} else if f.Touched() {
			rec[f.Name] = now
		}
	}
	if err := t.check(rec, -1); err != nil {
		return nil, err
	}
	if n, ok := rec[m.ID()].(int64); ok && n > t.seq {
		t.seq = n
	}
	t.rows = append(t.rows, rec)
	return rec, nil
}

// update applies data to the record at index i. Callers hold the write lock.
func (t *Table) update(i int, data dynacrud.Record, now time.Time) (dynacrud.Record, error) {
	m := t.model
	if err := t.checkFields(data); err != nil {
		return nil, err
	}
	rec := t.rows[i].Clone()
	for k, v := range data {
		f, _ := m.Lookup(k)
		cv, err := coerce(m, f, v)
		if err != nil {
			return nil, err
		}
		rec[k] = cv
	}
	for j := range m.Fields {
		if f := &m.Fields[j]; f.Touched() {
			if _, ok := data[f.Name]; !ok {
				rec[f.Name] = now.UTC()
			}
		}
	}
	if rec[m.ID()] == nil {
		return nil, dynacrud.NewConstraintError(dynacrud.ConstraintNotNull, m.ID(), m.Name+"."+m.ID()+" is required", nil)
	}
	if err := t.check(rec, i); err != nil {
		return nil, err
	}
	t.rows[i] = rec
	return rec, nil
}

// check enforces required and unique fields on rec, ignoring the record
// stored at index self.
func (t *Table) check(rec dynacrud.Record, self int) error {
	m := t.model
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Required && rec[f.Name] == nil {
			return dynacrud.NewConstraintError(dynacrud.ConstraintNotNull, f.Name, m.Name+"."+f.Name+" is required", nil)
		}
	}
	unique := []string{m.ID()}
	for i := range m.Fields {
		if f := &m.Fields[i]; f.Unique && f.Name != m.ID() {
			unique = append(unique, f.Name)
		}
	}
	for _, name := range unique {
		v := rec[name]
		if v == nil {
			continue
		}
		for j, r := range t.rows {
			if j != self && querylanguage.Equal(r[name], v) {
				return dynacrud.NewConstraintError(dynacrud.ConstraintUnique, name,
					fmt.Sprintf("%s.%s %v already exists", m.Name, name, v), nil)
			}
		}
	}
	return nil
}

func (t *Table) project(ctx context.Context, p dynacrud.Projection, recs []dynacrud.Record) error {
	if p.IsZero() {
		return nil
	}
	return dynacrud.ApplyProjection(ctx, t.resolver, t.model, p, recs)
}

func (t *Table) projectOne(ctx context.Context, p dynacrud.Projection, rec dynacrud.Record) (dynacrud.Record, error) {
	if err := t.project(ctx, p, []dynacrud.Record{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// coerce converts a payload value into the stored representation of f:
// int64, float64, bool, UTC time.Time, string, or a decoded JSON value.
func coerce(m *schema.Model, f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		return dynacrud.Validationf(m.Name, f.Name, "expects %s, got %T", f.Type, v)
	}
	switch f.Type {
	case schema.TypeInt:
		if x, ok := v.(json.Number); ok {
			n, err := x.Int64()
			if err != nil {
				return nil, mismatch()
			}
			return n, nil
		}
		x, ok := querylanguage.Number(v)
		if !ok || x != float64(int64(x)) {
			return nil, mismatch()
		}
		return int64(x), nil
	case schema.TypeFloat:
		x, ok := querylanguage.Number(v)
		if !ok {
			return nil, mismatch()
		}
		return x, nil
	case schema.TypeBool:
		if _, ok := v.(bool); !ok {
			return nil, mismatch()
		}
		return v, nil
	case schema.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, dynacrud.Validationf(m.Name, f.Name, "invalid time %q", x)
			}
			return t.UTC(), nil
		}
		return nil, mismatch()
	case schema.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, dynacrud.NewValidationError(m.Name, f.Name, err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, dynacrud.NewValidationError(m.Name, f.Name, err)
		}
		return out, nil
	default:
		if _, ok := v.(string); !ok {
			return nil, mismatch()
		}
		return v, nil
	}
}

var (
	_ dynacrud.Delegate   = (*Table)(nil)
	_ dynacrud.Aggregator = (*Table)(nil)
	_ dynacrud.Described  = (*Table)(nil)
)
