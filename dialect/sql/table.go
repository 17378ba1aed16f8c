package sql

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/dialect"
	"github.com/syssam/dynacrud/dialect/sql/sqlgraph"
	"github.com/syssam/dynacrud/querylanguage"
	"github.com/syssam/dynacrud/schema"
)

// Table is the delegate of one model stored in one SQL table. It
// implements dynacrud.Delegate, dynacrud.Aggregator and dynacrud.Described.
//
// Writes that need more than one statement run in a transaction. Select
// and include directives are applied after the rows are read: include
// edges are loaded through the resolver, one query per edge.
type Table struct {
	drv      dialect.Driver
	model    *schema.Model
	resolver dynacrud.Resolver
	newID    func() string
	now      func() time.Time
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithResolver sets the resolver used to load include edges.
func WithResolver(r dynacrud.Resolver) TableOption {
	return func(t *Table) {
		t.resolver = r
	}
}

// WithIDGenerator overrides the generator of uuid identifiers.
func WithIDGenerator(fn func() string) TableOption {
	return func(t *Table) {
		t.newID = fn
	}
}

// WithClock overrides the clock used for "now" defaults.
func WithClock(now func() time.Time) TableOption {
	return func(t *Table) {
		t.now = now
	}
}

// NewTable returns the delegate of model m over the given driver.
func NewTable(drv dialect.Driver, m *schema.Model, opts ...TableOption) *Table {
	t := &Table{
		drv:      drv,
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

// FindMany returns the records of the query.
func (t *Table) FindMany(ctx context.Context, q *dynacrud.Query) ([]dynacrud.Record, error) {
	recs, err := t.selectRecords(ctx, t.drv, q)
	if err != nil {
		return nil, err
	}
	if err := t.project(ctx, q.Projection, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Count returns the number of records matching where.
func (t *Table) Count(ctx context.Context, where dynacrud.Where) (int, error) {
	return t.count(ctx, t.drv, where)
}

func (t *Table) count(ctx context.Context, eq dialect.ExecQuerier, where dynacrud.Where) (int, error) {
	b := t.builder()
	b.WriteString("SELECT COUNT(*) FROM ").Ident(t.model.TableName())
	if err := Where(b, t.model, where); err != nil {
		return 0, err
	}
	rows, err := t.queryValues(ctx, eq, b, 1)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// Create inserts a record and returns it as stored.
func (t *Table) Create(ctx context.Context, data dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	var created dynacrud.Record
	err := t.withTx(ctx, func(tx dialect.ExecQuerier) error {
		id, _, err := t.insert(ctx, tx, data, false)
		if err != nil {
			return err
		}
		created, err = t.findByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, created)
}

// Update sets the given fields on the record with the given id and
// returns it, or nil when no such record exists.
func (t *Table) Update(ctx context.Context, id any, data dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	var updated dynacrud.Record
	err := t.withTx(ctx, func(tx dialect.ExecQuerier) error {
		if _, err := t.update(ctx, tx, dynacrud.Where{t.model.ID(): id}, data); err != nil {
			return err
		}
		if v := data[t.model.ID()]; v != nil {
			id = v
		}
		var err error
		updated, err = t.findByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, updated)
}

// Delete removes the record with the given id and returns it as it was,
// or nil when no such record exists.
func (t *Table) Delete(ctx context.Context, id any, p dynacrud.Projection) (dynacrud.Record, error) {
	var deleted dynacrud.Record
	err := t.withTx(ctx, func(tx dialect.ExecQuerier) error {
		var err error
		if deleted, err = t.findByID(ctx, tx, id); err != nil || deleted == nil {
			return err
		}
		_, err = t.delete(ctx, tx, dynacrud.Where{t.model.ID(): id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, deleted)
}

// CreateMany inserts the records in one transaction and returns the number
// of inserted rows. With SkipDuplicates, rows violating a unique
// constraint are skipped by the database instead of failing the batch.
func (t *Table) CreateMany(ctx context.Context, data []dynacrud.Record, opts dynacrud.CreateManyOptions) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	var total int64
	err := t.withTx(ctx, func(tx dialect.ExecQuerier) error {
		for _, rec := range data {
			_, n, err := t.insert(ctx, tx, rec, opts.SkipDuplicates)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

// UpdateMany sets the given fields on every record matching where.
func (t *Table) UpdateMany(ctx context.Context, where dynacrud.Where, data dynacrud.Record) (int, error) {
	n, err := t.update(ctx, t.drv, where, data)
	return int(n), err
}

// DeleteMany removes every record matching where.
func (t *Table) DeleteMany(ctx context.Context, where dynacrud.Where) (int, error) {
	n, err := t.delete(ctx, t.drv, where)
	return int(n), err
}

// Upsert updates the first record matching where, or creates one when
// nothing matches. Both paths run in one transaction.
func (t *Table) Upsert(ctx context.Context, where dynacrud.Where, create, update dynacrud.Record, p dynacrud.Projection) (dynacrud.Record, error) {
	var rec dynacrud.Record
	err := t.withTx(ctx, func(tx dialect.ExecQuerier) error {
		found, err := t.selectRecords(ctx, tx, &dynacrud.Query{Where: where, Take: 1})
		if err != nil {
			return err
		}
		var id any
		if len(found) == 0 {
			if id, _, err = t.insert(ctx, tx, create, false); err != nil {
				return err
			}
		} else {
			id = found[0][t.model.ID()]
			if _, err := t.update(ctx, tx, dynacrud.Where{t.model.ID(): id}, update); err != nil {
				return err
			}
			if v := update[t.model.ID()]; v != nil {
				id = v
			}
		}
		rec, err = t.findByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t.projectOne(ctx, p, rec)
}

func (t *Table) builder() *Builder {
	return NewBuilder(t.drv.Dialect())
}

func (t *Table) selectRecords(ctx context.Context, eq dialect.ExecQuerier, q *dynacrud.Query) ([]dynacrud.Record, error) {
	names := t.model.FieldNames()
	b := t.builder()
	b.WriteString("SELECT ")
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(t.model.Column(name))
	}
	b.WriteString(" FROM ").Ident(t.model.TableName())
	if err := Where(b, t.model, q.Where); err != nil {
		return nil, err
	}
	orders := q.OrderBy
	if len(orders) == 0 && (q.Skip > 0 || q.Take > 0) {
		orders = []dynacrud.Order{{Field: t.model.ID()}}
	}
	if err := t.orderBy(b, orders, nil); err != nil {
		return nil, err
	}
	b.Limit(q.Take, q.Skip)
	query, args := b.Query()
	var rows Rows
	if err := eq.Query(ctx, query, args, &rows); err != nil {
		return nil, t.classify(err)
	}
	return scanRecords(&rows, t.model, names)
}

// orderBy appends the ORDER BY clause. When allowed is not nil, only the
// listed fields may be ordered by.
func (t *Table) orderBy(b *Builder, orders []dynacrud.Order, allowed []string) error {
	for i, o := range orders {
		if !t.model.HasField(o.Field) || (allowed != nil && !slices.Contains(allowed, o.Field)) {
			return dynacrud.Validationf(t.model.Name, o.Field, "cannot order by this field")
		}
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.Ident(t.model.Column(o.Field))
		if o.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	return nil
}

func (t *Table) findByID(ctx context.Context, eq dialect.ExecQuerier, id any) (dynacrud.Record, error) {
	if id == nil {
		return nil, nil
	}
	recs, err := t.selectRecords(ctx, eq, &dynacrud.Query{Where: dynacrud.Where{t.model.ID(): id}})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// insert writes one row and returns its id and the number of inserted rows.
func (t *Table) insert(ctx context.Context, eq dialect.ExecQuerier, data dynacrud.Record, ignore bool) (any, int64, error) {
	cols, vals, id, err := t.row(data)
	if err != nil {
		return nil, 0, err
	}
	d := t.drv.Dialect()
	b := t.builder()
	switch {
	case ignore && d == dialect.SQLite:
		b.WriteString("INSERT OR IGNORE INTO ")
	case ignore && d == dialect.MySQL:
		b.WriteString("INSERT IGNORE INTO ")
	default:
		b.WriteString("INSERT INTO ")
	}
	b.Ident(t.model.TableName())
	if len(cols) == 0 {
		if d == dialect.MySQL {
			b.WriteString(" () VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (").IdentList(cols...).WriteString(") VALUES (").Args(vals...).WriteString(")")
	}
	if ignore && d == dialect.Postgres {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	generated := id == nil && t.model.IDStrategy() == schema.IDInt
	if generated && d == dialect.Postgres {
		b.WriteString(" RETURNING ").Ident(t.model.IDColumn())
		rows, err := t.queryValues(ctx, eq, b, 1)
		if err != nil || len(rows) == 0 {
			return nil, 0, err
		}
		idField, _ := t.model.Lookup(t.model.ID())
		return decode(idField, rows[0][0]), 1, nil
	}
	query, args := b.Query()
	var res Result
	if err := eq.Exec(ctx, query, args, &res); err != nil {
		return nil, 0, t.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, 0, err
	}
	if generated && n > 0 {
		last, err := res.LastInsertId()
		if err != nil {
			return nil, 0, err
		}
		id = last
	}
	return id, n, nil
}

// row validates a create payload and returns its columns, arguments and id.
// Missing identifiers and defaults are filled in.
func (t *Table) row(data dynacrud.Record) ([]string, []any, any, error) {
	m := t.model
	rec := make(dynacrud.Record, len(data)+len(m.Fields))
	for k, v := range data {
		if !m.HasField(k) {
			return nil, nil, nil, dynacrud.Validationf(m.Name, k, "unknown field")
		}
		rec[k] = v
	}
	id := rec[m.ID()]
	if id == nil {
		switch m.IDStrategy() {
		case schema.IDUUID:
			id = t.newID()
			rec[m.ID()] = id
		case schema.IDString:
			return nil, nil, nil, dynacrud.Validationf(m.Name, m.ID(), "is required")
		default:
			delete(rec, m.ID())
		}
	}
	now := t.now()
	for i := range m.Fields {
		f := &m.Fields[i]
		if rec[f.Name] != nil {
			continue
		}
		if v, ok := f.DefaultValue(now); ok {
			rec[f.Name] = v
		} else if f.Touched() {
			rec[f.Name] = now
		}
		if f.Required && rec[f.Name] == nil && f.Name != m.ID() {
			return nil, nil, nil, dynacrud.NewConstraintError(dynacrud.ConstraintNotNull, f.Name, m.Name+"."+f.Name+" is required", nil)
		}
	}
	var (
		cols []string
		vals []any
	)
	for _, name := range m.FieldNames() {
		v, ok := rec[name]
		if !ok {
			continue
		}
		f, _ := m.Lookup(name)
		ev, err := encode(t.drv.Dialect(), m, f, v)
		if err != nil {
			return nil, nil, nil, err
		}
		cols = append(cols, m.Column(name))
		vals = append(vals, ev)
	}
	return cols, vals, id, nil
}

func (t *Table) update(ctx context.Context, eq dialect.ExecQuerier, where dynacrud.Where, data dynacrud.Record) (int64, error) {
	m := t.model
	for k := range data {
		if !m.HasField(k) {
			return 0, dynacrud.Validationf(m.Name, k, "unknown field")
		}
	}
	now := t.now()
	b := t.builder()
	b.WriteString("UPDATE ").Ident(m.TableName()).WriteString(" SET ")
	n := 0
	for _, name := range m.FieldNames() {
		f, _ := m.Lookup(name)
		v, ok := data[name]
		switch {
		case ok:
		case f.Touched():
			v = now
		default:
			continue
		}
		if f.Required && v == nil {
			return 0, dynacrud.NewConstraintError(dynacrud.ConstraintNotNull, f.Name, m.Name+"."+f.Name+" is required", nil)
		}
		ev, err := encode(t.drv.Dialect(), m, f, v)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			b.WriteString(", ")
		}
		b.Ident(m.Column(name)).WriteString(" = ").Arg(ev)
		n++
	}
	if n == 0 {
		c, err := t.count(ctx, eq, where)
		return int64(c), err
	}
	if err := Where(b, m, where); err != nil {
		return 0, err
	}
	return t.exec(ctx, eq, b)
}

func (t *Table) delete(ctx context.Context, eq dialect.ExecQuerier, where dynacrud.Where) (int64, error) {
	b := t.builder()
	b.WriteString("DELETE FROM ").Ident(t.model.TableName())
	if err := Where(b, t.model, where); err != nil {
		return 0, err
	}
	return t.exec(ctx, eq, b)
}

func (t *Table) exec(ctx context.Context, eq dialect.ExecQuerier, b *Builder) (int64, error) {
	query, args := b.Query()
	var res Result
	if err := eq.Exec(ctx, query, args, &res); err != nil {
		return 0, t.classify(err)
	}
	return res.RowsAffected()
}

func (t *Table) queryValues(ctx context.Context, eq dialect.ExecQuerier, b *Builder, n int) ([][]any, error) {
	query, args := b.Query()
	var rows Rows
	if err := eq.Query(ctx, query, args, &rows); err != nil {
		return nil, t.classify(err)
	}
	return scanValues(&rows, n)
}

// withTx runs fn in a transaction and rolls back when it fails.
func (t *Table) withTx(ctx context.Context, fn func(dialect.ExecQuerier) error) error {
	tx, err := t.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: starting a transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dialect/sql: committing transaction: %w", t.classify(err))
	}
	return nil
}

func (t *Table) classify(err error) error {
	return sqlgraph.Classify(err, t.fieldOf)
}

// fieldOf maps a column name back to its field name.
func (t *Table) fieldOf(column string) string {
	for _, name := range t.model.FieldNames() {
		if t.model.Column(name) == column {
			return name
		}
	}
	return ""
}

func (t *Table) project(ctx context.Context, p dynacrud.Projection, recs []dynacrud.Record) error {
	if p.IsZero() {
		return nil
	}
	return dynacrud.ApplyProjection(ctx, t.resolver, t.model, p, recs)
}

func (t *Table) projectOne(ctx context.Context, p dynacrud.Projection, rec dynacrud.Record) (dynacrud.Record, error) {
	if rec == nil {
		return nil, nil
	}
	if err := t.project(ctx, p, []dynacrud.Record{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

func toInt(v any) int {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if s, ok := v.(string); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return int(n)
	}
	f, _ := querylanguage.Number(v)
	return int(f)
}

func toFloat(v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return f
	}
	if f, ok := querylanguage.Number(v); ok {
		return f
	}
	return nil
}

var (
	_ dynacrud.Delegate   = (*Table)(nil)
	_ dynacrud.Aggregator = (*Table)(nil)
	_ dynacrud.Described  = (*Table)(nil)
)
