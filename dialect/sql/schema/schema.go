// Package schema provisions the tables backing declared models.
//
// Tables are derived from schema.Model declarations, compared with the
// database through atlas and created or extended additively: missing
// tables, columns and unique indexes are added, nothing is ever dropped
// or altered.
//
//	m, err := schema.NewMigrate(drv.DB(), drv.Dialect(), schema.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := m.Create(ctx, schema.Tables(models)...); err != nil {
//	    return err
//	}
package schema

import (
	model "github.com/syssam/dynacrud/schema"
)

type (
	// Table is the storage layout of a model.
	Table struct {
		Name       string
		Columns    []*Column
		PrimaryKey []*Column
		Indexes    []*Index
	}

	// Column is a table column.
	Column struct {
		Name      string
		Type      model.Type
		Size      int
		Nullable  bool
		Unique    bool
		Increment bool
	}

	// Index is a named index over one or more columns.
	Index struct {
		Name    string
		Unique  bool
		Columns []*Column
	}
)

// stringSize is the length of varchar columns.
const stringSize = 255

// NewTable returns the layout of m. The identifier column comes first and
// is the primary key; required fields are NOT NULL and unique fields get
// a unique index named "<table>_<column>_key".
func NewTable(m *model.Model) *Table {
	t := &Table{Name: m.TableName()}
	id, _ := m.Lookup(m.ID())
	pk := &Column{
		Name:      m.IDColumn(),
		Type:      id.Type,
		Increment: m.IDStrategy() == model.IDInt,
	}
	if pk.Increment {
		pk.Type = model.TypeInt
	}
	t.AddColumn(pk)
	t.PrimaryKey = []*Column{pk}
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == m.ID() {
			continue
		}
		c := &Column{
			Name:     f.ColumnName(),
			Type:     f.Type,
			Nullable: !f.Required,
			Unique:   f.Unique,
		}
		t.AddColumn(c)
		if c.Unique {
			t.Indexes = append(t.Indexes, &Index{
				Name:    t.Name + "_" + c.Name + "_key",
				Unique:  true,
				Columns: []*Column{c},
			})
		}
	}
	return t
}

// Tables returns the layouts of the given models, in order.
func Tables(models []*model.Model) []*Table {
	tables := make([]*Table, len(models))
	for i, m := range models {
		tables[i] = NewTable(m)
	}
	return tables
}

// AddColumn appends c to the table and fills in the default size of
// string columns.
func (t *Table) AddColumn(c *Column) *Table {
	if c.Size == 0 && (c.Type == model.TypeString || c.Type == model.TypeUUID) {
		c.Size = stringSize
		if c.Type == model.TypeUUID {
			c.Size = 36
		}
	}
	t.Columns = append(t.Columns, c)
	return t
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Index returns the index with the given name.
func (t *Table) Index(name string) (*Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return nil, false
}
