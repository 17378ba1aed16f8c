package schema

import (
	"fmt"

	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/dynacrud/dialect"
	model "github.com/syssam/dynacrud/schema"
)

// atlasTable converts t into an atlas table for the given dialect.
func atlasTable(dialectName string, t *Table) (*schema.Table, error) {
	at := schema.NewTable(t.Name)
	for _, c := range t.Columns {
		ac, err := atlasColumn(dialectName, c)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", t.Name, err)
		}
		at.AddColumns(ac)
	}
	if len(t.PrimaryKey) > 0 {
		parts := make([]*schema.Column, 0, len(t.PrimaryKey))
		for _, c := range t.PrimaryKey {
			ac, _ := at.Column(c.Name)
			parts = append(parts, ac)
		}
		at.SetPrimaryKey(schema.NewPrimaryKey(parts...))
	}
	for _, idx := range t.Indexes {
		at.AddIndexes(atlasIndex(at, idx))
	}
	return at, nil
}

// atlasIndex builds idx over the columns of at.
func atlasIndex(at *schema.Table, idx *Index) *schema.Index {
	ai := schema.NewIndex(idx.Name)
	if idx.Unique {
		ai = schema.NewUniqueIndex(idx.Name)
	}
	for _, c := range idx.Columns {
		if ac, ok := at.Column(c.Name); ok {
			ai.AddColumns(ac)
		}
	}
	ai.Table = at
	return ai
}

func atlasColumn(dialectName string, c *Column) (*schema.Column, error) {
	typ, err := columnType(dialectName, c)
	if err != nil {
		return nil, err
	}
	ac := &schema.Column{
		Name: c.Name,
		Type: &schema.ColumnType{Type: typ, Null: c.Nullable},
	}
	if c.Increment {
		switch dialectName {
		case dialect.SQLite:
			ac.AddAttrs(&sqlite.AutoIncrement{})
		case dialect.MySQL:
			ac.AddAttrs(&mysql.AutoIncrement{})
		case dialect.Postgres:
			ac.AddAttrs(&postgres.Identity{})
		}
	}
	return ac, nil
}

// columnType maps a field type to the column type of a dialect.
func columnType(dialectName string, c *Column) (schema.Type, error) {
	lite := dialectName == dialect.SQLite
	switch c.Type {
	case model.TypeString, model.TypeUUID:
		if lite {
			return &schema.StringType{T: "text"}, nil
		}
		return &schema.StringType{T: "varchar", Size: c.Size}, nil
	case model.TypeText:
		if dialectName == dialect.MySQL {
			return &schema.StringType{T: "longtext"}, nil
		}
		return &schema.StringType{T: "text"}, nil
	case model.TypeInt:
		if lite {
			return &schema.IntegerType{T: "integer"}, nil
		}
		return &schema.IntegerType{T: "bigint"}, nil
	case model.TypeFloat:
		switch dialectName {
		case dialect.Postgres:
			return &schema.FloatType{T: "double precision"}, nil
		case dialect.MySQL:
			return &schema.FloatType{T: "double"}, nil
		}
		return &schema.FloatType{T: "real"}, nil
	case model.TypeBool:
		return &schema.BoolType{T: "boolean"}, nil
	case model.TypeTime:
		switch dialectName {
		case dialect.Postgres:
			return &schema.TimeType{T: "timestamptz"}, nil
		case dialect.MySQL:
			precision := 6
			return &schema.TimeType{T: "datetime", Precision: &precision}, nil
		}
		return &schema.TimeType{T: "datetime"}, nil
	case model.TypeJSON:
		if dialectName == dialect.Postgres {
			return &schema.JSONType{T: "jsonb"}, nil
		}
		return &schema.JSONType{T: "json"}, nil
	default:
		return nil, fmt.Errorf("column %q: unsupported type %q", c.Name, c.Type)
	}
}

// fromAtlas converts an inspected atlas table back into a layout. Column
// types are approximated from the atlas type family.
func fromAtlas(at *schema.Table) *Table {
	t := &Table{Name: at.Name}
	for _, ac := range at.Columns {
		c := &Column{Name: ac.Name}
		if ac.Type != nil {
			c.Nullable = ac.Type.Null
			c.Type, c.Size = fieldType(ac.Type.Type)
		}
		t.Columns = append(t.Columns, c)
	}
	if at.PrimaryKey != nil {
		for _, p := range at.PrimaryKey.Parts {
			if p.C == nil {
				continue
			}
			if c, ok := t.Column(p.C.Name); ok {
				t.PrimaryKey = append(t.PrimaryKey, c)
			}
		}
	}
	for _, ai := range at.Indexes {
		idx := &Index{Name: ai.Name, Unique: ai.Unique}
		for _, p := range ai.Parts {
			if p.C == nil {
				continue
			}
			if c, ok := t.Column(p.C.Name); ok {
				idx.Columns = append(idx.Columns, c)
				if ai.Unique && len(ai.Parts) == 1 {
					c.Unique = true
				}
			}
		}
		t.Indexes = append(t.Indexes, idx)
	}
	return t
}

func fieldType(typ schema.Type) (model.Type, int) {
	switch typ := typ.(type) {
	case *schema.StringType:
		if typ.Size > 0 {
			return model.TypeString, typ.Size
		}
		return model.TypeText, 0
	case *schema.IntegerType:
		return model.TypeInt, 0
	case *schema.FloatType, *schema.DecimalType:
		return model.TypeFloat, 0
	case *schema.BoolType:
		return model.TypeBool, 0
	case *schema.TimeType:
		return model.TypeTime, 0
	case *schema.JSONType:
		return model.TypeJSON, 0
	case *schema.UUIDType:
		return model.TypeUUID, 0
	default:
		return model.TypeText, 0
	}
}
