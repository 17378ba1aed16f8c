// Package schema provides the model declarations used by storage backends.
//
// The CRUD core itself is schema-agnostic. Backends use these declarations
// to name tables and columns, to enforce unique and required fields, to
// generate identifiers, and to resolve include edges between models.
//
//	models:
//	  - name: Task
//	    fields:
//	      - {name: title, type: string, required: true}
//	      - {name: userId, type: string, required: true}
//	    relations:
//	      - {name: user, model: User, field: userId, references: id, unique: true}
//
// Table names default to the pluralized snake case of the model name
// ("TaskComment" -> "task_comments") and column names to the snake case
// of the field name ("userId" -> "user_id").
package schema

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-openapi/inflect"
)

// Type is the storage type of a field.
type Type string

// Field types.
const (
	TypeString Type = "string"
	TypeText   Type = "text"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeTime   Type = "time"
	TypeJSON   Type = "json"
	TypeUUID   Type = "uuid"
)

var types = []Type{TypeString, TypeText, TypeInt, TypeFloat, TypeBool, TypeTime, TypeJSON, TypeUUID}

// Valid reports if the type is known.
func (t Type) Valid() bool {
	return slices.Contains(types, t)
}

// IDType is the identifier strategy of a model.
type IDType string

// Identifier strategies.
const (
	// IDUUID generates a random UUID string when the payload has no id.
	IDUUID IDType = "uuid"
	// IDInt lets the store assign an auto-increment integer.
	IDInt IDType = "int"
	// IDString requires the caller to supply the id.
	IDString IDType = "string"
)

// DefaultIDField is the identifier field used when a model sets none.
const DefaultIDField = "id"

// Now is the Default and OnUpdate value of time fields that are set to the
// time of the write.
const Now = "now"

var rules = inflect.NewDefaultRuleset()

type (
	// Model declares a named entity type.
	Model struct {
		Name      string     `yaml:"name"`
		Table     string     `yaml:"table,omitempty"`
		IDField   string     `yaml:"id_field,omitempty"`
		IDType    IDType     `yaml:"id_type,omitempty"`
		Fields    []Field    `yaml:"fields"`
		Relations []Relation `yaml:"relations,omitempty"`
	}

	// Field declares a scalar attribute of a model.
	Field struct {
		Name     string `yaml:"name"`
		Type     Type   `yaml:"type"`
		Column   string `yaml:"column,omitempty"`
		Unique   bool   `yaml:"unique,omitempty"`
		Required bool   `yaml:"required,omitempty"`
		Default  any    `yaml:"default,omitempty"`
		// OnUpdate is set to "now" on time fields that track the last write.
		OnUpdate string `yaml:"on_update,omitempty"`
	}

	// Relation declares an include edge. Records of Model whose References
	// field equals this record's Field value are attached under Name.
	// A unique relation yields a single record (or nil) instead of a list.
	Relation struct {
		Name       string `yaml:"name"`
		Model      string `yaml:"model"`
		Field      string `yaml:"field"`
		References string `yaml:"references"`
		Unique     bool   `yaml:"unique,omitempty"`
	}
)

// TableName returns the table the model is stored in.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return inflect.Underscore(rules.Pluralize(m.Name))
}

// ID returns the identifier field name.
func (m *Model) ID() string {
	if m.IDField != "" {
		return m.IDField
	}
	return DefaultIDField
}

// IDStrategy returns the identifier strategy, defaulting to IDUUID.
func (m *Model) IDStrategy() IDType {
	if m.IDType != "" {
		return m.IDType
	}
	return IDUUID
}

// IDColumn returns the column of the identifier field.
func (m *Model) IDColumn() string {
	if f, ok := m.Field(m.ID()); ok {
		return f.ColumnName()
	}
	return inflect.Underscore(m.ID())
}

// Field returns the declared field with the given name.
func (m *Model) Field(name string) (*Field, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

// Lookup returns the declaration of the named field. The identifier is
// always found; when the model does not declare it, a declaration is
// derived from the id strategy.
func (m *Model) Lookup(name string) (*Field, bool) {
	if f, ok := m.Field(name); ok {
		return f, true
	}
	if name != m.ID() {
		return nil, false
	}
	f := &Field{Name: name, Type: TypeString}
	switch m.IDStrategy() {
	case IDInt:
		f.Type = TypeInt
	case IDUUID:
		f.Type = TypeUUID
	}
	return f, true
}

// HasField reports whether name is the id or a declared field.
func (m *Model) HasField(name string) bool {
	if name == m.ID() {
		return true
	}
	_, ok := m.Field(name)
	return ok
}

// Relation returns the declared relation with the given name.
func (m *Model) Relation(name string) (*Relation, bool) {
	for i := range m.Relations {
		if m.Relations[i].Name == name {
			return &m.Relations[i], true
		}
	}
	return nil, false
}

// FieldNames returns the id followed by every declared field name.
func (m *Model) FieldNames() []string {
	names := make([]string, 0, len(m.Fields)+1)
	names = append(names, m.ID())
	for _, f := range m.Fields {
		if f.Name != m.ID() {
			names = append(names, f.Name)
		}
	}
	return names
}

// Column returns the column of the field with the given name.
func (m *Model) Column(name string) string {
	if name == m.ID() {
		return m.IDColumn()
	}
	if f, ok := m.Field(name); ok {
		return f.ColumnName()
	}
	return inflect.Underscore(name)
}

// ColumnName returns the column the field is stored in.
func (f *Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return inflect.Underscore(f.Name)
}

// DefaultValue returns the value stored when a create omits the field.
func (f *Field) DefaultValue(now time.Time) (any, bool) {
	switch {
	case f.Default == nil:
		return nil, false
	case f.Type == TypeTime && f.Default == Now:
		return now, true
	default:
		return f.Default, true
	}
}

// Touched reports whether the field is set to the write time on update.
func (f *Field) Touched() bool {
	return f.Type == TypeTime && f.OnUpdate == Now
}

// Validate checks a single model declaration.
func (m *Model) Validate() []error {
	var errs []error
	if m.Name == "" {
		return []error{fmt.Errorf("schema: model name is required")}
	}
	switch m.IDStrategy() {
	case IDUUID, IDInt, IDString:
	default:
		errs = append(errs, fmt.Errorf("schema: model %s: unknown id type %q", m.Name, m.IDType))
	}
	seen := map[string]bool{}
	for _, f := range m.Fields {
		switch {
		case f.Name == "":
			errs = append(errs, fmt.Errorf("schema: model %s: field name is required", m.Name))
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("schema: model %s: duplicate field %q", m.Name, f.Name))
		case !f.Type.Valid():
			errs = append(errs, fmt.Errorf("schema: model %s: field %q has unknown type %q", m.Name, f.Name, f.Type))
		case f.OnUpdate != "" && (f.OnUpdate != Now || f.Type != TypeTime):
			errs = append(errs, fmt.Errorf("schema: model %s: field %q: on_update is only supported as %q on time fields", m.Name, f.Name, Now))
		}
		seen[f.Name] = true
	}
	for _, r := range m.Relations {
		switch {
		case r.Name == "" || r.Model == "":
			errs = append(errs, fmt.Errorf("schema: model %s: relation requires a name and a model", m.Name))
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("schema: model %s: relation %q clashes with a field", m.Name, r.Name))
		case !m.HasField(r.Field):
			errs = append(errs, fmt.Errorf("schema: model %s: relation %q uses unknown field %q", m.Name, r.Name, r.Field))
		}
	}
	return errs
}

// ValidateModels checks every model and the relations between them.
func ValidateModels(models []*Model) []error {
	var (
		errs   []error
		byName = make(map[string]*Model, len(models))
	)
	for _, m := range models {
		errs = append(errs, m.Validate()...)
		if _, ok := byName[m.Name]; ok && m.Name != "" {
			errs = append(errs, fmt.Errorf("schema: duplicate model %q", m.Name))
		}
		byName[m.Name] = m
	}
	for _, m := range models {
		for _, r := range m.Relations {
			target, ok := byName[r.Model]
			switch {
			case r.Model == "":
			case !ok:
				errs = append(errs, fmt.Errorf("schema: model %s: relation %q targets unknown model %q", m.Name, r.Name, r.Model))
			case !target.HasField(r.References):
				errs = append(errs, fmt.Errorf("schema: model %s: relation %q references unknown field %s.%s", m.Name, r.Name, r.Model, r.References))
			}
		}
	}
	return errs
}
