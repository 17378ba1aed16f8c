package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/dynacrud/dialect"
)

// Migrate creates the missing parts of a set of tables.
type Migrate struct {
	db       *sql.DB
	dialect  string
	logger   *slog.Logger
	validate []ValidateOption
}

// MigrateOption configures a Migrate.
type MigrateOption func(*Migrate)

// WithLogger sets the logger receiving planned changes and warnings.
func WithLogger(l *slog.Logger) MigrateOption {
	return func(m *Migrate) {
		m.logger = l
	}
}

// WithValidateOptions sets the options ValidateDiff runs with.
func WithValidateOptions(opts ...ValidateOption) MigrateOption {
	return func(m *Migrate) {
		m.validate = append(m.validate, opts...)
	}
}

// NewMigrate returns a Migrate for db, which speaks the given dialect.
func NewMigrate(db *sql.DB, dialectName string, opts ...MigrateOption) (*Migrate, error) {
	switch dialectName {
	case dialect.SQLite, dialect.MySQL, dialect.Postgres:
	default:
		return nil, fmt.Errorf("dialect/sql/schema: unsupported dialect %q", dialectName)
	}
	m := &Migrate{db: db, dialect: dialectName, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Plan is the outcome of comparing the database with a set of tables.
type Plan struct {
	Changes []schema.Change
	Result  *ValidationResult
}

// Plan inspects the database and returns the changes that create the
// missing tables, columns and unique indexes. Columns added to existing
// tables are nullable. Invalid tables and, under Strict, breaking
// differences fail the plan.
func (m *Migrate) Plan(ctx context.Context, tables ...*Table) (*Plan, error) {
	drv, err := m.driver()
	if err != nil {
		return nil, err
	}
	return m.plan(ctx, drv, tables)
}

func (m *Migrate) plan(ctx context.Context, drv migrate.Driver, tables []*Table) (*Plan, error) {
	result := ValidateSchema(tables)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("dialect/sql/schema: invalid tables: %w", err)
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	current, err := drv.InspectSchema(ctx, "", &schema.InspectOptions{Tables: names})
	if err != nil {
		return nil, fmt.Errorf("dialect/sql/schema: inspect: %w", err)
	}
	existing := make([]*Table, 0, len(current.Tables))
	for _, at := range current.Tables {
		existing = append(existing, fromAtlas(at))
	}
	diff := ValidateDiff(existing, tables, m.validate...)
	result.merge(diff)
	if err := diff.Err(); err != nil {
		return nil, fmt.Errorf("dialect/sql/schema: incompatible tables: %w", err)
	}
	plan := &Plan{Result: result}
	for _, t := range tables {
		desired, err := atlasTable(m.dialect, t)
		if err != nil {
			return nil, fmt.Errorf("dialect/sql/schema: %w", err)
		}
		cur, ok := current.Table(t.Name)
		if !ok {
			plan.Changes = append(plan.Changes, &schema.AddTable{T: desired})
			continue
		}
		if change := extend(cur, desired); change != nil {
			plan.Changes = append(plan.Changes, change)
		}
	}
	return plan, nil
}

// extend returns the change adding the columns and unique indexes of
// desired that cur lacks, or nil when there are none.
func extend(cur, desired *schema.Table) schema.Change {
	var changes []schema.Change
	for _, dc := range desired.Columns {
		if _, ok := cur.Column(dc.Name); ok {
			continue
		}
		c := &schema.Column{
			Name: dc.Name,
			Type: &schema.ColumnType{Type: dc.Type.Type, Null: true},
		}
		changes = append(changes, &schema.AddColumn{C: c})
	}
	for _, di := range desired.Indexes {
		if _, ok := cur.Index(di.Name); ok {
			continue
		}
		idx := schema.NewUniqueIndex(di.Name)
		for _, p := range di.Parts {
			if c, ok := cur.Column(p.C.Name); ok {
				idx.AddColumns(c)
				continue
			}
			for _, ch := range changes {
				if add, ok := ch.(*schema.AddColumn); ok && add.C.Name == p.C.Name {
					idx.AddColumns(add.C)
				}
			}
		}
		idx.Table = cur
		changes = append(changes, &schema.AddIndex{I: idx})
	}
	if len(changes) == 0 {
		return nil
	}
	return &schema.ModifyTable{T: cur, Changes: changes}
}

// Create applies the plan for the given tables.
func (m *Migrate) Create(ctx context.Context, tables ...*Table) error {
	drv, err := m.driver()
	if err != nil {
		return err
	}
	plan, err := m.plan(ctx, drv, tables)
	if err != nil {
		return err
	}
	for _, w := range plan.Result.Warnings {
		m.logger.WarnContext(ctx, "schema difference left in place",
			slog.String("table", w.Table),
			slog.String("column", w.Column),
			slog.String("reason", w.Message),
			slog.Bool("breaking", w.Breaking),
		)
	}
	if len(plan.Changes) == 0 {
		m.logger.DebugContext(ctx, "schema is up to date", slog.Int("tables", len(tables)))
		return nil
	}
	for _, c := range plan.Changes {
		switch c := c.(type) {
		case *schema.AddTable:
			m.logger.InfoContext(ctx, "creating table", slog.String("table", c.T.Name))
		case *schema.ModifyTable:
			m.logger.InfoContext(ctx, "extending table",
				slog.String("table", c.T.Name),
				slog.Int("changes", len(c.Changes)),
			)
		}
	}
	if err := drv.ApplyChanges(ctx, plan.Changes); err != nil {
		return fmt.Errorf("dialect/sql/schema: apply: %w", err)
	}
	return nil
}

func (m *Migrate) driver() (migrate.Driver, error) {
	var (
		drv migrate.Driver
		err error
	)
	switch m.dialect {
	case dialect.SQLite:
		drv, err = sqlite.Open(m.db)
	case dialect.MySQL:
		drv, err = mysql.Open(m.db)
	default:
		drv, err = postgres.Open(m.db)
	}
	if err != nil {
		return nil, fmt.Errorf("dialect/sql/schema: open %s: %w", m.dialect, err)
	}
	return drv, nil
}
