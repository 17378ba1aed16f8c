package schema

import (
	"errors"
	"fmt"
	"strings"

	model "github.com/syssam/dynacrud/schema"
)

// Issue is one problem found in a table definition or between a
// definition and the database.
type Issue struct {
	Table   string
	Column  string
	Message string
	// Breaking marks differences that make writes fail until the database
	// is fixed by hand.
	Breaking bool
}

func (i *Issue) Error() string {
	if i.Column == "" {
		return i.Table + ": " + i.Message
	}
	return i.Table + "." + i.Column + ": " + i.Message
}

// ValidationResult collects the issues of a validation run. Errors stop
// provisioning, warnings are logged.
type ValidationResult struct {
	Errors   []*Issue
	Warnings []*Issue
}

// HasErrors reports whether any error was found.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether any warning was found.
func (r *ValidationResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// HasBreakingChanges reports whether any issue is breaking.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, list := range [][]*Issue{r.Errors, r.Warnings} {
		for _, i := range list {
			if i.Breaking {
				return true
			}
		}
	}
	return false
}

// Err returns the errors joined, or nil.
func (r *ValidationResult) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, i := range r.Errors {
		errs = append(errs, i)
	}
	return errors.Join(errs...)
}

func (r *ValidationResult) String() string {
	if !r.HasErrors() && !r.HasWarnings() {
		return "No issues found"
	}
	var b strings.Builder
	for _, sec := range []struct {
		title  string
		issues []*Issue
	}{{"Errors", r.Errors}, {"Warnings", r.Warnings}} {
		if len(sec.issues) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", sec.title)
		for _, i := range sec.issues {
			fmt.Fprintf(&b, "  - %v", i)
			if i.Breaking {
				b.WriteString(" [BREAKING]")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (r *ValidationResult) errorf(table, column, format string, a ...any) {
	r.Errors = append(r.Errors, &Issue{Table: table, Column: column, Message: fmt.Sprintf(format, a...)})
}

func (r *ValidationResult) merge(o *ValidationResult) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// ValidateOption configures ValidateDiff.
type ValidateOption func(*differ)

// Strict reports breaking differences as errors instead of warnings.
func Strict() ValidateOption {
	return func(d *differ) { d.strict = true }
}

type differ struct {
	strict bool
	result *ValidationResult
}

func (d *differ) report(i *Issue) {
	if i.Breaking && d.strict {
		d.result.Errors = append(d.result.Errors, i)
		return
	}
	d.result.Warnings = append(d.result.Warnings, i)
}

// ValidateDiff compares the tables found in the database with the desired
// ones and reports what additive provisioning cannot reconcile. Tables
// missing from current are not reported; they are created.
func ValidateDiff(current, desired []*Table, opts ...ValidateOption) *ValidationResult {
	d := &differ{result: &ValidationResult{}}
	for _, opt := range opts {
		opt(d)
	}
	for _, want := range desired {
		for _, have := range current {
			if have.Name == want.Name {
				d.table(have, want)
				break
			}
		}
	}
	return d.result
}

func (d *differ) table(have, want *Table) {
	issue := func(column, msg string, breaking bool) {
		d.report(&Issue{Table: have.Name, Column: column, Message: msg, Breaking: breaking})
	}
	for _, wc := range want.Columns {
		hc, ok := have.Column(wc.Name)
		switch {
		case !ok && !wc.Nullable:
			issue(wc.Name, "column is added as nullable to an existing table", false)
		case !ok:
		default:
			if storage(hc.Type) != storage(wc.Type) {
				issue(wc.Name, fmt.Sprintf("column type is %s, declared %s", hc.Type, wc.Type), true)
			}
			if hc.Nullable && !wc.Nullable {
				issue(wc.Name, "column is nullable in the database", false)
			}
			if hc.Size > 0 && wc.Size > hc.Size {
				issue(wc.Name, fmt.Sprintf("column size is %d, declared %d", hc.Size, wc.Size), false)
			}
		}
	}
	for _, hc := range have.Columns {
		if _, declared := want.Column(hc.Name); !declared && !hc.Nullable {
			issue(hc.Name, "undeclared NOT NULL column; inserts fail unless it has a default", true)
		}
	}
}

// storage maps field types sharing a column class to one type.
func storage(t model.Type) model.Type {
	if t == model.TypeText || t == model.TypeUUID {
		return model.TypeString
	}
	return t
}

// ValidateTable checks a single table definition for duplicate and
// dangling names.
func ValidateTable(t *Table) *ValidationResult {
	r := &ValidationResult{}
	if len(t.PrimaryKey) == 0 {
		r.Warnings = append(r.Warnings, &Issue{Table: t.Name, Message: "table has no primary key"})
	}
	columns := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := columns[c.Name]; dup {
			r.errorf(t.Name, c.Name, "duplicate column name")
		}
		columns[c.Name] = struct{}{}
		if !c.Type.Valid() {
			r.errorf(t.Name, c.Name, "unsupported type %q", c.Type)
		}
	}
	indexes := make(map[string]struct{}, len(t.Indexes))
	for _, idx := range t.Indexes {
		if _, dup := indexes[idx.Name]; dup {
			r.errorf(t.Name, "", "duplicate index name: %s", idx.Name)
		}
		indexes[idx.Name] = struct{}{}
		for _, c := range idx.Columns {
			if _, ok := columns[c.Name]; !ok {
				r.errorf(t.Name, "", "index %q references non-existent column %q", idx.Name, c.Name)
			}
		}
	}
	return r
}

// ValidateSchema validates every table and rejects duplicate table names.
func ValidateSchema(tables []*Table) *ValidationResult {
	r := &ValidationResult{}
	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if _, dup := seen[t.Name]; dup {
			r.errorf(t.Name, "", "duplicate table name")
		}
		seen[t.Name] = struct{}{}
		r.merge(ValidateTable(t))
	}
	return r
}
