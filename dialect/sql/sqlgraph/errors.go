// Package sqlgraph classifies the constraint failures reported by the SQL
// drivers into *dynacrud.ConstraintError values.
package sqlgraph

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/syssam/dynacrud"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull                = 1048
	mysqlNoDefault              = 1364
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

var (
	// SQLite: "UNIQUE constraint failed: users.email".
	sqliteRe = regexp.MustCompile(`(UNIQUE|NOT NULL|CHECK|FOREIGN KEY) constraint failed(?::\s*([\w.]+))?`)
	// Postgres detail: "Key (email)=(a@b.c) already exists."
	pgKeyRe = regexp.MustCompile(`Key \(([^,)]+)`)
	// MySQL: "Duplicate entry 'x' for key 'users.users_email_key'",
	// "Column 'user_id' cannot be null", "Field 'user_id' doesn't have a default value".
	mysqlKeyRe    = regexp.MustCompile(`for key '([^']+)'`)
	mysqlColumnRe = regexp.MustCompile(`(?:Column|Field) '([^']+)'`)
)

// violation is a driver error decoded into a constraint kind and the
// column, index or constraint name it reports.
type violation struct {
	kind dynacrud.ConstraintKind
	name string
}

// FieldFunc maps a column name to the field stored in it, or "" when the
// column is unknown.
type FieldFunc func(column string) string

// Classify returns err as a *dynacrud.ConstraintError when it reports a
// constraint violation, and err unchanged otherwise. field resolves the
// offending column, or an index named after it, to a field name.
func Classify(err error, field FieldFunc) error {
	if err == nil {
		return nil
	}
	if _, ok := dynacrud.AsConstraintError(err); ok {
		return err
	}
	v, ok := inspect(err)
	if !ok {
		return err
	}
	name := ""
	if field != nil && v.name != "" {
		name = resolveField(v.name, field)
	}
	return dynacrud.NewConstraintError(v.kind, name, err.Error(), err)
}

// resolveField maps a column or an index name such as "users_email_key"
// to a field by dropping leading segments until a known column remains.
func resolveField(name string, field FieldFunc) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if f := field(name); f != "" {
		return f
	}
	for _, suffix := range []string{"_key", "_idx", "_fkey", "_check"} {
		name = strings.TrimSuffix(name, suffix)
	}
	for name != "" {
		if f := field(name); f != "" {
			return f
		}
		i := strings.IndexByte(name, '_')
		if i < 0 {
			break
		}
		name = name[i+1:]
	}
	return ""
}

func inspect(err error) (violation, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return postgres(string(pqErr.Code), pqErr.Column, pqErr.Detail, pqErr.Constraint)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgres(pgErr.Code, pgErr.ColumnName, pgErr.Detail, pgErr.ConstraintName)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlViolation(myErr.Number, myErr.Message)
	}
	return fromMessage(err.Error())
}

func postgres(code, column, detail, constraint string) (violation, bool) {
	var kind dynacrud.ConstraintKind
	switch code {
	case pgUniqueViolation:
		kind = dynacrud.ConstraintUnique
	case pgNotNullViolation:
		kind = dynacrud.ConstraintNotNull
	case pgForeignKeyViolation:
		kind = dynacrud.ConstraintForeignKey
	case pgCheckViolation:
		kind = dynacrud.ConstraintCheck
	default:
		return violation{}, false
	}
	name := column
	if name == "" {
		if m := pgKeyRe.FindStringSubmatch(detail); m != nil {
			name = m[1]
		}
	}
	if name == "" {
		name = constraint
	}
	return violation{kind: kind, name: name}, true
}

func mysqlViolation(number uint16, msg string) (violation, bool) {
	var kind dynacrud.ConstraintKind
	switch number {
	case mysqlDuplicateEntry:
		kind = dynacrud.ConstraintUnique
	case mysqlBadNull, mysqlNoDefault:
		kind = dynacrud.ConstraintNotNull
	case mysqlForeignKeyParent, mysqlForeignKeyChild:
		kind = dynacrud.ConstraintForeignKey
	case mysqlCheckConstraintViolate:
		kind = dynacrud.ConstraintCheck
	default:
		return violation{}, false
	}
	v := violation{kind: kind}
	if m := mysqlKeyRe.FindStringSubmatch(msg); m != nil {
		v.name = m[1]
	} else if m := mysqlColumnRe.FindStringSubmatch(msg); m != nil {
		v.name = m[1]
	}
	return v, true
}

// fromMessage recognizes drivers without typed errors (SQLite) and
// wrapped errors that lost their type.
func fromMessage(msg string) (violation, bool) {
	if m := sqliteRe.FindStringSubmatch(msg); m != nil {
		v := violation{name: m[2]}
		switch m[1] {
		case "UNIQUE":
			v.kind = dynacrud.ConstraintUnique
		case "NOT NULL":
			v.kind = dynacrud.ConstraintNotNull
		case "CHECK":
			v.kind = dynacrud.ConstraintCheck
		default:
			v.kind = dynacrud.ConstraintForeignKey
		}
		return v, true
	}
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint"):
		return violation{kind: dynacrud.ConstraintUnique}, true
	case containsAny(msg, "Error 1048", "violates not-null constraint"):
		return violation{kind: dynacrud.ConstraintNotNull}, true
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint"):
		return violation{kind: dynacrud.ConstraintForeignKey}, true
	case containsAny(msg, "Error 3819", "violates check constraint"):
		return violation{kind: dynacrud.ConstraintCheck}, true
	}
	return violation{}, false
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return kindOf(err) != 0
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return kindOf(err) == dynacrud.ConstraintUnique
}

// IsNotNullConstraintError reports if the error resulted from a missing required value.
func IsNotNullConstraintError(err error) bool {
	return kindOf(err) == dynacrud.ConstraintNotNull
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return kindOf(err) == dynacrud.ConstraintForeignKey
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	return kindOf(err) == dynacrud.ConstraintCheck
}

func kindOf(err error) dynacrud.ConstraintKind {
	if err == nil {
		return 0
	}
	if e, ok := dynacrud.AsConstraintError(err); ok {
		return e.Kind
	}
	v, _ := inspect(err)
	return v.kind
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
