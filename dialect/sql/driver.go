package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/syssam/dynacrud/dialect"
)

// DialectOf returns the dialect served by a database/sql driver name.
// Unknown names are returned as is.
func DialectOf(driverName string) string {
	switch driverName {
	case "pgx", "postgres":
		return dialect.Postgres
	case "sqlite3", "sqlite":
		return dialect.SQLite
	default:
		return driverName
	}
}

// Pool configures the connection pool of an opened database. Zero values
// keep the database/sql defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (p Pool) apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}

// Driver runs statements on a *sql.DB for one dialect.
type Driver struct {
	session
	db *sql.DB
}

// Open opens a database through a registered database/sql driver. The
// optional pool settings are applied before the driver is returned.
func Open(driverName, source string, pool ...Pool) (*Driver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	for _, p := range pool {
		p.apply(db)
	}
	return OpenDB(DialectOf(driverName), db), nil
}

// OpenDB returns a Driver over an already opened database.
func OpenDB(name string, db *sql.DB) *Driver {
	return &Driver{session: session{conn: db, dialect: name}, db: db}
}

// DB returns the underlying database handle.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect returns the dialect name.
func (d *Driver) Dialect() string { return d.dialect }

// Tx begins a transaction with the default isolation level.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return &Tx{session: session{conn: tx, dialect: d.dialect}, tx: tx}, nil
}

// Close closes the database.
func (d *Driver) Close() error { return d.db.Close() }

// Tx is a transaction started by Driver.Tx.
type Tx struct {
	session
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

var (
	_ dialect.Driver = (*Driver)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type session struct {
	conn    conn
	dialect string
}

// Exec runs a statement. v is nil or a *Result receiving the outcome.
func (s session) Exec(ctx context.Context, query string, args, v any) error {
	argv, err := argList(args)
	if err != nil {
		return err
	}
	dst, ok := v.(*Result)
	if v != nil && !ok {
		return fmt.Errorf("dialect/sql: exec into %T, want *sql.Result", v)
	}
	res, err := s.conn.ExecContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if dst != nil {
		*dst = res
	}
	return nil
}

// Query runs a statement returning rows into v, which must be a *Rows.
// The caller closes the rows.
func (s session) Query(ctx context.Context, query string, args, v any) error {
	dst, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: query into %T, want *sql.Rows", v)
	}
	argv, err := argList(args)
	if err != nil {
		return err
	}
	rows, err := s.conn.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	dst.ColumnScanner = rows
	return nil
}

func argList(args any) ([]any, error) {
	switch args := args.(type) {
	case nil:
		return nil, nil
	case []any:
		return args, nil
	default:
		return nil, fmt.Errorf("dialect/sql: args of type %T, want []any", args)
	}
}

type (
	// Rows holds the result set of Query.
	Rows struct{ ColumnScanner }
	// Result is the outcome of Exec.
	Result = sql.Result
)

// ColumnScanner is the subset of *sql.Rows used to read result sets.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}
