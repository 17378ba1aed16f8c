// Package sql is the SQL backend of dynacrud: a database/sql driver
// wrapper, a small statement builder and Table, the delegate of a model
// stored in one table.
//
// # Tables
//
// A Table implements dynacrud.Delegate and dynacrud.Aggregator over the
// columns derived from a schema.Model:
//
//	drv, err := sql.Open("sqlite", "file:app.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    return err
//	}
//	registry := dynacrud.NewRegistry()
//	registry.Register("Task", sql.NewTable(drv, taskModel, sql.WithResolver(registry)))
//
// Writes needing more than one statement (create and refetch, upsert,
// bulk inserts) run in a transaction. Constraint failures reported by the
// driver are returned as *dynacrud.ConstraintError; see package sqlgraph.
//
// # Filters
//
// Where compiles the filter envelope of package querylanguage into SQL
// with the same null semantics as querylanguage.Eval:
//
//	{"title": {"contains": "docs", "mode": "insensitive"}}  // LOWER("title") LIKE '%docs%'
//	{"points": {"not": 3}}                                   // ("points" <> 3 OR "points" IS NULL)
//	{"userId": {"in": []}}                                   // 1 = 0
//
// On SQLite, where LIKE ignores case, substring tests use instr and substr.
//
// # Dialect Support
//
// Placeholders, identifier quoting, LIMIT/OFFSET forms, "insert or
// ignore" and generated identifiers follow the dialect of the driver:
//
//	NewBuilder(dialect.Postgres)  // "col" = $1
//	NewBuilder(dialect.MySQL)     // `col` = ?
//	NewBuilder(dialect.SQLite)    // "col" = ?
//
// # Statistics
//
// StatsDriver counts statements and reports slow ones; NewStatsCollector
// exposes the counters to prometheus. DebugDriver logs every statement.
package sql
