package sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dynacrud/dialect"
)

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.SQLite, db),
		WithSlowThreshold(time.Hour),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	ctx := context.Background()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	var rows Rows
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, &rows))
	require.NoError(t, rows.Close())

	mock.ExpectExec("DELETE FROM t").WillReturnError(errors.New("boom"))
	require.Error(t, drv.Exec(ctx, "DELETE FROM t", []any{}, nil))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE t").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "UPDATE t SET a = 1", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.QueryStats().Stats()
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(2), s.TotalExecs)
	assert.Equal(t, int64(1), s.Errors)
	assert.Zero(t, s.SlowQueries)
	assert.Empty(t, slow)
	assert.Contains(t, s.String(), "queries=1 execs=2")
	assert.Equal(t, dialect.SQLite, drv.Dialect())
}

func TestStatsDriver_SlowQueryLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db), WithSlowQueryLog(logger))
	assert.Equal(t, DefaultSlowThreshold, drv.SlowThreshold())
	drv.SetSlowThreshold(time.Nanosecond)
	assert.Equal(t, time.Nanosecond, drv.SlowThreshold())

	mock.ExpectExec("DELETE FROM t").WillDelayFor(time.Millisecond).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, drv.Exec(context.Background(), "DELETE FROM t", []any{}, nil))

	assert.Equal(t, int64(1), drv.QueryStats().Stats().SlowQueries)
	assert.Contains(t, buf.String(), "slow query detected")
	assert.Contains(t, buf.String(), "DELETE FROM t")
}

func TestStatsSnapshot_AvgQueryDuration(t *testing.T) {
	assert.Zero(t, StatsSnapshot{}.AvgQueryDuration())
	s := StatsSnapshot{TotalQueries: 3, TotalExecs: 1, TotalDuration: 8 * time.Millisecond}
	assert.Equal(t, 2*time.Millisecond, s.AvgQueryDuration())
}

func TestStatsCollector(t *testing.T) {
	stats := &QueryStats{}
	stats.TotalQueries.Add(4)
	stats.TotalExecs.Add(2)
	stats.SlowQueries.Add(1)
	stats.Errors.Add(3)
	stats.TotalDuration.Add(int64(1500 * time.Millisecond))

	c := NewStatsCollector(stats)
	assert.Equal(t, 5, testutil.CollectAndCount(c))
	expected := `
# HELP dynacrud_sql_errors_total SQL statements that returned an error.
# TYPE dynacrud_sql_errors_total counter
dynacrud_sql_errors_total 3
# HELP dynacrud_sql_slow_statements_total SQL statements slower than the slow query threshold.
# TYPE dynacrud_sql_slow_statements_total counter
dynacrud_sql_slow_statements_total 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"dynacrud_sql_errors_total", "dynacrud_sql_slow_statements_total"))
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv := NewDebugDriver(OpenDB(dialect.MySQL, db), logger)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t VALUES (?)", []any{1}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	assert.Contains(t, out, "begin transaction")
	assert.Contains(t, out, "tx exec")
	assert.Contains(t, out, "INSERT INTO t VALUES (?)")
	assert.Contains(t, out, "rollback transaction")
}
