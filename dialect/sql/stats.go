package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/dynacrud/dialect"
)

// DefaultSlowThreshold is the statement duration above which a statement
// counts as slow.
const DefaultSlowThreshold = 100 * time.Millisecond

// QueryStats holds statement execution statistics.
type QueryStats struct {
	TotalQueries  atomic.Int64
	TotalExecs    atomic.Int64
	TotalDuration atomic.Int64 // nanoseconds
	SlowQueries   atomic.Int64
	Errors        atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// StatsSnapshot is a point-in-time snapshot of statement statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is called with every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// Statement kinds reported to observers.
const (
	kindQuery    = "query"
	kindExec     = "exec"
	kindBegin    = "begin"
	kindCommit   = "commit"
	kindRollback = "rollback"
)

// statement is one completed driver call.
type statement struct {
	kind  string
	query string
	args  any
	inTx  bool
	took  time.Duration
	err   error
}

type observer interface {
	observe(context.Context, statement)
}

// observed reports every call of the wrapped driver, and of the
// transactions it starts, to obs.
type observed struct {
	dialect.Driver
	obs observer
}

func (d observed) Query(ctx context.Context, query string, args, v any) error {
	return timed(ctx, d.obs, statement{kind: kindQuery, query: query, args: args}, func() error {
		return d.Driver.Query(ctx, query, args, v)
	})
}

func (d observed) Exec(ctx context.Context, query string, args, v any) error {
	return timed(ctx, d.obs, statement{kind: kindExec, query: query, args: args}, func() error {
		return d.Driver.Exec(ctx, query, args, v)
	})
}

func (d observed) Tx(ctx context.Context) (dialect.Tx, error) {
	var tx dialect.Tx
	err := timed(ctx, d.obs, statement{kind: kindBegin, inTx: true}, func() (err error) {
		tx, err = d.Driver.Tx(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &observedTx{Tx: tx, ctx: ctx, obs: d.obs}, nil
}

type observedTx struct {
	dialect.Tx
	// ctx is the context the transaction was started with, used for
	// Commit and Rollback reports.
	ctx context.Context
	obs observer
}

func (tx *observedTx) Query(ctx context.Context, query string, args, v any) error {
	return timed(ctx, tx.obs, statement{kind: kindQuery, query: query, args: args, inTx: true}, func() error {
		return tx.Tx.Query(ctx, query, args, v)
	})
}

func (tx *observedTx) Exec(ctx context.Context, query string, args, v any) error {
	return timed(ctx, tx.obs, statement{kind: kindExec, query: query, args: args, inTx: true}, func() error {
		return tx.Tx.Exec(ctx, query, args, v)
	})
}

func (tx *observedTx) Commit() error {
	return timed(tx.ctx, tx.obs, statement{kind: kindCommit, inTx: true}, tx.Tx.Commit)
}

func (tx *observedTx) Rollback() error {
	return timed(tx.ctx, tx.obs, statement{kind: kindRollback, inTx: true}, tx.Tx.Rollback)
}

func timed(ctx context.Context, obs observer, st statement, fn func() error) error {
	start := time.Now()
	st.err = fn()
	st.took = time.Since(start)
	obs.observe(ctx, st)
	return st.err
}

// StatsDriver counts the statements of a driver and reports slow ones.
type StatsDriver struct {
	observed
	stats     *QueryStats
	threshold atomic.Int64
	hook      SlowQueryHook
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// Non-positive values keep DefaultSlowThreshold.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		if d > 0 {
			s.threshold.Store(int64(d))
		}
	}
}

// WithSlowQueryHook sets the callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		logger.WarnContext(ctx, "slow query detected",
			slog.Duration("duration", duration),
			slog.String("query", query),
			slog.Int("args", len(args)),
		)
	})
}

// NewStatsDriver wraps drv with statement statistics.
//
//	drv, _ := sql.Open("pgx", dsn)
//	stats := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(logger),
//	)
//	prometheus.MustRegister(sql.NewStatsCollector(stats.QueryStats()))
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{stats: &QueryStats{}}
	s.observed = observed{Driver: drv, obs: s}
	s.threshold.Store(int64(DefaultSlowThreshold))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// SlowThreshold returns the current slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	return time.Duration(d.threshold.Load())
}

// SetSlowThreshold replaces the slow statement threshold. It is safe to
// call while statements run.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.threshold.Store(int64(threshold))
}

func (d *StatsDriver) observe(ctx context.Context, st statement) {
	switch st.kind {
	case kindQuery:
		d.stats.TotalQueries.Add(1)
	case kindExec:
		d.stats.TotalExecs.Add(1)
	default:
		return
	}
	d.stats.TotalDuration.Add(int64(st.took))
	if st.err != nil {
		d.stats.Errors.Add(1)
	}
	if st.took <= d.SlowThreshold() {
		return
	}
	d.stats.SlowQueries.Add(1)
	if d.hook != nil {
		argv, _ := st.args.([]any)
		d.hook(ctx, st.query, argv, st.took)
	}
}

// DebugDriver logs every driver call at debug level.
type DebugDriver struct {
	observed
	logger *slog.Logger
}

// NewDebugDriver wraps drv with statement logging.
func NewDebugDriver(drv dialect.Driver, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &DebugDriver{logger: logger}
	d.observed = observed{Driver: drv, obs: d}
	return d
}

func (d *DebugDriver) observe(ctx context.Context, st statement) {
	attrs := []slog.Attr{slog.Duration("took", st.took)}
	msg := st.kind + " transaction"
	if st.query != "" {
		msg = st.kind
		if st.inTx {
			msg = "tx " + msg
		}
		attrs = append(attrs, slog.String("sql", st.query), slog.Any("args", st.args))
	}
	if st.err != nil {
		attrs = append(attrs, slog.Any("error", st.err))
	}
	d.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*observedTx)(nil)
)

// statsCollector exports QueryStats as prometheus metrics.
type statsCollector struct {
	stats    *QueryStats
	queries  *prometheus.Desc
	duration *prometheus.Desc
	slow     *prometheus.Desc
	errors   *prometheus.Desc
}

// NewStatsCollector returns a prometheus.Collector reading the given stats
// on every scrape.
func NewStatsCollector(stats *QueryStats) prometheus.Collector {
	return &statsCollector{
		stats: stats,
		queries: prometheus.NewDesc("dynacrud_sql_statements_total",
			"SQL statements executed, by kind.", []string{"kind"}, nil),
		duration: prometheus.NewDesc("dynacrud_sql_statement_seconds_total",
			"Total time spent executing SQL statements.", nil, nil),
		slow: prometheus.NewDesc("dynacrud_sql_slow_statements_total",
			"SQL statements slower than the slow query threshold.", nil, nil),
		errors: prometheus.NewDesc("dynacrud_sql_errors_total",
			"SQL statements that returned an error.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.duration
	ch <- c.slow
	ch <- c.errors
}

// Collect implements prometheus.Collector.
func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Stats()
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.TotalQueries), "query")
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.TotalExecs), "exec")
	ch <- prometheus.MustNewConstMetric(c.duration, prometheus.CounterValue, s.TotalDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.slow, prometheus.CounterValue, float64(s.SlowQueries))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
}
