package main

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/cache"
	"github.com/syssam/dynacrud/config"
	"github.com/syssam/dynacrud/crud"
	"github.com/syssam/dynacrud/dialect"
	"github.com/syssam/dynacrud/dialect/memory"
	"github.com/syssam/dynacrud/dialect/sql"
	sqlschema "github.com/syssam/dynacrud/dialect/sql/schema"
	"github.com/syssam/dynacrud/normalize"
	"github.com/syssam/dynacrud/schema"
)

// app wires a configuration to a running service.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *dynacrud.Registry
	cache    *cache.Memory
	svc      *crud.Service

	// Set for SQL dialects only.
	db    *sql.Driver
	stats *sql.StatsDriver
	drv   dialect.Driver
}

// newApp opens the configured backend, provisions it when asked to and
// registers a delegate per declared model. Collectors are registered with
// reg when it is not nil.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		registry: dynacrud.NewRegistry(),
		cache:    cache.NewMemory(),
	}
	if cfg.Database.Dialect != config.Memory {
		if err := a.open(); err != nil {
			return nil, err
		}
		if reg != nil {
			reg.MustRegister(sql.NewStatsCollector(a.stats.QueryStats()))
		}
	}
	delegates, err := a.delegates(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry.Replace(delegates)

	opts := []crud.Option{
		crud.WithNormalizer(normalize.Defaults(a.registry)),
		crud.WithLogger(log),
		crud.WithConcurrency(cfg.Bulk.Concurrency),
		crud.WithPagination(cfg.Pagination.DefaultLimit, cfg.Pagination.MaxLimit),
		crud.WithMetrics(crud.NewMetrics(reg)),
	}
	if cfg.Cache.Disabled {
		opts = append(opts, crud.WithCache(nil))
	} else {
		opts = append(opts, crud.WithCache(a.cache), crud.WithCacheTTL(time.Duration(cfg.Cache.TTL)))
	}
	a.svc = crud.New(a.registry, opts...)
	return a, nil
}

func (a *app) open() error {
	db := a.cfg.Database
	drv, err := sql.Open(db.DriverName(), db.DSN, sql.Pool{
		MaxOpenConns:    db.Pool.MaxOpenConns,
		MaxIdleConns:    db.Pool.MaxIdleConns,
		ConnMaxLifetime: time.Duration(db.Pool.ConnMaxLifetime),
		ConnMaxIdleTime: time.Duration(db.Pool.ConnMaxIdleTime),
	})
	if err != nil {
		return fmt.Errorf("open %s database: %w", db.Dialect, err)
	}
	if err := drv.DB().Ping(); err != nil {
		drv.Close()
		return fmt.Errorf("connect %s database: %w", db.Dialect, err)
	}
	a.db = drv
	a.stats = sql.NewStatsDriver(drv,
		sql.WithSlowThreshold(time.Duration(db.SlowQueryThreshold)),
		sql.WithSlowQueryLog(a.log),
	)
	a.drv = a.stats
	if db.Debug {
		a.drv = sql.NewDebugDriver(a.stats, a.log)
	}
	return nil
}

// delegates returns a delegate per model of cfg. Delegates of models whose
// declaration is unchanged are kept, so memory tables survive reloads.
func (a *app) delegates(ctx context.Context, cfg *config.Config) (map[string]dynacrud.Delegate, error) {
	if a.db != nil && cfg.Database.Migrate {
		if err := a.migrate(ctx, cfg.Models); err != nil {
			return nil, err
		}
	}
	out := make(map[string]dynacrud.Delegate, len(cfg.Models))
	for _, m := range cfg.Models {
		if d, err := a.registry.Resolve(m.Name); err == nil {
			if desc, ok := d.(dynacrud.Described); ok && reflect.DeepEqual(desc.Schema(), m) {
				out[m.Name] = d
				continue
			}
		}
		if a.db == nil {
			out[m.Name] = memory.NewTable(m, memory.WithResolver(a.registry))
			continue
		}
		out[m.Name] = sql.NewTable(a.drv, m, sql.WithResolver(a.registry))
	}
	return out, nil
}

// migrate creates the missing tables of models.
func (a *app) migrate(ctx context.Context, models []*schema.Model) error {
	m, err := sqlschema.NewMigrate(a.db.DB(), a.db.Dialect(), sqlschema.WithLogger(a.log))
	if err != nil {
		return err
	}
	return m.Create(ctx, sqlschema.Tables(models)...)
}

// reload applies a new configuration to the running app. The backend
// connection, bulk concurrency and pagination bounds are fixed at start.
func (a *app) reload(ctx context.Context, cfg *config.Config) error {
	if old, db := a.cfg.Database, cfg.Database; db.Dialect != old.Dialect || db.DriverName() != old.DriverName() ||
		db.DSN != old.DSN || db.Pool != old.Pool {
		a.log.WarnContext(ctx, "database settings changed; restart to apply them")
		cfg.Database = old
	}
	if a.stats != nil && cfg.Database.SlowQueryThreshold > 0 {
		a.stats.SetSlowThreshold(time.Duration(cfg.Database.SlowQueryThreshold))
	}
	delegates, err := a.delegates(ctx, cfg)
	if err != nil {
		return err
	}
	a.registry.Replace(delegates)
	if err := a.cache.Clear(ctx); err != nil {
		return err
	}
	a.cfg = cfg
	a.log.InfoContext(ctx, "models reloaded", slog.Int("models", len(delegates)))
	return nil
}

// Close releases the database connection.
func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	if a.stats != nil {
		a.log.Info("sql statistics", slog.String("stats", a.stats.QueryStats().Stats().String()))
	}
	return a.db.Close()
}
