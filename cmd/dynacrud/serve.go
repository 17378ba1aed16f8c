package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/syssam/dynacrud/config"
	"github.com/syssam/dynacrud/contrib/graphql"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var (
		watch          bool
		withPlayground bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GraphQL API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, serveOptions{
				configPath: opts.configPath,
				watch:      watch,
				playground: withPlayground,
			})
		},
	}
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "listen address (overrides the configuration)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload models when the configuration file changes")
	cmd.Flags().BoolVar(&withPlayground, "playground", true, "serve the GraphQL playground at /")
	return cmd
}

type serveOptions struct {
	configPath string
	watch      bool
	playground bool
	// ready receives the bound address once the server accepts connections.
	ready func(net.Addr)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger, opts serveOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a, err := newApp(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.watch && opts.configPath != "" {
		go func() {
			err := config.Watch(ctx, opts.configPath, func(next *config.Config) {
				if err := a.reload(ctx, next); err != nil {
					log.ErrorContext(ctx, "apply configuration", slog.Any("error", err))
				}
			}, config.WithWatchLogger(log))
			if err != nil {
				log.ErrorContext(ctx, "watch configuration", slog.Any("error", err))
			}
		}()
	}

	srv := &http.Server{
		Handler:           routes(a, reg, log, opts.playground),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "serving",
		slog.String("addr", ln.Addr().String()),
		slog.String("dialect", cfg.Database.Dialect),
		slog.Int("models", len(cfg.Models)),
	)
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}

func routes(a *app, reg *prometheus.Registry, log *slog.Logger, withPlayground bool) http.Handler {
	mux := http.NewServeMux()
	api := graphql.NewHandler(a.svc, graphql.WithLogger(log))
	mux.Handle("/graphql", graphql.CallerMiddleware(a.cfg.CallerHeader, api))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.db != nil {
			if err := a.db.DB().PingContext(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if withPlayground {
		mux.Handle("/", playground.Handler("dynacrud", "/graphql"))
	}
	return mux
}
