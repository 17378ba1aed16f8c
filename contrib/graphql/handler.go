package graphql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/crud"
)

// DefaultCallerHeader carries the id of the authenticated caller.
const DefaultCallerHeader = "X-User-Id"

// HandlerOption configures NewHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	log        *slog.Logger
	queryCache int
	complexity int
}

// WithLogger sets the logger of recovered panics.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(c *handlerConfig) { c.log = l }
}

// WithQueryCache sets the number of parsed documents kept in the query
// cache. Zero disables it.
func WithQueryCache(size int) HandlerOption {
	return func(c *handlerConfig) { c.queryCache = size }
}

// WithComplexityLimit rejects operations above the given complexity.
func WithComplexityLimit(n int) HandlerOption {
	return func(c *handlerConfig) { c.complexity = n }
}

// NewHandler returns the GraphQL endpoint of svc. Errors carry the
// client code of their kind in extensions.code.
func NewHandler(svc *crud.Service, opts ...HandlerOption) *handler.Server {
	cfg := handlerConfig{log: slog.New(slog.NewTextHandler(io.Discard, nil)), queryCache: 1000}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := handler.New(NewExecutableSchema(svc))
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	if cfg.queryCache > 0 {
		srv.SetQueryCache(lru.New[*ast.QueryDocument](cfg.queryCache))
		srv.Use(extension.AutomaticPersistedQuery{Cache: lru.New[string](cfg.queryCache)})
	}
	if cfg.complexity > 0 {
		srv.Use(extension.FixedComplexityLimit(cfg.complexity))
	}
	srv.SetErrorPresenter(presentError)
	srv.SetRecoverFunc(func(ctx context.Context, v any) error {
		cfg.log.ErrorContext(ctx, "graphql resolver panic", "panic", v)
		return errors.New("internal system error")
	})
	return srv
}

func presentError(ctx context.Context, err error) *gqlerror.Error {
	gqlErr := graphql.DefaultErrorPresenter(ctx, err)
	if _, ok := gqlErr.Extensions["code"]; ok {
		return gqlErr
	}
	if gqlErr.Extensions == nil {
		gqlErr.Extensions = map[string]any{}
	}
	gqlErr.Extensions["code"] = dynacrud.Code(err)
	return gqlErr
}

// CallerMiddleware attaches the caller id found in header to the request
// context. An empty header leaves the request anonymous.
func CallerMiddleware(header string, next http.Handler) http.Handler {
	if header == "" {
		header = DefaultCallerHeader
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(header); id != "" {
			r = r.WithContext(dynacrud.WithCaller(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
