// Package crud implements the CRUD orchestrator: model-agnostic create,
// read, update and delete operations over the delegates of a registry.
//
// The Service runs the normalizer on write payloads, serves simple
// single-record reads from a cache, invalidates every cached record of a
// model after a write and translates delegate failures into the error
// taxonomy of package dynacrud:
//
//	svc := crud.New(registry,
//		crud.WithNormalizer(normalize.Defaults(registry)),
//		crud.WithCache(cache.NewMemory()),
//		crud.WithLogger(logger),
//	)
//	task, err := svc.Create(ctx, "Task", dynacrud.Record{"title": "x"}, dynacrud.Projection{})
package crud

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/normalize"
)

// Defaults of the service options.
const (
	DefaultConcurrency = 8
	DefaultLimit       = 10
	DefaultMaxLimit    = 100
)

// Operation names used in errors, logs and metrics.
const (
	OpCreate            = "create"
	OpCreateBulk        = "createBulk"
	OpFindByID          = "findById"
	OpFindMany          = "findMany"
	OpFindManyWithMeta  = "findManyWithMeta"
	OpFindManyPaginated = "findManyPaginated"
	OpFindFirst         = "findFirst"
	OpUpdate            = "update"
	OpUpdateBulk        = "updateBulk"
	OpDelete            = "delete"
	OpDeleteBulk        = "deleteBulk"
	OpCount             = "count"
	OpExists            = "exists"
	OpUpsert            = "upsert"
	OpAggregate         = "aggregate"
	OpGroupBy           = "groupBy"
)

// Service is the CRUD orchestrator. It is safe for concurrent use.
type Service struct {
	resolver     dynacrud.Resolver
	normalizer   *normalize.Normalizer
	cache        dynacrud.Cache
	ttl          time.Duration
	log          *slog.Logger
	metrics      *Metrics
	concurrency  int
	defaultLimit int
	maxLimit     int
}

// Option configures a Service.
type Option func(*Service)

// WithNormalizer sets the normalizer applied to create and update payloads.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Service) {
		s.normalizer = n
	}
}

// WithCache enables caching of simple single-record reads.
func WithCache(c dynacrud.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithCacheTTL sets the lifetime of cached records (default 5m).
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger of the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records operation and cache metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConcurrency bounds the delegate calls issued in parallel by the
// per-record bulk paths.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPagination sets the default page size and its upper bound.
func WithPagination(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// New returns a Service resolving delegates through r.
func New(r dynacrud.Resolver, opts ...Option) *Service {
	s := &Service{
		resolver:     r,
		ttl:          dynacrud.DefaultCacheTTL,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency:  DefaultConcurrency,
		defaultLimit: DefaultLimit,
		maxLimit:     DefaultMaxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// delegate resolves the delegate of model. Resolution failures are
// returned as is.
func (s *Service) delegate(model string) (dynacrud.Delegate, error) {
	return s.resolver.Resolve(model)
}

// normalize runs the normalizer on data. Its errors abort the operation
// untranslated.
// normalize runs the rules of model on data. Rule failures outside the
// error taxonomy, such as an owner lookup hitting a broken backend, are
// translated like delegate failures of op.
func (s *Service) normalize(ctx context.Context, op, model string, nop normalize.Op, data dynacrud.Record) error {
	return s.translate(ctx, op, model, s.normalizer.Normalize(ctx, model, nop, data))
}

// translate maps a delegate failure of op on model to the error taxonomy.
// Errors that already belong to the taxonomy pass through unchanged.
func (s *Service) translate(ctx context.Context, op, model string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case dynacrud.IsInvalidModel(err), dynacrud.IsValidationError(err), dynacrud.IsNotFound(err),
		dynacrud.IsConflict(err), dynacrud.IsBadRequest(err):
		return err
	}
	if ce, ok := dynacrud.AsConstraintError(err); ok {
		switch ce.Kind {
		case dynacrud.ConstraintUnique:
			return dynacrud.NewConflictError(model, ce.Field, err)
		case dynacrud.ConstraintNotNull:
			return dynacrud.NewValidationError(model, argument(ce.Field), err)
		}
	}
	s.log.WarnContext(ctx, "delegate operation failed",
		slog.String("operation", op),
		slog.String("model", model),
		slog.Any("error", err),
	)
	return dynacrud.NewBadRequestError(op, model, err)
}

// argument names the payload argument of a not-null violation.
func argument(field string) string {
	if field == "" {
		return "data"
	}
	return field
}

// invalidate drops every cached record of model.
func (s *Service) invalidate(ctx context.Context, model string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, dynacrud.ModelPrefix(model)); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed",
			slog.String("model", model),
			slog.Any("error", err),
		)
	}
}

// observe records the outcome of an operation.
func (s *Service) observe(op, model string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.observe(op, model, outcome(err), time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return strings.ToLower(dynacrud.Code(err))
	}
}
