// Package dynacrud provides a model-agnostic CRUD engine core.
//
// Models are addressed by name at call time. Each name resolves through a
// Registry to a Delegate, the data-access object supplied by a storage
// backend (see dialect/memory and dialect/sql). The orchestrator in package
// crud layers normalization, caching, bulk semantics and error translation
// on top of delegates, and contrib/graphql exposes it as a small set of
// generic GraphQL operations.
package dynacrud

import (
	"context"
	"maps"
)

// DefaultIDField is the conventional unique identifier field of a record.
const DefaultIDField = "id"

// Record is one row or document of a model. The core never assumes
// anything about its shape beyond an optional "id" field.
type Record map[string]any

// ID returns the record identifier and whether it is present.
func (r Record) ID() (any, bool) {
	id, ok := r[DefaultIDField]
	return id, ok && id != nil
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// Where is an opaque filter predicate forwarded to delegates.
// See package querylanguage for the supported shape.
type Where map[string]any

// Order is a single ordering term.
type Order struct {
	Field string
	Desc  bool
}

// Projection holds the optional select/include directives of a request.
type Projection struct {
	Select  map[string]any
	Include map[string]any
}

// IsZero reports whether no projection was requested. Only such reads
// may be served from or written to the cache.
func (p Projection) IsZero() bool {
	return len(p.Select) == 0 && len(p.Include) == 0
}

// Normalize returns the projection sent to delegates: include is
// preferred over select when both are given.
func (p Projection) Normalize() Projection {
	if len(p.Include) > 0 {
		return Projection{Include: p.Include}
	}
	if len(p.Select) > 0 {
		return Projection{Select: p.Select}
	}
	return Projection{}
}

// Query is the operation envelope passed to delegate reads.
type Query struct {
	Where   Where
	OrderBy []Order
	Skip    int
	Take    int // 0 means no limit.
	Projection
}

// CreateManyOptions configures a delegate bulk insert.
type CreateManyOptions struct {
	SkipDuplicates bool
}

// Delegate is the data-access object of a single model.
//
// Lookups report a missing record as (nil, nil). Writes that violate a
// store constraint should return a *ConstraintError so the orchestrator
// can translate them.
type Delegate interface {
	FindUnique(ctx context.Context, q *Query) (Record, error)
	FindFirst(ctx context.Context, q *Query) (Record, error)
	FindMany(ctx context.Context, q *Query) ([]Record, error)
	Count(ctx context.Context, where Where) (int, error)
	Create(ctx context.Context, data Record, p Projection) (Record, error)
	Update(ctx context.Context, id any, data Record, p Projection) (Record, error)
	Delete(ctx context.Context, id any, p Projection) (Record, error)
	CreateMany(ctx context.Context, data []Record, opts CreateManyOptions) (int, error)
	UpdateMany(ctx context.Context, where Where, data Record) (int, error)
	DeleteMany(ctx context.Context, where Where) (int, error)
	Upsert(ctx context.Context, where Where, create, update Record, p Projection) (Record, error)
}

// Aggregator is implemented by delegates that support aggregation.
type Aggregator interface {
	Aggregate(ctx context.Context, q *AggregateQuery) (Record, error)
	GroupBy(ctx context.Context, q *GroupByQuery) ([]Record, error)
}

// Resolver resolves a model name to its delegate.
type Resolver interface {
	Resolve(model string) (Delegate, error)
}
