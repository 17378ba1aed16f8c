package crud

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/dynacrud"
)

// Page is a window of records with its pagination metadata.
type Page struct {
	Data []dynacrud.Record
	Meta Meta
}

// Meta describes the position of a page within the full result set.
type Meta struct {
	Total       int
	Page        int
	Limit       int
	TotalPages  int
	HasNextPage bool
	HasPrevPage bool
}

// NewMeta derives the metadata of the 1-based page of the given size.
func NewMeta(total, page, limit int) Meta {
	m := Meta{Total: total, Page: page, Limit: limit}
	if limit > 0 {
		m.TotalPages = (total + limit - 1) / limit
	}
	m.HasNextPage = page < m.TotalPages
	m.HasPrevPage = page > 1
	return m
}

// PageQuery is the input of FindManyPaginated.
type PageQuery struct {
	Where   dynacrud.Where
	OrderBy []dynacrud.Order
	Page    int // 1-based; values below 1 select the first page.
	Limit   int // 0 selects the default limit.
	dynacrud.Projection
}

// FindByID returns the record of model with the given id, or nil when it
// does not exist. Reads without projection are served from and stored in
// the cache.
func (s *Service) FindByID(ctx context.Context, model string, id any, p dynacrud.Projection) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpFindByID, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, dynacrud.Validationf(model, "id", "is required")
	}
	p = p.Normalize()
	cacheable := s.cache != nil && p.IsZero()
	if cacheable {
		if rec := s.cached(ctx, model, id); rec != nil {
			return rec, nil
		}
	}
	rec, err = d.FindUnique(ctx, &dynacrud.Query{Where: byID(id), Projection: p})
	if err != nil {
		return nil, s.translate(ctx, OpFindByID, model, err)
	}
	if rec != nil && cacheable {
		s.store(ctx, model, id, rec)
	}
	return rec, nil
}

// FindMany forwards q to the delegate of model.
func (s *Service) FindMany(ctx context.Context, model string, q *dynacrud.Query) (recs []dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpFindMany, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	recs, err = d.FindMany(ctx, normalized(q))
	if err != nil {
		return nil, s.translate(ctx, OpFindMany, model, err)
	}
	return nonNil(recs), nil
}

// FindFirst returns the first record of q, or nil.
func (s *Service) FindFirst(ctx context.Context, model string, q *dynacrud.Query) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpFindFirst, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	rec, err = d.FindFirst(ctx, normalized(q))
	if err != nil {
		return nil, s.translate(ctx, OpFindFirst, model, err)
	}
	return rec, nil
}

// FindManyWithMeta runs q together with a count of its where clause. A
// zero q.Take selects the default limit.
func (s *Service) FindManyWithMeta(ctx context.Context, model string, q *dynacrud.Query) (page *Page, err error) {
	defer func(start time.Time) { s.observe(OpFindManyWithMeta, model, start, err) }(time.Now())
	query := *normalized(q)
	if query.Take <= 0 {
		query.Take = s.defaultLimit
	}
	if query.Skip < 0 {
		query.Skip = 0
	}
	return s.page(ctx, OpFindManyWithMeta, model, &query)
}

// FindManyPaginated is the page/limit form of FindManyWithMeta. Limit is
// clamped to the configured maximum.
func (s *Service) FindManyPaginated(ctx context.Context, model string, q PageQuery) (page *Page, err error) {
	defer func(start time.Time) { s.observe(OpFindManyPaginated, model, start, err) }(time.Now())
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}
	n := max(q.Page, 1)
	return s.page(ctx, OpFindManyPaginated, model, &dynacrud.Query{
		Where:      q.Where,
		OrderBy:    q.OrderBy,
		Skip:       (n - 1) * limit,
		Take:       limit,
		Projection: q.Projection.Normalize(),
	})
}

// page issues the find and the count of q concurrently.
func (s *Service) page(ctx context.Context, op, model string, q *dynacrud.Query) (*Page, error) {
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	var (
		recs  []dynacrud.Record
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		recs, err = d.FindMany(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		total, err = d.Count(gctx, q.Where)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.translate(ctx, op, model, err)
	}
	return &Page{
		Data: nonNil(recs),
		Meta: NewMeta(total, q.Skip/q.Take+1, q.Take),
	}, nil
}

// Count returns the number of records of model matching where.
func (s *Service) Count(ctx context.Context, model string, where dynacrud.Where) (n int, err error) {
	defer func(start time.Time) { s.observe(OpCount, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return 0, err
	}
	n, err = d.Count(ctx, where)
	if err != nil {
		return 0, s.translate(ctx, OpCount, model, err)
	}
	return n, nil
}

// Exists reports whether a record of model matches where.
func (s *Service) Exists(ctx context.Context, model string, where dynacrud.Where) (ok bool, err error) {
	defer func(start time.Time) { s.observe(OpExists, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return false, err
	}
	rec, err := d.FindFirst(ctx, &dynacrud.Query{Where: where})
	if err != nil {
		return false, s.translate(ctx, OpExists, model, err)
	}
	return rec != nil, nil
}

func byID(id any) dynacrud.Where {
	return dynacrud.Where{dynacrud.DefaultIDField: id}
}

// normalized returns a copy of q whose projection prefers include over select.
func normalized(q *dynacrud.Query) *dynacrud.Query {
	if q == nil {
		return &dynacrud.Query{}
	}
	c := *q
	c.Projection = c.Projection.Normalize()
	return &c
}

func nonNil(recs []dynacrud.Record) []dynacrud.Record {
	if recs == nil {
		return []dynacrud.Record{}
	}
	return recs
}
