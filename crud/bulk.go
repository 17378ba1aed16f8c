package crud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/normalize"
)

// BulkResult is the outcome of a bulk operation. Data is only populated
// when the caller requested a projection. Success is false exactly when
// Errors is not empty.
type BulkResult struct {
	Success bool
	Count   int
	Data    []dynacrud.Record
	Errors  []BulkError
}

// BulkError reports the failure of one item of a bulk operation.
type BulkError struct {
	Index int
	Err   error
}

// Error returns the error string.
func (e BulkError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e BulkError) Unwrap() error {
	return e.Err
}

// CreateBulk creates the given records of model.
//
// Without a projection the records are inserted by a single all-or-nothing
// delegate call. With a projection every record is created individually
// and failures are reported per index in the result; the operation is not
// atomic in that case. With skipDuplicates, records violating a unique
// constraint are skipped in both modes and reported neither as created
// nor as failed.
func (s *Service) CreateBulk(ctx context.Context, model string, data []dynacrud.Record, skipDuplicates bool, p dynacrud.Projection) (res *BulkResult, err error) {
	defer func(start time.Time) { s.observe(OpCreateBulk, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	for i, rec := range data {
		if rec == nil {
			return nil, dynacrud.Validationf(model, fmt.Sprintf("data[%d]", i), "is required")
		}
		if err := s.normalize(ctx, OpCreateBulk, model, normalize.OpCreate, rec); err != nil {
			return nil, err
		}
	}
	defer s.invalidate(ctx, model)
	p = p.Normalize()
	if p.IsZero() {
		n, err := d.CreateMany(ctx, data, dynacrud.CreateManyOptions{SkipDuplicates: skipDuplicates})
		if err != nil {
			return nil, s.translate(ctx, OpCreateBulk, model, err)
		}
		return &BulkResult{Success: true, Count: n}, nil
	}
	recs, errs := s.each(ctx, len(data), func(ctx context.Context, i int) (dynacrud.Record, error) {
		rec, err := d.Create(ctx, data[i], p)
		if ce, ok := dynacrud.AsConstraintError(err); ok && skipDuplicates && ce.Kind == dynacrud.ConstraintUnique {
			return nil, nil
		}
		return rec, err
	})
	return s.collect(ctx, OpCreateBulk, model, recs, errs), nil
}

// UpdateBulk sets data on every record of model matching where.
//
// Without a projection a single delegate bulk update is issued and only
// the count is returned. With a projection the matching records are read
// first and updated one by one, so the operation is not atomic and
// failures are reported per index.
func (s *Service) UpdateBulk(ctx context.Context, model string, where dynacrud.Where, data dynacrud.Record, p dynacrud.Projection) (res *BulkResult, err error) {
	defer func(start time.Time) { s.observe(OpUpdateBulk, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, dynacrud.Validationf(model, "data", "is required")
	}
	if err := s.normalize(ctx, OpUpdateBulk, model, normalize.OpUpdate, data); err != nil {
		return nil, err
	}
	p = p.Normalize()
	if p.IsZero() {
		n, err := d.UpdateMany(ctx, where, data)
		if err != nil {
			return nil, s.translate(ctx, OpUpdateBulk, model, err)
		}
		s.invalidate(ctx, model)
		return &BulkResult{Success: true, Count: n}, nil
	}
	matched, err := d.FindMany(ctx, &dynacrud.Query{Where: where})
	if err != nil {
		return nil, s.translate(ctx, OpUpdateBulk, model, err)
	}
	if len(matched) == 0 {
		return &BulkResult{Success: true, Data: []dynacrud.Record{}}, nil
	}
	defer s.invalidate(ctx, model)
	recs, errs := s.each(ctx, len(matched), func(ctx context.Context, i int) (dynacrud.Record, error) {
		id, ok := matched[i].ID()
		if !ok {
			return nil, dynacrud.Validationf(model, "id", "matched record has no id")
		}
		rec, err := d.Update(ctx, id, data.Clone(), p)
		if err == nil && rec == nil {
			err = dynacrud.NewNotFoundErrorWithID(model, id)
		}
		return rec, err
	})
	return s.collect(ctx, OpUpdateBulk, model, recs, errs), nil
}

// DeleteBulk removes every record of model matching where with a single
// delegate call. With a projection the matching records are read before
// the delete and returned.
func (s *Service) DeleteBulk(ctx context.Context, model string, where dynacrud.Where, p dynacrud.Projection) (res *BulkResult, err error) {
	defer func(start time.Time) { s.observe(OpDeleteBulk, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	res = &BulkResult{Success: true}
	if p = p.Normalize(); !p.IsZero() {
		recs, err := d.FindMany(ctx, &dynacrud.Query{Where: where, Projection: p})
		if err != nil {
			return nil, s.translate(ctx, OpDeleteBulk, model, err)
		}
		res.Data = nonNil(recs)
	}
	n, err := d.DeleteMany(ctx, where)
	if err != nil {
		return nil, s.translate(ctx, OpDeleteBulk, model, err)
	}
	s.invalidate(ctx, model)
	res.Count = n
	return res, nil
}

// each runs fn for the indexes [0, n) with bounded concurrency. A failing
// item never cancels the others.
func (s *Service) each(ctx context.Context, n int, fn func(context.Context, int) (dynacrud.Record, error)) ([]dynacrud.Record, []error) {
	recs := make([]dynacrud.Record, n)
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			recs[i], errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return recs, errs
}

// collect builds the result of a per-record bulk operation. Successful
// records keep their input order.
func (s *Service) collect(ctx context.Context, op, model string, recs []dynacrud.Record, errs []error) *BulkResult {
	res := &BulkResult{Data: []dynacrud.Record{}}
	for i, err := range errs {
		switch {
		case err != nil:
			res.Errors = append(res.Errors, BulkError{Index: i, Err: s.translate(ctx, op, model, err)})
		case recs[i] != nil:
			res.Data = append(res.Data, recs[i])
			res.Count++
		}
	}
	res.Success = len(res.Errors) == 0
	if !res.Success {
		s.log.WarnContext(ctx, "bulk operation partially failed",
			slog.String("operation", op),
			slog.String("model", model),
			slog.Int("succeeded", res.Count),
			slog.Int("failed", len(res.Errors)),
		)
	}
	return res
}
