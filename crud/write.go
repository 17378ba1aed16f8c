package crud

import (
	"context"
	"time"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/normalize"
)

// Create normalizes data, creates a record of model and returns it.
func (s *Service) Create(ctx context.Context, model string, data dynacrud.Record, p dynacrud.Projection) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpCreate, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, dynacrud.Validationf(model, "data", "is required")
	}
	if err := s.normalize(ctx, OpCreate, model, normalize.OpCreate, data); err != nil {
		return nil, err
	}
	rec, err = d.Create(ctx, data, p.Normalize())
	if err != nil {
		return nil, s.translate(ctx, OpCreate, model, err)
	}
	s.invalidate(ctx, model)
	return rec, nil
}

// Update sets data on the record of model with the given id. A missing
// record fails with a *dynacrud.NotFoundError before the delegate update
// is attempted.
func (s *Service) Update(ctx context.Context, model string, id any, data dynacrud.Record, p dynacrud.Projection) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpUpdate, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, dynacrud.Validationf(model, "id", "is required")
	}
	if data == nil {
		return nil, dynacrud.Validationf(model, "data", "is required")
	}
	if err := s.normalize(ctx, OpUpdate, model, normalize.OpUpdate, data); err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, OpUpdate, model, d, id); err != nil {
		return nil, err
	}
	rec, err = d.Update(ctx, id, data, p.Normalize())
	if err != nil {
		return nil, s.translate(ctx, OpUpdate, model, err)
	}
	s.invalidate(ctx, model)
	if rec == nil {
		return nil, dynacrud.NewNotFoundErrorWithID(model, id)
	}
	return rec, nil
}

// Delete removes the record of model with the given id and returns it. A
// missing record fails with a *dynacrud.NotFoundError before the delegate
// delete is attempted.
func (s *Service) Delete(ctx context.Context, model string, id any, p dynacrud.Projection) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpDelete, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, dynacrud.Validationf(model, "id", "is required")
	}
	if err := s.mustExist(ctx, OpDelete, model, d, id); err != nil {
		return nil, err
	}
	rec, err = d.Delete(ctx, id, p.Normalize())
	if err != nil {
		return nil, s.translate(ctx, OpDelete, model, err)
	}
	s.invalidate(ctx, model)
	if rec == nil {
		return nil, dynacrud.NewNotFoundErrorWithID(model, id)
	}
	return rec, nil
}

// Upsert updates the first record of model matching where, or creates
// one. The model cache is invalidated whatever the outcome.
func (s *Service) Upsert(ctx context.Context, model string, where dynacrud.Where, create, update dynacrud.Record, p dynacrud.Projection) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpUpsert, model, start, err) }(time.Now())
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	if len(where) == 0 {
		return nil, dynacrud.Validationf(model, "where", "is required")
	}
	if create == nil {
		create = dynacrud.Record{}
	}
	if update == nil {
		update = dynacrud.Record{}
	}
	if err := s.normalize(ctx, OpUpsert, model, normalize.OpCreate, create); err != nil {
		return nil, err
	}
	if err := s.normalize(ctx, OpUpsert, model, normalize.OpUpdate, update); err != nil {
		return nil, err
	}
	defer s.invalidate(ctx, model)
	rec, err = d.Upsert(ctx, where, create, update, p.Normalize())
	if err != nil {
		return nil, s.translate(ctx, OpUpsert, model, err)
	}
	return rec, nil
}

// mustExist checks that the record with the given id exists.
func (s *Service) mustExist(ctx context.Context, op, model string, d dynacrud.Delegate, id any) error {
	rec, err := d.FindUnique(ctx, &dynacrud.Query{Where: byID(id), Projection: dynacrud.Projection{
		Select: map[string]any{dynacrud.DefaultIDField: true},
	}})
	if err != nil {
		return s.translate(ctx, op, model, err)
	}
	if rec == nil {
		return dynacrud.NewNotFoundErrorWithID(model, id)
	}
	return nil
}
