package crud

import (
	"context"
	"errors"
	"time"

	"github.com/syssam/dynacrud"
)

var errNoAggregation = errors.New("model does not support aggregation")

// Aggregate computes q over the records of model. The model's delegate
// must implement dynacrud.Aggregator.
func (s *Service) Aggregate(ctx context.Context, model string, q *dynacrud.AggregateQuery) (rec dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpAggregate, model, start, err) }(time.Now())
	a, err := s.aggregator(model, OpAggregate)
	if err != nil {
		return nil, err
	}
	if q == nil || q.IsEmpty() {
		return nil, dynacrud.Validationf(model, "options", "at least one aggregate is required")
	}
	rec, err = a.Aggregate(ctx, q)
	if err != nil {
		return nil, s.translate(ctx, OpAggregate, model, err)
	}
	return rec, nil
}

// GroupBy computes q per group of records of model.
func (s *Service) GroupBy(ctx context.Context, model string, q *dynacrud.GroupByQuery) (rows []dynacrud.Record, err error) {
	defer func(start time.Time) { s.observe(OpGroupBy, model, start, err) }(time.Now())
	a, err := s.aggregator(model, OpGroupBy)
	if err != nil {
		return nil, err
	}
	if q == nil || len(q.By) == 0 {
		return nil, dynacrud.Validationf(model, "by", "at least one field is required")
	}
	rows, err = a.GroupBy(ctx, q)
	if err != nil {
		return nil, s.translate(ctx, OpGroupBy, model, err)
	}
	return nonNil(rows), nil
}

func (s *Service) aggregator(model, op string) (dynacrud.Aggregator, error) {
	d, err := s.delegate(model)
	if err != nil {
		return nil, err
	}
	a, ok := d.(dynacrud.Aggregator)
	if !ok {
		return nil, dynacrud.NewBadRequestError(op, model, errNoAggregation)
	}
	return a, nil
}
