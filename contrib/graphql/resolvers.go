package graphql

import (
	"context"

	"github.com/99designs/gqlgen/graphql"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/crud"
)

func findMany(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	in, err := a.input("input")
	if err != nil {
		return nil, err
	}
	q, err := in.query()
	if err != nil {
		return nil, err
	}
	recs, err := svc.FindMany(ctx, model, q)
	if err != nil {
		return nil, err
	}
	return marshalRecords(recs), nil
}

func findByID(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	in, err := a.input("input")
	if err != nil {
		return nil, err
	}
	p, err := in.projection()
	if err != nil {
		return nil, err
	}
	rec, err := svc.FindByID(ctx, model, in[dynacrud.DefaultIDField], p)
	if err != nil {
		return nil, err
	}
	return marshalRecord(rec), nil
}

func findManyPaginated(ctx context.Context, svc *crud.Service, f graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	in, err := a.input("input")
	if err != nil {
		return nil, err
	}
	var q crud.PageQuery
	if q.Where, err = in.where("where"); err != nil {
		return nil, err
	}
	if q.OrderBy, err = in.orderBy("orderBy"); err != nil {
		return nil, err
	}
	if q.Page, err = in.int("page"); err != nil {
		return nil, err
	}
	if q.Limit, err = in.int("limit"); err != nil {
		return nil, err
	}
	if q.Projection, err = in.projection(); err != nil {
		return nil, err
	}
	page, err := svc.FindManyPaginated(ctx, model, q)
	if err != nil {
		return nil, err
	}
	return marshalPage(ctx, f.Selections, page), nil
}

func count(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	where, err := a.where("where")
	if err != nil {
		return nil, err
	}
	n, err := svc.Count(ctx, model, where)
	if err != nil {
		return nil, err
	}
	return graphql.MarshalInt(n), nil
}

func exists(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	where, err := a.where("where")
	if err != nil {
		return nil, err
	}
	ok, err := svc.Exists(ctx, model, where)
	if err != nil {
		return nil, err
	}
	return graphql.MarshalBoolean(ok), nil
}

func aggregate(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("model")
	if err != nil {
		return nil, err
	}
	opts, err := a.object("options")
	if err != nil {
		return nil, err
	}
	q, err := dynacrud.ParseAggregate(opts)
	if err != nil {
		return nil, err
	}
	rec, err := svc.Aggregate(ctx, model, q)
	if err != nil {
		return nil, err
	}
	return marshalRecord(rec), nil
}

func groupBy(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("model")
	if err != nil {
		return nil, err
	}
	opts, err := a.object("options")
	if err != nil {
		return nil, err
	}
	q, err := dynacrud.ParseGroupBy(opts)
	if err != nil {
		return nil, err
	}
	rows, err := svc.GroupBy(ctx, model, q)
	if err != nil {
		return nil, err
	}
	return marshalRecords(rows), nil
}

func createOne(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	in, err := a.input("input")
	if err != nil {
		return nil, err
	}
	data, err := in.record("data")
	if err != nil {
		return nil, err
	}
	p, err := in.projection()
	if err != nil {
		return nil, err
	}
	rec, err := svc.Create(ctx, model, data, p)
	if err != nil {
		return nil, err
	}
	return marshalRecord(rec), nil
}

func createMany(ctx context.Context, svc *crud.Service, f graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	data, err := a.records("data")
	if err != nil {
		return nil, err
	}
	p, err := a.projection()
	if err != nil {
		return nil, err
	}
	res, err := svc.CreateBulk(ctx, model, data, a.bool("skipDuplicates"), p)
	if err != nil {
		return nil, err
	}
	return marshalBulk(ctx, f.Selections, res), nil
}

func updateOne(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	in, err := a.input("input")
	if err != nil {
		return nil, err
	}
	id, err := in.id()
	if err != nil {
		return nil, err
	}
	data, err := in.record("data")
	if err != nil {
		return nil, err
	}
	p, err := in.projection()
	if err != nil {
		return nil, err
	}
	rec, err := svc.Update(ctx, model, id, data, p)
	if err != nil {
		return nil, err
	}
	return marshalRecord(rec), nil
}

func updateMany(ctx context.Context, svc *crud.Service, f graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	where, err := a.where("where")
	if err != nil {
		return nil, err
	}
	data, err := a.record("data")
	if err != nil {
		return nil, err
	}
	p, err := a.projection()
	if err != nil {
		return nil, err
	}
	res, err := svc.UpdateBulk(ctx, model, where, data, p)
	if err != nil {
		return nil, err
	}
	return marshalBulk(ctx, f.Selections, res), nil
}

func deleteOne(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	in, err := a.input("input")
	if err != nil {
		return nil, err
	}
	id, err := in.id()
	if err != nil {
		return nil, err
	}
	p, err := in.projection()
	if err != nil {
		return nil, err
	}
	rec, err := svc.Delete(ctx, model, id, p)
	if err != nil {
		return nil, err
	}
	return marshalRecord(rec), nil
}

func deleteMany(ctx context.Context, svc *crud.Service, f graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	where, err := a.where("where")
	if err != nil {
		return nil, err
	}
	p, err := a.projection()
	if err != nil {
		return nil, err
	}
	res, err := svc.DeleteBulk(ctx, model, where, p)
	if err != nil {
		return nil, err
	}
	return marshalBulk(ctx, f.Selections, res), nil
}

func upsert(ctx context.Context, svc *crud.Service, _ graphql.CollectedField, a args) (graphql.Marshaler, error) {
	model, err := a.string("modelName")
	if err != nil {
		return nil, err
	}
	where, err := a.where("where")
	if err != nil {
		return nil, err
	}
	create, err := a.record("create")
	if err != nil {
		return nil, err
	}
	update, err := a.record("update")
	if err != nil {
		return nil, err
	}
	p, err := a.projection()
	if err != nil {
		return nil, err
	}
	rec, err := svc.Upsert(ctx, model, where, create, update, p)
	if err != nil {
		return nil, err
	}
	return marshalRecord(rec), nil
}

// query reads a FindManyInput.
func (a args) query() (*dynacrud.Query, error) {
	q := &dynacrud.Query{}
	var err error
	if q.Where, err = a.where("where"); err != nil {
		return nil, err
	}
	if q.OrderBy, err = a.orderBy("orderBy"); err != nil {
		return nil, err
	}
	if q.Skip, err = a.int("skip"); err != nil {
		return nil, err
	}
	if q.Take, err = a.int("take"); err != nil {
		return nil, err
	}
	if q.Projection, err = a.projection(); err != nil {
		return nil, err
	}
	return q, nil
}
