package graphql

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/crud"
)

func marshalRecord(rec dynacrud.Record) graphql.Marshaler {
	if rec == nil {
		return nil
	}
	return graphql.MarshalAny(map[string]any(rec))
}

func marshalRecords(recs []dynacrud.Record) graphql.Marshaler {
	out := make(graphql.Array, len(recs))
	for i, rec := range recs {
		out[i] = graphql.MarshalAny(map[string]any(rec))
	}
	return out
}

// complete completes the selection set of a result object. value returns
// the marshaler of one field.
func complete(ctx context.Context, typ string, sel ast.SelectionSet, value func(name string, sel ast.SelectionSet) graphql.Marshaler) graphql.Marshaler {
	fields := graphql.CollectFields(graphql.GetOperationContext(ctx), sel, []string{typ})
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		if f.Name == "__typename" {
			out.Values[i] = graphql.MarshalString(typ)
			continue
		}
		v := value(f.Name, f.Selections)
		if v == nil {
			v = graphql.Null
		}
		out.Values[i] = v
	}
	return out
}

func marshalPage(ctx context.Context, sel ast.SelectionSet, page *crud.Page) graphql.Marshaler {
	return complete(ctx, "PaginatedResult", sel, func(name string, sel ast.SelectionSet) graphql.Marshaler {
		switch name {
		case "data":
			return marshalRecords(page.Data)
		case "meta":
			return marshalMeta(ctx, sel, page.Meta)
		}
		return nil
	})
}

func marshalMeta(ctx context.Context, sel ast.SelectionSet, m crud.Meta) graphql.Marshaler {
	return complete(ctx, "PageMeta", sel, func(name string, _ ast.SelectionSet) graphql.Marshaler {
		switch name {
		case "total":
			return graphql.MarshalInt(m.Total)
		case "page":
			return graphql.MarshalInt(m.Page)
		case "limit":
			return graphql.MarshalInt(m.Limit)
		case "totalPages":
			return graphql.MarshalInt(m.TotalPages)
		case "hasNextPage":
			return graphql.MarshalBoolean(m.HasNextPage)
		case "hasPrevPage":
			return graphql.MarshalBoolean(m.HasPrevPage)
		}
		return nil
	})
}

func marshalBulk(ctx context.Context, sel ast.SelectionSet, res *crud.BulkResult) graphql.Marshaler {
	return complete(ctx, "BulkResult", sel, func(name string, sel ast.SelectionSet) graphql.Marshaler {
		switch name {
		case "success":
			return graphql.MarshalBoolean(res.Success)
		case "count":
			return graphql.MarshalInt(res.Count)
		case "data":
			if res.Data == nil {
				return nil
			}
			return marshalRecords(res.Data)
		case "errors":
			if len(res.Errors) == 0 {
				return nil
			}
			out := make(graphql.Array, len(res.Errors))
			for i, e := range res.Errors {
				out[i] = marshalBulkError(ctx, sel, e)
			}
			return out
		}
		return nil
	})
}

func marshalBulkError(ctx context.Context, sel ast.SelectionSet, e crud.BulkError) graphql.Marshaler {
	return complete(ctx, "BulkError", sel, func(name string, _ ast.SelectionSet) graphql.Marshaler {
		switch name {
		case "index":
			return graphql.MarshalInt(e.Index)
		case "message":
			return graphql.MarshalString(e.Err.Error())
		case "code":
			return graphql.MarshalString(dynacrud.Code(e.Err))
		}
		return nil
	})
}
