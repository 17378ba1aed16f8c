package graphql

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/dynacrud/crud"
)

//go:embed schema.graphql
var sdl string

// SDL returns the schema served by the executable schema.
func SDL() string { return sdl }

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})

// resolver completes one root field.
type resolver func(ctx context.Context, svc *crud.Service, f graphql.CollectedField, a args) (graphql.Marshaler, error)

// root field resolvers by object type. A nil marshaler returned for a
// non-null field is reported as an error.
var (
	queryFields = map[string]resolver{
		"findMany":          findMany,
		"findById":          findByID,
		"findManyPaginated": findManyPaginated,
		"count":             count,
		"exists":            exists,
		"aggregate":         aggregate,
		"groupBy":           groupBy,
	}
	mutationFields = map[string]resolver{
		"createOne":  createOne,
		"createMany": createMany,
		"updateOne":  updateOne,
		"updateMany": updateMany,
		"deleteOne":  deleteOne,
		"deleteMany": deleteMany,
		"upsert":     upsert,
	}
)

type executableSchema struct {
	svc *crud.Service
}

// NewExecutableSchema returns a gqlgen executable schema that serves every
// registered model of svc through the generic query and mutation fields.
func NewExecutableSchema(svc *crud.Service) graphql.ExecutableSchema {
	return &executableSchema{svc: svc}
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

func (e *executableSchema) Complexity(_ context.Context, _, _ string, childComplexity int, _ map[string]any) (int, bool) {
	return childComplexity + 1, true
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)
	var (
		object string
		fields map[string]resolver
	)
	switch oc.Operation.Operation {
	case ast.Query:
		object, fields = "Query", queryFields
	case ast.Mutation:
		object, fields = "Mutation", mutationFields
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
	return graphql.OneShot(e.execRoot(ctx, oc, object, fields))
}

// execRoot resolves the root selection set in document order. Mutation
// fields run serially; so do query fields, each already fanning out below.
func (e *executableSchema) execRoot(ctx context.Context, oc *graphql.OperationContext, object string, fields map[string]resolver) *graphql.Response {
	collected := graphql.CollectFields(oc, oc.Operation.SelectionSet, []string{object})
	out := graphql.NewFieldSet(collected)
	invalid := false
	for i, f := range collected {
		if f.Name == "__typename" {
			out.Values[i] = graphql.MarshalString(object)
			continue
		}
		fn, ok := fields[f.Name]
		if !ok {
			graphql.AddError(ctx, fmt.Errorf("field %s.%s is not supported", object, f.Name))
			out.Values[i] = graphql.Null
			continue
		}
		v := e.execField(ctx, oc, object, f, fn)
		if v == nil {
			if f.Definition != nil && f.Definition.Type.NonNull {
				invalid = true
			}
			v = graphql.Null
		}
		out.Values[i] = v
	}
	if invalid {
		return &graphql.Response{Data: []byte("null")}
	}
	var buf bytes.Buffer
	out.MarshalGQL(&buf)
	return &graphql.Response{Data: buf.Bytes()}
}

func (e *executableSchema) execField(ctx context.Context, oc *graphql.OperationContext, object string, f graphql.CollectedField, fn resolver) (ret graphql.Marshaler) {
	a := args(numbers(f.ArgumentMap(oc.Variables)).(map[string]any))
	ctx = graphql.WithFieldContext(ctx, &graphql.FieldContext{
		Object:     object,
		Field:      f,
		Args:       a,
		IsMethod:   true,
		IsResolver: true,
	})
	defer func() {
		if r := recover(); r != nil {
			graphql.AddError(ctx, oc.Recover(ctx, r))
			ret = nil
		}
	}()
	v, err := fn(ctx, e.svc, f, a)
	if err != nil {
		graphql.AddError(ctx, err)
		return nil
	}
	if v == nil && f.Definition != nil && f.Definition.Type.NonNull {
		graphql.AddError(ctx, fmt.Errorf("must not be null"))
	}
	return v
}
