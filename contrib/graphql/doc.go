// Package graphql serves a crud.Service over GraphQL using gqlgen.
//
// The schema is fixed and model agnostic: every operation takes the model
// name as an argument and records, filters, projections and aggregation
// options travel as values of the JSON scalar.
//
//	query {
//	  findMany(modelName: "Task", input: {where: {done: false}, take: 10})
//	  count(modelName: "Task", where: {userId: "u1"})
//	}
//
//	mutation {
//	  createOne(modelName: "Task", input: {data: {title: "write docs"}})
//	  updateMany(modelName: "Task", where: {done: false}, data: {done: true}) {
//	    success
//	    count
//	  }
//	}
//
// # Usage
//
//	svc := crud.New(registry, crud.WithCache(cache.NewMemory()))
//	srv := graphql.NewHandler(svc, graphql.WithLogger(logger))
//	http.Handle("/graphql", graphql.CallerMiddleware("", srv))
//
// Resolver errors are presented with the client code of their kind in
// extensions.code (BAD_USER_INPUT, NOT_FOUND, CONFLICT, BAD_REQUEST or
// INTERNAL_SERVER_ERROR). Introspection queries are not served; SDL
// returns the schema for tooling.
package graphql
