// Package graphql assembles the GraphQL schema from the query modules.
package graphql

import (
	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-depscan/graphql/modules/dashboard"
	"github.com/ortelius/pdvd-depscan/graphql/modules/impact"
	"github.com/ortelius/pdvd-depscan/graphql/modules/scans"
)

// Service is the union of what the modules need.
type Service interface {
	scans.Service
	impact.Service
	dashboard.Service
}

// CreateSchema builds the root query and mutation types.
func CreateSchema(svc Service) (graphql.Schema, error) {
	queryFields := graphql.Fields{}
	for _, fields := range []graphql.Fields{
		scans.GetQueryFields(svc),
		impact.GetQueryFields(svc),
		dashboard.GetQueryFields(svc),
	} {
		for name, field := range fields {
			queryFields[name] = field
		}
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queryFields,
		}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: scans.GetMutationFields(svc),
		}),
	})
}
