// Package impact defines the GraphQL queries over the stored dependency graph.
package impact

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-depscan/graphql/modules/scans"
	"github.com/ortelius/pdvd-depscan/model"
)

// Service is what the impact fields need from the scan service.
type Service interface {
	Impact(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error)
	Transitive(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error)
}

// EntryType is one package reached from the queried package.
var EntryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ImpactEntry",
	Fields: graphql.Fields{
		"package": &graphql.Field{Type: scans.PackageType},
		"depth":   &graphql.Field{Type: graphql.Int},
		"path":    &graphql.Field{Type: graphql.String},
	},
})

func packageArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"ecosystem": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		"name":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		"maxDepth":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
	}
}

// GetQueryFields returns the impact queries to be mounted in the root schema.
func GetQueryFields(svc Service) graphql.Fields {
	return graphql.Fields{
		"impact": &graphql.Field{
			Type:        graphql.NewList(EntryType),
			Description: "Stored packages that depend on the package, nearest first",
			Args:        packageArgs(),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id, err := model.NewPackageIdentity(p.Args["name"].(string), p.Args["ecosystem"].(string))
				if err != nil {
					return nil, err
				}
				return svc.Impact(p.Context, id, p.Args["maxDepth"].(int))
			},
		},
		"dependencies": &graphql.Field{
			Type:        graphql.NewList(EntryType),
			Description: "Stored transitive dependencies of the package",
			Args:        packageArgs(),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id, err := model.NewPackageIdentity(p.Args["name"].(string), p.Args["ecosystem"].(string))
				if err != nil {
					return nil, err
				}
				return svc.Transitive(p.Context, id, p.Args["maxDepth"].(int))
			},
		},
	}
}
