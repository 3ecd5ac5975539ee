// Package dashboard defines the GraphQL queries for store and scan overview figures.
package dashboard

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-depscan/graphql/modules/scans"
	"github.com/ortelius/pdvd-depscan/model"
)

// Service is what the dashboard fields need from the scan service.
type Service interface {
	Stats(ctx context.Context) (model.StoreStats, error)
	Report(ctx context.Context, targetKey string) (*model.ScanReport, error)
}

// StoreStatsType counts what the persistent store holds.
var StoreStatsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "StoreStats",
	Fields: graphql.Fields{
		"packages":        &graphql.Field{Type: graphql.Int},
		"edges":           &graphql.Field{Type: graphql.Int},
		"vulnerabilities": &graphql.Field{Type: graphql.Int},
		"reports":         &graphql.Field{Type: graphql.Int},
	},
})

// GetQueryFields returns the dashboard queries to be mounted in the root schema.
func GetQueryFields(svc Service) graphql.Fields {
	return graphql.Fields{
		"storeStats": &graphql.Field{
			Type: StoreStatsType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return svc.Stats(p.Context)
			},
		},
		"cacheStats": &graphql.Field{
			Type:        scans.CacheStatsType,
			Description: "Cache behaviour recorded on the latest stored report of a target",
			Args: graphql.FieldConfigArgument{
				"target": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				report, err := svc.Report(p.Context, p.Args["target"].(string))
				if err != nil || report == nil {
					return nil, err
				}
				return report.CacheStats, nil
			},
		},
	}
}
