package scans

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-depscan/model"
)

// Service is what the scan fields need from the scan service.
type Service interface {
	Scan(ctx context.Context, req model.ScanRequest) (*model.ScanReport, error)
	Report(ctx context.Context, targetKey string) (*model.ScanReport, error)
}

// GetQueryFields returns the report queries to be mounted in the root schema.
func GetQueryFields(svc Service) graphql.Fields {
	return graphql.Fields{
		"report": &graphql.Field{
			Type:        ReportType,
			Description: "Latest stored report for a target key such as pypi:django@==1.11",
			Args: graphql.FieldConfigArgument{
				"target": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				report, err := svc.Report(p.Context, p.Args["target"].(string))
				if err != nil || report == nil {
					return nil, err
				}
				return report, nil
			},
		},
	}
}

// GetMutationFields returns the scan mutation.
func GetMutationFields(svc Service) graphql.Fields {
	return graphql.Fields{
		"scan": &graphql.Field{
			Type: ReportType,
			Args: graphql.FieldConfigArgument{
				"package":      &graphql.ArgumentConfig{Type: graphql.String},
				"ecosystem":    &graphql.ArgumentConfig{Type: graphql.String},
				"version":      &graphql.ArgumentConfig{Type: graphql.String},
				"purl":         &graphql.ArgumentConfig{Type: graphql.String},
				"repo_url":     &graphql.ArgumentConfig{Type: graphql.String},
				"sbom_url":     &graphql.ArgumentConfig{Type: graphql.String},
				"branch":       &graphql.ArgumentConfig{Type: graphql.String},
				"dependencies": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return svc.Scan(p.Context, requestFromArgs(p.Args))
			},
		},
	}
}

func requestFromArgs(args map[string]interface{}) model.ScanRequest {
	str := func(key string) string {
		if v, ok := args[key].(string); ok {
			return v
		}
		return ""
	}
	req := model.ScanRequest{
		Package:   str("package"),
		Ecosystem: str("ecosystem"),
		Version:   str("version"),
		PURL:      str("purl"),
		RepoURL:   str("repo_url"),
		SBOMURL:   str("sbom_url"),
		Branch:    str("branch"),
	}
	if deps, ok := args["dependencies"].([]interface{}); ok {
		for _, d := range deps {
			req.Dependencies = append(req.Dependencies, fmt.Sprint(d))
		}
	}
	return req
}
