// Package scans defines the GraphQL types and fields for running scans and reading reports.
package scans

import (
	"sort"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/pdvd-depscan/model"
)

// SeverityEnum enumerates severity levels.
var SeverityEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "Severity",
	Values: graphql.EnumValueConfigMap{
		"CRITICAL": &graphql.EnumValueConfig{Value: model.SeverityCritical},
		"HIGH":     &graphql.EnumValueConfig{Value: model.SeverityHigh},
		"MEDIUM":   &graphql.EnumValueConfig{Value: model.SeverityMedium},
		"LOW":      &graphql.EnumValueConfig{Value: model.SeverityLow},
		"INFO":     &graphql.EnumValueConfig{Value: model.SeverityInfo},
		"UNKNOWN":  &graphql.EnumValueConfig{Value: model.SeverityUnknown},
	},
})

// PackageType is a package identity.
var PackageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Package",
	Fields: graphql.Fields{
		"name":      &graphql.Field{Type: graphql.String},
		"ecosystem": &graphql.Field{Type: graphql.String},
		"key": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if id, ok := p.Source.(model.PackageIdentity); ok {
					return id.Key(), nil
				}
				return nil, nil
			},
		},
		"purl": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if id, ok := p.Source.(model.PackageIdentity); ok {
					return id.PURL(""), nil
				}
				return nil, nil
			},
		},
	},
})

// FindingType is one advisory applied to one package.
var FindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Finding",
	Fields: graphql.Fields{
		"advisory_id":    &graphql.Field{Type: graphql.String},
		"aliases":        &graphql.Field{Type: graphql.NewList(graphql.String)},
		"package":        &graphql.Field{Type: PackageType},
		"version":        &graphql.Field{Type: graphql.String},
		"spec":           &graphql.Field{Type: graphql.String},
		"severity":       &graphql.Field{Type: SeverityEnum},
		"cvss_score":     &graphql.Field{Type: graphql.Float},
		"confidence":     &graphql.Field{Type: graphql.Float},
		"status":         &graphql.Field{Type: graphql.String},
		"reason":         &graphql.Field{Type: graphql.String},
		"fixed_versions": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"description":    &graphql.Field{Type: graphql.String},
		"path":           &graphql.Field{Type: graphql.String},
		"direct":         &graphql.Field{Type: graphql.Boolean},
		"tier":           &graphql.Field{Type: graphql.String},
		"source":         &graphql.Field{Type: graphql.String},
	},
})

// ResolvedPackageType is one package a tier produced.
var ResolvedPackageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ResolvedPackage",
	Fields: graphql.Fields{
		"identity": &graphql.Field{Type: PackageType},
		"spec":     &graphql.Field{Type: graphql.String},
		"version": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if pkg, ok := p.Source.(model.ResolvedPackage); ok {
					return pkg.Version.Display(pkg.Spec), nil
				}
				return nil, nil
			},
		},
		"depth":  &graphql.Field{Type: graphql.Int},
		"direct": &graphql.Field{Type: graphql.Boolean},
		"tier":   &graphql.Field{Type: graphql.String},
	},
})

// TierAttemptType is one tier's outcome.
var TierAttemptType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TierAttempt",
	Fields: graphql.Fields{
		"tier":     &graphql.Field{Type: graphql.String},
		"success":  &graphql.Field{Type: graphql.Boolean},
		"skipped":  &graphql.Field{Type: graphql.Boolean},
		"error":    &graphql.Field{Type: graphql.String},
		"packages": &graphql.Field{Type: graphql.Int},
	},
})

// PackageRiskType ranks one package by its findings.
var PackageRiskType = graphql.NewObject(graphql.ObjectConfig{
	Name: "PackageRisk",
	Fields: graphql.Fields{
		"identity":      &graphql.Field{Type: PackageType},
		"version":       &graphql.Field{Type: graphql.String},
		"finding_count": &graphql.Field{Type: graphql.Int},
		"max_cvss":      &graphql.Field{Type: graphql.Float},
		"max_severity":  &graphql.Field{Type: SeverityEnum},
		"advisories":    &graphql.Field{Type: graphql.NewList(graphql.String)},
		"direct":        &graphql.Field{Type: graphql.Boolean},
	},
})

// SeverityCountType is one bucket of the severity breakdown.
var SeverityCountType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SeverityCount",
	Fields: graphql.Fields{
		"severity": &graphql.Field{Type: SeverityEnum},
		"count":    &graphql.Field{Type: graphql.Int},
	},
})

// CacheStatsType counts cache behaviour during a scan.
var CacheStatsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CacheStats",
	Fields: graphql.Fields{
		"deps_hits":        &graphql.Field{Type: graphql.Int},
		"deps_misses":      &graphql.Field{Type: graphql.Int},
		"deps_store_hits":  &graphql.Field{Type: graphql.Int},
		"vulns_hits":       &graphql.Field{Type: graphql.Int},
		"vulns_misses":     &graphql.Field{Type: graphql.Int},
		"vulns_store_hits": &graphql.Field{Type: graphql.Int},
		"subtree_hits":     &graphql.Field{Type: graphql.Int},
		"registry_calls":   &graphql.Field{Type: graphql.Int},
		"advisory_calls":   &graphql.Field{Type: graphql.Int},
		"corrupt_entries":  &graphql.Field{Type: graphql.Int},
	},
})

// ReportType is an aggregated scan report.
var ReportType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ScanReport",
	Fields: graphql.Fields{
		"id": &graphql.Field{Type: graphql.String},
		"target": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if r, ok := p.Source.(*model.ScanReport); ok {
					return r.Target.Key(), nil
				}
				return nil, nil
			},
		},
		"root": &graphql.Field{
			Type: PackageType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if r, ok := p.Source.(*model.ScanReport); ok {
					return r.Target.Root, nil
				}
				return nil, nil
			},
		},
		"tier_used":     &graphql.Field{Type: graphql.String},
		"tier_attempts": &graphql.Field{Type: graphql.NewList(TierAttemptType)},
		"packages":      &graphql.Field{Type: graphql.NewList(ResolvedPackageType)},
		"findings":      &graphql.Field{Type: graphql.NewList(FindingType)},
		"informational": &graphql.Field{Type: graphql.NewList(FindingType)},
		"risk_score":    &graphql.Field{Type: graphql.Float},
		"risk_level":    &graphql.Field{Type: SeverityEnum},
		"severity_breakdown": &graphql.Field{
			Type: graphql.NewList(SeverityCountType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if r, ok := p.Source.(*model.ScanReport); ok {
					return breakdown(r.SeverityBreakdown), nil
				}
				return nil, nil
			},
		},
		"top_risks":     &graphql.Field{Type: graphql.NewList(PackageRiskType)},
		"incomplete":    &graphql.Field{Type: graphql.Boolean},
		"source_errors": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"cache_stats":   &graphql.Field{Type: CacheStatsType},
		"started_at":    &graphql.Field{Type: graphql.DateTime},
		"finished_at":   &graphql.Field{Type: graphql.DateTime},
	},
})

type severityCount struct {
	Severity model.Severity `json:"severity"`
	Count    int            `json:"count"`
}

func breakdown(m map[model.Severity]int) []severityCount {
	out := make([]severityCount, 0, len(m))
	for sev, n := range m {
		out = append(out, severityCount{Severity: sev, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Severity.Rank() > out[j].Severity.Rank() })
	return out
}
