// Package restapi provides the main router for the REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/services"
	"github.com/ortelius/pdvd-depscan/restapi/modules/admin"
	"github.com/ortelius/pdvd-depscan/restapi/modules/impact"
	"github.com/ortelius/pdvd-depscan/restapi/modules/scans"
)

// SetupRoutes configures all REST API routes and the GraphQL endpoint. requester may be nil, in
// which case asynchronous scans answer 503.
func SetupRoutes(app *fiber.App, svc *services.ScanService, schema graphql.Schema, requester scans.Requester, logger *zap.Logger) *admin.Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := app.Group("/api/v1")

	api.Post("/graphql", GraphQLHandler(schema))

	api.Post("/scan", scans.PostScan(svc))
	api.Post("/scan/async", scans.PostScanAsync(requester, svc.Validate))
	api.Get("/reports", scans.GetReport(svc))

	api.Get("/impact", impact.GetImpact(svc))
	api.Get("/impact/:ecosystem/*", impact.GetImpact(svc))
	api.Get("/dependencies", impact.GetDependencies(svc))
	api.Get("/dependencies/:ecosystem/*", impact.GetDependencies(svc))
	api.Get("/stats", impact.GetStats(svc))

	batch := admin.NewBatch(svc, logger)
	adminGroup := api.Group("/admin")
	adminGroup.Post("/batch-scan", batch.PostBatchScan())
	adminGroup.Get("/batch-scan", batch.GetBatchStatus())

	logger.Info("API routes initialized")
	return batch
}
