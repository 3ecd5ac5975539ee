// Package api builds the Fiber application serving the REST API, GraphQL and metrics.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/graphql"
	"github.com/ortelius/pdvd-depscan/internal/metrics"
	"github.com/ortelius/pdvd-depscan/internal/services"
	"github.com/ortelius/pdvd-depscan/restapi"
	"github.com/ortelius/pdvd-depscan/restapi/modules/admin"
	"github.com/ortelius/pdvd-depscan/restapi/modules/scans"
)

// Options configures NewFiberApp.
type Options struct {
	// Metrics is served on /metrics when set.
	Metrics *metrics.Metrics
	// Requester enables POST /api/v1/scan/async.
	Requester scans.Requester
	// AccessLog enables the request logger middleware.
	AccessLog bool
	Logger    *zap.Logger
}

// App is the configured Fiber app and the batch runner behind its admin routes.
type App struct {
	*fiber.App
	Batch *admin.Batch
}

// NewFiberApp creates and configures a Fiber app with REST and GraphQL routes
func NewFiberApp(svc *services.ScanService, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	schema, err := graphql.CreateSchema(svc)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      "pdvd-depscan API v1.0",
		BodyLimit:    10 * 1024 * 1024,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
	})

	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Requested-With, X-Reply-Key",
		AllowMethods: "GET, POST, HEAD, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("graphql_op", "-")
		return c.Next()
	})
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${latency} ${method} ${path} ${locals:graphql_op}\n",
		}))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	batch := restapi.SetupRoutes(app, svc, schema, opts.Requester, opts.Logger)
	return &App{App: app, Batch: batch}, nil
}
