// Package impact implements the REST API handlers over the stored dependency graph.
package impact

import (
	"context"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/restapi/modules/scans"
)

// Service is what the handlers need from the scan service.
type Service interface {
	Impact(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error)
	Transitive(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error)
	Stats(ctx context.Context) (model.StoreStats, error)
}

type lookup func(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error)

func handle(fn lookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := identity(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		entries, err := fn(c.UserContext(), id, c.QueryInt("max_depth", 0))
		if err != nil {
			return c.Status(scans.ErrorStatus(err)).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		if entries == nil {
			entries = []model.ImpactEntry{}
		}
		return c.JSON(fiber.Map{
			"package": id,
			"count":   len(entries),
			"entries": entries,
		})
	}
}

// identity reads /:ecosystem/<name> when routed that way and ?ecosystem=&name= otherwise. The
// wildcard keeps the slashes of npm scopes and Go module paths.
func identity(c *fiber.Ctx) (model.PackageIdentity, error) {
	ecosystem, name := c.Params("ecosystem"), c.Params("*")
	if ecosystem == "" {
		return model.NewPackageIdentity(c.Query("name"), c.Query("ecosystem"))
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return model.NewPackageIdentity(name, ecosystem)
}

// GetImpact lists the stored packages depending on ?ecosystem=&name=, nearest first.
func GetImpact(svc Service) fiber.Handler {
	return handle(svc.Impact)
}

// GetDependencies lists the stored transitive dependencies of ?ecosystem=&name=.
func GetDependencies(svc Service) fiber.Handler {
	return handle(svc.Transitive)
}

// GetStats counts what the store holds.
func GetStats(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := svc.Stats(c.UserContext())
		if err != nil {
			return c.Status(scans.ErrorStatus(err)).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.JSON(stats)
	}
}
