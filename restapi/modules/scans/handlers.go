// Package scans implements the REST API handlers for running scans and reading reports.
package scans

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-depscan/internal/engine"
	"github.com/ortelius/pdvd-depscan/model"
)

// Service is what the handlers need from the scan service.
type Service interface {
	Scan(ctx context.Context, req model.ScanRequest) (*model.ScanReport, error)
	Report(ctx context.Context, targetKey string) (*model.ScanReport, error)
}

// Requester queues a scan for the Kafka worker.
type Requester interface {
	PublishScanRequested(ctx context.Context, req model.ScanRequest, replyKey string) (string, error)
}

// ErrorStatus maps service errors onto HTTP statuses.
func ErrorStatus(err error) int {
	switch {
	case model.IsParseError(err):
		return fiber.StatusBadRequest
	case errors.Is(err, engine.ErrNoStore):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// PostScan runs a scan and returns its report. A report is returned even when it is incomplete;
// only an unusable request fails.
func PostScan(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.ScanRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}

		report, err := svc.Scan(c.UserContext(), req)
		if err != nil {
			return c.Status(ErrorStatus(err)).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.JSON(report)
	}
}

// PostScanAsync queues a scan request and answers 202 with its event id.
func PostScanAsync(requester Requester, validate func(model.ScanRequest) (model.ScanTarget, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if requester == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"message": "Asynchronous scans are not enabled",
			})
		}
		var req model.ScanRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}
		if _, err := validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		id, err := requester.PublishScanRequested(c.UserContext(), req, c.Get("X-Reply-Key"))
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false,
				"message": "Failed to queue scan: " + err.Error(),
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success":  true,
			"event_id": id,
		})
	}
}

// GetReport returns the latest stored report for ?target=<key>.
func GetReport(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		target := c.Query("target")
		if target == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "target is required",
			})
		}

		report, err := svc.Report(c.UserContext(), target)
		if err != nil {
			return c.Status(ErrorStatus(err)).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		if report == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "No report for " + target,
			})
		}
		return c.JSON(report)
	}
}
