// Package admin implements the REST API handlers for batch operations.
// It provides an endpoint that scans many targets in the background and one that reports progress.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/model"
)

// MaxBatchTargets bounds one batch.
const MaxBatchTargets = 500

// Service is what the batch handlers need from the scan service.
type Service interface {
	ScanAll(ctx context.Context, reqs []model.ScanRequest, done func(*model.ScanReport)) ([]*model.ScanReport, error)
}

// BatchRequest is the body of POST /admin/batch-scan.
type BatchRequest struct {
	Targets []model.ScanRequest `json:"targets"`
}

// BatchStatusResponse reports the running or last batch.
type BatchStatusResponse struct {
	Running   bool                  `json:"running"`
	Status    string                `json:"status"`
	Total     int                   `json:"total"`
	Completed int                   `json:"completed"`
	Summaries []model.ReportSummary `json:"summaries,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Batch runs at most one batch at a time.
type Batch struct {
	svc    Service
	logger *zap.Logger

	mu     sync.Mutex
	status BatchStatusResponse
	done   chan struct{}
}

// NewBatch returns an idle batch runner.
func NewBatch(svc Service, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{svc: svc, logger: logger, status: BatchStatusResponse{Status: "idle"}}
}

// Status returns a copy of the current status.
func (b *Batch) Status() BatchStatusResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.status
	s.Summaries = append([]model.ReportSummary(nil), b.status.Summaries...)
	return s
}

// Wait blocks until the running batch, if any, finishes.
func (b *Batch) Wait() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

// PostBatchScan starts a batch in the background.
func (b *Batch) PostBatchScan() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req BatchRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}
		if len(req.Targets) == 0 || len(req.Targets) > MaxBatchTargets {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": fmt.Sprintf("targets must hold between 1 and %d entries", MaxBatchTargets),
			})
		}

		b.mu.Lock()
		if b.status.Running {
			status := b.status.Status
			b.mu.Unlock()
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "Batch already in progress",
				"status":  status,
			})
		}
		b.status = BatchStatusResponse{Running: true, Status: "processing", Total: len(req.Targets)}
		b.done = make(chan struct{})
		b.mu.Unlock()

		go b.run(req.Targets)

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"message": fmt.Sprintf("Batch started for %d targets", len(req.Targets)),
			"status":  "processing",
		})
	}
}

// GetBatchStatus returns the status of the running or last batch.
func (b *Batch) GetBatchStatus() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(b.Status())
	}
}

func (b *Batch) run(targets []model.ScanRequest) {
	start := time.Now()
	b.logger.Info("Starting batch scan", zap.Int("targets", len(targets)))

	_, err := b.svc.ScanAll(context.Background(), targets, func(r *model.ScanReport) {
		b.mu.Lock()
		b.status.Completed++
		b.status.Summaries = append(b.status.Summaries, r.Summary())
		b.status.Status = fmt.Sprintf("Scanned %d/%d", b.status.Completed, b.status.Total)
		b.mu.Unlock()
	})

	b.mu.Lock()
	b.status.Running = false
	if err != nil {
		b.status.Status = "failed"
		b.status.Error = err.Error()
	} else {
		b.status.Status = "complete"
	}
	close(b.done)
	b.mu.Unlock()

	b.logger.Info("Batch scan finished",
		zap.Int("completed", len(targets)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
}
