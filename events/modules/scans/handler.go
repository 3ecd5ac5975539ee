package scans

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/model"
)

// Scanner runs one scan.
type Scanner interface {
	Scan(ctx context.Context, req model.ScanRequest) (*model.ScanReport, error)
}

// Publisher announces finished scans.
type Publisher interface {
	PublishScanCompleted(ctx context.Context, event ScanRequestedEvent, report *model.ScanReport, scanErr error) error
}

// HandleScanRequested processes one scan request message. A request that cannot be decoded is
// returned as an error and not acknowledged downstream; a request that decodes but fails to scan
// is still published, carrying the error.
func HandleScanRequested(ctx context.Context, msg []byte, scanner Scanner, publisher Publisher, logger *zap.Logger) error {
	var event ScanRequestedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal ScanRequestedEvent: %w", err)
	}
	if event.EventType != "" && event.EventType != EventScanRequested {
		return fmt.Errorf("unexpected event type %q", event.EventType)
	}

	logger.Info("Processing scan request",
		zap.String("event_id", event.EventID),
		zap.String("package", event.Request.Package),
		zap.String("purl", event.Request.PURL))

	report, scanErr := scanner.Scan(ctx, event.Request)
	if scanErr != nil {
		logger.Warn("Scan request failed", zap.String("event_id", event.EventID), zap.Error(scanErr))
	}

	if err := publisher.PublishScanCompleted(ctx, event, report, scanErr); err != nil {
		return fmt.Errorf("publish result for %s: %w", event.EventID, err)
	}

	if report != nil {
		logger.Info("Scan request completed",
			zap.String("event_id", event.EventID),
			zap.String("report_id", report.ID),
			zap.Int("findings", len(report.Findings)))
	}
	return nil
}
