// Package scans defines the Kafka events that request scans and announce their results.
package scans

import (
	"time"

	"github.com/ortelius/pdvd-depscan/model"
)

// Event types and schema version.
const (
	EventScanRequested = "scan.requested"
	EventScanCompleted = "scan.completed"
	SchemaVersion      = "v1"
)

// ScanRequestedEvent asks a worker to scan one target.
type ScanRequestedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Request model.ScanRequest `json:"request"`

	// ReplyKey is copied onto the completion event so callers can correlate results.
	ReplyKey string `json:"reply_key,omitempty"`
}

// ScanCompletedEvent carries a finished scan.
type ScanCompletedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	RequestID string              `json:"request_id,omitempty"`
	ReplyKey  string              `json:"reply_key,omitempty"`
	Summary   model.ReportSummary `json:"summary"`

	// Report is the full report; omitted when the producer publishes summaries only.
	Report *model.ScanReport `json:"report,omitempty"`

	// Error is set when the request itself could not be scanned.
	Error string `json:"error,omitempty"`
}
