package scans

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ortelius/pdvd-depscan/model"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ScanProducer publishes scan events to Kafka.
type ScanProducer struct {
	Writer MessageWriter
	// FullReports includes the whole report on completion events instead of the summary only.
	FullReports bool
}

// NewScanProducer initializes a Kafka writer for one topic.
func NewScanProducer(brokers []string, topic string, transport *kafka.Transport) *ScanProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	if transport != nil {
		w.Transport = transport
	}
	return &ScanProducer{Writer: w}
}

// PublishScanRequested sends a scan request and returns its event id.
func (p *ScanProducer) PublishScanRequested(ctx context.Context, req model.ScanRequest, replyKey string) (string, error) {
	event := ScanRequestedEvent{
		EventType:     EventScanRequested,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Request:       req,
		ReplyKey:      replyKey,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	key := req.PURL
	if key == "" {
		key = req.Ecosystem + ":" + req.Package
	}
	return event.EventID, p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// PublishScanCompleted implements Publisher.
func (p *ScanProducer) PublishScanCompleted(ctx context.Context, request ScanRequestedEvent, report *model.ScanReport, scanErr error) error {
	event := ScanCompletedEvent{
		EventType:     EventScanCompleted,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		RequestID:     request.EventID,
		ReplyKey:      request.ReplyKey,
	}
	key := request.EventID
	if report != nil {
		event.Summary = report.Summary()
		key = report.Target.Key()
		if p.FullReports {
			event.Report = report
		}
	}
	if scanErr != nil {
		event.Error = scanErr.Error()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// Close cleans up the Kafka writer.
func (p *ScanProducer) Close() error {
	return p.Writer.Close()
}
