package scans_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/events/modules/scans"
	"github.com/ortelius/pdvd-depscan/model"
)

type captureWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

type scannerFunc func(ctx context.Context, req model.ScanRequest) (*model.ScanReport, error)

func (f scannerFunc) Scan(ctx context.Context, req model.ScanRequest) (*model.ScanReport, error) {
	return f(ctx, req)
}

func TestRequestRoundTripThroughHandler(t *testing.T) {
	requests := &captureWriter{}
	producer := &scans.ScanProducer{Writer: requests}

	id, err := producer.PublishScanRequested(context.Background(), model.ScanRequest{Package: "django", Ecosystem: "pypi", Version: "==3.2.1"}, "caller-1")
	require.NoError(t, err)
	require.Len(t, requests.messages, 1)
	assert.Equal(t, "pypi:django", string(requests.messages[0].Key))

	completed := &captureWriter{}
	publisher := &scans.ScanProducer{Writer: completed}
	scanner := scannerFunc(func(_ context.Context, req model.ScanRequest) (*model.ScanReport, error) {
		target, err := req.Target()
		require.NoError(t, err)
		return &model.ScanReport{
			ID:        "r-1",
			Target:    target,
			TierUsed:  model.TierRecursiveResolution,
			Findings:  []model.Finding{{AdvisoryID: "GHSA-1"}, {AdvisoryID: "GHSA-2"}},
			RiskScore: 8.75,
			RiskLevel: model.SeverityHigh,
		}, nil
	})

	err = scans.HandleScanRequested(context.Background(), requests.messages[0].Value, scanner, publisher, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, completed.messages, 1)

	var event scans.ScanCompletedEvent
	require.NoError(t, json.Unmarshal(completed.messages[0].Value, &event))
	assert.Equal(t, scans.EventScanCompleted, event.EventType)
	assert.Equal(t, id, event.RequestID)
	assert.Equal(t, "caller-1", event.ReplyKey)
	assert.Equal(t, "r-1", event.Summary.ReportID)
	assert.Equal(t, "pypi:django@==3.2.1", event.Summary.Target)
	assert.Equal(t, 2, event.Summary.Findings)
	assert.Nil(t, event.Report)
	assert.Empty(t, event.Error)

	require.NoError(t, publisher.Close())
	assert.True(t, completed.closed)
}

func TestHandlerPublishesScanErrors(t *testing.T) {
	completed := &captureWriter{}
	publisher := &scans.ScanProducer{Writer: completed, FullReports: true}
	scanner := scannerFunc(func(context.Context, model.ScanRequest) (*model.ScanReport, error) {
		return nil, errors.New("ecosystem is required")
	})
	msg, err := json.Marshal(scans.ScanRequestedEvent{EventType: scans.EventScanRequested, EventID: "e-1"})
	require.NoError(t, err)

	require.NoError(t, scans.HandleScanRequested(context.Background(), msg, scanner, publisher, zap.NewNop()))

	var event scans.ScanCompletedEvent
	require.NoError(t, json.Unmarshal(completed.messages[0].Value, &event))
	assert.Equal(t, "e-1", event.RequestID)
	assert.Equal(t, "ecosystem is required", event.Error)
	assert.Equal(t, "e-1", string(completed.messages[0].Key))
}

func TestHandlerRejectsMalformedMessages(t *testing.T) {
	publisher := &scans.ScanProducer{Writer: &captureWriter{}}
	scanner := scannerFunc(func(context.Context, model.ScanRequest) (*model.ScanReport, error) {
		t.Fatal("scanner must not be called")
		return nil, nil
	})

	assert.Error(t, scans.HandleScanRequested(context.Background(), []byte("{"), scanner, publisher, zap.NewNop()))
	assert.Error(t, scans.HandleScanRequested(context.Background(), []byte(`{"event_type":"release.sbom.created"}`), scanner, publisher, zap.NewNop()))
}
