// Package kafka runs the scan worker: it consumes scan requests and publishes their reports.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/events/modules/scans"
	"github.com/ortelius/pdvd-depscan/internal/config"
	"github.com/ortelius/pdvd-depscan/util"
)

const connectAttempts = 3

// MessageReader is the part of *kafka.Reader the worker uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Credentials returns the SASL/PLAIN credentials from KAFKA_API_KEY and KAFKA_API_SECRET.
func Credentials() (string, string) {
	return util.GetEnvDefault("KAFKA_API_KEY", ""), util.GetEnvDefault("KAFKA_API_SECRET", "")
}

// NewDialer configures SASL/TLS when credentials are provided and a plain dialer otherwise.
func NewDialer(username, password string) *kafka.Dialer {
	if username != "" && password != "" {
		return &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: plain.Mechanism{Username: username, Password: password},
			TLS:           &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
}

// NewTransport is NewDialer for writers.
func NewTransport(username, password string) *kafka.Transport {
	if username == "" || password == "" {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{Username: username, Password: password},
		TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// RunEventProcessor consumes cfg.RequestTopic, scans every request and publishes the result to
// cfg.CompletedTopic. It blocks until ctx is cancelled.
func RunEventProcessor(ctx context.Context, cfg config.Kafka, scanner scans.Scanner, logger *zap.Logger) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	username, password := Credentials()
	dialer := NewDialer(username, password)

	var err error
	for i := 1; i <= connectAttempts; i++ {
		logger.Info("Kafka connection attempt", zap.Int("attempt", i), zap.Int("of", connectAttempts))
		var conn *kafka.Conn
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < connectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("connect to kafka %s: %w", cfg.Brokers[0], err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.RequestTopic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})
	producer := scans.NewScanProducer(cfg.Brokers, cfg.CompletedTopic, NewTransport(username, password))
	defer producer.Close()

	logger.Info("Kafka event processor started",
		zap.String("topic", cfg.RequestTopic),
		zap.String("group", cfg.GroupID))
	return Consume(ctx, reader, scanner, producer, logger)
}

// Consume reads messages until ctx is cancelled or the reader fails for good, handing each to
// scans.HandleScanRequested. It closes reader on return.
func Consume(ctx context.Context, reader MessageReader, scanner scans.Scanner, publisher scans.Publisher, logger *zap.Logger) error {
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Warn("Kafka read failed", zap.Error(err))
			continue
		}
		if err := scans.HandleScanRequested(ctx, msg.Value, scanner, publisher, logger); err != nil {
			logger.Error("Failed to handle scan request",
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.Error(err))
		}
	}
}
