// Package services provides the scan service shared by the REST API, GraphQL and the Kafka worker.
package services

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/events/modules/scans"
	"github.com/ortelius/pdvd-depscan/internal/engine"
	"github.com/ortelius/pdvd-depscan/model"
)

// ScanService validates scan requests and runs them on an engine.
type ScanService struct {
	Engine   *engine.Engine
	Logger   *zap.Logger
	validate *validator.Validate
}

// NewScanService wraps eng.
func NewScanService(eng *engine.Engine, logger *zap.Logger) *ScanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanService{Engine: eng, Logger: logger, validate: validator.New()}
}

// Validate checks the request's struct tags and converts it to a target.
func (s *ScanService) Validate(req model.ScanRequest) (model.ScanTarget, error) {
	if err := s.validate.Struct(req); err != nil {
		return model.ScanTarget{}, &model.ParseError{Kind: "request", Input: req.Package + req.PURL, Reason: err.Error()}
	}
	return req.Target()
}

// Scan implements scans.Scanner.
func (s *ScanService) Scan(ctx context.Context, req model.ScanRequest) (*model.ScanReport, error) {
	target, err := s.Validate(req)
	if err != nil {
		return nil, err
	}
	report, err := s.Engine.Scan(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", target.Key(), err)
	}
	return report, nil
}

// ScanAll validates every request before scanning any of them.
func (s *ScanService) ScanAll(ctx context.Context, reqs []model.ScanRequest, done func(*model.ScanReport)) ([]*model.ScanReport, error) {
	targets := make([]model.ScanTarget, 0, len(reqs))
	for i, req := range reqs {
		target, err := s.Validate(req)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		targets = append(targets, target)
	}
	return s.Engine.ScanAll(ctx, targets, done)
}

// Impact lists the stored packages that depend on id.
func (s *ScanService) Impact(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error) {
	return s.Engine.Impact(ctx, id, maxDepth)
}

// Transitive lists the stored dependencies of id.
func (s *ScanService) Transitive(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error) {
	return s.Engine.Transitive(ctx, id, maxDepth)
}

// Stats counts what the store holds.
func (s *ScanService) Stats(ctx context.Context) (model.StoreStats, error) {
	return s.Engine.Stats(ctx)
}

// Report loads the latest stored report for a target key.
func (s *ScanService) Report(ctx context.Context, targetKey string) (*model.ScanReport, error) {
	store := s.Engine.Store()
	if store == nil {
		return nil, engine.ErrNoStore
	}
	return store.GetReport(ctx, targetKey)
}

var _ scans.Scanner = (*ScanService)(nil)
