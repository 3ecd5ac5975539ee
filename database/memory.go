package database

import (
	"context"
	"sort"
	"sync"

	"github.com/ortelius/pdvd-depscan/database/codec"
	"github.com/ortelius/pdvd-depscan/model"
)

// MemoryStore keeps everything in process. It is the default when no backend is configured and
// what the tests run against.
type MemoryStore struct {
	mu         sync.RWMutex
	edges      map[string][]byte
	dependents map[string]map[string]model.PackageIdentity
	vulns      map[string][]byte
	reports    map[string][]byte
}

// NewMemoryStore returns an empty, ready to use store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	_ = s.Open()
	return s
}

// Open implements Store.
func (s *MemoryStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edges == nil {
		s.edges = map[string][]byte{}
		s.dependents = map[string]map[string]model.PackageIdentity{}
		s.vulns = map[string][]byte{}
		s.reports = map[string][]byte{}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// GetEdges implements Store.
func (s *MemoryStore) GetEdges(_ context.Context, id model.PackageIdentity) (*model.EdgeSet, error) {
	s.mu.RLock()
	bs, ok := s.edges[id.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var set model.EdgeSet
	if err := codec.Unmarshal(bs, false, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// PutEdges implements Store.
func (s *MemoryStore) PutEdges(_ context.Context, set model.EdgeSet) error {
	bs, err := codec.Marshal(set, false)
	if err != nil {
		return err
	}
	key := set.Package.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.edges[key]; ok {
		var prev model.EdgeSet
		if codec.Unmarshal(old, false, &prev) == nil {
			for _, e := range prev.Edges {
				delete(s.dependents[e.DependsOn.Key()], key)
			}
		}
	}
	s.edges[key] = bs
	for _, e := range set.Edges {
		dk := e.DependsOn.Key()
		if s.dependents[dk] == nil {
			s.dependents[dk] = map[string]model.PackageIdentity{}
		}
		s.dependents[dk][key] = set.Package
	}
	return nil
}

// Dependents implements Store.
func (s *MemoryStore) Dependents(_ context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PackageIdentity, 0, len(s.dependents[id.Key()]))
	for _, p := range s.dependents[id.Key()] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// GetVulnerabilities implements Store.
func (s *MemoryStore) GetVulnerabilities(_ context.Context, id model.PackageIdentity) (*model.VulnerabilitySet, error) {
	s.mu.RLock()
	bs, ok := s.vulns[id.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var set model.VulnerabilitySet
	if err := codec.Unmarshal(bs, false, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// PutVulnerabilities implements Store.
func (s *MemoryStore) PutVulnerabilities(_ context.Context, set model.VulnerabilitySet) error {
	bs, err := codec.Marshal(set, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vulns[set.Package.Key()] = bs
	return nil
}

// GetReport implements Store.
func (s *MemoryStore) GetReport(_ context.Context, targetKey string) (*model.ScanReport, error) {
	s.mu.RLock()
	bs, ok := s.reports[targetKey]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var r model.ScanReport
	if err := codec.Unmarshal(bs, false, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutReport implements Store.
func (s *MemoryStore) PutReport(_ context.Context, report model.ScanReport) error {
	bs, err := codec.Marshal(report, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Target.Key()] = bs
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (model.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var edges int64
	for _, deps := range s.dependents {
		edges += int64(len(deps))
	}
	return model.StoreStats{
		Packages:        int64(len(s.edges)),
		Edges:           edges,
		Vulnerabilities: int64(len(s.vulns)),
		Reports:         int64(len(s.reports)),
	}, nil
}
