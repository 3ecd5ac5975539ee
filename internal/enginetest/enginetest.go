// Package enginetest provides in-memory registry and advisory fakes for tests of the surfaces
// built on the engine.
package enginetest

import (
	"context"
	"sync"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/engine"
	"github.com/ortelius/pdvd-depscan/model"
)

// Registry serves a fixed dependency graph.
type Registry struct {
	mu    sync.Mutex
	graph map[string][]model.DependencyRef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{graph: map[string][]model.DependencyRef{}}
}

// Add declares parent's direct dependencies as requirement strings ("werkzeug>=2.0").
func (r *Registry) Add(parent model.PackageIdentity, deps ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range deps {
		ref, err := model.ParseDependency(line, parent.Ecosystem)
		if err != nil {
			panic(err)
		}
		r.graph[parent.Key()] = append(r.graph[parent.Key()], ref)
	}
	return r
}

// DirectDependencies implements registry.Client.
func (r *Registry) DirectDependencies(_ context.Context, id model.PackageIdentity, _ model.VersionSpec) ([]model.DependencyRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph[id.Key()], nil
}

// Source serves fixed advisories.
type Source struct {
	mu      sync.Mutex
	records map[string][]model.VulnerabilityRecord
}

// NewSource returns a source with no advisories.
func NewSource() *Source {
	return &Source{records: map[string][]model.VulnerabilityRecord{}}
}

// Add publishes an advisory against pkg affecting [introduced, fixed).
func (s *Source) Add(id string, pkg model.PackageIdentity, severity model.Severity, introduced, fixed string) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[pkg.Key()] = append(s.records[pkg.Key()], model.VulnerabilityRecord{
		ID:             id,
		Package:        pkg,
		Severity:       severity,
		AffectedRanges: []model.VulnerabilityRange{model.IntroducedFixed(introduced, fixed)},
	})
	return s
}

// Query implements osv.Source.
func (s *Source) Query(_ context.Context, id model.PackageIdentity, _ *model.ExactVersion) ([]model.VulnerabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id.Key()], nil
}

// Fixture is an engine over a memory store and the fakes.
type Fixture struct {
	Engine   *engine.Engine
	Store    *database.MemoryStore
	Registry *Registry
	Source   *Source
}

// New builds a Fixture with default engine options.
func New() *Fixture {
	f := &Fixture{Store: database.NewMemoryStore(), Registry: NewRegistry(), Source: NewSource()}
	f.Engine = engine.New(f.Store, f.Registry, f.Source, engine.Options{})
	return f
}

// Flask seeds flask 2.0.1 depending on werkzeug and jinja2, with one advisory on werkzeug.
func (f *Fixture) Flask() *Fixture {
	flask := model.MustPackageIdentity("flask", "pypi")
	werkzeug := model.MustPackageIdentity("werkzeug", "pypi")
	f.Registry.Add(flask, "werkzeug==2.0.1", "jinja2>=3.0")
	f.Source.Add("GHSA-werk", werkzeug, model.SeverityHigh, "0", "2.2.3")
	return f
}
