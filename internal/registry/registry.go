// Package registry holds the per-ecosystem package registry adapters. Each adapter answers one
// question: what are the immediate declared dependencies of a package at a version spec.
package registry

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/model"
)

// Client returns the direct dependencies of a package.
type Client interface {
	DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error)
}

// Adapter is a Client bound to one ecosystem.
type Adapter interface {
	Client
	Ecosystem() model.Ecosystem
}

// Endpoints are the registry base URLs. Empty fields use the public registries.
type Endpoints struct {
	PyPI   string `yaml:"pypi"`
	NPM    string `yaml:"npm"`
	Maven  string `yaml:"maven"`
	GoPkg  string `yaml:"go"`
	Crates string `yaml:"crates"`
}

// Public registry base URLs.
const (
	DefaultPyPIURL   = "https://pypi.org"
	DefaultNPMURL    = "https://registry.npmjs.org"
	DefaultMavenURL  = "https://repo1.maven.org/maven2"
	DefaultGoURL     = "https://proxy.golang.org"
	DefaultCratesURL = "https://crates.io"
)

func (e Endpoints) withDefaults() Endpoints {
	def := func(v, d string) string {
		if v == "" {
			return d
		}
		return strings.TrimRight(v, "/")
	}
	return Endpoints{
		PyPI:   def(e.PyPI, DefaultPyPIURL),
		NPM:    def(e.NPM, DefaultNPMURL),
		Maven:  def(e.Maven, DefaultMavenURL),
		GoPkg:  def(e.GoPkg, DefaultGoURL),
		Crates: def(e.Crates, DefaultCratesURL),
	}
}

// Dispatcher routes a request to the adapter of the identity's ecosystem.
type Dispatcher struct {
	adapters map[model.Ecosystem]Adapter
}

// NewDispatcher builds a dispatcher over the given adapters; a later adapter for the same
// ecosystem replaces an earlier one.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{adapters: make(map[model.Ecosystem]Adapter, len(adapters))}
	for _, a := range adapters {
		d.adapters[a.Ecosystem()] = a
	}
	return d
}

// New wires the five public registry adapters onto one shared HTTP client.
func New(client *fetch.Client, endpoints Endpoints, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := endpoints.withDefaults()
	return NewDispatcher(
		&PyPI{BaseURL: e.PyPI, HTTP: client, Logger: logger},
		&NPM{BaseURL: e.NPM, HTTP: client, Logger: logger},
		&Maven{BaseURL: e.Maven, HTTP: client, Logger: logger},
		&GoProxy{BaseURL: e.GoPkg, HTTP: client, Logger: logger},
		&Crates{BaseURL: e.Crates, HTTP: client, Logger: logger},
	)
}

// Supports reports whether an adapter exists for the ecosystem.
func (d *Dispatcher) Supports(ecosystem model.Ecosystem) bool {
	_, ok := d.adapters[ecosystem]
	return ok
}

// DirectDependencies implements Client. An ecosystem without an adapter yields
// model.ErrUnsupportedEcosystem.
func (d *Dispatcher) DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error) {
	a, ok := d.adapters[id.Ecosystem]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedEcosystem, id.Ecosystem)
	}
	return a.DirectDependencies(ctx, id, spec)
}

// unavailable classifies an adapter failure. Context errors stay matchable through the chain.
func unavailable(id model.PackageIdentity, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrRegistryUnavailable, id, err)
}

// dependencyRefs turns (name, spec) pairs into refs, dropping names that do not form an identity
// and collapsing duplicates onto the first spec seen.
func dependencyRefs(ecosystem model.Ecosystem, pairs [][2]string) []model.DependencyRef {
	refs := make([]model.DependencyRef, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		id, err := model.NewPackageIdentity(p[0], string(ecosystem))
		if err != nil {
			continue
		}
		if seen[id.Key()] {
			continue
		}
		seen[id.Key()] = true
		refs = append(refs, model.DependencyRef{Identity: id, Spec: model.VersionSpec(strings.TrimSpace(p[1]))})
	}
	return refs
}
