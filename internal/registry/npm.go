package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
)

// NPM reads the packument from the npm registry.
type NPM struct {
	BaseURL string
	HTTP    *fetch.Client
	Logger  *zap.Logger
}

type npmPackument struct {
	Name     string            `json:"name"`
	DistTags map[string]string `json:"dist-tags"`
	Versions map[string]struct {
		Dependencies map[string]string `json:"dependencies"`
	} `json:"versions"`
}

// Ecosystem implements Adapter.
func (n *NPM) Ecosystem() model.Ecosystem { return model.EcosystemNPM }

// DirectDependencies picks the pinned version, the highest version satisfying the range or the
// "latest" dist-tag, in that order, and returns its runtime dependencies.
func (n *NPM) DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error) {
	var doc npmPackument
	if err := n.HTTP.GetJSON(ctx, n.BaseURL+"/"+escapeNPMName(id.Name), nil, &doc); err != nil {
		return nil, unavailable(id, err)
	}

	version := n.pickVersion(id, spec, doc)
	if version == "" {
		return nil, unavailable(id, fmt.Errorf("no usable version for %q", spec))
	}
	release, ok := doc.Versions[version]
	if !ok {
		return nil, unavailable(id, fmt.Errorf("version %s %w", version, model.ErrNotFound))
	}

	names := make([]string, 0, len(release.Dependencies))
	for name := range release.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]string{name, release.Dependencies[name]})
	}
	return dependencyRefs(model.EcosystemNPM, pairs), nil
}

func (n *NPM) pickVersion(id model.PackageIdentity, spec model.VersionSpec, doc npmPackument) string {
	if v := matcher.Extract(spec, id.Ecosystem); v.IsExact() {
		if _, ok := doc.Versions[v.Version]; ok {
			return v.Version
		}
	}
	if tag, ok := doc.DistTags[strings.TrimSpace(string(spec))]; ok {
		return tag
	}
	if spec != "" {
		versions := make([]string, 0, len(doc.Versions))
		for v := range doc.Versions {
			versions = append(versions, v)
		}
		if best, ok := matcher.Best(id.Ecosystem, spec, versions); ok {
			return best
		}
		n.Logger.Sugar().Debugf("npm: no version of %s satisfies %q, using latest", id.Name, spec)
	}
	return doc.DistTags["latest"]
}

// escapeNPMName keeps the scope separator readable: "@types/node" -> "@types%2Fnode".
func escapeNPMName(name string) string {
	return strings.Replace(name, "/", "%2F", 1)
}
