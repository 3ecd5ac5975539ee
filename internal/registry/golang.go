package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
)

// GoProxy reads go.mod files from a GOPROXY compatible module proxy.
type GoProxy struct {
	BaseURL string
	HTTP    *fetch.Client
	Logger  *zap.Logger
}

type goLatest struct {
	Version string `json:"Version"`
}

// Ecosystem implements Adapter.
func (g *GoProxy) Ecosystem() model.Ecosystem { return model.EcosystemGo }

// DirectDependencies returns the direct (non "// indirect") requirements of the module's go.mod at
// the pinned version, or at @latest when the spec is not a single version.
func (g *GoProxy) DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error) {
	escaped, err := module.EscapePath(id.Name)
	if err != nil {
		return nil, unavailable(id, &model.ParseError{Kind: "module path", Input: id.Name, Reason: err.Error()})
	}
	base := fmt.Sprintf("%s/%s", g.BaseURL, escaped)

	version := ""
	if v := matcher.Extract(spec, id.Ecosystem); v.IsExact() {
		version = v.Version
	} else {
		var latest goLatest
		if err := g.HTTP.GetJSON(ctx, base+"/@latest", nil, &latest); err != nil {
			return nil, unavailable(id, err)
		}
		version = latest.Version
	}

	ev, err := module.EscapeVersion(version)
	if err != nil {
		return nil, unavailable(id, &model.ParseError{Kind: "module version", Input: version, Reason: err.Error()})
	}
	data, err := g.HTTP.Get(ctx, fmt.Sprintf("%s/@v/%s.mod", base, ev), nil)
	if err != nil {
		return nil, unavailable(id, err)
	}

	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil, unavailable(id, fmt.Errorf("parse go.mod: %w", err))
	}

	pairs := make([][2]string, 0, len(f.Require))
	for _, r := range f.Require {
		if r.Indirect {
			continue
		}
		pairs = append(pairs, [2]string{r.Mod.Path, r.Mod.Version})
	}
	return dependencyRefs(model.EcosystemGo, pairs), nil
}
