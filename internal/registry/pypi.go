package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/util"
)

// PyPI reads requires_dist from the PyPI JSON API.
type PyPI struct {
	BaseURL string
	HTTP    *fetch.Client
	Logger  *zap.Logger
}

type pypiProject struct {
	Info struct {
		Name         string   `json:"name"`
		Version      string   `json:"version"`
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string]json.RawMessage `json:"releases"`
}

// Ecosystem implements Adapter.
func (p *PyPI) Ecosystem() model.Ecosystem { return model.EcosystemPyPI }

// DirectDependencies fetches the release matching spec: the pinned version when the spec is exact,
// otherwise the newest release satisfying it, otherwise the latest release. Requirements guarded by
// an "extra ==" marker are optional and skipped.
func (p *PyPI) DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error) {
	var project pypiProject

	if v := matcher.Extract(spec, id.Ecosystem); v.IsExact() {
		if err := p.HTTP.GetJSON(ctx, p.releaseURL(id.Name, v.Version), nil, &project); err != nil {
			return nil, unavailable(id, err)
		}
		return p.requirements(project.Info.RequiresDist), nil
	}

	if err := p.HTTP.GetJSON(ctx, fmt.Sprintf("%s/pypi/%s/json", p.BaseURL, url.PathEscape(id.Name)), nil, &project); err != nil {
		return nil, unavailable(id, err)
	}

	if spec != "" && len(project.Releases) > 0 {
		versions := make([]string, 0, len(project.Releases))
		for v := range project.Releases {
			versions = append(versions, v)
		}
		best, ok := matcher.Best(id.Ecosystem, spec, versions)
		if ok && best != project.Info.Version {
			var release pypiProject
			if err := p.HTTP.GetJSON(ctx, p.releaseURL(id.Name, best), nil, &release); err != nil {
				return nil, unavailable(id, err)
			}
			return p.requirements(release.Info.RequiresDist), nil
		}
		if !ok {
			p.Logger.Sugar().Debugf("pypi: no release of %s satisfies %q, using latest %s", id.Name, spec, project.Info.Version)
		}
	}
	return p.requirements(project.Info.RequiresDist), nil
}

func (p *PyPI) releaseURL(name, version string) string {
	return fmt.Sprintf("%s/pypi/%s/%s/json", p.BaseURL, url.PathEscape(name), url.PathEscape(version))
}

func (p *PyPI) requirements(lines []string) []model.DependencyRef {
	pairs := make([][2]string, 0, len(lines))
	for _, line := range lines {
		req, ok := util.ParseRequirement(line)
		if !ok || req.OnlyForExtra() {
			continue
		}
		pairs = append(pairs, [2]string{req.Name, req.Specifier})
	}
	return dependencyRefs(model.EcosystemPyPI, pairs)
}
