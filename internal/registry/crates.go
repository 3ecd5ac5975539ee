package registry

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
)

// Crates reads dependencies from the crates.io API.
type Crates struct {
	BaseURL string
	HTTP    *fetch.Client
	Logger  *zap.Logger
}

type crateInfo struct {
	Crate struct {
		MaxStableVersion string `json:"max_stable_version"`
		MaxVersion       string `json:"max_version"`
	} `json:"crate"`
	Versions []struct {
		Num    string `json:"num"`
		Yanked bool   `json:"yanked"`
	} `json:"versions"`
}

type crateDependencies struct {
	Dependencies []struct {
		CrateID  string `json:"crate_id"`
		Req      string `json:"req"`
		Kind     string `json:"kind"`
		Optional bool   `json:"optional"`
	} `json:"dependencies"`
}

// Ecosystem implements Adapter.
func (c *Crates) Ecosystem() model.Ecosystem { return model.EcosystemCrates }

// DirectDependencies returns the normal, non-optional dependencies of the crate version. Dev and
// build dependencies are skipped.
func (c *Crates) DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error) {
	base := fmt.Sprintf("%s/api/v1/crates/%s", c.BaseURL, url.PathEscape(id.Name))

	version, err := c.pickVersion(ctx, base, id, spec)
	if err != nil {
		return nil, unavailable(id, err)
	}

	var deps crateDependencies
	if err := c.HTTP.GetJSON(ctx, fmt.Sprintf("%s/%s/dependencies", base, url.PathEscape(version)), nil, &deps); err != nil {
		return nil, unavailable(id, err)
	}

	pairs := make([][2]string, 0, len(deps.Dependencies))
	for _, d := range deps.Dependencies {
		if d.Optional || (d.Kind != "" && d.Kind != "normal") {
			continue
		}
		pairs = append(pairs, [2]string{d.CrateID, d.Req})
	}
	return dependencyRefs(model.EcosystemCrates, pairs), nil
}

func (c *Crates) pickVersion(ctx context.Context, base string, id model.PackageIdentity, spec model.VersionSpec) (string, error) {
	if v := matcher.Extract(spec, id.Ecosystem); v.IsExact() {
		return v.Version, nil
	}

	var info crateInfo
	if err := c.HTTP.GetJSON(ctx, base, nil, &info); err != nil {
		return "", err
	}
	if spec != "" {
		versions := make([]string, 0, len(info.Versions))
		for _, v := range info.Versions {
			if !v.Yanked {
				versions = append(versions, v.Num)
			}
		}
		if best, ok := matcher.Best(id.Ecosystem, spec, versions); ok {
			return best, nil
		}
		c.Logger.Sugar().Debugf("crates: no version of %s satisfies %q, using latest", id.Name, spec)
	}
	if info.Crate.MaxStableVersion != "" {
		return info.Crate.MaxStableVersion, nil
	}
	if info.Crate.MaxVersion != "" {
		return info.Crate.MaxVersion, nil
	}
	return "", fmt.Errorf("crate has no published version: %w", model.ErrNotFound)
}
