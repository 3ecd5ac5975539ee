package tiers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/util"
)

// Default GitHub endpoints.
const (
	DefaultGitHubAPI = "https://api.github.com"
	DefaultRawURL    = "https://raw.githubusercontent.com"
)

// sbomDocument covers both the SPDX document the GitHub dependency graph returns (wrapped in
// "sbom") and a bare CycloneDX or SPDX document.
type sbomDocument struct {
	SBOM       *spdxDocument `json:"sbom"`
	Packages   []spdxPackage `json:"packages"`
	Components []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		PURL    string `json:"purl"`
	} `json:"components"`
}

type spdxDocument struct {
	Packages []spdxPackage `json:"packages"`
}

type spdxPackage struct {
	Name         string `json:"name"`
	VersionInfo  string `json:"versionInfo"`
	ExternalRefs []struct {
		ReferenceType    string `json:"referenceType"`
		ReferenceLocator string `json:"referenceLocator"`
	} `json:"externalRefs"`
}

func (d sbomDocument) purls() []string {
	var out []string
	packages := d.Packages
	if d.SBOM != nil {
		packages = append(packages, d.SBOM.Packages...)
	}
	for _, p := range packages {
		for _, ref := range p.ExternalRefs {
			if ref.ReferenceType == "purl" && ref.ReferenceLocator != "" {
				out = append(out, ref.ReferenceLocator)
			}
		}
	}
	for _, c := range d.Components {
		if c.PURL != "" {
			out = append(out, c.PURL)
		}
	}
	return out
}

// Manifest reads a pre-generated SBOM: the target's SBOMURL when set, otherwise the GitHub
// dependency-graph export of its repository.
type Manifest struct {
	HTTP      *fetch.Client
	GitHubAPI string
	Token     string
	Logger    *zap.Logger
}

// Name implements Tier.
func (m *Manifest) Name() model.TierName { return model.TierManifest }

// Collect implements Tier.
func (m *Manifest) Collect(ctx context.Context, target model.ScanTarget) (*Result, error) {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	source := target.SBOMURL
	var header http.Header
	if source == "" {
		owner, repo, err := githubRepo(target.RepoURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrTierUnavailable, err)
		}
		api := strings.TrimSuffix(m.GitHubAPI, "/")
		if api == "" {
			api = DefaultGitHubAPI
		}
		source = fmt.Sprintf("%s/repos/%s/%s/dependency-graph/sbom", api, owner, repo)
		header = githubHeader(m.Token)
	}

	data, err := m.HTTP.Get(ctx, source, header)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: no manifest at %s", model.ErrTierUnavailable, source)
		}
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	var doc sbomDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &model.ParseError{Kind: "sbom", Input: source, Reason: err.Error()}
	}

	var entries []LockEntry
	for _, purl := range doc.purls() {
		id, spec, err := model.ParsePackageURL(purl)
		if err != nil {
			logger.Debug("skipping manifest purl", zap.String("purl", purl), zap.Error(err))
			continue
		}
		if id == target.Root {
			continue
		}
		if _, ok := util.LookupEcosystem(string(id.Ecosystem)); !ok {
			continue
		}
		entries = append(entries, LockEntry{Name: id.Name, Ecosystem: id.Ecosystem, Spec: spec})
	}
	packages := entriesToPackages(entries, logger)
	if len(packages) == 0 {
		return nil, fmt.Errorf("manifest %s lists no packages", source)
	}
	logger.Debug("manifest read", zap.String("source", source), zap.Int("packages", len(packages)))
	return &Result{Packages: packages}, nil
}

// Lockfile fetches lock artifacts from the target's GitHub repository and merges what they pin.
type Lockfile struct {
	HTTP   *fetch.Client
	RawURL string
	Token  string
	Logger *zap.Logger
}

// Name implements Tier.
func (l *Lockfile) Name() model.TierName { return model.TierLockfile }

// Collect implements Tier.
func (l *Lockfile) Collect(ctx context.Context, target model.ScanTarget) (*Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	owner, repo, err := githubRepo(target.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrTierUnavailable, err)
	}
	raw := strings.TrimSuffix(l.RawURL, "/")
	if raw == "" {
		raw = DefaultRawURL
	}
	branches := []string{"main", "master"}
	if target.Branch != "" {
		branches = []string{target.Branch}
	}

	var (
		entries []LockEntry
		found   []string
		errs    []error
	)
	for _, file := range LockfilesFor(target.Root.Ecosystem) {
		for _, branch := range branches {
			u := fmt.Sprintf("%s/%s/%s/%s/%s", raw, owner, repo, url.PathEscape(branch), file)
			data, err := l.HTTP.Get(ctx, u, githubHeader(l.Token))
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				break
			}
			parsed, err := ParseLockfile(file, data)
			if err != nil {
				logger.Warn("unreadable lock artifact", zap.String("url", u), zap.Error(err))
				errs = append(errs, err)
				break
			}
			entries = append(entries, parsed...)
			found = append(found, file)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	packages := entriesToPackages(entries, logger)
	if len(packages) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("fetch lock artifacts of %s/%s: %w", owner, repo, errors.Join(errs...))
		}
		return nil, fmt.Errorf("%w: no lock artifact in %s/%s", model.ErrTierUnavailable, owner, repo)
	}
	logger.Debug("lock artifacts read", zap.Strings("files", found), zap.Int("packages", len(packages)))
	return &Result{Packages: packages}, nil
}

// githubRepo extracts owner and repository from a GitHub URL.
func githubRepo(repoURL string) (string, string, error) {
	if repoURL == "" {
		return "", "", errors.New("target has no repository")
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("parse repository url: %w", err)
	}
	if !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
		return "", "", fmt.Errorf("repository %s is not on GitHub", repoURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %s has no owner/name", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

func githubHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
