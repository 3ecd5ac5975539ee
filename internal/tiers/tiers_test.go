package tiers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/cache"
	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/registry"
	"github.com/ortelius/pdvd-depscan/internal/resolver"
	"github.com/ortelius/pdvd-depscan/internal/tiers"
	"github.com/ortelius/pdvd-depscan/model"
)

type stubTier struct {
	name   model.TierName
	result *tiers.Result
	err    error
	calls  int
}

func (s *stubTier) Name() model.TierName { return s.name }

func (s *stubTier) Collect(context.Context, model.ScanTarget) (*tiers.Result, error) {
	s.calls++
	return s.result, s.err
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveTier(tier, outcome string) {
	o.outcomes = append(o.outcomes, tier+"="+outcome)
}

type mapRegistry map[string][]string

func (m mapRegistry) DirectDependencies(_ context.Context, id model.PackageIdentity, _ model.VersionSpec) ([]model.DependencyRef, error) {
	var refs []model.DependencyRef
	for _, dep := range m[id.Name] {
		name, spec, _ := strings.Cut(dep, " ")
		refs = append(refs, model.DependencyRef{Identity: model.MustPackageIdentity(name, string(id.Ecosystem)), Spec: model.VersionSpec(spec)})
	}
	return refs, nil
}

func partial(names ...string) *tiers.Result {
	res := &tiers.Result{}
	for _, n := range names {
		res.Packages = append(res.Packages, model.ResolvedPackage{Identity: model.MustPackageIdentity(n, "pypi"), Depth: 1})
	}
	return res
}

func TestChainFallsBackToRecursiveResolution(t *testing.T) {
	manifest := &stubTier{name: model.TierManifest, result: partial("leaked-from-manifest"), err: errors.New("sbom truncated")}
	lockfile := &stubTier{name: model.TierLockfile, err: fmt.Errorf("fetch: %w", model.ErrNotFound)}
	reg := mapRegistry{"flask": {"werkzeug >=2.0", "jinja2 >=3.0"}}
	recursive := &tiers.Recursive{Resolver: resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{})}
	historical := &stubTier{name: model.TierHistoricalCache, result: partial("stale")}
	obs := &recordingObserver{}

	chain := tiers.NewChain(nil, obs, manifest, lockfile, recursive, historical)
	res, attempts, err := chain.Run(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("flask", "pypi"), Spec: "==2.0.0"})
	require.NoError(t, err)

	assert.Equal(t, model.TierRecursiveResolution, res.Tier)
	require.NotNil(t, res.Tree)
	names := map[string]bool{}
	for _, p := range res.Packages {
		names[p.Identity.Name] = true
		assert.Equal(t, model.TierRecursiveResolution, p.Tier)
	}
	assert.Equal(t, map[string]bool{"flask": true, "werkzeug": true, "jinja2": true}, names)
	assert.False(t, names["leaked-from-manifest"])

	require.Len(t, attempts, 3)
	assert.False(t, attempts[0].Success)
	assert.Contains(t, attempts[0].Error, "sbom truncated")
	assert.False(t, attempts[1].Success)
	assert.True(t, attempts[2].Success)
	assert.Equal(t, 3, attempts[2].Packages)
	assert.Equal(t, 0, historical.calls)
	assert.Equal(t, []string{"manifest=failure", "lockfile=failure", "recursive_resolution=success"}, obs.outcomes)
}

func TestChainSkipsUnavailableTiers(t *testing.T) {
	manifest := &stubTier{name: model.TierManifest, err: fmt.Errorf("%w: no repository", model.ErrTierUnavailable)}
	historical := &stubTier{name: model.TierHistoricalCache, result: partial("django")}

	res, attempts, err := tiers.NewChain(nil, nil, manifest, nil, historical).Run(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("django", "pypi")})
	require.NoError(t, err)
	assert.Equal(t, model.TierHistoricalCache, res.Tier)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Skipped)
	assert.True(t, attempts[1].Success)
}

func TestChainAllTiersFail(t *testing.T) {
	a := &stubTier{name: model.TierManifest, err: errors.New("boom")}
	b := &stubTier{name: model.TierHistoricalCache, err: fmt.Errorf("%w: nothing stored", model.ErrTierUnavailable)}

	res, attempts, err := tiers.NewChain(nil, nil, a, b).Run(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("x", "npm")})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Len(t, attempts, 2)
	assert.ErrorIs(t, err, model.ErrTierUnavailable)
	assert.Contains(t, err.Error(), "boom")
}

func TestRecursiveTierUnsupportedEcosystem(t *testing.T) {
	recursive := &tiers.Recursive{Resolver: resolver.New(registry.NewDispatcher(), cache.New(nil, cache.Options{}), resolver.Options{})}

	res, err := recursive.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("rails", "rubygems"), Spec: "5.0.0"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.Packages, 1)
	assert.Equal(t, "rails", res.Packages[0].Identity.Name)
	assert.Empty(t, res.Tree.Children)
}

type failingRegistry struct{ err error }

func (f failingRegistry) DirectDependencies(context.Context, model.PackageIdentity, model.VersionSpec) ([]model.DependencyRef, error) {
	return nil, f.err
}

func TestChainServesDegradedResultLast(t *testing.T) {
	reg := failingRegistry{err: fmt.Errorf("%w: pypi:django: HTTP 503", model.ErrRegistryUnavailable)}
	newRecursive := func() *tiers.Recursive {
		return &tiers.Recursive{Resolver: resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{})}
	}
	target := model.ScanTarget{Root: model.MustPackageIdentity("django", "pypi"), Spec: "==1.11"}

	t.Run("no later tier", func(t *testing.T) {
		manifest := &stubTier{name: model.TierManifest, result: partial("leaked-from-manifest"), err: errors.New("sbom truncated")}
		historical := &stubTier{name: model.TierHistoricalCache, err: fmt.Errorf("%w: nothing stored", model.ErrTierUnavailable)}
		obs := &recordingObserver{}

		res, attempts, err := tiers.NewChain(nil, obs, manifest, newRecursive(), historical).Run(context.Background(), target)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, model.TierRecursiveResolution, res.Tier)
		require.Len(t, res.Packages, 1)
		assert.Equal(t, "django", res.Packages[0].Identity.Name)
		assert.Equal(t, model.TierRecursiveResolution, res.Packages[0].Tier)
		assert.True(t, res.Tree.Incomplete)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "HTTP 503")
		assert.Contains(t, res.Errors[0], "sbom truncated")

		require.Len(t, attempts, 3)
		assert.False(t, attempts[1].Success)
		assert.Equal(t, 1, attempts[1].Packages)
		assert.Equal(t, []string{"manifest=failure", "recursive_resolution=failure", "historical_cache=skipped"}, obs.outcomes)
	})

	t.Run("history wins over a degraded result", func(t *testing.T) {
		historical := &stubTier{name: model.TierHistoricalCache, result: partial("django", "sqlparse")}

		res, _, err := tiers.NewChain(nil, nil, newRecursive(), historical).Run(context.Background(), target)
		require.NoError(t, err)
		assert.False(t, res.Degraded)
		assert.Equal(t, model.TierHistoricalCache, res.Tier)
		assert.Len(t, res.Packages, 2)
	})
}

func TestRecursiveTierUsesDeclaredDependencies(t *testing.T) {
	reg := mapRegistry{"requests": {"urllib3 >=1.21.1"}}
	recursive := &tiers.Recursive{Resolver: resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{})}

	res, err := recursive.Collect(context.Background(), model.ScanTarget{
		Root:     model.MustPackageIdentity("my-service", "pypi"),
		Declared: []model.DependencyRef{{Identity: model.MustPackageIdentity("requests", "pypi"), Spec: "==2.31.0"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Packages, 3)
	byName := map[string]model.ResolvedPackage{}
	for _, p := range res.Packages {
		byName[p.Identity.Name] = p
	}
	assert.True(t, byName["requests"].Direct)
	assert.Equal(t, "2.31.0", byName["requests"].Version.Version)
	assert.Equal(t, 2, byName["urllib3"].Depth)
	assert.False(t, byName["urllib3"].Direct)
	assert.Equal(t, model.VersionFloor, byName["urllib3"].Version.Kind)
}

func TestHistoricalTier(t *testing.T) {
	store := database.NewMemoryStore()
	target := model.ScanTarget{Root: model.MustPackageIdentity("django", "pypi"), Spec: "==1.11"}
	h := &tiers.Historical{Store: store}

	_, err := h.Collect(context.Background(), target)
	assert.ErrorIs(t, err, model.ErrTierUnavailable)

	require.NoError(t, store.PutReport(context.Background(), model.ScanReport{
		ID:       "previous",
		Target:   target,
		Packages: []model.ResolvedPackage{{Identity: target.Root, Version: model.Exact("1.11", model.EcosystemPyPI)}},
	}))
	res, err := h.Collect(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.Equal(t, "previous", res.Previous.ID)
}

func newFetchClient() *fetch.Client {
	return fetch.New(fetch.Options{RatePerSecond: -1, RetryWait: time.Millisecond, Timeout: 5 * time.Second})
}

func TestManifestTierReadsGitHubSBOM(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/shop/dependency-graph/sbom" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"sbom":{"packages":[
			{"name":"shop","externalRefs":[{"referenceType":"purl","referenceLocator":"pkg:npm/shop@1.0.0"}]},
			{"name":"lodash","externalRefs":[{"referenceType":"purl","referenceLocator":"pkg:npm/lodash@4.17.20"}]},
			{"name":"lodash-dup","externalRefs":[{"referenceType":"purl","referenceLocator":"pkg:npm/lodash@4.17.20"}]},
			{"name":"@babel/core","externalRefs":[{"referenceType":"purl","referenceLocator":"pkg:npm/%40babel/core@7.0.0"}]},
			{"name":"actions/checkout","externalRefs":[{"referenceType":"purl","referenceLocator":"pkg:githubactions/actions/checkout@4"}]}
		]}}`))
	}))
	defer srv.Close()

	m := &tiers.Manifest{HTTP: newFetchClient(), GitHubAPI: srv.URL, Token: "t0ken"}
	res, err := m.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("shop", "npm"), RepoURL: "https://github.com/acme/shop"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer t0ken", gotAuth)
	require.Len(t, res.Packages, 2)
	assert.Equal(t, "lodash", res.Packages[0].Identity.Name)
	assert.Equal(t, "4.17.20", res.Packages[0].Version.Version)
	assert.Equal(t, "@babel/core", res.Packages[1].Identity.Name)
}

func TestManifestTierCycloneDX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"bomFormat":"CycloneDX","components":[{"name":"django","version":"1.11","purl":"pkg:pypi/Django@1.11"}]}`))
	}))
	defer srv.Close()

	m := &tiers.Manifest{HTTP: newFetchClient()}
	res, err := m.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("site", "pypi"), SBOMURL: srv.URL + "/bom.json"})
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.Equal(t, model.MustPackageIdentity("django", "pypi"), res.Packages[0].Identity)
}

func TestManifestTierWithoutSource(t *testing.T) {
	m := &tiers.Manifest{HTTP: newFetchClient()}
	_, err := m.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("site", "pypi")})
	assert.ErrorIs(t, err, model.ErrTierUnavailable)
}

func TestLockfileTierFallsBackToMaster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/acme/api/master/requirements.txt":
			_, _ = w.Write([]byte("# pinned\nDjango==3.2.1\nrequests>=2.0 ; python_version >= \"3\"\n-r other.txt\n"))
		case "/acme/api/master/poetry.lock":
			_, _ = w.Write([]byte("[[package]]\nname = \"django\"\nversion = \"3.2.1\"\n\n[[package]]\nname = \"pytest\"\nversion = \"7.0.0\"\ncategory = \"dev\"\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := &tiers.Lockfile{HTTP: newFetchClient(), RawURL: srv.URL}
	res, err := l.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("api", "pypi"), RepoURL: "https://github.com/acme/api.git"})
	require.NoError(t, err)

	require.Len(t, res.Packages, 2)
	assert.Equal(t, "django", res.Packages[0].Identity.Name)
	assert.Equal(t, model.VersionSpec("==3.2.1"), res.Packages[0].Spec)
	assert.True(t, res.Packages[0].Direct)
	assert.Equal(t, "requests", res.Packages[1].Identity.Name)
	assert.Equal(t, model.VersionFloor, res.Packages[1].Version.Kind)
}

func TestLockfileTierNoArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l := &tiers.Lockfile{HTTP: newFetchClient(), RawURL: srv.URL}
	_, err := l.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("api", "crates"), RepoURL: "https://github.com/acme/api"})
	assert.ErrorIs(t, err, model.ErrTierUnavailable)

	_, err = l.Collect(context.Background(), model.ScanTarget{Root: model.MustPackageIdentity("api", "crates"), RepoURL: "https://gitlab.com/acme/api"})
	assert.ErrorIs(t, err, model.ErrTierUnavailable)
}
