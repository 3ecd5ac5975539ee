package resolver_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/cache"
	"github.com/ortelius/pdvd-depscan/internal/resolver"
	"github.com/ortelius/pdvd-depscan/model"
)

// fakeRegistry serves a fixed graph of npm packages and counts calls per package.
type fakeRegistry struct {
	mu    sync.Mutex
	graph map[string][]string
	fail  map[string]error
	block map[string]bool
	calls map[string]int
}

func newFakeRegistry(graph map[string][]string) *fakeRegistry {
	return &fakeRegistry{graph: graph, fail: map[string]error{}, block: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeRegistry) DirectDependencies(ctx context.Context, id model.PackageIdentity, _ model.VersionSpec) ([]model.DependencyRef, error) {
	f.mu.Lock()
	f.calls[id.Name]++
	err := f.fail[id.Name]
	block := f.block[id.Name]
	deps := f.graph[id.Name]
	f.mu.Unlock()

	if id.Ecosystem != model.EcosystemNPM {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedEcosystem, id.Ecosystem)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	refs := make([]model.DependencyRef, 0, len(deps))
	for _, d := range deps {
		name, eco, ok := strings.Cut(d, "@")
		if !ok {
			eco = "npm"
		}
		refs = append(refs, model.DependencyRef{Identity: model.MustPackageIdentity(name, eco), Spec: "^1.0.0"})
	}
	return refs, nil
}

func (f *fakeRegistry) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func npmID(name string) model.PackageIdentity {
	return model.MustPackageIdentity(name, "npm")
}

func childNames(n *model.DependencyNode) []string {
	names := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		names = append(names, c.Identity.Name)
	}
	return names
}

func TestDiamondResolvedOnce(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"root": {"a", "b"},
		"a":    {"c"},
		"b":    {"c"},
		"c":    {"d"},
	})
	r := resolver.New(reg, cache.New(database.NewMemoryStore(), cache.Options{}), resolver.Options{Workers: 1})

	tree := r.Resolve(context.Background(), npmID("root"), "1.0.0", 0)

	for _, name := range []string{"root", "a", "b", "c", "d"} {
		assert.Equal(t, 1, reg.count(name), "registry calls for %s", name)
	}
	require.Equal(t, []string{"a", "b"}, childNames(tree))

	viaA := tree.Children[0].Children[0]
	viaB := tree.Children[1].Children[0]
	assert.Equal(t, "c", viaA.Identity.Name)
	assert.Equal(t, "c", viaB.Identity.Name)
	assert.False(t, viaA.FromCache)
	assert.True(t, viaB.FromCache)
	assert.Equal(t, 2, viaB.Depth)
	require.Len(t, viaB.Children, 1)
	assert.Equal(t, "d", viaB.Children[0].Identity.Name)
	assert.Equal(t, 3, viaB.Children[0].Depth)
	assert.Equal(t, int64(1), r.SubtreeHits())
}

func TestDiamondResolvedOnceConcurrently(t *testing.T) {
	graph := map[string][]string{"root": {}}
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("mid%d", i)
		graph["root"] = append(graph["root"], name)
		graph[name] = []string{"shared"}
	}
	graph["shared"] = []string{"leaf"}
	reg := newFakeRegistry(graph)
	r := resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{Workers: 8})

	tree := r.Resolve(context.Background(), npmID("root"), "", 0)

	assert.Equal(t, 1, reg.count("shared"))
	assert.Equal(t, 1, reg.count("leaf"))
	require.Len(t, tree.Children, 20)
	for _, mid := range tree.Children {
		require.Len(t, mid.Children, 1)
		require.Len(t, mid.Children[0].Children, 1)
		assert.Equal(t, "leaf", mid.Children[0].Children[0].Identity.Name)
	}
}

func TestDepthTruncationIsIdempotent(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"root": {"a", "x"},
		"a":    {"b"},
		"b":    {"c"},
		"x":    {},
	})
	store := database.NewMemoryStore()
	r := resolver.New(reg, cache.New(store, cache.Options{}), resolver.Options{MaxDepth: 2})

	first := r.Resolve(context.Background(), npmID("root"), "", 0)
	second := r.Resolve(context.Background(), npmID("root"), "", 0)

	assert.Equal(t, []string{"npm:root > npm:a > npm:b"}, first.TruncationPoints())
	assert.Equal(t, first.TruncationPoints(), second.TruncationPoints())
	assert.Equal(t, 0, reg.count("b"), "nodes at the depth limit are not fetched")
	assert.Equal(t, 1, reg.count("a"))

	fresh := resolver.New(reg, cache.New(store, cache.Options{}), resolver.Options{MaxDepth: 2})
	third := fresh.Resolve(context.Background(), npmID("root"), "", 0)
	assert.Equal(t, first.TruncationPoints(), third.TruncationPoints())

	// a truncated expansion must not stand in for a shallower one
	b := r.Resolve(context.Background(), npmID("b"), "", 0)
	assert.False(t, b.Truncated)
	require.Equal(t, []string{"c"}, childNames(b))
	assert.False(t, b.Children[0].Truncated)
}

func TestPartialSubtreeReexpandedFromRunCache(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"root": {"a", "b"},
		"a":    {"c"},
		"b":    {"c"},
		"c":    {"flaky"},
	})
	reg.fail["flaky"] = fmt.Errorf("%w: npm:flaky: HTTP 503", model.ErrRegistryUnavailable)
	r := resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{Workers: 1})

	tree := r.Resolve(context.Background(), npmID("root"), "", 0)

	viaA := tree.Children[0].Children[0]
	viaB := tree.Children[1].Children[0]
	assert.False(t, viaA.FromCache)
	assert.True(t, viaB.FromCache, "edges of c came from the run cache")
	require.Equal(t, []string{"flaky"}, childNames(viaB))
	assert.True(t, viaB.Children[0].Incomplete)
	assert.Equal(t, 1, reg.count("c"))
	assert.Equal(t, 1, reg.count("flaky"))
	assert.Zero(t, r.SubtreeHits(), "partial subtrees are not memoized")
	assert.False(t, tree.FromCache)
}

func TestCycleIsCut(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	r := resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{})

	tree := r.Resolve(context.Background(), npmID("a"), "", 0)

	require.Equal(t, []string{"b"}, childNames(tree))
	back := tree.Children[0].Children[0]
	assert.Equal(t, "a", back.Identity.Name)
	assert.True(t, back.Cycle)
	assert.Empty(t, back.Children)
	assert.Equal(t, 1, reg.count("a"))
	assert.Equal(t, 1, reg.count("b"))
}

func TestRegistryFailureDegradesNode(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"root": {"bad", "good", "gem@rubygems"},
		"good": {},
	})
	reg.fail["bad"] = fmt.Errorf("%w: npm:bad: timeout", model.ErrRegistryUnavailable)
	r := resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{})

	tree := r.Resolve(context.Background(), npmID("root"), "", 0)

	require.Equal(t, []string{"bad", "good", "gem"}, childNames(tree))
	bad, good, gem := tree.Children[0], tree.Children[1], tree.Children[2]
	assert.True(t, bad.Incomplete)
	assert.Contains(t, bad.Error, "registry unavailable")
	assert.False(t, good.Incomplete)
	assert.False(t, gem.Incomplete, "unsupported ecosystems resolve to no dependencies")
	assert.Empty(t, gem.Children)

	incomplete := tree.IncompleteNodes()
	require.Len(t, incomplete, 1)
	assert.Equal(t, "npm:root > npm:bad", incomplete[0].Path)
}

func TestCancellationMarksNodesTruncated(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"root": {"slow", "fast"},
		"slow": {"after"},
		"fast": {},
	})
	reg.block["slow"] = true
	c := cache.New(nil, cache.Options{})
	r := resolver.New(reg, c, resolver.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tree := r.Resolve(ctx, npmID("root"), "", 0)

	require.Len(t, tree.Children, 2)
	slow := tree.Children[0]
	assert.True(t, slow.Cancelled)
	assert.True(t, slow.Truncated)
	assert.True(t, tree.Partial())

	// nothing cancelled was promoted to a complete entry
	reg.mu.Lock()
	reg.block["slow"] = false
	reg.mu.Unlock()
	again := r.Resolve(context.Background(), npmID("root"), "", 0)
	require.Len(t, again.Children, 2)
	assert.False(t, again.Children[0].Cancelled)
	assert.Equal(t, []string{"after"}, childNames(again.Children[0]))
	assert.Equal(t, 2, reg.count("slow"))
}

func TestResolveDeclared(t *testing.T) {
	reg := newFakeRegistry(map[string][]string{
		"express": {"accepts"},
		"accepts": {},
	})
	r := resolver.New(reg, cache.New(nil, cache.Options{}), resolver.Options{})

	tree := r.ResolveDeclared(context.Background(), npmID("my-app"), "", []model.DependencyRef{
		{Identity: npmID("express"), Spec: "^4.17.0"},
	})

	assert.Equal(t, 0, reg.count("my-app"))
	require.Equal(t, []string{"express"}, childNames(tree))
	assert.Equal(t, model.VersionFloor, tree.Children[0].ExactVersion.Kind)
	assert.Equal(t, "4.17.0", tree.Children[0].ExactVersion.Version)
	assert.Equal(t, []string{"accepts"}, childNames(tree.Children[0]))
}
