// Package resolver expands the transitive dependency tree of a package. Every package identity is
// fetched from its registry at most once per run through the resolution cache, and complete
// subtrees are reused wherever the same package appears again.
package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ortelius/pdvd-depscan/internal/cache"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/internal/registry"
	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/util"
)

// Defaults.
const (
	DefaultMaxDepth = 5
	DefaultWorkers  = 5
)

// Options configures a Resolver.
type Options struct {
	// MaxDepth is the depth at which nodes are left unexpanded and flagged truncated.
	MaxDepth int
	// Workers bounds concurrent registry calls and the siblings expanded at once per node.
	Workers int
	Logger  *zap.Logger
}

// Resolver builds dependency trees. It is bound to one run's cache.
type Resolver struct {
	registry registry.Client
	cache    *cache.Cache
	maxDepth int
	workers  int
	logger   *zap.Logger
	sem      *semaphore.Weighted

	mu       sync.RWMutex
	subtrees map[string]*model.DependencyNode

	subtreeHits atomic.Int64
}

// New builds a resolver.
func New(reg registry.Client, c *cache.Cache, opts Options) *Resolver {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		registry: reg,
		cache:    c,
		maxDepth: opts.MaxDepth,
		workers:  opts.Workers,
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		subtrees: make(map[string]*model.DependencyNode),
	}
}

// MaxDepth returns the configured depth limit.
func (r *Resolver) MaxDepth() int { return r.maxDepth }

// SubtreeHits counts subtrees served from the memo.
func (r *Resolver) SubtreeHits() int64 { return r.subtreeHits.Load() }

// Resolve expands id from depth. The result is always a tree: registry failures, unsupported
// ecosystems, cycles, the depth limit and cancellation are recorded as flags on the nodes.
func (r *Resolver) Resolve(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec, depth int) *model.DependencyNode {
	return r.resolve(ctx, id, spec, depth, nil)
}

// ResolveDeclared builds the tree of a root whose direct dependencies are already known, such as a
// target's declared dependencies, without asking the registry for the root's own.
func (r *Resolver) ResolveDeclared(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec, declared []model.DependencyRef) *model.DependencyNode {
	node := r.newNode(id, spec, 0)
	if ctx.Err() != nil {
		node.Truncated, node.Cancelled = true, true
		return node
	}
	r.expand(ctx, node, declared, []model.PackageIdentity{id})
	return node
}

func (r *Resolver) newNode(id model.PackageIdentity, spec model.VersionSpec, depth int) *model.DependencyNode {
	node := &model.DependencyNode{
		Identity:     id,
		VersionSpec:  spec,
		ExactVersion: matcher.Extract(spec, id.Ecosystem),
		Depth:        depth,
	}
	if node.ExactVersion.IsExact() && util.IsResolvable(string(id.Ecosystem)) && !matcher.Valid(id.Ecosystem, node.ExactVersion.Version) {
		node.ParseError = true
		node.Error = "unparseable version " + node.ExactVersion.Version
	}
	return node
}

func (r *Resolver) resolve(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec, depth int, ancestors []model.PackageIdentity) *model.DependencyNode {
	node := r.newNode(id, spec, depth)

	switch {
	case ctx.Err() != nil:
		node.Truncated, node.Cancelled = true, true
		return node
	case contains(ancestors, id):
		node.Cycle = true
		return node
	case depth >= r.maxDepth:
		node.Truncated = true
		return node
	}

	if cached := r.subtree(id); cached != nil {
		r.subtreeHits.Add(1)
		r.logger.Debug("subtree memo hit", zap.String("package", id.Key()), zap.Int("depth", depth))
		return r.graft(cached, node, ancestors)
	}

	var fetched atomic.Bool
	refs, err := r.cache.Dependencies(ctx, id, depth, func(ctx context.Context) ([]model.DependencyRef, error) {
		fetched.Store(true)
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)
		return r.registry.DirectDependencies(ctx, id, spec)
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			node.Truncated, node.Cancelled = true, true
		case errors.Is(err, model.ErrUnsupportedEcosystem):
			r.logger.Warn("unsupported ecosystem, no dependencies resolved", zap.String("package", id.Key()))
		default:
			node.Incomplete = true
			node.Error = err.Error()
			r.logger.Warn("dependency resolution degraded", zap.String("package", id.Key()), zap.Error(err))
		}
		return node
	}
	// a package whose earlier subtree was partial is expanded again from the cached edges
	node.FromCache = !fetched.Load()

	path := make([]model.PackageIdentity, len(ancestors), len(ancestors)+1)
	copy(path, ancestors)
	r.expand(ctx, node, refs, append(path, id))

	if !node.Partial() {
		r.remember(node)
	}
	return node
}

// expand resolves the children of node concurrently, keeping their declared order.
func (r *Resolver) expand(ctx context.Context, node *model.DependencyNode, refs []model.DependencyRef, path []model.PackageIdentity) {
	if len(refs) == 0 {
		return
	}
	children := make([]*model.DependencyNode, len(refs))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, ref := range refs {
		g.Go(func() error {
			children[i] = r.resolve(ctx, ref.Identity, ref.Spec, node.Depth+1, path)
			return nil
		})
	}
	_ = g.Wait()

	node.Children = children
}

func (r *Resolver) subtree(id model.PackageIdentity) *model.DependencyNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subtrees[id.Key()]
}

// remember keeps the first complete subtree seen for an identity.
func (r *Resolver) remember(node *model.DependencyNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subtrees[node.Identity.Key()]; !ok {
		r.subtrees[node.Identity.Key()] = node.Clone()
	}
}

// graft copies a memoized subtree under root, rewriting depths to the new position. Nodes that
// now sit at the depth limit, or that repeat an ancestor of the new position, are cut exactly as
// a fresh expansion would cut them.
func (r *Resolver) graft(cached, root *model.DependencyNode, ancestors []model.PackageIdentity) *model.DependencyNode {
	root.FromCache = true
	root.Incomplete = cached.Incomplete
	if !root.ParseError {
		root.Error = cached.Error
	}

	path := make([]model.PackageIdentity, len(ancestors), len(ancestors)+1)
	copy(path, ancestors)
	path = append(path, root.Identity)

	if len(cached.Children) > 0 {
		root.Children = make([]*model.DependencyNode, len(cached.Children))
		for i, child := range cached.Children {
			root.Children[i] = r.copyAt(child, root.Depth+1, path)
		}
	}
	return root
}

func (r *Resolver) copyAt(src *model.DependencyNode, depth int, ancestors []model.PackageIdentity) *model.DependencyNode {
	n := &model.DependencyNode{
		Identity:     src.Identity,
		VersionSpec:  src.VersionSpec,
		ExactVersion: src.ExactVersion,
		Depth:        depth,
		FromCache:    true,
		ParseError:   src.ParseError,
	}
	if src.ParseError {
		n.Error = src.Error
	}
	switch {
	case contains(ancestors, src.Identity):
		n.Cycle = true
		return n
	case depth >= r.maxDepth:
		n.Truncated = true
		return n
	}
	n.Incomplete = src.Incomplete
	n.Error = src.Error

	if len(src.Children) > 0 {
		path := make([]model.PackageIdentity, len(ancestors), len(ancestors)+1)
		copy(path, ancestors)
		path = append(path, src.Identity)

		n.Children = make([]*model.DependencyNode, len(src.Children))
		for i, child := range src.Children {
			n.Children[i] = r.copyAt(child, depth+1, path)
		}
	}
	return n
}

func contains(path []model.PackageIdentity, id model.PackageIdentity) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
