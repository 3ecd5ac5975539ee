// Package cache is the run-scoped resolution cache: an in-memory layer over a persistent store
// that computes the direct dependencies and the advisory set of each package identity at most
// once per run.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/model"
)

// DefaultTTL is how long a persisted entry is trusted by later runs.
const DefaultTTL = 24 * time.Hour

// Table names used for stats and metrics.
const (
	TableDeps  = "deps"
	TableVulns = "vulns"
)

// Lookup outcomes reported to an Observer.
const (
	OutcomeHit      = "hit"
	OutcomeStoreHit = "store_hit"
	OutcomeMiss     = "miss"
	OutcomeCorrupt  = "corrupt"
)

// Observer receives one call per lookup.
type Observer interface {
	ObserveCache(table, outcome string)
}

// DependencyFunc fetches the direct dependencies of a package from its registry.
type DependencyFunc func(ctx context.Context) ([]model.DependencyRef, error)

// VulnerabilityFunc fetches the advisories of a package from the vulnerability source.
type VulnerabilityFunc func(ctx context.Context) ([]model.VulnerabilityRecord, error)

// Options configures a Cache.
type Options struct {
	// TTL bounds the age of persisted entries; zero or less never expires them.
	TTL      time.Duration
	Logger   *zap.Logger
	Observer Observer
	Now      func() time.Time
}

// Cache memoizes per package identity for the lifetime of one run. Results are never invalidated
// mid-run. Failures other than cancellation are memoized in memory too, so a package that failed
// once is not retried from a second tree position, but they are never persisted.
type Cache struct {
	store    database.Store
	ttl      time.Duration
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	deps  memo[[]model.DependencyRef]
	vulns memo[[]model.VulnerabilityRecord]

	depsHits, depsMisses, depsStoreHits    atomic.Int64
	vulnsHits, vulnsMisses, vulnsStoreHits atomic.Int64
	registryCalls, advisoryCalls, corrupt  atomic.Int64
}

// New builds a cache over store. A nil store keeps everything in memory only.
func New(store database.Store, opts Options) *Cache {
	c := &Cache{
		store:    store,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.deps.init()
	c.vulns.init()
	return c
}

// Dependencies returns the direct dependencies of id, calling resolve only when neither the
// memory layer nor a fresh persisted entry has them. depth is the depth of the package in the
// tree that first resolves it; its edges are persisted at depth+1.
func (c *Cache) Dependencies(ctx context.Context, id model.PackageIdentity, depth int, resolve DependencyFunc) ([]model.DependencyRef, error) {
	key := id.Key()
	if r, ok := c.deps.get(key); ok {
		c.depsHits.Add(1)
		c.observe(TableDeps, OutcomeHit)
		c.logger.Debug("dependency cache hit", zap.String("package", key))
		return r.value, r.err
	}

	return c.deps.do(ctx, key, func() (result[[]model.DependencyRef], bool) {
		if refs, ok := c.loadEdges(ctx, id); ok {
			c.depsStoreHits.Add(1)
			c.observe(TableDeps, OutcomeStoreHit)
			return result[[]model.DependencyRef]{value: refs}, true
		}

		c.depsMisses.Add(1)
		c.registryCalls.Add(1)
		c.observe(TableDeps, OutcomeMiss)
		refs, err := resolve(ctx)
		if err != nil {
			return result[[]model.DependencyRef]{err: err}, !isContextError(ctx, err)
		}
		if refs == nil {
			refs = []model.DependencyRef{}
		}
		c.saveEdges(ctx, id, depth, refs)
		return result[[]model.DependencyRef]{value: refs}, true
	})
}

// Vulnerabilities returns every advisory recorded for id, calling query only on a miss.
func (c *Cache) Vulnerabilities(ctx context.Context, id model.PackageIdentity, query VulnerabilityFunc) ([]model.VulnerabilityRecord, error) {
	key := id.Key()
	if r, ok := c.vulns.get(key); ok {
		c.vulnsHits.Add(1)
		c.observe(TableVulns, OutcomeHit)
		c.logger.Debug("vulnerability cache hit", zap.String("package", key))
		return r.value, r.err
	}

	return c.vulns.do(ctx, key, func() (result[[]model.VulnerabilityRecord], bool) {
		if records, ok := c.loadVulnerabilities(ctx, id); ok {
			c.vulnsStoreHits.Add(1)
			c.observe(TableVulns, OutcomeStoreHit)
			return result[[]model.VulnerabilityRecord]{value: records}, true
		}

		c.vulnsMisses.Add(1)
		c.advisoryCalls.Add(1)
		c.observe(TableVulns, OutcomeMiss)
		records, err := query(ctx)
		if err != nil {
			return result[[]model.VulnerabilityRecord]{err: err}, !isContextError(ctx, err)
		}
		if records == nil {
			records = []model.VulnerabilityRecord{}
		}
		if c.store != nil {
			set := model.VulnerabilitySet{Package: id, Records: records, CachedAt: c.now().UTC()}
			if err := c.store.PutVulnerabilities(ctx, set); err != nil {
				c.logger.Warn("failed to persist vulnerabilities", zap.String("package", key), zap.Error(err))
			}
		}
		return result[[]model.VulnerabilityRecord]{value: records}, true
	})
}

// Stats snapshots the counters.
func (c *Cache) Stats() model.CacheStats {
	return model.CacheStats{
		DepsHits:       c.depsHits.Load(),
		DepsMisses:     c.depsMisses.Load(),
		DepsStoreHits:  c.depsStoreHits.Load(),
		VulnsHits:      c.vulnsHits.Load(),
		VulnsMisses:    c.vulnsMisses.Load(),
		VulnsStoreHits: c.vulnsStoreHits.Load(),
		RegistryCalls:  c.registryCalls.Load(),
		AdvisoryCalls:  c.advisoryCalls.Load(),
		CorruptEntries: c.corrupt.Load(),
	}
}

func (c *Cache) loadEdges(ctx context.Context, id model.PackageIdentity) ([]model.DependencyRef, bool) {
	if c.store == nil {
		return nil, false
	}
	set, err := c.store.GetEdges(ctx, id)
	if err != nil {
		c.storeReadFailed(TableDeps, id, err)
		return nil, false
	}
	if set == nil || c.expired(set.ResolvedAt) {
		return nil, false
	}
	return set.Refs(), true
}

func (c *Cache) saveEdges(ctx context.Context, id model.PackageIdentity, depth int, refs []model.DependencyRef) {
	if c.store == nil {
		return
	}
	set := model.EdgeSet{Package: id, Edges: make([]model.ResolvedEdge, 0, len(refs)), ResolvedAt: c.now().UTC()}
	for _, ref := range refs {
		set.Edges = append(set.Edges, model.ResolvedEdge{Package: id, DependsOn: ref.Identity, Spec: ref.Spec, Depth: depth + 1})
	}
	if err := c.store.PutEdges(ctx, set); err != nil {
		c.logger.Warn("failed to persist dependency edges", zap.String("package", id.Key()), zap.Error(err))
	}
}

func (c *Cache) loadVulnerabilities(ctx context.Context, id model.PackageIdentity) ([]model.VulnerabilityRecord, bool) {
	if c.store == nil {
		return nil, false
	}
	set, err := c.store.GetVulnerabilities(ctx, id)
	if err != nil {
		c.storeReadFailed(TableVulns, id, err)
		return nil, false
	}
	if set == nil || c.expired(set.CachedAt) {
		return nil, false
	}
	return set.Records, true
}

func (c *Cache) storeReadFailed(table string, id model.PackageIdentity, err error) {
	if errors.Is(err, model.ErrCacheCorruption) {
		c.corrupt.Add(1)
		c.observe(table, OutcomeCorrupt)
		c.logger.Warn("corrupt cache entry, re-resolving", zap.String("table", table), zap.String("package", id.Key()), zap.Error(err))
		return
	}
	c.logger.Warn("cache store read failed", zap.String("table", table), zap.String("package", id.Key()), zap.Error(err))
}

func (c *Cache) expired(at time.Time) bool {
	return c.ttl > 0 && c.now().Sub(at) > c.ttl
}

func (c *Cache) observe(table, outcome string) {
	if c.observer != nil {
		c.observer.ObserveCache(table, outcome)
	}
}

// isContextError reports a failure caused by the run ending rather than by the package.
func isContextError(ctx context.Context, _ error) bool {
	return ctx.Err() != nil
}

type result[T any] struct {
	value T
	err   error
}

// memo is a per-key once: concurrent callers of the same key share one in-flight computation and
// later callers read the stored result.
type memo[T any] struct {
	mu     sync.RWMutex
	m      map[string]result[T]
	flight singleflight.Group
}

func (m *memo[T]) init() {
	m.m = make(map[string]result[T])
}

func (m *memo[T]) get(key string) (result[T], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.m[key]
	return r, ok
}

// do runs fn once per key among concurrent callers. fn reports whether its result may be kept.
// A waiter whose own context ends stops waiting; the computation itself keeps running. A waiter
// that joined a computation abandoned by its caller's cancellation runs its own.
func (m *memo[T]) do(ctx context.Context, key string, fn func() (result[T], bool)) (T, error) {
	for {
		ch := m.flight.DoChan(key, func() (interface{}, error) {
			if r, ok := m.get(key); ok {
				return flightResult[T]{result: r, kept: true}, nil
			}
			r, keep := fn()
			if keep {
				m.mu.Lock()
				m.m[key] = r
				m.mu.Unlock()
			}
			return flightResult[T]{result: r, kept: keep}, nil
		})

		select {
		case res := <-ch:
			fr := res.Val.(flightResult[T])
			if !fr.kept && ctx.Err() == nil && res.Shared {
				continue
			}
			return fr.result.value, fr.result.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

type flightResult[T any] struct {
	result result[T]
	kept   bool
}
