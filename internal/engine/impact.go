package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ortelius/pdvd-depscan/model"
)

// ErrNoStore is returned by lookups that need persisted edges when the engine has no store.
var ErrNoStore = errors.New("no persistent store configured")

// Impact lists every persisted package that depends on id directly or transitively, nearest
// first. Each entry carries the chain from the dependent down to id. maxDepth <= 0 is unbounded.
func (e *Engine) Impact(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return bfs(ctx, id, maxDepth, func(ctx context.Context, cur model.PackageIdentity) ([]model.PackageIdentity, error) {
		return e.store.Dependents(ctx, cur)
	}, true)
}

// Transitive lists every persisted package id depends on directly or transitively, nearest
// first, with the chain from id down to it.
func (e *Engine) Transitive(ctx context.Context, id model.PackageIdentity, maxDepth int) ([]model.ImpactEntry, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return bfs(ctx, id, maxDepth, func(ctx context.Context, cur model.PackageIdentity) ([]model.PackageIdentity, error) {
		set, err := e.store.GetEdges(ctx, cur)
		if err != nil || set == nil {
			return nil, err
		}
		next := make([]model.PackageIdentity, 0, len(set.Edges))
		for _, edge := range set.Edges {
			next = append(next, edge.DependsOn)
		}
		return next, nil
	}, false)
}

// Stats reports what the store holds.
func (e *Engine) Stats(ctx context.Context) (model.StoreStats, error) {
	if e.store == nil {
		return model.StoreStats{}, ErrNoStore
	}
	return e.store.Stats(ctx)
}

type neighbours func(ctx context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error)

// bfs walks the persisted edge graph from start. reverse renders paths towards start.
func bfs(ctx context.Context, start model.PackageIdentity, maxDepth int, next neighbours, reverse bool) ([]model.ImpactEntry, error) {
	type item struct {
		id    model.PackageIdentity
		depth int
		path  []model.PackageIdentity
	}

	visited := map[model.PackageIdentity]bool{start: true}
	queue := []item{{id: start, path: []model.PackageIdentity{start}}}
	out := []model.ImpactEntry{}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		cur := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && cur.depth >= maxDepth {
			continue
		}

		ids, err := next(ctx, cur.id)
		if err != nil {
			return out, fmt.Errorf("edges of %s: %w", cur.id, err)
		}
		for _, id := range ids {
			if visited[id] {
				continue
			}
			visited[id] = true

			path := append(cur.path[:len(cur.path):len(cur.path)], id)
			out = append(out, model.ImpactEntry{Package: id, Depth: cur.depth + 1, Path: renderPath(path, reverse)})
			queue = append(queue, item{id: id, depth: cur.depth + 1, path: path})
		}
	}
	return out, nil
}

func renderPath(path []model.PackageIdentity, reverse bool) string {
	if !reverse {
		return model.PathString(path)
	}
	flipped := make([]model.PackageIdentity, len(path))
	for i, id := range path {
		flipped[len(path)-1-i] = id
	}
	return model.PathString(flipped)
}
