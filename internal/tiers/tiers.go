// Package tiers is the fallback chain that decides where the dependency list of a scan target
// comes from: a pre-generated manifest, a lock artifact from the target's source, recursive
// registry resolution, or the last stored scan of the target. The first tier that succeeds serves
// the whole target.
package tiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/internal/resolver"
	"github.com/ortelius/pdvd-depscan/model"
)

// Tier outcomes reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Observer receives one call per tier attempt.
type Observer interface {
	ObserveTier(tier, outcome string)
}

// Result is what one tier produced for a target.
type Result struct {
	Tier     model.TierName
	Packages []model.ResolvedPackage
	// Tree is set by tiers that know the dependency structure.
	Tree *model.DependencyNode
	// Previous is the stored report a historical result came from.
	Previous *model.ScanReport
	// Degraded marks a partial result returned alongside an error. The chain serves it only when
	// no tier succeeds, with the errors of every attempt in Errors.
	Degraded bool
	Errors   []string
}

// Tier is one data source of the chain. Collect returns an error wrapping
// model.ErrTierUnavailable when the tier does not apply to the target at all.
type Tier interface {
	Name() model.TierName
	Collect(ctx context.Context, target model.ScanTarget) (*Result, error)
}

// Chain tries tiers in order.
type Chain struct {
	tiers    []Tier
	logger   *zap.Logger
	observer Observer
}

// NewChain builds a chain; nil tiers are left out.
func NewChain(logger *zap.Logger, observer Observer, tiers ...Tier) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{logger: logger, observer: observer}
	for _, t := range tiers {
		if t != nil {
			c.tiers = append(c.tiers, t)
		}
	}
	return c
}

// Run returns the result of the first successful tier with every package labeled with that tier,
// and the attempts made. Results of failed tiers are discarded, never merged. When every tier
// fails, the first degraded result is served instead, if a tier produced one.
func (c *Chain) Run(ctx context.Context, target model.ScanTarget) (*Result, []model.TierAttempt, error) {
	attempts := make([]model.TierAttempt, 0, len(c.tiers))
	var (
		errs     []error
		degraded *Result
	)

	for _, t := range c.tiers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		res, err := t.Collect(ctx, target)
		attempt := model.TierAttempt{Tier: t.Name(), Duration: time.Since(start)}

		switch {
		case err == nil && res != nil:
			attempt.Success = true
			attempt.Packages = len(res.Packages)
			attempts = append(attempts, attempt)
			c.observe(t.Name(), OutcomeSuccess)

			label(res, t.Name())
			c.logger.Info("tier served target",
				zap.String("target", target.Key()), zap.String("tier", string(t.Name())), zap.Int("packages", len(res.Packages)))
			return res, attempts, nil

		case errors.Is(err, model.ErrTierUnavailable):
			attempt.Skipped = true
			attempt.Error = err.Error()
			c.observe(t.Name(), OutcomeSkipped)
			c.logger.Debug("tier not applicable", zap.String("target", target.Key()), zap.String("tier", string(t.Name())), zap.Error(err))

		default:
			if err == nil {
				err = errors.New("no result")
			}
			attempt.Error = err.Error()
			c.observe(t.Name(), OutcomeFailure)
			c.logger.Warn("tier failed, falling back", zap.String("target", target.Key()), zap.String("tier", string(t.Name())), zap.Error(err))
			if degraded == nil && res != nil && res.Degraded {
				attempt.Packages = len(res.Packages)
				label(res, t.Name())
				degraded = res
			}
		}
		attempts = append(attempts, attempt)
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
	}

	err := fmt.Errorf("no tier served %s: %w", target.Key(), errors.Join(errs...))
	if degraded != nil && ctx.Err() == nil {
		degraded.Errors = append(degraded.Errors, err.Error())
		c.logger.Warn("serving degraded result",
			zap.String("target", target.Key()), zap.String("tier", string(degraded.Tier)), zap.Int("packages", len(degraded.Packages)))
		return degraded, attempts, nil
	}
	return nil, attempts, err
}

func label(res *Result, tier model.TierName) {
	res.Tier = tier
	for i := range res.Packages {
		res.Packages[i].Tier = tier
	}
}

func (c *Chain) observe(tier model.TierName, outcome string) {
	if c.observer != nil {
		c.observer.ObserveTier(string(tier), outcome)
	}
}

// Recursive resolves the target through the registries, starting from its declared
// dependencies when it has any and from the root package otherwise. A root of an ecosystem
// without a registry adapter resolves to a leaf.
type Recursive struct {
	Resolver *resolver.Resolver
}

// Name implements Tier.
func (r *Recursive) Name() model.TierName { return model.TierRecursiveResolution }

// Collect implements Tier. When the root's own dependencies could not be fetched the tree is
// returned as a degraded result with the error, so later tiers still get their turn.
func (r *Recursive) Collect(ctx context.Context, target model.ScanTarget) (*Result, error) {
	var tree *model.DependencyNode
	if len(target.Declared) > 0 {
		tree = r.Resolver.ResolveDeclared(ctx, target.Root, target.Spec, target.Declared)
	} else {
		tree = r.Resolver.Resolve(ctx, target.Root, target.Spec, 0)
	}

	res := &Result{Tree: tree, Packages: tree.Flatten(model.TierRecursiveResolution)}
	switch {
	case tree.Cancelled:
		return nil, fmt.Errorf("resolve %s: %w", target.Root, context.Cause(ctx))
	case tree.Incomplete:
		res.Degraded = true
		return res, fmt.Errorf("%w: %s", model.ErrRegistryUnavailable, tree.Error)
	}
	return res, nil
}

// Historical serves the last stored report of the target.
type Historical struct {
	Store database.Store
}

// Name implements Tier.
func (h *Historical) Name() model.TierName { return model.TierHistoricalCache }

// Collect implements Tier.
func (h *Historical) Collect(ctx context.Context, target model.ScanTarget) (*Result, error) {
	if h.Store == nil {
		return nil, fmt.Errorf("%w: no store", model.ErrTierUnavailable)
	}
	report, err := h.Store.GetReport(ctx, target.Key())
	if err != nil {
		return nil, fmt.Errorf("read scan history: %w", err)
	}
	if report == nil || len(report.Packages) == 0 {
		return nil, fmt.Errorf("%w: no previous scan of %s", model.ErrTierUnavailable, target.Key())
	}
	packages := make([]model.ResolvedPackage, len(report.Packages))
	copy(packages, report.Packages)
	return &Result{Packages: packages, Tree: report.Tree, Previous: report}, nil
}

// entriesToPackages turns lock or manifest entries into resolved packages, once per identity and
// spec. Flat sources do not know depth beyond direct or not.
func entriesToPackages(entries []LockEntry, logger *zap.Logger) []model.ResolvedPackage {
	seen := map[string]bool{}
	var out []model.ResolvedPackage
	for _, e := range entries {
		id, err := model.NewPackageIdentity(e.Name, string(e.Ecosystem))
		if err != nil {
			logger.Debug("skipping entry", zap.String("name", e.Name), zap.Error(err))
			continue
		}
		key := id.Key() + "@" + string(e.Spec)
		if seen[key] {
			continue
		}
		seen[key] = true

		depth := 2
		if e.Direct {
			depth = 1
		}
		out = append(out, model.ResolvedPackage{
			Identity: id,
			Spec:     e.Spec,
			Version:  matcher.Extract(e.Spec, id.Ecosystem),
			Depth:    depth,
			Direct:   e.Direct,
		})
	}
	return out
}
