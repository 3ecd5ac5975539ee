// Package engine is the scan façade: it picks a dependency source for a target through the tier
// chain, queries advisories once per unique package, matches them against the resolved versions
// and aggregates the findings into a scored report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/cache"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/internal/osv"
	"github.com/ortelius/pdvd-depscan/internal/registry"
	"github.com/ortelius/pdvd-depscan/internal/resolver"
	"github.com/ortelius/pdvd-depscan/internal/tiers"
	"github.com/ortelius/pdvd-depscan/model"
)

// Scan outcomes reported to an Observer.
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
	OutcomeFailed     = "failed"
)

// Observer collects engine telemetry. Every method may be called concurrently.
type Observer interface {
	cache.Observer
	tiers.Observer
	ObserveScan(tier, outcome string, findings int, elapsed time.Duration)
}

// Options configures an Engine. Zero values take the package defaults.
type Options struct {
	MaxDepth int
	// Workers bounds registry and advisory calls within one scan.
	Workers int
	// TargetWorkers bounds how many targets ScanAll runs at once.
	TargetWorkers int
	CacheTTL      time.Duration
	TopRisks      int
	// Manifest and Lockfile are the tiers tried before recursive resolution; either may be nil.
	Manifest tiers.Tier
	Lockfile tiers.Tier
	Logger   *zap.Logger
	Observer Observer
}

// Engine runs scans. It holds no per-scan state: every scan gets its own resolution cache over
// the shared store, so engines and scans can run side by side.
type Engine struct {
	store    database.Store
	registry registry.Client
	vulns    osv.Source
	opts     Options
	logger   *zap.Logger
}

// New builds an engine. store may be nil, in which case nothing outlives a scan.
func New(store database.Store, reg registry.Client, vulns osv.Source, opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = resolver.DefaultMaxDepth
	}
	if opts.Workers <= 0 {
		opts.Workers = resolver.DefaultWorkers
	}
	if opts.TargetWorkers <= 0 {
		opts.TargetWorkers = 2
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.TopRisks <= 0 {
		opts.TopRisks = DefaultTopRisks
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{store: store, registry: reg, vulns: vulns, opts: opts, logger: opts.Logger}
}

// Store returns the engine's persistent store.
func (e *Engine) Store() database.Store { return e.store }

// Scan produces the report of one target. Only an invalid root aborts the scan; every other
// failure is recorded on the report, which is then stored as the target's latest history entry.
func (e *Engine) Scan(ctx context.Context, target model.ScanTarget) (*model.ScanReport, error) {
	if target.Root.IsZero() || target.Root.Name == "" || target.Root.Ecosystem == "" {
		return nil, &model.ParseError{Kind: "identity", Input: target.Root.Key(), Reason: "scan target has no root package"}
	}

	report := &model.ScanReport{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: time.Now().UTC(),
	}
	logger := e.logger.With(zap.String("scan", report.ID), zap.String("target", target.Key()))
	logger.Info("scan started")

	c := cache.New(e.store, cache.Options{TTL: e.opts.CacheTTL, Logger: logger, Observer: e.cacheObserver()})
	res := resolver.New(e.registry, c, resolver.Options{MaxDepth: e.opts.MaxDepth, Workers: e.opts.Workers, Logger: logger})

	var history tiers.Tier
	if e.store != nil {
		history = &tiers.Historical{Store: e.store}
	}
	chain := tiers.NewChain(logger, e.tierObserver(), e.opts.Manifest, e.opts.Lockfile, &tiers.Recursive{Resolver: res}, history)

	result, attempts, err := chain.Run(ctx, target)
	report.TierAttempts = attempts
	if err != nil {
		report.Incomplete = true
		report.SourceErrors = append(report.SourceErrors, err.Error())
		report.Packages = []model.ResolvedPackage{}
		report.Findings = []model.Finding{}
		report.RiskLevel = model.SeverityInfo
		report.SeverityBreakdown = map[model.Severity]int{}
		report.CacheStats = e.cacheStats(c, res)
		report.FinishedAt = time.Now().UTC()
		logger.Warn("no dependency source served the target", zap.Error(err))
		e.observeScan(report, OutcomeFailed)
		return report, nil
	}

	report.TierUsed = result.Tier
	report.Tree = result.Tree
	report.SourceErrors = append(report.SourceErrors, result.Errors...)
	report.Packages = withRoot(result.Packages, target, result.Tier)
	if result.Tree != nil {
		report.IncompleteNodes = result.Tree.IncompleteNodes()
	}

	findings, informational, sourceErrs := e.match(ctx, c, report.Packages, logger)
	for _, ext := range target.ExternalFindings {
		findings = append(findings, external(ext))
	}
	report.Findings = Deduplicate(findings)
	report.Informational = withoutActionable(Deduplicate(informational), report.Findings)
	sortFindings(report.Findings)

	report.SourceErrors = append(report.SourceErrors, sourceErrs...)
	report.RiskScore, report.RiskLevel = RiskScore(report.Findings)
	report.SeverityBreakdown = SeverityBreakdown(report.Findings)
	report.TopRisks = TopRisks(report.Findings, e.opts.TopRisks)
	report.Incomplete = len(report.IncompleteNodes) > 0 || len(report.SourceErrors) > 0
	report.CacheStats = e.cacheStats(c, res)
	report.FinishedAt = time.Now().UTC()

	// A degraded result would shadow the last good history entry of the target.
	if e.store != nil && report.TierUsed != model.TierHistoricalCache && !result.Degraded && ctx.Err() == nil {
		if err := e.store.PutReport(ctx, *report); err != nil {
			logger.Warn("failed to store scan history", zap.Error(err))
		}
	}

	outcome := OutcomeComplete
	if report.Incomplete {
		outcome = OutcomeIncomplete
	}
	e.observeScan(report, outcome)
	logger.Info("scan finished",
		zap.String("tier", string(report.TierUsed)),
		zap.Int("packages", len(report.Packages)),
		zap.Int("findings", len(report.Findings)),
		zap.Float64("risk_score", report.RiskScore),
		zap.String("risk_level", string(report.RiskLevel)),
		zap.Bool("incomplete", report.Incomplete),
	)
	return report, nil
}

// ScanAll scans targets on a bounded pool. done, when set, is called as each report finishes.
// Reports keep the order of targets; a target that could not be scanned at all has a nil report
// and its error is part of the returned error.
func (e *Engine) ScanAll(ctx context.Context, targets []model.ScanTarget, done func(*model.ScanReport)) ([]*model.ScanReport, error) {
	reports := make([]*model.ScanReport, len(targets))
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(e.opts.TargetWorkers)
	for i, target := range targets {
		g.Go(func() error {
			report, err := e.Scan(ctx, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", target.Key(), err))
				return nil
			}
			reports[i] = report
			if done != nil {
				done(report)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

type packageMatch struct {
	findings      []model.Finding
	informational []model.Finding
	err           error
}

// match queries advisories per unique identity and classifies them against every resolved
// version of that identity.
func (e *Engine) match(ctx context.Context, c *cache.Cache, packages []model.ResolvedPackage, logger *zap.Logger) ([]model.Finding, []model.Finding, []string) {
	results := make([]packageMatch, len(packages))

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, pkg := range packages {
		g.Go(func() error {
			records, err := c.Vulnerabilities(ctx, pkg.Identity, func(ctx context.Context) ([]model.VulnerabilityRecord, error) {
				return e.vulns.Query(ctx, pkg.Identity, nil)
			})
			if err != nil {
				results[i].err = err
				return nil
			}
			for _, rec := range records {
				f, actionable := classify(pkg, rec)
				if actionable {
					results[i].findings = append(results[i].findings, f)
				} else {
					results[i].informational = append(results[i].informational, f)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var findings, informational []model.Finding
	var errs []string
	seenErr := map[string]bool{}
	for i, r := range results {
		findings = append(findings, r.findings...)
		informational = append(informational, r.informational...)
		if r.err != nil {
			key := packages[i].Identity.Key()
			if seenErr[key] {
				continue
			}
			seenErr[key] = true
			logger.Warn("advisory lookup failed", zap.String("package", key), zap.Error(r.err))
			errs = append(errs, fmt.Sprintf("%s: %v", key, r.err))
		}
	}
	return findings, informational, errs
}

// classify applies one advisory to one resolved package. Exact versions are matched; floors and
// unknown versions can at most be possibly affected.
func classify(pkg model.ResolvedPackage, rec model.VulnerabilityRecord) (model.Finding, bool) {
	f := model.Finding{
		AdvisoryID:    rec.ID,
		Aliases:       rec.Aliases,
		Package:       pkg.Identity,
		Spec:          pkg.Spec,
		Severity:      rec.Severity,
		CVSSScore:     rec.CVSSScore,
		FixedVersions: rec.FixedVersions,
		Description:   rec.Description,
		Path:          model.PathString(pkg.Path),
		Direct:        pkg.Direct,
		Tier:          pkg.Tier,
		Source:        "osv",
	}
	if pkg.Version.IsExact() {
		f.Version = pkg.Version.Version
	}
	if f.Severity == "" {
		f.Severity = model.SeverityUnknown
	}

	a := matcher.EvaluateRecord(pkg.Version, rec)
	f.Reason = a.Reason
	switch {
	case a.Verdict == matcher.VerdictVulnerable:
		f.Status, f.Confidence = model.StatusVulnerable, ConfidenceExact
	case a.Verdict == matcher.VerdictUnknown && a.Scope == matcher.ScopeMayInclude:
		f.Status, f.Confidence = model.StatusPossiblyAffected, ConfidenceUnknown
		if pkg.Version.Kind == model.VersionFloor {
			f.Confidence = ConfidenceFloor
		}
	default:
		f.Status = model.StatusInformational
		return f, false
	}
	return f, true
}

// external brings a third-party finding onto the engine's terms. Its package identity is
// canonicalized so that it deduplicates against the advisory source's findings.
func external(f model.Finding) model.Finding {
	if id, err := model.NewPackageIdentity(f.Package.Name, string(f.Package.Ecosystem)); err == nil {
		f.Package = id
	}
	if f.Source == "" {
		f.Source = "external"
	}
	if f.Confidence <= 0 {
		f.Confidence = ConfidenceExternal
	}
	if f.Status == "" {
		f.Status = model.StatusVulnerable
	}
	f.Severity = model.ParseSeverity(string(f.Severity))
	return f
}

// withRoot puts the target's root first in the package list when the tier did not list it.
func withRoot(packages []model.ResolvedPackage, target model.ScanTarget, tier model.TierName) []model.ResolvedPackage {
	for _, p := range packages {
		if p.Identity == target.Root {
			return packages
		}
	}
	root := model.ResolvedPackage{
		Identity: target.Root,
		Spec:     target.Spec,
		Version:  matcher.Extract(target.Spec, target.Root.Ecosystem),
		Path:     []model.PackageIdentity{target.Root},
		Tier:     tier,
	}
	return append([]model.ResolvedPackage{root}, packages...)
}

func withoutActionable(informational, findings []model.Finding) []model.Finding {
	actionable := make(map[string]bool, len(findings))
	for _, f := range findings {
		actionable[f.DedupKey()] = true
	}
	out := informational[:0]
	for _, f := range informational {
		if !actionable[f.DedupKey()] {
			out = append(out, f)
		}
	}
	return out
}

func sortFindings(findings []model.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.Confidence > b.Confidence
	})
}

func (e *Engine) cacheStats(c *cache.Cache, r *resolver.Resolver) model.CacheStats {
	stats := c.Stats()
	stats.SubtreeHits = r.SubtreeHits()
	return stats
}

func (e *Engine) cacheObserver() cache.Observer {
	if e.opts.Observer == nil {
		return nil
	}
	return e.opts.Observer
}

func (e *Engine) tierObserver() tiers.Observer {
	if e.opts.Observer == nil {
		return nil
	}
	return e.opts.Observer
}

func (e *Engine) observeScan(report *model.ScanReport, outcome string) {
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveScan(string(report.TierUsed), outcome, len(report.Findings), report.FinishedAt.Sub(report.StartedAt))
	}
}
