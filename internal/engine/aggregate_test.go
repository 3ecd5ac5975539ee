package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/engine"
	"github.com/ortelius/pdvd-depscan/model"
)

func TestDeduplicateKeepsHigherConfidence(t *testing.T) {
	pkg := pypi("requests")
	findings := []model.Finding{
		{AdvisoryID: "GHSA-x", Package: pkg, Confidence: 0.5, Source: "osv"},
		{AdvisoryID: "GHSA-y", Package: pkg, Confidence: 0.3, Source: "osv"},
		{AdvisoryID: "GHSA-x", Package: pkg, Confidence: 1.0, Source: "grype"},
		{AdvisoryID: "GHSA-y", Package: pkg, Confidence: 0.3, Source: "bandit"},
		{AdvisoryID: "GHSA-x", Package: pypi("urllib3"), Confidence: 0.2, Source: "osv"},
	}

	got := engine.Deduplicate(findings)

	want := []model.Finding{
		{AdvisoryID: "GHSA-x", Package: pkg, Confidence: 1.0, Source: "grype"},
		{AdvisoryID: "GHSA-y", Package: pkg, Confidence: 0.3, Source: "osv"},
		{AdvisoryID: "GHSA-x", Package: pypi("urllib3"), Confidence: 0.2, Source: "osv"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Deduplicate() mismatch (-want +got):\n%s", diff)
	}
}

func TestRiskScore(t *testing.T) {
	f := func(sev model.Severity, confidence float64) model.Finding {
		return model.Finding{Severity: sev, Confidence: confidence}
	}
	tests := []struct {
		name      string
		findings  []model.Finding
		wantScore float64
		wantLevel model.Severity
	}{
		{name: "no findings", wantScore: 0, wantLevel: model.SeverityInfo},
		{name: "one critical", findings: []model.Finding{f(model.SeverityCritical, 1)}, wantScore: 10, wantLevel: model.SeverityCritical},
		{name: "high", findings: []model.Finding{f(model.SeverityHigh, 1)}, wantScore: 7.5, wantLevel: model.SeverityHigh},
		{name: "medium", findings: []model.Finding{f(model.SeverityMedium, 1)}, wantScore: 5, wantLevel: model.SeverityMedium},
		{name: "possibly affected low", findings: []model.Finding{f(model.SeverityLow, 0.5)}, wantScore: 1.25, wantLevel: model.SeverityLow},
		{name: "info only", findings: []model.Finding{f(model.SeverityInfo, 1)}, wantScore: 0, wantLevel: model.SeverityInfo},
		{name: "unknown weighs as medium", findings: []model.Finding{f(model.SeverityUnknown, 1)}, wantScore: 5, wantLevel: model.SeverityMedium},
		{name: "mixed", findings: []model.Finding{f(model.SeverityCritical, 1), f(model.SeverityLow, 1)}, wantScore: 6.25, wantLevel: model.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level := engine.RiskScore(tt.findings)
			assert.InDelta(t, tt.wantScore, score, 0.001)
			assert.Equal(t, tt.wantLevel, level)
		})
	}
}

func TestTopRisks(t *testing.T) {
	findings := []model.Finding{
		{AdvisoryID: "A", Package: npm("low-many"), Severity: model.SeverityLow},
		{AdvisoryID: "B", Package: npm("low-many"), Severity: model.SeverityLow},
		{AdvisoryID: "C", Package: npm("crit"), Severity: model.SeverityCritical, CVSSScore: 9.8},
		{AdvisoryID: "D", Package: npm("high"), Severity: model.SeverityHigh, CVSSScore: 7.1},
	}

	top := engine.TopRisks(findings, 2)

	require.Len(t, top, 2)
	assert.Equal(t, "crit", top[0].Identity.Name)
	assert.Equal(t, 9.8, top[0].MaxCVSS)
	assert.Equal(t, "high", top[1].Identity.Name)
}

func putEdges(t *testing.T, store database.Store, from model.PackageIdentity, to ...model.PackageIdentity) {
	t.Helper()
	set := model.EdgeSet{Package: from, ResolvedAt: time.Now()}
	for _, dep := range to {
		set.Edges = append(set.Edges, model.ResolvedEdge{Package: from, DependsOn: dep, Depth: 1})
	}
	require.NoError(t, store.PutEdges(context.Background(), set))
}

func TestImpactAndTransitive(t *testing.T) {
	store := database.NewMemoryStore()
	putEdges(t, store, npm("a"), npm("b"))
	putEdges(t, store, npm("b"), npm("c"))
	putEdges(t, store, npm("d"), npm("c"))
	putEdges(t, store, npm("c"), npm("a"))
	e := engine.New(store, newFakeRegistry(), newFakeSource(), engine.Options{})

	impact, err := e.Impact(context.Background(), npm("c"), 0)
	require.NoError(t, err)
	want := []model.ImpactEntry{
		{Package: npm("b"), Depth: 1, Path: "npm:b > npm:c"},
		{Package: npm("d"), Depth: 1, Path: "npm:d > npm:c"},
		{Package: npm("a"), Depth: 2, Path: "npm:a > npm:b > npm:c"},
	}
	if diff := cmp.Diff(want, impact); diff != "" {
		t.Errorf("Impact() mismatch (-want +got):\n%s", diff)
	}

	limited, err := e.Impact(context.Background(), npm("c"), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	deps, err := e.Transitive(context.Background(), npm("a"), 0)
	require.NoError(t, err)
	want = []model.ImpactEntry{
		{Package: npm("b"), Depth: 1, Path: "npm:a > npm:b"},
		{Package: npm("c"), Depth: 2, Path: "npm:a > npm:b > npm:c"},
	}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("Transitive() mismatch (-want +got):\n%s", diff)
	}

	_, err = engine.New(nil, newFakeRegistry(), newFakeSource(), engine.Options{}).Impact(context.Background(), npm("c"), 0)
	assert.ErrorIs(t, err, engine.ErrNoStore)
}
