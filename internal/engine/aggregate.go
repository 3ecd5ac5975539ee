package engine

import (
	"math"
	"sort"

	"github.com/ortelius/pdvd-depscan/model"
)

// Confidence values per match quality.
const (
	ConfidenceExact    = 1.0
	ConfidenceFloor    = 0.5
	ConfidenceUnknown  = 0.3
	ConfidenceExternal = 0.8
)

// DefaultTopRisks is how many packages a report ranks.
const DefaultTopRisks = 10

// Deduplicate collapses findings with the same (package, advisory) pair, keeping the one with the
// higher confidence. On a tie the earlier finding wins. Order of first appearance is kept.
func Deduplicate(findings []model.Finding) []model.Finding {
	index := make(map[string]int, len(findings))
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		key := f.DedupKey()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, f)
			continue
		}
		if f.Confidence > out[i].Confidence {
			out[i] = f
		}
	}
	return out
}

// RiskScore is clamp(sum(weight*confidence) / (count*maxWeight) * 10, 0, 10) with its level.
func RiskScore(findings []model.Finding) (float64, model.Severity) {
	if len(findings) == 0 {
		return 0, model.SeverityForScore(0)
	}
	var total float64
	for _, f := range findings {
		total += f.Severity.Weight() * f.Confidence
	}
	score := total / (float64(len(findings)) * model.MaxSeverityWeight) * 10
	score = math.Max(0, math.Min(10, score))
	score = math.Round(score*100) / 100
	return score, model.SeverityForScore(score)
}

// SeverityBreakdown counts findings per severity.
func SeverityBreakdown(findings []model.Finding) map[model.Severity]int {
	out := map[model.Severity]int{}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}

// TopRisks ranks packages by their worst severity, then finding count, then highest CVSS score.
func TopRisks(findings []model.Finding, n int) []model.PackageRisk {
	byPackage := map[string]*model.PackageRisk{}
	var order []string
	for _, f := range findings {
		key := f.Package.Key()
		r, ok := byPackage[key]
		if !ok {
			r = &model.PackageRisk{Identity: f.Package, Version: f.Version, Direct: f.Direct, MaxSeverity: f.Severity}
			byPackage[key] = r
			order = append(order, key)
		}
		r.FindingCount++
		r.Advisories = append(r.Advisories, f.AdvisoryID)
		if f.CVSSScore > r.MaxCVSS {
			r.MaxCVSS = f.CVSSScore
		}
		if f.Severity.Rank() > r.MaxSeverity.Rank() {
			r.MaxSeverity = f.Severity
		}
	}

	out := make([]model.PackageRisk, 0, len(order))
	for _, key := range order {
		out = append(out, *byPackage[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MaxSeverity.Rank() != b.MaxSeverity.Rank() {
			return a.MaxSeverity.Rank() > b.MaxSeverity.Rank()
		}
		if a.FindingCount != b.FindingCount {
			return a.FindingCount > b.FindingCount
		}
		return a.MaxCVSS > b.MaxCVSS
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
