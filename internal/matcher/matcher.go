// Package matcher decides whether a version falls inside advisory version ranges.
// It performs no I/O and holds no state.
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ortelius/pdvd-depscan/model"
)

// UnparseableVersionReason is returned when the version itself cannot be parsed.
const UnparseableVersionReason = "unparseable version treated as vulnerable"

// Verdict is the three-valued outcome of matching a version that may only be representative.
type Verdict string

// Verdicts.
const (
	VerdictVulnerable Verdict = "vulnerable"
	VerdictSafe       Verdict = "safe"
	VerdictUnknown    Verdict = "unknown"
)

// Scope classifies a version spec against the known-bad versions of an advisory.
type Scope string

// Scopes.
const (
	ScopeMayInclude Scope = "may_include_known_bad"
	ScopeExcludes   Scope = "appears_to_exclude_known_bad"
)

// Assessment is the result of Evaluate.
type Assessment struct {
	Verdict Verdict
	Scope   Scope
	Reason  string
}

type rangeOutcome int

const (
	rangeMiss rangeOutcome = iota
	rangeHit
	rangeUnknown
	rangeSkipped
)

// IsVulnerable reports whether version lies in any of the ranges. Each introduced/fixed pair of a
// range is checked on its own and a hit on any pair is a hit for the range.
//
// The check fails closed: an unparseable version, or a range containing an unparseable event,
// counts as vulnerable. A representative version (floor or unknown kind) never proves
// vulnerability; those are delegated to Evaluate and reported as not vulnerable with the reason.
func IsVulnerable(version model.ExactVersion, ranges []model.VulnerabilityRange) (bool, string) {
	if version.Kind == model.VersionFloor || version.Kind == model.VersionUnknown {
		a := Evaluate(version, ranges)
		return false, fmt.Sprintf("representative version cannot prove vulnerability (%s): %s", a.Scope, a.Reason)
	}
	if len(ranges) == 0 {
		return false, "no affected ranges"
	}

	parse := parserFor(version.Ecosystem)
	v, err := parse(version.Version)
	if err != nil {
		return true, UnparseableVersionReason
	}

	excluded := map[model.RangeType]int{}
	skipped := map[model.RangeType]int{}
	for i, r := range ranges {
		outcome, detail := matchRange(parse, v, r)
		switch outcome {
		case rangeHit:
			return true, fmt.Sprintf("version %s in range %d (%s)", version.Version, i, detail)
		case rangeUnknown:
			return true, fmt.Sprintf("range %d unknown (%s), treated as vulnerable", i, detail)
		case rangeSkipped:
			skipped[rangeType(r)]++
		default:
			excluded[rangeType(r)]++
		}
	}

	reason := fmt.Sprintf("version %s outside %s", version.Version, summarize(excluded))
	if len(skipped) > 0 {
		reason += "; not comparable: " + summarize(skipped)
	}
	return false, reason
}

// IsAffected extends IsVulnerable with the record's explicit list of affected versions.
func IsAffected(version model.ExactVersion, record model.VulnerabilityRecord) (bool, string) {
	if version.IsExact() {
		for _, listed := range record.AffectedVersions {
			if listed == version.Version {
				return true, fmt.Sprintf("version %s listed as affected", version.Version)
			}
		}
		if len(record.AffectedRanges) == 0 && len(record.AffectedVersions) > 0 {
			return false, fmt.Sprintf("version %s not in %d listed affected versions", version.Version, len(record.AffectedVersions))
		}
	}
	return IsVulnerable(version, record.AffectedRanges)
}

// Evaluate classifies a version of any kind against ranges.
//
// Exact versions get a vulnerable or safe verdict. A floor taken from a lower-bound-only spec
// (">=6.0") stands for "some version at or above the floor", so it can show that every affected
// interval ends at or before the floor (ScopeExcludes) but its verdict stays unknown. Unknown
// versions always may include a known-bad version when any range exists.
func Evaluate(version model.ExactVersion, ranges []model.VulnerabilityRange) Assessment {
	return evaluate(version, ranges, nil)
}

// EvaluateRecord is Evaluate including the record's explicit affected versions.
func EvaluateRecord(version model.ExactVersion, record model.VulnerabilityRecord) Assessment {
	return evaluate(version, record.AffectedRanges, record.AffectedVersions)
}

func evaluate(version model.ExactVersion, ranges []model.VulnerabilityRange, listed []string) Assessment {
	switch version.Kind {
	case model.VersionFloor:
		return evaluateFloor(version, ranges, listed)
	case model.VersionUnknown:
		if len(ranges) == 0 && len(listed) == 0 {
			return Assessment{Verdict: VerdictUnknown, Scope: ScopeExcludes, Reason: "no affected ranges"}
		}
		return Assessment{Verdict: VerdictUnknown, Scope: ScopeMayInclude, Reason: "spec has no lower bound"}
	}

	record := model.VulnerabilityRecord{AffectedRanges: ranges, AffectedVersions: listed}
	hit, reason := IsAffected(version, record)
	if hit {
		return Assessment{Verdict: VerdictVulnerable, Scope: ScopeMayInclude, Reason: reason}
	}
	return Assessment{Verdict: VerdictSafe, Scope: ScopeExcludes, Reason: reason}
}

func evaluateFloor(version model.ExactVersion, ranges []model.VulnerabilityRange, listed []string) Assessment {
	parse := parserFor(version.Ecosystem)
	floor, err := parse(version.Version)
	if err != nil {
		return Assessment{Verdict: VerdictUnknown, Scope: ScopeMayInclude, Reason: "unparseable floor " + version.Version}
	}

	for _, l := range listed {
		lv, err := parse(l)
		if err != nil || lv.compare(floor) >= 0 {
			return Assessment{Verdict: VerdictUnknown, Scope: ScopeMayInclude,
				Reason: fmt.Sprintf("affected version %s not below floor %s", l, version.Version)}
		}
	}

	for i, r := range ranges {
		if rangeType(r) == model.RangeGit {
			continue
		}
		reaches, detail := rangeReaches(parse, floor, r)
		if reaches {
			return Assessment{Verdict: VerdictUnknown, Scope: ScopeMayInclude,
				Reason: fmt.Sprintf("range %d reaches floor %s (%s)", i, version.Version, detail)}
		}
	}
	return Assessment{Verdict: VerdictUnknown, Scope: ScopeExcludes,
		Reason: fmt.Sprintf("all affected ranges end at or before floor %s", version.Version)}
}

// matchRange scans events in order, tracking the open introduced floor.
func matchRange(parse parseFunc, v parsedVersion, r model.VulnerabilityRange) (rangeOutcome, string) {
	if rangeType(r) == model.RangeGit {
		return rangeSkipped, "git"
	}

	var introduced parsedVersion
	open := false
	seen := false

	for _, ev := range r.Events {
		switch {
		case ev.Introduced != "":
			iv, err := parse(ev.Introduced)
			if err != nil {
				return rangeUnknown, fmt.Sprintf("introduced %q", ev.Introduced)
			}
			// a second introduced before any fix keeps the earlier floor
			if !open || iv.compare(introduced) < 0 {
				introduced = iv
			}
			open, seen = true, true

		case ev.Fixed != "":
			fv, err := parse(ev.Fixed)
			if err != nil {
				return rangeUnknown, fmt.Sprintf("fixed %q", ev.Fixed)
			}
			if !open && seen {
				continue
			}
			if open && fv.compare(introduced) < 0 {
				return rangeUnknown, fmt.Sprintf("fixed %s precedes introduced %s", ev.Fixed, introduced)
			}
			if (!open || v.compare(introduced) >= 0) && v.compare(fv) < 0 {
				return rangeHit, fmt.Sprintf("before fix %s", ev.Fixed)
			}
			open, seen = false, true

		case ev.LastAffected != "":
			lv, err := parse(ev.LastAffected)
			if err != nil {
				return rangeUnknown, fmt.Sprintf("last_affected %q", ev.LastAffected)
			}
			if !open && seen {
				continue
			}
			if open && lv.compare(introduced) < 0 {
				return rangeUnknown, fmt.Sprintf("last_affected %s precedes introduced %s", ev.LastAffected, introduced)
			}
			if (!open || v.compare(introduced) >= 0) && v.compare(lv) <= 0 {
				return rangeHit, fmt.Sprintf("at or before last affected %s", ev.LastAffected)
			}
			open, seen = false, true
		}
	}

	if open && v.compare(introduced) >= 0 {
		return rangeHit, fmt.Sprintf("introduced %s, no fix", introduced)
	}
	return rangeMiss, ""
}

// rangeReaches reports whether some interval of r contains a version at or above floor.
func rangeReaches(parse parseFunc, floor parsedVersion, r model.VulnerabilityRange) (bool, string) {
	open := false
	for _, ev := range r.Events {
		switch {
		case ev.Introduced != "":
			if _, err := parse(ev.Introduced); err != nil {
				return true, fmt.Sprintf("unparseable introduced %q", ev.Introduced)
			}
			open = true
		case ev.Fixed != "":
			fv, err := parse(ev.Fixed)
			if err != nil {
				return true, fmt.Sprintf("unparseable fixed %q", ev.Fixed)
			}
			if fv.compare(floor) > 0 {
				return true, "fixed in " + ev.Fixed
			}
			open = false
		case ev.LastAffected != "":
			lv, err := parse(ev.LastAffected)
			if err != nil {
				return true, fmt.Sprintf("unparseable last_affected %q", ev.LastAffected)
			}
			if lv.compare(floor) >= 0 {
				return true, "last affected " + ev.LastAffected
			}
			open = false
		}
	}
	if open {
		return true, "no fix"
	}
	return false, ""
}

func rangeType(r model.VulnerabilityRange) model.RangeType {
	if r.Type == "" {
		return model.RangeEcosystem
	}
	return model.RangeType(strings.ToUpper(string(r.Type)))
}

func summarize(counts map[model.RangeType]int) string {
	if len(counts) == 0 {
		return "0 ranges"
	}
	parts := make([]string, 0, len(counts))
	for t, n := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", n, t))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ") + " range(s)"
}
