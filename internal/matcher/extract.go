package matcher

import (
	"regexp"
	"strings"

	"github.com/ortelius/pdvd-depscan/model"
)

// operators ordered so that longer prefixes win
var operators = []string{"===", "==", "~=", ">=", "<=", "!=", "^", "~", ">", "<", "="}

var (
	clauseSplitter = regexp.MustCompile(`\s*,\s*|\s+`)
	hyphenRange    = regexp.MustCompile(`^\s*(\S+)\s+-\s+(\S+)\s*$`)
	operatorSpace  = regexp.MustCompile(`(===|==|~=|>=|<=|!=|\^|~|>|<|=)\s+`)
)

// Extract derives a comparable version from a raw spec. The outcome is exact for pinned specs
// ("==1.11", "=6.0.2", a bare npm/PyPI/Maven/Go version), floor for specs bounded from below
// (">=5.4,<7.0", "^6.0", "~=2.2", "1.2.*") and unknown otherwise ("<7", "*", "").
//
// Cargo treats a bare version as a caret requirement, so bare crates versions are floors.
func Extract(spec model.VersionSpec, ecosystem model.Ecosystem) model.ExactVersion {
	unknown := model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: ecosystem}

	s := strings.TrimSpace(string(spec))
	switch strings.ToLower(s) {
	case "", "*", "x", "latest", "any":
		return unknown
	}

	if ecosystem == model.EcosystemMaven && (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "(")) {
		return extractMavenRange(s, ecosystem)
	}

	if strings.Contains(s, "||") {
		return extractAlternatives(s, ecosystem)
	}

	if m := hyphenRange.FindStringSubmatch(s); m != nil {
		return model.ExactVersion{Version: m[1], Kind: model.VersionFloor, Ecosystem: ecosystem}
	}
	s = operatorSpace.ReplaceAllString(s, "$1")

	var exact, floor string
	for _, clause := range clauseSplitter.Split(s, -1) {
		if clause == "" {
			continue
		}
		op, version := splitOperator(clause)
		if version == "" {
			continue
		}
		switch op {
		case "==", "===", "=", "":
			if prefix, wildcard := wildcardPrefix(version); wildcard {
				if prefix == "" {
					continue
				}
				floor = maxFloor(ecosystem, floor, prefix)
				continue
			}
			if op == "" && ecosystem == model.EcosystemCrates {
				floor = maxFloor(ecosystem, floor, version)
				continue
			}
			if exact == "" {
				exact = version
			}
		case ">=", ">", "~=", "^", "~":
			if prefix, wildcard := wildcardPrefix(version); wildcard {
				version = prefix
			}
			if version != "" {
				floor = maxFloor(ecosystem, floor, version)
			}
		}
	}

	switch {
	case exact != "":
		return model.ExactVersion{Version: exact, Kind: model.VersionExact, Ecosystem: ecosystem}
	case floor != "":
		return model.ExactVersion{Version: floor, Kind: model.VersionFloor, Ecosystem: ecosystem}
	default:
		return unknown
	}
}

func splitOperator(clause string) (string, string) {
	clause = strings.TrimSpace(clause)
	for _, op := range operators {
		if strings.HasPrefix(clause, op) {
			return op, strings.TrimSpace(clause[len(op):])
		}
	}
	return "", clause
}

// wildcardPrefix turns "1.2.*" or "1.x" into "1.2" / "1".
func wildcardPrefix(version string) (string, bool) {
	parts := strings.Split(version, ".")
	for i, p := range parts {
		if p == "*" || p == "x" || p == "X" {
			return strings.Join(parts[:i], "."), true
		}
	}
	return version, false
}

// maxFloor keeps the higher of two lower bounds; when they do not compare the first one stays.
func maxFloor(ecosystem model.Ecosystem, current, candidate string) string {
	if current == "" {
		return candidate
	}
	if cmp, ok := Compare(ecosystem, candidate, current); ok && cmp > 0 {
		return candidate
	}
	return current
}

// extractAlternatives handles npm "a || b": the lowest lower bound over all alternatives, unknown
// if any alternative is unbounded below.
func extractAlternatives(s string, ecosystem model.Ecosystem) model.ExactVersion {
	var lowest string
	allExact := true
	for _, alt := range strings.Split(s, "||") {
		v := Extract(model.VersionSpec(alt), ecosystem)
		if v.Kind == model.VersionUnknown {
			return model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: ecosystem}
		}
		if v.Kind != model.VersionExact || (lowest != "" && lowest != v.Version) {
			allExact = false
		}
		if lowest == "" {
			lowest = v.Version
			continue
		}
		if cmp, ok := Compare(ecosystem, v.Version, lowest); ok && cmp < 0 {
			lowest = v.Version
		}
	}
	kind := model.VersionFloor
	if allExact {
		kind = model.VersionExact
	}
	return model.ExactVersion{Version: lowest, Kind: kind, Ecosystem: ecosystem}
}

// extractMavenRange handles "[1.2.3]" (pinned), "[1.0,2.0)" (floor 1.0) and "(,1.0]" (unknown).
func extractMavenRange(s string, ecosystem model.Ecosystem) model.ExactVersion {
	if len(s) < 2 {
		return model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: ecosystem}
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	lower, _, hasComma := strings.Cut(inner, ",")
	lower = strings.TrimSpace(lower)

	switch {
	case !hasComma && strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") && lower != "":
		return model.ExactVersion{Version: lower, Kind: model.VersionExact, Ecosystem: ecosystem}
	case lower != "":
		return model.ExactVersion{Version: lower, Kind: model.VersionFloor, Ecosystem: ecosystem}
	default:
		return model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: ecosystem}
	}
}
