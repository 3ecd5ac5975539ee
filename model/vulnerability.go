// Package model - advisory records and their affected-version ranges.
package model

import (
	"strings"
	"time"
)

// Severity is a normalized severity label.
type Severity string

// Severity levels, highest first.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
	SeverityUnknown  Severity = "UNKNOWN"
)

// MaxSeverityWeight is the weight of the highest severity.
const MaxSeverityWeight = 10.0

// Weight is the severity's contribution to a risk score. An advisory with no usable severity is
// weighed as MEDIUM rather than ignored.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7.5
	case SeverityMedium, SeverityUnknown:
		return 5
	case SeverityLow:
		return 2.5
	default:
		return 0
	}
}

// Rank orders severities for sorting; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityUnknown:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity accepts any casing of a severity label.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return sev
	case "NONE":
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// SeverityForScore maps a 0-10 risk score onto the level ladder.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 9:
		return SeverityCritical
	case score >= 7:
		return SeverityHigh
	case score >= 4:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// RangeType mirrors the OSV range types.
type RangeType string

// Range types. GIT ranges are commit based and cannot be compared against versions.
const (
	RangeSemVer    RangeType = "SEMVER"
	RangeEcosystem RangeType = "ECOSYSTEM"
	RangeGit       RangeType = "GIT"
)

// RangeEvent is one event of a range; exactly one field is set.
type RangeEvent struct {
	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`
}

// VulnerabilityRange is an ordered event list. introduced "0" means from the beginning.
type VulnerabilityRange struct {
	Type   RangeType    `json:"type,omitempty"`
	Events []RangeEvent `json:"events"`
}

// Introduced builds an open-ended range starting at v.
func Introduced(v string) VulnerabilityRange {
	return VulnerabilityRange{Type: RangeEcosystem, Events: []RangeEvent{{Introduced: v}}}
}

// IntroducedFixed builds the range [introduced, fixed).
func IntroducedFixed(introduced, fixed string) VulnerabilityRange {
	return VulnerabilityRange{Type: RangeEcosystem, Events: []RangeEvent{{Introduced: introduced}, {Fixed: fixed}}}
}

// VulnerabilityRecord is one advisory as it applies to one package. (ID, Package) is unique.
type VulnerabilityRecord struct {
	ID               string               `json:"id"`
	Aliases          []string             `json:"aliases,omitempty"`
	Package          PackageIdentity      `json:"package"`
	Severity         Severity             `json:"severity"`
	CVSSScore        float64              `json:"cvss_score,omitempty"`
	CVSSVector       string               `json:"cvss_vector,omitempty"`
	AffectedRanges   []VulnerabilityRange `json:"affected_ranges,omitempty"`
	AffectedVersions []string             `json:"affected_versions,omitempty"`
	FixedVersions    []string             `json:"fixed_versions,omitempty"`
	Description      string               `json:"description,omitempty"`
	References       []string             `json:"references,omitempty"`
	Published        time.Time            `json:"published,omitempty"`
	Modified         time.Time            `json:"modified,omitempty"`
}

// VulnerabilitySet is the persisted advisory list of one package. An empty Records slice means the
// package was checked and has no advisories.
type VulnerabilitySet struct {
	Package  PackageIdentity       `json:"package"`
	Records  []VulnerabilityRecord `json:"records"`
	CachedAt time.Time             `json:"cached_at"`
}
