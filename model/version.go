// Package model - version specs and the exact versions extracted from them.
package model

// VersionSpec is a raw, ecosystem-specific constraint such as ">=5.4,<7.0", "^6.0" or "=6.0.2".
type VersionSpec string

// VersionKind says how much an extracted version can be trusted.
type VersionKind string

// Extraction outcomes.
const (
	// VersionExact is a pinned version.
	VersionExact VersionKind = "exact"
	// VersionFloor is a representative taken from a lower bound; the installed version may be newer.
	VersionFloor VersionKind = "floor"
	// VersionUnknown means the spec does not bound the version from below.
	VersionUnknown VersionKind = "unknown"
)

// ExactVersion is a concrete, comparable version resolved from a spec.
type ExactVersion struct {
	Version   string      `json:"version,omitempty" yaml:"version,omitempty"`
	Kind      VersionKind `json:"kind" yaml:"kind"`
	Ecosystem Ecosystem   `json:"ecosystem,omitempty" yaml:"ecosystem,omitempty"`
}

// Exact builds a pinned version.
func Exact(version string, ecosystem Ecosystem) ExactVersion {
	return ExactVersion{Version: version, Kind: VersionExact, Ecosystem: ecosystem}
}

// IsExact reports whether the version is pinned.
func (v ExactVersion) IsExact() bool {
	return v.Kind == VersionExact && v.Version != ""
}

// Display returns the version when one is known and the spec otherwise.
func (v ExactVersion) Display(spec VersionSpec) string {
	if v.IsExact() {
		return v.Version
	}
	if spec != "" {
		return string(spec)
	}
	return "*"
}
