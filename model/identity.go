// Package model - PackageIdentity is the normalized (name, ecosystem) key every cache,
// store and graph node in the engine is indexed by.
package model

import (
	"strings"

	"github.com/ortelius/pdvd-depscan/util"
)

// Ecosystem is the canonical lower-case ecosystem key ("pypi", "npm", "maven", "go", "crates").
type Ecosystem string

// Ecosystems with registry adapters.
const (
	EcosystemPyPI   Ecosystem = "pypi"
	EcosystemNPM    Ecosystem = "npm"
	EcosystemMaven  Ecosystem = "maven"
	EcosystemGo     Ecosystem = "go"
	EcosystemCrates Ecosystem = "crates"
)

// OSV returns the ecosystem spelled the way the OSV API expects.
func (e Ecosystem) OSV() string {
	return util.OSVEcosystem(string(e))
}

// PackageIdentity is an immutable, normalized package key.
type PackageIdentity struct {
	Name      string    `json:"name" yaml:"name"`
	Ecosystem Ecosystem `json:"ecosystem" yaml:"ecosystem"`
}

// NewPackageIdentity normalizes name and ecosystem. Ecosystems without a registry adapter are
// accepted; resolution of them degrades to an empty dependency list.
func NewPackageIdentity(name, ecosystem string) (PackageIdentity, error) {
	if util.IsEmpty(ecosystem) {
		return PackageIdentity{}, &ParseError{Kind: "identity", Input: name, Reason: "ecosystem is required"}
	}
	eco := util.NormalizeEcosystem(ecosystem)
	normalized := util.NormalizePackageName(name, eco)
	if normalized == "" {
		return PackageIdentity{}, &ParseError{Kind: "identity", Input: name, Reason: "package name is required"}
	}
	if strings.ContainsAny(normalized, " \t\n") {
		return PackageIdentity{}, &ParseError{Kind: "identity", Input: name, Reason: "package name contains whitespace"}
	}
	return PackageIdentity{Name: normalized, Ecosystem: Ecosystem(eco)}, nil
}

// MustPackageIdentity is NewPackageIdentity for literals known to be valid.
func MustPackageIdentity(name, ecosystem string) PackageIdentity {
	id, err := NewPackageIdentity(name, ecosystem)
	if err != nil {
		panic(err)
	}
	return id
}

// ParsePackageURL turns a PURL such as pkg:pypi/django@1.11 into an identity and, when the PURL
// carries a version, an exact version spec.
func ParsePackageURL(purl string) (PackageIdentity, VersionSpec, error) {
	p, err := util.ParsePURL(purl)
	if err != nil {
		return PackageIdentity{}, "", &ParseError{Kind: "purl", Input: purl, Reason: err.Error()}
	}
	id, err := NewPackageIdentity(util.PurlPackageName(*p), p.Type)
	if err != nil {
		return PackageIdentity{}, "", err
	}
	var spec VersionSpec
	if p.Version != "" {
		spec = VersionSpec("==" + p.Version)
	}
	return id, spec, nil
}

// Key is the string form used as a map and storage key.
func (p PackageIdentity) Key() string {
	return string(p.Ecosystem) + ":" + p.Name
}

func (p PackageIdentity) String() string {
	return p.Key()
}

// IsZero reports whether the identity is unset.
func (p PackageIdentity) IsZero() bool {
	return p.Name == "" && p.Ecosystem == ""
}

// ParseIdentityKey reverses Key.
func ParseIdentityKey(key string) (PackageIdentity, error) {
	eco, name, ok := strings.Cut(key, ":")
	if !ok {
		return PackageIdentity{}, &ParseError{Kind: "identity", Input: key, Reason: "expected ecosystem:name"}
	}
	return NewPackageIdentity(name, eco)
}

// PURL renders the identity as a package URL, with version when given.
func (p PackageIdentity) PURL(version string) string {
	return util.BuildPURL(string(p.Ecosystem), p.Name, version)
}
