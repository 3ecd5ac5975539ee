package matcher

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
	mvn "github.com/masahiro331/go-mvn-version"

	"github.com/ortelius/pdvd-depscan/model"
)

// parsedVersion is a parsed version of one ecosystem. compare is only called with a value produced by
// the same parser.
type parsedVersion interface {
	compare(other parsedVersion) int
	String() string
}

type parseFunc func(string) (parsedVersion, error)

type semverVersion struct{ v *semver.Version }

func (s semverVersion) compare(o parsedVersion) int { return s.v.Compare(o.(semverVersion).v) }
func (s semverVersion) String() string              { return s.v.Original() }

type npmVersion struct{ v npm.Version }

func (n npmVersion) compare(o parsedVersion) int {
	other := o.(npmVersion).v
	switch {
	case n.v.LessThan(other):
		return -1
	case n.v.GreaterThan(other):
		return 1
	default:
		return 0
	}
}
func (n npmVersion) String() string { return n.v.String() }

type pep440Version struct{ v pep440.Version }

func (p pep440Version) compare(o parsedVersion) int { return p.v.Compare(o.(pep440Version).v) }
func (p pep440Version) String() string              { return p.v.String() }

type mavenVersion struct{ v mvn.Version }

func (m mavenVersion) compare(o parsedVersion) int { return m.v.Compare(o.(mavenVersion).v) }
func (m mavenVersion) String() string              { return m.v.String() }

// parserFor picks the version grammar of an ecosystem. PyPI uses PEP 440, npm its own semver
// dialect and Maven ComparableVersion ordering; Go, crates and anything unknown fall back to
// coercing semver.
func parserFor(ecosystem model.Ecosystem) parseFunc {
	switch ecosystem {
	case model.EcosystemPyPI:
		return parsePEP440
	case model.EcosystemNPM:
		return parseNPM
	case model.EcosystemMaven:
		return parseMaven
	default:
		return parseSemver
	}
}

func cleanVersion(v string) string {
	v = strings.TrimSpace(v)
	// Go toolchain versions ("go1.22.2") and tags ("v1.2.3")
	v = strings.TrimPrefix(v, "go")
	return v
}

func parseSemver(v string) (parsedVersion, error) {
	v = cleanVersion(v)
	if v == "0" {
		v = "0.0.0"
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("semver %q: %w", v, err)
	}
	return semverVersion{v: parsed}, nil
}

func parseNPM(v string) (parsedVersion, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "0" {
		v = "0.0.0"
	}
	parsed, err := npm.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("npm version %q: %w", v, err)
	}
	return npmVersion{v: parsed}, nil
}

func parsePEP440(v string) (parsedVersion, error) {
	parsed, err := pep440.Parse(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("pep440 version %q: %w", v, err)
	}
	return pep440Version{v: parsed}, nil
}

// parseMaven accepts any version that starts with a digit. Maven orders every string, so the
// digit check is what keeps garbage failing closed.
func parseMaven(v string) (parsedVersion, error) {
	v = strings.TrimSpace(v)
	if v == "" || v[0] < '0' || v[0] > '9' {
		return nil, fmt.Errorf("maven version %q: must start with a digit", v)
	}
	parsed, err := mvn.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("maven version %q: %w", v, err)
	}
	return mavenVersion{v: parsed}, nil
}

// Compare orders two versions of an ecosystem. ok is false when either does not parse.
func Compare(ecosystem model.Ecosystem, a, b string) (cmp int, ok bool) {
	parse := parserFor(ecosystem)
	va, err := parse(a)
	if err != nil {
		return 0, false
	}
	vb, err := parse(b)
	if err != nil {
		return 0, false
	}
	return va.compare(vb), true
}

// Valid reports whether v parses in the ecosystem's grammar.
func Valid(ecosystem model.Ecosystem, v string) bool {
	_, err := parserFor(ecosystem)(v)
	return err == nil
}
