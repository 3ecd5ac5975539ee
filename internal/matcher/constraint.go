package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
	mvn "github.com/masahiro331/go-mvn-version"

	"github.com/ortelius/pdvd-depscan/model"
)

var bareCratesVersion = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

// constraintFor compiles a spec into a predicate over raw version strings.
func constraintFor(ecosystem model.Ecosystem, spec string) (func(string) bool, error) {
	spec = strings.TrimSpace(spec)
	switch ecosystem {
	case model.EcosystemPyPI:
		ss, err := pep440.NewSpecifiers(spec)
		if err != nil {
			return nil, fmt.Errorf("pep440 specifier %q: %w", spec, err)
		}
		return func(v string) bool {
			pv, err := pep440.Parse(v)
			return err == nil && ss.Check(pv)
		}, nil

	case model.EcosystemNPM:
		c, err := npm.NewConstraints(spec)
		if err != nil {
			return nil, fmt.Errorf("npm range %q: %w", spec, err)
		}
		return func(v string) bool {
			nv, err := npm.NewVersion(v)
			return err == nil && c.Check(nv)
		}, nil

	case model.EcosystemMaven:
		c, err := mvn.NewComparer(spec)
		if err != nil {
			return nil, fmt.Errorf("maven range %q: %w", spec, err)
		}
		return func(v string) bool {
			if _, err := parseMaven(v); err != nil {
				return false
			}
			mv, err := mvn.NewVersion(strings.TrimSpace(v))
			return err == nil && c.Check(mv)
		}, nil

	default:
		if ecosystem == model.EcosystemCrates {
			// cargo reads "1.2" as "^1.2"
			var parts []string
			for _, clause := range strings.Split(spec, ",") {
				clause = strings.TrimSpace(clause)
				if bareCratesVersion.MatchString(clause) {
					clause = "^" + clause
				}
				parts = append(parts, clause)
			}
			spec = strings.Join(parts, ", ")
		}
		c, err := semver.NewConstraint(spec)
		if err != nil {
			return nil, fmt.Errorf("semver constraint %q: %w", spec, err)
		}
		return func(v string) bool {
			sv, err := semver.NewVersion(cleanVersion(v))
			return err == nil && c.Check(sv)
		}, nil
	}
}

// Satisfies reports whether version meets spec. An empty spec is satisfied by anything.
func Satisfies(ecosystem model.Ecosystem, spec model.VersionSpec, version string) (bool, error) {
	if strings.TrimSpace(string(spec)) == "" {
		return true, nil
	}
	check, err := constraintFor(ecosystem, string(spec))
	if err != nil {
		return false, err
	}
	return check(version), nil
}

// Best returns the highest of versions that satisfies spec. Pre-releases are only chosen when
// nothing else satisfies the spec.
func Best(ecosystem model.Ecosystem, spec model.VersionSpec, versions []string) (string, bool) {
	check := func(string) bool { return true }
	if strings.TrimSpace(string(spec)) != "" {
		c, err := constraintFor(ecosystem, string(spec))
		if err != nil {
			return "", false
		}
		check = c
	}

	var best, bestPre string
	for _, v := range versions {
		if !Valid(ecosystem, v) || !check(v) {
			continue
		}
		if isPreRelease(v) {
			if bestPre == "" || greater(ecosystem, v, bestPre) {
				bestPre = v
			}
			continue
		}
		if best == "" || greater(ecosystem, v, best) {
			best = v
		}
	}
	if best != "" {
		return best, true
	}
	return bestPre, bestPre != ""
}

func greater(ecosystem model.Ecosystem, a, b string) bool {
	cmp, ok := Compare(ecosystem, a, b)
	return ok && cmp > 0
}

var preReleaseMarker = regexp.MustCompile(`(?i)(-|\d)(a|b|rc|alpha|beta|pre|dev|snapshot|m)\.?\d*`)

func isPreRelease(v string) bool {
	return preReleaseMarker.MatchString(v)
}
