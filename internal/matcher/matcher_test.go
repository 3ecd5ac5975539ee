package matcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
)

func TestIsVulnerable(t *testing.T) {
	tests := []struct {
		name    string
		version model.ExactVersion
		ranges  []model.VulnerabilityRange
		want    bool
	}{
		{
			name:    "fixed version is outside",
			version: model.Exact("5.4", ""),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "5.4")},
			want:    false,
		},
		{
			name:    "version just below fix is inside",
			version: model.Exact("5.3.9", ""),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "5.4")},
			want:    true,
		},
		{
			name:    "no fix means unbounded above",
			version: model.Exact("5.4", ""),
			ranges:  []model.VulnerabilityRange{model.Introduced("5.4")},
			want:    true,
		},
		{
			name:    "before introduced",
			version: model.Exact("5.3", ""),
			ranges:  []model.VulnerabilityRange{model.Introduced("5.4")},
			want:    false,
		},
		{
			name:    "unparseable version fails closed",
			version: model.Exact("not-a-version", ""),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "5.4")},
			want:    true,
		},
		{
			name:    "unparseable event makes range unknown",
			version: model.Exact("9.9", ""),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "garbage!!")},
			want:    true,
		},
		{
			name:    "last_affected is inclusive",
			version: model.Exact("2.0", ""),
			ranges: []model.VulnerabilityRange{{Type: model.RangeSemVer, Events: []model.RangeEvent{
				{Introduced: "0"}, {LastAffected: "2.0"},
			}}},
			want: true,
		},
		{
			name:    "after last_affected",
			version: model.Exact("2.0.1", ""),
			ranges: []model.VulnerabilityRange{{Type: model.RangeSemVer, Events: []model.RangeEvent{
				{Introduced: "0"}, {LastAffected: "2.0"},
			}}},
			want: false,
		},
		{
			name:    "no ranges",
			version: model.Exact("1.0.0", ""),
			ranges:  nil,
			want:    false,
		},
		{
			name:    "git ranges are not comparable",
			version: model.Exact("1.0.0", ""),
			ranges: []model.VulnerabilityRange{{Type: model.RangeGit, Events: []model.RangeEvent{
				{Introduced: "abc123"},
			}}},
			want: false,
		},
		{
			name:    "pep440 pre-release sorts before release",
			version: model.Exact("2.2rc1", model.EcosystemPyPI),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "2.2")},
			want:    true,
		},
		{
			name:    "pypi fixed release",
			version: model.Exact("2.2", model.EcosystemPyPI),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "2.2")},
			want:    false,
		},
		{
			name:    "npm below fix",
			version: model.Exact("4.17.20", model.EcosystemNPM),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "4.17.21")},
			want:    true,
		},
		{
			name:    "go module tag",
			version: model.Exact("v0.3.7", model.EcosystemGo),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "0.3.8")},
			want:    true,
		},
		{
			name:    "maven four-part version above fix",
			version: model.Exact("2.13.4.2", model.EcosystemMaven),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("2.0.0", "2.9.10.8")},
			want:    false,
		},
		{
			name:    "maven four-part version below fix",
			version: model.Exact("2.9.10.7", model.EcosystemMaven),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("2.0.0", "2.9.10.8")},
			want:    true,
		},
		{
			name:    "maven release qualifier above fix",
			version: model.Exact("5.3.20.RELEASE", model.EcosystemMaven),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "4.0.0")},
			want:    false,
		},
		{
			name:    "maven release qualifier below fix",
			version: model.Exact("3.2.18.RELEASE", model.EcosystemMaven),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "4.0.0")},
			want:    true,
		},
		{
			name:    "maven snapshot sorts before its release",
			version: model.Exact("2.9.10.8-SNAPSHOT", model.EcosystemMaven),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("2.0.0", "2.9.10.8")},
			want:    true,
		},
		{
			name:    "maven garbage fails closed",
			version: model.Exact("latest", model.EcosystemMaven),
			ranges:  []model.VulnerabilityRange{model.IntroducedFixed("0", "4.0.0")},
			want:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := matcher.IsVulnerable(tt.version, tt.ranges)
			assert.Equal(t, tt.want, got, reason)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestIsVulnerableUnparseableReason(t *testing.T) {
	got, reason := matcher.IsVulnerable(model.Exact("not-a-version", ""), []model.VulnerabilityRange{model.Introduced("0")})
	assert.True(t, got)
	assert.Equal(t, matcher.UnparseableVersionReason, reason)
}

func TestIsVulnerableDisjointPairs(t *testing.T) {
	// reintroduced then refixed
	ranges := []model.VulnerabilityRange{{Type: model.RangeEcosystem, Events: []model.RangeEvent{
		{Introduced: "1.0"}, {Fixed: "1.5"}, {Introduced: "2.0"}, {Fixed: "2.5"},
	}}}

	for version, want := range map[string]bool{
		"0.9": false,
		"1.2": true,
		"1.5": false,
		"1.7": false,
		"2.0": true,
		"2.4": true,
		"2.5": false,
	} {
		got, reason := matcher.IsVulnerable(model.Exact(version, ""), ranges)
		assert.Equal(t, want, got, "version %s: %s", version, reason)
	}
}

func TestIsVulnerableExcludedReason(t *testing.T) {
	got, reason := matcher.IsVulnerable(model.Exact("3.0", ""), []model.VulnerabilityRange{
		model.IntroducedFixed("0", "2.0"),
		{Type: model.RangeGit, Events: []model.RangeEvent{{Introduced: "deadbeef"}}},
	})
	assert.False(t, got)
	assert.Contains(t, reason, "1 ECOSYSTEM")
	assert.Contains(t, reason, "not comparable: 1 GIT")
}

func TestRepresentativeVersionNeverProvesVulnerability(t *testing.T) {
	floor := matcher.Extract(">=6.0", "")
	assert.Equal(t, model.VersionFloor, floor.Kind)
	assert.Equal(t, "6.0", floor.Version)

	endsBelow := []model.VulnerabilityRange{model.IntroducedFixed("0", "5.4")}
	got, _ := matcher.IsVulnerable(floor, endsBelow)
	assert.False(t, got)

	a := matcher.Evaluate(floor, endsBelow)
	assert.Equal(t, matcher.VerdictUnknown, a.Verdict)
	assert.Equal(t, matcher.ScopeExcludes, a.Scope)

	reachesFloor := []model.VulnerabilityRange{model.IntroducedFixed("0", "7.0")}
	got, _ = matcher.IsVulnerable(floor, reachesFloor)
	assert.False(t, got)

	a = matcher.Evaluate(floor, reachesFloor)
	assert.Equal(t, matcher.VerdictUnknown, a.Verdict)
	assert.Equal(t, matcher.ScopeMayInclude, a.Scope)

	a = matcher.Evaluate(floor, []model.VulnerabilityRange{model.Introduced("5.0")})
	assert.Equal(t, matcher.ScopeMayInclude, a.Scope)
}

func TestEvaluate(t *testing.T) {
	ranges := []model.VulnerabilityRange{model.IntroducedFixed("0", "2.2")}

	a := matcher.Evaluate(model.Exact("1.11", model.EcosystemPyPI), ranges)
	assert.Equal(t, matcher.VerdictVulnerable, a.Verdict)

	a = matcher.Evaluate(model.Exact("3.0", model.EcosystemPyPI), ranges)
	assert.Equal(t, matcher.VerdictSafe, a.Verdict)
	assert.Equal(t, matcher.ScopeExcludes, a.Scope)

	a = matcher.Evaluate(matcher.Extract("<3.0", model.EcosystemPyPI), ranges)
	assert.Equal(t, matcher.VerdictUnknown, a.Verdict)
	assert.Equal(t, matcher.ScopeMayInclude, a.Scope)
}

func TestEvaluateRecordListedVersions(t *testing.T) {
	record := model.VulnerabilityRecord{ID: "GHSA-x", AffectedVersions: []string{"1.0.0", "1.0.1"}}

	assert.Equal(t, matcher.VerdictVulnerable, matcher.EvaluateRecord(model.Exact("1.0.1", ""), record).Verdict)
	assert.Equal(t, matcher.VerdictSafe, matcher.EvaluateRecord(model.Exact("1.0.2", ""), record).Verdict)

	floor := model.ExactVersion{Version: "1.0.1", Kind: model.VersionFloor}
	assert.Equal(t, matcher.ScopeMayInclude, matcher.EvaluateRecord(floor, record).Scope)
}

func TestCompare(t *testing.T) {
	cmp, ok := matcher.Compare(model.EcosystemPyPI, "1.11", "1.2")
	assert.True(t, ok)
	assert.Equal(t, 1, cmp)

	cmp, ok = matcher.Compare("", "v1.2.3", "1.2.3")
	assert.True(t, ok)
	assert.Equal(t, 0, cmp)

	_, ok = matcher.Compare("", "one", "1.2.3")
	assert.False(t, ok)
}

func TestMavenOrdering(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2.13.4.2", "2.9.10.8", 1},
		{"5.3.20.RELEASE", "5.3.20", 0},
		{"1.0-alpha-1", "1.0", -1},
		{"1.0.Final", "1.0", 0},
		{"2.10", "2.9.10.8", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			got, ok := matcher.Compare(model.EcosystemMaven, tt.a, tt.b)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	ok, err := matcher.Satisfies(model.EcosystemMaven, "[2.0,2.10)", "2.9.10.8")
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = matcher.Satisfies(model.EcosystemMaven, "[2.0,2.10)", "2.10.0")
	assert.NoError(t, err)
	assert.False(t, ok)

	best, found := matcher.Best(model.EcosystemMaven, "", []string{"2.9.10.8", "2.13.4.2", "2.14.0-rc1"})
	assert.True(t, found)
	assert.Equal(t, "2.13.4.2", best)
}
