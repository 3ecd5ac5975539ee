package util

import (
	"strings"
)

// EcosystemInfo is one row of the ecosystem lookup table. Every place that needs to turn an
// ecosystem into the spelling some external system expects goes through this table.
type EcosystemInfo struct {
	Name       string   // canonical key used in package identities
	OSV        string   // exact casing required by the OSV API
	PurlType   string   // package-url type
	Aliases    []string // accepted input spellings, including language names
	Resolvable bool     // a registry adapter exists for dependency resolution
}

var ecosystemTable = []EcosystemInfo{
	{Name: "pypi", OSV: "PyPI", PurlType: "pypi", Resolvable: true,
		Aliases: []string{"python", "pip", "python3"}},
	{Name: "npm", OSV: "npm", PurlType: "npm", Resolvable: true,
		Aliases: []string{"node", "nodejs", "javascript", "typescript", "js", "ts", "yarn", "pnpm"}},
	{Name: "maven", OSV: "Maven", PurlType: "maven", Resolvable: true,
		Aliases: []string{"java", "kotlin", "scala", "gradle"}},
	{Name: "go", OSV: "Go", PurlType: "golang", Resolvable: true,
		Aliases: []string{"golang", "gomod"}},
	{Name: "crates", OSV: "crates.io", PurlType: "cargo", Resolvable: true,
		Aliases: []string{"rust", "cargo"}},
	{Name: "nuget", OSV: "NuGet", PurlType: "nuget", Aliases: []string{"csharp", "dotnet", ".net"}},
	{Name: "rubygems", OSV: "RubyGems", PurlType: "gem", Aliases: []string{"ruby", "gem"}},
	{Name: "packagist", OSV: "Packagist", PurlType: "composer", Aliases: []string{"php", "composer"}},
	{Name: "pub", OSV: "Pub", PurlType: "pub", Aliases: []string{"dart", "flutter"}},
	{Name: "hex", OSV: "Hex", PurlType: "hex", Aliases: []string{"elixir", "erlang"}},
}

var ecosystemIndex = buildEcosystemIndex()

func buildEcosystemIndex() map[string]EcosystemInfo {
	index := make(map[string]EcosystemInfo)
	for _, info := range ecosystemTable {
		keys := append([]string{info.Name, info.OSV, info.PurlType}, info.Aliases...)
		for _, k := range keys {
			k = strings.ToLower(k)
			if _, taken := index[k]; !taken {
				index[k] = info
			}
		}
	}
	return index
}

// LookupEcosystem finds the table row for any accepted spelling of an ecosystem:
// canonical name, OSV name, PURL type or language alias. Matching is case-insensitive.
func LookupEcosystem(ecosystem string) (EcosystemInfo, bool) {
	info, ok := ecosystemIndex[strings.ToLower(strings.TrimSpace(ecosystem))]
	return info, ok
}

// NormalizeEcosystem returns the canonical ecosystem key, or the lower-cased input when the
// ecosystem is not in the table.
func NormalizeEcosystem(ecosystem string) string {
	if info, ok := LookupEcosystem(ecosystem); ok {
		return info.Name
	}
	return strings.ToLower(strings.TrimSpace(ecosystem))
}

// OSVEcosystem converts an ecosystem to the casing the OSV API expects ("PyPI", not "pypi").
func OSVEcosystem(ecosystem string) string {
	if info, ok := LookupEcosystem(ecosystem); ok {
		return info.OSV
	}
	return ecosystem
}

// EcosystemToPurlType converts an ecosystem to its PURL type
func EcosystemToPurlType(ecosystem string) string {
	if info, ok := LookupEcosystem(ecosystem); ok {
		return info.PurlType
	}
	return strings.ToLower(ecosystem)
}

// LanguageToEcosystem maps a repository language (as reported by GitHub) to an ecosystem.
// Returns "" for languages with no package ecosystem in the table.
func LanguageToEcosystem(language string) string {
	if info, ok := LookupEcosystem(language); ok {
		return info.Name
	}
	return ""
}

// IsResolvable reports whether dependency resolution is implemented for the ecosystem
func IsResolvable(ecosystem string) bool {
	info, ok := LookupEcosystem(ecosystem)
	return ok && info.Resolvable
}
