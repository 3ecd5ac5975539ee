// Package util provides utility functions for the backend.
//
//revive:disable-next-line:var-naming
package util

import (
	"regexp"
	"strings"
)

// packageAliases maps import names and common misspellings to the name the registry knows.
var packageAliases = map[string]map[string]string{
	"pypi": {
		"yaml":     "pyyaml",
		"pil":      "pillow",
		"sklearn":  "scikit-learn",
		"bs4":      "beautifulsoup4",
		"cv2":      "opencv-python",
		"dateutil": "python-dateutil",
		"attr":     "attrs",
		"jwt":      "pyjwt",
		"dotenv":   "python-dotenv",
		"magic":    "python-magic",
		"skimage":  "scikit-image",
	},
}

var pypiSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizePackageName canonicalizes a package name within an ecosystem so that two spellings of
// the same package produce the same identity. Go module paths keep their case because the module
// proxy treats them as case-sensitive.
func NormalizePackageName(name, ecosystem string) string {
	name = strings.TrimSpace(name)
	eco := NormalizeEcosystem(ecosystem)

	switch eco {
	case "go":
		return name
	case "pypi":
		name = pypiSeparators.ReplaceAllString(strings.ToLower(name), "-")
	default:
		name = strings.ToLower(name)
	}

	if aliases, ok := packageAliases[eco]; ok {
		if canonical, ok := aliases[name]; ok {
			return canonical
		}
	}
	return name
}

// Requirement is a parsed PEP 508 dependency line such as
// `requests[security] (>=2.8.1) ; python_version < "3.8"`.
type Requirement struct {
	Name      string
	Extras    []string
	Specifier string
	Marker    string
}

// OnlyForExtra reports whether the requirement is only pulled in by an optional extra
func (r Requirement) OnlyForExtra() bool {
	return strings.Contains(strings.ReplaceAll(r.Marker, " ", ""), "extra==")
}

var requirementName = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// ParseRequirement parses one PEP 508 requirement string. Markers after ';' and extras in
// brackets are split off; direct URL references ("name @ url") leave the specifier empty.
func ParseRequirement(line string) (Requirement, bool) {
	var req Requirement

	line = strings.TrimSpace(line)
	if idx := strings.Index(line, "#"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if idx := strings.Index(line, ";"); idx >= 0 {
		req.Marker = strings.TrimSpace(line[idx+1:])
		line = strings.TrimSpace(line[:idx])
	}

	m := requirementName.FindStringSubmatch(line)
	if m == nil {
		return req, false
	}
	req.Name = m[1]
	rest := strings.TrimSpace(line[len(m[1]):])

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return req, false
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "@") {
		return req, true
	}

	rest = strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
	req.Specifier = strings.ReplaceAll(strings.TrimSpace(rest), " ", "")
	return req, true
}
