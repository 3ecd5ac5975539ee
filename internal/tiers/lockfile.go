package tiers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"

	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/util"
)

// LockEntry is one package pinned or declared by a lock artifact.
type LockEntry struct {
	Name      string
	Ecosystem model.Ecosystem
	Spec      model.VersionSpec
	Direct    bool
}

type lockParser func(data []byte) ([]LockEntry, error)

// lockfiles lists the artifacts fetched per ecosystem, in priority order.
var lockfiles = map[model.Ecosystem][]string{
	model.EcosystemPyPI:   {"requirements.txt", "requirements/base.txt", "requirements/production.txt", "Pipfile.lock", "poetry.lock"},
	model.EcosystemNPM:    {"package-lock.json", "yarn.lock"},
	model.EcosystemGo:     {"go.mod"},
	model.EcosystemCrates: {"Cargo.lock"},
	"rubygems":            {"Gemfile.lock"},
}

// LockfilesFor returns the artifact paths tried for an ecosystem. PyPI files are always tried
// last as a fallback.
func LockfilesFor(ecosystem model.Ecosystem) []string {
	files := append([]string{}, lockfiles[ecosystem]...)
	if ecosystem != model.EcosystemPyPI {
		files = append(files, lockfiles[model.EcosystemPyPI]...)
	}
	return files
}

// ParseLockfile dispatches on the file name.
func ParseLockfile(name string, data []byte) ([]LockEntry, error) {
	var parse lockParser
	switch base := path.Base(name); {
	case (strings.HasPrefix(base, "requirements") && strings.HasSuffix(base, ".txt")) || strings.HasPrefix(name, "requirements/"):
		parse = parseRequirementsTxt
	case base == "Pipfile.lock":
		parse = parsePipfileLock
	case base == "poetry.lock":
		parse = parsePoetryLock
	case base == "package-lock.json":
		parse = parsePackageLock
	case base == "yarn.lock":
		parse = parseYarnLock
	case base == "go.mod":
		parse = parseGoMod
	case base == "Cargo.lock":
		parse = parseCargoLock
	case base == "Gemfile.lock":
		parse = parseGemfileLock
	default:
		return nil, fmt.Errorf("no parser for %s", name)
	}
	entries, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return entries, nil
}

func parseRequirementsTxt(data []byte) ([]LockEntry, error) {
	var out []LockEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if strings.Contains(line, "://") || strings.HasPrefix(line, "git+") {
			continue
		}
		req, ok := util.ParseRequirement(line)
		if !ok || req.OnlyForExtra() {
			continue
		}
		out = append(out, LockEntry{Name: req.Name, Ecosystem: model.EcosystemPyPI, Spec: model.VersionSpec(req.Specifier), Direct: true})
	}
	return out, sc.Err()
}

type pipfileLock struct {
	Default map[string]struct {
		Version string `json:"version"`
	} `json:"default"`
}

func parsePipfileLock(data []byte) ([]LockEntry, error) {
	var doc pipfileLock
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]LockEntry, 0, len(doc.Default))
	for name, info := range doc.Default {
		out = append(out, LockEntry{Name: name, Ecosystem: model.EcosystemPyPI, Spec: model.VersionSpec(info.Version), Direct: true})
	}
	sortEntries(out)
	return out, nil
}

type tomlLock struct {
	Package []struct {
		Name     string `toml:"name"`
		Version  string `toml:"version"`
		Category string `toml:"category"`
	} `toml:"package"`
}

func parsePoetryLock(data []byte) ([]LockEntry, error) {
	var doc tomlLock
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]LockEntry, 0, len(doc.Package))
	for _, p := range doc.Package {
		if p.Name == "" || p.Category == "dev" {
			continue
		}
		out = append(out, LockEntry{Name: p.Name, Ecosystem: model.EcosystemPyPI, Spec: model.VersionSpec("==" + p.Version)})
	}
	return out, nil
}

func parseCargoLock(data []byte) ([]LockEntry, error) {
	var doc tomlLock
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]LockEntry, 0, len(doc.Package))
	for _, p := range doc.Package {
		if p.Name == "" {
			continue
		}
		// "=" pins a crates version; a bare one would be a caret requirement
		out = append(out, LockEntry{Name: p.Name, Ecosystem: model.EcosystemCrates, Spec: model.VersionSpec("=" + p.Version)})
	}
	return out, nil
}

type npmLock struct {
	Packages map[string]struct {
		Version string `json:"version"`
		Dev     bool   `json:"dev"`
		Link    bool   `json:"link"`
	} `json:"packages"`
	Dependencies map[string]struct {
		Version string `json:"version"`
		Dev     bool   `json:"dev"`
	} `json:"dependencies"`
}

func parsePackageLock(data []byte) ([]LockEntry, error) {
	var doc npmLock
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var out []LockEntry
	if len(doc.Packages) > 0 {
		for p, info := range doc.Packages {
			if p == "" || info.Dev || info.Link || info.Version == "" {
				continue
			}
			idx := strings.LastIndex(p, "node_modules/")
			if idx < 0 {
				continue
			}
			name := p[idx+len("node_modules/"):]
			direct := strings.Count(p, "node_modules/") == 1
			out = append(out, LockEntry{Name: name, Ecosystem: model.EcosystemNPM, Spec: model.VersionSpec(info.Version), Direct: direct})
		}
	} else {
		for name, info := range doc.Dependencies {
			if info.Dev || info.Version == "" {
				continue
			}
			out = append(out, LockEntry{Name: name, Ecosystem: model.EcosystemNPM, Spec: model.VersionSpec(info.Version), Direct: true})
		}
	}
	sortEntries(out)
	return out, nil
}

var yarnEntry = regexp.MustCompile(`(?m)^"?(@?[^"@\n]+)@[^\n]*:\s*\n\s+version:?\s+"?([^"\s]+)"?`)

func parseYarnLock(data []byte) ([]LockEntry, error) {
	var out []LockEntry
	for _, m := range yarnEntry.FindAllSubmatch(data, -1) {
		out = append(out, LockEntry{Name: string(m[1]), Ecosystem: model.EcosystemNPM, Spec: model.VersionSpec(m[2])})
	}
	return out, nil
}

func parseGoMod(data []byte) ([]LockEntry, error) {
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil, err
	}
	out := make([]LockEntry, 0, len(f.Require))
	for _, r := range f.Require {
		out = append(out, LockEntry{Name: r.Mod.Path, Ecosystem: model.EcosystemGo, Spec: model.VersionSpec(r.Mod.Version), Direct: !r.Indirect})
	}
	return out, nil
}

var gemSpec = regexp.MustCompile(`^ {4}([A-Za-z0-9_.-]+) \(([^)]+)\)$`)

func parseGemfileLock(data []byte) ([]LockEntry, error) {
	var out []LockEntry
	inSpecs := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.TrimSpace(line) == "specs:":
			inSpecs = true
			continue
		case line != "" && !strings.HasPrefix(line, " "):
			inSpecs = false
			continue
		}
		if !inSpecs {
			continue
		}
		if m := gemSpec.FindStringSubmatch(line); m != nil {
			out = append(out, LockEntry{Name: m[1], Ecosystem: "rubygems", Spec: model.VersionSpec("=" + m[2])})
		}
	}
	return out, sc.Err()
}

func sortEntries(entries []LockEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
