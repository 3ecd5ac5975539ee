package registry

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
)

// Maven reads dependencies from POM files on a Maven 2 layout repository.
type Maven struct {
	BaseURL string
	HTTP    *fetch.Client
	Logger  *zap.Logger
}

type pom struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Parent     struct {
		GroupID string `xml:"groupId"`
		Version string `xml:"version"`
	} `xml:"parent"`
	Properties struct {
		Entries []pomProperty `xml:",any"`
	} `xml:"properties"`
	Dependencies []pomDependency `xml:"dependencies>dependency"`
}

type pomProperty struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
	Optional   string `xml:"optional"`
}

type mavenMetadata struct {
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

var pomPropertyRef = regexp.MustCompile(`\$\{([^}]+)\}`)

var xmlAccept = http.Header{"Accept": []string{"application/xml"}}

// Ecosystem implements Adapter.
func (m *Maven) Ecosystem() model.Ecosystem { return model.EcosystemMaven }

// DirectDependencies returns the compile and runtime scoped, non-optional dependencies declared in
// the POM. Versions inherited from a parent's dependencyManagement are left as an empty spec.
func (m *Maven) DirectDependencies(ctx context.Context, id model.PackageIdentity, spec model.VersionSpec) ([]model.DependencyRef, error) {
	group, artifact, ok := strings.Cut(id.Name, ":")
	if !ok || group == "" || artifact == "" {
		return nil, unavailable(id, &model.ParseError{Kind: "maven coordinate", Input: id.Name, Reason: "expected group:artifact"})
	}

	version, err := m.pickVersion(ctx, group, artifact, id, spec)
	if err != nil {
		return nil, unavailable(id, err)
	}

	body, err := m.HTTP.Get(ctx, m.artifactURL(group, artifact)+fmt.Sprintf("/%s/%s-%s.pom", version, artifact, version), xmlAccept)
	if err != nil {
		return nil, unavailable(id, err)
	}
	var project pom
	if err := xml.Unmarshal(body, &project); err != nil {
		return nil, unavailable(id, fmt.Errorf("decode pom: %w", err))
	}

	props := project.properties(version)
	pairs := make([][2]string, 0, len(project.Dependencies))
	for _, dep := range project.Dependencies {
		switch strings.TrimSpace(dep.Scope) {
		case "", "compile", "runtime":
		default:
			continue
		}
		if strings.EqualFold(strings.TrimSpace(dep.Optional), "true") {
			continue
		}
		g, a := expand(dep.GroupID, props), expand(dep.ArtifactID, props)
		if g == "" || a == "" || strings.Contains(g+a, "${") {
			continue
		}
		v := expand(dep.Version, props)
		if strings.Contains(v, "${") {
			v = ""
		}
		pairs = append(pairs, [2]string{g + ":" + a, v})
	}
	return dependencyRefs(model.EcosystemMaven, pairs), nil
}

func (m *Maven) artifactURL(group, artifact string) string {
	return fmt.Sprintf("%s/%s/%s", m.BaseURL, strings.ReplaceAll(group, ".", "/"), artifact)
}

func (m *Maven) pickVersion(ctx context.Context, group, artifact string, id model.PackageIdentity, spec model.VersionSpec) (string, error) {
	if v := matcher.Extract(spec, id.Ecosystem); v.IsExact() {
		return v.Version, nil
	}

	body, err := m.HTTP.Get(ctx, m.artifactURL(group, artifact)+"/maven-metadata.xml", xmlAccept)
	if err != nil {
		return "", err
	}
	var meta mavenMetadata
	if err := xml.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("decode maven-metadata.xml: %w", err)
	}

	if floor := matcher.Extract(spec, id.Ecosystem); floor.Kind == model.VersionFloor {
		var candidates []string
		for _, v := range meta.Versioning.Versions {
			if cmp, ok := matcher.Compare(id.Ecosystem, v, floor.Version); ok && cmp >= 0 {
				candidates = append(candidates, v)
			}
		}
		if best, ok := matcher.Best(id.Ecosystem, "", candidates); ok {
			return best, nil
		}
	}

	switch {
	case meta.Versioning.Release != "":
		return meta.Versioning.Release, nil
	case meta.Versioning.Latest != "":
		return meta.Versioning.Latest, nil
	case len(meta.Versioning.Versions) > 0:
		return meta.Versioning.Versions[len(meta.Versioning.Versions)-1], nil
	}
	return "", fmt.Errorf("no versions in maven-metadata.xml: %w", model.ErrNotFound)
}

func (p pom) properties(version string) map[string]string {
	props := map[string]string{
		"project.version":        version,
		"version":                version,
		"project.groupId":        firstNonEmpty(p.GroupID, p.Parent.GroupID),
		"project.parent.version": p.Parent.Version,
	}
	for _, e := range p.Properties.Entries {
		props[e.XMLName.Local] = strings.TrimSpace(e.Value)
	}
	return props
}

// expand substitutes ${name} references, two levels deep.
func expand(s string, props map[string]string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < 2 && strings.Contains(s, "${"); i++ {
		s = pomPropertyRef.ReplaceAllStringFunc(s, func(ref string) string {
			if v, ok := props[ref[2:len(ref)-1]]; ok {
				return v
			}
			return ref
		})
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
