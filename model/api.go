// Package model - API types shared by the REST, GraphQL, event and command-line surfaces.
package model

import (
	"strings"

	"github.com/ortelius/pdvd-depscan/util"
)

// ScanRequest is the wire form of a scan target. A target is named either by PURL or by
// package plus ecosystem; Language is accepted in place of Ecosystem ("Python", "JavaScript").
type ScanRequest struct {
	Package   string `json:"package,omitempty" yaml:"package,omitempty" validate:"required_without=PURL"`
	Ecosystem string `json:"ecosystem,omitempty" yaml:"ecosystem,omitempty"`
	Language  string `json:"language,omitempty" yaml:"language,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	PURL      string `json:"purl,omitempty" yaml:"purl,omitempty" validate:"omitempty,startswith=pkg:"`
	RepoURL   string `json:"repo_url,omitempty" yaml:"repo_url,omitempty" validate:"omitempty,url"`
	SBOMURL   string `json:"sbom_url,omitempty" yaml:"sbom_url,omitempty" validate:"omitempty,url"`
	Branch    string `json:"branch,omitempty" yaml:"branch,omitempty"`
	// Dependencies are requirement strings ("requests>=2.31", "lodash ^4.17.0") declared by the
	// caller in place of the root's registry metadata.
	Dependencies     []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ExternalFindings []Finding `json:"external_findings,omitempty" yaml:"external_findings,omitempty"`
}

// Target converts the request into a scan target.
func (r ScanRequest) Target() (ScanTarget, error) {
	var (
		root PackageIdentity
		spec VersionSpec
		err  error
	)
	if r.PURL != "" {
		root, spec, err = ParsePackageURL(r.PURL)
	} else {
		ecosystem := r.Ecosystem
		if ecosystem == "" {
			ecosystem = util.LanguageToEcosystem(r.Language)
		}
		root, err = NewPackageIdentity(r.Package, ecosystem)
	}
	if err != nil {
		return ScanTarget{}, err
	}
	if r.Version != "" {
		spec = VersionSpec(strings.TrimSpace(r.Version))
	}

	target := ScanTarget{
		Root:             root,
		Spec:             spec,
		RepoURL:          r.RepoURL,
		SBOMURL:          r.SBOMURL,
		Branch:           r.Branch,
		ExternalFindings: r.ExternalFindings,
	}
	for _, line := range r.Dependencies {
		ref, err := ParseDependency(line, root.Ecosystem)
		if err != nil {
			return ScanTarget{}, err
		}
		target.Declared = append(target.Declared, ref)
	}
	return target, nil
}

// ParseDependency reads one declared dependency. PyPI entries use PEP 508 syntax; other
// ecosystems take "name spec" or "name@spec".
func ParseDependency(line string, ecosystem Ecosystem) (DependencyRef, error) {
	line = strings.TrimSpace(line)
	var name, spec string
	if ecosystem == EcosystemPyPI {
		req, ok := util.ParseRequirement(line)
		if !ok {
			return DependencyRef{}, &ParseError{Kind: "dependency", Input: line, Reason: "not a requirement"}
		}
		name, spec = req.Name, req.Specifier
	} else if fields := strings.Fields(line); len(fields) > 1 {
		name, spec = fields[0], strings.Join(fields[1:], " ")
	} else if at := strings.LastIndex(line, "@"); at > 0 {
		name, spec = line[:at], line[at+1:]
	} else {
		name = line
	}

	id, err := NewPackageIdentity(name, string(ecosystem))
	if err != nil {
		return DependencyRef{}, err
	}
	return DependencyRef{Identity: id, Spec: VersionSpec(spec)}, nil
}

// ReportSummary is the compact form of a report carried on completion events.
type ReportSummary struct {
	ReportID          string           `json:"report_id"`
	Target            string           `json:"target"`
	TierUsed          TierName         `json:"tier_used,omitempty"`
	RiskScore         float64          `json:"risk_score"`
	RiskLevel         Severity         `json:"risk_level"`
	Findings          int              `json:"findings"`
	SeverityBreakdown map[Severity]int `json:"severity_breakdown"`
	Incomplete        bool             `json:"incomplete"`
	SourceErrors      []string         `json:"source_errors,omitempty"`
}

// Summary returns the report's summary.
func (r *ScanReport) Summary() ReportSummary {
	return ReportSummary{
		ReportID:          r.ID,
		Target:            r.Target.Key(),
		TierUsed:          r.TierUsed,
		RiskScore:         r.RiskScore,
		RiskLevel:         r.RiskLevel,
		Findings:          len(r.Findings),
		SeverityBreakdown: r.SeverityBreakdown,
		Incomplete:        r.Incomplete,
		SourceErrors:      r.SourceErrors,
	}
}
