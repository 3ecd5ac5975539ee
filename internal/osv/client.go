// Package osv queries an OSV compatible vulnerability API and converts its advisories into
// vulnerability records for one package.
package osv

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/osv-scanner/pkg/models"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/util"
)

// DefaultURL is the public OSV API.
const DefaultURL = "https://api.osv.dev"

const (
	maxDescription = 500
	maxPages       = 20
)

// Source returns the advisories recorded for a package. A nil version asks for every advisory of
// the package regardless of version.
type Source interface {
	Query(ctx context.Context, id model.PackageIdentity, version *model.ExactVersion) ([]model.VulnerabilityRecord, error)
}

// Client is a Source backed by the OSV /v1/query endpoint.
type Client struct {
	BaseURL string
	HTTP    *fetch.Client
	Logger  *zap.Logger
}

// New builds a Client; an empty baseURL uses the public API.
func New(httpClient *fetch.Client, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient, Logger: logger}
}

type queryPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type queryRequest struct {
	Package   queryPackage `json:"package"`
	Version   string       `json:"version,omitempty"`
	PageToken string       `json:"page_token,omitempty"`
}

type queryResponse struct {
	Vulns         []models.Vulnerability `json:"vulns"`
	NextPageToken string                 `json:"next_page_token"`
}

// Query implements Source. Failures are wrapped with model.ErrVulnerabilitySourceUnavailable.
func (c *Client) Query(ctx context.Context, id model.PackageIdentity, version *model.ExactVersion) ([]model.VulnerabilityRecord, error) {
	req := queryRequest{Package: queryPackage{Name: id.Name, Ecosystem: id.Ecosystem.OSV()}}
	if version != nil && version.IsExact() {
		req.Version = version.Version
	}

	var vulns []models.Vulnerability
	for page := 0; page < maxPages; page++ {
		var resp queryResponse
		if err := c.HTTP.PostJSON(ctx, c.BaseURL+"/v1/query", req, &resp); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", model.ErrVulnerabilitySourceUnavailable, id, err)
		}
		vulns = append(vulns, resp.Vulns...)
		if resp.NextPageToken == "" {
			break
		}
		req.PageToken = resp.NextPageToken
		if page == maxPages-1 {
			c.Logger.Sugar().Warnf("osv: %s has more than %d pages of advisories, keeping the first %d", id, maxPages, len(vulns))
		}
	}

	records := make([]model.VulnerabilityRecord, 0, len(vulns))
	seen := make(map[string]bool, len(vulns))
	for _, v := range vulns {
		if v.ID == "" || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		records = append(records, ToRecord(id, v))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// ToRecord converts one OSV advisory into the record for id, keeping only the affected entries
// that name id. If none do, every entry is kept so that nothing is silently dropped.
func ToRecord(id model.PackageIdentity, v models.Vulnerability) model.VulnerabilityRecord {
	rec := model.VulnerabilityRecord{
		ID:          v.ID,
		Aliases:     v.Aliases,
		Package:     id,
		Description: description(v),
		Published:   v.Published,
		Modified:    v.Modified,
	}

	var vectors []string
	for _, s := range v.Severity {
		if s.Score != "" {
			vectors = append(vectors, s.Score)
		}
	}
	rec.CVSSScore, rec.CVSSVector = util.HighestCVSS(vectors)
	rec.Severity = severity(rec.CVSSScore, v.DatabaseSpecific)

	for _, ref := range v.References {
		if ref.URL != "" {
			rec.References = append(rec.References, ref.URL)
		}
	}

	affected := matchingAffected(id, v.Affected)
	fixed := map[string]bool{}
	for _, a := range affected {
		rec.AffectedVersions = append(rec.AffectedVersions, a.Versions...)
		for _, r := range a.Ranges {
			vr := model.VulnerabilityRange{Type: model.RangeType(strings.ToUpper(string(r.Type)))}
			for _, e := range r.Events {
				vr.Events = append(vr.Events, model.RangeEvent{
					Introduced:   e.Introduced,
					Fixed:        e.Fixed,
					LastAffected: e.LastAffected,
				})
				if e.Fixed != "" && r.Type != models.RangeGit && !fixed[e.Fixed] {
					fixed[e.Fixed] = true
					rec.FixedVersions = append(rec.FixedVersions, e.Fixed)
				}
			}
			if len(vr.Events) > 0 {
				rec.AffectedRanges = append(rec.AffectedRanges, vr)
			}
		}
	}
	return rec
}

func matchingAffected(id model.PackageIdentity, all []models.Affected) []models.Affected {
	var out []models.Affected
	for _, a := range all {
		other, err := model.NewPackageIdentity(a.Package.Name, string(a.Package.Ecosystem))
		if err == nil && other == id {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// severity prefers the CVSS score; advisories without a scorable vector fall back to the
// database's own label (GitHub's "MODERATE" and friends).
func severity(score float64, dbSpecific map[string]interface{}) model.Severity {
	if score > 0 {
		return model.SeverityForScore(score)
	}
	if label, ok := dbSpecific["severity"].(string); ok {
		if normalized := util.NormalizeSeverityLabel(label); normalized != "" {
			return model.Severity(normalized)
		}
	}
	return model.SeverityUnknown
}

func description(v models.Vulnerability) string {
	d := strings.TrimSpace(v.Summary)
	if d == "" {
		d = strings.TrimSpace(v.Details)
	}
	if r := []rune(d); len(r) > maxDescription {
		d = strings.TrimSpace(string(r[:maxDescription])) + "..."
	}
	return d
}
