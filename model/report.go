// Package model - scan targets, findings and the aggregated scan report.
package model

import "time"

// TierName identifies the data source that produced a target's dependency list.
type TierName string

// Tiers in fallback order.
const (
	TierManifest            TierName = "manifest"
	TierLockfile            TierName = "lockfile"
	TierRecursiveResolution TierName = "recursive_resolution"
	TierHistoricalCache     TierName = "historical_cache"
)

// TierAttempt records one tier's outcome for a target.
type TierAttempt struct {
	Tier     TierName      `json:"tier"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Packages int           `json:"packages"`
	Duration time.Duration `json:"duration"`
}

// ScanTarget is the root of one scan.
type ScanTarget struct {
	Root    PackageIdentity `json:"root" validate:"required"`
	Spec    VersionSpec     `json:"spec,omitempty"`
	RepoURL string          `json:"repo_url,omitempty"`
	SBOMURL string          `json:"sbom_url,omitempty"`
	Branch  string          `json:"branch,omitempty"`
	// Declared overrides the root's registry metadata as the list of direct dependencies.
	Declared []DependencyRef `json:"declared,omitempty"`
	// ExternalFindings are raw finding records from third-party scanners, merged during dedup.
	ExternalFindings []Finding `json:"external_findings,omitempty"`
}

// Key identifies the target in the scan history.
func (t ScanTarget) Key() string {
	key := t.Root.Key()
	if t.Spec != "" {
		key += "@" + string(t.Spec)
	}
	if t.RepoURL != "" {
		key += "#" + t.RepoURL
	}
	return key
}

// ResolvedPackage is one unique (identity, version-or-spec) a tier produced.
type ResolvedPackage struct {
	Identity PackageIdentity   `json:"identity"`
	Spec     VersionSpec       `json:"spec,omitempty"`
	Version  ExactVersion      `json:"version"`
	Depth    int               `json:"depth"`
	Direct   bool              `json:"direct"`
	Path     []PackageIdentity `json:"path,omitempty"`
	Tier     TierName          `json:"tier"`
}

// FindingStatus classifies how strongly a finding applies.
type FindingStatus string

// Finding statuses.
const (
	StatusVulnerable       FindingStatus = "vulnerable"
	StatusPossiblyAffected FindingStatus = "possibly_affected"
	StatusInformational    FindingStatus = "informational"
)

// Finding is one advisory applied to one package of a scan.
type Finding struct {
	AdvisoryID    string          `json:"advisory_id"`
	Aliases       []string        `json:"aliases,omitempty"`
	Package       PackageIdentity `json:"package"`
	Version       string          `json:"version,omitempty"`
	Spec          VersionSpec     `json:"spec,omitempty"`
	Severity      Severity        `json:"severity"`
	CVSSScore     float64         `json:"cvss_score,omitempty"`
	Confidence    float64         `json:"confidence"`
	Status        FindingStatus   `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	FixedVersions []string        `json:"fixed_versions,omitempty"`
	Description   string          `json:"description,omitempty"`
	Path          string          `json:"path,omitempty"`
	Direct        bool            `json:"direct"`
	Tier          TierName        `json:"tier,omitempty"`
	Source        string          `json:"source,omitempty"`
}

// DedupKey is (package identity, advisory id).
func (f Finding) DedupKey() string {
	return f.Package.Key() + "|" + f.AdvisoryID
}

// PackageRisk ranks one package of a scan by its findings.
type PackageRisk struct {
	Identity     PackageIdentity `json:"identity"`
	Version      string          `json:"version,omitempty"`
	FindingCount int             `json:"finding_count"`
	MaxCVSS      float64         `json:"max_cvss"`
	MaxSeverity  Severity        `json:"max_severity"`
	Advisories   []string        `json:"advisories"`
	Direct       bool            `json:"direct"`
}

// CacheStats counts cache behaviour during a run.
type CacheStats struct {
	DepsHits       int64 `json:"deps_hits"`
	DepsMisses     int64 `json:"deps_misses"`
	DepsStoreHits  int64 `json:"deps_store_hits"`
	VulnsHits      int64 `json:"vulns_hits"`
	VulnsMisses    int64 `json:"vulns_misses"`
	VulnsStoreHits int64 `json:"vulns_store_hits"`
	SubtreeHits    int64 `json:"subtree_hits"`
	RegistryCalls  int64 `json:"registry_calls"`
	AdvisoryCalls  int64 `json:"advisory_calls"`
	CorruptEntries int64 `json:"corrupt_entries"`
}

// StoreStats counts what a persistent store holds.
type StoreStats struct {
	Packages        int64 `json:"packages"`
	Edges           int64 `json:"edges"`
	Vulnerabilities int64 `json:"vulnerabilities"`
	Reports         int64 `json:"reports"`
}

// ScanReport is the aggregated result of one scan.
type ScanReport struct {
	ID                string            `json:"id"`
	Target            ScanTarget        `json:"target"`
	TierUsed          TierName          `json:"tier_used,omitempty"`
	TierAttempts      []TierAttempt     `json:"tier_attempts"`
	Tree              *DependencyNode   `json:"tree,omitempty"`
	Packages          []ResolvedPackage `json:"packages"`
	Findings          []Finding         `json:"findings"`
	Informational     []Finding         `json:"informational,omitempty"`
	RiskScore         float64           `json:"risk_score"`
	RiskLevel         Severity          `json:"risk_level"`
	SeverityBreakdown map[Severity]int  `json:"severity_breakdown"`
	TopRisks          []PackageRisk     `json:"top_risks,omitempty"`
	Incomplete        bool              `json:"incomplete"`
	IncompleteNodes   []IncompleteNode  `json:"incomplete_nodes,omitempty"`
	SourceErrors      []string          `json:"source_errors,omitempty"`
	CacheStats        CacheStats        `json:"cache_stats"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
}

// ImpactEntry is one package that transitively depends on an impacted package.
type ImpactEntry struct {
	Package PackageIdentity `json:"package"`
	Depth   int             `json:"depth"`
	Path    string          `json:"path"`
}
