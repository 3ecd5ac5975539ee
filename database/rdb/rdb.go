// Package rdb stores the cache tables in a relational database through gorm: sqlite3, mysql or
// postgres.
package rdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ortelius/pdvd-depscan/database/codec"
	"github.com/ortelius/pdvd-depscan/model"
)

// Config selects the dialect and DSN.
type Config struct {
	Type    string
	Path    string
	Debug   bool
	Options []gorm.Option
}

// Connection is an open gorm database.
type Connection struct {
	Config *Config

	conn *gorm.DB
}

// ResolvedEdge is one row of resolved_edges.
type ResolvedEdge struct {
	ID                uint   `gorm:"primaryKey"`
	PackageIdentity   string `gorm:"index;size:512;not null"`
	DependsOnIdentity string `gorm:"index;size:512;not null"`
	Spec              string `gorm:"size:512"`
	Depth             int
}

// TableName implements gorm's tabler.
func (ResolvedEdge) TableName() string { return "resolved_edges" }

// ResolvedPackage marks a package whose edge list is stored, so that a package without
// dependencies is told apart from one never resolved.
type ResolvedPackage struct {
	PackageIdentity string `gorm:"primaryKey;size:512"`
	ResolvedAt      time.Time
}

// TableName implements gorm's tabler.
func (ResolvedPackage) TableName() string { return "resolved_packages" }

// PackageVulnerability is one row of package_vulnerabilities.
type PackageVulnerability struct {
	ID                 uint   `gorm:"primaryKey"`
	PackageIdentity    string `gorm:"index;size:512;not null"`
	AdvisoryID         string `gorm:"size:128;not null"`
	Severity           string `gorm:"size:16"`
	CVSS               float64
	AffectedRangesJSON string
	FixedVersionsJSON  string
	Record             string
	CachedAt           time.Time
}

// TableName implements gorm's tabler.
func (PackageVulnerability) TableName() string { return "package_vulnerabilities" }

// VulnerabilityCheck marks a package whose advisory set is stored, including an empty one.
type VulnerabilityCheck struct {
	PackageIdentity string `gorm:"primaryKey;size:512"`
	CachedAt        time.Time
}

// TableName implements gorm's tabler.
func (VulnerabilityCheck) TableName() string { return "vulnerability_checks" }

// ScanHistory holds the last report per target.
type ScanHistory struct {
	TargetKey string `gorm:"primaryKey;size:1024"`
	Report    string
	CreatedAt time.Time
}

// TableName implements gorm's tabler.
func (ScanHistory) TableName() string { return "scan_history" }

// Open connects and migrates the schema.
func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}

	level := logger.Silent
	if c.Config.Debug {
		level = logger.Info
	}
	opts := append([]gorm.Option{&gorm.Config{Logger: logger.Default.LogMode(level)}}, c.Config.Options...)

	var dialector gorm.Dialector
	switch c.Config.Type {
	case "sqlite3":
		dialector = sqlite.Open(c.Config.Path)
	case "mysql":
		dialector = mysql.Open(c.Config.Path)
	case "postgres":
		dialector = postgres.Open(c.Config.Path)
	default:
		return errors.Errorf("%s is not support rdb dbtype", c.Config.Type)
	}

	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := db.AutoMigrate(&ResolvedEdge{}, &ResolvedPackage{}, &PackageVulnerability{}, &VulnerabilityCheck{}, &ScanHistory{}); err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	c.conn = db
	return nil
}

// Close closes the underlying *sql.DB.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	db, err := c.conn.DB()
	if err != nil {
		return errors.Wrap(err, "get *sql.DB")
	}
	return db.Close()
}

// GetEdges reads the edge rows of id.
func (c *Connection) GetEdges(ctx context.Context, id model.PackageIdentity) (*model.EdgeSet, error) {
	db := c.conn.WithContext(ctx)
	key := id.Key()

	var marks []ResolvedPackage
	if err := db.Where("package_identity = ?", key).Limit(1).Find(&marks).Error; err != nil {
		return nil, errors.Wrapf(err, "find resolved_packages:%s", key)
	}
	if len(marks) == 0 {
		return nil, nil
	}

	var rows []ResolvedEdge
	if err := db.Where("package_identity = ?", key).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "find resolved_edges:%s", key)
	}

	set := &model.EdgeSet{Package: id, Edges: make([]model.ResolvedEdge, 0, len(rows)), ResolvedAt: marks[0].ResolvedAt}
	for _, r := range rows {
		dep, err := model.ParseIdentityKey(r.DependsOnIdentity)
		if err != nil {
			return nil, errors.Wrapf(model.ErrCacheCorruption, "resolved_edges:%s: %v", key, err)
		}
		set.Edges = append(set.Edges, model.ResolvedEdge{Package: id, DependsOn: dep, Spec: model.VersionSpec(r.Spec), Depth: r.Depth})
	}
	return set, nil
}

// PutEdges replaces the edge rows of set.Package.
func (c *Connection) PutEdges(ctx context.Context, set model.EdgeSet) error {
	key := set.Package.Key()
	rows := make([]ResolvedEdge, 0, len(set.Edges))
	for _, e := range set.Edges {
		rows = append(rows, ResolvedEdge{
			PackageIdentity:   key,
			DependsOnIdentity: e.DependsOn.Key(),
			Spec:              string(e.Spec),
			Depth:             e.Depth,
		})
	}

	return errors.WithStack(c.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("package_identity = ?", key).Delete(&ResolvedEdge{}).Error; err != nil {
			return errors.Wrapf(err, "delete resolved_edges:%s", key)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return errors.Wrapf(err, "insert resolved_edges:%s", key)
			}
		}
		mark := ResolvedPackage{PackageIdentity: key, ResolvedAt: set.ResolvedAt}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&mark).Error; err != nil {
			return errors.Wrapf(err, "upsert resolved_packages:%s", key)
		}
		return nil
	}))
}

// Dependents queries resolved_edges by the depends_on column.
func (c *Connection) Dependents(ctx context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error) {
	var keys []string
	if err := c.conn.WithContext(ctx).Model(&ResolvedEdge{}).
		Where("depends_on_identity = ?", id.Key()).
		Distinct().Order("package_identity").
		Pluck("package_identity", &keys).Error; err != nil {
		return nil, errors.Wrapf(err, "dependents of %s", id.Key())
	}
	out := make([]model.PackageIdentity, 0, len(keys))
	for _, k := range keys {
		p, err := model.ParseIdentityKey(k)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetVulnerabilities reads the advisory rows of id.
func (c *Connection) GetVulnerabilities(ctx context.Context, id model.PackageIdentity) (*model.VulnerabilitySet, error) {
	db := c.conn.WithContext(ctx)
	key := id.Key()

	var marks []VulnerabilityCheck
	if err := db.Where("package_identity = ?", key).Limit(1).Find(&marks).Error; err != nil {
		return nil, errors.Wrapf(err, "find vulnerability_checks:%s", key)
	}
	if len(marks) == 0 {
		return nil, nil
	}

	var rows []PackageVulnerability
	if err := db.Where("package_identity = ?", key).Order("advisory_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "find package_vulnerabilities:%s", key)
	}

	set := &model.VulnerabilitySet{Package: id, Records: make([]model.VulnerabilityRecord, 0, len(rows)), CachedAt: marks[0].CachedAt}
	for _, r := range rows {
		var rec model.VulnerabilityRecord
		if err := codec.Unmarshal([]byte(r.Record), false, &rec); err != nil {
			return nil, errors.Wrapf(err, "package_vulnerabilities:%s:%s", key, r.AdvisoryID)
		}
		set.Records = append(set.Records, rec)
	}
	return set, nil
}

// PutVulnerabilities replaces the advisory rows of set.Package.
func (c *Connection) PutVulnerabilities(ctx context.Context, set model.VulnerabilitySet) error {
	key := set.Package.Key()
	rows := make([]PackageVulnerability, 0, len(set.Records))
	for _, rec := range set.Records {
		full, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrapf(err, "marshal %s", rec.ID)
		}
		ranges, _ := json.Marshal(rec.AffectedRanges)
		fixed, _ := json.Marshal(rec.FixedVersions)
		rows = append(rows, PackageVulnerability{
			PackageIdentity:    key,
			AdvisoryID:         rec.ID,
			Severity:           string(rec.Severity),
			CVSS:               rec.CVSSScore,
			AffectedRangesJSON: string(ranges),
			FixedVersionsJSON:  string(fixed),
			Record:             string(full),
			CachedAt:           set.CachedAt,
		})
	}

	return errors.WithStack(c.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("package_identity = ?", key).Delete(&PackageVulnerability{}).Error; err != nil {
			return errors.Wrapf(err, "delete package_vulnerabilities:%s", key)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return errors.Wrapf(err, "insert package_vulnerabilities:%s", key)
			}
		}
		mark := VulnerabilityCheck{PackageIdentity: key, CachedAt: set.CachedAt}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&mark).Error; err != nil {
			return errors.Wrapf(err, "upsert vulnerability_checks:%s", key)
		}
		return nil
	}))
}

// GetReport reads the last report of a target.
func (c *Connection) GetReport(ctx context.Context, targetKey string) (*model.ScanReport, error) {
	var rows []ScanHistory
	if err := c.conn.WithContext(ctx).Where("target_key = ?", targetKey).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "find scan_history:%s", targetKey)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var r model.ScanReport
	if err := codec.Unmarshal([]byte(rows[0].Report), false, &r); err != nil {
		return nil, errors.Wrapf(err, "scan_history:%s", targetKey)
	}
	return &r, nil
}

// PutReport upserts the report of its target.
func (c *Connection) PutReport(ctx context.Context, report model.ScanReport) error {
	bs, err := codec.Marshal(report, false)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	row := ScanHistory{TargetKey: report.Target.Key(), Report: string(bs), CreatedAt: report.FinishedAt}
	return errors.WithStack(c.conn.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error)
}

// Stats counts rows.
func (c *Connection) Stats(ctx context.Context) (model.StoreStats, error) {
	db := c.conn.WithContext(ctx)
	var s model.StoreStats
	for _, q := range []struct {
		table any
		dst   *int64
	}{
		{&ResolvedPackage{}, &s.Packages},
		{&ResolvedEdge{}, &s.Edges},
		{&VulnerabilityCheck{}, &s.Vulnerabilities},
		{&ScanHistory{}, &s.Reports},
	} {
		if err := db.Model(q.table).Count(q.dst).Error; err != nil {
			return s, errors.WithStack(err)
		}
	}
	return s, nil
}
