// Package database - persistent backing stores for the resolution cache: resolved dependency
// edges, per-package advisory sets and scan history. Every store is a read-through cache and
// never the source of truth.
package database

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/rueidis"
	bolt "go.etcd.io/bbolt"
	"gorm.io/gorm"

	"github.com/ortelius/pdvd-depscan/database/arangodb"
	"github.com/ortelius/pdvd-depscan/database/boltdb"
	"github.com/ortelius/pdvd-depscan/database/rdb"
	"github.com/ortelius/pdvd-depscan/database/redis"
	"github.com/ortelius/pdvd-depscan/model"
)

// Store persists the two cache tables and scan history.
//
// Getters return (nil, nil) for a missing entry and an error wrapping model.ErrCacheCorruption
// when a stored entry cannot be decoded. Writes are keyed by package identity and replace the
// previous entry, so concurrent identical writes are harmless.
type Store interface {
	Open() error
	Close() error

	GetEdges(ctx context.Context, id model.PackageIdentity) (*model.EdgeSet, error)
	PutEdges(ctx context.Context, set model.EdgeSet) error
	// Dependents lists the packages whose stored edge list names id.
	Dependents(ctx context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error)

	GetVulnerabilities(ctx context.Context, id model.PackageIdentity) (*model.VulnerabilitySet, error)
	PutVulnerabilities(ctx context.Context, set model.VulnerabilitySet) error

	GetReport(ctx context.Context, targetKey string) (*model.ScanReport, error)
	PutReport(ctx context.Context, report model.ScanReport) error

	Stats(ctx context.Context) (model.StoreStats, error)
}

// Config selects and configures a store backend.
type Config struct {
	Type    string    `yaml:"type" validate:"oneof=memory boltdb redis sqlite3 mysql postgres arangodb"`
	Path    string    `yaml:"path"`
	Debug   bool      `yaml:"debug"`
	Options DBOptions `yaml:"-"`
}

// DBOptions carries backend specific options that have no place in a config file.
type DBOptions struct {
	BoltDB   *bolt.Options
	Redis    *rueidis.ClientOption
	RDB      []gorm.Option
	ArangoDB *arangodb.Config
}

// New builds an unopened store for the configured backend.
func (c *Config) New() (Store, error) {
	switch c.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "boltdb":
		return &boltdb.Connection{Config: &boltdb.Config{Path: c.Path, Options: c.Options.BoltDB}}, nil
	case "redis":
		conf := c.Options.Redis
		if conf == nil {
			conf = &rueidis.ClientOption{InitAddress: []string{c.Path}}
		}
		return &redis.Connection{Config: conf}, nil
	case "sqlite3", "mysql", "postgres":
		return &rdb.Connection{Config: &rdb.Config{Type: c.Type, Path: c.Path, Debug: c.Debug, Options: c.Options.RDB}}, nil
	case "arangodb":
		conf := c.Options.ArangoDB
		if conf == nil {
			conf = arangodb.ConfigFromEnv()
		}
		return &arangodb.Connection{Config: conf}, nil
	default:
		return nil, errors.Errorf("%s is not support dbtype", c.Type)
	}
}

// Open builds and opens the configured store.
func Open(c Config) (Store, error) {
	s, err := c.New()
	if err != nil {
		return nil, err
	}
	if err := s.Open(); err != nil {
		return nil, errors.Wrapf(err, "open %s store", c.Type)
	}
	return s, nil
}
