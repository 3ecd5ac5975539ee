// Package boltdb is the bbolt backed store: one file, zstd compressed JSON values.
package boltdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/ortelius/pdvd-depscan/database/codec"
	"github.com/ortelius/pdvd-depscan/model"
)

const (
	edgesBucket      = "edges"
	dependentsBucket = "dependents"
	vulnsBucket      = "vulnerabilities"
	reportsBucket    = "reports"
)

// Config locates the database file.
type Config struct {
	Path    string
	Options *bolt.Options
}

// Connection is an open bbolt database.
type Connection struct {
	Config *Config

	conn *bolt.DB
}

// Open opens the file and creates the buckets.
func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}

	db, err := bolt.Open(c.Config.Path, 0600, c.Config.Options)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{edgesBucket, dependentsBucket, vulnsBucket, reportsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "create bucket:%q if not exists", name)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return errors.WithStack(err)
	}
	c.conn = db
	return nil
}

// Close closes the file.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Connection) get(bucket, key string, v any) (bool, error) {
	found := false
	if err := c.conn.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.Errorf("bucket:%q is not exists", bucket)
		}
		bs := b.Get([]byte(key))
		if bs == nil {
			return nil
		}
		found = true
		if err := codec.Unmarshal(bs, true, v); err != nil {
			return errors.Wrapf(err, "unmarshal %s:%s", bucket, key)
		}
		return nil
	}); err != nil {
		return false, err
	}
	return found, nil
}

func (c *Connection) put(bucket, key string, v any) error {
	bs, err := codec.Marshal(v, true)
	if err != nil {
		return errors.Wrapf(err, "marshal %s:%s", bucket, key)
	}
	return c.conn.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucket)).Put([]byte(key), bs); err != nil {
			return errors.Wrapf(err, "put %s:%s", bucket, key)
		}
		return nil
	})
}

// GetEdges returns the stored edge list of id.
func (c *Connection) GetEdges(_ context.Context, id model.PackageIdentity) (*model.EdgeSet, error) {
	var set model.EdgeSet
	found, err := c.get(edgesBucket, id.Key(), &set)
	if err != nil || !found {
		return nil, err
	}
	return &set, nil
}

// PutEdges replaces the edge list of set.Package and keeps the reverse index in step, in one
// transaction.
func (c *Connection) PutEdges(_ context.Context, set model.EdgeSet) error {
	key := set.Package.Key()
	bs, err := codec.Marshal(set, true)
	if err != nil {
		return errors.Wrapf(err, "marshal edges:%s", key)
	}
	pkg, err := codec.Marshal(set.Package, false)
	if err != nil {
		return errors.Wrapf(err, "marshal identity:%s", key)
	}

	return c.conn.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket([]byte(edgesBucket))
		db := tx.Bucket([]byte(dependentsBucket))

		if old := eb.Get([]byte(key)); old != nil {
			var prev model.EdgeSet
			if codec.Unmarshal(old, true, &prev) == nil {
				for _, e := range prev.Edges {
					if sub := db.Bucket([]byte(e.DependsOn.Key())); sub != nil {
						if err := sub.Delete([]byte(key)); err != nil {
							return errors.Wrapf(err, "delete dependents:%s:%s", e.DependsOn.Key(), key)
						}
					}
				}
			}
		}

		if err := eb.Put([]byte(key), bs); err != nil {
			return errors.Wrapf(err, "put edges:%s", key)
		}
		for _, e := range set.Edges {
			sub, err := db.CreateBucketIfNotExists([]byte(e.DependsOn.Key()))
			if err != nil {
				return errors.Wrapf(err, "create bucket:%q if not exists", "dependents:"+e.DependsOn.Key())
			}
			if err := sub.Put([]byte(key), pkg); err != nil {
				return errors.Wrapf(err, "put dependents:%s:%s", e.DependsOn.Key(), key)
			}
		}
		return nil
	})
}

// Dependents lists the packages whose edge lists name id.
func (c *Connection) Dependents(_ context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error) {
	var out []model.PackageIdentity
	if err := c.conn.View(func(tx *bolt.Tx) error {
		sub := tx.Bucket([]byte(dependentsBucket)).Bucket([]byte(id.Key()))
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, v []byte) error {
			var p model.PackageIdentity
			if err := codec.Unmarshal(v, false, &p); err != nil {
				return errors.Wrapf(err, "unmarshal dependents:%s:%s", id.Key(), k)
			}
			out = append(out, p)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// GetVulnerabilities returns the stored advisory set of id.
func (c *Connection) GetVulnerabilities(_ context.Context, id model.PackageIdentity) (*model.VulnerabilitySet, error) {
	var set model.VulnerabilitySet
	found, err := c.get(vulnsBucket, id.Key(), &set)
	if err != nil || !found {
		return nil, err
	}
	return &set, nil
}

// PutVulnerabilities replaces the advisory set of set.Package.
func (c *Connection) PutVulnerabilities(_ context.Context, set model.VulnerabilitySet) error {
	return c.put(vulnsBucket, set.Package.Key(), set)
}

// GetReport returns the last report stored for a target.
func (c *Connection) GetReport(_ context.Context, targetKey string) (*model.ScanReport, error) {
	var r model.ScanReport
	found, err := c.get(reportsBucket, targetKey, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// PutReport stores a report under its target key.
func (c *Connection) PutReport(_ context.Context, report model.ScanReport) error {
	return c.put(reportsBucket, report.Target.Key(), report)
}

// Stats counts keys per bucket.
func (c *Connection) Stats(_ context.Context) (model.StoreStats, error) {
	var s model.StoreStats
	err := c.conn.View(func(tx *bolt.Tx) error {
		s.Packages = int64(tx.Bucket([]byte(edgesBucket)).Stats().KeyN)
		s.Vulnerabilities = int64(tx.Bucket([]byte(vulnsBucket)).Stats().KeyN)
		s.Reports = int64(tx.Bucket([]byte(reportsBucket)).Stats().KeyN)
		return tx.Bucket([]byte(dependentsBucket)).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			if sub := tx.Bucket([]byte(dependentsBucket)).Bucket(k); sub != nil {
				s.Edges += int64(sub.Stats().KeyN)
			}
			return nil
		})
	})
	return s, errors.WithStack(err)
}
