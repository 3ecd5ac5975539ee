// Package redis is the rueidis backed store. Entries live in hashes keyed by package identity;
// the reverse edge index is one set per dependency.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/rueidis"

	"github.com/ortelius/pdvd-depscan/database/codec"
	"github.com/ortelius/pdvd-depscan/model"
)

const (
	edgesKey     = "depscan#edges"
	edgeCountKey = "depscan#edgecount"
	vulnsKey     = "depscan#vulnerabilities"
	reportsKey   = "depscan#reports"
)

func dependentsKey(id string) string {
	return fmt.Sprintf("depscan#dependents#%s", id)
}

// Connection is a rueidis client.
type Connection struct {
	Config *rueidis.ClientOption

	conn rueidis.Client
}

// Open connects to the server.
func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}

	client, err := rueidis.NewClient(*c.Config)
	if err != nil {
		return errors.WithStack(err)
	}
	c.conn = client
	return nil
}

// Close closes the client.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.Close()
	return nil
}

func (c *Connection) hget(ctx context.Context, hash, field string, v any) (bool, error) {
	bs, err := c.conn.Do(ctx, c.conn.B().Hget().Key(hash).Field(field).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "HGET %s %s", hash, field)
	}
	if err := codec.Unmarshal(bs, true, v); err != nil {
		return false, errors.Wrapf(err, "unmarshal %s %s", hash, field)
	}
	return true, nil
}

func (c *Connection) hset(ctx context.Context, hash, field string, v any) error {
	bs, err := codec.Marshal(v, true)
	if err != nil {
		return errors.Wrapf(err, "marshal %s %s", hash, field)
	}
	if err := c.conn.Do(ctx, c.conn.B().Hset().Key(hash).FieldValue().FieldValue(field, string(bs)).Build()).Error(); err != nil {
		return errors.Wrapf(err, "HSET %s %s", hash, field)
	}
	return nil
}

// GetEdges reads the edge list of id.
func (c *Connection) GetEdges(ctx context.Context, id model.PackageIdentity) (*model.EdgeSet, error) {
	var set model.EdgeSet
	found, err := c.hget(ctx, edgesKey, id.Key(), &set)
	if err != nil || !found {
		return nil, err
	}
	return &set, nil
}

// PutEdges replaces the edge list of set.Package and updates the reverse index.
func (c *Connection) PutEdges(ctx context.Context, set model.EdgeSet) error {
	key := set.Package.Key()

	prev, err := c.GetEdges(ctx, set.Package)
	if err != nil && !errors.Is(err, model.ErrCacheCorruption) {
		return err
	}

	cmds := make(rueidis.Commands, 0, 2+len(set.Edges))
	if prev != nil {
		for _, e := range prev.Edges {
			cmds = append(cmds, c.conn.B().Srem().Key(dependentsKey(e.DependsOn.Key())).Member(key).Build())
		}
	}
	for _, e := range set.Edges {
		cmds = append(cmds, c.conn.B().Sadd().Key(dependentsKey(e.DependsOn.Key())).Member(key).Build())
	}
	cmds = append(cmds, c.conn.B().Hset().Key(edgeCountKey).FieldValue().FieldValue(key, strconv.Itoa(len(set.Edges))).Build())

	if err := c.hset(ctx, edgesKey, key, set); err != nil {
		return err
	}
	for _, resp := range c.conn.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return errors.Wrapf(err, "update dependents of %s", key)
		}
	}
	return nil
}

// Dependents reads the reverse index set of id.
func (c *Connection) Dependents(ctx context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error) {
	keys, err := c.conn.Do(ctx, c.conn.B().Smembers().Key(dependentsKey(id.Key())).Build()).AsStrSlice()
	if err != nil {
		return nil, errors.Wrapf(err, "SMEMBERS %s", dependentsKey(id.Key()))
	}
	sort.Strings(keys)
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

// GetVulnerabilities reads the advisory set of id.
func (c *Connection) GetVulnerabilities(ctx context.Context, id model.PackageIdentity) (*model.VulnerabilitySet, error) {
	var set model.VulnerabilitySet
	found, err := c.hget(ctx, vulnsKey, id.Key(), &set)
	if err != nil || !found {
		return nil, err
	}
	return &set, nil
}

// PutVulnerabilities replaces the advisory set of set.Package.
func (c *Connection) PutVulnerabilities(ctx context.Context, set model.VulnerabilitySet) error {
	return c.hset(ctx, vulnsKey, set.Package.Key(), set)
}

// GetReport reads the last report of a target.
func (c *Connection) GetReport(ctx context.Context, targetKey string) (*model.ScanReport, error) {
	var r model.ScanReport
	found, err := c.hget(ctx, reportsKey, targetKey, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// PutReport stores the report under its target key.
func (c *Connection) PutReport(ctx context.Context, report model.ScanReport) error {
	return c.hset(ctx, reportsKey, report.Target.Key(), report)
}

// Stats uses HLEN on each hash and sums the per-package edge counts.
func (c *Connection) Stats(ctx context.Context) (model.StoreStats, error) {
	var s model.StoreStats
	for _, q := range []struct {
		hash string
		dst  *int64
	}{
		{edgesKey, &s.Packages},
		{vulnsKey, &s.Vulnerabilities},
		{reportsKey, &s.Reports},
	} {
		n, err := c.conn.Do(ctx, c.conn.B().Hlen().Key(q.hash).Build()).AsInt64()
		if err != nil {
			return s, errors.Wrapf(err, "HLEN %s", q.hash)
		}
		*q.dst = n
	}

	counts, err := c.conn.Do(ctx, c.conn.B().Hvals().Key(edgeCountKey).Build()).AsStrSlice()
	if err != nil {
		return s, errors.Wrapf(err, "HVALS %s", edgeCountKey)
	}
	for _, v := range counts {
		n, _ := strconv.ParseInt(v, 10, 64)
		s.Edges += n
	}
	return s, nil
}
