// Package arangodb - stores the resolution cache in ArangoDB. Packages are vertices, resolved
// dependencies are edges of the package2package edge collection, so reverse impact lookups are
// plain INBOUND traversals.
package arangodb

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-depscan/model"
	"github.com/ortelius/pdvd-depscan/util"
)

const (
	packageCollection  = "package"
	vulnCollection     = "vulnerability"
	historyCollection  = "scan_history"
	edgeCollection     = "package2package"
	defaultDatabase    = "depscan"
	defaultMaxAttempts = 5
)

// Config holds the connection settings.
type Config struct {
	URL         string
	User        string
	Password    string
	Database    string
	MaxAttempts uint64
	Logger      *zap.Logger
}

// ConfigFromEnv reads ARANGO_URL or ARANGO_HOST/ARANGO_PORT, ARANGO_USER, ARANGO_PASS and
// ARANGO_DB.
func ConfigFromEnv() *Config {
	dbhost := util.GetEnvDefault("ARANGO_HOST", "localhost")
	dbport := util.GetEnvDefault("ARANGO_PORT", "8529")
	return &Config{
		URL:      util.GetEnvDefault("ARANGO_URL", "http://"+dbhost+":"+dbport),
		User:     util.GetEnvDefault("ARANGO_USER", "root"),
		Password: util.GetEnvDefault("ARANGO_PASS", ""),
		Database: util.GetEnvDefault("ARANGO_DB", defaultDatabase),
	}
}

// Connection is an open ArangoDB database with the cache collections.
type Connection struct {
	Config *Config

	db          arangodb.Database
	collections map[string]arangodb.Collection
}

type indexConfig struct {
	Collection string
	IdxName    string
	IdxField   string
}

type packageDoc struct {
	Key        string                `json:"_key"`
	Identity   model.PackageIdentity `json:"identity"`
	Edges      []model.ResolvedEdge  `json:"edges"`
	ResolvedAt time.Time             `json:"resolved_at"`
}

type edgeDoc struct {
	From     string                `json:"_from"`
	To       string                `json:"_to"`
	Identity model.PackageIdentity `json:"from_identity"`
	Spec     string                `json:"spec"`
	Depth    int                   `json:"depth"`
}

type vulnDoc struct {
	Key      string                      `json:"_key"`
	Identity model.PackageIdentity       `json:"identity"`
	Records  []model.VulnerabilityRecord `json:"records"`
	CachedAt time.Time                   `json:"cached_at"`
}

type historyDoc struct {
	Key       string           `json:"_key"`
	TargetKey string           `json:"target_key"`
	Report    model.ScanReport `json:"report"`
}

// documentKey escapes the characters ArangoDB does not allow in _key (the slash of npm scopes
// and Go module paths) while keeping the key reversible.
func documentKey(s string) string {
	return url.PathEscape(s)
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Open connects with backoff, then creates the database, collections and indexes when missing.
func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}
	logger := c.Config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dbName := c.Config.Database
	if dbName == "" {
		dbName = defaultDatabase
	}
	attempts := c.Config.MaxAttempts
	if attempts == 0 {
		attempts = defaultMaxAttempts
	}

	ctx := context.Background()
	var client arangodb.Client

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second

	err := backoff.RetryNotify(func() error {
		endpoint := connection.NewRoundRobinEndpoints([]string{c.Config.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, c.Config.User, c.Config.Password))
		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}
		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, backoff.WithMaxRetries(bo, attempts-1), func(err error, wait time.Duration) {
		logger.Sugar().Warnf("Retrying connection to ArangoDB in %s: %v", wait, err)
	})
	if err != nil {
		return errors.Wrap(err, "connect to arangodb")
	}

	exists := false
	dblist, err := client.Databases(ctx)
	if err != nil {
		return errors.Wrap(err, "list databases")
	}
	for _, dbinfo := range dblist {
		if dbinfo.Name() == dbName {
			exists = true
			break
		}
	}
	if exists {
		var options arangodb.GetDatabaseOptions
		if c.db, err = client.GetDatabase(ctx, dbName, &options); err != nil {
			return errors.Wrap(err, "get database")
		}
	} else {
		if c.db, err = client.CreateDatabase(ctx, dbName, nil); err != nil {
			return errors.Wrap(err, "create database")
		}
	}

	c.collections = make(map[string]arangodb.Collection)
	for _, name := range []string{packageCollection, vulnCollection, historyCollection} {
		if err := c.ensureCollection(ctx, name, false); err != nil {
			return err
		}
	}
	if err := c.ensureCollection(ctx, edgeCollection, true); err != nil {
		return err
	}

	idxList := []indexConfig{
		{Collection: edgeCollection, IdxName: "package2package_from", IdxField: "_from"},
		{Collection: edgeCollection, IdxName: "package2package_to", IdxField: "_to"},
		{Collection: historyCollection, IdxName: "scan_history_target", IdxField: "target_key"},
	}
	False := false
	for _, idx := range idxList {
		found := false
		if indexes, err := c.collections[idx.Collection].Indexes(ctx); err == nil {
			for _, index := range indexes {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}
		if found {
			continue
		}
		indexOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &False,
			Sparse: &False,
			Name:   idx.IdxName,
		}
		if _, _, err := c.collections[idx.Collection].EnsurePersistentIndex(ctx, []string{idx.IdxField}, &indexOptions); err != nil {
			return errors.Wrapf(err, "create index %s", idx.IdxName)
		}
		logger.Sugar().Infof("Created index: %s on %s.%s", idx.IdxName, idx.Collection, idx.IdxField)
	}
	return nil
}

func (c *Connection) ensureCollection(ctx context.Context, name string, edge bool) error {
	var col arangodb.Collection
	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "check collection %s", name)
	}
	switch {
	case exists:
		var options arangodb.GetCollectionOptions
		col, err = c.db.GetCollection(ctx, name, &options)
	case edge:
		edgeType := arangodb.CollectionTypeEdge
		col, err = c.db.CreateCollectionV2(ctx, name, &arangodb.CreateCollectionPropertiesV2{Type: &edgeType})
	default:
		col, err = c.db.CreateCollectionV2(ctx, name, nil)
	}
	if err != nil {
		return errors.Wrapf(err, "open collection %s", name)
	}
	c.collections[name] = col
	return nil
}

// Close is a no-op; the HTTP connection has no session to end.
func (c *Connection) Close() error { return nil }

func (c *Connection) query(ctx context.Context, query string, bindVars map[string]interface{}) (arangodb.Cursor, error) {
	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cursor, nil
}

// first reads the first result of a query into v and reports whether there was one.
func (c *Connection) first(ctx context.Context, query string, bindVars map[string]interface{}, v any) (bool, error) {
	cursor, err := c.query(ctx, query, bindVars)
	if err != nil {
		return false, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return false, nil
	}
	if _, err := cursor.ReadDocument(ctx, v); err != nil {
		return false, errors.Wrapf(model.ErrCacheCorruption, "read document: %v", err)
	}
	return true, nil
}

func (c *Connection) exec(ctx context.Context, query string, bindVars map[string]interface{}) error {
	cursor, err := c.query(ctx, query, bindVars)
	if err != nil {
		return err
	}
	return cursor.Close()
}

const getByKey = `
	FOR d IN @@col
		FILTER d._key == @key
		LIMIT 1
		RETURN d
`

const upsertByKey = `
	UPSERT { _key: @key }
	INSERT @doc
	REPLACE @doc
	IN @@col
`

// GetEdges reads the package vertex of id.
func (c *Connection) GetEdges(ctx context.Context, id model.PackageIdentity) (*model.EdgeSet, error) {
	var doc packageDoc
	found, err := c.first(ctx, getByKey, map[string]interface{}{"@col": packageCollection, "key": documentKey(id.Key())}, &doc)
	if err != nil || !found {
		return nil, err
	}
	if doc.Edges == nil {
		doc.Edges = []model.ResolvedEdge{}
	}
	return &model.EdgeSet{Package: id, Edges: doc.Edges, ResolvedAt: doc.ResolvedAt}, nil
}

// PutEdges upserts the package vertex and replaces its outbound edges.
func (c *Connection) PutEdges(ctx context.Context, set model.EdgeSet) error {
	key := documentKey(set.Package.Key())
	doc := packageDoc{Key: key, Identity: set.Package, Edges: set.Edges, ResolvedAt: set.ResolvedAt}
	if err := c.exec(ctx, upsertByKey, map[string]interface{}{"@col": packageCollection, "key": key, "doc": doc}); err != nil {
		return errors.Wrapf(err, "upsert package %s", set.Package)
	}

	from := packageCollection + "/" + key
	if err := c.exec(ctx, `
		FOR e IN @@col
			FILTER e._from == @from
			REMOVE e IN @@col
	`, map[string]interface{}{"@col": edgeCollection, "from": from}); err != nil {
		return errors.Wrapf(err, "remove edges of %s", set.Package)
	}

	if len(set.Edges) == 0 {
		return nil
	}
	edges := make([]edgeDoc, 0, len(set.Edges))
	for _, e := range set.Edges {
		edges = append(edges, edgeDoc{
			From:     from,
			To:       packageCollection + "/" + documentKey(e.DependsOn.Key()),
			Identity: set.Package,
			Spec:     string(e.Spec),
			Depth:    e.Depth,
		})
	}
	if err := c.exec(ctx, `
		FOR e IN @edges
			INSERT e INTO @@col
	`, map[string]interface{}{"@col": edgeCollection, "edges": edges}); err != nil {
		return errors.Wrapf(err, "insert edges of %s", set.Package)
	}
	return nil
}

// Dependents follows package2package edges inbound to id.
func (c *Connection) Dependents(ctx context.Context, id model.PackageIdentity) ([]model.PackageIdentity, error) {
	cursor, err := c.query(ctx, `
		FOR e IN @@col
			FILTER e._to == @to
			SORT e._from
			RETURN DISTINCT e.from_identity
	`, map[string]interface{}{"@col": edgeCollection, "to": packageCollection + "/" + documentKey(id.Key())})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []model.PackageIdentity
	for cursor.HasMore() {
		var p model.PackageIdentity
		if _, err := cursor.ReadDocument(ctx, &p); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetVulnerabilities reads the advisory document of id.
func (c *Connection) GetVulnerabilities(ctx context.Context, id model.PackageIdentity) (*model.VulnerabilitySet, error) {
	var doc vulnDoc
	found, err := c.first(ctx, getByKey, map[string]interface{}{"@col": vulnCollection, "key": documentKey(id.Key())}, &doc)
	if err != nil || !found {
		return nil, err
	}
	if doc.Records == nil {
		doc.Records = []model.VulnerabilityRecord{}
	}
	return &model.VulnerabilitySet{Package: id, Records: doc.Records, CachedAt: doc.CachedAt}, nil
}

// PutVulnerabilities upserts the advisory document of set.Package.
func (c *Connection) PutVulnerabilities(ctx context.Context, set model.VulnerabilitySet) error {
	key := documentKey(set.Package.Key())
	doc := vulnDoc{Key: key, Identity: set.Package, Records: set.Records, CachedAt: set.CachedAt}
	return errors.Wrapf(c.exec(ctx, upsertByKey, map[string]interface{}{"@col": vulnCollection, "key": key, "doc": doc}),
		"upsert vulnerabilities %s", set.Package)
}

// GetReport reads the last report of a target.
func (c *Connection) GetReport(ctx context.Context, targetKey string) (*model.ScanReport, error) {
	var doc historyDoc
	found, err := c.first(ctx, getByKey, map[string]interface{}{"@col": historyCollection, "key": documentKey(targetKey)}, &doc)
	if err != nil || !found {
		return nil, err
	}
	return &doc.Report, nil
}

// PutReport upserts the report of its target.
func (c *Connection) PutReport(ctx context.Context, report model.ScanReport) error {
	key := documentKey(report.Target.Key())
	doc := historyDoc{Key: key, TargetKey: report.Target.Key(), Report: report}
	return errors.Wrap(c.exec(ctx, upsertByKey, map[string]interface{}{"@col": historyCollection, "key": key, "doc": doc}),
		"upsert scan history")
}

// Stats counts documents per collection.
func (c *Connection) Stats(ctx context.Context) (model.StoreStats, error) {
	var s model.StoreStats
	_, err := c.first(ctx, `
		RETURN {
			packages: LENGTH(package),
			edges: LENGTH(package2package),
			vulnerabilities: LENGTH(vulnerability),
			reports: LENGTH(scan_history)
		}
	`, nil, &s)
	return s, err
}
