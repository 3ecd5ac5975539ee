// Package app wires the configuration into a ready scan service for the commands.
package app

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/config"
	"github.com/ortelius/pdvd-depscan/internal/engine"
	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/metrics"
	"github.com/ortelius/pdvd-depscan/internal/osv"
	"github.com/ortelius/pdvd-depscan/internal/registry"
	"github.com/ortelius/pdvd-depscan/internal/services"
	"github.com/ortelius/pdvd-depscan/internal/tiers"
	"github.com/ortelius/pdvd-depscan/model"
)

// Options are the flags shared by every command.
type Options struct {
	Config    string
	StoreType string
	StorePath string
	MaxDepth  int
	Debug     bool
}

// App holds everything a command needs.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Store   database.Store
	Engine  *engine.Engine
	Service *services.ScanService
}

// New loads the configuration, applies the flag overrides and builds the engine.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if opts.StoreType != "" {
		cfg.Store.Type = opts.StoreType
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	if opts.MaxDepth > 0 {
		cfg.Resolver.MaxDepth = opts.MaxDepth
	}
	if opts.Debug {
		cfg.Store.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return Build(cfg)
}

// Build wires cfg into an App.
func Build(cfg *config.Config) (*App, error) {
	logger := database.InitLogger()
	m := metrics.New()

	store, err := database.Open(cfg.Store)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}

	httpClient := fetch.New(fetch.Options{
		Timeout:       cfg.HTTP.Timeout,
		UserAgent:     cfg.HTTP.UserAgent,
		RatePerSecond: cfg.HTTP.RatePerSecond,
		MaxConcurrent: cfg.HTTP.MaxConcurrent,
		Logger:        logger,
		Observer:      m,
	})

	eng := engine.New(store, registry.New(httpClient, cfg.Registry, logger), osv.New(httpClient, cfg.OSV.URL, logger), engine.Options{
		MaxDepth:      cfg.Resolver.MaxDepth,
		Workers:       cfg.Resolver.Workers,
		TargetWorkers: cfg.Resolver.TargetWorkers,
		CacheTTL:      cfg.Cache.TTL,
		Manifest: &tiers.Manifest{
			HTTP:      httpClient,
			GitHubAPI: cfg.GitHub.APIURL,
			Token:     cfg.GitHub.Token,
			Logger:    logger,
		},
		Lockfile: &tiers.Lockfile{
			HTTP:   httpClient,
			RawURL: cfg.GitHub.RawURL,
			Token:  cfg.GitHub.Token,
			Logger: logger,
		},
		Logger:   logger,
		Observer: m,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Store:   store,
		Engine:  eng,
		Service: services.NewScanService(eng, logger),
	}, nil
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.Store.Close()
}

// ParseTarget reads a command-line target: a PURL ("pkg:pypi/django@1.11") or
// "ecosystem:name[@spec]" ("pypi:django@==1.11", "npm:@babel/core@^7.0.0").
func ParseTarget(arg string) (model.ScanRequest, error) {
	if strings.HasPrefix(arg, "pkg:") {
		return model.ScanRequest{PURL: arg}, nil
	}
	ecosystem, rest, ok := strings.Cut(arg, ":")
	if !ok || ecosystem == "" || rest == "" {
		return model.ScanRequest{}, errors.Errorf("target %q: expected a purl or ecosystem:name[@spec]", arg)
	}
	req := model.ScanRequest{Ecosystem: ecosystem, Package: rest}
	if at := strings.LastIndex(rest, "@"); at > 0 {
		req.Package, req.Version = rest[:at], rest[at+1:]
	}
	return req, nil
}

// ParseIdentity reads "ecosystem:name".
func ParseIdentity(arg string) (model.PackageIdentity, error) {
	return model.ParseIdentityKey(arg)
}

// Write renders v as indented JSON or as YAML.
func Write(w io.Writer, format string, v any) error {
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	switch format {
	case "", "json":
		_, err = w.Write(append(bs, '\n'))
		return err
	case "yaml":
		var doc any
		if err := yaml.Unmarshal(bs, &doc); err != nil {
			return errors.Wrap(err, "convert to yaml")
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return errors.Wrap(err, "marshal yaml")
		}
		_, err = w.Write(out)
		return err
	default:
		return errors.Errorf("unknown format %q, accepts: [json, yaml]", format)
	}
}
