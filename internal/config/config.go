// Package config loads the service settings: built-in defaults, then an optional YAML file, then
// environment variables (a .env file in the working directory is loaded first).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/ortelius/pdvd-depscan/database"
	"github.com/ortelius/pdvd-depscan/internal/registry"
	"github.com/ortelius/pdvd-depscan/util"
)

// Config is the full service configuration.
type Config struct {
	Resolver Resolver           `yaml:"resolver"`
	HTTP     HTTP               `yaml:"http"`
	Cache    Cache              `yaml:"cache"`
	Store    database.Config    `yaml:"store"`
	Registry registry.Endpoints `yaml:"registry"`
	OSV      OSV                `yaml:"osv"`
	GitHub   GitHub             `yaml:"github"`
	Kafka    Kafka              `yaml:"kafka"`
	Server   Server             `yaml:"server"`
}

// Resolver bounds the traversal.
type Resolver struct {
	MaxDepth      int `yaml:"max_depth" validate:"min=1,max=50"`
	Workers       int `yaml:"workers" validate:"min=1,max=64"`
	TargetWorkers int `yaml:"target_workers" validate:"min=1,max=64"`
}

// HTTP configures the outbound client shared by registries, OSV and GitHub.
type HTTP struct {
	Timeout       time.Duration `yaml:"timeout" validate:"min=1s,max=2m"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	MaxConcurrent int64         `yaml:"max_concurrent" validate:"min=1"`
	UserAgent     string        `yaml:"user_agent"`
}

// Cache configures persisted entry freshness.
type Cache struct {
	TTL time.Duration `yaml:"ttl"`
}

// OSV points at the advisory API.
type OSV struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

// GitHub configures the manifest and lockfile tiers.
type GitHub struct {
	APIURL string `yaml:"api_url" validate:"omitempty,url"`
	RawURL string `yaml:"raw_url" validate:"omitempty,url"`
	Token  string `yaml:"-"`
}

// Kafka configures the scan worker.
type Kafka struct {
	Brokers        []string `yaml:"brokers"`
	RequestTopic   string   `yaml:"request_topic"`
	CompletedTopic string   `yaml:"completed_topic"`
	GroupID        string   `yaml:"group_id"`
}

// Server configures the HTTP API.
type Server struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Resolver: Resolver{MaxDepth: 5, Workers: 5, TargetWorkers: 2},
		HTTP:     HTTP{Timeout: 15 * time.Second, RatePerSecond: 10, MaxConcurrent: 10, UserAgent: "pdvd-depscan"},
		Cache:    Cache{TTL: 24 * time.Hour},
		Store:    database.Config{Type: "boltdb", Path: "depscan.db"},
		OSV:      OSV{URL: "https://api.osv.dev"},
		GitHub:   GitHub{APIURL: "https://api.github.com", RawURL: "https://raw.githubusercontent.com"},
		Kafka: Kafka{
			Brokers:        []string{"localhost:9092"},
			RequestTopic:   "depscan.scan.requested",
			CompletedTopic: "depscan.scan.completed",
			GroupID:        "depscan-worker",
		},
		Server: Server{Port: "3000"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Resolver.MaxDepth = util.GetEnvInt("DEPSCAN_MAX_DEPTH", c.Resolver.MaxDepth)
	c.Resolver.Workers = util.GetEnvInt("DEPSCAN_WORKERS", c.Resolver.Workers)
	c.Resolver.TargetWorkers = util.GetEnvInt("DEPSCAN_TARGET_WORKERS", c.Resolver.TargetWorkers)

	c.HTTP.Timeout = util.GetEnvDuration("DEPSCAN_HTTP_TIMEOUT", c.HTTP.Timeout)
	c.HTTP.RatePerSecond = util.GetEnvFloat("DEPSCAN_RATE_PER_SECOND", c.HTTP.RatePerSecond)
	c.HTTP.MaxConcurrent = int64(util.GetEnvInt("DEPSCAN_MAX_CONCURRENT", int(c.HTTP.MaxConcurrent)))

	c.Cache.TTL = util.GetEnvDuration("DEPSCAN_CACHE_TTL", c.Cache.TTL)

	c.Store.Type = util.GetEnvDefault("DEPSCAN_STORE", c.Store.Type)
	c.Store.Path = util.GetEnvDefault("DEPSCAN_STORE_PATH", c.Store.Path)

	c.Registry.PyPI = util.GetEnvDefault("DEPSCAN_PYPI_URL", c.Registry.PyPI)
	c.Registry.NPM = util.GetEnvDefault("DEPSCAN_NPM_URL", c.Registry.NPM)
	c.Registry.Maven = util.GetEnvDefault("DEPSCAN_MAVEN_URL", c.Registry.Maven)
	c.Registry.GoPkg = util.GetEnvDefault("DEPSCAN_GOPROXY_URL", c.Registry.GoPkg)
	c.Registry.Crates = util.GetEnvDefault("DEPSCAN_CRATES_URL", c.Registry.Crates)
	c.OSV.URL = util.GetEnvDefault("OSV_API_URL", c.OSV.URL)

	c.GitHub.APIURL = util.GetEnvDefault("GITHUB_API_URL", c.GitHub.APIURL)
	c.GitHub.RawURL = util.GetEnvDefault("GITHUB_RAW_URL", c.GitHub.RawURL)
	c.GitHub.Token = util.GetEnvDefault("GITHUB_TOKEN", c.GitHub.Token)

	if brokers := util.GetEnvDefault("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.RequestTopic = util.GetEnvDefault("KAFKA_REQUEST_TOPIC", c.Kafka.RequestTopic)
	c.Kafka.CompletedTopic = util.GetEnvDefault("KAFKA_COMPLETED_TOPIC", c.Kafka.CompletedTopic)
	c.Kafka.GroupID = util.GetEnvDefault("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.Server.Port = util.GetEnvDefault("MS_PORT", c.Server.Port)
}

// Validate checks the settings with their struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
