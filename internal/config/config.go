// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Archive and alert backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Fetch        FetchConfig        `mapstructure:"fetch"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Benchmark    BenchmarkConfig    `mapstructure:"benchmark"`
	Trends       TrendsConfig       `mapstructure:"trends"`
	Store        StoreConfig        `mapstructure:"store"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig governs the compliant fetch primitive.
type FetchConfig struct {
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	PolitenessMs      int      `mapstructure:"politeness_ms"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	BackoffInitialMs  int      `mapstructure:"backoff_initial_ms"`
	UserAgents        []string `mapstructure:"user_agents"`
	RobotsTTLMinutes  int      `mapstructure:"robots_ttl_minutes"`
	RobotsMaxEntries  int      `mapstructure:"robots_max_entries"`
	RobotsTimeoutSecs int      `mapstructure:"robots_timeout_seconds"`
}

// OracleConfig selects the extraction oracle.
type OracleConfig struct {
	Provider          string  `mapstructure:"provider"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// OrchestratorConfig tunes ingestion runs.
type OrchestratorConfig struct {
	PoolSize     int  `mapstructure:"pool_size"`
	ArchiveRaw   bool `mapstructure:"archive_raw"`
	PreviewLimit int  `mapstructure:"preview_limit"`
}

// BenchmarkConfig tunes proposal generation.
type BenchmarkConfig struct {
	MinGroupSize      int `mapstructure:"min_group_size"`
	MinPublishRecords int `mapstructure:"min_publish_records"`
	MinSources        int `mapstructure:"min_sources"`
	MinConfidence     int `mapstructure:"min_confidence"`
}

// TrendsConfig tunes trend detection.
type TrendsConfig struct {
	WindowDays int  `mapstructure:"window_days"`
	Narratives bool `mapstructure:"narratives"`
}

// StoreConfig selects the evidence store.
type StoreConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	Schema                 string `mapstructure:"schema"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// ArchiveConfig selects where raw snapshots are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// AlertsConfig selects the alert publisher.
type AlertsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SourcesConfig locates the source registry.
type SourcesConfig struct {
	Path string `mapstructure:"path"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.politeness_ms", 2000)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 1000)
	v.SetDefault("fetch.robots_ttl_minutes", 60)
	v.SetDefault("fetch.robots_max_entries", 1024)
	v.SetDefault("fetch.robots_timeout_seconds", 10)
	v.SetDefault("oracle.provider", "none")
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("oracle.requests_per_second", 1.0)
	v.SetDefault("orchestrator.pool_size", 3)
	v.SetDefault("orchestrator.archive_raw", true)
	v.SetDefault("orchestrator.preview_limit", 5)
	v.SetDefault("benchmark.min_group_size", 3)
	v.SetDefault("benchmark.min_publish_records", 5)
	v.SetDefault("benchmark.min_sources", 2)
	v.SetDefault("benchmark.min_confidence", 40)
	v.SetDefault("trends.window_days", 30)
	v.SetDefault("trends.narratives", true)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.schema", "public")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.max_conn_lifetime_minutes", 30)
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.local_dir", "data/snapshots")
	v.SetDefault("archive.gcs_prefix", "raw")
	v.SetDefault("alerts.backend", BackendNone)
	v.SetDefault("alerts.topic", "evidence-alerts")
	v.SetDefault("sources.path", "sources.yaml")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "evidence-ingest")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Orchestrator.PoolSize <= 0 {
		return fmt.Errorf("orchestrator.pool_size must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Trends.WindowDays <= 0 {
		return fmt.Errorf("trends.window_days must be > 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Alerts.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Alerts.ProjectID == "" || c.Alerts.Topic == "" {
			return fmt.Errorf("alerts.project_id and alerts.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("alerts.backend %q is not supported", c.Alerts.Backend)
	}
	return nil
}

// FetchTimeout returns the per-attempt fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the HTTP server drain budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
