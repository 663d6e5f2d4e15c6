// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Miner       MinerConfig       `mapstructure:"miner"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Application ApplicationConfig `mapstructure:"application"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ExtractionConfig governs dispatcher and run pipeline behavior.
type ExtractionConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	RunTimeoutMinutes int `mapstructure:"run_timeout_minutes"`
}

// MinerConfig controls repository cloning.
type MinerConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	CloneTimeoutSeconds int    `mapstructure:"clone_timeout_seconds"`
	WorkDir             string `mapstructure:"work_dir"`
}

// ResolverConfig governs the email search surfaces.
type ResolverConfig struct {
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	UserAgent        string   `mapstructure:"user_agent"`
	MaxPapers        int      `mapstructure:"max_papers"`
	MaxSearchResults int      `mapstructure:"max_search_results"`
	PDFMaxPages      int      `mapstructure:"pdf_max_pages"`
	RespectRobots    bool     `mapstructure:"respect_robots"`
	BlockedDomains   []string `mapstructure:"blocked_domains"`
	DBLPBaseURL      string   `mapstructure:"dblp_base_url"`
	ArxivBaseURL     string   `mapstructure:"arxiv_base_url"`
	WebSearchBaseURL string   `mapstructure:"web_search_base_url"`
}

// HTTPConfig configures outbound HTTP client behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// RateLimitConfig paces outbound traffic per search host.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects the evidence blob backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the run-event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ApplicationConfig identifies the deployment for telemetry resources.
type ApplicationConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	Version       string `mapstructure:"version"`
	ProjectID     string `mapstructure:"project_id"`
	ProjectNumber string `mapstructure:"project_number"`
	Region        string `mapstructure:"region"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GITSCOUT")
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
	v.SetDefault("extraction.concurrency", 2)
	v.SetDefault("extraction.queue_depth", 64)
	v.SetDefault("extraction.run_timeout_minutes", 15)
	v.SetDefault("miner.base_url", "https://huggingface.co")
	v.SetDefault("miner.clone_timeout_seconds", 300)
	v.SetDefault("resolver.timeout_seconds", 90)
	v.SetDefault("resolver.user_agent", "gitscout-bot/0.1")
	v.SetDefault("resolver.max_papers", 3)
	v.SetDefault("resolver.max_search_results", 5)
	v.SetDefault("resolver.pdf_max_pages", 3)
	v.SetDefault("resolver.respect_robots", true)
	v.SetDefault("resolver.dblp_base_url", "https://dblp.org")
	v.SetDefault("resolver.arxiv_base_url", "https://export.arxiv.org")
	v.SetDefault("resolver.web_search_base_url", "https://html.duckduckgo.com")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 1.0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "evidence")
	v.SetDefault("storage.content_type", "application/pdf")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("logging.development", true)
	v.SetDefault("application.service_name", "gitscout")
	v.SetDefault("application.version", "0.1.0")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Extraction.Concurrency <= 0 {
		return fmt.Errorf("extraction.concurrency must be > 0")
	}
	if c.Extraction.QueueDepth <= 0 {
		return fmt.Errorf("extraction.queue_depth must be > 0")
	}
	if c.Miner.BaseURL == "" {
		return fmt.Errorf("miner.base_url must be set")
	}
	if c.Resolver.TimeoutSeconds <= 0 {
		return fmt.Errorf("resolver.timeout_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be > 0 when ratelimit is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RunTimeout bounds one extraction run end to end.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Extraction.RunTimeoutMinutes) * time.Minute
}

// CloneTimeout bounds the repository clone step.
func (c Config) CloneTimeout() time.Duration {
	return time.Duration(c.Miner.CloneTimeoutSeconds) * time.Second
}

// ResolveTimeout is the per-contributor resolution budget.
func (c Config) ResolveTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutSeconds) * time.Second
}

// HTTPTimeout bounds a single outbound fetch.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
