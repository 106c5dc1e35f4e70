// Package config provides configuration management for the PDF discovery service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the PDF discovery service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Discovery contains discovery framework settings.
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	// Dedup contains deduplication engine settings.
	Dedup DedupConfig `mapstructure:"dedup"`
	// Versions contains version selection priority settings.
	Versions VersionsConfig `mapstructure:"versions"`
	// Collectors contains per-source collector configurations.
	Collectors CollectorsConfig `mapstructure:"collectors"`
	// Verifier contains PDF URL verification settings.
	Verifier VerifierConfig `mapstructure:"verifier"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. Discovery
	// batches run long, so this defaults well above the per-task timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// DiscoveryConfig holds discovery framework configuration.
type DiscoveryConfig struct {
	// MaxWorkers is the maximum number of concurrent collector tasks.
	MaxWorkers int `mapstructure:"max_workers"`
	// TaskTimeout is the per-task timeout for a single collector call.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// ValidateWinners enables post-dedup verification of winning PDF URLs.
	ValidateWinners bool `mapstructure:"validate_winners"`
}

// DedupConfig holds deduplication engine configuration.
type DedupConfig struct {
	// TitleThreshold is the minimum normalized title similarity (0.0-1.0)
	// for a fuzzy merge.
	TitleThreshold float64 `mapstructure:"title_threshold"`
	// AuthorThreshold is the minimum author overlap (0.0-1.0) required
	// alongside a fuzzy title match.
	AuthorThreshold float64 `mapstructure:"author_threshold"`
}

// VersionsConfig holds version selection priorities.
type VersionsConfig struct {
	// SourcePriority is the global source preference, highest first.
	SourcePriority []string `mapstructure:"source_priority"`
	// PreferPublished breaks rank ties in favor of published versions
	// over preprints.
	PreferPublished bool `mapstructure:"prefer_published"`
	// VenuePriority maps a venue name to an ordered source preference
	// that overrides the global one for papers from that venue.
	VenuePriority map[string][]string `mapstructure:"venue_priority"`
}

// CollectorsConfig holds configuration for all source collectors.
type CollectorsConfig struct {
	// ArXiv contains arXiv API settings.
	ArXiv CollectorConfig `mapstructure:"arxiv"`
	// SemanticScholar contains Semantic Scholar Graph API settings.
	SemanticScholar CollectorConfig `mapstructure:"semantic_scholar"`
	// Crossref contains Crossref REST API settings.
	Crossref CrossrefConfig `mapstructure:"crossref"`
	// OpenReview contains OpenReview API settings.
	OpenReview OpenReviewConfig `mapstructure:"openreview"`
	// CVF contains CVF open access scraper settings.
	CVF CollectorConfig `mapstructure:"cvf"`
}

// CollectorConfig holds configuration for a single source collector.
type CollectorConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g.
	// PDFDISCOVERY_COLLECTORS_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the maximum burst of requests allowed.
	BurstSize int `mapstructure:"burst_size"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// CrossrefConfig holds Crossref collector configuration.
type CrossrefConfig struct {
	CollectorConfig `mapstructure:",squash"`
	// MailTo is included in the User-Agent per Crossref's polite pool
	// guidelines.
	MailTo string `mapstructure:"mail_to"`
}

// OpenReviewConfig holds OpenReview collector configuration.
type OpenReviewConfig struct {
	CollectorConfig `mapstructure:",squash"`
	// SiteURL is the public site base URL used to build PDF links.
	SiteURL string `mapstructure:"site_url"`
}

// VerifierConfig holds PDF URL verification settings.
type VerifierConfig struct {
	// Timeout is the timeout for verification probes.
	Timeout time.Duration `mapstructure:"timeout"`
	// UserAgent is the User-Agent header for verification probes.
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("PDFDISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pdf-discovery-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Collectors.SemanticScholar.APIKey = os.Getenv("PDFDISCOVERY_COLLECTORS_SEMANTIC_SCHOLAR_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Discovery framework defaults
	v.SetDefault("discovery.max_workers", 8)
	v.SetDefault("discovery.task_timeout", "30s")
	v.SetDefault("discovery.validate_winners", false)

	// Dedup defaults
	v.SetDefault("dedup.title_threshold", 0.8)
	v.SetDefault("dedup.author_threshold", 0.3)

	// Version selection defaults. Venue-direct sources first, aggregators
	// as fallback.
	v.SetDefault("versions.source_priority", []string{"cvf", "openreview", "crossref", "arxiv", "semanticscholar"})
	v.SetDefault("versions.prefer_published", true)

	// Collector defaults - arXiv (arXiv recommends max 3 req/sec)
	v.SetDefault("collectors.arxiv.enabled", true)
	v.SetDefault("collectors.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("collectors.arxiv.timeout", "30s")
	v.SetDefault("collectors.arxiv.rate_limit", 3.0)
	v.SetDefault("collectors.arxiv.burst_size", 3)
	v.SetDefault("collectors.arxiv.max_results", 10)

	// Collector defaults - Semantic Scholar (1 req/sec unauthenticated)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("collectors.semantic_scholar.enabled", true)
	v.SetDefault("collectors.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("collectors.semantic_scholar.timeout", "30s")
	v.SetDefault("collectors.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("collectors.semantic_scholar.burst_size", 1)
	v.SetDefault("collectors.semantic_scholar.max_results", 10)

	// Collector defaults - Crossref
	v.SetDefault("collectors.crossref.enabled", true)
	v.SetDefault("collectors.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("collectors.crossref.timeout", "30s")
	v.SetDefault("collectors.crossref.rate_limit", 5.0)
	v.SetDefault("collectors.crossref.burst_size", 5)
	v.SetDefault("collectors.crossref.mail_to", "")

	// Collector defaults - OpenReview
	v.SetDefault("collectors.openreview.enabled", true)
	v.SetDefault("collectors.openreview.base_url", "https://api.openreview.net")
	v.SetDefault("collectors.openreview.site_url", "https://openreview.net")
	v.SetDefault("collectors.openreview.timeout", "30s")
	v.SetDefault("collectors.openreview.rate_limit", 2.0)
	v.SetDefault("collectors.openreview.burst_size", 2)

	// Collector defaults - CVF open access (static archive, stay polite;
	// proceedings pages run to several megabytes)
	v.SetDefault("collectors.cvf.enabled", true)
	v.SetDefault("collectors.cvf.base_url", "https://openaccess.thecvf.com")
	v.SetDefault("collectors.cvf.timeout", "60s")
	v.SetDefault("collectors.cvf.rate_limit", 1.0)
	v.SetDefault("collectors.cvf.burst_size", 1)

	// Verifier defaults
	v.SetDefault("verifier.timeout", "30s")
	v.SetDefault("verifier.user_agent", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate discovery framework config
	if c.Discovery.MaxWorkers <= 0 {
		return fmt.Errorf("discovery max_workers must be positive")
	}
	if c.Discovery.TaskTimeout <= 0 {
		return fmt.Errorf("discovery task_timeout must be positive")
	}

	// Validate dedup thresholds
	if c.Dedup.TitleThreshold < 0 || c.Dedup.TitleThreshold > 1 {
		return fmt.Errorf("dedup title_threshold must be between 0 and 1")
	}
	if c.Dedup.AuthorThreshold < 0 || c.Dedup.AuthorThreshold > 1 {
		return fmt.Errorf("dedup author_threshold must be between 0 and 1")
	}

	if !c.Collectors.ArXiv.Enabled &&
		!c.Collectors.SemanticScholar.Enabled &&
		!c.Collectors.Crossref.Enabled &&
		!c.Collectors.OpenReview.Enabled &&
		!c.Collectors.CVF.Enabled {
		return fmt.Errorf("at least one collector must be enabled")
	}

	return nil
}

// SourceRanks converts the ordered source priority list to a rank map
// (lower rank = higher priority).
func (c VersionsConfig) SourceRanks() map[string]int {
	ranks := make(map[string]int, len(c.SourcePriority))
	for i, source := range c.SourcePriority {
		ranks[source] = i
	}
	return ranks
}
