package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	clearEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Discovery defaults
	assert.Equal(t, 8, cfg.Discovery.MaxWorkers)
	assert.Equal(t, "30s", cfg.Discovery.TaskTimeout.String())
	assert.False(t, cfg.Discovery.ValidateWinners)

	// Dedup defaults
	assert.Equal(t, 0.8, cfg.Dedup.TitleThreshold)
	assert.Equal(t, 0.3, cfg.Dedup.AuthorThreshold)

	// Version selection defaults
	assert.True(t, cfg.Versions.PreferPublished)
	assert.Equal(t, []string{"cvf", "openreview", "crossref", "arxiv", "semanticscholar"}, cfg.Versions.SourcePriority)

	// Collector defaults
	assert.True(t, cfg.Collectors.ArXiv.Enabled)
	assert.Equal(t, "https://export.arxiv.org/api", cfg.Collectors.ArXiv.BaseURL)
	assert.Equal(t, 3.0, cfg.Collectors.ArXiv.RateLimit)
	assert.True(t, cfg.Collectors.SemanticScholar.Enabled)
	assert.Equal(t, 1.0, cfg.Collectors.SemanticScholar.RateLimit)
	assert.True(t, cfg.Collectors.Crossref.Enabled)
	assert.True(t, cfg.Collectors.OpenReview.Enabled)
	assert.Equal(t, "https://openreview.net", cfg.Collectors.OpenReview.SiteURL)
	assert.True(t, cfg.Collectors.CVF.Enabled)
	assert.Equal(t, "60s", cfg.Collectors.CVF.Timeout.String())
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	clearEnvVars(t)

	// Set environment variables with PDFDISCOVERY prefix
	t.Setenv("PDFDISCOVERY_SERVER_HTTP_PORT", "8888")
	t.Setenv("PDFDISCOVERY_LOGGING_LEVEL", "debug")
	t.Setenv("PDFDISCOVERY_DISCOVERY_MAX_WORKERS", "16")
	t.Setenv("PDFDISCOVERY_DISCOVERY_VALIDATE_WINNERS", "true")
	t.Setenv("PDFDISCOVERY_DEDUP_TITLE_THRESHOLD", "0.9")
	t.Setenv("PDFDISCOVERY_COLLECTORS_ARXIV_ENABLED", "false")
	t.Setenv("PDFDISCOVERY_COLLECTORS_CROSSREF_MAIL_TO", "ops@example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 16, cfg.Discovery.MaxWorkers)
	assert.True(t, cfg.Discovery.ValidateWinners)
	assert.Equal(t, 0.9, cfg.Dedup.TitleThreshold)
	assert.False(t, cfg.Collectors.ArXiv.Enabled)
	assert.Equal(t, "ops@example.org", cfg.Collectors.Crossref.MailTo)
}

func TestLoad_APIKeysFromEnvOnly(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PDFDISCOVERY_COLLECTORS_SEMANTIC_SCHOLAR_API_KEY", "ss-key-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ss-key-test", cfg.Collectors.SemanticScholar.APIKey)
}

func TestLoad_APIKeysEmptyByDefault(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Collectors.SemanticScholar.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectedErr string
	}{
		{
			name: "HTTP port zero",
			modifyFunc: func(c *Config) {
				c.Server.HTTPPort = 0
			},
			expectedErr: "invalid HTTP port: 0",
		},
		{
			name: "HTTP port too high",
			modifyFunc: func(c *Config) {
				c.Server.HTTPPort = 70000
			},
			expectedErr: "invalid HTTP port: 70000",
		},
		{
			name: "invalid log level",
			modifyFunc: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			expectedErr: "invalid log level: verbose",
		},
		{
			name: "zero workers",
			modifyFunc: func(c *Config) {
				c.Discovery.MaxWorkers = 0
			},
			expectedErr: "discovery max_workers must be positive",
		},
		{
			name: "zero task timeout",
			modifyFunc: func(c *Config) {
				c.Discovery.TaskTimeout = 0
			},
			expectedErr: "discovery task_timeout must be positive",
		},
		{
			name: "title threshold out of range",
			modifyFunc: func(c *Config) {
				c.Dedup.TitleThreshold = 1.5
			},
			expectedErr: "dedup title_threshold must be between 0 and 1",
		},
		{
			name: "author threshold negative",
			modifyFunc: func(c *Config) {
				c.Dedup.AuthorThreshold = -0.1
			},
			expectedErr: "dedup author_threshold must be between 0 and 1",
		},
		{
			name: "all collectors disabled",
			modifyFunc: func(c *Config) {
				c.Collectors.ArXiv.Enabled = false
				c.Collectors.SemanticScholar.Enabled = false
				c.Collectors.Crossref.Enabled = false
				c.Collectors.OpenReview.Enabled = false
				c.Collectors.CVF.Enabled = false
			},
			expectedErr: "at least one collector must be enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modifyFunc(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestValidate_LogLevels(t *testing.T) {
	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
	for _, level := range validLevels {
		t.Run("valid_"+level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logging.Level = level
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestServerConfig_HTTPAddress(t *testing.T) {
	cfg := ServerConfig{
		Host:     "0.0.0.0",
		HTTPPort: 8080,
	}
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddress())
}

func TestVersionsConfig_SourceRanks(t *testing.T) {
	cfg := VersionsConfig{SourcePriority: []string{"cvf", "arxiv", "semanticscholar"}}
	assert.Equal(t, map[string]int{"cvf": 0, "arxiv": 1, "semanticscholar": 2}, cfg.SourceRanks())

	assert.Empty(t, VersionsConfig{}.SourceRanks())
}

// clearEnvVars removes all PDFDISCOVERY_ prefixed environment variables
func clearEnvVars(t *testing.T) {
	t.Helper()
	const prefix = "PDFDISCOVERY_"
	for _, env := range os.Environ() {
		if len(env) > len(prefix) && env[:len(prefix)] == prefix {
			key := env[:len(env)-len(env[len(prefix):])-1]
			os.Unsetenv(key)
		}
	}
}

// validConfig returns a valid configuration for testing
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Discovery: DiscoveryConfig{
			MaxWorkers:  8,
			TaskTimeout: 30000000000, // 30 seconds in nanoseconds
		},
		Dedup: DedupConfig{
			TitleThreshold:  0.8,
			AuthorThreshold: 0.3,
		},
		Collectors: CollectorsConfig{
			ArXiv: CollectorConfig{Enabled: true},
		},
	}
}
