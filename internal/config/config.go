package config

import "context"

// Package config provides configuration management for promptsentinel.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for non-structural settings
//   - Manage sensitive data (API keys)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (SENTINEL_* prefix)
//   2. YAML config file (default: /etc/promptsentinel/config.yaml)
//   3. Built-in defaults
//
// Detector parameters (contamination, trees, seed) take effect on the next
// fit, not retroactively; the published model keeps the parameters it was
// fitted with.

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is the list of origins permitted to open WebSocket
		// connections to the decision stream. Use ["*"] to allow any origin
		// (development only).
		AllowedOrigins []string
	}

	// Embedding provider configuration
	Embedding struct {
		Provider      string // "openai" | "ollama"
		OpenAIModel   string
		OpenAIBaseURL string
		OpenAIAPIKey  string
		OllamaBaseURL string
		OllamaModel   string
	}

	// Judge provider configuration
	Judge struct {
		Provider        string // "openai" | "ollama"
		OpenAIModel     string
		OpenAIBaseURL   string
		OpenAIAPIKey    string
		OllamaBaseURL   string
		OllamaModel     string
		TimeoutSeconds  int
		FailMode        string // "closed" | "open"
		CacheSize       int
		CacheTTLSeconds int
	}

	// Detector configuration
	Detector struct {
		Contamination float64
		NumTrees      int
		SampleSize    int
		Seed          int64
		// CorpusPath points to a one-prompt-per-line fitting corpus; empty
		// uses the built-in baseline.
		CorpusPath string
		// AutoFit fits on startup when no persisted model exists.
		AutoFit bool
	}

	// Rule prefilter configuration
	Rules struct {
		Enabled bool
		// BannedPhrases replaces the built-in list when non-empty.
		BannedPhrases []string
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level        string // "debug" | "info" | "warn" | "error"
		Format       string // "json" | "text"
		AuditPath    string
		AuditMaxSize int // megabytes per audit log file before rotation
		AuditBackups int
		AuditMaxAge  int // days
	}

	// Rate limiting configuration
	RateLimit struct {
		Enabled           bool
		RequestsPerMinute int
		Burst             int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default
// config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/promptsentinel/config.yaml")
}
