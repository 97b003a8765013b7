package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("SENTINEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults plus env vars are a complete
	// configuration.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else if os.IsNotExist(err) {
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration file changes and reloads. The returned
// channel closes when ctx ends.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshalConfig()
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	out := make(chan Config)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-m.watchChan:
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	m.unmarshalConfig()
	m.applyEnvOverrides()
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	m.viper.SetDefault("embedding.provider", defaults.Embedding.Provider)
	m.viper.SetDefault("embedding.openai_model", defaults.Embedding.OpenAIModel)
	m.viper.SetDefault("embedding.openai_base_url", defaults.Embedding.OpenAIBaseURL)
	m.viper.SetDefault("embedding.ollama_base_url", defaults.Embedding.OllamaBaseURL)
	m.viper.SetDefault("embedding.ollama_model", defaults.Embedding.OllamaModel)

	m.viper.SetDefault("judge.provider", defaults.Judge.Provider)
	m.viper.SetDefault("judge.openai_model", defaults.Judge.OpenAIModel)
	m.viper.SetDefault("judge.openai_base_url", defaults.Judge.OpenAIBaseURL)
	m.viper.SetDefault("judge.ollama_base_url", defaults.Judge.OllamaBaseURL)
	m.viper.SetDefault("judge.ollama_model", defaults.Judge.OllamaModel)
	m.viper.SetDefault("judge.timeout_seconds", defaults.Judge.TimeoutSeconds)
	m.viper.SetDefault("judge.fail_mode", defaults.Judge.FailMode)
	m.viper.SetDefault("judge.cache_size", defaults.Judge.CacheSize)
	m.viper.SetDefault("judge.cache_ttl_seconds", defaults.Judge.CacheTTLSeconds)

	m.viper.SetDefault("detector.contamination", defaults.Detector.Contamination)
	m.viper.SetDefault("detector.num_trees", defaults.Detector.NumTrees)
	m.viper.SetDefault("detector.sample_size", defaults.Detector.SampleSize)
	m.viper.SetDefault("detector.seed", defaults.Detector.Seed)
	m.viper.SetDefault("detector.corpus_path", defaults.Detector.CorpusPath)
	m.viper.SetDefault("detector.auto_fit", defaults.Detector.AutoFit)

	m.viper.SetDefault("rules.enabled", defaults.Rules.Enabled)
	m.viper.SetDefault("rules.banned_phrases", defaults.Rules.BannedPhrases)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.audit_path", defaults.Logging.AuditPath)
	m.viper.SetDefault("logging.audit_max_size", defaults.Logging.AuditMaxSize)
	m.viper.SetDefault("logging.audit_backups", defaults.Logging.AuditBackups)
	m.viper.SetDefault("logging.audit_max_age", defaults.Logging.AuditMaxAge)

	m.viper.SetDefault("rate_limit.enabled", defaults.RateLimit.Enabled)
	m.viper.SetDefault("rate_limit.requests_per_minute", defaults.RateLimit.RequestsPerMinute)
	m.viper.SetDefault("rate_limit.burst", defaults.RateLimit.Burst)
}

// unmarshalConfig copies viper state into the Config struct.
func (m *viperConfigManager) unmarshalConfig() {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.Embedding.Provider = m.viper.GetString("embedding.provider")
	cfg.Embedding.OpenAIModel = m.viper.GetString("embedding.openai_model")
	cfg.Embedding.OpenAIBaseURL = m.viper.GetString("embedding.openai_base_url")
	cfg.Embedding.OpenAIAPIKey = m.viper.GetString("embedding.openai_api_key")
	cfg.Embedding.OllamaBaseURL = m.viper.GetString("embedding.ollama_base_url")
	cfg.Embedding.OllamaModel = m.viper.GetString("embedding.ollama_model")

	cfg.Judge.Provider = m.viper.GetString("judge.provider")
	cfg.Judge.OpenAIModel = m.viper.GetString("judge.openai_model")
	cfg.Judge.OpenAIBaseURL = m.viper.GetString("judge.openai_base_url")
	cfg.Judge.OpenAIAPIKey = m.viper.GetString("judge.openai_api_key")
	cfg.Judge.OllamaBaseURL = m.viper.GetString("judge.ollama_base_url")
	cfg.Judge.OllamaModel = m.viper.GetString("judge.ollama_model")
	cfg.Judge.TimeoutSeconds = m.viper.GetInt("judge.timeout_seconds")
	cfg.Judge.FailMode = m.viper.GetString("judge.fail_mode")
	cfg.Judge.CacheSize = m.viper.GetInt("judge.cache_size")
	cfg.Judge.CacheTTLSeconds = m.viper.GetInt("judge.cache_ttl_seconds")

	cfg.Detector.Contamination = m.viper.GetFloat64("detector.contamination")
	cfg.Detector.NumTrees = m.viper.GetInt("detector.num_trees")
	cfg.Detector.SampleSize = m.viper.GetInt("detector.sample_size")
	cfg.Detector.Seed = m.viper.GetInt64("detector.seed")
	cfg.Detector.CorpusPath = m.viper.GetString("detector.corpus_path")
	cfg.Detector.AutoFit = m.viper.GetBool("detector.auto_fit")

	cfg.Rules.Enabled = m.viper.GetBool("rules.enabled")
	cfg.Rules.BannedPhrases = m.viper.GetStringSlice("rules.banned_phrases")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AuditPath = m.viper.GetString("logging.audit_path")
	cfg.Logging.AuditMaxSize = m.viper.GetInt("logging.audit_max_size")
	cfg.Logging.AuditBackups = m.viper.GetInt("logging.audit_backups")
	cfg.Logging.AuditMaxAge = m.viper.GetInt("logging.audit_max_age")

	cfg.RateLimit.Enabled = m.viper.GetBool("rate_limit.enabled")
	cfg.RateLimit.RequestsPerMinute = m.viper.GetInt("rate_limit.requests_per_minute")
	cfg.RateLimit.Burst = m.viper.GetInt("rate_limit.burst")

	m.config = cfg
}

// applyEnvOverrides applies environment variable overrides for sensitive
// data. OPENAI_API_KEY is honored without the SENTINEL_ prefix so operators
// can share one key variable across tools.
func (m *viperConfigManager) applyEnvOverrides() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if m.config.Embedding.OpenAIAPIKey == "" {
			m.config.Embedding.OpenAIAPIKey = apiKey
		}
		if m.config.Judge.OpenAIAPIKey == "" {
			m.config.Judge.OpenAIAPIKey = apiKey
		}
	}

	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		m.config.Embedding.OllamaBaseURL = baseURL
		m.config.Judge.OllamaBaseURL = baseURL
	}

	if portEnv := os.Getenv("SENTINEL_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
