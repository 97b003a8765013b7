package config

import (
	"fmt"
	"os"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}
		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.OpenAIAPIKey == "" {
			errs = append(errs, &ValidationError{
				Field:   "embedding.openai_api_key",
				Message: "OpenAI API key is required (set OPENAI_API_KEY)",
			})
		}
	case "ollama":
		if c.Embedding.OllamaBaseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "embedding.ollama_base_url",
				Message: "ollama base URL is required",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unsupported provider %q (want openai or ollama)", c.Embedding.Provider),
		})
	}

	switch c.Judge.Provider {
	case "openai":
		if c.Judge.OpenAIAPIKey == "" {
			errs = append(errs, &ValidationError{
				Field:   "judge.openai_api_key",
				Message: "OpenAI API key is required (set OPENAI_API_KEY)",
			})
		}
	case "ollama":
		if c.Judge.OllamaBaseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "judge.ollama_base_url",
				Message: "ollama base URL is required",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "judge.provider",
			Message: fmt.Sprintf("unsupported provider %q (want openai or ollama)", c.Judge.Provider),
		})
	}

	if c.Judge.FailMode != "closed" && c.Judge.FailMode != "open" {
		errs = append(errs, &ValidationError{
			Field:   "judge.fail_mode",
			Message: fmt.Sprintf("fail_mode must be \"closed\" or \"open\", got %q", c.Judge.FailMode),
		})
	}

	if c.Judge.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "judge.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Judge.TimeoutSeconds),
		})
	}

	if c.Detector.Contamination <= 0 || c.Detector.Contamination >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.contamination",
			Message: fmt.Sprintf("contamination must be in (0,1), got %v", c.Detector.Contamination),
		})
	}

	if c.Detector.NumTrees < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.num_trees",
			Message: fmt.Sprintf("num_trees must be positive, got %d", c.Detector.NumTrees),
		})
	}

	if c.Detector.SampleSize < 2 {
		errs = append(errs, &ValidationError{
			Field:   "detector.sample_size",
			Message: fmt.Sprintf("sample_size must be at least 2, got %d", c.Detector.SampleSize),
		})
	}

	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q", c.Logging.Level),
		})
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute < 1 {
			errs = append(errs, &ValidationError{
				Field:   "rate_limit.requests_per_minute",
				Message: fmt.Sprintf("requests_per_minute must be positive, got %d", c.RateLimit.RequestsPerMinute),
			})
		}
		if c.RateLimit.Burst < 1 {
			errs = append(errs, &ValidationError{
				Field:   "rate_limit.burst",
				Message: fmt.Sprintf("burst must be positive, got %d", c.RateLimit.Burst),
			})
		}
	}

	return errs
}
