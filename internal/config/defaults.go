package config

// DefaultConfig returns a Config populated with built-in defaults. The
// detector defaults mirror the reference low-sensitivity tuning: a large
// ensemble with a 0.5% expected outlier fraction.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8089
	cfg.Server.TLSEnabled = false
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	cfg.Embedding.Provider = "openai"
	cfg.Embedding.OpenAIModel = "text-embedding-3-small"
	cfg.Embedding.OpenAIBaseURL = "https://api.openai.com/v1"
	cfg.Embedding.OllamaBaseURL = "http://localhost:11434"
	cfg.Embedding.OllamaModel = "nomic-embed-text"

	cfg.Judge.Provider = "openai"
	cfg.Judge.OpenAIModel = "gpt-4o-mini"
	cfg.Judge.OpenAIBaseURL = "https://api.openai.com/v1"
	cfg.Judge.OllamaBaseURL = "http://localhost:11434"
	cfg.Judge.OllamaModel = "llama3"
	cfg.Judge.TimeoutSeconds = 20
	cfg.Judge.FailMode = "closed"
	cfg.Judge.CacheSize = 1024
	cfg.Judge.CacheTTLSeconds = 600

	cfg.Detector.Contamination = 0.005
	cfg.Detector.NumTrees = 200
	cfg.Detector.SampleSize = 256
	cfg.Detector.Seed = 42
	cfg.Detector.AutoFit = true

	cfg.Rules.Enabled = true

	cfg.Database.SQLitePath = "./data/promptsentinel.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AuditPath = "./logs/audit.log"
	cfg.Logging.AuditMaxSize = 100
	cfg.Logging.AuditBackups = 5
	cfg.Logging.AuditMaxAge = 30

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 300
	cfg.RateLimit.Burst = 50

	return cfg
}
