package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadManager(t *testing.T, path string) ConfigManager {
	t.Helper()
	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	return mgr
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	mgr := loadManager(t, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := mgr.Get(context.Background())

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "closed", cfg.Judge.FailMode)
	assert.Equal(t, 0.005, cfg.Detector.Contamination)
	assert.Equal(t, 200, cfg.Detector.NumTrees)
	assert.Equal(t, int64(42), cfg.Detector.Seed)
	assert.True(t, cfg.Detector.AutoFit)
	assert.True(t, cfg.Rules.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9999
judge:
  fail_mode: open
  timeout_seconds: 5
detector:
  contamination: 0.01
  seed: 7
rules:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := loadManager(t, path).Get(context.Background())

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "open", cfg.Judge.FailMode)
	assert.Equal(t, 5, cfg.Judge.TimeoutSeconds)
	assert.Equal(t, 0.01, cfg.Detector.Contamination)
	assert.Equal(t, int64(7), cfg.Detector.Seed)
	assert.False(t, cfg.Rules.Enabled)
	// Untouched sections keep defaults.
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.OpenAIModel)
}

func TestOpenAIKeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := loadManager(t, filepath.Join(t.TempDir(), "missing.yaml")).Get(context.Background())

	assert.Equal(t, "sk-test", cfg.Embedding.OpenAIAPIKey)
	assert.Equal(t, "sk-test", cfg.Judge.OpenAIAPIKey)
}

func TestEnvPrefixOverride(t *testing.T) {
	t.Setenv("SENTINEL_JUDGE_FAIL_MODE", "open")

	cfg := loadManager(t, filepath.Join(t.TempDir(), "missing.yaml")).Get(context.Background())
	assert.Equal(t, "open", cfg.Judge.FailMode)
}

func TestValidateAcceptsDefaultsWithKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	mgr := loadManager(t, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, mgr.Validate(context.Background()))
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{
			name:   "bad port",
			mutate: func(cfg *Config) { cfg.Server.Port = 0 },
			field:  "server.port",
		},
		{
			name:   "missing openai key",
			mutate: func(cfg *Config) { cfg.Embedding.OpenAIAPIKey = "" },
			field:  "embedding.openai_api_key",
		},
		{
			name:   "unknown judge provider",
			mutate: func(cfg *Config) { cfg.Judge.Provider = "psychic" },
			field:  "judge.provider",
		},
		{
			name:   "bad fail mode",
			mutate: func(cfg *Config) { cfg.Judge.FailMode = "ajar" },
			field:  "judge.fail_mode",
		},
		{
			name:   "contamination out of range",
			mutate: func(cfg *Config) { cfg.Detector.Contamination = 1.5 },
			field:  "detector.contamination",
		},
		{
			name:   "zero trees",
			mutate: func(cfg *Config) { cfg.Detector.NumTrees = 0 },
			field:  "detector.num_trees",
		},
		{
			name:   "bad log level",
			mutate: func(cfg *Config) { cfg.Logging.Level = "verbose" },
			field:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Embedding.OpenAIAPIKey = "sk-test"
			cfg.Judge.OpenAIAPIKey = "sk-test"
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs)

			found := false
			for _, err := range errs {
				var verr *ValidationError
				if assert.ErrorAs(t, err, &verr) && verr.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected a validation error for %s", tt.field)
		})
	}
}

func TestWatchChannelClosesOnContextEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644))

	mgr := loadManager(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	ch := mgr.Watch(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "watch channel must close once the context ends")
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel did not close after cancellation")
	}
}

func TestReloadPicksUpFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644))

	mgr := loadManager(t, path)
	assert.Equal(t, 9001, mgr.Get(context.Background()).Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9002\n"), 0o644))
	require.NoError(t, mgr.Reload(context.Background()))
	assert.Equal(t, 9002, mgr.Get(context.Background()).Server.Port)
}
