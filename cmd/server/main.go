package main

// Package main is the entry point for the promptsentinel server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite decision and model artifact store
//   - Restore the persisted detector model, or fit the baseline corpus when
//     auto-fit is enabled and no model exists
//   - Construct the embedding and judge providers per configuration
//   - Wire the rule prefilter, detector and judge into the decision fuser
//   - Start the HTTP server and implement graceful shutdown
//
// Evaluation Flow:
//   1. Rule prefilter rejects prompts with banned phrases outright
//   2. Embedding provider maps the prompt into vector space
//   3. Isolation forest scores the vector against the fitted baseline
//   4. Anomalous prompts get a second opinion from the LLM judge
//   5. Decision is persisted, audited, and streamed to WebSocket subscribers

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/promptsentinel/promptsentinel/internal/audit"
	"github.com/promptsentinel/promptsentinel/internal/config"
	"github.com/promptsentinel/promptsentinel/internal/corpus"
	"github.com/promptsentinel/promptsentinel/internal/db"
	"github.com/promptsentinel/promptsentinel/internal/detector"
	"github.com/promptsentinel/promptsentinel/internal/embedder"
	"github.com/promptsentinel/promptsentinel/internal/fuser"
	"github.com/promptsentinel/promptsentinel/internal/judge"
	"github.com/promptsentinel/promptsentinel/internal/models"
	"github.com/promptsentinel/promptsentinel/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	// Configuration
	var mgr config.ConfigManager
	var err error
	if configPath != "" {
		mgr, err = config.NewConfigManager(configPath)
	} else {
		mgr, err = config.NewConfigManagerWithDefaults()
	}
	if err != nil {
		return fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	// Logging and audit trail
	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditPath,
		AppLogPath:   filepath.Join(filepath.Dir(cfg.Logging.AuditPath), "app.log"),
		MaxSize:      cfg.Logging.AuditMaxSize,
		MaxBackups:   cfg.Logging.AuditBackups,
		MaxAge:       cfg.Logging.AuditMaxAge,
		Compress:     true,
		LogLevel:     cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	defer auditLog.Close()
	log := auditLog.AppLogger()

	// Decision and model artifact store
	if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	// Providers
	emb, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	j, err := buildJudge(cfg)
	if err != nil {
		return err
	}

	failMode, err := fuser.ParseFailMode(cfg.Judge.FailMode)
	if err != nil {
		return err
	}

	// Detector model: restore the persisted artifact, or fit the baseline
	// corpus when auto-fit is on. A corrupt artifact is discarded and
	// refitted rather than served.
	lifecycle := detector.NewLifecycle(store, log)
	if err := restoreModel(ctx, cfg, lifecycle, emb, log); err != nil {
		return err
	}

	rules := fuser.NewRuleFilter(rulePhrases(cfg))
	scorer := detector.NewScorer(lifecycle)
	f := fuser.New(rules, emb, scorer, j, failMode,
		time.Duration(cfg.Judge.TimeoutSeconds)*time.Second, log)

	srv, err := server.NewServer(cfg, server.Deps{
		Fuser:     f,
		Lifecycle: lifecycle,
		Embedder:  emb,
		Store:     store,
		AuditLog:  auditLog,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Reloadable settings take effect on config file changes; structural
	// settings (ports, providers, database) require a restart.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		for c := range mgr.Watch(watchCtx) {
			if mode, err := fuser.ParseFailMode(c.Judge.FailMode); err == nil && mode != f.FailMode() {
				log.Info("judge fail mode reloaded", zap.String("fail_mode", string(mode)))
				f.SetFailMode(mode)
			}
			_ = auditLog.Log(watchCtx, audit.NewEvent(audit.EventConfigChanged))
		}
	}()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	_ = auditLog.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription(fmt.Sprintf("listening on port %d", cfg.Server.Port)))

	// Wait for shutdown signal (Ctrl+C or SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal")

	_ = auditLog.Log(ctx, audit.NewEvent(audit.EventServerShutdown))
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("error stopping server: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// buildEmbedder constructs the configured embedding provider.
func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedder.NewOpenAIEmbedder(cfg.Embedding.OpenAIAPIKey, cfg.Embedding.OpenAIModel, cfg.Embedding.OpenAIBaseURL)
	case "ollama":
		return embedder.NewOllamaEmbedder(cfg.Embedding.OllamaBaseURL, cfg.Embedding.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// buildJudge constructs the configured judge provider, wrapped in the
// verdict cache when caching is enabled.
func buildJudge(cfg *config.Config) (judge.Judge, error) {
	var j judge.Judge
	var err error
	switch cfg.Judge.Provider {
	case "openai":
		j, err = judge.NewOpenAIJudge(cfg.Judge.OpenAIAPIKey, cfg.Judge.OpenAIModel, cfg.Judge.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
	case "ollama":
		j = judge.NewOllamaJudge(cfg.Judge.OllamaBaseURL, cfg.Judge.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Judge.Provider)
	}

	if cfg.Judge.CacheSize > 0 {
		j = judge.NewCachedJudge(j, cfg.Judge.CacheSize,
			time.Duration(cfg.Judge.CacheTTLSeconds)*time.Second)
	}
	return j, nil
}

// rulePhrases resolves the banned phrase list. A disabled prefilter matches
// nothing.
func rulePhrases(cfg *config.Config) []string {
	if !cfg.Rules.Enabled {
		return nil
	}
	if len(cfg.Rules.BannedPhrases) > 0 {
		return cfg.Rules.BannedPhrases
	}
	return fuser.DefaultBannedPhrases
}

// restoreModel loads the persisted detector model. When none exists (or the
// artifact is corrupt) and auto-fit is enabled, it fits the configured
// baseline corpus instead. Scoring stays disabled otherwise until an
// explicit fit through the API.
func restoreModel(ctx context.Context, cfg *config.Config, lifecycle *detector.Lifecycle, emb embedder.Embedder, log *zap.Logger) error {
	_, err := lifecycle.Load(ctx)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, models.ErrModelNotFound):
		log.Info("no persisted detector model found")
	case errors.Is(err, models.ErrModelCorrupt):
		log.Warn("persisted detector model is corrupt, discarding", zap.Error(err))
	default:
		return fmt.Errorf("failed to load detector model: %w", err)
	}

	if !cfg.Detector.AutoFit {
		log.Warn("auto-fit disabled; scoring unavailable until a model is fitted")
		return nil
	}

	prompts := corpus.Default()
	if cfg.Detector.CorpusPath != "" {
		prompts, err = corpus.LoadFile(cfg.Detector.CorpusPath)
		if err != nil {
			return fmt.Errorf("failed to load fitting corpus: %w", err)
		}
	}

	log.Info("fitting detector model on startup", zap.Int("corpus_size", len(prompts)))
	embeddings := make([]models.Embedding, 0, len(prompts))
	for _, p := range prompts {
		e, err := emb.Embed(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to embed fitting corpus: %w", err)
		}
		embeddings = append(embeddings, e)
	}

	_, err = lifecycle.Fit(ctx, embeddings, detector.FitParams{
		Contamination: cfg.Detector.Contamination,
		NumTrees:      cfg.Detector.NumTrees,
		SampleSize:    cfg.Detector.SampleSize,
		Seed:          cfg.Detector.Seed,
	})
	if err != nil {
		return fmt.Errorf("startup fit failed: %w", err)
	}
	return nil
}
