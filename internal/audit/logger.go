package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogDecision logs a final prompt decision
	LogDecision(ctx context.Context, d *models.Decision) error

	// LogModelFitted logs a successful model fit
	LogModelFitted(ctx context.Context, version string, corpusSize int, duration time.Duration) error

	// LogModelInvalidated logs a model reset
	LogModelInvalidated(ctx context.Context) error

	// AppLogger returns the application logger sharing this logger's sinks
	AppLogger() *zap.Logger

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit trail rotates separately and is always INFO level, append-only.
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogDecision logs the final verdict for one evaluated prompt. Only the
// prompt's hash enters the audit trail.
func (l *auditLogger) LogDecision(ctx context.Context, d *models.Decision) error {
	eventType := EventDecisionBlocked
	result := ResultDenied
	if d.FinalAllowed {
		eventType = EventDecisionAllowed
		result = ResultSuccess
	}
	if d.Overridden {
		eventType = EventDecisionOverridden
	}

	event := NewEvent(eventType).
		WithCorrelationID(d.ID).
		WithResult(result).
		WithReason(string(d.Reason)).
		WithPromptHash(hashPrompt(d.Prompt)).
		WithModelVersion(d.ModelVersion)

	if d.AnomalyVerdict != nil {
		event.WithMetadata("anomaly_score", d.AnomalyVerdict.Score).
			WithMetadata("is_anomalous", d.AnomalyVerdict.IsAnomalous)
	}
	if d.JudgeVerdict != nil {
		event.WithMetadata("judge_allowed", d.JudgeVerdict.Allowed).
			WithMetadata("judge_latency_ms", d.JudgeVerdict.LatencyMs)
	}

	return l.Log(ctx, event)
}

// LogModelFitted logs a successful model fit
func (l *auditLogger) LogModelFitted(ctx context.Context, version string, corpusSize int, duration time.Duration) error {
	event := NewEvent(EventModelFitted).
		WithCorrelationID(version).
		WithDuration(duration).
		WithMetadata("corpus_size", corpusSize).
		WithDescription(fmt.Sprintf("Detector model %s fitted on %d prompts", version, corpusSize))

	return l.Log(ctx, event)
}

// LogModelInvalidated logs a model reset
func (l *auditLogger) LogModelInvalidated(ctx context.Context) error {
	event := NewEvent(EventModelInvalidated).
		WithDescription("Detector model invalidated; scoring disabled until refit")

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	if err := l.flushLocked(); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	_ = l.appLogger.Sync()
	_ = l.auditLogger.Sync()
	return nil
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()
	return l.Sync()
}

// AppLogger exposes the rotating application logger for packages that log
// operational (non-audit) events.
func (l *auditLogger) AppLogger() *zap.Logger {
	return l.appLogger
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
