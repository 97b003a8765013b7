package detector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/promptsentinel/promptsentinel/internal/metrics"
	"github.com/promptsentinel/promptsentinel/internal/models"
)

// ArtifactStore is the persistence boundary for fitted models. The artifact
// format is opaque to the store; it must round-trip bytes exactly so a
// reloaded model scores identically.
type ArtifactStore interface {
	// SaveModelArtifact persists a new artifact and marks it active,
	// deactivating any previous one.
	SaveModelArtifact(ctx context.Context, info models.ModelInfo, data []byte) error

	// LoadModelArtifact returns the active artifact's bytes, or
	// models.ErrModelNotFound when none exists.
	LoadModelArtifact(ctx context.Context) ([]byte, error)

	// DeactivateModelArtifacts marks all artifacts inactive so a restart
	// does not resurrect an invalidated model.
	DeactivateModelArtifacts(ctx context.Context) error
}

// Lifecycle owns the detector's statistical model: fitting, persistence, and
// invalidation. It publishes the model as an atomically-swapped immutable
// snapshot; scorers take a handle once per request and never observe a
// partially-updated model.
//
// State machine: UNFITTED → (Fit|Load) → READY → Invalidate → UNFITTED.
// Fit, Load, and Invalidate are administrative operations off the request
// path and are serialized; Current is lock-free.
type Lifecycle struct {
	store ArtifactStore
	log   *zap.Logger

	current atomic.Pointer[Model]
	adminMu sync.Mutex
}

// NewLifecycle creates an unfitted lifecycle backed by the given store.
func NewLifecycle(store ArtifactStore, log *zap.Logger) *Lifecycle {
	return &Lifecycle{store: store, log: log}
}

// Fit fits a new model over the corpus, persists it as a versioned artifact,
// and publishes it. The new model is built fully off to the side; concurrent
// scorers observe either the old snapshot or the new one, never a mix.
func (l *Lifecycle) Fit(ctx context.Context, corpus []models.Embedding, p FitParams) (*Model, error) {
	l.adminMu.Lock()
	defer l.adminMu.Unlock()

	model, err := FitModel(corpus, p)
	if err != nil {
		return nil, err
	}

	data, err := model.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	if err := l.store.SaveModelArtifact(ctx, model.Info(), data); err != nil {
		return nil, fmt.Errorf("persist model artifact: %w", err)
	}

	l.current.Store(model)
	l.publishInfoMetrics(model)
	metrics.ModelFitsTotal.Inc()
	l.log.Info("detector model fitted",
		zap.String("version", model.Version),
		zap.Int("dim", model.Dim),
		zap.Int("corpus_size", model.CorpusSize),
		zap.Float64("contamination", model.Contamination),
		zap.Float64("threshold", model.Threshold),
	)
	return model, nil
}

// Load reconstructs the last persisted model and publishes it. Absence
// (ErrModelNotFound) is distinct from corruption (ErrModelCorrupt); both
// leave the lifecycle unfitted.
func (l *Lifecycle) Load(ctx context.Context) (*Model, error) {
	l.adminMu.Lock()
	defer l.adminMu.Unlock()

	data, err := l.store.LoadModelArtifact(ctx)
	if err != nil {
		return nil, err
	}
	model, err := DecodeModel(data)
	if err != nil {
		return nil, err
	}

	l.current.Store(model)
	l.publishInfoMetrics(model)
	l.log.Info("detector model loaded",
		zap.String("version", model.Version),
		zap.Int("dim", model.Dim),
	)
	return model, nil
}

// Invalidate discards the current model and deactivates persisted artifacts.
// Subsequent scoring fails with ErrModelNotReady until an explicit Fit or
// Load; there is no automatic refit.
func (l *Lifecycle) Invalidate(ctx context.Context) error {
	l.adminMu.Lock()
	defer l.adminMu.Unlock()

	if err := l.store.DeactivateModelArtifacts(ctx); err != nil {
		return fmt.Errorf("deactivate model artifacts: %w", err)
	}
	l.current.Store(nil)
	metrics.ModelReady.Set(0)
	metrics.ModelCorpusSize.Set(0)
	l.log.Warn("detector model invalidated; scoring disabled until refit")
	return nil
}

// Current returns the published model snapshot, or nil when unfitted.
func (l *Lifecycle) Current() *Model {
	return l.current.Load()
}

// Info reports the lifecycle state for the status API.
func (l *Lifecycle) Info() models.ModelInfo {
	if m := l.current.Load(); m != nil {
		return m.Info()
	}
	return models.ModelInfo{State: models.ModelStateUnfitted}
}

func (l *Lifecycle) publishInfoMetrics(m *Model) {
	metrics.ModelReady.Set(1)
	metrics.ModelCorpusSize.Set(float64(m.CorpusSize))
}
