package db

import (
	"context"
	"time"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// Store is the main persistence interface for promptsentinel.
type Store interface {
	DecisionStore
	ModelArtifactStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Decision store ───────────────────────────────────────────────────────────

// DecisionFilter narrows ListDecisions results. Zero values mean "no
// constraint"; Limit defaults to 100 and is capped at 1000.
type DecisionFilter struct {
	Reason  models.ReasonCode
	Allowed *bool
	Since   time.Time
	Limit   int
	Offset  int
}

// DecisionStore persists every rendered decision for review and for the
// visualization endpoint. Decisions are append-only.
type DecisionStore interface {
	// SaveDecision writes one decision record.
	SaveDecision(ctx context.Context, d *models.Decision) error

	// GetDecision retrieves a decision by ID. Returns nil, nil when the ID
	// is unknown.
	GetDecision(ctx context.Context, id string) (*models.Decision, error)

	// ListDecisions retrieves decisions matching the filter, newest first.
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*models.Decision, error)

	// CountDecisions returns per-reason decision counts.
	CountDecisions(ctx context.Context) (map[models.ReasonCode]int, error)
}

// ─── Model artifact store ─────────────────────────────────────────────────────

// ModelArtifactStore persists fitted detector models. At most one artifact is
// active; the artifact bytes are opaque to the store and must round-trip
// exactly so a reloaded model scores identically.
type ModelArtifactStore interface {
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
