package models

import "errors"

// Error taxonomy for the evaluation pipeline. Callers discriminate with
// errors.Is; boundary layers wrap these with context via fmt.Errorf("%w").
var (
	// ErrDimensionMismatch: the embedding's length does not match the
	// fitted model's dimension. A caller programming error; never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelNotReady: no fitted detector model is published. Surfaced
	// distinctly so operators can trigger a fit.
	ErrModelNotReady = errors.New("detector model not ready")

	// ErrModelNotFound: the persistence layer holds no model artifact.
	// Distinct from corruption: absence is a normal first-run condition.
	ErrModelNotFound = errors.New("no persisted detector model")

	// ErrModelCorrupt: a persisted artifact exists but cannot be
	// reconstructed. Treated identically to ErrModelNotReady by scoring.
	ErrModelCorrupt = errors.New("persisted detector model is corrupt")

	// ErrEmbeddingService: the external embedding service failed after its
	// single internal retry.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrJudgeUnavailable: the semantic judge errored or exceeded its
	// timeout. Resolved by the fuser's configured fail mode.
	ErrJudgeUnavailable = errors.New("judge unavailable")
)
