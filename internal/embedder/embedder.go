// Package embedder provides clients for external embedding services.
//
// Responsibilities:
//   - Map a prompt string to a fixed-dimension numeric vector
//   - Abstract differences between embedding providers (OpenAI, Ollama)
//   - Retry a failed request at most once before surfacing
//     models.ErrEmbeddingService; the core never retries on top of this
//   - Report request counts and latency per provider
//
// The detector treats the embedding model as a black box. The embedding
// dimension is pinned by the fitted model, not by this package: evaluating
// with a different embedding model than the one the corpus was fitted with
// surfaces as a dimension mismatch at scoring time.
package embedder

import (
	"context"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// Embedder maps text to an embedding vector.
type Embedder interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string

	// Embed returns the embedding for the given text, or an error wrapping
	// models.ErrEmbeddingService after its single internal retry.
	Embed(ctx context.Context, text string) (models.Embedding, error)
}

// retryOnce invokes fn, retrying a single time on failure. Context
// cancellation is never retried.
func retryOnce(ctx context.Context, fn func() (models.Embedding, error)) (models.Embedding, error) {
	e, err := fn()
	if err == nil || ctx.Err() != nil {
		return e, err
	}
	return fn()
}
