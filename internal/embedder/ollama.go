package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promptsentinel/promptsentinel/internal/metrics"
	"github.com/promptsentinel/promptsentinel/internal/models"
)

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "nomic-embed-text"
	ollamaDefaultTimeout = 60 * time.Second
)

// OllamaEmbedder implements Embedder against a local Ollama instance.
// Zero cost and no data leaves the machine, at the price of needing a
// locally pulled embedding model.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder for the Ollama embeddings API.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	if model == "" {
		model = ollamaDefaultModel
	}
	return &OllamaEmbedder{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: ollamaDefaultTimeout},
	}
}

func (c *OllamaEmbedder) Name() string { return "ollama" }

// Embed implements Embedder.Embed with one internal retry.
func (c *OllamaEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	start := time.Now()
	e, err := retryOnce(ctx, func() (models.Embedding, error) {
		return c.embed(ctx, text)
	})
	metrics.EmbedDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(c.Name(), "error").Inc()
		return nil, fmt.Errorf("ollama embed: %v: %w", err, models.ErrEmbeddingService)
	}
	metrics.EmbedRequestsTotal.WithLabelValues(c.Name(), "success").Inc()
	return e, nil
}

func (c *OllamaEmbedder) embed(ctx context.Context, text string) (models.Embedding, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("response contained no embedding")
	}
	return parsed.Embedding, nil
}
