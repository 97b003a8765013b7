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
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "text-embedding-3-small"
	openAIDefaultTimeout = 30 * time.Second
)

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewOpenAIEmbedder creates an embedder for the OpenAI embeddings API.
// baseURL and model fall back to API defaults when empty.
func NewOpenAIEmbedder(apiKey, model, baseURL string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = openAIDefaultModel
	}
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: openAIDefaultTimeout},
	}, nil
}

func (c *OpenAIEmbedder) Name() string { return "openai" }

// Embed implements Embedder.Embed with one internal retry.
func (c *OpenAIEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	start := time.Now()
	e, err := retryOnce(ctx, func() (models.Embedding, error) {
		return c.embed(ctx, text)
	})
	metrics.EmbedDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(c.Name(), "error").Inc()
		return nil, fmt.Errorf("openai embed: %v: %w", err, models.ErrEmbeddingService)
	}
	metrics.EmbedRequestsTotal.WithLabelValues(c.Name(), "success").Inc()
	return e, nil
}

func (c *OpenAIEmbedder) embed(ctx context.Context, text string) (models.Embedding, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("response contained no embedding")
	}
	return parsed.Data[0].Embedding, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
