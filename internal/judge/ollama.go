package judge

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
	ollamaDefaultModel   = "llama3"
)

// OllamaJudge implements Judge against a local Ollama instance.
type OllamaJudge struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// NewOllamaJudge creates a judge backed by a local Ollama chat model.
func NewOllamaJudge(baseURL, model string) *OllamaJudge {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	if model == "" {
		model = ollamaDefaultModel
	}
	return &OllamaJudge{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
	}
}

func (c *OllamaJudge) Name() string { return "ollama" }

// Judge implements Judge.Judge.
func (c *OllamaJudge) Judge(ctx context.Context, promptText string, anomalyScore float64) (models.JudgeVerdict, error) {
	start := time.Now()
	verdict, err := c.judge(ctx, promptText, anomalyScore)
	elapsed := time.Since(start)
	metrics.JudgeDuration.WithLabelValues(c.Name()).Observe(elapsed.Seconds())
	if err != nil {
		metrics.JudgeRequestsTotal.WithLabelValues(c.Name(), "error").Inc()
		return models.JudgeVerdict{}, fmt.Errorf("ollama judge: %v: %w", err, models.ErrJudgeUnavailable)
	}
	metrics.JudgeRequestsTotal.WithLabelValues(c.Name(), "success").Inc()
	verdict.LatencyMs = elapsed.Milliseconds()
	return verdict, nil
}

func (c *OllamaJudge) judge(ctx context.Context, promptText string, anomalyScore float64) (models.JudgeVerdict, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userMessage(promptText, anomalyScore)},
		},
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return models.JudgeVerdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.JudgeVerdict{}, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return models.JudgeVerdict{}, fmt.Errorf("parse response: %w", err)
	}

	v, err := parseVerdict(parsed.Message.Content)
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	return models.JudgeVerdict{Allowed: v.IsSafe, Rationale: v.Reason}, nil
}
