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
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"
)

// OpenAIJudge implements Judge against the OpenAI chat completions API.
type OpenAIJudge struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIJudge creates a judge backed by the OpenAI chat completions API.
func NewOpenAIJudge(apiKey, model, baseURL string) (*OpenAIJudge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = openAIDefaultModel
	}
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAIJudge{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		// Per-request deadlines come from ctx; the fuser sets them.
		httpClient: &http.Client{},
	}, nil
}

func (c *OpenAIJudge) Name() string { return "openai" }

// Judge implements Judge.Judge.
func (c *OpenAIJudge) Judge(ctx context.Context, promptText string, anomalyScore float64) (models.JudgeVerdict, error) {
	start := time.Now()
	verdict, err := c.judge(ctx, promptText, anomalyScore)
	elapsed := time.Since(start)
	metrics.JudgeDuration.WithLabelValues(c.Name()).Observe(elapsed.Seconds())
	if err != nil {
		metrics.JudgeRequestsTotal.WithLabelValues(c.Name(), "error").Inc()
		return models.JudgeVerdict{}, fmt.Errorf("openai judge: %v: %w", err, models.ErrJudgeUnavailable)
	}
	metrics.JudgeRequestsTotal.WithLabelValues(c.Name(), "success").Inc()
	verdict.LatencyMs = elapsed.Milliseconds()
	return verdict, nil
}

func (c *OpenAIJudge) judge(ctx context.Context, promptText string, anomalyScore float64) (models.JudgeVerdict, error) {
	body, err := json.Marshal(openAIChatRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userMessage(promptText, anomalyScore)},
		},
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		return models.JudgeVerdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return models.JudgeVerdict{}, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return models.JudgeVerdict{}, fmt.Errorf("response contained no choices")
	}

	v, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	return models.JudgeVerdict{Allowed: v.IsSafe, Rationale: v.Reason}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
