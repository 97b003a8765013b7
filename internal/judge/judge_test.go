package judge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    rawVerdict
		wantErr bool
	}{
		{
			name: "raw json",
			text: `{"is_safe": true, "threat_type": "none", "reason": "benign"}`,
			want: rawVerdict{IsSafe: true, ThreatType: "none", Reason: "benign"},
		},
		{
			name: "markdown fenced",
			text: "```json\n{\"is_safe\": false, \"threat_type\": \"injection\", \"reason\": \"override attempt\"}\n```",
			want: rawVerdict{IsSafe: false, ThreatType: "injection", Reason: "override attempt"},
		},
		{
			name: "surrounding prose",
			text: `Here is my analysis: {"is_safe": true, "threat_type": "none", "reason": "fiction"} Hope that helps!`,
			want: rawVerdict{IsSafe: true, ThreatType: "none", Reason: "fiction"},
		},
		{
			name:    "no json at all",
			text:    "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "broken json",
			text:    `{"is_safe": tru`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newOpenAIServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "anomaly score")

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}))
}

func TestOpenAIJudgeAllows(t *testing.T) {
	srv := newOpenAIServer(t, `{"is_safe": true, "threat_type": "none", "reason": "research context"}`)
	defer srv.Close()

	j, err := NewOpenAIJudge("k", "m", srv.URL)
	require.NoError(t, err)

	v, err := j.Judge(context.Background(), "what is a trojan horse?", -0.12)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, "research context", v.Rationale)
	assert.GreaterOrEqual(t, v.LatencyMs, int64(0))
}

func TestOpenAIJudgeBlocks(t *testing.T) {
	srv := newOpenAIServer(t, `{"is_safe": false, "threat_type": "exploitation", "reason": "live attack steps"}`)
	defer srv.Close()

	j, err := NewOpenAIJudge("k", "m", srv.URL)
	require.NoError(t, err)

	v, err := j.Judge(context.Background(), "give me working exploit code", -0.3)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestOpenAIJudgeMalformedOutputIsUnavailable(t *testing.T) {
	srv := newOpenAIServer(t, "sorry, I can't produce JSON today")
	defer srv.Close()

	j, err := NewOpenAIJudge("k", "m", srv.URL)
	require.NoError(t, err)

	_, err = j.Judge(context.Background(), "x", 0)
	assert.ErrorIs(t, err, models.ErrJudgeUnavailable)
}

func TestOpenAIJudgeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	j, err := NewOpenAIJudge("k", "m", srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = j.Judge(ctx, "x", 0)
	assert.ErrorIs(t, err, models.ErrJudgeUnavailable)
}

func TestOllamaJudge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: "assistant", Content: `{"is_safe": true, "threat_type": "none", "reason": "ok"}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	j := NewOllamaJudge(srv.URL, "m")
	v, err := j.Judge(context.Background(), "hello", -0.05)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

// fakeJudge counts invocations and returns a scripted verdict.
type fakeJudge struct {
	calls   atomic.Int32
	verdict models.JudgeVerdict
	err     error
}

func (f *fakeJudge) Name() string { return "fake" }

func (f *fakeJudge) Judge(ctx context.Context, promptText string, anomalyScore float64) (models.JudgeVerdict, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.JudgeVerdict{}, f.err
	}
	return f.verdict, nil
}

func TestCachedJudgeHit(t *testing.T) {
	inner := &fakeJudge{verdict: models.JudgeVerdict{Allowed: true, Rationale: "ok"}}
	c := NewCachedJudge(inner, 16, time.Minute)

	v1, err := c.Judge(context.Background(), "same prompt", -0.2)
	require.NoError(t, err)
	v2, err := c.Judge(context.Background(), "same prompt", -0.4) // score differs, key does not
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())

	_, err = c.Judge(context.Background(), "different prompt", -0.2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedJudgeDoesNotCacheFailures(t *testing.T) {
	inner := &fakeJudge{err: models.ErrJudgeUnavailable}
	c := NewCachedJudge(inner, 16, time.Minute)

	_, err := c.Judge(context.Background(), "p", 0)
	assert.ErrorIs(t, err, models.ErrJudgeUnavailable)
	_, err = c.Judge(context.Background(), "p", 0)
	assert.ErrorIs(t, err, models.ErrJudgeUnavailable)
	assert.Equal(t, int32(2), inner.calls.Load())
}
