package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func doRequest(t *testing.T, handler http.HandlerFunc, remoteAddr string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec.Code
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	defer rl.Stop()

	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		if code := doRequest(t, handler, "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}

	if code := doRequest(t, handler, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst exhausted, got %d", code)
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if code := doRequest(t, handler, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", code)
	}
	if code := doRequest(t, handler, "10.0.0.1:9999"); code != http.StatusTooManyRequests {
		t.Errorf("same IP different port must share a bucket, got %d", code)
	}
	if code := doRequest(t, handler, "10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("different IP must get its own bucket, got %d", code)
	}
}
