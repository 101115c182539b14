package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lexroute/api/internal/gateway"
)

func testPolicy() gateway.Policy {
	return gateway.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Terminal: IsTerminal}.
		WithSleep(func(time.Duration) {})
}

func generateHandler(t *testing.T, text string, inputTokens, outputTokens int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"generated_text":        text,
				"input_token_count":     inputTokens,
				"generated_token_count": outputTokens,
				"stop_reason":           "eos_token",
			}},
		})
	})
}

func TestGenerateTracksTokenUsage(t *testing.T) {
	srv := httptest.NewServer(generateHandler(t, "ALIGNMENT: MATCH", 120, 8))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, UnitCostUSD: 0.0001, RequestsPerSecond: 1000}, testPolicy())
	ctx := context.Background()

	result, err := c.Generate(ctx, Request{Prompt: "Compare the clauses."})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "ALIGNMENT: MATCH" || result.InputTokens != 120 || result.OutputTokens != 8 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.StopReason != "eos_token" {
		t.Fatalf("stop reason = %q", result.StopReason)
	}

	if _, err := c.Generate(ctx, Request{Prompt: "Again."}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	usage := c.Usage()
	if usage.TotalInputTokens != 240 || usage.TotalOutputTokens != 16 || usage.TotalRequests != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	wantCost := 256.0 / 1000 * 0.0001
	if diff := usage.EstimatedCostUSD - wantCost; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("EstimatedCostUSD = %v, want %v", usage.EstimatedCostUSD, wantCost)
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		generateHandler(t, "ok", 5, 2).ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 1000}, testPolicy())
	result, err := c.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("result.Text = %q", result.Text)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server called %d times, want 3", got)
	}
}

func TestGenerateTerminalErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"invalid argument", http.StatusBadRequest, ErrInvalidArgument},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "E", "message": "nope"}})
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 1000}, testPolicy())
			_, err := c.Generate(context.Background(), Request{Prompt: "p"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Generate() error = %v, want %v", err, tc.want)
			}
			if got := calls.Load(); got != 1 {
				t.Fatalf("server called %d times, want 1", got)
			}
		})
	}
}

func TestGenerateWithSystemCombinesPrompts(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Input
		generateHandler(t, "done", 1, 1).ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 1000}, testPolicy())
	if _, err := c.GenerateWithSystem(context.Background(), "You are a contract reviewer.", "Review this.", Request{}); err != nil {
		t.Fatalf("GenerateWithSystem() error = %v", err)
	}
	want := "<|system|>\nYou are a contract reviewer.\n<|user|>\nReview this.\n<|assistant|>\n"
	if prompt != want {
		t.Fatalf("prompt = %q, want %q", prompt, want)
	}
}

func TestHealthCheckReportsCounters(t *testing.T) {
	srv := httptest.NewServer(generateHandler(t, "pong", 2, 1))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 1000}, testPolicy())
	status := c.HealthCheck(context.Background())
	if status.Status != "healthy" {
		t.Fatalf("status = %q: %s", status.Status, status.Error)
	}
	if status.Usage.TotalRequests != 1 {
		t.Fatalf("usage requests = %d, want 1", status.Usage.TotalRequests)
	}
}
