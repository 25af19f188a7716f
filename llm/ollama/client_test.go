package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"payclassd/llm"
	"payclassd/prompt"
)

func testPrompts() llm.PromptProvider {
	return prompt.NewStaticLoader(map[string]string{
		"system_prompt":                    "You classify payments.",
		"classify_user_prompt":             "Classify {payment_text} into {valid_categories}",
		"classify_user_prompt_with_search": "Classify {payment_text} into {valid_categories} using {search_results}",
	})
}

func testBackend(t *testing.T, serverURL string) *Backend {
	t.Helper()
	cfg := Config{
		Config:  llm.DefaultConfig(),
		BaseURL: serverURL,
		Model:   "qwen2.5:1.5b",
	}
	cfg.MaxRetries = 2
	backend, err := New(cfg, testPrompts(), zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := backend.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return backend
}

func generateHandler(t *testing.T, fn func(r *http.Request, calls int64) (int, string)) (http.HandlerFunc, *int64) {
	t.Helper()
	var calls int64
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt64(&calls, 1)
		status, body := fn(r, n)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"upstream failure"}`))
			return
		}
		resp := api.GenerateResponse{Model: "qwen2.5:1.5b", Response: body, Done: true}
		_ = json.NewEncoder(w).Encode(resp)
	}
	return handler, &calls
}

func TestGenerateAndParse(t *testing.T) {
	handler, _ := generateHandler(t, func(r *http.Request, _ int64) (int, string) {
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("Expected correlation header corr-1, got %q", got)
		}
		return http.StatusOK, `{"category":"food","reasoning":"grocery purchase","confidence":0.9}`
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	backend := testBackend(t, server.URL)
	raw, err := backend.Generate(context.Background(), llm.Input{
		PaymentText:   "WALMART GROCERY 1234",
		Categories:    []string{"food", "entertainment"},
		CorrelationID: "corr-1",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	result, err := backend.Parse(raw, "corr-1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Category != "food" {
		t.Errorf("Expected category food, got %s", result.Category)
	}
	if result.Confidence == nil || *result.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %v", result.Confidence)
	}
	if result.SearchUsed() {
		t.Error("Expected search_used=false without search")
	}
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	handler, calls := generateHandler(t, func(_ *http.Request, n int64) (int, string) {
		if n == 1 {
			return http.StatusTooManyRequests, ""
		}
		return http.StatusOK, `{"category":"food","reasoning":"r"}`
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	backend := testBackend(t, server.URL)
	start := time.Now()
	_, err := backend.Generate(context.Background(), llm.Input{
		PaymentText: "WALMART",
		Categories:  []string{"food"},
	})
	if err != nil {
		t.Fatalf("Expected recovery after 429, got %v", err)
	}
	if got := atomic.LoadInt64(calls); got != 2 {
		t.Errorf("Expected 2 requests, got %d", got)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Error("Expected a backoff wait between attempts")
	}
}

func TestGenerateDoesNotRetryServerError(t *testing.T) {
	handler, calls := generateHandler(t, func(_ *http.Request, _ int64) (int, string) {
		return http.StatusInternalServerError, ""
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	backend := testBackend(t, server.URL)
	_, err := backend.Generate(context.Background(), llm.Input{
		PaymentText: "WALMART",
		Categories:  []string{"food"},
	})
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if llm.KindOf(err) != llm.ErrorKindClient {
		t.Errorf("Expected client kind, got %s", llm.KindOf(err))
	}
	if llm.IsRetryable(err) {
		t.Error("Expected 500 to be non-retryable")
	}
	if got := atomic.LoadInt64(calls); got != 1 {
		t.Errorf("Expected 1 request, got %d", got)
	}
}

func TestGenerateExhaustsRateLimitAttempts(t *testing.T) {
	handler, calls := generateHandler(t, func(_ *http.Request, _ int64) (int, string) {
		return http.StatusTooManyRequests, ""
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	backend := testBackend(t, server.URL)
	_, err := backend.Generate(context.Background(), llm.Input{
		PaymentText: "WALMART",
		Categories:  []string{"food"},
	})
	if !llm.IsRateLimitError(err) {
		t.Fatalf("Expected rate limit error, got %v", err)
	}
	if got := atomic.LoadInt64(calls); got != 2 {
		t.Errorf("Expected MaxRetries=2 total attempts, got %d", got)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	handler, _ := generateHandler(t, func(_ *http.Request, _ int64) (int, string) {
		return http.StatusOK, `not json at all`
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	backend := testBackend(t, server.URL)
	raw, err := backend.Generate(context.Background(), llm.Input{
		PaymentText: "WALMART",
		Categories:  []string{"food"},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	_, err = backend.Parse(raw, "corr-1")
	if !llm.IsParseError(err) {
		t.Fatalf("Expected parse error, got %v", err)
	}
}

func TestUseSearchWithoutCollaboratorFallsBack(t *testing.T) {
	handler, _ := generateHandler(t, func(_ *http.Request, _ int64) (int, string) {
		return http.StatusOK, `{"category":"food","reasoning":"r"}`
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	backend := testBackend(t, server.URL)
	raw, err := backend.Generate(context.Background(), llm.Input{
		PaymentText: "WALMART",
		Categories:  []string{"food"},
		UseSearch:   true,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	result, err := backend.Parse(raw, "corr-1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.SearchUsed() {
		t.Error("Expected search_used=false when no collaborator is configured")
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Config{Config: llm.DefaultConfig()}, testPrompts(), zerolog.Nop(), nil)
	if err == nil {
		t.Fatal("Expected error for missing model")
	}
}
