package anthropic

import (
	"context"
	"errors"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog"

	"payclassd/llm"
	"payclassd/prompt"
)

func testPrompts() llm.PromptProvider {
	return prompt.NewStaticLoader(map[string]string{
		"system_prompt":        "You classify payments.",
		"classify_user_prompt": "Classify {payment_text} into {valid_categories}",
	})
}

func testBackend(t *testing.T) *Backend {
	t.Helper()
	cfg := Config{Config: llm.DefaultConfig(), APIKey: "test-key", Model: "claude-haiku-4-5"}
	backend, err := New(cfg, testPrompts(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return backend
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
		Usage: anthropic.Usage{InputTokens: 30, OutputTokens: 11},
	}
}

func TestParse(t *testing.T) {
	backend := testBackend(t)
	result, err := backend.Parse(textMessage(`{"category":"food","reasoning":"grocery purchase","confidence":0.6}`), "corr-1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Category != "food" {
		t.Errorf("Expected category food, got %s", result.Category)
	}
	if result.Metadata["input_tokens"] != int64(30) {
		t.Errorf("Expected input token count in metadata, got %v", result.Metadata["input_tokens"])
	}
	if result.SearchUsed() {
		t.Error("Expected search_used=false for anthropic")
	}
}

func TestParseRejectsEmptyContent(t *testing.T) {
	backend := testBackend(t)
	_, err := backend.Parse(&anthropic.Message{}, "corr-1")
	if !llm.IsParseError(err) {
		t.Fatalf("Expected parse error for empty content, got %v", err)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	backend := testBackend(t)
	_, err := backend.Parse(textMessage("sorry, I cannot help"), "corr-1")
	if !llm.IsParseError(err) {
		t.Fatalf("Expected parse error, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	backend := testBackend(t)

	cases := []struct {
		name      string
		status    int
		wantKind  llm.ErrorKind
		retryable bool
	}{
		{"rate limited", 429, llm.ErrorKindRateLimit, true},
		{"overloaded", statusOverloaded, llm.ErrorKindClient, true},
		{"internal", 500, llm.ErrorKindClient, true},
		{"bad request", 400, llm.ErrorKindClient, false},
		{"unauthorized", 401, llm.ErrorKindClient, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := backend.mapError(&anthropic.Error{StatusCode: tc.status}, "corr-1")
			if llm.KindOf(mapped) != tc.wantKind {
				t.Errorf("Expected kind %s, got %s", tc.wantKind, llm.KindOf(mapped))
			}
			if llm.IsRetryable(mapped) != tc.retryable {
				t.Errorf("Expected retryable=%t for status %d", tc.retryable, tc.status)
			}
		})
	}
}

func TestMapErrorDeadline(t *testing.T) {
	backend := testBackend(t)
	mapped := backend.mapError(context.DeadlineExceeded, "corr-1")
	if !llm.IsTimeoutError(mapped) {
		t.Fatalf("Expected timeout error, got %v", mapped)
	}
	if !llm.IsRetryable(mapped) {
		t.Error("Expected anthropic deadline to be retryable")
	}
}

func TestMapErrorForeign(t *testing.T) {
	backend := testBackend(t)
	mapped := backend.mapError(errors.New("weird"), "corr-1")
	if llm.IsRetryable(mapped) {
		t.Error("Expected foreign errors to be non-retryable")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(Config{Config: llm.DefaultConfig()}, testPrompts(), zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for missing API key")
	}
}
