// Package openai implements the classification backend for OpenAI and
// OpenAI-compatible chat completion APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"payclassd/llm"
)

// Config holds OpenAI-specific settings on top of the shared client config.
type Config struct {
	llm.Config
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Backend issues chat completion requests with JSON-object response format.
type Backend struct {
	cfg    Config
	prompt llm.PromptProvider
	logger zerolog.Logger
	client *openai.Client
	httpc  *http.Client
}

// New creates an OpenAI backend. The credential is required at construction.
func New(cfg Config, prompts llm.PromptProvider, logger zerolog.Logger) (*Backend, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, llm.NewClientError("openAI API key is required", "", cfg.Model, nil)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Backend{
		cfg:    cfg,
		prompt: prompts,
		logger: logger.With().Str("component", "openaiBackend").Logger(),
	}, nil
}

// ModelName implements llm.Backend.
func (b *Backend) ModelName() string {
	return b.cfg.Model
}

// Setup opens the HTTP session.
func (b *Backend) Setup(ctx context.Context) error {
	clientConfig := openai.DefaultConfig(b.cfg.APIKey)
	if b.cfg.BaseURL != "" {
		clientConfig.BaseURL = b.cfg.BaseURL
	}
	b.httpc = &http.Client{Timeout: b.cfg.Timeout}
	clientConfig.HTTPClient = b.httpc
	b.client = openai.NewClientWithConfig(clientConfig)
	return nil
}

// Close releases the HTTP session.
func (b *Backend) Close() error {
	if b.httpc != nil {
		b.httpc.CloseIdleConnections()
	}
	b.client = nil
	return nil
}

// Generate implements llm.Backend. Retries cover timeout, connection, and
// rate-limit conditions plus any 5xx status; other 4xx never retry.
func (b *Backend) Generate(ctx context.Context, in llm.Input) (any, error) {
	if b.client == nil {
		return nil, llm.NewClientError("session not initialized; Setup must run before Generate", in.CorrelationID, b.cfg.Model, nil)
	}

	systemPrompt, err := b.prompt.Get("system_prompt")
	if err != nil {
		return nil, llm.NewClientError("missing system prompt", in.CorrelationID, b.cfg.Model, err)
	}
	userPrompt, err := b.prompt.Format("classify_user_prompt", map[string]string{
		"payment_text":     in.PaymentText,
		"valid_categories": strings.Join(in.Categories, ", "),
	})
	if err != nil {
		return nil, llm.NewClientError("failed to build user prompt", in.CorrelationID, b.cfg.Model, err)
	}

	req := openai.ChatCompletionRequest{
		Model: b.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: float32(b.cfg.Temperature),
		MaxTokens:   b.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var resp openai.ChatCompletionResponse
	err = llm.Retry(ctx, llm.DefaultRetryPolicy(b.cfg.MaxRetries), llm.IsRetryable, func() error {
		var callErr error
		resp, callErr = b.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return b.mapError(callErr, in.CorrelationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// Parse implements llm.Backend.
func (b *Backend) Parse(raw any, correlationID string) (*llm.Result, error) {
	resp, ok := raw.(openai.ChatCompletionResponse)
	if !ok {
		return nil, llm.NewParseError("unexpected raw response type from openai", correlationID, b.cfg.Model, nil)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewParseError("openai returned no choices", correlationID, b.cfg.Model, nil)
	}

	content := resp.Choices[0].Message.Content
	cls, err := llm.DecodeClassification([]byte(content))
	if err != nil {
		return nil, llm.NewParseError(
			fmt.Sprintf("invalid response from openai: %q", content),
			correlationID, b.cfg.Model, err,
		)
	}

	return &llm.Result{
		Category:   cls.Category,
		Reasoning:  cls.Reasoning,
		Confidence: cls.Confidence,
		Metadata: map[string]any{
			"raw_response":      cls.Raw,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"search_used":       false,
		},
	}, nil
}

// mapError translates SDK failures before the retry predicate inspects
// them.
func (b *Backend) mapError(err error, correlationID string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return llm.NewRateLimitError("openai rate limited", correlationID, b.cfg.Model, err)
		case apiErr.HTTPStatusCode == http.StatusRequestTimeout:
			return llm.NewTimeoutError("openai request timed out", correlationID, b.cfg.Model, err)
		case apiErr.HTTPStatusCode >= 500:
			cerr := llm.NewClientError(
				fmt.Sprintf("openai server error (status %d)", apiErr.HTTPStatusCode),
				correlationID, b.cfg.Model, err,
			)
			cerr.Retryable = true
			cerr.StatusCode = apiErr.HTTPStatusCode
			return cerr
		default:
			cerr := llm.NewClientError(
				fmt.Sprintf("openai API error (status %d)", apiErr.HTTPStatusCode),
				correlationID, b.cfg.Model, err,
			)
			cerr.StatusCode = apiErr.HTTPStatusCode
			return cerr
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTimeoutError("openai request exceeded deadline", correlationID, b.cfg.Model, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return llm.NewTimeoutError("openai request timed out", correlationID, b.cfg.Model, err)
		}
		cerr := llm.NewClientError("openai connection error", correlationID, b.cfg.Model, err)
		cerr.Retryable = true
		return cerr
	}

	return llm.NewClientError("openai request failed", correlationID, b.cfg.Model, err)
}

var _ llm.Backend = (*Backend)(nil)
