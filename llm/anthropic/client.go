// Package anthropic implements the classification backend for Anthropic's
// Messages API. The API has no JSON response-format switch, so the system
// prompt carries an explicit JSON-only instruction and the output is
// schema-checked after the fact like every other provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"payclassd/llm"
)

const jsonInstruction = "Respond with a single JSON object containing the string fields \"category\" and \"reasoning\" and an optional numeric \"confidence\" between 0 and 1. Output nothing except that JSON object."

// Overloaded is Anthropic's dedicated throttling status.
const statusOverloaded = 529

// Config holds Anthropic-specific settings on top of the shared client config.
type Config struct {
	llm.Config
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Backend issues Messages API calls against Anthropic.
type Backend struct {
	cfg    Config
	prompt llm.PromptProvider
	logger zerolog.Logger
	client *anthropic.Client
	httpc  *http.Client
}

// New creates an Anthropic backend. The credential is required at
// construction.
func New(cfg Config, prompts llm.PromptProvider, logger zerolog.Logger) (*Backend, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, llm.NewClientError("anthropic API key is required", "", cfg.Model, nil)
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Backend{
		cfg:    cfg,
		prompt: prompts,
		logger: logger.With().Str("component", "anthropicBackend").Logger(),
	}, nil
}

// ModelName implements llm.Backend.
func (b *Backend) ModelName() string {
	return b.cfg.Model
}

// Setup opens the HTTP session.
func (b *Backend) Setup(ctx context.Context) error {
	b.httpc = &http.Client{Timeout: b.cfg.Timeout}
	client := anthropic.NewClient(
		option.WithAPIKey(b.cfg.APIKey),
		option.WithHTTPClient(b.httpc),
	)
	b.client = &client
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

// Generate implements llm.Backend. Retries cover 429, 529 (overloaded), and
// 5xx statuses plus transport timeouts; other 4xx never retry.
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

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.cfg.Model),
		MaxTokens: b.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt + "\n\n" + jsonInstruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		Temperature: anthropic.Float(b.cfg.Temperature),
	}

	var message *anthropic.Message
	err = llm.Retry(ctx, llm.DefaultRetryPolicy(b.cfg.MaxRetries), llm.IsRetryable, func() error {
		var callErr error
		message, callErr = b.client.Messages.New(ctx, params)
		if callErr != nil {
			return b.mapError(callErr, in.CorrelationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return message, nil
}

// Parse implements llm.Backend.
func (b *Backend) Parse(raw any, correlationID string) (*llm.Result, error) {
	message, ok := raw.(*anthropic.Message)
	if !ok {
		return nil, llm.NewParseError("unexpected raw response type from anthropic", correlationID, b.cfg.Model, nil)
	}

	var sb strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return nil, llm.NewParseError("anthropic returned no text content", correlationID, b.cfg.Model, nil)
	}

	cls, err := llm.DecodeClassification([]byte(text))
	if err != nil {
		return nil, llm.NewParseError(
			fmt.Sprintf("invalid response from anthropic: %q", text),
			correlationID, b.cfg.Model, err,
		)
	}

	return &llm.Result{
		Category:   cls.Category,
		Reasoning:  cls.Reasoning,
		Confidence: cls.Confidence,
		Metadata: map[string]any{
			"raw_response":  cls.Raw,
			"input_tokens":  message.Usage.InputTokens,
			"output_tokens": message.Usage.OutputTokens,
			"search_used":   false,
		},
	}, nil
}

// mapError translates SDK failures before the retry predicate inspects
// them.
func (b *Backend) mapError(err error, correlationID string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return llm.NewRateLimitError("anthropic rate limited", correlationID, b.cfg.Model, err)
		case apiErr.StatusCode == statusOverloaded || apiErr.StatusCode >= 500:
			cerr := llm.NewClientError(
				fmt.Sprintf("anthropic server error (status %d)", apiErr.StatusCode),
				correlationID, b.cfg.Model, err,
			)
			cerr.Retryable = true
			cerr.StatusCode = apiErr.StatusCode
			return cerr
		default:
			cerr := llm.NewClientError(
				fmt.Sprintf("anthropic API error (status %d)", apiErr.StatusCode),
				correlationID, b.cfg.Model, err,
			)
			cerr.StatusCode = apiErr.StatusCode
			return cerr
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTimeoutError("anthropic request exceeded deadline", correlationID, b.cfg.Model, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return llm.NewTimeoutError("anthropic request timed out", correlationID, b.cfg.Model, err)
		}
		cerr := llm.NewClientError("anthropic connection error", correlationID, b.cfg.Model, err)
		cerr.Retryable = true
		return cerr
	}

	return llm.NewClientError("anthropic request failed", correlationID, b.cfg.Model, err)
}

var _ llm.Backend = (*Backend)(nil)
