// Package gemini implements the classification backend for Google's Gemini
// API using structured generation with a JSON response schema.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"payclassd/llm"
)

// Config holds Gemini-specific settings on top of the shared client config.
type Config struct {
	llm.Config
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int32
}

// Backend issues structured-generation calls against the Gemini API.
type Backend struct {
	cfg     Config
	prompts llm.PromptProvider
	logger  zerolog.Logger
	client  *genai.Client
}

// classificationSchema constrains the model output to the response shape we
// can parse: category and reasoning required, confidence optional.
var classificationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"category":   {Type: genai.TypeString},
		"reasoning":  {Type: genai.TypeString},
		"confidence": {Type: genai.TypeNumber},
	},
	Required: []string{"category", "reasoning"},
}

// New creates a Gemini backend. The credential is required at construction
// and missing credentials fail fast with a non-retryable client error.
func New(cfg Config, prompts llm.PromptProvider, logger zerolog.Logger) (*Backend, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, llm.NewClientError("google API key is required for the gemini client", "", cfg.Model, nil)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	return &Backend{
		cfg:     cfg,
		prompts: prompts,
		logger:  logger.With().Str("component", "geminiBackend").Logger(),
	}, nil
}

// ModelName implements llm.Backend.
func (b *Backend) ModelName() string {
	return b.cfg.Model
}

// Setup creates the API client session.
func (b *Backend) Setup(ctx context.Context) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  b.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return llm.NewClientError("failed to create gemini client", "", b.cfg.Model, err)
	}
	b.client = client
	return nil
}

// Close drops the client session.
func (b *Backend) Close() error {
	b.client = nil
	return nil
}

// Generate implements llm.Backend. Retries cover resource exhaustion,
// unavailability, and internal server conditions only; content-safety
// rejections are non-retryable client errors.
func (b *Backend) Generate(ctx context.Context, in llm.Input) (any, error) {
	if b.client == nil {
		return nil, llm.NewClientError("session not initialized; Setup must run before Generate", in.CorrelationID, b.cfg.Model, nil)
	}

	systemPrompt, err := b.prompts.Get("system_prompt")
	if err != nil {
		return nil, llm.NewClientError("missing system prompt", in.CorrelationID, b.cfg.Model, err)
	}
	userPrompt, err := b.prompts.Format("classify_user_prompt", map[string]string{
		"payment_text":     in.PaymentText,
		"valid_categories": strings.Join(in.Categories, ", "),
	})
	if err != nil {
		return nil, llm.NewClientError("failed to build user prompt", in.CorrelationID, b.cfg.Model, err)
	}

	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   classificationSchema,
		Temperature:      genai.Ptr(float32(b.cfg.Temperature)),
		MaxOutputTokens:  b.cfg.MaxOutputTokens,
	}

	var resp *genai.GenerateContentResponse
	err = llm.Retry(ctx, llm.DefaultRetryPolicy(b.cfg.MaxRetries), llm.IsRetryable, func() error {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()

		var callErr error
		resp, callErr = b.client.Models.GenerateContent(
			callCtx, b.cfg.Model, genai.Text(systemPrompt+"\n"+userPrompt), genConfig,
		)
		if callErr != nil {
			return b.mapError(callErr, in.CorrelationID)
		}
		return b.checkSafety(resp, in.CorrelationID)
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// Parse implements llm.Backend.
func (b *Backend) Parse(raw any, correlationID string) (*llm.Result, error) {
	resp, ok := raw.(*genai.GenerateContentResponse)
	if !ok {
		return nil, llm.NewParseError("unexpected raw response type from gemini", correlationID, b.cfg.Model, nil)
	}

	text := responseText(resp)
	if text == "" {
		return nil, llm.NewParseError("gemini returned no text candidates", correlationID, b.cfg.Model, nil)
	}

	cls, err := llm.DecodeClassification([]byte(text))
	if err != nil {
		return nil, llm.NewParseError(
			fmt.Sprintf("invalid response from gemini: %q", text),
			correlationID, b.cfg.Model, err,
		)
	}

	metadata := map[string]any{
		"raw_response": cls.Raw,
		"search_used":  false,
	}
	if resp.UsageMetadata != nil {
		metadata["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		metadata["output_tokens"] = resp.UsageMetadata.CandidatesTokenCount
	}

	return &llm.Result{
		Category:   cls.Category,
		Reasoning:  cls.Reasoning,
		Confidence: cls.Confidence,
		Metadata:   metadata,
	}, nil
}

// checkSafety converts content-safety rejections into non-retryable client
// errors rather than letting them surface as empty candidates downstream.
func (b *Backend) checkSafety(resp *genai.GenerateContentResponse, correlationID string) error {
	if resp == nil {
		return llm.NewClientError("gemini returned an empty response", correlationID, b.cfg.Model, nil)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.NewClientError(
			fmt.Sprintf("gemini content safety block: %s", resp.PromptFeedback.BlockReason),
			correlationID, b.cfg.Model, nil,
		)
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety {
			return llm.NewClientError("gemini content safety stop", correlationID, b.cfg.Model, nil)
		}
	}
	return nil
}

// mapError translates API failures before the retry predicate inspects
// them. Only 429, 500, and 503 are retryable for this provider.
func (b *Backend) mapError(err error, correlationID string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return llm.NewRateLimitError("gemini resource exhausted", correlationID, b.cfg.Model, err)
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			cerr := llm.NewClientError(
				fmt.Sprintf("gemini server error (status %d)", apiErr.Code),
				correlationID, b.cfg.Model, err,
			)
			cerr.Retryable = true
			cerr.StatusCode = apiErr.Code
			return cerr
		default:
			cerr := llm.NewClientError(
				fmt.Sprintf("gemini API error (status %d)", apiErr.Code),
				correlationID, b.cfg.Model, err,
			)
			cerr.StatusCode = apiErr.Code
			return cerr
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		terr := llm.NewTimeoutError("gemini request exceeded deadline", correlationID, b.cfg.Model, err)
		terr.Retryable = false
		return terr
	}

	return llm.NewClientError("gemini request failed", correlationID, b.cfg.Model, err)
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

var _ llm.Backend = (*Backend)(nil)
