// Package ollama implements the classification backend for a self-hosted
// Ollama inference server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"payclassd/llm"
	"payclassd/search"
)

// Config holds Ollama-specific settings on top of the shared client config.
type Config struct {
	llm.Config
	BaseURL     string
	Model       string
	Temperature float64
}

// Backend issues generation requests against an Ollama server with JSON-mode
// forcing. It optionally owns a search collaborator used to enrich prompts
// when the caller asks for it.
type Backend struct {
	cfg     Config
	prompts llm.PromptProvider
	logger  zerolog.Logger
	client  *api.Client
	httpc   *http.Client
	search  *search.Service
}

type rawResponse struct {
	resp       api.GenerateResponse
	searchUsed bool
}

// New creates an Ollama backend. searchSvc may be nil; search enrichment is
// then silently unavailable.
func New(cfg Config, prompts llm.PromptProvider, logger zerolog.Logger, searchSvc *search.Service) (*Backend, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, llm.NewClientError("ollama model is required", "", "", nil)
	}
	return &Backend{
		cfg:     cfg,
		prompts: prompts,
		logger:  logger.With().Str("component", "ollamaBackend").Logger(),
		search:  searchSvc,
	}, nil
}

// ModelName implements llm.Backend.
func (b *Backend) ModelName() string {
	return b.cfg.Model
}

// Setup opens the HTTP session and initializes the owned search collaborator.
func (b *Backend) Setup(ctx context.Context) error {
	baseURL, err := parseHost(b.cfg.BaseURL)
	if err != nil {
		return llm.NewClientError("invalid ollama base URL", "", b.cfg.Model, err)
	}
	b.httpc = &http.Client{
		Timeout:   b.cfg.Timeout,
		Transport: &correlationTransport{base: http.DefaultTransport},
	}
	b.client = api.NewClient(baseURL, b.httpc)

	if b.search != nil {
		if err := b.search.Setup(ctx); err != nil {
			return llm.NewClientError("failed to set up search collaborator", "", b.cfg.Model, err)
		}
	}
	return nil
}

// Close releases the HTTP session and the owned search collaborator.
func (b *Backend) Close() error {
	if b.httpc != nil {
		b.httpc.CloseIdleConnections()
	}
	if b.search != nil {
		return b.search.Close()
	}
	return nil
}

// Generate implements llm.Backend. The request is retried on transport,
// rate-limit, and timeout conditions only; search enrichment happens once,
// before the retry loop, and its failure falls back to the plain prompt.
func (b *Backend) Generate(ctx context.Context, in llm.Input) (any, error) {
	if b.client == nil {
		return nil, llm.NewClientError("session not initialized; Setup must run before Generate", in.CorrelationID, b.cfg.Model, nil)
	}

	systemPrompt, err := b.prompts.Get("system_prompt")
	if err != nil {
		return nil, llm.NewClientError("missing system prompt", in.CorrelationID, b.cfg.Model, err)
	}

	searchResults := ""
	if in.UseSearch && b.search != nil {
		hits := b.search.Search(ctx, in.PaymentText, b.search.MaxResults(), in.CorrelationID)
		lines := lo.Map(hits, func(hit search.Result, _ int) string {
			return fmt.Sprintf("- %s: %s", hit.Title, hit.Snippet)
		})
		searchResults = strings.Join(lines, "\n")
	}

	userPrompt, err := b.userPrompt(in, searchResults)
	if err != nil {
		return nil, llm.NewClientError("failed to build user prompt", in.CorrelationID, b.cfg.Model, err)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  b.cfg.Model,
		Prompt: systemPrompt + "\n" + userPrompt,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": b.cfg.Temperature,
		},
	}

	callCtx := withCorrelationID(ctx, in.CorrelationID)

	var resp api.GenerateResponse
	err = llm.Retry(ctx, llm.DefaultRetryPolicy(b.cfg.MaxRetries), llm.IsRetryable, func() error {
		genErr := b.client.Generate(callCtx, req, func(r api.GenerateResponse) error {
			resp = r
			return nil
		})
		if genErr != nil {
			return b.mapError(genErr, in.CorrelationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &rawResponse{resp: resp, searchUsed: in.UseSearch && searchResults != ""}, nil
}

// Parse implements llm.Backend.
func (b *Backend) Parse(raw any, correlationID string) (*llm.Result, error) {
	rr, ok := raw.(*rawResponse)
	if !ok {
		return nil, llm.NewParseError("unexpected raw response type from ollama", correlationID, b.cfg.Model, nil)
	}

	cls, err := llm.DecodeClassification([]byte(rr.resp.Response))
	if err != nil {
		return nil, llm.NewParseError(
			fmt.Sprintf("invalid JSON response from ollama: %q", rr.resp.Response),
			correlationID, b.cfg.Model, err,
		)
	}

	return &llm.Result{
		Category:   cls.Category,
		Reasoning:  cls.Reasoning,
		Confidence: cls.Confidence,
		Metadata: map[string]any{
			"raw_response":  cls.Raw,
			"eval_count":    rr.resp.EvalCount,
			"eval_duration": rr.resp.EvalDuration,
			"search_used":   rr.searchUsed,
		},
	}, nil
}

func (b *Backend) userPrompt(in llm.Input, searchResults string) (string, error) {
	if in.UseSearch && searchResults != "" {
		return b.prompts.Format("classify_user_prompt_with_search", map[string]string{
			"payment_text":     in.PaymentText,
			"valid_categories": strings.Join(in.Categories, ", "),
			"search_results":   searchResults,
		})
	}
	return b.prompts.Format("classify_user_prompt", map[string]string{
		"payment_text":     in.PaymentText,
		"valid_categories": strings.Join(in.Categories, ", "),
	})
}

// mapError translates SDK failures into typed error kinds before the retry
// predicate inspects them. 429 is a rate-limit condition; 408 and 504 are
// timeouts; remaining statuses are non-retryable client errors. Transport
// failures and exceeded deadlines are retryable.
func (b *Backend) mapError(err error, correlationID string) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return llm.NewRateLimitError("ollama rate limited", correlationID, b.cfg.Model, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return llm.NewTimeoutError(
				fmt.Sprintf("ollama timed out (status %d)", statusErr.StatusCode),
				correlationID, b.cfg.Model, err,
			)
		default:
			return llm.NewClientError(
				fmt.Sprintf("ollama request failed (status %d)", statusErr.StatusCode),
				correlationID, b.cfg.Model, err,
			)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTimeoutError("ollama request exceeded deadline", correlationID, b.cfg.Model, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return llm.NewTimeoutError("ollama request timed out", correlationID, b.cfg.Model, err)
		}
		cerr := llm.NewClientError("ollama transport error", correlationID, b.cfg.Model, err)
		cerr.Retryable = true
		return cerr
	}

	return llm.NewClientError("ollama request failed", correlationID, b.cfg.Model, err)
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

type correlationKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// correlationTransport threads the per-call correlation id into request
// headers, since the SDK offers no per-request header hook.
type correlationTransport struct {
	base http.RoundTripper
}

func (t *correlationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id, ok := req.Context().Value(correlationKey{}).(string); ok && id != "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Correlation-ID", id)
	}
	return t.base.RoundTrip(req)
}

var _ llm.Backend = (*Backend)(nil)
