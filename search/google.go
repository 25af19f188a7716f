// Package search provides best-effort web search used to enrich
// classification prompts. Failures never propagate to callers: any error
// surviving the retry policy degrades to an empty result set.
package search

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"payclassd/llm"
)

const maxResultsPerQuery = 10

// Config holds Google Custom Search settings.
type Config struct {
	APIKey     string
	EngineID   string
	Timeout    time.Duration
	MaxRetries int
	MaxResults int

	// Endpoint overrides the API base URL. Used by tests.
	Endpoint string
}

// Result is a single search hit.
type Result struct {
	Title   string
	Snippet string
	Link    string
}

// Service queries the Google Custom Search API.
type Service struct {
	cfg    Config
	logger zerolog.Logger
	svc    *customsearch.Service
}

// NewService validates the credentials and returns an unconnected Service.
// Setup must be called before Search.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, errors.New("google search API key and engine ID are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxResults < 1 {
		cfg.MaxResults = 3
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With().Str("component", "googleSearch").Logger(),
	}, nil
}

// Setup creates the underlying API client.
func (s *Service) Setup(ctx context.Context) error {
	opts := []option.ClientOption{option.WithAPIKey(s.cfg.APIKey)}
	if s.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.cfg.Endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return err
	}
	s.svc = svc
	return nil
}

// Close releases the service. The custom search client holds no connection
// state beyond its transport, so this only drops the reference.
func (s *Service) Close() error {
	s.svc = nil
	return nil
}

// MaxResults returns the configured default result count.
func (s *Service) MaxResults() int {
	return s.cfg.MaxResults
}

// Search runs a query and returns up to numResults hits. A blank query
// short-circuits to an empty slice without a network call. Transport and
// timeout failures are retried with jittered exponential backoff; anything
// that still fails is logged and swallowed.
func (s *Service) Search(ctx context.Context, query string, numResults int, correlationID string) []Result {
	if strings.TrimSpace(query) == "" {
		s.logger.Warn().Str("correlation_id", correlationID).Msg("Empty search query provided")
		return nil
	}
	if s.svc == nil {
		s.logger.Error().Str("correlation_id", correlationID).Msg("Search service not initialized")
		return nil
	}
	if numResults < 1 || numResults > maxResultsPerQuery {
		numResults = s.cfg.MaxResults
	}

	s.logger.Info().
		Str("correlation_id", correlationID).
		Str("query", query).
		Int("num_results", numResults).
		Msg("Google search request")

	var resp *customsearch.Search
	err := llm.Retry(ctx, llm.DefaultRetryPolicy(s.cfg.MaxRetries), retryableSearchError, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		var callErr error
		resp, callErr = s.svc.Cse.List().
			Q(query).
			Cx(s.cfg.EngineID).
			Num(int64(numResults)).
			Context(callCtx).
			Do()
		return callErr
	})
	if err != nil {
		s.logger.Error().
			Str("correlation_id", correlationID).
			Str("query", query).
			Err(err).
			Msg("Google search failed")
		return nil
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{
			Title:   item.Title,
			Snippet: item.Snippet,
			Link:    item.Link,
		})
	}

	s.logger.Info().
		Str("correlation_id", correlationID).
		Str("query", query).
		Int("results_count", len(results)).
		Msg("Google search response")

	return results
}

// retryableSearchError retries rate limits, server-side failures, and
// timeout conditions; client-side errors abort immediately.
func retryableSearchError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return true
		}
		return apiErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Plain transport failures come through as url errors.
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset")
}
