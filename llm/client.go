package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Client wraps a Backend with the behavior shared by every provider:
// input validation, bounded concurrency, correlation-id propagation,
// timing, structured logging, metrics, and error translation.
type Client struct {
	backend Backend
	cfg     Config
	logger  zerolog.Logger
	metrics Metrics
	sem     *semaphore.Weighted
}

// NewClient builds a Client around the given backend. A nil metrics
// collector falls back to NopMetrics.
func NewClient(backend Backend, cfg Config, logger zerolog.Logger, metrics Metrics) *Client {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	concurrency := cfg.MaxConcurrentRequests
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With().Str("component", "llmClient").Str("model", backend.ModelName()).Logger(),
		metrics: metrics,
		sem:     semaphore.NewWeighted(concurrency),
	}
}

// ModelName returns the backend's model identifier.
func (c *Client) ModelName() string {
	return c.backend.ModelName()
}

// Setup acquires the backend's long-lived resources.
func (c *Client) Setup(ctx context.Context) error {
	return c.backend.Setup(ctx)
}

// Close releases the backend's resources. Invoked by the owning manager on
// shutdown; Classify must not be called afterwards.
func (c *Client) Close() error {
	return c.backend.Close()
}

// Classify runs one classification call end to end. The semaphore is the
// sole admission control protecting the backend: callers block until a slot
// frees, and retries inside the backend hold the slot for their whole
// duration rather than releasing it between attempts.
func (c *Client) Classify(ctx context.Context, in Input) (*Result, error) {
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	in.CorrelationID = correlationID
	start := time.Now()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, c.fail(start, correlationID, NewClientError("canceled while waiting for a request slot", correlationID, c.backend.ModelName(), err))
	}
	defer c.sem.Release(1)

	if err := c.validate(in); err != nil {
		return nil, c.fail(start, correlationID, err)
	}

	if c.cfg.LogRequests {
		c.logger.Info().
			Str("correlation_id", correlationID).
			Bool("use_search", in.UseSearch).
			Msg("LLM classification request")
	}

	raw, err := c.backend.Generate(ctx, in)
	if err != nil {
		return nil, c.fail(start, correlationID, err)
	}

	result, err := c.backend.Parse(raw, correlationID)
	if err != nil {
		return nil, c.fail(start, correlationID, err)
	}

	result.CorrelationID = correlationID
	result.Model = c.backend.ModelName()
	result.ProcessingTimeMS = roundMS(time.Since(start))

	if c.cfg.LogResponses {
		c.logger.Info().
			Str("correlation_id", correlationID).
			Str("category", result.Category).
			Float64("duration_ms", result.ProcessingTimeMS).
			Msg("LLM classification response")
	}
	c.recordMetrics(result.ProcessingTimeMS, true, "")

	return result, nil
}

// validate enforces the input bounds before any backend contact. Violations
// never consume a retry attempt.
func (c *Client) validate(in Input) error {
	if strings.TrimSpace(in.PaymentText) == "" {
		return NewValidationError("payment text cannot be empty")
	}
	if c.cfg.MaxPaymentTextLength > 0 && len(in.PaymentText) > c.cfg.MaxPaymentTextLength {
		return NewValidationError(fmt.Sprintf("payment text too long (max %d characters)", c.cfg.MaxPaymentTextLength))
	}
	if len(in.Categories) == 0 {
		return NewValidationError("categories list cannot be empty")
	}
	if c.cfg.MaxCategories > 0 && len(in.Categories) > c.cfg.MaxCategories {
		return NewValidationError(fmt.Sprintf("too many categories (max %d)", c.cfg.MaxCategories))
	}
	return nil
}

// fail logs, records metrics, and translates an error before it leaves the
// client. Known *Error kinds propagate unchanged with correlation id and
// model stamped in; anything else is wrapped into a client error.
func (c *Client) fail(start time.Time, correlationID string, err error) error {
	durationMS := roundMS(time.Since(start))
	translated := c.translate(err, correlationID)

	var kind ErrorKind = ErrorKindClient
	if lerr, ok := translated.(*Error); ok {
		kind = lerr.Kind
	}

	c.logger.Error().
		Str("correlation_id", correlationID).
		Str("error_kind", string(kind)).
		Float64("duration_ms", durationMS).
		Err(err).
		Msg("LLM classification failed")
	c.recordMetrics(durationMS, false, kind)

	return translated
}

func (c *Client) translate(err error, correlationID string) error {
	var lerr *Error
	if errors.As(err, &lerr) {
		if lerr.CorrelationID == "" {
			lerr.CorrelationID = correlationID
		}
		if lerr.Model == "" {
			lerr.Model = c.backend.ModelName()
		}
		return lerr
	}
	return NewClientError("unexpected classification failure", correlationID, c.backend.ModelName(), err)
}

func (c *Client) recordMetrics(durationMS float64, success bool, errorKind ErrorKind) {
	model := c.backend.ModelName()
	c.metrics.RecordRequestDuration(model, durationMS, success)

	tags := map[string]string{
		"model":   model,
		"success": fmt.Sprintf("%t", success),
	}
	if errorKind != "" {
		tags["error_kind"] = string(errorKind)
	}
	c.metrics.IncrementCounter("llm_requests_total", tags)
}

// roundMS converts a duration to milliseconds with 2-decimal rounding.
func roundMS(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return math.Round(ms*100) / 100
}
