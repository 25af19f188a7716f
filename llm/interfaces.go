package llm

import "context"

// Backend is the provider-specific half of a classification client.
// Implementations perform the raw request (including any provider-local
// retry policy) and parse the raw response; the shared Client supplies
// everything else.
type Backend interface {
	// ModelName returns the model identifier this backend targets.
	ModelName() string

	// Generate performs the provider-specific classification request and
	// returns the provider's raw response. Implementations retry internally
	// according to their own policy; errors must be mapped to *Error kinds.
	Generate(ctx context.Context, in Input) (any, error)

	// Parse converts the raw response from Generate into a Result.
	// Transport-level decoding failures and schema violations return a
	// parse error, which is never retried.
	Parse(raw any, correlationID string) (*Result, error)

	// Setup acquires long-lived resources such as network sessions.
	// It is invoked by the factory before the client is handed out.
	Setup(ctx context.Context) error

	// Close releases resources acquired by Setup.
	Close() error
}

// PromptProvider supplies named prompt templates.
type PromptProvider interface {
	// Get returns the raw template for key.
	Get(key string) (string, error)

	// Format substitutes vars into the template for key. Unresolved
	// placeholders are an error.
	Format(key string, vars map[string]string) (string, error)
}

// Metrics records request durations and counters. A no-op implementation
// is used when no collector is injected, keeping tests ergonomic.
type Metrics interface {
	RecordRequestDuration(model string, durationMS float64, success bool)
	IncrementCounter(name string, tags map[string]string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordRequestDuration(string, float64, bool) {}

func (NopMetrics) IncrementCounter(string, map[string]string) {}

var _ Metrics = NopMetrics{}
