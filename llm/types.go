package llm

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies a distinct LLM backend integration.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Providers lists every known provider.
func Providers() []Provider {
	return []Provider{ProviderOllama, ProviderGemini, ProviderOpenAI, ProviderAnthropic}
}

// ParseProvider converts a wire string into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderGemini, ProviderOpenAI, ProviderAnthropic:
		return p, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown provider %q", s))
	}
}

// SupportsSearch reports whether the provider can enrich prompts with web
// search results. Only the self-hosted Ollama backend carries a search
// collaborator; cloud providers reject the search flag.
func (p Provider) SupportsSearch() bool {
	return p == ProviderOllama
}

// Config holds the settings shared by every provider client.
type Config struct {
	Timeout               time.Duration
	MaxRetries            int
	MaxConcurrentRequests int64
	MaxCategories         int
	MaxPaymentTextLength  int
	LogRequests           bool
	LogResponses          bool
}

// DefaultConfig returns the baseline shared settings.
func DefaultConfig() Config {
	return Config{
		Timeout:               30 * time.Second,
		MaxRetries:            3,
		MaxConcurrentRequests: 10,
		MaxCategories:         50,
		MaxPaymentTextLength:  10000,
		LogRequests:           true,
		LogResponses:          false,
	}
}

// Input is a single classification request as seen by a provider client.
// Categories are expected to be normalized (see NormalizeCategories) by the
// time they reach this layer.
type Input struct {
	PaymentText   string
	Categories    []string
	CorrelationID string
	UseSearch     bool
}

// Result is the outcome of one classification call. It is mutated only by
// the owning Client while the call is in flight and must be treated as
// immutable once returned.
type Result struct {
	Category         string
	Reasoning        string
	Confidence       *float64
	Metadata         map[string]any
	CorrelationID    string
	Model            string
	ProcessingTimeMS float64
}

// SearchUsed reports whether search enrichment contributed to this result.
func (r *Result) SearchUsed() bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	used, _ := r.Metadata["search_used"].(bool)
	return used
}

// NormalizeCategories trims whitespace and removes blank entries and
// case-insensitive duplicates while preserving the caller's order.
func NormalizeCategories(categories []string) []string {
	seen := make(map[string]struct{}, len(categories))
	cleaned := make([]string, 0, len(categories))
	for _, cat := range categories {
		c := strings.TrimSpace(cat)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, c)
	}
	return cleaned
}
