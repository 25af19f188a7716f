// Package llm provides a provider-neutral contract for classifying payment
// descriptions with large-language-model backends.
//
// Each backend (Ollama, Gemini, OpenAI, Anthropic) implements the Backend
// interface with its transport-specific request and parse steps. The shared
// Client wraps a Backend with validation, admission control, correlation-id
// propagation, structured logging, metrics, and uniform error translation,
// so callers always observe the same behavior regardless of provider.
package llm
