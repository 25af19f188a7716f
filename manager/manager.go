// Package manager owns the per-provider client cache and exposes the single
// classification entry point used by the transport layer.
package manager

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"payclassd/llm"
)

// Request is one classification request as received from the caller.
type Request struct {
	Provider      string
	Model         string
	PaymentText   string
	Categories    []string
	UseSearch     bool
	CorrelationID string
}

// clientFactory abstracts Factory for tests.
type clientFactory interface {
	CreateClient(ctx context.Context, provider llm.Provider, modelOverride string) (*llm.Client, error)
}

type clientKey struct {
	provider llm.Provider
	model    string
}

// Manager caches provider clients by (provider, model) and serializes their
// creation. It is the single ownership point for every client; CloseAll
// releases them exactly once at process shutdown.
type Manager struct {
	factory clientFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[clientKey]*llm.Client
	closed  bool
}

// NewManager creates a Manager around the given factory.
func NewManager(factory clientFactory, logger zerolog.Logger) *Manager {
	return &Manager{
		factory: factory,
		logger:  logger.With().Str("component", "clientManager").Logger(),
		clients: make(map[clientKey]*llm.Client),
	}
}

// errClosed returns the defined post-shutdown failure. Classify and
// GetClient fail deterministically with it instead of racing a teardown.
func errClosed() *llm.Error {
	return llm.NewClientError("client manager is closed", "", "", nil)
}

// GetClient returns the cached client for the provider+model key, creating
// it under the lock on first use so concurrent requests for the same
// uncached key cannot construct duplicates.
func (m *Manager) GetClient(ctx context.Context, provider llm.Provider, model string) (*llm.Client, error) {
	key := clientKey{provider: provider, model: model}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed()
	}
	if client, ok := m.clients[key]; ok {
		return client, nil
	}

	m.logger.Info().
		Str("provider", string(provider)).
		Str("model", model).
		Msg("Creating LLM client")

	client, err := m.factory.CreateClient(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	m.clients[key] = client
	return client, nil
}

// Classify resolves the provider client for the request and delegates to
// it. Category normalization and the provider/search compatibility check
// happen here, before any client is touched.
func (m *Manager) Classify(ctx context.Context, req Request) (*llm.Result, error) {
	provider, err := llm.ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	if req.UseSearch && !provider.SupportsSearch() {
		return nil, llm.NewValidationError("search is not supported for provider " + string(provider))
	}

	categories := llm.NormalizeCategories(req.Categories)
	if len(categories) == 0 {
		return nil, llm.NewValidationError("at least one valid category must be provided")
	}

	client, err := m.GetClient(ctx, provider, req.Model)
	if err != nil {
		return nil, err
	}

	return client.Classify(ctx, llm.Input{
		PaymentText:   req.PaymentText,
		Categories:    categories,
		CorrelationID: req.CorrelationID,
		UseSearch:     req.UseSearch,
	})
}

// CloseAll closes every cached client and empties the cache. Further
// Classify or GetClient calls fail with the manager-closed error.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for key, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error().
				Str("provider", string(key.provider)).
				Str("model", key.model).
				Err(err).
				Msg("Failed to close LLM client")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.clients = make(map[clientKey]*llm.Client)

	m.logger.Info().Msg("All LLM clients closed")
	return firstErr
}
