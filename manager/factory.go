package manager

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"payclassd/config"
	"payclassd/llm"
	anthropicllm "payclassd/llm/anthropic"
	geminillm "payclassd/llm/gemini"
	ollamallm "payclassd/llm/ollama"
	openaillm "payclassd/llm/openai"
	"payclassd/search"
)

// Factory builds provider clients from configuration. Construction errors
// (unknown provider, missing credentials) are fatal client errors; they are
// never retried.
type Factory struct {
	cfg     *config.ServerConfig
	prompts llm.PromptProvider
	logger  zerolog.Logger
	metrics llm.Metrics
}

// NewFactory creates a Factory. metrics may be nil.
func NewFactory(cfg *config.ServerConfig, prompts llm.PromptProvider, logger zerolog.Logger, metrics llm.Metrics) *Factory {
	return &Factory{
		cfg:     cfg,
		prompts: prompts,
		logger:  logger,
		metrics: metrics,
	}
}

// CreateClient builds and sets up a provider client. modelOverride, when
// non-empty, replaces the configured model name in a per-client copy of the
// provider config.
func (f *Factory) CreateClient(ctx context.Context, provider llm.Provider, modelOverride string) (*llm.Client, error) {
	backend, shared, err := f.buildBackend(provider, modelOverride)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(backend, shared, f.logger, f.metrics)
	if err := client.Setup(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (f *Factory) buildBackend(provider llm.Provider, modelOverride string) (llm.Backend, llm.Config, error) {
	switch provider {
	case llm.ProviderOllama:
		cfg := f.cfg.OllamaClientConfig()
		if modelOverride != "" {
			cfg.Model = modelOverride
		}
		var searchSvc *search.Service
		if searchCfg := f.cfg.SearchServiceConfig(); searchCfg != nil {
			svc, err := search.NewService(*searchCfg, f.logger)
			if err != nil {
				return nil, llm.Config{}, llm.NewClientError("invalid search configuration", "", cfg.Model, err)
			}
			searchSvc = svc
		}
		backend, err := ollamallm.New(cfg, f.prompts, f.logger, searchSvc)
		return backend, cfg.Config, err

	case llm.ProviderGemini:
		cfg := f.cfg.GeminiClientConfig()
		if modelOverride != "" {
			cfg.Model = modelOverride
		}
		backend, err := geminillm.New(cfg, f.prompts, f.logger)
		return backend, cfg.Config, err

	case llm.ProviderOpenAI:
		cfg := f.cfg.OpenAIClientConfig()
		if modelOverride != "" {
			cfg.Model = modelOverride
		}
		backend, err := openaillm.New(cfg, f.prompts, f.logger)
		return backend, cfg.Config, err

	case llm.ProviderAnthropic:
		cfg := f.cfg.AnthropicClientConfig()
		if modelOverride != "" {
			cfg.Model = modelOverride
		}
		backend, err := anthropicllm.New(cfg, f.prompts, f.logger)
		return backend, cfg.Config, err

	default:
		return nil, llm.Config{}, llm.NewClientError(
			fmt.Sprintf("unknown provider type %q", provider), "", modelOverride, nil,
		)
	}
}
