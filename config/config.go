// Package config loads the payclassd server configuration from YAML with
// defaults merged in and secrets overridable from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"payclassd/llm"
	"payclassd/llm/anthropic"
	"payclassd/llm/gemini"
	"payclassd/llm/ollama"
	"payclassd/llm/openai"
	"payclassd/search"
)

// ClientSettings mirrors the shared per-provider limits in YAML.
type ClientSettings struct {
	TimeoutSeconds        int  `yaml:"timeout_seconds,omitempty"`
	MaxRetries            int  `yaml:"max_retries,omitempty"`
	MaxConcurrentRequests int  `yaml:"max_concurrent_requests,omitempty"`
	MaxCategories         int  `yaml:"max_categories,omitempty"`
	MaxPaymentTextLength  int  `yaml:"max_payment_text_length,omitempty"`
	LogRequests           bool `yaml:"log_requests,omitempty"`
	LogResponses          bool `yaml:"log_responses,omitempty"`
}

// OllamaConfig configures the self-hosted inference provider.
type OllamaConfig struct {
	ClientSettings `yaml:",inline"`
	BaseURL        string  `yaml:"base_url,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
}

// GeminiConfig configures the Gemini cloud provider.
type GeminiConfig struct {
	ClientSettings  `yaml:",inline"`
	APIKey          string  `yaml:"api_key,omitempty"`
	Model           string  `yaml:"model,omitempty"`
	Temperature     float64 `yaml:"temperature,omitempty"`
	MaxOutputTokens int     `yaml:"max_output_tokens,omitempty"`
}

// OpenAIConfig configures the hosted-API provider.
type OpenAIConfig struct {
	ClientSettings `yaml:",inline"`
	APIKey         string  `yaml:"api_key,omitempty"`
	BaseURL        string  `yaml:"base_url,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
	MaxTokens      int     `yaml:"max_tokens,omitempty"`
}

// AnthropicConfig configures the Anthropic cloud provider.
type AnthropicConfig struct {
	ClientSettings `yaml:",inline"`
	APIKey         string  `yaml:"api_key,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
	MaxTokens      int     `yaml:"max_tokens,omitempty"`
}

// GoogleSearchConfig configures the auxiliary search collaborator.
type GoogleSearchConfig struct {
	APIKey         string `yaml:"api_key,omitempty"`
	EngineID       string `yaml:"engine_id,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int    `yaml:"max_retries,omitempty"`
	MaxResults     int    `yaml:"max_results,omitempty"`
}

// StoreConfig configures the classification history store.
type StoreConfig struct {
	DBPath        string `yaml:"db_path,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
	PruneSchedule string `yaml:"prune_schedule,omitempty"`
}

// ServerConfig is the full payclassd configuration.
type ServerConfig struct {
	Server struct {
		Listen string `yaml:"listen,omitempty"`
	} `yaml:"server,omitempty"`
	PromptsDir string `yaml:"prompts_dir,omitempty"`

	Ollama       OllamaConfig       `yaml:"ollama,omitempty"`
	Gemini       GeminiConfig       `yaml:"gemini,omitempty"`
	OpenAI       OpenAIConfig       `yaml:"openai,omitempty"`
	Anthropic    AnthropicConfig    `yaml:"anthropic,omitempty"`
	GoogleSearch GoogleSearchConfig `yaml:"google_search,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
}

// secrets are environment overrides applied after the file is parsed, so
// credentials never have to live in the config file.
type secrets struct {
	OllamaHost         string `env:"OLLAMA_HOST"`
	OllamaModel        string `env:"OLLAMA_MODEL"`
	GeminiAPIKey       string `env:"GEMINI_API_KEY"`
	GoogleAPIKey       string `env:"GOOGLE_API_KEY"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY"`
	SearchAPIKey       string `env:"GOOGLE_SEARCH_API_KEY"`
	SearchEngineID     string `env:"GOOGLE_SEARCH_ENGINE_ID"`
	ListenAddrOverride string `env:"PAYCLASSD_LISTEN"`
}

// Default returns the baseline configuration.
func Default() ServerConfig {
	shared := ClientSettings{
		TimeoutSeconds:        30,
		MaxRetries:            3,
		MaxConcurrentRequests: 10,
		MaxCategories:         50,
		MaxPaymentTextLength:  10000,
		LogRequests:           true,
	}

	var cfg ServerConfig
	cfg.Server.Listen = "localhost:8080"
	cfg.PromptsDir = "prompts"
	cfg.Ollama = OllamaConfig{
		ClientSettings: shared,
		BaseURL:        "http://localhost:11434",
		Model:          "qwen2.5:1.5b",
	}
	cfg.Gemini = GeminiConfig{
		ClientSettings:  shared,
		Model:           "gemini-2.5-flash",
		MaxOutputTokens: 1024,
	}
	cfg.OpenAI = OpenAIConfig{
		ClientSettings: shared,
		Model:          "gpt-4o-mini",
		MaxTokens:      1024,
	}
	cfg.Anthropic = AnthropicConfig{
		ClientSettings: shared,
		Model:          "claude-haiku-4-5",
		MaxTokens:      1024,
	}
	cfg.GoogleSearch = GoogleSearchConfig{
		TimeoutSeconds: 10,
		MaxRetries:     3,
		MaxResults:     3,
	}
	cfg.Store = StoreConfig{
		DBPath:        "payclassd.db",
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
	}
	return cfg
}

// DefaultPath returns the config file path, honoring PAYCLASSD_CONFIG_PATH.
func DefaultPath() string {
	if envPath := os.Getenv("PAYCLASSD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.payclassd/config.yaml"
	}
	return filepath.Join(homeDir, ".payclassd", "config.yaml")
}

// Load reads the YAML config at path, merges defaults for anything unset,
// and applies environment overrides. A missing file yields the defaults.
func Load(path string) (*ServerConfig, error) {
	cfg := ServerConfig{}

	data, err := os.ReadFile(expandPath(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment are enough to run against localhost.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	defaults := Default()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("failed to merge config defaults: %w", err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *ServerConfig) {
	var sec secrets
	if err := env.Parse(&sec); err != nil {
		return
	}
	if sec.OllamaHost != "" {
		cfg.Ollama.BaseURL = sec.OllamaHost
	}
	if sec.OllamaModel != "" {
		cfg.Ollama.Model = sec.OllamaModel
	}
	if cfg.Gemini.APIKey == "" {
		if sec.GeminiAPIKey != "" {
			cfg.Gemini.APIKey = sec.GeminiAPIKey
		} else if sec.GoogleAPIKey != "" {
			cfg.Gemini.APIKey = sec.GoogleAPIKey
		}
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = sec.OpenAIAPIKey
	}
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = sec.AnthropicAPIKey
	}
	if cfg.GoogleSearch.APIKey == "" {
		cfg.GoogleSearch.APIKey = sec.SearchAPIKey
	}
	if cfg.GoogleSearch.EngineID == "" {
		cfg.GoogleSearch.EngineID = sec.SearchEngineID
	}
	if sec.ListenAddrOverride != "" {
		cfg.Server.Listen = sec.ListenAddrOverride
	}
}

func (s ClientSettings) toShared() llm.Config {
	return llm.Config{
		Timeout:               time.Duration(s.TimeoutSeconds) * time.Second,
		MaxRetries:            s.MaxRetries,
		MaxConcurrentRequests: int64(s.MaxConcurrentRequests),
		MaxCategories:         s.MaxCategories,
		MaxPaymentTextLength:  s.MaxPaymentTextLength,
		LogRequests:           s.LogRequests,
		LogResponses:          s.LogResponses,
	}
}

// OllamaClientConfig converts the YAML block into the provider's config.
func (c *ServerConfig) OllamaClientConfig() ollama.Config {
	return ollama.Config{
		Config:      c.Ollama.toShared(),
		BaseURL:     c.Ollama.BaseURL,
		Model:       c.Ollama.Model,
		Temperature: c.Ollama.Temperature,
	}
}

// GeminiClientConfig converts the YAML block into the provider's config.
func (c *ServerConfig) GeminiClientConfig() gemini.Config {
	return gemini.Config{
		Config:          c.Gemini.toShared(),
		APIKey:          c.Gemini.APIKey,
		Model:           c.Gemini.Model,
		Temperature:     c.Gemini.Temperature,
		MaxOutputTokens: int32(c.Gemini.MaxOutputTokens),
	}
}

// OpenAIClientConfig converts the YAML block into the provider's config.
func (c *ServerConfig) OpenAIClientConfig() openai.Config {
	return openai.Config{
		Config:      c.OpenAI.toShared(),
		APIKey:      c.OpenAI.APIKey,
		BaseURL:     c.OpenAI.BaseURL,
		Model:       c.OpenAI.Model,
		Temperature: c.OpenAI.Temperature,
		MaxTokens:   c.OpenAI.MaxTokens,
	}
}

// AnthropicClientConfig converts the YAML block into the provider's config.
func (c *ServerConfig) AnthropicClientConfig() anthropic.Config {
	return anthropic.Config{
		Config:      c.Anthropic.toShared(),
		APIKey:      c.Anthropic.APIKey,
		Model:       c.Anthropic.Model,
		Temperature: c.Anthropic.Temperature,
		MaxTokens:   int64(c.Anthropic.MaxTokens),
	}
}

// SearchServiceConfig converts the YAML block into the search config, or
// nil when search credentials are not configured.
func (c *ServerConfig) SearchServiceConfig() *search.Config {
	if c.GoogleSearch.APIKey == "" || c.GoogleSearch.EngineID == "" {
		return nil
	}
	return &search.Config{
		APIKey:     c.GoogleSearch.APIKey,
		EngineID:   c.GoogleSearch.EngineID,
		Timeout:    time.Duration(c.GoogleSearch.TimeoutSeconds) * time.Second,
		MaxRetries: c.GoogleSearch.MaxRetries,
		MaxResults: c.GoogleSearch.MaxResults,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
