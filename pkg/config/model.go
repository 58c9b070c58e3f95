package config

import (
	"fmt"
	"sync"
)

// Provider identifies which backend client serves a model.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderMock      Provider = "mock"
)

// Pricing holds per-1000-token USD rates for a model.
type Pricing struct {
	InputUSDPer1K  float64 `yaml:"input_usd_per_1k_tokens"`
	OutputUSDPer1K float64 `yaml:"output_usd_per_1k_tokens"`
}

// RateLimit caps provider traffic for a model. Zero values disable the
// corresponding limiter.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
	TokensPerMinute   int `yaml:"tokens_per_minute,omitempty"`
}

// ModelConfig describes one upstream model: how to reach it and what it
// costs. The registry key is the logical model name used by agents; ModelID
// is the provider-side identifier and defaults to the logical name.
type ModelConfig struct {
	Provider        Provider  `yaml:"provider"`
	ModelID         string    `yaml:"model_id,omitempty"`
	Pricing         Pricing   `yaml:"pricing"`
	ContextWindow   int       `yaml:"context_window,omitempty"`
	MaxOutputTokens int       `yaml:"max_output_tokens,omitempty"`
	RateLimit       RateLimit `yaml:"rate_limit,omitempty"`
	BaseURL         string    `yaml:"base_url,omitempty"`
	APIKeyEnv       string    `yaml:"api_key_env,omitempty"`
}

// ModelRegistry provides thread-safe access to model configurations keyed
// by logical model name.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]ModelConfig
}

// NewModelRegistry creates a registry from parsed configuration, filling in
// ModelID for entries that omit it.
func NewModelRegistry(models map[string]ModelConfig) *ModelRegistry {
	copied := make(map[string]ModelConfig, len(models))
	for name, model := range models {
		if model.ModelID == "" {
			model.ModelID = name
		}
		copied[name] = model
	}
	return &ModelRegistry{models: copied}
}

// Get returns the configuration for the named model.
func (r *ModelRegistry) Get(name string) (ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.models[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return model, nil
}

// GetAll returns a copy of all registered models.
func (r *ModelRegistry) GetAll() map[string]ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]ModelConfig, len(r.models))
	for name, model := range r.models {
		copied[name] = model
	}
	return copied
}

// Has reports whether a model with the given name is registered.
func (r *ModelRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.models[name]
	return ok
}

// Len returns the number of registered models.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.models)
}
