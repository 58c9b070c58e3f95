package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// Registry maps logical model names to rate-limited backends. It is the
// single entry point the invoker calls; pacing happens here so every caller
// of a model shares the same buckets.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	backend Backend
	limiter *RateLimiter
}

// NewRegistry builds one backend per configured model. Unknown providers and
// missing API keys are rejected at startup rather than at call time.
func NewRegistry(models *config.ModelRegistry, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		logger:  logger.With("component", "backend_registry"),
		entries: make(map[string]*entry),
	}
	for name, mc := range models.GetAll() {
		b, err := build(mc)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
		r.Register(name, b, mc.RateLimit)
		r.logger.Info("Model backend ready",
			"model", name, "provider", mc.Provider,
			"rpm", mc.RateLimit.RequestsPerMinute, "tpm", mc.RateLimit.TokensPerMinute)
	}
	return r, nil
}

func build(mc config.ModelConfig) (Backend, error) {
	switch mc.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicFromConfig(mc)
	case config.ProviderOpenAI:
		return NewOpenAIFromConfig(mc)
	case config.ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", mc.Provider)
	}
}

// Register adds or replaces the backend serving a model. Tests use it to
// inject scripted backends behind real rate limits.
func (r *Registry) Register(model string, b Backend, rl config.RateLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[model] = &entry{backend: b, limiter: NewRateLimiter(rl)}
}

// Has reports whether a backend is registered for the model.
func (r *Registry) Has(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[model]
	return ok
}

// Invoke waits for the model's rate limiters, then performs the call.
func (r *Registry) Invoke(ctx context.Context, request *Request) (*Response, error) {
	r.mu.RLock()
	e, ok := r.entries[request.Model]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Newf(fault.Internal, "no backend registered for model %s", request.Model)
	}
	if err := e.limiter.Wait(ctx, estimateTokens(request)); err != nil {
		return nil, err
	}
	return e.backend.Invoke(ctx, request)
}
