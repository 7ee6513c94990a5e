package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

// Provider is the infrastructure-layer adapter for one upstream LLM API.
// Adapters translate the canonical request/response shapes to and from the
// upstream wire format; routing, retries, and fallback live above them.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Chat performs a blocking completion call.
	Chat(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error)

	// ChatStream performs a streaming call, sending deltas on ch as they
	// arrive and returning the assembled final response. The channel is
	// not closed by the provider; the caller owns its lifecycle.
	ChatStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error)

	// IsAvailable reports whether the provider is configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig holds what an adapter needs to talk to its upstream.
// OpenAI-compatible upstreams (DeepSeek, OpenRouter, Ollama, local
// inference servers) reuse the openai adapter with different values here.
type ProviderConfig struct {
	Name           string        `json:"name"`
	Type           string        `json:"type"` // "openai" (default) | "anthropic" | "gemini"
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	DefaultModel   string        `json:"default_model"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each adapter sub-package (llm/openai, llm/anthropic,
// llm/gemini).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for
// cfg.Type. An empty Type means "openai".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	available := make([]string, 0, len(factories))
	for k := range factories {
		available = append(available, k)
	}
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}
