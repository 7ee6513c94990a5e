package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// Route is the outcome of model resolution: which adapter to call, the
// model name actually sent upstream, and which API surface to use.
type Route struct {
	Provider string
	Model    string
	Endpoint Endpoint
}

// Router maps canonical model strings to registered adapters and dispatches
// calls through per-provider circuit breakers with retry and stats.
type Router struct {
	mu            sync.RWMutex
	providers     map[string]Provider
	defaultModels map[string]string
	order         []string
	breakers      map[string]*CircuitBreaker
	stats         map[string]*providerStats

	defaultProvider string
	defaultModel    string
	fallbackOrder   []string

	breakerThreshold int
	breakerCooldown  time.Duration

	metrics *monitoring.Metrics // optional
	logger  *zap.Logger
}

// providerStats tracks per-provider performance counters.
type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// RouterOptions configures routing defaults and breaker thresholds.
type RouterOptions struct {
	DefaultProvider  string
	DefaultModel     string
	FallbackOrder    []string
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// NewRouter creates an empty router.
func NewRouter(opts RouterOptions, logger *zap.Logger) *Router {
	return &Router{
		providers:        make(map[string]Provider),
		defaultModels:    make(map[string]string),
		breakers:         make(map[string]*CircuitBreaker),
		stats:            make(map[string]*providerStats),
		defaultProvider:  opts.DefaultProvider,
		defaultModel:     opts.DefaultModel,
		fallbackOrder:    opts.FallbackOrder,
		breakerThreshold: opts.BreakerThreshold,
		breakerCooldown:  opts.BreakerCooldown,
		logger:           logger.With(zap.String("component", "llm-router")),
	}
}

// WithMetrics attaches the circuit-breaker state gauge.
func (r *Router) WithMetrics(m *monitoring.Metrics) *Router {
	r.metrics = m
	return r
}

// observeBreaker publishes a provider's current circuit state.
func (r *Router) observeBreaker(provider string) {
	if r.metrics == nil {
		return
	}
	if state, ok := r.BreakerState(provider); ok {
		r.metrics.ObserveBreaker(provider, state.String())
	}
}

// AddProvider registers an adapter under its name. defaultModel is used
// when a request names the provider itself instead of a model.
func (r *Router) AddProvider(p Provider, defaultModel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	r.providers[name] = p
	r.defaultModels[name] = defaultModel
	r.order = append(r.order, name)
	r.breakers[name] = NewCircuitBreaker(r.breakerThreshold, r.breakerCooldown)
	r.stats[name] = &providerStats{}

	r.logger.Info("provider registered",
		zap.String("provider", name),
		zap.String("default_model", defaultModel),
	)
}

// Has reports whether a provider is registered.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Resolve maps a model string to exactly one adapter. Resolution is pure
// and deterministic; first match wins:
//
//  1. bare provider alias → that provider's default model
//  2. explicit prefix (openrouter/…, ollama/…, deepseek-api/…)
//  3. exact catalog match (after alias expansion)
//  4. name-family heuristic (claude*, gpt*/o1*/o3*, gemini*, deepseek*)
//  5. the configured default provider
//
// Unknown models never fail by themselves; only a missing default does.
func (r *Router) Resolve(model string) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, ok := providerAliases[model]; ok {
		if route, ok := r.routeTo(provider, r.defaultModels[provider]); ok {
			return route, nil
		}
	}

	for prefix, provider := range map[string]string{
		"openrouter/":   ProviderOpenRouter,
		"ollama/":       ProviderOllama,
		"deepseek-api/": ProviderDeepSeek,
	} {
		if strings.HasPrefix(model, prefix) {
			name := strings.TrimPrefix(model, prefix)
			if provider == ProviderOpenRouter {
				// OpenRouter expects the vendor-qualified name as-is.
				name = model[len("openrouter/"):]
			}
			if route, ok := r.routeTo(provider, name); ok {
				return route, nil
			}
		}
	}

	resolved := ResolveAlias(model)
	if provider, ok := CatalogProvider(resolved); ok {
		if route, ok := r.routeTo(provider, resolved); ok {
			return route, nil
		}
	}

	if provider := heuristicProvider(resolved); provider != "" {
		if route, ok := r.routeTo(provider, resolved); ok {
			return route, nil
		}
	}

	if r.defaultProvider != "" {
		m := resolved
		if m == "" {
			m = r.defaultModel
		}
		if route, ok := r.routeTo(r.defaultProvider, m); ok {
			return route, nil
		}
	}

	return Route{}, apperrors.NewNotFoundError("no provider available for model " + model)
}

// routeTo builds a Route when the provider is registered. Must be called
// with the read lock held.
func (r *Router) routeTo(provider, model string) (Route, bool) {
	if _, ok := r.providers[provider]; !ok {
		return Route{}, false
	}
	route := Route{Provider: provider, Model: model, Endpoint: EndpointChatCompletions}
	if provider == ProviderOpenAI {
		route.Endpoint = EndpointFor(model)
	}
	return route, true
}

func heuristicProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini"):
		return ProviderGoogle
	case strings.HasPrefix(model, "deepseek"):
		return ProviderDeepSeek
	}
	return ""
}

// ResolveRoute is the flat form of Resolve used by the orchestrator,
// which does not care about the endpoint variant.
func (r *Router) ResolveRoute(model string) (provider, resolvedModel string, err error) {
	route, err := r.Resolve(model)
	if err != nil {
		return "", "", err
	}
	return route.Provider, route.Model, nil
}

// FallbackChain returns the providers to try for a request, primary first,
// then the configured fallback order with duplicates and unregistered
// providers removed.
func (r *Router) FallbackChain(primary string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := []string{primary}
	for _, name := range r.fallbackOrder {
		if name == primary {
			continue
		}
		if _, ok := r.providers[name]; ok {
			chain = append(chain, name)
		}
	}
	return chain
}

// DefaultModel returns the configured default model for a provider.
func (r *Router) DefaultModel(provider string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModels[provider]
}

// Invoke dispatches a blocking call to the named provider through its
// circuit breaker, with retry for retryable failures.
func (r *Router) Invoke(ctx context.Context, provider string, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	p, cb, ok := r.lookup(provider)
	if !ok {
		return nil, apperrors.NewNotFoundError("provider " + provider + " not configured")
	}
	allowed := cb.Allow()
	r.observeBreaker(provider) // Allow may have moved open -> half_open
	if !allowed {
		return nil, apperrors.NewCircuitOpenError(provider)
	}

	start := time.Now()
	resp, err := callWithRetry(ctx, r.logger, provider, func() (*entity.ChatResponse, error) {
		return p.Chat(ctx, req)
	})
	r.record(provider, cb, time.Since(start), err)
	return resp, err
}

// InvokeStream dispatches a streaming call. Streams are not retried:
// partial output may already have reached the client.
func (r *Router) InvokeStream(ctx context.Context, provider string, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	p, cb, ok := r.lookup(provider)
	if !ok {
		return nil, apperrors.NewNotFoundError("provider " + provider + " not configured")
	}
	allowed := cb.Allow()
	r.observeBreaker(provider)
	if !allowed {
		return nil, apperrors.NewCircuitOpenError(provider)
	}

	start := time.Now()
	resp, err := p.ChatStream(ctx, req, ch)
	r.record(provider, cb, time.Since(start), err)
	return resp, err
}

func (r *Router) lookup(provider string) (Provider, *CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[provider]
	if !ok {
		return nil, nil, false
	}
	return p, r.breakers[provider], true
}

func (r *Router) record(provider string, cb *CircuitBreaker, latency time.Duration, err error) {
	r.mu.Lock()
	if s, ok := r.stats[provider]; ok {
		s.TotalCalls++
		s.LastLatency = latency
		if err != nil {
			s.FailureCount++
		}
	}
	r.mu.Unlock()

	if err != nil {
		cb.RecordFailure()
		r.observeBreaker(provider)
		r.logger.Warn("provider call failed",
			zap.String("provider", provider),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return
	}
	cb.RecordSuccess()
	r.observeBreaker(provider)
}

// BreakerState exposes a provider's circuit state for health reporting.
func (r *Router) BreakerState(provider string) (CircuitState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[provider]
	if !ok {
		return CircuitClosed, false
	}
	return cb.State(), true
}

// ProviderStatus describes a provider's state and performance counters.
type ProviderStatus struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	DefaultModel  string   `json:"default_model"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}

// ListProviders returns status for every registered provider in
// registration order.
func (r *Router) ListProviders(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProviderStatus, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]
		ps := ProviderStatus{
			Name:         name,
			Models:       KnownModels(name),
			DefaultModel: r.defaultModels[name],
			Available:    p.IsAvailable(ctx),
		}
		if s, ok := r.stats[name]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := r.breakers[name]; ok {
			ps.CircuitState = cb.State().String()
		}
		result = append(result, ps)
	}
	return result
}
