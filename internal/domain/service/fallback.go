package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// ProviderRouter is what the orchestration layer needs from the routing
// infrastructure: pure model resolution plus breaker-guarded dispatch.
type ProviderRouter interface {
	ResolveRoute(model string) (provider, resolvedModel string, err error)
	FallbackChain(primary string) []string
	Invoke(ctx context.Context, provider string, req *entity.ChatRequest) (*entity.ChatResponse, error)
	InvokeStream(ctx context.Context, provider string, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error)
}

// FallbackChain walks the provider chain for one completion. Circuit-open,
// upstream, and timeout failures move to the next provider; auth and
// invalid-request failures would fail identically everywhere, so they
// propagate immediately.
type FallbackChain struct {
	router ProviderRouter
	logger *zap.Logger
}

// NewFallbackChain creates a chain executor over router.
func NewFallbackChain(router ProviderRouter, logger *zap.Logger) *FallbackChain {
	return &FallbackChain{
		router: router,
		logger: logger.With(zap.String("component", "fallback-chain")),
	}
}

// Invoke tries the primary provider, then each fallback in order.
// Returns the response and the provider that served it.
func (f *FallbackChain) Invoke(ctx context.Context, primary string, req *entity.ChatRequest) (*entity.ChatResponse, string, error) {
	return f.run(primary, func(provider string) (*entity.ChatResponse, error) {
		return f.router.Invoke(ctx, provider, req)
	})
}

// InvokeStream is the streaming variant. Fallback only happens when a
// provider fails before emitting anything; ch receives deltas only from
// the provider that ultimately serves the request.
func (f *FallbackChain) InvokeStream(ctx context.Context, primary string, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, string, error) {
	return f.run(primary, func(provider string) (*entity.ChatResponse, error) {
		return f.router.InvokeStream(ctx, provider, req, ch)
	})
}

func (f *FallbackChain) run(primary string, call func(provider string) (*entity.ChatResponse, error)) (*entity.ChatResponse, string, error) {
	chain := f.router.FallbackChain(primary)

	var causes []string
	for i, provider := range chain {
		resp, err := call(provider)
		if err == nil {
			if i > 0 {
				f.logger.Info("request served by fallback provider",
					zap.String("primary", primary),
					zap.String("provider", provider),
				)
			}
			return resp, provider, nil
		}

		appErr := apperrors.AsAppError(err)
		causes = append(causes, fmt.Sprintf("%s: %v", provider, err))

		if !appErr.TriggersFallback() {
			return nil, provider, err
		}

		f.logger.Warn("provider failed, falling back",
			zap.String("provider", provider),
			zap.String("reason", string(appErr.Code)),
			zap.Int("remaining", len(chain)-i-1),
		)
	}

	return nil, "", apperrors.New(apperrors.CodeUpstream,
		"all providers failed: "+strings.Join(causes, "; "))
}
