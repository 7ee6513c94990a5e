package service

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

func TestFallbackChainAggregatedError(t *testing.T) {
	router := &scriptedRouter{
		chain: []string{"openai", "anthropic"},
		responses: map[string][]routerResult{
			"openai":    {{err: apperrors.New(apperrors.CodeTimeout, "deadline exceeded")}},
			"anthropic": {{err: apperrors.NewCircuitOpenError("anthropic")}},
		},
	}
	chain := NewFallbackChain(router, zap.NewNop())

	_, _, err := chain.Invoke(context.Background(), "openai", &entity.ChatRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected aggregated error when every provider fails")
	}
	if !apperrors.Is(err, apperrors.CodeUpstream) {
		t.Errorf("expected UPSTREAM_ERROR wrapper, got %v", err)
	}
	for _, provider := range []string{"openai", "anthropic"} {
		if !strings.Contains(err.Error(), provider) {
			t.Errorf("aggregated error should name %s: %v", provider, err)
		}
	}
}

func TestFallbackChainCircuitOpenMovesOn(t *testing.T) {
	router := &scriptedRouter{
		chain: []string{"openai", "local"},
		responses: map[string][]routerResult{
			"openai": {{err: apperrors.NewCircuitOpenError("openai")}},
			"local":  {{resp: textResponse("llama3", "served locally", entity.FinishStop)}},
		},
	}
	chain := NewFallbackChain(router, zap.NewNop())

	resp, served, err := chain.Invoke(context.Background(), "openai", &entity.ChatRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if served != "local" {
		t.Errorf("served = %s, want local", served)
	}
	if resp.FirstMessage().Content != "served locally" {
		t.Errorf("content = %q", resp.FirstMessage().Content)
	}
}
