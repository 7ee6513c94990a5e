package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// fakeProvider is a scriptable adapter for router tests.
type fakeProvider struct {
	name      string
	err       error
	available bool
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(_ context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	msg := entity.Message{Role: entity.RoleAssistant, Content: "ok"}
	return entity.NewChatResponse("resp-1", req.Model, msg, entity.FinishStop, entity.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}), nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) IsAvailable(context.Context) bool { return f.available }

func newTestRouter(names ...string) *Router {
	r := NewRouter(RouterOptions{
		DefaultProvider:  ProviderLocal,
		DefaultModel:     "llama3",
		FallbackOrder:    names,
		BreakerThreshold: 2,
		BreakerCooldown:  30 * time.Second,
	}, zap.NewNop())
	for _, name := range names {
		r.AddProvider(&fakeProvider{name: name, available: true}, name+"-default")
	}
	return r
}

func TestResolveProviderAlias(t *testing.T) {
	r := newTestRouter(ProviderOpenAI, ProviderAnthropic, ProviderLocal)

	route, err := r.Resolve("claude")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if route.Provider != ProviderAnthropic {
		t.Errorf("provider = %s, want anthropic", route.Provider)
	}
	if route.Model != "anthropic-default" {
		t.Errorf("model = %s, want provider default", route.Model)
	}
}

func TestResolvePrefixes(t *testing.T) {
	r := newTestRouter(ProviderOpenRouter, ProviderOllama, ProviderDeepSeek, ProviderLocal)

	cases := []struct {
		model    string
		provider string
		resolved string
	}{
		{"openrouter/meta-llama/llama-3-70b", ProviderOpenRouter, "meta-llama/llama-3-70b"},
		{"ollama/qwen2.5", ProviderOllama, "qwen2.5"},
		{"deepseek-api/deepseek-chat", ProviderDeepSeek, "deepseek-chat"},
	}
	for _, tc := range cases {
		route, err := r.Resolve(tc.model)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.model, err)
		}
		if route.Provider != tc.provider || route.Model != tc.resolved {
			t.Errorf("resolve %s = %s/%s, want %s/%s", tc.model, route.Provider, route.Model, tc.provider, tc.resolved)
		}
	}
}

func TestResolveExactAndAlias(t *testing.T) {
	r := newTestRouter(ProviderOpenAI, ProviderAnthropic, ProviderLocal)

	route, err := r.Resolve("claude-opus-4.5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if route.Provider != ProviderAnthropic {
		t.Errorf("provider = %s, want anthropic", route.Provider)
	}
	if route.Model != "claude-opus-4-5-20251101" {
		t.Errorf("alias not expanded: %s", route.Model)
	}
}

func TestResolveHeuristic(t *testing.T) {
	r := newTestRouter(ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderDeepSeek, ProviderLocal)

	cases := map[string]string{
		"claude-99-experimental": ProviderAnthropic,
		"gpt-7-nano":             ProviderOpenAI,
		"o1-supermini":           ProviderOpenAI,
		"gemini-ultra":           ProviderGoogle,
		"deepseek-v4":            ProviderDeepSeek,
	}
	for model, want := range cases {
		route, err := r.Resolve(model)
		if err != nil {
			t.Fatalf("resolve %s: %v", model, err)
		}
		if route.Provider != want {
			t.Errorf("resolve %s = %s, want %s", model, route.Provider, want)
		}
	}
}

func TestResolveUnknownFallsToDefault(t *testing.T) {
	r := newTestRouter(ProviderOpenAI, ProviderLocal)

	route, err := r.Resolve("mystery-model-v1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if route.Provider != ProviderLocal {
		t.Errorf("provider = %s, want local default", route.Provider)
	}
	if route.Model != "mystery-model-v1" {
		t.Errorf("model should pass through unchanged, got %s", route.Model)
	}
}

func TestResolveNoDefaultFails(t *testing.T) {
	r := NewRouter(RouterOptions{BreakerThreshold: 2, BreakerCooldown: time.Second}, zap.NewNop())
	r.AddProvider(&fakeProvider{name: ProviderOpenAI, available: true}, "gpt-4o")

	_, err := r.Resolve("mystery-model-v1")
	if err == nil {
		t.Fatal("expected error without a default provider")
	}
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestResolveResponsesEndpoint(t *testing.T) {
	r := newTestRouter(ProviderOpenAI, ProviderLocal)

	for _, model := range []string{"gpt-5.2-pro", "o3", "o1-mini"} {
		route, err := r.Resolve(model)
		if err != nil {
			t.Fatalf("resolve %s: %v", model, err)
		}
		if route.Endpoint != EndpointResponses {
			t.Errorf("%s endpoint = %s, want responses", model, route.Endpoint)
		}
	}

	route, err := r.Resolve("gpt-4o")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if route.Endpoint != EndpointChatCompletions {
		t.Errorf("gpt-4o endpoint = %s, want chat_completions", route.Endpoint)
	}
}

func TestInvokeTripsBreaker(t *testing.T) {
	r := newTestRouter(ProviderOpenAI)
	upstream := apperrors.New(apperrors.CodeInvalidReq, "bad request")

	r.mu.Lock()
	r.providers[ProviderOpenAI] = &fakeProvider{name: ProviderOpenAI, err: upstream, available: true}
	r.mu.Unlock()

	req := &entity.ChatRequest{Model: "gpt-4o"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := r.Invoke(ctx, ProviderOpenAI, req); err == nil {
			t.Fatal("expected provider error")
		}
	}

	_, err := r.Invoke(ctx, ProviderOpenAI, req)
	if !apperrors.Is(err, apperrors.CodeCircuitOpen) {
		t.Fatalf("expected CIRCUIT_OPEN after threshold, got %v", err)
	}
}

func TestInvokePublishesBreakerGauge(t *testing.T) {
	r := newTestRouter(ProviderOpenAI)
	m := monitoring.New(prometheus.NewRegistry())
	r.WithMetrics(m)

	r.mu.Lock()
	r.providers[ProviderOpenAI] = &fakeProvider{
		name:      ProviderOpenAI,
		err:       apperrors.New(apperrors.CodeInvalidReq, "bad request"),
		available: true,
	}
	r.mu.Unlock()

	req := &entity.ChatRequest{Model: "gpt-4o"}
	ctx := context.Background()

	if _, err := r.Invoke(ctx, ProviderOpenAI, req); err == nil {
		t.Fatal("expected provider error")
	}
	gauge := m.BreakerState.WithLabelValues(ProviderOpenAI)
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Fatalf("gauge after 1 failure = %v, want 0 (closed)", got)
	}

	// Second failure crosses the threshold and opens the circuit.
	if _, err := r.Invoke(ctx, ProviderOpenAI, req); err == nil {
		t.Fatal("expected provider error")
	}
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Fatalf("gauge after breaker opened = %v, want 2 (open)", got)
	}
}

func TestInvokeUnknownProvider(t *testing.T) {
	r := newTestRouter(ProviderOpenAI)

	_, err := r.Invoke(context.Background(), "nope", &entity.ChatRequest{Model: "x"})
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestFallbackChain(t *testing.T) {
	r := newTestRouter(ProviderOpenAI, ProviderAnthropic, ProviderLocal)

	chain := r.FallbackChain(ProviderAnthropic)
	want := []string{ProviderAnthropic, ProviderOpenAI, ProviderLocal}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain = %v, want %v", chain, want)
		}
	}
}

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		status int
		code   apperrors.ErrorCode
	}{
		{401, apperrors.CodeAuth},
		{403, apperrors.CodeAuth},
		{429, apperrors.CodeRateLimited},
		{400, apperrors.CodeInvalidReq},
		{500, apperrors.CodeUpstream},
		{503, apperrors.CodeUpstream},
	}
	for _, tc := range cases {
		err := ClassifyHTTPError("openai", tc.status, "boom", "")
		if err.Code != tc.code {
			t.Errorf("status %d = %s, want %s", tc.status, err.Code, tc.code)
		}
	}

	rl := ClassifyHTTPError("openai", 429, "slow down", "7")
	if rl.RetryAfter != 7 {
		t.Errorf("retry-after = %d, want 7", rl.RetryAfter)
	}
}

func TestClassifyTransportError(t *testing.T) {
	err := ClassifyTransportError("openai", context.DeadlineExceeded)
	if err.Code != apperrors.CodeTimeout {
		t.Errorf("deadline = %s, want TIMEOUT", err.Code)
	}

	err = ClassifyTransportError("openai", errors.New("connection refused"))
	if err.Code != apperrors.CodeUpstream {
		t.Errorf("refused = %s, want UPSTREAM_ERROR", err.Code)
	}
}
