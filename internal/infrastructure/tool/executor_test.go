package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// slowTool blocks until its context is cancelled.
type slowTool struct{}

func (slowTool) Name() string                   { return "slow" }
func (slowTool) Description() string            { return "never finishes" }
func (slowTool) Schema() map[string]interface{} { return nil }

func (slowTool) Execute(ctx context.Context, _ map[string]interface{}) (*domaintool.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingTool always errors.
type failingTool struct{}

func (failingTool) Name() string                   { return "failing" }
func (failingTool) Description() string            { return "always fails" }
func (failingTool) Schema() map[string]interface{} { return nil }

func (failingTool) Execute(context.Context, map[string]interface{}) (*domaintool.Result, error) {
	return nil, errors.New("boom")
}

func newTestExecutor(t *testing.T, cfg ExecutorConfig, tools ...domaintool.Tool) *Executor {
	t.Helper()
	registry := domaintool.NewInMemoryRegistry()
	for _, tl := range tools {
		if err := registry.Register(tl); err != nil {
			t.Fatalf("register %s: %v", tl.Name(), err)
		}
	}
	return NewExecutor(registry, cfg, zap.NewNop())
}

func TestExecuteEcho(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{}, EchoTool{})

	result, err := e.Execute(context.Background(), entity.ToolCall{
		ID:        "call_1",
		Name:      "echo",
		Arguments: map[string]interface{}{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q, want %q", result.Content, "hello")
	}
	if result.ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q, want call_1", result.ToolCallID)
	}
}

func TestExecuteCalculator(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{}, CalculatorTool{})

	result, err := e.Execute(context.Background(), entity.ToolCall{
		ID:        "call_1",
		Name:      "calculator",
		Arguments: map[string]interface{}{"operation": "multiply", "a": 6, "b": 7},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "42" {
		t.Errorf("content = %q, want 42", result.Content)
	}
}

func TestExecuteCalculatorDivideByZero(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{}, CalculatorTool{})

	result, err := e.Execute(context.Background(), entity.ToolCall{
		ID:        "call_1",
		Name:      "calculator",
		Arguments: map[string]interface{}{"operation": "divide", "a": 1, "b": 0},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestExecuteSchemaViolation(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{}, CalculatorTool{})

	result, err := e.Execute(context.Background(), entity.ToolCall{
		ID:        "call_1",
		Name:      "calculator",
		Arguments: map[string]interface{}{"operation": "add", "a": "not a number", "b": 2},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("schema violation should produce an error result")
	}
	if !strings.HasPrefix(result.Content, "schema violation:") {
		t.Errorf("content = %q, want schema violation prefix", result.Content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{})

	_, err := e.Execute(context.Background(), entity.ToolCall{ID: "x", Name: "nope"})
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{CallTimeout: 20 * time.Millisecond}, slowTool{})

	result, err := e.Execute(context.Background(), entity.ToolCall{ID: "call_1", Name: "slow"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("timeout should produce an error result")
	}
	if !strings.Contains(result.Content, "timed out") {
		t.Errorf("content = %q, want timeout message", result.Content)
	}
}

func TestExecuteBreakerOpensForFailingService(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{BreakerThreshold: 2}, failingTool{})
	ctx := context.Background()
	call := entity.ToolCall{ID: "call_1", Name: "failing"}

	for i := 0; i < 2; i++ {
		result, err := e.Execute(ctx, call)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result")
		}
	}

	result, err := e.Execute(ctx, call)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result.Content, "circuit open") {
		t.Errorf("content = %q, want circuit open message", result.Content)
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{MaxParallel: 2}, EchoTool{}, failingTool{})

	calls := []entity.ToolCall{
		{ID: "c1", Name: "echo", Arguments: map[string]interface{}{"text": "first"}},
		{ID: "c2", Name: "failing"},
		{ID: "c3", Name: "echo", Arguments: map[string]interface{}{"text": "third"}},
		{ID: "c4", Name: "missing"},
	}

	results := e.ExecuteBatch(context.Background(), calls)
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	if results[0].Content != "first" || results[0].IsError {
		t.Errorf("result 0 = %+v", results[0])
	}
	if !results[1].IsError {
		t.Error("result 1 should be an error, batch must not short-circuit")
	}
	if results[2].Content != "third" || results[2].IsError {
		t.Errorf("result 2 = %+v", results[2])
	}
	if !results[3].IsError {
		t.Error("result 3 (unknown tool) should be an error result")
	}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d id = %s, want %s", i, r.ToolCallID, calls[i].ID)
		}
	}
}
