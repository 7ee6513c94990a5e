package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// localServiceKey groups non-proxy tools under one breaker key.
const localServiceKey = "local"

// serviceKeyed is implemented by tools that target a remote service; all
// tools sharing a target share one circuit breaker.
type serviceKeyed interface {
	ServiceKey() string
}

// ExecutorConfig tunes per-call limits.
type ExecutorConfig struct {
	CallTimeout      time.Duration
	MaxParallel      int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Executor validates arguments against each tool's JSON schema and runs
// the tool with a per-call timeout. Failures come back as structured
// error results, never as panics or bare errors, so one bad tool call
// cannot abort a whole orchestration turn.
type Executor struct {
	registry domaintool.Registry
	cfg      ExecutorConfig
	logger   *zap.Logger

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema

	breakerMu sync.Mutex
	breakers  map[string]*llm.CircuitBreaker

	metrics *monitoring.Metrics // optional
}

// WithMetrics attaches Prometheus instrumentation to tool outcomes.
func (e *Executor) WithMetrics(m *monitoring.Metrics) *Executor {
	e.metrics = m
	return e
}

func (e *Executor) countOutcome(tool, outcome string) {
	if e.metrics != nil {
		e.metrics.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	}
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry domaintool.Registry, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	return &Executor{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "tool-executor")),
		schemas:  make(map[string]*jsonschema.Schema),
		breakers: make(map[string]*llm.CircuitBreaker),
	}
}

// Execute runs one tool call. Schema violations, timeouts, and open
// breakers produce is_error results without invoking the tool; only an
// unknown tool name is surfaced as an error.
func (e *Executor) Execute(ctx context.Context, call entity.ToolCall) (entity.ToolResult, error) {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		e.countOutcome(call.Name, "unknown")
		return entity.ToolResult{}, apperrors.NewNotFoundError("tool " + call.Name + " not found")
	}

	if err := e.validateArgs(t, call.Arguments); err != nil {
		e.countOutcome(call.Name, "invalid_args")
		e.logger.Warn("tool argument validation failed",
			zap.String("tool", call.Name),
			zap.Error(err),
		)
		return entity.ToolResult{
			ToolCallID: call.ID,
			Content:    "schema violation: " + err.Error(),
			IsError:    true,
		}, nil
	}

	breaker := e.breakerFor(t)
	if !breaker.Allow() {
		e.countOutcome(call.Name, "rejected")
		return entity.ToolResult{
			ToolCallID: call.ID,
			Content:    "tool service unavailable: circuit open",
			IsError:    true,
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := t.Execute(callCtx, call.Arguments)
	latency := time.Since(start)

	if err != nil {
		breaker.RecordFailure()
		e.countOutcome(call.Name, "error")
		e.logger.Warn("tool execution failed",
			zap.String("tool", call.Name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		content := "tool execution failed: " + err.Error()
		if callCtx.Err() == context.DeadlineExceeded {
			content = fmt.Sprintf("tool timed out after %v", e.cfg.CallTimeout)
		}
		return entity.ToolResult{
			ToolCallID: call.ID,
			Content:    content,
			IsError:    true,
		}, nil
	}
	breaker.RecordSuccess()

	e.logger.Debug("tool executed",
		zap.String("tool", call.Name),
		zap.Duration("latency", latency),
		zap.Bool("success", result.Success),
	)

	if !result.Success {
		e.countOutcome(call.Name, "error")
		return entity.ToolResult{
			ToolCallID: call.ID,
			Content:    result.Error,
			IsError:    true,
		}, nil
	}
	e.countOutcome(call.Name, "success")
	return entity.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Output,
	}, nil
}

// ExecuteBatch runs calls with bounded parallelism. Results preserve
// input order and failures never short-circuit the rest of the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []entity.ToolCall) []entity.ToolResult {
	results := make([]entity.ToolResult, len(calls))
	sem := make(chan struct{}, e.cfg.MaxParallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call entity.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := e.Execute(ctx, call)
			if err != nil {
				result = entity.ToolResult{
					ToolCallID: call.ID,
					Content:    err.Error(),
					IsError:    true,
				}
			}
			results[i] = result
		}(i, call)
	}

	wg.Wait()
	return results
}

// validateArgs compiles the tool's schema on first use and validates the
// arguments against it.
func (e *Executor) validateArgs(t domaintool.Tool, args map[string]interface{}) error {
	schema := t.Schema()
	if schema == nil {
		return nil
	}

	compiled, err := e.compiledSchema(t.Name(), schema)
	if err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}

	// Round-trip through JSON so argument values carry the types the
	// validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	return compiled.Validate(doc)
}

func (e *Executor) compiledSchema(name string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()

	if compiled, ok := e.schemas[name]; ok {
		return compiled, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString("tool://"+name, string(raw))
	if err != nil {
		return nil, err
	}
	e.schemas[name] = compiled
	return compiled, nil
}

func (e *Executor) breakerFor(t domaintool.Tool) *llm.CircuitBreaker {
	key := localServiceKey
	if sk, ok := t.(serviceKeyed); ok {
		key = sk.ServiceKey()
	}

	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()

	cb, ok := e.breakers[key]
	if !ok {
		cb = llm.NewCircuitBreaker(e.cfg.BreakerThreshold, e.cfg.BreakerCooldown)
		e.breakers[key] = cb
	}
	return cb
}
