package tool

import (
	"context"
	"fmt"

	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
)

// EchoTool returns its input verbatim. Useful for wiring checks.
type EchoTool struct{}

func (EchoTool) Name() string        { return "echo" }
func (EchoTool) Description() string { return "Echo the provided text back unchanged." }

func (EchoTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text to echo back.",
			},
		},
		"required": []interface{}{"text"},
	}
}

func (EchoTool) Execute(_ context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	text, _ := args["text"].(string)
	return &domaintool.Result{Output: text, Success: true}, nil
}

// CalculatorTool performs basic arithmetic on two operands.
type CalculatorTool struct{}

func (CalculatorTool) Name() string { return "calculator" }

func (CalculatorTool) Description() string {
	return "Perform basic arithmetic: add, subtract, multiply, or divide two numbers."
}

func (CalculatorTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"add", "subtract", "multiply", "divide"},
			},
			"a": map[string]interface{}{"type": "number"},
			"b": map[string]interface{}{"type": "number"},
		},
		"required": []interface{}{"operation", "a", "b"},
	}
}

func (CalculatorTool) Execute(_ context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	op, _ := args["operation"].(string)
	a, aok := toFloat(args["a"])
	b, bok := toFloat(args["b"])
	if !aok || !bok {
		return &domaintool.Result{Success: false, Error: "operands must be numbers"}, nil
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return &domaintool.Result{Success: false, Error: "division by zero"}, nil
		}
		result = a / b
	default:
		return &domaintool.Result{Success: false, Error: "unknown operation " + op}, nil
	}

	return &domaintool.Result{
		Output:  fmt.Sprintf("%g", result),
		Success: true,
	}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
