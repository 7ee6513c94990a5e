package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
)

// HTTPProxyTool forwards tool invocations to a sibling microservice.
// Arguments are marshalled to JSON and the response body becomes the
// tool result.
type HTTPProxyTool struct {
	name        string
	description string
	schema      map[string]interface{}
	baseURL     string
	method      string
	path        string
	client      *http.Client
	logger      *zap.Logger
}

// ProxySpec describes one proxied tool endpoint.
type ProxySpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
	Method      string
	Path        string
}

// NewHTTPProxyTool creates a proxy tool against baseURL.
func NewHTTPProxyTool(spec ProxySpec, baseURL string, logger *zap.Logger) *HTTPProxyTool {
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	return &HTTPProxyTool{
		name:        spec.Name,
		description: spec.Description,
		schema:      spec.Schema,
		baseURL:     strings.TrimRight(baseURL, "/"),
		method:      method,
		path:        spec.Path,
		client:      &http.Client{Timeout: 90 * time.Second},
		logger:      logger.With(zap.String("tool", spec.Name)),
	}
}

var _ domaintool.Tool = (*HTTPProxyTool)(nil)

func (t *HTTPProxyTool) Name() string                   { return t.name }
func (t *HTTPProxyTool) Description() string            { return t.description }
func (t *HTTPProxyTool) Schema() map[string]interface{} { return t.schema }

// ServiceKey identifies the target service for circuit breaking: all
// tools proxied to the same host share one breaker.
func (t *HTTPProxyTool) ServiceKey() string { return t.baseURL }

func (t *HTTPProxyTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.baseURL+t.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	t.logger.Debug("proxy call finished",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domaintool.Result{
			Success: false,
			Error:   fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, truncate(string(respBody), 300)),
		}, nil
	}

	return &domaintool.Result{Output: string(respBody), Success: true}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func objectSchema(props map[string]interface{}, required ...interface{}) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// RegisterBuiltins populates the registry with the local tools plus the
// HTTP proxies for the retrieval and analysis services. Proxies whose
// target URL is not configured are skipped.
func RegisterBuiltins(registry domaintool.Registry, semanticSearchURL, aiAgentsURL string, logger *zap.Logger) error {
	for _, t := range []domaintool.Tool{EchoTool{}, CalculatorTool{}} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	if semanticSearchURL != "" {
		searchSpecs := []ProxySpec{
			{
				Name:        "semantic_search",
				Description: "Search indexed documents by semantic similarity and return the most relevant chunks.",
				Schema: objectSchema(map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural-language search query."},
					"top_k": map[string]interface{}{"type": "integer", "description": "Number of chunks to return.", "minimum": 1.0},
				}, "query"),
				Path: "/search",
			},
			{
				Name:        "get_chunk",
				Description: "Fetch a single indexed document chunk by its identifier.",
				Schema: objectSchema(map[string]interface{}{
					"chunk_id": map[string]interface{}{"type": "string", "description": "Identifier of the chunk to fetch."},
				}, "chunk_id"),
				Path: "/chunks",
			},
		}
		for _, spec := range searchSpecs {
			if err := registry.Register(NewHTTPProxyTool(spec, semanticSearchURL, logger)); err != nil {
				return err
			}
		}
	}

	if aiAgentsURL != "" {
		agentSpecs := []ProxySpec{
			{
				Name:        "review_code",
				Description: "Run an automated review over a code snippet or diff and return findings.",
				Schema: objectSchema(map[string]interface{}{
					"code":     map[string]interface{}{"type": "string", "description": "Code or diff to review."},
					"language": map[string]interface{}{"type": "string", "description": "Programming language hint."},
				}, "code"),
				Path: "/review",
			},
			{
				Name:        "analyze_architecture",
				Description: "Analyze a repository or component description and report on its architecture.",
				Schema: objectSchema(map[string]interface{}{
					"target": map[string]interface{}{"type": "string", "description": "Repository path or component description."},
				}, "target"),
				Path: "/architecture",
			},
			{
				Name:        "generate_documentation",
				Description: "Generate reference documentation for the given code or API surface.",
				Schema: objectSchema(map[string]interface{}{
					"source": map[string]interface{}{"type": "string", "description": "Code or API description to document."},
					"format": map[string]interface{}{"type": "string", "enum": []interface{}{"markdown", "html"}},
				}, "source"),
				Path: "/document",
			},
		}
		for _, spec := range agentSpecs {
			if err := registry.Register(NewHTTPProxyTool(spec, aiAgentsURL, logger)); err != nil {
				return err
			}
		}
	}

	return nil
}
