package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	llm "github.com/prismgate/prismgate/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("openai", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is a native HTTP client for OpenAI-compatible APIs. One
// adapter type serves OpenAI itself plus DeepSeek, OpenRouter, Ollama,
// and local inference servers; only base URL and credentials differ.
type Provider struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	timeout      time.Duration // bounds unary calls; streams rely on SSE idle checks
	client       *http.Client
	logger       *zap.Logger
}

// New creates an OpenAI-compatible provider from config.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:         cfg.Name,
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		timeout:      timeout,
		// Client.Timeout stays zero: the same pooled client serves SSE
		// streams, which must outlive any unary deadline. Unary calls are
		// bounded per-request in post.
		client: &http.Client{Transport: transport},
		logger: logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

// IsAvailable reports whether credentials are configured. Keyless local
// upstreams (Ollama, vLLM) count as available when a base URL is set.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != "" || p.name == llm.ProviderOllama || p.name == llm.ProviderLocal
}

// Chat performs a blocking completion. Models in the reasoning family are
// transparently routed to the Responses endpoint.
func (p *Provider) Chat(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	if p.name == llm.ProviderOpenAI && llm.EndpointFor(req.Model) == llm.EndpointResponses {
		return p.chatViaResponses(ctx, req)
	}

	body, err := json.Marshal(p.buildAPIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := p.post(ctx, "/chat/completions", body, nil)
	if err != nil {
		return nil, err
	}
	return p.parseAPIResponse(respBody)
}

// ChatStream performs an SSE streaming completion, forwarding deltas on ch.
func (p *Provider) ChatStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	streamBody := StreamRequest{
		Request:       p.buildAPIRequest(req),
		Stream:        true,
		StreamOptions: map[string]interface{}{"include_usage": true},
	}

	body, err := json.Marshal(streamBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, llm.ClassifyHTTPError(p.name, resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
	}

	// Force-close the body when the caller goes away so the scanner
	// unblocks instead of waiting out the idle timeout.
	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, closing SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := ParseSSEStream(ctx, resp.Body, ch, p.logger)
	close(streamDone)
	if err != nil {
		return nil, err
	}
	if result.Model == "" {
		result.Model = req.Model
	}
	return result, nil
}

func (p *Provider) post(ctx context.Context, path string, body []byte, extraHeaders map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)
	for k, v := range extraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.ClassifyHTTPError(p.name, resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
	}
	return respBody, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *Provider) buildAPIRequest(req *entity.ChatRequest) *Request {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	apiReq := &Request{
		Model:            model,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		N:                req.N,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
	}
	if req.ToolChoice != "" {
		apiReq.ToolChoice = req.ToolChoice
	}

	for _, msg := range req.Messages {
		apiMsg := Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      tc.Name,
					Arguments: MarshalToolCallArgs(tc.Arguments),
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*entity.ChatResponse, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	out := &entity.ChatResponse{
		ID:      apiResp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   apiResp.Model,
		Usage: entity.Usage{
			PromptTokens:     apiResp.Usage.Prompt(),
			CompletionTokens: apiResp.Usage.Completion(),
			TotalTokens:      apiResp.Usage.Total(),
		},
	}

	for _, choice := range apiResp.Choices {
		msg := entity.Message{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		}
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					return nil, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
		out.Choices = append(out.Choices, entity.Choice{
			Index:        choice.Index,
			Message:      msg,
			FinishReason: choice.FinishReason,
		})
	}

	return out, nil
}
