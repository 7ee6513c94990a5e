package anthropic

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

const apiVersion = "2023-06-01"

func init() {
	llm.RegisterFactory("anthropic", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider implements the Anthropic Messages API natively.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration // bounds unary calls; streams rely on SSE idle checks
	client  *http.Client
	logger  *zap.Logger
}

// New creates an Anthropic provider from config.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
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
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		// Client.Timeout stays zero: the same pooled client serves SSE
		// streams, which must outlive any unary deadline. Chat bounds its
		// call with a per-request deadline instead.
		client: &http.Client{Transport: transport},
		logger: logger.With(zap.String("provider", cfg.Name), zap.String("type", "anthropic")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// Chat performs a blocking Messages API call.
func (p *Provider) Chat(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(p.buildAPIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

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

	return p.parseAPIResponse(respBody)
}

// ChatStream performs a streaming Messages API call.
func (p *Provider) ChatStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	apiReq := p.buildAPIRequest(req)
	apiReq.Stream = true

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
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

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func (p *Provider) buildAPIRequest(req *entity.ChatRequest) *Request {
	apiReq := &Request{
		Model:       llm.ResolveAlias(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = 8192 // the API requires explicit max_tokens
	}

	// Consecutive system turns collapse into the top-level system field.
	var system []string
	var messages []Message
	for _, msg := range req.Messages {
		switch msg.Role {
		case entity.RoleSystem:
			system = append(system, msg.Content)

		case entity.RoleAssistant:
			var blocks []ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, Message{Role: "assistant", Content: blocks})
			}

		case entity.RoleTool:
			// Tool results travel as user turns with tool_result blocks.
			messages = append(messages, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		default:
			messages = append(messages, Message{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	apiReq.System = strings.Join(system, "\n\n")
	apiReq.Messages = messages

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: ConvertSchema(td.Parameters),
		})
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*entity.ChatResponse, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	msg := entity.Message{Role: entity.RoleAssistant}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return entity.NewChatResponse(
		apiResp.ID,
		apiResp.Model,
		msg,
		mapStopReason(apiResp.StopReason),
		entity.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.Total(),
		},
	), nil
}

// mapStopReason translates Anthropic stop reasons to the canonical enum.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return entity.FinishStop
	case "tool_use":
		return entity.FinishToolCalls
	case "max_tokens":
		return entity.FinishLength
	default:
		return entity.FinishStop
	}
}
