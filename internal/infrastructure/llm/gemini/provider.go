package gemini

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	llm "github.com/prismgate/prismgate/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("gemini", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider implements the Gemini generateContent API natively.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration // bounds unary calls; streams rely on SSE idle checks
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Gemini provider from config.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
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
		// streams, which must outlive any unary deadline. Unary calls are
		// bounded per-request in post.
		client: &http.Client{Transport: transport},
		logger: logger.With(zap.String("provider", cfg.Name), zap.String("type", "gemini")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// Chat performs a blocking generateContent call.
func (p *Provider) Chat(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	model := llm.ResolveAlias(req.Model)

	body, err := json.Marshal(p.buildAPIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	respBody, err := p.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return p.convertResponse(&apiResp, model)
}

// ChatStream performs a streaming call via streamGenerateContent with SSE
// framing.
func (p *Provider) ChatStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	model := llm.ResolveAlias(req.Model)

	body, err := json.Marshal(p.buildAPIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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

	result, err := ParseSSEStream(ctx, resp.Body, ch, model, p.logger)
	close(streamDone)
	return result, err
}

func (p *Provider) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
	return respBody, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)
}

func (p *Provider) buildAPIRequest(req *entity.ChatRequest) *Request {
	apiReq := &Request{
		GenerationConfig: &GenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}

	// Remember which id each call name maps to: functionResponse parts
	// carry names, not ids.
	callNames := make(map[string]string)

	var system []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case entity.RoleSystem:
			system = append(system, msg.Content)

		case entity.RoleAssistant:
			var parts []Part
			if msg.Content != "" {
				parts = append(parts, Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				parts = append(parts, Part{FunctionCall: &FunctionCall{
					Name: tc.Name,
					Args: tc.Arguments,
				}})
			}
			if len(parts) > 0 {
				apiReq.Contents = append(apiReq.Contents, Content{Role: "model", Parts: parts})
			}

		case entity.RoleTool:
			name := msg.Name
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			apiReq.Contents = append(apiReq.Contents, Content{
				Role: "user",
				Parts: []Part{{FunctionResponse: &FunctionResponse{
					Name:     name,
					Response: map[string]interface{}{"content": msg.Content},
				}}},
			})

		default:
			apiReq.Contents = append(apiReq.Contents, Content{
				Role:  "user",
				Parts: []Part{{Text: msg.Content}},
			})
		}
	}

	if len(system) > 0 {
		apiReq.SystemInstruction = &Content{
			Parts: []Part{{Text: strings.Join(system, "\n\n")}},
		}
	}

	if len(req.Tools) > 0 {
		decls := ToolDecls{}
		for _, td := range req.Tools {
			decls.FunctionDeclarations = append(decls.FunctionDeclarations, FunctionDeclaration{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			})
		}
		apiReq.Tools = []ToolDecls{decls}
	}

	return apiReq
}

func (p *Provider) convertResponse(apiResp *Response, model string) (*entity.ChatResponse, error) {
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response: no candidates")
	}
	candidate := apiResp.Candidates[0]

	msg := entity.Message{Role: entity.RoleAssistant}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			msg.Content += part.Text
		}
		if part.FunctionCall != nil {
			// The API does not assign call ids; mint one so the
			// orchestrator can correlate results.
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
				ID:        "call_" + uuid.NewString(),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	usage := entity.Usage{}
	if apiResp.UsageMetadata != nil {
		usage = entity.Usage{
			PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
		}
	}

	finishReason := mapFinishReason(candidate.FinishReason)
	if len(msg.ToolCalls) > 0 {
		finishReason = entity.FinishToolCalls
	}

	return entity.NewChatResponse("gen_"+uuid.NewString(), model, msg, finishReason, usage), nil
}

// mapFinishReason translates Gemini finish reasons to the canonical enum.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return entity.FinishStop
	case "MAX_TOKENS":
		return entity.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return entity.FinishContentFilter
	default:
		return entity.FinishStop
	}
}
