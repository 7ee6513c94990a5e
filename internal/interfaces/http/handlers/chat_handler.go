package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/domain/service"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// ChatHandler serves the OpenAI-compatible chat completions surface.
type ChatHandler struct {
	orch    *service.Orchestrator
	router  *llm.Router
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewChatHandler creates the chat completions handler.
func NewChatHandler(orch *service.Orchestrator, router *llm.Router, metrics *monitoring.Metrics, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		orch:    orch,
		router:  router,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "chat-handler")),
	}
}

// Wire types. Tool call arguments travel as JSON strings on the wire
// but as decoded maps internally.

// ChatCompletionRequest mirrors OpenAI's request format.
type ChatCompletionRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Tools            []WireTool    `json:"tools,omitempty"`
	ToolChoice       interface{}   `json:"tool_choice,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	TopP             float64       `json:"top_p,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	Seed             int           `json:"seed,omitempty"`
	N                int           `json:"n,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	User             string        `json:"user,omitempty"`
}

// ChatMessage is a single conversation turn on the wire.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// WireTool is a tool definition on the wire.
type WireTool struct {
	Type     string           `json:"type"`
	Function WireToolFunction `json:"function"`
}

// WireToolFunction carries the tool's name and JSON Schema.
type WireToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// WireToolCall is a tool invocation on the wire; arguments are a JSON
// string per the OpenAI convention.
type WireToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function WireCallFunc `json:"function"`
}

// WireCallFunc names the function and its serialized arguments.
type WireCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionResponse mirrors OpenAI's response format.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage reports token consumption.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one SSE frame of a streaming completion.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

// ChatStreamChoice carries one streaming delta.
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta is the incremental payload of a streaming choice.
type ChatStreamDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []WireToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var wire ChatCompletionRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		RespondError(c, apperrors.New(apperrors.CodeInvalidReq, "malformed request body: "+err.Error()))
		return
	}

	req := toEntityRequest(&wire)
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		RespondValidation(c, fieldErrs)
		return
	}

	provider, _, err := h.router.ResolveRoute(req.Model)
	if err != nil {
		RespondError(c, err)
		return
	}

	if req.Stream {
		h.handleStream(c, req, provider)
		return
	}
	h.handleUnary(c, req, provider)
}

func (h *ChatHandler) handleUnary(c *gin.Context, req *entity.ChatRequest, provider string) {
	start := time.Now()
	resp, err := h.orch.Complete(c.Request.Context(), req)
	h.observe(provider, req.Model, start, err)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWireResponse(resp))
}

func (h *ChatHandler) handleStream(c *gin.Context, req *entity.ChatRequest, provider string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	start := time.Now()

	ch := make(chan entity.StreamChunk, 32)
	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.CompleteStream(c.Request.Context(), req, ch)
		errCh <- err
		close(ch)
	}()

	// Role delta first, matching upstream behavior.
	h.writeChunk(c.Writer, ChatStreamChunk{
		ID: completionID, Object: "chat.completion.chunk", Created: created, Model: req.Model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Role: entity.RoleAssistant}}},
	})

	toolIndex := 0
	for chunk := range ch {
		out := ChatStreamChunk{
			ID: completionID, Object: "chat.completion.chunk", Created: created, Model: req.Model,
			Choices: []ChatStreamChoice{{Index: 0}},
		}
		switch {
		case chunk.DeltaToolCall != nil:
			out.Choices[0].Delta.ToolCalls = []WireToolCall{{
				Index: toolIndex,
				ID:    chunk.DeltaToolCall.ID,
				Type:  "function",
				Function: WireCallFunc{
					Name:      chunk.DeltaToolCall.Name,
					Arguments: marshalArgs(chunk.DeltaToolCall.Arguments),
				},
			}}
			toolIndex++
		case chunk.FinishReason != "":
			reason := chunk.FinishReason
			out.Choices[0].FinishReason = &reason
		default:
			if chunk.DeltaText == "" {
				continue
			}
			out.Choices[0].Delta.Content = chunk.DeltaText
		}
		h.writeChunk(c.Writer, out)
	}

	err := <-errCh
	h.observe(provider, req.Model, start, err)
	if err != nil {
		// Headers are already out; surface the failure in-band.
		appErr := apperrors.AsAppError(err)
		payload, _ := json.Marshal(gin.H{"error": gin.H{
			"message": appErr.Message,
			"code":    string(appErr.Code),
		}})
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
		return
	}

	io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func (h *ChatHandler) writeChunk(w gin.ResponseWriter, chunk ChatStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("failed to marshal SSE chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}

func (h *ChatHandler) observe(provider, model string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RequestsTotal.WithLabelValues(provider, model, status).Inc()
	h.metrics.RequestDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// toEntityRequest converts the wire request into the internal form,
// decoding tool call argument strings into maps.
func toEntityRequest(wire *ChatCompletionRequest) *entity.ChatRequest {
	req := &entity.ChatRequest{
		Model:            wire.Model,
		Messages:         make([]entity.Message, 0, len(wire.Messages)),
		MaxTokens:        wire.MaxTokens,
		TopP:             wire.TopP,
		Stop:             wire.Stop,
		PresencePenalty:  wire.PresencePenalty,
		FrequencyPenalty: wire.FrequencyPenalty,
		Seed:             wire.Seed,
		N:                wire.N,
		Stream:           wire.Stream,
		SessionID:        wire.SessionID,
	}
	if wire.Temperature != nil {
		req.Temperature = *wire.Temperature
	}
	for _, m := range wire.Messages {
		req.Messages = append(req.Messages, entity.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  toEntityCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, entity.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	switch tc := wire.ToolChoice.(type) {
	case string:
		req.ToolChoice = tc
	case map[string]interface{}:
		if fn, ok := tc["function"].(map[string]interface{}); ok {
			if name, ok := fn["name"].(string); ok {
				req.ToolChoice = name
			}
		}
	}
	return req
}

func toEntityCalls(calls []WireToolCall) []entity.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]entity.ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			// Ignore decode failures; the upstream adapter re-serializes.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out = append(out, entity.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

func toWireResponse(resp *entity.ChatResponse) ChatCompletionResponse {
	out := ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]ChatChoice, 0, len(resp.Choices)),
		Usage: ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.Total(),
		},
	}
	if out.ID == "" {
		out.ID = "chatcmpl-" + uuid.NewString()
	}
	if out.Created == 0 {
		out.Created = time.Now().Unix()
	}
	for _, choice := range resp.Choices {
		wireMsg := ChatMessage{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		}
		for i, tc := range choice.Message.ToolCalls {
			wireMsg.ToolCalls = append(wireMsg.ToolCalls, WireToolCall{
				Index: i,
				ID:    tc.ID,
				Type:  "function",
				Function: WireCallFunc{
					Name:      tc.Name,
					Arguments: marshalArgs(tc.Arguments),
				},
			})
		}
		out.Choices = append(out.Choices, ChatChoice{
			Index:        choice.Index,
			Message:      wireMsg,
			FinishReason: choice.FinishReason,
		})
	}
	return out
}

func marshalArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
