package entity

import (
	"time"
)

// Message roles in the canonical transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons stamped onto response choices.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one turn in the canonical transcript, independent of any
// upstream's wire format. Immutable once appended to a session.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // required iff Role == "tool"
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition describes a tool offered to the model. This registry
// shape is the canonical one; provider adapters and the HTTP layer
// translate at their boundaries.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest is the canonical completion request.
type ChatRequest struct {
	Model            string           `json:"model"`
	Messages         []Message        `json:"messages"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
	ToolChoice       string           `json:"tool_choice,omitempty"`
	Temperature      float64          `json:"temperature,omitempty"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
	TopP             float64          `json:"top_p,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	PresencePenalty  float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64          `json:"frequency_penalty,omitempty"`
	Seed             int              `json:"seed,omitempty"`
	N                int              `json:"n,omitempty"`
	Stream           bool             `json:"stream,omitempty"`
	SessionID        string           `json:"session_id,omitempty"`
}

// WithMessages returns a shallow copy of the request carrying a
// different transcript. The orchestrator uses it to feed the working
// transcript into each loop iteration without mutating the original.
func (r *ChatRequest) WithMessages(messages []Message) *ChatRequest {
	cp := *r
	cp.Messages = messages
	return &cp
}

// Usage reports token consumption for one completion. Fields are
// zero-filled when the upstream omits them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Total returns the best available total token count.
func (u *Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// Choice is one generated alternative in a response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse is the canonical completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// FirstMessage returns the message of choice 0, or a zero Message when
// the response carries no choices.
func (r *ChatResponse) FirstMessage() Message {
	if len(r.Choices) == 0 {
		return Message{}
	}
	return r.Choices[0].Message
}

// FinishReason returns the finish reason of choice 0.
func (r *ChatResponse) FinishReason() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].FinishReason
}

// NewChatResponse assembles a response envelope around a single
// assistant message.
func NewChatResponse(id, model string, msg Message, finishReason string, usage Usage) *ChatResponse {
	return &ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{Index: 0, Message: msg, FinishReason: finishReason}},
		Usage:   usage,
	}
}

// StreamChunk is a single delta from a streaming completion,
// uniform across all providers.
type StreamChunk struct {
	DeltaText     string    // incremental text content
	DeltaToolCall *ToolCall // fully assembled tool call (emitted once per call)
	FinishReason  string    // "stop", "tool_calls", "" while streaming
}
