package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/domain/service"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// ResponsesHandler serves the Responses API shape. Requests are
// translated onto the same orchestration path as chat completions.
type ResponsesHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

// NewResponsesHandler creates the Responses API handler.
func NewResponsesHandler(orch *service.Orchestrator, logger *zap.Logger) *ResponsesHandler {
	return &ResponsesHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "responses-handler")),
	}
}

// ResponsesRequest accepts either a bare string or a list of turns as
// input.
type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            float64         `json:"top_p,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
}

type responsesTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponsesResponse is the Responses API output envelope.
type ResponsesResponse struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	CreatedAt int64            `json:"created_at"`
	Status    string           `json:"status"`
	Model     string           `json:"model"`
	Output    []ResponseOutput `json:"output"`
	Usage     ResponsesUsage   `json:"usage"`
}

// ResponseOutput is one output item, always a message here.
type ResponseOutput struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Role    string            `json:"role"`
	Content []ResponseContent `json:"content"`
}

// ResponseContent is one content part of an output message.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesUsage reports token consumption in Responses naming.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CreateResponse handles POST /v1/responses.
func (h *ResponsesHandler) CreateResponse(c *gin.Context) {
	var wire ResponsesRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		RespondError(c, apperrors.New(apperrors.CodeInvalidReq, "malformed request body: "+err.Error()))
		return
	}

	messages, fieldErr := parseResponsesInput(wire.Input)
	if fieldErr != nil {
		RespondValidation(c, []entity.FieldError{*fieldErr})
		return
	}
	if wire.Instructions != "" {
		messages = append([]entity.Message{{Role: entity.RoleSystem, Content: wire.Instructions}}, messages...)
	}

	req := &entity.ChatRequest{
		Model:     wire.Model,
		Messages:  messages,
		MaxTokens: wire.MaxOutputTokens,
		TopP:      wire.TopP,
		SessionID: wire.SessionID,
	}
	if wire.Temperature != nil {
		req.Temperature = *wire.Temperature
	}
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		RespondValidation(c, fieldErrs)
		return
	}

	resp, err := h.orch.Complete(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponsesResponse(resp))
}

// parseResponsesInput accepts either "input": "text" or
// "input": [{"role": ..., "content": ...}, ...].
func parseResponsesInput(raw json.RawMessage) ([]entity.Message, *entity.FieldError) {
	if len(raw) == 0 {
		return nil, &entity.FieldError{
			Loc: []string{"body", "input"}, Msg: "field required", Type: "value_error.missing",
		}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []entity.Message{{Role: entity.RoleUser, Content: text}}, nil
	}

	var turns []responsesTurn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, &entity.FieldError{
			Loc: []string{"body", "input"}, Msg: "must be a string or a list of messages", Type: "type_error",
		}
	}
	messages := make([]entity.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, entity.Message{Role: t.Role, Content: t.Content})
	}
	return messages, nil
}

func toResponsesResponse(resp *entity.ChatResponse) ResponsesResponse {
	status := "completed"
	if resp.FinishReason() == entity.FinishLength {
		status = "incomplete"
	}
	out := ResponsesResponse{
		ID:        "resp_" + uuid.NewString(),
		Object:    "response",
		CreatedAt: resp.Created,
		Status:    status,
		Model:     resp.Model,
		Usage: ResponsesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.Total(),
		},
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = time.Now().Unix()
	}
	msg := resp.FirstMessage()
	out.Output = append(out.Output, ResponseOutput{
		Type: "message",
		ID:   "msg_" + uuid.NewString(),
		Role: entity.RoleAssistant,
		Content: []ResponseContent{
			{Type: "output_text", Text: msg.Content},
		},
	})
	return out
}
