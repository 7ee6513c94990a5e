package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

// The Responses API is the required surface for the reasoning model
// family. System turns become top-level instructions, the remaining
// transcript becomes typed input items, and output arrives as a list of
// typed items instead of choices.

type responsesRequest struct {
	Model           string               `json:"model"`
	Input           []responsesInputItem `json:"input"`
	Instructions    string               `json:"instructions,omitempty"`
	MaxOutputTokens int                  `json:"max_output_tokens,omitempty"`
	Temperature     float64              `json:"temperature,omitempty"`
	TopP            float64              `json:"top_p,omitempty"`
}

type responsesInputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	ID     string                `json:"id"`
	Model  string                `json:"model"`
	Status string                `json:"status"`
	Output []responsesOutputItem `json:"output"`
	Usage  Usage                 `json:"usage"`
}

type responsesOutputItem struct {
	Type    string                   `json:"type"` // "message" | "reasoning"
	Role    string                   `json:"role,omitempty"`
	Content []responsesOutputContent `json:"content,omitempty"`
}

type responsesOutputContent struct {
	Type string `json:"type"` // "output_text"
	Text string `json:"text"`
}

func (p *Provider) chatViaResponses(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	apiReq := responsesRequest{
		Model:           req.Model,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}

	var instructions []string
	for _, msg := range req.Messages {
		if msg.Role == entity.RoleSystem {
			instructions = append(instructions, msg.Content)
			continue
		}
		role := msg.Role
		if role == entity.RoleTool {
			// The reasoning surface has no tool-result role; fold results
			// into user turns so multi-step transcripts stay coherent.
			role = entity.RoleUser
		}
		apiReq.Input = append(apiReq.Input, responsesInputItem{Role: role, Content: msg.Content})
	}
	apiReq.Instructions = strings.Join(instructions, "\n\n")

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := p.post(ctx, "/responses", body, nil)
	if err != nil {
		return nil, err
	}

	var apiResp responsesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var text strings.Builder
	for _, item := range apiResp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				text.WriteString(c.Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response: no message output")
	}

	finishReason := entity.FinishStop
	if apiResp.Status == "incomplete" {
		finishReason = entity.FinishLength
	}

	out := entity.NewChatResponse(
		apiResp.ID,
		apiResp.Model,
		entity.Message{Role: entity.RoleAssistant, Content: text.String()},
		finishReason,
		entity.Usage{
			PromptTokens:     apiResp.Usage.Prompt(),
			CompletionTokens: apiResp.Usage.Completion(),
			TotalTokens:      apiResp.Usage.Total(),
		},
	)
	out.Created = time.Now().Unix()
	return out, nil
}
