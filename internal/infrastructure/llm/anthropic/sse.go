package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

// toolCallAccumulator tracks a tool_use block being streamed.
type toolCallAccumulator struct {
	ID          string
	Name        string
	ArgsBuilder strings.Builder
}

// ParseSSEStream reads the event-typed SSE format:
//
//	message_start       → message metadata and initial usage
//	content_block_start → a new text / tool_use / thinking block
//	content_block_delta → incremental update to the current block
//	content_block_stop  → block finished
//	message_delta       → stop_reason and final usage
//	message_stop        → stream complete
func ParseSSEStream(ctx context.Context, reader io.Reader, ch chan<- entity.StreamChunk, logger *zap.Logger) (*entity.ChatResponse, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var responseID, modelUsed, stopReason string
	var usage entity.Usage
	toolCalls := make(map[int]*toolCallAccumulator)
	var currentEventType string

scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()

		// Event-typed framing: "event: <type>" then "data: <json>".
		if strings.HasPrefix(line, "event: ") {
			currentEventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEventType {
		case "message_start":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logger.Debug("skip unparseable message_start", zap.Error(err))
				continue
			}
			if evt.Message != nil {
				responseID = evt.Message.ID
				modelUsed = evt.Message.Model
				usage.PromptTokens = evt.Message.Usage.InputTokens
			}

		case "content_block_start":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logger.Debug("skip unparseable content_block_start", zap.Error(err))
				continue
			}
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				toolCalls[evt.Index] = &toolCallAccumulator{
					ID:   evt.ContentBlock.ID,
					Name: evt.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logger.Debug("skip unparseable content_block_delta", zap.Error(err))
				continue
			}
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if evt.Delta.Text != "" {
					contentBuilder.WriteString(evt.Delta.Text)
					ch <- entity.StreamChunk{DeltaText: evt.Delta.Text}
				}
			case "input_json_delta":
				if acc, ok := toolCalls[evt.Index]; ok {
					acc.ArgsBuilder.WriteString(evt.Delta.PartialJSON)
				}
			case "thinking_delta":
				// reasoning content is not forwarded
			}

		case "message_delta":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logger.Debug("skip unparseable message_delta", zap.Error(err))
				continue
			}
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				stopReason = evt.Delta.StopReason
			}
			if evt.Usage != nil {
				usage.CompletionTokens = evt.Usage.OutputTokens
			}

		case "message_stop":
			break scan

		case "ping":
			// heartbeat

		default:
			logger.Debug("unknown SSE event type", zap.String("type", currentEventType))
		}

		currentEventType = ""
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout, upstream stalled",
				zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && len(toolCalls) == 0 {
				return nil, fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return nil, fmt.Errorf("SSE scan error: %w", err)
		}
	}

	msg := entity.Message{
		Role:    entity.RoleAssistant,
		Content: contentBuilder.String(),
	}

	for i := 0; i < len(toolCalls); i++ {
		acc, ok := toolCalls[i]
		if !ok {
			continue
		}
		var args map[string]interface{}
		if argsStr := acc.ArgsBuilder.String(); argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
				logger.Warn("failed to parse streamed tool call args",
					zap.String("tool", acc.Name),
					zap.Error(err))
				continue
			}
		}
		tc := entity.ToolCall{ID: acc.ID, Name: acc.Name, Arguments: args}
		msg.ToolCalls = append(msg.ToolCalls, tc)
		ch <- entity.StreamChunk{DeltaToolCall: &tc}
	}

	finishReason := mapStopReason(stopReason)
	if stopReason == "" && len(msg.ToolCalls) > 0 {
		finishReason = entity.FinishToolCalls
	}
	ch <- entity.StreamChunk{FinishReason: finishReason}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return entity.NewChatResponse(responseID, modelUsed, msg, finishReason, usage), nil
}

// --- SSE idle timeout support ---

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
