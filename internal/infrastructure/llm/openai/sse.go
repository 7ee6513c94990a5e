package openai

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

// ToolCallAccumulator assembles tool call fragments across SSE chunks.
type ToolCallAccumulator struct {
	ID          string
	Name        string
	ArgsBuilder strings.Builder
}

// ParseSSEStream reads a text/event-stream body, emitting uniform deltas
// on ch and assembling the final response.
//
// Three-tier termination:
//
//	L1: break on finish_reason (some upstreams never send [DONE])
//	L2: 60s read idle timeout against stale connections
//	L3: caller's context deadline
func ParseSSEStream(ctx context.Context, reader io.Reader, ch chan<- entity.StreamChunk, logger *zap.Logger) (*entity.ChatResponse, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	toolCallMap := make(map[int]*ToolCallAccumulator)
	var responseID, modelUsed, finishReason string
	var usage entity.Usage

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if chunk.Model != "" {
			modelUsed = chunk.Model
		}
		if chunk.Usage != nil {
			usage = entity.Usage{
				PromptTokens:     chunk.Usage.Prompt(),
				CompletionTokens: chunk.Usage.Completion(),
				TotalTokens:      chunk.Usage.Total(),
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}

		if choice.Delta.Content != "" {
			contentBuilder.WriteString(choice.Delta.Content)
			ch <- entity.StreamChunk{DeltaText: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := toolCallMap[tc.Index]
			if !ok {
				acc = &ToolCallAccumulator{}
				toolCallMap[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.ArgsBuilder.WriteString(tc.Function.Arguments)
		}

		// L1
		if finishReason != "" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout, upstream stalled",
				zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && len(toolCallMap) == 0 {
				return nil, fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
			logger.Info("returning partial response after idle timeout")
		} else {
			return nil, fmt.Errorf("SSE scan error: %w", err)
		}
	}

	msg := entity.Message{
		Role:    entity.RoleAssistant,
		Content: contentBuilder.String(),
	}

	for i := 0; i < len(toolCallMap); i++ {
		acc, ok := toolCallMap[i]
		if !ok {
			continue
		}
		var args map[string]interface{}
		if argsStr := acc.ArgsBuilder.String(); argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
				logger.Warn("failed to parse streamed tool call args",
					zap.String("tool", acc.Name),
					zap.Error(err),
				)
				continue
			}
		}
		tc := entity.ToolCall{ID: acc.ID, Name: acc.Name, Arguments: args}
		msg.ToolCalls = append(msg.ToolCalls, tc)
		ch <- entity.StreamChunk{DeltaToolCall: &tc}
	}

	if finishReason == "" {
		if len(msg.ToolCalls) > 0 {
			finishReason = entity.FinishToolCalls
		} else {
			finishReason = entity.FinishStop
		}
	}
	ch <- entity.StreamChunk{FinishReason: finishReason}

	return entity.NewChatResponse(responseID, modelUsed, msg, finishReason, usage), nil
}

// --- SSE idle timeout support ---

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader applies a per-Read deadline to an io.Reader.
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
