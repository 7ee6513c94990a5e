package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

// ParseSSEStream reads streamGenerateContent output with alt=sse framing.
// Each data line is a full Response whose candidate parts are deltas.
// Function calls arrive complete in a single chunk, never fragmented.
func ParseSSEStream(ctx context.Context, reader io.Reader, ch chan<- entity.StreamChunk, model string, logger *zap.Logger) (*entity.ChatResponse, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var toolCalls []entity.ToolCall
	var finishReason string
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

		var chunk Response
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		if chunk.UsageMetadata != nil {
			usage = entity.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}

		if len(chunk.Candidates) == 0 {
			continue
		}
		candidate := chunk.Candidates[0]

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				contentBuilder.WriteString(part.Text)
				ch <- entity.StreamChunk{DeltaText: part.Text}
			}
			if part.FunctionCall != nil {
				tc := entity.ToolCall{
					ID:        "call_" + uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				}
				toolCalls = append(toolCalls, tc)
				ch <- entity.StreamChunk{DeltaToolCall: &tc}
			}
		}

		if candidate.FinishReason != "" {
			finishReason = mapFinishReason(candidate.FinishReason)
		}
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

	if len(toolCalls) > 0 {
		finishReason = entity.FinishToolCalls
	} else if finishReason == "" {
		finishReason = entity.FinishStop
	}
	ch <- entity.StreamChunk{FinishReason: finishReason}

	msg := entity.Message{
		Role:      entity.RoleAssistant,
		Content:   contentBuilder.String(),
		ToolCalls: toolCalls,
	}
	return entity.NewChatResponse("gen_"+uuid.NewString(), model, msg, finishReason, usage), nil
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
