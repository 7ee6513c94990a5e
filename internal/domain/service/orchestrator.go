package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/domain/session"
)

// MaxToolIterations bounds the tool-use loop per request.
const MaxToolIterations = 8

// ToolExecutor runs tool calls requested by the model.
type ToolExecutor interface {
	ExecuteBatch(ctx context.Context, calls []entity.ToolCall) []entity.ToolResult
}

// UsageSink receives per-completion usage records. Implementations must
// not block the request path.
type UsageSink interface {
	RecordUsage(provider, model string, usage entity.Usage)
}

// Orchestrator drives the central completion algorithm: session load,
// the bounded tool-use loop, fallback across providers, and session
// write-back.
type Orchestrator struct {
	fallback *FallbackChain
	router   ProviderRouter
	executor ToolExecutor
	store    session.Store
	ttl      time.Duration
	usage    UsageSink // optional
	logger   *zap.Logger
}

// NewOrchestrator wires the orchestrator. store may be nil when session
// support is disabled; usage may be nil.
func NewOrchestrator(router ProviderRouter, executor ToolExecutor, store session.Store, ttl time.Duration, usage UsageSink, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		fallback: NewFallbackChain(router, logger),
		router:   router,
		executor: executor,
		store:    store,
		ttl:      ttl,
		usage:    usage,
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Complete handles a blocking chat request end to end.
func (o *Orchestrator) Complete(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	sess, history, err := o.loadSession(ctx, req)
	if err != nil {
		return nil, err
	}

	working := make([]entity.Message, 0, len(history)+len(req.Messages))
	working = append(working, history...)
	working = append(working, req.Messages...)

	var resp *entity.ChatResponse
	exhausted := true

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		provider, model, rerr := o.router.ResolveRoute(req.Model)
		if rerr != nil {
			return nil, rerr
		}

		iterReq := req.WithMessages(working)
		iterReq.Model = model

		var served string
		resp, served, err = o.fallback.Invoke(ctx, provider, iterReq)
		if err != nil {
			return nil, err
		}
		o.recordUsage(served, resp)

		msg := resp.FirstMessage()
		working = append(working, msg)

		if len(msg.ToolCalls) == 0 || resp.FinishReason() != entity.FinishToolCalls {
			exhausted = false
			break
		}

		o.logger.Debug("dispatching tool calls",
			zap.Int("iteration", iteration),
			zap.Int("count", len(msg.ToolCalls)),
		)
		working = append(working, o.runTools(ctx, msg.ToolCalls)...)
	}

	if exhausted && resp != nil {
		// The model never stopped asking for tools; surface the partial
		// transcript with an explicit truncation marker.
		resp.Choices[0].FinishReason = entity.FinishLength
		o.logger.Warn("tool iteration budget exhausted",
			zap.String("model", req.Model),
			zap.Int("max_iterations", MaxToolIterations),
		)
	}

	o.saveSession(ctx, sess, working)
	return resp, nil
}

// CompleteStream handles a streaming request. The tool loop itself runs
// on blocking calls; only the final answer is streamed. Requests without
// tools stream straight through.
func (o *Orchestrator) CompleteStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	sess, history, err := o.loadSession(ctx, req)
	if err != nil {
		return nil, err
	}

	working := make([]entity.Message, 0, len(history)+len(req.Messages))
	working = append(working, history...)
	working = append(working, req.Messages...)

	// No tools attached: a single pass-through stream.
	if len(req.Tools) == 0 {
		provider, model, rerr := o.router.ResolveRoute(req.Model)
		if rerr != nil {
			return nil, rerr
		}
		streamReq := req.WithMessages(working)
		streamReq.Model = model

		resp, served, serr := o.fallback.InvokeStream(ctx, provider, streamReq, ch)
		if serr != nil {
			return nil, serr
		}
		o.recordUsage(served, resp)

		working = append(working, resp.FirstMessage())
		o.saveSession(ctx, sess, working)
		return resp, nil
	}

	// With tools, iterations must complete before the answer is known;
	// intermediate tool turns are consumed eagerly and never surfaced.
	var resp *entity.ChatResponse
	exhausted := true

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		provider, model, rerr := o.router.ResolveRoute(req.Model)
		if rerr != nil {
			return nil, rerr
		}
		iterReq := req.WithMessages(working)
		iterReq.Model = model

		var served string
		resp, served, err = o.fallback.Invoke(ctx, provider, iterReq)
		if err != nil {
			return nil, err
		}
		o.recordUsage(served, resp)

		msg := resp.FirstMessage()
		working = append(working, msg)

		if len(msg.ToolCalls) == 0 || resp.FinishReason() != entity.FinishToolCalls {
			exhausted = false
			break
		}
		working = append(working, o.runTools(ctx, msg.ToolCalls)...)
	}

	if exhausted && resp != nil {
		resp.Choices[0].FinishReason = entity.FinishLength
	}

	// Replay the settled answer as ordered chunks.
	final := resp.FirstMessage()
	if final.Content != "" {
		ch <- entity.StreamChunk{DeltaText: final.Content}
	}
	ch <- entity.StreamChunk{FinishReason: resp.FinishReason()}

	o.saveSession(ctx, sess, working)
	return resp, nil
}

// runTools executes the calls and splices results back as tool-role
// messages in call order, errors included, so the model may recover.
func (o *Orchestrator) runTools(ctx context.Context, calls []entity.ToolCall) []entity.Message {
	results := o.executor.ExecuteBatch(ctx, calls)

	msgs := make([]entity.Message, 0, len(results))
	for i, result := range results {
		msgs = append(msgs, entity.Message{
			Role:       entity.RoleTool,
			Content:    result.Content,
			ToolCallID: result.ToolCallID,
			Name:       calls[i].Name,
		})
	}
	return msgs
}

// loadSession fetches the transcript for req.SessionID. A missing or
// expired session is not an error: the id is honored with an empty
// history and re-created on save.
func (o *Orchestrator) loadSession(ctx context.Context, req *entity.ChatRequest) (*session.Session, []entity.Message, error) {
	if req.SessionID == "" || o.store == nil {
		return nil, nil, nil
	}

	sess, err := o.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		sess = &session.Session{ID: req.SessionID, CreatedAt: time.Now().UTC()}
	}
	return sess, sess.Messages, nil
}

// saveSession replaces the stored transcript wholesale after a successful
// completion. Failures are logged, not surfaced: the client already has
// its answer.
func (o *Orchestrator) saveSession(ctx context.Context, sess *session.Session, working []entity.Message) {
	if sess == nil || o.store == nil {
		return
	}
	sess.Messages = working
	ttl := o.ttl
	if t := sess.TTL(); t > 0 {
		ttl = t
	}
	if err := o.store.Save(ctx, sess, ttl); err != nil {
		o.logger.Error("session save failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) recordUsage(provider string, resp *entity.ChatResponse) {
	if o.usage == nil || resp == nil {
		return
	}
	o.usage.RecordUsage(provider, resp.Model, resp.Usage)
}
