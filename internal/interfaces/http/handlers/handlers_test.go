package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/domain/service"
	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	sessionstore "github.com/prismgate/prismgate/internal/infrastructure/session"
	"github.com/prismgate/prismgate/internal/infrastructure/tool"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProvider struct {
	name   string
	resp   *entity.ChatResponse
	chunks []entity.StreamChunk
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	return f.resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req *entity.ChatRequest, ch chan<- entity.StreamChunk) (*entity.ChatResponse, error) {
	for _, chunk := range f.chunks {
		ch <- chunk
	}
	return f.resp, nil
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

func newChatEngine(t *testing.T, provider *fakeProvider) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()

	router := llm.NewRouter(llm.RouterOptions{
		DefaultProvider: "openai",
		DefaultModel:    "gpt-4o",
	}, logger)
	router.AddProvider(provider, "gpt-4o")

	orch := service.NewOrchestrator(router, nil, nil, time.Hour, nil, logger)
	metrics := monitoring.New(prometheus.NewRegistry())
	h := NewChatHandler(orch, router, metrics, logger)

	engine := gin.New()
	engine.POST("/v1/chat/completions", h.ChatCompletions)
	return engine
}

func postJSON(engine *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestChatCompletionsMalformedJSON(t *testing.T) {
	engine := newChatEngine(t, &fakeProvider{name: "openai"})

	w := postJSON(engine, "/v1/chat/completions", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChatCompletionsValidation(t *testing.T) {
	engine := newChatEngine(t, &fakeProvider{name: "openai"})

	w := postJSON(engine, "/v1/chat/completions", `{"model": "gpt-4o", "messages": []}`)
	if w.Code != 422 {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var body struct {
		Detail []entity.FieldError `json:"detail"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if len(body.Detail) == 0 {
		t.Fatal("expected field errors in detail")
	}
	if got := body.Detail[0].Loc; len(got) < 2 || got[1] != "messages" {
		t.Fatalf("detail[0].loc = %v, want [body messages]", got)
	}
}

func TestChatCompletionsUnary(t *testing.T) {
	provider := &fakeProvider{
		name: "openai",
		resp: entity.NewChatResponse("chatcmpl-test", "gpt-4o",
			entity.Message{Role: entity.RoleAssistant, Content: "Hello there"},
			"stop",
			entity.Usage{PromptTokens: 10, CompletionTokens: 3},
		),
	}
	engine := newChatEngine(t, provider)

	w := postJSON(engine, "/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "Hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q, want chat.completion", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Hello there" {
		t.Errorf("unexpected choices: %+v", resp.Choices)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("total_tokens = %d, want 13", resp.Usage.TotalTokens)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	provider := &fakeProvider{
		name: "openai",
		resp: entity.NewChatResponse("chatcmpl-test", "gpt-4o",
			entity.Message{Role: entity.RoleAssistant, Content: "Hi!"},
			"stop",
			entity.Usage{},
		),
		chunks: []entity.StreamChunk{
			{DeltaText: "Hi"},
			{DeltaText: "!"},
			{FinishReason: "stop"},
		},
	}
	engine := newChatEngine(t, provider)

	w := postJSON(engine, "/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "Hi"}], "stream": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := w.Body.String()
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream does not end with [DONE]:\n%s", body)
	}

	var content string
	var sawFinish bool
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || strings.Contains(line, "[DONE]") {
			continue
		}
		var chunk ChatStreamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			t.Fatalf("bad SSE frame %q: %v", line, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("object = %q, want chat.completion.chunk", chunk.Object)
		}
		if len(chunk.Choices) == 1 {
			content += chunk.Choices[0].Delta.Content
			if chunk.Choices[0].FinishReason != nil {
				sawFinish = true
			}
		}
	}
	if content != "Hi!" {
		t.Errorf("streamed content = %q, want %q", content, "Hi!")
	}
	if !sawFinish {
		t.Error("no finish_reason frame in stream")
	}
}

func TestSessionLifecycle(t *testing.T) {
	logger := zap.NewNop()
	store := sessionstore.NewMemoryStore(context.Background(), logger)
	h := NewSessionHandler(store, time.Hour, logger)

	engine := gin.New()
	engine.POST("/v1/sessions", h.CreateSession)
	engine.GET("/v1/sessions/:id", h.GetSession)
	engine.DELETE("/v1/sessions/:id", h.DeleteSession)

	w := postJSON(engine, "/v1/sessions", `{"ttl_seconds": 120, "context": {"user": "alice"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var created SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created session has no id")
	}
	if created.Context["user"] != "alice" {
		t.Errorf("context = %v, want user=alice", created.Context)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID, nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+created.ID, nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID, nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func newToolEngine(t *testing.T) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()
	registry := domaintool.NewInMemoryRegistry()
	if err := tool.RegisterBuiltins(registry, "", "", logger); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	executor := tool.NewExecutor(registry, tool.ExecutorConfig{}, logger)
	h := NewToolHandler(registry, executor, logger)

	engine := gin.New()
	engine.GET("/v1/tools", h.ListTools)
	engine.POST("/v1/tools/execute", h.ExecuteTool)
	return engine
}

func TestListTools(t *testing.T) {
	engine := newToolEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body ToolListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	names := map[string]bool{}
	for _, def := range body.Tools {
		names[def.Name] = true
	}
	if !names["echo"] || !names["calculator"] {
		t.Errorf("tools = %v, want echo and calculator", names)
	}
}

func TestExecuteTool(t *testing.T) {
	engine := newToolEngine(t)

	w := postJSON(engine, "/v1/tools/execute",
		`{"name": "calculator", "arguments": {"operation": "multiply", "a": 6, "b": 7}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp ExecuteToolResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Result != "42" {
		t.Errorf("result = %+v, want success with 42", resp)
	}
}

func TestExecuteToolUnknown(t *testing.T) {
	engine := newToolEngine(t)

	w := postJSON(engine, "/v1/tools/execute", `{"name": "nope", "arguments": {}}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestExecuteToolInvalidArgs(t *testing.T) {
	engine := newToolEngine(t)

	w := postJSON(engine, "/v1/tools/execute",
		`{"name": "calculator", "arguments": {"operation": "multiply", "a": "six", "b": 7}}`)
	if w.Code != 422 {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
}
