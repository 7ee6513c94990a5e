package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/infrastructure/backpressure"
	"github.com/prismgate/prismgate/internal/infrastructure/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) {
	c.Status(http.StatusOK)
}

func doGet(engine *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(requestIDMiddleware())
	engine.GET("/ping", okHandler)

	w := doGet(engine, nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID assigned")
	}

	w = doGet(engine, map[string]string{"X-Request-ID": "req-abc"})
	if got := w.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Errorf("X-Request-ID = %q, want req-abc (client id honored)", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(authMiddleware("secret"))
	engine.GET("/ping", okHandler)

	if w := doGet(engine, nil); w.Code != http.StatusBadRequest {
		t.Errorf("no key: status = %d, want 400", w.Code)
	}
	if w := doGet(engine, map[string]string{"Authorization": "Bearer secret"}); w.Code != http.StatusOK {
		t.Errorf("bearer key: status = %d, want 200", w.Code)
	}
	if w := doGet(engine, map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Errorf("header key: status = %d, want 200", w.Code)
	}
	if w := doGet(engine, map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusBadRequest {
		t.Errorf("wrong key: status = %d, want 400", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLimiter(60, 3, zap.NewNop())
	engine := gin.New()
	engine.Use(rateLimitMiddleware(limiter, nil))
	engine.GET("/ping", okHandler)

	key := map[string]string{"X-API-Key": "client-1"}
	for i := 0; i < 3; i++ {
		if w := doGet(engine, key); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doGet(engine, key)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	// A different client has its own bucket.
	if w := doGet(engine, map[string]string{"X-API-Key": "client-2"}); w.Code != http.StatusOK {
		t.Errorf("independent client: status = %d, want 200", w.Code)
	}
}

func TestBackpressureMiddleware(t *testing.T) {
	gate := backpressure.NewGate(context.Background(), backpressure.Config{MaxConcurrent: 1}, zap.NewNop())
	engine := gin.New()
	engine.Use(backpressureMiddleware(gate, nil))
	engine.GET("/ping", okHandler)

	if w := doGet(engine, nil); w.Code != http.StatusOK {
		t.Fatalf("idle gate: status = %d, want 200", w.Code)
	}

	// Occupy the only slot, then the next request must be shed.
	ok, _ := gate.Acquire()
	if !ok {
		t.Fatal("could not occupy gate slot")
	}
	defer gate.Release()

	w := doGet(engine, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("full gate: status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("503 without Retry-After")
	}
}
