package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/service"
	"github.com/prismgate/prismgate/internal/domain/session"
	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
	"github.com/prismgate/prismgate/internal/infrastructure/backpressure"
	"github.com/prismgate/prismgate/internal/infrastructure/config"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	"github.com/prismgate/prismgate/internal/infrastructure/persistence"
	"github.com/prismgate/prismgate/internal/infrastructure/ratelimit"
	"github.com/prismgate/prismgate/internal/infrastructure/tool"
	"github.com/prismgate/prismgate/internal/interfaces/http/handlers"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server is the HTTP front of the gateway.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Deps carries everything the route table needs.
type Deps struct {
	Config       *config.Config
	Orchestrator *service.Orchestrator
	Router       *llm.Router
	Store        session.Store
	Registry     domaintool.Registry
	Executor     *tool.Executor
	Ledger       *persistence.UsageLedger // nil disables usage reporting
	Gate         *backpressure.Gate
	Limiter      *ratelimit.Limiter
	Metrics      *monitoring.Metrics
	Gatherer     prometheus.Gatherer // defaults to prometheus.DefaultGatherer
}

// NewServer wires the route table and middleware chain.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	cfg := deps.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(recovery(logger))
	engine.Use(requestIDMiddleware())
	engine.Use(ginLogger(logger))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	chatHandler := handlers.NewChatHandler(deps.Orchestrator, deps.Router, deps.Metrics, logger)
	responsesHandler := handlers.NewResponsesHandler(deps.Orchestrator, logger)
	sessionHandler := handlers.NewSessionHandler(deps.Store, time.Duration(cfg.Session.TTLSeconds)*time.Second, logger)
	toolHandler := handlers.NewToolHandler(deps.Registry, deps.Executor, logger)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Router, deps.Ledger, Version, logger)

	engine.GET("/health", healthHandler.Health)
	engine.GET("/health/ready", healthHandler.Ready)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := engine.Group("/v1")
	v1.Use(authMiddleware(cfg.Server.APIKey))

	// Cheap metadata endpoints skip admission control.
	meta := v1.Group("")
	meta.Use(rateLimitMiddleware(deps.Limiter, deps.Metrics))
	{
		meta.GET("/models", healthHandler.ListModels)
		meta.GET("/providers", healthHandler.ListProviders)

		meta.GET("/tools", toolHandler.ListTools)
		meta.POST("/tools/execute", toolHandler.ExecuteTool)

		meta.POST("/sessions", sessionHandler.CreateSession)
		meta.GET("/sessions/:id", sessionHandler.GetSession)
		meta.DELETE("/sessions/:id", sessionHandler.DeleteSession)
	}

	// Completion path: backpressure gate, then the rate limiter.
	completions := v1.Group("")
	completions.Use(backpressureMiddleware(deps.Gate, deps.Metrics))
	completions.Use(rateLimitMiddleware(deps.Limiter, deps.Metrics))
	{
		completions.POST("/chat/completions", chatHandler.ChatCompletions)
		completions.POST("/responses", responsesHandler.CreateResponse)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With(zap.String("component", "http-server")),
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
