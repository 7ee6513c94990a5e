package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/service"
	"github.com/prismgate/prismgate/internal/domain/session"
	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
	"github.com/prismgate/prismgate/internal/infrastructure/backpressure"
	"github.com/prismgate/prismgate/internal/infrastructure/config"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	_ "github.com/prismgate/prismgate/internal/infrastructure/llm/anthropic"
	_ "github.com/prismgate/prismgate/internal/infrastructure/llm/gemini"
	_ "github.com/prismgate/prismgate/internal/infrastructure/llm/openai"
	"github.com/prismgate/prismgate/internal/infrastructure/logger"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	"github.com/prismgate/prismgate/internal/infrastructure/persistence"
	"github.com/prismgate/prismgate/internal/infrastructure/ratelimit"
	sessionstore "github.com/prismgate/prismgate/internal/infrastructure/session"
	"github.com/prismgate/prismgate/internal/infrastructure/tool"
	httpiface "github.com/prismgate/prismgate/internal/interfaces/http"
	"github.com/prismgate/prismgate/pkg/safego"
)

const appName = "prismgate"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("%s v%s\n", appName, httpiface.Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting gateway",
		zap.String("name", appName),
		zap.String("version", httpiface.Version),
		zap.String("env", cfg.Server.Env),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitoring.New(prometheus.DefaultRegisterer)

	store, err := buildSessionStore(ctx, cfg, metrics, log)
	if err != nil {
		log.Fatal("Failed to initialize session store", zap.Error(err))
	}

	router := buildRouter(cfg, log).WithMetrics(metrics)

	registry := domaintool.NewInMemoryRegistry()
	if err := tool.RegisterBuiltins(registry, cfg.Tools.SemanticSearchURL, cfg.Tools.AIAgentsURL, log); err != nil {
		log.Fatal("Failed to register tools", zap.Error(err))
	}
	executor := tool.NewExecutor(registry, tool.ExecutorConfig{
		CallTimeout:      cfg.Tools.ExecTimeout,
		MaxParallel:      cfg.Tools.MaxParallel,
		BreakerThreshold: cfg.Breaker.FailureThreshold,
		BreakerCooldown:  cfg.Breaker.RecoveryTimeout,
	}, log).WithMetrics(metrics)

	ledger := buildLedger(ctx, cfg, metrics, log)

	ttl := time.Duration(cfg.Session.TTLSeconds) * time.Second
	orch := service.NewOrchestrator(router, executor, store, ttl, ledger, log)

	gate := backpressure.NewGate(ctx, backpressure.Config{
		MaxConcurrent:  cfg.Backpressure.MaxConcurrent,
		MemoryLimitMB:  cfg.Backpressure.MemoryThresholdMB,
		MemoryFraction: cfg.Backpressure.SoftLimitPercent,
		WarnDepth:      cfg.Backpressure.QueueWarnDepth,
	}, log)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst, log)
	safego.Go(log, "ratelimit-evictor", func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Evict(30 * time.Minute)
			}
		}
	})

	server := httpiface.NewServer(httpiface.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Router:       router,
		Store:        store,
		Registry:     registry,
		Executor:     executor,
		Ledger:       ledger,
		Gate:         gate,
		Limiter:      limiter,
		Metrics:      metrics,
	}, log)
	server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Gateway stopped")
}

// buildSessionStore selects Redis when REDIS_URL is set, otherwise the
// in-process store.
func buildSessionStore(ctx context.Context, cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) (session.Store, error) {
	if cfg.Session.RedisURL == "" {
		log.Info("Using in-memory session store")
		return sessionstore.NewMemoryStore(ctx, log).WithMetrics(metrics), nil
	}

	opts, err := redis.ParseURL(cfg.Session.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("Using Redis session store", zap.String("addr", opts.Addr))
	return sessionstore.NewRedisStore(client, log), nil
}

// buildRouter creates every configured provider and registers it. A
// provider with no API key is skipped; Ollama and local inference only
// need a base URL.
func buildRouter(cfg *config.Config, log *zap.Logger) *llm.Router {
	router := llm.NewRouter(llm.RouterOptions{
		DefaultProvider:  cfg.Routing.DefaultProvider,
		DefaultModel:     cfg.Routing.DefaultModel,
		FallbackOrder:    cfg.Routing.FallbackOrder,
		BreakerThreshold: cfg.Breaker.FailureThreshold,
		BreakerCooldown:  cfg.Breaker.RecoveryTimeout,
	}, log)

	specs := []struct {
		name     string
		typeName string
		cfg      config.ProviderConfig
		keyless  bool // enabled by base URL alone
	}{
		{name: llm.ProviderOpenAI, typeName: "openai", cfg: cfg.Providers.OpenAI},
		{name: llm.ProviderAnthropic, typeName: "anthropic", cfg: cfg.Providers.Anthropic},
		{name: llm.ProviderGoogle, typeName: "gemini", cfg: cfg.Providers.Google},
		{name: llm.ProviderDeepSeek, typeName: "openai", cfg: withBaseURL(cfg.Providers.DeepSeek, "https://api.deepseek.com/v1")},
		{name: llm.ProviderOpenRouter, typeName: "openai", cfg: withBaseURL(cfg.Providers.OpenRouter, "https://openrouter.ai/api/v1")},
		{name: llm.ProviderOllama, typeName: "openai", cfg: cfg.Providers.Ollama, keyless: true},
		{name: llm.ProviderLocal, typeName: "openai", cfg: cfg.Providers.Local, keyless: true},
	}

	for _, spec := range specs {
		if spec.cfg.APIKey == "" && !spec.keyless {
			continue
		}
		if spec.keyless && spec.cfg.BaseURL == "" {
			continue
		}
		p, err := llm.CreateProvider(llm.ProviderConfig{
			Name:           spec.name,
			Type:           spec.typeName,
			BaseURL:        spec.cfg.BaseURL,
			APIKey:         spec.cfg.APIKey,
			DefaultModel:   spec.cfg.DefaultModel,
			RequestTimeout: spec.cfg.RequestTimeout,
		}, log)
		if err != nil {
			log.Error("Failed to create provider", zap.String("provider", spec.name), zap.Error(err))
			continue
		}
		router.AddProvider(p, spec.cfg.DefaultModel)
		log.Info("Registered provider", zap.String("provider", spec.name), zap.String("default_model", spec.cfg.DefaultModel))
	}

	return router
}

func withBaseURL(pc config.ProviderConfig, fallback string) config.ProviderConfig {
	if pc.BaseURL == "" {
		pc.BaseURL = fallback
	}
	return pc
}

// buildLedger opens the usage database when one is configured. Without
// it, usage is still exported as metrics but not persisted.
func buildLedger(ctx context.Context, cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) *persistence.UsageLedger {
	if cfg.Database.Type == "" {
		return persistence.NewUsageLedger(ctx, nil, metrics, log)
	}
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		log.Error("Failed to open usage database, persisting disabled", zap.Error(err))
		return persistence.NewUsageLedger(ctx, nil, metrics, log)
	}
	log.Info("Usage ledger enabled", zap.String("type", cfg.Database.Type))
	return persistence.NewUsageLedger(ctx, db, metrics, log)
}
