package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/session"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	"github.com/prismgate/prismgate/internal/infrastructure/persistence"
)

// HealthHandler serves liveness, readiness, and catalog endpoints.
type HealthHandler struct {
	store   session.Store
	router  *llm.Router
	ledger  *persistence.UsageLedger // nil when the ledger is disabled
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(store session.Store, router *llm.Router, ledger *persistence.UsageLedger, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		router:  router,
		ledger:  ledger,
		version: version,
		logger:  logger.With(zap.String("component", "health-handler")),
	}
}

// Health handles GET /health. Liveness only; no dependency checks.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready handles GET /health/ready. The session store is a critical
// dependency; providers being down only degrades readiness.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{}

	if _, err := h.store.Exists(c.Request.Context(), "readiness-probe"); err != nil {
		h.logger.Warn("session store unreachable", zap.Error(err))
		checks["store"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"checks": checks,
		})
		return
	}
	checks["store"] = "ok"

	status := "ready"
	available := 0
	for _, ps := range h.router.ListProviders(c.Request.Context()) {
		switch {
		case ps.CircuitState == "open":
			checks["upstream_"+ps.Name] = "circuit_open"
		case !ps.Available:
			checks["upstream_"+ps.Name] = "unavailable"
		default:
			checks["upstream_"+ps.Name] = "ok"
			available++
		}
	}
	if available == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"checks": checks,
	})
}

// ModelEntry is one model in the catalog listing.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ListModels handles GET /v1/models: every known model of every
// registered provider.
func (h *HealthHandler) ListModels(c *gin.Context) {
	var data []ModelEntry
	for _, ps := range h.router.ListProviders(c.Request.Context()) {
		for _, model := range ps.Models {
			data = append(data, ModelEntry{ID: model, Object: "model", OwnedBy: ps.Name})
		}
	}
	if data == nil {
		data = []ModelEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// ListProviders handles GET /v1/providers: per-provider availability,
// circuit state, call counters, and 24h spend when the ledger is on.
func (h *HealthHandler) ListProviders(c *gin.Context) {
	providers := h.router.ListProviders(c.Request.Context())

	var spend map[string]float64
	if h.ledger != nil {
		totals, err := h.ledger.Totals(time.Now().Add(-24 * time.Hour))
		if err != nil {
			h.logger.Warn("usage totals query failed", zap.Error(err))
		} else {
			spend = totals
		}
	}

	type providerEntry struct {
		llm.ProviderStatus
		CostUSD24h float64 `json:"cost_usd_24h,omitempty"`
	}
	out := make([]providerEntry, 0, len(providers))
	for _, ps := range providers {
		entry := providerEntry{ProviderStatus: ps}
		if spend != nil {
			entry.CostUSD24h = spend[ps.Name]
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}
