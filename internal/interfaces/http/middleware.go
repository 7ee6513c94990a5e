package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/infrastructure/backpressure"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	"github.com/prismgate/prismgate/internal/infrastructure/ratelimit"
	"github.com/prismgate/prismgate/internal/interfaces/http/handlers"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// requestIDMiddleware assigns every request an id, honoring one supplied
// by the client, and echoes it on the response.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(handlers.RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ginLogger logs one line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", handlers.RequestID(c)),
		)
	}
}

// recovery converts panics into a 500 with the uniform error body.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, handlers.ErrorBody{
					Detail:    "internal server error",
					ErrorCode: string(apperrors.CodeInternal),
					RequestID: handlers.RequestID(c),
				})
			}
		}()
		c.Next()
	}
}

// authMiddleware enforces the shared-secret API key when one is
// configured. The key is accepted as a Bearer token or an X-API-Key
// header.
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			presented = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if presented != apiKey {
			handlers.RespondError(c, apperrors.New(apperrors.CodeAuth, "invalid or missing API key"))
			return
		}
		c.Next()
	}
}

// backpressureMiddleware sheds load before any real work happens.
func backpressureMiddleware(gate *backpressure.Gate, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, reason := gate.Acquire()
		if !ok {
			if metrics != nil {
				metrics.LoadShed.WithLabelValues(reason).Inc()
			}
			c.Header("Retry-After", "5")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, handlers.ErrorBody{
				Detail:    "service overloaded: " + reason,
				ErrorCode: string(apperrors.CodeOverloaded),
				RequestID: handlers.RequestID(c),
			})
			return
		}
		defer gate.Release()
		if metrics != nil {
			metrics.InFlight.Inc()
			defer metrics.InFlight.Dec()
		}
		c.Next()
	}
}

// rateLimitMiddleware applies the per-client token bucket. Clients are
// keyed by API key when presented, falling back to source address.
func rateLimitMiddleware(limiter *ratelimit.Limiter, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		ok, retryAfter, remaining := limiter.Allow(key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfter)*time.Second).Unix(), 10))

		if !ok {
			if metrics != nil {
				metrics.RateLimited.Inc()
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handlers.ErrorBody{
				Detail:    "rate limit exceeded",
				ErrorCode: string(apperrors.CodeRateLimited),
				RequestID: handlers.RequestID(c),
			})
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.ClientIP()
}
