package llm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

const (
	defaultMaxAttempts = 3
	baseBackoff        = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
)

// callWithRetry runs fn with exponential backoff and jitter. Only errors
// the taxonomy marks retryable are retried; everything else propagates on
// the first attempt. A provider-supplied retry-after overrides the
// computed backoff.
func callWithRetry(ctx context.Context, logger *zap.Logger, provider string, fn func() (*entity.ChatResponse, error)) (*entity.ChatResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		appErr := apperrors.AsAppError(err)
		if !appErr.IsRetryable() || attempt == defaultMaxAttempts {
			return nil, err
		}

		delay := backoffDelay(attempt)
		if appErr.RetryAfter > 0 {
			delay = time.Duration(appErr.RetryAfter) * time.Second
		}

		logger.Warn("retrying provider call",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// backoffDelay returns base*2^(attempt-1) with up to 25% jitter, capped.
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff << (attempt - 1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
