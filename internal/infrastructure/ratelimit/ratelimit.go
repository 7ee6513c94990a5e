package ratelimit

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limiter applies per-client token-bucket rate limiting. Each client key
// (API key or source address) gets its own bucket with burst capacity and
// a steady refill derived from requests-per-minute.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rpm        int
	ratePerSec float64
	burst      float64
	logger     *zap.Logger

	now func() time.Time // swappable in tests
}

type bucket struct {
	tokens   float64
	lastFill time.Time
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing rpm sustained requests per minute
// with the given burst capacity per client.
func NewLimiter(rpm int, burst int, logger *zap.Logger) *Limiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		rpm:        rpm,
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
		logger:     logger.With(zap.String("component", "rate-limiter")),
		now:        time.Now,
	}
}

// Limit reports the sustained requests-per-minute quota.
func (l *Limiter) Limit() int {
	return l.rpm
}

// Allow consumes one token for key. When the bucket is empty it returns
// ok=false with the advisory seconds until a token is available, plus the
// whole tokens remaining for quota headers.
func (l *Limiter) Allow(key string) (ok bool, retryAfter int, remaining int) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens = math.Min(l.burst, b.tokens+elapsed*l.ratePerSec)
	b.lastFill = now
	b.lastSeen = now

	if b.tokens < 1 {
		deficit := 1 - b.tokens
		wait := int(math.Ceil(deficit / l.ratePerSec))
		if wait < 1 {
			wait = 1
		}
		return false, wait, 0
	}

	b.tokens--
	return true, 0, int(b.tokens)
}

// Evict drops buckets idle longer than maxIdle so the key space does not
// grow without bound. Returns how many were removed.
func (l *Limiter) Evict(maxIdle time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("evicted idle rate-limit buckets", zap.Int("removed", removed))
	}
	return removed
}

// Size returns the number of tracked client keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
