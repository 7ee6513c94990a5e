package backpressure

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/prismgate/pkg/safego"
)

// Gate is the admission controller in front of the chat endpoints. It
// caps in-flight requests and sheds load when sampled heap usage crosses
// the configured fraction of the memory budget.
type Gate struct {
	maxConcurrent int64
	memoryLimit   uint64  // bytes
	threshold     float64 // fraction of memoryLimit that trips shedding
	warnDepth     int64   // in-flight count worth one warning

	inFlight    int64
	sampledHeap atomic.Uint64

	// warned latches one capacity warning per episode; it re-arms when
	// in-flight drains back under warnDepth.
	warned atomic.Bool
	logger *zap.Logger
}

// Config sets gate limits; zero values fall back to defaults.
type Config struct {
	MaxConcurrent  int
	MemoryLimitMB  int
	MemoryFraction float64
	WarnDepth      int // in-flight count that triggers the capacity warning
}

// NewGate creates a gate and starts the heap sampler. The sampler stops
// when ctx is cancelled.
func NewGate(ctx context.Context, cfg Config, logger *zap.Logger) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 50
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 1024
	}
	if cfg.MemoryFraction <= 0 || cfg.MemoryFraction > 1 {
		cfg.MemoryFraction = 0.8
	}
	if cfg.WarnDepth <= 0 || cfg.WarnDepth >= cfg.MaxConcurrent {
		cfg.WarnDepth = cfg.MaxConcurrent * 8 / 10
	}

	g := &Gate{
		maxConcurrent: int64(cfg.MaxConcurrent),
		memoryLimit:   uint64(cfg.MemoryLimitMB) * 1024 * 1024,
		threshold:     cfg.MemoryFraction,
		warnDepth:     int64(cfg.WarnDepth),
		logger:        logger.With(zap.String("component", "backpressure")),
	}

	// ReadMemStats stops the world; sample on a coarse ticker instead of
	// per request.
	safego.Go(logger, "memory-sampler", func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				g.sampledHeap.Store(ms.HeapAlloc)
			}
		}
	})

	return g
}

// Acquire admits a request or reports why it was shed. The caller must
// Release exactly once after a successful Acquire.
func (g *Gate) Acquire() (ok bool, reason string) {
	if heap := g.sampledHeap.Load(); float64(heap) > float64(g.memoryLimit)*g.threshold {
		g.logger.Warn("shedding load, memory above threshold",
			zap.Uint64("heap_bytes", heap),
			zap.Uint64("limit_bytes", g.memoryLimit),
			zap.Float64("threshold", g.threshold),
		)
		return false, "memory pressure"
	}

	n := atomic.AddInt64(&g.inFlight, 1)
	if n > g.maxConcurrent {
		atomic.AddInt64(&g.inFlight, -1)
		return false, "concurrency limit reached"
	}

	// Approaching the cap is worth one warning per episode so operators
	// see it before rejections start.
	if n > g.warnDepth && g.warned.CompareAndSwap(false, true) {
		g.logger.Warn("in-flight requests approaching capacity",
			zap.Int64("in_flight", n),
			zap.Int64("warn_depth", g.warnDepth),
			zap.Int64("max", g.maxConcurrent),
		)
	}

	return true, ""
}

// Release returns a previously acquired slot.
func (g *Gate) Release() {
	if atomic.AddInt64(&g.inFlight, -1) <= g.warnDepth {
		g.warned.Store(false)
	}
}

// InFlight returns the current number of admitted requests.
func (g *Gate) InFlight() int64 {
	return atomic.LoadInt64(&g.inFlight)
}
