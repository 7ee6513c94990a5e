package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/session"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	"github.com/prismgate/prismgate/pkg/safego"
)

type memoryEntry struct {
	sess     *session.Session
	deadline time.Time // monotonic clock, immune to wall-clock jumps
}

// MemoryStore is the single-process fallback used when no Redis URL is
// configured, mostly for local development and tests. Sessions are
// copied on the way in and out, so callers never share mutable state
// with the store or with each other.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	logger  *zap.Logger
	metrics *monitoring.Metrics // optional

	// now is swappable in tests.
	now func() time.Time
}

// WithMetrics attaches the active-sessions gauge.
func (s *MemoryStore) WithMetrics(m *monitoring.Metrics) *MemoryStore {
	s.metrics = m
	return s
}

// observeSize must be called with the lock held.
func (s *MemoryStore) observeSize() {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.entries)))
	}
}

// NewMemoryStore creates a store and starts a background sweeper that
// drops expired sessions. The sweeper stops when ctx is cancelled.
func NewMemoryStore(ctx context.Context, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		logger:  logger.With(zap.String("component", "session-store")),
		now:     time.Now,
	}
	safego.Go(logger, "session-sweeper", func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	})
	return s
}

func (s *MemoryStore) Create(_ context.Context, ttl time.Duration, initial map[string]interface{}) (*session.Session, error) {
	now := s.now()
	sess := &session.Session{
		ID:         uuid.NewString(),
		Context:    initial,
		TTLSeconds: int(ttl / time.Second),
		CreatedAt:  now.UTC(),
		ExpiresAt:  now.UTC().Add(ttl),
	}

	s.mu.Lock()
	s.entries[sess.ID] = memoryEntry{sess: sess.Clone(), deadline: now.Add(ttl)}
	s.observeSize()
	s.mu.Unlock()

	return sess, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || s.now().After(entry.deadline) {
		return nil, nil
	}
	// Hand out a copy: callers append messages to the session they hold,
	// and a stored pointer shared across requests would race.
	return entry.sess.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *session.Session, ttl time.Duration) error {
	now := s.now()
	sess.ExpiresAt = now.UTC().Add(ttl)

	s.mu.Lock()
	s.entries[sess.ID] = memoryEntry{sess: sess.Clone(), deadline: now.Add(ttl)}
	s.observeSize()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	delete(s.entries, id)
	s.observeSize()
	return !s.now().After(entry.deadline), nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	return ok && !s.now().After(entry.deadline), nil
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for id, entry := range s.entries {
		if now.After(entry.deadline) {
			delete(s.entries, id)
			removed++
		}
	}
	s.observeSize()
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("swept expired sessions", zap.Int("removed", removed))
	}
}
