package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := NewMemoryStore(ctx, zap.NewNop())
	now := time.Now()
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, time.Hour, map[string]interface{}{"user": "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected non-empty session ID")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Context["user"] != "alice" {
		t.Errorf("context lost: %v", got.Context)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing session, got %+v", got)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	*now = now.Add(2 * time.Hour)

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("expected expired session to be gone")
	}

	ok, err := store.Exists(ctx, sess.ID)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("expired session should not exist")
	}
}

func TestMemoryStoreSaveSlidesTTL(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Just before expiry, saving re-arms the deadline.
	*now = now.Add(59 * time.Minute)
	updated := sess.Append(entity.Message{Role: entity.RoleUser, Content: "hello"})
	if err := store.Save(ctx, updated, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	*now = now.Add(30 * time.Minute)

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("session should survive after save re-armed the TTL")
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.Delete(ctx, sess.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ok {
		t.Fatal("expected delete to report existing session")
	}

	ok, err = store.Delete(ctx, sess.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok {
		t.Fatal("second delete should report missing session")
	}
}

func TestMemoryStoreActiveSessionsGauge(t *testing.T) {
	store, _ := newTestStore(t)
	m := monitoring.New(prometheus.NewRegistry())
	store.WithMetrics(m)
	ctx := context.Background()

	a, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, time.Hour, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Fatalf("active sessions gauge = %v, want 2", got)
	}

	if _, err := store.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("active sessions gauge after delete = %v, want 1", got)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, time.Hour, map[string]interface{}{"user": "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Save(ctx, sess.Append(entity.Message{Role: entity.RoleUser, Content: "first"}), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}

	// Mutating the returned session must not leak into the store.
	got.Messages = append(got.Messages, entity.Message{Role: entity.RoleAssistant, Content: "local only"})
	got.Context["user"] = "mallory"

	again, err := store.Get(ctx, sess.ID)
	if err != nil || again == nil {
		t.Fatalf("get: %v %v", again, err)
	}
	if len(again.Messages) != 1 {
		t.Fatalf("stored transcript changed through a caller's copy: %d messages", len(again.Messages))
	}
	if again.Context["user"] != "alice" {
		t.Fatalf("stored context changed through a caller's copy: %v", again.Context)
	}
}

func TestMemoryStoreSaveDetachesCaller(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	working := sess.Append(entity.Message{Role: entity.RoleUser, Content: "hello"})
	if err := store.Save(ctx, working, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The caller keeps appending after Save; the store must not see it.
	working.Messages = append(working.Messages, entity.Message{Role: entity.RoleAssistant, Content: "draft"})

	got, err := store.Get(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(got.Messages))
	}
}

// Two request handlers working on the same session id read, append, and
// save concurrently while a third serializes reads. With shared pointers
// this is a data race; with copy-in/copy-out it is merely a lost update.
func TestMemoryStoreConcurrentTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := NewMemoryStore(ctx, zap.NewNop())

	sess, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				cur, err := store.Get(ctx, sess.ID)
				if err != nil || cur == nil {
					t.Errorf("get: %v %v", cur, err)
					return
				}
				next := cur.Append(entity.Message{Role: entity.RoleUser, Content: "turn"})
				if err := store.Save(ctx, next, time.Hour); err != nil {
					t.Errorf("save: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			cur, err := store.Get(ctx, sess.ID)
			if err != nil || cur == nil {
				t.Errorf("get: %v %v", cur, err)
				return
			}
			if _, err := json.Marshal(cur); err != nil {
				t.Errorf("marshal: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestMemoryStoreSweep(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, time.Minute, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	keep, err := store.Create(ctx, time.Hour, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	*now = now.Add(10 * time.Minute)
	store.sweep()

	store.mu.RLock()
	n := len(store.entries)
	store.mu.RUnlock()
	if n != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", n)
	}

	got, err := store.Get(ctx, keep.ID)
	if err != nil || got == nil {
		t.Fatalf("long-TTL session should survive sweep, got %v err %v", got, err)
	}
}
