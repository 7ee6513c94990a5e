package session

import (
	"testing"
	"time"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

func TestCloneIsolatesMutableState(t *testing.T) {
	orig := &Session{
		ID:       "s1",
		Messages: []entity.Message{{Role: entity.RoleUser, Content: "hi"}},
		Context:  map[string]interface{}{"user": "alice"},
	}

	cp := orig.Clone()
	cp.Messages = append(cp.Messages, entity.Message{Role: entity.RoleAssistant, Content: "hello"})
	cp.Context["user"] = "bob"

	if len(orig.Messages) != 1 {
		t.Fatalf("original transcript grew to %d messages", len(orig.Messages))
	}
	if orig.Context["user"] != "alice" {
		t.Fatalf("original context changed: %v", orig.Context)
	}
}

func TestCloneNilCollections(t *testing.T) {
	cp := (&Session{ID: "s2"}).Clone()
	if cp.Messages != nil || cp.Context != nil {
		t.Fatalf("clone invented collections: %+v", cp)
	}
}

func TestTTL(t *testing.T) {
	if got := (&Session{TTLSeconds: 7200}).TTL(); got != 2*time.Hour {
		t.Fatalf("TTL = %v, want 2h", got)
	}
	if got := (&Session{}).TTL(); got != 0 {
		t.Fatalf("TTL = %v, want 0 for default", got)
	}
}
