package session

import (
	"context"
	"time"

	"github.com/prismgate/prismgate/internal/domain/entity"
)

// Session is a server-side conversation transcript. The gateway itself is
// stateless; everything a follow-up request needs lives here.
type Session struct {
	ID         string                 `json:"id"`
	Messages   []entity.Message       `json:"messages"`
	Context    map[string]interface{} `json:"context,omitempty"`
	TTLSeconds int                    `json:"ttl_seconds,omitempty"` // this session's TTL; 0 means the gateway default
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
}

// TTL returns the session's own time-to-live, or zero when it follows
// the gateway default. Save re-arms with this value so a session created
// with a custom TTL never has its expiry shortened by a chat turn.
func (s *Session) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// Clone returns a copy sharing no mutable state with the receiver, so a
// stored session and the one handed to callers can diverge safely.
func (s *Session) Clone() *Session {
	out := *s
	if s.Messages != nil {
		out.Messages = append([]entity.Message(nil), s.Messages...)
	}
	if s.Context != nil {
		out.Context = make(map[string]interface{}, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// Append returns the session with msgs added. The receiver is not mutated;
// callers persist the returned value explicitly via Store.Save.
func (s *Session) Append(msgs ...entity.Message) *Session {
	out := *s
	out.Messages = make([]entity.Message, 0, len(s.Messages)+len(msgs))
	out.Messages = append(out.Messages, s.Messages...)
	out.Messages = append(out.Messages, msgs...)
	return &out
}

// Store persists sessions with a TTL. Implementations re-arm the TTL on
// every Save so active conversations stay alive and idle ones expire.
type Store interface {
	// Create allocates a new session with a fresh ID.
	Create(ctx context.Context, ttl time.Duration, initial map[string]interface{}) (*Session, error)
	// Get returns the session, or (nil, nil) when it does not exist or expired.
	Get(ctx context.Context, id string) (*Session, error)
	// Save replaces the stored transcript wholesale and re-arms the TTL.
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	// Delete removes the session, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Exists reports whether the session is live without loading it.
	Exists(ctx context.Context, id string) (bool, error)
}
