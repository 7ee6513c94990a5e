package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/session"
)

const keyPrefix = "prismgate:session:"

// RedisStore keeps sessions in Redis as JSON values with a native TTL,
// so expiry works across gateway replicas without a sweeper.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "session-store")),
	}
}

func (s *RedisStore) Create(ctx context.Context, ttl time.Duration, initial map[string]interface{}) (*session.Session, error) {
	now := time.Now().UTC()
	sess := &session.Session{
		ID:         uuid.NewString(),
		Context:    initial,
		TTLSeconds: int(ttl / time.Second),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.Save(ctx, sess, ttl); err != nil {
		return nil, err
	}
	s.logger.Debug("session created", zap.String("session_id", sess.ID), zap.Duration("ttl", ttl))
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *session.Session, ttl time.Duration) error {
	sess.ExpiresAt = time.Now().UTC().Add(ttl)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+sess.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", id, err)
	}
	return n > 0, nil
}
