// Package store provides shared backends for runtime state.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/message"
	"github.com/sweetpotato0/ai-router/runtime"
)

// RedisStore keeps threads as Redis lists of JSON messages and agent
// definitions as JSON strings, so several router processes can share them.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ runtime.Store = (*RedisStore)(nil)

// RedisConfig holds Redis configuration for runtime state.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisStore creates a Redis-backed runtime store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{Addr: "localhost:6379"}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client, config.Prefix, config.TTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ai-router:runtime:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) CreateThread(ctx context.Context, id string) error {
	ok, err := s.client.SetNX(ctx, s.threadKey(id), time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	if !ok {
		return fmt.Errorf("thread %s: %w", id, errors.ErrAlreadyExists)
	}
	return nil
}

func (s *RedisStore) DeleteThread(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.threadKey(id), s.messagesKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendMessages(ctx context.Context, threadID string, msgs ...*message.Message) error {
	if err := s.requireThread(ctx, threadID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, raw)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(threadID), values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.messagesKey(threadID), s.ttl)
		pipe.Expire(ctx, s.threadKey(threadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

func (s *RedisStore) Messages(ctx context.Context, threadID string) ([]*message.Message, error) {
	if err := s.requireThread(ctx, threadID); err != nil {
		return nil, err
	}
	raws, err := s.client.LRange(ctx, s.messagesKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	msgs := make([]*message.Message, 0, len(raws))
	for _, raw := range raws {
		var msg message.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

func (s *RedisStore) SaveAgent(ctx context.Context, id string, def agent.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	if err := s.client.Set(ctx, s.agentKey(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadAgent(ctx context.Context, id string) (agent.Definition, error) {
	raw, err := s.client.Get(ctx, s.agentKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return agent.Definition{}, fmt.Errorf("agent %s: %w", id, errors.ErrNotFound)
		}
		return agent.Definition{}, fmt.Errorf("failed to load agent: %w", err)
	}
	var def agent.Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return agent.Definition{}, fmt.Errorf("failed to decode agent: %w", err)
	}
	return def, nil
}

func (s *RedisStore) DeleteAgent(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.agentKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) requireThread(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.threadKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check thread: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("thread %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) threadKey(id string) string   { return s.prefix + "thread:" + id }
func (s *RedisStore) messagesKey(id string) string { return s.prefix + "thread:" + id + ":messages" }
func (s *RedisStore) agentKey(id string) string    { return s.prefix + "agent:" + id }
