package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/voice-relay/internal/errx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig configures the Redis session backend
type RedisConfig struct {
	URL          string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	ReadTimeout  int    `envconfig:"REDIS_READ_TIMEOUT" default:"3"`  // seconds
	WriteTimeout int    `envconfig:"REDIS_WRITE_TIMEOUT" default:"3"` // seconds
	DialTimeout  int    `envconfig:"REDIS_DIAL_TIMEOUT" default:"5"`  // seconds
}

// New creates a Redis client and verifies connectivity
func (c *RedisConfig) New(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(c.DialTimeout) * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps conversation state as JSON snapshots in Redis. Every
// write refreshes the key's TTL, so idle conversations expire on their own.
// Serialization is per process; the relay is single-node.
type RedisStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
	keys   *keyedMutex
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		keys:   newKeyedMutex(),
	}
}

func (r *RedisStore) stateKey(clientID string) string {
	return fmt.Sprintf("conversation:%s:state", clientID)
}

// With loads the client's state, runs fn and writes the result back
func (r *RedisStore) With(ctx context.Context, clientID string, fn func(*State) error) error {
	id := ResolveClientID(clientID)
	unlock, err := r.keys.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return r.save(ctx, id, state)
}

// Reset restores the client's state to defaults
func (r *RedisStore) Reset(ctx context.Context, clientID string) error {
	return r.With(ctx, clientID, func(s *State) error {
		s.Reset()
		return nil
	})
}

func (r *RedisStore) load(ctx context.Context, id string) (*State, error) {
	key := r.stateKey(id)
	state := NewState()

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return state, nil
		}
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to load conversation state")
		return nil, errx.WrapRedis(err)
	}

	if err := decodeState(raw, state); err != nil {
		// A corrupt snapshot is replaced rather than wedging the conversation.
		r.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable conversation state")
		return NewState(), nil
	}
	return state, nil
}

func (r *RedisStore) save(ctx context.Context, id string, state *State) error {
	key := r.stateKey(id)
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to save conversation state")
		return errx.WrapRedis(err)
	}
	return nil
}

// decodeState unmarshals a snapshot into a default-initialized state so the
// ring capacities are applied to the decoded contents.
func decodeState(raw []byte, state *State) error {
	if err := json.Unmarshal(raw, state); err != nil {
		return err
	}
	if state.LastSpeaker == "" {
		state.LastSpeaker = SpeakerNone
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
