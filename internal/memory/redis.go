package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix        = "tripmind:conversation:"
	maxUpdateRetries = 5
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL expires a conversation after inactivity. Zero keeps it forever.
	TTL time.Duration
}

// Redis stores turns as a JSON list and the session state as a JSON string.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis connects to Redis and pings it.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, ttl: cfg.TTL}, nil
}

func turnsKey(id string) string { return keyPrefix + id + ":turns" }
func stateKey(id string) string { return keyPrefix + id + ":state" }

func (r *Redis) Append(ctx context.Context, conversationID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		values = append(values, b)
	}

	key := turnsKey(conversationID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turns to %s: %w", conversationID, err)
	}
	return nil
}

func (r *Redis) History(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.client.LRange(ctx, turnsKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", conversationID, err)
	}
	out := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn of %s: %w", conversationID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Redis) SessionState(ctx context.Context, conversationID string) (domain.SessionState, error) {
	return readState(ctx, r.client, conversationID)
}

// UpdateSessionState merges update under WATCH so concurrent writers do not
// lose facts.
func (r *Redis) UpdateSessionState(ctx context.Context, conversationID string, update domain.SessionUpdate) (domain.SessionState, error) {
	key := stateKey(conversationID)
	var next domain.SessionState

	txf := func(tx *redis.Tx) error {
		current, err := readState(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		next = current.Apply(update)
		b, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.SessionState{}, fmt.Errorf("update session state of %s: %w", conversationID, err)
		}
		return next, nil
	}
	return domain.SessionState{}, fmt.Errorf("update session state of %s: too much contention", conversationID)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readState(ctx context.Context, c getter, conversationID string) (domain.SessionState, error) {
	raw, err := c.Get(ctx, stateKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionState{}, nil
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("read session state of %s: %w", conversationID, err)
	}
	var s domain.SessionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.SessionState{}, fmt.Errorf("decode session state of %s: %w", conversationID, err)
	}
	return s, nil
}
