package optout

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"spamstop/internal/logging"
)

// RedisRepository keeps the numbers in a Redis set and their metadata in
// a hash at <key>:meta, so several machines can share one opt-out set.
type RedisRepository struct {
	client *redis.Client
	key    string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, key string) *RedisRepository {
	return &RedisRepository{client: client, key: key}
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, key string) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	logging.OptOut("Connected to redis %s (key %s)", addr, key)
	return NewRedis(client, key), nil
}

func (r *RedisRepository) metaKey() string {
	return r.key + ":meta"
}

func (r *RedisRepository) Contains(ctx context.Context, number string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, number).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

func (r *RedisRepository) Add(ctx context.Context, e Entry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	meta, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.key, e.Number)
		pipe.HSetNX(ctx, r.metaKey(), e.Number, meta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add: %w", err)
	}
	return nil
}

func (r *RedisRepository) Remove(ctx context.Context, number string) error {
	var srem *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		srem = pipe.SRem(ctx, r.key, number)
		pipe.HDel(ctx, r.metaKey(), number)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	if srem.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context) ([]Entry, error) {
	numbers, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	if len(numbers) == 0 {
		return nil, nil
	}
	slices.Sort(numbers)

	metas, err := r.client.HMGet(ctx, r.metaKey(), numbers...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}

	out := make([]Entry, 0, len(numbers))
	for i, n := range numbers {
		e := Entry{Number: n}
		if raw, ok := metas[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				logging.OptOutDebug("bad metadata for %s: %v", logging.MaskPhone(n), err)
			}
			e.Number = n
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisRepository) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return int(n), nil
}

func (r *RedisRepository) Flush(context.Context) error {
	return nil
}

// Close closes the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
