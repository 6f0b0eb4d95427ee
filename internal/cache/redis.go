package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"playtimetracker/internal/errs"
)

const keyPrefix = "playtime"

const (
	fieldSeconds    = "seconds"
	fieldComputedAt = "computed_at"
)

// totalKey returns the Redis hash holding a player's cached total.
func totalKey(playerID uuid.UUID) string {
	return fmt.Sprintf("%s:total:%s", keyPrefix, playerID)
}

// Redis shares cached totals between several tracker processes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to cfg.URL and verifies the connection.
func NewRedis(cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w: %w", errs.ErrConfiguration, err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w: %w", errs.ErrStoreUnavailable, err)
	}

	return NewRedisWithClient(client, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client (for testing).
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

var _ Cache = (*Redis)(nil)

func (r *Redis) Get(ctx context.Context, playerID uuid.UUID) (Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, totalKey(playerID)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w: %w", errs.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}

	seconds, err := strconv.ParseInt(fields[fieldSeconds], 10, 64)
	if err != nil {
		return Entry{}, false, nil
	}
	computedAt, err := strconv.ParseInt(fields[fieldComputedAt], 10, 64)
	if err != nil {
		return Entry{}, false, nil
	}
	return Entry{Seconds: seconds, ComputedAt: time.UnixMilli(computedAt).UTC()}, true, nil
}

func (r *Redis) Set(ctx context.Context, playerID uuid.UUID, entry Entry) error {
	key := totalKey(playerID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		fieldSeconds, entry.Seconds,
		fieldComputedAt, entry.ComputedAt.UnixMilli(),
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w: %w", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, playerID uuid.UUID) error {
	if err := r.client.Del(ctx, totalKey(playerID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w: %w", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
