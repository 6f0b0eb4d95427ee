// Package cache holds the most recently computed playtime total per player,
// so repeated queries inside the cooldown window do not reach the store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"playtimetracker/internal/errs"
)

// Entry is a computed total and the instant it was computed.
type Entry struct {
	Seconds    int64
	ComputedAt time.Time
}

// Cache stores one Entry per player. Implementations are safe for concurrent use.
type Cache interface {
	// Get returns the player's entry; ok is false on a miss.
	Get(ctx context.Context, playerID uuid.UUID) (entry Entry, ok bool, err error)
	Set(ctx context.Context, playerID uuid.UUID, entry Entry) error
	Delete(ctx context.Context, playerID uuid.UUID) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and tunes the cache backend.
type Config struct {
	Backend string
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string
	// TTL bounds how long an entry survives in Redis. Zero keeps entries forever.
	TTL time.Duration
}

// DefaultConfig returns an in-process cache.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		URL:     "redis://localhost:6379/0",
		TTL:     24 * time.Hour,
	}
}

// New builds the backend named by cfg.Backend.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unknown cache backend %q: %w", cfg.Backend, errs.ErrConfiguration)
	}
}
