// Package tracker turns player lifecycle events into session rows and keeps
// each player's playtime total up to date.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"playtimetracker/internal/cache"
	"playtimetracker/internal/db"
	"playtimetracker/internal/errs"
	"playtimetracker/internal/logger"
	"playtimetracker/internal/monitor"
	"playtimetracker/internal/session"
)

// Store is the subset of the session repository the coordinator uses.
type Store interface {
	RegisterUser(ctx context.Context, id uuid.UUID, displayName string) error
	OpenSession(ctx context.Context, playerID uuid.UUID, label string) (int64, error)
	CloseSession(ctx context.Context, sessionID int64) error
	ComputeAndStoreTotal(ctx context.Context, playerID uuid.UUID, excluded db.ExclusionSet) (int64, error)
	GetCachedTotal(ctx context.Context, playerID uuid.UUID) (int64, error)
	TopPlayers(ctx context.Context, n int) ([]db.LeaderboardEntry, error)
	ListSessions(ctx context.Context, playerID uuid.UUID) ([]*db.SessionRecord, error)
	GetSession(ctx context.Context, sessionID int64) (*db.SessionRecord, error)
	ListPlayerIDs(ctx context.Context) ([]uuid.UUID, error)
}

var _ Store = (*db.Repository)(nil)

// Transition kinds, also used as metric labels.
const (
	KindConnect    = "connect"
	KindSwitch     = "server_switch"
	KindDisconnect = "disconnect"
)

// Options tunes the coordinator. Zero values take the defaults.
type Options struct {
	Excluded      db.ExclusionSet
	SweepInterval time.Duration
	Cooldown      time.Duration
	// Parallelism bounds concurrent recomputations in a sweep or reload.
	// It should not exceed the store's connection pool.
	Parallelism int
	Verbose     bool

	Clock   quartz.Clock
	Cache   cache.Cache
	Metrics *monitor.PrometheusMetrics
}

// DefaultOptions returns the intervals the tracker has always used.
func DefaultOptions() Options {
	return Options{
		SweepInterval: 30 * time.Second,
		Cooldown:      time.Second,
		Parallelism:   5,
	}
}

// Coordinator applies connect, server switch and disconnect transitions,
// runs the periodic sweep and answers playtime queries.
//
// Every transition for one player runs in that player's dispatcher queue,
// so the read-then-write on the registry entry never interleaves.
type Coordinator struct {
	store      Store
	registry   *session.Registry
	dispatcher *session.Dispatcher
	cache      cache.Cache
	clock      quartz.Clock
	metrics    *monitor.PrometheusMetrics

	excluded    db.ExclusionSet
	interval    time.Duration
	cooldown    time.Duration
	parallelism int

	verbose  atomic.Bool
	sweeping atomic.Bool

	namesMu sync.RWMutex
	names   map[uuid.UUID]string

	lifeMu     sync.Mutex
	stopTicker context.CancelFunc
	ticker     quartz.Waiter
}

// New creates a coordinator over store and registry.
func New(store Store, registry *session.Registry, opts Options) *Coordinator {
	defaults := DefaultOptions()
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaults.SweepInterval
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaults.Parallelism
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if registry == nil {
		registry = session.NewRegistry()
	}

	c := &Coordinator{
		store:       store,
		registry:    registry,
		dispatcher:  session.NewDispatcher(),
		cache:       opts.Cache,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		excluded:    opts.Excluded,
		interval:    opts.SweepInterval,
		cooldown:    opts.Cooldown,
		parallelism: opts.Parallelism,
		names:       make(map[uuid.UUID]string),
	}
	c.verbose.Store(opts.Verbose)
	return c
}

// Connect registers the player. No session is opened until the player is
// assigned a server.
func (c *Coordinator) Connect(ctx context.Context, playerID uuid.UUID, displayName string) error {
	return c.transition(ctx, KindConnect, playerID, func(ctx context.Context) error {
		if err := c.store.RegisterUser(ctx, playerID, displayName); err != nil {
			c.metrics.IncStoreError("register_user")
			return fmt.Errorf("register player %s: %w", playerID, err)
		}
		c.setName(playerID, displayName)
		logger.Debug("Player %s (%s) connected", displayName, playerID)
		return nil
	})
}

// ServerSwitch closes the player's open session, if any, and opens a new one
// on label. The first assignment after connect takes the same path.
func (c *Coordinator) ServerSwitch(ctx context.Context, playerID uuid.UUID, label string) error {
	return c.transition(ctx, KindSwitch, playerID, func(ctx context.Context) error {
		if prev, ok := c.registry.Get(playerID); ok {
			if err := c.store.CloseSession(ctx, prev.SessionID); err != nil {
				c.metrics.IncStoreError("close_session")
				return fmt.Errorf("close session %d of player %s: %w", prev.SessionID, playerID, err)
			}
			c.registry.Remove(playerID)
		}

		sid, err := c.store.OpenSession(ctx, playerID, label)
		if err != nil {
			c.metrics.IncStoreError("open_session")
			return fmt.Errorf("open session for player %s on %q: %w", playerID, label, err)
		}

		c.registry.Put(session.Handle{
			PlayerID:    playerID,
			SessionID:   sid,
			Server:      label,
			DisplayName: c.name(playerID),
			OpenedAt:    c.clock.Now().UTC(),
		})
		logger.Debug("Player %s moved to %q (session %d)", playerID, label, sid)
		return nil
	})
}

// Disconnect closes the player's open session and persists the final total.
// Calling it again is harmless: it only recomputes the total.
func (c *Coordinator) Disconnect(ctx context.Context, playerID uuid.UUID) error {
	return c.transition(ctx, KindDisconnect, playerID, func(ctx context.Context) error {
		if h, ok := c.registry.Get(playerID); ok {
			if err := c.store.CloseSession(ctx, h.SessionID); err != nil {
				c.metrics.IncStoreError("close_session")
				return fmt.Errorf("close session %d of player %s: %w", h.SessionID, playerID, err)
			}
			c.registry.Remove(playerID)
			logger.Debug("Closed session %d of player %s", h.SessionID, playerID)
		}
		c.forgetName(playerID)

		// The session is closed either way; a failed total is corrected by
		// the next query or reload.
		if _, err := c.recompute(ctx, playerID); err != nil {
			logger.Warn("Failed to store final playtime of player %s: %v", playerID, err)
		}
		return nil
	})
}

// transition runs fn in the player's queue. Once queued it is applied even if
// ctx ends first; the caller then gets ctx's error while fn completes.
func (c *Coordinator) transition(ctx context.Context, kind string, playerID uuid.UUID, fn session.Job) error {
	return c.dispatcher.Commit(ctx, playerID, func(ctx context.Context) error {
		err := fn(ctx)
		c.metrics.ObserveTransition(kind, err)
		return err
	})
}

// CurrentPlaytime returns the player's total in seconds. A value computed
// within the cooldown window is returned without touching the store. When the
// store is unavailable the last known value is returned instead.
func (c *Coordinator) CurrentPlaytime(ctx context.Context, playerID uuid.UUID) (int64, error) {
	now := c.clock.Now()

	entry, cached, err := c.cache.Get(ctx, playerID)
	if err != nil {
		logger.Warn("Playtime cache lookup failed for %s: %v", playerID, err)
		cached = false
	}
	if cached && now.Sub(entry.ComputedAt) < c.cooldown {
		c.metrics.ObserveCacheLookup(true)
		return entry.Seconds, nil
	}
	c.metrics.ObserveCacheLookup(false)

	var total int64
	err = c.dispatcher.Do(ctx, playerID, func(ctx context.Context) error {
		t, err := c.recompute(ctx, playerID)
		total = t
		return err
	})
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		return 0, err
	}

	if cached {
		c.metrics.IncDegraded()
		logger.Warn("Serving cached playtime of %s: %v", playerID, err)
		return entry.Seconds, nil
	}
	if stored, serr := c.store.GetCachedTotal(ctx, playerID); serr == nil {
		c.metrics.IncDegraded()
		logger.Warn("Serving stored playtime of %s: %v", playerID, err)
		return stored, nil
	}
	return 0, err
}

// Leaderboard returns at most n players by stored total, highest first.
func (c *Coordinator) Leaderboard(ctx context.Context, n int) ([]db.LeaderboardEntry, error) {
	entries, err := c.store.TopPlayers(ctx, n)
	if err != nil {
		c.metrics.IncStoreError("top_players")
		return nil, err
	}
	return entries, nil
}

// Sessions lists every recorded session of the player.
func (c *Coordinator) Sessions(ctx context.Context, playerID uuid.UUID) ([]*db.SessionRecord, error) {
	return c.store.ListSessions(ctx, playerID)
}

// Session returns one recorded session.
func (c *Coordinator) Session(ctx context.Context, sessionID int64) (*db.SessionRecord, error) {
	return c.store.GetSession(ctx, sessionID)
}

// Online returns the players that currently have an open session.
func (c *Coordinator) Online() []session.Handle {
	return c.registry.Snapshot()
}

// OnlineCount returns the number of players with an open session.
func (c *Coordinator) OnlineCount() int {
	return c.registry.Count()
}

// ActiveQueues returns the number of players with pending work.
func (c *Coordinator) ActiveQueues() int {
	return c.dispatcher.ActiveQueues()
}

// Excluded returns the labels whose time is not counted.
func (c *Coordinator) Excluded() db.ExclusionSet {
	return c.excluded
}

// SetVerbose toggles the per-sweep info log line.
func (c *Coordinator) SetVerbose(v bool) {
	c.verbose.Store(v)
}

// recompute must run inside the player's queue.
func (c *Coordinator) recompute(ctx context.Context, playerID uuid.UUID) (int64, error) {
	total, err := c.store.ComputeAndStoreTotal(ctx, playerID, c.excluded)
	if err != nil {
		if errs.IsTransient(err) {
			c.metrics.IncStoreError("compute_total")
		}
		return 0, err
	}
	if err := c.cache.Set(ctx, playerID, cache.Entry{Seconds: total, ComputedAt: c.clock.Now()}); err != nil {
		logger.Warn("Failed to cache playtime of %s: %v", playerID, err)
	}
	return total, nil
}

func (c *Coordinator) setName(id uuid.UUID, name string) {
	c.namesMu.Lock()
	c.names[id] = name
	c.namesMu.Unlock()
}

func (c *Coordinator) forgetName(id uuid.UUID) {
	c.namesMu.Lock()
	delete(c.names, id)
	c.namesMu.Unlock()
}

func (c *Coordinator) name(id uuid.UUID) string {
	c.namesMu.RLock()
	defer c.namesMu.RUnlock()
	return c.names[id]
}
