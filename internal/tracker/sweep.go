package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"playtimetracker/internal/logger"
	"playtimetracker/internal/monitor"
)

// SweepResult describes one PeriodicSweep call.
type SweepResult struct {
	// Skipped is set when another sweep was still running.
	Skipped bool `json:"skipped"`
	// Idle is set when nobody was online.
	Idle     bool          `json:"idle"`
	Players  int           `json:"players"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// PeriodicSweep recomputes the stored total of every player with an open
// session. Sessions stay open; their elapsed time is counted live. A call
// made while another sweep is in flight returns immediately with Skipped.
func (c *Coordinator) PeriodicSweep(ctx context.Context) SweepResult {
	if !c.sweeping.CompareAndSwap(false, true) {
		logger.Debug("Sweep already running, skipping")
		c.metrics.ObserveSweep(monitor.SweepSkipped, 0, 0)
		return SweepResult{Skipped: true}
	}
	defer c.sweeping.Store(false)

	ids := c.registry.AllOpenPlayerIDs()
	if len(ids) == 0 {
		c.metrics.ObserveSweep(monitor.SweepIdle, 0, 0)
		return SweepResult{Idle: true}
	}

	if c.verbose.Load() {
		logger.Info("Updating playtime sessions of %d player(s)", len(ids))
	}

	start := c.clock.Now()
	var failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(c.parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := c.dispatcher.Do(ctx, id, func(ctx context.Context) error {
				// The player may have left between the snapshot and now.
				if !c.registry.HasOpen(id) {
					return nil
				}
				_, err := c.recompute(ctx, id)
				return err
			})
			if err != nil {
				failed.Add(1)
				logger.Warn("Sweep failed to update player %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{
		Players:  len(ids),
		Failed:   int(failed.Load()),
		Duration: c.clock.Since(start),
	}
	outcome := monitor.SweepCompleted
	if res.Failed > 0 {
		outcome = monitor.SweepPartial
	}
	c.metrics.ObserveSweep(outcome, res.Players, res.Duration)
	logger.Debug("Sweep updated %d player(s), %d failed, took %v", res.Players, res.Failed, res.Duration)
	return res
}

// ReloadAll recomputes the total of every known player from the session log,
// ignoring the registry. It returns how many players were updated; failures
// for individual players are joined into the error.
func (c *Coordinator) ReloadAll(ctx context.Context) (int, error) {
	ids, err := c.store.ListPlayerIDs(ctx)
	if err != nil {
		c.metrics.IncStoreError("list_players")
		c.metrics.ObserveReload(err)
		return 0, fmt.Errorf("list players: %w", err)
	}

	logger.Info("Reloading playtime of %d player(s)", len(ids))

	var (
		mu       sync.Mutex
		failures []error
		updated  atomic.Int32
	)

	g := new(errgroup.Group)
	g.SetLimit(c.parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := c.dispatcher.Do(ctx, id, func(ctx context.Context) error {
				_, err := c.recompute(ctx, id)
				return err
			})
			if err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("player %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	err = errors.Join(failures...)
	c.metrics.ObserveReload(err)
	if err != nil {
		logger.Warn("Reload finished with %d failure(s)", len(failures))
	} else {
		logger.Info("Reloaded playtime of %d player(s)", updated.Load())
	}
	return int(updated.Load()), err
}

// Start schedules the periodic sweep. It is a no-op if already started.
func (c *Coordinator) Start(ctx context.Context) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.stopTicker != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.stopTicker = cancel
	c.ticker = c.clock.TickerFunc(ctx, c.interval, func() error {
		c.PeriodicSweep(ctx)
		return nil
	}, "sweep")
	logger.Info("Playtime sweep scheduled every %v", c.interval)
}

// Shutdown stops the sweep, closes every open session and stores the final
// totals. It does not wait past ctx for an in-flight sweep. Errors closing
// individual sessions are joined into the result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.lifeMu.Lock()
	stop, ticker := c.stopTicker, c.ticker
	c.stopTicker, c.ticker = nil, nil
	c.lifeMu.Unlock()

	if stop != nil {
		stop()
		done := make(chan struct{})
		go func() {
			_ = ticker.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn("Sweep still running at shutdown")
		}
	}

	handles := c.registry.Snapshot()
	var failures []error
	for _, h := range handles {
		playerID := h.PlayerID
		err := c.dispatcher.Commit(ctx, playerID, func(ctx context.Context) error {
			cur, ok := c.registry.Get(playerID)
			if !ok {
				return nil
			}
			if err := c.store.CloseSession(ctx, cur.SessionID); err != nil {
				return err
			}
			c.registry.Remove(playerID)
			if _, err := c.recompute(ctx, playerID); err != nil {
				logger.Warn("Failed to store final playtime of player %s: %v", playerID, err)
			}
			return nil
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("close session of player %s: %w", playerID, err))
		}
	}

	c.dispatcher.Close()

	if len(handles) > 0 {
		logger.Info("Closed %d open session(s) at shutdown", len(handles)-len(failures))
	}
	return errors.Join(failures...)
}

// Running reports whether the periodic sweep is scheduled.
func (c *Coordinator) Running() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.stopTicker != nil
}
