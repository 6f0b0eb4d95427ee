// Package app wires configuration, storage, the tracker and the API into
// one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"

	"playtimetracker/internal/api"
	"playtimetracker/internal/cache"
	"playtimetracker/internal/config"
	"playtimetracker/internal/db"
	"playtimetracker/internal/logger"
	"playtimetracker/internal/monitor"
	"playtimetracker/internal/tracker"
)

// ShutdownTimeout bounds closing open sessions when the process stops.
const ShutdownTimeout = 15 * time.Second

// Options control how the process is assembled.
type Options struct {
	ConfigPath string
	// ListenAddr overrides api.listen_addr when set.
	ListenAddr string
	// Console mirrors log output to stderr.
	Console bool
	// Clock defaults to the real clock.
	Clock quartz.Clock
}

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	opts Options

	mu  sync.RWMutex
	cfg *config.GlobalConfig

	database *db.Database
	repo     *db.Repository
	cache    cache.Cache
	monitor  *monitor.Monitor
	metrics  *monitor.PrometheusMetrics
	tracker  *tracker.Coordinator

	api     *api.APIServer
	watcher *config.Watcher
}

// New loads the configuration and opens the store and cache. Nothing is
// scheduled until Run.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadGlobalConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Debug:   cfg.DebugMode,
		Dir:     cfg.LogDir,
		Console: opts.Console,
	}); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.Options())
	if err != nil {
		return nil, err
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, err
	}

	c, err := cache.New(cfg.Cache.Options())
	if err != nil {
		database.Close()
		return nil, err
	}

	mon := monitor.NewMonitor()
	metrics := monitor.NewPrometheusMetrics(mon)
	repo := db.NewRepository(database, opts.Clock)

	coord := tracker.New(repo, nil, tracker.Options{
		Excluded:      cfg.Exclusions(),
		SweepInterval: cfg.SweepInterval(),
		Cooldown:      cfg.PlaytimeCooldown(),
		Parallelism:   database.DB().Stats().MaxOpenConnections,
		Verbose:       cfg.PrintSessionUpdate,
		Clock:         opts.Clock,
		Cache:         c,
		Metrics:       metrics,
	})

	metrics.SetSources(monitor.Sources{
		OnlinePlayers: coord.OnlineCount,
		ActiveQueues:  coord.ActiveQueues,
		DBStats:       database.Stats,
	})

	logger.Info("Using %s store, %s cache, excluding %v",
		database.Dialect(), cfg.Cache.Backend, cfg.Exclusions().Labels())

	return &App{
		opts:     opts,
		cfg:      cfg,
		database: database,
		repo:     repo,
		cache:    c,
		monitor:  mon,
		metrics:  metrics,
		tracker:  coord,
	}, nil
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.GlobalConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Tracker returns the playtime coordinator.
func (a *App) Tracker() *tracker.Coordinator {
	return a.tracker
}

// Repository returns the session repository.
func (a *App) Repository() *db.Repository {
	return a.repo
}

// API returns the HTTP server, nil until Run has started it.
func (a *App) API() *api.APIServer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.api
}

// Run serves until ctx is cancelled, then closes every open session.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()

	if cfg.ReloadPlayers {
		if err := a.reloadOnStartup(ctx, cfg); err != nil {
			return err
		}
	}

	a.tracker.Start(ctx)

	addr := cfg.API.ListenAddr
	if a.opts.ListenAddr != "" {
		addr = a.opts.ListenAddr
	}
	srv := api.NewAPIServer(cfg.API, a.tracker, a.monitor, a.metrics)
	if err := srv.Start(addr); err != nil {
		shutdownErr := a.shutdownTracker()
		return errors.Join(fmt.Errorf("failed to start API on %s: %w", addr, err), shutdownErr)
	}
	a.mu.Lock()
	a.api = srv
	a.mu.Unlock()

	if _, err := os.Stat(a.opts.ConfigPath); err == nil {
		a.watcher = config.NewWatcher(a.opts.ConfigPath, a.applyConfig)
		if err := a.watcher.Watch(ctx); err != nil {
			logger.Warn("Config hot reload disabled: %v", err)
			a.watcher = nil
		}
	}

	logger.Info("Playtime tracker running")
	<-ctx.Done()
	logger.Info("Shutting down")

	if a.watcher != nil {
		a.watcher.Stop()
	}
	var errList []error
	if err := srv.Stop(); err != nil {
		errList = append(errList, fmt.Errorf("failed to stop API: %w", err))
	}
	if err := a.shutdownTracker(); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

// reloadOnStartup recomputes every total and clears the flag so the next
// start skips it. Individual player failures are logged, not fatal, but the
// flag stays set when no player could be reloaded.
func (a *App) reloadOnStartup(ctx context.Context, cfg *config.GlobalConfig) error {
	n, err := a.tracker.ReloadAll(ctx)
	if err != nil {
		if n == 0 {
			if ctx.Err() != nil {
				return err
			}
			logger.Error("Startup reload failed, reload_players stays set: %v", err)
			return nil
		}
		logger.Warn("Startup reload incomplete: %v", err)
	}

	next := *cfg
	next.ReloadPlayers = false
	if err := next.Save(a.opts.ConfigPath); err != nil {
		logger.Warn("Failed to reset reload_players: %v", err)
	}

	a.mu.Lock()
	a.cfg = &next
	a.mu.Unlock()
	return nil
}

func (a *App) shutdownTracker() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := a.tracker.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to close open sessions: %w", err)
	}
	return nil
}

// applyConfig takes over the settings that can change at runtime. The rest
// need a restart.
func (a *App) applyConfig(next *config.GlobalConfig) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	if next.DebugMode {
		logger.SetLevel(logger.LevelDebug)
	} else {
		logger.SetLevel(logger.LevelInfo)
	}
	a.tracker.SetVerbose(next.PrintSessionUpdate)

	if restartNeeded(prev, next) {
		logger.Warn("Database, cache, exclusion, interval or API changes take effect after a restart")
	}
}

func restartNeeded(prev, next *config.GlobalConfig) bool {
	if prev.Database != next.Database || prev.Cache != next.Cache || prev.API != next.API {
		return true
	}
	if prev.SweepIntervalSeconds != next.SweepIntervalSeconds || prev.PlaytimeCooldownMs != next.PlaytimeCooldownMs {
		return true
	}
	return !slices.Equal(prev.Exclusions().Labels(), next.Exclusions().Labels())
}

// Close releases the cache, the store and the log file.
func (a *App) Close() error {
	var errList []error
	if err := a.cache.Close(); err != nil {
		errList = append(errList, fmt.Errorf("failed to close cache: %w", err))
	}
	if err := a.database.Close(); err != nil {
		errList = append(errList, fmt.Errorf("failed to close database: %w", err))
	}
	logger.Sync()
	return errors.Join(errList...)
}
