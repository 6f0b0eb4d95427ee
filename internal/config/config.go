// Package config provides configuration management for the playtime tracker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"playtimetracker/internal/cache"
	"playtimetracker/internal/db"
	"playtimetracker/internal/errs"
)

// DatabaseConfig describes the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" json:"driver"` // mysql or sqlite
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	UseSSL   bool   `yaml:"use_ssl" json:"use_ssl"`
	Path     string `yaml:"path" json:"path"` // SQLite file

	MaxOpenConns       int `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns       int `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnTimeoutMs      int `yaml:"conn_timeout_ms" json:"conn_timeout_ms"`
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`
	MaxLifetimeSeconds int `yaml:"max_lifetime_seconds" json:"max_lifetime_seconds"`
}

// Options converts the section into store options.
func (dc DatabaseConfig) Options() db.Options {
	return db.Options{
		Dialect:      db.Dialect(dc.Driver),
		Host:         dc.Host,
		Port:         dc.Port,
		Database:     dc.Database,
		Username:     dc.Username,
		Password:     dc.Password,
		UseSSL:       dc.UseSSL,
		Path:         dc.Path,
		MaxOpenConns: dc.MaxOpenConns,
		MaxIdleConns: dc.MaxIdleConns,
		ConnTimeout:  time.Duration(dc.ConnTimeoutMs) * time.Millisecond,
		IdleTimeout:  time.Duration(dc.IdleTimeoutSeconds) * time.Second,
		MaxLifetime:  time.Duration(dc.MaxLifetimeSeconds) * time.Second,
	}
}

// CacheConfig selects where computed totals are cached.
type CacheConfig struct {
	Backend  string `yaml:"backend" json:"backend"` // memory or redis
	RedisURL string `yaml:"redis_url" json:"-"`
	TTLHours int    `yaml:"ttl_hours" json:"ttl_hours"`
}

// Options converts the section into cache options.
func (cc CacheConfig) Options() cache.Config {
	return cache.Config{
		Backend: cc.Backend,
		URL:     cc.RedisURL,
		TTL:     time.Duration(cc.TTLHours) * time.Hour,
	}
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	APIKey     string `yaml:"api_key" json:"-"` // Empty restricts the API to loopback clients
}

// GlobalConfig represents the global application configuration.
type GlobalConfig struct {
	Database       DatabaseConfig `yaml:"database" json:"database"`
	ExcludeServers []string       `yaml:"exclude_servers" json:"exclude_servers"` // Time on these servers is not counted
	// ReloadPlayers recomputes every total at startup, then resets itself to false.
	ReloadPlayers        bool        `yaml:"reload_players" json:"reload_players"`
	PrintSessionUpdate   bool        `yaml:"print_session_update" json:"print_session_update"`
	SweepIntervalSeconds int         `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds"`
	PlaytimeCooldownMs   int         `yaml:"playtime_cooldown_ms" json:"playtime_cooldown_ms"`
	Cache                CacheConfig `yaml:"cache" json:"cache"`
	API                  APIConfig   `yaml:"api" json:"api"`
	DebugMode            bool        `yaml:"debug_mode" json:"debug_mode"` // Enable debug logging
	LogDir               string      `yaml:"log_dir" json:"log_dir"`       // Directory for log files
}

// DefaultGlobalConfig returns a GlobalConfig with default values.
func DefaultGlobalConfig() *GlobalConfig {
	dbDefaults := db.DefaultOptions()
	cacheDefaults := cache.DefaultConfig()
	return &GlobalConfig{
		Database: DatabaseConfig{
			Driver:             string(dbDefaults.Dialect),
			Host:               "localhost",
			Port:               dbDefaults.Port,
			Database:           "playtime",
			Path:               dbDefaults.Path,
			MaxOpenConns:       dbDefaults.MaxOpenConns,
			MaxIdleConns:       dbDefaults.MaxIdleConns,
			ConnTimeoutMs:      int(dbDefaults.ConnTimeout / time.Millisecond),
			IdleTimeoutSeconds: int(dbDefaults.IdleTimeout / time.Second),
			MaxLifetimeSeconds: int(dbDefaults.MaxLifetime / time.Second),
		},
		ExcludeServers:       []string{},
		SweepIntervalSeconds: 30,
		PlaytimeCooldownMs:   1000,
		Cache: CacheConfig{
			Backend:  cacheDefaults.Backend,
			RedisURL: cacheDefaults.URL,
			TTLHours: int(cacheDefaults.TTL / time.Hour),
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8085",
		},
		LogDir: "logs",
	}
}

// LoadGlobalConfig loads the global configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	config := DefaultGlobalConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read global config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse global config: %w: %w", errs.ErrConfiguration, err)
	}

	config.applyDefaults()
	return config, nil
}

// applyDefaults replaces zero values that would otherwise disable a feature.
func (gc *GlobalConfig) applyDefaults() {
	d := DefaultGlobalConfig()

	if gc.Database.Driver == "" {
		gc.Database.Driver = d.Database.Driver
	}
	if gc.Database.Port == 0 {
		gc.Database.Port = d.Database.Port
	}
	if gc.Database.Path == "" {
		gc.Database.Path = d.Database.Path
	}
	if gc.Database.MaxOpenConns == 0 {
		gc.Database.MaxOpenConns = d.Database.MaxOpenConns
	}
	if gc.Database.MaxIdleConns == 0 {
		gc.Database.MaxIdleConns = d.Database.MaxIdleConns
	}
	if gc.Database.ConnTimeoutMs == 0 {
		gc.Database.ConnTimeoutMs = d.Database.ConnTimeoutMs
	}
	if gc.Database.IdleTimeoutSeconds == 0 {
		gc.Database.IdleTimeoutSeconds = d.Database.IdleTimeoutSeconds
	}
	if gc.Database.MaxLifetimeSeconds == 0 {
		gc.Database.MaxLifetimeSeconds = d.Database.MaxLifetimeSeconds
	}
	if gc.ExcludeServers == nil {
		gc.ExcludeServers = []string{}
	}
	if gc.SweepIntervalSeconds == 0 {
		gc.SweepIntervalSeconds = d.SweepIntervalSeconds
	}
	if gc.Cache.Backend == "" {
		gc.Cache.Backend = d.Cache.Backend
	}
	if gc.Cache.TTLHours == 0 {
		gc.Cache.TTLHours = d.Cache.TTLHours
	}
	if gc.API.ListenAddr == "" {
		gc.API.ListenAddr = d.API.ListenAddr
	}
	if gc.LogDir == "" {
		gc.LogDir = d.LogDir
	}
}

// Save saves the global configuration to a YAML file.
func (gc *GlobalConfig) Save(path string) error {
	data, err := yaml.Marshal(gc)
	if err != nil {
		return fmt.Errorf("failed to marshal global config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write global config: %w", err)
	}

	return nil
}

// Validate validates the global configuration. Every returned error wraps
// errs.ErrConfiguration.
func (gc *GlobalConfig) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", errs.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	dbc := gc.Database
	switch db.Dialect(dbc.Driver) {
	case db.DialectMySQL:
		if dbc.Host == "" {
			return invalid("database.host is required for mysql")
		}
		if dbc.Database == "" {
			return invalid("database.database is required for mysql")
		}
		if dbc.Port < 1 || dbc.Port > 65535 {
			return invalid("database.port must be between 1 and 65535, got %d", dbc.Port)
		}
	case db.DialectSQLite:
		if dbc.Path == "" {
			return invalid("database.path is required for sqlite")
		}
	default:
		return invalid("database.driver must be mysql or sqlite, got %q", dbc.Driver)
	}
	if dbc.MaxOpenConns < 1 {
		return invalid("database.max_open_conns must be positive")
	}
	if dbc.MaxIdleConns < 0 || dbc.MaxIdleConns > dbc.MaxOpenConns {
		return invalid("database.max_idle_conns must be between 0 and max_open_conns")
	}
	if dbc.ConnTimeoutMs < 0 || dbc.IdleTimeoutSeconds < 0 || dbc.MaxLifetimeSeconds < 0 {
		return invalid("database timeouts cannot be negative")
	}

	for _, s := range gc.ExcludeServers {
		if s == "" {
			return invalid("exclude_servers cannot contain empty names")
		}
	}
	if gc.SweepIntervalSeconds < 1 {
		return invalid("sweep_interval_seconds must be positive, got %d", gc.SweepIntervalSeconds)
	}
	if gc.PlaytimeCooldownMs < 0 {
		return invalid("playtime_cooldown_ms cannot be negative")
	}

	switch gc.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendRedis:
		if gc.Cache.RedisURL == "" {
			return invalid("cache.redis_url is required for the redis backend")
		}
	default:
		return invalid("cache.backend must be memory or redis, got %q", gc.Cache.Backend)
	}
	if gc.Cache.TTLHours < 0 {
		return invalid("cache.ttl_hours cannot be negative")
	}
	return nil
}

// SweepInterval returns the sweep period.
func (gc *GlobalConfig) SweepInterval() time.Duration {
	return time.Duration(gc.SweepIntervalSeconds) * time.Second
}

// PlaytimeCooldown returns how long a computed total is reused.
func (gc *GlobalConfig) PlaytimeCooldown() time.Duration {
	return time.Duration(gc.PlaytimeCooldownMs) * time.Millisecond
}

// Exclusions returns the excluded server labels as a set.
func (gc *GlobalConfig) Exclusions() db.ExclusionSet {
	return db.NewExclusionSet(gc.ExcludeServers...)
}
