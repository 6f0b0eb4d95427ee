// Package db provides database access and persistence functionality.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// Options describes how to reach the store. Host, Port, Database, Username,
// Password and UseSSL apply to MySQL; Path applies to SQLite.
type Options struct {
	Dialect  Dialect
	Host     string
	Port     int
	Database string
	Username string
	Password string
	UseSSL   bool
	Path     string

	MaxOpenConns int
	MaxIdleConns int
	// ConnTimeout bounds dialing and waiting for a free pooled connection.
	ConnTimeout time.Duration
	IdleTimeout time.Duration
	MaxLifetime time.Duration
}

// DefaultOptions mirrors the pool the plugin used to run with.
func DefaultOptions() Options {
	return Options{
		Dialect:      DialectSQLite,
		Port:         3306,
		Path:         "playtime.db",
		MaxOpenConns: 5,
		MaxIdleConns: 1,
		ConnTimeout:  8 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxLifetime:  10 * time.Minute,
	}
}

// Database wraps the pooled SQL connection.
type Database struct {
	db        *sql.DB
	dialect   Dialect
	opTimeout time.Duration
}

// NewDatabase opens a SQLite database at path with default pool options.
func NewDatabase(path string) (*Database, error) {
	opts := DefaultOptions()
	opts.Dialect = DialectSQLite
	opts.Path = path
	return Open(opts)
}

// Open creates the connection pool described by opts and verifies it.
func Open(opts Options) (*Database, error) {
	var (
		driver string
		dsn    string
	)

	switch opts.Dialect {
	case DialectMySQL:
		driver = "mysql"
		dsn = mysqlDSN(opts)
	case DialectSQLite, "":
		opts.Dialect = DialectSQLite
		driver = "sqlite"
		// - busy_timeout: wait up to 5 seconds when the database is locked
		// - journal_mode=WAL: readers do not block the single writer
		// - foreign_keys: sessions must reference a known player
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", opts.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.Dialect == DialectSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxIdleTime(opts.IdleTimeout)
		db.SetConnMaxLifetime(opts.MaxLifetime)
	}

	timeout := opts.ConnTimeout
	if timeout <= 0 {
		timeout = DefaultOptions().ConnTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db, dialect: opts.Dialect, opTimeout: timeout}, nil
}

func mysqlDSN(opts Options) string {
	cfg := mysql.NewConfig()
	cfg.User = opts.Username
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	cfg.Timeout = opts.ConnTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if opts.UseSSL {
		cfg.TLSConfig = "true"
	} else {
		cfg.TLSConfig = "false"
	}
	return cfg.FormatDSN()
}

// Initialize creates the required database schema tables.
func (d *Database) Initialize() error {
	for _, stmt := range schemaFor(d.dialect) {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func schemaFor(dialect Dialect) []string {
	if dialect == DialectMySQL {
		return []string{
			`CREATE TABLE IF NOT EXISTS pt_players (
				id CHAR(36) NOT NULL PRIMARY KEY,
				display_name VARCHAR(64) NOT NULL,
				total_seconds BIGINT NOT NULL DEFAULT 0,
				INDEX idx_pt_players_total (total_seconds DESC)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS pt_sessions (
				id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				player_id CHAR(36) NOT NULL,
				label VARCHAR(64) NULL,
				start_time DATETIME NOT NULL,
				end_time DATETIME NULL,
				elapsed_seconds BIGINT NOT NULL DEFAULT 0,
				INDEX idx_pt_sessions_player (player_id),
				CONSTRAINT fk_pt_sessions_player FOREIGN KEY (player_id) REFERENCES pt_players(id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS pt_players (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			total_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pt_players_total ON pt_players(total_seconds DESC)`,
		`CREATE TABLE IF NOT EXISTS pt_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL REFERENCES pt_players(id),
			label TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			elapsed_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pt_sessions_player ON pt_sessions(player_id)`,
	}
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// DB returns the underlying sql.DB for use by repositories.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Dialect reports which SQL flavour the pool speaks.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// Stats exposes pool statistics for metrics.
func (d *Database) Stats() sql.DBStats {
	return d.db.Stats()
}

// withTimeout bounds a single repository operation, including the wait for a
// pooled connection.
func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.opTimeout)
}
