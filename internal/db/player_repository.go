// Package db provides database access and persistence functionality.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"playtimetracker/internal/logger"
)

// PlayerRepository handles player persistence operations.
type PlayerRepository struct {
	db *Database
}

// NewPlayerRepository creates a new player repository.
func NewPlayerRepository(db *Database) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// Register inserts the player or overwrites the display name of an existing one.
// The cached total of an existing player is left untouched.
func (r *PlayerRepository) Register(ctx context.Context, id uuid.UUID, displayName string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO pt_players (id, display_name, total_seconds) VALUES (?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name
	`
	if r.db.Dialect() == DialectMySQL {
		query = `
		INSERT INTO pt_players (id, display_name, total_seconds) VALUES (?, ?, 0)
		ON DUPLICATE KEY UPDATE display_name = VALUES(display_name)
	`
	}

	if _, err := r.db.DB().ExecContext(ctx, query, id.String(), displayName); err != nil {
		return storeError("register player", err)
	}
	return nil
}

// GetByID retrieves a player record by id.
func (r *PlayerRepository) GetByID(ctx context.Context, id uuid.UUID) (*PlayerRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, display_name, total_seconds FROM pt_players WHERE id = ?`
	row := r.db.DB().QueryRowContext(ctx, query, id.String())

	pr, err := r.scanPlayerRecord(row)
	if err != nil {
		return nil, storeError("get player", err)
	}
	return pr, nil
}

// GetTotal reads the cached total without recomputing it.
func (r *PlayerRepository) GetTotal(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var total int64
	err := r.db.DB().QueryRowContext(ctx, `SELECT total_seconds FROM pt_players WHERE id = ?`, id.String()).Scan(&total)
	if err != nil {
		return 0, storeError("get player total", err)
	}
	return total, nil
}

// SetTotal overwrites the cached total. Unknown players yield errs.ErrNotFound.
func (r *PlayerRepository) SetTotal(ctx context.Context, id uuid.UUID, total int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.db.DB().ExecContext(ctx, `UPDATE pt_players SET total_seconds = ? WHERE id = ?`, total, id.String())
	if err != nil {
		return storeError("update player total", err)
	}

	// MySQL reports matched rather than changed rows (ClientFoundRows).
	affected, err := result.RowsAffected()
	if err != nil {
		return storeError("get affected rows", err)
	}
	if affected == 0 {
		return storeError("update player total", sql.ErrNoRows)
	}
	return nil
}

// Top returns at most n players ordered by cached total, highest first.
// Order among equal totals is whatever the store returns.
func (r *PlayerRepository) Top(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		return []LeaderboardEntry{}, nil
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT display_name, total_seconds FROM pt_players ORDER BY total_seconds DESC LIMIT ?`, n)
	if err != nil {
		return nil, storeError("query top players", err)
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0, n)
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.DisplayName, &e.TotalSeconds); err != nil {
			return nil, storeError("scan top player row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate top player rows", err)
	}
	return entries, nil
}

// ListIDs returns every known player id. Rows with malformed ids are skipped.
func (r *PlayerRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(ctx, `SELECT id FROM pt_players`)
	if err != nil {
		return nil, storeError("list player ids", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, storeError("scan player id", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			logger.Warn("Skipping player row with malformed id %q: %v", raw, err)
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate player ids", err)
	}
	return ids, nil
}

// Count returns the number of known players.
func (r *PlayerRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM pt_players").Scan(&count); err != nil {
		return 0, storeError("count players", err)
	}
	return count, nil
}

// scanPlayerRecord scans a single row into a PlayerRecord.
func (r *PlayerRepository) scanPlayerRecord(row *sql.Row) (*PlayerRecord, error) {
	var pr PlayerRecord
	var rawID string

	if err := row.Scan(&rawID, &pr.DisplayName, &pr.TotalSeconds); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("malformed player id %q: %w", rawID, err)
	}
	pr.ID = id
	return &pr, nil
}
