// Package db provides database access and persistence functionality.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// SessionRepository handles session persistence operations.
// Closed rows are never modified again.
type SessionRepository struct {
	db    *Database
	clock quartz.Clock
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *Database, clock quartz.Clock) *SessionRepository {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &SessionRepository{db: db, clock: clock}
}

// now returns the store's notion of the current instant: UTC, whole seconds.
func (r *SessionRepository) now() time.Time {
	return r.clock.Now().UTC().Truncate(time.Second)
}

const sessionColumns = `id, player_id, label, start_time, end_time, elapsed_seconds`

// Open inserts a new open session and returns the id assigned to that insert.
// An empty label is stored as NULL.
func (r *SessionRepository) Open(ctx context.Context, playerID uuid.UUID, label string) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var lbl interface{}
	if label != "" {
		lbl = label
	}

	result, err := r.db.DB().ExecContext(ctx,
		`INSERT INTO pt_sessions (player_id, label, start_time, end_time, elapsed_seconds) VALUES (?, ?, ?, NULL, 0)`,
		playerID.String(), lbl, r.now())
	if err != nil {
		return 0, storeError("open session", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, storeError("read session id", err)
	}
	return id, nil
}

// Close records the end of an open session. It reports whether a row was
// closed; closing a missing or already closed session is not an error.
func (r *SessionRepository) Close(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var start time.Time
	err := r.db.DB().QueryRowContext(ctx,
		`SELECT start_time FROM pt_sessions WHERE id = ? AND end_time IS NULL`, id).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeError("load session start", err)
	}

	end := r.now()
	if end.Before(start) {
		end = start
	}
	elapsed := int64(end.Sub(start) / time.Second)

	result, err := r.db.DB().ExecContext(ctx,
		`UPDATE pt_sessions SET end_time = ?, elapsed_seconds = ? WHERE id = ? AND end_time IS NULL`,
		end, elapsed, id)
	if err != nil {
		return false, storeError("close session", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, storeError("get affected rows", err)
	}
	return affected > 0, nil
}

// GetByID retrieves a session record by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*SessionRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.DB().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM pt_sessions WHERE id = ?`, id)
	sr, err := r.scanSessionRecord(row)
	if err != nil {
		return nil, storeError("get session", err)
	}
	return sr, nil
}

// GetByPlayer retrieves all session records of a player, oldest first.
func (r *SessionRepository) GetByPlayer(ctx context.Context, playerID uuid.UUID) ([]*SessionRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM pt_sessions WHERE player_id = ? ORDER BY start_time ASC, id ASC`,
		playerID.String())
	if err != nil {
		return nil, storeError("query sessions by player", err)
	}
	defer rows.Close()

	records, err := r.scanSessionRecords(rows)
	if err != nil {
		return nil, storeError("scan sessions", err)
	}
	return records, nil
}

// CountOpen returns how many sessions of the player have no end time.
func (r *SessionRepository) CountOpen(ctx context.Context, playerID uuid.UUID) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var count int
	err := r.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pt_sessions WHERE player_id = ? AND end_time IS NULL`,
		playerID.String()).Scan(&count)
	if err != nil {
		return 0, storeError("count open sessions", err)
	}
	return count, nil
}

// SumElapsed adds up the player's recorded time. Closed rows contribute their
// stored elapsed seconds, open rows the time since they started. Rows whose
// label is excluded are skipped; rows without a label always count.
func (r *SessionRepository) SumElapsed(ctx context.Context, playerID uuid.UUID, excluded ExclusionSet) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter, filterArgs := exclusionFilter(excluded)
	args := append([]interface{}{playerID.String()}, filterArgs...)

	var closed int64
	err := r.db.DB().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(elapsed_seconds), 0) FROM pt_sessions WHERE player_id = ? AND end_time IS NOT NULL`+filter,
		args...).Scan(&closed)
	if err != nil {
		return 0, storeError("sum closed sessions", err)
	}

	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT start_time FROM pt_sessions WHERE player_id = ? AND end_time IS NULL`+filter,
		args...)
	if err != nil {
		return 0, storeError("query open sessions", err)
	}
	defer rows.Close()

	now := r.now()
	var open int64
	for rows.Next() {
		var start time.Time
		if err := rows.Scan(&start); err != nil {
			return 0, storeError("scan open session", err)
		}
		if d := now.Sub(start); d > 0 {
			open += int64(d / time.Second)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, storeError("iterate open sessions", err)
	}

	return closed + open, nil
}

func exclusionFilter(excluded ExclusionSet) (string, []interface{}) {
	labels := excluded.Labels()
	if len(labels) == 0 {
		return "", nil
	}
	args := make([]interface{}, len(labels))
	for i, l := range labels {
		args[i] = l
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(labels)), ", ")
	return " AND (label IS NULL OR label NOT IN (" + placeholders + "))", args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans one row; open rows get their elapsed time computed live.
func (r *SessionRepository) scanSession(row rowScanner) (*SessionRecord, error) {
	var sr SessionRecord
	var rawPlayerID string
	var label sql.NullString
	var endTime sql.NullTime

	if err := row.Scan(&sr.ID, &rawPlayerID, &label, &sr.StartTime, &endTime, &sr.ElapsedSeconds); err != nil {
		return nil, err
	}

	playerID, err := uuid.Parse(rawPlayerID)
	if err != nil {
		return nil, fmt.Errorf("malformed player id %q in session %d: %w", rawPlayerID, sr.ID, err)
	}
	sr.PlayerID = playerID

	if label.Valid {
		sr.Label = label.String
	}
	if endTime.Valid {
		sr.EndTime = endTime.Time
	} else if d := r.now().Sub(sr.StartTime); d > 0 {
		sr.ElapsedSeconds = int64(d / time.Second)
	}

	return &sr, nil
}

// scanSessionRecord scans a single row into a SessionRecord.
func (r *SessionRepository) scanSessionRecord(row *sql.Row) (*SessionRecord, error) {
	return r.scanSession(row)
}

// scanSessionRecords scans multiple rows into SessionRecords.
func (r *SessionRepository) scanSessionRecords(rows *sql.Rows) ([]*SessionRecord, error) {
	records := []*SessionRecord{}

	for rows.Next() {
		sr, err := r.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, sr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return records, nil
}
