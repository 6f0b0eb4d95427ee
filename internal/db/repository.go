package db

import (
	"context"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// Repository is the session repository the tracker works against.
// Every method is one independent unit of work on the pool.
type Repository struct {
	Players  *PlayerRepository
	Sessions *SessionRepository
}

// NewRepository creates the repository over an initialized database.
func NewRepository(database *Database, clock quartz.Clock) *Repository {
	return &Repository{
		Players:  NewPlayerRepository(database),
		Sessions: NewSessionRepository(database, clock),
	}
}

// RegisterUser upserts the player. Idempotent.
func (r *Repository) RegisterUser(ctx context.Context, id uuid.UUID, displayName string) error {
	return r.Players.Register(ctx, id, displayName)
}

// OpenSession starts a session for the player on the given server label.
func (r *Repository) OpenSession(ctx context.Context, playerID uuid.UUID, label string) (int64, error) {
	return r.Sessions.Open(ctx, playerID, label)
}

// CloseSession ends the session if it is still open.
func (r *Repository) CloseSession(ctx context.Context, sessionID int64) error {
	_, err := r.Sessions.Close(ctx, sessionID)
	return err
}

// ComputeAndStoreTotal recomputes the player's total from the session log,
// writes it to the totals table and returns it.
func (r *Repository) ComputeAndStoreTotal(ctx context.Context, playerID uuid.UUID, excluded ExclusionSet) (int64, error) {
	total, err := r.Sessions.SumElapsed(ctx, playerID, excluded)
	if err != nil {
		return 0, err
	}
	if err := r.Players.SetTotal(ctx, playerID, total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetCachedTotal reads the stored total without recomputing it.
func (r *Repository) GetCachedTotal(ctx context.Context, playerID uuid.UUID) (int64, error) {
	return r.Players.GetTotal(ctx, playerID)
}

// TopPlayers returns at most n players by stored total, highest first.
func (r *Repository) TopPlayers(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	return r.Players.Top(ctx, n)
}

// ListSessions returns every session of the player, oldest first.
func (r *Repository) ListSessions(ctx context.Context, playerID uuid.UUID) ([]*SessionRecord, error) {
	return r.Sessions.GetByPlayer(ctx, playerID)
}

// GetSession returns one session or errs.ErrNotFound.
func (r *Repository) GetSession(ctx context.Context, sessionID int64) (*SessionRecord, error) {
	return r.Sessions.GetByID(ctx, sessionID)
}

// GetPlayer returns the player's row or errs.ErrNotFound.
func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*PlayerRecord, error) {
	return r.Players.GetByID(ctx, id)
}

// ListPlayerIDs returns every registered player.
func (r *Repository) ListPlayerIDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.Players.ListIDs(ctx)
}

// CountOpenSessions returns how many sessions of the player are open.
func (r *Repository) CountOpenSessions(ctx context.Context, playerID uuid.UUID) (int, error) {
	return r.Sessions.CountOpen(ctx, playerID)
}
