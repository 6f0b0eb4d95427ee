package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"playtimetracker/internal/db"
	"playtimetracker/internal/session"
	"playtimetracker/internal/timefmt"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// ConnectRequest is the body of POST /api/events/connect.
type ConnectRequest struct {
	PlayerID    string `json:"player_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

// ServerSwitchRequest is the body of POST /api/events/server.
type ServerSwitchRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	Server   string `json:"server" binding:"required"`
}

// DisconnectRequest is the body of POST /api/events/disconnect.
type DisconnectRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

// PlaytimeResponse is a player's total with its rendered forms.
type PlaytimeResponse struct {
	PlayerID  string            `json:"player_id"`
	Seconds   int64             `json:"seconds"`
	Breakdown timefmt.Breakdown `json:"breakdown"`
	Short     string            `json:"short"`
	Normal    string            `json:"normal"`
	Detailed  string            `json:"detailed"`
}

// LeaderboardRow is one ranked line of GET /api/leaderboard.
type LeaderboardRow struct {
	Rank         int    `json:"rank"`
	DisplayName  string `json:"display_name"`
	TotalSeconds int64  `json:"total_seconds"`
	Playtime     string `json:"playtime"`
}

// OnlineResponse is the registry snapshot.
type OnlineResponse struct {
	Count   int              `json:"count"`
	Players []session.Handle `json:"players"`
}

// ReloadResponse reports a full recomputation.
type ReloadResponse struct {
	Updated int    `json:"updated"`
	Errors  string `json:"errors,omitempty"`
}

func parsePlayerID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid player id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// Event Handlers

// postConnect registers a player who joined the proxy.
// POST /api/events/connect
func (a *APIServer) postConnect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	id, ok := parsePlayerID(c, req.PlayerID)
	if !ok {
		return
	}

	if err := a.tracker.Connect(c.Request.Context(), id, req.DisplayName); err != nil {
		respondTrackerError(c, "Failed to register player", err)
		return
	}
	respondSuccess(c, gin.H{"player_id": id.String()})
}

// postServerSwitch records that a player was routed to a backend server.
// POST /api/events/server
func (a *APIServer) postServerSwitch(c *gin.Context) {
	var req ServerSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	id, ok := parsePlayerID(c, req.PlayerID)
	if !ok {
		return
	}

	if err := a.tracker.ServerSwitch(c.Request.Context(), id, req.Server); err != nil {
		respondTrackerError(c, "Failed to switch server", err)
		return
	}
	respondSuccess(c, gin.H{"player_id": id.String(), "server": req.Server})
}

// postDisconnect closes the player's session.
// POST /api/events/disconnect
func (a *APIServer) postDisconnect(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	id, ok := parsePlayerID(c, req.PlayerID)
	if !ok {
		return
	}

	if err := a.tracker.Disconnect(c.Request.Context(), id); err != nil {
		respondTrackerError(c, "Failed to close session", err)
		return
	}
	respondSuccess(c, gin.H{"player_id": id.String()})
}

// Query Handlers

// getPlaytime returns the player's current total.
// GET /api/players/:id/playtime
func (a *APIServer) getPlaytime(c *gin.Context) {
	id, ok := parsePlayerID(c, c.Param("id"))
	if !ok {
		return
	}

	seconds, err := a.tracker.CurrentPlaytime(c.Request.Context(), id)
	if err != nil {
		respondTrackerError(c, "Failed to get playtime", err)
		return
	}

	b, _ := timefmt.ToBreakdown(seconds)
	respondSuccess(c, PlaytimeResponse{
		PlayerID:  id.String(),
		Seconds:   seconds,
		Breakdown: b,
		Short:     timefmt.Short(seconds),
		Normal:    timefmt.Normal(seconds),
		Detailed:  timefmt.Detailed(seconds),
	})
}

// getPlayerSessions lists every session of a player, oldest first.
// GET /api/players/:id/sessions
func (a *APIServer) getPlayerSessions(c *gin.Context) {
	id, ok := parsePlayerID(c, c.Param("id"))
	if !ok {
		return
	}

	records, err := a.tracker.Sessions(c.Request.Context(), id)
	if err != nil {
		respondTrackerError(c, "Failed to get sessions", err)
		return
	}

	dtos := make([]db.SessionDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, r.ToDTO())
	}
	respondSuccess(c, dtos)
}

// getSession returns one session row.
// GET /api/sessions/:id
func (a *APIServer) getSession(c *gin.Context) {
	sid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || sid <= 0 {
		respondError(c, http.StatusBadRequest, "Invalid session id", c.Param("id"))
		return
	}

	record, err := a.tracker.Session(c.Request.Context(), sid)
	if err != nil {
		respondTrackerError(c, "Failed to get session", err)
		return
	}
	respondSuccess(c, record.ToDTO())
}

// getLeaderboard returns the top players by stored total.
// GET /api/leaderboard?limit=N
func (a *APIServer) getLeaderboard(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "Invalid limit", fmt.Sprintf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	entries, err := a.tracker.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondTrackerError(c, "Failed to get leaderboard", err)
		return
	}

	rows := make([]LeaderboardRow, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, LeaderboardRow{
			Rank:         i + 1,
			DisplayName:  e.DisplayName,
			TotalSeconds: e.TotalSeconds,
			Playtime:     timefmt.Normal(e.TotalSeconds),
		})
	}
	respondSuccess(c, rows)
}

// getOnline returns the players that currently have an open session.
// GET /api/online
func (a *APIServer) getOnline(c *gin.Context) {
	players := a.tracker.Online()
	respondSuccess(c, OnlineResponse{Count: len(players), Players: players})
}

// Admin Handlers

// postReload recomputes every stored total from the session log.
// POST /api/admin/reload
func (a *APIServer) postReload(c *gin.Context) {
	updated, err := a.tracker.ReloadAll(c.Request.Context())
	if err != nil && updated == 0 {
		respondTrackerError(c, "Reload failed", err)
		return
	}

	resp := ReloadResponse{Updated: updated}
	if err != nil {
		resp.Errors = err.Error()
		respondSuccessWithMsg(c, "reload finished with failures", resp)
		return
	}
	respondSuccessWithMsg(c, fmt.Sprintf("reloaded %d player(s)", updated), resp)
}

// postSweep runs one sweep immediately.
// POST /api/admin/sweep
func (a *APIServer) postSweep(c *gin.Context) {
	respondSuccess(c, a.tracker.PeriodicSweep(c.Request.Context()))
}
