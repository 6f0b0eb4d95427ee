// Package db provides database access and persistence functionality.
package db

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// PlayerRecord represents a row of the totals table.
// TotalSeconds is a cache of the last aggregation, not a source of truth.
type PlayerRecord struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"display_name"`
	TotalSeconds int64     `json:"total_seconds"`
}

// SessionRecord represents one connection period on one backend server.
// EndTime is zero while the session is open.
type SessionRecord struct {
	ID             int64     `json:"id"`
	PlayerID       uuid.UUID `json:"player_id"`
	Label          string    `json:"label,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	ElapsedSeconds int64     `json:"elapsed_seconds"` // live for open sessions
}

// IsOpen reports whether the session has no end time yet.
func (sr *SessionRecord) IsOpen() bool {
	return sr.EndTime.IsZero()
}

// SessionDTO is the data transfer object for session API responses.
type SessionDTO struct {
	ID             int64      `json:"id"`
	PlayerID       string     `json:"player_id"`
	Server         string     `json:"server,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Open           bool       `json:"open"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
}

// ToDTO converts the session record to a DTO for API responses.
func (sr *SessionRecord) ToDTO() SessionDTO {
	dto := SessionDTO{
		ID:             sr.ID,
		PlayerID:       sr.PlayerID.String(),
		Server:         sr.Label,
		StartTime:      sr.StartTime,
		Open:           sr.IsOpen(),
		ElapsedSeconds: sr.ElapsedSeconds,
	}
	if !sr.IsOpen() {
		end := sr.EndTime
		dto.EndTime = &end
	}
	return dto
}

// LeaderboardEntry is one line of the top-N query.
type LeaderboardEntry struct {
	DisplayName  string `json:"display_name"`
	TotalSeconds int64  `json:"total_seconds"`
}

// ExclusionSet is the immutable set of server labels whose time is not counted.
type ExclusionSet struct {
	labels []string
	set    map[string]struct{}
}

// NewExclusionSet builds an exclusion set, dropping empty and duplicate labels.
func NewExclusionSet(labels ...string) ExclusionSet {
	es := ExclusionSet{set: make(map[string]struct{}, len(labels))}
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, dup := es.set[l]; dup {
			continue
		}
		es.set[l] = struct{}{}
		es.labels = append(es.labels, l)
	}
	sort.Strings(es.labels)
	return es
}

// Contains reports whether label is excluded.
func (es ExclusionSet) Contains(label string) bool {
	_, ok := es.set[label]
	return ok
}

// Labels returns a sorted copy of the excluded labels.
func (es ExclusionSet) Labels() []string {
	out := make([]string, len(es.labels))
	copy(out, es.labels)
	return out
}

// Len returns the number of excluded labels.
func (es ExclusionSet) Len() int {
	return len(es.labels)
}
