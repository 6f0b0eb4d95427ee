package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"playtimetracker/internal/app"
	"playtimetracker/internal/db"
	"playtimetracker/internal/timefmt"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Recompute every stored total from the session log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Tracker().ReloadAll(ctx)
				out := NewOutput(cfg.Output)
				out.Print(ReloadResult{Updated: n})
				return err
			})
		},
	}
}

func newTopCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the playtime leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Tracker().Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				NewOutput(cfg.Output).Print(Leaderboard(entries))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of players to show")
	return cmd
}

func newPlaytimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "playtime <player-id>",
		Short: "Show a player's total playtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid player id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				player, err := a.Repository().GetPlayer(ctx, id)
				if err != nil {
					return err
				}
				seconds, err := a.Tracker().CurrentPlaytime(ctx, id)
				if err != nil {
					return err
				}
				NewOutput(cfg.Output).Print(Playtime{
					PlayerID:    id.String(),
					DisplayName: player.DisplayName,
					Seconds:     seconds,
					Detailed:    timefmt.Detailed(seconds),
				})
				return nil
			})
		},
	}
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <player-id>",
		Short: "List a player's sessions, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid player id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				records, err := a.Tracker().Sessions(ctx, id)
				if err != nil {
					return err
				}
				dtos := make(Sessions, 0, len(records))
				for _, r := range records {
					dtos = append(dtos, r.ToDTO())
				}
				NewOutput(cfg.Output).Print(dtos)
				return nil
			})
		},
	}
}

// ReloadResult is printed by the reload command.
type ReloadResult struct {
	Updated int `json:"updated"`
}

// Leaderboard is printed by the top command.
type Leaderboard []db.LeaderboardEntry

// Playtime is printed by the playtime command.
type Playtime struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Seconds     int64  `json:"seconds"`
	Detailed    string `json:"detailed"`
}

// Sessions is printed by the sessions command.
type Sessions []db.SessionDTO
