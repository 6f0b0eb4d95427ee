package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"playtimetracker/internal/timefmt"
)

var stdout io.Writer = os.Stdout

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format, w: stdout}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case ReloadResult:
		fmt.Fprintf(o.w, "Reloaded %d player(s)\n", v.Updated)
	case Leaderboard:
		o.printLeaderboard(v)
	case Playtime:
		fmt.Fprintf(o.w, "%s (%s): %s\n", v.DisplayName, v.PlayerID, v.Detailed)
	case Sessions:
		o.printSessions(v)
	case ConfigSummary:
		o.printConfigSummary(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printLeaderboard(entries Leaderboard) {
	if len(entries) == 0 {
		fmt.Fprintln(o.w, "No players yet")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	for i, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.Ordinal(i+1), e.DisplayName, timefmt.Normal(e.TotalSeconds))
	}
	tw.Flush()
}

func (o *Output) printSessions(sessions Sessions) {
	if len(sessions) == 0 {
		fmt.Fprintln(o.w, "No sessions")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERVER\tSTART\tEND\tELAPSED")
	for _, s := range sessions {
		end := "open"
		if s.EndTime != nil {
			end = s.EndTime.Format(time.DateTime)
		}
		server := s.Server
		if server == "" {
			server = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			s.ID, server, s.StartTime.Format(time.DateTime), end, timefmt.Short(s.ElapsedSeconds))
	}
	tw.Flush()
}

func (o *Output) printConfigSummary(s ConfigSummary) {
	excluded := "none"
	if len(s.Excluded) > 0 {
		excluded = strings.Join(s.Excluded, ", ")
	}
	fmt.Fprintf(o.w, "Config %s is valid\n", s.Path)
	fmt.Fprintf(o.w, "  store:          %s\n", s.Driver)
	fmt.Fprintf(o.w, "  cache:          %s\n", s.Cache)
	fmt.Fprintf(o.w, "  excluded:       %s\n", excluded)
	fmt.Fprintf(o.w, "  sweep interval: %s\n", s.SweepInterval)
	fmt.Fprintf(o.w, "  cooldown:       %s\n", s.Cooldown)
	fmt.Fprintf(o.w, "  api:            %s (key set: %t)\n", s.ListenAddr, s.APIKeySet)
}
