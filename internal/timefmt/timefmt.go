// Package timefmt renders playtime seconds for commands and placeholders.
package timefmt

import "fmt"

// Unknown is rendered for negative or otherwise invalid input.
const Unknown = "unknown"

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
)

// Breakdown is a duration split into calendar-free units.
type Breakdown struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// ToBreakdown splits totalSeconds into days, hours, minutes and seconds.
// ok is false for negative input.
func ToBreakdown(totalSeconds int64) (b Breakdown, ok bool) {
	if totalSeconds < 0 {
		return Breakdown{}, false
	}
	b.Days = totalSeconds / secondsPerDay
	b.Hours = totalSeconds % secondsPerDay / secondsPerHour
	b.Minutes = totalSeconds % secondsPerHour / secondsPerMinute
	b.Seconds = totalSeconds % secondsPerMinute
	return b, true
}

// TotalSeconds recombines the breakdown.
func (b Breakdown) TotalSeconds() int64 {
	return b.Days*secondsPerDay + b.Hours*secondsPerHour + b.Minutes*secondsPerMinute + b.Seconds
}

// Short renders the two most significant units, e.g. "3h 12m".
func Short(totalSeconds int64) string {
	b, ok := ToBreakdown(totalSeconds)
	if !ok {
		return Unknown
	}
	switch {
	case b.Days > 0:
		return fmt.Sprintf("%dd %dh", b.Days, b.Hours)
	case b.Hours > 0:
		return fmt.Sprintf("%dh %dm", b.Hours, b.Minutes)
	case b.Minutes > 0:
		return fmt.Sprintf("%dm %ds", b.Minutes, b.Seconds)
	default:
		return fmt.Sprintf("%ds", b.Seconds)
	}
}

// Normal renders the largest unit, plus the next one from an hour upwards.
func Normal(totalSeconds int64) string {
	b, ok := ToBreakdown(totalSeconds)
	if !ok {
		return Unknown
	}
	switch {
	case totalSeconds < secondsPerMinute:
		return fmt.Sprintf("%d second(s)", b.Seconds)
	case totalSeconds < secondsPerHour:
		return fmt.Sprintf("%d minute(s)", b.Minutes)
	case totalSeconds < secondsPerDay:
		return fmt.Sprintf("%d hour(s) and %d minute(s)", b.Hours, b.Minutes)
	default:
		return fmt.Sprintf("%d day(s) and %d hour(s)", b.Days, b.Hours)
	}
}

// Detailed renders every unit.
func Detailed(totalSeconds int64) string {
	b, ok := ToBreakdown(totalSeconds)
	if !ok {
		return Unknown
	}
	return fmt.Sprintf("%d day(s), %d hour(s), %d minute(s) and %d second(s)",
		b.Days, b.Hours, b.Minutes, b.Seconds)
}
