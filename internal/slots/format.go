package slots

import (
	"fmt"
	"strings"
	"time"
)

// Ranges groups slots into runs of consecutive slots. Input order and duplicates do not matter.
func Ranges(list []Slot) [][]Slot {
	sorted := NewSet(list...).Sorted()
	if len(sorted) == 0 {
		return nil
	}
	var groups [][]Slot
	current := []Slot{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == current[len(current)-1]+1 {
			current = append(current, sorted[i])
			continue
		}
		groups = append(groups, current)
		current = []Slot{sorted[i]}
	}
	return append(groups, current)
}

// FormatRanges renders "09:00 - 10:30, 14:00 - 15:00".
func FormatRanges(list []Slot) string {
	groups := Ranges(list)
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%s - %s", g[0], g[len(g)-1].End()))
	}
	return strings.Join(parts, ", ")
}

// FormatWithDuration renders FormatRanges followed by the total length in minutes.
func FormatWithDuration(list []Slot) string {
	n := NewSet(list...).Len()
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%d min)", FormatRanges(list), int(Duration(n).Minutes()))
}

// Duration of n slots.
func Duration(n int) time.Duration {
	return time.Duration(n*SlotMinutes) * time.Minute
}

// FormatDuration returns a human-readable duration like "1 h 30 min".
func FormatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	hours := minutes / 60
	mins := minutes % 60

	switch {
	case hours == 0:
		return fmt.Sprintf("%d min", mins)
	case mins == 0:
		return fmt.Sprintf("%d h", hours)
	default:
		return fmt.Sprintf("%d h %d min", hours, mins)
	}
}
