package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a history as a text timeline.
func FormatTimeline(result *HistoryResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s – %s UTC\n",
		formatTime(result.Summary.FirstTimestamp, "2006-01-02 15:04:05"),
		formatTime(result.Summary.LastTimestamp, "15:04:05"))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		id := e.Popup.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, "%-10s %-14s %-8s %-8s %-30s\n",
			formatTime(e.Timestamp, "15:04:05"),
			e.Event,
			strings.ToUpper(e.Decision),
			id,
			truncate(e.Popup.Href, 30))
	}

	b.WriteString(separator + "\n")
	s := result.Summary
	fmt.Fprintf(&b, "Summary: %d requests, %d accepted, %d denied, %d exceptions\n",
		s.Requests, s.Accepted, s.Denied, s.Exceptions)
	if s.Throttled > 0 {
		fmt.Fprintf(&b, "Throttled: %d requests over the page rate limit\n", s.Throttled)
	}
	return b.String()
}

// FormatJSON renders a history as indented JSON.
func FormatJSON(result *HistoryResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	return string(data), nil
}

func formatTime(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
