package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects entries for History. Zero fields match everything.
type Filter struct {
	PopupID  string
	Page     string
	Hostname string
	From     time.Time
	To       time.Time
}

// Summary counts the events of a history.
type Summary struct {
	Total          int    `json:"total"`
	Requests       int    `json:"requests"`
	Accepted       int    `json:"accepted"`
	Denied         int    `json:"denied"`
	Exceptions     int    `json:"exceptions"`
	Throttled      int    `json:"throttled"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// HistoryResult is the filtered view of an audit log.
type HistoryResult struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// History reads the audit log and returns entries matching filter.
// Malformed lines are skipped; use Verify to detect them.
func History(path string, filter Filter) (*HistoryResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &HistoryResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		result.Summary.add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f Filter) matches(e Entry) bool {
	if f.PopupID != "" && e.Popup.ID != f.PopupID {
		return false
	}
	if f.Page != "" && e.Page != f.Page {
		return false
	}
	if f.Hostname != "" && e.Popup.Hostname != f.Hostname {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *Summary) add(e Entry) {
	s.Total++
	switch e.Event {
	case EventPopupRequest:
		s.Requests++
	case EventAccepted:
		s.Accepted++
	case EventDenied:
		s.Denied++
	case EventException:
		s.Exceptions++
	case EventThrottled:
		s.Throttled++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
