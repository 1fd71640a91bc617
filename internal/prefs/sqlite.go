package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/popwatch/internal/model"
)

// DefaultPollInterval is how often Run looks for writes from other processes.
const DefaultPollInterval = time.Second

// SQLiteStore persists preference overrides in a SQLite database.
// Values are stored JSON-encoded. Set and Reset notify subscribers in this
// process at once; Run picks up writes made by other processes.
type SQLiteStore struct {
	db   *sql.DB
	subs subscribers

	// PollInterval is the Run period. Zero uses DefaultPollInterval.
	PollInterval time.Duration

	mu   sync.Mutex
	seen map[string]string // raw rows as of the last poll; nil before Run
}

// OpenSQLite opens (or creates) the preference database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create preference directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cannot open preference database: %w", err)
	}
	// single connection for SQLite
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS preferences (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("preference migration failed: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DefaultSQLitePath returns the default preference database path.
func DefaultSQLitePath() string {
	return filepath.Join(DefaultDir(), "prefs.db")
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]any, error) {
	raw, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for key, r := range raw {
		if v, ok := decode(r); ok {
			out[key] = v
		}
	}
	return out, nil
}

// Run polls the database until ctx is done and notifies subscribers of
// overrides another process wrote or removed. A removed override is reported
// with its default value.
func (s *SQLiteStore) Run(ctx context.Context) error {
	if _, err := s.poll(ctx); err != nil {
		return err
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changes, err := s.poll(ctx)
			if err != nil {
				// busy or locked by a writer; the next tick retries
				continue
			}
			s.subs.notify(changes)
		}
	}
}

// poll reads every row and returns what changed since the previous poll.
// The first poll only records a baseline.
func (s *SQLiteStore) poll(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	prev := s.seen
	s.seen = current
	if prev == nil {
		return nil, nil
	}

	defaults := model.DefaultPreferences().ToMap()
	changes := make(map[string]any)
	for key, r := range current {
		if prev[key] == r {
			continue
		}
		if v, ok := decode(r); ok {
			changes[key] = v
		}
	}
	for key := range prev {
		if _, ok := current[key]; !ok {
			changes[key] = defaults[key]
		}
	}
	return changes, nil
}

// write runs exec and records the row it leaves behind, so Run does not
// report a write made through this store a second time. An empty raw means
// the row was deleted. s.mu is held across both, and poll holds it while
// reading, so a poll never sees the row without the record.
func (s *SQLiteStore) write(key, raw string, exec func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := exec(); err != nil {
		return err
	}
	if s.seen == nil {
		return nil
	}
	if raw == "" {
		delete(s.seen, key)
	} else {
		s.seen[key] = raw
	}
	return nil
}

func (s *SQLiteStore) rows(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out[key] = raw
	}
	return out, rows.Err()
}

// decode parses a stored value. A corrupt row falls back to the default for its key.
func decode(raw string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %q: %w", key, err)
	}
	err = s.write(key, string(raw), func() error {
		_, err := s.db.ExecContext(ctx, `
	INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			key, string(raw))
		return err
	})
	if err != nil {
		return fmt.Errorf("store preference %q: %w", key, err)
	}

	s.subs.notify(map[string]any{key: normalize(value)})
	return nil
}

// Reset removes the override for key and notifies subscribers with the default value.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.write(key, "", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("reset preference %q: %w", key, err)
	}
	s.subs.notify(map[string]any{key: model.DefaultPreferences().ToMap()[key]})
	return nil
}

// Subscribe implements Store.
func (s *SQLiteStore) Subscribe(fn func(map[string]any)) func() {
	return s.subs.add(fn)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// normalize gives in-process subscribers the same shapes a Load would return.
func normalize(v any) any {
	if list, ok := v.([]string); ok {
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return v
}
