package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/popwatch/internal/protocol"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects ids that could escape the store directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status is the lifecycle state of a blocked popup.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

var (
	// ErrNotFound is returned for ids the store has never seen.
	ErrNotFound = errors.New("popup not found")
	// ErrResolved is returned when a popup has already left the pending state.
	ErrResolved = errors.New("popup already resolved")
	// ErrInvalidID is returned for popup or page ids the store cannot hold.
	ErrInvalidID = errors.New("invalid id")
)

// Popup is one blocked action awaiting, or past, an operator verdict.
type Popup struct {
	ID         string     `json:"id"`
	Page       string     `json:"page"`
	Type       string     `json:"type"`
	Href       string     `json:"href"`
	Hostname   string     `json:"hostname"`
	Silent     bool       `json:"silent"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Store keeps one JSON file per popup.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a Store backed by dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create popup directory: %w", err)
	}
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DefaultDir returns the default popup store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "popwatch-pending")
	}
	return filepath.Join(home, ".popwatch", "pending")
}

// Request records a pending popup. Repeated requests for the same id are
// ignored and report false.
func (s *Store) Request(req protocol.PopupRequest) (bool, error) {
	if err := validateKey(req.ID); err != nil {
		return false, fmt.Errorf("%w: popup: %v", ErrInvalidID, err)
	}
	if err := validateKey(req.Page); err != nil {
		return false, fmt.Errorf("%w: page: %v", ErrInvalidID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(req.ID)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	p := Popup{
		ID:        req.ID,
		Page:      req.Page,
		Type:      req.Type,
		Href:      req.Href,
		Hostname:  req.Hostname,
		Silent:    req.Silent,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	return true, s.writeAtomic(path, p)
}

// Resolve moves a pending popup to status. Each popup resolves at most once.
func (s *Store) Resolve(id string, status Status) (Popup, error) {
	if err := validateKey(id); err != nil {
		return Popup{}, fmt.Errorf("%w: popup: %v", ErrInvalidID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read(id)
	if err != nil {
		return Popup{}, err
	}
	if p.Status != StatusPending {
		return *p, fmt.Errorf("popup %q is %s: %w", id, p.Status, ErrResolved)
	}

	p.Status = status
	now := s.now()
	p.ResolvedAt = &now
	if err := s.writeAtomic(s.path(id), *p); err != nil {
		return Popup{}, err
	}
	return *p, nil
}

// Get returns one popup.
func (s *Store) Get(id string) (Popup, error) {
	if err := validateKey(id); err != nil {
		return Popup{}, fmt.Errorf("%w: popup: %v", ErrInvalidID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read(id)
	if err != nil {
		return Popup{}, err
	}
	return *p, nil
}

// List returns every popup, oldest first.
func (s *Store) List() ([]Popup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Expire marks pending popups older than ttl as expired and returns them.
func (s *Store) Expire(ttl time.Duration) ([]Popup, error) {
	if ttl <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.list()
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-ttl)
	var expired []Popup
	var errs []error
	for _, p := range all {
		if p.Status != StatusPending || !p.CreatedAt.Before(cutoff) {
			continue
		}
		p.Status = StatusExpired
		now := s.now()
		p.ResolvedAt = &now
		if err := s.writeAtomic(s.path(p.ID), p); err != nil {
			errs = append(errs, err)
			continue
		}
		expired = append(expired, p)
	}
	return expired, errors.Join(errs...)
}

// Cleanup removes every resolved popup file.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.list()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range all {
		if p.Status == StatusPending {
			continue
		}
		if err := os.Remove(s.path(p.ID)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) list() ([]Popup, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var popups []Popup
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		popups = append(popups, *p)
	}
	sort.SliceStable(popups, func(i, j int) bool {
		return popups[i].CreatedAt.Before(popups[j].CreatedAt)
	})
	return popups, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Popup, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("popup %q: %w", id, ErrNotFound)
		}
		return nil, err
	}

	var p Popup
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("popup %q: %w", id, err)
	}
	return &p, nil
}

func (s *Store) writeAtomic(path string, p Popup) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
