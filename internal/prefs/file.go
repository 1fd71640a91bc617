package prefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// debounceDefault is how long the file must be quiet before a reload.
const debounceDefault = 200 * time.Millisecond

// FileStore persists preference overrides in a YAML file and reports edits
// made by other processes through fsnotify.
type FileStore struct {
	path     string
	debounce time.Duration
	subs     subscribers

	mu   sync.Mutex
	last map[string]any
}

// NewFileStore creates a store backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, debounce: debounceDefault}
}

// DefaultFilePath returns the default preference file path.
func DefaultFilePath() string {
	return filepath.Join(DefaultDir(), "prefs.yaml")
}

// Load implements Store. A missing file means no overrides.
func (f *FileStore) Load(ctx context.Context) (map[string]any, error) {
	m, err := f.read()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.last = m
	f.mu.Unlock()
	return m, nil
}

// Set implements Store.
func (f *FileStore) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mu.Lock()
	current, err := f.read()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	current[key] = normalize(value)
	if err := f.writeAtomic(current); err != nil {
		f.mu.Unlock()
		return err
	}
	f.last = current
	f.mu.Unlock()

	f.subs.notify(map[string]any{key: current[key]})
	return nil
}

// Subscribe implements Store.
func (f *FileStore) Subscribe(fn func(map[string]any)) func() {
	return f.subs.add(fn)
}

// Run watches the file for external edits and notifies subscribers of the
// keys whose values changed. Blocks until ctx is cancelled.
func (f *FileStore) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory so editors that replace the file are still seen
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create preference directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	debounce := time.NewTimer(f.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounce.C:
			f.reload()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(f.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "preference watcher error: %v\n", err)
		}
	}
}

// reload re-reads the file and notifies the keys that differ from the last read.
func (f *FileStore) reload() {
	f.mu.Lock()
	current, err := f.read()
	if err != nil {
		f.mu.Unlock()
		fmt.Fprintf(os.Stderr, "preference reload failed: %v\n", err)
		return
	}
	changes := diff(f.last, current)
	f.last = current
	f.mu.Unlock()

	f.subs.notify(changes)
}

func (f *FileStore) read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (f *FileStore) writeAtomic(m map[string]any) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("cannot create preference directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// diff returns the keys of next whose values differ from prev. Keys removed
// from the file are not reported; the mirror keeps their last value.
func diff(prev, next map[string]any) map[string]any {
	changes := map[string]any{}
	for k, v := range next {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			changes[k] = v
		}
	}
	return changes
}
