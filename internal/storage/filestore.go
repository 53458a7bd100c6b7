package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/alert"
)

// FileStore keeps alerts as a JSON array of records in one file. The file is
// re-read on every call so external edits are picked up; writes are atomic.
// Records that fail validation are skipped with a log line and written back
// untouched.
type FileStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore constructs a FileStore; the file is created on first write.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	if path == "" {
		path = "alerts.json"
	}
	return &FileStore{path: path, logger: logger.With().Str("component", "filestore").Logger()}
}

// fileContents is one parse of the alerts file.
type fileContents struct {
	alerts  []alert.Alert
	invalid []json.RawMessage
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// ListAlerts lists alerts matching filter in file order.
func (f *FileStore) ListAlerts(_ context.Context, filter AlertFilter) ([]alert.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]alert.Alert, 0, len(contents.alerts))
	for _, a := range contents.alerts {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetAlert loads one alert.
func (f *FileStore) GetAlert(_ context.Context, id string) (alert.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return alert.Alert{}, err
	}
	for _, a := range contents.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return alert.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// CreateAlert appends an alert.
func (f *FileStore) CreateAlert(_ context.Context, a alert.Alert) error {
	if err := a.Check(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return err
	}
	for _, existing := range contents.alerts {
		if existing.ID == a.ID {
			return fmt.Errorf("%w: %s", ErrExists, a.ID)
		}
	}
	contents.alerts = append(contents.alerts, a)
	return f.save(contents)
}

// UpdateAlert replaces the alert with the same id.
func (f *FileStore) UpdateAlert(_ context.Context, a alert.Alert) error {
	if err := a.Check(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return err
	}
	for i := range contents.alerts {
		if contents.alerts[i].ID == a.ID {
			contents.alerts[i] = a
			return f.save(contents)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, a.ID)
}

// DeleteAlert removes the alert with id.
func (f *FileStore) DeleteAlert(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return err
	}
	for i := range contents.alerts {
		if contents.alerts[i].ID == id {
			contents.alerts = append(contents.alerts[:i], contents.alerts[i+1:]...)
			return f.save(contents)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (f *FileStore) load() (fileContents, error) {
	var contents fileContents
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return contents, nil
	}
	if err != nil {
		return contents, fmt.Errorf("read alerts file: %w", err)
	}
	if len(raw) == 0 {
		return contents, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return contents, fmt.Errorf("decode alerts file: %w", err)
	}
	contents.alerts = make([]alert.Alert, 0, len(entries))
	for i, entry := range entries {
		a, err := decodeEntry(entry)
		if err != nil {
			f.logger.Error().Err(err).Int("index", i).Str("path", f.path).Msg("skipping invalid alert record")
			contents.invalid = append(contents.invalid, entry)
			continue
		}
		contents.alerts = append(contents.alerts, a)
	}
	return contents, nil
}

func decodeEntry(entry json.RawMessage) (alert.Alert, error) {
	var rec alert.Record
	if err := json.Unmarshal(entry, &rec); err != nil {
		return alert.Alert{}, err
	}
	return alert.FromRecord(rec)
}

func (f *FileStore) save(contents fileContents) error {
	entries := make([]json.RawMessage, 0, len(contents.alerts)+len(contents.invalid))
	for _, a := range contents.alerts {
		entry, err := json.Marshal(a.ToRecord())
		if err != nil {
			return fmt.Errorf("encode alert %s: %w", a.ID, err)
		}
		entries = append(entries, entry)
	}
	entries = append(entries, contents.invalid...)
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alerts file: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".alerts-*.json")
	if err != nil {
		return fmt.Errorf("create temp alerts file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp alerts file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp alerts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp alerts file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace alerts file: %w", err)
	}
	return nil
}

var _ Repository = (*FileStore)(nil)
