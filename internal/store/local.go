package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// Local keeps session records and the usage ledger as JSON files under a data
// directory. It is the fallback tier of the persistence gateway and also
// implements llm.UsageStore.
type Local struct {
	dir string
	mu  sync.Mutex
}

// NewLocal ensures the data directory exists.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = ".data"
	}
	if err := os.MkdirAll(filepath.Join(dir, "recordings"), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) sessionsPath() string { return filepath.Join(l.dir, "sessions.json") }
func (l *Local) usagePath() string    { return filepath.Join(l.dir, "usage.json") }

// Save writes or replaces the record keyed by session ID.
func (l *Local) Save(_ context.Context, rec interview.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sessions, err := l.readSessions()
	if err != nil {
		return err
	}
	sessions[rec.SessionID] = rec
	return l.writeJSON(l.sessionsPath(), sessions)
}

// Load returns the record for one session.
func (l *Local) Load(_ context.Context, sessionID string) (interview.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sessions, err := l.readSessions()
	if err != nil {
		return interview.Record{}, err
	}
	rec, ok := sessions[sessionID]
	if !ok {
		return interview.Record{}, ErrNotFound
	}
	return rec, nil
}

// LoadAll returns every stored record, newest first.
func (l *Local) LoadAll(_ context.Context) ([]interview.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sessions, err := l.readSessions()
	if err != nil {
		return nil, err
	}
	out := make([]interview.Record, 0, len(sessions))
	for _, rec := range sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Clear removes every stored record.
func (l *Local) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeJSON(l.sessionsPath(), map[string]interview.Record{})
}

// StoreRecording writes the blob under recordings/ and returns its path.
func (l *Local) StoreRecording(_ context.Context, sessionID string, blob []byte) (string, error) {
	path := filepath.Join(l.dir, "recordings", sessionID+".webm")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("store: write recording: %w", err)
	}
	return path, nil
}

// LoadUsage reads the persisted daily request counts.
func (l *Local) LoadUsage() (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int)
	if err := l.readJSON(l.usagePath(), &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// SaveUsage persists the daily request counts.
func (l *Local) SaveUsage(counts map[string]int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeJSON(l.usagePath(), counts)
}

func (l *Local) readSessions() (map[string]interview.Record, error) {
	sessions := make(map[string]interview.Record)
	if err := l.readJSON(l.sessionsPath(), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (l *Local) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON writes atomically via a temp file so a crash mid-write never
// corrupts the previous contents.
func (l *Local) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
