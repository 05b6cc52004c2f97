package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileLockRetry = 25 * time.Millisecond

// fileStore keeps a memStore in sync with a JSON snapshot. Writers take an
// advisory file lock, reload the snapshot and replace it atomically, so
// several processes can share one persist directory.
type fileStore struct {
	*memStore
	path    string
	lock    *flock.Flock
	syncMu  sync.Mutex
	modTime time.Time
}

type fileSnapshot struct {
	Dimension int          `json:"dimension"`
	Records   []fileRecord `json:"records"`
}

type fileRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

func newFileStore(cfg *Config) (*fileStore, error) {
	storePath := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(storePath), 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory for %q: %w", storePath, err)
	}
	fs := &fileStore{
		memStore: newMemStore(cfg),
		path:     storePath,
		lock:     flock.New(storePath + ".lock"),
	}
	if err := fs.refresh(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *fileStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.mutate(ctx, func() error { return s.upsertLocked(records) })
}

func (s *fileStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.mutate(ctx, func() error {
		s.deleteLocked(ids)
		return nil
	})
}

func (s *fileStore) Reset(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.records = make(map[string]Record)
		s.dimension = s.configuredDim
		return nil
	})
}

func (s *fileStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.memStore.Get(ctx, ids)
}

func (s *fileStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.memStore.Search(ctx, query, opts)
}

func (s *fileStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.memStore.IDs(ctx, filter, limit)
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	if err := s.refresh(); err != nil {
		return 0, err
	}
	return s.memStore.Count(ctx)
}

func (s *fileStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.memStore.Distinct(ctx, key)
}

// mutate applies fn to the freshest snapshot under the file lock and writes
// the result back. The in-memory state is rolled back when persisting fails.
func (s *fileStore) mutate(ctx context.Context, fn func() error) error {
	locked, err := s.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return fmt.Errorf("filesystem: lock %q: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("filesystem: lock %q: not acquired", s.path)
	}
	defer s.lock.Unlock()
	if err := s.refresh(); err != nil {
		return err
	}
	s.mu.Lock()
	previous, previousDim := s.records, s.dimension
	s.records = make(map[string]Record, len(previous))
	for id, rec := range previous {
		s.records[id] = rec
	}
	if err := fn(); err != nil {
		s.records, s.dimension = previous, previousDim
		s.mu.Unlock()
		return err
	}
	modTime, err := s.persistLocked()
	if err != nil {
		s.records, s.dimension = previous, previousDim
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.syncMu.Lock()
	s.modTime = modTime
	s.syncMu.Unlock()
	return nil
}

// refresh reloads the snapshot when another writer replaced it.
func (s *fileStore) refresh() error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filesystem: stat %q: %w", s.path, err)
	}
	if info.ModTime().Equal(s.modTime) {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("filesystem: read %q: %w", s.path, err)
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("filesystem: decode %q: %w", s.path, err)
	}
	if s.configuredDim > 0 && snap.Dimension > 0 && snap.Dimension != s.configuredDim {
		return fmt.Errorf(
			"filesystem: stored dimension %d does not match config %d for %q",
			snap.Dimension,
			s.configuredDim,
			s.path,
		)
	}
	records := make(map[string]Record, len(snap.Records))
	for i := range snap.Records {
		rec := snap.Records[i]
		records[rec.ID] = Record{ID: rec.ID, Text: rec.Text, Embedding: rec.Embedding, Metadata: rec.Metadata}
	}
	s.mu.Lock()
	s.records = records
	s.dimension = snap.Dimension
	if s.dimension == 0 {
		s.dimension = s.configuredDim
	}
	s.mu.Unlock()
	s.modTime = info.ModTime()
	return nil
}

func (s *fileStore) persistLocked() (time.Time, error) {
	snap := fileSnapshot{Dimension: s.dimension, Records: make([]fileRecord, 0, len(s.records))}
	for _, rec := range s.records {
		snap.Records = append(snap.Records, fileRecord{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: rec.Embedding,
			Metadata:  rec.Metadata,
		})
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("filesystem: encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return time.Time{}, fmt.Errorf("filesystem: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return time.Time{}, fmt.Errorf("filesystem: commit snapshot: %w", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("filesystem: stat %q: %w", s.path, err)
	}
	return info.ModTime(), nil
}
