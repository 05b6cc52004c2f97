package vectordb

import (
	"context"
	"fmt"
	"sync"

	sqlitestore "github.com/compozy/ragpipe/engine/infra/sqlite"
)

// sqliteStore keeps chunks in a local SQLite table and ranks them in process.
type sqliteStore struct {
	db        *sqlitestore.Store
	repo      *sqlitestore.ChunkRepo
	maxTopK   int
	mu        sync.Mutex
	dimension int
}

func newSQLiteStore(ctx context.Context, cfg *Config) (*sqliteStore, error) {
	db, err := sqlitestore.NewStore(ctx, &sqlitestore.Config{Path: cfg.Path, BusyTimeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	repo := sqlitestore.NewChunkRepo(db.DB(), cfg.Collection)
	stored, err := repo.Dimension(ctx)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	if cfg.Dimension > 0 && stored > 0 && stored != cfg.Dimension {
		db.Close(ctx)
		return nil, fmt.Errorf("sqlite: stored dimension %d does not match config %d", stored, cfg.Dimension)
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = stored
	}
	return &sqliteStore{db: db, repo: repo, maxTopK: cfg.MaxTopK, dimension: dim}, nil
}

func (s *sqliteStore) expectedDimension(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension > 0 {
		return s.dimension, nil
	}
	dim, err := s.repo.Dimension(ctx)
	if err != nil {
		return 0, err
	}
	s.dimension = dim
	return dim, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := s.expectedDimension(ctx)
	if err != nil {
		return err
	}
	rows := make([]sqlitestore.ChunkRow, len(records))
	for i := range records {
		if dim == 0 {
			dim = len(records[i].Embedding)
		}
		if err := checkDimension("sqlite", records[i].ID, len(records[i].Embedding), dim); err != nil {
			return err
		}
		rows[i] = sqlitestore.ChunkRow{
			ID:        records[i].ID,
			Document:  records[i].Text,
			Embedding: records[i].Embedding,
			Metadata:  records[i].Metadata,
		}
	}
	if err := s.repo.Upsert(ctx, rows); err != nil {
		return err
	}
	s.mu.Lock()
	s.dimension = dim
	s.mu.Unlock()
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	rows, err := s.repo.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i := range rows {
		out[i] = Record{ID: rows[i].ID, Text: rows[i].Document, Embedding: rows[i].Embedding, Metadata: rows[i].Metadata}
	}
	return out, nil
}

func (s *sqliteStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	dim, err := s.expectedDimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []Match{}, nil
	}
	if err := checkDimension("sqlite", "", len(query), dim); err != nil {
		return nil, err
	}
	rows, err := s.repo.Scan(ctx, opts.Filters, 0, true)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(rows))
	for i := range rows {
		matches = append(matches, Match{
			ID:       rows[i].ID,
			Text:     rows[i].Document,
			Metadata: rows[i].Metadata,
			Distance: cosineDistance(query, rows[i].Embedding),
		})
	}
	sortMatches(matches)
	if topK := limitTopK(opts.TopK, s.maxTopK); len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *sqliteStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	rows, err := s.repo.Scan(ctx, filter, limit, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	return ids, nil
}

func (s *sqliteStore) Delete(ctx context.Context, ids []string) error {
	return s.repo.Delete(ctx, ids)
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *sqliteStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	return s.repo.Distinct(ctx, key)
}

func (s *sqliteStore) Reset(ctx context.Context) error {
	if err := s.repo.Reset(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.dimension = 0
	s.mu.Unlock()
	return nil
}

func (s *sqliteStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}
