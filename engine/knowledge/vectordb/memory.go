package vectordb

import (
	"context"
	"sort"
	"sync"
)

// memStore keeps records in process. The filesystem backend snapshots it.
type memStore struct {
	mu            sync.RWMutex
	configuredDim int
	dimension     int
	maxTopK       int
	records       map[string]Record
}

func newMemStore(cfg *Config) *memStore {
	return &memStore{
		configuredDim: cfg.Dimension,
		dimension:     cfg.Dimension,
		maxTopK:       cfg.MaxTopK,
		records:       make(map[string]Record),
	}
}

func (m *memStore) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(records)
}

func (m *memStore) upsertLocked(records []Record) error {
	dim := m.dimension
	for i := range records {
		if dim == 0 {
			dim = len(records[i].Embedding)
		}
		if err := checkDimension("memory", records[i].ID, len(records[i].Embedding), dim); err != nil {
			return err
		}
	}
	for i := range records {
		rec := records[i]
		m.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: cloneEmbedding(rec.Embedding),
			Metadata:  cloneMetadata(rec.Metadata),
		}
	}
	if len(m.records) > 0 {
		m.dimension = dim
	}
	return nil
}

func (m *memStore) Get(_ context.Context, ids []string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		out = append(out, Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: cloneEmbedding(rec.Embedding),
			Metadata:  cloneMetadata(rec.Metadata),
		})
	}
	return out, nil
}

func (m *memStore) Search(_ context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return []Match{}, nil
	}
	if err := checkDimension("memory", "", len(query), m.dimension); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(m.records))
	for _, rec := range m.records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: cloneMetadata(rec.Metadata),
			Distance: cosineDistance(query, rec.Embedding),
		})
	}
	sortMatches(matches)
	if topK := limitTopK(opts.TopK, m.maxTopK); len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memStore) IDs(_ context.Context, filter map[string]string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for id, rec := range m.records {
		if metadataMatches(rec.Metadata, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(ids)
	return nil
}

func (m *memStore) deleteLocked(ids []string) {
	for _, id := range ids {
		delete(m.records, id)
	}
	if len(m.records) == 0 {
		m.dimension = m.configuredDim
	}
}

func (m *memStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *memStore) Distinct(_ context.Context, key string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, rec := range m.records {
		if value, ok := rec.Metadata[key]; ok && value != nil {
			out[metadataString(value)]++
		}
	}
	return out, nil
}

func (m *memStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	m.dimension = m.configuredDim
	return nil
}

func (m *memStore) Close(context.Context) error {
	return nil
}
