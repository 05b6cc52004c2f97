// Package vectordb stores keyed embedding vectors with metadata and answers
// cosine nearest-neighbour queries.
package vectordb

import (
	"context"
	"time"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderMemory     Provider = "memory"
	ProviderFilesystem Provider = "filesystem"
	ProviderSQLite     Provider = "sqlite"
	ProviderPGVector   Provider = "pgvector"
	ProviderQdrant     Provider = "qdrant"
	ProviderRedis      Provider = "redis"
)

// Record represents a chunk persisted to the vector store.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution. Filters are equality
// matches against the string form of metadata values.
type SearchOptions struct {
	TopK    int
	Filters map[string]string
}

// Match captures a similarity search result. Distance is the cosine
// distance, 1 - cosine similarity.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// Store is the contract every vector engine implements.
type Store interface {
	// Upsert writes all records or none of them.
	Upsert(ctx context.Context, records []Record) error
	// Get returns the stored records for ids, skipping unknown ids.
	Get(ctx context.Context, ids []string) ([]Record, error)
	// Search returns up to TopK matches ordered by ascending distance.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	// IDs lists record ids matching filter. A non-positive limit means all.
	IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	// Distinct counts records per distinct value of a metadata key.
	Distinct(ctx context.Context, key string) (map[string]int, error)
	// Reset removes every record of the collection.
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	ID         string
	Provider   Provider
	DSN        string
	APIKey     string
	Path       string
	Collection string
	// Dimension fixes the vector width. Zero lets file based stores learn it
	// from the first write.
	Dimension   int
	EnsureIndex bool
	MaxTopK     int
	Timeout     time.Duration
}

const defaultTopK = 5
