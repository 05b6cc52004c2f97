package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/compozy/ragpipe/pkg/logger"

	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"
)

// Store owns the database handle.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens the database, creating parent directories, and applies the
// embedded migrations.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	c, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if !c.inMemory() {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", c.dsn())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.FromContext(ctx).Debug("SQLite store opened", "path", c.Path, "max_open_conns", c.MaxOpenConns)
	return &Store{db: db, path: c.Path}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

// dsn enables WAL for file databases.
func (c Config) dsn() string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	if c.inMemory() {
		return "file::memory:?" + params.Encode()
	}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + c.Path + "?" + params.Encode()
}
