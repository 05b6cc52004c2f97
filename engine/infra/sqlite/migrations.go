package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/compozy/ragpipe/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ApplyMigrations brings the chunk schema up to date.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: migrations dir: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("sqlite: migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: apply migrations: %w", err)
	}
	if len(results) > 0 {
		logger.FromContext(ctx).Debug("SQLite migrations applied", "count", len(results))
	}
	return nil
}
