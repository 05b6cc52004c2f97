package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/compozy/ragpipe/engine/infra/postgres"
)

// pgDB is the subset of pgxpool.Pool the backend needs.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type pgStore struct {
	db         pgDB
	closer     func(context.Context) error
	table      string
	tableIdent string
	dimension  int
	maxTopK    int
	ensureIdx  bool
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func newPGStore(ctx context.Context, cfg *Config) (*pgStore, error) {
	if err := postgres.ApplyMigrations(ctx, cfg.DSN); err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	pg, err := postgres.NewStore(ctx, &postgres.Config{
		ConnString:  cfg.DSN,
		Label:       "vector_" + cfg.Collection,
		PingTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	store := newPGStoreWithDB(pg.Pool(), cfg, pg.Close)
	if err := store.ensureSchema(ctx); err != nil {
		_ = pg.Close(ctx)
		return nil, err
	}
	return store, nil
}

func newPGStoreWithDB(db pgDB, cfg *Config, closer func(context.Context) error) *pgStore {
	return &pgStore{
		db:         db,
		closer:     closer,
		table:      cfg.Collection,
		tableIdent: pgx.Identifier{cfg.Collection}.Sanitize(),
		dimension:  cfg.Dimension,
		maxTopK:    cfg.MaxTopK,
		ensureIdx:  cfg.EnsureIndex,
	}
}

// ensureSchema registers the collection dimension and creates its table.
func (p *pgStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(
		ctx,
		"INSERT INTO ragpipe_collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		p.table,
		p.dimension,
	); err != nil {
		return fmt.Errorf("pgvector: register collection: %w", err)
	}
	var stored int
	if err := p.db.QueryRow(
		ctx,
		"SELECT dimension FROM ragpipe_collections WHERE name = $1",
		p.table,
	).Scan(&stored); err != nil {
		return fmt.Errorf("pgvector: read collection dimension: %w", err)
	}
	if stored != p.dimension {
		return fmt.Errorf("pgvector: collection %q has dimension %d, config asks for %d", p.table, stored, p.dimension)
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			document TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.tableIdent, p.dimension),
		fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s ((metadata ->> 'file_hash'))",
			pgx.Identifier{p.table + "_file_hash_idx"}.Sanitize(),
			p.tableIdent,
		),
	}
	if p.ensureIdx {
		statements = append(statements, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pgx.Identifier{p.table + "_embedding_idx"}.Sanitize(),
			p.tableIdent,
		))
	}
	for _, stmt := range statements {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *pgStore) Upsert(ctx context.Context, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension("pgvector", records[i].ID, len(records[i].Embedding), p.dimension); err != nil {
			return err
		}
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
		}
	}()
	for i := range records {
		rec := records[i]
		metadata, mErr := json.Marshal(cloneMetadata(rec.Metadata))
		if mErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, mErr)
		}
		query, args, bErr := psql.Insert(p.tableIdent).
			Columns("id", "embedding", "document", "metadata").
			Values(rec.ID, pgvector.NewVector(rec.Embedding), rec.Text, metadata).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				embedding = excluded.embedding,
				document = excluded.document,
				metadata = excluded.metadata,
				updated_at = now()`).
			ToSql()
		if bErr != nil {
			return fmt.Errorf("pgvector: build upsert: %w", bErr)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

func (p *pgStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := psql.Select("id", "document", "metadata", "embedding::text").
		From(p.tableIdent).
		Where(squirrel.Eq{"id": ids}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgvector: build get: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: get: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var metadataRaw []byte
		var vectorText string
		if err := rows.Scan(&rec.ID, &rec.Text, &metadataRaw, &vectorText); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		if rec.Metadata, err = decodeJSONMetadata(metadataRaw); err != nil {
			return nil, err
		}
		var vec pgvector.Vector
		if err := vec.Scan(vectorText); err != nil {
			return nil, fmt.Errorf("pgvector: decode embedding for %q: %w", rec.ID, err)
		}
		rec.Embedding = vec.Slice()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("pgvector", "", len(query), p.dimension); err != nil {
		return nil, err
	}
	topK := limitTopK(opts.TopK, p.maxTopK)
	builder := psql.Select("id", "document", "metadata").
		Column(squirrel.Expr("embedding <=> ? AS distance", pgvector.NewVector(query))).
		From(p.tableIdent)
	builder = applyPGFilters(builder, opts.Filters).OrderBy("distance ASC", "id ASC").Limit(uint64(topK))
	sqlText, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgvector: build search: %w", err)
	}
	rows, err := p.db.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		var metadataRaw []byte
		if err := rows.Scan(&m.ID, &m.Text, &metadataRaw, &m.Distance); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		if m.Metadata, err = decodeJSONMetadata(metadataRaw); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return results, nil
}

func (p *pgStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	builder := applyPGFilters(psql.Select("id").From(p.tableIdent), filter).OrderBy("id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgvector: build ids: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: list ids: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgvector: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *pgStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := psql.Delete(p.tableIdent).Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("pgvector: build delete: %w", err)
	}
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *pgStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+p.tableIdent).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

func (p *pgStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	query, args, err := psql.Select().
		Column(squirrel.Expr("metadata ->> ?", key)).
		Column("COUNT(*)").
		From(p.tableIdent).
		Where(squirrel.Expr("metadata ->> ? IS NOT NULL", key)).
		GroupBy("1").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgvector: build distinct: %w", err)
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: distinct %s: %w", key, err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return nil, fmt.Errorf("pgvector: scan distinct: %w", err)
		}
		out[value] = n
	}
	return out, rows.Err()
}

func (p *pgStore) Reset(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, "TRUNCATE "+p.tableIdent); err != nil {
		return fmt.Errorf("pgvector: reset: %w", err)
	}
	return nil
}

func (p *pgStore) Close(ctx context.Context) error {
	if p.closer == nil {
		return nil
	}
	return p.closer(ctx)
}

// applyPGFilters adds filters in key order so statements are stable.
func applyPGFilters(builder squirrel.SelectBuilder, filters map[string]string) squirrel.SelectBuilder {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder = builder.Where(squirrel.Expr("metadata ->> ? = ?", key, filters[key]))
	}
	return builder
}

func decodeJSONMetadata(raw []byte) (map[string]any, error) {
	meta := make(map[string]any)
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("pgvector: decode metadata: %w", err)
	}
	return meta, nil
}
