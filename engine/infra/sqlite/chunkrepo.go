package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Masterminds/squirrel"
)

const chunksTable = "chunks"

// ChunkRow is one persisted chunk with its embedding.
type ChunkRow struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  map[string]any
}

// ChunkRepo reads and writes the chunks of one collection.
type ChunkRepo struct {
	db         *sql.DB
	collection string
}

func NewChunkRepo(db *sql.DB, collection string) *ChunkRepo {
	return &ChunkRepo{db: db, collection: collection}
}

// Upsert writes rows in a single transaction.
func (r *ChunkRepo) Upsert(ctx context.Context, rows []ChunkRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for i := range rows {
		meta, mErr := json.Marshal(metadataOrEmpty(rows[i].Metadata))
		if mErr != nil {
			return fmt.Errorf("sqlite: encode metadata for %s: %w", rows[i].ID, mErr)
		}
		query, args, bErr := squirrel.Insert(chunksTable).
			Columns("collection", "id", "document", "embedding", "dimension", "metadata").
			Values(
				r.collection,
				rows[i].ID,
				rows[i].Document,
				EncodeEmbedding(rows[i].Embedding),
				len(rows[i].Embedding),
				string(meta),
			).
			Suffix(`ON CONFLICT (collection, id) DO UPDATE SET
				document = excluded.document,
				embedding = excluded.embedding,
				dimension = excluded.dimension,
				metadata = excluded.metadata,
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`).
			ToSql()
		if bErr != nil {
			return fmt.Errorf("sqlite: build upsert: %w", bErr)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("sqlite: upsert %s: %w", rows[i].ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert: %w", err)
	}
	return nil
}

// Get returns rows for ids in id order.
func (r *ChunkRepo) Get(ctx context.Context, ids []string) ([]ChunkRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	builder := r.selectRows(true).Where(squirrel.Eq{"id": ids}).OrderBy("id")
	return r.queryRows(ctx, builder, true)
}

// Scan lists rows whose metadata equals filter. A non-positive limit returns
// every match.
func (r *ChunkRepo) Scan(
	ctx context.Context,
	filter map[string]string,
	limit int,
	withEmbedding bool,
) ([]ChunkRow, error) {
	builder := r.selectRows(withEmbedding).OrderBy("id")
	for key, value := range filter {
		path, err := jsonPath(key)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(squirrel.Expr("CAST(json_extract(metadata, ?) AS TEXT) = ?", path, value))
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.queryRows(ctx, builder, withEmbedding)
}

func (r *ChunkRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := squirrel.Delete(chunksTable).
		Where(squirrel.Eq{"collection": r.collection, "id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: delete chunks: %w", err)
	}
	return nil
}

func (r *ChunkRepo) Count(ctx context.Context) (int, error) {
	query, args, err := squirrel.Select("COUNT(*)").
		From(chunksTable).
		Where(squirrel.Eq{"collection": r.collection}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlite: build count: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count chunks: %w", err)
	}
	return n, nil
}

// Dimension reports the stored vector width, or 0 for an empty collection.
func (r *ChunkRepo) Dimension(ctx context.Context) (int, error) {
	query, args, err := squirrel.Select("dimension").
		From(chunksTable).
		Where(squirrel.Eq{"collection": r.collection}).
		Limit(1).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlite: build dimension query: %w", err)
	}
	var dim int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: read dimension: %w", err)
	}
	return dim, nil
}

// Distinct counts rows per value of a metadata key.
func (r *ChunkRepo) Distinct(ctx context.Context, key string) (map[string]int, error) {
	path, err := jsonPath(key)
	if err != nil {
		return nil, err
	}
	query, args, err := squirrel.Select().
		Column(squirrel.Alias(squirrel.Expr("CAST(json_extract(metadata, ?) AS TEXT)", path), "v")).
		Column("COUNT(*)").
		From(chunksTable).
		Where(squirrel.Eq{"collection": r.collection}).
		GroupBy("v").
		Having("v IS NOT NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build distinct: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: distinct %s: %w", key, err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scan distinct: %w", err)
		}
		out[value] = n
	}
	return out, rows.Err()
}

// Reset deletes every chunk of the collection.
func (r *ChunkRepo) Reset(ctx context.Context) error {
	query, args, err := squirrel.Delete(chunksTable).Where(squirrel.Eq{"collection": r.collection}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build reset: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: reset collection: %w", err)
	}
	return nil
}

func (r *ChunkRepo) selectRows(withEmbedding bool) squirrel.SelectBuilder {
	cols := []string{"id", "document", "metadata"}
	if withEmbedding {
		cols = append(cols, "embedding")
	}
	return squirrel.Select(cols...).From(chunksTable).Where(squirrel.Eq{"collection": r.collection})
}

func (r *ChunkRepo) queryRows(
	ctx context.Context,
	builder squirrel.SelectBuilder,
	withEmbedding bool,
) ([]ChunkRow, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select chunks: %w", err)
	}
	defer rows.Close()
	var out []ChunkRow
	for rows.Next() {
		var row ChunkRow
		var meta string
		var blob []byte
		dest := []any{&row.ID, &row.Document, &meta}
		if withEmbedding {
			dest = append(dest, &blob)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite: scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &row.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: decode metadata for %s: %w", row.ID, err)
		}
		if withEmbedding {
			if row.Embedding, err = DecodeEmbedding(blob); err != nil {
				return nil, fmt.Errorf("sqlite: decode embedding for %s: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// EncodeEmbedding packs a vector as little-endian float32 values.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func DecodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

func jsonPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `"\`) {
		return "", fmt.Errorf("sqlite: invalid metadata key %q", key)
	}
	return `$."` + key + `"`, nil
}

func metadataOrEmpty(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
