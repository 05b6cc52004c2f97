package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

// redisStore keeps vectors in a Redis vector set and mirrors the member ids
// in a plain set so listing never depends on a similarity query.
type redisStore struct {
	client    *redis.Client
	setKey    string
	idsKey    string
	dimension int
	maxTopK   int
}

const (
	redisTextAttrKey        = "text"
	redisMetadataAttrKey    = "_metadata"
	redisMetadataPrefix     = "meta_"
	redisDefaultVectorKey   = "ragpipe_vectors"
	redisFilterEqualsFormat = `%s == "%s"`
)

func newRedisStore(ctx context.Context, cfg *Config) (*redisStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		if global := appconfig.FromContext(ctx); global != nil {
			dsn = strings.TrimSpace(global.Redis.URL.Value())
			logger.FromContext(ctx).Debug("redis vector store: using global redis url", "collection", cfg.Collection)
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("redis vector store %q: connection url is required", cfg.Collection)
	}
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("redis vector store: invalid url: %w", err)
	}
	opt.Protocol = 3
	opt.UnstableResp3 = true
	if opt.Password == "" && cfg.APIKey != "" {
		opt.Password = cfg.APIKey
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis vector store: ping failed: %w", err)
	}
	return newRedisStoreWithClient(client, cfg), nil
}

func newRedisStoreWithClient(client *redis.Client, cfg *Config) *redisStore {
	key := sanitizeRedisKey(cfg.Collection)
	if key == "" {
		key = redisDefaultVectorKey
	}
	return &redisStore{
		client:    client,
		setKey:    key,
		idsKey:    key + ":ids",
		dimension: cfg.Dimension,
		maxTopK:   cfg.MaxTopK,
	}
}

func sanitizeRedisKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ':', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_:-")
}

func (r *redisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension("redis", records[i].ID, len(records[i].Embedding), r.dimension); err != nil {
			return err
		}
	}
	pipe := r.client.TxPipeline()
	for i := range records {
		rec := records[i]
		pipe.VAdd(ctx, r.setKey, rec.ID, &redis.VectorValues{Val: float32ToFloat64(rec.Embedding)})
		pipe.VSetAttr(ctx, r.setKey, rec.ID, buildRedisAttributes(rec))
		pipe.SAdd(ctx, r.idsKey, rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: upsert pipeline: %w", err)
	}
	return nil
}

func (r *redisStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	embCmds := make([]*redis.SliceCmd, len(ids))
	attrCmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		embCmds[i] = pipe.VEmb(ctx, r.setKey, id, false)
		attrCmds[i] = pipe.VGetAttr(ctx, r.setKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get vectors: %w", err)
	}
	out := make([]Record, 0, len(ids))
	for i, id := range ids {
		raw, err := embCmds[i].Result()
		if errors.Is(err, redis.Nil) || (err == nil && len(raw) == 0) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: read embedding for %q: %w", id, err)
		}
		embedding, err := decodeRedisEmbedding(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: decode embedding for %q: %w", id, err)
		}
		text, meta, err := parseAttributeJSON(attrCmds[i].Val())
		if err != nil {
			return nil, fmt.Errorf("redis: parse attributes for %q: %w", id, err)
		}
		out = append(out, Record{ID: id, Text: text, Embedding: embedding, Metadata: meta})
	}
	return out, nil
}

// Search ranks with VSIM. Its score is (1 + cosine similarity) / 2, so the
// cosine distance is 2 * (1 - score).
func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("redis", "", len(query), r.dimension); err != nil {
		return nil, err
	}
	args := &redis.VSimArgs{Count: int64(limitTopK(opts.TopK, r.maxTopK))}
	if filter := buildRedisFilter(opts.Filters); filter != "" {
		args.Filter = filter
	}
	results, err := r.client.VSimWithArgsWithScores(
		ctx,
		r.setKey,
		&redis.VectorValues{Val: float32ToFloat64(query)},
		args,
	).Result()
	if errors.Is(err, redis.Nil) {
		return []Match{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: similarity search: %w", err)
	}
	payloads, err := r.loadAttributes(ctx, vectorScoreNames(results))
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(results))
	for i, item := range results {
		text, meta, err := parseAttributeJSON(payloads[i])
		if err != nil {
			return nil, fmt.Errorf("redis: parse attributes for %q: %w", item.Name, err)
		}
		matches = append(matches, Match{
			ID:       item.Name,
			Text:     text,
			Metadata: meta,
			Distance: 2 * (1 - item.Score),
		})
	}
	sortMatches(matches)
	return matches, nil
}

func (r *redisStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.idsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list ids: %w", err)
	}
	sort.Strings(members)
	if len(filter) > 0 {
		payloads, err := r.loadAttributes(ctx, members)
		if err != nil {
			return nil, err
		}
		kept := members[:0]
		for i, id := range members {
			_, meta, err := parseAttributeJSON(payloads[i])
			if err != nil {
				return nil, fmt.Errorf("redis: parse attributes for %q: %w", id, err)
			}
			if metadataMatches(meta, filter) {
				kept = append(kept, id)
			}
		}
		members = kept
	}
	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}
	return members, nil
}

func (r *redisStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.VRem(ctx, r.setKey, id)
		pipe.SRem(ctx, r.idsKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: delete vectors: %w", err)
	}
	return nil
}

func (r *redisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.idsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count: %w", err)
	}
	return int(n), nil
}

func (r *redisStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	members, err := r.client.SMembers(ctx, r.idsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list ids: %w", err)
	}
	payloads, err := r.loadAttributes(ctx, members)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for i := range members {
		_, meta, err := parseAttributeJSON(payloads[i])
		if err != nil {
			return nil, fmt.Errorf("redis: parse attributes for %q: %w", members[i], err)
		}
		if value, ok := meta[key]; ok && value != nil {
			out[metadataString(value)]++
		}
	}
	return out, nil
}

func (r *redisStore) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.setKey, r.idsKey).Err(); err != nil {
		return fmt.Errorf("redis: reset: %w", err)
	}
	return nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func (r *redisStore) loadAttributes(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.VGetAttr(ctx, r.setKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: fetch attributes: %w", err)
	}
	payloads := make([]string, len(ids))
	for i := range cmds {
		raw, err := cmds[i].Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis: read attributes for %q: %w", ids[i], err)
		}
		payloads[i] = raw
	}
	return payloads, nil
}

func vectorScoreNames(results []redis.VectorScore) []string {
	names := make([]string, len(results))
	for i := range results {
		names[i] = results[i].Name
	}
	return names
}

func decodeRedisEmbedding(raw []any) ([]float32, error) {
	out := make([]float32, len(raw))
	for i, v := range raw {
		switch typed := v.(type) {
		case float64:
			out[i] = float32(typed)
		case string:
			f, err := strconv.ParseFloat(typed, 32)
			if err != nil {
				return nil, err
			}
			out[i] = float32(f)
		default:
			return nil, fmt.Errorf("unexpected component type %T", v)
		}
	}
	return out, nil
}

func float32ToFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}

func buildRedisAttributes(record Record) map[string]any {
	attrs := make(map[string]any, len(record.Metadata)+2)
	attrs[redisTextAttrKey] = record.Text
	attrs[redisMetadataAttrKey] = cloneMetadata(record.Metadata)
	for key, value := range record.Metadata {
		attrs[metadataAttributeKey(key)] = metadataString(value)
	}
	return attrs
}

func metadataAttributeKey(key string) string {
	return redisMetadataPrefix + sanitizeAttributeKey(key)
}

func sanitizeAttributeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune('_')
		}
	}
	if result := strings.Trim(b.String(), "_"); result != "" {
		return result
	}
	return "unknown"
}

func buildRedisFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	escaper := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	for _, key := range keys {
		attr := "." + metadataAttributeKey(key)
		parts = append(parts, fmt.Sprintf(redisFilterEqualsFormat, attr, escaper.Replace(filters[key])))
	}
	return strings.Join(parts, " && ")
}

func parseAttributeJSON(payload string) (string, map[string]any, error) {
	if strings.TrimSpace(payload) == "" {
		return "", map[string]any{}, nil
	}
	var decoded struct {
		Text     string         `json:"text"`
		Metadata map[string]any `json:"_metadata"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", nil, err
	}
	if decoded.Metadata == nil {
		decoded.Metadata = map[string]any{}
	}
	return decoded.Text, decoded.Metadata, nil
}
