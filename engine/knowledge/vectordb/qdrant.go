package vectordb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	qdrantDefaultTimeout = 10 * time.Second
	qdrantScrollPage     = 256
	// qdrantIDKey keeps the chunk id in the payload; Qdrant point ids must be
	// UUIDs or integers.
	qdrantIDKey   = "_chunk_id"
	qdrantTextKey = "_document"
)

type qdrantStore struct {
	client     *resty.Client
	collection string
	dimension  int
	maxTopK    int
}

func newQdrantStore(ctx context.Context, cfg *Config) (*qdrantStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.DSN, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r != nil && (r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests)
	})
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	store := &qdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		maxTopK:    cfg.MaxTopK,
	}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func qdrantPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragpipe:"+chunkID)).String()
}

func (q *qdrantStore) path(suffix string) string {
	return "/collections/" + url.PathEscape(q.collection) + suffix
}

// call executes a request and returns the response body, mapping non-2xx
// statuses to errors.
func (q *qdrantStore) call(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	req := q.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, 0, fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		status := gjson.GetBytes(resp.Body(), "status.error").String()
		if status == "" {
			status = strings.TrimSpace(resp.String())
		}
		return resp.Body(), resp.StatusCode(), fmt.Errorf(
			"qdrant: %s %s: status code %d: %s",
			method,
			path,
			resp.StatusCode(),
			status,
		)
	}
	return resp.Body(), resp.StatusCode(), nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	body, status, err := q.call(ctx, http.MethodGet, q.path(""), nil)
	if err == nil {
		size := int(gjson.GetBytes(body, "result.config.params.vectors.size").Int())
		if size > 0 && q.dimension > 0 && size != q.dimension {
			return fmt.Errorf("qdrant: collection %q has dimension %d, config asks for %d", q.collection, size, q.dimension)
		}
		if q.dimension == 0 {
			q.dimension = size
		}
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant: dimension is required to create collection %q", q.collection)
	}
	payload := map[string]any{
		"vectors": map[string]any{"size": q.dimension, "distance": "Cosine"},
	}
	if _, _, err := q.call(ctx, http.MethodPut, q.path(""), payload); err != nil {
		return err
	}
	index := map[string]any{"field_name": "file_hash", "field_schema": "keyword"}
	_, _, err = q.call(ctx, http.MethodPut, q.path("/index?wait=true"), index)
	return err
}

func (q *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := checkDimension("qdrant", rec.ID, len(rec.Embedding), q.dimension); err != nil {
			return err
		}
		payload := cloneMetadata(rec.Metadata)
		payload[qdrantIDKey] = rec.ID
		payload[qdrantTextKey] = rec.Text
		points = append(points, map[string]any{
			"id":      qdrantPointID(rec.ID),
			"vector":  rec.Embedding,
			"payload": payload,
		})
	}
	_, _, err := q.call(ctx, http.MethodPut, q.path("/points?wait=true"), map[string]any{"points": points})
	return err
}

func (q *qdrantStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantPointID(id)
	}
	body, _, err := q.call(ctx, http.MethodPost, q.path("/points"), map[string]any{
		"ids":          pointIDs,
		"with_payload": true,
		"with_vector":  true,
	})
	if err != nil {
		return nil, err
	}
	points := gjson.GetBytes(body, "result").Array()
	out := make([]Record, 0, len(points))
	for _, point := range points {
		id, text, meta := splitQdrantPayload(point.Get("payload"))
		vector := point.Get("vector").Array()
		embedding := make([]float32, len(vector))
		for i, v := range vector {
			embedding[i] = float32(v.Float())
		}
		out = append(out, Record{ID: id, Text: text, Embedding: embedding, Metadata: meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("qdrant", "", len(query), q.dimension); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       query,
		"limit":        limitTopK(opts.TopK, q.maxTopK),
		"with_payload": true,
	}
	if filter := qdrantFilter(opts.Filters); filter != nil {
		req["filter"] = filter
	}
	body, _, err := q.call(ctx, http.MethodPost, q.path("/points/search"), req)
	if err != nil {
		return nil, err
	}
	hits := gjson.GetBytes(body, "result").Array()
	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		id, text, meta := splitQdrantPayload(hit.Get("payload"))
		matches = append(matches, Match{
			ID:       id,
			Text:     text,
			Metadata: meta,
			Distance: 1 - hit.Get("score").Float(),
		})
	}
	sortMatches(matches)
	return matches, nil
}

// scroll pages through points matching filter and hands each payload to fn
// until fn returns false or the collection is exhausted.
func (q *qdrantStore) scroll(
	ctx context.Context,
	filter map[string]string,
	payload any,
	fn func(gjson.Result) bool,
) error {
	var offset any
	for {
		req := map[string]any{
			"limit":        qdrantScrollPage,
			"with_payload": payload,
			"with_vector":  false,
		}
		if f := qdrantFilter(filter); f != nil {
			req["filter"] = f
		}
		if offset != nil {
			req["offset"] = offset
		}
		body, _, err := q.call(ctx, http.MethodPost, q.path("/points/scroll"), req)
		if err != nil {
			return err
		}
		for _, point := range gjson.GetBytes(body, "result.points").Array() {
			if !fn(point) {
				return nil
			}
		}
		next := gjson.GetBytes(body, "result.next_page_offset")
		if !next.Exists() || next.Type == gjson.Null {
			return nil
		}
		offset = next.Value()
	}
}

func (q *qdrantStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	ids := make([]string, 0)
	err := q.scroll(ctx, filter, []string{qdrantIDKey}, func(point gjson.Result) bool {
		ids = append(ids, point.Get("payload."+qdrantIDKey).String())
		return limit <= 0 || len(ids) < limit
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (q *qdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantPointID(id)
	}
	_, _, err := q.call(ctx, http.MethodPost, q.path("/points/delete?wait=true"), map[string]any{"points": pointIDs})
	return err
}

func (q *qdrantStore) Count(ctx context.Context) (int, error) {
	body, _, err := q.call(ctx, http.MethodPost, q.path("/points/count"), map[string]any{"exact": true})
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "result.count").Int()), nil
}

func (q *qdrantStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	out := make(map[string]int)
	err := q.scroll(ctx, nil, []string{key}, func(point gjson.Result) bool {
		if value := point.Get("payload." + gjson.Escape(key)); value.Exists() && value.Type != gjson.Null {
			out[metadataString(value.Value())]++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *qdrantStore) Reset(ctx context.Context) error {
	if _, status, err := q.call(ctx, http.MethodDelete, q.path(""), nil); err != nil && status != http.StatusNotFound {
		return err
	}
	return q.ensureCollection(ctx)
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

func qdrantFilter(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	must := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": filters[key]},
		})
	}
	return map[string]any{"must": must}
}

func splitQdrantPayload(payload gjson.Result) (string, string, map[string]any) {
	meta, ok := payload.Value().(map[string]any)
	if !ok {
		meta = map[string]any{}
	}
	id, _ := meta[qdrantIDKey].(string)
	text, _ := meta[qdrantTextKey].(string)
	delete(meta, qdrantIDKey)
	delete(meta, qdrantTextKey)
	return id, text, meta
}
