package vectordb

import (
	"fmt"
	"maps"
	"math"
	"sort"

	"github.com/compozy/ragpipe/engine/knowledge/embedder"
)

func metadataMatches(metadata map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		value, ok := metadata[key]
		if !ok || metadataString(value) != want {
			return false
		}
	}
	return true
}

// metadataString renders a metadata value the way filters compare it. JSON
// round trips turn integers into float64, which must still print as "3".
func metadataString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func cloneMetadata(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return maps.Clone(src)
}

func cloneEmbedding(src []float32) []float32 {
	return append([]float32(nil), src...)
}

// cosineDistance is 1 - cosine similarity, and 1 when either norm is zero or
// the widths differ.
func cosineDistance(a, b []float32) float64 {
	return 1 - embedder.CosineSimilarity(a, b)
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
}

func limitTopK(topK, maxTopK int) int {
	if topK <= 0 {
		topK = defaultTopK
	}
	if maxTopK > 0 && topK > maxTopK {
		topK = maxTopK
	}
	return topK
}

func checkDimension(provider string, id string, got, want int) error {
	if want > 0 && got != want {
		if id == "" {
			return fmt.Errorf("%s: query dimension mismatch (got %d want %d)", provider, got, want)
		}
		return fmt.Errorf("%s: record %q dimension mismatch (got %d want %d)", provider, id, got, want)
	}
	return nil
}
