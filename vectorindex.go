package mergerag

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// VectorIndex maps leaf node ids to embedding vectors and ranks them by cosine
// similarity. It is immutable once built; rebuilding produces a new index.
type VectorIndex struct {
	ids  []string // ascending, parallel to vecs
	vecs [][]float32
	pos  map[string]int
	dims int
}

// NewVectorIndex builds an index from precomputed vectors, e.g. a persisted
// snapshot. All vectors must share one dimensionality.
func NewVectorIndex(vectors map[string][]float32) (*VectorIndex, error) {
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	v := &VectorIndex{
		ids:  ids,
		vecs: make([][]float32, len(ids)),
		pos:  make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		vec := vectors[id]
		if len(vec) == 0 {
			return nil, fmt.Errorf("vector index: empty vector for %s", id)
		}
		if v.dims == 0 {
			v.dims = len(vec)
		} else if len(vec) != v.dims {
			return nil, fmt.Errorf("vector index: %s has %d dimensions, want %d", id, len(vec), v.dims)
		}
		v.vecs[i] = vec
		v.pos[id] = i
	}
	return v, nil
}

// BuildVectorIndex embeds the text of each leaf in batches of batchSize and
// returns the resulting index.
func BuildVectorIndex(ctx context.Context, emb EmbeddingProvider, leaves []Node, batchSize int) (*VectorIndex, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	vectors := make(map[string][]float32, len(leaves))
	for i := 0; i < len(leaves); i += batchSize {
		end := min(i+batchSize, len(leaves))
		batch := leaves[i:end]
		texts := make([]string, len(batch))
		for j, n := range batch {
			texts[j] = n.Text
		}

		embeddings, err := emb.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", i, end, len(embeddings), len(batch))
		}
		for j, n := range batch {
			vectors[n.ID] = embeddings[j]
		}
	}
	return NewVectorIndex(vectors)
}

// Len returns the number of indexed vectors.
func (v *VectorIndex) Len() int { return len(v.ids) }

// Dimensions returns the vector size, or 0 for an empty index.
func (v *VectorIndex) Dimensions() int { return v.dims }

// Has reports whether id is indexed.
func (v *VectorIndex) Has(id string) bool {
	_, ok := v.pos[id]
	return ok
}

// Vectors returns a copy of the id to vector mapping.
func (v *VectorIndex) Vectors() map[string][]float32 {
	out := make(map[string][]float32, len(v.ids))
	for i, id := range v.ids {
		vec := make([]float32, len(v.vecs[i]))
		copy(vec, v.vecs[i])
		out[id] = vec
	}
	return out
}

// Search returns at most k ids ranked by cosine similarity to query, highest
// first. Equal scores are ordered by id ascending.
func (v *VectorIndex) Search(query []float32, k int) ([]ScoredID, error) {
	if k <= 0 || len(v.ids) == 0 {
		return nil, nil
	}
	if len(query) != v.dims {
		return nil, fmt.Errorf("vector index: query has %d dimensions, want %d", len(query), v.dims)
	}

	results := make([]ScoredID, len(v.ids))
	for i, id := range v.ids {
		results[i] = ScoredID{ID: id, Score: cosineSimilarity(query, v.vecs[i])}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
