package mergerag

import (
	"context"
	"errors"
	"testing"
)

func TestBuildVectorIndexSearch(t *testing.T) {
	emb := &keywordEmbedding{keywords: []string{"go", "rust", "db"}}
	leaves := []Node{
		{ID: "n1", Text: "go and db"},
		{ID: "n2", Text: "rust only"},
		{ID: "n3", Text: "go only"},
	}
	idx, err := BuildVectorIndex(context.Background(), emb, leaves, 2)
	if err != nil {
		t.Fatalf("BuildVectorIndex: %v", err)
	}
	if idx.Len() != 3 || idx.Dimensions() != 3 {
		t.Fatalf("Len=%d Dimensions=%d, want 3/3", idx.Len(), idx.Dimensions())
	}
	if emb.calls != 2 {
		t.Errorf("embed calls = %d, want 2 batches", emb.calls)
	}

	got, err := idx.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "n3" {
		t.Errorf("got[0] = %s, want n3 (exact match)", got[0].ID)
	}
	if got[1].ID != "n1" {
		t.Errorf("got[1] = %s, want n1", got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Error("results not sorted by score descending")
	}
}

func TestVectorIndexTieBreakByID(t *testing.T) {
	idx, err := NewVectorIndex(map[string][]float32{
		"c": {1, 0},
		"a": {1, 0},
		"b": {1, 0},
	})
	if err != nil {
		t.Fatalf("NewVectorIndex: %v", err)
	}
	got, err := idx.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestVectorIndexErrors(t *testing.T) {
	if _, err := NewVectorIndex(map[string][]float32{"a": {1, 0}, "b": {1}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if _, err := NewVectorIndex(map[string][]float32{"a": {}}); err == nil {
		t.Error("expected empty vector error")
	}

	idx, _ := NewVectorIndex(map[string][]float32{"a": {1, 0}})
	if _, err := idx.Search([]float32{1, 0, 0}, 1); err == nil {
		t.Error("expected query dimension error")
	}
	if got, err := idx.Search([]float32{1, 0}, 0); err != nil || got != nil {
		t.Errorf("k=0 should return nil, got %v %v", got, err)
	}

	embErr := errors.New("quota")
	_, err := BuildVectorIndex(context.Background(), &fixedEmbedding{err: embErr}, []Node{{ID: "a", Text: "x"}}, 8)
	if !errors.Is(err, embErr) {
		t.Errorf("BuildVectorIndex error = %v, want wrapped %v", err, embErr)
	}
}

func TestVectorIndexVectorsIsCopy(t *testing.T) {
	idx, _ := NewVectorIndex(map[string][]float32{"a": {1, 2}})
	v := idx.Vectors()
	v["a"][0] = 99
	again := idx.Vectors()
	if again["a"][0] != 1 {
		t.Error("Vectors() must not expose internal storage")
	}
	if !idx.Has("a") || idx.Has("b") {
		t.Error("Has() mismatch")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if d := got - tt.want; d > 1e-6 || d < -1e-6 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
