package mergerag

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func setOf(ids ...string) RetrievedSet {
	out := make(RetrievedSet, len(ids))
	for i, id := range ids {
		out[i] = ScoredNode{Node: Node{ID: id, Text: id}, Score: 1 - float32(i)*0.1, Rank: i}
	}
	return out
}

func TestTokenBudget(t *testing.T) {
	tok := tableTokenizer{"a": 1000, "b": 1000, "c": 1000, "s": 10, "big": 5000}
	tests := []struct {
		name  string
		limit int
		in    RetrievedSet
		want  []string
	}{
		{name: "keeps prefix within limit", limit: 2000, in: setOf("a", "b", "c"), want: []string{"a", "b"}},
		{name: "first node too large", limit: 500, in: setOf("a", "b", "c"), want: []string{}},
		{name: "exact fit", limit: 3000, in: setOf("a", "b", "c"), want: []string{"a", "b", "c"}},
		{name: "stops at first overflow", limit: 1500, in: setOf("a", "big", "s"), want: []string{"a"}},
		{name: "empty", limit: 100, in: RetrievedSet{}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewTokenBudget(tt.limit, tok)
			got, err := b.Postprocess(context.Background(), "q", tt.in)
			if err != nil {
				t.Fatalf("Postprocess: %v", err)
			}
			if ids := got.IDs(); !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("got %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestTokenBudget_Idempotent(t *testing.T) {
	b := NewTokenBudget(25, WordTokenizer{})
	in := RetrievedSet{
		{Node: Node{ID: "x", Text: "one two three four five six seven eight nine ten"}},
		{Node: Node{ID: "y", Text: "one two three four five six seven eight nine ten"}},
		{Node: Node{ID: "z", Text: "one two three four five six seven eight nine ten"}},
	}
	once, _ := b.Postprocess(context.Background(), "", in)
	twice, _ := b.Postprocess(context.Background(), "", once)
	if !reflect.DeepEqual(once.IDs(), twice.IDs()) {
		t.Errorf("not idempotent: %v then %v", once.IDs(), twice.IDs())
	}
	if len(once) != 2 {
		t.Errorf("kept %d nodes, want 2", len(once))
	}
}

func TestMinScore(t *testing.T) {
	in := RetrievedSet{
		{Node: Node{ID: "a"}, Score: 0.9},
		{Node: Node{ID: "b"}, Score: 0.3},
		{Node: Node{ID: "c"}, Score: 0.5},
	}
	got, err := MinScore{Threshold: 0.5}.Postprocess(context.Background(), "", in)
	if err != nil {
		t.Fatal(err)
	}
	if ids := got.IDs(); !reflect.DeepEqual(ids, []string{"a", "c"}) {
		t.Errorf("got %v, want [a c]", ids)
	}
}

type failingStage struct{ err error }

func (f failingStage) Postprocess(context.Context, string, RetrievedSet) (RetrievedSet, error) {
	return nil, f.err
}

func TestPipeline(t *testing.T) {
	tok := tableTokenizer{"a": 10, "b": 10, "c": 10}
	p := NewPipeline(MinScore{Threshold: 0.85}, nil, NewTokenBudget(15, tok))
	if len(p) != 2 {
		t.Fatalf("nil stage not skipped: len = %d", len(p))
	}
	got, err := p.Postprocess(context.Background(), "q", setOf("a", "b", "c"))
	if err != nil {
		t.Fatalf("Postprocess: %v", err)
	}
	if ids := got.IDs(); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("got %v, want [a]", ids)
	}

	boom := errors.New("boom")
	_, err = NewPipeline(failingStage{boom}).Postprocess(context.Background(), "q", setOf("a"))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping boom", err)
	}

	in := setOf("a", "b")
	out, err := Pipeline(nil).Postprocess(context.Background(), "q", in)
	if err != nil || len(out) != 2 {
		t.Errorf("empty pipeline = %v, %v", out.IDs(), err)
	}
}
