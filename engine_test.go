package mergerag

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubRetriever struct {
	set  RetrievedSet
	err  error
	topK int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, topK int) (RetrievedSet, error) {
	s.topK = topK
	return s.set, s.err
}

func TestQueryEngine(t *testing.T) {
	r := &stubRetriever{set: RetrievedSet{
		{Node: Node{ID: "a", Text: "alpha"}, Score: 0.9},
		{Node: Node{ID: "b", Text: "beta"}, Score: 0.8},
	}}
	llm := &mockProvider{responses: []ChatResponse{{Content: "  the answer \n"}}}
	e := NewQueryEngine(r, NewLLMAnswerer(llm),
		WithTopK(6),
		WithPostprocessors(NewTokenBudget(1, tableTokenizer{"alpha": 1, "beta": 1})))

	ans, err := e.Query(context.Background(), "what?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if r.topK != 6 {
		t.Errorf("topK = %d, want 6", r.topK)
	}
	if ans.Text != "the answer" {
		t.Errorf("text = %q", ans.Text)
	}
	if len(ans.Nodes) != 1 || ans.Nodes[0].Node.ID != "a" {
		t.Errorf("nodes = %v, want [a]", ans.Nodes.IDs())
	}
	prompt := llm.requests[0].Messages[0].Content
	if !strings.Contains(prompt, "alpha") || strings.Contains(prompt, "beta") || !strings.Contains(prompt, "Query: what?") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestQueryEngine_Errors(t *testing.T) {
	retrievalErr := &RetrievalError{Stage: "embed", Err: errors.New("down")}
	e := NewQueryEngine(&stubRetriever{err: retrievalErr}, NewLLMAnswerer(&mockProvider{}))
	_, err := e.Query(context.Background(), "q")
	var re *RetrievalError
	if !errors.As(err, &re) || re.Stage != "embed" {
		t.Errorf("err = %v, want RetrievalError", err)
	}

	boom := errors.New("llm down")
	set := RetrievedSet{{Node: Node{ID: "a", Text: "alpha"}}}
	e = NewQueryEngine(&stubRetriever{set: set}, NewLLMAnswerer(&mockProvider{err: boom}))
	if _, err := e.Query(context.Background(), "q"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping llm error", err)
	}
}

func TestLLMAnswerer_EmptyContext(t *testing.T) {
	llm := &mockProvider{responses: []ChatResponse{{Content: "x"}}}
	got, err := NewLLMAnswerer(llm).Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != EmptyResponse || llm.calls() != 0 {
		t.Errorf("got %q after %d calls", got, llm.calls())
	}
}
