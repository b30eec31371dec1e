package mergerag

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// --- Embedding mocks ---

// keywordEmbedding embeds text as a bag of keyword hits: dimension i is 1 when
// keywords[i] occurs in the text. Deterministic, so index tests can reason
// about rankings.
type keywordEmbedding struct {
	keywords []string
	err      error

	mu    sync.Mutex
	calls int
	texts int
}

func (m *keywordEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.texts += len(texts)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(m.keywords))
		for j, kw := range m.keywords {
			if strings.Contains(t, kw) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (m *keywordEmbedding) Dimensions() int { return len(m.keywords) }
func (m *keywordEmbedding) Name() string    { return "keyword" }

// fixedEmbedding returns the same vector for every text.
type fixedEmbedding struct {
	vec []float32
	err error
}

func (m *fixedEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vec
	}
	return out, nil
}

func (m *fixedEmbedding) Dimensions() int { return len(m.vec) }
func (m *fixedEmbedding) Name() string    { return "fixed" }

// --- Provider mock ---

// mockProvider returns canned responses in order; the last one repeats.
type mockProvider struct {
	name      string
	responses []ChatResponse
	err       error

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return ChatResponse{}, errors.New("mockProvider: no responses")
	}
	idx := min(len(m.requests)-1, len(m.responses)-1)
	return m.responses[idx], nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// --- Tokenizer mock ---

// tableTokenizer looks token counts up by exact text; unknown texts count as 0.
type tableTokenizer map[string]int

func (t tableTokenizer) CountTokens(text string) int { return t[text] }
