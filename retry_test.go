package mergerag

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubProvider returns pre-configured results in order.
type stubProvider struct {
	calls   int
	results []stubResult
}

type stubResult struct {
	resp ChatResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i].resp, s.results[i].err
	}
	return ChatResponse{}, nil
}

// flakyEmbedding fails with the queued errors before succeeding.
type flakyEmbedding struct {
	calls int
	errs  []error
}

func (f *flakyEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return nil, f.errs[i]
	}
	out := make([][]float32, len(texts))
	for j := range out {
		out[j] = []float32{1}
	}
	return out, nil
}

func (f *flakyEmbedding) Dimensions() int { return 1 }
func (f *flakyEmbedding) Name() string    { return "flaky" }

func TestWithRetry_Chat(t *testing.T) {
	tests := []struct {
		name      string
		results   []stubResult
		wantCalls int
		wantErr   bool
		wantText  string
	}{
		{
			name:      "first attempt",
			results:   []stubResult{{resp: ChatResponse{Content: "hello"}}},
			wantCalls: 1,
			wantText:  "hello",
		},
		{
			name: "retries 503",
			results: []stubResult{
				{err: &ErrHTTP{Status: 503, Body: "unavailable"}},
				{resp: ChatResponse{Content: "hello"}},
			},
			wantCalls: 2,
			wantText:  "hello",
		},
		{
			name: "retries 429",
			results: []stubResult{
				{err: &ErrHTTP{Status: 429}},
				{err: &ErrHTTP{Status: 429}},
				{resp: ChatResponse{Content: "ok"}},
			},
			wantCalls: 3,
			wantText:  "ok",
		},
		{
			name:      "no retry on 400",
			results:   []stubResult{{err: &ErrHTTP{Status: 400}}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name: "exhausts attempts",
			results: []stubResult{
				{err: &ErrHTTP{Status: 503}},
				{err: &ErrHTTP{Status: 503}},
				{err: &ErrHTTP{Status: 503}},
				{resp: ChatResponse{Content: "too late"}},
			},
			wantCalls: 3,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{results: tt.results}
			p := WithRetry(stub, RetryBaseDelay(0))
			resp, err := p.Chat(context.Background(), ChatRequest{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if stub.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", stub.calls, tt.wantCalls)
			}
			if !tt.wantErr && resp.Content != tt.wantText {
				t.Errorf("content = %q, want %q", resp.Content, tt.wantText)
			}
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 503}},
		{resp: ChatResponse{Content: "never"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1", stub.calls)
	}
}

func TestWithEmbeddingRetry(t *testing.T) {
	f := &flakyEmbedding{errs: []error{&ErrHTTP{Status: 429}}}
	emb := WithEmbeddingRetry(f, RetryBaseDelay(0))
	vecs, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || f.calls != 2 {
		t.Errorf("got %d vectors after %d calls", len(vecs), f.calls)
	}
	if emb.Dimensions() != 1 || emb.Name() != "flaky" {
		t.Error("wrapper must delegate Dimensions and Name")
	}
}

func TestRetryDelay(t *testing.T) {
	if d := retryDelay(time.Millisecond, 0, &ErrHTTP{Status: 429, RetryAfter: time.Second}); d != time.Second {
		t.Errorf("retryDelay with Retry-After = %v, want 1s", d)
	}
	for i := range 4 {
		base := 10 * time.Millisecond
		d := retryBackoff(base, i)
		lo := base * (1 << i)
		if d < lo || d > lo+lo/2 {
			t.Errorf("retryBackoff(%d) = %v, want in [%v, %v]", i, d, lo, lo+lo/2)
		}
	}
}
