package mergerag

import (
	"context"
	"sync"
	"time"
)

// RateLimitOption configures WithRateLimit and WithEmbeddingRateLimit.
type RateLimitOption func(*rateWindow)

// RPM sets the maximum requests per minute. Zero means unlimited.
func RPM(n int) RateLimitOption {
	return func(w *rateWindow) { w.rpm = n }
}

// TPM sets the maximum tokens per minute. For chat providers the count comes
// from ChatResponse.Usage; for embedding providers it is estimated from the
// input with ApproxTokenizer. The request that crosses the budget completes;
// later requests wait for the window to slide.
func TPM(n int) RateLimitOption {
	return func(w *rateWindow) { w.tpm = n }
}

// rateWindow is a one-minute sliding window over request times and token
// counts. Both slices are kept in time order.
type rateWindow struct {
	rpm, tpm int
	now      func() time.Time

	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenMark
}

type tokenMark struct {
	at time.Time
	n  int
}

func newRateWindow(opts []RateLimitOption) *rateWindow {
	w := &rateWindow{now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// wait blocks until a request fits in both budgets, then records it.
func (w *rateWindow) wait(ctx context.Context) error {
	for {
		delay := w.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a request and returns 0 when one is allowed now, or how
// long to wait before trying again.
func (w *rateWindow) reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-time.Minute)
	for len(w.requests) > 0 && !w.requests[0].After(cutoff) {
		w.requests = w.requests[1:]
	}
	used := 0
	for len(w.tokens) > 0 && !w.tokens[0].at.After(cutoff) {
		w.tokens = w.tokens[1:]
	}
	for _, m := range w.tokens {
		used += m.n
	}

	var delay time.Duration
	if w.rpm > 0 && len(w.requests) >= w.rpm {
		delay = w.requests[0].Add(time.Minute).Sub(now)
	}
	if w.tpm > 0 && used >= w.tpm && len(w.tokens) > 0 {
		if d := w.tokens[0].at.Add(time.Minute).Sub(now); delay == 0 || d < delay {
			delay = d
		}
	}
	if delay > 0 {
		return delay
	}
	if w.rpm > 0 && len(w.requests) >= w.rpm || w.tpm > 0 && used >= w.tpm {
		return 10 * time.Millisecond
	}
	if w.rpm > 0 {
		w.requests = append(w.requests, now)
	}
	return 0
}

func (w *rateWindow) record(n int) {
	if w.tpm <= 0 || n <= 0 {
		return
	}
	w.mu.Lock()
	w.tokens = append(w.tokens, tokenMark{at: w.now(), n: n})
	w.mu.Unlock()
}

// --- Provider ---

type rateLimitProvider struct {
	inner  Provider
	window *rateWindow
}

var _ Provider = (*rateLimitProvider)(nil)

// WithRateLimit wraps p so calls block until the per-minute budget allows
// them. Put it outside WithRetry so retries are counted too:
//
//	llm = mergerag.WithRateLimit(mergerag.WithRetry(p), mergerag.RPM(60))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	return &rateLimitProvider{inner: p, window: newRateWindow(opts)}
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.window.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.window.record(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	}
	return resp, err
}

// --- EmbeddingProvider ---

type rateLimitEmbedding struct {
	inner  EmbeddingProvider
	window *rateWindow
	tok    Tokenizer
}

var _ EmbeddingProvider = (*rateLimitEmbedding)(nil)

// WithEmbeddingRateLimit wraps p like WithRateLimit. Index builds send many
// batches back to back, so this is usually the limiter that matters.
func WithEmbeddingRateLimit(p EmbeddingProvider, opts ...RateLimitOption) EmbeddingProvider {
	return &rateLimitEmbedding{inner: p, window: newRateWindow(opts), tok: ApproxTokenizer{}}
}

func (r *rateLimitEmbedding) Name() string    { return r.inner.Name() }
func (r *rateLimitEmbedding) Dimensions() int { return r.inner.Dimensions() }

func (r *rateLimitEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.window.wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := r.inner.Embed(ctx, texts)
	if err == nil {
		n := 0
		for _, t := range texts {
			n += r.tok.CountTokens(t)
		}
		r.window.record(n)
	}
	return vecs, err
}
