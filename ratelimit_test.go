package mergerag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeClock returns a fixed time that tests advance by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWindow(clock *fakeClock, opts ...RateLimitOption) *rateWindow {
	w := newRateWindow(opts)
	w.now = clock.now
	return w
}

func TestRateWindowRPM(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := newTestWindow(clock, RPM(2))

	for i := range 2 {
		if d := w.reserve(); d != 0 {
			t.Fatalf("request %d delayed %v", i, d)
		}
		clock.advance(10 * time.Second)
	}
	if d := w.reserve(); d != 40*time.Second {
		t.Errorf("third request delay = %v, want 40s", d)
	}
	clock.advance(40 * time.Second)
	if d := w.reserve(); d != 0 {
		t.Errorf("after window slid: delay = %v", d)
	}
}

func TestRateWindowTPM(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := newTestWindow(clock, TPM(100))

	if d := w.reserve(); d != 0 {
		t.Fatalf("first request delayed %v", d)
	}
	w.record(150)
	clock.advance(15 * time.Second)
	if d := w.reserve(); d != 45*time.Second {
		t.Errorf("over budget: delay = %v, want 45s", d)
	}
	clock.advance(45 * time.Second)
	if d := w.reserve(); d != 0 {
		t.Errorf("after window slid: delay = %v", d)
	}
}

func TestRateWindowUnlimited(t *testing.T) {
	w := newRateWindow(nil)
	for range 1000 {
		if d := w.reserve(); d != 0 {
			t.Fatalf("unlimited window delayed %v", d)
		}
		w.record(1_000_000)
	}
	if len(w.requests) != 0 || len(w.tokens) != 0 {
		t.Errorf("unlimited window kept state: %d requests, %d marks", len(w.requests), len(w.tokens))
	}
}

func TestWithRateLimitChat(t *testing.T) {
	inner := &mockProvider{name: "stub", responses: []ChatResponse{{Content: "a"}}}
	p := WithRateLimit(inner, RPM(1))
	if p.Name() != "stub" {
		t.Errorf("Name = %q", p.Name())
	}

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil || resp.Content != "a" {
		t.Fatalf("first Chat = %q, %v", resp.Content, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Chat err = %v, want deadline exceeded", err)
	}
	if inner.calls() != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls())
	}
}

func TestWithRateLimitRecordsUsage(t *testing.T) {
	inner := &mockProvider{responses: []ChatResponse{{Usage: Usage{InputTokens: 70, OutputTokens: 40}}}}
	p := WithRateLimit(inner, TPM(100)).(*rateLimitProvider)
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if len(p.window.tokens) != 1 || p.window.tokens[0].n != 110 {
		t.Errorf("recorded marks = %+v, want one of 110", p.window.tokens)
	}
}

func TestWithRateLimitSkipsUsageOnError(t *testing.T) {
	inner := &mockProvider{err: errors.New("down")}
	p := WithRateLimit(inner, TPM(100)).(*rateLimitProvider)
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if len(p.window.tokens) != 0 {
		t.Errorf("failed call recorded usage: %+v", p.window.tokens)
	}
}

func TestWithEmbeddingRateLimit(t *testing.T) {
	inner := &fixedEmbedding{vec: []float32{1, 0}}
	e := WithEmbeddingRateLimit(inner, TPM(1000)).(*rateLimitEmbedding)
	if e.Name() != "fixed" || e.Dimensions() != 2 {
		t.Errorf("Name/Dimensions = %q/%d", e.Name(), e.Dimensions())
	}

	texts := []string{strings.Repeat("a", 40), strings.Repeat("b", 8)}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil || len(vecs) != 2 {
		t.Fatalf("Embed = %d vectors, %v", len(vecs), err)
	}
	// ApproxTokenizer: 40/4 + 8/4
	if len(e.window.tokens) != 1 || e.window.tokens[0].n != 12 {
		t.Errorf("recorded marks = %+v, want one of 12", e.window.tokens)
	}
}
