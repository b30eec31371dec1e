package mergerag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine answers a query against one corpus. *QueryEngine implements it.
type Engine interface {
	Query(ctx context.Context, query string) (Answer, error)
}

var _ Engine = (*QueryEngine)(nil)

// --- RouterTable ---

// Route pairs an opened corpus with the engine that queries it.
type Route struct {
	Corpus *Corpus
	Engine Engine
}

// RouterTable maps corpus ids to routes. Build it once at startup, then treat
// it as read-only; Router never mutates it.
type RouterTable struct {
	routes map[string]Route
	order  []string
}

// NewRouterTable creates an empty table.
func NewRouterTable() *RouterTable {
	return &RouterTable{routes: make(map[string]Route)}
}

// Add registers a ready corpus. Duplicate ids and corpora that are not
// loaded or persisted are rejected.
func (t *RouterTable) Add(c *Corpus, e Engine) error {
	if c == nil || e == nil {
		return errors.New("router table: nil corpus or engine")
	}
	if !c.State.Ready() {
		return fmt.Errorf("router table: corpus %s is %s", c.ID, c.State)
	}
	if _, ok := t.routes[c.ID]; ok {
		return fmt.Errorf("router table: duplicate corpus %s", c.ID)
	}
	t.routes[c.ID] = Route{Corpus: c, Engine: e}
	t.order = append(t.order, c.ID)
	return nil
}

// Get returns the route for id.
func (t *RouterTable) Get(id string) (Route, bool) {
	r, ok := t.routes[id]
	return r, ok
}

// Len returns the number of routes.
func (t *RouterTable) Len() int { return len(t.order) }

// IDs returns corpus ids in registration order.
func (t *RouterTable) IDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Choices returns the selector's view of the table, in registration order.
func (t *RouterTable) Choices() []Choice {
	out := make([]Choice, len(t.order))
	for i, id := range t.order {
		out[i] = Choice{ID: id, Description: t.routes[id].Corpus.Description}
	}
	return out
}

// --- Router ---

// CorpusAnswer is one corpus's contribution to a routed response.
type CorpusAnswer struct {
	CorpusID string `json:"corpus_id"`
	Answer
}

// CorpusFailure records a selected corpus that failed to answer.
type CorpusFailure struct {
	CorpusID string
	Err      error
}

// Response is the routed answer to a query.
type Response struct {
	ID      string
	Text    string
	Sources []CorpusAnswer
	Failed  []CorpusFailure
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCorpusTimeout bounds each corpus query. A corpus that times out is
// recorded as failed; its siblings keep running.
func WithCorpusTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.corpusTimeout = d }
}

// WithMaxConcurrency caps how many corpora are queried at once. Zero means no cap.
func WithMaxConcurrency(n int) RouterOption {
	return func(r *Router) { r.maxConcurrency = n }
}

// WithRouterLogger sets the router logger. If not set, nothing is logged.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// Router selects the corpora relevant to a query, queries them in parallel
// and combines their answers.
type Router struct {
	table          *RouterTable
	selector       Selector
	synth          Synthesizer
	corpusTimeout  time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

// NewRouter creates a Router over table.
func NewRouter(table *RouterTable, sel Selector, synth Synthesizer, opts ...RouterOption) *Router {
	r := &Router{table: table, selector: sel, synth: synth}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Table returns the router's table.
func (r *Router) Table() *RouterTable { return r.table }

// Route answers query. It returns an error wrapping ErrNoApplicableCorpus
// when no corpus is selected, and a joined error when every selected corpus
// fails. Partial failures are reported in Response.Failed.
func (r *Router) Route(ctx context.Context, query string) (Response, error) {
	resp := Response{ID: NewID()}
	logger := r.logger.With("request_id", resp.ID)

	ids, err := r.selectCorpora(ctx, query, logger)
	if err != nil {
		return resp, err
	}
	logger.Info("corpora selected", "corpora", ids)

	type outcome struct {
		answer Answer
		err    error
	}
	outcomes := make([]outcome, len(ids))

	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i, id := range ids {
		route, _ := r.table.Get(id)
		g.Go(func() error {
			qctx := ctx
			if r.corpusTimeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, r.corpusTimeout)
				defer cancel()
			}
			start := time.Now()
			ans, err := route.Engine.Query(qctx, query)
			outcomes[i] = outcome{answer: ans, err: err}
			logger.Debug("corpus queried", "corpus", id, "duration", time.Since(start), "ok", err == nil)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, id := range ids {
		o := outcomes[i]
		if o.err != nil {
			logger.Warn("corpus query failed", "corpus", id, "error", o.err)
			resp.Failed = append(resp.Failed, CorpusFailure{CorpusID: id, Err: o.err})
			errs = append(errs, fmt.Errorf("corpus %s: %w", id, o.err))
			continue
		}
		resp.Sources = append(resp.Sources, CorpusAnswer{CorpusID: id, Answer: o.answer})
	}

	switch len(resp.Sources) {
	case 0:
		return resp, errors.Join(errs...)
	case 1:
		resp.Text = resp.Sources[0].Text
		return resp, nil
	}

	text, err := r.synth.Synthesize(ctx, query, resp.Sources)
	if err != nil {
		return resp, fmt.Errorf("synthesize: %w", err)
	}
	resp.Text = text
	return resp, nil
}

// selectCorpora asks the selector for corpus ids, dropping unknown and
// repeated ids.
func (r *Router) selectCorpora(ctx context.Context, query string, logger *slog.Logger) ([]string, error) {
	choices := r.table.Choices()
	if len(choices) == 0 {
		return nil, fmt.Errorf("%w: router table is empty", ErrNoApplicableCorpus)
	}
	picked, err := r.selector.Select(ctx, query, choices)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoApplicableCorpus, err)
	}
	seen := make(map[string]bool, len(picked))
	var ids []string
	for _, id := range picked {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := r.table.Get(id); !ok {
			logger.Warn("selector picked unknown corpus", "corpus", id)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrNoApplicableCorpus
	}
	return ids, nil
}
