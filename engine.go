package mergerag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTopK is the number of leaf hits fetched per query.
const DefaultTopK = 12

// Answer is a corpus-level answer together with the context it was built from.
type Answer struct {
	Text  string       `json:"text"`
	Nodes RetrievedSet `json:"nodes"`
}

// Answerer turns a query and its retrieved context into an answer.
type Answerer interface {
	Answer(ctx context.Context, query string, nodes RetrievedSet) (string, error)
}

// --- QueryEngine ---

// QueryEngine answers queries against one corpus: retrieve, postprocess,
// answer.
type QueryEngine struct {
	retriever Retriever
	answerer  Answerer
	post      Pipeline
	topK      int
	logger    *slog.Logger
}

// EngineOption configures a QueryEngine.
type EngineOption func(*QueryEngine)

// WithTopK sets the number of leaf hits fetched per query (default DefaultTopK).
func WithTopK(k int) EngineOption {
	return func(e *QueryEngine) { e.topK = k }
}

// WithPostprocessors appends postprocessors run between retrieval and answering.
func WithPostprocessors(ps ...Postprocessor) EngineOption {
	return func(e *QueryEngine) { e.post = append(e.post, NewPipeline(ps...)...) }
}

// WithEngineLogger sets the engine logger. If not set, nothing is logged.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *QueryEngine) { e.logger = l }
}

// NewQueryEngine creates a QueryEngine.
func NewQueryEngine(r Retriever, a Answerer, opts ...EngineOption) *QueryEngine {
	e := &QueryEngine{retriever: r, answerer: a, topK: DefaultTopK}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// Query runs the full pipeline. Retrieval errors are returned unchanged so
// callers can inspect *RetrievalError.
func (e *QueryEngine) Query(ctx context.Context, query string) (Answer, error) {
	start := time.Now()
	nodes, err := e.retriever.Retrieve(ctx, query, e.topK)
	if err != nil {
		return Answer{}, err
	}
	retrieved := len(nodes)

	nodes, err = e.post.Postprocess(ctx, query, nodes)
	if err != nil {
		return Answer{}, err
	}

	text, err := e.answerer.Answer(ctx, query, nodes)
	if err != nil {
		return Answer{}, fmt.Errorf("answer: %w", err)
	}
	e.logger.Debug("query answered",
		"retrieved", retrieved,
		"context", len(nodes),
		"duration", time.Since(start))
	return Answer{Text: text, Nodes: nodes}, nil
}

// --- LLMAnswerer ---

// EmptyResponse is the answer given when no context survived retrieval.
const EmptyResponse = "Empty Response"

const answerPrompt = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Query: %s
Answer: `

// LLMAnswerer answers from context with a chat model.
type LLMAnswerer struct {
	llm Provider
}

var _ Answerer = (*LLMAnswerer)(nil)

// NewLLMAnswerer creates an Answerer backed by llm.
func NewLLMAnswerer(llm Provider) *LLMAnswerer {
	return &LLMAnswerer{llm: llm}
}

// Answer implements Answerer. It skips the model call when nodes is empty.
func (a *LLMAnswerer) Answer(ctx context.Context, query string, nodes RetrievedSet) (string, error) {
	if len(nodes) == 0 {
		return EmptyResponse, nil
	}
	parts := make([]string, len(nodes))
	for i, sn := range nodes {
		parts[i] = sn.Node.Text
	}
	resp, err := a.llm.Chat(ctx, ChatRequest{Messages: []ChatMessage{
		UserMessage(fmt.Sprintf(answerPrompt, strings.Join(parts, "\n\n"), query)),
	}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
