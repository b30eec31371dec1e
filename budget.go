package mergerag

import "context"

// DefaultTokenBudget is the context size handed to the answerer when no limit
// is configured.
const DefaultTokenBudget = 3000

// TokenBudget keeps the longest prefix of a retrieved set whose cumulative
// token count stays within Limit. It stops at the first node that would push
// the total past Limit, even if later nodes are smaller.
type TokenBudget struct {
	Limit     int
	Tokenizer Tokenizer
}

var _ Postprocessor = (*TokenBudget)(nil)

// NewTokenBudget creates a budget postprocessor. A nil tokenizer defaults to
// ApproxTokenizer.
func NewTokenBudget(limit int, tok Tokenizer) *TokenBudget {
	if tok == nil {
		tok = ApproxTokenizer{}
	}
	return &TokenBudget{Limit: limit, Tokenizer: tok}
}

// Postprocess implements Postprocessor. The result is always a prefix of nodes.
func (b *TokenBudget) Postprocess(_ context.Context, _ string, nodes RetrievedSet) (RetrievedSet, error) {
	tok := b.Tokenizer
	if tok == nil {
		tok = ApproxTokenizer{}
	}
	total := 0
	for i, sn := range nodes {
		total += tok.CountTokens(sn.Node.Text)
		if total > b.Limit {
			return nodes[:i:i], nil
		}
	}
	return nodes, nil
}
