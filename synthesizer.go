package mergerag

import (
	"context"
	"fmt"
	"strings"
)

// Synthesizer combines answers from several corpora into one.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, answers []CorpusAnswer) (string, error)
}

const synthesizePrompt = `Context information from multiple sources is below.
---------------------
%s
---------------------
Given the information from multiple sources and not prior knowledge, answer the query.
Query: %s
Answer: `

// LLMSynthesizer merges corpus answers with a chat model.
type LLMSynthesizer struct {
	llm Provider
}

var _ Synthesizer = (*LLMSynthesizer)(nil)

// NewLLMSynthesizer creates a Synthesizer backed by llm.
func NewLLMSynthesizer(llm Provider) *LLMSynthesizer {
	return &LLMSynthesizer{llm: llm}
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, query string, answers []CorpusAnswer) (string, error) {
	var sb strings.Builder
	for i, a := range answers {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Source %d (%s):\n%s", i+1, a.CorpusID, a.Text)
	}
	resp, err := s.llm.Chat(ctx, ChatRequest{Messages: []ChatMessage{
		UserMessage(fmt.Sprintf(synthesizePrompt, sb.String(), query)),
	}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
