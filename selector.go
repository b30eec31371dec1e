package mergerag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Choice is a corpus as presented to a Selector.
type Choice struct {
	ID          string
	Description string
}

// Selector picks the corpora relevant to a query. Returning no ids means no
// corpus applies.
type Selector interface {
	Select(ctx context.Context, query string, choices []Choice) ([]string, error)
}

// --- LLMSelector ---

const selectorPrompt = `Some choices are given below. It is provided in a numbered list (1 to %d), where each item in the list corresponds to a summary.
---------------------
%s
---------------------
Using only the choices above and not prior knowledge, return the top choices (no more than %d, but only select what is needed) that are most relevant to the question: '%s'

Respond with ONLY a JSON object of the form {"selections": [{"choice": <number>, "reason": "<why>"}]}. Use an empty list when no choice is relevant.`

// LLMSelector selects corpora by asking a chat model to pick from the numbered
// corpus descriptions.
type LLMSelector struct {
	llm        Provider
	maxOutputs int
}

var _ Selector = (*LLMSelector)(nil)

// NewLLMSelector creates a multi-selector. maxOutputs caps the number of
// corpora per query; zero allows all of them.
func NewLLMSelector(llm Provider, maxOutputs ...int) *LLMSelector {
	s := &LLMSelector{llm: llm}
	if len(maxOutputs) > 0 {
		s.maxOutputs = maxOutputs[0]
	}
	return s
}

// Select implements Selector.
func (s *LLMSelector) Select(ctx context.Context, query string, choices []Choice) ([]string, error) {
	if len(choices) == 0 {
		return nil, nil
	}
	limit := s.maxOutputs
	if limit <= 0 || limit > len(choices) {
		limit = len(choices)
	}

	var list strings.Builder
	for i, c := range choices {
		fmt.Fprintf(&list, "(%d) %s\n", i+1, c.Description)
	}
	resp, err := s.llm.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			UserMessage(fmt.Sprintf(selectorPrompt, len(choices), strings.TrimRight(list.String(), "\n"), limit, query)),
		},
		JSONOutput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	nums, err := parseSelections(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	var ids []string
	seen := make(map[int]bool)
	for _, n := range nums {
		if n < 1 || n > len(choices) || seen[n] {
			continue
		}
		seen[n] = true
		ids = append(ids, choices[n-1].ID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

type selection struct {
	Choice int    `json:"choice"`
	Reason string `json:"reason"`
}

// parseSelections reads the 1-based choice numbers from a selector reply.
// Both {"selections": [...]} and a bare [...] are accepted.
func parseSelections(content string) ([]int, error) {
	trimmed := stripCodeFence(content)
	var items []selection
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, fmt.Errorf("parse selections: %w", err)
		}
	} else {
		var obj struct {
			Selections []selection `json:"selections"`
		}
		if err := json.Unmarshal([]byte(extractJSON(trimmed)), &obj); err != nil {
			return nil, fmt.Errorf("parse selections: %w", err)
		}
		items = obj.Selections
	}
	nums := make([]int, len(items))
	for i, it := range items {
		nums[i] = it.Choice
	}
	return nums, nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

// extractJSON finds the first JSON object in a string (handles code fences).
func extractJSON(input string) string {
	trimmed := stripCodeFence(input)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
