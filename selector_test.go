package mergerag

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestParseSelections(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{name: "object", in: `{"selections":[{"choice":2,"reason":"db"}]}`, want: []int{2}},
		{name: "fenced", in: "```json\n{\"selections\":[{\"choice\":1},{\"choice\":3}]}\n```", want: []int{1, 3}},
		{name: "bare array", in: `[{"choice":1,"reason":"x"}]`, want: []int{1}},
		{name: "prose around", in: `Sure! {"selections":[]} hope that helps`, want: []int{}},
		{name: "garbage", in: "no idea", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSelections(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLLMSelector(t *testing.T) {
	choices := []Choice{
		{ID: "startup", Description: "News and numbers of a startup."},
		{ID: "sre", Description: "Technical, development and deployment questions."},
		{ID: "hr", Description: "Holidays and contracts."},
	}

	tests := []struct {
		name  string
		reply string
		max   []int
		want  []string
	}{
		{name: "single", reply: `{"selections":[{"choice":2,"reason":"database"}]}`, want: []string{"sre"}},
		{name: "multi", reply: `{"selections":[{"choice":1},{"choice":2}]}`, want: []string{"startup", "sre"}},
		{name: "out of range and repeats dropped", reply: `{"selections":[{"choice":0},{"choice":4},{"choice":3},{"choice":3}]}`, want: []string{"hr"}},
		{name: "capped", reply: `{"selections":[{"choice":3},{"choice":1}]}`, max: []int{1}, want: []string{"hr"}},
		{name: "none", reply: `{"selections":[]}`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockProvider{responses: []ChatResponse{{Content: tt.reply}}}
			got, err := NewLLMSelector(llm, tt.max...).Select(context.Background(), "Which lib for my database?", choices)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			req := llm.requests[0]
			if !req.JSONOutput {
				t.Error("selector should request JSON output")
			}
			prompt := req.Messages[0].Content
			if !strings.Contains(prompt, "(2) Technical, development and deployment questions.") ||
				!strings.Contains(prompt, "Which lib for my database?") {
				t.Errorf("prompt = %q", prompt)
			}
		})
	}
}

func TestLLMSelector_NoChoices(t *testing.T) {
	llm := &mockProvider{}
	got, err := NewLLMSelector(llm).Select(context.Background(), "q", nil)
	if err != nil || got != nil || llm.calls() != 0 {
		t.Errorf("got %v, %v after %d calls", got, err, llm.calls())
	}
}
