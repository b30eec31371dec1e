package ingest

import (
	"strings"
	"testing"
)

func TestCSVExtractor(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "rows become paragraphs",
			input: "Name,Age,City\nJohn,30,NYC\nJane,25,LA\n",
			want:  "Name: John; Age: 30; City: NYC\n\nName: Jane; Age: 25; City: LA",
		},
		{
			name:  "empty cells skipped",
			input: "Name,Age\nJohn,\n,25\n,\n",
			want:  "Name: John\n\nAge: 25",
		},
		{
			name:  "quoted field with comma",
			input: "Title,Note\n\"Hello, world\",\"said \"\"hi\"\"\"\n",
			want:  "Title: Hello, world; Note: said \"hi\"",
		},
		{
			name:  "byte order mark",
			input: "\xef\xbb\xbfKey,Value\na,1\n",
			want:  "Key: a; Value: 1",
		},
		{
			name:  "ragged rows",
			input: "A,B\n1,2,3\n4\n",
			want:  "A: 1; B: 2\n\nA: 4",
		},
		{name: "header only", input: "A,B\n", want: ""},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CSVExtractor{}.Extract([]byte(tt.input))
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONExtractor(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "keys sorted",
			input: `{"name": "John", "age": 30, "admin": false}`,
			want:  "admin: false\nage: 30\nname: John",
		},
		{
			name:  "nested paths",
			input: `{"user": {"address": {"city": "NYC"}, "name": "John"}}`,
			want:  "user.address.city: NYC\nuser.name: John",
		},
		{
			name:  "scalar list joined",
			input: `{"tags": ["a", "b", null, 3]}`,
			want:  "tags: a, b, 3",
		},
		{
			name:  "object list indexed",
			input: `{"items": [{"id": 1}, {"id": 2}]}`,
			want:  "items[0].id: 1\nitems[1].id: 2",
		},
		{
			name:  "top-level array splits paragraphs",
			input: `[{"q": "one"}, {"q": "two"}]`,
			want:  "q: one\n\nq: two",
		},
		{
			name:  "large numbers kept exact",
			input: `{"n": 12345678901234567890, "f": 1.5}`,
			want:  "f: 1.5\nn: 12345678901234567890",
		},
		{name: "top-level scalar", input: `"hello"`, want: "value: hello"},
		{name: "nulls dropped", input: `{"a": null}`, want: ""},
		{name: "empty", input: "  ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONExtractor{}.Extract([]byte(tt.input))
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONExtractorInvalid(t *testing.T) {
	if _, err := (JSONExtractor{}).Extract([]byte(`{"broken":`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestJSONExtractorDepthLimit(t *testing.T) {
	deep := strings.Repeat(`{"a":`, maxJSONDepth+5) + "1" + strings.Repeat("}", maxJSONDepth+5)
	got, err := JSONExtractor{}.Extract([]byte(deep))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.HasSuffix(got, ": ...") {
		t.Errorf("deep document not truncated: %q", got[max(0, len(got)-40):])
	}
}
