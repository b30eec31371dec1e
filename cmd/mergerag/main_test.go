package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/mergerag"
	"github.com/nevindra/mergerag/internal/config"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    command
		wantErr bool
	}{
		{name: "bare question", args: []string{"what", "is", "rag?"}, want: command{name: "query", query: "what is rag?"}},
		{name: "explicit query", args: []string{"query", "hello"}, want: command{name: "query", query: "hello"}},
		{name: "serve", args: []string{"serve"}, want: command{name: "serve"}},
		{name: "config flag", args: []string{"-config", "x.toml", "serve"}, want: command{name: "serve", configPath: "x.toml"}},
		{name: "no question", args: nil, wantErr: true},
		{name: "blank question", args: []string{"query", "  "}, wantErr: true},
		{name: "serve with args", args: []string{"serve", "extra"}, wantErr: true},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: true},
	}
	t.Setenv("MERGERAG_CONFIG", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args, &bytes.Buffer{})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseArgs(%q) = %+v, want error", tt.args, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseArgs = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRunUsageAndConfigErrors(t *testing.T) {
	t.Setenv("MERGERAG_CONFIG", "")
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Errorf("no args: exit %d, want 2", code)
	}

	path := filepath.Join(t.TempDir(), "mergerag.toml")
	if err := os.WriteFile(path, []byte("log_level = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stderr.Reset()
	if code := run([]string{"-config", path, "hi"}, &stdout, &stderr); code != 1 {
		t.Errorf("no corpora: exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "no [[corpus]] configured") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
}

func TestCorpusSpecs(t *testing.T) {
	specs := corpusSpecs([]config.CorpusConfig{
		{ID: "docs", Dir: "/data/docs", Description: "Documentation"},
		{ID: "faq", Dir: "faq", Flat: true},
	})
	if len(specs) != 2 {
		t.Fatalf("got %d specs", len(specs))
	}
	if !specs[0].Hierarchical || specs[0].Dir != "/data/docs" || specs[0].Description != "Documentation" {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].Hierarchical || specs[1].ID != "faq" {
		t.Errorf("specs[1] = %+v", specs[1])
	}
}

func TestPostprocessors(t *testing.T) {
	tok := mergerag.ApproxTokenizer{}
	if ps := postprocessors(config.RetrievalConfig{}, tok); len(ps) != 0 {
		t.Errorf("zero config: %d stages", len(ps))
	}
	ps := postprocessors(config.RetrievalConfig{MinScore: 0.2, TokenBudget: 100}, tok)
	if len(ps) != 2 {
		t.Fatalf("got %d stages, want 2", len(ps))
	}
	if _, ok := ps[0].(mergerag.MinScore); !ok {
		t.Errorf("first stage = %T, want MinScore", ps[0])
	}
	if _, ok := ps[1].(*mergerag.TokenBudget); !ok {
		t.Errorf("second stage = %T, want *TokenBudget", ps[1])
	}
}

func TestNewTokenizer(t *testing.T) {
	if _, ok := newTokenizer("WORD").(mergerag.WordTokenizer); !ok {
		t.Error("word tokenizer not selected")
	}
	if _, ok := newTokenizer("approx").(mergerag.ApproxTokenizer); !ok {
		t.Error("approx tokenizer not selected")
	}
}

func TestLevelOf(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := levelOf(in); got != want {
			t.Errorf("levelOf(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrintResponse(t *testing.T) {
	var buf bytes.Buffer
	printResponse(&buf, mergerag.Response{
		Text: "  Paris.\n",
		Sources: []mergerag.CorpusAnswer{{
			CorpusID: "geo",
			Answer: mergerag.Answer{Nodes: mergerag.RetrievedSet{
				{Node: mergerag.Node{ID: "n1", Text: "Paris is\nthe capital " + strings.Repeat("x", 100)}, Score: 0.91},
			}},
		}},
	})
	out := buf.String()
	for _, want := range []string{"Paris.\n\nSources:\n", "  [geo]\n", "0.910  n1  Paris is the capital ", "...\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printResponse(&buf, mergerag.Response{Text: "none"})
	if buf.String() != "none\n" {
		t.Errorf("no sources: %q", buf.String())
	}
}
