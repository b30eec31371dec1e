package ingest

import (
	"strings"
	"testing"
)

func TestPlainTextExtractorIdentity(t *testing.T) {
	out, err := PlainTextExtractor{}.Extract([]byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello world" {
		t.Errorf("expected hello world, got %q", out)
	}
}

func TestMarkdownExtractor(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and a [link](http://x).\n\n- one\n- two\n\n```go\nfmt.Println(1)\n```\n"
	out, err := MarkdownExtractor{}.Extract([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := "Title\n\nSome emphasis and a link.\n\none\ntwo\n\nfmt.Println(1)"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestMarkdownExtractorSoftBreaks(t *testing.T) {
	out, err := MarkdownExtractor{}.Extract([]byte("first line\nsecond line\n\n> quoted"))
	if err != nil {
		t.Fatal(err)
	}
	if out != "first line second line\n\nquoted" {
		t.Errorf("got %q", out)
	}
}

func TestHTMLText(t *testing.T) {
	out := htmlText("<p>Hello <b>world</b></p><script>alert('x')</script><p>Tom &amp; Jerry</p>")
	if out != "Hello world\n\nTom & Jerry" {
		t.Errorf("got %q", out)
	}
}

func TestHTMLExtractor(t *testing.T) {
	page := `<html><head><title>Guide</title><style>p{}</style></head><body>
<nav><a href="/">Home</a></nav>
<article><h1>Database access</h1>
<p>Use the pgx driver to reach PostgreSQL from Go services. It supports pooling, prepared statements and the binary protocol.</p>
<p>For embedded storage, SQLite through a pure Go driver avoids cgo entirely and keeps cross compilation simple.</p>
</article></body></html>`
	out, err := HTMLExtractor{}.Extract([]byte(page))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "pgx driver") || !strings.Contains(out, "SQLite") {
		t.Errorf("article text missing: %q", out)
	}
	if strings.Contains(out, "<") || strings.Contains(out, "p{}") {
		t.Errorf("markup leaked: %q", out)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("\n\n  a   b \n\n\n\n c\n d  \n\n")
	if got != "a b\n\nc\nd" {
		t.Errorf("got %q", got)
	}
}

func TestContentTypeFromExtension(t *testing.T) {
	tests := map[string]ContentType{
		".md":      TypeMarkdown,
		"markdown": TypeMarkdown,
		".HTML":    TypeHTML,
		"htm":      TypeHTML,
		".pdf":     TypePDF,
		".docx":    TypeDOCX,
		"CSV":      TypeCSV,
		".json":    TypeJSON,
		".txt":     TypePlainText,
		"":         TypePlainText,
		".unknown": TypePlainText,
	}
	for ext, want := range tests {
		if got := ContentTypeFromExtension(ext); got != want {
			t.Errorf("ContentTypeFromExtension(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestBinaryExtractorsRejectBadInput(t *testing.T) {
	for name, ex := range map[string]Extractor{"pdf": NewPDFExtractor(), "docx": NewDOCXExtractor()} {
		if _, err := ex.Extract(nil); err == nil {
			t.Errorf("%s: empty content should fail", name)
		}
		if _, err := ex.Extract([]byte("not a real file")); err == nil {
			t.Errorf("%s: garbage content should fail", name)
		}
	}
}

func TestExtractFile(t *testing.T) {
	ex := DefaultExtractors()
	out, err := extractFile(ex, "notes/readme.md", []byte("## Hi\n\nthere"))
	if err != nil || out != "Hi\n\nthere" {
		t.Errorf("markdown: %q, %v", out, err)
	}
	out, err = extractFile(map[ContentType]Extractor{}, "a.md", []byte("## raw"))
	if err != nil || out != "## raw" {
		t.Errorf("fallback: %q, %v", out, err)
	}
	if _, err := extractFile(ex, "broken.pdf", []byte("nope")); err == nil || !strings.Contains(err.Error(), "application/pdf") {
		t.Errorf("pdf error = %v", err)
	}
}
