package ingest

import (
	"bytes"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// Extractor converts raw file content to plain text. Paragraphs are separated
// by blank lines so the chunker can cut on them.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypeDOCX      ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePDF       ContentType = "application/pdf"
	TypeCSV       ContentType = "text/csv"
	TypeJSON      ContentType = "application/json"
)

// ContentTypeFromExtension maps a file extension, with or without the leading
// dot, to a content type.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "docx":
		return TypeDOCX
	case "pdf":
		return TypePDF
	case "csv":
		return TypeCSV
	case "json":
		return TypeJSON
	default:
		return TypePlainText
	}
}

// DefaultExtractors returns the built-in extractor for every content type.
func DefaultExtractors() map[ContentType]Extractor {
	return map[ContentType]Extractor{
		TypePlainText: PlainTextExtractor{},
		TypeMarkdown:  MarkdownExtractor{},
		TypeHTML:      HTMLExtractor{},
		TypePDF:       NewPDFExtractor(),
		TypeDOCX:      NewDOCXExtractor(),
		TypeCSV:       CSVExtractor{},
		TypeJSON:      JSONExtractor{},
	}
}

// extractFile runs the extractor registered for filename's extension, falling
// back to plain text.
func extractFile(extractors map[ContentType]Extractor, filename string, content []byte) (string, error) {
	ct := ContentTypeFromExtension(filepath.Ext(filename))
	ex, ok := extractors[ct]
	if !ok {
		ex = PlainTextExtractor{}
	}
	out, err := ex.Extract(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ct, err)
	}
	return out, nil
}

// --- Plain text ---

// PlainTextExtractor returns content as-is.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return string(content), nil
}

// --- Markdown ---

// MarkdownExtractor parses markdown with goldmark and keeps the text of
// headings, paragraphs, list items and code blocks, one block per paragraph.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(content []byte) (string, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(content))
	var blocks []string
	collectBlocks(doc, content, &blocks)
	return strings.Join(blocks, "\n\n"), nil
}

func collectBlocks(n ast.Node, src []byte, out *[]string) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			appendBlock(out, rawLines(c, src))
		case ast.KindHTMLBlock:
			appendBlock(out, htmlText(rawLines(c, src)))
		case ast.KindBlockquote:
			collectBlocks(c, src, out)
		case ast.KindList:
			var items []string
			for item := c.FirstChild(); item != nil; item = item.NextSibling() {
				var parts []string
				collectBlocks(item, src, &parts)
				if len(parts) > 0 {
					items = append(items, strings.Join(parts, " "))
				}
			}
			appendBlock(out, strings.Join(items, "\n"))
		case ast.KindThematicBreak:
		default:
			appendBlock(out, inlineText(c, src))
		}
	}
}

func appendBlock(out *[]string, s string) {
	if s = strings.TrimSpace(s); s != "" {
		*out = append(*out, s)
	}
}

func rawLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String()
}

// inlineText concatenates the text of n's inline descendants, dropping markup.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Value(src))
			if t.HardLineBreak() {
				buf.WriteByte('\n')
			} else if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.Label(src))
		case *ast.RawHTML:
		default:
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

// --- HTML ---

// HTMLExtractor extracts the readable article text of a page with
// go-readability and falls back to a tag-stripping pass when readability
// finds nothing.
type HTMLExtractor struct{}

func (HTMLExtractor) Extract(content []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(content), &url.URL{Scheme: "file", Path: "/"})
	if err == nil {
		if t := collapseWhitespace(article.TextContent); t != "" {
			return t, nil
		}
	}
	return htmlText(string(content)), nil
}

// htmlText strips tags, scripts and styles. Block elements start a new
// paragraph.
func htmlText(doc string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(doc))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(sb.String())
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if isBlockTag(tag) {
				sb.WriteString("\n\n")
			}
		}
	}
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "table", "tr", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}

// collapseWhitespace trims every line and squeezes runs of blank lines into a
// single paragraph break.
func collapseWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
