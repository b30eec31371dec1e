package ingest

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/nevindra/mergerag"
)

// Chunker splits a document into nodes. It returns every node it produced and,
// separately, the leaves that get embedded.
type Chunker interface {
	Chunk(text string) (nodes, leaves []mergerag.Node, err error)
}

// DefaultLevelSizes are the token sizes of the hierarchy, coarsest first.
var DefaultLevelSizes = []int{1536, 512}

const (
	// DefaultOverlap is the token overlap between consecutive sibling chunks.
	DefaultOverlap = 20
	// DefaultFlatSize is the chunk size used for corpora without hierarchy.
	DefaultFlatSize = 1024
)

// --- ChunkerOption ---

// ChunkerOption configures a HierarchicalChunker or FlatChunker.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	levelSizes []int
	overlap    int
	tokenizer  mergerag.Tokenizer
	seed       string
}

// WithLevelSizes sets the chunk sizes in tokens, coarsest first. Sizes must
// be positive and strictly decreasing.
func WithLevelSizes(sizes ...int) ChunkerOption {
	return func(c *chunkerConfig) { c.levelSizes = append([]int(nil), sizes...) }
}

// WithOverlap sets the maximum token overlap between consecutive siblings.
func WithOverlap(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlap = n }
}

// WithTokenizer sets the tokenizer used to measure chunk sizes. The same
// tokenizer should back the token budget at query time.
func WithTokenizer(t mergerag.Tokenizer) ChunkerOption {
	return func(c *chunkerConfig) { c.tokenizer = t }
}

// WithIDSeed namespaces node ids, typically with the corpus id.
func WithIDSeed(seed string) ChunkerOption {
	return func(c *chunkerConfig) { c.seed = seed }
}

// --- HierarchicalChunker ---

// HierarchicalChunker splits text into a tree of chunks: level 0 covers the
// document in windows of levelSizes[0] tokens, and each chunk is split again
// with the next size. Every level tiles its parent: children start at the
// parent's start, end at its end, and consecutive children either touch or
// overlap by at most the configured overlap.
//
// Cuts prefer a paragraph break, then a sentence end, then any word boundary,
// as long as the preferred cut keeps at least half of the window.
type HierarchicalChunker struct {
	cfg chunkerConfig
}

var _ Chunker = (*HierarchicalChunker)(nil)

// NewHierarchicalChunker creates a chunker with DefaultLevelSizes,
// DefaultOverlap and an ApproxTokenizer unless overridden.
func NewHierarchicalChunker(opts ...ChunkerOption) *HierarchicalChunker {
	cfg := chunkerConfig{
		levelSizes: append([]int(nil), DefaultLevelSizes...),
		overlap:    DefaultOverlap,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.tokenizer == nil {
		cfg.tokenizer = mergerag.ApproxTokenizer{}
	}
	return &HierarchicalChunker{cfg: cfg}
}

// LevelSizes returns the configured sizes, coarsest first.
func (hc *HierarchicalChunker) LevelSizes() []int { return append([]int(nil), hc.cfg.levelSizes...) }

// Overlap returns the configured overlap in tokens.
func (hc *HierarchicalChunker) Overlap() int { return hc.cfg.overlap }

// Params describes the chunking parameters, for index fingerprints.
func (hc *HierarchicalChunker) Params() string {
	return fmt.Sprintf("sizes=%v overlap=%d tokenizer=%T%+v", hc.cfg.levelSizes, hc.cfg.overlap, hc.cfg.tokenizer, hc.cfg.tokenizer)
}

// Chunk implements Chunker. Nodes are returned level by level, coarsest
// first; leaves are the finest level.
func (hc *HierarchicalChunker) Chunk(text string) ([]mergerag.Node, []mergerag.Node, error) {
	if err := hc.validate(text); err != nil {
		return nil, nil, err
	}

	d := newDocument(text, hc.cfg.tokenizer)
	var all []mergerag.Node

	// idx is the parent's position in all; -1 for the document itself.
	type parentSpan struct {
		idx  int
		a, b int
	}
	parents := []parentSpan{{idx: -1, a: 0, b: len(d.pieces)}}

	for level, size := range hc.cfg.levelSizes {
		var next []parentSpan
		for _, p := range parents {
			parentID := ""
			if p.idx >= 0 {
				parentID = all[p.idx].ID
			}
			var childIDs []string
			for _, s := range d.split(p.a, p.b, size, hc.cfg.overlap) {
				n := d.node(hc.cfg.seed, level, s, parentID)
				childIDs = append(childIDs, n.ID)
				next = append(next, parentSpan{idx: len(all), a: s.a, b: s.b})
				all = append(all, n)
			}
			if p.idx >= 0 {
				all[p.idx].ChildIDs = childIDs
			}
		}
		parents = next
	}

	return all, mergerag.LeafNodes(all), nil
}

func (hc *HierarchicalChunker) validate(text string) error {
	sizes := hc.cfg.levelSizes
	if len(sizes) == 0 {
		return &mergerag.ChunkingError{Reason: "no level sizes"}
	}
	for i, s := range sizes {
		if s <= 0 {
			return &mergerag.ChunkingError{Reason: fmt.Sprintf("level %d size %d is not positive", i, s)}
		}
		if i > 0 && s >= sizes[i-1] {
			return &mergerag.ChunkingError{Reason: fmt.Sprintf("level sizes %v are not strictly decreasing", sizes)}
		}
	}
	if hc.cfg.overlap < 0 || hc.cfg.overlap >= sizes[len(sizes)-1] {
		return &mergerag.ChunkingError{Reason: fmt.Sprintf("overlap %d must be in [0, %d)", hc.cfg.overlap, sizes[len(sizes)-1])}
	}
	if strings.TrimSpace(text) == "" {
		return &mergerag.ChunkingError{Reason: "empty text"}
	}
	return nil
}

// --- FlatChunker ---

// FlatChunker splits text into one level of chunks with no parents, for
// corpora that do not use auto-merging.
type FlatChunker struct {
	hc *HierarchicalChunker
}

var _ Chunker = (*FlatChunker)(nil)

// NewFlatChunker creates a single-level chunker of DefaultFlatSize tokens.
// WithLevelSizes may override the size; only the first size is used.
func NewFlatChunker(opts ...ChunkerOption) *FlatChunker {
	hc := NewHierarchicalChunker(append([]ChunkerOption{WithLevelSizes(DefaultFlatSize)}, opts...)...)
	if len(hc.cfg.levelSizes) > 1 {
		hc.cfg.levelSizes = hc.cfg.levelSizes[:1]
	}
	return &FlatChunker{hc: hc}
}

// Params describes the chunking parameters, for index fingerprints.
func (fc *FlatChunker) Params() string { return "flat " + fc.hc.Params() }

// Chunk implements Chunker. Every node is a leaf at level 0.
func (fc *FlatChunker) Chunk(text string) ([]mergerag.Node, []mergerag.Node, error) {
	return fc.hc.Chunk(text)
}

// --- document pieces ---

// span is a half-open range of piece indices.
type span struct{ a, b int }

// document is text cut into pieces of one word plus its trailing whitespace.
// Concatenating pieces[a:b] reproduces text[off[a]:off[b]] exactly.
type document struct {
	text   string
	off    []int // len(pieces)+1 byte offsets
	tokens []int // token count per piece
	pieces []string
	para   []bool // para[c]: a cut before piece c follows a paragraph break
	sent   []bool // sent[c]: piece c starts a sentence
}

func newDocument(text string, tok mergerag.Tokenizer) *document {
	d := &document{text: text}
	d.off = append(d.off, 0)
	prevSpace, seenWord := false, false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space {
			if prevSpace && seenWord {
				d.off = append(d.off, i)
			}
			seenWord = true
		}
		prevSpace = space
	}
	d.off = append(d.off, len(text))

	n := len(d.off) - 1
	d.pieces = make([]string, n)
	d.tokens = make([]int, n)
	d.para = make([]bool, n+1)
	d.sent = make([]bool, n+1)
	for i := range n {
		p := text[d.off[i]:d.off[i+1]]
		d.pieces[i] = p
		d.tokens[i] = tok.CountTokens(p)
		ws := p[len(strings.TrimRightFunc(p, unicode.IsSpace)):]
		d.para[i+1] = strings.Count(ws, "\n") >= 2
	}
	for _, pos := range findSentenceBoundaries(text) {
		c := sort.SearchInts(d.off, pos)
		if c > 0 && c < n {
			d.sent[c] = true
		}
	}
	return d
}

// split tiles pieces[a:b] into windows of at most size tokens, overlapping by
// at most overlap tokens. A single piece larger than size forms its own window.
func (d *document) split(a, b, size, overlap int) []span {
	var spans []span
	start, prevEnd := a, a
	for {
		end, tok := start, 0
		for end < b && (end == start || end <= prevEnd || tok+d.tokens[end] <= size) {
			tok += d.tokens[end]
			end++
		}
		if end < b {
			minCut := max(start+(end-start+1)/2, prevEnd+1)
			end = d.cut(minCut, end)
		}
		spans = append(spans, span{start, end})
		if end >= b {
			return spans
		}

		// Step back over up to overlap tokens, keeping room for progress.
		next, ov := end, 0
		for next > start+1 && ov+d.tokens[next-1] <= overlap {
			ov += d.tokens[next-1]
			next--
		}
		if ov+d.tokens[end] > size {
			next = end
		}
		start, prevEnd = next, end
	}
}

// cut picks the best cut in [lo, hi]: the latest paragraph break, else the
// latest sentence start, else hi.
func (d *document) cut(lo, hi int) int {
	if lo > hi {
		return hi
	}
	for c := hi; c >= lo; c-- {
		if d.para[c] {
			return c
		}
	}
	for c := hi; c >= lo; c-- {
		if d.sent[c] {
			return c
		}
	}
	return hi
}

func (d *document) node(seed string, level int, s span, parentID string) mergerag.Node {
	start, end := d.off[s.a], d.off[s.b]
	text := d.text[start:end]
	return mergerag.Node{
		ID:       mergerag.NodeID(seed, level, start, end, text),
		Text:     text,
		Level:    level,
		ParentID: parentID,
		Start:    start,
		End:      end,
	}
}
