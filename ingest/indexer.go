package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nevindra/mergerag"
)

// Indexer opens corpora: it loads a persisted index when one exists and is
// current, and otherwise builds one (read, chunk, embed) and persists it.
//
// Opening the same corpus concurrently is serialised per corpus id, so a
// corpus is built at most once; later callers load what the first persisted.
type Indexer struct {
	store     mergerag.IndexStore
	embedding mergerag.EmbeddingProvider
	source    mergerag.DocumentSource

	chunkerOpts []ChunkerOption
	batchSize   int
	concurrency int
	logger      *slog.Logger

	mu     sync.Mutex
	locks  map[string]chan struct{}
	states map[string]mergerag.CorpusState
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithChunkerOptions sets the options used for every corpus chunker. The id
// seed is always the corpus id.
func WithChunkerOptions(opts ...ChunkerOption) IndexerOption {
	return func(ix *Indexer) { ix.chunkerOpts = append(ix.chunkerOpts, opts...) }
}

// WithBatchSize sets the number of leaves embedded per call (default 64).
func WithBatchSize(n int) IndexerOption {
	return func(ix *Indexer) { ix.batchSize = n }
}

// WithConcurrency sets how many corpora OpenAll opens at once (default 4).
func WithConcurrency(n int) IndexerOption {
	return func(ix *Indexer) { ix.concurrency = n }
}

// WithLogger sets the logger. If not set, nothing is logged.
func WithLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// NewIndexer creates an Indexer.
func NewIndexer(store mergerag.IndexStore, emb mergerag.EmbeddingProvider, src mergerag.DocumentSource, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:       store,
		embedding:   emb,
		source:      src,
		batchSize:   64,
		concurrency: 4,
		locks:       make(map[string]chan struct{}),
		states:      make(map[string]mergerag.CorpusState),
	}
	for _, o := range opts {
		o(ix)
	}
	if ix.logger == nil {
		ix.logger = nopLogger
	}
	if ix.concurrency < 1 {
		ix.concurrency = 1
	}
	return ix
}

// State returns the lifecycle state of corpus id.
func (ix *Indexer) State(id string) mergerag.CorpusState {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.states[id]
}

func (ix *Indexer) setState(id string, s mergerag.CorpusState) {
	ix.mu.Lock()
	ix.states[id] = s
	ix.mu.Unlock()
}

// lockFor returns the one-slot semaphore that serialises opens of corpus id.
func (ix *Indexer) lockFor(id string) chan struct{} {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	l, ok := ix.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		ix.locks[id] = l
	}
	return l
}

// chunkerFor returns the chunker for spec and its parameter string.
func (ix *Indexer) chunkerFor(spec mergerag.CorpusSpec) (Chunker, string) {
	opts := append(append([]ChunkerOption(nil), ix.chunkerOpts...), WithIDSeed(spec.ID))
	if spec.Hierarchical {
		hc := NewHierarchicalChunker(opts...)
		return hc, hc.Params()
	}
	fc := NewFlatChunker(opts...)
	return fc, fc.Params()
}

// Fingerprint identifies everything a built index depends on: the source
// documents, chunking parameters, embedding model and hierarchy flag.
func (ix *Indexer) Fingerprint(ctx context.Context, spec mergerag.CorpusSpec) (string, error) {
	src, err := ix.source.Fingerprint(ctx, spec.Dir)
	if err != nil {
		return "", err
	}
	_, params := ix.chunkerFor(spec)
	key := fmt.Sprintf("%s\x00%s\x00%s/%d\x00%t", src, params, ix.embedding.Name(), ix.embedding.Dimensions(), spec.Hierarchical)
	return fmt.Sprintf("%016x", xxhash.Sum64String(key)), nil
}

// Open loads or builds the corpus described by spec. Load failures trigger a
// rebuild; a failed build returns *mergerag.IndexBuildError. Waiting behind
// another open of the same corpus ends with ctx.Err() if ctx is cancelled.
func (ix *Indexer) Open(ctx context.Context, spec mergerag.CorpusSpec) (*mergerag.Corpus, error) {
	lock := ix.lockFor(spec.ID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-lock }()

	logger := ix.logger.With("corpus", spec.ID)
	ix.setState(spec.ID, mergerag.StateLoading)

	fp, fpErr := ix.Fingerprint(ctx, spec)
	start := time.Now()
	snap, loadErr := ix.store.Load(ctx, spec.ID)
	want := fp
	if fpErr != nil && loadErr == nil {
		logger.Warn("source unavailable, trusting persisted index", "error", fpErr)
		want = snap.Fingerprint
	}

	res := mergerag.ResolveLoad(spec, snap, loadErr, want)
	if !res.NeedsRebuild() {
		ix.setState(spec.ID, mergerag.StateLoaded)
		logger.Info("index loaded",
			"nodes", res.Corpus.Nodes.Len(),
			"leaves", res.Corpus.Index.Len(),
			"duration", time.Since(start))
		return res.Corpus, nil
	}
	logger.Info("index rebuild required", "reason", res.Err.Reason, "error", res.Err)

	if fpErr != nil {
		ix.setState(spec.ID, mergerag.StateFailed)
		return nil, &mergerag.IndexBuildError{CorpusID: spec.ID, Err: fpErr}
	}

	ix.setState(spec.ID, mergerag.StateBuilding)
	c, err := ix.build(ctx, spec, fp, logger)
	if err != nil {
		ix.setState(spec.ID, mergerag.StateFailed)
		logger.Error("index build failed", "error", err)
		return nil, &mergerag.IndexBuildError{CorpusID: spec.ID, Err: err}
	}
	ix.setState(spec.ID, mergerag.StatePersisted)
	return c, nil
}

func (ix *Indexer) build(ctx context.Context, spec mergerag.CorpusSpec, fp string, logger *slog.Logger) (*mergerag.Corpus, error) {
	start := time.Now()

	doc, err := ix.source.Load(ctx, spec.Dir)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	chunker, _ := ix.chunkerFor(spec)
	nodes, leaves, err := chunker.Chunk(doc.Text)
	if err != nil {
		return nil, err
	}
	store, err := mergerag.NewNodeStore(nodes)
	if err != nil {
		return nil, err
	}

	idx, err := mergerag.BuildVectorIndex(ctx, ix.embedding, leaves, ix.batchSize)
	if err != nil {
		return nil, err
	}

	c := &mergerag.Corpus{
		ID:           spec.ID,
		Description:  spec.Description,
		Hierarchical: spec.Hierarchical,
		Nodes:        store,
		Index:        idx,
		State:        mergerag.StatePersisted,
		Fingerprint:  fp,
		BuiltAt:      mergerag.NowUnix(),
	}
	if err := ix.store.Save(ctx, c.Snapshot()); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	logger.Info("index built",
		"files", len(doc.Files),
		"nodes", len(nodes),
		"leaves", len(leaves),
		"duration", time.Since(start))
	return c, nil
}

// OpenFailure records a corpus that could not be opened.
type OpenFailure struct {
	CorpusID string
	Err      error
}

// OpenAll opens every corpus concurrently. Corpora that fail are reported in
// the failure list and logged; the error is non-nil only when no corpus could
// be opened, and then wraps mergerag.ErrNoCorpora. Corpora are returned in
// spec order.
func (ix *Indexer) OpenAll(ctx context.Context, specs []mergerag.CorpusSpec) ([]*mergerag.Corpus, []OpenFailure, error) {
	opened := make([]*mergerag.Corpus, len(specs))
	errs := make([]error, len(specs))

	seen := make(map[string]bool, len(specs))
	var g errgroup.Group
	g.SetLimit(ix.concurrency)
	for i, spec := range specs {
		if seen[spec.ID] {
			errs[i] = fmt.Errorf("duplicate corpus id %q", spec.ID)
			continue
		}
		seen[spec.ID] = true
		g.Go(func() error {
			opened[i], errs[i] = ix.Open(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	var corpora []*mergerag.Corpus
	var failures []OpenFailure
	for i, spec := range specs {
		if errs[i] != nil {
			ix.logger.Warn("corpus unavailable", "corpus", spec.ID, "error", errs[i])
			failures = append(failures, OpenFailure{CorpusID: spec.ID, Err: errs[i]})
			continue
		}
		corpora = append(corpora, opened[i])
	}
	if len(corpora) == 0 {
		all := []error{mergerag.ErrNoCorpora}
		for _, f := range failures {
			all = append(all, f.Err)
		}
		return nil, failures, errors.Join(all...)
	}
	return corpora, failures, nil
}
