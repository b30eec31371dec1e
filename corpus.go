package mergerag

import (
	"context"
	"errors"
	"fmt"
)

// --- Corpus registration ---

// CorpusSpec describes a corpus to open: where its documents live and how it
// is indexed.
type CorpusSpec struct {
	ID           string
	Dir          string
	Description  string
	Hierarchical bool
}

// CorpusState is the lifecycle state of a corpus index.
type CorpusState int

const (
	StateUnloaded CorpusState = iota
	StateLoading
	StateLoaded
	StateBuilding
	StatePersisted
	StateFailed
)

func (s CorpusState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateBuilding:
		return "building"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Ready reports whether a corpus in state s can serve queries.
func (s CorpusState) Ready() bool { return s == StateLoaded || s == StatePersisted }

// Corpus is an opened, queryable corpus. It is never mutated after opening; a
// rebuild produces a new Corpus.
type Corpus struct {
	ID           string
	Description  string
	Hierarchical bool
	Nodes        *NodeStore
	Index        *VectorIndex
	State        CorpusState
	Fingerprint  string
	BuiltAt      int64
}

// NewRetriever returns an AutoMergingRetriever for hierarchical corpora and a
// VectorRetriever otherwise.
func (c *Corpus) NewRetriever(emb EmbeddingProvider, opts ...RetrieverOption) Retriever {
	if c.Hierarchical {
		return NewAutoMergingRetriever(c.Nodes, c.Index, emb, opts...)
	}
	return NewVectorRetriever(c.Nodes, c.Index, emb, opts...)
}

// Snapshot returns the persistable form of c.
func (c *Corpus) Snapshot() Snapshot {
	return Snapshot{
		CorpusID:     c.ID,
		Hierarchical: c.Hierarchical,
		Nodes:        c.Nodes.Nodes(),
		Vectors:      c.Index.Vectors(),
		Fingerprint:  c.Fingerprint,
		BuiltAt:      c.BuiltAt,
	}
}

// --- Persistence ---

// Snapshot is the serialisable form of a corpus index.
type Snapshot struct {
	CorpusID     string
	Hierarchical bool
	Nodes        []Node
	Vectors      map[string][]float32
	Fingerprint  string
	BuiltAt      int64
}

// Validate checks the tree invariant and that the vectors cover exactly the
// leaf nodes.
func (s Snapshot) Validate() error {
	if len(s.Nodes) == 0 {
		return errors.New("snapshot has no nodes")
	}
	store, err := NewNodeStore(s.Nodes)
	if err != nil {
		return err
	}
	if err := store.Validate(); err != nil {
		return err
	}
	leaves := store.Leaves()
	if len(s.Vectors) != len(leaves) {
		return fmt.Errorf("snapshot has %d vectors for %d leaves", len(s.Vectors), len(leaves))
	}
	for _, l := range leaves {
		if _, ok := s.Vectors[l.ID]; !ok {
			return fmt.Errorf("leaf %s has no vector", l.ID)
		}
	}
	return nil
}

// Corpus turns a validated snapshot into a queryable corpus in state.
func (s Snapshot) Corpus(description string, state CorpusState) (*Corpus, error) {
	store, err := NewNodeStore(s.Nodes)
	if err != nil {
		return nil, err
	}
	idx, err := NewVectorIndex(s.Vectors)
	if err != nil {
		return nil, err
	}
	return &Corpus{
		ID:           s.CorpusID,
		Description:  description,
		Hierarchical: s.Hierarchical,
		Nodes:        store,
		Index:        idx,
		State:        state,
		Fingerprint:  s.Fingerprint,
		BuiltAt:      s.BuiltAt,
	}, nil
}

// IndexStore persists corpus snapshots. Load returns ErrSnapshotNotFound
// (possibly wrapped) when nothing was saved for corpusID. Save replaces any
// previous snapshot of the same corpus atomically.
type IndexStore interface {
	Load(ctx context.Context, corpusID string) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// LoadResult is the outcome of trying to load a persisted index: either a
// usable Corpus, or the reason it must be rebuilt.
type LoadResult struct {
	Corpus *Corpus
	Err    *IndexLoadError
}

// NeedsRebuild reports whether the load failed and a build is required.
func (r LoadResult) NeedsRebuild() bool { return r.Corpus == nil }

// ResolveLoad decides whether a loaded snapshot can be used for spec.
// loadErr is the error IndexStore.Load returned, if any. A snapshot is usable
// when it loaded, validates and was built from fingerprint.
func ResolveLoad(spec CorpusSpec, snap Snapshot, loadErr error, fingerprint string) LoadResult {
	fail := func(reason string, err error) LoadResult {
		return LoadResult{Err: &IndexLoadError{CorpusID: spec.ID, Reason: reason, Err: err}}
	}
	switch {
	case errors.Is(loadErr, ErrSnapshotNotFound):
		return fail("missing", nil)
	case loadErr != nil:
		return fail("corrupt", loadErr)
	}
	if snap.CorpusID != spec.ID {
		return fail("corrupt", fmt.Errorf("snapshot belongs to corpus %q", snap.CorpusID))
	}
	if snap.Fingerprint != fingerprint {
		return fail("stale", nil)
	}
	if snap.Hierarchical != spec.Hierarchical {
		return fail("stale", errors.New("hierarchy setting changed"))
	}
	if err := snap.Validate(); err != nil {
		return fail("invalid", err)
	}
	c, err := snap.Corpus(spec.Description, StateLoaded)
	if err != nil {
		return fail("invalid", err)
	}
	return LoadResult{Corpus: c}
}

// --- Document source ---

// SourceDocument is the text of one corpus, combined from its files.
type SourceDocument struct {
	Text  string
	Files []string
}

// DocumentSource reads the documents of a corpus directory.
type DocumentSource interface {
	// Load returns the combined text of all documents under dir.
	Load(ctx context.Context, dir string) (SourceDocument, error)
	// Fingerprint returns a value that changes whenever Load's output would.
	Fingerprint(ctx context.Context, dir string) (string, error)
}
