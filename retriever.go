package mergerag

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// Retriever searches one corpus and returns a ranked, deduplicated result.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) (RetrievedSet, error)
}

// DefaultMergeThreshold is the fraction of a parent's children that must be
// retrieved together before the parent replaces them.
const DefaultMergeThreshold = 0.5

// RetrieverOption configures a VectorRetriever or AutoMergingRetriever.
type RetrieverOption func(*retrieverConfig)

type retrieverConfig struct {
	mergeThreshold float64
	logger         *slog.Logger
}

// WithMergeThreshold sets the promotion threshold of an AutoMergingRetriever.
// A parent is promoted when hit children / total children >= t.
// Default is DefaultMergeThreshold.
func WithMergeThreshold(t float64) RetrieverOption {
	return func(c *retrieverConfig) { c.mergeThreshold = t }
}

// WithRetrieverLogger sets the logger used to report node store
// inconsistencies found during retrieval. If not set, nothing is logged.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(c *retrieverConfig) { c.logger = l }
}

func newRetrieverConfig(opts []RetrieverOption) retrieverConfig {
	cfg := retrieverConfig{mergeThreshold: DefaultMergeThreshold}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	return cfg
}

// --- VectorRetriever ---

// VectorRetriever returns the top-k leaves by similarity without merging.
// It serves corpora indexed without hierarchy.
type VectorRetriever struct {
	nodes     *NodeStore
	index     *VectorIndex
	embedding EmbeddingProvider
	cfg       retrieverConfig
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a flat similarity retriever.
func NewVectorRetriever(nodes *NodeStore, index *VectorIndex, emb EmbeddingProvider, opts ...RetrieverOption) *VectorRetriever {
	return &VectorRetriever{nodes: nodes, index: index, embedding: emb, cfg: newRetrieverConfig(opts)}
}

// Retrieve embeds the query and returns the top-k most similar leaves.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) (RetrievedSet, error) {
	return searchLeaves(ctx, r.nodes, r.index, r.embedding, query, topK, r.cfg.logger)
}

// --- AutoMergingRetriever ---

// AutoMergingRetriever retrieves leaves by similarity, then replaces clusters
// of sibling hits with their parent when enough of the parent's children were
// retrieved. Promotion repeats level by level until nothing qualifies.
type AutoMergingRetriever struct {
	nodes     *NodeStore
	index     *VectorIndex
	embedding EmbeddingProvider
	cfg       retrieverConfig
}

var _ Retriever = (*AutoMergingRetriever)(nil)

// NewAutoMergingRetriever creates a merging retriever over one corpus.
func NewAutoMergingRetriever(nodes *NodeStore, index *VectorIndex, emb EmbeddingProvider, opts ...RetrieverOption) *AutoMergingRetriever {
	return &AutoMergingRetriever{nodes: nodes, index: index, embedding: emb, cfg: newRetrieverConfig(opts)}
}

// Retrieve returns the merged result for query. Leaves are fetched with topK;
// the merged set may be shorter than topK.
func (r *AutoMergingRetriever) Retrieve(ctx context.Context, query string, topK int) (RetrievedSet, error) {
	hits, err := searchLeaves(ctx, r.nodes, r.index, r.embedding, query, topK, r.cfg.logger)
	if err != nil {
		return nil, err
	}
	merged := autoMerge(r.nodes, hits, r.cfg.mergeThreshold, r.cfg.logger)
	r.cfg.logger.Debug("auto-merge done", "hits", len(hits), "merged", len(merged))
	return merged, nil
}

// searchLeaves embeds the query, searches the index and resolves hit ids to
// nodes. Hits whose node is missing from the store are logged and dropped.
func searchLeaves(ctx context.Context, nodes *NodeStore, index *VectorIndex, emb EmbeddingProvider, query string, topK int, logger *slog.Logger) (RetrievedSet, error) {
	embs, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	if len(embs) == 0 {
		return nil, &RetrievalError{Stage: "embed", Err: errors.New("no embedding returned")}
	}

	ids, err := index.Search(embs[0], topK)
	if err != nil {
		return nil, &RetrievalError{Stage: "search", Err: err}
	}

	hits := make(RetrievedSet, 0, len(ids))
	for rank, sid := range ids {
		n, ok := nodes.Get(sid.ID)
		if !ok {
			logger.Warn("retrieval: indexed id missing from node store", "id", sid.ID)
			continue
		}
		hits = append(hits, ScoredNode{Node: n, Score: sid.Score, Rank: rank})
	}
	return hits, nil
}

// autoMerge consolidates hits into ancestors. Each round groups the working
// set by parent; a parent whose hit children reach threshold replaces them and
// inherits their best score and best rank. Rounds repeat until no parent
// qualifies. A parent is promoted at most once.
func autoMerge(store *NodeStore, hits RetrievedSet, threshold float64, logger *slog.Logger) RetrievedSet {
	working := make(RetrievedSet, 0, len(hits))
	for _, h := range hits {
		working = addOrMerge(working, h)
	}

	// Parents that can never be promoted: already promoted, missing, or childless.
	settled := make(map[string]bool)

	for {
		groups := make(map[string][]int)
		var parentOrder []string
		for i, sn := range working {
			pid := sn.Node.ParentID
			if pid == "" || settled[pid] {
				continue
			}
			if _, ok := groups[pid]; !ok {
				parentOrder = append(parentOrder, pid)
			}
			groups[pid] = append(groups[pid], i)
		}

		removed := make(map[int]bool)
		var promoted []ScoredNode
		for _, pid := range parentOrder {
			parent, ok := store.Get(pid)
			if !ok {
				logger.Warn("auto-merge: parent not in node store", "parent_id", pid)
				settled[pid] = true
				continue
			}
			total := len(parent.ChildIDs)
			if total == 0 {
				logger.Warn("auto-merge: parent has no children", "parent_id", pid)
				settled[pid] = true
				continue
			}

			listed := make(map[string]bool, total)
			for _, cid := range parent.ChildIDs {
				listed[cid] = true
			}
			var members []int
			for _, i := range groups[pid] {
				if listed[working[i].Node.ID] {
					members = append(members, i)
				} else {
					logger.Warn("auto-merge: child not listed by parent", "parent_id", pid, "child_id", working[i].Node.ID)
				}
			}
			if len(members) == 0 || float64(len(members))/float64(total) < threshold {
				continue
			}

			best := ScoredNode{Node: parent, Score: working[members[0]].Score, Rank: working[members[0]].Rank}
			for _, i := range members {
				best.Score = max(best.Score, working[i].Score)
				best.Rank = min(best.Rank, working[i].Rank)
				removed[i] = true
			}
			settled[pid] = true
			promoted = append(promoted, best)
		}

		if len(promoted) == 0 {
			break
		}

		next := make(RetrievedSet, 0, len(working))
		for i, sn := range working {
			if !removed[i] {
				next = append(next, sn)
			}
		}
		for _, p := range promoted {
			next = addOrMerge(next, p)
		}
		working = next
	}

	sortRetrieved(working)
	return working
}

// addOrMerge appends sn unless a node with the same id is present, in which
// case the existing entry keeps the better score and rank.
func addOrMerge(set RetrievedSet, sn ScoredNode) RetrievedSet {
	for i := range set {
		if set[i].Node.ID == sn.Node.ID {
			set[i].Score = max(set[i].Score, sn.Score)
			set[i].Rank = min(set[i].Rank, sn.Rank)
			return set
		}
	}
	return append(set, sn)
}

// sortRetrieved orders by score descending, then retrieval rank, then id.
func sortRetrieved(set RetrievedSet) {
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].Score != set[j].Score {
			return set[i].Score > set[j].Score
		}
		if set[i].Rank != set[j].Rank {
			return set[i].Rank < set[j].Rank
		}
		return set[i].Node.ID < set[j].Node.ID
	})
}
