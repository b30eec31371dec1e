package mergerag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed from the Retry-After header; 0 if absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value given in seconds.
// Returns 0 for empty or unparseable values.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ErrNoApplicableCorpus is returned by Router.Route when the selector picks no
// corpus for a query. It is final: retrying the same query will not help.
var ErrNoApplicableCorpus = errors.New("no applicable corpus")

// ErrNoCorpora is returned when no corpus could be opened at startup.
var ErrNoCorpora = errors.New("no corpora available")

// ChunkingError reports bad input to a chunker. It is fatal to the build of the
// corpus being chunked.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return "chunking: " + e.Reason
}

// IndexLoadError reports why a persisted index could not be used. It is
// recoverable: the indexer falls back to a rebuild.
type IndexLoadError struct {
	CorpusID string
	Reason   string
	Err      error
}

func (e *IndexLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load index %s: %s: %v", e.CorpusID, e.Reason, e.Err)
	}
	return fmt.Sprintf("load index %s: %s", e.CorpusID, e.Reason)
}

func (e *IndexLoadError) Unwrap() error { return e.Err }

// IndexBuildError reports a failed corpus build. The corpus is marked Failed and
// left out of the router table; other corpora are unaffected.
type IndexBuildError struct {
	CorpusID string
	Err      error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("build index %s: %v", e.CorpusID, e.Err)
}

func (e *IndexBuildError) Unwrap() error { return e.Err }

// RetrievalError reports a failed embedding or search call during retrieval.
// The core does not retry; retry policy belongs to the caller.
type RetrievalError struct {
	Stage string // "embed" or "search"
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// ErrSnapshotNotFound is returned by IndexStore.Load when no snapshot has been
// persisted for a corpus.
var ErrSnapshotNotFound = errors.New("snapshot not found")
