package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nevindra/mergerag"
)

const maxQueryBody = 64 << 10

type corpusInfo struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	State        string `json:"state"`
	Hierarchical bool   `json:"hierarchical"`
	Nodes        int    `json:"nodes"`
	Leaves       int    `json:"leaves"`
	BuiltAt      int64  `json:"built_at"`
}

// handleListCorpora lists the corpora the router can dispatch to.
func (s *Server) handleListCorpora(w http.ResponseWriter, r *http.Request) {
	table := s.queries.Table()
	out := make([]corpusInfo, 0, table.Len())
	for _, id := range table.IDs() {
		route, _ := table.Get(id)
		c := route.Corpus
		out = append(out, corpusInfo{
			ID:           c.ID,
			Description:  c.Description,
			State:        c.State.String(),
			Hierarchical: c.Hierarchical,
			Nodes:        c.Nodes.Len(),
			Leaves:       c.Index.Len(),
			BuiltAt:      c.BuiltAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"corpora": out})
}

type queryRequest struct {
	Query string `json:"query"`
}

type sourceNode struct {
	ID    string  `json:"id"`
	Level int     `json:"level"`
	Score float32 `json:"score"`
	Text  string  `json:"text"`
}

type sourceAnswer struct {
	CorpusID string       `json:"corpus_id"`
	Answer   string       `json:"answer"`
	Nodes    []sourceNode `json:"nodes"`
}

type failedCorpus struct {
	CorpusID string `json:"corpus_id"`
	Error    string `json:"error"`
}

type queryResponse struct {
	ID      string         `json:"id"`
	Answer  string         `json:"answer"`
	Sources []sourceAnswer `json:"sources"`
	Failed  []failedCorpus `json:"failed,omitempty"`
}

// handleQuery routes one query and returns the answer with its sources.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}

	resp, err := s.queries.Route(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, mergerag.ErrNoApplicableCorpus) {
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.log.Error("query failed", "error", err)
		jsonError(w, "query failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	out := queryResponse{ID: resp.ID, Answer: resp.Text, Sources: make([]sourceAnswer, 0, len(resp.Sources))}
	for _, src := range resp.Sources {
		sa := sourceAnswer{CorpusID: src.CorpusID, Answer: src.Text, Nodes: make([]sourceNode, 0, len(src.Nodes))}
		for _, sn := range src.Nodes {
			sa.Nodes = append(sa.Nodes, sourceNode{ID: sn.Node.ID, Level: sn.Node.Level, Score: sn.Score, Text: sn.Node.Text})
		}
		out.Sources = append(out.Sources, sa)
	}
	for _, f := range resp.Failed {
		out.Failed = append(out.Failed, failedCorpus{CorpusID: f.CorpusID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
