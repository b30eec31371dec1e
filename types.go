package mergerag

// --- Tree nodes ---

// Node is one chunk of corpus text. Nodes form a tree through id links:
// Level 0 is the coarsest level, ParentID is empty for roots and ChildIDs is
// empty for leaves. Start and End are byte offsets of the node's span in the
// corpus document the node was cut from.
type Node struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Level    int      `json:"level"`
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool { return len(n.ChildIDs) == 0 }

// IsRoot reports whether n has no parent.
func (n Node) IsRoot() bool { return n.ParentID == "" }

// LeafNodes returns the nodes without children, in input order.
func LeafNodes(nodes []Node) []Node {
	var leaves []Node
	for _, n := range nodes {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// --- Retrieval results ---

// ScoredNode is a node with its relevance score. Rank is the position of the
// best vector hit that produced this entry (0 = top hit) and is used as a
// stable tie-break between equal scores.
type ScoredNode struct {
	Node  Node    `json:"node"`
	Score float32 `json:"score"`
	Rank  int     `json:"rank"`
}

// RetrievedSet is an ordered list of scored nodes with no duplicate node ids.
type RetrievedSet []ScoredNode

// IDs returns the node ids in order.
func (s RetrievedSet) IDs() []string {
	ids := make([]string, len(s))
	for i, sn := range s {
		ids[i] = sn.Node.ID
	}
	return ids
}

// ScoredID is a raw vector index hit.
type ScoredID struct {
	ID    string
	Score float32
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	// JSONOutput asks the provider for a JSON-only response when it supports it.
	JSONOutput bool `json:"json_output,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}
