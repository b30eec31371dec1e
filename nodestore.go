package mergerag

import "fmt"

// NodeStore is the arena holding every node of one corpus. Parent and child
// links are node ids resolved through the store. A NodeStore is built once and
// is safe for concurrent reads afterwards.
type NodeStore struct {
	nodes map[string]Node
	order []string
}

// NewNodeStore builds a store from nodes, keeping their order. Duplicate ids
// are rejected.
func NewNodeStore(nodes []Node) (*NodeStore, error) {
	s := &NodeStore{
		nodes: make(map[string]Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node store: node with empty id")
		}
		if _, dup := s.nodes[n.ID]; dup {
			return nil, fmt.Errorf("node store: duplicate node id %s", n.ID)
		}
		s.nodes[n.ID] = n
		s.order = append(s.order, n.ID)
	}
	return s, nil
}

// Get returns the node with the given id.
func (s *NodeStore) Get(id string) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (s *NodeStore) Len() int { return len(s.order) }

// Nodes returns all nodes in insertion order.
func (s *NodeStore) Nodes() []Node {
	out := make([]Node, len(s.order))
	for i, id := range s.order {
		out[i] = s.nodes[id]
	}
	return out
}

// Leaves returns the nodes without children in insertion order.
func (s *NodeStore) Leaves() []Node {
	return LeafNodes(s.Nodes())
}

// Children resolves the child ids of id, in child order. Unknown child ids
// are skipped.
func (s *NodeStore) Children(id string) []Node {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(n.ChildIDs))
	for _, cid := range n.ChildIDs {
		if c, ok := s.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the tree invariant: every non-root node's parent exists and
// lists the node exactly once, and every listed child exists and points back.
func (s *NodeStore) Validate() error {
	for _, id := range s.order {
		n := s.nodes[id]
		if n.ParentID != "" {
			p, ok := s.nodes[n.ParentID]
			if !ok {
				return fmt.Errorf("node %s: parent %s not found", n.ID, n.ParentID)
			}
			count := 0
			for _, cid := range p.ChildIDs {
				if cid == n.ID {
					count++
				}
			}
			if count != 1 {
				return fmt.Errorf("node %s: listed %d times by parent %s", n.ID, count, p.ID)
			}
		}
		for _, cid := range n.ChildIDs {
			c, ok := s.nodes[cid]
			if !ok {
				return fmt.Errorf("node %s: child %s not found", n.ID, cid)
			}
			if c.ParentID != n.ID {
				return fmt.Errorf("node %s: child %s points to parent %q", n.ID, cid, c.ParentID)
			}
		}
	}
	return nil
}
