package menu

import (
	"fmt"
)

// Tree is an immutable, validated in-memory view of the menu forest.
// It is loaded once per request and never mutated afterwards.
type Tree struct {
	nodes map[string]*Node
	root  *Node
}

// NewTree indexes the provided nodes and validates the structural
// invariants: exactly one root, no dangling child or parent references,
// and no cycles reachable from the root.
func NewTree(nodes []Node) (*Tree, error) {
	t := &Tree{nodes: make(map[string]*Node, len(nodes))}
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("menu: node with empty id")
		}
		if _, dup := t.nodes[n.ID]; dup {
			return nil, fmt.Errorf("menu: duplicate node id %q", n.ID)
		}
		t.nodes[n.ID] = n
		if n.ParentID == nil {
			if t.root != nil {
				return nil, fmt.Errorf("menu: multiple roots: %q and %q", t.root.ID, n.ID)
			}
			t.root = n
		}
	}
	if t.root == nil {
		return nil, fmt.Errorf("menu: no root node")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) validate() error {
	for _, n := range t.nodes {
		if n.ParentID != nil {
			if _, ok := t.nodes[*n.ParentID]; !ok {
				return fmt.Errorf("menu: node %q references missing parent %q", n.ID, *n.ParentID)
			}
		}
		for _, row := range n.ChildrenRows {
			for _, childID := range row {
				if _, ok := t.nodes[childID]; !ok {
					return fmt.Errorf("menu: node %q references missing child %q", n.ID, childID)
				}
			}
		}
	}

	// Cycle detection over children_rows starting at the root.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(t.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("menu: cycle detected at node %q", id)
		case black:
			return nil
		}
		color[id] = grey
		n := t.nodes[id]
		for _, row := range n.ChildrenRows {
			for _, childID := range row {
				if IsAction(childID) {
					continue
				}
				if err := visit(childID); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	return visit(t.root.ID)
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Get returns the node with the given id.
func (t *Tree) Get(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Parent returns the parent of the given node; the root is its own parent
// so that "back" at the top level is a no-op.
func (t *Tree) Parent(n *Node) *Node {
	if n.ParentID == nil {
		return n
	}
	if p, ok := t.nodes[*n.ParentID]; ok {
		return p
	}
	return nil
}

// FeatureOf walks the parent chain and returns the top-level node
// (direct child of the root) the given node belongs to. The root
// itself has no feature.
func (t *Tree) FeatureOf(n *Node) (*Node, bool) {
	for n != nil && n.ParentID != nil {
		if *n.ParentID == t.root.ID {
			return n, true
		}
		next, ok := t.nodes[*n.ParentID]
		if !ok {
			return nil, false
		}
		n = next
	}
	return nil, false
}

// Len reports the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.nodes) }
