package menu

import (
	"context"
	"errors"

	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

var (
	// ErrNotFound indicates the node does not exist or has nothing to render.
	ErrNotFound = errors.New("menu: node not found")
	// ErrNoMatch indicates free text did not resolve to a visible child.
	ErrNoMatch = errors.New("menu: no matching child")
)

// Button is a single rendered keyboard entry.
type Button struct {
	NodeID string
	Label  string
	URL    string
}

// Resolver renders keyboards and resolves free-typed text against the
// children of the node a viewer currently occupies.
type Resolver struct {
	tree *Tree
}

// NewResolver wraps a validated tree.
func NewResolver(tree *Tree) *Resolver {
	return &Resolver{tree: tree}
}

// Tree exposes the underlying tree for navigation decisions.
func (r *Resolver) Tree() *Tree { return r.tree }

// Render returns the node's keyboard layout filtered by viewer privilege,
// preserving row and column order. Rows left empty after filtering are
// dropped. Returns ErrNotFound for unknown or childless nodes.
func (r *Resolver) Render(nodeID string, privileged bool) ([][]Button, error) {
	node, ok := r.tree.Get(nodeID)
	if !ok {
		return nil, ErrNotFound
	}
	if len(node.ChildrenRows) == 0 {
		return nil, ErrNotFound
	}
	var rows [][]Button
	for _, row := range node.ChildrenRows {
		var buttons []Button
		for _, childID := range row {
			child, ok := r.tree.Get(childID)
			if !ok || !child.VisibleTo(privileged) {
				continue
			}
			buttons = append(buttons, Button{
				NodeID: child.ID,
				Label:  child.Attrs.Text,
				URL:    child.Attrs.URL,
			})
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows, nil
}

// Resolve finds the single visible child of nodeID whose label equals text
// exactly. Zero matches return ErrNoMatch. More than one match is a
// configuration defect: it is logged and also reported as ErrNoMatch.
func (r *Resolver) Resolve(ctx context.Context, nodeID string, privileged bool, text string) (*Node, error) {
	node, ok := r.tree.Get(nodeID)
	if !ok {
		return nil, ErrNotFound
	}
	var match *Node
	for _, row := range node.ChildrenRows {
		for _, childID := range row {
			child, ok := r.tree.Get(childID)
			if !ok || !child.VisibleTo(privileged) {
				continue
			}
			if child.Attrs.Text != text {
				continue
			}
			if match != nil {
				logger.Warn(ctx, "menu", "resolve.ambiguous",
					slog.String("node_id", nodeID),
					slog.String("label", logger.SanitizeLimit(text, 64)),
					slog.String("first", match.ID),
					slog.String("second", child.ID),
				)
				return nil, ErrNoMatch
			}
			match = child
		}
	}
	if match == nil {
		return nil, ErrNoMatch
	}
	return match, nil
}
