package menu

// Reserved node identifiers understood by the dialog router.
const (
	// RootID is the identifier of the tree root every session starts at.
	RootID = "0"
	// ActionBack steps one level back (workflow step or tree level).
	ActionBack = "back"
	// ActionCancel abandons the current workflow entirely.
	ActionCancel = "cancel"
)

// Attrs is the display payload of a node. Extra transport-specific fields
// (such as an external link) are opaque to the router.
type Attrs struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// Node is a single addressable position in the navigation tree.
type Node struct {
	ID           string
	Attrs        Attrs
	AdminOnly    *bool   // nil means visible to everyone
	ParentID     *string // nil only for the root
	ChildrenRows [][]string
}

// IsAction reports whether the id names a reserved system action
// rather than a navigable position.
func IsAction(id string) bool {
	return id == ActionBack || id == ActionCancel
}

// VisibleTo reports whether the node may be rendered for (and resolved by)
// a viewer with the given privilege.
func (n *Node) VisibleTo(privileged bool) bool {
	if n.AdminOnly == nil {
		return true
	}
	return !*n.AdminOnly || privileged
}
