package menu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPreservesRowAndColumnOrder(t *testing.T) {
	res := NewResolver(mustTree(t))

	rows, err := res.Render("0", true)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Alpha", "Beta"}, labels(rows[0]))
	assert.Equal(t, []string{"Admin"}, labels(rows[1]))
}

func TestRenderDropsFilteredRows(t *testing.T) {
	res := NewResolver(mustTree(t))

	// The admin row vanishes entirely for an unprivileged viewer.
	rows, err := res.Render("0", false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Alpha", "Beta"}, labels(rows[0]))
}

func TestRenderChildlessNode(t *testing.T) {
	res := NewResolver(mustTree(t))
	_, err := res.Render("b", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenderUnknownNode(t *testing.T) {
	res := NewResolver(mustTree(t))
	_, err := res.Render("ghost", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveExactLabel(t *testing.T) {
	res := NewResolver(mustTree(t))

	node, err := res.Resolve(context.Background(), "0", false, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "a", node.ID)

	// Case and whitespace matter.
	_, err = res.Resolve(context.Background(), "0", false, "alpha")
	assert.ErrorIs(t, err, ErrNoMatch)
	_, err = res.Resolve(context.Background(), "0", false, " Alpha")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolveRespectsPrivilege(t *testing.T) {
	res := NewResolver(mustTree(t))

	_, err := res.Resolve(context.Background(), "0", false, "Admin")
	assert.ErrorIs(t, err, ErrNoMatch)

	node, err := res.Resolve(context.Background(), "0", true, "Admin")
	require.NoError(t, err)
	assert.Equal(t, "adm", node.ID)
}

func TestResolveAmbiguousLabel(t *testing.T) {
	nodes := fixtureNodes()
	for i := range nodes {
		if nodes[i].ID == "b" {
			nodes[i].Attrs.Text = "Alpha"
		}
	}
	tree, err := NewTree(nodes)
	require.NoError(t, err)
	res := NewResolver(tree)

	_, err = res.Resolve(context.Background(), "0", false, "Alpha")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolveActionIDs(t *testing.T) {
	res := NewResolver(mustTree(t))

	node, err := res.Resolve(context.Background(), "a", false, "Back")
	require.NoError(t, err)
	assert.Equal(t, ActionBack, node.ID)
	assert.True(t, IsAction(node.ID))

	node, err = res.Resolve(context.Background(), "a", false, "Cancel")
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, node.ID)
}

func labels(row []Button) []string {
	out := make([]string, 0, len(row))
	for _, b := range row {
		out = append(out, b.Label)
	}
	return out
}
