package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyButtonsPreservesRowOrder(t *testing.T) {
	markup := ReplyButtons([]string{"A", "B"}, []string{"C"})

	require.Len(t, markup.ReplyKeyboard, 2)
	assert.True(t, markup.ResizeKeyboard)
	assert.Equal(t, "A", markup.ReplyKeyboard[0][0].Text)
	assert.Equal(t, "B", markup.ReplyKeyboard[0][1].Text)
	assert.Equal(t, "C", markup.ReplyKeyboard[1][0].Text)
}

func TestInlineRowsKeepsDataVerbatim(t *testing.T) {
	payload := `{"delete_alert":{"id":7}}`
	markup := InlineRows([]InlineBtn{{Text: "🗑 Delete", Data: payload}})

	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	btn := markup.InlineKeyboard[0][0]
	assert.Equal(t, "🗑 Delete", btn.Text)
	assert.Equal(t, payload, btn.Data)
	assert.Empty(t, btn.Unique)
}
