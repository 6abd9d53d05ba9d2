// Package dialog is the decision engine of the bot: it turns one inbound
// event plus stored session state into the next session state and the next
// menu or prompt to render. Storage and message delivery are collaborators
// behind narrow interfaces.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m3rciful/finbot/core/menu"
)

// Callback is the structured part of an inline-button press.
type Callback struct {
	QueryID   string
	MessageID int
	Raw       []byte
}

// Event is a single inbound update. Exactly one of Text or Callback carries
// the input; the router processes one event per invocation.
type Event struct {
	Chat      int64
	MessageID int
	Text      string
	Callback  *Callback
}

// Command is a decoded callback payload: a JSON object with exactly one
// top-level key naming the command. Args are passed to the owning handler
// unchanged.
type Command struct {
	Name string
	Args json.RawMessage
}

// DecodeCommand parses the callback payload shape. Anything other than an
// object with a single key is a protocol-shape error.
func DecodeCommand(raw []byte) (Command, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Command{}, fmt.Errorf("dialog: callback payload: %w", err)
	}
	if len(obj) != 1 {
		return Command{}, fmt.Errorf("dialog: callback payload must have exactly one key, got %d", len(obj))
	}
	var cmd Command
	for name, args := range obj {
		cmd = Command{Name: name, Args: args}
	}
	return cmd, nil
}

// InlineButton is one button of an inline keyboard attached to a message.
// Data carries an encoded Command payload.
type InlineButton struct {
	Label string
	Data  string
}

// Transport delivers outbound messages. Implementations must treat every
// call as a fallible, bounded-time operation.
type Transport interface {
	// SendMenu sends text together with a keyboard built from the rows.
	SendMenu(ctx context.Context, chat int64, text string, rows [][]menu.Button) error
	// SendText sends plain text without touching the keyboard.
	SendText(ctx context.Context, chat int64, text string) error
	// SendInline sends text with an inline keyboard attached to the message.
	SendInline(ctx context.Context, chat int64, text string, rows [][]InlineButton) error
	// AnswerCallback stops the loading affordance of an inline button press.
	AnswerCallback(ctx context.Context, queryID string) error
}
