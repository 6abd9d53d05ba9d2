package dialog

import (
	"context"
	"encoding/json"

	"github.com/m3rciful/finbot/core/session"
)

// Outcome is the structured result of a handler invocation. Handlers never
// signal expected conditions (validation failures, not-found) through
// errors across the router boundary; they return one of these.
type Outcome interface {
	isOutcome()
}

// Advance pushes a frame for the step that is now being asked and renders
// its prompt. Payload is the accumulated workflow data so far; the router
// never inspects it.
type Advance struct {
	Next    string
	Payload json.RawMessage
	Prompt  string
}

// Complete finishes the workflow: the router runs Persist against the data
// store, clears progress, and renders Message. Persist may be nil when the
// step had no side effect to commit. Buttons, when present, attach an
// inline keyboard to the message.
type Complete struct {
	Persist func(ctx context.Context) error
	Message string
	Buttons [][]InlineButton
}

// Reject leaves progress untouched and renders a corrective message so the
// same step can be retried.
type Reject struct {
	Message string
}

func (Advance) isOutcome()  {}
func (Complete) isOutcome() {}
func (Reject) isOutcome()   {}

// Handler owns the workflows and callback commands of one top-level
// feature area (one direct child of the menu root).
type Handler interface {
	// Start begins a workflow when the user selects the given node.
	// ok reports whether the node triggers a workflow at all; plain
	// navigation nodes return ok=false.
	Start(ctx context.Context, sess *session.State, nodeID string) (Outcome, bool, error)

	// HandleStep consumes free-form text for the step named by the top
	// frame.
	HandleStep(ctx context.Context, sess *session.State, frame session.Frame, text string) (Outcome, error)

	// HandleCommand consumes a decoded callback command.
	HandleCommand(ctx context.Context, sess *session.State, cmd Command) (Outcome, error)

	// Prompt re-renders the question for an existing frame without new
	// user input. It must not mutate anything: the router calls it when
	// back-navigation re-enters a step.
	Prompt(ctx context.Context, frame session.Frame) (string, error)
}
