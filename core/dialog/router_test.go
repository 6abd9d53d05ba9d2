package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/finbot/core/menu"
	"github.com/m3rciful/finbot/core/session"
)

// fakeTransport records every outbound call.
type sentMenu struct {
	chat int64
	text string
	rows [][]menu.Button
}

type fakeTransport struct {
	menus   []sentMenu
	texts   []string
	inlines []string
	acks    []string
	sendErr error
	ackErr  error
}

func (f *fakeTransport) SendMenu(_ context.Context, chat int64, text string, rows [][]menu.Button) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.menus = append(f.menus, sentMenu{chat: chat, text: text, rows: rows})
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendInline(_ context.Context, _ int64, text string, _ [][]InlineButton) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.inlines = append(f.inlines, text)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, queryID string) error {
	f.acks = append(f.acks, queryID)
	return f.ackErr
}

func (f *fakeTransport) lastMenu(t *testing.T) sentMenu {
	t.Helper()
	require.NotEmpty(t, f.menus)
	return f.menus[len(f.menus)-1]
}

// scriptHandler is a two-question workflow: first answer advances, second
// completes. Individual hooks can be overridden per test.
type scriptHandler struct {
	startErr   error
	stepErr    error
	persistErr error
	cmdOutcome Outcome

	persisted []string
	cmds      []string
}

func (h *scriptHandler) Start(_ context.Context, _ *session.State, nodeID string) (Outcome, bool, error) {
	if nodeID != "trigger" {
		return nil, false, nil
	}
	if h.startErr != nil {
		return nil, false, h.startErr
	}
	return Advance{Next: "first", Payload: json.RawMessage(`{}`), Prompt: "First question?"}, true, nil
}

func (h *scriptHandler) HandleStep(_ context.Context, _ *session.State, frame session.Frame, text string) (Outcome, error) {
	if h.stepErr != nil {
		return nil, h.stepErr
	}
	switch frame.Step {
	case "first":
		if text == "bad" {
			return Reject{Message: "Try again."}, nil
		}
		payload, _ := json.Marshal(map[string]string{"first": text})
		return Advance{Next: "second", Payload: payload, Prompt: "Second question?"}, nil
	case "second":
		answer := text
		return Complete{
			Persist: func(context.Context) error {
				if h.persistErr != nil {
					return h.persistErr
				}
				h.persisted = append(h.persisted, answer)
				return nil
			},
			Message: "Done: " + answer,
		}, nil
	default:
		return nil, fmt.Errorf("unknown step %q", frame.Step)
	}
}

func (h *scriptHandler) HandleCommand(_ context.Context, _ *session.State, cmd Command) (Outcome, error) {
	h.cmds = append(h.cmds, cmd.Name)
	if h.cmdOutcome != nil {
		return h.cmdOutcome, nil
	}
	return Reject{Message: "Handled " + cmd.Name}, nil
}

func (h *scriptHandler) Prompt(_ context.Context, frame session.Frame) (string, error) {
	switch frame.Step {
	case "first":
		return "First question?", nil
	case "second":
		return "Second question?", nil
	default:
		return "", fmt.Errorf("unknown step %q", frame.Step)
	}
}

func testTree(t *testing.T) *menu.Tree {
	t.Helper()
	p := func(s string) *string { return &s }
	admin := true
	tree, err := menu.NewTree([]menu.Node{
		{ID: "0", Attrs: menu.Attrs{Text: "Main"}, ChildrenRows: [][]string{{"feat"}, {"adm"}}},
		{ID: "back", Attrs: menu.Attrs{Text: "Back"}, ParentID: p("0")},
		{ID: "cancel", Attrs: menu.Attrs{Text: "Cancel"}, ParentID: p("0")},
		{ID: "feat", Attrs: menu.Attrs{Text: "Feature"}, ParentID: p("0"),
			ChildrenRows: [][]string{{"trigger", "leaf"}, {"back", "cancel"}}},
		{ID: "trigger", Attrs: menu.Attrs{Text: "Add"}, ParentID: p("feat"),
			ChildrenRows: [][]string{{"back", "cancel"}}},
		{ID: "leaf", Attrs: menu.Attrs{Text: "About this feature."}, ParentID: p("feat")},
		{ID: "adm", Attrs: menu.Attrs{Text: "Admin"}, AdminOnly: &admin, ParentID: p("0"),
			ChildrenRows: [][]string{{"back", "cancel"}}},
	})
	require.NoError(t, err)
	return tree
}

type env struct {
	router    *Router
	store     *session.MemoryStore
	transport *fakeTransport
	tree      *menu.Tree
	handler   *scriptHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := session.NewMemoryStore()
	transport := &fakeTransport{}
	router := NewRouter(store, transport)
	handler := &scriptHandler{}
	router.RegisterFeature("feat", handler)
	router.RegisterGlobal("/feature", "feat")
	return &env{
		router:    router,
		store:     store,
		transport: transport,
		tree:      testTree(t),
		handler:   handler,
	}
}

func (e *env) session(t *testing.T, identity int64, node string) *session.State {
	t.Helper()
	sess, err := e.store.Create(context.Background(), identity, "0")
	require.NoError(t, err)
	if node != "0" {
		sess.CurrentNode = node
		require.NoError(t, e.store.Save(context.Background(), sess))
	}
	return sess
}

func (e *env) handle(t *testing.T, sess *session.State, text string) {
	t.Helper()
	err := e.router.Handle(context.Background(), e.tree, sess, Event{Chat: sess.Identity, Text: text})
	require.NoError(t, err)
}

func (e *env) stored(t *testing.T, identity int64) *session.State {
	t.Helper()
	sess, err := e.store.Load(context.Background(), identity)
	require.NoError(t, err)
	return sess
}

func TestNavigationIntoChild(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "0")

	e.handle(t, sess, "Feature")

	stored := e.stored(t, 1)
	assert.Equal(t, "feat", stored.CurrentNode)
	assert.Nil(t, stored.Progress)

	m := e.transport.lastMenu(t)
	assert.Equal(t, "Feature", m.text)
	require.Len(t, m.rows, 2)
	assert.Equal(t, "Add", m.rows[0][0].Label)
}

func TestUnknownTextAtNode(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "0")

	e.handle(t, sess, "gibberish")

	m := e.transport.lastMenu(t)
	assert.Equal(t, MsgNotUnderstood, m.text)
	// Same position, keyboard re-rendered.
	assert.Equal(t, "0", e.stored(t, 1).CurrentNode)
}

func TestPrivilegeFiltersResolution(t *testing.T) {
	e := newEnv(t)
	// First created identity is privileged, second is not.
	priv := e.session(t, 1, "0")
	plain := e.session(t, 2, "0")

	e.handle(t, plain, "Admin")
	assert.Equal(t, "0", e.stored(t, 2).CurrentNode)
	assert.Equal(t, MsgNotUnderstood, e.transport.lastMenu(t).text)

	e.handle(t, priv, "Admin")
	assert.Equal(t, "adm", e.stored(t, 1).CurrentNode)
}

func TestWorkflowStartAdvanceComplete(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")

	e.handle(t, sess, "Add")
	stored := e.stored(t, 1)
	assert.Equal(t, "trigger", stored.CurrentNode)
	require.True(t, stored.InStep())
	assert.Equal(t, 1, stored.Progress.Depth())
	assert.Equal(t, "First question?", e.transport.lastMenu(t).text)

	e.handle(t, sess, "alpha")
	stored = e.stored(t, 1)
	assert.Equal(t, 2, stored.Progress.Depth())
	assert.Equal(t, "Second question?", e.transport.lastMenu(t).text)

	e.handle(t, sess, "beta")
	stored = e.stored(t, 1)
	assert.Nil(t, stored.Progress)
	assert.Equal(t, "feat", stored.CurrentNode)
	assert.Equal(t, []string{"beta"}, e.handler.persisted)
	assert.Equal(t, []string{"Done: beta"}, e.transport.texts)
	// Menu of the parent node follows the completion message.
	assert.Equal(t, "Feature", e.transport.lastMenu(t).text)
}

func TestRejectKeepsProgressAndSkipsSave(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add")

	before := e.stored(t, 1)
	e.handle(t, sess, "bad")

	after := e.stored(t, 1)
	assert.Equal(t, before.Progress.Frames(), after.Progress.Frames())
	assert.Equal(t, "Try again.", e.transport.lastMenu(t).text)
}

func TestBackPopsTwoFrames(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add")   // depth 1, step "first"
	e.handle(t, sess, "alpha") // depth 2, step "second"

	e.handle(t, sess, "Back")

	stored := e.stored(t, 1)
	assert.Equal(t, "trigger", stored.CurrentNode)
	require.True(t, stored.InStep())
	top, _ := stored.Progress.Top()
	assert.Equal(t, 1, stored.Progress.Depth())
	assert.Equal(t, "first", top.Step)
	assert.Equal(t, "First question?", e.transport.lastMenu(t).text)
}

func TestBackWithSingleFrameAbandonsWorkflow(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add") // depth 1

	e.handle(t, sess, "Back")

	stored := e.stored(t, 1)
	assert.Nil(t, stored.Progress)
	assert.Equal(t, "trigger", stored.CurrentNode)
}

func TestBackWithoutWorkflowMovesToParent(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")

	e.handle(t, sess, "Back")
	assert.Equal(t, "0", e.stored(t, 1).CurrentNode)
}

func TestBackClampsAtRoot(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Back")
	require.Equal(t, "0", sess.CurrentNode)

	// Root has no Back button, so free text "Back" is just unknown text.
	e.handle(t, sess, "Back")
	assert.Equal(t, "0", e.stored(t, 1).CurrentNode)
	assert.Equal(t, MsgNotUnderstood, e.transport.lastMenu(t).text)
}

func TestCancelClearsWorkflowAndStays(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add")
	e.handle(t, sess, "alpha")

	e.handle(t, sess, "Cancel")

	stored := e.stored(t, 1)
	assert.Nil(t, stored.Progress)
	assert.Equal(t, "trigger", stored.CurrentNode)
}

func TestCancelWithoutWorkflowMovesToParent(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")

	e.handle(t, sess, "Cancel")
	assert.Equal(t, "0", e.stored(t, 1).CurrentNode)
}

func TestGlobalCommandDiscardsWorkflow(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add")
	e.handle(t, sess, "alpha")
	require.True(t, e.stored(t, 1).InStep())

	e.handle(t, sess, "/feature")

	stored := e.stored(t, 1)
	assert.Equal(t, "feat", stored.CurrentNode)
	assert.Nil(t, stored.Progress)
}

func TestInfoLeafKeepsPosition(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")

	e.handle(t, sess, "About this feature.")

	stored := e.stored(t, 1)
	assert.Equal(t, "feat", stored.CurrentNode)
	m := e.transport.lastMenu(t)
	assert.Equal(t, "About this feature.", m.text)
	// Keyboard stays the current node's.
	assert.Equal(t, "Add", m.rows[0][0].Label)
}

func TestHandlerErrorSendsRetryWithoutSave(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add")
	e.handler.stepErr = errors.New("boom")

	before := e.stored(t, 1)
	e.handle(t, sess, "alpha")

	after := e.stored(t, 1)
	assert.Equal(t, before.Progress.Frames(), after.Progress.Frames())
	require.NotEmpty(t, e.transport.texts)
	assert.Equal(t, MsgFailed, e.transport.texts[len(e.transport.texts)-1])
}

func TestPersistFailureSkipsSaveAndMessage(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")
	e.handle(t, sess, "Add")
	e.handle(t, sess, "alpha")
	e.handler.persistErr = errors.New("db down")

	e.handle(t, sess, "beta")

	stored := e.stored(t, 1)
	// The workflow survives: nothing was committed.
	require.True(t, stored.InStep())
	assert.Equal(t, 2, stored.Progress.Depth())
	assert.Empty(t, e.handler.persisted)
	assert.Equal(t, MsgFailed, e.transport.texts[len(e.transport.texts)-1])
}

func TestMissingNodeFallsBackToRoot(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "0")
	sess.CurrentNode = "ghost"
	require.NoError(t, e.store.Save(context.Background(), sess))

	e.handle(t, sess, "anything")

	stored := e.stored(t, 1)
	assert.Equal(t, "0", stored.CurrentNode)
	assert.Nil(t, stored.Progress)
}

func TestCallbackAckedExactlyOnce(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "trigger")

	err := e.router.Handle(context.Background(), e.tree, sess, Event{
		Chat:     1,
		Callback: &Callback{QueryID: "q1", Raw: []byte(`{"do_thing":{}}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, e.transport.acks)
	assert.Equal(t, []string{"do_thing"}, e.handler.cmds)
}

func TestCallbackMalformedPayload(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")

	for _, raw := range []string{`not json`, `{}`, `{"a":1,"b":2}`, `[1,2]`} {
		err := e.router.Handle(context.Background(), e.tree, sess, Event{
			Chat:     1,
			Callback: &Callback{QueryID: "q", Raw: []byte(raw)},
		})
		require.NoError(t, err)
		assert.Equal(t, MsgExpired, e.transport.lastMenu(t).text)
	}
	assert.Empty(t, e.handler.cmds)
}

func TestCallbackWithoutHandlerExpires(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "0") // root has no owning feature

	err := e.router.Handle(context.Background(), e.tree, sess, Event{
		Chat:     1,
		Callback: &Callback{QueryID: "q2", Raw: []byte(`{"do_thing":{}}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, e.transport.acks)
	assert.Equal(t, MsgExpired, e.transport.lastMenu(t).text)
}

func TestCallbackAckFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	e.transport.ackErr = errors.New("ack fail")
	sess := e.session(t, 1, "trigger")

	err := e.router.Handle(context.Background(), e.tree, sess, Event{
		Chat:     1,
		Callback: &Callback{QueryID: "q3", Raw: []byte(`{"do_thing":{}}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"do_thing"}, e.handler.cmds)
}

func TestSaveFailureTellsUserToRetry(t *testing.T) {
	e := newEnv(t)
	sess := &session.State{Identity: 99, CurrentNode: "0"}
	// Identity 99 was never created, so MemoryStore.Save fails.

	e.handle(t, sess, "Feature")

	require.NotEmpty(t, e.transport.texts)
	assert.Equal(t, MsgFailed, e.transport.texts[len(e.transport.texts)-1])
	// No menu was rendered after the failed save.
	assert.Empty(t, e.transport.menus)
}

func TestRepeatedUnknownTextIsIdempotent(t *testing.T) {
	e := newEnv(t)
	sess := e.session(t, 1, "feat")

	e.handle(t, sess, "???")
	first := e.transport.lastMenu(t)
	e.handle(t, sess, "???")
	second := e.transport.lastMenu(t)

	assert.Equal(t, first.text, second.text)
	assert.Equal(t, first.rows, second.rows)
	assert.Equal(t, "feat", e.stored(t, 1).CurrentNode)
}
