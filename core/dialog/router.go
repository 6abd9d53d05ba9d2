package dialog

import (
	"context"
	"errors"

	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/menu"
	"github.com/m3rciful/finbot/core/session"
	"log/slog"
)

// User-facing fallback messages. Mistyped input and stale buttons are
// steady-state conditions, not errors.
const (
	MsgNotUnderstood = "I didn't get that. Pick an option from the keyboard below."
	MsgExpired       = "That button has expired. Use the menu below."
	MsgFailed        = "Something went wrong, please try again."
)

// Router is the central decision function: one inbound event plus session
// state in, next session state plus rendered menu or prompt out. It owns
// navigation (back/cancel) and dispatch; feature semantics live in the
// registered handlers.
type Router struct {
	sessions  session.Store
	transport Transport
	handlers  map[string]Handler // feature node id -> handler
	globals   map[string]string  // command text -> node id
}

// NewRouter builds a router over the given collaborators.
func NewRouter(sessions session.Store, transport Transport) *Router {
	return &Router{
		sessions:  sessions,
		transport: transport,
		handlers:  make(map[string]Handler),
		globals:   make(map[string]string),
	}
}

// RegisterFeature binds a handler to the top-level node it owns.
func (r *Router) RegisterFeature(nodeID string, h Handler) {
	if nodeID == "" || h == nil {
		return
	}
	r.handlers[nodeID] = h
}

// RegisterGlobal binds a literal command text (e.g. "/loans") to a feature
// entry node. Global commands always discard in-progress workflows.
func (r *Router) RegisterGlobal(command, nodeID string) {
	if command == "" || nodeID == "" {
		return
	}
	r.globals[command] = nodeID
}

// Handle processes exactly one inbound event. The tree is the menu
// configuration loaded for this request; sess is mutated in place and
// persisted only when handling completed cleanly.
func (r *Router) Handle(ctx context.Context, tree *menu.Tree, sess *session.State, ev Event) error {
	res := menu.NewResolver(tree)
	if ev.Callback != nil {
		return r.handleCallback(ctx, res, sess, ev)
	}
	return r.handleText(ctx, res, sess, ev)
}

func (r *Router) handleText(ctx context.Context, res *menu.Resolver, sess *session.State, ev Event) error {
	// Global feature shortcuts take priority over everything, including an
	// in-progress workflow, which is deliberately discarded.
	if nodeID, ok := r.globals[ev.Text]; ok {
		return r.enterFeature(ctx, res, sess, nodeID)
	}

	node, err := res.Resolve(ctx, sess.CurrentNode, sess.Privileged, ev.Text)
	switch {
	case err == nil:
		switch node.ID {
		case menu.ActionBack:
			return r.navigateBack(ctx, res, sess)
		case menu.ActionCancel:
			return r.cancel(ctx, res, sess)
		default:
			return r.selectNode(ctx, res, sess, node)
		}
	case errors.Is(err, menu.ErrNotFound):
		// The node the session points at no longer exists. Configuration
		// error: fall back to the root rather than strand the user.
		logger.Error(ctx, "dialog", "node.missing",
			slog.String("node_id", sess.CurrentNode),
		)
		sess.CurrentNode = menu.RootID
		sess.ClearProgress()
		return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
	default:
		if sess.InStep() {
			return r.dispatchStep(ctx, res, sess, ev.Text)
		}
		return r.render(ctx, res, sess, MsgNotUnderstood)
	}
}

// enterFeature implements the global-command jump: fresh AtNode state in
// the target feature.
func (r *Router) enterFeature(ctx context.Context, res *menu.Resolver, sess *session.State, nodeID string) error {
	if _, ok := res.Tree().Get(nodeID); !ok {
		logger.Error(ctx, "dialog", "global.target_missing",
			slog.String("node_id", nodeID),
		)
		nodeID = menu.RootID
	}
	sess.CurrentNode = nodeID
	sess.ClearProgress()
	return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
}

// selectNode handles a match against a normal child node: either the
// feature starts a workflow there, or it is plain navigation.
func (r *Router) selectNode(ctx context.Context, res *menu.Resolver, sess *session.State, node *menu.Node) error {
	if h, ok := r.handlerFor(res.Tree(), node); ok {
		out, started, err := h.Start(ctx, sess, node.ID)
		if err != nil {
			return r.failSoft(ctx, sess, "start", err)
		}
		if started {
			sess.CurrentNode = node.ID
			sess.ClearProgress()
			return r.applyOutcome(ctx, res, sess, out)
		}
	}

	if _, err := res.Render(node.ID, sess.Privileged); errors.Is(err, menu.ErrNotFound) {
		// Informational leaf: show its text, keep the current position.
		return r.render(ctx, res, sess, node.Attrs.Text)
	}

	sess.CurrentNode = node.ID
	sess.ClearProgress()
	return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
}

// dispatchStep forwards free text to the handler owning the awaited step.
func (r *Router) dispatchStep(ctx context.Context, res *menu.Resolver, sess *session.State, text string) error {
	frame, _ := sess.Progress.Top()
	node, ok := res.Tree().Get(sess.CurrentNode)
	if !ok {
		logger.Error(ctx, "dialog", "step.node_missing",
			slog.String("node_id", sess.CurrentNode),
			slog.String("step", frame.Step),
		)
		return r.render(ctx, res, sess, MsgNotUnderstood)
	}
	h, ok := r.handlerFor(res.Tree(), node)
	if !ok {
		logger.Error(ctx, "dialog", "step.no_handler",
			slog.String("node_id", sess.CurrentNode),
			slog.String("step", frame.Step),
		)
		return r.render(ctx, res, sess, MsgNotUnderstood)
	}

	out, err := h.HandleStep(ctx, sess, frame, text)
	if err != nil {
		return r.failSoft(ctx, sess, "step", err)
	}
	return r.applyOutcome(ctx, res, sess, out)
}

func (r *Router) handleCallback(ctx context.Context, res *menu.Resolver, sess *session.State, ev Event) error {
	// Acknowledge exactly once, before the resulting message. A failed ack
	// is a defect worth logging, never fatal.
	if err := r.transport.AnswerCallback(ctx, ev.Callback.QueryID); err != nil {
		logger.Warn(ctx, "dialog", "callback.ack_fail",
			slog.String("query_id", ev.Callback.QueryID),
			slog.String("err", err.Error()),
		)
	}

	cmd, err := DecodeCommand(ev.Callback.Raw)
	if err != nil {
		logger.Warn(ctx, "dialog", "callback.malformed",
			slog.String("err", err.Error()),
		)
		return r.render(ctx, res, sess, MsgExpired)
	}

	node, ok := res.Tree().Get(sess.CurrentNode)
	if !ok {
		logger.Error(ctx, "dialog", "callback.node_missing",
			slog.String("node_id", sess.CurrentNode),
		)
		return r.render(ctx, res, sess, MsgExpired)
	}
	h, ok := r.handlerFor(res.Tree(), node)
	if !ok {
		logger.Debug(ctx, "dialog", "callback.no_handler",
			slog.String("node_id", sess.CurrentNode),
			slog.String("cmd", cmd.Name),
		)
		return r.render(ctx, res, sess, MsgExpired)
	}

	out, err := h.HandleCommand(ctx, sess, cmd)
	if err != nil {
		return r.failSoft(ctx, sess, "callback", err)
	}
	return r.applyOutcome(ctx, res, sess, out)
}

// applyOutcome turns a handler's structured result into state mutation,
// persistence, and rendering. Nothing is saved unless the outcome was
// applied cleanly.
func (r *Router) applyOutcome(ctx context.Context, res *menu.Resolver, sess *session.State, out Outcome) error {
	switch o := out.(type) {
	case Advance:
		sess.Workflow().PushStep(o.Next, o.Payload)
		if err := r.commit(ctx, sess); err != nil {
			return nil
		}
		return r.renderPrompt(ctx, res, sess, o.Prompt)
	case Complete:
		if o.Persist != nil {
			if err := o.Persist(ctx); err != nil {
				return r.failSoft(ctx, sess, "persist", err)
			}
		}
		sess.ClearProgress()
		if node, ok := res.Tree().Get(sess.CurrentNode); ok {
			if parent := res.Tree().Parent(node); parent != nil {
				sess.CurrentNode = parent.ID
			}
		}
		if err := r.commit(ctx, sess); err != nil {
			return nil
		}
		if o.Message != "" {
			var sendErr error
			if len(o.Buttons) > 0 {
				sendErr = r.transport.SendInline(ctx, sess.Identity, o.Message, o.Buttons)
			} else {
				sendErr = r.transport.SendText(ctx, sess.Identity, o.Message)
			}
			if sendErr != nil {
				logger.Warn(ctx, "dialog", "send.fail", slog.String("err", sendErr.Error()))
			}
		}
		return r.render(ctx, res, sess, r.menuTitle(res, sess))
	case Reject:
		// Progress stays untouched; the same step is retried.
		return r.renderPrompt(ctx, res, sess, o.Message)
	default:
		logger.Error(ctx, "dialog", "outcome.unknown")
		return r.render(ctx, res, sess, MsgFailed)
	}
}

// navigateBack implements the back action over the progress stack and the
// tree, in that order.
func (r *Router) navigateBack(ctx context.Context, res *menu.Resolver, sess *session.State) error {
	switch {
	case sess.InStep() && sess.Progress.Depth() >= 2:
		sess.Progress.PopLastAnswered()
		frame, ok := sess.Progress.Top()
		if !ok {
			// The stack held exactly the answered step and its prompt;
			// the workflow is back at its beginning.
			sess.ClearProgress()
			return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
		}
		node, nodeOK := res.Tree().Get(sess.CurrentNode)
		if !nodeOK {
			return r.fallbackToRoot(ctx, res, sess, "back.node_missing")
		}
		h, hOK := r.handlerFor(res.Tree(), node)
		if !hOK {
			return r.fallbackToRoot(ctx, res, sess, "back.no_handler")
		}
		prompt, err := h.Prompt(ctx, frame)
		if err != nil {
			return r.failSoft(ctx, sess, "prompt", err)
		}
		if err := r.commit(ctx, sess); err != nil {
			return nil
		}
		return r.renderPrompt(ctx, res, sess, prompt)
	case sess.InStep():
		// Single frame: the workflow is abandoned, not stepped back.
		sess.ClearProgress()
		return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
	default:
		return r.moveToParent(ctx, res, sess)
	}
}

// cancel exits any workflow entirely, falling back one tree level only
// when there was no workflow to exit.
func (r *Router) cancel(ctx context.Context, res *menu.Resolver, sess *session.State) error {
	if sess.InStep() {
		sess.ClearProgress()
		return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
	}
	return r.moveToParent(ctx, res, sess)
}

func (r *Router) moveToParent(ctx context.Context, res *menu.Resolver, sess *session.State) error {
	node, ok := res.Tree().Get(sess.CurrentNode)
	if !ok {
		return r.fallbackToRoot(ctx, res, sess, "back.node_missing")
	}
	parent := res.Tree().Parent(node)
	if parent == nil {
		return r.fallbackToRoot(ctx, res, sess, "back.parent_missing")
	}
	sess.CurrentNode = parent.ID
	return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
}

// fallbackToRoot is the configuration-error escape hatch: never leave the
// session pointing at a node that does not exist.
func (r *Router) fallbackToRoot(ctx context.Context, res *menu.Resolver, sess *session.State, event string) error {
	logger.Error(ctx, "dialog", event,
		slog.String("node_id", sess.CurrentNode),
	)
	sess.CurrentNode = res.Tree().Root().ID
	sess.ClearProgress()
	return r.commitAndRender(ctx, res, sess, r.menuTitle(res, sess))
}

func (r *Router) handlerFor(tree *menu.Tree, node *menu.Node) (Handler, bool) {
	feature, ok := tree.FeatureOf(node)
	if !ok {
		return nil, false
	}
	h, ok := r.handlers[feature.ID]
	return h, ok
}

// commit saves the session. On failure the user is told to retry; the
// previous persisted state stays authoritative.
func (r *Router) commit(ctx context.Context, sess *session.State) error {
	if err := r.sessions.Save(ctx, sess); err != nil {
		logger.Error(ctx, "dialog", "session.save_fail",
			slog.Int64("user_id", sess.Identity),
			slog.String("err", err.Error()),
		)
		if sendErr := r.transport.SendText(ctx, sess.Identity, MsgFailed); sendErr != nil {
			logger.Warn(ctx, "dialog", "send.fail", slog.String("err", sendErr.Error()))
		}
		return err
	}
	return nil
}

func (r *Router) commitAndRender(ctx context.Context, res *menu.Resolver, sess *session.State, text string) error {
	if err := r.commit(ctx, sess); err != nil {
		return nil
	}
	return r.render(ctx, res, sess, text)
}

// render sends text together with the keyboard of the current node.
func (r *Router) render(ctx context.Context, res *menu.Resolver, sess *session.State, text string) error {
	rows, err := res.Render(sess.CurrentNode, sess.Privileged)
	if err != nil {
		logger.Warn(ctx, "dialog", "render.empty",
			slog.String("node_id", sess.CurrentNode),
		)
		rows = nil
	}
	if err := r.transport.SendMenu(ctx, sess.Identity, text, rows); err != nil {
		logger.Warn(ctx, "dialog", "send.fail", slog.String("err", err.Error()))
	}
	return nil
}

// renderPrompt sends a step prompt with the current node's keyboard, which
// for workflow nodes holds the back/cancel row.
func (r *Router) renderPrompt(ctx context.Context, res *menu.Resolver, sess *session.State, prompt string) error {
	return r.render(ctx, res, sess, prompt)
}

// failSoft logs a collaborator failure and invites a retry without
// persisting any session mutation.
func (r *Router) failSoft(ctx context.Context, sess *session.State, op string, err error) error {
	logger.Error(ctx, "dialog", "handler.fail",
		slog.String("op", op),
		slog.Int64("user_id", sess.Identity),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
	if sendErr := r.transport.SendText(ctx, sess.Identity, MsgFailed); sendErr != nil {
		logger.Warn(ctx, "dialog", "send.fail", slog.String("err", sendErr.Error()))
	}
	return nil
}

func (r *Router) menuTitle(res *menu.Resolver, sess *session.State) string {
	if node, ok := res.Tree().Get(sess.CurrentNode); ok && node.Attrs.Text != "" {
		return node.Attrs.Text
	}
	return "Menu"
}
