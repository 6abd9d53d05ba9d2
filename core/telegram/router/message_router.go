package router

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/menu"
	"github.com/m3rciful/finbot/core/session"
	tg "github.com/m3rciful/finbot/core/telegram"
	tghelpers "github.com/m3rciful/finbot/core/telegram/helpers"
	"github.com/m3rciful/finbot/core/telegram/middleware"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// TreeLoader fetches the menu configuration for one request.
type TreeLoader func(ctx context.Context) (*menu.Tree, error)

// Gateway bridges telebot updates into the dialog engine: it loads the
// tree and the session, builds the engine event, and lets the engine
// decide everything else.
type Gateway struct {
	Dialog   *dialog.Router
	Sessions session.Store
	LoadTree TreeLoader
}

// handleUpdate runs the common load-tree/load-session/dispatch sequence.
func (g *Gateway) handleUpdate(c tele.Context, ev dialog.Event) error {
	ctx := tghelpers.BuildContext(c)

	tree, err := g.LoadTree(ctx)
	if err != nil {
		logger.Error(ctx, "tg", "tree.load_fail",
			slog.String("err", err.Error()),
		)
		return c.Send(dialog.MsgFailed)
	}

	sess, err := g.Sessions.Load(ctx, ev.Chat)
	if errors.Is(err, session.ErrNotFound) {
		sess, err = g.Sessions.Create(ctx, ev.Chat, tree.Root().ID)
	}
	if err != nil {
		logger.Error(ctx, "tg", "session.load_fail",
			slog.Int64("chat_id", ev.Chat),
			slog.String("err", err.Error()),
		)
		return c.Send(dialog.MsgFailed)
	}

	return g.Dialog.Handle(ctx, tree, sess, ev)
}

// DispatchText feeds the update's text into the engine. Slash-command
// routes use it so commands and free text share one dispatch path.
func (g *Gateway) DispatchText(c tele.Context) error {
	if c.Message() == nil || c.Chat() == nil {
		return nil
	}
	ev := dialog.Event{
		Chat:      c.Chat().ID,
		MessageID: c.Message().ID,
		Text:      c.Text(),
	}
	return g.handleUpdate(c, ev)
}

// TextRoutes builds the handler for free-typed text. All text goes through
// the dialog engine: global commands, button labels, and step input are
// disambiguated there, not here.
func TextRoutes(gw *Gateway) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Message() == nil || c.Chat() == nil {
			logHandlerSummary(c, "text", start, "skip", "ok", nil)
			return nil
		}
		ev := dialog.Event{
			Chat:      c.Chat().ID,
			MessageID: c.Message().ID,
			Text:      c.Text(),
		}
		return handleWithSummary(c, "dialog.text", start, "", "", func() error {
			return gw.handleUpdate(c, ev)
		})
	}

	return []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
	}
}
