package router

import (
	"time"

	"github.com/m3rciful/finbot/core/dialog"
	tg "github.com/m3rciful/finbot/core/telegram"
	"github.com/m3rciful/finbot/core/telegram/middleware"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// CallbackRoute forwards inline-button presses to the dialog engine as
// opaque structured payloads. The engine acknowledges the query itself;
// this route never calls Respond.
func CallbackRoute(gw *Gateway) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		cb := c.Callback()
		if cb == nil || c.Chat() == nil {
			return nil
		}

		var messageID int
		if cb.Message != nil {
			messageID = cb.Message.ID
		}
		ev := dialog.Event{
			Chat:      c.Chat().ID,
			MessageID: messageID,
			Callback: &dialog.Callback{
				QueryID:   cb.ID,
				MessageID: messageID,
				Raw:       []byte(cb.Data),
			},
		}

		extras := []slog.Attr{slog.String("cb_key", callbackName(cb.Data))}
		return handleWithSummary(c, "dialog.callback", start, "", "", func() error {
			return gw.handleUpdate(c, ev)
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}

// callbackName extracts the command key from a payload for logging only;
// decoding for dispatch happens in the engine.
func callbackName(data string) string {
	cmd, err := dialog.DecodeCommand([]byte(data))
	if err != nil {
		return "malformed"
	}
	return cmd.Name
}
