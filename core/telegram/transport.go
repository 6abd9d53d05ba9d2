package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/menu"
	"github.com/m3rciful/finbot/core/telegram/keyboard"
	"github.com/m3rciful/finbot/core/telegram/middleware"
	"github.com/m3rciful/finbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// ErrNotBound is returned when the transport is used before Bind.
var ErrNotBound = errors.New("telegram: transport not bound to a bot")

func countSent(_ *tele.Message, err error) error {
	if err == nil {
		middleware.CountMessageSent()
	}
	return err
}

// BotTransport delivers dialog engine output through a live bot. It
// implements the dialog Transport contract over chat identities, so the
// engine stays free of telebot types. The bot is attached late via Bind
// because it only exists once the runtime is up.
type BotTransport struct {
	bot        atomic.Pointer[tele.Bot]
	dispatcher atomic.Pointer[sender.Dispatcher]
}

// NewBotTransport returns an unbound transport. Call Bind from the
// runtime OnStart hook before the bot receives traffic.
func NewBotTransport() *BotTransport {
	return &BotTransport{}
}

// Bind attaches the live bot and its outbound dispatcher. Outgoing
// messages are enqueued on the dispatcher when one is present and sent
// inline otherwise.
func (t *BotTransport) Bind(bot *tele.Bot, d *sender.Dispatcher) {
	t.bot.Store(bot)
	if d != nil {
		t.dispatcher.Store(d)
	}
}

func (t *BotTransport) current() (*tele.Bot, error) {
	bot := t.bot.Load()
	if bot == nil {
		return nil, ErrNotBound
	}
	return bot, nil
}

// dispatch hands the send off to the async sender. When the queue is
// saturated or already closed the call degrades to a synchronous send.
func (t *BotTransport) dispatch(ctx context.Context, action, endpoint string, run func() error) error {
	disp := t.dispatcher.Load()
	if disp == nil {
		return run()
	}
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.transport", "queue.fallback",
				slog.String("action", action),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendMenu sends text with a reply keyboard built from the rendered rows.
// Empty rows keep the previous keyboard untouched.
func (t *BotTransport) SendMenu(ctx context.Context, chat int64, text string, rows [][]menu.Button) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	recipient := &tele.Chat{ID: chat}
	if len(rows) == 0 {
		return t.dispatch(ctx, "send.text", "sendMessage", func() error {
			return countSent(bot.Send(recipient, text))
		})
	}
	labels := make([][]string, 0, len(rows))
	for _, row := range rows {
		r := make([]string, 0, len(row))
		for _, btn := range row {
			r = append(r, btn.Label)
		}
		labels = append(labels, r)
	}
	markup := keyboard.ReplyButtons(labels...)
	return t.dispatch(ctx, "send.menu", "sendMessage", func() error {
		return countSent(bot.Send(recipient, text, &tele.SendOptions{ReplyMarkup: markup}))
	})
}

// SendText sends plain text without touching the keyboard.
func (t *BotTransport) SendText(ctx context.Context, chat int64, text string) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	return t.dispatch(ctx, "send.text", "sendMessage", func() error {
		return countSent(bot.Send(&tele.Chat{ID: chat}, text))
	})
}

// SendInline sends text with an inline keyboard. Button data carries the
// raw command payload, not telebot's unique-prefixed encoding, so the
// payload arrives back in callbacks byte for byte.
func (t *BotTransport) SendInline(ctx context.Context, chat int64, text string, rows [][]dialog.InlineButton) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	inline := make([][]keyboard.InlineBtn, 0, len(rows))
	for _, row := range rows {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, btn := range row {
			r = append(r, keyboard.InlineBtn{Text: btn.Label, Data: btn.Data})
		}
		inline = append(inline, r)
	}
	markup := keyboard.InlineRows(inline...)
	return t.dispatch(ctx, "send.inline", "sendMessage", func() error {
		return countSent(bot.Send(&tele.Chat{ID: chat}, text, &tele.SendOptions{ReplyMarkup: markup}))
	})
}

// AnswerCallback stops the loading affordance of an inline button press.
// Answers are synchronous so the spinner clears before follow-up output.
func (t *BotTransport) AnswerCallback(_ context.Context, queryID string) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	return bot.Respond(&tele.Callback{ID: queryID}, &tele.CallbackResponse{})
}
