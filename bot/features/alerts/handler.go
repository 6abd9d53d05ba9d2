// Package alerts owns the alerts branch of the menu: the new-alert
// workflow, the alert list with inline delete buttons, and the
// delete_alert callback command.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/session"
	"github.com/m3rciful/finbot/core/telegram/callbacks"
	"log/slog"

	"github.com/m3rciful/finbot/bot/nlp"
	"github.com/m3rciful/finbot/bot/storage"
)

const (
	stepSymbol    = "symbol"
	stepThreshold = "threshold"
	stepRemind    = "remind"
)

const (
	promptSymbol    = "Which symbol should I watch? E.g. BTC or AAPL."
	promptThreshold = "At what price should the alert fire?"
	promptRemind    = "When should I remind you to review it? Say it in your own words, e.g. tomorrow at 9, or send skip."
)

// CmdDeleteAlert is the callback command carried by list delete buttons.
const CmdDeleteAlert = "delete_alert"

// Extractor resolves a natural-language moment against a reference time.
type Extractor interface {
	Extract(ctx context.Context, text string, reference time.Time) (nlp.Result, error)
	Enabled() bool
}

// Nodes binds the handler to the menu nodes it owns.
type Nodes struct {
	Add  string
	List string
}

// Handler implements the alerts feature area.
type Handler struct {
	store *storage.Alerts
	nlp   Extractor
	nodes Nodes
	now   func() time.Time
}

// New builds the alerts handler. extractor may be a disabled client; the
// remind step then only accepts skip.
func New(store *storage.Alerts, extractor Extractor, nodes Nodes) *Handler {
	return &Handler{store: store, nlp: extractor, nodes: nodes, now: time.Now}
}

type payload struct {
	WorkflowID string  `json:"workflow_id"`
	Symbol     string  `json:"symbol,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
}

// Start begins the new-alert workflow or renders the alert list.
func (h *Handler) Start(ctx context.Context, sess *session.State, nodeID string) (dialog.Outcome, bool, error) {
	switch nodeID {
	case h.nodes.Add:
		raw, err := json.Marshal(payload{WorkflowID: uuid.NewString()})
		if err != nil {
			return nil, false, fmt.Errorf("alerts: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepSymbol, Payload: raw, Prompt: promptSymbol}, true, nil
	case h.nodes.List:
		msg, buttons, err := h.renderList(ctx, sess.Identity)
		if err != nil {
			return nil, false, err
		}
		return dialog.Complete{Message: msg, Buttons: buttons}, true, nil
	default:
		return nil, false, nil
	}
}

// HandleStep consumes one answer of the new-alert workflow.
func (h *Handler) HandleStep(ctx context.Context, sess *session.State, frame session.Frame, text string) (dialog.Outcome, error) {
	var p payload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, fmt.Errorf("alerts: decode payload: %w", err)
		}
	}

	switch frame.Step {
	case stepSymbol:
		symbol := strings.ToUpper(strings.TrimSpace(text))
		if symbol == "" || len(symbol) > 16 {
			return dialog.Reject{Message: "Send a short symbol, up to 16 characters."}, nil
		}
		p.Symbol = symbol
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("alerts: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepThreshold, Payload: raw, Prompt: promptThreshold}, nil

	case stepThreshold:
		threshold, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(text, ",", ".")), 64)
		if err != nil || threshold <= 0 {
			return dialog.Reject{Message: "The price must be a positive number, e.g. 48000."}, nil
		}
		p.Threshold = threshold
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("alerts: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepRemind, Payload: raw, Prompt: promptRemind}, nil

	case stepRemind:
		return h.finishRemind(ctx, sess, p, text)

	default:
		return nil, fmt.Errorf("alerts: unknown step %q", frame.Step)
	}
}

func (h *Handler) finishRemind(ctx context.Context, sess *session.State, p payload, text string) (dialog.Outcome, error) {
	alert := storage.Alert{
		UserID:    sess.Identity,
		Symbol:    p.Symbol,
		Threshold: p.Threshold,
	}

	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed != "skip" {
		if !h.nlp.Enabled() {
			return dialog.Reject{Message: "Reminders are unavailable right now. Send skip to save the alert without one."}, nil
		}
		res, err := h.nlp.Extract(ctx, text, h.now())
		if err != nil {
			// Transport failure: surface it so nothing is persisted and
			// the user is invited to retry.
			return nil, err
		}
		if !res.Success {
			logger.Debug(ctx, "service.alerts", "remind.unparsed",
				slog.String("workflow_id", p.WorkflowID),
				slog.String("reason", logger.SanitizeLimit(res.Reason, 128)),
			)
			return dialog.Reject{Message: "I couldn't understand that moment. Rephrase it, or send skip."}, nil
		}
		remindAt, err := combine(res.Date, res.Time)
		if err != nil {
			return dialog.Reject{Message: "I couldn't understand that moment. Rephrase it, or send skip."}, nil
		}
		alert.RemindAt = sql.NullTime{Time: remindAt, Valid: true}
	}

	logger.Debug(ctx, "service.alerts", "workflow.complete",
		slog.String("workflow_id", p.WorkflowID),
		slog.Int64("user_id", sess.Identity),
	)

	msg := fmt.Sprintf("✅ Watching %s at %s.", alert.Symbol, strconv.FormatFloat(alert.Threshold, 'f', -1, 64))
	if alert.RemindAt.Valid {
		msg += " I will remind you on " + alert.RemindAt.Time.Format("2006-01-02 15:04") + "."
	}
	return dialog.Complete{
		Persist: func(ctx context.Context) error {
			return h.store.Upsert(ctx, alert)
		},
		Message: msg,
	}, nil
}

// HandleCommand deletes the alert named by a list button. A stale button
// for an already deleted alert acknowledges quietly.
func (h *Handler) HandleCommand(ctx context.Context, sess *session.State, cmd dialog.Command) (dialog.Outcome, error) {
	if cmd.Name != CmdDeleteAlert {
		return dialog.Reject{Message: dialog.MsgExpired}, nil
	}
	id, err := callbacks.DecodeID(cmd.Args)
	if err != nil {
		return dialog.Reject{Message: dialog.MsgExpired}, nil
	}
	deleted, err := h.store.Delete(ctx, sess.Identity, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return dialog.Reject{Message: "That alert is already gone."}, nil
	}
	logger.Debug(ctx, "service.alerts", "alert.deleted",
		slog.Int64("user_id", sess.Identity),
		slog.Int64("alert_id", id),
	)
	return dialog.Reject{Message: "🗑 Alert deleted."}, nil
}

// Prompt re-renders a step question without consuming input.
func (h *Handler) Prompt(ctx context.Context, frame session.Frame) (string, error) {
	switch frame.Step {
	case stepSymbol:
		return promptSymbol, nil
	case stepThreshold:
		return promptThreshold, nil
	case stepRemind:
		return promptRemind, nil
	default:
		return "", fmt.Errorf("alerts: unknown step %q", frame.Step)
	}
}

func (h *Handler) renderList(ctx context.Context, userID int64) (string, [][]dialog.InlineButton, error) {
	list, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if len(list) == 0 {
		return "No active alerts.", nil, nil
	}
	var b strings.Builder
	b.WriteString("Your alerts:\n")
	buttons := make([][]dialog.InlineButton, 0, len(list))
	for i, a := range list {
		fmt.Fprintf(&b, "%d. %s at %s", i+1, a.Symbol, strconv.FormatFloat(a.Threshold, 'f', -1, 64))
		if a.RemindAt.Valid {
			fmt.Fprintf(&b, ", reminder %s", a.RemindAt.Time.Format("2006-01-02 15:04"))
		}
		b.WriteString("\n")
		data, err := callbacks.Data(CmdDeleteAlert, callbacks.IDArgs{ID: a.ID})
		if err != nil {
			return "", nil, err
		}
		buttons = append(buttons, []dialog.InlineButton{{
			Label: fmt.Sprintf("🗑 %d. %s", i+1, a.Symbol),
			Data:  data,
		}})
	}
	return strings.TrimRight(b.String(), "\n"), buttons, nil
}

// combine joins the service's date and time answers into one moment.
// A missing time defaults to start of day.
func combine(date, clock string) (time.Time, error) {
	if date == "" {
		return time.Time{}, fmt.Errorf("alerts: empty date")
	}
	if clock == "" {
		return time.Parse("2006-01-02", date)
	}
	return time.Parse("2006-01-02 15:04", date+" "+clock)
}
