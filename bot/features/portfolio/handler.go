// Package portfolio owns the portfolio branch of the menu: the add-holding
// workflow and the holdings list.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/session"
	"log/slog"

	"github.com/m3rciful/finbot/bot/storage"
)

// Workflow step names, persisted inside progress frames.
const (
	stepAsset    = "asset"
	stepQuantity = "quantity"
	stepPrice    = "unit_price"
)

const (
	promptAsset    = "Which asset? Send its ticker or name, e.g. VOO or Gold."
	promptQuantity = "How many units do you hold?"
	promptPrice    = "What is the unit price you want to record?"
)

// Nodes binds the handler to the menu nodes it owns.
type Nodes struct {
	Add  string
	List string
}

// Handler implements the portfolio feature area.
type Handler struct {
	store *storage.Holdings
	nodes Nodes
}

// New builds the portfolio handler.
func New(store *storage.Holdings, nodes Nodes) *Handler {
	return &Handler{store: store, nodes: nodes}
}

// payload accumulates the add-holding answers across steps.
type payload struct {
	WorkflowID string  `json:"workflow_id"`
	Asset      string  `json:"asset,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`
}

// Start begins the add-holding workflow or renders the holdings list.
func (h *Handler) Start(ctx context.Context, sess *session.State, nodeID string) (dialog.Outcome, bool, error) {
	switch nodeID {
	case h.nodes.Add:
		raw, err := json.Marshal(payload{WorkflowID: uuid.NewString()})
		if err != nil {
			return nil, false, fmt.Errorf("portfolio: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepAsset, Payload: raw, Prompt: promptAsset}, true, nil
	case h.nodes.List:
		msg, err := h.renderList(ctx, sess.Identity)
		if err != nil {
			return nil, false, err
		}
		return dialog.Complete{Message: msg}, true, nil
	default:
		return nil, false, nil
	}
}

// HandleStep consumes one answer of the add-holding workflow.
func (h *Handler) HandleStep(ctx context.Context, sess *session.State, frame session.Frame, text string) (dialog.Outcome, error) {
	var p payload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, fmt.Errorf("portfolio: decode payload: %w", err)
		}
	}

	switch frame.Step {
	case stepAsset:
		asset := strings.ToUpper(strings.TrimSpace(text))
		if asset == "" || len(asset) > 32 {
			return dialog.Reject{Message: "Send a short asset name or ticker, up to 32 characters."}, nil
		}
		p.Asset = asset
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("portfolio: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepQuantity, Payload: raw, Prompt: promptQuantity}, nil

	case stepQuantity:
		qty, err := parsePositive(text)
		if err != nil {
			return dialog.Reject{Message: "Quantity must be a positive number, e.g. 12 or 0.5."}, nil
		}
		p.Quantity = qty
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("portfolio: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepPrice, Payload: raw, Prompt: promptPrice}, nil

	case stepPrice:
		price, err := parsePositive(text)
		if err != nil {
			return dialog.Reject{Message: "Price must be a positive number, e.g. 199.90."}, nil
		}
		holding := storage.Holding{
			UserID:    sess.Identity,
			Asset:     p.Asset,
			Quantity:  p.Quantity,
			UnitPrice: price,
		}
		logger.Debug(ctx, "service.portfolio", "workflow.complete",
			slog.String("workflow_id", p.WorkflowID),
			slog.Int64("user_id", sess.Identity),
		)
		return dialog.Complete{
			Persist: func(ctx context.Context) error {
				return h.store.Upsert(ctx, holding)
			},
			Message: fmt.Sprintf("✅ Recorded %s: %s × %s = %s.",
				holding.Asset, trim(holding.Quantity), trim(holding.UnitPrice), trim(holding.Value())),
		}, nil

	default:
		return nil, fmt.Errorf("portfolio: unknown step %q", frame.Step)
	}
}

// HandleCommand rejects callbacks: this feature has no inline buttons.
func (h *Handler) HandleCommand(ctx context.Context, sess *session.State, cmd dialog.Command) (dialog.Outcome, error) {
	return dialog.Reject{Message: dialog.MsgExpired}, nil
}

// Prompt re-renders a step question without consuming input.
func (h *Handler) Prompt(ctx context.Context, frame session.Frame) (string, error) {
	switch frame.Step {
	case stepAsset:
		return promptAsset, nil
	case stepQuantity:
		return promptQuantity, nil
	case stepPrice:
		return promptPrice, nil
	default:
		return "", fmt.Errorf("portfolio: unknown step %q", frame.Step)
	}
}

func (h *Handler) renderList(ctx context.Context, userID int64) (string, error) {
	holdings, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(holdings) == 0 {
		return "Your portfolio is empty. Add a holding to get started.", nil
	}
	var b strings.Builder
	b.WriteString("Your holdings:\n")
	var total float64
	for _, hd := range holdings {
		total += hd.Value()
		fmt.Fprintf(&b, "• %s: %s × %s = %s\n", hd.Asset, trim(hd.Quantity), trim(hd.UnitPrice), trim(hd.Value()))
	}
	fmt.Fprintf(&b, "Total: %s", trim(total))
	return b.String(), nil
}

func parsePositive(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(text, ",", ".")), 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("not positive")
	}
	return v, nil
}

func trim(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
