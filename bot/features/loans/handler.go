// Package loans owns the loans branch of the menu: the add-loan workflow
// and the loans list with computed monthly payments.
package loans

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/session"
	"log/slog"

	"github.com/m3rciful/finbot/bot/storage"
)

const (
	stepName      = "name"
	stepPrincipal = "principal"
	stepRate      = "annual_rate"
	stepTerm      = "term_months"
)

const (
	promptName      = "What should this loan be called? E.g. Mortgage or Car."
	promptPrincipal = "What is the outstanding principal?"
	promptRate      = "What is the annual interest rate, in percent? Send 0 for interest-free."
	promptTerm      = "Over how many months is it repaid?"
)

const maxTermMonths = 600

// Nodes binds the handler to the menu nodes it owns.
type Nodes struct {
	Add  string
	List string
}

// Handler implements the loans feature area.
type Handler struct {
	store *storage.Loans
	nodes Nodes
}

// New builds the loans handler.
func New(store *storage.Loans, nodes Nodes) *Handler {
	return &Handler{store: store, nodes: nodes}
}

type payload struct {
	WorkflowID string  `json:"workflow_id"`
	Name       string  `json:"name,omitempty"`
	Principal  float64 `json:"principal,omitempty"`
	AnnualRate float64 `json:"annual_rate,omitempty"`
}

// Start begins the add-loan workflow or renders the loans list.
func (h *Handler) Start(ctx context.Context, sess *session.State, nodeID string) (dialog.Outcome, bool, error) {
	switch nodeID {
	case h.nodes.Add:
		raw, err := json.Marshal(payload{WorkflowID: uuid.NewString()})
		if err != nil {
			return nil, false, fmt.Errorf("loans: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepName, Payload: raw, Prompt: promptName}, true, nil
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

// HandleStep consumes one answer of the add-loan workflow.
func (h *Handler) HandleStep(ctx context.Context, sess *session.State, frame session.Frame, text string) (dialog.Outcome, error) {
	var p payload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, fmt.Errorf("loans: decode payload: %w", err)
		}
	}

	switch frame.Step {
	case stepName:
		name := strings.TrimSpace(text)
		if name == "" || len(name) > 64 {
			return dialog.Reject{Message: "Send a short name for the loan, up to 64 characters."}, nil
		}
		p.Name = name
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("loans: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepPrincipal, Payload: raw, Prompt: promptPrincipal}, nil

	case stepPrincipal:
		principal, err := parseAmount(text)
		if err != nil || principal <= 0 {
			return dialog.Reject{Message: "Principal must be a positive number, e.g. 250000."}, nil
		}
		p.Principal = principal
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("loans: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepRate, Payload: raw, Prompt: promptRate}, nil

	case stepRate:
		rate, err := parseAmount(text)
		if err != nil || rate < 0 || rate > 100 {
			return dialog.Reject{Message: "Rate must be between 0 and 100 percent."}, nil
		}
		p.AnnualRate = rate
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("loans: encode payload: %w", err)
		}
		return dialog.Advance{Next: stepTerm, Payload: raw, Prompt: promptTerm}, nil

	case stepTerm:
		term, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || term <= 0 || term > maxTermMonths {
			return dialog.Reject{Message: fmt.Sprintf("Term must be a whole number of months between 1 and %d.", maxTermMonths)}, nil
		}
		loan := storage.Loan{
			UserID:         sess.Identity,
			Name:           p.Name,
			Principal:      p.Principal,
			AnnualRate:     p.AnnualRate,
			TermMonths:     term,
			MonthlyPayment: MonthlyPayment(p.Principal, p.AnnualRate, term),
		}
		logger.Debug(ctx, "service.loans", "workflow.complete",
			slog.String("workflow_id", p.WorkflowID),
			slog.Int64("user_id", sess.Identity),
		)
		return dialog.Complete{
			Persist: func(ctx context.Context) error {
				return h.store.Upsert(ctx, loan)
			},
			Message: fmt.Sprintf("✅ Saved %s: %.2f monthly over %d months.", loan.Name, loan.MonthlyPayment, loan.TermMonths),
		}, nil

	default:
		return nil, fmt.Errorf("loans: unknown step %q", frame.Step)
	}
}

// HandleCommand rejects callbacks: this feature has no inline buttons.
func (h *Handler) HandleCommand(ctx context.Context, sess *session.State, cmd dialog.Command) (dialog.Outcome, error) {
	return dialog.Reject{Message: dialog.MsgExpired}, nil
}

// Prompt re-renders a step question without consuming input.
func (h *Handler) Prompt(ctx context.Context, frame session.Frame) (string, error) {
	switch frame.Step {
	case stepName:
		return promptName, nil
	case stepPrincipal:
		return promptPrincipal, nil
	case stepRate:
		return promptRate, nil
	case stepTerm:
		return promptTerm, nil
	default:
		return "", fmt.Errorf("loans: unknown step %q", frame.Step)
	}
}

func (h *Handler) renderList(ctx context.Context, userID int64) (string, error) {
	loans, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(loans) == 0 {
		return "No loans tracked yet.", nil
	}
	var b strings.Builder
	b.WriteString("Your loans:\n")
	for _, l := range loans {
		fmt.Fprintf(&b, "• %s: %.2f at %.2f%% over %d months, %.2f monthly\n",
			l.Name, l.Principal, l.AnnualRate, l.TermMonths, l.MonthlyPayment)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// MonthlyPayment computes the amortized monthly payment. A zero rate
// degenerates to straight division.
func MonthlyPayment(principal, annualRate float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}
	if annualRate == 0 {
		return principal / float64(termMonths)
	}
	r := annualRate / 100 / 12
	return principal * r / (1 - math.Pow(1+r, -float64(termMonths)))
}

func parseAmount(text string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(text, ",", ".")), 64)
}
