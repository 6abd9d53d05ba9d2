package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

// Loan is one tracked loan with its computed monthly payment.
type Loan struct {
	ID             int64     `db:"id"`
	UserID         int64     `db:"user_id"`
	Name           string    `db:"name"`
	Principal      float64   `db:"principal"`
	AnnualRate     float64   `db:"annual_rate"`
	TermMonths     int       `db:"term_months"`
	MonthlyPayment float64   `db:"monthly_payment"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Loans reads and writes loan records.
type Loans struct {
	db *sqlx.DB
}

// NewLoans builds a loans store over an open connection pool.
func NewLoans(db *sqlx.DB) *Loans {
	return &Loans{db: db}
}

const upsertLoan = `
INSERT INTO loans (user_id, name, principal, annual_rate, term_months, monthly_payment, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (user_id, name)
DO UPDATE SET principal = EXCLUDED.principal, annual_rate = EXCLUDED.annual_rate,
	term_months = EXCLUDED.term_months, monthly_payment = EXCLUDED.monthly_payment, updated_at = NOW()`

const selectLoans = `
SELECT id, user_id, name, principal, annual_rate, term_months, monthly_payment, updated_at
FROM loans WHERE user_id = $1 ORDER BY name`

// Upsert writes a loan keyed by (user, name).
func (s *Loans) Upsert(ctx context.Context, l Loan) error {
	if _, err := s.db.ExecContext(ctx, upsertLoan,
		l.UserID, l.Name, l.Principal, l.AnnualRate, l.TermMonths, l.MonthlyPayment); err != nil {
		logger.Error(ctx, "service.loans", "loan.upsert_fail",
			slog.Int64("user_id", l.UserID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("storage: upsert loan: %w", err)
	}
	logger.Debug(ctx, "service.loans", "loan.upsert",
		slog.Int64("user_id", l.UserID),
		slog.String("name", logger.SanitizeLimit(l.Name, 64)),
	)
	return nil
}

// ListByUser returns the user's loans ordered by name.
func (s *Loans) ListByUser(ctx context.Context, userID int64) ([]Loan, error) {
	var out []Loan
	if err := s.db.SelectContext(ctx, &out, selectLoans, userID); err != nil {
		return nil, fmt.Errorf("storage: list loans: %w", err)
	}
	return out, nil
}
