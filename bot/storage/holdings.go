// Package storage persists feature records. Handler side effects are
// deliberately idempotent: writes upsert by natural key so a retried
// update cannot duplicate a record.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

// Holding is one position in a user's portfolio.
type Holding struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Asset     string    `db:"asset"`
	Quantity  float64   `db:"quantity"`
	UnitPrice float64   `db:"unit_price"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Value is the position's worth at its recorded unit price.
func (h Holding) Value() float64 { return h.Quantity * h.UnitPrice }

// Holdings reads and writes portfolio positions.
type Holdings struct {
	db *sqlx.DB
}

// NewHoldings builds a holdings store over an open connection pool.
func NewHoldings(db *sqlx.DB) *Holdings {
	return &Holdings{db: db}
}

const upsertHolding = `
INSERT INTO holdings (user_id, asset, quantity, unit_price, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id, asset)
DO UPDATE SET quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price, updated_at = NOW()`

const selectHoldings = `
SELECT id, user_id, asset, quantity, unit_price, updated_at
FROM holdings WHERE user_id = $1 ORDER BY asset`

// Upsert writes a position keyed by (user, asset). Replaying the same
// write leaves the table unchanged apart from updated_at.
func (s *Holdings) Upsert(ctx context.Context, h Holding) error {
	if _, err := s.db.ExecContext(ctx, upsertHolding, h.UserID, h.Asset, h.Quantity, h.UnitPrice); err != nil {
		logger.Error(ctx, "service.portfolio", "holding.upsert_fail",
			slog.Int64("user_id", h.UserID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("storage: upsert holding: %w", err)
	}
	logger.Debug(ctx, "service.portfolio", "holding.upsert",
		slog.Int64("user_id", h.UserID),
		slog.String("asset", h.Asset),
	)
	return nil
}

// ListByUser returns the user's positions ordered by asset symbol.
func (s *Holdings) ListByUser(ctx context.Context, userID int64) ([]Holding, error) {
	var out []Holding
	if err := s.db.SelectContext(ctx, &out, selectHoldings, userID); err != nil {
		return nil, fmt.Errorf("storage: list holdings: %w", err)
	}
	return out, nil
}
