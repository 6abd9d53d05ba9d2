package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

// Alert is a price threshold watch, optionally with a reminder moment
// resolved from natural language.
type Alert struct {
	ID        int64        `db:"id"`
	UserID    int64        `db:"user_id"`
	Symbol    string       `db:"symbol"`
	Threshold float64      `db:"threshold"`
	RemindAt  sql.NullTime `db:"remind_at"`
	CreatedAt time.Time    `db:"created_at"`
}

// Alerts reads and writes price alerts.
type Alerts struct {
	db *sqlx.DB
}

// NewAlerts builds an alerts store over an open connection pool.
func NewAlerts(db *sqlx.DB) *Alerts {
	return &Alerts{db: db}
}

const upsertAlert = `
INSERT INTO alerts (user_id, symbol, threshold, remind_at, created_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id, symbol, threshold)
DO UPDATE SET remind_at = EXCLUDED.remind_at`

const selectAlerts = `
SELECT id, user_id, symbol, threshold, remind_at, created_at
FROM alerts WHERE user_id = $1 ORDER BY symbol, threshold`

const deleteAlert = `DELETE FROM alerts WHERE id = $1 AND user_id = $2`

// Upsert writes an alert keyed by (user, symbol, threshold).
func (s *Alerts) Upsert(ctx context.Context, a Alert) error {
	var remindAt any
	if a.RemindAt.Valid {
		remindAt = a.RemindAt.Time
	}
	if _, err := s.db.ExecContext(ctx, upsertAlert, a.UserID, a.Symbol, a.Threshold, remindAt); err != nil {
		logger.Error(ctx, "service.alerts", "alert.upsert_fail",
			slog.Int64("user_id", a.UserID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("storage: upsert alert: %w", err)
	}
	logger.Debug(ctx, "service.alerts", "alert.upsert",
		slog.Int64("user_id", a.UserID),
		slog.String("symbol", a.Symbol),
	)
	return nil
}

// ListByUser returns the user's alerts ordered by symbol then threshold.
func (s *Alerts) ListByUser(ctx context.Context, userID int64) ([]Alert, error) {
	var out []Alert
	if err := s.db.SelectContext(ctx, &out, selectAlerts, userID); err != nil {
		return nil, fmt.Errorf("storage: list alerts: %w", err)
	}
	return out, nil
}

// Delete removes one alert, scoped to its owner. Deleting an already
// removed alert is not an error: stale buttons are expected.
func (s *Alerts) Delete(ctx context.Context, userID, alertID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, deleteAlert, alertID, userID)
	if err != nil {
		logger.Error(ctx, "service.alerts", "alert.delete_fail",
			slog.Int64("user_id", userID),
			slog.Int64("alert_id", alertID),
			slog.String("err", err.Error()),
		)
		return false, fmt.Errorf("storage: delete alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete alert: %w", err)
	}
	return n > 0, nil
}
