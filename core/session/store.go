package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

// ErrNotFound is returned by Load for a previously unseen identity.
// Creating the session is the caller's decision, not the store's.
var ErrNotFound = errors.New("session: not found")

// Store persists dialog session state. Save is the durability boundary:
// no state change counts as committed until it returns nil.
type Store interface {
	Load(ctx context.Context, identity int64) (*State, error)
	Save(ctx context.Context, state *State) error
	// Create registers a first-contact identity at the given node. The
	// first identity ever created is granted privilege; this decision is
	// made exactly once and never revoked here.
	Create(ctx context.Context, identity int64, currentNode string) (*State, error)
}

type sessionRow struct {
	Identity    int64  `db:"identity"`
	CurrentNode string `db:"current_node"`
	Progress    []byte `db:"progress"`
	Privileged  bool   `db:"privileged"`
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

const (
	selectSession = `SELECT identity, current_node, progress, privileged FROM sessions WHERE identity = $1`

	insertSession = `INSERT INTO sessions (identity, current_node, progress, privileged)
VALUES ($1, $2, NULL, (SELECT COUNT(*) = 0 FROM sessions))
ON CONFLICT (identity) DO NOTHING
RETURNING privileged`

	insertSessionUnprivileged = `INSERT INTO sessions (identity, current_node, progress, privileged)
VALUES ($1, $2, NULL, FALSE)
ON CONFLICT (identity) DO NOTHING
RETURNING privileged`

	updateSession = `UPDATE sessions SET current_node = $2, progress = $3, privileged = $4 WHERE identity = $1`
)

// Load reads the session for an identity or reports ErrNotFound.
func (s *PGStore) Load(ctx context.Context, identity int64) (*State, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, selectSession, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %d: %w", identity, err)
	}
	return row.toState()
}

// Create inserts the session for a first-contact identity. If a concurrent
// request created it in the meantime, the existing row wins and is loaded.
func (s *PGStore) Create(ctx context.Context, identity int64, currentNode string) (*State, error) {
	start := time.Now()
	var privileged bool
	err := s.db.QueryRowxContext(ctx, insertSession, identity, currentNode).Scan(&privileged)
	if isUniqueViolation(err) {
		// Two first-contact identities raced for the one privileged slot
		// guarded by the sessions_one_privileged index; this one lost.
		err = s.db.QueryRowxContext(ctx, insertSessionUnprivileged, identity, currentNode).Scan(&privileged)
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; the row already exists.
		return s.Load(ctx, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("session: create %d: %w", identity, err)
	}
	logger.Info(ctx, "session", "create",
		slog.Int64("user_id", identity),
		slog.Bool("privileged", privileged),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return &State{Identity: identity, CurrentNode: currentNode, Privileged: privileged}, nil
}

// Save overwrites current_node, progress, and privileged in full.
func (s *PGStore) Save(ctx context.Context, state *State) error {
	state.normalize()
	var progress []byte
	if state.Progress != nil {
		data, err := json.Marshal(state.Progress)
		if err != nil {
			return fmt.Errorf("session: encode progress: %w", err)
		}
		progress = data
	}
	res, err := s.db.ExecContext(ctx, updateSession, state.Identity, state.CurrentNode, progress, state.Privileged)
	if err != nil {
		return fmt.Errorf("session: save %d: %w", state.Identity, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session: save %d: %w", state.Identity, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r sessionRow) toState() (*State, error) {
	st := &State{
		Identity:    r.Identity,
		CurrentNode: r.CurrentNode,
		Privileged:  r.Privileged,
	}
	if len(r.Progress) > 0 && string(r.Progress) != "null" {
		stack := &Stack{}
		if err := json.Unmarshal(r.Progress, stack); err != nil {
			return nil, fmt.Errorf("session: decode progress for %d: %w", r.Identity, err)
		}
		if stack.Depth() > 0 {
			st.Progress = stack
		}
	}
	return st, nil
}
