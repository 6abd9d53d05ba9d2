package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPGStoreLoad(t *testing.T) {
	store, mock := newMockStore(t)

	progress := `[{"step_name":"asset","payload":{"workflow_id":"w1"}}]`
	mock.ExpectQuery(selectSession).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "current_node", "progress", "privileged"}).
			AddRow(int64(42), "portfolio.add", []byte(progress), true))

	st, err := store.Load(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Identity)
	assert.Equal(t, "portfolio.add", st.CurrentNode)
	assert.True(t, st.Privileged)
	require.True(t, st.InStep())
	top, _ := st.Progress.Top()
	assert.Equal(t, "asset", top.Step)
	assert.JSONEq(t, `{"workflow_id":"w1"}`, string(top.Payload))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreLoadNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectSession).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "current_node", "progress", "privileged"}))

	_, err := store.Load(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreLoadNullProgress(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectSession).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "current_node", "progress", "privileged"}).
			AddRow(int64(1), "0", nil, false))

	st, err := store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, st.Progress)
	assert.False(t, st.InStep())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCreateFirstIsPrivileged(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(insertSession).
		WithArgs(int64(1), "0").
		WillReturnRows(sqlmock.NewRows([]string{"privileged"}).AddRow(true))

	st, err := store.Create(context.Background(), 1, "0")
	require.NoError(t, err)
	assert.True(t, st.Privileged)
	assert.Equal(t, "0", st.CurrentNode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCreatePrivilegeRaceLoser(t *testing.T) {
	store, mock := newMockStore(t)

	// Both first-contact inserts read an empty table; the unique index on
	// privileged rejects the second, which retries unprivileged.
	mock.ExpectQuery(insertSession).
		WithArgs(int64(5), "0").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "sessions_one_privileged"})
	mock.ExpectQuery(insertSessionUnprivileged).
		WithArgs(int64(5), "0").
		WillReturnRows(sqlmock.NewRows([]string{"privileged"}).AddRow(false))

	st, err := store.Create(context.Background(), 5, "0")
	require.NoError(t, err)
	assert.False(t, st.Privileged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreProgressRoundTripBytes(t *testing.T) {
	store, mock := newMockStore(t)

	// Payload with non-sorted keys, as handlers produce. The progress
	// column is plain JSON (not JSONB), so what Save writes is exactly
	// what Load reads back; JSONB would hand back re-sorted keys.
	payload := json.RawMessage(`{"workflow_id":"w3","asset":"VOO"}`)
	st := &State{Identity: 6, CurrentNode: "portfolio.add"}
	st.Workflow().PushStep("quantity", payload)

	written, err := json.Marshal(st.Progress)
	require.NoError(t, err)
	assert.Contains(t, string(written), string(payload))

	mock.ExpectExec(updateSession).
		WithArgs(int64(6), "portfolio.add", written, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectSession).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "current_node", "progress", "privileged"}).
			AddRow(int64(6), "portfolio.add", written, false))

	require.NoError(t, store.Save(context.Background(), st))

	loaded, err := store.Load(context.Background(), 6)
	require.NoError(t, err)
	require.True(t, loaded.InStep())
	top, _ := loaded.Progress.Top()
	assert.Equal(t, []byte(payload), []byte(top.Payload))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCreateLosesRace(t *testing.T) {
	store, mock := newMockStore(t)

	// ON CONFLICT DO NOTHING yields no row; the existing session is loaded.
	mock.ExpectQuery(insertSession).
		WithArgs(int64(2), "0").
		WillReturnRows(sqlmock.NewRows([]string{"privileged"}))
	mock.ExpectQuery(selectSession).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "current_node", "progress", "privileged"}).
			AddRow(int64(2), "loans", nil, false))

	st, err := store.Create(context.Background(), 2, "0")
	require.NoError(t, err)
	assert.Equal(t, "loans", st.CurrentNode)
	assert.False(t, st.Privileged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreSave(t *testing.T) {
	store, mock := newMockStore(t)

	st := &State{Identity: 3, CurrentNode: "alerts.add", Privileged: false}
	st.Workflow().PushStep("symbol", json.RawMessage(`{"workflow_id":"w2"}`))

	mock.ExpectExec(updateSession).
		WithArgs(int64(3), "alerts.add", []byte(`[{"step_name":"symbol","payload":{"workflow_id":"w2"}}]`), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreSaveEmptyStackWritesNull(t *testing.T) {
	store, mock := newMockStore(t)

	st := &State{Identity: 3, CurrentNode: "0"}
	st.Workflow() // allocated but empty; normalized away on save

	mock.ExpectExec(updateSession).
		WithArgs(int64(3), "0", []byte(nil), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreSaveUnknownIdentity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(updateSession).
		WithArgs(int64(9), "0", []byte(nil), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), &State{Identity: 9, CurrentNode: "0"})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
