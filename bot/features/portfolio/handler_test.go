package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/session"

	"github.com/m3rciful/finbot/bot/storage"
)

func newHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewHoldings(sqlx.NewDb(db, "sqlmock"))
	return New(store, Nodes{Add: "portfolio.add", List: "portfolio.list"}), mock
}

func TestFullFlow(t *testing.T) {
	h, mock := newHandler(t)
	sess := &session.State{Identity: 5}

	out, started, err := h.Start(context.Background(), sess, "portfolio.add")
	require.NoError(t, err)
	require.True(t, started)
	adv := out.(dialog.Advance)
	assert.Equal(t, stepAsset, adv.Next)
	assert.Equal(t, promptAsset, adv.Prompt)
	frame := session.Frame{Step: adv.Next, Payload: adv.Payload}

	out, err = h.HandleStep(context.Background(), sess, frame, " voo ")
	require.NoError(t, err)
	adv = out.(dialog.Advance)
	assert.Equal(t, stepQuantity, adv.Next)
	// Asset is normalized to upper case.
	assert.Contains(t, string(adv.Payload), `"VOO"`)
	frame = session.Frame{Step: adv.Next, Payload: adv.Payload}

	out, err = h.HandleStep(context.Background(), sess, frame, "2,5")
	require.NoError(t, err)
	adv = out.(dialog.Advance)
	assert.Equal(t, stepPrice, adv.Next)
	frame = session.Frame{Step: adv.Next, Payload: adv.Payload}

	out, err = h.HandleStep(context.Background(), sess, frame, "100")
	require.NoError(t, err)
	complete, ok := out.(dialog.Complete)
	require.True(t, ok)
	assert.Contains(t, complete.Message, "VOO")
	assert.Contains(t, complete.Message, "250")

	mock.ExpectExec("INSERT INTO holdings").
		WithArgs(int64(5), "VOO", 2.5, float64(100)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, complete.Persist(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStepRejectsBadInput(t *testing.T) {
	h, _ := newHandler(t)
	sess := &session.State{Identity: 1}

	cases := []struct {
		step string
		text string
	}{
		{stepAsset, "   "},
		{stepAsset, "THIS TICKER NAME IS WAY TOO LONG FOR ANYONE"},
		{stepQuantity, "lots"},
		{stepQuantity, "-1"},
		{stepPrice, "0"},
	}
	for _, tc := range cases {
		out, err := h.HandleStep(context.Background(), sess, session.Frame{Step: tc.step, Payload: []byte(`{}`)}, tc.text)
		require.NoError(t, err)
		_, ok := out.(dialog.Reject)
		assert.True(t, ok, "step %s input %q should be rejected, got %T", tc.step, tc.text, out)
	}
}

func TestList(t *testing.T) {
	h, mock := newHandler(t)
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM holdings").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "asset", "quantity", "unit_price", "updated_at"}).
			AddRow(int64(1), int64(5), "GOLD", 2.0, 60.0, now).
			AddRow(int64(2), int64(5), "VOO", 1.0, 100.0, now))

	out, started, err := h.Start(context.Background(), &session.State{Identity: 5}, "portfolio.list")
	require.NoError(t, err)
	require.True(t, started)
	complete := out.(dialog.Complete)
	assert.Contains(t, complete.Message, "GOLD")
	assert.Contains(t, complete.Message, "Total: 220")
	assert.Nil(t, complete.Persist)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEmpty(t *testing.T) {
	h, mock := newHandler(t)
	mock.ExpectQuery("SELECT (.+) FROM holdings").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "asset", "quantity", "unit_price", "updated_at"}))

	out, _, err := h.Start(context.Background(), &session.State{Identity: 5}, "portfolio.list")
	require.NoError(t, err)
	complete := out.(dialog.Complete)
	assert.Contains(t, complete.Message, "empty")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromptDoesNotAdvance(t *testing.T) {
	h, _ := newHandler(t)
	for _, step := range []string{stepAsset, stepQuantity, stepPrice} {
		got, err := h.Prompt(context.Background(), session.Frame{Step: step})
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	}
	_, err := h.Prompt(context.Background(), session.Frame{Step: "ghost"})
	assert.Error(t, err)
}
