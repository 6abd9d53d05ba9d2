package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/session"

	"github.com/m3rciful/finbot/bot/nlp"
	"github.com/m3rciful/finbot/bot/storage"
)

type fakeExtractor struct {
	enabled bool
	result  nlp.Result
	err     error
	asked   []string
}

func (f *fakeExtractor) Enabled() bool { return f.enabled }

func (f *fakeExtractor) Extract(_ context.Context, text string, _ time.Time) (nlp.Result, error) {
	f.asked = append(f.asked, text)
	return f.result, f.err
}

func newHandler(t *testing.T, ex *fakeExtractor) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewAlerts(sqlx.NewDb(db, "sqlmock"))
	return New(store, ex, Nodes{Add: "alerts.add", List: "alerts.list"}), mock
}

func startFlow(t *testing.T, h *Handler, sess *session.State) session.Frame {
	t.Helper()
	out, started, err := h.Start(context.Background(), sess, "alerts.add")
	require.NoError(t, err)
	require.True(t, started)
	adv := out.(dialog.Advance)
	return session.Frame{Step: adv.Next, Payload: adv.Payload}
}

func answer(t *testing.T, h *Handler, sess *session.State, frame session.Frame, text string) session.Frame {
	t.Helper()
	out, err := h.HandleStep(context.Background(), sess, frame, text)
	require.NoError(t, err)
	adv, ok := out.(dialog.Advance)
	require.True(t, ok, "expected Advance, got %T", out)
	return session.Frame{Step: adv.Next, Payload: adv.Payload}
}

func TestFlowWithSkip(t *testing.T) {
	ex := &fakeExtractor{enabled: true}
	h, mock := newHandler(t, ex)
	sess := &session.State{Identity: 3}

	frame := startFlow(t, h, sess)
	frame = answer(t, h, sess, frame, "btc")
	assert.Equal(t, stepThreshold, frame.Step)
	frame = answer(t, h, sess, frame, "48000")
	assert.Equal(t, stepRemind, frame.Step)

	out, err := h.HandleStep(context.Background(), sess, frame, "Skip")
	require.NoError(t, err)
	complete, ok := out.(dialog.Complete)
	require.True(t, ok)
	assert.Contains(t, complete.Message, "BTC")
	assert.Empty(t, ex.asked)

	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(int64(3), "BTC", float64(48000), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, complete.Persist(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlowWithReminder(t *testing.T) {
	ex := &fakeExtractor{
		enabled: true,
		result: nlp.Result{
			Success:    true,
			Extraction: nlp.Extraction{Date: "2026-09-01", Time: "09:00"},
		},
	}
	h, mock := newHandler(t, ex)
	sess := &session.State{Identity: 3}

	frame := startFlow(t, h, sess)
	frame = answer(t, h, sess, frame, "BTC")
	frame = answer(t, h, sess, frame, "48000")

	out, err := h.HandleStep(context.Background(), sess, frame, "tomorrow at 9")
	require.NoError(t, err)
	complete := out.(dialog.Complete)
	assert.Equal(t, []string{"tomorrow at 9"}, ex.asked)
	assert.Contains(t, complete.Message, "2026-09-01 09:00")

	want, _ := time.Parse("2006-01-02 15:04", "2026-09-01 09:00")
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(int64(3), "BTC", float64(48000), want).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, complete.Persist(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderUnparsedRejects(t *testing.T) {
	ex := &fakeExtractor{enabled: true, result: nlp.Result{Success: false, Reason: "ambiguous"}}
	h, _ := newHandler(t, ex)
	sess := &session.State{Identity: 3}

	frame := startFlow(t, h, sess)
	frame = answer(t, h, sess, frame, "BTC")
	frame = answer(t, h, sess, frame, "48000")

	out, err := h.HandleStep(context.Background(), sess, frame, "whenever")
	require.NoError(t, err)
	_, ok := out.(dialog.Reject)
	assert.True(t, ok)
}

func TestReminderServiceFailureSurfaces(t *testing.T) {
	ex := &fakeExtractor{enabled: true, err: errors.New("timeout")}
	h, _ := newHandler(t, ex)
	sess := &session.State{Identity: 3}

	frame := startFlow(t, h, sess)
	frame = answer(t, h, sess, frame, "BTC")
	frame = answer(t, h, sess, frame, "48000")

	_, err := h.HandleStep(context.Background(), sess, frame, "tomorrow")
	assert.Error(t, err)
}

func TestReminderDisabledService(t *testing.T) {
	ex := &fakeExtractor{enabled: false}
	h, _ := newHandler(t, ex)
	sess := &session.State{Identity: 3}

	frame := startFlow(t, h, sess)
	frame = answer(t, h, sess, frame, "BTC")
	frame = answer(t, h, sess, frame, "48000")

	out, err := h.HandleStep(context.Background(), sess, frame, "tomorrow")
	require.NoError(t, err)
	reject, ok := out.(dialog.Reject)
	require.True(t, ok)
	assert.Contains(t, reject.Message, "skip")
	assert.Empty(t, ex.asked)
}

func TestListWithDeleteButtons(t *testing.T) {
	ex := &fakeExtractor{enabled: true}
	h, mock := newHandler(t, ex)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM alerts").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "symbol", "threshold", "remind_at", "created_at"}).
			AddRow(int64(11), int64(3), "BTC", 48000.0, nil, now).
			AddRow(int64(12), int64(3), "ETH", 2500.0, now, now))

	out, started, err := h.Start(context.Background(), &session.State{Identity: 3}, "alerts.list")
	require.NoError(t, err)
	require.True(t, started)
	complete := out.(dialog.Complete)
	require.Len(t, complete.Buttons, 2)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(complete.Buttons[0][0].Data), &decoded))
	args, ok := decoded[CmdDeleteAlert]
	require.True(t, ok)
	assert.JSONEq(t, `{"id":11}`, string(args))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCommand(t *testing.T) {
	ex := &fakeExtractor{enabled: true}
	h, mock := newHandler(t, ex)
	sess := &session.State{Identity: 3}

	mock.ExpectExec("DELETE FROM alerts").
		WithArgs(int64(11), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := h.HandleCommand(context.Background(), sess, dialog.Command{
		Name: CmdDeleteAlert,
		Args: json.RawMessage(`{"id":11}`),
	})
	require.NoError(t, err)
	reject, ok := out.(dialog.Reject)
	require.True(t, ok)
	assert.Contains(t, reject.Message, "deleted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCommandStaleButton(t *testing.T) {
	ex := &fakeExtractor{enabled: true}
	h, mock := newHandler(t, ex)

	mock.ExpectExec("DELETE FROM alerts").
		WithArgs(int64(11), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	out, err := h.HandleCommand(context.Background(), &session.State{Identity: 3}, dialog.Command{
		Name: CmdDeleteAlert,
		Args: json.RawMessage(`{"id":11}`),
	})
	require.NoError(t, err)
	reject := out.(dialog.Reject)
	assert.Contains(t, reject.Message, "already gone")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnknownCommandExpires(t *testing.T) {
	ex := &fakeExtractor{enabled: true}
	h, _ := newHandler(t, ex)

	out, err := h.HandleCommand(context.Background(), &session.State{Identity: 3}, dialog.Command{
		Name: "ghost",
		Args: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	reject := out.(dialog.Reject)
	assert.Equal(t, dialog.MsgExpired, reject.Message)
}
