package loans

import (
	"context"
	"testing"

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
	store := storage.NewLoans(sqlx.NewDb(db, "sqlmock"))
	return New(store, Nodes{Add: "loans.add", List: "loans.list"}), mock
}

func TestMonthlyPayment(t *testing.T) {
	// 300k principal at 6% over 30 years.
	assert.InDelta(t, 1798.65, MonthlyPayment(300000, 6, 360), 0.01)
	// Interest-free degenerates to straight division.
	assert.InDelta(t, 1000, MonthlyPayment(12000, 0, 12), 0.001)
	assert.Zero(t, MonthlyPayment(1000, 5, 0))
}

func TestStartTriggersWorkflow(t *testing.T) {
	h, _ := newHandler(t)
	sess := &session.State{Identity: 1}

	out, started, err := h.Start(context.Background(), sess, "loans.add")
	require.NoError(t, err)
	require.True(t, started)
	adv, ok := out.(dialog.Advance)
	require.True(t, ok)
	assert.Equal(t, stepName, adv.Next)
	assert.Contains(t, string(adv.Payload), "workflow_id")
}

func TestStartIgnoresForeignNodes(t *testing.T) {
	h, _ := newHandler(t)
	_, started, err := h.Start(context.Background(), &session.State{Identity: 1}, "portfolio.add")
	require.NoError(t, err)
	assert.False(t, started)
}

func advance(t *testing.T, h *Handler, sess *session.State, frame session.Frame, text string) session.Frame {
	t.Helper()
	out, err := h.HandleStep(context.Background(), sess, frame, text)
	require.NoError(t, err)
	adv, ok := out.(dialog.Advance)
	require.True(t, ok, "expected Advance, got %T", out)
	return session.Frame{Step: adv.Next, Payload: adv.Payload}
}

func TestFullFlow(t *testing.T) {
	h, mock := newHandler(t)
	sess := &session.State{Identity: 7}

	out, _, err := h.Start(context.Background(), sess, "loans.add")
	require.NoError(t, err)
	adv := out.(dialog.Advance)
	frame := session.Frame{Step: adv.Next, Payload: adv.Payload}

	frame = advance(t, h, sess, frame, "Mortgage")
	assert.Equal(t, stepPrincipal, frame.Step)
	frame = advance(t, h, sess, frame, "300000")
	assert.Equal(t, stepRate, frame.Step)
	frame = advance(t, h, sess, frame, "6")
	assert.Equal(t, stepTerm, frame.Step)

	final, err := h.HandleStep(context.Background(), sess, frame, "360")
	require.NoError(t, err)
	complete, ok := final.(dialog.Complete)
	require.True(t, ok)
	assert.Contains(t, complete.Message, "Mortgage")

	mock.ExpectExec("INSERT INTO loans").
		WithArgs(int64(7), "Mortgage", float64(300000), float64(6), 360, sqlmock.AnyArg()).
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
		{stepName, ""},
		{stepPrincipal, "zero"},
		{stepPrincipal, "-5"},
		{stepRate, "150"},
		{stepRate, "abc"},
		{stepTerm, "0"},
		{stepTerm, "12.5"},
		{stepTerm, "9999"},
	}
	for _, tc := range cases {
		out, err := h.HandleStep(context.Background(), sess, session.Frame{Step: tc.step, Payload: []byte(`{}`)}, tc.text)
		require.NoError(t, err, "step %s input %q", tc.step, tc.text)
		_, ok := out.(dialog.Reject)
		assert.True(t, ok, "step %s input %q should be rejected, got %T", tc.step, tc.text, out)
	}
}

func TestUnknownStepIsAnError(t *testing.T) {
	h, _ := newHandler(t)
	_, err := h.HandleStep(context.Background(), &session.State{}, session.Frame{Step: "ghost"}, "x")
	assert.Error(t, err)
	_, err = h.Prompt(context.Background(), session.Frame{Step: "ghost"})
	assert.Error(t, err)
}

func TestPromptMatchesSteps(t *testing.T) {
	h, _ := newHandler(t)
	for step, want := range map[string]string{
		stepName:      promptName,
		stepPrincipal: promptPrincipal,
		stepRate:      promptRate,
		stepTerm:      promptTerm,
	} {
		got, err := h.Prompt(context.Background(), session.Frame{Step: step})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestListEmpty(t *testing.T) {
	h, mock := newHandler(t)
	mock.ExpectQuery("SELECT (.+) FROM loans").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "principal", "annual_rate", "term_months", "monthly_payment", "updated_at"}))

	out, started, err := h.Start(context.Background(), &session.State{Identity: 1}, "loans.list")
	require.NoError(t, err)
	require.True(t, started)
	complete := out.(dialog.Complete)
	assert.Contains(t, complete.Message, "No loans")
	require.NoError(t, mock.ExpectationsWereMet())
}
