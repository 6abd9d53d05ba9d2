package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndTop(t *testing.T) {
	s := &Stack{}
	_, ok := s.Top()
	assert.False(t, ok)

	s.PushStep("asset", json.RawMessage(`{"workflow_id":"w1"}`))
	s.PushStep("quantity", json.RawMessage(`{"workflow_id":"w1","asset":"VOO"}`))

	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, "quantity", top.Step)
	assert.Equal(t, 2, s.Depth())
}

func TestPopLastAnsweredRemovesTwoFrames(t *testing.T) {
	s := &Stack{}
	s.PushStep("a", nil)
	s.PushStep("b", nil)
	s.PushStep("c", nil)

	require.True(t, s.PopLastAnswered())
	assert.Equal(t, 1, s.Depth())
	top, _ := s.Top()
	assert.Equal(t, "a", top.Step)
}

func TestPopLastAnsweredNeedsTwoFrames(t *testing.T) {
	s := &Stack{}
	assert.False(t, s.PopLastAnswered())

	s.PushStep("a", nil)
	assert.False(t, s.PopLastAnswered())
	assert.Equal(t, 1, s.Depth())

	s.PushStep("b", nil)
	assert.True(t, s.PopLastAnswered())
	assert.Equal(t, 0, s.Depth())
}

func TestReplaceTop(t *testing.T) {
	s := &Stack{}
	s.ReplaceTop("a", nil)
	assert.Equal(t, 1, s.Depth())

	s.ReplaceTop("b", json.RawMessage(`{"x":1}`))
	assert.Equal(t, 1, s.Depth())
	top, _ := s.Top()
	assert.Equal(t, "b", top.Step)
}

func TestPayloadRoundTripsByteForByte(t *testing.T) {
	// Key order and formatting must survive a save/load cycle untouched.
	raw := json.RawMessage(`{"zeta":1,"alpha":"x","nested":{"b":2,"a":1}}`)
	s := &Stack{}
	s.PushStep("asset", raw)

	encoded, err := json.Marshal(s)
	require.NoError(t, err)

	decoded := &Stack{}
	require.NoError(t, json.Unmarshal(encoded, decoded))

	top, ok := decoded.Top()
	require.True(t, ok)
	assert.Equal(t, []byte(raw), []byte(top.Payload))
}

func TestEmptyStackMarshalsAsNull(t *testing.T) {
	s := &Stack{}
	encoded, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, "null", string(encoded))
}

func TestFramesReturnsCopy(t *testing.T) {
	s := &Stack{}
	s.PushStep("a", nil)
	frames := s.Frames()
	frames[0].Step = "mutated"
	top, _ := s.Top()
	assert.Equal(t, "a", top.Step)
}

func TestStateNormalization(t *testing.T) {
	st := &State{Identity: 1, CurrentNode: "0"}
	assert.False(t, st.InStep())

	st.Workflow().PushStep("a", nil)
	assert.True(t, st.InStep())

	st.Progress.ResetWorkflow()
	st.normalize()
	assert.Nil(t, st.Progress)
}

func TestStateCloneIsIndependent(t *testing.T) {
	st := &State{Identity: 1, CurrentNode: "0"}
	st.Workflow().PushStep("a", nil)

	clone := st.Clone()
	clone.Workflow().PushStep("b", nil)
	clone.CurrentNode = "x"

	assert.Equal(t, 1, st.Progress.Depth())
	assert.Equal(t, "0", st.CurrentNode)
}
