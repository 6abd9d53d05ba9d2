package session

import "encoding/json"

// Frame is one entry of a user's in-flight workflow. Payload is owned by
// the feature handler and carried as raw bytes so it survives load/save
// cycles without re-encoding.
type Frame struct {
	Step    string          `json:"step_name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stack records the steps of a multi-step workflow in the order they were
// entered. Frames are only ever appended or removed from the tail.
type Stack struct {
	frames []Frame
}

// NewStack builds a stack from existing frames (used when decoding a
// persisted session).
func NewStack(frames []Frame) *Stack {
	return &Stack{frames: frames}
}

// PushStep appends a frame for the step that is now being asked.
func (s *Stack) PushStep(step string, payload json.RawMessage) {
	s.frames = append(s.frames, Frame{Step: step, Payload: payload})
}

// ReplaceTop swaps the top frame, used when a handler re-prompts the same
// user-visible step with updated partial data.
func (s *Stack) ReplaceTop(step string, payload json.RawMessage) {
	if len(s.frames) == 0 {
		s.PushStep(step, payload)
		return
	}
	s.frames[len(s.frames)-1] = Frame{Step: step, Payload: payload}
}

// Top returns the frame naming the step currently awaited.
func (s *Stack) Top() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Depth reports how many frames are on the stack.
func (s *Stack) Depth() int { return len(s.frames) }

// Frames returns a copy of the stack contents, oldest first.
func (s *Stack) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// PopLastAnswered undoes one user-visible step. Each step transition
// pushes a frame for "what is now being asked", so stepping back removes
// both the just-answered frame and the current prompt frame. Requires at
// least two frames; reports whether the pop happened.
func (s *Stack) PopLastAnswered() bool {
	if len(s.frames) < 2 {
		return false
	}
	s.frames = s.frames[:len(s.frames)-2]
	return true
}

// ResetWorkflow drops every frame.
func (s *Stack) ResetWorkflow() {
	s.frames = nil
}

// MarshalJSON encodes the stack as a bare array of frames, matching the
// progress column shape.
func (s *Stack) MarshalJSON() ([]byte, error) {
	if s == nil || len(s.frames) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(s.frames)
}

// UnmarshalJSON decodes a bare array of frames.
func (s *Stack) UnmarshalJSON(data []byte) error {
	var frames []Frame
	if err := json.Unmarshal(data, &frames); err != nil {
		return err
	}
	s.frames = frames
	return nil
}
