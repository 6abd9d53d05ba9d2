// Package session holds the per-user dialog state: the menu node the user
// currently occupies and the progress stack of any in-flight multi-step
// workflow. State is loaded at the start of a request, mutated by the
// dialog router, and written back once at the end; no ambient globals.
package session

// State is the persisted record for one end user.
type State struct {
	Identity    int64
	CurrentNode string
	Progress    *Stack // nil when the user is not mid-workflow
	Privileged  bool
}

// InStep reports whether the user is mid multi-step input.
func (s *State) InStep() bool {
	return s.Progress != nil && s.Progress.Depth() > 0
}

// Workflow returns the progress stack, allocating an empty one on first use.
func (s *State) Workflow() *Stack {
	if s.Progress == nil {
		s.Progress = &Stack{}
	}
	return s.Progress
}

// ClearProgress abandons any in-flight workflow.
func (s *State) ClearProgress() {
	s.Progress = nil
}

// normalize collapses an empty stack to nil so that "no workflow" has a
// single representation in storage.
func (s *State) normalize() {
	if s.Progress != nil && s.Progress.Depth() == 0 {
		s.Progress = nil
	}
}

// Clone returns an independent copy of the state, including stack frames.
func (s *State) Clone() *State {
	out := *s
	if s.Progress != nil {
		out.Progress = NewStack(s.Progress.Frames())
	}
	return &out
}
