package biped

import (
	"sync"

	"github.com/pkg/errors"
)

// RunState is whether the robot is walking, and whether it has ever been told
// how to.
type RunState struct {
	Running            bool
	ParametersReceived bool
}

// Snapshot is a consistent copy of the state, taken by the actuation loop once
// per tick.
type Snapshot struct {
	RunState
	Parameters Parameters
}

// State holds the active gait and the run state. It is shared between the
// actuation loop and the control surface; every read and write goes through
// the same lock, so no tick can see a partially written gait.
type State struct {
	mu       sync.Mutex
	params   Parameters
	running  bool
	received bool
}

// NewState returns a State holding the given gait. It isn't considered to be
// received until Replace or Update is called.
func NewState(initial Parameters) *State {
	return &State{
		params: initial.Clone(),
	}
}

// Replace swaps the active gait. The robot is stopped as a side effect, so it
// has to be started again before the new gait is used.
func (s *State) Replace(p Parameters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.params = p.Clone()
	s.received = true
	s.running = false
}

// Update merges the given fields into the active gait and commits the result,
// with the same side effects as Replace. The merge and commit happen under one
// lock, so concurrent updates can't interleave.
func (s *State) Update(fields map[string]interface{}) (Parameters, error) {
	if len(fields) == 0 {
		return Parameters{}, errors.Wrap(ErrBadRequest, "no parameters")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.params.Merge(fields)
	if err != nil {
		return Parameters{}, err
	}

	s.params = p
	s.received = true
	s.running = false

	return p.Clone(), nil
}

// SetRunning starts or stops the robot. This fails with ErrNotReady unless
// parameters have been received.
func (s *State) SetRunning(running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.received {
		return ErrNotReady
	}

	s.running = running
	return nil
}

// Halt stops the robot. Unlike SetRunning, this can't fail.
func (s *State) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Snapshot returns a copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		RunState: RunState{
			Running:            s.running,
			ParametersReceived: s.received,
		},
		Parameters: s.params.Clone(),
	}
}

// Status returns the run state without copying the gait.
func (s *State) Status() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return RunState{
		Running:            s.running,
		ParametersReceived: s.received,
	}
}
