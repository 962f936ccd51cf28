// Package mem tracks the memory-model auxiliary state the replay
// scheduler needs to predict blocking: the block status of every
// synchronising variable seen so far, under a selectable model.
package mem

import "gosct/event"

// A Model selects how writes to shared references become visible to
// other threads.
type Model int

const (
	// SC is sequential consistency: writes are visible immediately.
	SC Model = iota
	// TSO buffers writes per thread, committed first-in first-out:
	// one commit agent per thread drains the buffer in program
	// order.
	TSO
	// PSO commits per reference: each (thread, reference) pair has
	// its own commit agent, so writes to different references may
	// become visible out of program order.
	PSO
)

func (m Model) String() string {
	switch m {
	case TSO:
		return "TSO"
	case PSO:
		return "PSO"
	default:
		return "SC"
	}
}

// State is the scheduler-side view of memory for one run. It is
// rebuilt from scratch every run by folding committed actions.
type State struct {
	model Model
	full  map[event.MVarID]bool
}

// NewState returns the state at the start of a run.
func NewState(m Model) *State {
	return &State{
		model: m,
		full:  make(map[event.MVarID]bool),
	}
}

// Model returns the memory model the state was created under.
func (s *State) Model() Model {
	return s.model
}

// Step folds one committed action into the state.
func (s *State) Step(a event.Action) {
	switch a := a.(type) {
	case event.NewMVar:
		s.full[a.MVar] = false
	case event.PutMVar:
		s.full[a.MVar] = true
	case event.TakeMVar:
		s.full[a.MVar] = false
	case event.TryPutMVar:
		if a.Success {
			s.full[a.MVar] = true
		}
	case event.TryTakeMVar:
		if a.Success {
			s.full[a.MVar] = false
		}
	}
}

// WillBlock reports whether the lookahead's first operation would
// block given the current state.
func (s *State) WillBlock(la event.Lookahead) bool {
	switch la := la.(type) {
	case event.WillTake:
		return !s.full[la.MVar]
	case event.WillPut:
		return s.full[la.MVar]
	}
	return false
}

// WillBlockSafely reports whether the lookahead's first blocking
// operation would block indefinitely given the current state. The
// state cannot see future puts and takes, so a blocked synchronising
// operation is judged on the variable's status alone; a transaction
// is never safely blocked because its footprint is unknown until it
// runs.
func (s *State) WillBlockSafely(la event.Lookahead) bool {
	switch la.(type) {
	case event.WillTake, event.WillPut:
		return s.WillBlock(la)
	}
	return false
}
