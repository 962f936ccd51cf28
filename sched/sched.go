// Package sched implements the deterministic replay scheduler that
// drives one run of the computation: it follows a claimed prefix of
// threads verbatim, then lets the bound's initialise policy pick the
// branches to enumerate, recording the branch points for the
// backtrack finder.
package sched

import (
	"gosct/bound"
	"gosct/event"
	"gosct/mem"
)

// State is the per-run scheduler state. It is discarded after the
// run; only BPoints outlives it, consumed by the backtrack finder.
type State struct {
	// The remaining threads to follow verbatim.
	Prefix []event.ThreadID
	// One entry per emitted decision: the runnable threads with
	// their lookaheads, and the alternatives suggested at each step
	// past the prefix. Alternatives is empty at replayed steps.
	BPoints []event.BPoint
	// The memory-model auxiliary state.
	Mem *mem.State
}

// A Replay walks one schedule: the prefix first, then wherever the
// initialise policy points. It is deterministic given the prefix and
// the memory state, and strict: every branch point is recorded at the
// step it is observed.
type Replay struct {
	initialise bound.Initialise
	state      State
	prior      *event.ThreadID
}

// New returns a scheduler that replays prefix and then branches via
// initialise.
func New(initialise bound.Initialise, prefix []event.ThreadID, m *mem.State) *Replay {
	return &Replay{
		initialise: initialise,
		state: State{
			Prefix:  prefix,
			BPoints: []event.BPoint{},
			Mem:     m,
		},
	}
}

// NewReplay returns a scheduler that replays prefix and then keeps
// the running thread going wherever possible. Used to re-execute one
// recorded schedule.
func NewReplay(prefix []event.ThreadID, m *mem.State) *Replay {
	return New(bound.DefaultInitialise, prefix, m)
}

// State exposes the scheduler state; the branch points are valid once
// the run has completed.
func (r *Replay) State() *State {
	return &r.state
}

// Schedule picks the thread to run next. prior is the previous trace
// step, nil at the first step. runnable is never empty. Returning
// false aborts the run.
func (r *Replay) Schedule(prior *event.Step, runnable []event.Runnable) (event.ThreadID, bool) {
	if prior != nil {
		r.state.Mem.Step(prior.Action)
	}

	if len(r.state.Prefix) > 0 {
		tid := r.state.Prefix[0]
		if !runnableContains(runnable, tid) {
			// The replay diverged; the branch cannot be reached.
			return 0, false
		}
		r.state.Prefix = r.state.Prefix[1:]
		r.state.BPoints = append(r.state.BPoints, event.BPoint{Runnable: runnable})
		r.emit(tid)
		return tid, true
	}

	choices := r.initialise(r.prior, runnable)
	live := make([]event.ThreadID, 0, len(choices))
	for _, tid := range choices {
		if la, ok := lookaheadOf(runnable, tid); ok && !r.state.Mem.WillBlockSafely(la) {
			live = append(live, tid)
		}
	}
	if len(live) == 0 {
		// Every choice would block for good; running on would only
		// manufacture a deadlock, so give up on this run.
		return 0, false
	}

	tid := live[0]
	r.state.BPoints = append(r.state.BPoints, event.BPoint{
		Runnable:     runnable,
		Alternatives: live[1:],
	})
	r.emit(tid)
	return tid, true
}

func (r *Replay) emit(tid event.ThreadID) {
	t := tid
	r.prior = &t
}

func runnableContains(runnable []event.Runnable, tid event.ThreadID) bool {
	_, ok := lookaheadOf(runnable, tid)
	return ok
}

func lookaheadOf(runnable []event.Runnable, tid event.ThreadID) (event.Lookahead, bool) {
	for _, r := range runnable {
		if r.Tid == tid {
			return r.Lookahead, true
		}
	}
	return nil, false
}
