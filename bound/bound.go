// Package bound defines the pluggable bounding policy of the search.
// A bound is a record of three pure functions; the core is otherwise
// bound agnostic.
package bound

import (
	"gosct/dpor"
	"gosct/event"
)

// An Initialise function picks, at a branching step, which threads
// the scheduler should enumerate. It must return a non-empty list.
type Initialise func(prior *event.ThreadID, runnable []event.Runnable) []event.ThreadID

// An Ok predicate decides whether a decision prefix is within budget.
type Ok func(ds []event.DecisionAction) bool

// A Bound bundles the three functions a bounding policy plugs into
// the search.
type Bound struct {
	// Ok decides whether a prefix is within budget.
	Ok Ok
	// Backtrack splices backtrack entries for a request, possibly
	// amplifying it with conservative ones.
	Backtrack dpor.BacktrackFunc
	// Initialise picks the threads to enumerate at a branching step.
	Initialise Initialise
}

// DefaultInitialise enumerates only the previously running thread
// while it stays runnable, hoping for an uninterrupted run, and every
// runnable thread otherwise.
func DefaultInitialise(prior *event.ThreadID, runnable []event.Runnable) []event.ThreadID {
	if prior != nil {
		for _, r := range runnable {
			if r.Tid == *prior {
				return []event.ThreadID{*prior}
			}
		}
	}
	tids := make([]event.ThreadID, len(runnable))
	for i, r := range runnable {
		tids[i] = r.Tid
	}
	return tids
}

// Unbounded explores every schedule, with one precise backtrack
// entry per request. Only terminating for small computations.
func Unbounded() Bound {
	return Bound{
		Ok: func([]event.DecisionAction) bool { return true },
		Backtrack: func(steps []dpor.BacktrackStep, i int, tid event.ThreadID) []dpor.BacktrackStep {
			return dpor.Insert(steps, i, tid, false)
		},
		Initialise: DefaultInitialise,
	}
}
