package dpor

import (
	"golang.org/x/exp/slices"

	"gosct/event"
)

// A BacktrackStep is the per-step scratch the finder builds from a
// trace and its branch points. Bound plug-ins splice additional
// entries into the Backtrack maps before the requests are collected.
type BacktrackStep struct {
	// The thread that acted at this step.
	Tid event.ThreadID
	// The decision and committed action of this step.
	Decision event.Decision
	Action   event.Action
	// Every thread runnable at this step, with its lookahead.
	Runnable map[event.ThreadID]event.Lookahead
	// The alternative threads the bound suggested at this step.
	Alternatives []event.ThreadID
	// The threads to additionally schedule at this step, mapped to
	// whether the entry is conservative.
	Backtrack map[event.ThreadID]bool
}

func (b BacktrackStep) schedulable(tid event.ThreadID) bool {
	if _, ok := b.Runnable[tid]; ok {
		return true
	}
	return slices.Contains(b.Alternatives, tid)
}

// A BacktrackFunc splices backtrack entries for a request to schedule
// tid at step i. Bounds use it to add conservative entries alongside
// the precise one.
type BacktrackFunc func(steps []BacktrackStep, i int, tid event.ThreadID) []BacktrackStep

// A Request asks the tree to schedule Tid at the node reached by the
// first Index steps of the trace the request was derived from.
type Request struct {
	Index        int
	Tid          event.ThreadID
	Conservative bool
}

// Insert records that tid should additionally be scheduled at step i.
// If tid is not runnable there, every runnable thread is recorded
// instead, since the one that would unblock tid cannot be pinpointed.
// A precise entry is never downgraded; a conservative one may be
// upgraded to precise.
func Insert(steps []BacktrackStep, i int, tid event.ThreadID, conservative bool) []BacktrackStep {
	st := &steps[i]
	if _, ok := st.Runnable[tid]; ok {
		upgrade(st.Backtrack, tid, conservative)
		return steps
	}
	for t := range st.Runnable {
		upgrade(st.Backtrack, t, conservative)
	}
	return steps
}

func upgrade(backtrack map[event.ThreadID]bool, tid event.ThreadID, conservative bool) {
	if existing, ok := backtrack[tid]; ok {
		if existing && !conservative {
			backtrack[tid] = false
		}
		return
	}
	backtrack[tid] = conservative
}

// FindBacktrack scans a completed trace for pairs of dependent
// actions and emits a request for every point where re-ordering them
// requires scheduling a thread that the run did not schedule there.
// The bound's backtrack function performs the insertions, so it can
// amplify each with conservative ones.
func FindBacktrack(bf BacktrackFunc, bpoints []event.BPoint, tr event.Trace) []Request {
	steps := backtrackSteps(bpoints, tr)

	for i := 1; i < len(steps); i++ {
		ti, ai := steps[i].Tid, steps[i].Action
		// The insertion point must come after the acting thread's
		// previous step, otherwise scheduling it there re-orders
		// nothing.
		lastTi := -1
		for m := i - 1; m >= 0; m-- {
			if steps[m].Tid == ti {
				lastTi = m
				break
			}
		}
		for j := i - 1; j > lastTi; j-- {
			if !Dependent(ti, ai, steps[j].Tid, steps[j].Action) {
				continue
			}
			k := -1
			for c := j; c > lastTi; c-- {
				if steps[c].schedulable(ti) {
					k = c
					break
				}
			}
			if k < 0 {
				continue
			}
			steps = bf(steps, k, ti)
		}
	}

	reqs := []Request{}
	for k := range steps {
		for _, tid := range sortedKeys(steps[k].Backtrack) {
			reqs = append(reqs, Request{
				Index:        k,
				Tid:          tid,
				Conservative: steps[k].Backtrack[tid],
			})
		}
	}
	return reqs
}

func backtrackSteps(bpoints []event.BPoint, tr event.Trace) []BacktrackStep {
	steps := make([]BacktrackStep, len(tr))
	tids := tr.Tids()
	for i, step := range tr {
		runnable := make(map[event.ThreadID]event.Lookahead)
		if i < len(bpoints) {
			for _, r := range bpoints[i].Runnable {
				runnable[r.Tid] = r.Lookahead
			}
		}
		var alts []event.ThreadID
		if i < len(bpoints) {
			alts = bpoints[i].Alternatives
		}
		steps[i] = BacktrackStep{
			Tid:          tids[i],
			Decision:     step.Decision,
			Action:       step.Action,
			Runnable:     runnable,
			Alternatives: alts,
			Backtrack:    make(map[event.ThreadID]bool),
		}
	}
	return steps
}
