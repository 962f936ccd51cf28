package bound

import (
	"gosct/dpor"
	"gosct/event"
)

// Preemption bounds the search to schedules with at most k
// pre-emptions.
//
// Each backtrack request inserts twice: a precise entry at the
// requested step, and a conservative one at the most recent earlier
// step where the executing thread changed. The conservative entry
// compensates for re-orderings the bound itself forbids: a dependency
// that could be reversed without the bound may be unreachable within
// budget from the precise point alone.
func Preemption(k int) Bound {
	return Bound{
		Ok: func(ds []event.DecisionAction) bool {
			return event.PreemptCount(ds) <= k
		},
		Backtrack:  preemptionBacktrack,
		Initialise: DefaultInitialise,
	}
}

func preemptionBacktrack(steps []dpor.BacktrackStep, i int, tid event.ThreadID) []dpor.BacktrackStep {
	steps = dpor.Insert(steps, i, tid, false)
	for j := i - 1; j > 0; j-- {
		if steps[j-1].Tid != steps[j].Tid {
			steps = dpor.Insert(steps, j, tid, true)
			break
		}
	}
	return steps
}
