package event

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// A ThreadID identifies one thread of the computation under test.
// Ids are minted by the execution engine in spawn order, so they are
// ordered and stable between runs that share a schedule prefix.
// Negative ids name commit agents: the schedulable entities that
// drain write buffers under the relaxed memory models.
type ThreadID int

// IsCommit reports whether the id names a commit agent rather than a
// spawned thread.
func (t ThreadID) IsCommit() bool {
	return t < 0
}

func (t ThreadID) String() string {
	if t.IsCommit() {
		return fmt.Sprintf("C%d", -int(t)-1)
	}
	return fmt.Sprintf("T%d", int(t))
}

// A Decision is a single step of a schedule.
// It records how the scheduler moved between threads, not just which
// thread ran: Continue and SwitchTo both schedule a runnable thread,
// but only SwitchTo counts against a pre-emption budget.
type Decision interface {
	decision()
	fmt.Stringer
}

// Start schedules a thread when no thread was running, either at the
// first step of the run or after the previous thread became
// non-runnable.
type Start struct {
	Tid ThreadID
}

// Continue schedules the same thread as the previous step.
type Continue struct{}

// SwitchTo pre-empts the running thread for another runnable thread.
type SwitchTo struct {
	Tid ThreadID
}

func (s Start) decision()    {}
func (c Continue) decision() {}
func (s SwitchTo) decision() {}

func (s Start) String() string    { return fmt.Sprintf("Start(%v)", s.Tid) }
func (c Continue) String() string { return "Continue" }
func (s SwitchTo) String() string { return fmt.Sprintf("SwitchTo(%v)", s.Tid) }

// TidOf returns the thread scheduled by the decision.
// Continue does not carry a thread id, so the caller supplies the
// previously running thread as the default.
func TidOf(def ThreadID, d Decision) ThreadID {
	switch d := d.(type) {
	case Start:
		return d.Tid
	case SwitchTo:
		return d.Tid
	default:
		return def
	}
}

// DecisionOf classifies the transition from the previously running
// thread to the chosen one. prior is nil at the first step of a run.
func DecisionOf(prior *ThreadID, runnable []ThreadID, chosen ThreadID) Decision {
	switch {
	case prior == nil:
		return Start{Tid: chosen}
	case *prior == chosen:
		return Continue{}
	case contains(runnable, *prior):
		return SwitchTo{Tid: chosen}
	default:
		return Start{Tid: chosen}
	}
}

func contains(ts []ThreadID, t ThreadID) bool {
	for _, u := range ts {
		if u == t {
			return true
		}
	}
	return false
}

// ActiveTid folds TidOf over a decision sequence and returns the
// thread scheduled by the final decision. The sequence must begin
// with a Start, otherwise there is no thread to continue from and the
// sequence cannot have come from a real run.
func ActiveTid(ds []Decision) (ThreadID, error) {
	if len(ds) == 0 {
		return 0, errors.AssertionFailedf("ActiveTid on an empty decision sequence")
	}
	first, ok := ds[0].(Start)
	if !ok {
		return 0, errors.AssertionFailedf("decision sequence begins with %v, want a Start", ds[0])
	}
	tid := first.Tid
	for _, d := range ds[1:] {
		tid = TidOf(tid, d)
	}
	return tid, nil
}

// A DecisionAction pairs a decision with the action the scheduled
// thread committed at that step. The action may be nil for a
// candidate decision that has not been executed yet.
type DecisionAction struct {
	Decision Decision
	Action   Action
}

// PreemptCount counts the pre-emptions in a schedule: SwitchTo
// decisions where the pre-empted thread had not just yielded.
// A switch directly after a Yield is the thread giving the processor
// away, not the scheduler taking it. Commit agents are invisible to
// the count: switching to one, or back from one, costs nothing.
func PreemptCount(ds []DecisionAction) int {
	count := 0
	for i, da := range ds {
		s, ok := da.Decision.(SwitchTo)
		if !ok || s.Tid.IsCommit() {
			continue
		}
		if i > 0 {
			switch ds[i-1].Action.(type) {
			case Yield, CommitWrite:
				continue
			}
		}
		count++
	}
	return count
}
