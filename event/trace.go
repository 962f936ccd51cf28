package event

import (
	"fmt"
	"strings"
)

// A Runnable pairs a runnable thread with its lookahead at some point
// of a run.
type Runnable struct {
	Tid       ThreadID
	Lookahead Lookahead
}

func (r Runnable) String() string {
	return fmt.Sprintf("%v:%v", r.Tid, r.Lookahead)
}

// A Step is one entry of a completed trace: the scheduling decision,
// the other threads that were runnable at that point, and the action
// the scheduled thread committed.
type Step struct {
	Decision     Decision
	Alternatives []Runnable
	Action       Action
}

func (s Step) String() string {
	if len(s.Alternatives) == 0 {
		return fmt.Sprintf("[%v %v]", s.Decision, s.Action)
	}
	alts := make([]string, len(s.Alternatives))
	for i, a := range s.Alternatives {
		alts[i] = a.String()
	}
	return fmt.Sprintf("[%v %v alts:%v]", s.Decision, s.Action, strings.Join(alts, " "))
}

// A Trace is the full record of one run. The decision at position 0
// is always a Start.
type Trace []Step

func (t Trace) String() string {
	out := strings.Builder{}
	for _, s := range t {
		out.WriteString(s.String())
	}
	return out.String()
}

// Decisions returns the decision sequence of the trace.
func (t Trace) Decisions() []Decision {
	ds := make([]Decision, len(t))
	for i, s := range t {
		ds[i] = s.Decision
	}
	return ds
}

// Tids returns the thread scheduled at every step of the trace.
func (t Trace) Tids() []ThreadID {
	ts := make([]ThreadID, len(t))
	tid := ThreadID(0)
	for i, s := range t {
		tid = TidOf(tid, s.Decision)
		ts[i] = tid
	}
	return ts
}

// Pairs returns the (decision, action) pairs of the trace, the form
// consumed by bound predicates.
func (t Trace) Pairs() []DecisionAction {
	ps := make([]DecisionAction, len(t))
	for i, s := range t {
		ps[i] = DecisionAction{Decision: s.Decision, Action: s.Action}
	}
	return ps
}

// A BPoint is the per-step branch record kept by the replay
// scheduler: every thread that was runnable with its lookahead, and
// the alternative choices the bound suggested at each step after the
// replayed prefix. Alternatives is empty at replayed steps.
type BPoint struct {
	Runnable     []Runnable
	Alternatives []ThreadID
}
