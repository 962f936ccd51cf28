package event

import (
	"fmt"
	"strings"
)

// A RefID identifies a shared reference created during a run.
type RefID int

// An MVarID identifies a synchronising variable created during a run.
type MVarID int

// A TVarID identifies a transactional variable created during a run.
type TVarID int

func (r RefID) String() string  { return fmt.Sprintf("r%d", int(r)) }
func (v MVarID) String() string { return fmt.Sprintf("v%d", int(v)) }
func (v TVarID) String() string { return fmt.Sprintf("tv%d", int(v)) }

// An Action describes what a thread did in one committed step.
// The variant set is closed: the dependency relation enumerates these
// and nothing else.
type Action interface {
	action()
	fmt.Stringer
}

// Spawn created a new thread.
type Spawn struct {
	Child ThreadID
}

// Stop is the final step of a thread; the thread is no longer
// runnable afterwards.
type Stop struct{}

// Yield gave the processor away voluntarily.
type Yield struct{}

// Lift ran an opaque external effect.
type Lift struct{}

// NewRef created a shared reference.
type NewRef struct {
	Ref RefID
}

// ReadRef read a shared reference.
type ReadRef struct {
	Ref RefID
}

// WriteRef wrote a shared reference.
type WriteRef struct {
	Ref RefID
}

// ModifyRef read, transformed and wrote back a shared reference as
// one atomic step.
type ModifyRef struct {
	Ref RefID
}

// CommitWrite made one buffered write visible to every thread. Only
// commit agents perform it; it never appears under sequential
// consistency.
type CommitWrite struct {
	Ref RefID
}

// NewMVar created an empty synchronising variable.
type NewMVar struct {
	MVar MVarID
}

// TakeMVar emptied a full synchronising variable.
type TakeMVar struct {
	MVar MVarID
}

// PutMVar filled an empty synchronising variable.
type PutMVar struct {
	MVar MVarID
}

// TryTakeMVar attempted a take without blocking; Success records
// whether the variable was full.
type TryTakeMVar struct {
	MVar    MVarID
	Success bool
}

// TryPutMVar attempted a put without blocking; Success records
// whether the variable was empty.
type TryPutMVar struct {
	MVar    MVarID
	Success bool
}

// STM committed a transaction touching the listed variables.
type STM struct {
	TVars []TVarID
}

// BlockedSTM ran a transaction that retried; the thread is blocked
// until some transaction commits.
type BlockedSTM struct {
	TVars []TVarID
}

func (a Spawn) action()       {}
func (a Stop) action()        {}
func (a Yield) action()       {}
func (a Lift) action()        {}
func (a NewRef) action()      {}
func (a ReadRef) action()     {}
func (a WriteRef) action()    {}
func (a ModifyRef) action()   {}
func (a CommitWrite) action() {}
func (a NewMVar) action()     {}
func (a TakeMVar) action()    {}
func (a PutMVar) action()     {}
func (a TryTakeMVar) action() {}
func (a TryPutMVar) action()  {}
func (a STM) action()         {}
func (a BlockedSTM) action()  {}

func (a Spawn) String() string       { return fmt.Sprintf("Spawn(%v)", a.Child) }
func (a Stop) String() string        { return "Stop" }
func (a Yield) String() string       { return "Yield" }
func (a Lift) String() string        { return "Lift" }
func (a NewRef) String() string      { return fmt.Sprintf("NewRef(%v)", a.Ref) }
func (a ReadRef) String() string     { return fmt.Sprintf("ReadRef(%v)", a.Ref) }
func (a WriteRef) String() string    { return fmt.Sprintf("WriteRef(%v)", a.Ref) }
func (a ModifyRef) String() string   { return fmt.Sprintf("ModifyRef(%v)", a.Ref) }
func (a CommitWrite) String() string { return fmt.Sprintf("Commit(%v)", a.Ref) }
func (a NewMVar) String() string     { return fmt.Sprintf("NewMVar(%v)", a.MVar) }
func (a TakeMVar) String() string    { return fmt.Sprintf("Take(%v)", a.MVar) }
func (a PutMVar) String() string     { return fmt.Sprintf("Put(%v)", a.MVar) }
func (a TryTakeMVar) String() string {
	return fmt.Sprintf("TryTake(%v,%v)", a.MVar, a.Success)
}
func (a TryPutMVar) String() string {
	return fmt.Sprintf("TryPut(%v,%v)", a.MVar, a.Success)
}
func (a STM) String() string { return fmt.Sprintf("STM(%v)", tvarList(a.TVars)) }
func (a BlockedSTM) String() string {
	return fmt.Sprintf("BlockedSTM(%v)", tvarList(a.TVars))
}

func tvarList(vs []TVarID) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// A Lookahead describes what a thread would do on its next step.
// The engine reports it before committing the step, so the scheduler
// and the backtrack machinery can classify a choice without taking it.
type Lookahead interface {
	lookahead()
	fmt.Stringer
}

// WillSpawn will create a new thread. The child id is not known until
// the step commits.
type WillSpawn struct{}

// WillStop is the thread's final step.
type WillStop struct{}

// WillYield will give the processor away.
type WillYield struct{}

// WillLift will run an opaque external effect.
type WillLift struct{}

// WillNewRef will create a shared reference.
type WillNewRef struct{}

// WillReadRef will read a shared reference.
type WillReadRef struct {
	Ref RefID
}

// WillWriteRef will write a shared reference.
type WillWriteRef struct {
	Ref RefID
}

// WillModifyRef will atomically read-modify-write a shared reference.
type WillModifyRef struct {
	Ref RefID
}

// WillCommit will make the oldest eligible buffered write to the
// reference visible. Announced only by commit agents.
type WillCommit struct {
	Ref RefID
}

// WillNewMVar will create a synchronising variable.
type WillNewMVar struct{}

// WillTake will take a synchronising variable, blocking while it is
// empty.
type WillTake struct {
	MVar MVarID
}

// WillPut will put into a synchronising variable, blocking while it
// is full.
type WillPut struct {
	MVar MVarID
}

// WillTryTake will attempt a take without blocking.
type WillTryTake struct {
	MVar MVarID
}

// WillTryPut will attempt a put without blocking.
type WillTryPut struct {
	MVar MVarID
}

// WillSTM will run a transaction. The footprint is not known until
// the transaction body has executed.
type WillSTM struct{}

func (l WillSpawn) lookahead()     {}
func (l WillStop) lookahead()      {}
func (l WillYield) lookahead()     {}
func (l WillLift) lookahead()      {}
func (l WillNewRef) lookahead()    {}
func (l WillReadRef) lookahead()   {}
func (l WillWriteRef) lookahead()  {}
func (l WillModifyRef) lookahead() {}
func (l WillCommit) lookahead()    {}
func (l WillNewMVar) lookahead()   {}
func (l WillTake) lookahead()      {}
func (l WillPut) lookahead()       {}
func (l WillTryTake) lookahead()   {}
func (l WillTryPut) lookahead()    {}
func (l WillSTM) lookahead()       {}

func (l WillSpawn) String() string     { return "WillSpawn" }
func (l WillStop) String() string      { return "WillStop" }
func (l WillYield) String() string     { return "WillYield" }
func (l WillLift) String() string      { return "WillLift" }
func (l WillNewRef) String() string    { return "WillNewRef" }
func (l WillReadRef) String() string   { return fmt.Sprintf("WillReadRef(%v)", l.Ref) }
func (l WillWriteRef) String() string  { return fmt.Sprintf("WillWriteRef(%v)", l.Ref) }
func (l WillModifyRef) String() string { return fmt.Sprintf("WillModifyRef(%v)", l.Ref) }
func (l WillCommit) String() string    { return fmt.Sprintf("WillCommit(%v)", l.Ref) }
func (l WillNewMVar) String() string   { return "WillNewMVar" }
func (l WillTake) String() string      { return fmt.Sprintf("WillTake(%v)", l.MVar) }
func (l WillPut) String() string       { return fmt.Sprintf("WillPut(%v)", l.MVar) }
func (l WillTryTake) String() string   { return fmt.Sprintf("WillTryTake(%v)", l.MVar) }
func (l WillTryPut) String() string    { return fmt.Sprintf("WillTryPut(%v)", l.MVar) }
func (l WillSTM) String() string       { return "WillSTM" }
