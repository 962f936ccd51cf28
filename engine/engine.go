// Package engine executes one run of a concurrent computation under
// an external scheduler. Every modelled thread runs on its own
// goroutine and hand-shakes with the engine over channels: it
// announces what its next step would do, parks, and proceeds only
// when the engine grants the step. At most one goroutine executes
// user code at any time, so a run is deterministic given the
// scheduler's choices.
package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"gosct/event"
	"gosct/mem"
)

// MainThread is the id of the first thread of every computation.
const MainThread event.ThreadID = 0

// A Scheduler picks the next thread at every step of a run. prior is
// the previous trace step, nil at the first; runnable is never empty.
// Returning false aborts the run.
type Scheduler interface {
	Schedule(prior *event.Step, runnable []event.Runnable) (event.ThreadID, bool)
}

// A Program is the main thread of the computation under test. Its
// return value is the run's result.
type Program func(*Proc) any

// Config parameterises one run.
type Config struct {
	// MaxSteps aborts the run after this many steps; zero means no
	// budget.
	MaxSteps int
	// Model selects the memory model for shared references.
	Model mem.Model
	// Ctx is passed to lifted external effects. Defaults to
	// context.Background.
	Ctx context.Context
}

var errKilled = errors.New("engine: run torn down")

// A threadMsg is what a thread goroutine reports to the engine: its
// next announced step, its exit, or a panic.
type threadMsg struct {
	intent   *intent
	exited   bool
	panicked bool
	pval     any
}

// An intent is an announced-but-uncommitted step: the lookahead the
// scheduler sees, and the closure that commits the step against the
// run state.
type intent struct {
	lookahead event.Lookahead
	commit    func() commitResult
}

type commitResult struct {
	action event.Action
	value  any
	// blocked marks a transaction that retried: the step is recorded
	// but the thread is not granted and keeps its intent.
	blocked bool
}

type thread struct {
	id    event.ThreadID
	msgs  chan threadMsg
	grant chan any

	pending    *intent
	finished   bool
	stmBlocked bool
	stmVersion int
}

type mvarState struct {
	full  bool
	value any
}

type bufferedWrite struct {
	ref event.RefID
	val any
}

// An agentKey identifies a commit agent: one per buffering thread
// under TSO, one per (thread, reference) pair under PSO. ref is -1
// for the per-thread form.
type agentKey struct {
	owner event.ThreadID
	ref   event.RefID
}

type run struct {
	cfg Config
	ctx context.Context

	threads map[event.ThreadID]*thread
	order   []event.ThreadID
	nextTid event.ThreadID

	refs    map[event.RefID]any
	nextRef event.RefID
	// Per-thread write buffers under TSO and PSO. Entries keep
	// program order; PSO commits may drain them out of order across
	// references, but first-in first-out per reference.
	buffers map[event.ThreadID][]bufferedWrite
	// Commit agents, minted on a key's first buffered write and
	// stable for the rest of the run.
	agents     map[agentKey]event.ThreadID
	agentKeys  map[event.ThreadID]agentKey
	agentOrder []event.ThreadID
	nextAgent  event.ThreadID

	mvars    map[event.MVarID]*mvarState
	nextMVar event.MVarID

	tvars    map[event.TVarID]any
	nextTVar event.TVarID
	// Bumped on every committed transaction; blocked transactions
	// re-run when it moves.
	stmVersion int

	eg   *errgroup.Group
	kill chan struct{}

	mainValue any
	panicked  bool
	panicVal  any
}

// Run executes the program to completion under the scheduler and
// returns its result and trace. The returned error is non-nil only
// for an internal invariant violation, which must terminate the
// enclosing search.
func Run(sch Scheduler, prog Program, cfg Config) (result Result, trace event.Trace, err error) {
	ctx := cfg.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	r := &run{
		cfg:       cfg,
		ctx:       ctx,
		threads:   make(map[event.ThreadID]*thread),
		refs:      make(map[event.RefID]any),
		buffers:   make(map[event.ThreadID][]bufferedWrite),
		agents:    make(map[agentKey]event.ThreadID),
		agentKeys: make(map[event.ThreadID]agentKey),
		nextAgent: -1,
		mvars:     make(map[event.MVarID]*mvarState),
		tvars:     make(map[event.TVarID]any),
		eg:        new(errgroup.Group),
		kill:      make(chan struct{}),
	}
	// A panic that can no longer be delivered to the run surfaces
	// from the join; it means the computation kept running behind the
	// engine's back and the search cannot trust the tree any more.
	defer func() {
		if terr := r.teardown(); terr != nil && err == nil {
			result = Result{Failure: InternalError}
			err = terr
		}
	}()

	main := r.startThread(func(p *Proc) {
		r.mainValue = prog(p)
	})
	r.process(main, <-main.msgs)

	trace = event.Trace{}
	var prior *event.Step
	var lastTid *event.ThreadID

	for {
		if r.panicked {
			result = Result{Failure: UncaughtException, Panic: r.panicVal}
			break
		}
		runnable := r.runnables()
		if len(runnable) == 0 {
			result = r.terminalResult(main)
			break
		}
		if r.cfg.MaxSteps > 0 && len(trace) >= r.cfg.MaxSteps {
			result = Result{Failure: Abort}
			break
		}

		tid, ok := sch.Schedule(prior, runnable)
		if !ok {
			result = Result{Failure: Abort}
			break
		}
		if !runnableHas(runnable, tid) {
			return Result{Failure: InternalError}, trace,
				errors.AssertionFailedf("scheduled %v which is not runnable", tid)
		}

		decision := event.DecisionOf(lastTid, tidsOf(runnable), tid)
		alts := alternatives(runnable, tid)

		if tid.IsCommit() {
			trace = append(trace, event.Step{
				Decision:     decision,
				Alternatives: alts,
				Action:       r.commitOldest(tid),
			})
			prior = &trace[len(trace)-1]
			chosen := tid
			lastTid = &chosen
			continue
		}
		t := r.threads[tid]

		res, panicked, pval := commit(t.pending)
		if panicked {
			action := committedForm(t.pending.lookahead)
			t.pending = nil
			t.finished = true
			trace = append(trace, event.Step{Decision: decision, Alternatives: alts, Action: action})
			result = Result{Failure: UncaughtException, Panic: pval}
			break
		}

		if res.blocked {
			t.stmBlocked = true
			t.stmVersion = r.stmVersion
		} else {
			t.pending = nil
			t.stmBlocked = false
			t.grant <- res.value
			r.process(t, <-t.msgs)
		}

		trace = append(trace, event.Step{Decision: decision, Alternatives: alts, Action: res.action})
		prior = &trace[len(trace)-1]
		chosen := tid
		lastTid = &chosen
	}

	return result, trace, nil
}

// commit runs the announced step, translating a panic from user code
// run inside the engine (a transaction body or a lifted effect) into
// a thread failure.
func commit(it *intent) (res commitResult, panicked bool, pval any) {
	defer func() {
		if v := recover(); v != nil {
			panicked, pval = true, v
		}
	}()
	res = it.commit()
	return res, false, nil
}

// process folds a thread's announcement into the engine state.
func (r *run) process(t *thread, msg threadMsg) {
	switch {
	case msg.intent != nil:
		t.pending = msg.intent
	case msg.panicked:
		t.finished = true
		t.pending = nil
		r.panicked = true
		r.panicVal = msg.pval
	case msg.exited:
		t.finished = true
		t.pending = nil
	}
}

// runnables lists the threads that can commit a step right now, in
// thread order, followed by the commit agents with a write to drain.
// A thread whose announced step would block on a synchronising
// variable is held back until the variable changes; a retried
// transaction is held back until some transaction commits.
func (r *run) runnables() []event.Runnable {
	out := []event.Runnable{}
	for _, tid := range r.order {
		t := r.threads[tid]
		if t.finished || t.pending == nil {
			continue
		}
		if t.stmBlocked && t.stmVersion == r.stmVersion {
			continue
		}
		if r.gated(t.pending.lookahead) {
			continue
		}
		out = append(out, event.Runnable{Tid: tid, Lookahead: t.pending.lookahead})
	}
	for _, tid := range r.agentOrder {
		if ref, ok := r.pendingCommit(tid); ok {
			out = append(out, event.Runnable{Tid: tid, Lookahead: event.WillCommit{Ref: ref}})
		}
	}
	return out
}

func (r *run) gated(la event.Lookahead) bool {
	switch la := la.(type) {
	case event.WillTake:
		mv := r.mvars[la.MVar]
		return mv == nil || !mv.full
	case event.WillPut:
		mv := r.mvars[la.MVar]
		return mv != nil && mv.full
	}
	return false
}

// terminalResult classifies the state where no thread can move.
func (r *run) terminalResult(main *thread) Result {
	if main.finished {
		return Result{Value: r.mainValue}
	}
	if main.stmBlocked {
		return Result{Failure: STMDeadlock}
	}
	return Result{Failure: Deadlock}
}

// committedForm maps a lookahead onto the action recorded when the
// step's commit panicked: the step was taken, even though its thread
// did not survive it.
func committedForm(la event.Lookahead) event.Action {
	switch la := la.(type) {
	case event.WillSTM:
		return event.STM{}
	case event.WillLift:
		return event.Lift{}
	case event.WillReadRef:
		return event.ReadRef{Ref: la.Ref}
	case event.WillWriteRef:
		return event.WriteRef{Ref: la.Ref}
	case event.WillModifyRef:
		return event.ModifyRef{Ref: la.Ref}
	default:
		return event.Lift{}
	}
}

// teardown unparks every remaining thread and joins them. The first
// error any goroutine reports — a panic it could no longer deliver —
// comes back from the join.
func (r *run) teardown() error {
	close(r.kill)
	return r.eg.Wait()
}

func runnableHas(runnable []event.Runnable, tid event.ThreadID) bool {
	for _, rn := range runnable {
		if rn.Tid == tid {
			return true
		}
	}
	return false
}

func tidsOf(runnable []event.Runnable) []event.ThreadID {
	tids := make([]event.ThreadID, len(runnable))
	for i, rn := range runnable {
		tids[i] = rn.Tid
	}
	return tids
}

func alternatives(runnable []event.Runnable, chosen event.ThreadID) []event.Runnable {
	alts := make([]event.Runnable, 0, len(runnable)-1)
	for _, rn := range runnable {
		if rn.Tid != chosen {
			alts = append(alts, rn)
		}
	}
	return alts
}
