package engine

import (
	"testing"

	"golang.org/x/exp/slices"

	"gosct/event"
	"gosct/mem"
)

// firstScheduler always picks the lowest runnable thread. Runs are
// fully deterministic under it.
type firstScheduler struct{}

func (firstScheduler) Schedule(prior *event.Step, runnable []event.Runnable) (event.ThreadID, bool) {
	return runnable[0].Tid, true
}

func TestRunSingleThread(t *testing.T) {
	res, tr, err := Run(firstScheduler{}, func(p *Proc) any {
		ref := p.NewRef(41)
		p.WriteRef(ref, p.ReadRef(ref).(int)+1)
		return p.ReadRef(ref)
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() || res.Value != 42 {
		t.Fatalf("result %v, expected ok(42)", res)
	}
	if len(tr) == 0 {
		t.Fatalf("expected a non-empty trace")
	}
	if _, ok := tr[0].Decision.(event.Start); !ok {
		t.Errorf("trace must begin with a Start, got %v", tr[0].Decision)
	}
	if _, ok := tr[len(tr)-1].Action.(event.Stop); !ok {
		t.Errorf("trace must end with the main thread's Stop, got %v", tr[len(tr)-1].Action)
	}
}

func TestRunSpawnAndDecisions(t *testing.T) {
	res, tr, err := Run(firstScheduler{}, func(p *Proc) any {
		ref := p.NewRef(0)
		child := p.Spawn(func(p *Proc) {
			p.WriteRef(ref, 1)
		})
		return child
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() || res.Value != event.ThreadID(1) {
		t.Fatalf("result %v, expected the child id T1", res)
	}

	// The child's write happens after main stops under the
	// first-thread scheduler, so the trace is main's steps then the
	// child's, joined by a Start.
	tids := tr.Tids()
	if tids[0] != 0 || tids[len(tids)-1] != 1 {
		t.Errorf("unexpected schedule %v", tids)
	}
	for _, step := range tr[1:] {
		if _, ok := step.Decision.(event.SwitchTo); ok {
			t.Errorf("first-thread scheduling should never pre-empt, got %v", tr)
		}
	}
}

func TestRunMVarHandoff(t *testing.T) {
	res, tr, err := Run(firstScheduler{}, func(p *Proc) any {
		v := p.NewMVar()
		p.Spawn(func(p *Proc) {
			p.PutMVar(v, 42)
		})
		return p.TakeMVar(v)
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() || res.Value != 42 {
		t.Fatalf("result %v, expected ok(42)", res)
	}

	// The blocked take must not appear as a step: the main thread is
	// held back until the put, then takes.
	var actions []string
	for _, step := range tr {
		actions = append(actions, step.Action.String())
	}
	if !slices.Contains(actions, "Put(v0)") || !slices.Contains(actions, "Take(v0)") {
		t.Errorf("expected a put and a take in %v", actions)
	}
	if slices.Index(actions, "Put(v0)") > slices.Index(actions, "Take(v0)") {
		t.Errorf("the take cannot precede the put: %v", actions)
	}
}

func TestRunDeadlock(t *testing.T) {
	res, _, err := Run(firstScheduler{}, func(p *Proc) any {
		v := p.NewMVar()
		return p.TakeMVar(v)
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != Deadlock {
		t.Fatalf("result %v, expected deadlock", res)
	}
}

func TestRunUncaughtPanic(t *testing.T) {
	res, _, err := Run(firstScheduler{}, func(p *Proc) any {
		p.NewRef(0)
		panic("boom")
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != UncaughtException {
		t.Fatalf("result %v, expected an uncaught exception", res)
	}
	if res.Panic != "boom" {
		t.Errorf("panic value %v, expected boom", res.Panic)
	}
}

func TestRunStepBudget(t *testing.T) {
	res, tr, err := Run(firstScheduler{}, func(p *Proc) any {
		for {
			p.Yield()
		}
	}, Config{MaxSteps: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != Abort {
		t.Fatalf("result %v, expected abort", res)
	}
	if len(tr) != 5 {
		t.Errorf("expected the trace cut at the budget, got %d steps", len(tr))
	}
}

func TestRunSchedulerAbort(t *testing.T) {
	done := 0
	sch := schedulerFunc(func(prior *event.Step, runnable []event.Runnable) (event.ThreadID, bool) {
		if done >= 2 {
			return 0, false
		}
		done++
		return runnable[0].Tid, true
	})
	res, tr, err := Run(sch, func(p *Proc) any {
		for {
			p.Yield()
		}
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != Abort {
		t.Fatalf("result %v, expected abort", res)
	}
	if len(tr) != 2 {
		t.Errorf("expected two steps before the abort, got %d", len(tr))
	}
}

type schedulerFunc func(*event.Step, []event.Runnable) (event.ThreadID, bool)

func (f schedulerFunc) Schedule(prior *event.Step, runnable []event.Runnable) (event.ThreadID, bool) {
	return f(prior, runnable)
}

func TestRunSTMRetry(t *testing.T) {
	res, tr, err := Run(firstScheduler{}, func(p *Proc) any {
		var flag *TVar
		p.Atomically(func(tx *Txn) any {
			flag = tx.NewTVar(0)
			return nil
		})
		p.Spawn(func(p *Proc) {
			p.Atomically(func(tx *Txn) any {
				tx.Write(flag, 1)
				return nil
			})
		})
		return p.Atomically(func(tx *Txn) any {
			v := tx.Read(flag).(int)
			if v == 0 {
				tx.Retry()
			}
			return v
		})
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() || res.Value != 1 {
		t.Fatalf("result %v, expected ok(1)", res)
	}

	blocked := false
	for _, step := range tr {
		if _, ok := step.Action.(event.BlockedSTM); ok {
			blocked = true
		}
	}
	if !blocked {
		t.Errorf("expected a recorded retry in %v", tr)
	}
}

func TestRunSTMDeadlock(t *testing.T) {
	res, _, err := Run(firstScheduler{}, func(p *Proc) any {
		return p.Atomically(func(tx *Txn) any {
			tx.Retry()
			return nil
		})
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != STMDeadlock {
		t.Fatalf("result %v, expected an STM deadlock", res)
	}
}

func TestRunModifyRef(t *testing.T) {
	res, tr, err := Run(firstScheduler{}, func(p *Proc) any {
		ref := p.NewRef(20)
		return p.ModifyRef(ref, func(v any) any { return v.(int) * 2 })
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() || res.Value != 40 {
		t.Fatalf("result %v, expected ok(40)", res)
	}

	modified := false
	for _, step := range tr {
		if _, ok := step.Action.(event.ModifyRef); ok {
			modified = true
		}
	}
	if !modified {
		t.Errorf("expected a single atomic modify step in %v", tr)
	}
}

// ModifyRef is synchronising: the thread's own buffered write commits
// before the transformation runs.
func TestRunModifyRefFlushesBuffer(t *testing.T) {
	res, _, err := Run(firstScheduler{}, func(p *Proc) any {
		ref := p.NewRef(0)
		p.WriteRef(ref, 1)
		return p.ModifyRef(ref, func(v any) any { return v.(int) + 1 })
	}, Config{Model: mem.TSO})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() || res.Value != 2 {
		t.Fatalf("result %v, expected ok(2)", res)
	}
}

func TestRunTryMVars(t *testing.T) {
	res, _, err := Run(firstScheduler{}, func(p *Proc) any {
		v := p.NewMVar()
		first := p.TryPutMVar(v, 1)
		second := p.TryPutMVar(v, 2)
		taken, _ := p.TryTakeMVar(v)
		_, again := p.TryTakeMVar(v)
		return [4]any{first, second, taken, again}
	}, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := [4]any{true, false, 1, false}
	if res.Value != expected {
		t.Fatalf("result %v, expected %v", res, expected)
	}
}

type scriptScheduler struct {
	script []event.ThreadID
	pos    int
}

func (s *scriptScheduler) Schedule(prior *event.Step, runnable []event.Runnable) (event.ThreadID, bool) {
	if s.pos >= len(s.script) {
		return 0, false
	}
	tid := s.script[s.pos]
	s.pos++
	return tid, true
}

// The message-passing litmus separates the two buffered models: under
// PSO the flag's commit agent can overtake the data write, under TSO
// the single agent drains first-in first-out.
func TestRunCommitReordering(t *testing.T) {
	prog := func(p *Proc) any {
		data := p.NewRef(0)
		flag := p.NewRef(0)
		p.Spawn(func(p *Proc) {
			p.WriteRef(data, 1)
			p.WriteRef(flag, 1)
		})
		f := p.ReadRef(flag)
		d := p.ReadRef(data)
		return [2]any{f, d}
	}

	// Setup, the two buffered writes, one commit, the reads, the
	// stops. Under PSO the flag write has its own agent (the second
	// one minted); committing it first publishes the flag before the
	// data.
	pso := &scriptScheduler{script: []event.ThreadID{0, 0, 0, 1, 1, -2, 0, 0, 0, 1}}
	res, _, err := Run(pso, prog, Config{Model: mem.PSO})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	overtaken := [2]any{1, 0}
	if res.Value != overtaken {
		t.Fatalf("PSO result %v, expected the flag to overtake the data", res)
	}

	// The same schedule shape under TSO: the thread's only agent
	// commits the data write first, so the flag cannot be seen early.
	tso := &scriptScheduler{script: []event.ThreadID{0, 0, 0, 1, 1, -1, 0, 0, 0, 1}}
	res, _, err = Run(tso, prog, Config{Model: mem.TSO})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ordered := [2]any{0, 1}
	if res.Value != ordered {
		t.Fatalf("TSO result %v, expected first-in first-out commits", res)
	}
}

// Under TSO a write sits in the writer's buffer: the writer reads its
// own value, another thread still reads the old one.
func TestRunStoreBuffering(t *testing.T) {
	prog := func(p *Proc) any {
		ref := p.NewRef(0)
		v := p.NewMVar()
		p.Spawn(func(p *Proc) {
			p.PutMVar(v, p.ReadRef(ref))
		})
		p.WriteRef(ref, 1)
		mine := p.ReadRef(ref)
		theirs := p.TakeMVar(v)
		return [2]any{mine, theirs}
	}

	res, _, err := Run(firstScheduler{}, prog, Config{Model: mem.TSO})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buffered := [2]any{1, 0}
	if res.Value != buffered {
		t.Fatalf("TSO result %v, expected the child to miss the buffered write", res)
	}

	res, _, err = Run(firstScheduler{}, prog, Config{Model: mem.SC})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	visible := [2]any{1, 1}
	if res.Value != visible {
		t.Fatalf("SC result %v, expected the write to be immediately visible", res)
	}
}
