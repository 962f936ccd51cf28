package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"gosct/event"
	"gosct/mem"
)

// A Proc is a thread's handle onto the run: every concurrency
// primitive goes through it, announcing the step to the engine and
// parking until the step is granted.
type Proc struct {
	r *run
	t *thread
}

// A Ref is a shared reference. Reads and writes are not synchronised;
// under TSO and PSO a write sits in the writing thread's buffer until
// a commit agent drains it or the thread reaches its next
// synchronising action.
type Ref struct {
	id event.RefID
}

// An MVar is a synchronising variable: a box that is either full or
// empty. Take blocks while it is empty, Put blocks while it is full.
type MVar struct {
	id event.MVarID
}

// startThread mints a thread and runs body on its own goroutine. The
// goroutine announces a final stop step when body returns, so every
// thread's last trace entry is a Stop.
func (r *run) startThread(body func(*Proc)) *thread {
	t := &thread{
		id:    r.nextTid,
		msgs:  make(chan threadMsg),
		grant: make(chan any),
	}
	r.nextTid++
	r.threads[t.id] = t
	r.order = append(r.order, t.id)

	p := &Proc{r: r, t: t}
	r.eg.Go(func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				if v == errKilled {
					return
				}
				select {
				case t.msgs <- threadMsg{panicked: true, pval: v}:
				case <-r.kill:
					// Nobody is listening any more; the panic would
					// vanish. Hand it to the join instead.
					err = errors.AssertionFailedf("thread %v panicked during teardown: %v", t.id, v)
				}
			}
		}()
		body(p)
		p.sync(event.WillStop{}, func() commitResult {
			r.flush(t.id)
			return commitResult{action: event.Stop{}}
		})
		select {
		case t.msgs <- threadMsg{exited: true}:
		case <-r.kill:
		}
		return nil
	})
	return t
}

// sync announces one step and parks until the engine grants it,
// returning the step's value.
func (p *Proc) sync(la event.Lookahead, commit func() commitResult) any {
	select {
	case p.t.msgs <- threadMsg{intent: &intent{lookahead: la, commit: commit}}:
	case <-p.r.kill:
		panic(errKilled)
	}
	select {
	case v := <-p.t.grant:
		return v
	case <-p.r.kill:
		panic(errKilled)
	}
}

// Spawn starts a new thread running body and returns its id.
func (p *Proc) Spawn(body func(*Proc)) event.ThreadID {
	v := p.sync(event.WillSpawn{}, func() commitResult {
		p.r.flush(p.t.id)
		child := p.r.startThread(body)
		p.r.process(child, <-child.msgs)
		return commitResult{action: event.Spawn{Child: child.id}, value: child.id}
	})
	return v.(event.ThreadID)
}

// Yield gives the processor away without doing anything.
func (p *Proc) Yield() {
	p.sync(event.WillYield{}, func() commitResult {
		return commitResult{action: event.Yield{}}
	})
}

// Lift runs an opaque external effect. Effects execute one at a time,
// in schedule order, under the run's context.
func (p *Proc) Lift(f func(context.Context) any) any {
	return p.sync(event.WillLift{}, func() commitResult {
		p.r.flush(p.t.id)
		return commitResult{action: event.Lift{}, value: f(p.r.ctx)}
	})
}

// NewRef creates a shared reference holding val.
func (p *Proc) NewRef(val any) *Ref {
	v := p.sync(event.WillNewRef{}, func() commitResult {
		p.r.flush(p.t.id)
		id := p.r.nextRef
		p.r.nextRef++
		p.r.refs[id] = val
		return commitResult{action: event.NewRef{Ref: id}, value: &Ref{id: id}}
	})
	return v.(*Ref)
}

// ReadRef reads a shared reference. The reading thread sees its own
// buffered writes first.
func (p *Proc) ReadRef(ref *Ref) any {
	return p.sync(event.WillReadRef{Ref: ref.id}, func() commitResult {
		return commitResult{action: event.ReadRef{Ref: ref.id}, value: p.r.readRef(p.t.id, ref.id)}
	})
}

// WriteRef writes a shared reference. Under TSO and PSO the write is
// buffered until a commit agent drains it or the thread reaches a
// synchronising action.
func (p *Proc) WriteRef(ref *Ref, val any) {
	p.sync(event.WillWriteRef{Ref: ref.id}, func() commitResult {
		p.r.writeRef(p.t.id, ref.id, val)
		return commitResult{action: event.WriteRef{Ref: ref.id}}
	})
}

// ModifyRef applies f to the reference's value and stores the result,
// as one atomic step. It is synchronising: the thread's buffered
// writes commit first, and the new value is immediately visible.
func (p *Proc) ModifyRef(ref *Ref, f func(any) any) any {
	return p.sync(event.WillModifyRef{Ref: ref.id}, func() commitResult {
		p.r.flush(p.t.id)
		val := f(p.r.refs[ref.id])
		p.r.refs[ref.id] = val
		return commitResult{action: event.ModifyRef{Ref: ref.id}, value: val}
	})
}

// NewMVar creates an empty synchronising variable.
func (p *Proc) NewMVar() *MVar {
	v := p.sync(event.WillNewMVar{}, func() commitResult {
		p.r.flush(p.t.id)
		id := p.r.nextMVar
		p.r.nextMVar++
		p.r.mvars[id] = &mvarState{}
		return commitResult{action: event.NewMVar{MVar: id}, value: &MVar{id: id}}
	})
	return v.(*MVar)
}

// TakeMVar empties the variable and returns its value, blocking
// while it is empty.
func (p *Proc) TakeMVar(v *MVar) any {
	return p.sync(event.WillTake{MVar: v.id}, func() commitResult {
		p.r.flush(p.t.id)
		mv := p.r.mvars[v.id]
		val := mv.value
		mv.full = false
		mv.value = nil
		return commitResult{action: event.TakeMVar{MVar: v.id}, value: val}
	})
}

// PutMVar fills the variable with val, blocking while it is full.
func (p *Proc) PutMVar(v *MVar, val any) {
	p.sync(event.WillPut{MVar: v.id}, func() commitResult {
		p.r.flush(p.t.id)
		mv := p.r.mvars[v.id]
		mv.full = true
		mv.value = val
		return commitResult{action: event.PutMVar{MVar: v.id}}
	})
}

type tryResult struct {
	val any
	ok  bool
}

// TryTakeMVar takes the variable if it is full; it never blocks. The
// second result reports whether a value was taken.
func (p *Proc) TryTakeMVar(v *MVar) (any, bool) {
	res := p.sync(event.WillTryTake{MVar: v.id}, func() commitResult {
		p.r.flush(p.t.id)
		mv := p.r.mvars[v.id]
		if !mv.full {
			return commitResult{action: event.TryTakeMVar{MVar: v.id}, value: tryResult{}}
		}
		val := mv.value
		mv.full = false
		mv.value = nil
		return commitResult{
			action: event.TryTakeMVar{MVar: v.id, Success: true},
			value:  tryResult{val: val, ok: true},
		}
	}).(tryResult)
	return res.val, res.ok
}

// TryPutMVar fills the variable with val if it is empty; it never
// blocks. It reports whether the value went in.
func (p *Proc) TryPutMVar(v *MVar, val any) bool {
	return p.sync(event.WillTryPut{MVar: v.id}, func() commitResult {
		p.r.flush(p.t.id)
		mv := p.r.mvars[v.id]
		if mv.full {
			return commitResult{action: event.TryPutMVar{MVar: v.id}, value: false}
		}
		mv.full = true
		mv.value = val
		return commitResult{action: event.TryPutMVar{MVar: v.id, Success: true}, value: true}
	}).(bool)
}

func (r *run) readRef(tid event.ThreadID, ref event.RefID) any {
	if r.cfg.Model != mem.SC {
		buf := r.buffers[tid]
		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i].ref == ref {
				return buf[i].val
			}
		}
	}
	return r.refs[ref]
}

func (r *run) writeRef(tid event.ThreadID, ref event.RefID, val any) {
	if r.cfg.Model == mem.SC {
		r.refs[ref] = val
		return
	}
	r.buffers[tid] = append(r.buffers[tid], bufferedWrite{ref: ref, val: val})
	r.registerAgent(tid, ref)
}

// agentFor maps a buffered write onto the commit agent that drains
// it: the thread's single agent under TSO, the (thread, reference)
// agent under PSO.
func (r *run) agentFor(owner event.ThreadID, ref event.RefID) agentKey {
	if r.cfg.Model == mem.PSO {
		return agentKey{owner: owner, ref: ref}
	}
	return agentKey{owner: owner, ref: -1}
}

func (r *run) registerAgent(owner event.ThreadID, ref event.RefID) {
	key := r.agentFor(owner, ref)
	if _, ok := r.agents[key]; ok {
		return
	}
	id := r.nextAgent
	r.nextAgent--
	r.agents[key] = id
	r.agentKeys[id] = key
	r.agentOrder = append(r.agentOrder, id)
}

// pendingCommit returns the reference the agent would commit next:
// the oldest buffered write of its thread under TSO, the oldest write
// to its reference under PSO.
func (r *run) pendingCommit(agent event.ThreadID) (event.RefID, bool) {
	key := r.agentKeys[agent]
	for _, w := range r.buffers[key.owner] {
		if key.ref < 0 || w.ref == key.ref {
			return w.ref, true
		}
	}
	return 0, false
}

// commitOldest makes the agent's next write globally visible. Under
// PSO this may overtake older writes to other references; writes to
// one reference always commit in program order.
func (r *run) commitOldest(agent event.ThreadID) event.Action {
	key := r.agentKeys[agent]
	buf := r.buffers[key.owner]
	for i, w := range buf {
		if key.ref < 0 || w.ref == key.ref {
			r.refs[w.ref] = w.val
			r.buffers[key.owner] = append(buf[:i], buf[i+1:]...)
			if len(r.buffers[key.owner]) == 0 {
				delete(r.buffers, key.owner)
			}
			return event.CommitWrite{Ref: w.ref}
		}
	}
	return event.CommitWrite{Ref: key.ref}
}

// flush commits the thread's remaining buffered writes in program
// order, as synchronising actions require under both TSO and PSO.
func (r *run) flush(tid event.ThreadID) {
	for _, w := range r.buffers[tid] {
		r.refs[w.ref] = w.val
	}
	delete(r.buffers, tid)
}
