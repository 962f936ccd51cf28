package engine

import (
	"golang.org/x/exp/slices"

	"gosct/event"
)

// A TVar is a transactional variable, readable and writable only
// inside Atomically.
type TVar struct {
	id event.TVarID
}

// A Txn is one attempt at a transaction. Proc operations must not be
// called from a transaction body; the body sees and changes only
// transactional variables.
type Txn struct {
	r        *run
	accessed map[event.TVarID]bool
	writes   map[event.TVarID]any
}

type stmRetry struct{}

// Atomically runs fn as a single atomic step. If fn calls Retry the
// thread blocks until some other transaction commits, then the body
// runs again. The wake-up does not check which variables that
// transaction touched.
func (p *Proc) Atomically(fn func(*Txn) any) any {
	return p.sync(event.WillSTM{}, func() commitResult {
		p.r.flush(p.t.id)
		savedTVar := p.r.nextTVar
		tx := &Txn{
			r:        p.r,
			accessed: make(map[event.TVarID]bool),
			writes:   make(map[event.TVarID]any),
		}
		val, retried := tx.attempt(fn)
		if retried {
			// Discard the attempt, including any variables it
			// created, so the next attempt mints the same ids.
			p.r.nextTVar = savedTVar
			return commitResult{action: event.BlockedSTM{TVars: tx.touched()}, blocked: true}
		}
		for id, v := range tx.writes {
			p.r.tvars[id] = v
		}
		p.r.stmVersion++
		return commitResult{action: event.STM{TVars: tx.touched()}, value: val}
	})
}

// attempt runs the body, catching only a Retry.
func (tx *Txn) attempt(fn func(*Txn) any) (val any, retried bool) {
	defer func() {
		if v := recover(); v != nil {
			if _, ok := v.(stmRetry); ok {
				retried = true
				return
			}
			panic(v)
		}
	}()
	return fn(tx), false
}

func (tx *Txn) touched() []event.TVarID {
	out := make([]event.TVarID, 0, len(tx.accessed))
	for id := range tx.accessed {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// NewTVar creates a transactional variable holding val.
func (tx *Txn) NewTVar(val any) *TVar {
	id := tx.r.nextTVar
	tx.r.nextTVar++
	tx.accessed[id] = true
	tx.writes[id] = val
	return &TVar{id: id}
}

// Read returns the variable's value as seen by this attempt.
func (tx *Txn) Read(v *TVar) any {
	tx.accessed[v.id] = true
	if val, ok := tx.writes[v.id]; ok {
		return val
	}
	return tx.r.tvars[v.id]
}

// Write sets the variable's value for this attempt; the write is
// visible to others only once the transaction commits.
func (tx *Txn) Write(v *TVar, val any) {
	tx.accessed[v.id] = true
	tx.writes[v.id] = val
}

// Retry abandons the attempt and blocks the thread until some
// transaction commits.
func (tx *Txn) Retry() {
	panic(stmRetry{})
}
