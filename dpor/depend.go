// Package dpor holds the exploration tree of the bounded
// partial-order reduction search: the prefix tree of explored and
// pending decisions, the dependency relation between thread actions,
// and the backtrack-point finder that turns a completed trace into
// new branches to explore.
package dpor

import "gosct/event"

// The dependency relation is table driven: every action is classified
// into the resources it touches and the access it needs, and two
// actions are dependent exactly when their footprints conflict. New
// action kinds only need a footprint entry.

type resourceKind int

const (
	refResource resourceKind = iota
	mvarResource
	tvarResource
	threadResource
)

type resource struct {
	kind resourceKind
	id   int
}

type access struct {
	res       resource
	exclusive bool
}

// footprint returns the resources touched by tid committing a.
// Every action carries a shared marker for its own thread, so that an
// exclusive access to a thread resource (a spawn of it) conflicts
// with everything the thread does, including its stop.
func footprint(tid event.ThreadID, a event.Action) []access {
	self := access{res: resource{kind: threadResource, id: int(tid)}}
	switch a := a.(type) {
	case event.Spawn:
		return []access{self, {res: resource{kind: threadResource, id: int(a.Child)}, exclusive: true}}
	case event.NewRef:
		return []access{self, {res: resource{kind: refResource, id: int(a.Ref)}, exclusive: true}}
	case event.ReadRef:
		return []access{self, {res: resource{kind: refResource, id: int(a.Ref)}}}
	case event.WriteRef:
		return []access{self, {res: resource{kind: refResource, id: int(a.Ref)}, exclusive: true}}
	case event.ModifyRef:
		return []access{self, {res: resource{kind: refResource, id: int(a.Ref)}, exclusive: true}}
	case event.CommitWrite:
		return []access{self, {res: resource{kind: refResource, id: int(a.Ref)}, exclusive: true}}
	case event.NewMVar:
		return []access{self, {res: resource{kind: mvarResource, id: int(a.MVar)}, exclusive: true}}
	case event.TakeMVar:
		return []access{self, {res: resource{kind: mvarResource, id: int(a.MVar)}, exclusive: true}}
	case event.PutMVar:
		return []access{self, {res: resource{kind: mvarResource, id: int(a.MVar)}, exclusive: true}}
	case event.TryTakeMVar:
		return []access{self, {res: resource{kind: mvarResource, id: int(a.MVar)}, exclusive: true}}
	case event.TryPutMVar:
		return []access{self, {res: resource{kind: mvarResource, id: int(a.MVar)}, exclusive: true}}
	case event.STM:
		return stmFootprint(self, a.TVars)
	case event.BlockedSTM:
		return stmFootprint(self, a.TVars)
	default:
		// Stop, Yield and Lift touch nothing beyond the thread
		// itself.
		return []access{self}
	}
}

func stmFootprint(self access, tvars []event.TVarID) []access {
	out := []access{self}
	for _, v := range tvars {
		out = append(out, access{res: resource{kind: tvarResource, id: int(v)}, exclusive: true})
	}
	return out
}

// Dependent reports whether the two actions cannot be commuted
// without possibly changing the observable result. Actions of the
// same thread are ordered by the program and never reported
// dependent.
func Dependent(t1 event.ThreadID, a1 event.Action, t2 event.ThreadID, a2 event.Action) bool {
	if t1 == t2 {
		return false
	}
	if a1 == nil || a2 == nil {
		return false
	}
	for _, x := range footprint(t1, a1) {
		for _, y := range footprint(t2, a2) {
			if x.res == y.res && (x.exclusive || y.exclusive) {
				return true
			}
		}
	}
	return false
}
