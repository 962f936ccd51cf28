package dpor

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"gosct/event"
)

// A Node is one state of the exploration tree, reached by a specific
// decision sequence from the root. Child ownership is recursive; the
// tree has no sharing.
type Node struct {
	// The threads that were runnable on entry to this state.
	runnable map[event.ThreadID]bool
	// Branches pending exploration. The value records whether the
	// entry was inserted conservatively because of the bound rather
	// than because of a detected dependency.
	todo map[event.ThreadID]bool
	// Explored branches, keyed by the thread scheduled next.
	done map[event.ThreadID]*Node
	// Threads suppressed at this node and its descendants until a
	// dependent transition clears them, with the action each would
	// have taken.
	sleep map[event.ThreadID]event.Action
	// The actions actually executed from this node, used to seed
	// child sleep sets. Conservative explorations are excluded.
	taken map[event.ThreadID]event.Action
	// The action executed to reach this node; nil only at the root.
	action event.Action
}

func newNode(action event.Action, sleep map[event.ThreadID]event.Action) *Node {
	n := &Node{
		runnable: make(map[event.ThreadID]bool),
		todo:     make(map[event.ThreadID]bool),
		done:     make(map[event.ThreadID]*Node),
		sleep:    sleep,
		taken:    make(map[event.ThreadID]event.Action),
		action:   action,
	}
	for tid := range sleep {
		n.runnable[tid] = true
	}
	return n
}

// Initial returns the tree for a computation whose first runnable
// thread is root: a single node with that thread pending.
func Initial(root event.ThreadID) *Node {
	n := newNode(nil, make(map[event.ThreadID]event.Action))
	n.runnable[root] = true
	n.todo[root] = false
	return n
}

// Graft follows the tree along the trace's decisions, updating
// existing nodes and creating the missing suffix. conservative marks
// the run as having come from a conservatively inserted branch; such
// runs do not contribute to taken sets.
func (root *Node) Graft(conservative bool, tr event.Trace) {
	n := root
	var prior *event.ThreadID
	for _, step := range tr {
		def := event.ThreadID(0)
		if prior != nil {
			def = *prior
		}
		tid := event.TidOf(def, step.Decision)

		n.runnable[tid] = true
		for _, alt := range step.Alternatives {
			n.runnable[alt.Tid] = true
		}

		child, ok := n.done[tid]
		if !ok {
			child = newNode(step.Action, childSleep(n, tid, step.Action))
			n.done[tid] = child
			if !conservative {
				n.taken[tid] = step.Action
			}
		}
		delete(n.todo, tid)

		t := tid
		prior = &t
		n = child
	}
}

// childSleep computes the sleep set of the child reached from n by
// tid committing action: everything slept or taken at n that the new
// action does not interfere with stays asleep.
func childSleep(n *Node, tid event.ThreadID, action event.Action) map[event.ThreadID]event.Action {
	sleep := make(map[event.ThreadID]event.Action)
	for t, a := range n.sleep {
		if t != tid && !Dependent(tid, action, t, a) {
			sleep[t] = a
		}
	}
	for t, a := range n.taken {
		if t != tid && !Dependent(tid, action, t, a) {
			sleep[t] = a
		}
	}
	return sleep
}

// Todo walks each backtrack request to its node and inserts the
// requested thread into that node's todo set, subject to the bound
// predicate. A request whose thread is already explored or sleeping
// at the node is dropped. A precise entry dominates a conservative
// one: inserting conservatively over a precise entry is a no-op,
// inserting precisely over a conservative entry upgrades it.
func (root *Node) Todo(boundOk func([]event.DecisionAction) bool, tr event.Trace, reqs []Request) error {
	for _, req := range reqs {
		if err := root.todoOne(boundOk, tr, req); err != nil {
			return err
		}
	}
	return nil
}

func (root *Node) todoOne(boundOk func([]event.DecisionAction) bool, tr event.Trace, req Request) error {
	if req.Index < 0 || req.Index > len(tr) {
		return errors.AssertionFailedf("backtrack request at step %d of a %d step trace", req.Index, len(tr))
	}
	n := root
	var prior *event.ThreadID
	path := make([]event.DecisionAction, 0, req.Index+1)
	for _, step := range tr[:req.Index] {
		def := event.ThreadID(0)
		if prior != nil {
			def = *prior
		}
		tid := event.TidOf(def, step.Decision)
		child, ok := n.done[tid]
		if !ok {
			return errors.AssertionFailedf("backtrack request walks past an ungrafted node at %v", tid)
		}
		path = append(path, event.DecisionAction{Decision: step.Decision, Action: step.Action})
		t := tid
		prior = &t
		n = child
	}

	if _, explored := n.done[req.Tid]; explored {
		return nil
	}
	if _, sleeping := n.sleep[req.Tid]; sleeping {
		return nil
	}

	candidate := event.DecisionOf(prior, maps.Keys(n.runnable), req.Tid)
	if !boundOk(append(path, event.DecisionAction{Decision: candidate})) {
		return nil
	}

	if existing, ok := n.todo[req.Tid]; ok {
		// false is precise; only a precise insertion may change an
		// existing entry, and only from conservative to precise.
		if existing && !req.Conservative {
			n.todo[req.Tid] = false
		}
		return nil
	}
	n.todo[req.Tid] = req.Conservative
	return nil
}

// A Claim is an unexplored branch handed out by Next. The entry has
// been removed from its node's todo set; Reinstate puts it back if
// the replay did not actually schedule the claimed thread.
type Claim struct {
	// The threads the replay scheduler must follow verbatim; the
	// final entry is the claimed branch itself.
	Prefix []event.ThreadID
	// Whether the branch was inserted conservatively.
	Conservative bool

	node *Node
	tid  event.ThreadID
}

// Tid returns the claimed thread, the final entry of the prefix.
func (c *Claim) Tid() event.ThreadID {
	return c.tid
}

// Key identifies the claimed branch for bookkeeping across runs.
func (c *Claim) Key() string {
	parts := make([]string, len(c.Prefix))
	for i, t := range c.Prefix {
		parts[i] = t.String()
	}
	return strings.Join(parts, "/")
}

// Reinstate puts the claimed entry back into its node's todo set.
func (c *Claim) Reinstate() {
	if existing, ok := c.node.todo[c.tid]; ok {
		if existing && !c.Conservative {
			c.node.todo[c.tid] = false
		}
		return
	}
	c.node.todo[c.tid] = c.Conservative
}

// Next selects the next branch to explore, preferring deeper todo
// entries and breaking ties by thread order. It returns false exactly
// when no node in the tree has a pending entry, which is the
// termination condition of the search.
func (root *Node) Next() (*Claim, bool) {
	return next(root, nil)
}

func next(n *Node, path []event.ThreadID) (*Claim, bool) {
	for _, tid := range sortedKeys(n.done) {
		if c, ok := next(n.done[tid], append(slices.Clone(path), tid)); ok {
			return c, true
		}
	}
	if len(n.todo) > 0 {
		tid := sortedKeys(n.todo)[0]
		conservative := n.todo[tid]
		delete(n.todo, tid)
		return &Claim{
			Prefix:       append(slices.Clone(path), tid),
			Conservative: conservative,
			node:         n,
			tid:          tid,
		}, true
	}
	return nil, false
}

func sortedKeys[V any](m map[event.ThreadID]V) []event.ThreadID {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// String renders the tree one node per line, indented by depth, in
// the style of a depth-first walk.
func (n *Node) String() string {
	out := strings.Builder{}
	n.render(&out, 0)
	return out.String()
}

func (n *Node) render(out *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		out.WriteString("-")
	}
	action := "root"
	if n.action != nil {
		action = n.action.String()
	}
	fmt.Fprintf(out, "%v todo:%v sleep:%v\n", action, sortedKeys(n.todo), sortedKeys(n.sleep))
	for _, tid := range sortedKeys(n.done) {
		n.done[tid].render(out, depth+1)
	}
}
