// Package gosct explores the thread interleavings of a concurrent
// computation by bounded dynamic partial-order reduction: it runs the
// computation repeatedly under a deterministic replay scheduler, each
// time along a different schedule, until every interesting schedule
// within the bound has been enumerated. The output is the list of
// terminal results paired with the traces that produced them.
package gosct

import (
	"context"

	"gosct/bound"
	"gosct/dpor"
	"gosct/engine"
	"gosct/event"
	"gosct/mem"
	"gosct/sched"
)

// The engine types a computation is written against, re-exported so
// programs under test only import this package.
type (
	Proc = engine.Proc
	Ref  = engine.Ref
	MVar = engine.MVar
	TVar = engine.TVar
	Txn  = engine.Txn
)

// An Outcome is one explored schedule: the run's terminal result and
// the trace that produced it.
type Outcome struct {
	Result engine.Result
	Trace  event.Trace
}

// SCTBounded explores the computation under the given bound and
// returns every outcome within it. Non-internal failures (deadlocks,
// aborts, uncaught panics) are reported as outcomes and do not stop
// the search; an internal invariant violation does, as an error.
func SCTBounded(b bound.Bound, prog engine.Program, opts ...RunOption) ([]Outcome, error) {
	return SCTBoundedCtx(context.Background(), b, prog, opts...)
}

// SCTBoundedCtx is SCTBounded for computations with lifted external
// effects: ctx is handed to every effect. Runs never overlap, so the
// effects of one run finish before the next run starts.
func SCTBoundedCtx(ctx context.Context, b bound.Bound, prog engine.Program, opts ...RunOption) ([]Outcome, error) {
	cfg := buildConfig(opts)

	tree := dpor.Initial(engine.MainThread)
	outcomes := []Outcome{}
	reinstated := map[string]bool{}
	runs := 0

	for {
		if cfg.maxRuns > 0 && runs >= cfg.maxRuns {
			break
		}
		claim, ok := tree.Next()
		if !ok {
			break
		}
		runs++

		scheduler := sched.New(b.Initialise, claim.Prefix, mem.NewState(cfg.model))
		result, trace, err := engine.Run(scheduler, prog, engine.Config{
			MaxSteps: cfg.maxSteps,
			Model:    cfg.model,
			Ctx:      ctx,
		})
		if err != nil {
			return nil, err
		}

		requests := dpor.FindBacktrack(b.Backtrack, scheduler.State().BPoints, trace)
		tree.Graft(claim.Conservative, trace)
		if err := tree.Todo(b.Ok, trace, requests); err != nil {
			return nil, err
		}

		// The scheduler may re-classify at the final replayed step;
		// if the run never scheduled the claimed thread where it was
		// claimed, put the entry back. Once is enough: a second
		// divergence on the same branch means it is unreachable.
		if !followed(trace, claim) && !reinstated[claim.Key()] {
			reinstated[claim.Key()] = true
			claim.Reinstate()
		}

		outcomes = append(outcomes, Outcome{Result: result, Trace: trace})
	}
	return outcomes, nil
}

// SCTPreBound explores the computation under a pre-emption bound with
// budget k.
func SCTPreBound(k int, prog engine.Program, opts ...RunOption) ([]Outcome, error) {
	return SCTBounded(bound.Preemption(k), prog, opts...)
}

func followed(trace event.Trace, claim *dpor.Claim) bool {
	if len(trace) < len(claim.Prefix) {
		return false
	}
	return trace.Tids()[len(claim.Prefix)-1] == claim.Tid()
}
