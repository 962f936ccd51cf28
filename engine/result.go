package engine

import "fmt"

// A Failure classifies how a run ended short of a value.
type Failure int

const (
	// NoFailure marks a run that produced a value.
	NoFailure Failure = iota
	// Deadlock: no thread is runnable and the main thread has not
	// completed.
	Deadlock
	// STMDeadlock: as Deadlock, with the main thread blocked on a
	// transaction that nothing can retry.
	STMDeadlock
	// UncaughtException: a panic propagated out of a thread.
	UncaughtException
	// Abort: the run was cut short, because the step budget ran out
	// or the scheduler gave up on it (every remaining choice would
	// block for good, or a replayed prefix diverged).
	Abort
	// InternalError: an invariant violation inside the engine. Never
	// reported as a trace outcome; it surfaces as an error from Run
	// and terminates the search.
	InternalError
)

func (f Failure) String() string {
	switch f {
	case NoFailure:
		return "ok"
	case Deadlock:
		return "deadlock"
	case STMDeadlock:
		return "stm-deadlock"
	case UncaughtException:
		return "uncaught-exception"
	case Abort:
		return "abort"
	case InternalError:
		return "internal-error"
	default:
		return fmt.Sprintf("failure(%d)", int(f))
	}
}

// A Result is the terminal outcome of one run: the main thread's
// value, or the failure that cut the run short.
type Result struct {
	Value   any
	Failure Failure
	// Panic carries the recovered value for UncaughtException.
	Panic any
}

// Ok reports whether the run produced a value.
func (r Result) Ok() bool {
	return r.Failure == NoFailure
}

func (r Result) String() string {
	if r.Ok() {
		return fmt.Sprintf("ok(%v)", r.Value)
	}
	if r.Failure == UncaughtException {
		return fmt.Sprintf("%v(%v)", r.Failure, r.Panic)
	}
	return r.Failure.String()
}
