package gosct

import "gosct/mem"

// A RunOption configures the exploration.
type RunOption interface {
	RunOpt()
}

// MaxRunsOption caps the number of schedules executed. The search
// normally stops when the tree drains; the cap guards computations
// whose bounded schedule space is too large to enumerate.
type MaxRunsOption struct{ MaxRuns int }

func (mro MaxRunsOption) RunOpt() {}

// MaxStepsOption is the per-run step budget honoured by the engine.
// An exhausted run reports Abort and its trace is still grafted.
type MaxStepsOption struct{ MaxSteps int }

func (mso MaxStepsOption) RunOpt() {}

// MemoryOption selects the memory model for shared references.
type MemoryOption struct{ Model mem.Model }

func (mo MemoryOption) RunOpt() {}

type config struct {
	maxRuns  int
	maxSteps int
	model    mem.Model
}

func buildConfig(opts []RunOption) config {
	cfg := config{}
	for _, opt := range opts {
		switch opt := opt.(type) {
		case MaxRunsOption:
			cfg.maxRuns = opt.MaxRuns
		case MaxStepsOption:
			cfg.maxSteps = opt.MaxSteps
		case MemoryOption:
			cfg.model = opt.Model
		}
	}
	return cfg
}
