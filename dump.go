package gosct

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var dumper = spew.ConfigState{Indent: "  ", SortKeys: true, DisableMethods: false}

// DumpOutcomes renders every outcome with its full trace, one block
// per schedule. Intended for debugging a surprising exploration, not
// for reports.
func DumpOutcomes(outcomes []Outcome) string {
	out := strings.Builder{}
	for i, o := range outcomes {
		fmt.Fprintf(&out, "run %d: %v\n", i, o.Result)
		fmt.Fprintf(&out, "  trace: %v\n", o.Trace)
		if !o.Result.Ok() && o.Result.Panic != nil {
			fmt.Fprintf(&out, "  panic: %s", dumper.Sdump(o.Result.Panic))
		}
	}
	return out.String()
}
