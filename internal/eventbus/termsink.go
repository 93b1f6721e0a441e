package eventbus

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/lvgrader/grader/internal/model"
)

// TerminalSink prints events to stdout in color, for the client CLI's
// live-follow mode. Grounded on internal/gatherer/termgath, generalized
// from a fixed producer-method-per-print-statement into one dispatch over
// model.EventStatus, and adopting fatih/color (already a teacher
// dependency, otherwise unused in the retrieved snapshot) for the
// pass/fail coloring the plain-fmt version lacked.
func TerminalSink() func(model.Event) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	info := color.New(color.FgCyan).SprintFunc()

	return func(ev model.Event) {
		switch ev.Status {
		case model.EventRunning:
			fmt.Println(info("== evaluation started =="))
			if ev.Message != "" {
				fmt.Println(ev.Message)
			}
		case model.EventGenerating:
			fmt.Println(info("-- compiling --"))
		case model.EventGenerated:
			fmt.Println(info("-- compiled --"))
			printInfo(ev.Info, ok, bad)
		case model.EventExecuting:
			fmt.Printf("-> test %d running\n", derefInt(ev.TestID))
		case model.EventExecuted:
			fmt.Printf("<- test %d finished\n", derefInt(ev.TestID))
			printInfo(ev.Info, ok, bad)
		case model.EventDone:
			if ev.Message == "ignored" {
				fmt.Printf("-> test %d ignored\n", derefInt(ev.TestID))
				return
			}
			fmt.Println(ok("== evaluation finished =="))
		case model.EventFailure:
			fmt.Println(bad("== evaluation failed: " + ev.Message + " =="))
		}
	}
}

func printInfo(info *model.ExecutionInfo, ok, bad func(a ...interface{}) string) {
	if info == nil {
		return
	}
	line := fmt.Sprintf("   %s cpu=%dms wall=%dms mem=%dKiB", info.Classification, info.CPUTimeMillis, info.WallTimeMillis, info.MemoryKiBytes)
	if info.Classification == model.ClassSuccess {
		fmt.Println(ok(line))
	} else {
		fmt.Println(bad(line))
	}
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
