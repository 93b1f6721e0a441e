package sandbox

import (
	"fmt"

	"github.com/lvgrader/grader/internal/model"
)

// isolateArgs translates ResourceLimits into isolate(1) CLI flags.
// Grounded on internal/isolate/constraints.go, generalized from a fixed
// Constraints struct to model.ResourceLimits and from seconds/float64 to
// the millisecond-based limits the rest of this repository uses.
func isolateArgs(limits model.ResourceLimits) []string {
	cpuSec := float64(limits.CPUTimeMillis) / 1000.0
	wallSec := float64(limits.WallTimeMillis) / 1000.0
	extraSec := 0.5 // fixed grace period before isolate escalates to SIGKILL

	maxProcs := limits.MaxProcesses
	if maxProcs == 0 {
		maxProcs = 64
	}
	maxFiles := limits.MaxOpenFiles
	if maxFiles == 0 {
		maxFiles = 64
	}

	return []string{
		fmt.Sprintf("--mem=%d", limits.MemoryKiBytes),
		fmt.Sprintf("--time=%f", cpuSec),
		fmt.Sprintf("--extra-time=%f", extraSec),
		fmt.Sprintf("--wall-time=%f", wallSec),
		fmt.Sprintf("--processes=%d", maxProcs),
		fmt.Sprintf("--open-files=%d", maxFiles),
	}
}

// DefaultLimits mirrors internal/isolate/constraints.go's DefaultConstraints,
// expressed in the millisecond/KiB units model.ResourceLimits uses.
func DefaultLimits() model.ResourceLimits {
	return model.ResourceLimits{
		CPUTimeMillis:  50_000,
		WallTimeMillis: 10_000,
		MemoryKiBytes:  2_048_000,
		MaxProcesses:   128,
		MaxOpenFiles:   128,
	}
}
