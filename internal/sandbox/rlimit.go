package sandbox

import (
	"github.com/lvgrader/grader/internal/model"
	"golang.org/x/sys/unix"
)

// withExtraRlimits sets the rlimit dimensions the isolate CLI itself
// doesn't expose (stack size, mlocked memory) for the whole grader
// process for the duration of fn, then restores the previous limits.
// Processes forked+exec'd by fn inherit the limits in effect at fork time.
//
// Grounded on original_source/sandbox and _examples/sempr-hustoj-go's use
// of golang.org/x/sys/unix.Setrlimit for dimensions isolate's CLI flags
// don't cover.
func withExtraRlimits(limits model.ResourceLimits, fn func() error) error {
	if limits.MaxStackKiBytes == 0 && limits.MaxMlockKiBytes == 0 {
		return fn()
	}

	var prevStack, prevMlock unix.Rlimit
	restoreStack, restoreMlock := false, false

	if limits.MaxStackKiBytes > 0 {
		if err := unix.Getrlimit(unix.RLIMIT_STACK, &prevStack); err == nil {
			restoreStack = true
		}
		lim := uint64(limits.MaxStackKiBytes) * 1024
		_ = unix.Setrlimit(unix.RLIMIT_STACK, &unix.Rlimit{Cur: lim, Max: lim})
	}
	if limits.MaxMlockKiBytes > 0 {
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &prevMlock); err == nil {
			restoreMlock = true
		}
		lim := uint64(limits.MaxMlockKiBytes) * 1024
		_ = unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{Cur: lim, Max: lim})
	}

	defer func() {
		if restoreStack {
			_ = unix.Setrlimit(unix.RLIMIT_STACK, &prevStack)
		}
		if restoreMlock {
			_ = unix.Setrlimit(unix.RLIMIT_MEMLOCK, &prevMlock)
		}
	}()

	return fn()
}
