package sandbox

import (
	"os"
	"path/filepath"

	"github.com/lvgrader/grader/internal/gradererr"
	"github.com/lvgrader/grader/internal/model"
)

// Box is one isolated filesystem root plus its box id. Grounded on
// internal/isolate/box.go.
type Box struct {
	id      int
	path    string
	isolate *Isolate
}

func newBox(isolate *Isolate, id int, path string) *Box {
	return &Box{id: id, path: path, isolate: isolate}
}

func (b *Box) ID() int { return b.id }

// WorkDir is the box's box/ subdirectory, the root the sandboxed process
// sees as its cwd.
func (b *Box) WorkDir() string { return filepath.Join(b.path, "box") }

// Close releases the box id back to the pool and cleans isolate's own
// state for it.
func (b *Box) Close() error {
	if err := b.isolate.release(b.id); err != nil {
		return gradererr.New(gradererr.KindIO, "box.Close", err)
	}
	return nil
}

// WriteFile places content at a path relative to the box's work directory,
// creating parent directories as needed and applying mode.
func (b *Box) WriteFile(relPath string, content []byte, mode os.FileMode) error {
	dst := filepath.Join(b.WorkDir(), relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return gradererr.New(gradererr.KindIO, "box.WriteFile", err)
	}
	if err := os.WriteFile(dst, content, mode); err != nil {
		return gradererr.New(gradererr.KindIO, "box.WriteFile", err)
	}
	return nil
}

// Run starts command inside the box under the given limits, returning a
// Process the caller waits on for the ExecutionInfo. Grounded on
// internal/isolate/box.go's Run, generalized from a fixed Constraints
// struct to model.ResourceLimits and supplemented with a pre-exec rlimit
// hook for limit dimensions isolate's own flags don't cover.
func (b *Box) Run(command string, stdin []byte, limits model.ResourceLimits) (*Process, error) {
	meta, err := newMetaFilePath()
	if err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "box.Run", err)
	}
	return startProcess(b.id, meta, command, stdin, limits)
}
