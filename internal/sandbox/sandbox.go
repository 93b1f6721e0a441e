package sandbox

import (
	"os"

	"github.com/lvgrader/grader/internal/model"
)

// Backend is the mechanism-neutral contract C3 (the local executor) drives.
// IsolateBackend is the only implementation in this repository, but the
// executor depends on this interface rather than *Isolate directly so the
// mechanism stays swappable per §4.2's "mechanism is out of scope" note.
type Backend interface {
	// NewSandbox allocates an isolated workspace for one execution.
	NewSandbox() (Sandbox, error)
}

// Sandbox is one isolated workspace: a place to stage files and run one
// command under resource limits.
type Sandbox interface {
	WorkDir() string
	WriteFile(relPath string, content []byte, executable bool) error
	Run(command string, stdin []byte, limits model.ResourceLimits) (*model.ExecutionInfo, error)
	Close() error
}

// IsolateBackend implements Backend over the isolate(1) CLI.
type IsolateBackend struct {
	iso *Isolate
}

// NewIsolateBackend creates a Backend with a pool of maxBoxes concurrent
// box ids.
func NewIsolateBackend(maxBoxes int) *IsolateBackend {
	return &IsolateBackend{iso: NewIsolate(maxBoxes)}
}

func (b *IsolateBackend) NewSandbox() (Sandbox, error) {
	box, err := b.iso.NewBox()
	if err != nil {
		return nil, err
	}
	return &boxSandbox{box: box}, nil
}

type boxSandbox struct {
	box *Box
}

func (s *boxSandbox) WorkDir() string { return s.box.WorkDir() }

func (s *boxSandbox) WriteFile(relPath string, content []byte, executable bool) error {
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	return s.box.WriteFile(relPath, content, mode)
}

func (s *boxSandbox) Run(command string, stdin []byte, limits model.ResourceLimits) (*model.ExecutionInfo, error) {
	proc, err := s.box.Run(command, stdin, limits)
	if err != nil {
		return nil, err
	}
	return proc.Wait()
}

func (s *boxSandbox) Close() error { return s.box.Close() }
