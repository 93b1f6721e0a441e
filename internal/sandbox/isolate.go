// Package sandbox implements C2, the sandboxed execution mechanism. The
// default backend shells out to the isolate(1) CLI, the same mechanism
// the teacher used, generalized from a single hardcoded constraint set to
// the full ResourceLimits contract and supplemented with rlimits for the
// two dimensions isolate's CLI does not expose.
package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/lvgrader/grader/internal/gradererr"
)

// Isolate owns the pool of box ids handed out to concurrent sandboxed
// executions. Grounded on internal/isolate/isolate.go's singleton box
// allocator, generalized into an owned value instead of a package-level
// singleton so a process can run more than one pool (e.g. in tests).
type Isolate struct {
	mu       sync.Mutex
	idsInUse map[int]bool
	maxID    int
}

// NewIsolate creates a box allocator willing to hand out ids [0, maxID).
func NewIsolate(maxID int) *Isolate {
	return &Isolate{idsInUse: make(map[int]bool), maxID: maxID}
}

// NewBox allocates an unused box id, cleans any stale state from a
// previous occupant, and initializes a fresh isolate box for it.
func (iso *Isolate) NewBox() (*Box, error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	id := 0
	for iso.idsInUse[id] {
		id++
		if iso.maxID > 0 && id >= iso.maxID {
			return nil, gradererr.New(gradererr.KindSandboxSetup, "isolate.NewBox", fmt.Errorf("no free box ids (max %d)", iso.maxID))
		}
	}

	if err := cleanupBox(id); err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "isolate.NewBox", err)
	}
	path, err := initBox(id)
	if err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "isolate.NewBox", err)
	}

	iso.idsInUse[id] = true
	return newBox(iso, id, path), nil
}

func (iso *Isolate) release(id int) error {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	delete(iso.idsInUse, id)
	return cleanupBox(id)
}

func cleanupBox(id int) error {
	cmd := exec.Command("isolate", "--cg", "--cleanup", "--box-id", fmt.Sprint(id))
	_, err := cmd.CombinedOutput()
	return err
}

func initBox(id int) (string, error) {
	cmd := exec.Command("isolate", "--cg", "--init", "--box-id", fmt.Sprint(id))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("isolate --init --box-id %d: %w: %s", id, err, out)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}
