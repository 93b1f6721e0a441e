// Package executor implements C3, the local executor: the service that
// wraps the content store (C1) and the sandbox mechanism (C2) into the
// eight-step Execute contract the dispatch layer drives.
//
// Grounded on internal/tester/testing.go's EvaluateSubmission and
// internal/testing/{arrange,prepare}.go's concurrent ingest/compile/test
// pipeline, generalized from a hardcoded submission+testlib-checker flow
// into the general RunRequest/RunResult contract and the exact
// classification precedence the spec requires.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lvgrader/grader/internal/admission"
	"github.com/lvgrader/grader/internal/gradererr"
	"github.com/lvgrader/grader/internal/model"
	"github.com/lvgrader/grader/internal/sandbox"
	"github.com/lvgrader/grader/internal/store"
)

// FileCallback streams an artifact's bytes, identified by digest, from
// whoever originated the request (typically a dispatch-layer RequestFile
// round trip) into sink. Used only when an input is neither already in
// the store nor supplied inline.
type FileCallback func(ctx context.Context, digest model.Digest, sink io.Writer) error

// limitHeadroom is the factor time and memory limits are scaled by before
// being handed to the sandbox, so that post-hoc classification against
// the caller's original limits stays authoritative. See spec §4.3 step 4.
const limitHeadroom = 1.2

// Executor is the local executor service.
type Executor struct {
	store   *store.Store
	backend sandbox.Backend
	guard   admission.Admitter
}

// New creates an Executor backed by store for artifacts, backend for
// sandboxing, and an in-process Thread Guard admitting at most
// maxConcurrent non-exclusive executions at once.
func New(store *store.Store, backend sandbox.Backend, maxConcurrent int) *Executor {
	return NewWithGuard(store, backend, admission.New(maxConcurrent))
}

// NewWithGuard creates an Executor admitted through guard directly,
// letting a caller substitute admission.SharedGuard so several worker
// processes on one host share one admission pool instead of each
// enforcing its own limit unaware of the others.
func NewWithGuard(store *store.Store, backend sandbox.Backend, guard admission.Admitter) *Executor {
	return &Executor{store: store, backend: backend, guard: guard}
}

// Execute runs req.Command inside a fresh sandbox workspace and returns
// the classified result, following the eight-step contract: ingest
// missing inputs, create the workspace, place inputs, scale limits,
// admit through the Thread Guard, execute, classify, retrieve outputs.
func (e *Executor) Execute(ctx context.Context, req model.RunRequest, cb FileCallback) (*model.RunResult, error) {
	if err := validateNames(req); err != nil {
		return nil, err
	}

	// Step 1: ingest missing inputs.
	for _, in := range req.Inputs {
		if err := e.ingest(ctx, in, cb); err != nil {
			return nil, err
		}
	}

	// Step 2: create sandbox workspace.
	box, err := e.backend.NewSandbox()
	if err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "executor.Execute", err)
	}
	defer box.Close()

	// Step 3: place inputs.
	for _, in := range req.Inputs {
		if in.InlineContent != nil {
			if err := box.WriteFile(in.Path, in.InlineContent, in.Executable); err != nil {
				return nil, err
			}
			continue
		}
		if err := e.placeStoredInput(box, in); err != nil {
			return nil, err
		}
	}

	// Step 4: compose options — scale time and memory limits for headroom.
	scaled := req.Limits.Scaled(limitHeadroom)

	// Step 5: concurrency admission.
	var release admission.Release
	if req.Exclusive {
		release, err = e.guard.AcquireExclusive(ctx)
	} else {
		release, err = e.guard.TryAcquire()
	}
	if err != nil {
		if err == admission.ErrTooManyExecutions {
			return nil, gradererr.New(gradererr.KindTooManyExecs, "executor.Execute", err)
		}
		return nil, err
	}
	defer release()

	// Step 6: execute.
	info, err := box.Run(req.Command, req.Stdin, scaled)
	if err != nil {
		return nil, err
	}

	// Step 7: classify against the caller's original, unscaled limits.
	info.Classification = classify(*info, req.Limits)

	result := &model.RunResult{ExecutionInfo: *info}

	// Step 8: retrieve outputs.
	outputs, missing, err := e.retrieveOutputs(box, req.OutputNames)
	if err != nil {
		return nil, err
	}
	result.OutputFiles = outputs
	if missing && result.Classification == model.ClassSuccess {
		result.Classification = model.ClassMissingFiles
	}

	return result, nil
}

// validateNames rejects any input logical name containing '/' or NUL
// before any I/O, matching §4.3's illegal-name rule. Nested paths under a
// box are expressed by the sandbox's own WorkDir join, not by the
// caller-supplied logical name.
func validateNames(req model.RunRequest) error {
	for _, in := range req.Inputs {
		if strings.ContainsAny(in.Path, "\x00") || strings.Contains(in.Path, "/") {
			return gradererr.WithPath(gradererr.New(gradererr.KindInvalidArgument, "executor.Execute", fmt.Errorf("illegal logical name")), in.Path)
		}
	}
	for _, name := range req.OutputNames {
		if strings.ContainsAny(name, "\x00") || strings.Contains(name, "/") {
			return gradererr.WithPath(gradererr.New(gradererr.KindInvalidArgument, "executor.Execute", fmt.Errorf("illegal logical name")), name)
		}
	}
	return nil
}

func (e *Executor) ingest(ctx context.Context, in model.FileInfo, cb FileCallback) error {
	if in.InlineContent != nil || in.Digest == "" {
		return nil // inline content is written straight into the box in step 3
	}
	if e.store.Has(in.Digest) {
		return nil
	}
	if cb == nil {
		return e.store.AwaitFetch(in.Digest)
	}

	var buf bytes.Buffer
	if err := cb(ctx, in.Digest, &buf); err != nil {
		return gradererr.WithPath(gradererr.New(gradererr.KindNotFound, "executor.ingest", err), string(in.Digest))
	}
	if _, err := e.store.Put(&buf); err != nil {
		return err
	}
	return nil
}

func (e *Executor) placeStoredInput(box sandbox.Sandbox, in model.FileInfo) error {
	r, err := e.store.Open(in.Digest)
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return gradererr.New(gradererr.KindIO, "executor.placeStoredInput", err)
	}
	return box.WriteFile(in.Path, data, in.Executable)
}

func (e *Executor) retrieveOutputs(box sandbox.Sandbox, names []string) ([]model.FileInfo, bool, error) {
	var out []model.FileInfo
	missing := false
	for _, name := range names {
		path := box.WorkDir() + "/" + name
		data, err := os.ReadFile(path)
		if err != nil {
			missing = true
			continue
		}
		digest, err := e.store.Put(bytes.NewReader(data))
		if err != nil {
			return nil, missing, err
		}
		out = append(out, model.FileInfo{Path: name, Digest: digest})
	}
	return out, missing, nil
}

// classify applies the load-bearing precedence from §4.3 step 7: memory
// limit, then CPU time limit, then wall time limit, then signal, then
// nonzero exit, then success. A sandbox-level internal error always wins.
//
// info.CPUTimeMillis is isolate's own "time" meta field, which isolate
// already reports as user+sys combined (it sums rusage ru_utime and
// ru_stime itself before writing the meta file) — §4.3's "CPU is user+sys"
// requirement is satisfied by the sandbox layer, not by this function.
func classify(info model.ExecutionInfo, limits model.ResourceLimits) model.Classification {
	if info.Classification == model.ClassInternal {
		return model.ClassInternal
	}
	if limits.MemoryKiBytes > 0 && info.MemoryKiBytes >= limits.MemoryKiBytes {
		return model.ClassMemoryLimit
	}
	if limits.CPUTimeMillis > 0 && info.CPUTimeMillis >= limits.CPUTimeMillis {
		return model.ClassTimeLimit
	}
	if limits.WallTimeMillis > 0 && info.WallTimeMillis >= limits.WallTimeMillis {
		return model.ClassTimeLimit
	}
	if info.ExitSignal != nil && *info.ExitSignal != 0 {
		return model.ClassSignal
	}
	if info.ExitCode != 0 {
		return model.ClassNonzero
	}
	return model.ClassSuccess
}
