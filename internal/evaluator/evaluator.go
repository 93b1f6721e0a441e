// Package evaluator implements the full submission-evaluation pipeline
// that sits above one executor.Execute call: compile, run each test
// against the compiled submission, judge it (checker or byte-diff), and
// report progress on an eventbus.Bus as it goes.
//
// Grounded on internal/tester/testing.go's EvaluateSubmission, generalized
// from a hardcoded single-language, testlib-only flow into one driven by
// model.ExecutionRequest's Language/Tests/Subtasks/CheckerSource fields,
// with the TODO'd test-running step this distillation left unfinished now
// fully wired through the Executor and Checker.
package evaluator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/lvgrader/grader/internal/checker"
	"github.com/lvgrader/grader/internal/eventbus"
	"github.com/lvgrader/grader/internal/executor"
	"github.com/lvgrader/grader/internal/model"
	"github.com/lvgrader/grader/internal/store"
)

const (
	sourceFname   = "submission"
	compiledFname = "submission_bin"
)

// RunFunc is the shape internal/dispatch.Worker drives: run one full
// evaluation, reporting progress on bus, and return its terminal Response.
type RunFunc func(ctx context.Context, req model.ExecutionRequest, bus *eventbus.Bus) (*model.Response, error)

// Evaluator ties the store, local executor and checker compiler together
// into one RunFunc.
type Evaluator struct {
	store   *store.Store
	exec    *executor.Executor
	checker *checker.Compiler
}

func New(st *store.Store, exec *executor.Executor, chk *checker.Compiler) *Evaluator {
	return &Evaluator{store: st, exec: exec, checker: chk}
}

// Run implements RunFunc.
func (e *Evaluator) Run(ctx context.Context, req model.ExecutionRequest, bus *eventbus.Bus) (*model.Response, error) {
	resp := &model.Response{SessionID: req.SessionID, Status: "RUNNING", StartedAt: time.Now()}
	bus.StartJob(req.Language.Name)

	compiled := []byte(req.SourceCode)
	if req.Language.CompileCmd != "" {
		bus.StartCompile()
		result, err := e.exec.Execute(ctx, model.RunRequest{
			Command: req.Language.CompileCmd,
			Inputs: []model.FileInfo{
				{Path: req.Language.SourceFname, InlineContent: []byte(req.SourceCode)},
			},
			OutputNames: []string{req.Language.CompiledFname},
			Limits: model.ResourceLimits{
				CPUTimeMillis:  30_000,
				WallTimeMillis: 60_000,
				MemoryKiBytes:  1_048_576,
			},
			Exclusive: true,
		}, nil)
		if err != nil {
			bus.InternalError(err.Error())
			resp.Status = string(model.ClassInternal)
			resp.ErrorMessage = err.Error()
			resp.FinishedAt = time.Now()
			return resp, nil
		}
		bus.FinishCompile(&result.ExecutionInfo)
		resp.Compilation = &result.ExecutionInfo

		if result.Classification != model.ClassSuccess {
			resp.Status = "COMPILE_ERROR"
			resp.FinishedAt = time.Now()
			bus.FinishNoError()
			return resp, nil
		}
		if len(result.OutputFiles) == 0 {
			resp.Status = string(model.ClassMissingFiles)
			resp.ErrorMessage = "compilation produced no executable"
			resp.FinishedAt = time.Now()
			return resp, nil
		}
		bin, err := e.resolveArtifact(ctx, result.OutputFiles[0].Digest, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch compiled binary: %w", err)
		}
		compiled = bin
	}

	testSubtask := make(map[int]int)
	for _, st := range req.Subtasks {
		for _, id := range st.TestIDs {
			testSubtask[id] = st.ID
		}
	}
	failedSubtask := make(map[int]bool)

	for _, test := range req.Tests {
		if sub, ok := testSubtask[test.ID]; ok && failedSubtask[sub] {
			bus.IgnoreTest(test.ID)
			resp.TestResults = append(resp.TestResults, model.TestResult{TestID: test.ID, Verdict: model.VerdictIgnored})
			continue
		}

		bus.ReachTest(test.ID)
		tr, err := e.runOneTest(ctx, req, test, compiled)
		if err != nil {
			bus.InternalError(err.Error())
			resp.Status = string(model.ClassInternal)
			resp.ErrorMessage = err.Error()
			resp.FinishedAt = time.Now()
			return resp, nil
		}
		bus.FinishTest(test.ID, tr.Submission, tr.Checker)
		resp.TestResults = append(resp.TestResults, *tr)

		if tr.Verdict != model.VerdictAccepted {
			if sub, ok := testSubtask[test.ID]; ok {
				failedSubtask[sub] = true
			}
		}
	}

	resp.Status = "SUCCESS"
	resp.FinishedAt = time.Now()
	bus.FinishNoError()
	return resp, nil
}

func (e *Evaluator) runOneTest(ctx context.Context, req model.ExecutionRequest, test model.TestCase, compiled []byte) (*model.TestResult, error) {
	input, err := e.resolveArtifact(ctx, test.InputDigest, test.InputContent)
	if err != nil {
		return nil, fmt.Errorf("resolve input for test %d: %w", test.ID, err)
	}
	answer, err := e.resolveArtifact(ctx, test.AnswerDigest, test.AnswerContent)
	if err != nil {
		return nil, fmt.Errorf("resolve answer for test %d: %w", test.ID, err)
	}

	fname := compiledFname
	if req.Language.CompileCmd != "" && req.Language.CompiledFname != "" {
		fname = req.Language.CompiledFname
	} else if req.Language.CompileCmd == "" && req.Language.SourceFname != "" {
		fname = req.Language.SourceFname
	}
	inputs := []model.FileInfo{
		{Path: fname, InlineContent: compiled, Executable: true},
	}
	cmd := "./" + fname
	if req.Language.ExecCmd != "" {
		cmd = req.Language.ExecCmd
	}

	result, err := e.exec.Execute(ctx, model.RunRequest{
		Command: cmd,
		Inputs:  inputs,
		Stdin:   input,
		Limits:  req.Limits,
	}, nil)
	if err != nil {
		return nil, err
	}

	tr := &model.TestResult{TestID: test.ID, Submission: &result.ExecutionInfo}

	switch result.Classification {
	case model.ClassTimeLimit:
		tr.Verdict = model.VerdictTimeLimitExceeded
		return tr, nil
	case model.ClassMemoryLimit:
		tr.Verdict = model.VerdictMemoryLimitExceeded
		return tr, nil
	case model.ClassSignal:
		tr.Verdict = model.VerdictRuntimeError
		return tr, nil
	case model.ClassNonzero:
		tr.Verdict = model.VerdictRuntimeError
		return tr, nil
	case model.ClassInternal, model.ClassMissingFiles:
		tr.Verdict = model.VerdictRuntimeError
		return tr, nil
	}

	if req.CheckerSource == "" {
		if bytes.Equal(normalizeTrailingSpace(result.Stdout), normalizeTrailingSpace(answer)) {
			tr.Verdict = model.VerdictAccepted
		} else {
			tr.Verdict = model.VerdictWrongAnswer
		}
		return tr, nil
	}

	verdict, checkerInfo, err := e.checker.Judge(ctx, req.CheckerSource, input, result.Stdout, answer)
	if err != nil {
		return nil, fmt.Errorf("judge test %d: %w", test.ID, err)
	}
	tr.Verdict = verdict
	tr.Checker = checkerInfo
	return tr, nil
}

func (e *Evaluator) resolveArtifact(ctx context.Context, digest model.Digest, inline []byte) ([]byte, error) {
	if inline != nil {
		return inline, nil
	}
	if digest == "" {
		return nil, fmt.Errorf("neither digest nor inline content supplied")
	}
	rc, err := e.store.Open(digest)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalizeTrailingSpace mirrors the whitespace-tolerant comparison
// testlib-style checkers apply: trailing spaces per line and a trailing
// newline never cause a WA on an otherwise-correct answer.
func normalizeTrailingSpace(b []byte) []byte {
	lines := bytes.Split(b, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t\r")
	}
	out := bytes.Join(lines, []byte("\n"))
	return bytes.TrimRight(out, "\n")
}
