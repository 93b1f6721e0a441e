package checker

import (
	"context"
	"fmt"

	"github.com/lvgrader/grader/internal/model"
)

// testlib checker exit codes, https://github.com/MikeMirzayanov/testlib.
const (
	exitAccepted  = 0
	exitWrong     = 1
	exitPresError = 2
	exitFail      = 3
)

// Judge runs a compiled checker against {input, submission output, answer}
// and maps its testlib exit code onto a Verdict. Grounded on
// internal/testing/compilation/checker.go's checker-invocation TODO and
// pkg/messaging/statuses' verdict vocabulary, supplementing the local
// executor's Execute contract with the checker step the original
// distillation left as a stub.
func (c *Compiler) Judge(ctx context.Context, checkerSource string, input, output, answer []byte) (model.Verdict, *model.ExecutionInfo, error) {
	compiled, err := c.Compile(ctx, checkerSource)
	if err != nil {
		return "", nil, err
	}

	result, err := c.exec.Execute(ctx, model.RunRequest{
		Command: "./checker input.txt output.txt answer.txt",
		Inputs: []model.FileInfo{
			{Path: compiledFname, InlineContent: compiled, Executable: true},
			{Path: "input.txt", InlineContent: input},
			{Path: "output.txt", InlineContent: output},
			{Path: "answer.txt", InlineContent: answer},
		},
		Limits: model.ResourceLimits{
			CPUTimeMillis:  10_000,
			WallTimeMillis: 20_000,
			MemoryKiBytes:  262_144,
		},
	}, nil)
	if err != nil {
		return "", nil, fmt.Errorf("run checker: %w", err)
	}

	if result.Classification != model.ClassSuccess && result.Classification != model.ClassNonzero {
		return model.VerdictRuntimeError, &result.ExecutionInfo, nil
	}

	switch result.ExitCode {
	case exitAccepted:
		return model.VerdictAccepted, &result.ExecutionInfo, nil
	case exitWrong:
		return model.VerdictWrongAnswer, &result.ExecutionInfo, nil
	case exitPresError:
		return model.VerdictPresentationError, &result.ExecutionInfo, nil
	default:
		return "", &result.ExecutionInfo, fmt.Errorf("checker exited %d (testlib FAIL or worse)", result.ExitCode)
	}
}
