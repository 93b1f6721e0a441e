package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/lvgrader/grader/internal/eventbus"
	"github.com/lvgrader/grader/internal/evaluator"
	"github.com/lvgrader/grader/internal/model"
)

// Run drives one Case through eval and reports every expectation mismatch
// as a joined error, so a failing scenario names every divergence at
// once rather than stopping at the first.
func Run(ctx context.Context, eval *evaluator.Evaluator, c Case) (*model.Response, error) {
	bus := eventbus.New(c.Request.SessionID)
	defer bus.Stop()

	resp, err := eval.Run(ctx, c.Request, bus)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", c.Name, err)
	}

	var mismatches []error
	if c.Expect.Status != "" && resp.Status != c.Expect.Status {
		mismatches = append(mismatches, fmt.Errorf("status = %s, want %s", resp.Status, c.Expect.Status))
	}
	for i, want := range c.Expect.TestResults {
		if i >= len(resp.TestResults) {
			mismatches = append(mismatches, fmt.Errorf("test %d: missing result, want verdict %s", i+1, want.Verdict))
			continue
		}
		got := resp.TestResults[i]
		if want.Verdict != "" && string(got.Verdict) != want.Verdict {
			mismatches = append(mismatches, fmt.Errorf("test %d: verdict = %s, want %s", i+1, got.Verdict, want.Verdict))
		}
	}

	if len(mismatches) > 0 {
		msg := fmt.Sprintf("scenario %q: %d mismatch(es)", c.Name, len(mismatches))
		for _, m := range mismatches {
			msg += "\n  - " + m.Error()
		}
		return resp, errors.New(msg)
	}
	return resp, nil
}
