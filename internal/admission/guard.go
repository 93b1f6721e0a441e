// Package admission implements the Thread Guard: the admission gate that
// caps how many sandboxed executions run concurrently and lets a caller
// request exclusive access (wait for every slot to be idle) instead of
// one of many shared slots.
//
// Grounded on golang.org/x/sync, already a teacher dependency used for
// errgroup in internal/testing/arrange.go and prepare.go; semaphore.Weighted
// is the same module's building block for the slot-counting half of this
// contract, generalized here with an exclusive-acquire path the plain
// weighted semaphore doesn't offer on its own.
package admission

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyExecutions is returned by TryAcquire when no shared slot is
// free — the fail-fast behavior §5 mandates for non-exclusive admission.
var ErrTooManyExecutions = fmt.Errorf("too many concurrent executions")

// Admitter is the Thread Guard contract the executor depends on. Guard
// implements it for a single process; SharedGuard (shared.go) implements
// the same contract across sibling processes via C4's shared queue.
type Admitter interface {
	TryAcquire() (Release, error)
	AcquireExclusive(ctx context.Context) (Release, error)
	Acquire(ctx context.Context) (Release, error)
}

// Guard bounds concurrent sandbox executions to maxSlots, and lets an
// exclusive caller (e.g. a submission or checker compile) wait for full
// exclusivity instead of taking one of many shared slots.
type Guard struct {
	maxSlots int64
	sem      *semaphore.Weighted
}

// New creates a Guard admitting at most maxSlots concurrent non-exclusive
// executions.
func New(maxSlots int) *Guard {
	return &Guard{maxSlots: int64(maxSlots), sem: semaphore.NewWeighted(int64(maxSlots))}
}

// Release hands a previously-acquired slot (or all slots, for an
// exclusive holder) back to the guard.
type Release func()

// TryAcquire takes one shared slot, failing immediately with
// ErrTooManyExecutions if none are free, matching §5's requirement that
// non-exclusive admission never blocks the caller.
func (g *Guard) TryAcquire() (Release, error) {
	if !g.sem.TryAcquire(1) {
		return nil, ErrTooManyExecutions
	}
	return func() { g.sem.Release(1) }, nil
}

// AcquireExclusive blocks until every slot is idle, then holds them all,
// so the caller runs alone. Used for submission and checker compilation,
// which must not share CPU with concurrent submission executions; checker
// runs themselves take a shared slot.
func (g *Guard) AcquireExclusive(ctx context.Context) (Release, error) {
	if err := g.sem.Acquire(ctx, g.maxSlots); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(g.maxSlots) }, nil
}

// Acquire blocks until a shared slot is free, for callers willing to wait
// rather than fail fast.
func (g *Guard) Acquire(ctx context.Context) (Release, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}
