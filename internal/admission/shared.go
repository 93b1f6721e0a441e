package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/lvgrader/grader/internal/shmqueue"
)

// pollInterval is how often a blocking SharedGuard acquire retries its
// non-blocking TryPop while waiting for a slot or for ctx to end. The
// cross-process queue has no condition variable the Go scheduler can park
// a goroutine on directly, so blocking acquisition is a short poll loop
// instead of a single blocking syscall.
const pollInterval = 5 * time.Millisecond

var token = []byte{1}

// SharedGuard is the cross-process Thread Guard: several `grader worker`
// processes on the same host open the same backing file and draw from one
// shared pool of maxSlots admission tokens instead of each enforcing its
// own, unaware of the others' concurrency. Grounded on §4.4's description
// of the shared queue as "an admission gate, not an event log" — capacity
// tokens are pre-filled into a shmqueue.Queue at construction, and
// acquiring a slot is a Pop while releasing one is a Push.
type SharedGuard struct {
	q        *shmqueue.Queue
	maxSlots int
}

// NewShared opens (creating if necessary) a shared admission pool backed
// by path, with maxSlots tokens. The first process to open path seeds the
// pool; later processes just draw from and return to it.
func NewShared(path string, maxSlots int) (*SharedGuard, error) {
	q, err := shmqueue.Open(path, maxSlots, len(token))
	if err != nil {
		return nil, fmt.Errorf("admission: open shared queue: %w", err)
	}
	g := &SharedGuard{q: q, maxSlots: maxSlots}
	if q.Owner() {
		// Only the process that created the backing file seeds it — a
		// second process joining an already-seeded pool must not add
		// maxSlots more tokens on top of what's already there.
		for i := 0; i < maxSlots; i++ {
			if err := q.Push(token); err != nil {
				return nil, fmt.Errorf("admission: seed shared queue: %w", err)
			}
		}
	}
	return g, nil
}

// TryAcquire takes one token without blocking, failing with
// ErrTooManyExecutions if the pool is empty.
func (g *SharedGuard) TryAcquire() (Release, error) {
	_, ok, err := g.q.TryPop()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTooManyExecutions
	}
	return func() { g.q.Push(token) }, nil
}

// Acquire blocks until a token is free.
func (g *SharedGuard) Acquire(ctx context.Context) (Release, error) {
	if err := g.waitPop(ctx); err != nil {
		return nil, err
	}
	return func() { g.q.Push(token) }, nil
}

// AcquireExclusive blocks until it holds every token in the pool, so the
// caller runs alone across every process sharing this guard.
func (g *SharedGuard) AcquireExclusive(ctx context.Context) (Release, error) {
	held := 0
	for held < g.maxSlots {
		if err := g.waitPop(ctx); err != nil {
			for ; held > 0; held-- {
				g.q.Push(token)
			}
			return nil, err
		}
		held++
	}
	return func() {
		for i := 0; i < g.maxSlots; i++ {
			g.q.Push(token)
		}
	}, nil
}

func (g *SharedGuard) waitPop(ctx context.Context) error {
	for {
		_, ok, err := g.q.TryPop()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
