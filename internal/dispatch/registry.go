package dispatch

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// workerHandle is the server's view of one registered worker: its
// capacity and which of its slots are currently busy.
type workerHandle struct {
	id       string
	capacity int

	mu   sync.Mutex
	busy mapset.Set[int]
}

func newWorkerHandle(id string, capacity int) *workerHandle {
	return &workerHandle{id: id, capacity: capacity, busy: mapset.NewThreadUnsafeSet[int]()}
}

// idle reports whether every slot on this worker is free, the condition
// spec.md requires before an exclusive request may be matched to it.
func (w *workerHandle) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy.Cardinality() == 0
}

// tryOccupy reserves one free slot, returning false if none remain.
func (w *workerHandle) tryOccupy() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy.Cardinality() >= w.capacity {
		return 0, false
	}
	for slot := 0; slot < w.capacity; slot++ {
		if !w.busy.Contains(slot) {
			w.busy.Add(slot)
			return slot, true
		}
	}
	return 0, false
}

func (w *workerHandle) release(slot int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy.Remove(slot)
}

// Registry tracks every worker known to the server. Grounded on the
// teacher's adopted but previously unused puzpuzpuz/xsync and
// deckarep/golang-set dependencies: xsync.MapOf gives lock-free concurrent
// lookups by worker id for the hot path (one lookup per dispatch
// decision), and each worker's busy-slot set is a golang-set so exclusive
// matching ("all slots free") is a single Cardinality check instead of a
// hand-rolled bitmap.
type Registry struct {
	workers *xsync.MapOf[string, *workerHandle]
}

func NewRegistry() *Registry {
	return &Registry{workers: xsync.NewMapOf[string, *workerHandle]()}
}

func (r *Registry) Add(id string, capacity int) {
	r.workers.Store(id, newWorkerHandle(id, capacity))
}

func (r *Registry) Remove(id string) {
	r.workers.Delete(id)
}

// FindSlot scans registered workers in no particular order and occupies
// the first slot that satisfies exclusive. Non-exclusive requests accept
// any free slot; exclusive requests require a worker that is entirely
// idle before occupying its one slot.
func (r *Registry) FindSlot(exclusive bool) (workerID string, slot int, ok bool) {
	var found bool
	r.workers.Range(func(id string, w *workerHandle) bool {
		if exclusive && !w.idle() {
			return true
		}
		if s, got := w.tryOccupy(); got {
			workerID, slot, found = id, s, true
			return false
		}
		return true
	})
	return workerID, slot, found
}

func (r *Registry) Release(workerID string, slot int) {
	if w, ok := r.workers.Load(workerID); ok {
		w.release(slot)
	}
}

func (r *Registry) Has(workerID string) bool {
	_, ok := r.workers.Load(workerID)
	return ok
}
