// Package shmqueue implements C4, a fixed-capacity multi-producer
// multi-consumer queue living in a POSIX shared memory mapping, used as a
// cross-process admission pool (see internal/admission's SharedGuard):
// capacity tokens are pre-filled into the queue, and acquiring a slot is a
// Pop while releasing one is a Push, shared by every process that opened
// the same backing file.
//
// No example repo in the retrieval pack implements a cross-process queue
// directly — cross-process synchronization has no standard-library
// primitive, so this is grounded on the lowest-level building blocks the
// pack does carry: golang.org/x/sys/unix (already pulled in by
// internal/sandbox for rlimits) supplies Mmap for the shared mapping.
// golang.org/x/sys/unix does not wrap the SysV semaphore calls themselves
// (SemOp/SemGet/SemCtl are on its explicit unimplemented list for Linux),
// so the mutex and the two condition variables a plain sync.Mutex/sync.Cond
// pair cannot provide across process boundaries are reached by issuing the
// raw semget(2)/semop(2)/semctl(2) syscalls directly through
// unix.Syscall/unix.Syscall6, the pattern unix.Syscall's own doc comment
// recommends for syscalls the package has no wrapper for.
package shmqueue

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semaphore indices within the 3-member SysV semaphore set backing a
// Queue: one mutex and two condition variables (not-empty, not-full).
const (
	semMutex    = 0
	semNotEmpty = 1
	semNotFull  = 2
)

const headerSize = 16 // head uint32, tail uint32, count uint32, capacity uint32

// semSetVal is Linux's semctl(2) SETVAL command. x/sys/unix defines the
// IPC_* constants but not the semctl command numbers, since it carries no
// semctl wrapper at all; this is asm-generic/sem.h's value, stable across
// every Linux architecture.
const semSetVal = 16

// sembuf mirrors the kernel's struct sembuf (linux/sem.h) field for field,
// so a slice of these can be passed directly to semop(2) via its pointer.
type sembuf struct {
	semNum uint16
	semOp  int16
	semFlg int16
}

// Queue is a fixed-capacity ring buffer of fixed-size slots living in
// shared memory, safe for concurrent push/pop from unrelated processes
// that all opened the same backing file. Admission into the ring is FIFO
// by default; PushFront additionally supports the LIFO admission-pool use
// case the spec calls out explicitly (not for the event log, which stays
// FIFO).
type Queue struct {
	mapping  []byte
	slotSize int
	capacity int
	semID    int
	owner    bool
}

// Open maps (creating if necessary) a shared queue backed by path, holding
// up to capacity slots of slotSize bytes each. The first process to Open a
// given path owns the backing semaphore set and is responsible for
// eventually calling Close with release=true.
func Open(path string, capacity, slotSize int) (*Queue, error) {
	size := headerSize + capacity*(4+slotSize) // 4-byte length prefix per slot
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	owner := fi.Size() == 0
	if owner {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	key, err := keyForPath(path)
	if err != nil {
		unix.Munmap(mapping)
		return nil, err
	}
	semID, err := semget(key, 3, unix.IPC_CREAT|0o666)
	if err != nil {
		unix.Munmap(mapping)
		return nil, fmt.Errorf("semget: %w", err)
	}

	q := &Queue{mapping: mapping, slotSize: slotSize, capacity: capacity, semID: semID, owner: owner}
	if owner {
		q.setU32(0, 0) // head
		q.setU32(4, 0) // tail
		q.setU32(8, 0) // count
		q.setU32(12, uint32(capacity))
		if err := q.semInit(semMutex, 1); err != nil {
			return nil, err
		}
		if err := q.semInit(semNotEmpty, 0); err != nil {
			return nil, err
		}
		if err := q.semInit(semNotFull, capacity); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Owner reports whether this process was the one that created the backing
// file (and therefore seeded the semaphore set and the ring's header) —
// callers that pre-fill the queue with initial contents should only do so
// when Owner is true, so a second process Opening the same path doesn't
// re-seed it.
func (q *Queue) Owner() bool { return q.owner }

// Close unmaps the queue. When release is true the backing semaphore set
// is also removed — only the last process done with the queue should pass
// true.
func (q *Queue) Close(release bool) error {
	if release {
		semctl(q.semID, 0, unix.IPC_RMID, 0)
	}
	return unix.Munmap(q.mapping)
}

// Push enqueues data (must be <= slotSize bytes) at the tail, blocking
// until a slot is free.
func (q *Queue) Push(data []byte) error {
	return q.insert(data, false)
}

// PushFront enqueues data at the head instead of the tail, giving it LIFO
// priority over items already queued. Available to admission-pool callers;
// SharedGuard itself returns its tokens with Push.
func (q *Queue) PushFront(data []byte) error {
	return q.insert(data, true)
}

func (q *Queue) insert(data []byte, front bool) error {
	if len(data) > q.slotSize {
		return fmt.Errorf("payload %d bytes exceeds slot size %d", len(data), q.slotSize)
	}
	if err := q.semOp(semNotFull, -1, 0); err != nil {
		return err
	}
	if err := q.semOp(semMutex, -1, 0); err != nil {
		return err
	}
	defer q.semOp(semMutex, 1, 0)

	head := q.u32(0)
	tail := q.u32(4)
	count := q.u32(8)

	var slot uint32
	if front {
		head = (head - 1 + uint32(q.capacity)) % uint32(q.capacity)
		slot = head
		q.setU32(0, head)
	} else {
		slot = tail
		tail = (tail + 1) % uint32(q.capacity)
		q.setU32(4, tail)
	}
	q.writeSlot(int(slot), data)
	q.setU32(8, count+1)

	return q.semOp(semNotEmpty, 1, 0)
}

// Pop dequeues the item at the head, blocking until one is available.
func (q *Queue) Pop() ([]byte, error) {
	return q.pop(0)
}

// TryPop dequeues the item at the head without blocking, reporting ok=false
// if the queue is currently empty instead of waiting.
func (q *Queue) TryPop() ([]byte, bool, error) {
	data, err := q.pop(unix.IPC_NOWAIT)
	if err == unix.EAGAIN {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (q *Queue) pop(flags int16) ([]byte, error) {
	if err := q.semOp(semNotEmpty, -1, flags); err != nil {
		return nil, err
	}
	if err := q.semOp(semMutex, -1, 0); err != nil {
		q.semOp(semNotEmpty, 1, 0) // undo the reservation we can no longer use
		return nil, err
	}
	defer q.semOp(semMutex, 1, 0)

	head := q.u32(0)
	count := q.u32(8)
	data := q.readSlot(int(head))
	q.setU32(0, (head+1)%uint32(q.capacity))
	q.setU32(8, count-1)

	if err := q.semOp(semNotFull, 1, 0); err != nil {
		return nil, err
	}
	return data, nil
}

func (q *Queue) slotOffset(i int) int { return headerSize + i*(4+q.slotSize) }

func (q *Queue) writeSlot(i int, data []byte) {
	off := q.slotOffset(i)
	binary.LittleEndian.PutUint32(q.mapping[off:], uint32(len(data)))
	copy(q.mapping[off+4:off+4+q.slotSize], data)
}

func (q *Queue) readSlot(i int) []byte {
	off := q.slotOffset(i)
	n := binary.LittleEndian.Uint32(q.mapping[off:])
	out := make([]byte, n)
	copy(out, q.mapping[off+4:off+4+int(n)])
	return out
}

func (q *Queue) u32(off int) uint32 { return binary.LittleEndian.Uint32(q.mapping[off:]) }
func (q *Queue) setU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(q.mapping[off:], v)
}

func (q *Queue) semInit(idx int, val int) error {
	return semctl(q.semID, idx, semSetVal, val)
}

// semOp applies a single semaphore operation, optionally flagged with
// unix.IPC_NOWAIT for a non-blocking attempt.
func (q *Queue) semOp(idx int, delta int16, flags int16) error {
	ops := []sembuf{{semNum: uint16(idx), semOp: delta, semFlg: flags}}
	return semop(q.semID, ops)
}

// semget, semop and semctl issue the raw SysV semaphore syscalls directly:
// golang.org/x/sys/unix declares the syscall numbers (SYS_SEMGET,
// SYS_SEMOP, SYS_SEMCTL) but, unlike semget/shmget's cousins, ships no
// higher-level wrapper for them on Linux.
func semget(key, nsems, semflg int) (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(semflg))
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

func semop(semid int, ops []sembuf) error {
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(semid), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)))
	if errno != 0 {
		return errno
	}
	return nil
}

func semctl(semid, semnum, cmd, arg int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(semid), uintptr(semnum), uintptr(cmd), uintptr(arg), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// keyForPath derives a deterministic SysV IPC key from path so every
// process Opening the same path resolves to the same semaphore set.
func keyForPath(path string) (int, error) {
	var h uint32 = 2166136261
	for i := 0; i < len(path); i++ {
		h ^= uint32(path[i])
		h *= 16777619
	}
	return int(h & 0x7fffffff), nil
}
