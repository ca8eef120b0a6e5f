// Package ring implements the bounded queue described by the spec: a
// fixed-capacity circular buffer of opaque element handles, backed by an
// externally supplied allocator. In this implementation the allocator is
// always an *arena.Arena, and the element type is arena.Ref, since every
// queue in the executor (one per task) stores references to callback
// records living in the shared arena.
package ring

import (
	"encoding/binary"
	"errors"

	"github.com/kyrostech/priorityexec/internal/arena"
)

// Status enumerates the outcomes of a queue operation, mirroring the
// spec's {ok, full, bad_arg} / {elem, empty, bad_arg} result shapes without
// resorting to panics on the hot path.
type Status int

const (
	StatusOK Status = iota
	StatusFull
	StatusEmpty
	StatusBadArg
)

var (
	// ErrNilQueue is returned when an operation is attempted on a nil queue.
	ErrNilQueue = errors.New("ring: nil queue")
)

const elemSize = 4 // one arena.Ref, little-endian uint32

// Queue is a bounded FIFO of arena.Ref handles, with the backing array
// itself allocated from the arena. Not safe for concurrent use; callers
// (internal/taskset) are expected to serialize access externally.
type Queue struct {
	a       *arena.Arena
	arr     arena.Ref
	cap     int
	ptr     int // write cursor
	len     int
}

// New allocates a queue of the given capacity from a. Capacity must be a
// positive integer; it is fixed for the lifetime of the queue.
func New(a *arena.Arena, capacity int) (*Queue, error) {
	if a == nil {
		return nil, ErrNilQueue
	}
	if capacity <= 0 {
		return nil, errors.New("ring: capacity must be positive")
	}
	arr, err := a.Alloc(capacity * elemSize)
	if err != nil {
		return nil, err
	}
	return &Queue{a: a, arr: arr, cap: capacity}, nil
}

// Destroy releases the queue's backing array back to the arena. The queue
// must not be used afterwards.
func (q *Queue) Destroy() error {
	if q == nil {
		return ErrNilQueue
	}
	return q.a.Free(q.arr)
}

func (q *Queue) slot(i int) ([]byte, error) {
	off := arena.Ref(uint32(q.arr) + uint32(i*elemSize))
	return q.a.Bytes(off, elemSize)
}

// Enqueue stores elem at the write cursor and advances it. Returns
// StatusFull without mutating state if the queue is at capacity.
func (q *Queue) Enqueue(elem arena.Ref) (Status, error) {
	if q == nil {
		return StatusBadArg, ErrNilQueue
	}
	if q.len == q.cap {
		return StatusFull, nil
	}
	b, err := q.slot(q.ptr)
	if err != nil {
		return StatusBadArg, err
	}
	binary.LittleEndian.PutUint32(b, uint32(elem))
	q.ptr = (q.ptr + 1) % q.cap
	q.len++
	return StatusOK, nil
}

func (q *Queue) headIndex() int {
	return ((q.ptr-q.len)%q.cap + q.cap) % q.cap
}

// Peek returns the head element without removing it.
func (q *Queue) Peek() (arena.Ref, Status, error) {
	if q == nil {
		return 0, StatusBadArg, ErrNilQueue
	}
	if q.len == 0 {
		return 0, StatusEmpty, nil
	}
	b, err := q.slot(q.headIndex())
	if err != nil {
		return 0, StatusBadArg, err
	}
	return arena.Ref(binary.LittleEndian.Uint32(b)), StatusOK, nil
}

// Dequeue removes and returns the head element.
func (q *Queue) Dequeue() (arena.Ref, Status, error) {
	elem, status, err := q.Peek()
	if status != StatusOK {
		return elem, status, err
	}
	q.len--
	return elem, StatusOK, nil
}

// Len returns the number of elements currently queued.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return q.len
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int {
	if q == nil {
		return 0
	}
	return q.cap
}
