// Package taskset implements the array of per-task priority-ordered input
// queues described by the spec: one ring.Queue per task, all living in the
// shared arena, guarded by a single in-process semaphore of weight 1.
//
// Every exported mutating method assumes the caller already holds the
// semaphore (see Lock/Unlock) -- the spec makes this the caller's
// responsibility rather than baking re-entrant locking into each call, so
// a scheduler transition can enqueue, peek and recompute the highest
// priority task as one atomic step.
package taskset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/kyrostech/priorityexec/internal/arena"
	"github.com/kyrostech/priorityexec/internal/ring"
)

// Error codes from spec section 4.3, preserved as distinguishable sentinel
// errors rather than bare integers so callers can use errors.Is.
var (
	ErrNilArgument       = errors.New("taskset: null argument")
	ErrTaskOutOfRange    = errors.New("taskset: task_id out of range")
	ErrAllocPayload      = errors.New("taskset: cannot allocate payload copy")
	ErrAllocDescriptor   = errors.New("taskset: cannot allocate data descriptor")
	ErrAllocRecord       = errors.New("taskset: cannot allocate record")
	ErrQueueFull         = errors.New("taskset: queue full")
	ErrQueueEmpty        = errors.New("taskset: queue empty")
)

const (
	descriptorSize = 8 // {DataSize uint32, DataRef uint32}
	recordSize     = 8 // {Prio uint8, _pad[3], DescRef uint32}
)

// CallbackRecord is the decoded, in-memory view of a record peeked or
// dequeued from a task's queue: the priority it was enqueued with, and the
// payload bytes copied from the wire at enqueue time.
type CallbackRecord struct {
	Prio    uint8
	Payload []byte
}

// Task holds one task's input queue. The worker process identifier and
// resolved callback function are not part of this struct: per the spec
// they belong to the worker lifecycle (internal/worker), which is the
// only component that needs them.
type Task struct {
	queue *ring.Queue
}

// TaskSet is the shared, semaphore-guarded array of tasks.
type TaskSet struct {
	sem   *semaphore.Weighted
	arena *arena.Arena
	tasks []Task

	// currentRunningTaskID mirrors the spec's shared state field: -1 means
	// idle, otherwise the index of the task whose worker is not currently
	// suspended. It is only ever read/written while the semaphore is held.
	currentRunningTaskID int32
}

// New constructs a task set of the given length, each with a queue of
// queueDepth. Only each queue's backing array is allocated from a; the
// tasks array and the ring.Queue structs themselves are ordinary Go
// allocations and do not live in the arena.
func New(a *arena.Arena, length, queueDepth int) (*TaskSet, error) {
	if a == nil {
		return nil, ErrNilArgument
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be positive", ErrNilArgument)
	}

	ts := &TaskSet{
		sem:                  semaphore.NewWeighted(1),
		arena:                a,
		tasks:                make([]Task, length),
		currentRunningTaskID: -1,
	}

	for i := range ts.tasks {
		q, err := ring.New(a, queueDepth)
		if err != nil {
			ts.destroyPartial(i)
			return nil, err
		}
		ts.tasks[i].queue = q
	}
	return ts, nil
}

func (ts *TaskSet) destroyPartial(upTo int) {
	for i := 0; i < upTo; i++ {
		_ = ts.tasks[i].queue.Destroy()
	}
}

// Destroy releases every task's queue back to the arena, in reverse
// creation order.
func (ts *TaskSet) Destroy() error {
	for i := len(ts.tasks) - 1; i >= 0; i-- {
		if err := ts.tasks[i].queue.Destroy(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of tasks in the set.
func (ts *TaskSet) Len() int { return len(ts.tasks) }

// Lock acquires the task-set semaphore. Every mutating method below must
// be called with the semaphore held.
func (ts *TaskSet) Lock(ctx context.Context) error {
	return ts.sem.Acquire(ctx, 1)
}

// Unlock releases the task-set semaphore.
func (ts *TaskSet) Unlock() {
	ts.sem.Release(1)
}

// CurrentRunningTaskID returns -1 if idle, else the running task's index.
// Must be called with the semaphore held.
func (ts *TaskSet) CurrentRunningTaskID() int {
	return int(ts.currentRunningTaskID)
}

// SetCurrentRunningTaskID updates the running task marker. Must be called
// with the semaphore held.
func (ts *TaskSet) SetCurrentRunningTaskID(id int) {
	ts.currentRunningTaskID = int32(id)
}

func (ts *TaskSet) validTask(id int) bool {
	return id >= 0 && id < len(ts.tasks)
}

// EnqueueCallback copies data into a fresh payload, wraps it in a
// descriptor, wraps that in a record, and enqueues the record on task id's
// queue. Caller must hold the semaphore.
func (ts *TaskSet) EnqueueCallback(id int, prio uint8, data []byte) error {
	if !ts.validTask(id) {
		return ErrTaskOutOfRange
	}

	payloadRef, err := ts.arena.Alloc(len(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocPayload, err)
	}
	if len(data) > 0 {
		buf, err := ts.arena.Bytes(payloadRef, len(data))
		if err != nil {
			_ = ts.arena.Free(payloadRef)
			return fmt.Errorf("%w: %v", ErrAllocPayload, err)
		}
		copy(buf, data)
	}

	descRef, err := ts.arena.Alloc(descriptorSize)
	if err != nil {
		_ = ts.arena.Free(payloadRef)
		return fmt.Errorf("%w: %v", ErrAllocDescriptor, err)
	}
	descBuf, err := ts.arena.Bytes(descRef, descriptorSize)
	if err != nil {
		_ = ts.arena.Free(descRef)
		_ = ts.arena.Free(payloadRef)
		return fmt.Errorf("%w: %v", ErrAllocDescriptor, err)
	}
	binary.LittleEndian.PutUint32(descBuf[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(descBuf[4:8], uint32(payloadRef))

	recRef, err := ts.arena.Alloc(recordSize)
	if err != nil {
		_ = ts.arena.Free(descRef)
		_ = ts.arena.Free(payloadRef)
		return fmt.Errorf("%w: %v", ErrAllocRecord, err)
	}
	recBuf, err := ts.arena.Bytes(recRef, recordSize)
	if err != nil {
		_ = ts.arena.Free(recRef)
		_ = ts.arena.Free(descRef)
		_ = ts.arena.Free(payloadRef)
		return fmt.Errorf("%w: %v", ErrAllocRecord, err)
	}
	recBuf[0] = prio
	binary.LittleEndian.PutUint32(recBuf[4:8], uint32(descRef))

	status, err := ts.tasks[id].queue.Enqueue(recRef)
	if err != nil {
		_ = ts.arena.Free(recRef)
		_ = ts.arena.Free(descRef)
		_ = ts.arena.Free(payloadRef)
		return err
	}
	if status == ring.StatusFull {
		_ = ts.arena.Free(recRef)
		_ = ts.arena.Free(descRef)
		_ = ts.arena.Free(payloadRef)
		return ErrQueueFull
	}
	return nil
}

func (ts *TaskSet) decodeRecord(ref arena.Ref) (CallbackRecord, error) {
	recBuf, err := ts.arena.Bytes(ref, recordSize)
	if err != nil {
		return CallbackRecord{}, err
	}
	prio := recBuf[0]
	descRef := arena.Ref(binary.LittleEndian.Uint32(recBuf[4:8]))

	descBuf, err := ts.arena.Bytes(descRef, descriptorSize)
	if err != nil {
		return CallbackRecord{}, err
	}
	dataSize := binary.LittleEndian.Uint32(descBuf[0:4])
	dataRef := arena.Ref(binary.LittleEndian.Uint32(descBuf[4:8]))

	var payload []byte
	if dataSize > 0 {
		payload, err = ts.arena.Bytes(dataRef, int(dataSize))
		if err != nil {
			return CallbackRecord{}, err
		}
	}
	return CallbackRecord{Prio: prio, Payload: payload}, nil
}

// Peek returns task id's head record, and the ref needed by FreeRecord,
// without removing it from the queue. Caller must hold the semaphore.
func (ts *TaskSet) Peek(id int) (CallbackRecord, arena.Ref, error) {
	if !ts.validTask(id) {
		return CallbackRecord{}, 0, ErrTaskOutOfRange
	}
	ref, status, err := ts.tasks[id].queue.Peek()
	if err != nil {
		return CallbackRecord{}, 0, err
	}
	if status == ring.StatusEmpty {
		return CallbackRecord{}, 0, ErrQueueEmpty
	}
	rec, err := ts.decodeRecord(ref)
	if err != nil {
		return CallbackRecord{}, 0, err
	}
	return rec, ref, nil
}

// Dequeue removes task id's head record from the queue, returning its ref
// so the worker can later call FreeRecord once the callback has returned.
// Caller must hold the semaphore.
func (ts *TaskSet) Dequeue(id int) (arena.Ref, error) {
	if !ts.validTask(id) {
		return 0, ErrTaskOutOfRange
	}
	ref, status, err := ts.tasks[id].queue.Dequeue()
	if err != nil {
		return 0, err
	}
	if status == ring.StatusEmpty {
		return 0, ErrQueueEmpty
	}
	return ref, nil
}

// FreeRecord releases a record's allocations: the payload first, then the
// descriptor, then the record itself. The
// record must already have been removed from its queue via Dequeue;
// freeing a record still referenced by a queue is undefined, matching the
// spec's "double-free is undefined" contract. Caller must hold the
// semaphore.
func (ts *TaskSet) FreeRecord(ref arena.Ref) error {
	recBuf, err := ts.arena.Bytes(ref, recordSize)
	if err != nil {
		return err
	}
	descRef := arena.Ref(binary.LittleEndian.Uint32(recBuf[4:8]))

	descBuf, err := ts.arena.Bytes(descRef, descriptorSize)
	if err != nil {
		return err
	}
	dataRef := arena.Ref(binary.LittleEndian.Uint32(descBuf[4:8]))

	// EnqueueCallback always allocates a payload block, even for a
	// zero-length payload, so it is always freed here regardless of the
	// descriptor's recorded length -- skipping it for empty data would
	// leak one arena block per empty-payload enqueue.
	if err := ts.arena.Free(dataRef); err != nil {
		return err
	}
	if err := ts.arena.Free(descRef); err != nil {
		return err
	}
	return ts.arena.Free(ref)
}

// HighestPriorityTask scans every task, returning the index of the one
// whose queue is non-empty and whose head record has the greatest
// priority. Ties are broken in favour of the lowest task_id. Returns -1 if
// no task is eligible. Caller must hold the semaphore.
func (ts *TaskSet) HighestPriorityTask() (int, error) {
	best := -1
	var bestPrio uint8
	for id := range ts.tasks {
		ref, status, err := ts.tasks[id].queue.Peek()
		if err != nil {
			return -1, err
		}
		if status != ring.StatusOK {
			continue
		}
		rec, err := ts.decodeRecord(ref)
		if err != nil {
			return -1, err
		}
		if best == -1 || rec.Prio > bestPrio {
			best = id
			bestPrio = rec.Prio
		}
	}
	return best, nil
}

// QueueLen reports task id's current queue length; used by the queue-depth
// metric. Caller must hold the semaphore.
func (ts *TaskSet) QueueLen(id int) int {
	if !ts.validTask(id) {
		return 0
	}
	return ts.tasks[id].queue.Len()
}
