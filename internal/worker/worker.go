// Package worker implements the per-task worker lifecycle: a goroutine
// that self-suspends, wakes on a resume grant, peeks its task's queue
// head, invokes the registered callback, frees the record, and notifies
// the scheduler.
//
// The original design suspends and resumes a whole OS process with
// SIGSTOP/SIGCONT. Per the spec's design notes, this implementation
// instead models a worker as a goroutine blocked on a resume gate: the
// scheduler "stops" a worker by not granting it a token, and "continues"
// it by granting one. A callback that wants to be preemptible mid-run
// must cooperatively call Checkpoint at a safe point; Checkpoint parks
// the calling goroutine exactly where it is until the worker is resumed,
// which is the closest a managed-concurrency runtime gets to SIGSTOP's
// "freeze this exact stack" semantics.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kyrostech/priorityexec/internal/logging"
	"github.com/kyrostech/priorityexec/internal/metrics"
	"github.com/kyrostech/priorityexec/internal/taskset"
)

// Callback is the user-registered task function. Long-running callbacks
// that want to support preemption should call w.Checkpoint(ctx)
// periodically.
type Callback func(ctx context.Context, w *Worker, payload []byte)

// Notifier is how a worker tells the scheduler it has finished a
// callback and the queue should be re-evaluated -- the notify pipe of the
// original design, here a method call carrying the completed task id.
type Notifier interface {
	Notify(taskID int)
}

// Worker drives one task's callback invocations.
type Worker struct {
	taskID int
	ts     *taskset.TaskSet
	fn     Callback
	notify Notifier

	// resume is the single-token resume gate: a send grants the worker
	// (or a parked callback) permission to proceed. suspended tracks
	// whether the worker is currently expected to park at its next
	// Checkpoint call.
	resume    chan struct{}
	suspended atomic.Bool
}

// New constructs a worker for taskID. fn is invoked for every record
// dequeued from taskset at that index; notify is told every time a
// callback completes and its record has been freed. notify may be nil
// at construction time and supplied later via SetNotifier, since the
// scheduler that acts as notifier is typically constructed from the
// full worker slice and so cannot exist before the workers do.
func New(taskID int, ts *taskset.TaskSet, fn Callback, notify Notifier) *Worker {
	return &Worker{
		taskID: taskID,
		ts:     ts,
		fn:     fn,
		notify: notify,
		resume: make(chan struct{}, 1),
	}
}

// SetNotifier assigns the worker's completion notifier. Must be called
// before Run starts processing callbacks.
func (w *Worker) SetNotifier(notify Notifier) {
	w.notify = notify
}

// Suspended reports whether the scheduler currently believes this
// worker should park at its next suspension point.
func (w *Worker) Suspended() bool {
	return w.suspended.Load()
}

// Suspend marks the worker as preempted. It does not itself block
// anything; the worker only actually pauses the next time it reaches a
// suspension point (initial self-suspend, or a callback's own Checkpoint
// call), exactly mirroring a deferred SIGSTOP taking effect "eventually".
func (w *Worker) Suspend() {
	w.suspended.Store(true)
}

// Resume grants one resume token, waking the worker if it is parked at a
// suspension point. It is safe to call even if the worker is not
// currently parked; the token is simply consumed the next time it is.
func (w *Worker) Resume() {
	w.suspended.Store(false)
	select {
	case w.resume <- struct{}{}:
	default:
		// A token is already pending; granting a second would only let
		// a future, unrelated suspension fall through immediately.
	}
}

// Checkpoint is the cooperative preemption point a callback may call. If
// the worker has been suspended since the callback started, Checkpoint
// blocks until Resume is called (or ctx is done for loop shutdown).
func (w *Worker) Checkpoint(ctx context.Context) {
	if !w.suspended.Load() {
		return
	}
	select {
	case <-w.resume:
	case <-ctx.Done():
	}
}

// Run is the worker's main loop, intended to be started as a goroutine
// and stopped by cancelling ctx. It implements the sequence from spec
// section 4.4: self-suspend, peek under the semaphore, run the callback,
// dequeue and free under the semaphore, notify.
func (w *Worker) Run(ctx context.Context) {
	log := logging.L()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.resume:
		}

		if err := w.ts.Lock(ctx); err != nil {
			return // context cancelled while waiting for the semaphore
		}
		w.ts.SetCurrentRunningTaskID(w.taskID)
		rec, ref, err := w.ts.Peek(w.taskID)
		w.ts.Unlock()

		if err != nil {
			// Internal consistency failure: the scheduler believed this
			// task's queue was non-empty when it granted a resume. Log
			// and revert to self-suspend without invoking the callback.
			log.Err().Int64(`task_id`, int64(w.taskID)).Err(err).Log(`peek failed after resume, reverting to self-suspend`)
			continue
		}

		start := time.Now()
		w.fn(ctx, w, rec.Payload)
		metrics.CallbackDuration.WithLabelValues(fmt.Sprint(w.taskID)).Observe(time.Since(start).Seconds())

		if err := w.ts.Lock(ctx); err != nil {
			return
		}
		if _, err := w.ts.Dequeue(w.taskID); err != nil {
			log.Err().Int64(`task_id`, int64(w.taskID)).Err(err).Log(`dequeue failed after callback completion`)
		} else if err := w.ts.FreeRecord(ref); err != nil {
			log.Err().Int64(`task_id`, int64(w.taskID)).Err(err).Log(`free record failed after callback completion`)
		}
		metrics.QueueDepth.WithLabelValues(fmt.Sprint(w.taskID)).Set(float64(w.ts.QueueLen(w.taskID)))
		w.ts.SetCurrentRunningTaskID(-1)
		w.ts.Unlock()

		if w.notify != nil {
			w.notify.Notify(w.taskID)
		}
	}
}
