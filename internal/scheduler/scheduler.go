// Package scheduler implements the fixed-priority preemptive dispatch
// loop described by the spec: a single goroutine that serializes
// inbound request messages and worker-completion notifications, and
// applies the stop/resume decision table to keep the highest-priority
// eligible task running.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/kyrostech/priorityexec/internal/logging"
	"github.com/kyrostech/priorityexec/internal/metrics"
	"github.com/kyrostech/priorityexec/internal/taskset"
	"github.com/kyrostech/priorityexec/internal/worker"
)

// Message is one inbound (callback_id, priority, data) request, decoded
// from the wire by the ingress boundary.
type Message struct {
	ID   int
	Prio uint8
	Data []byte
}

// DefaultMaxStackDepth bounds the preemption stack. The scheduler can
// never have more outstanding preempted tasks than there are tasks, so
// this only matters as a sanity backstop against a misconfigured task
// count; the spec's own suggested default is 255 (a byte's worth of
// nesting, matching the wire priority's range).
const DefaultMaxStackDepth = 255

var (
	// ErrStackOverflow is logged, never returned to a caller: a full
	// preemption stack is an internal consistency failure (it implies
	// more concurrently-preempted tasks than the task set has), not a
	// rejectable client-facing condition.
	ErrStackOverflow = errors.New("scheduler: preemption stack full")
)

// Scheduler owns the preemption stack and drives stop/resume decisions
// for a fixed array of workers, one per task.
type Scheduler struct {
	ts            *taskset.TaskSet
	workers       []*worker.Worker
	maxStackDepth int
	stack         []int
	idle          chan struct{}
}

// New constructs a scheduler over ts and workers; workers[i] must be the
// worker for task id i.
func New(ts *taskset.TaskSet, workers []*worker.Worker) *Scheduler {
	return &Scheduler{
		ts:            ts,
		workers:       workers,
		maxStackDepth: DefaultMaxStackDepth,
		idle:          make(chan struct{}, 1),
	}
}

// SetMaxStackDepth overrides DefaultMaxStackDepth. Must be called before
// Serve starts processing messages.
func (s *Scheduler) SetMaxStackDepth(n int) {
	s.maxStackDepth = n
}

// Notify implements worker.Notifier: a worker calls this when it
// finishes a callback, which wakes the scheduler's idle-tick handling.
func (s *Scheduler) Notify(taskID int) {
	select {
	case s.idle <- struct{}{}:
	default:
		// An idle tick is already pending; the pending one will observe
		// the same state this notification would have.
	}
}

// Serve runs the scheduler's event loop until ctx is cancelled,
// consuming inbound messages and worker-completion idle ticks.
func (s *Scheduler) Serve(ctx context.Context, messages <-chan Message) {
	log := logging.L()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			if err := s.OnMessage(ctx, m); err != nil {
				log.Err().Int64(`task_id`, int64(m.ID)).Err(err).Log(`message rejected`)
			}
		case <-s.idle:
			if err := s.OnIdle(ctx); err != nil {
				log.Err().Err(err).Log(`idle tick failed`)
			}
		}
	}
}

// OnMessage implements spec section 4.5.2's on_message transition.
func (s *Scheduler) OnMessage(ctx context.Context, m Message) error {
	log := logging.L()

	if m.ID < 0 || m.ID >= len(s.workers) {
		metrics.MessagesRejected.Inc()
		return fmt.Errorf("task_id %d out of range [0, %d)", m.ID, len(s.workers))
	}

	if err := s.ts.Lock(ctx); err != nil {
		return err
	}
	err := s.ts.EnqueueCallback(m.ID, m.Prio, m.Data)
	if err != nil {
		s.ts.Unlock()
		if errors.Is(err, taskset.ErrQueueFull) {
			metrics.MessagesRejected.Inc()
			log.Warning().Int64(`task_id`, int64(m.ID)).Log(`queue full, message dropped`)
			return nil
		}
		metrics.MessagesRejected.Inc()
		return err
	}
	metrics.MessagesAccepted.Inc()
	metrics.QueueDepth.WithLabelValues(fmt.Sprint(m.ID)).Set(float64(s.ts.QueueLen(m.ID)))

	h, err := s.ts.HighestPriorityTask()
	if err != nil {
		s.ts.Unlock()
		return err
	}
	r := s.ts.CurrentRunningTaskID()
	s.ts.Unlock()

	return s.transition(ctx, r, h)
}

// OnIdle implements spec section 4.5.2's on_idle transition. Serve calls
// it once per pending worker-completion notification; there is no
// periodic or timeout-driven idle tick.
func (s *Scheduler) OnIdle(ctx context.Context) error {
	if err := s.ts.Lock(ctx); err != nil {
		return err
	}
	r := s.ts.CurrentRunningTaskID()

	if r == -1 && len(s.stack) > 0 {
		t := s.pop()
		s.ts.Unlock()
		s.resume(t)
		if err := s.ts.Lock(ctx); err != nil {
			return err
		}
		// The scheduler, not the resumed worker, owns this update: a
		// resumption off the stack continues an in-flight invocation
		// rather than starting a fresh one, so the worker never reaches
		// the SetCurrentRunningTaskID call at the top of Run.
		s.ts.SetCurrentRunningTaskID(t)
		r = t
	}

	h, err := s.ts.HighestPriorityTask()
	if err != nil {
		s.ts.Unlock()
		return err
	}
	s.ts.Unlock()

	if h != -1 && h != r {
		return s.transition(ctx, r, h)
	}
	return nil
}

// transition applies the stop/resume decision table from spec section
// 4.5.2. It must signal stop/resume without the task-set semaphore
// held, per the spec's explicit deadlock note: a stopped worker's own
// shutdown path (or a freshly resumed one) may need the semaphore to
// update its state. It re-acquires the semaphore only to record which
// task the scheduler now considers running, since a resumed worker may
// be continuing an in-flight invocation rather than starting one that
// would set this itself.
func (s *Scheduler) transition(ctx context.Context, r, h int) error {
	switch {
	case r == -1 && h == -1:
		return nil
	case r == -1:
		s.resume(h)
		return s.setRunning(ctx, h)
	case r == h:
		return nil
	default:
		s.stop(r)
		s.push(r)
		s.resume(h)
		return s.setRunning(ctx, h)
	}
}

// setRunning records, under the task-set semaphore, which task the
// scheduler now considers the single running task.
func (s *Scheduler) setRunning(ctx context.Context, taskID int) error {
	if err := s.ts.Lock(ctx); err != nil {
		return err
	}
	s.ts.SetCurrentRunningTaskID(taskID)
	s.ts.Unlock()
	return nil
}

func (s *Scheduler) stop(taskID int) {
	s.workers[taskID].Suspend()
}

func (s *Scheduler) resume(taskID int) {
	s.workers[taskID].Resume()
}

func (s *Scheduler) push(taskID int) {
	if len(s.stack) >= s.maxStackDepth {
		logging.L().Err().Int64(`task_id`, int64(taskID)).Err(ErrStackOverflow).Log(`preemption stack full, dropping oldest entry`)
		s.stack = s.stack[1:]
	}
	s.stack = append(s.stack, taskID)
	metrics.PreemptionStackDepth.Set(float64(len(s.stack)))
}

func (s *Scheduler) pop() int {
	n := len(s.stack)
	t := s.stack[n-1]
	s.stack = s.stack[:n-1]
	metrics.PreemptionStackDepth.Set(float64(len(s.stack)))
	return t
}
