// Package priorityexec is a preemptive, fixed-priority callback executor
// prototype: a single-process emulation of how a robotic middleware
// dispatches subscription and service callbacks across a fixed set of
// workers, ordered strictly by priority with preemption and LIFO
// resumption.
//
// Clients submit three-byte request frames over TCP. Each frame names a
// task (by id), a priority, and one byte of payload. The scheduler
// (internal/scheduler) always runs the highest-priority pending
// callback among eligible tasks, stopping a lower-priority callback
// mid-execution and resuming it later from exactly where it left off.
//
// See cmd/executor for the runnable entrypoint, and internal/arena,
// internal/ring, internal/taskset, internal/worker, internal/scheduler
// and internal/ingress for the core components.
package priorityexec
