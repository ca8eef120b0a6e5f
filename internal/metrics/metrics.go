// Package metrics exposes the executor's Prometheus instrumentation:
// message accept/reject counters, per-task queue depth gauges, and
// callback latency. It is deliberately a thin, package-level registry
// rather than a struct threaded through every component, matching how
// the rest of the executor treats cross-cutting concerns (see
// internal/logging) as ambient singletons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "priorityexec",
		Name:      "messages_accepted_total",
		Help:      "Requests successfully enqueued onto a task queue.",
	})

	MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "priorityexec",
		Name:      "messages_rejected_total",
		Help:      "Requests rejected: unknown task id, full queue, or allocator exhaustion.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "priorityexec",
		Name:      "task_queue_depth",
		Help:      "Current number of pending records in a task's queue.",
	}, []string{"task_id"})

	CallbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "priorityexec",
		Name:      "callback_duration_seconds",
		Help:      "Wall-clock time a callback spent running, including time parked at a checkpoint while preempted.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task_id"})

	PreemptionStackDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "priorityexec",
		Name:      "preemption_stack_depth",
		Help:      "Number of tasks currently stopped and waiting on the scheduler's preemption stack.",
	})
)
