// Package config holds the executor's startup-time configuration: the
// values are fixed for the process lifetime and are never re-read, per
// the spec's "compile-time or startup-time" contract. It follows the
// functional-options shape the teacher uses for its own Loop
// configuration (see eventloop.LoopOption), generalized to this
// executor's settings.
package config

import "strconv"

// Config is the resolved set of startup parameters. Use New with
// Options to build one; the zero value is not meaningful.
type Config struct {
	// NumTasks is the size of the task set: one worker and one priority
	// queue per task, indices 0..NumTasks-1.
	NumTasks int

	// ArenaSize is the size in bytes of the shared allocator backing
	// store.
	ArenaSize int

	// QueueDepth is the fixed capacity of each task's input queue.
	QueueDepth int

	// ListenAddr is the TCP address the ingress boundary binds to.
	ListenAddr string

	// MaxPreemptionDepth bounds the scheduler's preemption stack.
	MaxPreemptionDepth int
}

const (
	DefaultArenaSize          = 8192
	DefaultQueueDepth         = 5
	DefaultListenAddr         = ":9090"
	DefaultMaxPreemptionDepth = 255

	// MaxNumTasks matches the wire priority field's range: a task_id is
	// delivered as a single byte, same as priority.
	MaxNumTasks = 255
)

// Option mutates a Config during New.
type Option func(*Config)

// WithArenaSize overrides the default allocator backing-store size.
func WithArenaSize(n int) Option {
	return func(c *Config) { c.ArenaSize = n }
}

// WithQueueDepth overrides the default per-task queue capacity.
func WithQueueDepth(n int) Option {
	return func(c *Config) { c.QueueDepth = n }
}

// WithListenAddr overrides the default TCP listen address.
func WithListenAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithMaxPreemptionDepth overrides the default preemption stack bound.
func WithMaxPreemptionDepth(n int) Option {
	return func(c *Config) { c.MaxPreemptionDepth = n }
}

// New builds a Config for numTasks, applying opts over the defaults.
func New(numTasks int, opts ...Option) (Config, error) {
	if numTasks <= 0 || numTasks > MaxNumTasks {
		return Config{}, &InvalidNumTasksError{NumTasks: numTasks}
	}

	c := Config{
		NumTasks:           numTasks,
		ArenaSize:          DefaultArenaSize,
		QueueDepth:         DefaultQueueDepth,
		ListenAddr:         DefaultListenAddr,
		MaxPreemptionDepth: DefaultMaxPreemptionDepth,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c, nil
}

// InvalidNumTasksError reports a task count outside [1, MaxNumTasks].
type InvalidNumTasksError struct {
	NumTasks int
}

func (e *InvalidNumTasksError) Error() string {
	if e.NumTasks <= 0 {
		return "config: n_tasks must be positive"
	}
	return "config: n_tasks exceeds the maximum of " + strconv.Itoa(MaxNumTasks)
}
