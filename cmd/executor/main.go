// Command executor runs the preemptive fixed-priority callback executor
// prototype: `executor <n_tasks>` starts n_tasks workers, a scheduler,
// and a TCP ingress listener, then blocks until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyrostech/priorityexec/internal/arena"
	"github.com/kyrostech/priorityexec/internal/config"
	"github.com/kyrostech/priorityexec/internal/ingress"
	"github.com/kyrostech/priorityexec/internal/logging"
	"github.com/kyrostech/priorityexec/internal/scheduler"
	"github.com/kyrostech/priorityexec/internal/taskset"
	"github.com/kyrostech/priorityexec/internal/worker"
)

var listenAddr string

func main() {
	root := &cobra.Command{
		Use:   "executor <n_tasks>",
		Short: "Run the preemptive fixed-priority callback executor",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().StringVar(&listenAddr, "listen", config.DefaultListenAddr, "TCP address for the ingress boundary")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("n_tasks must be an integer: %w", err)
	}

	cfg, err := config.New(n, config.WithListenAddr(listenAddr))
	if err != nil {
		return err
	}

	a, err := arena.Install(make([]byte, cfg.ArenaSize))
	if err != nil {
		return fmt.Errorf("allocator init: %w", err)
	}

	ts, err := taskset.New(a, cfg.NumTasks, cfg.QueueDepth)
	if err != nil {
		return fmt.Errorf("task set init: %w", err)
	}

	workers := make([]*worker.Worker, cfg.NumTasks)
	for i := range workers {
		workers[i] = worker.New(i, ts, demoCallback, nil)
	}
	sched := scheduler.New(ts, workers)
	sched.SetMaxStackDepth(cfg.MaxPreemptionDepth)
	for _, w := range workers {
		w.SetNotifier(sched)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, w := range workers {
		go w.Run(ctx)
	}

	messages := make(chan scheduler.Message, 1)
	go sched.Serve(ctx, messages)

	listener := ingress.New(cfg.ListenAddr, messages)
	logging.L().Info().Int(`n_tasks`, cfg.NumTasks).Str(`listen_addr`, cfg.ListenAddr).Log(`executor starting`)
	if err := listener.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ingress: %w", err)
	}
	return nil
}

// demoCallback stands in for the prime-counting sample workload: this
// executor's only concern is scheduling, not what callbacks compute, so
// it logs its payload and checkpoints briefly to make preemption
// observable under load.
func demoCallback(ctx context.Context, w *worker.Worker, payload []byte) {
	logging.L().Debug().Str(`payload`, string(payload)).Log(`callback invoked`)
	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Checkpoint(ctx)
		if ctx.Err() != nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
