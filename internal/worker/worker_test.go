package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyrostech/priorityexec/internal/arena"
	"github.com/kyrostech/priorityexec/internal/taskset"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int
	ch  chan int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan int, 16)}
}

func (n *recordingNotifier) Notify(taskID int) {
	n.mu.Lock()
	n.ids = append(n.ids, taskID)
	n.mu.Unlock()
	n.ch <- taskID
}

func newTestTaskSet(t *testing.T, numTasks, queueDepth int) *taskset.TaskSet {
	t.Helper()
	a, err := arena.Install(make([]byte, 1<<16))
	require.NoError(t, err)
	ts, err := taskset.New(a, numTasks, queueDepth)
	require.NoError(t, err)
	return ts
}

func waitNotify(t *testing.T, n *recordingNotifier) int {
	t.Helper()
	select {
	case id := <-n.ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker notification")
		return -1
	}
}

func TestWorkerRunsCallbackAndFreesRecord(t *testing.T) {
	t.Parallel()
	ts := newTestTaskSet(t, 1, 4)
	notify := newRecordingNotifier()

	var ran []byte
	w := New(0, ts, func(ctx context.Context, w *Worker, payload []byte) {
		ran = append(ran, payload...)
	}, notify)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, ts.Lock(ctx))
	require.NoError(t, ts.EnqueueCallback(0, 10, []byte("hi")))
	ts.Unlock()

	w.Resume()
	require.Equal(t, 0, waitNotify(t, notify))
	require.Equal(t, "hi", string(ran))

	require.NoError(t, ts.Lock(ctx))
	require.Equal(t, 0, ts.QueueLen(0))
	ts.Unlock()
}

func TestWorkerCheckpointBlocksUntilResume(t *testing.T) {
	t.Parallel()
	ts := newTestTaskSet(t, 1, 4)
	notify := newRecordingNotifier()

	started := make(chan struct{})
	armed := make(chan struct{})
	proceeded := make(chan struct{})

	worker := New(0, ts, func(ctx context.Context, w *Worker, payload []byte) {
		close(started)
		<-armed // wait until the test has called Suspend before checkpointing
		w.Checkpoint(ctx)
		close(proceeded)
	}, notify)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	require.NoError(t, ts.Lock(ctx))
	require.NoError(t, ts.EnqueueCallback(0, 10, []byte("x")))
	ts.Unlock()

	worker.Resume()
	<-started

	worker.Suspend()
	close(armed)
	select {
	case <-proceeded:
		t.Fatal("callback proceeded past checkpoint while suspended")
	case <-time.After(50 * time.Millisecond):
	}

	worker.Resume()
	select {
	case <-proceeded:
	case <-time.After(time.Second):
		t.Fatal("callback never resumed past checkpoint")
	}
	waitNotify(t, notify)
}
