package siridb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	sent      [][]byte
	ack       ReplicateAck
	sendErr   error
	finished  int
	finishAck ReplicateAck
}

func (f *fakeSender) SendReplicate(ctx context.Context, payload []byte) (ReplicateAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, payload)
	return f.ack, nil
}

func (f *fakeSender) SendReplicateFinished(ctx context.Context) (ReplicateAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished++
	return f.finishAck, nil
}

func waitCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestReplicateTask(t *testing.T, sender ReplicaSender) (*ReplicateTask, *clock.Mock) {
	dir := filepath.Join(t.TempDir(), "fifo")
	fifo, err := OpenFifo(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fifo.Close() })

	task := NewReplicateTask(fifo, sender)
	mock := clock.NewMock()
	task.clock = mock
	return task, mock
}

func TestReplicateTaskPopSendCommit(t *testing.T) {
	sender := &fakeSender{ack: AckSuccess}
	task, mock := newTestReplicateTask(t, sender)

	require.NoError(t, task.fifo.Append([]byte("frame")))
	task.Start()
	mock.Add(ReplicateSleep)

	waitCondition(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	})
	waitCondition(t, func() bool { return !task.fifo.HasData() })
}

func TestReplicateTaskWriteErrorLeavesFrameQueued(t *testing.T) {
	sender := &fakeSender{sendErr: errors.New("write error")}
	task, mock := newTestReplicateTask(t, sender)

	require.NoError(t, task.fifo.Append([]byte("frame")))
	task.Start()
	mock.Add(ReplicateSleep)

	waitCondition(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return true
	})
	time.Sleep(20 * time.Millisecond)
	assert.True(t, task.fifo.HasData())
}

func TestReplicateTaskSendsFinishedWhenSynchronizingAndDrained(t *testing.T) {
	sender := &fakeSender{finishAck: AckSuccess}
	task, mock := newTestReplicateTask(t, sender)

	var finishedCalled bool
	task.IsSynchronizing = func() bool { return true }
	task.OnFinishedAck = func() { finishedCalled = true }

	task.Start()
	mock.Add(ReplicateSleep)

	waitCondition(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return sender.finished == 1
	})
	waitCondition(t, func() bool { return finishedCalled })
}

func TestReplicateTaskPauseFromIdleIsImmediate(t *testing.T) {
	task, _ := newTestReplicateTask(t, &fakeSender{})
	require.True(t, task.IsIdle())

	task.Pause()
	assert.Equal(t, ReplicatePaused, task.Status())
}

func TestReplicateTaskPauseWhileRunningGoesThroughStopping(t *testing.T) {
	sender := &fakeSender{ack: AckSuccess}
	task, _ := newTestReplicateTask(t, sender)

	task.Start()
	task.Pause()
	assert.Equal(t, ReplicateStopping, task.Status())
}

func TestReplicateTaskContinueFromStoppingResumesRunning(t *testing.T) {
	task, _ := newTestReplicateTask(t, &fakeSender{})
	task.Start()
	task.Pause()
	require.Equal(t, ReplicateStopping, task.Status())

	task.Continue()
	assert.Equal(t, ReplicateRunning, task.Status())
}

func TestReplicateTaskContinueFromIdleIsNoop(t *testing.T) {
	task, _ := newTestReplicateTask(t, &fakeSender{})
	require.True(t, task.IsIdle())

	task.Continue()
	assert.Equal(t, ReplicateIdle, task.Status())
}

func TestReplicateTaskClose(t *testing.T) {
	task, _ := newTestReplicateTask(t, &fakeSender{})
	task.Start()
	task.Close()
	assert.Equal(t, ReplicateClosed, task.Status())
}
