package siridb

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/multierr"
)

// ReplicateSleep is how often the replication task reschedules itself
// while running (spec §4.10's REPLICATE_SLEEP).
const ReplicateSleep = 100 * time.Millisecond

// ReplicateStatus is the replication task's state machine position.
type ReplicateStatus int32

const (
	ReplicateIdle ReplicateStatus = iota
	ReplicateRunning
	ReplicatePaused
	ReplicateStopping
	ReplicateClosed
)

// ReplicateAck classifies a replica's response to a forwarded packet.
type ReplicateAck int

const (
	AckSuccess ReplicateAck = iota
	AckWriteError
	AckTimeout
	AckUnexpected
)

// ReplicaSender delivers FIFO frames to the replica server. Implemented
// by the wire-protocol client; a fake stands in for tests.
type ReplicaSender interface {
	SendReplicate(ctx context.Context, payload []byte) (ReplicateAck, error)
	SendReplicateFinished(ctx context.Context) (ReplicateAck, error)
}

// ReplicateTask pops FIFO frames and forwards them to a replica,
// committing on ack and leaving the frame queued for redelivery on
// write error (C10).
type ReplicateTask struct {
	mu     sync.Mutex
	status ReplicateStatus
	fifo   *Fifo
	sender ReplicaSender
	clock  clock.Clock
	timer  *clock.Timer

	// IsSynchronizing reports whether the replica is still catching up
	// (re-indexing); when true and the FIFO drains, a replication-
	// finished control frame is sent instead of idling.
	IsSynchronizing func() bool
	// OnFinishedAck is called once the replica acks replication-finished,
	// flipping it from synchronizing to available.
	OnFinishedAck func()
}

// NewReplicateTask returns an idle task bound to fifo and sender.
func NewReplicateTask(fifo *Fifo, sender ReplicaSender) *ReplicateTask {
	return &ReplicateTask{fifo: fifo, sender: sender, clock: clock.New(), status: ReplicateIdle}
}

// IsIdle reports whether the task may be started.
func (t *ReplicateTask) IsIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == ReplicateIdle
}

// Status returns the current state.
func (t *ReplicateTask) Status() ReplicateStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Start transitions idle -> running and schedules the first tick. Only
// valid to call while IsIdle().
func (t *ReplicateTask) Start() {
	t.mu.Lock()
	t.status = ReplicateRunning
	t.mu.Unlock()
	t.scheduleNext()
}

// Pause requests the task stop running. If currently idle it goes
// straight to paused; otherwise it transitions through stopping and the
// caller should poll Status() for ReplicatePaused before touching the
// FIFO file handles.
func (t *ReplicateTask) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == ReplicateIdle {
		t.status = ReplicatePaused
	} else {
		t.status = ReplicateStopping
	}
}

// Continue resumes a stopping task (back to running, with the next tick
// scheduled). From any other state, paused included, it sets the task
// idle, ready for Start.
func (t *ReplicateTask) Continue() {
	t.mu.Lock()
	wasStopping := t.status == ReplicateStopping
	if wasStopping {
		t.status = ReplicateRunning
	} else {
		t.status = ReplicateIdle
	}
	t.mu.Unlock()
	if wasStopping {
		t.scheduleNext()
	}
}

// Close stops the task permanently.
func (t *ReplicateTask) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.status = ReplicateClosed
}

func (t *ReplicateTask) scheduleNext() {
	t.mu.Lock()
	timer := t.clock.Timer(ReplicateSleep)
	t.timer = timer
	t.mu.Unlock()

	go func() {
		<-timer.C
		t.tick()
	}()
}

// tick runs one iteration of the work loop: pop-send-commit when
// running, or a replication-finished handshake when the FIFO has
// drained while the replica is synchronizing.
func (t *ReplicateTask) tick() (err error) {
	t.mu.Lock()
	status := t.status
	t.mu.Unlock()

	if status == ReplicateStopping {
		t.mu.Lock()
		t.status = ReplicatePaused
		t.mu.Unlock()
		return nil
	}
	if status != ReplicateRunning {
		return nil
	}
	defer t.scheduleNext()

	span := opentracing.StartSpan("replicate.tick")
	defer span.Finish()
	ctx := opentracing.ContextWithSpan(context.Background(), span)

	if !t.fifo.HasData() {
		if t.IsSynchronizing != nil && t.IsSynchronizing() {
			ack, sendErr := t.sender.SendReplicateFinished(ctx)
			if sendErr != nil {
				return multierr.Append(err, sendErr)
			}
			if ack == AckSuccess && t.OnFinishedAck != nil {
				t.OnFinishedAck()
			}
		}
		return nil
	}

	payload, popErr := t.fifo.Pop()
	if popErr != nil {
		return popErr
	}

	ack, sendErr := t.sender.SendReplicate(ctx, payload)
	switch {
	case sendErr != nil:
		// Write error: leave the packet queued for redelivery next tick.
		return sendErr
	case ack == AckSuccess:
		return t.fifo.Commit()
	case ack == AckWriteError:
		return nil
	default: // timeout or unexpected reply: assume applied, log and skip
		return t.fifo.SkipError()
	}
}
