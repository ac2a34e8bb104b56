package siridb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// OptimizeStatus is the optimize background task's lifecycle position
// (spec §4.15).
type OptimizeStatus int32

const (
	OptimizeIdle OptimizeStatus = iota
	OptimizeRunning
	OptimizePaused
	OptimizeCancelled
)

// ShardReencoder rewrites a shard's surviving chunks into successor,
// mirroring Series.OptimizeShard for every series the shard holds.
type ShardReencoder func(shard *Shard, successor *Shard) error

// OptimizeTask periodically walks the shards eligible for compaction
// (spec §3: Shard flags HasOverlap|HasNewValues|HasDroppedSeries|
// IsCorrupt) and rewrites each via the codec, bounded by a worker pool
// and honoring cancellation and backup-mode pause.
type OptimizeTask struct {
	status int32 // OptimizeStatus, atomic

	Interval  time.Duration
	Workers   int
	Shards    func() []*Shard
	Reencode  ShardReencoder
	OnOptimized func(old, successor *Shard)

	clock clock.Clock
	timer *clock.Timer
}

// NewOptimizeTask returns an idle task.
func NewOptimizeTask(interval time.Duration, workers int, shards func() []*Shard, reencode ShardReencoder) *OptimizeTask {
	if workers <= 0 {
		workers = 8
	}
	return &OptimizeTask{
		status:   int32(OptimizeIdle),
		Interval: interval,
		Workers:  workers,
		Shards:   shards,
		Reencode: reencode,
		clock:    clock.New(),
	}
}

// Status returns the task's current lifecycle state.
func (t *OptimizeTask) Status() OptimizeStatus {
	return OptimizeStatus(atomic.LoadInt32(&t.status))
}

// Start begins the periodic loop.
func (t *OptimizeTask) Start() {
	atomic.StoreInt32(&t.status, int32(OptimizeRunning))
	t.scheduleNext()
}

// Pause suspends the loop without cancelling it (spec §4.17: explicitly
// paused during backup mode); a later Start resumes it.
func (t *OptimizeTask) Pause() {
	atomic.CompareAndSwapInt32(&t.status, int32(OptimizeRunning), int32(OptimizePaused))
}

// Cancel stops the loop permanently, honored on the next tick boundary
// (spec §4.15: "honor a cancelled status set by the shutdown signal
// handler").
func (t *OptimizeTask) Cancel() {
	atomic.StoreInt32(&t.status, int32(OptimizeCancelled))
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *OptimizeTask) scheduleNext() {
	if t.Status() == OptimizeCancelled {
		return
	}
	timer := t.clock.Timer(t.Interval)
	t.timer = timer
	go func() {
		<-timer.C
		t.tick()
	}()
}

func (t *OptimizeTask) tick() {
	defer t.scheduleNext()

	switch t.Status() {
	case OptimizeCancelled, OptimizePaused:
		return
	case OptimizeRunning:
	default:
		return
	}

	if t.Shards == nil || t.Reencode == nil {
		return
	}

	var due []*Shard
	for _, s := range t.Shards() {
		if s.Flags().NeedsOptimize() {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		return
	}

	g, _ := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, t.Workers)
	for _, shard := range due {
		if t.Status() == OptimizeCancelled {
			break
		}
		shard := shard
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			successor, err := shard.Optimize(func(s *Shard) error {
				return t.Reencode(shard, s)
			})
			if err != nil {
				return err
			}
			if t.OnOptimized != nil {
				t.OnOptimized(shard, successor)
			}
			return nil
		})
	}
	_ = g.Wait()
}
