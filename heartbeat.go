package siridb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// HeartbeatStatus is the heartbeat background task's lifecycle
// position (spec §4.15).
type HeartbeatStatus int32

const (
	HeartbeatIdle HeartbeatStatus = iota
	HeartbeatRunning
	HeartbeatCancelled
)

// PingFunc pings one server and reports whether it is still reachable.
type PingFunc func(ctx context.Context, server *Server) error

// HeartbeatTask periodically snapshots every pool's server list and
// pings each one, bounded by a worker pool. Go's garbage collector
// keeps a snapshotted *Server alive for the duration of the ping, so
// unlike the reference's explicit incref/decref around the sleep, no
// manual refcounting is needed here — see DESIGN.md.
type HeartbeatTask struct {
	status int32 // HeartbeatStatus, atomic

	Interval time.Duration
	Workers  int
	Pools    func() []*Pools // one registry per attached database
	Ping     PingFunc

	clock clock.Clock
	timer *clock.Timer
}

// NewHeartbeatTask returns an idle task.
func NewHeartbeatTask(interval time.Duration, workers int, pools func() []*Pools, ping PingFunc) *HeartbeatTask {
	if workers <= 0 {
		workers = 8
	}
	return &HeartbeatTask{
		status:   int32(HeartbeatIdle),
		Interval: interval,
		Workers:  workers,
		Pools:    pools,
		Ping:     ping,
		clock:    clock.New(),
	}
}

// Status returns the task's current lifecycle state.
func (t *HeartbeatTask) Status() HeartbeatStatus {
	return HeartbeatStatus(atomic.LoadInt32(&t.status))
}

// Start begins the periodic loop.
func (t *HeartbeatTask) Start() {
	atomic.StoreInt32(&t.status, int32(HeartbeatRunning))
	t.scheduleNext()
}

// Cancel stops the loop, honored on the next tick boundary (spec
// §4.15's shutdown-signal cancelled flag).
func (t *HeartbeatTask) Cancel() {
	atomic.StoreInt32(&t.status, int32(HeartbeatCancelled))
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *HeartbeatTask) scheduleNext() {
	if t.Status() == HeartbeatCancelled {
		return
	}
	timer := t.clock.Timer(t.Interval)
	t.timer = timer
	go func() {
		<-timer.C
		t.tick()
	}()
}

func (t *HeartbeatTask) tick() {
	defer t.scheduleNext()
	if t.Status() != HeartbeatRunning {
		return
	}
	if t.Pools == nil || t.Ping == nil {
		return
	}

	var servers []*Server
	for _, registry := range t.Pools() {
		registry.Ascend(func(p *Pool) bool {
			servers = append(servers, p.Servers()...)
			return true
		})
	}
	if len(servers) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, t.Workers)
	for _, server := range servers {
		if t.Status() == HeartbeatCancelled {
			break
		}
		server := server
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			return t.Ping(ctx, server)
		})
	}
	_ = g.Wait()
}
