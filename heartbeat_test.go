package siridb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatTaskPingsEveryServer(t *testing.T) {
	p := NewPool(0)
	a := newTestServer(t)
	b := newTestServer(t)
	p.AddServer(a)
	p.AddServer(b)
	registry := NewPools()
	registry.Add(p)

	var mu sync.Mutex
	var pinged []*Server
	task := NewHeartbeatTask(time.Minute, 4,
		func() []*Pools { return []*Pools{registry} },
		func(ctx context.Context, s *Server) error {
			mu.Lock()
			pinged = append(pinged, s)
			mu.Unlock()
			return nil
		})
	mock := clock.NewMock()
	task.clock = mock

	task.Start()
	mock.Add(time.Minute)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pinged) == 2
	}, time.Second, time.Millisecond)
}

func TestHeartbeatTaskCancelStopsFurtherTicks(t *testing.T) {
	registry := NewPools()
	task := NewHeartbeatTask(time.Minute, 4,
		func() []*Pools { return []*Pools{registry} },
		func(ctx context.Context, s *Server) error { return nil })
	mock := clock.NewMock()
	task.clock = mock

	task.Start()
	task.Cancel()
	assert.Equal(t, HeartbeatCancelled, task.Status())
}
