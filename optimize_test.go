package siridb

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDueShard(t *testing.T) *Shard {
	t.Helper()
	dir := t.TempDir()
	sh, err := CreateShard(dir, 1, 3600, TpInteger, nil)
	require.NoError(t, err)

	pts := NewPoints(TpInteger, 3)
	for i := 0; i < 3; i++ {
		pts.AddPoint(uint64(i), Value{Int64: int64(i)})
	}
	_, err = sh.WritePoints(1, pts, 0, pts.Len(), false, false)
	require.NoError(t, err)
	require.True(t, sh.Flags().NeedsOptimize())
	return sh
}

func TestOptimizeTaskReencodesDueShardsOnly(t *testing.T) {
	due := newDueShard(t)
	clean, err := CreateShard(t.TempDir(), 2, 3600, TpInteger, nil)
	require.NoError(t, err)
	assert.False(t, clean.Flags().NeedsOptimize())

	var mu sync.Mutex
	var reencoded []*Shard
	var optimized []*Shard

	task := NewOptimizeTask(time.Minute, 4,
		func() []*Shard { return []*Shard{due, clean} },
		func(shard, successor *Shard) error {
			mu.Lock()
			reencoded = append(reencoded, shard)
			mu.Unlock()
			return nil
		})
	task.OnOptimized = func(old, successor *Shard) {
		mu.Lock()
		optimized = append(optimized, old)
		mu.Unlock()
	}
	mock := clock.NewMock()
	task.clock = mock

	task.Start()
	mock.Add(time.Minute)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reencoded) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, due, reencoded[0])
	require.Len(t, optimized, 1)
	assert.Equal(t, due, optimized[0])
}

func TestOptimizeTaskPauseSkipsTicks(t *testing.T) {
	due := newDueShard(t)

	var calls int32
	var mu sync.Mutex
	task := NewOptimizeTask(time.Minute, 2,
		func() []*Shard { return []*Shard{due} },
		func(shard, successor *Shard) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	mock := clock.NewMock()
	task.clock = mock

	task.Start()
	task.Pause()
	assert.Equal(t, OptimizePaused, task.Status())

	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(0), calls)
}

func TestOptimizeTaskCancelStopsFurtherTicks(t *testing.T) {
	task := NewOptimizeTask(time.Minute, 2, func() []*Shard { return nil }, func(shard, successor *Shard) error { return nil })
	mock := clock.NewMock()
	task.clock = mock

	task.Start()
	task.Cancel()
	assert.Equal(t, OptimizeCancelled, task.Status())
}

func TestOptimizeTaskNoShardsIsNoop(t *testing.T) {
	task := NewOptimizeTask(time.Minute, 2, func() []*Shard { return nil }, func(shard, successor *Shard) error {
		t.Fatal("reencode should not be called when no shards are due")
		return nil
	})
	mock := clock.NewMock()
	task.clock = mock

	task.Start()
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, OptimizeRunning, task.Status())
}
