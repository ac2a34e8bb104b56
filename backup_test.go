package siridb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReopenable struct {
	closed int
	opened int
	failOpen bool
}

func (f *fakeReopenable) Close() error { f.closed++; return nil }
func (f *fakeReopenable) Open() error {
	f.opened++
	if f.failOpen {
		return ErrShardIO
	}
	return nil
}

func TestBackupModeEnableClosesAllHandles(t *testing.T) {
	buf := &fakeReopenable{}
	drop := &fakeReopenable{}
	store := &fakeReopenable{}
	shard := &fakeReopenable{}

	var paused bool
	m := &BackupMode{
		Buffer:        buf,
		DropFile:      drop,
		StoreFile:     store,
		Shards:        func() []Reopenable { return []Reopenable{shard} },
		OptimizePause: func(p bool) { paused = p },
	}

	require.NoError(t, m.Enable())
	assert.True(t, m.Enabled())
	assert.True(t, paused)
	assert.Equal(t, 1, buf.closed)
	assert.Equal(t, 1, drop.closed)
	assert.Equal(t, 1, store.closed)
	assert.Equal(t, 1, shard.closed)
}

func TestBackupModeEnableIsIdempotent(t *testing.T) {
	buf := &fakeReopenable{}
	m := &BackupMode{Buffer: buf}

	require.NoError(t, m.Enable())
	require.NoError(t, m.Enable())
	assert.Equal(t, 1, buf.closed)
}

func TestBackupModeDisableReopensAndResumes(t *testing.T) {
	buf := &fakeReopenable{}
	fifoDir := filepath.Join(t.TempDir(), "fifo")
	fifo, err := OpenFifo(fifoDir)
	require.NoError(t, err)
	defer fifo.Close()

	task := NewReplicateTask(fifo, &fakeSender{})

	var resumedPause *bool
	m := &BackupMode{
		Buffer:    buf,
		Replicate: task,
		OptimizePause: func(p bool) {
			v := p
			resumedPause = &v
		},
	}

	require.NoError(t, m.Enable())
	require.NoError(t, m.Disable())
	assert.False(t, m.Enabled())
	assert.Equal(t, 1, buf.opened)
	require.NotNil(t, resumedPause)
	assert.False(t, *resumedPause)
}

func TestBackupModeDisableLeavesOptimizePausedWhileSynchronizing(t *testing.T) {
	buf := &fakeReopenable{}
	var lastPause bool
	m := &BackupMode{
		Buffer:          buf,
		OptimizePause:   func(p bool) { lastPause = p },
		IsSynchronizing: func() bool { return true },
	}

	require.NoError(t, m.Enable())
	require.NoError(t, m.Disable())
	assert.True(t, lastPause)
}

func TestBackupModeEnableSurfacesCloseError(t *testing.T) {
	failing := &fakeFailingCloser{}
	m := &BackupMode{Buffer: failing}
	assert.Error(t, m.Enable())
}

type fakeFailingCloser struct{}

func (f *fakeFailingCloser) Close() error { return ErrShardIO }
func (f *fakeFailingCloser) Open() error  { return nil }
