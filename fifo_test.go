package siridb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoAppendPopCommitRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fifo")
	f, err := OpenFifo(dir)
	require.NoError(t, err)
	defer f.Close()

	require.False(t, f.HasData())
	require.NoError(t, f.Append([]byte("frame-one")))
	require.NoError(t, f.Append([]byte("frame-two")))
	require.True(t, f.HasData())

	got, err := f.Pop()
	require.NoError(t, err)
	assert.Equal(t, "frame-one", string(got))
	require.NoError(t, f.Commit())

	got, err = f.Pop()
	require.NoError(t, err)
	assert.Equal(t, "frame-two", string(got))
	require.NoError(t, f.Commit())

	assert.False(t, f.HasData())
}

func TestFifoSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fifo")
	f, err := OpenFifo(dir)
	require.NoError(t, err)
	require.NoError(t, f.Append([]byte("payload")))
	require.NoError(t, f.Close())

	f2, err := OpenFifo(dir)
	require.NoError(t, err)
	defer f2.Close()

	require.True(t, f2.HasData())
	got, err := f2.Pop()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	require.NoError(t, f2.Commit())
}

func TestFifoRollsOverOnFullFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fifo")
	f, err := OpenFifo(dir)
	require.NoError(t, err)
	defer f.Close()

	// Shrink the in file's budget to force an immediate rollover.
	f.in.freeSpace = 10

	require.NoError(t, f.Append([]byte("this-payload-does-not-fit")))
	assert.NotEqual(t, uint64(0), f.in.id)

	got, err := f.Pop()
	require.NoError(t, err)
	assert.Equal(t, "this-payload-does-not-fit", string(got))
	require.NoError(t, f.Commit())
}

func TestFifoSkipErrorDiscardsFrame(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fifo")
	f, err := OpenFifo(dir)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Append([]byte("bad-frame")))
	require.NoError(t, f.Append([]byte("good-frame")))

	_, err = f.Pop()
	require.NoError(t, err)
	require.NoError(t, f.SkipError())

	got, err := f.Pop()
	require.NoError(t, err)
	assert.Equal(t, "good-frame", string(got))
}
