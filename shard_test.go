package siridb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardWriteAndReadPoints(t *testing.T) {
	dir := t.TempDir()
	sh, err := CreateShard(dir, 1, 3600, TpInteger, nil)
	require.NoError(t, err)

	pts := NewPoints(TpInteger, 10)
	for i := 0; i < 10; i++ {
		pts.AddPoint(uint64(100+i), Value{Int64: int64(i * 2)})
	}

	entry, err := sh.WritePoints(42, pts, 0, pts.Len(), false, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), entry.SeriesID)
	assert.True(t, sh.Flags()&FlagHasNewValues != 0)

	out := NewPoints(TpInteger, 0)
	require.NoError(t, sh.ReadPoints(entry, 0, 1000, false, out))
	require.Equal(t, 10, out.Len())
	for i := 0; i < 10; i++ {
		assert.Equal(t, uint64(100+i), out.At(i).Ts)
		assert.Equal(t, int64(i*2), out.At(i).Value.Int64)
	}

	require.NoError(t, sh.Unref())
}

func TestShardWriteCompressedAndReload(t *testing.T) {
	dir := t.TempDir()
	sh, err := CreateShard(dir, 2, 3600, TpDouble, nil)
	require.NoError(t, err)

	pts := NewPoints(TpDouble, 5)
	for i := 0; i < 5; i++ {
		pts.AddPoint(uint64(i), Value{Double: float64(i) * 1.5})
	}
	entry, err := sh.WritePoints(7, pts, 0, pts.Len(), true, false)
	require.NoError(t, err)
	require.NoError(t, sh.Unref())

	reloaded, bySeries, err := LoadShard(dir, 2, 3600, TpDouble)
	require.NoError(t, err)
	entries, ok := bySeries[7]
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.Pos, entries[0].Pos)

	out := NewPoints(TpDouble, 0)
	require.NoError(t, reloaded.ReadPoints(entries[0], 0, 100, false, out))
	require.Equal(t, 5, out.Len())
	assert.Equal(t, 3.0, out.At(2).Value.Double)

	require.NoError(t, reloaded.Unref())
}

func TestShardOptimizeCreatesSuccessorAndRemovesOld(t *testing.T) {
	dir := t.TempDir()
	sh, err := CreateShard(dir, 3, 3600, TpInteger, nil)
	require.NoError(t, err)
	sh.MarkDroppedSeries()
	assert.True(t, sh.Flags().NeedsOptimize())

	var reencoded bool
	successor, err := sh.Optimize(func(next *Shard) error {
		reencoded = true
		assert.Equal(t, sh.ID, next.ID)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, reencoded)
	assert.True(t, sh.Flags()&FlagIsRemoved != 0)

	require.NoError(t, sh.Unref())
	require.NoError(t, successor.Unref())
}
