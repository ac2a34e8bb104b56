package siridb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupTestMatchesAndRecordsSeries(t *testing.T) {
	g, err := NewGroup("cpu-group", "^cpu\\.")
	require.NoError(t, err)

	assert.True(t, g.Test(1, "cpu.load"))
	assert.False(t, g.Test(2, "mem.used"))
	assert.Equal(t, []uint32{1}, g.Series())
}

func TestGroupCleanupRemovesDroppedSeries(t *testing.T) {
	g, err := NewGroup("cpu-group", "^cpu\\.")
	require.NoError(t, err)
	g.Test(1, "cpu.load")
	g.Test(2, "cpu.idle")

	g.Cleanup(func(id uint32) bool { return id == 1 })
	assert.Equal(t, []uint32{2}, g.Series())
}

func TestGroupTaskTestsNewSeriesAgainstExistingGroups(t *testing.T) {
	task := NewGroupTask(nil)
	task.Start()
	defer task.Stop()

	g, err := NewGroup("cpu-group", "^cpu\\.")
	require.NoError(t, err)
	task.AddGroup(g)
	task.AddSeries(1, "cpu.load")

	require.Eventually(t, func() bool {
		return g.Len() == 1
	}, time.Second, time.Millisecond)
}

func TestGroupTaskTestsNewGroupAgainstExistingSeries(t *testing.T) {
	existing := []seriesRef{{ID: 1, Name: "cpu.load"}, {ID: 2, Name: "mem.used"}}
	task := NewGroupTask(func() []seriesRef { return existing })
	task.Start()
	defer task.Stop()

	g, err := NewGroup("cpu-group", "^cpu\\.")
	require.NoError(t, err)
	task.AddGroup(g)

	require.Eventually(t, func() bool {
		return g.Len() == 1
	}, time.Second, time.Millisecond)
}

func TestGroupTaskStopTransitionsToClosed(t *testing.T) {
	task := NewGroupTask(nil)
	task.Start()
	assert.Equal(t, GroupRunning, task.Status())

	task.Stop()
	assert.Equal(t, GroupClosed, task.Status())
}

func TestGroupTaskGetAndDrop(t *testing.T) {
	task := NewGroupTask(nil)
	task.Start()
	defer task.Stop()

	g, err := NewGroup("cpu-group", "^cpu\\.")
	require.NoError(t, err)
	task.AddGroup(g)

	require.Eventually(t, func() bool {
		_, ok := task.Get("cpu-group")
		return ok
	}, time.Second, time.Millisecond)

	task.Drop("cpu-group")
	_, ok := task.Get("cpu-group")
	assert.False(t, ok)
}
