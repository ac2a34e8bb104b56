package siridb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHandleCacheReusesOpenHandle(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "a.sdb")
	require.NoError(t, os.WriteFile(name, []byte("x"), 0644))

	c := NewFileHandleCache(2)
	f1, err := c.Open(name, os.O_RDWR, 0644)
	require.NoError(t, err)
	f2, err := c.Open(name, os.O_RDWR, 0644)
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	c.Close(name)
	c.Close(name)
}

func TestFileHandleCacheEvictsWhenFull(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 3; i++ {
		n := filepath.Join(dir, string(rune('a'+i))+".sdb")
		require.NoError(t, os.WriteFile(n, []byte("x"), 0644))
		names = append(names, n)
	}

	c := NewFileHandleCache(2)
	_, err := c.Open(names[0], os.O_RDWR, 0644)
	require.NoError(t, err)
	c.Close(names[0])

	_, err = c.Open(names[1], os.O_RDWR, 0644)
	require.NoError(t, err)
	c.Close(names[1])

	// Both slots are free (refs==0), so a third distinct name can still
	// be opened by reclaiming one of them.
	_, err = c.Open(names[2], os.O_RDWR, 0644)
	require.NoError(t, err)
	c.Close(names[2])
}

func TestFileHandleCacheExhaustedReturnsError(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 3; i++ {
		n := filepath.Join(dir, string(rune('a'+i))+".sdb")
		require.NoError(t, os.WriteFile(n, []byte("x"), 0644))
		names = append(names, n)
	}

	c := NewFileHandleCache(2)
	_, err := c.Open(names[0], os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = c.Open(names[1], os.O_RDWR, 0644)
	require.NoError(t, err)

	// Both slots are held (refs>0): a third distinct name cannot be
	// opened until one is released.
	_, err = c.Open(names[2], os.O_RDWR, 0644)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
