package siridb

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrieAddGetExists(t *testing.T) {
	tr := NewTrie()
	require.True(t, tr.Add([]byte("cpu.temp"), 1))
	require.False(t, tr.Add([]byte("cpu.temp"), 2))

	v, ok := tr.Get([]byte("cpu.temp"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = tr.Get([]byte("cpu.missing"))
	assert.False(t, ok)
}

func TestTrieSharedPrefixSplit(t *testing.T) {
	tr := NewTrie()
	require.True(t, tr.Add([]byte("cpu.temperature"), "a"))
	require.True(t, tr.Add([]byte("cpu.temp"), "b"))
	require.True(t, tr.Add([]byte("cpu.usage"), "c"))

	v, ok := tr.Get([]byte("cpu.temperature"))
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = tr.Get([]byte("cpu.temp"))
	require.True(t, ok)
	assert.Equal(t, "b", v)

	v, ok = tr.Get([]byte("cpu.usage"))
	require.True(t, ok)
	assert.Equal(t, "c", v)

	assert.Equal(t, 3, tr.Len())
}

func TestTriePopRemovesEntry(t *testing.T) {
	tr := NewTrie()
	tr.Add([]byte("mem.free"), 1)
	tr.Add([]byte("mem.used"), 2)

	v, ok := tr.Pop([]byte("mem.free"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = tr.Get([]byte("mem.free"))
	assert.False(t, ok)

	v, ok = tr.Get([]byte("mem.used"))
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = tr.Pop([]byte("mem.free"))
	assert.False(t, ok)
}

func TestTrieItemsAndValues(t *testing.T) {
	tr := NewTrie()
	names := []string{"a.one", "a.two", "b.one", "b.two.three"}
	for i, n := range names {
		tr.Add([]byte(n), i)
	}

	var seen []string
	tr.Items(func(key []byte, data interface{}) bool {
		seen = append(seen, string(key))
		return true
	})
	sort.Strings(seen)
	sort.Strings(names)
	assert.Equal(t, names, seen)

	count := 0
	tr.Values(func(interface{}) bool { count++; return true })
	assert.Equal(t, 4, count)
}

func TestTrieValuesNStopsEarly(t *testing.T) {
	tr := NewTrie()
	for i := 0; i < 10; i++ {
		tr.Add([]byte{byte('a' + i)}, i)
	}
	count := 0
	tr.ValuesN(3, func(interface{}) bool { count++; return true })
	assert.Equal(t, 3, count)
}
