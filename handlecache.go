package siridb

import (
	"os"
	"sync"

	"github.com/cespare/xxhash"
)

// DefaultFileHandleCacheSize is the high-water mark on open shard file
// descriptors (spec section 4.14); deployments with a low OS rlimit
// should configure a smaller value.
const DefaultFileHandleCacheSize = 32768

type fhSlot struct {
	key   uint64
	name  string
	file  *os.File
	refs  int
	valid bool
}

// FileHandleCache is a fixed-size ring of open *os.File handles shared
// across shards, so the process never has more than `size` shard files
// open at once regardless of how many shards exist on disk (C14).
type FileHandleCache struct {
	mu     sync.Mutex
	slots  []fhSlot
	byKey  map[uint64]int
	cursor int
}

// NewFileHandleCache allocates a cache with room for size concurrently
// open handles.
func NewFileHandleCache(size int) *FileHandleCache {
	if size <= 0 {
		size = DefaultFileHandleCacheSize
	}
	return &FileHandleCache{
		slots: make([]fhSlot, size),
		byKey: make(map[uint64]int, size),
	}
}

// Open returns the shared *os.File for name, opening it if this is the
// first concurrent user. Each successful Open must be matched by a
// Close call; the underlying file is only actually closed once its
// reference count drops to zero and its slot is reclaimed by a later
// rotation.
func (c *FileHandleCache) Open(name string, flag int, perm os.FileMode) (*os.File, error) {
	key := xxhash.Sum64String(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.byKey[key]; ok && c.slots[i].valid && c.slots[i].name == name {
		c.slots[i].refs++
		return c.slots[i].file, nil
	}

	i, err := c.reclaimLocked()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, ErrShardIO
	}
	c.slots[i] = fhSlot{key: key, name: name, file: f, refs: 1, valid: true}
	c.byKey[key] = i
	return f, nil
}

// reclaimLocked rotates the cursor looking for a free (refs == 0) slot,
// closing whatever it finds occupying it first. Called with mu held.
func (c *FileHandleCache) reclaimLocked() (int, error) {
	n := len(c.slots)
	for scanned := 0; scanned < n; scanned++ {
		i := c.cursor
		c.cursor = (c.cursor + 1) % n
		s := &c.slots[i]
		if !s.valid {
			return i, nil
		}
		if s.refs == 0 {
			_ = s.file.Close()
			delete(c.byKey, s.key)
			s.valid = false
			return i, nil
		}
	}
	return 0, ErrOutOfMemory
}

// Close releases one reference to name's handle. The slot becomes
// eligible for reclaiming once the refcount reaches zero, but the file
// itself may stay open (warm) until the ring rotates back to it.
func (c *FileHandleCache) Close(name string) {
	key := xxhash.Sum64String(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.byKey[key]
	if !ok || !c.slots[i].valid || c.slots[i].name != name {
		return
	}
	if c.slots[i].refs > 0 {
		c.slots[i].refs--
	}
}

// CloseAll force-closes every currently open handle, used by
// Engine.Shutdown.
func (c *FileHandleCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].valid {
			_ = c.slots[i].file.Close()
			c.slots[i] = fhSlot{}
		}
	}
	c.byKey = make(map[uint64]int, len(c.slots))
	c.cursor = 0
}
