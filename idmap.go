package siridb

import "sync"

// idMapStore holds the 256 values addressed by the low byte of a key.
type idMapStore struct {
	size int
	data [256]interface{}
}

// idMapGrid holds the 256 stores addressed by the second byte of a key.
type idMapGrid struct {
	size  int
	store [256]*idMapStore
}

// IDMap32 is a 3-level radix map over uint32 keys (C7's imap): the top
// 16 bits select a grid from a sparse map (keys in this domain -
// shard ids, series ids - cluster densely, so a Go map stands in for
// the original's offset-indexed growable array), the next byte selects
// a store within the grid, and the low byte indexes directly into it.
type IDMap32 struct {
	mu    sync.RWMutex
	len   int
	grids map[uint16]*idMapGrid
}

// NewIDMap32 returns an empty map.
func NewIDMap32() *IDMap32 {
	return &IDMap32{grids: make(map[uint16]*idMapGrid)}
}

func splitKey32(id uint32) (top uint16, mid, low byte) {
	return uint16(id >> 16), byte(id >> 8), byte(id)
}

// Add stores data under id. If id already holds data, it is overwritten
// when overwrite is true; otherwise Add reports false and leaves the map
// unchanged (mirroring imap32_add's EXISTS result).
func (m *IDMap32) Add(id uint32, data interface{}, overwrite bool) bool {
	top, mid, low := splitKey32(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	grid, ok := m.grids[top]
	if !ok {
		grid = &idMapGrid{}
		m.grids[top] = grid
	}
	store := grid.store[mid]
	if store == nil {
		store = &idMapStore{}
		grid.store[mid] = store
		grid.size++
	}
	if store.data[low] != nil {
		if !overwrite {
			return false
		}
		store.data[low] = data
		return true
	}
	store.data[low] = data
	store.size++
	m.len++
	return true
}

// Get returns the data stored at id and true, or nil/false if absent.
func (m *IDMap32) Get(id uint32) (interface{}, bool) {
	top, mid, low := splitKey32(id)

	m.mu.RLock()
	defer m.mu.RUnlock()

	grid, ok := m.grids[top]
	if !ok {
		return nil, false
	}
	store := grid.store[mid]
	if store == nil {
		return nil, false
	}
	data := store.data[low]
	return data, data != nil
}

// Pop removes and returns the data stored at id, pruning the now-empty
// store/grid levels.
func (m *IDMap32) Pop(id uint32) (interface{}, bool) {
	top, mid, low := splitKey32(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	grid, ok := m.grids[top]
	if !ok {
		return nil, false
	}
	store := grid.store[mid]
	if store == nil || store.data[low] == nil {
		return nil, false
	}
	data := store.data[low]
	store.data[low] = nil
	store.size--
	m.len--
	if store.size == 0 {
		grid.store[mid] = nil
		grid.size--
	}
	if grid.size == 0 {
		delete(m.grids, top)
	}
	return data, true
}

// Len reports the number of stored entries.
func (m *IDMap32) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.len
}

// WalkFunc receives an id and its data during a walk. Returning false
// stops the walk early.
type WalkFunc func(id uint32, data interface{}) bool

// Walk visits every stored entry in unspecified order.
func (m *IDMap32) Walk(cb WalkFunc) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for top, grid := range m.grids {
		for mid, store := range grid.store {
			if store == nil {
				continue
			}
			for low, data := range store.data {
				if data == nil {
					continue
				}
				id := uint32(top)<<16 | uint32(mid)<<8 | uint32(low)
				if !cb(id, data) {
					return
				}
			}
		}
	}
}

// WalkN visits at most n stored entries.
func (m *IDMap32) WalkN(n int, cb WalkFunc) {
	remaining := n
	m.Walk(func(id uint32, data interface{}) bool {
		if remaining <= 0 {
			return false
		}
		remaining--
		return cb(id, data)
	})
}

// ToSlice collects every stored value into a slice (imap32_2slist).
func (m *IDMap32) ToSlice() []interface{} {
	out := make([]interface{}, 0, m.Len())
	m.Walk(func(_ uint32, data interface{}) bool {
		out = append(out, data)
		return true
	})
	return out
}

// IDMap64 is the uint64-keyed counterpart to IDMap32, for keys with an
// unbounded range such as shard ids (floor(ts/duration)); Database itself
// keeps its shards in a plain map[uint64]*Shard. It layers one extra 16-bit
// level on top of IDMap32's scheme (imap64's grid-of-grids).
type IDMap64 struct {
	mu    sync.RWMutex
	len   int
	outer map[uint32]*IDMap32
}

// NewIDMap64 returns an empty map.
func NewIDMap64() *IDMap64 {
	return &IDMap64{outer: make(map[uint32]*IDMap32)}
}

// Add stores data under id, overwriting per the same rule as IDMap32.Add.
func (m *IDMap64) Add(id uint64, data interface{}, overwrite bool) bool {
	hi := uint32(id >> 32)
	lo := uint32(id)

	m.mu.Lock()
	inner, ok := m.outer[hi]
	if !ok {
		inner = NewIDMap32()
		m.outer[hi] = inner
	}
	m.mu.Unlock()

	before := inner.Len()
	ok2 := inner.Add(lo, data, overwrite)
	if ok2 && inner.Len() > before {
		m.mu.Lock()
		m.len++
		m.mu.Unlock()
	}
	return ok2
}

// Get returns the data stored at id and true, or nil/false if absent.
func (m *IDMap64) Get(id uint64) (interface{}, bool) {
	hi := uint32(id >> 32)
	lo := uint32(id)

	m.mu.RLock()
	inner, ok := m.outer[hi]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return inner.Get(lo)
}

// Pop removes and returns the data stored at id.
func (m *IDMap64) Pop(id uint64) (interface{}, bool) {
	hi := uint32(id >> 32)
	lo := uint32(id)

	m.mu.Lock()
	inner, ok := m.outer[hi]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, found := inner.Pop(lo)
	if found {
		m.mu.Lock()
		m.len--
		if inner.Len() == 0 {
			delete(m.outer, hi)
		}
		m.mu.Unlock()
	}
	return data, found
}

// Len reports the number of stored entries.
func (m *IDMap64) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.len
}

// WalkFunc64 receives an id and its data during a walk.
type WalkFunc64 func(id uint64, data interface{}) bool

// Walk visits every stored entry in unspecified order.
func (m *IDMap64) Walk(cb WalkFunc64) {
	m.mu.RLock()
	pairs := make([]struct {
		hi    uint32
		inner *IDMap32
	}, 0, len(m.outer))
	for hi, inner := range m.outer {
		pairs = append(pairs, struct {
			hi    uint32
			inner *IDMap32
		}{hi, inner})
	}
	m.mu.RUnlock()

	for _, p := range pairs {
		stop := false
		p.inner.Walk(func(lo uint32, data interface{}) bool {
			id := uint64(p.hi)<<32 | uint64(lo)
			if !cb(id, data) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}
