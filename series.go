package siridb

import (
	"encoding/binary"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Series is one named time series: its live (unflushed) buffered points
// plus the flat, multi-shard idx list describing every chunk already
// written to disk (C5).
type Series struct {
	ID   uint32
	Name string
	Type ValueType

	mu        sync.Mutex
	idx       []IdxEntry
	buffer    *Points
	start     uint64
	end       uint64
	hasData   bool
	dropped   bool
	refs      int32
	bufOffset int64 // offset of this series' bound slot in buffer.dat, -1 if unbound
}

// NewSeries assigns a fresh in-memory Series; callers are responsible
// for indexing it in the name trie and id map (C7) under id.
func NewSeries(id uint32, name string, tp ValueType, bufferCapacity int) *Series {
	return &Series{
		ID:        id,
		Name:      name,
		Type:      tp,
		buffer:    NewPoints(tp, bufferCapacity),
		refs:      1,
		bufOffset: -1,
	}
}

// LivePoints returns a copy of the currently buffered (not yet flushed
// to shard) points, used by Buffer to persist the live WAL slot.
func (s *Series) LivePoints() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, s.buffer.Len())
	copy(out, s.buffer.Slice())
	return out
}

func (s *Series) Ref() { atomic.AddInt32(&s.refs, 1) }

// Unref returns the post-decrement reference count.
func (s *Series) Unref() int32 { return atomic.AddInt32(&s.refs, -1) }

// AddPoint appends ts/val to the live buffer and updates the series'
// start/end bounds. The invariant end >= ts and start <= ts holds after
// every call (spec section 4.5).
func (s *Series) AddPoint(ts uint64, val Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.AddPoint(ts, val)
	if !s.hasData || ts < s.start {
		s.start = ts
	}
	if !s.hasData || ts > s.end {
		s.end = ts
	}
	s.hasData = true
}

// ShouldFlush reports whether the live buffer has reached capacity and
// must be packed into a shard chunk before further writes.
func (s *Series) ShouldFlush(capacity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len() >= capacity
}

// BufferLen returns the number of live (unflushed) points.
func (s *Series) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len()
}

// Flush packs the entire live buffer into a codec chunk, writes it to
// shard, appends the resulting idx entry, and resets the buffer.
// Flushing an empty buffer is a no-op.
func (s *Series) Flush(shard *Shard, compress bool) (IdxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer.Len() == 0 {
		return IdxEntry{}, nil
	}
	entry, err := shard.WritePoints(s.ID, s.buffer, 0, s.buffer.Len(), compress, false)
	if err != nil {
		return IdxEntry{}, err
	}
	s.idx = append(s.idx, entry)
	s.buffer = NewPoints(s.Type, s.buffer.Len())
	return entry, nil
}

// ShardReader resolves a shard by id so GetPoints and OptimizeShard can
// read chunks that may live in any shard referenced by the series' idx
// list.
type ShardReader func(shardID uint64) (*Shard, bool)

// GetPoints gathers every point of the series within [startTs, endTs]:
// matching idx chunks (read via resolve) plus the live buffer. Spec
// section 4.5: "sort-merge if any idx overlap was observed" — rather
// than merging incrementally, matching entries are read in start-ts
// order and a single final stable sort is applied only if an overlap
// between entries (or between the tail entry and the buffer) was
// detected, which is cheaper for the overwhelmingly common
// non-overlapping case.
func (s *Series) GetPoints(startTs, endTs uint64, resolve ShardReader) (*Points, error) {
	s.mu.Lock()
	entries := make([]IdxEntry, 0, len(s.idx))
	for _, e := range s.idx {
		if e.EndTs < startTs || e.StartTs > endTs {
			continue
		}
		entries = append(entries, e)
	}
	bufferSnapshot := s.buffer.Range(0, s.buffer.Len())
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].StartTs < entries[j].StartTs })

	out := NewPoints(s.Type, 0)
	needsSort := false
	var prevEnd uint64
	for i, e := range entries {
		if i > 0 && e.StartTs <= prevEnd {
			needsSort = true
		}
		if e.EndTs > prevEnd {
			prevEnd = e.EndTs
		}
		shard, ok := resolve(e.ShardID)
		if !ok {
			return nil, ErrShardIO
		}
		if err := shard.ReadPoints(e, startTs, endTs, false, out); err != nil {
			return nil, err
		}
	}

	for i := 0; i < bufferSnapshot.Len(); i++ {
		p := bufferSnapshot.At(i)
		if p.Ts < startTs || p.Ts > endTs {
			continue
		}
		if len(entries) > 0 && p.Ts <= prevEnd {
			needsSort = true
		}
		out.items = append(out.items, p)
	}

	if needsSort {
		out.MergeSort()
	}
	return out, nil
}

// DropPrepare marks the series as pending removal and appends its id to
// the drop log; callers batch-fsync the log rather than syncing per
// call (spec section 4.5, section 9).
func (s *Series) DropPrepare(dropLog io.Writer) error {
	s.mu.Lock()
	s.dropped = true
	id := s.ID
	s.mu.Unlock()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	_, err := dropLog.Write(buf[:])
	return err
}

// IsDropped reports whether DropPrepare has been called.
func (s *Series) IsDropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// DropCommit finalizes removal: the caller supplies the trie/id-map
// unindex callbacks so Series itself stays independent of C7.
func (s *Series) DropCommit(unindex func()) {
	unindex()
}

// OptimizeShard re-encodes this series' chunks belonging to old into
// successor, skipping chunks the series no longer needs (e.g. the
// series was dropped in the meantime). Surviving idx entries for old
// are replaced by their successor counterparts.
func (s *Series) OptimizeShard(old, successor *Shard, compress bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return nil
	}

	kept := s.idx[:0]
	for _, e := range s.idx {
		if e.ShardID != old.ID {
			kept = append(kept, e)
			continue
		}
		pts := NewPoints(s.Type, int(e.NumPoints))
		if err := old.ReadPoints(e, e.StartTs, e.EndTs, false, pts); err != nil {
			return err
		}
		if pts.Len() == 0 {
			continue
		}
		rewritten, err := successor.WritePoints(s.ID, pts, 0, pts.Len(), compress, false)
		if err != nil {
			return err
		}
		kept = append(kept, rewritten)
	}
	s.idx = kept
	return nil
}

// UpdateProps recomputes length/start/end from the idx list plus the
// live buffer, used after a drop/optimize pass changes what the series
// owns.
func (s *Series) UpdateProps() (length uint32, start, end uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n uint32
	has := false
	for _, e := range s.idx {
		n += e.NumPoints
		if !has || e.StartTs < start {
			start = e.StartTs
		}
		if !has || e.EndTs > end {
			end = e.EndTs
		}
		has = true
	}
	n += uint32(s.buffer.Len())
	if first, ok := bufferFirst(s.buffer); ok && (!has || first.Ts < start) {
		start = first.Ts
	}
	if last, ok := s.buffer.Last(); ok && (!has || last.Ts > end) {
		end = last.Ts
	}
	s.start, s.end = start, end
	return n, start, end
}

func bufferFirst(p *Points) (Point, bool) {
	if p.Len() == 0 {
		return Point{}, false
	}
	return p.At(0), true
}
