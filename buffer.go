package siridb

import (
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultBufferCacheSlots is the number of fresh slots appended at once
// when the free list runs dry (spec section 3: SIRIDB_BUFFER_CACHE).
const DefaultBufferCacheSlots = 64

const (
	slotHeaderSize = 8  // 4-byte sentinel + 4-byte series id
	pointByteSize  = 16 // 8-byte ts + 8-byte value
)

var slotFreeSentinel = [4]byte{0xff, 0xff, 0xff, 0xff}
var pointFreeSentinel = [pointByteSize]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

func pointsPerSlot(slotSize int) int {
	return (slotSize - slotHeaderSize) / pointByteSize
}

// Buffer is the fixed-slot preallocated write-ahead file backing every
// series' live (not yet flushed to shard) points (C6).
type Buffer struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	slotSize   int
	perSlot    int
	cacheBatch int
	free       []int64
	size       int64
}

// OpenBuffer opens or creates the buffer file at path, sized in slots of
// slotSize bytes (spec section 3 sizes slots in multiples of 512;
// OpenBuffer does not check this). The file is
// advised RANDOM|DONTNEED since buffer slots are accessed by series id,
// not sequentially, and are not expected to stay in the page cache.
func OpenBuffer(path string, slotSize, cacheBatch int) (*Buffer, error) {
	if cacheBatch <= 0 {
		cacheBatch = DefaultBufferCacheSlots
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ErrBufferIO
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ErrBufferIO
	}
	b := &Buffer{
		file:       f,
		path:       path,
		slotSize:   slotSize,
		perSlot:    pointsPerSlot(slotSize),
		cacheBatch: cacheBatch,
		size:       info.Size(),
	}
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_RANDOM)
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED)
	return b, nil
}

// growLocked appends cacheBatch fresh, empty (free) slots to the file
// and pushes their offsets onto the free list. Called with mu held.
func (b *Buffer) growLocked() error {
	blank := make([]byte, b.slotSize)
	copy(blank[0:4], slotFreeSentinel[:])
	for i := 0; i < b.perSlot; i++ {
		copy(blank[slotHeaderSize+i*pointByteSize:], pointFreeSentinel[:])
	}
	base := b.size
	buf := make([]byte, 0, len(blank)*b.cacheBatch)
	for i := 0; i < b.cacheBatch; i++ {
		buf = append(buf, blank...)
	}
	if _, err := b.file.WriteAt(buf, base); err != nil {
		return ErrBufferIO
	}
	for i := 0; i < b.cacheBatch; i++ {
		b.free = append(b.free, base+int64(i)*int64(b.slotSize))
	}
	b.size += int64(len(buf))
	return nil
}

// bindLocked pops a free slot (growing the file first if none is free),
// writes its header for seriesID, and returns the slot's offset. Called
// with mu held.
func (b *Buffer) bindLocked(seriesID uint32) (int64, error) {
	if len(b.free) == 0 {
		if err := b.growLocked(); err != nil {
			return 0, err
		}
	}
	off := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]

	header := make([]byte, slotHeaderSize)
	header[0], header[1], header[2], header[3] = 0, 0, 0, 0
	header[4] = byte(seriesID)
	header[5] = byte(seriesID >> 8)
	header[6] = byte(seriesID >> 16)
	header[7] = byte(seriesID >> 24)
	if _, err := b.file.WriteAt(header, off); err != nil {
		return 0, ErrBufferIO
	}
	return off, nil
}

// NewSeriesSlot binds a fresh buffer slot to s, for a series that has
// never before been written to the buffer file.
func (b *Buffer) NewSeriesSlot(s *Series) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, err := b.bindLocked(s.ID)
	if err != nil {
		return err
	}
	s.bufOffset = off
	return nil
}

// WritePoint durably appends the index'th live point of s (0-based,
// matching the position it occupies in s's in-memory buffer) to its
// bound slot. index must be less than the configured points-per-slot;
// callers flush to shard before that limit is reached.
func (b *Buffer) WritePoint(s *Series, index int, ts uint64, val Value) error {
	if index >= b.perSlot {
		return ErrBufferIO
	}
	buf := make([]byte, pointByteSize)
	putU64(buf[0:8], ts)
	putU64(buf[8:16], valueBits(s.Type, val))

	b.mu.Lock()
	defer b.mu.Unlock()
	off := s.bufOffset + int64(slotHeaderSize) + int64(index)*int64(pointByteSize)
	if _, err := b.file.WriteAt(buf, off); err != nil {
		return ErrBufferIO
	}
	return nil
}

// WriteEmpty clears s's slot back to the free pattern after a flush to
// shard, leaving the header (series binding) intact.
func (b *Buffer) WriteEmpty(s *Series) error {
	blank := make([]byte, b.perSlot*pointByteSize)
	for i := 0; i < b.perSlot; i++ {
		copy(blank[i*pointByteSize:], pointFreeSentinel[:])
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.file.WriteAt(blank, s.bufOffset+int64(slotHeaderSize))
	if err != nil {
		return ErrBufferIO
	}
	return nil
}

// Fsync flushes the buffer file to stable storage; callers drive this on
// a configurable periodic interval (spec section 4.6).
func (b *Buffer) Fsync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return ErrBufferIO
	}
	if err := b.file.Sync(); err != nil {
		return ErrBufferIO
	}
	return nil
}

// Close releases the buffer file handle, e.g. while entering backup
// mode (spec §4.17).
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	if err != nil {
		return ErrBufferIO
	}
	return nil
}

// Open reopens the buffer file after a prior Close, re-applying the
// same random-access advisory.
func (b *Buffer) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := os.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ErrBufferIO
	}
	b.file = f
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_RANDOM)
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED)
	return nil
}

func putU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> uint(i*8))
	}
}

func getU64(src []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(src[i]) << uint(i*8)
	}
	return v
}

func valueBits(tp ValueType, v Value) uint64 {
	if tp == TpDouble {
		return math.Float64bits(v.Double)
	}
	return uint64(v.Int64)
}

func valueFromBits(tp ValueType, bits uint64) Value {
	if tp == TpDouble {
		return Value{Double: math.Float64frombits(bits)}
	}
	return Value{Int64: int64(bits)}
}

// Load rehydrates every bound series' live points from disk by calling
// lookup(seriesID); unbound (free) slots are recorded on the free list.
// When onDiskSlotSize differs from the buffer's configured slot size,
// the whole file is rebuilt at the new size: growing pads the tail of
// each slot with the free-point sentinel, shrinking hands points beyond
// the new per-slot capacity to overflow so the caller can flush them to
// a shard immediately (spec section 4.6) before the slot is rewritten.
func (b *Buffer) Load(onDiskSlotSize int, lookup func(seriesID uint32) (*Series, bool), overflow func(seriesID uint32, pts []Point) error) error {
	if onDiskSlotSize == b.slotSize {
		return b.loadLocked(lookup)
	}
	return b.migrate(onDiskSlotSize, lookup, overflow)
}

func (b *Buffer) loadLocked(lookup func(uint32) (*Series, bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := make([]byte, b.slotSize)
	for off := int64(0); off < b.size; off += int64(b.slotSize) {
		if _, err := b.file.ReadAt(slot, off); err != nil {
			return ErrBufferIO
		}
		if slot[0] == 0xff {
			b.free = append(b.free, off)
			continue
		}
		seriesID := uint32(slot[4]) | uint32(slot[5])<<8 | uint32(slot[6])<<16 | uint32(slot[7])<<24
		s, ok := lookup(seriesID)
		if !ok {
			b.free = append(b.free, off)
			continue
		}
		s.bufOffset = off
		for i := 0; i < b.perSlot; i++ {
			p := slot[slotHeaderSize+i*pointByteSize : slotHeaderSize+(i+1)*pointByteSize]
			if isFreePoint(p) {
				break
			}
			ts := getU64(p[0:8])
			val := valueFromBits(s.Type, getU64(p[8:16]))
			s.AddPoint(ts, val)
		}
	}
	return nil
}

func isFreePoint(p []byte) bool {
	for _, c := range p {
		if c != 0xff {
			return false
		}
	}
	return true
}

func (b *Buffer) migrate(onDiskSlotSize int, lookup func(uint32) (*Series, bool), overflow func(uint32, []Point) error) error {
	b.mu.Lock()
	oldPerSlot := pointsPerSlot(onDiskSlotSize)
	slot := make([]byte, onDiskSlotSize)
	type rawPoint struct {
		ts   uint64
		bits uint64
	}
	type found struct {
		id  uint32
		pts []rawPoint
	}
	var occupied []found
	for off := int64(0); off < b.size; off += int64(onDiskSlotSize) {
		if _, err := b.file.ReadAt(slot, off); err != nil {
			b.mu.Unlock()
			return ErrBufferIO
		}
		if slot[0] == 0xff {
			continue
		}
		seriesID := uint32(slot[4]) | uint32(slot[5])<<8 | uint32(slot[6])<<16 | uint32(slot[7])<<24
		var pts []rawPoint
		for i := 0; i < oldPerSlot; i++ {
			p := slot[slotHeaderSize+i*pointByteSize : slotHeaderSize+(i+1)*pointByteSize]
			if isFreePoint(p) {
				break
			}
			pts = append(pts, rawPoint{ts: getU64(p[0:8]), bits: getU64(p[8:16])})
		}
		occupied = append(occupied, found{id: seriesID, pts: pts})
	}
	b.mu.Unlock()

	// Rebuild the file fresh at the new slot size.
	if err := b.file.Truncate(0); err != nil {
		return ErrBufferIO
	}
	b.mu.Lock()
	b.free = nil
	b.size = 0
	b.mu.Unlock()

	for _, f := range occupied {
		s, ok := lookup(f.id)
		if !ok {
			continue
		}
		for _, p := range f.pts {
			s.AddPoint(p.ts, valueFromBits(s.Type, p.bits))
		}
		if len(f.pts) > b.perSlot && overflow != nil {
			extra := f.pts[b.perSlot:]
			converted := make([]Point, len(extra))
			for i, p := range extra {
				converted[i] = Point{Ts: p.ts, Value: valueFromBits(s.Type, p.bits)}
			}
			if err := overflow(f.id, converted); err != nil {
				return err
			}
		}
		if err := b.NewSeriesSlot(s); err != nil {
			return err
		}
		for i, p := range s.LivePoints() {
			if i >= b.perSlot {
				break
			}
			if err := b.WritePoint(s, i, p.Ts, p.Value); err != nil {
				return err
			}
		}
	}
	return nil
}
