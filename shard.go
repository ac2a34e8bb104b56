package siridb

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ShardFlags records a shard's on-disk condition bits (spec section 3).
type ShardFlags uint8

const (
	FlagHasIndex ShardFlags = 1 << iota
	FlagHasOverlap
	FlagHasNewValues
	FlagHasDroppedSeries
	FlagIsRemoved
	FlagIsLoading
	FlagIsCorrupt
	FlagIsCompressed
)

// NeedsOptimize reports whether any of the flags that make a shard
// eligible for compaction are set (spec section 3: Shard F).
func (f ShardFlags) NeedsOptimize() bool {
	return f&(FlagHasOverlap|FlagHasNewValues|FlagHasDroppedSeries|FlagIsCorrupt) != 0
}

// IdxEntry is one fixed-size record of a shard's companion .idx file,
// describing a single codec chunk belonging to one series. ShardID is
// redundant within a single shard's own .idx file (every entry in it
// necessarily belongs to that shard) but is carried on every entry so a
// series can keep one flat, multi-shard idx list in memory (spec
// section 9: "series stores a list of {shard_id, pos, len, start_ts,
// end_ts}") without a second lookup to find which shard a chunk lives
// in.
type IdxEntry struct {
	ShardID   uint64
	SeriesID  uint32
	Pos       uint64
	Len       uint32
	Cinfo     uint16
	NumPoints uint32
	StartTs   uint64
	EndTs     uint64
}

const idxEntrySize = 8 + 4 + 8 + 4 + 2 + 4 + 8 + 8

// Shard owns a single shard's data (.sdb) and index (.idx) files (C4).
// A shard holds all points of all series whose timestamps fall within
// one fixed-duration window (spec section 9).
type Shard struct {
	ID       uint64
	Duration uint64
	Type     ValueType

	mu        sync.Mutex
	flags     ShardFlags
	dir       string
	dataPath  string
	idxPath   string
	dataFile  *os.File
	idxFile   *os.File
	size      int64
	refs      int32
	replacing *Shard // predecessor being compacted away, if any
}

func shardDataPath(dir string, id uint64) string {
	return filepath.Join(dir, "shards", itoa(id)+".sdb")
}

func shardIdxPath(dir string, id uint64) string {
	return filepath.Join(dir, "shards", itoa(id)+".idx")
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// CreateShard opens a brand-new shard, optionally recording it as the
// successor of an existing shard undergoing optimize().
func CreateShard(dir string, id, duration uint64, tp ValueType, replacing *Shard) (*Shard, error) {
	return createShardAt(dir, shardDataPath(dir, id), shardIdxPath(dir, id), id, duration, tp, replacing)
}

func createShardAt(dir, dataPath, idxPath string, id, duration uint64, tp ValueType, replacing *Shard) (*Shard, error) {
	if err := os.MkdirAll(filepath.Join(dir, "shards"), 0755); err != nil {
		return nil, ErrShardIO
	}
	df, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ErrShardIO
	}
	xf, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		_ = df.Close()
		return nil, ErrShardIO
	}
	return &Shard{
		ID:        id,
		Duration:  duration,
		Type:      tp,
		dir:       dir,
		dataPath:  dataPath,
		idxPath:   idxPath,
		dataFile:  df,
		idxFile:   xf,
		flags:     FlagHasIndex,
		refs:      1,
		replacing: replacing,
	}, nil
}

// LoadShard reopens an existing shard and parses its idx file, returning
// the per-series chunk index so the caller (a series map rehydrating at
// startup) can attach entries to each referenced series.
func LoadShard(dir string, id, duration uint64, tp ValueType) (*Shard, map[uint32][]IdxEntry, error) {
	df, err := os.OpenFile(shardDataPath(dir, id), os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, ErrShardIO
	}
	xf, err := os.OpenFile(shardIdxPath(dir, id), os.O_RDWR, 0644)
	if err != nil {
		_ = df.Close()
		return nil, nil, ErrShardIO
	}
	info, err := df.Stat()
	if err != nil {
		_ = df.Close()
		_ = xf.Close()
		return nil, nil, ErrShardIO
	}

	s := &Shard{
		ID:       id,
		Duration: duration,
		Type:     tp,
		dir:      dir,
		dataPath: shardDataPath(dir, id),
		idxPath:  shardIdxPath(dir, id),
		dataFile: df,
		idxFile:  xf,
		flags:    FlagHasIndex,
		size:     info.Size(),
		refs:     1,
	}

	bySeries := map[uint32][]IdxEntry{}
	buf := make([]byte, idxEntrySize)
	for {
		if _, err := io.ReadFull(xf, buf); err != nil {
			if err == io.EOF {
				break
			}
			s.flags |= FlagIsCorrupt
			break
		}
		e := decodeIdxEntry(buf)
		bySeries[e.SeriesID] = append(bySeries[e.SeriesID], e)
	}
	return s, bySeries, nil
}

func decodeIdxEntry(buf []byte) IdxEntry {
	return IdxEntry{
		ShardID:   binary.LittleEndian.Uint64(buf[0:8]),
		SeriesID:  binary.LittleEndian.Uint32(buf[8:12]),
		Pos:       binary.LittleEndian.Uint64(buf[12:20]),
		Len:       binary.LittleEndian.Uint32(buf[20:24]),
		Cinfo:     binary.LittleEndian.Uint16(buf[24:26]),
		NumPoints: binary.LittleEndian.Uint32(buf[26:30]),
		StartTs:   binary.LittleEndian.Uint64(buf[30:38]),
		EndTs:     binary.LittleEndian.Uint64(buf[38:46]),
	}
}

func encodeIdxEntry(e IdxEntry) []byte {
	buf := make([]byte, idxEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.ShardID)
	binary.LittleEndian.PutUint32(buf[8:12], e.SeriesID)
	binary.LittleEndian.PutUint64(buf[12:20], e.Pos)
	binary.LittleEndian.PutUint32(buf[20:24], e.Len)
	binary.LittleEndian.PutUint16(buf[24:26], e.Cinfo)
	binary.LittleEndian.PutUint32(buf[26:30], e.NumPoints)
	binary.LittleEndian.PutUint64(buf[30:38], e.StartTs)
	binary.LittleEndian.PutUint64(buf[38:46], e.EndTs)
	return buf
}

// Ref implements the reference counting the design notes call for around
// series/shard/server/user/group lifetimes (spec section 9).
func (s *Shard) Ref() { atomic.AddInt32(&s.refs, 1) }

// Unref drops the reference count, closing and (if marked removed)
// unlinking the shard's files once it reaches zero. A shard that has
// been superseded by Optimize is already finalized (its handles closed
// and its on-disk files handed to the successor) and Unref becomes a
// no-op for it, since removing its path now would delete the
// successor's live data.
func (s *Shard) Unref() error {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataFile == nil {
		return nil
	}
	removed := s.flags&FlagIsRemoved != 0
	dataErr := s.dataFile.Close()
	idxErr := s.idxFile.Close()
	if removed {
		_ = os.Remove(s.dataPath)
		_ = os.Remove(s.idxPath)
	}
	s.dataFile, s.idxFile = nil, nil
	if dataErr != nil || idxErr != nil {
		return ErrShardIO
	}
	return nil
}

// WritePoints appends a codec chunk covering points[start:end) for
// seriesID and appends the corresponding idx entry. overlap marks
// whether this range lands behind the shard's prior high-water mark
// (e.g. a replicated out-of-order write), which callers use to decide
// whether later reads must sort-merge instead of append.
func (s *Shard) WritePoints(seriesID uint32, points *Points, start, end int, compress, overlap bool) (IdxEntry, error) {
	cinfo, data := Zip(points, start, end)
	if compress {
		data = CompressChunk(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	off := s.size
	if _, err := s.dataFile.WriteAt(data, off); err != nil {
		return IdxEntry{}, ErrShardIO
	}
	s.size += int64(len(data))

	first := points.At(start)
	last := points.At(end - 1)
	entry := IdxEntry{
		ShardID:   s.ID,
		SeriesID:  seriesID,
		Pos:       uint64(off),
		Len:       uint32(len(data)),
		Cinfo:     cinfo,
		NumPoints: uint32(end - start),
		StartTs:   first.Ts,
		EndTs:     last.Ts,
	}
	if _, err := s.idxFile.Write(encodeIdxEntry(entry)); err != nil {
		return IdxEntry{}, ErrShardIO
	}

	s.flags |= FlagHasNewValues
	if compress {
		s.flags |= FlagIsCompressed
	}
	if overlap {
		s.flags |= FlagHasOverlap
	}
	return entry, nil
}

// ReadPoints reads one chunk back and merges (if hasOverlap) or appends
// (otherwise) its in-range points into out. This is the Go equivalent of
// the get_points_{num,log}{32,64}[_compressed] callback table (spec
// section 4.4): the table is keyed on {log vs numeric, 32 vs 64-bit
// timestamp width, compressed vs raw} and built once in init().
func (s *Shard) ReadPoints(entry IdxEntry, startTs, endTs uint64, hasOverlap bool, out *Points) error {
	isLog := out.Type == TpString
	is32 := entry.StartTs < 1<<32 && entry.EndTs < 1<<32
	compressed := s.flags&FlagIsCompressed != 0

	fn, ok := shardReaders[shardReaderKey{isLog: isLog, is32: is32, compressed: compressed}]
	if !ok {
		return ErrCorruptChunk
	}
	return fn(s, entry, out.Type, startTs, endTs, hasOverlap, out)
}

type shardReaderKey struct {
	isLog      bool
	is32       bool
	compressed bool
}

type shardReaderFunc func(s *Shard, entry IdxEntry, tp ValueType, startTs, endTs uint64, hasOverlap bool, out *Points) error

var shardReaders map[shardReaderKey]shardReaderFunc

func init() {
	shardReaders = map[shardReaderKey]shardReaderFunc{}
	for _, is32 := range []bool{false, true} {
		for _, compressed := range []bool{false, true} {
			shardReaders[shardReaderKey{isLog: false, is32: is32, compressed: compressed}] = readNumChunk
			shardReaders[shardReaderKey{isLog: true, is32: is32, compressed: compressed}] = readLogChunk
		}
	}
}

func (s *Shard) loadChunk(entry IdxEntry) ([]byte, error) {
	raw := make([]byte, entry.Len)
	if _, err := s.dataFile.ReadAt(raw, int64(entry.Pos)); err != nil {
		return nil, ErrShardIO
	}
	if s.flags&FlagIsCompressed != 0 {
		dec, err := DecompressChunk(raw)
		if err != nil {
			return nil, err
		}
		return dec, nil
	}
	return raw, nil
}

func readNumChunk(s *Shard, entry IdxEntry, tp ValueType, startTs, endTs uint64, hasOverlap bool, out *Points) error {
	raw, err := s.loadChunk(entry)
	if err != nil {
		return err
	}
	pts := Unzip(tp, raw, int(entry.NumPoints), entry.Cinfo)
	appendInRange(out, pts, startTs, endTs, hasOverlap)
	return nil
}

func readLogChunk(s *Shard, entry IdxEntry, tp ValueType, startTs, endTs uint64, hasOverlap bool, out *Points) error {
	raw, err := s.loadChunk(entry)
	if err != nil {
		return err
	}
	pts := UnzipLog(raw, int(entry.NumPoints))
	appendInRange(out, pts, startTs, endTs, hasOverlap)
	return nil
}

func appendInRange(out *Points, pts []Point, startTs, endTs uint64, merge bool) {
	for _, p := range pts {
		if p.Ts < startTs || p.Ts > endTs {
			continue
		}
		if merge {
			out.AddPoint(p.Ts, p.Value)
		} else {
			out.items = append(out.items, p)
		}
	}
}

// Optimize creates a successor shard and hands it to reencode, which is
// expected to walk every still-live series and call WritePoints on the
// successor for each surviving chunk (C5's optimize_shard). Once
// reencode returns without error the old shard is marked removed; the
// caller swaps its shard-map entry to the successor and unrefs the old
// shard.
func (s *Shard) Optimize(reencode func(successor *Shard) error) (*Shard, error) {
	tmpData := s.dataPath + ".optimize"
	tmpIdx := s.idxPath + ".optimize"
	_ = os.Remove(tmpData)
	_ = os.Remove(tmpIdx)

	successor, err := createShardAt(s.dir, tmpData, tmpIdx, s.ID, s.Duration, s.Type, s)
	if err != nil {
		return nil, err
	}
	if err := reencode(successor); err != nil {
		_ = successor.dataFile.Close()
		_ = successor.idxFile.Close()
		_ = os.Remove(tmpData)
		_ = os.Remove(tmpIdx)
		return nil, err
	}

	s.mu.Lock()
	s.flags |= FlagIsRemoved
	dataErr := s.dataFile.Close()
	idxErr := s.idxFile.Close()
	s.dataFile, s.idxFile = nil, nil
	s.mu.Unlock()
	if dataErr != nil || idxErr != nil {
		return nil, ErrShardIO
	}

	if err := successor.dataFile.Close(); err != nil {
		return nil, ErrShardIO
	}
	if err := successor.idxFile.Close(); err != nil {
		return nil, ErrShardIO
	}
	if err := os.Rename(tmpData, s.dataPath); err != nil {
		return nil, ErrShardIO
	}
	if err := os.Rename(tmpIdx, s.idxPath); err != nil {
		return nil, ErrShardIO
	}

	successor.dataPath = s.dataPath
	successor.idxPath = s.idxPath
	df, err := os.OpenFile(successor.dataPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, ErrShardIO
	}
	xf, err := os.OpenFile(successor.idxPath, os.O_RDWR, 0644)
	if err != nil {
		_ = df.Close()
		return nil, ErrShardIO
	}
	successor.dataFile = df
	successor.idxFile = xf
	return successor, nil
}

// Drop marks the shard removed; its files are unlinked once the last
// reference is released via Unref.
func (s *Shard) Drop() error {
	s.mu.Lock()
	s.flags |= FlagIsRemoved
	s.mu.Unlock()
	return nil
}

// Flags returns the shard's current condition bits.
func (s *Shard) Flags() ShardFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// MarkDroppedSeries flags the shard as containing at least one dropped
// series' now-garbage chunks, making it eligible for optimize.
func (s *Shard) MarkDroppedSeries() {
	s.mu.Lock()
	s.flags |= FlagHasDroppedSeries
	s.mu.Unlock()
}
