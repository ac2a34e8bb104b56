package siridb

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	uuid "github.com/satori/go.uuid"
)

// DefaultFFileCapacity is the free-space budget (100 MiB) a fresh fifo
// file is sized to hold before it rolls over, unless its very first
// frame is larger (spec §3: "≥ 100 MiB or the largest packet + header").
const DefaultFFileCapacity = 100 * 1024 * 1024

// frameOverhead is the safety margin (two trailing-length fields' worth
// of bytes) ffile.c reserves both when sizing a brand-new file and when
// deciding a file has run out of room.
const frameOverhead = 2 * 4

const frameFooterSize = 4

// FifoDirName returns the fifo directory name for a replica, matching
// spec §6.4's `.{replica-uuid}/` convention.
func FifoDirName(replica uuid.UUID) string {
	return "." + replica.String() + "/"
}

// ffile is one numbered frame file within a Fifo directory. Frames are
// appended growing toward lower file offsets from a preallocated
// capacity ceiling, so the oldest (first-appended) frame always sits
// nearest EOF and is popped first — see DESIGN.md for the full offset
// derivation carried over from ffile.c.
type ffile struct {
	id        uint64
	path      string
	file      *os.File
	freeSpace int64
	nextSize  uint32
}

func ffileName(dir string, id uint64) string {
	return filepath.Join(dir, strconv.FormatUint(id, 10)+".fifo")
}

// newFFileBlank creates a brand-new, empty fifo file with the default
// capacity and no frames.
func newFFileBlank(dir string, id uint64) (*ffile, error) {
	path := ffileName(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, ErrShardIO
	}
	return &ffile{id: id, path: path, file: f, freeSpace: DefaultFFileCapacity}, nil
}

// newFFileWithPayload creates a new fifo file sized to hold at least
// payload (growing the default capacity if payload alone would not
// fit), then immediately appends payload as its first frame.
func newFFileWithPayload(dir string, id uint64, payload []byte) (*ffile, error) {
	capacity := int64(DefaultFFileCapacity)
	if need := int64(len(payload)) + frameOverhead; need > capacity {
		capacity = need
	}
	path := ffileName(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, ErrShardIO
	}
	ff := &ffile{id: id, path: path, file: f, freeSpace: capacity}
	if _, err := ff.Append(payload); err != nil {
		return nil, err
	}
	return ff, nil
}

// loadFFile reopens an existing fifo file found on disk, or reports
// ok=false if it was empty (and removes it, matching ffile.c's warning
// + unlink behavior for a truncated-to-nothing file).
func loadFFile(dir string, id uint64) (f *ffile, ok bool, err error) {
	path := ffileName(dir, id)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, ErrShardIO
	}
	if info.Size() < 4 {
		_ = os.Remove(path)
		return nil, false, nil
	}

	fh, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, false, ErrShardIO
	}
	var buf [4]byte
	if _, err := fh.ReadAt(buf[:], info.Size()-4); err != nil {
		_ = fh.Close()
		return nil, false, ErrShardIO
	}
	nextSize := leUint32(buf[:])
	_ = fh.Close()

	return &ffile{id: id, path: path, nextSize: nextSize}, true, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLEUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Append writes payload as a new frame. It reports ok=false (without
// writing anything) if the file has run out of declared free space,
// signaling the caller to roll over to a new file.
func (f *ffile) Append(payload []byte) (ok bool, err error) {
	size := int64(len(payload))
	if f.freeSpace < size+frameOverhead {
		f.freeSpace = 0
		return false, nil
	}
	if f.nextSize == 0 {
		f.nextSize = uint32(size)
	}
	f.freeSpace -= size + frameFooterSize

	if _, err := f.file.WriteAt(payload, f.freeSpace); err != nil {
		return false, ErrDiskFull
	}
	var footer [4]byte
	putLEUint32(footer[:], uint32(size))
	if _, err := f.file.WriteAt(footer[:], f.freeSpace+size); err != nil {
		return false, ErrDiskFull
	}
	return true, nil
}

// Pop returns the oldest not-yet-committed frame without removing it;
// Commit or SkipError must follow before the next Pop.
func (f *ffile) Pop() ([]byte, error) {
	info, err := f.file.Stat()
	if err != nil {
		return nil, ErrShardIO
	}
	off := info.Size() - int64(f.nextSize) - frameFooterSize
	buf := make([]byte, f.nextSize)
	if _, err := f.file.ReadAt(buf, off); err != nil {
		return nil, ErrShardIO
	}
	return buf, nil
}

// Commit permanently removes the most recently popped frame and
// advances nextSize to the frame ahead of it, if any.
func (f *ffile) Commit() error {
	info, err := f.file.Stat()
	if err != nil {
		return ErrShardIO
	}
	truncTo := info.Size() - int64(f.nextSize) - frameFooterSize
	footerOff := truncTo - frameFooterSize

	var next uint32
	if footerOff >= 0 {
		var buf [4]byte
		if _, err := f.file.ReadAt(buf[:], footerOff); err != nil {
			return ErrShardIO
		}
		next = leUint32(buf[:])
	}
	if err := f.file.Truncate(truncTo); err != nil {
		return ErrShardIO
	}
	f.nextSize = next
	return nil
}

// HasData reports whether a frame is available to Pop.
func (f *ffile) HasData() bool { return f.nextSize != 0 }

func (f *ffile) Open() error {
	fh, err := os.OpenFile(f.path, os.O_RDWR, 0600)
	if err != nil {
		return ErrShardIO
	}
	f.file = fh
	return nil
}

func (f *ffile) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return ErrShardIO
	}
	return nil
}

func (f *ffile) Unlink() error {
	_ = f.Close()
	if err := os.Remove(f.path); err != nil {
		return ErrShardIO
	}
	return nil
}

// Fifo is the ordered, crash-recoverable write-ahead queue backing
// replication (C9): a directory of numbered frame files, one being
// appended to ("in"), one being drained ("out"), and any in between
// queued for later draining.
type Fifo struct {
	mu     sync.Mutex
	dir    string
	queued []*ffile
	in     *ffile
	out    *ffile
	nextID uint64
}

// OpenFifo opens (creating if necessary) the fifo directory at dir,
// replaying any files left over from a previous run in numeric order.
func OpenFifo(dir string) (*Fifo, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ErrShardIO
	}

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, ErrShardIO
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".fifo") {
			continue
		}
		idStr := strings.TrimSuffix(e.Name(), ".fifo")
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var existing []*ffile
	for _, id := range ids {
		f, ok, err := loadFFile(dir, id)
		if err != nil {
			return nil, err
		}
		if ok {
			existing = append(existing, f)
		}
	}

	fifo := &Fifo{dir: dir}
	if len(existing) > 0 {
		fifo.nextID = existing[len(existing)-1].id + 1
	}

	in, err := newFFileBlank(dir, fifo.nextID)
	if err != nil {
		return nil, err
	}
	fifo.nextID++
	existing = append(existing, in)
	fifo.in = in

	fifo.out = existing[0]
	fifo.queued = existing[1:]
	if fifo.out.file == nil {
		if err := fifo.out.Open(); err != nil {
			return nil, err
		}
	}
	return fifo, nil
}

// Append writes payload to the active "in" file, rolling over to a new
// file (and possibly retiring "out") when the current one is full.
func (fifo *Fifo) Append(payload []byte) error {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()

	ok, err := fifo.in.Append(payload)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if fifo.in != fifo.out {
		if err := fifo.in.Close(); err != nil {
			return err
		}
	}
	newIn, err := newFFileWithPayload(fifo.dir, fifo.nextID, payload)
	if err != nil {
		return err
	}
	fifo.nextID++
	fifo.in = newIn

	if !fifo.out.HasData() {
		if err := fifo.out.Unlink(); err != nil {
			return err
		}
		fifo.out = fifo.in
	} else {
		fifo.queued = append(fifo.queued, fifo.in)
	}
	return nil
}

// HasData reports whether the out file has an uncommitted frame ready.
func (fifo *Fifo) HasData() bool {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	return fifo.out.HasData()
}

// Pop returns the oldest frame without removing it from the queue.
func (fifo *Fifo) Pop() ([]byte, error) {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	return fifo.out.Pop()
}

// Commit permanently removes the frame last returned by Pop, retiring
// and rolling to the next queued file if the out file is now both
// empty and not also the in file.
func (fifo *Fifo) Commit() error {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	return fifo.advanceAfterCommit()
}

// SkipError behaves exactly like Commit: the packet is discarded from
// the queue, but the caller is expected to separately log/report that
// it could not be delivered (spec §4.9's error(Q)).
func (fifo *Fifo) SkipError() error {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	return fifo.advanceAfterCommit()
}

func (fifo *Fifo) advanceAfterCommit() error {
	if err := fifo.out.Commit(); err != nil {
		return err
	}
	if fifo.out.HasData() || fifo.out == fifo.in {
		return nil
	}
	if err := fifo.out.Unlink(); err != nil {
		return err
	}
	if len(fifo.queued) == 0 {
		fifo.out = fifo.in
		return nil
	}
	fifo.out, fifo.queued = fifo.queued[0], fifo.queued[1:]
	if fifo.out.file == nil {
		return fifo.out.Open()
	}
	return nil
}

// Close closes the in and out file handles (they may be the same file).
func (fifo *Fifo) Close() error {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	if err := fifo.in.Close(); err != nil {
		return err
	}
	if fifo.out != fifo.in {
		return fifo.out.Close()
	}
	return nil
}

// Open reopens the in and out file handles after a prior Close.
func (fifo *Fifo) Open() error {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	if err := fifo.in.Open(); err != nil {
		return err
	}
	if fifo.out != fifo.in {
		return fifo.out.Open()
	}
	return nil
}
