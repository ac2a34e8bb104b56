package siridb

import "sync"

// Closable and Reopenable abstract over the file-backed components
// backup mode suspends (Buffer, Fifo, the drop file, the series
// store, shard handles) so this file stays independent of their
// concrete types.
type Closable interface {
	Close() error
}

// Reopenable is a Closable that can also be reopened after Close.
type Reopenable interface {
	Closable
	Open() error
}

// BackupMode implements the ENABLE_BACKUP_MODE/DISABLE_BACKUP_MODE
// control toggle (spec §4.17): on enable it pauses replication and
// optimize and closes every on-disk handle, leaving only memory-
// resident state; on disable it reopens everything and resumes
// replication and (conditionally) optimize.
type BackupMode struct {
	mu      sync.Mutex
	enabled bool

	Buffer    Reopenable
	DropFile  Reopenable
	StoreFile Reopenable
	// Shards is evaluated fresh on every Enable/Disable call so newly
	// opened or dropped shards are always included.
	Shards func() []Reopenable

	Replicate *ReplicateTask
	// OptimizePause(true) suspends the optimize task, (false) resumes
	// it.
	OptimizePause func(pause bool)
	// IsSynchronizing reports whether the replica is still catching up;
	// when true, Disable leaves optimize paused (spec §4.15: "Optimize
	// explicitly pauses during backup mode" carries forward while a
	// re-index is in progress).
	IsSynchronizing func() bool
}

// Enabled reports whether backup mode is currently active.
func (m *BackupMode) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Enable pauses optimize/replication and closes every file handle. It
// is a no-op if already enabled.
func (m *BackupMode) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return nil
	}

	if m.Replicate != nil {
		m.Replicate.Pause()
	}
	if m.OptimizePause != nil {
		m.OptimizePause(true)
	}

	var firstErr error
	closeOne := func(c Closable) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closeOne(m.Buffer)
	closeOne(m.DropFile)
	closeOne(m.StoreFile)
	if m.Shards != nil {
		for _, sh := range m.Shards() {
			closeOne(sh)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	m.enabled = true
	return nil
}

// Disable reopens every file handle and resumes replication; optimize
// only resumes if the replica is not still synchronizing. It is a
// no-op if not currently enabled.
func (m *BackupMode) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil
	}

	var firstErr error
	openOne := func(c Reopenable) {
		if c == nil {
			return
		}
		if err := c.Open(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	openOne(m.Buffer)
	openOne(m.DropFile)
	openOne(m.StoreFile)
	if m.Shards != nil {
		for _, sh := range m.Shards() {
			openOne(sh)
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if m.Replicate != nil {
		m.Replicate.Continue()
	}
	if m.OptimizePause != nil {
		synchronizing := m.IsSynchronizing != nil && m.IsSynchronizing()
		m.OptimizePause(synchronizing)
	}
	m.enabled = false
	return nil
}
