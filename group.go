package siridb

import (
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
)

// GroupStatus is the background group-assignment task's lifecycle
// position (spec §4.13: "init -> running -> stopping -> closed").
type GroupStatus int32

const (
	GroupInit GroupStatus = iota
	GroupRunning
	GroupStopping
	GroupClosed
)

// Group is a named regex matcher over series names, holding the
// matched series ids as a compact bitmap (a weak reference: the group
// does not own or pin the Series it matches).
type Group struct {
	Name   string
	Source string

	regex *regexp.Regexp

	mu     sync.RWMutex
	series *roaring.Bitmap
}

// NewGroup compiles source as the group's series-name filter.
func NewGroup(name, source string) (*Group, error) {
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, ErrInvalidWhere
	}
	return &Group{Name: name, Source: source, regex: re, series: roaring.New()}, nil
}

// Test matches name against the group's regex, adding id to the
// group's set on success.
func (g *Group) Test(id uint32, name string) bool {
	if !g.regex.MatchString(name) {
		return false
	}
	g.mu.Lock()
	g.series.Add(id)
	g.mu.Unlock()
	return true
}

// Series returns the currently matched series ids.
func (g *Group) Series() []uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.series.ToArray()
}

// Len returns the number of series currently matched.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int(g.series.GetCardinality())
}

// Remove drops id from the matched set (used by cleanup when a series
// is dropped from the database).
func (g *Group) Remove(id uint32) {
	g.mu.Lock()
	g.series.Remove(id)
	g.mu.Unlock()
}

// Cleanup removes every matched id for which isDropped reports true,
// compacting the underlying bitmap (spec §4.13's periodic cleanup).
func (g *Group) Cleanup(isDropped func(id uint32) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stale := roaring.New()
	it := g.series.Iterator()
	for it.HasNext() {
		id := it.Next()
		if isDropped(id) {
			stale.Add(id)
		}
	}
	g.series.AndNot(stale)
}

// seriesRef is the minimal identity GroupTask needs to test a series
// against a group, decoupling group.go from the Series type.
type seriesRef struct {
	ID   uint32
	Name string
}

// GroupTask is the background consumer described in spec §4.13: for
// every newly added series it tests all known groups, and for every
// newly added group it tests all known series.
type GroupTask struct {
	status int32 // GroupStatus, accessed atomically

	mu     sync.RWMutex
	groups map[string]*Group

	newSeries chan seriesRef
	newGroups chan *Group
	allSeries func() []seriesRef

	stop chan struct{}
	done chan struct{}
}

// NewGroupTask returns an idle task; allSeries supplies a snapshot of
// every series currently known to the database, used to test a
// newly-registered group against pre-existing series.
func NewGroupTask(allSeries func() []seriesRef) *GroupTask {
	return &GroupTask{
		status:    int32(GroupInit),
		groups:    make(map[string]*Group),
		newSeries: make(chan seriesRef, 64),
		newGroups: make(chan *Group, 16),
		allSeries: allSeries,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Status returns the task's current lifecycle state.
func (t *GroupTask) Status() GroupStatus {
	return GroupStatus(atomic.LoadInt32(&t.status))
}

// Start runs the consumer loop in its own goroutine.
func (t *GroupTask) Start() {
	atomic.StoreInt32(&t.status, int32(GroupRunning))
	go t.run()
}

func (t *GroupTask) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			atomic.StoreInt32(&t.status, int32(GroupClosed))
			return
		case ref := <-t.newSeries:
			t.testSeriesAgainstGroups(ref)
		case g := <-t.newGroups:
			t.registerGroup(g)
		}
	}
}

func (t *GroupTask) testSeriesAgainstGroups(ref seriesRef) {
	t.mu.RLock()
	groups := make([]*Group, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, g)
	}
	t.mu.RUnlock()

	for _, g := range groups {
		g.Test(ref.ID, ref.Name)
	}
}

func (t *GroupTask) registerGroup(g *Group) {
	t.mu.Lock()
	t.groups[g.Name] = g
	t.mu.Unlock()

	if t.allSeries == nil {
		return
	}
	for _, ref := range t.allSeries() {
		g.Test(ref.ID, ref.Name)
	}
}

// AddSeries enqueues a newly added series for group testing.
func (t *GroupTask) AddSeries(id uint32, name string) {
	t.newSeries <- seriesRef{ID: id, Name: name}
}

// AddGroup registers a new group, testing it against every existing
// series once the task loop processes it.
func (t *GroupTask) AddGroup(g *Group) {
	t.newGroups <- g
}

// Get looks up a registered group by name.
func (t *GroupTask) Get(name string) (*Group, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.groups[name]
	return g, ok
}

// Drop removes a group by name.
func (t *GroupTask) Drop(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups, name)
}

// Cleanup runs every registered group's Cleanup against isDropped.
func (t *GroupTask) Cleanup(isDropped func(id uint32) bool) {
	t.mu.RLock()
	groups := make([]*Group, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, g)
	}
	t.mu.RUnlock()

	for _, g := range groups {
		g.Cleanup(isDropped)
	}
}

// Stop transitions running -> stopping and blocks until the consumer
// loop has exited (status becomes closed).
func (t *GroupTask) Stop() {
	if GroupStatus(atomic.LoadInt32(&t.status)) != GroupRunning {
		return
	}
	atomic.StoreInt32(&t.status, int32(GroupStopping))
	close(t.stop)
	<-t.done
}
