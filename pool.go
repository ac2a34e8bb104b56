package siridb

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	uuid "github.com/satori/go.uuid"
)

// Server is one cluster member, holding the connection-state flags the
// pool accessor predicates (C8) are computed from. A Pool owns one or
// two Servers.
type Server struct {
	ID   uint8 // 0 or 1 within its pool, lower UUID sorts first
	UUID uuid.UUID
	Name string

	flags int32
}

// Server connection-state flags. Independent booleans rather than a
// single status enum, since "available" (connected+authenticated)
// and "online" (available and not queue-full) are orthogonal to
// "re-indexing" per spec §4.8.
const (
	serverConnected int32 = 1 << iota
	serverAuthenticated
	serverQueueFull
	serverReindexing
)

func (s *Server) setFlag(f int32, on bool) {
	for {
		old := atomic.LoadInt32(&s.flags)
		next := old | f
		if !on {
			next = old &^ f
		}
		if atomic.CompareAndSwapInt32(&s.flags, old, next) {
			return
		}
	}
}

func (s *Server) has(f int32) bool { return atomic.LoadInt32(&s.flags)&f != 0 }

// SetConnected, SetAuthenticated, SetQueueFull, SetReindexing update the
// corresponding connection-state flag.
func (s *Server) SetConnected(v bool)    { s.setFlag(serverConnected, v) }
func (s *Server) SetAuthenticated(v bool) { s.setFlag(serverAuthenticated, v) }
func (s *Server) SetQueueFull(v bool)    { s.setFlag(serverQueueFull, v) }
func (s *Server) SetReindexing(v bool)   { s.setFlag(serverReindexing, v) }

// IsOnline reports whether the server is connected and authenticated and
// its local insert queue is not full.
func (s *Server) IsOnline() bool {
	return s.has(serverConnected) && s.has(serverAuthenticated) && !s.has(serverQueueFull)
}

// IsAvailable reports whether the server is connected and authenticated,
// regardless of queue state.
func (s *Server) IsAvailable() bool {
	return s.has(serverConnected) && s.has(serverAuthenticated)
}

// IsAccessible reports whether the server is available or currently
// re-indexing (synchronizing from its peer, but still reachable).
func (s *Server) IsAccessible() bool {
	return s.IsAvailable() || s.has(serverReindexing)
}

// Pool is one pool of 1 or 2 servers (C8). Servers are ordered by UUID,
// lowest first, matching siridb_pool_add_server's tie-break.
type Pool struct {
	ID      uint16
	mu      sync.RWMutex
	servers []*Server
}

// NewPool returns an empty pool with the given id.
func NewPool(id uint16) *Pool { return &Pool{ID: id} }

// AddServer inserts server into the pool, keeping servers ordered by
// UUID and assigning server.ID = 0 or 1 accordingly. At most two
// servers are supported per pool.
func (p *Pool) AddServer(server *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.servers) == 0 {
		server.ID = 0
		p.servers = []*Server{server}
		return
	}
	if uuid.Equal(p.servers[0].UUID, server.UUID) {
		return
	}
	if bytesLess(p.servers[0].UUID.Bytes(), server.UUID.Bytes()) {
		server.ID = 1
		p.servers = append(p.servers, server)
	} else {
		p.servers[0].ID = 1
		server.ID = 0
		p.servers = []*Server{server, p.servers[0]}
	}
}

// Servers returns a snapshot of the pool's servers.
func (p *Pool) Servers() []*Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Server, len(p.servers))
	copy(out, p.servers)
	return out
}

// Online reports whether at least one server in the pool is online.
// Must not be called for the local pool.
func (p *Pool) Online() bool {
	for _, s := range p.Servers() {
		if s.IsOnline() {
			return true
		}
	}
	return false
}

// Available reports whether at least one server in the pool is
// available.
func (p *Pool) Available() bool {
	for _, s := range p.Servers() {
		if s.IsAvailable() {
			return true
		}
	}
	return false
}

// Accessible reports whether at least one server in the pool is
// accessible.
func (p *Pool) Accessible() bool {
	for _, s := range p.Servers() {
		if s.IsAccessible() {
			return true
		}
	}
	return false
}

// SendPkgFlags mirrors the C FLAG_ONLY_CHECK_ONLINE switch on SendPkg.
type SendPkgFlags int

const (
	// RequireAccessible is the default predicate: accessible servers only.
	RequireAccessible SendPkgFlags = iota
	// RequireOnline restricts selection to online servers.
	RequireOnline
)

// SendFunc delivers pkg to server; callers supply the transport.
type SendFunc func(server *Server, pkg []byte) error

// SendPkg sends pkg to exactly one eligible server in the pool,
// uniform-random between two equally eligible servers, and reports
// ErrNoAvailableServer if none qualify.
func (p *Pool) SendPkg(pkg []byte, flags SendPkgFlags, send SendFunc) error {
	servers := p.Servers()
	var eligible []*Server
	for _, s := range servers {
		ok := s.IsAccessible()
		if flags == RequireOnline {
			ok = s.IsOnline()
		}
		if ok {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return ErrNoAvailableServer
	}
	chosen := eligible[0]
	if len(eligible) > 1 {
		chosen = eligible[rand.Intn(len(eligible))]
	}
	return send(chosen, pkg)
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// poolItem adapts *Pool to btree.Item, ordering by pool id.
type poolItem struct{ pool *Pool }

func (a poolItem) Less(than btree.Item) bool {
	return a.pool.ID < than.(poolItem).pool.ID
}

// Pools is the process-wide registry of pools, kept in a btree so that
// Ascend (walked by the heartbeat task) visits pools in a deterministic,
// id-ascending order rather than Go map iteration order. Insert fan-out
// does not go through Ascend: PartitionByPool groups batches in a map.
type Pools struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewPools returns an empty registry.
func NewPools() *Pools { return &Pools{tree: btree.New(8)} }

// Add registers pool, replacing any existing entry with the same id.
func (ps *Pools) Add(pool *Pool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.tree.ReplaceOrInsert(poolItem{pool})
}

// Get returns the pool with id, or nil/false if not registered.
func (ps *Pools) Get(id uint16) (*Pool, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	item := ps.tree.Get(poolItem{&Pool{ID: id}})
	if item == nil {
		return nil, false
	}
	return item.(poolItem).pool, true
}

// Len returns the number of registered pools.
func (ps *Pools) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.tree.Len()
}

// Ascend visits every pool in ascending id order, stopping early if cb
// returns false.
func (ps *Pools) Ascend(cb func(*Pool) bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	ps.tree.Ascend(func(item btree.Item) bool {
		return cb(item.(poolItem).pool)
	})
}
