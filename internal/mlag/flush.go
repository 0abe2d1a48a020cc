package mlag

import (
	"sync"
	"time"
)

// FlushState is the state of a single flushFSM (§3, §4.9).
type FlushState uint8

const (
	FlushIdle FlushState = iota
	FlushWaitPeers
)

// flushFSM is one FSM per flush key, held in a bounded pool (§4.9).
type flushFSM struct {
	poolIdx        int
	key            FlushKey
	state          FlushState
	respondedPeers PeerBitmap // cleared bits = pending
	awaitedPeers   PeerBitmap
	timer          *time.Timer
	macList        [][6]byte
}

func (f *flushFSM) reset() {
	f.key = 0
	f.state = FlushIdle
	f.respondedPeers = 0
	f.awaitedPeers = 0
	f.macList = nil
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// flushPool is a bounded, reusable pool of flushFSM values (§3 "Two
// bounded pools exist"). Backed by a free-list slice rather than per-entry
// allocation, following the design note's "arena + index" guidance for
// avoiding per-port-scale heap churn.
type flushPool struct {
	arena []flushFSM
	free  []int
}

func newFlushPool(size int) *flushPool {
	p := &flushPool{arena: make([]flushFSM, size), free: make([]int, size)}
	for i := range p.arena {
		p.arena[i].poolIdx = i
	}
	for i := range p.free {
		p.free[i] = size - 1 - i
	}
	return p
}

func (p *flushPool) get() (*flushFSM, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return &p.arena[idx], true
}

func (p *flushPool) put(f *flushFSM) {
	idx := f.poolIdx
	f.reset()
	f.poolIdx = idx
	p.free = append(p.free, idx)
}

// FlushTimeoutFunc schedules a callback to fire after d, returning a
// cancellable timer. Exists as a seam so tests can use a fake clock.
type FlushTimeoutFunc func(d time.Duration, callback func()) *time.Timer

// Coordinator is FlushCoordinator (C9, master-only): one FSM per flush
// key, awaiting ACKs from every peer whose liveness is up, backed by two
// bounded pools per §3/§9 ("Flush key pool sizing").
type Coordinator struct {
	mu sync.Mutex

	portVidPool *flushPool
	globalPool  *flushPool
	index       map[FlushKey]*flushFSM

	schedule FlushTimeoutFunc
	timeout  time.Duration

	counters *Counters
}

// CoordinatorConfig sizes the two pools and the per-flush ACK timeout.
// Defaults follow §9's "pool sizes ... should be configurable constants,
// not hardcoded": PortVidPoolSize ~= 10000, GlobalPoolSize ~= 8*(4094+128)+1.
type CoordinatorConfig struct {
	PortVidPoolSize int
	GlobalPoolSize  int
	AckTimeout      time.Duration
}

// DefaultCoordinatorConfig returns the pool sizes derived from the
// original implementation's expected worst cases (SPEC_FULL.md §3).
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		PortVidPoolSize: 10_000,
		GlobalPoolSize:  8*(4094+128) + 1,
		AckTimeout:      5 * time.Second,
	}
}

// NewCoordinator creates a Coordinator with the given pool sizes.
func NewCoordinator(cfg CoordinatorConfig, counters *Counters, schedule FlushTimeoutFunc) *Coordinator {
	return &Coordinator{
		portVidPool: newFlushPool(cfg.PortVidPoolSize),
		globalPool:  newFlushPool(cfg.GlobalPoolSize),
		index:       make(map[FlushKey]*flushFSM),
		schedule:    schedule,
		timeout:     cfg.AckTimeout,
		counters:    counters,
	}
}

func (c *Coordinator) poolFor(key FlushKey) *flushPool {
	if key.IsGlobal() || key.Port() == 0 {
		return c.globalPool
	}
	return c.portVidPool
}

// Start handles FlushStart (§4.9 "On FlushStart: look up FSM by key; if
// none exists, pull one from the appropriate pool"). awaitedPeers is the
// snapshot of Enabled peers at start time. onTimeout is invoked (with the
// key) only when the ACK timer fires; completion by ACK is reported by
// Ack's return value instead. This package does not own transport, so any
// flush PDU is sent by the caller.
func (c *Coordinator) Start(key FlushKey, awaitedPeers PeerBitmap, onTimeout func(FlushKey)) (started bool, already bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, exists := c.index[key]; exists {
		if f.state == FlushWaitPeers {
			return false, true
		}
	}

	f, ok := c.poolFor(key).get()
	if !ok {
		c.counters.FlushPoolExhausted.Add(1)
		return false, false
	}

	f.key = key
	f.state = FlushWaitPeers
	f.awaitedPeers = awaitedPeers
	f.respondedPeers = 0
	c.index[key] = f
	c.counters.FlushStarted.Add(1)

	if c.schedule != nil {
		f.timer = c.schedule(c.timeout, func() {
			c.handleTimeout(key)
			if onTimeout != nil {
				onTimeout(key)
			}
		})
	}
	return true, false
}

func (c *Coordinator) handleTimeout(key FlushKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.index[key]
	if !ok || f.state != FlushWaitPeers {
		return
	}
	c.counters.FlushTimedOut.Add(1)
	c.counters.FlushCompleted.Add(1)
	delete(c.index, key)
	c.poolFor(key).put(f)
}

// Ack handles PeerAck(peer) (§4.9): clears the peer's pending bit; if every
// awaited peer has responded, the FSM returns to Idle (and the pool entry
// is freed). Returns true if this ack completed the flush.
func (c *Coordinator) Ack(key FlushKey, peer int) bool {
	return c.respond(key, peer)
}

// PeerDown treats a peer-down as an implicit ACK from that peer (§4.9
// "PeerDown(peer) -> treat as implicit ACK").
func (c *Coordinator) PeerDown(peer int) {
	c.mu.Lock()
	keys := make([]FlushKey, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.respond(k, peer)
	}
}

func (c *Coordinator) respond(key FlushKey, peer int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.index[key]
	if !ok || f.state != FlushWaitPeers {
		return false
	}

	f.respondedPeers = f.respondedPeers.Set(peer)
	if f.respondedPeers&f.awaitedPeers != f.awaitedPeers {
		return false
	}

	c.counters.FlushCompleted.Add(1)
	delete(c.index, key)
	c.poolFor(key).put(f)
	return true
}

// InProgress reports whether a flush FSM matching (port, vid,
// origin-class) is currently in WaitPeers (§4.7 step 1, consulted by
// FdbMaster admission).
func (c *Coordinator) InProgress(port uint32, vid uint16, originBits uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.index[0]; ok && f.state == FlushWaitPeers {
		return true
	}
	key := PackFlushKey(vid, port, originBits)
	f, ok := c.index[key]
	return ok && f.state == FlushWaitPeers
}

// Reset abandons every in-flight flush FSM, returning each to its pool
// without waiting for ACKs. Called on any transition away from Master
// (open question #3, SPEC_FULL.md §4: "all in-flight flushes abandoned").
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, f := range c.index {
		c.poolFor(key).put(f)
		delete(c.index, key)
	}
}

// InFlightCount returns the number of flush FSMs currently in WaitPeers.
func (c *Coordinator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
