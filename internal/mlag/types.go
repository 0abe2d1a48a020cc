// Package mlag implements the control-plane core of the MLAG daemon: the
// per-port state machines, the distributed FDB master/peer logic, and the
// flush coordinator described in the component design. Transport framing
// lives in internal/comm, event scheduling in internal/dispatch, and the
// hardware binding in internal/hal; this package only knows MLAG semantics.
package mlag

import (
	"sync"
	"sync/atomic"
)

// MaxPeers bounds the number of MLAG peers a port bitmap can track. The
// reference implementation fixes this at 2; it is kept a small power-of-two
// sized constant here rather than 2 so PeerBitmap has headroom without a
// type change (see design notes, "Back-pointer cookies" and related notes
// on configurable pool sizing).
const MaxPeers = 8

// PeerBitmap is a bitset over peer indices (bit i set <=> peer i has the
// property the bitmap denotes, e.g. "configured" or "oper up").
type PeerBitmap uint8

// Set returns a copy of b with bit i set.
func (b PeerBitmap) Set(i int) PeerBitmap { return b | (1 << uint(i)) }

// Clear returns a copy of b with bit i cleared.
func (b PeerBitmap) Clear(i int) PeerBitmap { return b &^ (1 << uint(i)) }

// Has reports whether bit i is set.
func (b PeerBitmap) Has(i int) bool { return b&(1<<uint(i)) != 0 }

// IsZero reports whether no bits are set.
func (b PeerBitmap) IsZero() bool { return b == 0 }

// Count returns the number of set bits.
func (b PeerBitmap) Count() int {
	n := 0
	for v := b; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Mode distinguishes statically configured MLAG ports from LACP-aggregated
// ones (§3).
type Mode uint8

const (
	ModeStatic Mode = iota
	ModeLacp
)

// LivenessState is the three-valued peer liveness state (§3).
type LivenessState uint8

const (
	LivenessDown LivenessState = iota
	LivenessEnabled
	LivenessTxEnabled
)

// String returns the human-readable liveness state name.
func (l LivenessState) String() string {
	switch l {
	case LivenessDown:
		return "Down"
	case LivenessEnabled:
		return "Enabled"
	case LivenessTxEnabled:
		return "TxEnabled"
	default:
		return "Unknown"
	}
}

// Active reports whether the liveness state counts toward "all peers
// active" quorum (Enabled or TxEnabled).
func (l LivenessState) Active() bool {
	return l == LivenessEnabled || l == LivenessTxEnabled
}

// LivenessTable tracks PeerLiveness indexed by local peer slot.
type LivenessTable struct {
	mu    sync.RWMutex
	state [MaxPeers]LivenessState
}

// Get returns the liveness state for peer index i.
func (t *LivenessTable) Get(i int) LivenessState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[i]
}

// Set updates the liveness state for peer index i and returns the previous
// value.
func (t *LivenessTable) Set(i int, s LivenessState) LivenessState {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.state[i]
	t.state[i] = s
	return old
}

// ActiveBitmap returns a PeerBitmap with bit i set for every peer whose
// liveness state is Active.
func (t *LivenessTable) ActiveBitmap() PeerBitmap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var b PeerBitmap
	for i, s := range t.state {
		if s.Active() {
			b = b.Set(i)
		}
	}
	return b
}

// Port is the per-MLAG-port record (§3 MlagPort). LocalPeer identifies
// which bit in the peer bitmaps is "this system" for the local/remote FSM
// split (§4.4/§4.5).
type Port struct {
	mu sync.Mutex

	ID    uint32
	Mode  Mode

	PeersConfigured PeerBitmap
	PeersOperUp     PeerBitmap
	LocalPeer       int
	IsIPL           bool

	Local  localFSM
	Remote remoteFSM
	Master masterFSM
}

// Lock acquires the port's exclusive lock. Callers (PortDb.ForEach, FSM
// drivers) must not acquire any other port's lock while holding this one
// (lock order: single entry, per the component design).
func (p *Port) Lock() { p.mu.Lock() }

// Unlock releases the port's exclusive lock.
func (p *Port) Unlock() { p.mu.Unlock() }

// RemoteConfigured returns the bitmap of configured peers excluding the
// local peer slot -- the "R" guard quantity of §4.5.
func (p *Port) RemoteConfigured() PeerBitmap {
	return p.PeersConfigured.Clear(p.LocalPeer)
}

// RemoteOperUp returns the bitmap of oper-up peers excluding the local peer
// slot -- the "O" guard quantity of §4.5.
func (p *Port) RemoteOperUp() PeerBitmap {
	return p.PeersOperUp.Clear(p.LocalPeer)
}

// FdbKey, EntryType (and its constants), and NonMlagPort live in
// internal/wire alongside FlushKey, aliased below in wire.go -- both
// internal/hal and internal/mlag need this vocabulary, and internal/hal
// must not import internal/mlag to get it.

// FdbEntry is the master's per-(VID,MAC) ownership record (§3).
type FdbEntry struct {
	Port      uint32
	EntryType EntryType
	Owners    PeerBitmap
	Timestamp int64 // wall-clock seconds of last owner/port change (debounce)

	// Degraded is set when HAL programming exhausted its retry budget
	// (open question #2 in SPEC_FULL.md §4).
	Degraded bool
}

// RouterMacEntry tracks router-MAC sync state, bounded separately from the
// dynamic FDB (§3).
type RouterMacEntry struct {
	LastAction RouterMacAction
	Synced     bool
	FdbKey     FdbKey // zero value if no associated master FDB record
	HasFdb     bool
}

// RouterMacAction is the last action recorded against a RouterMacEntry.
type RouterMacAction uint8

const (
	RouterMacAdd RouterMacAction = iota
	RouterMacRemove
)

// Counters holds the approximate, racy-is-fine tallies named throughout the
// component design and the testable scenarios (§3, §8). Every field is an
// atomic.Uint64 so increments never need the port-entry lock.
type Counters struct {
	PortsAdded           atomic.Uint64
	PortsDeleted         atomic.Uint64
	GlobalStateEmitted   atomic.Uint64
	LocalLearnMigrate    atomic.Uint64 // LOCAL_LEARNED_MIGRATE_EVENT
	LocalLearnAccepted   atomic.Uint64
	LocalLearnDenied     atomic.Uint64
	GlobalLearnSent      atomic.Uint64
	GlobalAgeSent         atomic.Uint64
	FdbCapacityDenied     atomic.Uint64
	FdbProgramRetryExhaust atomic.Uint64
	FlushStarted          atomic.Uint64
	FlushCompleted        atomic.Uint64
	FlushTimedOut         atomic.Uint64
	FlushPoolExhausted    atomic.Uint64
	RouterMacSynced       atomic.Uint64
	WireDecodeErrors      atomic.Uint64
	WireEncodeErrors      atomic.Uint64
	OpcodesDispatched     atomic.Uint64
	PeerCommDown          atomic.Uint64
	PeerSyncDone          atomic.Uint64
}

// IncWireDecodeError, IncWireEncodeError and IncOpcodesDispatched satisfy
// comm.Counters so a *Counters can be passed into comm.New without
// internal/comm importing this package (see internal/wire's doc comment
// for why that cycle has to be avoided).
func (c *Counters) IncWireDecodeError()   { c.WireDecodeErrors.Add(1) }
func (c *Counters) IncWireEncodeError()   { c.WireEncodeErrors.Add(1) }
func (c *Counters) IncOpcodesDispatched() { c.OpcodesDispatched.Add(1) }
