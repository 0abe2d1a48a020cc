package mlag

import (
	"fmt"
	"sync"
)

// PortDb is the keyed store of per-MLAG-port records (C1, §4.1). The only
// writer in normal flow is the owning Dispatcher goroutine; getters
// (counters, state dump) may be called from another goroutine (e.g. the
// mlagctl control socket handler), hence the per-entry lock in addition to
// the table-level RWMutex guarding the map itself.
type PortDb struct {
	mu    sync.RWMutex
	ports map[uint32]*Port

	Liveness LivenessTable
	Counters Counters
}

// NewPortDb creates an empty PortDb.
func NewPortDb() *PortDb {
	return &PortDb{ports: make(map[uint32]*Port)}
}

// Allocate creates and inserts a new Port row. Returns ErrPortExists if the
// port is already present.
func (d *PortDb) Allocate(id uint32, mode Mode, localPeer int) (*Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.ports[id]; exists {
		return nil, wrapErr(KindInvariant, "portdb.allocate", fmt.Errorf("port %d: %w", id, ErrPortExists))
	}

	p := &Port{ID: id, Mode: mode, LocalPeer: localPeer}
	d.ports[id] = p
	d.Counters.PortsAdded.Add(1)
	return p, nil
}

// LookupLocked returns the Port for id with its entry lock already held, or
// nil if not found. Callers must call Unlock when done.
func (d *PortDb) LookupLocked(id uint32) *Port {
	d.mu.RLock()
	p, ok := d.ports[id]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	p.Lock()
	return p
}

// Lookup returns the Port for id without locking its entry, or nil.
func (d *PortDb) Lookup(id uint32) *Port {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ports[id]
}

// Delete removes a port row. Per the §3 invariant, this must only be called
// once peers_configured has returned to empty; callers are responsible for
// checking that before calling Delete.
func (d *PortDb) Delete(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ports[id]; ok {
		delete(d.ports, id)
		d.Counters.PortsDeleted.Add(1)
	}
}

// ForEach calls visitor for every port, holding each entry's lock across
// the call. Per the component design's lock order, visitor MUST NOT acquire
// any other port's lock.
func (d *PortDb) ForEach(visitor func(*Port)) {
	d.mu.RLock()
	ports := make([]*Port, 0, len(d.ports))
	for _, p := range d.ports {
		ports = append(ports, p)
	}
	d.mu.RUnlock()

	for _, p := range ports {
		p.Lock()
		visitor(p)
		p.Unlock()
	}
}

// Len returns the number of port rows currently tracked.
func (d *PortDb) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ports)
}

// IplPort returns the port id of the Inter-Peer Link, if one is configured.
func (d *PortDb) IplPort() (uint32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id, p := range d.ports {
		p.Lock()
		isIPL := p.IsIPL
		p.Unlock()
		if isIPL {
			return id, true
		}
	}
	return 0, false
}
