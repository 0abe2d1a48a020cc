package mlag

import "sync"

// RouterMacDb tracks router-MAC sync state, bounded separately from the
// dynamic FDB (§3, §4.8 "router-MACs call back to RouterMacDb").
type RouterMacDb struct {
	mu      sync.Mutex
	entries map[FdbKey]*RouterMacEntry
	maxSize int
}

// NewRouterMacDb creates a RouterMacDb bounded to maxSize entries
// (MAX_ROUTER_MACS * peers per the original implementation's constants,
// see SPEC_FULL.md).
func NewRouterMacDb(maxSize int) *RouterMacDb {
	return &RouterMacDb{entries: make(map[FdbKey]*RouterMacEntry), maxSize: maxSize}
}

// Set records a router-MAC action. Returns false if the table is full and
// the key is new.
func (r *RouterMacDb) Set(key FdbKey, action RouterMacAction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= r.maxSize {
			return false
		}
		e = &RouterMacEntry{}
		r.entries[key] = e
	}
	e.LastAction = action
	e.Synced = false
	return true
}

// MarkSynced sets the Synced flag once the master has acknowledged the
// router-MAC sync, optionally recording the associated master FDB record.
func (r *RouterMacDb) MarkSynced(key FdbKey, fdbKey FdbKey, hasFdb bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.Synced = true
		e.FdbKey = fdbKey
		e.HasFdb = hasFdb
	}
}

// Remove deletes a router-MAC entry.
func (r *RouterMacDb) Remove(key FdbKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// ExportAsLearnRecords returns every router-MAC entry translated into a
// Static LearnRecord, for inclusion in FdbExport (§4.7 "router-MACs
// translated to static learns", §8 scenario E6).
func (r *RouterMacDb) ExportAsLearnRecords(port uint32) []LearnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LearnRecord, 0, len(r.entries))
	for key := range r.entries {
		out = append(out, LearnRecord{Key: key, Port: port, EntryType: EntryStatic, Originator: originatorSelf})
	}
	return out
}

// Len returns the number of router-MAC entries currently tracked.
func (r *RouterMacDb) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
