package mlag

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/mlagd/internal/hal"
)

// migrateDebounce is the window within which a same-entry-type,
// different-port relearn is treated as a migration and dropped rather than
// accepted (§4.7 step 2, "migration (...) if now - timestamp < 1 s, drop").
// FdbEntry.Timestamp holds whole Unix seconds, so the check compares
// wall-clock seconds: a relearn in the same second as the last owner/port
// change is dropped.
const migrateDebounce = 1 * time.Second

// maxEntriesPerBatch bounds how many LocalLearn records FdbMaster processes
// per call, matching the original implementation's MAX_ENTRIES_IN_TRY cap
// (see SPEC_FULL.md "Supplemented Features"). The cap is fixed; it is not
// read from configuration.
const maxEntriesPerBatch = 300

// originatorSelf is the sentinel marking the record batch's own peer as
// the originator, mirroring the original MAC_SYNC_ORIGINATOR marker.
const originatorSelf = -1

// LearnRecord is one entry of a batched LocalLearn/LocalAge notification
// (§4.7, §4.8).
type LearnRecord struct {
	Key        FdbKey
	Port       uint32
	EntryType  EntryType
	Originator int // peer index, or originatorSelf
}

// LearnDecision is FdbMaster's verdict for a single LearnRecord (§4.7 step
// 3's "per-record deny decision").
type LearnDecision struct {
	Record  LearnRecord
	Approve bool
}

// GlobalLearnTarget pairs a LearnRecord with the peer bitmap it must be
// broadcast to (open question #1: originator is excluded on the
// fresh-allocation path, included via a to-originator-only record on the
// same-entry-different-peer path).
type GlobalLearnTarget struct {
	Record LearnRecord
	Peers  PeerBitmap
}

// retryAttempts and retryBaseDelay implement the backoff decided for open
// question #2 (EXFULL / hash-bin-full HAL returns): retry, then escalate.
const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// FdbMaster (C7, master-only) maintains the authoritative per-(VID,MAC)
// ownership record set and decides admission, migration, aging, and
// export.
type FdbMaster struct {
	mu      sync.Mutex
	entries map[FdbKey]*FdbEntry
	maxSize int

	flushInProgress func(port uint32, vid uint16, originBits uint8) bool

	counters *Counters
	logger   *slog.Logger
	now      func() time.Time
}

// NewFdbMaster creates an FdbMaster bounded to maxSize entries. flushCheck
// reports whether a flush FSM matching (port, vid, origin-class) is
// currently in WaitPeers (§4.7 step 1); it is normally
// FlushCoordinator.InProgress.
func NewFdbMaster(maxSize int, flushCheck func(port uint32, vid uint16, originBits uint8) bool, counters *Counters, logger *slog.Logger) *FdbMaster {
	return &FdbMaster{
		entries:         make(map[FdbKey]*FdbEntry),
		maxSize:         maxSize,
		flushInProgress: flushCheck,
		counters:        counters,
		logger:          logger,
		now:             time.Now,
	}
}

// ApplyLocalLearnBatch runs admission for a batch of LocalLearn records
// (§4.7 step 2/3), returning the per-record approve/deny decisions (for
// FdbPeer's approved-list shaping) and the GlobalLearn PDUs to broadcast.
// Batches larger than maxEntriesPerBatch are truncated; the overflow count
// is logged rather than silently dropped, per this project's no-silent-
// caps rule.
func (m *FdbMaster) ApplyLocalLearnBatch(records []LearnRecord) ([]LearnDecision, []GlobalLearnTarget) {
	if len(records) > maxEntriesPerBatch {
		m.logger.Warn("local learn batch truncated",
			slog.Int("received", len(records)), slog.Int("processed", maxEntriesPerBatch))
		records = records[:maxEntriesPerBatch]
	}

	decisions := make([]LearnDecision, 0, len(records))
	targets := make([]GlobalLearnTarget, 0, len(records))

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		decision, target := m.admitLocked(rec)
		decisions = append(decisions, decision)
		if target != nil {
			targets = append(targets, *target)
		}
	}
	return decisions, targets
}

func (m *FdbMaster) admitLocked(rec LearnRecord) (LearnDecision, *GlobalLearnTarget) {
	originBits := originClassBits(rec)
	if m.flushInProgress != nil && m.flushInProgress(rec.Port, rec.Key.VID, originBits) {
		return LearnDecision{rec, false}, nil
	}

	existing, ok := m.entries[rec.Key]
	if !ok {
		return m.admitNewLocked(rec)
	}
	return m.admitExistingLocked(existing, rec)
}

func (m *FdbMaster) admitNewLocked(rec LearnRecord) (LearnDecision, *GlobalLearnTarget) {
	if len(m.entries) >= m.maxSize {
		m.counters.FdbCapacityDenied.Add(1)
		return LearnDecision{rec, false}, nil
	}

	m.entries[rec.Key] = &FdbEntry{
		Port:      rec.Port,
		EntryType: rec.EntryType,
		Owners:    originOwnerBitmap(rec.Originator),
		Timestamp: m.now().Unix(),
	}
	m.counters.LocalLearnAccepted.Add(1)
	m.counters.GlobalLearnSent.Add(1)

	// "broadcast GlobalLearn to remote peers (the originator already has
	// it)" (§4.7 step 3, open question #1: no originator confirmation).
	peers := allPeersExcept(rec.Originator)
	return LearnDecision{rec, true}, &GlobalLearnTarget{Record: rec, Peers: peers}
}

func (m *FdbMaster) admitExistingLocked(e *FdbEntry, rec LearnRecord) (LearnDecision, *GlobalLearnTarget) {
	switch {
	case e.EntryType != EntryStatic && rec.EntryType == EntryStatic:
		// Dynamic -> Static upgrade: accept, owners <- {origin}, broadcast.
		e.EntryType = EntryStatic
		e.Owners = originOwnerBitmap(rec.Originator)
		e.Port = rec.Port
		e.Timestamp = m.now().Unix()
		m.counters.LocalLearnAccepted.Add(1)
		m.counters.GlobalLearnSent.Add(1)
		return LearnDecision{rec, true}, &GlobalLearnTarget{Record: rec, Peers: allPeers()}

	case e.EntryType == EntryStatic && rec.EntryType != EntryStatic:
		// Static -> Dynamic: reject, no PDU.
		m.counters.LocalLearnDenied.Add(1)
		return LearnDecision{rec, false}, nil

	case e.Port == rec.Port:
		// Same entry type, same port, new peer: add to owners, GlobalLearn
		// to originator only.
		if rec.Originator >= 0 && !e.Owners.Has(rec.Originator) {
			e.Owners = e.Owners.Set(rec.Originator)
			m.counters.LocalLearnAccepted.Add(1)
			m.counters.GlobalLearnSent.Add(1)
			return LearnDecision{rec, true}, &GlobalLearnTarget{Record: rec, Peers: originOwnerBitmap(rec.Originator)}
		}
		m.counters.LocalLearnAccepted.Add(1)
		return LearnDecision{rec, true}, nil

	default:
		// Same entry type, different port: migration, debounce.
		m.counters.LocalLearnMigrate.Add(1)
		if m.now().Unix()-e.Timestamp < int64(migrateDebounce/time.Second) {
			m.counters.LocalLearnDenied.Add(1)
			return LearnDecision{rec, false}, nil
		}
		e.Port = rec.Port
		e.Owners = originOwnerBitmap(rec.Originator)
		e.Timestamp = m.now().Unix()
		m.counters.LocalLearnAccepted.Add(1)
		m.counters.GlobalLearnSent.Add(1)
		return LearnDecision{rec, true}, &GlobalLearnTarget{Record: rec, Peers: allPeers()}
	}
}

// ApplyLocalAgeBatch clears the origin's owner bit for each record; when a
// record's owners becomes empty, it is freed and a GlobalAge target is
// returned with every peer slot set (allPeers) (§4.7 LocalAge).
func (m *FdbMaster) ApplyLocalAgeBatch(records []LearnRecord) []GlobalLearnTarget {
	var targets []GlobalLearnTarget

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		e, ok := m.entries[rec.Key]
		if !ok || rec.Originator < 0 {
			continue
		}
		e.Owners = e.Owners.Clear(rec.Originator)
		if e.Owners.IsZero() {
			delete(m.entries, rec.Key)
			targets = append(targets, GlobalLearnTarget{Record: rec, Peers: allPeers()})
		}
	}
	return targets
}

// PeerDown handles a peer transitioning to Down (§4.7 "Peer-down"):
// dynamic entries are aged as if the peer had sent LocalAge; static
// entries installed on the IPL port are marked for deletion; other static
// entries survive.
func (m *FdbMaster) PeerDown(peer int, iplPort uint32) (aged []GlobalLearnTarget, deleted []FdbKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		switch {
		case e.EntryType != EntryStatic:
			if !e.Owners.Has(peer) {
				continue
			}
			e.Owners = e.Owners.Clear(peer)
			if e.Owners.IsZero() {
				delete(m.entries, key)
				aged = append(aged, GlobalLearnTarget{
					Record: LearnRecord{Key: key, Port: e.Port, EntryType: e.EntryType},
					Peers:  allPeers(),
				})
			}
		case e.Port == iplPort:
			delete(m.entries, key)
			deleted = append(deleted, key)
		}
	}
	return aged, deleted
}

// Export snapshots the full FDB for an AllFdbExport PDU (§4.7 FdbExport),
// bounded by the entry pool size. Router-MAC translation into Static learn
// records happens in the caller, which also owns the RouterMacDb.
func (m *FdbMaster) Export() []LearnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LearnRecord, 0, len(m.entries))
	for key, e := range m.entries {
		out = append(out, LearnRecord{Key: key, Port: e.Port, EntryType: e.EntryType})
	}
	return out
}

// Len returns the current number of tracked FDB entries.
func (m *FdbMaster) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ProgramWithRetry drives FdbProgram through the escalation policy decided
// for open question #2: retry with exponential backoff, then mark the
// entry degraded and increment the exhaustion counter rather than
// silently dropping the failure.
func (m *FdbMaster) ProgramWithRetry(ctx context.Context, h hal.Hal, key FdbKey, port uint32, entryType EntryType) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = h.FdbProgram(ctx, key, port, entryType)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		e.Degraded = true
	}
	m.mu.Unlock()

	m.counters.FdbProgramRetryExhaust.Add(1)
	m.logger.Error("fdb program retries exhausted, marking entry degraded",
		slog.Uint64("vid", uint64(key.VID)), slog.Uint64("port", uint64(port)), slog.String("error", err.Error()))
	return err
}

func originClassBits(rec LearnRecord) uint8 {
	if rec.Port == NonMlagPort {
		return 1
	}
	return 0
}

func originOwnerBitmap(originator int) PeerBitmap {
	if originator < 0 {
		return 0
	}
	return PeerBitmap(0).Set(originator)
}

// allPeers returns a bitmap with every peer slot set. FdbMaster does not
// track liveness itself (that lives in PortDb.Liveness), and the
// Orchestrator does not mask targets against it either: it sends every
// target over its single mac-sync session whatever the peer liveness.
func allPeers() PeerBitmap {
	return PeerBitmap((1 << MaxPeers) - 1)
}

func allPeersExcept(originator int) PeerBitmap {
	if originator < 0 {
		return allPeers()
	}
	return allPeers().Clear(originator)
}
