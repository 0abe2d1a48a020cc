package mlag

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dantte-lp/mlagd/internal/hal"
)

// NotificationEvent and Notification live in internal/wire (aliased in
// wire.go) alongside FdbKey/EntryType, so internal/hal's RegisterNotify can
// reference them without importing this package.

// ApproveFunc is returned to the control-learning library per notification
// record; the library honors it to decide whether to keep the hardware
// entry.
type ApproveFunc func(approve bool)

// FreeRecordCounter reports how many more Learn records FdbMaster can
// admit, for approved-list shaping when this peer is also master (§4.8).
type FreeRecordCounter func() int

// FdbPeer (C8) is the peer-side control-learning-library notification
// handler: it buffers LocalLearn/LocalAge PDUs for the master, applies
// GlobalLearn/GlobalAge to the HAL, and handles router-MAC sync and
// non-MLAG-port flush.
type FdbPeer struct {
	mu          sync.Mutex
	pendingLearn []LearnRecord
	pendingAge   []LearnRecord

	localPeer int
	isMaster  bool
	freeCount FreeRecordCounter

	routerMacs *RouterMacDb
	h          hal.Hal
	logger     *slog.Logger
}

// NewFdbPeer creates an FdbPeer bound to localPeer's index.
func NewFdbPeer(localPeer int, routerMacs *RouterMacDb, h hal.Hal, logger *slog.Logger) *FdbPeer {
	return &FdbPeer{localPeer: localPeer, routerMacs: routerMacs, h: h, logger: logger}
}

// SetRole updates whether this peer is currently acting as master, and the
// callback used to query FdbMaster's free-record count for approved-list
// shaping.
func (p *FdbPeer) SetRole(isMaster bool, freeCount FreeRecordCounter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isMaster = isMaster
	p.freeCount = freeCount
}

// HandleNotificationBatch processes a batch of hardware notifications
// (§4.8). For each record it returns the approve/deny decision the caller
// must report back to the control-learning library. Static Learn records
// on MLAG ports are approved; every other Learn record is denied locally
// and staged as a LocalLearn record. When this peer is master, the number
// of records staged is capped to FdbMaster's current free-record count;
// records past the cap are denied without being staged.
func (p *FdbPeer) HandleNotificationBatch(records []Notification) []bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	approvals := make([]bool, len(records))
	learnBudget := -1 // unlimited unless master
	if p.isMaster && p.freeCount != nil {
		learnBudget = p.freeCount()
	}

	for i, rec := range records {
		switch rec.Event {
		case NotifyLearn:
			approvals[i] = p.handleLearnLocked(rec, &learnBudget)
		case NotifyAge:
			approvals[i] = false
			p.pendingAge = append(p.pendingAge, learnRecordFrom(rec, p.localPeer))
		case NotifyFlushAll, NotifyFlushVid, NotifyFlushPort, NotifyFlushPortVid:
			approvals[i] = false
		}
	}
	return approvals
}

func (p *FdbPeer) handleLearnLocked(rec Notification, budget *int) bool {
	if rec.EntryType == EntryStatic && rec.Port != NonMlagPort {
		// Static on MLAG port: approve, no in-band-channel (IBC) staging.
		return true
	}

	if *budget == 0 {
		return false
	}
	if *budget > 0 {
		*budget--
	}

	// Deny locally and stage a LocalLearn PDU for the master. The record
	// keeps the notification's port as delivered (NonMlagPort for non-MLAG
	// ports); no separate true-port cookie is kept.
	lr := learnRecordFrom(rec, p.localPeer)
	p.pendingLearn = append(p.pendingLearn, lr)
	return false
}

func learnRecordFrom(rec Notification, localPeer int) LearnRecord {
	return LearnRecord{Key: rec.Key, Port: rec.Port, EntryType: rec.EntryType, Originator: localPeer}
}

// DrainPendingLearn returns and clears the accumulated LocalLearn batch,
// for the dispatcher to send as a single PDU after each notification
// (§4.8 "accumulated into a bounded batch, flushed after each
// notification").
func (p *FdbPeer) DrainPendingLearn() []LearnRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pendingLearn
	p.pendingLearn = nil
	return out
}

// DrainPendingAge returns and clears the accumulated LocalAge batch.
func (p *FdbPeer) DrainPendingAge() []LearnRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pendingAge
	p.pendingAge = nil
	return out
}

// ApplyGlobalLearn bulk-installs GlobalLearn records to the HAL (§4.8).
// selfOrigin reports, per record, whether this peer was the record's
// originator; it selects only the entry type (non-static records become
// DynamicAgeable when self-originated, DynamicNonAgeable otherwise). Each
// record is programmed on rec.Port as received: there is no port fix-up
// from a cookie and no redirect of non-MLAG records to the IPL.
func (p *FdbPeer) ApplyGlobalLearn(ctx context.Context, records []LearnRecord, selfOrigin []bool) {
	for i, rec := range records {
		entryType := rec.EntryType
		if entryType != EntryStatic {
			if selfOrigin[i] {
				entryType = EntryDynamicAgeable
			} else {
				entryType = EntryDynamicNonAgeable
			}
		}
		if err := p.h.FdbProgram(ctx, rec.Key, rec.Port, entryType); err != nil {
			p.logger.Error("global learn hal program failed",
				slog.Uint64("vid", uint64(rec.Key.VID)), slog.String("error", err.Error()))
		}
	}
}

// ApplyGlobalAge bulk-deletes GlobalAge records from the HAL, calling back
// to RouterMacDb for router MACs.
func (p *FdbPeer) ApplyGlobalAge(ctx context.Context, records []LearnRecord, routerMac bool) {
	for _, rec := range records {
		if err := p.h.FdbDelete(ctx, rec.Key); err != nil {
			p.logger.Error("global age hal delete failed",
				slog.Uint64("vid", uint64(rec.Key.VID)), slog.String("error", err.Error()))
		}
		if routerMac {
			p.routerMacs.Remove(rec.Key)
		}
	}
}

// ApplyFlushFromMaster executes a flush the master requested; it does not
// send the ACK (its caller, handleFlushMasterStart, does). On a
// non-MLAG-port flush from a different origin, the
// delivered MAC list is iterated and deleted individually rather than
// using a bulk flush (§4.8 "Flush from master").
func (p *FdbPeer) ApplyFlushFromMaster(ctx context.Context, key FlushKey, macList [][6]byte, sameOrigin bool) error {
	if len(macList) > 0 && !sameOrigin {
		for _, mac := range macList {
			if err := p.h.FdbDelete(ctx, FdbKey{VID: key.VID(), MAC: mac}); err != nil {
				return err
			}
		}
		return nil
	}
	return p.h.FdbFlush(ctx, key)
}
