package mlag

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/mlagd/internal/wire"
)

// Opcode, the frame header codec, and the net_order swap hook live in
// internal/wire so internal/comm can reference the opcode space without
// importing this package (which itself imports internal/comm to drive
// CommWrapper sessions from Orchestrator). These aliases keep every
// other file in this package referring to them unqualified, as if they
// were declared here.
type (
	Opcode            = wire.Opcode
	FrameHeader       = wire.FrameHeader
	SwapDirection     = wire.SwapDirection
	SwapFunc          = wire.SwapFunc
	FdbKey            = wire.FdbKey
	EntryType         = wire.EntryType
	FlushKey          = wire.FlushKey
	NotificationEvent = wire.NotificationEvent
	Notification      = wire.Notification
)

const (
	NotifyLearn         = wire.NotifyLearn
	NotifyAge           = wire.NotifyAge
	NotifyFlushAll      = wire.NotifyFlushAll
	NotifyFlushVid      = wire.NotifyFlushVid
	NotifyFlushPort     = wire.NotifyFlushPort
	NotifyFlushPortVid  = wire.NotifyFlushPortVid
)

const (
	OpPortsSync               = wire.OpPortsSync
	OpPortsUpdate             = wire.OpPortsUpdate
	OpPortsOperUpdate         = wire.OpPortsOperUpdate
	OpPortGlobalState         = wire.OpPortGlobalState
	OpPeerPortOperChange      = wire.OpPeerPortOperChange
	OpPortsSyncDone           = wire.OpPortsSyncDone
	OpPortsSyncFinish         = wire.OpPortsSyncFinish
	OpMasterSyncDone          = wire.OpMasterSyncDone
	OpMacSyncLocalLearn       = wire.OpMacSyncLocalLearn
	OpMacSyncLocalAge         = wire.OpMacSyncLocalAge
	OpMacSyncGlobalLearn      = wire.OpMacSyncGlobalLearn
	OpMacSyncGlobalAge        = wire.OpMacSyncGlobalAge
	OpMacSyncFlushPeerStart   = wire.OpMacSyncFlushPeerStart
	OpMacSyncFlushMasterStart = wire.OpMacSyncFlushMasterStart
	OpMacSyncFlushAck         = wire.OpMacSyncFlushAck
	OpAllFdbGet               = wire.OpAllFdbGet
	OpAllFdbExport            = wire.OpAllFdbExport

	SwapSend = wire.SwapSend
	SwapRecv = wire.SwapRecv

	EntryStatic            = wire.EntryStatic
	EntryDynamicAgeable    = wire.EntryDynamicAgeable
	EntryDynamicNonAgeable = wire.EntryDynamicNonAgeable

	NonMlagPort = wire.NonMlagPort
)

// EncodeFrameHeader and DecodeFrameHeader forward to internal/wire; kept
// here so callers within this package (and the wire-format tests
// alongside it) can spell them without an import.
func EncodeFrameHeader(buf []byte, opcode Opcode, payloadLen int) (int, error) {
	return wire.EncodeFrameHeader(buf, opcode, payloadLen)
}

func DecodeFrameHeader(buf []byte) (FrameHeader, error) {
	return wire.DecodeFrameHeader(buf)
}

// PackFlushKey forwards to internal/wire.
func PackFlushKey(vid uint16, port uint32, originBits uint8) FlushKey {
	return wire.PackFlushKey(vid, port, originBits)
}

// wireEntry mirrors the MacSync PDU family's per-record layout (§6):
// vid(2) mac(6) port(4) entry_type(1) port_cookie(4) originator_peer_id(1)
// = 18 bytes.
const wireEntrySize = 18

// EncodeLearnRecords packs a batch of LearnRecords into the MacSync wire
// format: [u16 num_msg][entry...]. port_cookie is portCookie[i] when one is
// given and the record's own Port otherwise; DecodeLearnRecords does not
// return it.
func EncodeLearnRecords(buf []byte, records []LearnRecord, portCookie []uint32) (int, error) {
	need := 2 + wireEntrySize*len(records)
	if len(buf) < need {
		return 0, fmt.Errorf("encode learn records: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(records)))
	off := 2
	for i, rec := range records {
		binary.BigEndian.PutUint16(buf[off:off+2], rec.Key.VID)
		copy(buf[off+2:off+8], rec.Key.MAC[:])
		binary.BigEndian.PutUint32(buf[off+8:off+12], rec.Port)
		buf[off+12] = uint8(rec.EntryType)
		cookie := rec.Port
		if i < len(portCookie) {
			cookie = portCookie[i]
		}
		binary.BigEndian.PutUint32(buf[off+13:off+17], cookie)
		buf[off+17] = originatorWireByte(rec.Originator)
		off += wireEntrySize
	}
	return off, nil
}

// DecodeLearnRecords unpacks a MacSync PDU body produced by
// EncodeLearnRecords.
func DecodeLearnRecords(buf []byte) ([]LearnRecord, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("decode learn records: %w", ErrShortBuffer)
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	need := 2 + wireEntrySize*n
	if len(buf) < need {
		return nil, fmt.Errorf("decode learn records: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	out := make([]LearnRecord, n)
	off := 2
	for i := range out {
		var key FdbKey
		key.VID = binary.BigEndian.Uint16(buf[off : off+2])
		copy(key.MAC[:], buf[off+2:off+8])
		port := binary.BigEndian.Uint32(buf[off+8 : off+12])
		entryType := EntryType(buf[off+12])
		// buf[off+13:off+17] is port_cookie; it is skipped and not returned
		// in LearnRecord.
		originator := originatorFromWireByte(buf[off+17])
		out[i] = LearnRecord{Key: key, Port: port, EntryType: entryType, Originator: originator}
		off += wireEntrySize
	}
	return out, nil
}

func originatorWireByte(originator int) uint8 {
	if originator == originatorSelf {
		return 0xFF
	}
	return uint8(originator)
}

func originatorFromWireByte(b uint8) int {
	if b == 0xFF {
		return originatorSelf
	}
	return int(b)
}

// PortStateWire is the PortGlobalState per-entry payload (§6): port_id
// plus one of {Disabled, Enabled, Down, Up}.
type PortStateWire struct {
	PortID uint32
	State  uint8
}

const (
	WireStateDisabled uint8 = iota
	WireStateEnabled
	WireStateDown
	WireStateUp
)

// EncodePortGlobalState packs a PortGlobalState PDU body: [u16 n][(port_id
// u32, state u8)...].
func EncodePortGlobalState(buf []byte, entries []PortStateWire) (int, error) {
	need := 2 + 5*len(entries)
	if len(buf) < need {
		return 0, fmt.Errorf("encode port global state: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(entries)))
	off := 2
	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[off:off+4], e.PortID)
		buf[off+4] = e.State
		off += 5
	}
	return off, nil
}

// DecodePortGlobalState unpacks a PortGlobalState PDU body.
func DecodePortGlobalState(buf []byte) ([]PortStateWire, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("decode port global state: %w", ErrShortBuffer)
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	need := 2 + 5*n
	if len(buf) < need {
		return nil, fmt.Errorf("decode port global state: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	out := make([]PortStateWire, n)
	off := 2
	for i := range out {
		out[i].PortID = binary.BigEndian.Uint32(buf[off : off+4])
		out[i].State = buf[off+4]
		off += 5
	}
	return out, nil
}

// PortsSyncWire is the PortsSync/PortsUpdate payload (§6): del_flag,
// mlag_id, port_id[n].
type PortsSyncWire struct {
	DelFlag bool
	MlagID  uint32
	Ports   []uint32
}

// EncodePortsSync packs a PortsSync PDU body: [u8 del_flag][u32
// mlag_id][u16 n][port_id...].
func EncodePortsSync(buf []byte, w PortsSyncWire) (int, error) {
	need := 7 + 4*len(w.Ports)
	if len(buf) < need {
		return 0, fmt.Errorf("encode ports sync: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	if w.DelFlag {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.BigEndian.PutUint32(buf[1:5], w.MlagID)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(w.Ports)))
	off := 7
	for _, p := range w.Ports {
		binary.BigEndian.PutUint32(buf[off:off+4], p)
		off += 4
	}
	return off, nil
}

// DecodePortsSync unpacks a PortsSync PDU body.
func DecodePortsSync(buf []byte) (PortsSyncWire, error) {
	if len(buf) < 7 {
		return PortsSyncWire{}, fmt.Errorf("decode ports sync: %w", ErrShortBuffer)
	}
	w := PortsSyncWire{DelFlag: buf[0] != 0, MlagID: binary.BigEndian.Uint32(buf[1:5])}
	n := int(binary.BigEndian.Uint16(buf[5:7]))
	need := 7 + 4*n
	if len(buf) < need {
		return PortsSyncWire{}, fmt.Errorf("decode ports sync: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	w.Ports = make([]uint32, n)
	off := 7
	for i := range w.Ports {
		w.Ports[i] = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return w, nil
}

// PortsOperUpdateWire is the PortsOperUpdate payload (§6): mlag_id plus a
// batch of (port_id, oper_state) pairs, master's reply to a peer's
// PortsSync during the step-3 handshake.
type PortsOperUpdateWire struct {
	MlagID  uint32
	Entries []PortStateWire
}

// EncodePortsOperUpdate packs a PortsOperUpdate PDU body.
func EncodePortsOperUpdate(buf []byte, w PortsOperUpdateWire) (int, error) {
	need := 6 + 5*len(w.Entries)
	if len(buf) < need {
		return 0, fmt.Errorf("encode ports oper update: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	binary.BigEndian.PutUint32(buf[0:4], w.MlagID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(w.Entries)))
	off := 6
	for _, e := range w.Entries {
		binary.BigEndian.PutUint32(buf[off:off+4], e.PortID)
		buf[off+4] = e.State
		off += 5
	}
	return off, nil
}

// DecodePortsOperUpdate unpacks a PortsOperUpdate PDU body.
func DecodePortsOperUpdate(buf []byte) (PortsOperUpdateWire, error) {
	if len(buf) < 6 {
		return PortsOperUpdateWire{}, fmt.Errorf("decode ports oper update: %w", ErrShortBuffer)
	}
	w := PortsOperUpdateWire{MlagID: binary.BigEndian.Uint32(buf[0:4])}
	n := int(binary.BigEndian.Uint16(buf[4:6]))
	need := 6 + 5*n
	if len(buf) < need {
		return PortsOperUpdateWire{}, fmt.Errorf("decode ports oper update: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	w.Entries = make([]PortStateWire, n)
	off := 6
	for i := range w.Entries {
		w.Entries[i].PortID = binary.BigEndian.Uint32(buf[off : off+4])
		w.Entries[i].State = buf[off+4]
		off += 5
	}
	return w, nil
}

// EncodeFlushKey packs a FlushKey into its 8-byte big-endian wire form, the
// MacSyncFlushAck payload (§6: the ack only needs to name the flush being
// acknowledged; the peer is implicit in which session it arrived on).
func EncodeFlushKey(buf []byte, key FlushKey) (int, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("encode flush key: need 8 bytes, got %d: %w", len(buf), ErrShortBuffer)
	}
	binary.BigEndian.PutUint64(buf[0:8], uint64(key))
	return 8, nil
}

// DecodeFlushKey unpacks a FlushKey from its 8-byte wire form.
func DecodeFlushKey(buf []byte) (FlushKey, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("decode flush key: need 8 bytes, got %d: %w", len(buf), ErrShortBuffer)
	}
	return FlushKey(binary.BigEndian.Uint64(buf[0:8])), nil
}

// PeerPortOperChangeWire is the PeerPortOperChange payload (§6):
// mlag_id, port_id, state, is_ipl.
type PeerPortOperChangeWire struct {
	MlagID uint32
	PortID uint32
	State  uint8
	IsIPL  bool
}

// EncodePeerPortOperChange packs a PeerPortOperChange PDU body.
func EncodePeerPortOperChange(buf []byte, w PeerPortOperChangeWire) (int, error) {
	if len(buf) < 10 {
		return 0, fmt.Errorf("encode peer port oper change: need 10 bytes, got %d: %w", len(buf), ErrShortBuffer)
	}
	binary.BigEndian.PutUint32(buf[0:4], w.MlagID)
	binary.BigEndian.PutUint32(buf[4:8], w.PortID)
	buf[8] = w.State
	if w.IsIPL {
		buf[9] = 1
	} else {
		buf[9] = 0
	}
	return 10, nil
}

// DecodePeerPortOperChange unpacks a PeerPortOperChange PDU body.
func DecodePeerPortOperChange(buf []byte) (PeerPortOperChangeWire, error) {
	if len(buf) < 10 {
		return PeerPortOperChangeWire{}, fmt.Errorf("decode peer port oper change: %w", ErrShortBuffer)
	}
	return PeerPortOperChangeWire{
		MlagID: binary.BigEndian.Uint32(buf[0:4]),
		PortID: binary.BigEndian.Uint32(buf[4:8]),
		State:  buf[8],
		IsIPL:  buf[9] != 0,
	}, nil
}

// FlushFilterWire is the MacSyncFlush{PeerSendsStart,MasterSendsStart}
// payload (§6): an optional by-port/by-vid filter plus origin metadata.
type FlushFilterWire struct {
	ByPort     bool
	ByVid      bool
	Port       uint32
	Vid        uint16
	OriginPeer uint8
	NonMlag    bool
	MacList    [][6]byte
}

// EncodeFlushFilter packs a flush-start PDU body.
func EncodeFlushFilter(buf []byte, w FlushFilterWire) (int, error) {
	need := 12 + 6*len(w.MacList)
	if len(buf) < need {
		return 0, fmt.Errorf("encode flush filter: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	var flags uint8
	if w.ByPort {
		flags |= 1 << 0
	}
	if w.ByVid {
		flags |= 1 << 1
	}
	if w.NonMlag {
		flags |= 1 << 2
	}
	buf[0] = flags
	buf[1] = w.OriginPeer
	binary.BigEndian.PutUint32(buf[2:6], w.Port)
	binary.BigEndian.PutUint16(buf[6:8], w.Vid)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(w.MacList)))
	off := 12
	for _, mac := range w.MacList {
		copy(buf[off:off+6], mac[:])
		off += 6
	}
	return off, nil
}

// DecodeFlushFilter unpacks a flush-start PDU body.
func DecodeFlushFilter(buf []byte) (FlushFilterWire, error) {
	if len(buf) < 12 {
		return FlushFilterWire{}, fmt.Errorf("decode flush filter: %w", ErrShortBuffer)
	}
	w := FlushFilterWire{
		ByPort:     buf[0]&(1<<0) != 0,
		ByVid:      buf[0]&(1<<1) != 0,
		NonMlag:    buf[0]&(1<<2) != 0,
		OriginPeer: buf[1],
		Port:       binary.BigEndian.Uint32(buf[2:6]),
		Vid:        binary.BigEndian.Uint16(buf[6:8]),
	}
	n := int(binary.BigEndian.Uint32(buf[8:12]))
	need := 12 + 6*n
	if len(buf) < need {
		return FlushFilterWire{}, fmt.Errorf("decode flush filter: need %d bytes, got %d: %w", need, len(buf), ErrShortBuffer)
	}
	w.MacList = make([][6]byte, n)
	off := 12
	for i := range w.MacList {
		copy(w.MacList[i][:], buf[off:off+6])
		off += 6
	}
	return w, nil
}
