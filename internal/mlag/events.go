package mlag

import "github.com/dantte-lp/mlagd/internal/dispatch"

// Internal system event ids posted to a service Dispatcher (§5, §6). Wire
// opcodes (wire.go's Opcode) and these ids share the dispatch.EventID
// space per §4.3's "both local and wire opcodes route through the same
// table" -- wire opcodes are registered at their numeric Opcode value,
// local-only events start past the highest defined Opcode to avoid
// collisions.
const localEventBase dispatch.EventID = 0x1000

const (
	// EvDeinit is the distinguished cancellation event posted at high
	// priority to terminate a dispatcher (§5).
	EvDeinit dispatch.EventID = localEventBase + iota

	// EvReconnect is the id for a CommWrapper reconnect-timer expiry
	// (§4.2). Nothing posts it: comm.Wrapper reconnects inside its own
	// goroutine.
	EvReconnect

	// EvPeerCommDown is posted when a CommWrapper session tears down,
	// surfacing the FD-down condition to the health manager (§4.2).
	EvPeerCommDown

	// EvFlushFsmTimer is the id for a FlushCoordinator ACK-wait timer
	// expiry (§4.9). Nothing posts it: the Coordinator's timer runs its
	// timeout callback directly.
	EvFlushFsmTimer

	// EvPortGlobalState is the id for a PortMasterFsm emission aimed at the
	// local PortLocalFsm/PortRemoteFsm stack (§4.6). Nothing posts it:
	// emitMasterPortState applies the entries locally by direct call.
	EvPortGlobalState

	// EvPeerStateChange is the id for a peer liveness transition (Down <->
	// Enabled <-> TxEnabled). Nothing in this package posts or handles it.
	EvPeerStateChange

	// EvMasterElectionSwitchStatusChange is the id for a
	// Master/Slave/Standalone role transition (§4.10 step 2). Nothing in
	// this package posts or handles it; role changes go through
	// Orchestrator.SetRole.
	EvMasterElectionSwitchStatusChange

	// EvPeerSyncDone is emitted upward once the full peer-start sync
	// protocol completes (§4.10 step 3).
	EvPeerSyncDone

	// EvStopDone is the id for the end of teardown (§4.10 step 5).
	// Orchestrator.Stop does not post it.
	EvStopDone
)

// PortGlobalStateEvent is the payload of EvPortGlobalState.
type PortGlobalStateEvent struct {
	Entries []PortStateWire
}

// PeerStateChangeEvent is the payload of EvPeerStateChange.
type PeerStateChangeEvent struct {
	Peer  int
	State LivenessState
}

// Role is the MLAG node's current role in master election (§4.10).
type Role uint8

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleSlave
)

// String returns the human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleStandalone:
		return "Standalone"
	case RoleMaster:
		return "Master"
	case RoleSlave:
		return "Slave"
	default:
		return "Unknown"
	}
}

// RoleChangeEvent is the payload of EvMasterElectionSwitchStatusChange.
type RoleChangeEvent struct {
	Old Role
	New Role
}
