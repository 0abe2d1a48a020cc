package mlag

// PortRemoteFsm (C5, §4.5) owns the remote-peer view of a port: whether the
// port should be isolated from the IPL. "Remote" means all remote peers in
// peers_configured minus the local peer. It is a set of pure functions, one
// per event, with no transition table; guard evaluation (all_remotes_up,
// conditioned_up) happens in the caller since it needs the live bitmaps.

// RemoteState is the state of PortRemoteFsm.
type RemoteState uint8

const (
	RemoteIdle RemoteState = iota
	RemoteGlobalDown
	RemoteFault
	RemotesUp
)

// String returns the human-readable state name.
func (s RemoteState) String() string {
	switch s {
	case RemoteIdle:
		return "Idle"
	case RemoteGlobalDown:
		return "GlobalDown"
	case RemoteFault:
		return "RemoteFault"
	case RemotesUp:
		return "RemotesUp"
	default:
		return "Unknown"
	}
}

// RemoteEvent is an event accepted by PortRemoteFsm.
type RemoteEvent uint8

const (
	RemoteEvGlobalEnable RemoteEvent = iota
	RemoteEvPeerPortUp
	RemoteEvPeerPortDown
	RemoteEvPortDel
)

// RemoteAction is a side-effect the caller must execute after a transition.
type RemoteAction uint8

const (
	RemoteActionIsolateAdd RemoteAction = iota + 1
	RemoteActionIsolateRemove
	RemoteActionUpdate
	RemoteActionClear
)

// RemoteFSMResult is the outcome of applying a guarded event to
// PortRemoteFsm.
type RemoteFSMResult struct {
	OldState RemoteState
	NewState RemoteState
	Actions  []RemoteAction
	Changed  bool
}

// ApplyRemoteGlobalEnable implements:
//
//	GlobalDown + PortGlobalEnable, all_remotes_up -> RemotesUp (isolate-add)
//	GlobalDown + PortGlobalEnable, else           -> RemoteFault
func ApplyRemoteGlobalEnable(current RemoteState, allRemotesUp bool) RemoteFSMResult {
	if current != RemoteGlobalDown {
		return RemoteFSMResult{OldState: current, NewState: current}
	}
	if allRemotesUp {
		return RemoteFSMResult{
			OldState: current,
			NewState: RemotesUp,
			Actions:  []RemoteAction{RemoteActionIsolateAdd},
			Changed:  true,
		}
	}
	return RemoteFSMResult{
		OldState: current,
		NewState: RemoteFault,
		Actions:  []RemoteAction{RemoteActionIsolateRemove},
		Changed:  true,
	}
}

// ApplyRemotePeerPortUp implements:
//
//	RemoteFault + PeerPortUp(p), conditioned_up(p) -> RemotesUp (isolate-add)
func ApplyRemotePeerPortUp(current RemoteState, conditionedUp bool) RemoteFSMResult {
	if current != RemoteFault || !conditionedUp {
		return RemoteFSMResult{OldState: current, NewState: current, Actions: []RemoteAction{RemoteActionUpdate}}
	}
	return RemoteFSMResult{
		OldState: current,
		NewState: RemotesUp,
		Actions:  []RemoteAction{RemoteActionUpdate, RemoteActionIsolateAdd},
		Changed:  true,
	}
}

// ApplyRemotePeerPortDown implements:
//
//	RemotesUp + PeerPortDown(p) -> RemoteFault (isolate-remove)
func ApplyRemotePeerPortDown(current RemoteState) RemoteFSMResult {
	if current != RemotesUp {
		return RemoteFSMResult{OldState: current, NewState: current, Actions: []RemoteAction{RemoteActionUpdate}}
	}
	return RemoteFSMResult{
		OldState: current,
		NewState: RemoteFault,
		Actions:  []RemoteAction{RemoteActionUpdate, RemoteActionIsolateRemove},
		Changed:  true,
	}
}

// ApplyRemotePortDel implements:
//
//	any-active + PortDel, all_remotes_deleted -> Idle (clear)
func ApplyRemotePortDel(current RemoteState, allRemotesDeleted bool) RemoteFSMResult {
	if !allRemotesDeleted || current == RemoteIdle {
		return RemoteFSMResult{OldState: current, NewState: current}
	}
	actions := []RemoteAction{RemoteActionClear}
	if current == RemotesUp {
		actions = append(actions, RemoteActionIsolateRemove)
	}
	return RemoteFSMResult{
		OldState: current,
		NewState: RemoteIdle,
		Actions:  actions,
		Changed:  true,
	}
}

// AllRemotesUp implements the all_remotes_up guard: O == R and R != 0.
func AllRemotesUp(configuredRemote, operUpRemote PeerBitmap) bool {
	return !configuredRemote.IsZero() && operUpRemote == configuredRemote
}

// ConditionedUp implements the conditioned_up(peer) guard: O u {peer} == R.
func ConditionedUp(configuredRemote, operUpRemote PeerBitmap, peer int) bool {
	return operUpRemote.Set(peer) == configuredRemote
}

// AllRemotesDeleted implements the all_remotes_deleted guard: R == 0.
func AllRemotesDeleted(configuredRemote PeerBitmap) bool {
	return configuredRemote.IsZero()
}
