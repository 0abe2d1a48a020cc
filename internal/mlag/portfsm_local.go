package mlag

// PortLocalFsm (C4, §4.4) owns the local-peer admin/operational view of a
// port: whether the HAL should admin-enable the port, and whether local
// ingress must be redirected across the IPL while the local link is down.
// The FSM is a pure function over a transition table, mirroring the BFD
// session FSM's ApplyEvent/fsmTable split: no side effects, no Port
// dependency. The caller (Port.ApplyLocal) executes the returned actions.

// LocalState is the state of PortLocalFsm.
type LocalState uint8

const (
	LocalIdle LocalState = iota
	LocalGlobalDown
	LocalFault
	LocalUp
)

// String returns the human-readable state name.
func (s LocalState) String() string {
	switch s {
	case LocalIdle:
		return "Idle"
	case LocalGlobalDown:
		return "GlobalDown"
	case LocalFault:
		return "LocalFault"
	case LocalUp:
		return "LocalUp"
	default:
		return "Unknown"
	}
}

// LocalEvent is an event accepted by PortLocalFsm.
type LocalEvent uint8

const (
	LocalEvPortAdd LocalEvent = iota
	LocalEvPortDel
	LocalEvGlobalEnable
	LocalEvGlobalDisable
	LocalEvPortUp
	LocalEvPortDown
)

// LocalAction is a side-effect the caller must execute after a transition.
type LocalAction uint8

const (
	LocalActionAdminEnable LocalAction = iota + 1
	LocalActionAdminDisable
	LocalActionInstallRedirect
	LocalActionRemoveRedirect
	LocalActionRecordOperUp
	LocalActionRecordOperDown
)

type localStateEvent struct {
	state LocalState
	event LocalEvent
}

type localTransition struct {
	newState LocalState
	actions  []LocalAction
}

// LocalFSMResult is the outcome of applying an event to PortLocalFsm.
type LocalFSMResult struct {
	OldState LocalState
	NewState LocalState
	Actions  []LocalAction
	Changed  bool
}

//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var localFsmTable = map[localStateEvent]localTransition{
	// Idle + PortAdd -> GlobalDown: record admin=Disabled (§4.4).
	{LocalIdle, LocalEvPortAdd}: {LocalGlobalDown, nil},

	// GlobalDown + PortGlobalEnable: admin-enable at HAL. Whether the next
	// state is LocalFault or LocalUp depends on the cached oper state, which
	// this pure table cannot see -- the caller resolves that via
	// ApplyLocalEnable (below), which is the guarded variant of this event.
	{LocalGlobalDown, LocalEvGlobalDisable}: {LocalGlobalDown, []LocalAction{LocalActionAdminDisable}},
	{LocalGlobalDown, LocalEvPortUp}:        {LocalGlobalDown, []LocalAction{LocalActionRecordOperUp}},
	{LocalGlobalDown, LocalEvPortDown}:      {LocalGlobalDown, []LocalAction{LocalActionRecordOperDown}},

	// LocalFault + PortUp -> LocalUp.
	{LocalFault, LocalEvPortUp}: {LocalUp, []LocalAction{LocalActionRecordOperUp, LocalActionRemoveRedirect}},

	// LocalFault + GlobalDisable/Down -> GlobalDown.
	{LocalFault, LocalEvGlobalDisable}: {LocalGlobalDown, []LocalAction{LocalActionAdminDisable, LocalActionRemoveRedirect}},

	// LocalFault + PortDown -> self (oper cache update only). A second
	// physical down while already faulted must not touch admin state or
	// the redirect keeping traffic alive; only an explicit global
	// disable/down leaves LocalFault.
	{LocalFault, LocalEvPortDown}: {LocalFault, []LocalAction{LocalActionRecordOperDown}},

	// LocalUp + PortDown -> LocalFault: install IPL redirect.
	{LocalUp, LocalEvPortDown}: {LocalFault, []LocalAction{LocalActionRecordOperDown, LocalActionInstallRedirect}},

	// LocalUp + GlobalDisable -> GlobalDown.
	{LocalUp, LocalEvGlobalDisable}: {LocalGlobalDown, []LocalAction{LocalActionAdminDisable}},

	// any + PortDel -> Idle: admin-disable.
	{LocalIdle, LocalEvPortDel}:       {LocalIdle, nil},
	{LocalGlobalDown, LocalEvPortDel}: {LocalIdle, []LocalAction{LocalActionAdminDisable}},
	{LocalFault, LocalEvPortDel}:      {LocalIdle, []LocalAction{LocalActionAdminDisable, LocalActionRemoveRedirect}},
	{LocalUp, LocalEvPortDel}:         {LocalIdle, []LocalAction{LocalActionAdminDisable}},
}

// ApplyLocalEvent applies an event to PortLocalFsm. This is a pure function
// with no side effects; the caller executes the returned actions.
// Unlisted (state, event) pairs are silently ignored.
func ApplyLocalEvent(current LocalState, event LocalEvent) LocalFSMResult {
	tr, ok := localFsmTable[localStateEvent{current, event}]
	if !ok {
		return LocalFSMResult{OldState: current, NewState: current}
	}
	return LocalFSMResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}

// ApplyLocalEnable resolves the GlobalDown + PortGlobalEnable transition
// (§4.4), which the table above cannot express because its destination
// depends on the cached oper state rather than just the event:
//
//	GlobalDown + PortGlobalEnable, oper==Down -> LocalFault
//	GlobalDown + PortGlobalEnable, oper==Up   -> LocalUp
func ApplyLocalEnable(current LocalState, operUp bool) LocalFSMResult {
	if current != LocalGlobalDown {
		return LocalFSMResult{OldState: current, NewState: current}
	}
	if operUp {
		return LocalFSMResult{
			OldState: current,
			NewState: LocalUp,
			Actions:  []LocalAction{LocalActionAdminEnable},
			Changed:  true,
		}
	}
	return LocalFSMResult{
		OldState: current,
		NewState: LocalFault,
		Actions:  []LocalAction{LocalActionAdminEnable, LocalActionInstallRedirect},
		Changed:  true,
	}
}
