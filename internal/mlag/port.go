package mlag

import (
	"context"
	"log/slog"

	"github.com/dantte-lp/mlagd/internal/hal"
)

// ApplyLocal drives PortLocalFsm for this port and executes the resulting
// actions against h, the same execute-after-apply split the BFD teacher's
// Session uses around ApplyEvent. Must be called with the port's lock held
// by the caller.
func (p *Port) ApplyLocal(ctx context.Context, h hal.Hal, logger *slog.Logger, event LocalEvent) LocalFSMResult {
	res := ApplyLocalEvent(p.Local.state, event)
	p.executeLocal(ctx, h, logger, res)
	return res
}

// ApplyLocalEnable drives the guarded GlobalEnable transition (§4.4).
func (p *Port) ApplyLocalEnable(ctx context.Context, h hal.Hal, logger *slog.Logger, operUp bool) LocalFSMResult {
	res := ApplyLocalEnable(p.Local.state, operUp)
	p.executeLocal(ctx, h, logger, res)
	return res
}

func (p *Port) executeLocal(ctx context.Context, h hal.Hal, logger *slog.Logger, res LocalFSMResult) {
	if res.Changed {
		p.Local.state = res.NewState
	}
	for _, action := range res.Actions {
		var err error
		switch action {
		case LocalActionAdminEnable:
			err = h.PortAdminEnable(ctx, p.ID)
		case LocalActionAdminDisable:
			err = h.PortAdminDisable(ctx, p.ID)
		case LocalActionInstallRedirect:
			err = h.PortRedirectAdd(ctx, p.ID)
		case LocalActionRemoveRedirect:
			err = h.PortRedirectRemove(ctx, p.ID)
		case LocalActionRecordOperUp:
			p.PeersOperUp = p.PeersOperUp.Set(p.LocalPeer)
		case LocalActionRecordOperDown:
			p.PeersOperUp = p.PeersOperUp.Clear(p.LocalPeer)
		}
		if err != nil {
			logger.Error("local fsm hal action failed",
				slog.Uint64("port", uint64(p.ID)), slog.Any("action", action), slog.String("error", err.Error()))
		}
	}
}

// LocalState returns the current PortLocalFsm state, for introspection by
// callers such as the mlagctl control-socket handler.
func (p *Port) LocalState() LocalState { return p.Local.state }

// RemoteState returns the current PortRemoteFsm state.
func (p *Port) RemoteState() RemoteState { return p.Remote.state }

// MasterState returns the current PortMasterFsm state.
func (p *Port) MasterState() MasterState { return p.Master.state }

// ApplyRemoteGlobalEnable drives PortRemoteFsm's GlobalEnable transition
// for this port.
func (p *Port) ApplyRemoteGlobalEnable(ctx context.Context, h hal.Hal, logger *slog.Logger) RemoteFSMResult {
	allUp := AllRemotesUp(p.RemoteConfigured(), p.RemoteOperUp())
	res := ApplyRemoteGlobalEnable(p.Remote.state, allUp)
	p.executeRemote(ctx, h, logger, res)
	return res
}

func (p *Port) ApplyRemotePeerPortUp(ctx context.Context, h hal.Hal, logger *slog.Logger, peer int) RemoteFSMResult {
	cond := ConditionedUp(p.RemoteConfigured(), p.RemoteOperUp(), peer)
	p.PeersOperUp = p.PeersOperUp.Set(peer)
	res := ApplyRemotePeerPortUp(p.Remote.state, cond)
	p.executeRemote(ctx, h, logger, res)
	return res
}

func (p *Port) ApplyRemotePeerPortDown(ctx context.Context, h hal.Hal, logger *slog.Logger, peer int) RemoteFSMResult {
	p.PeersOperUp = p.PeersOperUp.Clear(peer)
	res := ApplyRemotePeerPortDown(p.Remote.state)
	p.executeRemote(ctx, h, logger, res)
	return res
}

func (p *Port) ApplyRemotePortDel(ctx context.Context, h hal.Hal, logger *slog.Logger) RemoteFSMResult {
	res := ApplyRemotePortDel(p.Remote.state, AllRemotesDeleted(p.RemoteConfigured()))
	p.executeRemote(ctx, h, logger, res)
	return res
}

func (p *Port) executeRemote(ctx context.Context, h hal.Hal, logger *slog.Logger, res RemoteFSMResult) {
	if res.Changed {
		p.Remote.state = res.NewState
	}
	for _, action := range res.Actions {
		var err error
		switch action {
		case RemoteActionIsolateAdd:
			err = h.PortIsolateAdd(ctx, p.ID)
		case RemoteActionIsolateRemove:
			err = h.PortIsolateRemove(ctx, p.ID)
		}
		if err != nil {
			logger.Error("remote fsm hal action failed",
				slog.Uint64("port", uint64(p.ID)), slog.Any("action", action), slog.String("error", err.Error()))
		}
	}
}

// ApplyMasterPortAdd drives PortMasterFsm for a PortAdd/PeerActive event.
// The caller (Orchestrator) is responsible for executing res.Emit, since
// emission requires broadcasting over CommWrapper sessions this package
// does not own.
func (p *Port) ApplyMasterPortAdd(liveness *LivenessTable) MasterFSMResult {
	res := ApplyMasterPortAdd(p.Master.state, AllPeersActive(p.PeersConfigured, liveness))
	if res.Changed {
		p.Master.state = res.NewState
	}
	return res
}

// ApplyMasterPortUp drives PortMasterFsm for a PortUp event from any peer.
func (p *Port) ApplyMasterPortUp() MasterFSMResult {
	res := ApplyMasterPortUp(p.Master.state)
	if res.Changed {
		p.Master.state = res.NewState
	}
	return res
}

// ApplyMasterPortDown drives PortMasterFsm for a PortDown event.
func (p *Port) ApplyMasterPortDown() MasterFSMResult {
	res := ApplyMasterPortDown(p.Master.state, AllPeersOperDown(p.PeersConfigured, p.PeersOperUp))
	if res.Changed {
		p.Master.state = res.NewState
	}
	return res
}

// ApplyMasterPortDel drives PortMasterFsm for a PortDel event.
func (p *Port) ApplyMasterPortDel(liveness *LivenessTable) MasterFSMResult {
	res := ApplyMasterPortDel(p.Master.state, AllPeersActive(p.PeersConfigured, liveness))
	if res.Changed {
		p.Master.state = res.NewState
	}
	return res
}

// local and remote FSM state containers embedded in Port. Kept as tiny
// value-typed structs rather than interfaces per the design note on
// avoiding trait-object boxing for per-port FSMs (there can be thousands).
type localFSM struct{ state LocalState }
type remoteFSM struct{ state RemoteState }
type masterFSM struct{ state MasterState }
