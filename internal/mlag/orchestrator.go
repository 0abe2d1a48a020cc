package mlag

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dantte-lp/mlagd/internal/comm"
	"github.com/dantte-lp/mlagd/internal/dispatch"
	"github.com/dantte-lp/mlagd/internal/hal"
)

// OrchestratorConfig carries the tunables Orchestrator needs to wire up
// CommWrapper sessions and the flush/FDB subsystems (§4.2 tunables, §3
// pool sizing).
type OrchestratorConfig struct {
	LocalPeer int
	Peers     []string // dial addresses, indexed by peer id, for RoleSlave

	GeneralControlAddr string // TCP 51235 default
	MacSyncAddr        string
	TunnelAddr         string // TCP 51237 default

	ReconnectInterval time.Duration

	Coordinator CoordinatorConfig
	FdbMaxSize  int
	RouterMacMaxSize int
}

// Orchestrator (C10) composes PortDb, the FDB subsystems, CommWrapper
// sessions and their dispatchers into the node's full lifecycle: Start,
// role change, peer-start sync, split-brain detection and Stop (§4.10).
type Orchestrator struct {
	cfg      OrchestratorConfig
	hal      hal.Hal
	counters *Counters
	logger   *slog.Logger

	ports      *PortDb
	routerMacs *RouterMacDb
	fdbPeer    *FdbPeer
	fdbMaster  *FdbMaster // nil unless role == RoleMaster
	flush      *Coordinator

	role Role

	general *comm.Wrapper
	macSync *comm.Wrapper
	tunnel  *comm.Wrapper

	generalCmds *dispatch.CmdDb
	macCmds     *dispatch.CmdDb

	generalDispatch *dispatch.Dispatcher
	macDispatch     *dispatch.Dispatcher

	cancel context.CancelFunc
}

// NewOrchestrator wires a new, stopped Orchestrator around h. Call Start
// to bring it up.
func NewOrchestrator(cfg OrchestratorConfig, h hal.Hal, counters *Counters, logger *slog.Logger) *Orchestrator {
	ports := NewPortDb()
	routerMacs := NewRouterMacDb(cfg.RouterMacMaxSize)
	fdbPeer := NewFdbPeer(cfg.LocalPeer, routerMacs, h, logger)

	o := &Orchestrator{
		cfg:        cfg,
		hal:        h,
		counters:   counters,
		logger:     logger.With(slog.String("component", "orchestrator")),
		ports:      ports,
		routerMacs: routerMacs,
		fdbPeer:    fdbPeer,
		role:       RoleStandalone,
	}

	schedule := func(d time.Duration, cb func()) *time.Timer { return time.AfterFunc(d, cb) }
	o.flush = NewCoordinator(cfg.Coordinator, counters, schedule)

	o.generalCmds = dispatch.NewCmdDb()
	o.macCmds = dispatch.NewCmdDb()
	o.registerGeneralHandlers()
	o.registerMacSyncHandlers()

	h.RegisterNotify(o.onHalNotify)

	return o
}

// onHalNotify is the Hal.RegisterNotify callback (§4.8): it hands the batch
// to FdbPeer for the approve/deny decision, then routes the accumulated
// LocalLearn/LocalAge records either straight into FdbMaster (this node is
// master, so there is no one to send a PDU to) or over macSync to whichever
// peer currently holds the role.
func (o *Orchestrator) onHalNotify(records []Notification) []bool {
	approvals := o.fdbPeer.HandleNotificationBatch(records)

	if learn := o.fdbPeer.DrainPendingLearn(); len(learn) > 0 {
		o.routeLearnBatch(learn)
	}
	if age := o.fdbPeer.DrainPendingAge(); len(age) > 0 {
		o.routeAgeBatch(age)
	}
	return approvals
}

func (o *Orchestrator) routeLearnBatch(records []LearnRecord) {
	if o.role == RoleMaster && o.fdbMaster != nil {
		_, targets := o.fdbMaster.ApplyLocalLearnBatch(records)
		for _, t := range targets {
			o.broadcastGlobalLearn(t)
		}
		return
	}
	o.sendLearnRecords(OpMacSyncLocalLearn, records)
}

func (o *Orchestrator) routeAgeBatch(records []LearnRecord) {
	if o.role == RoleMaster && o.fdbMaster != nil {
		targets := o.fdbMaster.ApplyLocalAgeBatch(records)
		for _, t := range targets {
			o.broadcastGlobalAge(t)
		}
		return
	}
	o.sendLearnRecords(OpMacSyncLocalAge, records)
}

func (o *Orchestrator) sendLearnRecords(op Opcode, records []LearnRecord) {
	if o.macSync == nil {
		return
	}
	buf := make([]byte, 2+wireEntrySize*len(records))
	n, err := EncodeLearnRecords(buf, records, nil)
	if err != nil {
		o.logger.Error("encode learn records failed", slog.String("op", op.String()), slog.String("error", err.Error()))
		return
	}
	if err := o.macSync.Send(op, buf[:n]); err != nil {
		o.logger.Error("send learn records failed", slog.String("op", op.String()), slog.String("error", err.Error()))
	}
}

// Start spawns the dispatcher goroutines over the CmdDbs whose opcode
// handlers NewOrchestrator already registered, and brings up CommWrapper
// according to the current role (§4.10 step 1).
// Start is idempotent with respect to being called once per process
// lifetime; role transitions go through SetRole instead.
func (o *Orchestrator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.generalDispatch = dispatch.New("general", 256, o.generalCmds, o.logger)
	o.macDispatch = dispatch.New("mac-sync", 256, o.macCmds, o.logger)

	go o.generalDispatch.Run(runCtx)
	go o.macDispatch.Run(runCtx)

	return o.startComm(runCtx)
}

func (o *Orchestrator) startComm(ctx context.Context) error {
	generalSwap := comm.SwapTable{}
	macSwap := comm.SwapTable{}

	var role comm.Role
	if o.role == RoleMaster {
		role = comm.RoleServer
	} else {
		role = comm.RoleClient
	}

	o.general = comm.New(comm.Config{
		Role:              role,
		ListenAddr:        o.cfg.GeneralControlAddr,
		DialAddr:          o.cfg.GeneralControlAddr,
		ReconnectInterval: o.cfg.ReconnectInterval,
	}, generalSwap, o.onGeneralPDU, o.onGeneralDown, o.counters, o.logger)

	o.macSync = comm.New(comm.Config{
		Role:              role,
		ListenAddr:        o.cfg.MacSyncAddr,
		DialAddr:          o.cfg.MacSyncAddr,
		ReconnectInterval: o.cfg.ReconnectInterval,
		SerializeSends:    true, // §4.2: FDB-sync channel payloads may be large
	}, macSwap, o.onMacSyncPDU, o.onMacSyncDown, o.counters, o.logger)

	if err := o.general.Start(ctx); err != nil {
		return err
	}
	return o.macSync.Start(ctx)
}

// onGeneralPDU decodes and posts a general-control PDU as a dispatch
// Event so it runs on the single-threaded general dispatcher (§4.3).
func (o *Orchestrator) onGeneralPDU(pdu comm.PDU) error {
	o.generalDispatch.TryPost(dispatch.PriorityMed, dispatch.Event{
		ID:      dispatch.EventID(pdu.Opcode),
		Payload: pdu.Payload,
	})
	return nil
}

func (o *Orchestrator) onMacSyncPDU(pdu comm.PDU) error {
	o.macDispatch.TryPost(dispatch.PriorityMed, dispatch.Event{
		ID:      dispatch.EventID(pdu.Opcode),
		Payload: pdu.Payload,
	})
	return nil
}

// onGeneralDown and onMacSyncDown surface PeerCommDown and, per §4.10
// step 4, trigger split-brain handling when in the Slave role.
func (o *Orchestrator) onGeneralDown() {
	o.generalDispatch.TryPost(dispatch.PriorityHigh, dispatch.Event{ID: EvPeerCommDown})
	if o.role == RoleSlave {
		o.handleSplitBrain()
	}
}

func (o *Orchestrator) onMacSyncDown() {
	o.macDispatch.TryPost(dispatch.PriorityHigh, dispatch.Event{ID: EvPeerCommDown})
}

// handleSplitBrain shuts down every port's HAL admin state when comm to
// the master is lost while this node is Slave (§4.10 step 4: "on
// PeerCommDown while role is Slave, shut all ports. On recovery the full
// sync repeats").
func (o *Orchestrator) handleSplitBrain() {
	ctx := context.Background()
	o.ports.ForEach(func(p *Port) {
		_ = o.hal.PortAdminDisable(ctx, p.ID)
	})
	o.logger.Warn("split brain detected, all ports shut down")
}

// SetRole drives a master-election role transition (§4.10 step 2): tear
// down CommWrapper sessions, clear peer liveness, reset every port's FSMs,
// then restart CommWrapper in the new role. A Slave->Standalone
// transition additionally toggles LACP ports to force aggregator
// renegotiation.
func (o *Orchestrator) SetRole(ctx context.Context, newRole Role) error {
	old := o.role
	if old == newRole {
		return nil
	}

	if o.general != nil {
		_ = o.general.Stop()
	}
	if o.macSync != nil {
		_ = o.macSync.Stop()
	}
	o.flush.Reset()

	for i := 0; i < MaxPeers; i++ {
		o.ports.Liveness.Set(i, LivenessDown)
	}

	o.ports.ForEach(func(p *Port) {
		p.Local.state = LocalIdle
		p.Remote.state = RemoteIdle
		p.Master.state = MasterIdle
		p.PeersOperUp = 0
	})

	if old == RoleSlave && newRole == RoleStandalone {
		o.ports.ForEach(func(p *Port) {
			if p.Mode != ModeLacp {
				return
			}
			_ = o.hal.PortAdminDisable(ctx, p.ID)
			_ = o.hal.PortAdminEnable(ctx, p.ID)
		})
	}

	if newRole == RoleMaster {
		o.fdbMaster = NewFdbMaster(o.cfg.FdbMaxSize, o.flush.InProgress, o.counters, o.logger)
	} else {
		o.fdbMaster = nil
	}
	o.fdbPeer.SetRole(newRole == RoleMaster, o.freeFdbRecords)

	o.role = newRole
	o.logger.Info("role changed", slog.String("from", old.String()), slog.String("to", newRole.String()))

	if o.cancel == nil {
		return nil // Start has not run yet; SetRole before Start only primes state.
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	return o.startComm(runCtx)
}

func (o *Orchestrator) freeFdbRecords() int {
	if o.fdbMaster == nil {
		return 0
	}
	return o.cfg.FdbMaxSize - o.fdbMaster.Len()
}

// PeerStartSync starts the slave-side peer-start handshake (§4.10 step 3):
// it sends the local port snapshot (PortsSync) and then, without waiting
// for any reply from the master, requests the full FDB (AllFdbGet). The
// rest of the handshake (AllFdbExport, PortsSyncFinish, MasterSyncDone,
// EvPeerSyncDone) runs in the registered handlers.
func (o *Orchestrator) PeerStartSync(ctx context.Context, localPorts []uint32) error {
	w := PortsSyncWire{DelFlag: false, MlagID: uint32(o.cfg.LocalPeer), Ports: localPorts}
	buf := make([]byte, 7+4*len(localPorts))
	n, err := EncodePortsSync(buf, w)
	if err != nil {
		return err
	}
	if err := o.general.Send(OpPortsSync, buf[:n]); err != nil {
		return err
	}

	getBuf := make([]byte, 2)
	return o.macSync.Send(OpAllFdbGet, getBuf)
}

// Stop tears everything down (§4.10 step 5): it resets the flush
// coordinator, stops both CommWrapper sessions, posts EvDeinit to both
// dispatchers and cancels the run context. It does not flush the local
// FDB, does not unregister the HAL notification callback, and does not
// post EvStopDone.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.flush != nil {
		o.flush.Reset()
	}
	if o.general != nil {
		_ = o.general.Stop()
	}
	if o.macSync != nil {
		_ = o.macSync.Stop()
	}
	if o.generalDispatch != nil {
		_ = o.generalDispatch.PostDeinit(ctx, EvDeinit)
	}
	if o.macDispatch != nil {
		_ = o.macDispatch.PostDeinit(ctx, EvDeinit)
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.logger.Info("stopped")
	return nil
}

// Ports exposes the PortDb for callers (e.g. the control socket) that
// need read access outside the dispatcher goroutines.
func (o *Orchestrator) Ports() *PortDb { return o.ports }

// ConfigurePort registers a port statically declared in this node's own
// configuration (or added via the control socket), marking this node's own
// peer bit configured. It shares the accumulate-and-drive-PortMasterFsm
// path used for peer-reported ports (§3/§4.6), so a port declared locally
// and later echoed by a peer's PortsSync ends up with both bits set
// regardless of which arrives first.
func (o *Orchestrator) ConfigurePort(ctx context.Context, id uint32, mode Mode) *Port {
	p, err := o.ports.Allocate(id, mode, o.cfg.LocalPeer)
	if err != nil {
		if !errors.Is(err, ErrPortExists) {
			o.logger.Error("allocate port failed", slog.Uint64("port", uint64(id)), slog.String("error", err.Error()))
			return nil
		}
		p = o.ports.Lookup(id)
		if p == nil {
			return nil
		}
	}

	p.Lock()
	p.PeersConfigured = p.PeersConfigured.Set(o.cfg.LocalPeer)
	var res MasterFSMResult
	if o.role == RoleMaster {
		res = p.ApplyMasterPortAdd(&o.ports.Liveness)
	}
	p.Unlock()

	if o.role == RoleMaster {
		o.emitMasterPortState(ctx, id, res.Emit)
	}
	return p
}

// Role returns the current master-election role.
func (o *Orchestrator) Role() Role { return o.role }

// FdbEntries returns a snapshot of the FDB for the "show mac-address-table"
// control-socket call. Only the master holds the canonical table; a slave
// returns the empty slice rather than a stale or partial view.
func (o *Orchestrator) FdbEntries() []LearnRecord {
	if o.fdbMaster == nil {
		return nil
	}
	return o.fdbMaster.Export()
}

// TriggerFlush starts a manual flush for (port, vid) against every peer
// currently marked live, the control-socket "clear mlag ... flush" entry
// point. It only starts a Coordinator flush FSM: no flush PDU is sent and
// the local HAL is not flushed. started and already are Coordinator.Start's
// results (both false when the flush pool is exhausted).
func (o *Orchestrator) TriggerFlush(port uint32, vid uint16) (started bool, already bool) {
	key := PackFlushKey(vid, port, 0)
	awaited := o.ports.Liveness.ActiveBitmap()
	return o.flush.Start(key, awaited, func(FlushKey) {})
}

// registerGeneralHandlers wires the representative general-control
// opcodes from §6 into the general dispatcher's CmdDb. Handler bodies
// stay intentionally small: they decode, mutate PortDb/liveness, and
// re-post derived events; heavier FSM logic lives in port.go.
func (o *Orchestrator) registerGeneralHandlers() {
	o.generalCmds.Register(EvDeinit, "Deinit", func(ctx context.Context, ev dispatch.Event) error {
		return dispatch.ErrCancelled
	})

	o.generalCmds.Register(dispatch.EventID(OpPortsSync), OpPortsSync.String(), o.handlePortsSync)
	o.generalCmds.Register(dispatch.EventID(OpPortsUpdate), OpPortsUpdate.String(), o.handlePortsSync)
	o.generalCmds.Register(dispatch.EventID(OpPortsOperUpdate), OpPortsOperUpdate.String(), o.handlePortsOperUpdate)
	o.generalCmds.Register(dispatch.EventID(OpPortsSyncDone), OpPortsSyncDone.String(), o.handlePortsSyncDone)
	o.generalCmds.Register(dispatch.EventID(OpPeerPortOperChange), OpPeerPortOperChange.String(), o.handlePeerPortOperChange)
	o.generalCmds.Register(dispatch.EventID(OpPortGlobalState), OpPortGlobalState.String(), o.handlePortGlobalState)
	o.generalCmds.Register(EvPeerCommDown, "PeerCommDown", o.handlePeerCommDownGeneral)
	o.generalCmds.Register(EvPeerSyncDone, "PeerSyncDone", o.handlePeerSyncDone)
}

func (o *Orchestrator) registerMacSyncHandlers() {
	o.macCmds.Register(EvDeinit, "Deinit", func(ctx context.Context, ev dispatch.Event) error {
		return dispatch.ErrCancelled
	})

	o.macCmds.Register(dispatch.EventID(OpMacSyncLocalLearn), OpMacSyncLocalLearn.String(), o.handleLocalLearn)
	o.macCmds.Register(dispatch.EventID(OpMacSyncGlobalLearn), OpMacSyncGlobalLearn.String(), o.handleGlobalLearn)
	o.macCmds.Register(dispatch.EventID(OpMacSyncLocalAge), OpMacSyncLocalAge.String(), o.handleLocalAge)
	o.macCmds.Register(dispatch.EventID(OpMacSyncGlobalAge), OpMacSyncGlobalAge.String(), o.handleGlobalAge)
	o.macCmds.Register(dispatch.EventID(OpAllFdbGet), OpAllFdbGet.String(), o.handleAllFdbGet)
	o.macCmds.Register(dispatch.EventID(OpAllFdbExport), OpAllFdbExport.String(), o.handleAllFdbExport)
	o.macCmds.Register(dispatch.EventID(OpPortsSyncFinish), OpPortsSyncFinish.String(), o.handlePortsSyncFinish)
	o.macCmds.Register(dispatch.EventID(OpMasterSyncDone), OpMasterSyncDone.String(), o.handleMasterSyncDone)
	o.macCmds.Register(dispatch.EventID(OpMacSyncFlushPeerStart), OpMacSyncFlushPeerStart.String(), o.handleFlushPeerStart)
	o.macCmds.Register(dispatch.EventID(OpMacSyncFlushMasterStart), OpMacSyncFlushMasterStart.String(), o.handleFlushMasterStart)
	o.macCmds.Register(dispatch.EventID(OpMacSyncFlushAck), OpMacSyncFlushAck.String(), o.handleFlushAck)
	o.macCmds.Register(EvPeerCommDown, "PeerCommDown", o.handlePeerCommDownMacSync)
}

// remotePeer returns the peer index of this node's single MLAG peer: the
// reference implementation fixes the domain at two chassis (local_peer is
// 0 or 1), so the other slot is always the complement.
func (o *Orchestrator) remotePeer() int {
	return 1 - o.cfg.LocalPeer
}

// handlePeerCommDownGeneral marks the peer liveness Down on the general
// control channel's teardown (§4.2), the guard PortMasterFsm's
// all_peers_active/all_peers_oper_down consult.
func (o *Orchestrator) handlePeerCommDownGeneral(ctx context.Context, ev dispatch.Event) error {
	o.counters.PeerCommDown.Add(1)
	o.ports.Liveness.Set(o.remotePeer(), LivenessDown)
	return nil
}

// handlePeerCommDownMacSync runs the §4.7/§4.9 peer-down reconciliation:
// abandon this peer's in-flight flush ACKs as implicit ACKs, and age or
// delete its FDB ownership (dynamic entries aged, static entries on the IPL
// port deleted, other statics survive).
func (o *Orchestrator) handlePeerCommDownMacSync(ctx context.Context, ev dispatch.Event) error {
	peer := o.remotePeer()
	if o.flush != nil {
		o.flush.PeerDown(peer)
	}
	if o.fdbMaster == nil {
		return nil
	}
	iplPort, ok := o.ports.IplPort()
	if !ok {
		iplPort = NonMlagPort
	}
	aged, _ := o.fdbMaster.PeerDown(peer, iplPort)
	for _, t := range aged {
		o.broadcastGlobalAge(t)
	}
	return nil
}

func (o *Orchestrator) handlePortsSync(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	w, err := DecodePortsSync(payload)
	if err != nil {
		return wrapErr(KindIO, "handle PortsSync", err)
	}
	peer := int(w.MlagID)
	for _, id := range w.Ports {
		if w.DelFlag {
			o.unconfigurePortFromPeer(ctx, id, peer)
			continue
		}
		o.configurePortFromPeer(ctx, id, peer)
	}
	return nil
}

// configurePortFromPeer marks port id as configured by peer (§3: the
// per-peer bit in Port.PeersConfigured), allocating the row if this is the
// first peer to report it. Every reporting peer's bit accumulates via
// PeerBitmap.Set rather than overwriting, so a port configured on more than
// one peer ends up with every owner's bit set regardless of arrival order --
// the "master-side config echo" the distributed invariant depends on. When
// this node is master, the row's PortMasterFsm (C6) is driven and any
// resulting emission is broadcast.
func (o *Orchestrator) configurePortFromPeer(ctx context.Context, id uint32, peer int) {
	p, err := o.ports.Allocate(id, ModeStatic, o.cfg.LocalPeer)
	if err != nil {
		if !errors.Is(err, ErrPortExists) {
			o.logger.Error("allocate port failed", slog.Uint64("port", uint64(id)), slog.String("error", err.Error()))
			return
		}
		p = o.ports.Lookup(id)
		if p == nil {
			return
		}
	}

	p.Lock()
	p.PeersConfigured = p.PeersConfigured.Set(peer)
	var res MasterFSMResult
	if o.role == RoleMaster {
		res = p.ApplyMasterPortAdd(&o.ports.Liveness)
	}
	p.Unlock()

	if o.role == RoleMaster {
		o.emitMasterPortState(ctx, id, res.Emit)
	}
}

// unconfigurePortFromPeer clears peer's configured bit for port id. Per the
// §3 invariant ("peers_configured == empty => port row deleted, no dangling
// rows"), the row is removed once every peer has withdrawn it; otherwise,
// on the master, PortMasterFsm runs its PortDel transition and any emission
// is broadcast.
func (o *Orchestrator) unconfigurePortFromPeer(ctx context.Context, id uint32, peer int) {
	p := o.ports.Lookup(id)
	if p == nil {
		return
	}

	p.Lock()
	p.PeersConfigured = p.PeersConfigured.Clear(peer)
	empty := p.PeersConfigured.IsZero()
	var res MasterFSMResult
	if o.role == RoleMaster && !empty {
		res = p.ApplyMasterPortDel(&o.ports.Liveness)
	}
	p.Unlock()

	if o.role == RoleMaster && !empty {
		o.emitMasterPortState(ctx, id, res.Emit)
	}
	if empty {
		o.ports.Delete(id)
	}
}

func (o *Orchestrator) handlePeerPortOperChange(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	w, err := DecodePeerPortOperChange(payload)
	if err != nil {
		return wrapErr(KindIO, "handle PeerPortOperChange", err)
	}
	p := o.ports.Lookup(w.PortID)
	if p == nil {
		return nil
	}

	peer := int(w.MlagID)
	p.Lock()
	if w.State == WireStateUp {
		p.ApplyRemotePeerPortUp(ctx, o.hal, o.logger, peer)
	} else {
		p.ApplyRemotePeerPortDown(ctx, o.hal, o.logger, peer)
	}

	var res MasterFSMResult
	if o.role == RoleMaster {
		if w.State == WireStateUp {
			res = p.ApplyMasterPortUp()
		} else {
			res = p.ApplyMasterPortDown()
		}
	}
	p.Unlock()

	if o.role == RoleMaster {
		o.emitMasterPortState(ctx, w.PortID, res.Emit)
	}
	return nil
}

// emitMasterPortState translates a PortMasterFsm emission (§4.6) into a
// PortGlobalState PDU broadcast over general control, and locally applies
// the same entries so this node's own PortLocalFsm/PortRemoteFsm stack
// reacts identically to a remote peer receiving the PDU.
func (o *Orchestrator) emitMasterPortState(ctx context.Context, portID uint32, emit MasterEmit) {
	state, ok := masterEmitWireState(emit)
	if !ok {
		return
	}
	entries := []PortStateWire{{PortID: portID, State: state}}
	o.counters.GlobalStateEmitted.Add(1)

	o.applyPortGlobalStateEntries(ctx, entries)

	if o.general == nil {
		return
	}
	buf := make([]byte, 2+5*len(entries))
	n, err := EncodePortGlobalState(buf, entries)
	if err != nil {
		o.logger.Error("encode port global state failed", slog.String("error", err.Error()))
		return
	}
	if err := o.general.Send(OpPortGlobalState, buf[:n]); err != nil {
		o.logger.Error("send port global state failed", slog.String("error", err.Error()))
	}
}

func masterEmitWireState(emit MasterEmit) (uint8, bool) {
	switch emit {
	case MasterEmitGlobalEnable:
		return WireStateEnabled, true
	case MasterEmitPortConfChange:
		return WireStateDisabled, true
	case MasterEmitGlobalOperUp:
		return WireStateUp, true
	case MasterEmitGlobalOperDown:
		return WireStateDown, true
	default:
		return 0, false
	}
}

func (o *Orchestrator) handlePortGlobalState(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	entries, err := DecodePortGlobalState(payload)
	if err != nil {
		return wrapErr(KindIO, "handle PortGlobalState", err)
	}
	o.applyPortGlobalStateEntries(ctx, entries)
	return nil
}

func (o *Orchestrator) applyPortGlobalStateEntries(ctx context.Context, entries []PortStateWire) {
	for _, e := range entries {
		p := o.ports.Lookup(e.PortID)
		if p == nil {
			continue
		}
		p.Lock()
		switch e.State {
		case WireStateEnabled:
			p.ApplyLocalEnable(ctx, o.hal, o.logger, p.PeersOperUp.Has(p.LocalPeer))
			p.ApplyRemoteGlobalEnable(ctx, o.hal, o.logger)
		case WireStateDisabled:
			p.ApplyLocal(ctx, o.hal, o.logger, LocalEvGlobalDisable)
		}
		p.Unlock()
	}
}

func (o *Orchestrator) handleLocalLearn(ctx context.Context, ev dispatch.Event) error {
	if o.fdbMaster == nil {
		return wrapErr(KindNotReady, "handle LocalLearn", ErrNotMaster)
	}
	payload, _ := ev.Payload.([]byte)
	records, err := DecodeLearnRecords(payload)
	if err != nil {
		return wrapErr(KindIO, "handle LocalLearn", err)
	}

	_, targets := o.fdbMaster.ApplyLocalLearnBatch(records)
	for _, t := range targets {
		o.broadcastGlobalLearn(t)
	}
	return nil
}

func (o *Orchestrator) handleGlobalLearn(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	records, err := DecodeLearnRecords(payload)
	if err != nil {
		return wrapErr(KindIO, "handle GlobalLearn", err)
	}
	selfOrigin := make([]bool, len(records))
	for i, r := range records {
		selfOrigin[i] = r.Originator == o.cfg.LocalPeer
	}
	o.fdbPeer.ApplyGlobalLearn(ctx, records, selfOrigin)
	return nil
}

// handleLocalAge is the master-side counterpart to handleLocalLearn: it
// clears the sending peer's owner bit for each aged record and broadcasts
// any resulting GlobalAge PDUs (§4.7 LocalAge).
func (o *Orchestrator) handleLocalAge(ctx context.Context, ev dispatch.Event) error {
	if o.fdbMaster == nil {
		return wrapErr(KindNotReady, "handle LocalAge", ErrNotMaster)
	}
	payload, _ := ev.Payload.([]byte)
	records, err := DecodeLearnRecords(payload)
	if err != nil {
		return wrapErr(KindIO, "handle LocalAge", err)
	}

	targets := o.fdbMaster.ApplyLocalAgeBatch(records)
	for _, t := range targets {
		o.broadcastGlobalAge(t)
	}
	return nil
}

// handleGlobalAge is the peer-side counterpart to handleGlobalLearn. Static
// records are router MACs (RouterMacDb.ExportAsLearnRecords is the only
// source of Static LearnRecords outside a real static config), so they are
// applied separately from dynamic records to set ApplyGlobalAge's
// whole-batch routerMac flag correctly for each group.
func (o *Orchestrator) handleGlobalAge(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	records, err := DecodeLearnRecords(payload)
	if err != nil {
		return wrapErr(KindIO, "handle GlobalAge", err)
	}

	var static, dynamic []LearnRecord
	for _, r := range records {
		if r.EntryType == EntryStatic {
			static = append(static, r)
		} else {
			dynamic = append(dynamic, r)
		}
	}
	if len(static) > 0 {
		o.fdbPeer.ApplyGlobalAge(ctx, static, true)
	}
	if len(dynamic) > 0 {
		o.fdbPeer.ApplyGlobalAge(ctx, dynamic, false)
	}
	return nil
}

// broadcastGlobalLearn sends one GlobalLearn PDU for a single-target
// record batch. Production fan-out would group targets sharing the same
// peer set into one PDU; this keeps the per-record wiring explicit.
func (o *Orchestrator) broadcastGlobalLearn(t GlobalLearnTarget) {
	o.broadcastGlobalTarget(OpMacSyncGlobalLearn, t)
}

// broadcastGlobalAge is broadcastGlobalLearn's counterpart for GlobalAge
// PDUs (ApplyLocalAgeBatch/PeerDown targets).
func (o *Orchestrator) broadcastGlobalAge(t GlobalLearnTarget) {
	o.broadcastGlobalTarget(OpMacSyncGlobalAge, t)
}

func (o *Orchestrator) broadcastGlobalTarget(op Opcode, t GlobalLearnTarget) {
	if t.Peers.IsZero() || o.macSync == nil {
		return
	}
	buf := make([]byte, 2+wireEntrySize)
	n, err := EncodeLearnRecords(buf, []LearnRecord{t.Record}, nil)
	if err != nil {
		o.logger.Error("encode global target failed", slog.String("op", op.String()), slog.String("error", err.Error()))
		return
	}
	if err := o.macSync.Send(op, buf[:n]); err != nil {
		o.logger.Error("send global target failed", slog.String("op", op.String()), slog.String("error", err.Error()))
	}
}

// handlePortsOperUpdate applies the master's batched oper-state reply to a
// peer's PortsSync (§4.10 step 3, §6 PortsOperUpdate).
func (o *Orchestrator) handlePortsOperUpdate(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	w, err := DecodePortsOperUpdate(payload)
	if err != nil {
		return wrapErr(KindIO, "handle PortsOperUpdate", err)
	}

	peer := int(w.MlagID)
	for _, e := range w.Entries {
		p := o.ports.Lookup(e.PortID)
		if p == nil {
			continue
		}
		p.Lock()
		if e.State == WireStateUp {
			p.ApplyRemotePeerPortUp(ctx, o.hal, o.logger, peer)
		} else {
			p.ApplyRemotePeerPortDown(ctx, o.hal, o.logger, peer)
		}
		p.Unlock()
	}
	return nil
}

// handlePortsSyncDone acknowledges that the master has finished replying to
// this node's PortsSync (§4.10 step 3). PeerStartSync requests the FDB
// snapshot eagerly rather than waiting for this signal, so there is nothing
// further to drive here.
func (o *Orchestrator) handlePortsSyncDone(ctx context.Context, ev dispatch.Event) error {
	o.logger.Debug("ports sync done")
	return nil
}

// handlePeerSyncDone logs completion of the full peer-start sync protocol
// (§4.10 step 3's "only then is peer_sync_done emitted upward").
func (o *Orchestrator) handlePeerSyncDone(ctx context.Context, ev dispatch.Event) error {
	o.logger.Info("peer sync complete")
	return nil
}

// handleAllFdbGet is the master-side response to a slave's FDB snapshot
// request: export the full FDB plus router-MAC entries translated to
// static learns, and stream it back as one AllFdbExport PDU (§4.7
// FdbExport, §4.10 step 3).
func (o *Orchestrator) handleAllFdbGet(ctx context.Context, ev dispatch.Event) error {
	if o.fdbMaster == nil {
		return wrapErr(KindNotReady, "handle AllFdbGet", ErrNotMaster)
	}
	if o.macSync == nil {
		return nil
	}

	records := o.fdbMaster.Export()
	records = append(records, o.routerMacs.ExportAsLearnRecords(NonMlagPort)...)

	buf := make([]byte, 2+wireEntrySize*len(records))
	n, err := EncodeLearnRecords(buf, records, nil)
	if err != nil {
		o.logger.Error("encode fdb export failed", slog.String("error", err.Error()))
		return nil
	}
	if err := o.macSync.Send(OpAllFdbExport, buf[:n]); err != nil {
		o.logger.Error("send fdb export failed", slog.String("error", err.Error()))
	}
	return nil
}

// handleAllFdbExport is the slave-side tail of the step-3 handshake: bulk
// install the master's snapshot (every record is remote-origin, since this
// is a full resync rather than a notification this node originated), then
// reply SyncFinish.
func (o *Orchestrator) handleAllFdbExport(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	records, err := DecodeLearnRecords(payload)
	if err != nil {
		return wrapErr(KindIO, "handle AllFdbExport", err)
	}

	selfOrigin := make([]bool, len(records))
	o.fdbPeer.ApplyGlobalLearn(ctx, records, selfOrigin)

	if o.macSync == nil {
		return nil
	}
	if err := o.macSync.Send(OpPortsSyncFinish, nil); err != nil {
		o.logger.Error("send sync finish failed", slog.String("error", err.Error()))
	}
	return nil
}

// handlePortsSyncFinish is the master-side counterpart to
// handleAllFdbExport: once the slave confirms the snapshot applied,
// respond MasterSyncDone to close out the handshake.
func (o *Orchestrator) handlePortsSyncFinish(ctx context.Context, ev dispatch.Event) error {
	if o.macSync == nil {
		return nil
	}
	if err := o.macSync.Send(OpMasterSyncDone, nil); err != nil {
		o.logger.Error("send master sync done failed", slog.String("error", err.Error()))
	}
	return nil
}

// handleMasterSyncDone is the slave-side close of the step-3 handshake: it
// surfaces EvPeerSyncDone on the general dispatcher so the rest of the
// lifecycle (and any future management-API listener) can observe that
// sync finished.
func (o *Orchestrator) handleMasterSyncDone(ctx context.Context, ev dispatch.Event) error {
	o.counters.PeerSyncDone.Add(1)
	if o.generalDispatch != nil {
		o.generalDispatch.TryPost(dispatch.PriorityMed, dispatch.Event{ID: EvPeerSyncDone})
	}
	return nil
}

// flushKeyFromFilter packs a FlushFilterWire into the FlushKey FlushMaster
// and the Coordinator index it by. A filter naming neither port nor vid is
// the global flush (key 0, §3/§4.9).
func flushKeyFromFilter(w FlushFilterWire) FlushKey {
	if !w.ByPort && !w.ByVid {
		return 0
	}
	var originBits uint8
	if w.NonMlag {
		originBits |= 0x80
	}
	originBits |= w.OriginPeer & 0x7F
	return PackFlushKey(w.Vid, w.Port, originBits)
}

// handleFlushPeerStart is the master-side FlushStart entry point (§4.9): a
// peer denied a HAL flush and forwarded it here. Start the Coordinator FSM
// and, unless this is a duplicate already in WaitPeers, forward the filter
// to the remote peer as MasterSendsFlushStart.
func (o *Orchestrator) handleFlushPeerStart(ctx context.Context, ev dispatch.Event) error {
	if o.flush == nil {
		return nil
	}
	payload, _ := ev.Payload.([]byte)
	w, err := DecodeFlushFilter(payload)
	if err != nil {
		return wrapErr(KindIO, "handle FlushPeerStart", err)
	}

	key := flushKeyFromFilter(w)
	awaited := o.ports.Liveness.ActiveBitmap()
	started, already := o.flush.Start(key, awaited, func(FlushKey) {})
	if already || !started || o.macSync == nil {
		return nil
	}

	buf := make([]byte, 12+6*len(w.MacList))
	n, err := EncodeFlushFilter(buf, w)
	if err != nil {
		o.logger.Error("encode flush master start failed", slog.String("error", err.Error()))
		return nil
	}
	if err := o.macSync.Send(OpMacSyncFlushMasterStart, buf[:n]); err != nil {
		o.logger.Error("send flush master start failed", slog.String("error", err.Error()))
	}
	return nil
}

// handleFlushMasterStart is the slave-side handler for a flush the master
// originated: execute it against the HAL and ACK with the same FlushKey
// (§4.8 "Flush from master").
func (o *Orchestrator) handleFlushMasterStart(ctx context.Context, ev dispatch.Event) error {
	payload, _ := ev.Payload.([]byte)
	w, err := DecodeFlushFilter(payload)
	if err != nil {
		return wrapErr(KindIO, "handle FlushMasterStart", err)
	}

	key := flushKeyFromFilter(w)
	sameOrigin := int(w.OriginPeer) == o.cfg.LocalPeer
	if err := o.fdbPeer.ApplyFlushFromMaster(ctx, key, w.MacList, sameOrigin); err != nil {
		o.logger.Error("apply flush from master failed", slog.String("error", err.Error()))
	}

	if o.macSync == nil {
		return nil
	}
	buf := make([]byte, 8)
	n, err := EncodeFlushKey(buf, key)
	if err != nil {
		o.logger.Error("encode flush ack failed", slog.String("error", err.Error()))
		return nil
	}
	if err := o.macSync.Send(OpMacSyncFlushAck, buf[:n]); err != nil {
		o.logger.Error("send flush ack failed", slog.String("error", err.Error()))
	}
	return nil
}

// handleFlushAck is the master-side FlushCoordinator.Ack entry point. The
// domain is fixed at two peers (remotePeer), so the acking peer is implicit
// in which session the PDU arrived on rather than carried on the wire.
func (o *Orchestrator) handleFlushAck(ctx context.Context, ev dispatch.Event) error {
	if o.flush == nil {
		return nil
	}
	payload, _ := ev.Payload.([]byte)
	key, err := DecodeFlushKey(payload)
	if err != nil {
		return wrapErr(KindIO, "handle FlushAck", err)
	}
	o.flush.Ack(key, o.remotePeer())
	return nil
}
