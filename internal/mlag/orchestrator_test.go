package mlag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/mlagd/internal/comm"
	"github.com/dantte-lp/mlagd/internal/dispatch"
	"github.com/dantte-lp/mlagd/internal/hal"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := OrchestratorConfig{
		LocalPeer:   0,
		Coordinator: CoordinatorConfig{PortVidPoolSize: 10, GlobalPoolSize: 10, AckTimeout: time.Second},
		FdbMaxSize:  100,
		RouterMacMaxSize: 50,
	}
	return NewOrchestrator(cfg, hal.NewStub(logger), &Counters{}, logger)
}

// handlePortsSync exercises both allocation and deletion paths (§6
// PortsSync del_flag).
func TestOrchestratorHandlePortsSync(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	buf := make([]byte, 7+4*2)
	n, err := EncodePortsSync(buf, PortsSyncWire{DelFlag: false, MlagID: 0, Ports: []uint32{1, 2}})
	if err != nil {
		t.Fatalf("EncodePortsSync() error = %v", err)
	}

	if err := o.handlePortsSync(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handlePortsSync() error = %v", err)
	}
	if o.ports.Len() != 2 {
		t.Fatalf("ports.Len() = %d, want 2", o.ports.Len())
	}

	n, err = EncodePortsSync(buf, PortsSyncWire{DelFlag: true, MlagID: 0, Ports: []uint32{1}})
	if err != nil {
		t.Fatalf("EncodePortsSync() error = %v", err)
	}
	if err := o.handlePortsSync(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handlePortsSync() error = %v", err)
	}
	if o.ports.Len() != 1 || o.ports.Lookup(1) != nil {
		t.Fatalf("expected port 1 deleted, ports.Len() = %d", o.ports.Len())
	}
}

func TestOrchestratorHandlePortsSyncBadPayload(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	var mlagErr *Error
	err := o.handlePortsSync(context.Background(), dispatch.Event{Payload: []byte{0}})
	if !errors.As(err, &mlagErr) || mlagErr.Kind != KindIO {
		t.Fatalf("handlePortsSync(short payload) error = %v, want a KindIO *Error", err)
	}
}

func TestOrchestratorHandlePeerPortOperChange(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	o.ports.Allocate(5, ModeLacp, 0)

	buf := make([]byte, 10)
	n, err := EncodePeerPortOperChange(buf, PeerPortOperChangeWire{MlagID: 1, PortID: 5, State: WireStateUp})
	if err != nil {
		t.Fatalf("EncodePeerPortOperChange() error = %v", err)
	}

	if err := o.handlePeerPortOperChange(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handlePeerPortOperChange() error = %v", err)
	}
	p := o.ports.Lookup(5)
	if !p.PeersOperUp.Has(1) {
		t.Error("expected peer 1's oper-up bit recorded after a WireStateUp notification")
	}
}

func TestOrchestratorHandlePeerPortOperChangeUnknownPortIsNoop(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	buf := make([]byte, 10)
	n, _ := EncodePeerPortOperChange(buf, PeerPortOperChangeWire{MlagID: 1, PortID: 99, State: WireStateUp})
	if err := o.handlePeerPortOperChange(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handlePeerPortOperChange() on an unknown port should be a no-op, got error = %v", err)
	}
}

func TestOrchestratorHandlePortGlobalState(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	o.ports.Allocate(3, ModeLacp, 0)
	o.ports.Allocate(4, ModeLacp, 0)

	buf := make([]byte, 2+5*2)
	n, err := EncodePortGlobalState(buf, []PortStateWire{
		{PortID: 3, State: WireStateEnabled},
		{PortID: 4, State: WireStateDisabled},
	})
	if err != nil {
		t.Fatalf("EncodePortGlobalState() error = %v", err)
	}

	if err := o.handlePortGlobalState(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handlePortGlobalState() error = %v", err)
	}
}

func TestOrchestratorSetRoleMasterWiresFdbMaster(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	if err := o.SetRole(context.Background(), RoleMaster); err != nil {
		t.Fatalf("SetRole(Master) error = %v", err)
	}
	if o.Role() != RoleMaster {
		t.Fatalf("Role() = %v, want RoleMaster", o.Role())
	}
	if o.fdbMaster == nil {
		t.Fatal("expected SetRole(Master) to construct fdbMaster")
	}

	if err := o.SetRole(context.Background(), RoleSlave); err != nil {
		t.Fatalf("SetRole(Slave) error = %v", err)
	}
	if o.fdbMaster != nil {
		t.Error("expected SetRole(Slave) to clear fdbMaster")
	}
}

func TestOrchestratorSetRoleSameRoleIsNoop(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	if err := o.SetRole(context.Background(), RoleStandalone); err != nil {
		t.Fatalf("SetRole(Standalone) from Standalone error = %v", err)
	}
	if o.role != RoleStandalone {
		t.Fatalf("role = %v, want RoleStandalone unchanged", o.role)
	}
}

func TestOrchestratorHandleLocalLearnRequiresMaster(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	var mlagErr *Error
	err := o.handleLocalLearn(context.Background(), dispatch.Event{Payload: []byte{}})
	if !errors.As(err, &mlagErr) || mlagErr.Kind != KindNotReady || !errors.Is(err, ErrNotMaster) {
		t.Fatalf("handleLocalLearn() on a non-master = %v, want a KindNotReady/ErrNotMaster *Error", err)
	}
}

func TestOrchestratorHandleLocalLearnBroadcastsGlobalLearn(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	if err := o.SetRole(context.Background(), RoleMaster); err != nil {
		t.Fatalf("SetRole(Master) error = %v", err)
	}

	rec := LearnRecord{Key: FdbKey{VID: 1, MAC: [6]byte{1}}, Port: 7, EntryType: EntryDynamicAgeable, Originator: originatorSelf}
	buf := make([]byte, 2+wireEntrySize)
	n, err := EncodeLearnRecords(buf, []LearnRecord{rec}, nil)
	if err != nil {
		t.Fatalf("EncodeLearnRecords() error = %v", err)
	}

	// o.macSync is built but never Start()ed: Send returns ErrNotStarted
	// rather than panicking, so broadcastGlobalLearn's error path (not
	// the network) is what this test exercises.
	o.macSync = comm.New(comm.Config{Role: comm.RoleServer}, comm.SwapTable{}, nil, nil, o.counters, o.logger)

	if err := o.handleLocalLearn(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handleLocalLearn() error = %v", err)
	}
	if o.fdbMaster.Len() != 1 {
		t.Fatalf("fdbMaster.Len() = %d, want 1", o.fdbMaster.Len())
	}
}

func TestOrchestratorHandleGlobalLearn(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	rec := LearnRecord{Key: FdbKey{VID: 2, MAC: [6]byte{2}}, Port: 9, EntryType: EntryDynamicAgeable, Originator: 1}
	buf := make([]byte, 2+wireEntrySize)
	n, err := EncodeLearnRecords(buf, []LearnRecord{rec}, nil)
	if err != nil {
		t.Fatalf("EncodeLearnRecords() error = %v", err)
	}

	if err := o.handleGlobalLearn(context.Background(), dispatch.Event{Payload: buf[:n]}); err != nil {
		t.Fatalf("handleGlobalLearn() error = %v", err)
	}
}

func TestOrchestratorFdbEntriesRequiresMaster(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	if entries := o.FdbEntries(); entries != nil {
		t.Errorf("FdbEntries() on a non-master = %v, want nil", entries)
	}

	if err := o.SetRole(context.Background(), RoleMaster); err != nil {
		t.Fatalf("SetRole(Master) error = %v", err)
	}
	if entries := o.FdbEntries(); entries == nil {
		t.Error("FdbEntries() on the master should return a non-nil (possibly empty) slice")
	}
}

func TestOrchestratorTriggerFlush(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	o.ports.Liveness.Set(0, LivenessEnabled)

	started, already := o.TriggerFlush(5, 1)
	if !started || already {
		t.Fatalf("TriggerFlush() = started=%v already=%v, want true/false", started, already)
	}

	started, already = o.TriggerFlush(5, 1)
	if started || !already {
		t.Fatalf("second TriggerFlush() on the same (port, vid) = started=%v already=%v, want false/true", started, already)
	}
}

func TestOrchestratorStopWithoutStartIsSafe(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)

	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() before Start() error = %v", err)
	}
}
