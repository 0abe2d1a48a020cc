package comm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dantte-lp/mlagd/internal/comm"
	"github.com/dantte-lp/mlagd/internal/wire"
)

type fakeCounters struct {
	decodeErrs, encodeErrs, dispatched atomic.Int64
}

func (c *fakeCounters) IncWireDecodeError()   { c.decodeErrs.Add(1) }
func (c *fakeCounters) IncWireEncodeError()   { c.encodeErrs.Add(1) }
func (c *fakeCounters) IncOpcodesDispatched() { c.dispatched.Add(1) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// freePort asks the OS for an ephemeral TCP port on loopback, then closes
// the probe listener so the Wrapper under test can bind it.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestWrapperSendAndReceiveRoundTrip(t *testing.T) {
	t.Parallel()
	addr := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []comm.PDU
	serverCounters := &fakeCounters{}
	server := comm.New(comm.Config{Role: comm.RoleServer, ListenAddr: addr}, comm.SwapTable{}, func(pdu comm.PDU) error {
		mu.Lock()
		received = append(received, pdu)
		mu.Unlock()
		return nil
	}, nil, serverCounters, testLogger())

	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	defer server.Stop()

	clientCounters := &fakeCounters{}
	client := comm.New(comm.Config{Role: comm.RoleClient, DialAddr: addr, ReconnectInterval: 20 * time.Millisecond},
		comm.SwapTable{}, func(comm.PDU) error { return nil }, nil, clientCounters, testLogger())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	defer client.Stop()

	waitFor(t, time.Second, client.Connected)

	payload := []byte("hello mlag")
	if err := client.Send(wire.OpPortsSync, payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Opcode != wire.OpPortsSync || string(received[0].Payload) != string(payload) {
		t.Errorf("received PDU = %+v, want opcode %v payload %q", received[0], wire.OpPortsSync, payload)
	}
	if serverCounters.dispatched.Load() != 1 {
		t.Errorf("server dispatched count = %d, want 1", serverCounters.dispatched.Load())
	}
}

func TestWrapperSendBeforeConnectIsErrNotStarted(t *testing.T) {
	t.Parallel()
	w := comm.New(comm.Config{Role: comm.RoleClient, DialAddr: "127.0.0.1:1"}, comm.SwapTable{}, nil, nil, &fakeCounters{}, testLogger())
	if err := w.Send(wire.OpPortsSync, nil); !errors.Is(err, comm.ErrNotStarted) {
		t.Errorf("Send() before any connection = %v, want ErrNotStarted", err)
	}
}

func TestWrapperOnDownFiresOnPeerDisconnect(t *testing.T) {
	t.Parallel()
	addr := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := comm.New(comm.Config{Role: comm.RoleServer, ListenAddr: addr}, comm.SwapTable{}, func(comm.PDU) error { return nil }, nil, &fakeCounters{}, testLogger())
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	defer server.Stop()

	var downCount atomic.Int32
	client := comm.New(comm.Config{Role: comm.RoleClient, DialAddr: addr, ReconnectInterval: 20 * time.Millisecond},
		comm.SwapTable{}, func(comm.PDU) error { return nil }, func() { downCount.Add(1) }, &fakeCounters{}, testLogger())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	defer client.Stop()

	waitFor(t, time.Second, client.Connected)
	server.Stop()

	waitFor(t, time.Second, func() bool { return downCount.Load() >= 1 })
}

func TestWrapperSwapTableAppliesOnSendAndRecv(t *testing.T) {
	t.Parallel()
	addr := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sendSwapped, recvSwapped atomic.Bool
	swap := comm.SwapTable{
		wire.OpPortsSync: func(payload []byte, dir wire.SwapDirection) error {
			if dir == wire.SwapSend {
				sendSwapped.Store(true)
			} else {
				recvSwapped.Store(true)
			}
			return nil
		},
	}

	done := make(chan struct{})
	server := comm.New(comm.Config{Role: comm.RoleServer, ListenAddr: addr}, swap, func(comm.PDU) error {
		close(done)
		return nil
	}, nil, &fakeCounters{}, testLogger())
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	defer server.Stop()

	client := comm.New(comm.Config{Role: comm.RoleClient, DialAddr: addr, ReconnectInterval: 20 * time.Millisecond},
		swap, func(comm.PDU) error { return nil }, nil, &fakeCounters{}, testLogger())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	defer client.Stop()

	waitFor(t, time.Second, client.Connected)
	if err := client.Send(wire.OpPortsSync, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server never received the PDU")
	}

	if !sendSwapped.Load() {
		t.Error("expected the swap function to run on the send side")
	}
	waitFor(t, time.Second, recvSwapped.Load)
}

func TestWrapperSerializeSendsConfigAccepted(t *testing.T) {
	t.Parallel()
	// SerializeSends only changes internal locking around conn.Write; this
	// just confirms Config plumbing doesn't reject the option.
	w := comm.New(comm.Config{Role: comm.RoleClient, DialAddr: "127.0.0.1:1", SerializeSends: true}, comm.SwapTable{}, nil, nil, &fakeCounters{}, testLogger())
	if err := w.Send(wire.OpAllFdbGet, nil); !errors.Is(err, comm.ErrNotStarted) {
		t.Errorf("Send() on an unconnected serialize-sends wrapper = %v, want ErrNotStarted", err)
	}
}

func TestWrapperStopClosesListener(t *testing.T) {
	t.Parallel()
	addr := freePort(t)
	ctx := context.Background()

	server := comm.New(comm.Config{Role: comm.RoleServer, ListenAddr: addr}, comm.SwapTable{}, func(comm.PDU) error { return nil }, nil, &fakeCounters{}, testLogger())
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// A second listener can now bind the same address.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("expected to rebind %s after Stop(), got %v", addr, err)
	}
	ln.Close()
}
