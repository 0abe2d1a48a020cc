// Package comm implements CommWrapper (C2): a reliable, reconnecting TCP
// session with master-elected server/client roles, opcode/length framing
// (including jumbo payloads), and an optional per-socket send mutex for
// channels whose payloads may be large enough that interleaving sends
// would corrupt framing.
//
// Socket tuning follows the teacher's raw-socket-options pattern
// (internal/netio/sender.go's unix.SetsockoptInt calls inside a dialer
// Control callback) adapted to a TCP ListenConfig/Dialer Control hook.
package comm

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/mlagd/internal/wire"
)

// ErrNotStarted is returned by Send when no session is currently
// established.
var ErrNotStarted = errors.New("comm: not started")

// Counters is the subset of mlag.Counters CommWrapper updates directly.
// Declared locally so comm does not import internal/mlag (which imports
// comm to drive Wrapper instances) -- *mlag.Counters satisfies this
// interface structurally.
type Counters interface {
	IncWireDecodeError()
	IncWireEncodeError()
	IncOpcodesDispatched()
}

// Role is the CommWrapper's connection role, decided by master election
// (§4.2).
type Role uint8

const (
	RoleServer Role = iota // master: listens
	RoleClient              // slave: dials
)

// defaultReconnectInterval is CommWrapper's default reconnect timer
// (§4.2: "arm a reconnect timer (default 1s)").
const defaultReconnectInterval = 1 * time.Second

// Config tunes one CommWrapper session (§4.2 "Tunables").
type Config struct {
	Role              Role
	ListenAddr        string // used when Role == RoleServer
	DialAddr          string // used when Role == RoleClient
	ReconnectInterval time.Duration
	SendBuf           int // SO_SNDBUF, 0 leaves the OS default
	RecvBuf           int // SO_RCVBUF, 0 leaves the OS default
	SerializeSends    bool // per-socket send mutex (§4.2: enabled for FDB-sync channel)
}

// PDU is one decoded frame: opcode plus raw payload bytes, already
// through the per-opcode net_order swap (§4.2).
type PDU struct {
	Opcode  wire.Opcode
	Payload []byte
}

// Handler processes one received PDU.
type Handler func(pdu PDU) error

// SwapTable maps opcode to its per-PDU network-order swap routine (§4.2:
// "dispatch to a per-opcode byte-swap routine registered in the opcode
// table. Absence of such a routine is allowed (opaque payloads)").
type SwapTable map[wire.Opcode]wire.SwapFunc

// Wrapper is one CommWrapper session (§4.2). A Wrapper instance owns
// exactly one logical peer connection; a service with multiple peers runs
// one Wrapper per peer.
type Wrapper struct {
	cfg     Config
	swap    SwapTable
	onRecv  Handler
	onDown  func()
	logger  *slog.Logger
	counters Counters

	mu       sync.Mutex
	conn     net.Conn
	sendMu   sync.Mutex // guards conn writes when cfg.SerializeSends
	started  bool
	listener net.Listener
}

// New creates a Wrapper. onRecv is invoked for every decoded PDU; onDown
// is invoked whenever the read loop ends (TCP reset, EOF, or any other
// read error), so the caller can emit PeerCommDown. A failed Send only
// returns its error and does not tear the session down.
func New(cfg Config, swap SwapTable, onRecv Handler, onDown func(), counters Counters, logger *slog.Logger) *Wrapper {
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	return &Wrapper{
		cfg:      cfg,
		swap:     swap,
		onRecv:   onRecv,
		onDown:   onDown,
		counters: counters,
		logger:   logger.With(slog.String("component", "comm"), slog.String("role", roleName(cfg.Role))),
	}
}

func roleName(r Role) string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

func (w *Wrapper) controlFn(_ string, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if w.cfg.SendBuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, w.cfg.SendBuf); e != nil {
				sockErr = e
				return
			}
		}
		if w.cfg.RecvBuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, w.cfg.RecvBuf); e != nil {
				sockErr = e
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Start begins the session per its configured Role and returns without
// waiting for a peer. RoleServer listens and accepts in a background
// goroutine; each accepted connection becomes the current session and is
// served, and a connection accepted after Stop is closed (§4.2: "Server
// receives a connection when is_started == false -> reject"). RoleClient
// dials in a background goroutine, retrying every ReconnectInterval after
// a failed dial and after each session ends (§4.2).
func (w *Wrapper) Start(ctx context.Context) error {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	if w.cfg.Role == RoleServer {
		return w.startServer(ctx)
	}
	return w.startClient(ctx)
}

func (w *Wrapper) startServer(ctx context.Context) error {
	lc := net.ListenConfig{Control: w.controlFn}
	ln, err := lc.Listen(ctx, "tcp", w.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("comm: listen %s: %w", w.cfg.ListenAddr, err)
	}

	w.mu.Lock()
	w.listener = ln
	w.mu.Unlock()

	go w.acceptLoop(ctx, ln)
	return nil
}

func (w *Wrapper) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}

		w.mu.Lock()
		if !w.started {
			w.mu.Unlock()
			_ = conn.Close()
			continue
		}
		w.conn = conn
		w.mu.Unlock()

		go w.serve(ctx, conn)
	}
}

func (w *Wrapper) startClient(ctx context.Context) error {
	go w.reconnectLoop(ctx)
	return nil
}

func (w *Wrapper) reconnectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		dialer := net.Dialer{Control: w.controlFn, Timeout: w.cfg.ReconnectInterval}
		conn, err := dialer.DialContext(ctx, "tcp", w.cfg.DialAddr)
		if err != nil {
			w.logger.Debug("dial failed, will retry", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ReconnectInterval):
			}
			continue
		}

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()

		w.serve(ctx, conn) // blocks until the session tears down

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.ReconnectInterval):
		}
	}
}

// serve reads frames from conn until it errors or ctx is cancelled, then
// invokes onDown (§4.2 failure modes).
func (w *Wrapper) serve(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		if w.onDown != nil {
			w.onDown()
		}
	}()

	r := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		pdu, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				w.logger.Debug("frame read failed", slog.String("error", err.Error()))
			}
			return
		}

		if fn, ok := w.swap[pdu.Opcode]; ok {
			if err := fn(pdu.Payload, wire.SwapRecv); err != nil {
				w.counters.IncWireDecodeError()
				w.logger.Error("net_order recv failed",
					slog.String("opcode", pdu.Opcode.String()), slog.String("error", err.Error()))
				continue
			}
		}

		w.counters.IncOpcodesDispatched()
		if err := w.onRecv(pdu); err != nil {
			w.logger.Error("pdu handler failed",
				slog.String("opcode", pdu.Opcode.String()), slog.String("error", err.Error()))
		}
	}
}

func readFrame(r *bufio.Reader) (PDU, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return PDU{}, err
	}
	raw := binary.BigEndian.Uint16(hdr[:])
	opcode := wire.Opcode(raw &^ wire.JumboFlag)

	var length uint32
	if raw&wire.JumboFlag != 0 {
		var ext [4]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return PDU{}, err
		}
		length = binary.BigEndian.Uint32(ext[:])
	} else {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return PDU{}, err
		}
		length = uint32(binary.BigEndian.Uint16(lenBuf[:]))
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return PDU{}, err
		}
	}
	return PDU{Opcode: opcode, Payload: payload}, nil
}

// Send frames and writes one PDU. When cfg.SerializeSends is set, Send
// serializes concurrent callers behind the per-socket mutex (§4.2:
// "enabled for the FDB-sync channel; disabled for the general control
// channel").
func (w *Wrapper) Send(opcode wire.Opcode, payload []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("comm: send opcode %s: %w", opcode, ErrNotStarted)
	}

	if fn, ok := w.swap[opcode]; ok {
		if err := fn(payload, wire.SwapSend); err != nil {
			w.counters.IncWireEncodeError()
			return fmt.Errorf("comm: net_order send opcode %s: %w", opcode, err)
		}
	}

	frame := make([]byte, 0, 6+len(payload))
	var hdrBuf [6]byte
	n, err := wire.EncodeFrameHeader(hdrBuf[:], opcode, len(payload))
	if err != nil {
		return fmt.Errorf("comm: encode frame header: %w", err)
	}
	frame = append(frame, hdrBuf[:n]...)
	if n == 2 {
		// Regular frame: EncodeFrameHeader wrote only the opcode; readFrame
		// expects a u16 length next.
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	}
	frame = append(frame, payload...)

	if w.cfg.SerializeSends {
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("comm: write: %w", err)
	}
	return nil
}

// Stop tears down the session and, for a server role, stops accepting
// new connections.
func (w *Wrapper) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
	var err error
	if w.listener != nil {
		err = w.listener.Close()
	}
	if w.conn != nil {
		_ = w.conn.Close()
	}
	return err
}

// Connected reports whether a session is currently established.
func (w *Wrapper) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}
