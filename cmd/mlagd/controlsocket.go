package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
	"github.com/dantte-lp/mlagd/internal/mlag"
)

// listenControlSocket creates the unix-domain listener mlagctl connects to.
// Any stale socket file at path from a prior unclean shutdown is removed
// first, matching how the teacher's gRPC listener setup tolerates restart.
func listenControlSocket(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create control socket dir: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale control socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket %s: %w", path, err)
	}
	return ln, nil
}

// serveControlSocket accepts connections until ln is closed (by context
// cancellation elsewhere closing the listener), handling one request per
// connection.
func serveControlSocket(ln net.Listener, orch *mlag.Orchestrator, logger *slog.Logger) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		go handleControlConn(conn, orch, logger)
	}
}

func handleControlConn(conn net.Conn, orch *mlag.Orchestrator, logger *slog.Logger) {
	defer conn.Close()

	var req ctlproto.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		logger.Warn("control socket: malformed request", slog.String("error", err.Error()))
		return
	}

	resp := dispatchControlRequest(orch, req)

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logger.Warn("control socket: write response failed", slog.String("error", err.Error()))
	}
}

func dispatchControlRequest(orch *mlag.Orchestrator, req ctlproto.Request) ctlproto.Response {
	switch req.Command {
	case ctlproto.CommandShowPorts:
		return ctlproto.Response{OK: true, Ports: portViews(orch)}
	case ctlproto.CommandShowFdb:
		return ctlproto.Response{OK: true, Fdb: fdbViews(orch)}
	case ctlproto.CommandFlush:
		started, already := orch.TriggerFlush(req.Port, req.VID)
		return ctlproto.Response{OK: true, Flush: &ctlproto.FlushView{Started: started, Already: already}}
	default:
		return ctlproto.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func portViews(orch *mlag.Orchestrator) []ctlproto.PortView {
	var views []ctlproto.PortView
	orch.Ports().ForEach(func(p *mlag.Port) {
		views = append(views, ctlproto.PortView{
			ID:          p.ID,
			Mode:        modeString(p.Mode),
			LocalState:  p.LocalState().String(),
			RemoteState: p.RemoteState().String(),
			MasterState: p.MasterState().String(),
		})
	})
	return views
}

func fdbViews(orch *mlag.Orchestrator) []ctlproto.FdbView {
	records := orch.FdbEntries()
	views := make([]ctlproto.FdbView, 0, len(records))
	for _, r := range records {
		views = append(views, ctlproto.FdbView{
			VID:        r.Key.VID,
			MAC:        net.HardwareAddr(r.Key.MAC[:]).String(),
			Port:       r.Port,
			EntryType:  entryTypeString(r.EntryType),
			Originator: r.Originator,
		})
	}
	return views
}

func modeString(m mlag.Mode) string {
	if m == mlag.ModeLacp {
		return "lacp"
	}
	return "static"
}

func entryTypeString(t mlag.EntryType) string {
	switch t {
	case mlag.EntryStatic:
		return "static"
	case mlag.EntryDynamicAgeable:
		return "dynamic-ageable"
	case mlag.EntryDynamicNonAgeable:
		return "dynamic-non-ageable"
	default:
		return "unknown"
	}
}
