package hal

import (
	"context"
	"log/slog"

	"github.com/dantte-lp/mlagd/internal/wire"
)

// Stub is a no-op Hal implementation that only logs. It is used in tests
// and whenever no dataplane is attached, the same role
// StubInterfaceMonitor plays for the BFD teacher's InterfaceMonitor
// interface.
type Stub struct {
	logger *slog.Logger
	notify func([]wire.Notification) []bool
}

// NewStub creates a Stub bound to logger.
func NewStub(logger *slog.Logger) *Stub {
	return &Stub{logger: logger}
}

func (s *Stub) PortAdminEnable(_ context.Context, port uint32) error {
	s.logger.Debug("hal stub: port admin enable", slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) PortAdminDisable(_ context.Context, port uint32) error {
	s.logger.Debug("hal stub: port admin disable", slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) PortRedirectAdd(_ context.Context, port uint32) error {
	s.logger.Debug("hal stub: port redirect add", slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) PortRedirectRemove(_ context.Context, port uint32) error {
	s.logger.Debug("hal stub: port redirect remove", slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) PortIsolateAdd(_ context.Context, port uint32) error {
	s.logger.Debug("hal stub: port isolate add", slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) PortIsolateRemove(_ context.Context, port uint32) error {
	s.logger.Debug("hal stub: port isolate remove", slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) FdbProgram(_ context.Context, key wire.FdbKey, port uint32, entryType wire.EntryType) error {
	s.logger.Debug("hal stub: fdb program",
		slog.Uint64("vid", uint64(key.VID)), slog.Uint64("port", uint64(port)))
	return nil
}

func (s *Stub) FdbDelete(_ context.Context, key wire.FdbKey) error {
	s.logger.Debug("hal stub: fdb delete", slog.Uint64("vid", uint64(key.VID)))
	return nil
}

func (s *Stub) FdbFlush(_ context.Context, key wire.FlushKey) error {
	s.logger.Debug("hal stub: fdb flush", slog.Uint64("key", uint64(key)))
	return nil
}

// RegisterNotify stores cb. Nothing in Stub ever drives it on its own;
// tests use Fire to simulate the control-learning library's callback.
func (s *Stub) RegisterNotify(cb func([]wire.Notification) []bool) {
	s.notify = cb
}

// Fire invokes the registered notify callback, if any, the same way a real
// control-learning library would deliver a notification batch. Returns nil
// if no callback has been registered.
func (s *Stub) Fire(records []wire.Notification) []bool {
	if s.notify == nil {
		return nil
	}
	return s.notify(records)
}

var _ Hal = (*Stub)(nil)
