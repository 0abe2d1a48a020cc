// Package hal defines the hardware abstraction boundary the MLAG control
// plane drives: port admin state, IPL isolation/redirect, and FDB
// programming. Spec.md §1 treats this as an external collaborator; this
// package gives it a concrete Go shape the same way internal/netio gives
// the BFD teacher's transport layer a concrete shape beneath an abstract
// protocol, with a no-op Stub for tests and a real OVSDB-backed adapter.
package hal

import (
	"context"
	"errors"

	"github.com/dantte-lp/mlagd/internal/wire"
)

// ErrCapacity is returned by FdbProgram when the hardware FDB/hash-bin is
// full (the "EXFULL" condition named in spec.md §9 open question #2).
var ErrCapacity = errors.New("hal: hardware fdb capacity exceeded")

// Hal is the hardware abstraction the MLAG control plane drives. All
// methods may block briefly (they are called from dispatcher goroutines,
// which tolerate short blocking per the concurrency model) and must be
// safe to call concurrently from the manager and mac-sync dispatchers.
type Hal interface {
	// PortAdminEnable enables forwarding on a port.
	PortAdminEnable(ctx context.Context, port uint32) error
	// PortAdminDisable disables forwarding on a port.
	PortAdminDisable(ctx context.Context, port uint32) error

	// PortRedirectAdd installs an IPL redirect: ingress traffic on port is
	// steered across the IPL to a remote peer (PortLocalFsm entry to
	// LocalFault, §4.4).
	PortRedirectAdd(ctx context.Context, port uint32) error
	// PortRedirectRemove removes a previously installed redirect.
	PortRedirectRemove(ctx context.Context, port uint32) error

	// PortIsolateAdd isolates port from the IPL: local egress must not
	// fall back across the IPL (PortRemoteFsm entry to RemotesUp, §4.5).
	PortIsolateAdd(ctx context.Context, port uint32) error
	// PortIsolateRemove removes isolation (PortRemoteFsm entry to
	// RemoteFault).
	PortIsolateRemove(ctx context.Context, port uint32) error

	// FdbProgram installs or updates a unicast FDB entry. Returns
	// ErrCapacity when the hardware table/hash-bin is full.
	FdbProgram(ctx context.Context, key wire.FdbKey, port uint32, entryType wire.EntryType) error
	// FdbDelete removes a unicast FDB entry.
	FdbDelete(ctx context.Context, key wire.FdbKey) error
	// FdbFlush flushes entries matching the given filter. A zero FlushKey
	// flushes everything.
	FdbFlush(ctx context.Context, key wire.FlushKey) error

	// RegisterNotify installs the callback the hardware control-learning
	// library invokes with a batch of FDB notifications (§4.8, §9 "marshal
	// HAL notifications through a bounded channel into the dispatcher").
	// The callback returns one approve/deny decision per record, which the
	// caller reports back to the library. Only one callback is active at a
	// time; a second call replaces the first.
	RegisterNotify(cb func([]wire.Notification) []bool)
}
