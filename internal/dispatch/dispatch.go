// Package dispatch implements the single-threaded cooperative event loop
// (C3) each MLAG service runs: a strict-priority select over three
// in-process queues, with opcode lookups through a per-service CmdDb.
// Readable sources such as CommWrapper sessions feed it by posting into
// those queues.
//
// The scheduling shape mirrors the state-change fan-out goroutine in the
// BFD manager (select over ctx.Done() plus channel reads, non-blocking
// forward-or-drop on a full output); here it is generalized to N
// priority-ordered input channels instead of one.
package dispatch

import (
	"context"
	"log/slog"
)

// Priority is the three-level scheduling priority for in-process events
// (§4.3: "three priority-ordered in-process event queues").
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityMed
	PriorityLow
	numPriorities
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMed:
		return "Med"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// EventID identifies the kind of a dispatched Event, shared between
// locally-posted events and opcodes decoded off the wire (§4.3: "both
// local and wire opcodes route through the same table").
type EventID uint16

// Event is one unit of work accepted by a Dispatcher. ID carries the wire
// opcode when the event originated from CommWrapper, or a local event id
// otherwise; Payload is the event body (for a wire event, the PDU's raw
// payload bytes, which the handler decodes).
type Event struct {
	ID      EventID
	Payload any
}

// Handler processes one Event. Returning ErrCancelled ends the
// dispatcher's Run loop (§4.3: "returning the special code 'cancelled'
// ends the loop and terminates the thread").
type Handler func(ctx context.Context, ev Event) error

// cmdEntry is one CmdDb row: a handler plus its display name for logging
// (§4.3).
type cmdEntry struct {
	name    string
	handler Handler
}

// CmdDb maps EventID to its registered handler and display name. Both
// locally-posted events and decoded wire opcodes are registered here
// under the same EventID space so dispatch is uniform.
type CmdDb struct {
	entries map[EventID]cmdEntry
}

// NewCmdDb creates an empty CmdDb.
func NewCmdDb() *CmdDb {
	return &CmdDb{entries: make(map[EventID]cmdEntry)}
}

// Register adds a handler for id. Registering the same id twice replaces
// the previous entry.
func (c *CmdDb) Register(id EventID, name string, h Handler) {
	c.entries[id] = cmdEntry{name: name, handler: h}
}

// Lookup returns the handler and display name registered for id.
func (c *CmdDb) Lookup(id EventID) (Handler, string, bool) {
	e, ok := c.entries[id]
	return e.handler, e.name, ok
}

// ErrCancelled is returned by a Handler to request dispatcher shutdown
// (§4.3, §5 "deinit enqueues a distinguished DeinitEvent at high
// priority; handlers return 'cancelled' to break the loop").
// A package-local alias keeps dispatch decoupled from the mlag package;
// callers that want errors.Is against mlag.ErrCancelled should wrap it.
type cancelledError struct{}

func (cancelledError) Error() string { return "dispatch: cancelled" }

// ErrCancelled is the sentinel Handlers return to terminate Run.
var ErrCancelled error = cancelledError{}

// Source is a registered readable input outside the three priority
// queues -- typically a CommWrapper session's decode-and-post pump
// (§4.3: "up to N socket FDs added by CommWrapper"). Implementations post
// directly into one of the Dispatcher's priority channels; the Dispatcher
// holds no list of Sources and does not track or shut them down.
type Source interface {
	// Name identifies the source in logs.
	Name() string
}

// Dispatcher is one cooperative event loop instance (§4.3: "a single
// cooperative thread per logical service"). Queues are buffered channels;
// Post blocks if a queue is full, applying natural backpressure to
// producers rather than silently dropping (unlike the BFD manager's
// public-notification channel, which is allowed to drop since it only
// feeds optional observers).
type Dispatcher struct {
	name   string
	queues [numPriorities]chan Event
	cmds   *CmdDb
	logger *slog.Logger
}

// New creates a Dispatcher named name (used in log lines), with the given
// per-priority queue depth and CmdDb.
func New(name string, queueDepth int, cmds *CmdDb, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		name:   name,
		cmds:   cmds,
		logger: logger.With(slog.String("dispatcher", name)),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Event, queueDepth)
	}
	return d
}

// Post enqueues ev at the given priority. Blocks if that queue is full.
func (d *Dispatcher) Post(ctx context.Context, priority Priority, ev Event) error {
	select {
	case d.queues[priority] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost enqueues ev at the given priority without blocking. Returns
// false (and logs) if the queue is full.
func (d *Dispatcher) TryPost(priority Priority, ev Event) bool {
	select {
	case d.queues[priority] <- ev:
		return true
	default:
		d.logger.Warn("queue full, dropping event",
			slog.String("priority", priority.String()), slog.Uint64("event_id", uint64(ev.ID)))
		return false
	}
}

// Run is the dispatcher loop (§4.3, §5): scan sources in priority order
// on every wakeup; among sources of equal priority, channel receive order
// is already FIFO so a single select handles that tier. A handler
// returning ErrCancelled ends the loop. Blocks until ctx is cancelled or a
// handler cancels.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queues[PriorityHigh]:
			if d.dispatch(ctx, ev) {
				return
			}
			continue
		default:
		}

		select {
		case ev := <-d.queues[PriorityMed]:
			if d.dispatch(ctx, ev) {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-d.queues[PriorityHigh]:
			if d.dispatch(ctx, ev) {
				return
			}
		case ev := <-d.queues[PriorityMed]:
			if d.dispatch(ctx, ev) {
				return
			}
		case ev := <-d.queues[PriorityLow]:
			if d.dispatch(ctx, ev) {
				return
			}
		}
	}
}

// dispatch looks up and invokes the handler for ev, logging unregistered
// ids (Invariant per §4.3/§7) and handler errors. It reports whether the
// loop should terminate.
func (d *Dispatcher) dispatch(ctx context.Context, ev Event) (cancelled bool) {
	handler, name, ok := d.cmds.Lookup(ev.ID)
	if !ok {
		d.logger.Error("unregistered event id", slog.Uint64("event_id", uint64(ev.ID)))
		return false
	}

	if err := handler(ctx, ev); err != nil {
		if err == ErrCancelled { //nolint:errorlint // sentinel identity check matches teacher style
			d.logger.Info("dispatcher cancelled", slog.String("event", name))
			return true
		}
		d.logger.Error("handler error", slog.String("event", name), slog.String("error", err.Error()))
	}
	return false
}

// PostDeinit enqueues the cancellation event at high priority, per §5's
// "deinit enqueues a distinguished DeinitEvent at high priority".
func (d *Dispatcher) PostDeinit(ctx context.Context, deinitID EventID) error {
	return d.Post(ctx, PriorityHigh, Event{ID: deinitID})
}

// Name returns the dispatcher's display name.
func (d *Dispatcher) Name() string { return d.name }
