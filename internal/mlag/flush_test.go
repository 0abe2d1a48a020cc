package mlag_test

import (
	"testing"
	"time"

	"github.com/dantte-lp/mlagd/internal/mlag"
)

func noopSchedule(time.Duration, func()) *time.Timer { return nil }

func newTestCoordinator(portVidSize, globalSize int, schedule mlag.FlushTimeoutFunc) (*mlag.Coordinator, *mlag.Counters) {
	counters := &mlag.Counters{}
	cfg := mlag.CoordinatorConfig{PortVidPoolSize: portVidSize, GlobalPoolSize: globalSize, AckTimeout: time.Second}
	return mlag.NewCoordinator(cfg, counters, schedule), counters
}

func TestCoordinatorStartAndAlreadyInProgress(t *testing.T) {
	t.Parallel()

	c, counters := newTestCoordinator(10, 10, noopSchedule)
	key := mlag.PackFlushKey(1, 5, 0)
	awaited := mlag.PeerBitmap(0).Set(0).Set(1)

	started, already := c.Start(key, awaited, nil)
	if !started || already {
		t.Fatalf("first Start: started=%v already=%v, want true/false", started, already)
	}
	if counters.FlushStarted.Load() != 1 {
		t.Errorf("FlushStarted = %d, want 1", counters.FlushStarted.Load())
	}

	started, already = c.Start(key, awaited, nil)
	if started || !already {
		t.Errorf("second Start: started=%v already=%v, want false/true", started, already)
	}
}

func TestCoordinatorAckCompletesFlush(t *testing.T) {
	t.Parallel()

	c, counters := newTestCoordinator(10, 10, noopSchedule)
	key := mlag.PackFlushKey(1, 5, 0)
	awaited := mlag.PeerBitmap(0).Set(0).Set(1)
	c.Start(key, awaited, nil)

	if c.Ack(key, 0) {
		t.Error("expected Ack from one of two awaited peers not to complete the flush yet")
	}
	if c.InFlightCount() != 1 {
		t.Errorf("InFlightCount() = %d, want 1", c.InFlightCount())
	}

	if !c.Ack(key, 1) {
		t.Error("expected the final Ack to complete the flush")
	}
	if c.InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d, want 0 after completion", c.InFlightCount())
	}
	if counters.FlushCompleted.Load() != 1 {
		t.Errorf("FlushCompleted = %d, want 1", counters.FlushCompleted.Load())
	}
}

func TestCoordinatorAckUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(10, 10, noopSchedule)
	if c.Ack(mlag.PackFlushKey(9, 9, 0), 0) {
		t.Error("expected Ack on an unknown key to report no completion")
	}
}

func TestCoordinatorPeerDownActsAsImplicitAck(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(10, 10, noopSchedule)
	key := mlag.PackFlushKey(1, 5, 0)
	awaited := mlag.PeerBitmap(0).Set(0)
	c.Start(key, awaited, nil)

	c.PeerDown(0)
	if c.InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after the only awaited peer went down, want 0", c.InFlightCount())
	}
}

func TestCoordinatorPoolExhausted(t *testing.T) {
	t.Parallel()

	c, counters := newTestCoordinator(1, 10, noopSchedule)
	awaited := mlag.PeerBitmap(0).Set(0)

	started, _ := c.Start(mlag.PackFlushKey(1, 5, 0), awaited, nil)
	if !started {
		t.Fatal("expected the first flush to start")
	}
	started, already := c.Start(mlag.PackFlushKey(2, 6, 0), awaited, nil)
	if started || already {
		t.Errorf("expected the second flush to be rejected by pool exhaustion, got started=%v already=%v", started, already)
	}
	if counters.FlushPoolExhausted.Load() != 1 {
		t.Errorf("FlushPoolExhausted = %d, want 1", counters.FlushPoolExhausted.Load())
	}
}

func TestCoordinatorTimeout(t *testing.T) {
	t.Parallel()

	var fired func()
	schedule := func(_ time.Duration, cb func()) *time.Timer {
		fired = cb
		return nil
	}

	c, counters := newTestCoordinator(10, 10, schedule)
	key := mlag.PackFlushKey(1, 5, 0)
	awaited := mlag.PeerBitmap(0).Set(0)

	var timedOutKey mlag.FlushKey
	c.Start(key, awaited, func(k mlag.FlushKey) { timedOutKey = k })
	if fired == nil {
		t.Fatal("expected Start to register a timeout callback")
	}

	fired()
	if timedOutKey != key {
		t.Errorf("onTimeout key = %v, want %v", timedOutKey, key)
	}
	if counters.FlushTimedOut.Load() != 1 {
		t.Errorf("FlushTimedOut = %d, want 1", counters.FlushTimedOut.Load())
	}
	if c.InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after timeout, want 0", c.InFlightCount())
	}
}

func TestCoordinatorInProgress(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(10, 10, noopSchedule)
	key := mlag.PackFlushKey(1, 5, 0)
	c.Start(key, mlag.PeerBitmap(0).Set(0), nil)

	if !c.InProgress(5, 1, 0) {
		t.Error("expected InProgress to match the flush just started")
	}
	if c.InProgress(6, 2, 0) {
		t.Error("expected InProgress to report false for an unrelated (port, vid)")
	}
}

func TestCoordinatorInProgressGlobalWildcard(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(10, 10, noopSchedule)
	c.Start(mlag.FlushKey(0), mlag.PeerBitmap(0).Set(0), nil)

	if !c.InProgress(123, 456, 0) {
		t.Error("expected a global flush in progress to match any (port, vid)")
	}
}

func TestCoordinatorReset(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(10, 10, noopSchedule)
	c.Start(mlag.PackFlushKey(1, 5, 0), mlag.PeerBitmap(0).Set(0), nil)
	c.Start(mlag.PackFlushKey(2, 6, 0), mlag.PeerBitmap(0).Set(0), nil)

	c.Reset()
	if c.InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after Reset, want 0", c.InFlightCount())
	}
}
