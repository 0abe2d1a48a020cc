package mlag_test

import (
	"testing"

	"github.com/dantte-lp/mlagd/internal/mlag"
)

func TestPeerBitmap(t *testing.T) {
	t.Parallel()

	var b mlag.PeerBitmap
	if !b.IsZero() {
		t.Fatal("zero value must be zero")
	}

	b = b.Set(0).Set(3)
	if !b.Has(0) || !b.Has(3) {
		t.Errorf("expected bits 0 and 3 set, got %b", b)
	}
	if b.Has(1) {
		t.Errorf("bit 1 must not be set, got %b", b)
	}
	if b.Count() != 2 {
		t.Errorf("Count() = %d, want 2", b.Count())
	}

	b = b.Clear(0)
	if b.Has(0) {
		t.Error("Clear(0) did not clear bit 0")
	}
	if b.Count() != 1 {
		t.Errorf("Count() after Clear = %d, want 1", b.Count())
	}
}

func TestLivenessStateActive(t *testing.T) {
	t.Parallel()

	cases := map[mlag.LivenessState]bool{
		mlag.LivenessDown:      false,
		mlag.LivenessEnabled:   true,
		mlag.LivenessTxEnabled: true,
	}
	for state, want := range cases {
		if got := state.Active(); got != want {
			t.Errorf("%v.Active() = %v, want %v", state, got, want)
		}
	}
}

func TestLivenessTable(t *testing.T) {
	t.Parallel()

	var lt mlag.LivenessTable
	if got := lt.Get(0); got != mlag.LivenessDown {
		t.Errorf("zero value Get(0) = %v, want LivenessDown", got)
	}

	old := lt.Set(1, mlag.LivenessEnabled)
	if old != mlag.LivenessDown {
		t.Errorf("Set returned %v, want previous value LivenessDown", old)
	}
	if got := lt.Get(1); got != mlag.LivenessEnabled {
		t.Errorf("Get(1) = %v, want LivenessEnabled", got)
	}

	lt.Set(2, mlag.LivenessTxEnabled)
	active := lt.ActiveBitmap()
	if !active.Has(1) || !active.Has(2) {
		t.Errorf("ActiveBitmap() = %b, want bits 1 and 2 set", active)
	}
	if active.Has(0) {
		t.Errorf("ActiveBitmap() = %b, bit 0 should be clear", active)
	}
}

func TestFlushKeyPackRoundTrip(t *testing.T) {
	t.Parallel()

	key := mlag.PackFlushKey(100, 42, 7)
	if key.VID() != 100 {
		t.Errorf("VID() = %d, want 100", key.VID())
	}
	if key.Port() != 42 {
		t.Errorf("Port() = %d, want 42", key.Port())
	}
	if key.OriginBits() != 7 {
		t.Errorf("OriginBits() = %d, want 7", key.OriginBits())
	}
	if key.IsGlobal() {
		t.Error("non-zero key must not be global")
	}
}

func TestFlushKeyGlobal(t *testing.T) {
	t.Parallel()

	var key mlag.FlushKey
	if !key.IsGlobal() {
		t.Error("zero value FlushKey must be global")
	}
}

func TestPortRemoteHelpers(t *testing.T) {
	t.Parallel()

	p := &mlag.Port{
		LocalPeer:       0,
		PeersConfigured: mlag.PeerBitmap(0).Set(0).Set(1),
		PeersOperUp:     mlag.PeerBitmap(0).Set(0),
	}

	if got := p.RemoteConfigured(); got.Has(0) || !got.Has(1) {
		t.Errorf("RemoteConfigured() = %b, want only bit 1 set", got)
	}
	if got := p.RemoteOperUp(); !got.IsZero() {
		t.Errorf("RemoteOperUp() = %b, want zero (local-only oper up)", got)
	}
}
