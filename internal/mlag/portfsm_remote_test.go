package mlag_test

import (
	"testing"

	"github.com/dantte-lp/mlagd/internal/mlag"
)

func TestApplyRemoteGlobalEnable(t *testing.T) {
	t.Parallel()

	t.Run("all remotes up isolates", func(t *testing.T) {
		t.Parallel()
		res := mlag.ApplyRemoteGlobalEnable(mlag.RemoteGlobalDown, true)
		if res.NewState != mlag.RemotesUp || !res.Changed {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("not all remotes up goes to fault", func(t *testing.T) {
		t.Parallel()
		res := mlag.ApplyRemoteGlobalEnable(mlag.RemoteGlobalDown, false)
		if res.NewState != mlag.RemoteFault || !res.Changed {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("wrong source state no-op", func(t *testing.T) {
		t.Parallel()
		res := mlag.ApplyRemoteGlobalEnable(mlag.RemoteIdle, true)
		if res.Changed {
			t.Errorf("expected no-op, got %+v", res)
		}
	})
}

func TestApplyRemotePeerPortUp(t *testing.T) {
	t.Parallel()

	res := mlag.ApplyRemotePeerPortUp(mlag.RemoteFault, true)
	if res.NewState != mlag.RemotesUp || !res.Changed {
		t.Errorf("got %+v", res)
	}

	res = mlag.ApplyRemotePeerPortUp(mlag.RemoteFault, false)
	if res.Changed {
		t.Errorf("expected no state change when not conditioned up, got %+v", res)
	}
}

func TestApplyRemotePeerPortDown(t *testing.T) {
	t.Parallel()

	res := mlag.ApplyRemotePeerPortDown(mlag.RemotesUp)
	if res.NewState != mlag.RemoteFault || !res.Changed {
		t.Errorf("got %+v", res)
	}

	res = mlag.ApplyRemotePeerPortDown(mlag.RemoteIdle)
	if res.Changed {
		t.Errorf("expected no-op from non-RemotesUp state, got %+v", res)
	}
}

func TestApplyRemotePortDel(t *testing.T) {
	t.Parallel()

	res := mlag.ApplyRemotePortDel(mlag.RemotesUp, true)
	if res.NewState != mlag.RemoteIdle || !res.Changed {
		t.Errorf("got %+v", res)
	}
	hasIsolateRemove := false
	for _, a := range res.Actions {
		if a == mlag.RemoteActionIsolateRemove {
			hasIsolateRemove = true
		}
	}
	if !hasIsolateRemove {
		t.Errorf("expected IsolateRemove action clearing RemotesUp, got %v", res.Actions)
	}

	if res := mlag.ApplyRemotePortDel(mlag.RemoteFault, false); res.Changed {
		t.Errorf("expected no-op when remotes not fully deleted, got %+v", res)
	}

	if res := mlag.ApplyRemotePortDel(mlag.RemoteIdle, true); res.Changed {
		t.Errorf("expected no-op from already-idle state, got %+v", res)
	}
}

func TestAllRemotesUp(t *testing.T) {
	t.Parallel()

	var configured, operUp mlag.PeerBitmap
	configured = configured.Set(1).Set(2)

	if mlag.AllRemotesUp(configured, operUp) {
		t.Error("expected false when no peers oper up yet")
	}

	operUp = operUp.Set(1).Set(2)
	if !mlag.AllRemotesUp(configured, operUp) {
		t.Error("expected true when all configured peers oper up")
	}

	if mlag.AllRemotesUp(mlag.PeerBitmap(0), mlag.PeerBitmap(0)) {
		t.Error("expected false for empty configured set")
	}
}

func TestConditionedUp(t *testing.T) {
	t.Parallel()

	var configured, operUp mlag.PeerBitmap
	configured = configured.Set(1).Set(2)
	operUp = operUp.Set(1)

	if !mlag.ConditionedUp(configured, operUp, 2) {
		t.Error("expected true: adding peer 2 would complete the configured set")
	}
	if mlag.ConditionedUp(configured, operUp, 3) {
		t.Error("expected false: peer 3 is not in the configured set")
	}
}

func TestAllRemotesDeleted(t *testing.T) {
	t.Parallel()

	if !mlag.AllRemotesDeleted(mlag.PeerBitmap(0)) {
		t.Error("expected true for empty bitmap")
	}
	if mlag.AllRemotesDeleted(mlag.PeerBitmap(0).Set(1)) {
		t.Error("expected false for non-empty bitmap")
	}
}
