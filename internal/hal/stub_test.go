package hal_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dantte-lp/mlagd/internal/hal"
	"github.com/dantte-lp/mlagd/internal/wire"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStubAllMethodsAreNoopsThatSucceed(t *testing.T) {
	t.Parallel()
	s := hal.NewStub(testLogger())
	ctx := context.Background()
	key := wire.FdbKey{VID: 10, MAC: [6]byte{1, 2, 3, 4, 5, 6}}

	steps := []struct {
		name string
		err  error
	}{
		{"PortAdminEnable", s.PortAdminEnable(ctx, 1)},
		{"PortAdminDisable", s.PortAdminDisable(ctx, 1)},
		{"PortRedirectAdd", s.PortRedirectAdd(ctx, 1)},
		{"PortRedirectRemove", s.PortRedirectRemove(ctx, 1)},
		{"PortIsolateAdd", s.PortIsolateAdd(ctx, 1)},
		{"PortIsolateRemove", s.PortIsolateRemove(ctx, 1)},
		{"FdbProgram", s.FdbProgram(ctx, key, 1, wire.EntryStatic)},
		{"FdbDelete", s.FdbDelete(ctx, key)},
		{"FdbFlush", s.FdbFlush(ctx, wire.FlushKey(0))},
	}
	for _, step := range steps {
		if step.err != nil {
			t.Errorf("%s() error = %v, want nil", step.name, step.err)
		}
	}
}

func TestStubSatisfiesHal(t *testing.T) {
	t.Parallel()
	var _ hal.Hal = hal.NewStub(testLogger())
}

func TestErrCapacityIsDistinguishable(t *testing.T) {
	t.Parallel()
	wrapped := errors.New("wrap: " + hal.ErrCapacity.Error())
	if errors.Is(wrapped, hal.ErrCapacity) {
		t.Error("a freshly constructed error with the same text must not satisfy errors.Is against the sentinel")
	}
	if !errors.Is(hal.ErrCapacity, hal.ErrCapacity) {
		t.Error("ErrCapacity must satisfy errors.Is against itself")
	}
}
