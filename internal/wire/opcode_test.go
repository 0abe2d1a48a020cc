package wire_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/mlagd/internal/wire"
)

func TestOpcodeString(t *testing.T) {
	t.Parallel()

	if got := wire.OpPortsSync.String(); got != "PortsSync" {
		t.Errorf("OpPortsSync.String() = %q, want %q", got, "PortsSync")
	}
	if got := wire.Opcode(0xFF).String(); got != "Opcode(255)" {
		t.Errorf("unknown opcode String() = %q, want %q", got, "Opcode(255)")
	}
}

func TestFrameHeaderRoundTripRegular(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 2)
	n, err := wire.EncodeFrameHeader(buf, wire.OpMacSyncLocalLearn, 100)
	if err != nil {
		t.Fatalf("EncodeFrameHeader() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("EncodeFrameHeader() wrote %d bytes, want 2", n)
	}

	h, err := wire.DecodeFrameHeader(buf)
	if err != nil {
		t.Fatalf("DecodeFrameHeader() error = %v", err)
	}
	if h.Opcode != wire.OpMacSyncLocalLearn || h.Jumbo {
		t.Errorf("DecodeFrameHeader() = %+v, want opcode MacSyncLocalLearn, not jumbo", h)
	}
}

func TestFrameHeaderRoundTripJumbo(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 6)
	const payloadLen = 0x10000
	n, err := wire.EncodeFrameHeader(buf, wire.OpAllFdbExport, payloadLen)
	if err != nil {
		t.Fatalf("EncodeFrameHeader() error = %v", err)
	}
	if n != 6 {
		t.Fatalf("EncodeFrameHeader() wrote %d bytes, want 6", n)
	}

	h, err := wire.DecodeFrameHeader(buf)
	if err != nil {
		t.Fatalf("DecodeFrameHeader() error = %v", err)
	}
	if !h.Jumbo || h.Opcode != wire.OpAllFdbExport || h.Length != payloadLen {
		t.Errorf("DecodeFrameHeader() = %+v, want jumbo opcode AllFdbExport length %d", h, payloadLen)
	}
}

func TestEncodeFrameHeaderShortBuffer(t *testing.T) {
	t.Parallel()

	if _, err := wire.EncodeFrameHeader(make([]byte, 1), wire.OpPortsSync, 10); !errors.Is(err, wire.ErrShortBuffer) {
		t.Errorf("error = %v, want ErrShortBuffer", err)
	}
	if _, err := wire.EncodeFrameHeader(make([]byte, 5), wire.OpPortsSync, 0x10000); !errors.Is(err, wire.ErrShortBuffer) {
		t.Errorf("error = %v, want ErrShortBuffer for an undersized jumbo buffer", err)
	}
}

func TestDecodeFrameHeaderShortBuffer(t *testing.T) {
	t.Parallel()

	if _, err := wire.DecodeFrameHeader(nil); !errors.Is(err, wire.ErrShortBuffer) {
		t.Errorf("error = %v, want ErrShortBuffer", err)
	}

	// Jumbo flag set but only 2 bytes available.
	short := []byte{0x80, 0x01}
	if _, err := wire.DecodeFrameHeader(short); !errors.Is(err, wire.ErrShortBuffer) {
		t.Errorf("error = %v, want ErrShortBuffer for a truncated jumbo header", err)
	}
}

func TestFdbKeyAndFlushKey(t *testing.T) {
	t.Parallel()

	key := wire.PackFlushKey(42, 7, 3)
	if key.VID() != 42 || key.Port() != 7 || key.OriginBits() != 3 {
		t.Errorf("PackFlushKey round-trip = {%d %d %d}, want {42 7 3}", key.VID(), key.Port(), key.OriginBits())
	}
	if key.IsGlobal() {
		t.Error("non-zero FlushKey must not be global")
	}
	if !wire.FlushKey(0).IsGlobal() {
		t.Error("zero FlushKey must be global")
	}
}
