package hal

import "testing"

func TestPortName(t *testing.T) {
	t.Parallel()
	if got := portName(7); got != "mlag7" {
		t.Errorf("portName(7) = %q, want %q", got, "mlag7")
	}
}

func TestMacString(t *testing.T) {
	t.Parallel()
	mac := [6]byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}
	if got := macString(mac); got != "00:1a:2b:3c:4d:5e" {
		t.Errorf("macString(%v) = %q, want %q", mac, got, "00:1a:2b:3c:4d:5e")
	}
}
