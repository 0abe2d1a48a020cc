package mlag_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/mlagd/internal/mlag"
)

func TestPortDbAllocateAndDuplicate(t *testing.T) {
	t.Parallel()

	db := mlag.NewPortDb()
	p, err := db.Allocate(1, mlag.ModeLacp, 0)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if p.ID != 1 || p.Mode != mlag.ModeLacp {
		t.Errorf("Allocate() = %+v, want ID=1 Mode=ModeLacp", p)
	}

	if _, err := db.Allocate(1, mlag.ModeStatic, 0); !errors.Is(err, mlag.ErrPortExists) {
		t.Errorf("second Allocate() error = %v, want ErrPortExists", err)
	}
	if db.Len() != 1 {
		t.Errorf("Len() = %d, want 1", db.Len())
	}
}

func TestPortDbLookupAndDelete(t *testing.T) {
	t.Parallel()

	db := mlag.NewPortDb()
	db.Allocate(7, mlag.ModeStatic, 0)

	if got := db.Lookup(7); got == nil || got.ID != 7 {
		t.Errorf("Lookup(7) = %+v, want a port with ID 7", got)
	}
	if got := db.Lookup(8); got != nil {
		t.Errorf("Lookup(8) = %+v, want nil", got)
	}

	db.Delete(7)
	if db.Lookup(7) != nil {
		t.Error("expected port 7 to be gone after Delete")
	}
	if db.Len() != 0 {
		t.Errorf("Len() = %d after Delete, want 0", db.Len())
	}
}

func TestPortDbLookupLocked(t *testing.T) {
	t.Parallel()

	db := mlag.NewPortDb()
	db.Allocate(3, mlag.ModeLacp, 0)

	p := db.LookupLocked(3)
	if p == nil {
		t.Fatal("LookupLocked(3) = nil, want a port")
	}
	p.Unlock()

	if db.LookupLocked(99) != nil {
		t.Error("LookupLocked on a missing port should return nil")
	}
}

func TestPortDbForEach(t *testing.T) {
	t.Parallel()

	db := mlag.NewPortDb()
	db.Allocate(1, mlag.ModeLacp, 0)
	db.Allocate(2, mlag.ModeStatic, 0)

	seen := map[uint32]bool{}
	db.ForEach(func(p *mlag.Port) { seen[p.ID] = true })

	if len(seen) != 2 || !seen[1] || !seen[2] {
		t.Errorf("ForEach visited %v, want {1,2}", seen)
	}
}
