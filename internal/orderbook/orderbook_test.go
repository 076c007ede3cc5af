package orderbook

import (
	"testing"

	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

func testUser(b byte) types.Principal {
	var p types.Principal
	p[0] = b
	return p
}

func TestPlaceOrder_OverwriteCancelsTail(t *testing.T) {
	ob := New(storage.NewMemory())
	u := testUser(1)

	if err := ob.PlaceOrder(u, 10, 20, 100); err != nil {
		t.Fatal(err)
	}
	if err := ob.PlaceOrder(u, 12, 15, 200); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		height uint64
		value  uint64
		status Status
	}{
		{10, 100, Pending},
		{11, 100, Pending},
		{12, 200, Pending},
		{13, 200, Pending},
		{14, 200, Pending},
		{15, 0, Cancelled},
		{19, 0, Cancelled},
	}
	for _, c := range cases {
		val, status, err := ob.UserAt(c.height, u)
		if err != nil {
			t.Fatal(err)
		}
		if val != c.value || status != c.status {
			t.Errorf("UserAt(%d) = (%d,%v), want (%d,%v)", c.height, val, status, c.value, c.status)
		}
	}

	// Height 20 was never covered by either order.
	val, status, err := ob.UserAt(20, u)
	if err != nil {
		t.Fatal(err)
	}
	if val != 0 || status != Pending {
		t.Errorf("UserAt(20) = (%d,%v), want default (0,Pending)", val, status)
	}
}

func TestEntriesAtHeight(t *testing.T) {
	ob := New(storage.NewMemory())
	u1, u2 := testUser(1), testUser(2)
	if err := ob.PlaceOrder(u1, 1, 3, 50); err != nil {
		t.Fatal(err)
	}
	if err := ob.PlaceOrder(u2, 1, 2, 75); err != nil {
		t.Fatal(err)
	}
	entries, err := ob.EntriesAtHeight(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at height 1, got %d", len(entries))
	}
	total, err := ob.TotalCyclesAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 125 {
		t.Errorf("TotalCyclesAt(1) = %d, want 125", total)
	}
}

func TestUserEntriesInRange(t *testing.T) {
	ob := New(storage.NewMemory())
	u := testUser(3)
	if err := ob.PlaceOrder(u, 5, 10, 10); err != nil {
		t.Fatal(err)
	}
	entries, err := ob.UserEntriesInRange(u, 6, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in [6,8), got %d", len(entries))
	}
}
