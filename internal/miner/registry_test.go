package miner

import (
	"testing"

	"github.com/DOD-Blockchain/dod/internal/blockstore"
	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/pkg/block"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(storage.NewMemory())
	owner := types.Principal{1}
	var pk [33]byte
	pk[0] = 0x02

	if err := r.Register(owner, "bc1pexampleaddr", pk); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(owner, "bc1pother", pk); err == nil {
		t.Error("expected ErrAlreadyRegistered")
	}

	m, err := r.GetByOwner(owner)
	if err != nil {
		t.Fatal(err)
	}
	if m.BTCAddress != "bc1pexampleaddr" {
		t.Errorf("got address %q", m.BTCAddress)
	}

	m2, err := r.GetByAddress("bc1pexampleaddr")
	if err != nil {
		t.Fatal(err)
	}
	if m2.Owner != owner {
		t.Error("owner mismatch")
	}
}

func TestCandidateQueue(t *testing.T) {
	r := New(storage.NewMemory())
	c := &block.MinerCandidate{BTCAddress: "addr1", CyclesPrice: 100, SubmitTimeNs: 5}
	dup, err := r.AddCandidate(10, c)
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("expected first insert to not be duplicate")
	}
	dup, err = r.AddCandidate(10, c)
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("expected second insert to report duplicate")
	}

	cands, err := r.CandidatesAt(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
}

func TestHistoryForReportsWinner(t *testing.T) {
	r := New(storage.NewMemory())
	bs := blockstore.New(storage.NewMemory())

	winner := &block.MinerCandidate{BTCAddress: "bc1pwinner", CyclesPrice: 100, SubmitTimeNs: 1}
	loser := &block.MinerCandidate{BTCAddress: "bc1ploser", CyclesPrice: 50, SubmitTimeNs: 2}
	if _, err := r.AddCandidate(5, winner); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddCandidate(6, loser); err != nil {
		t.Fatal(err)
	}

	if err := bs.Put(&block.Block{
		Height:  5,
		Settled: true,
		Winner:  &block.MinerInfo{BTCAddress: "bc1pwinner"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := bs.Put(&block.Block{Height: 6, Settled: true}); err != nil {
		t.Fatal(err)
	}

	hist, err := r.HistoryFor(bs, "bc1pwinner", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || !hist[0].Won {
		t.Fatalf("expected one won entry for bc1pwinner, got %+v", hist)
	}

	hist2, err := r.HistoryFor(bs, "bc1ploser", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist2) != 1 || hist2[0].Won {
		t.Fatalf("expected one unwon entry for bc1ploser, got %+v", hist2)
	}
}
