package settlement

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/DOD-Blockchain/dod/internal/blockstore"
	"github.com/DOD-Blockchain/dod/internal/miner"
	"github.com/DOD-Blockchain/dod/internal/orderbook"
	"github.com/DOD-Blockchain/dod/internal/staker"
	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/internal/tokenbridge"
	"github.com/DOD-Blockchain/dod/pkg/block"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

func testParams(self types.Principal) Params {
	return Params{
		DefaultRewards: 5_000_000_000,
		Halving:        Halving{Interval: 210_000, Numerator: 1, Denominator: 2},
		SelfPrincipal:  self,
	}
}

func newHarness(t *testing.T) (*blockstore.Store, *orderbook.OrderBook, *miner.Registry, *staker.Registry, *tokenbridge.Bridge) {
	t.Helper()
	db := storage.NewMemory()
	bs := blockstore.New(db)
	ob := orderbook.New(storage.NewMemory())
	miners := miner.New(storage.NewMemory())
	stakers := staker.New(storage.NewMemory())
	ledger := tokenbridge.NewFakeLedger()
	treasury := tokenbridge.Account{Owner: types.Principal{0xee}}
	bridge := tokenbridge.New(ledger, treasury, types.Principal{0xff})
	return bs, ob, miners, stakers, bridge
}

func TestSettle_NoWinnerNoOrders(t *testing.T) {
	self := types.Principal{0xff}
	bs, ob, miners, stakers, bridge := newHarness(t)
	params := testParams(self)

	if err := bs.Put(&block.Block{Height: 0, Rewards: params.DefaultRewards}); err != nil {
		t.Fatal(err)
	}

	res, err := Settle(bs, ob, miners, stakers, bridge, params, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if res.HadWinner {
		t.Error("expected no winner")
	}

	b, err := bs.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Settled {
		t.Error("expected block to be marked settled")
	}
	if b.DODBurned != 0 {
		t.Errorf("DODBurned = %d, want 0 (only treasury participated)", b.DODBurned)
	}

	// Re-running settlement is a no-op.
	res2, err := Settle(bs, ob, miners, stakers, bridge, params, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if res2.HadWinner != res.HadWinner {
		t.Error("settlement re-run changed outcome")
	}
}

func TestSettle_UserOrderAndWinner(t *testing.T) {
	self := types.Principal{0xff}
	bs, ob, miners, stakers, bridge := newHarness(t)
	params := testParams(self)

	user := types.Principal{0x01}
	if err := stakers.Credit(user, 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := ob.PlaceOrder(user, 0, 1, 500_000_000); err != nil {
		t.Fatal(err)
	}

	owner := types.Principal{0x02}
	if err := miners.Register(owner, "bc1pwinner", [33]byte{1}); err != nil {
		t.Fatal(err)
	}
	if dup, err := miners.AddCandidate(0, &block.MinerCandidate{
		BTCAddress:  "bc1pwinner",
		CyclesPrice: 100_000_000,
	}); err != nil || dup {
		t.Fatalf("AddCandidate: dup=%v err=%v", dup, err)
	}

	if err := bs.Put(&block.Block{Height: 0, Rewards: params.DefaultRewards}); err != nil {
		t.Fatal(err)
	}

	res, err := Settle(bs, ob, miners, stakers, bridge, params, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !res.HadWinner {
		t.Fatal("expected a winner")
	}
	if res.CycleDeposit != 500_000_000 {
		t.Errorf("cycle deposit = %d, want 500_000_000", res.CycleDeposit)
	}

	winnerAcct, ok, err := stakers.Get(owner)
	if err != nil || !ok {
		t.Fatal("expected winner staker account")
	}
	if winnerAcct.Balance != 100_000_000 {
		t.Errorf("winner balance = %d, want 100_000_000", winnerAcct.Balance)
	}

	userAcct, ok, err := stakers.Get(user)
	if err != nil || !ok {
		t.Fatal("expected user account")
	}
	wantReward := params.DefaultRewards * 500_000_000 / 500_000_000
	if userAcct.TotalDOD != wantReward {
		t.Errorf("user reward = %d, want %d", userAcct.TotalDOD, wantReward)
	}
	if userAcct.Balance != 1_000_000_000-500_000_000 {
		t.Errorf("user balance after debit = %d", userAcct.Balance)
	}

	sigs, err := bs.GetSigs(0)
	if err != nil {
		t.Fatal(err)
	}
	_ = sigs
}

// TestSettle_TreasuryShareBurnsCycles settles two consecutive blocks: the
// first has no winner, so half its cycle pool is reinvested into the
// treasury's own order for the next block. The second block settles with
// that treasury order standing alongside an ordinary staker's order, and
// the treasury's share of the second block's reward must be burned.
func TestSettle_TreasuryShareBurnsCycles(t *testing.T) {
	self := types.Principal{0xff}
	bs, ob, miners, stakers, bridge := newHarness(t)
	params := testParams(self)

	userA := types.Principal{0x01}
	if err := stakers.Credit(userA, 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := ob.PlaceOrder(userA, 0, 1, 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := bs.Put(&block.Block{Height: 0, Rewards: params.DefaultRewards}); err != nil {
		t.Fatal(err)
	}

	if _, err := Settle(bs, ob, miners, stakers, bridge, params, 0, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	b0, err := bs.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if b0.DODBurned != 0 {
		t.Errorf("height 0 DODBurned = %d, want 0 (no standing treasury order yet)", b0.DODBurned)
	}

	// Height 0 had no winner, so reinvest = cycleDeposit/2 = 500_000_000,
	// placed as the treasury's order covering height 1.
	userB := types.Principal{0x03}
	if err := stakers.Credit(userB, 2_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := ob.PlaceOrder(userB, 1, 2, 2_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := bs.Put(&block.Block{Height: 1, Rewards: params.DefaultRewards}); err != nil {
		t.Fatal(err)
	}

	res1, err := Settle(bs, ob, miners, stakers, bridge, params, 1, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if res1.HadWinner {
		t.Fatal("expected no winner at height 1")
	}
	if res1.CycleDeposit != 2_500_000_000 {
		t.Fatalf("cycle deposit = %d, want 2_500_000_000 (500M treasury + 2_000M userB)", res1.CycleDeposit)
	}

	// Treasury share = 500_000_000/2_500_000_000 = 1/5 of the reward.
	wantBurn := params.DefaultRewards * 500_000_000 / 2_500_000_000
	b1, err := bs.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if b1.DODBurned != wantBurn {
		t.Errorf("height 1 DODBurned = %d, want %d", b1.DODBurned, wantBurn)
	}
	if b1.DODBurned == 0 {
		t.Fatal("expected non-zero dod_burned once a staker shares the block with the treasury")
	}
}
