// Package settlement implements per-block clearing: winner selection,
// reward share distribution, treasury reinvestment, and the mint/burn
// requests that follow from it. The treasury mint is requested before
// any local state is mutated and the treasury burn before the settled
// block is written; a failed bridge request is logged and never aborts
// settlement, so it never leaves balances double-debited, and a
// settlement re-run on a settled block is a no-op.
package settlement

import (
	"math/big"

	"github.com/rs/zerolog"

	"github.com/DOD-Blockchain/dod/internal/blockstore"
	"github.com/DOD-Blockchain/dod/internal/miner"
	"github.com/DOD-Blockchain/dod/internal/orderbook"
	"github.com/DOD-Blockchain/dod/internal/staker"
	"github.com/DOD-Blockchain/dod/internal/tokenbridge"
	"github.com/DOD-Blockchain/dod/pkg/block"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

// Halving describes the reward decay applied every Interval blocks:
// reward *= (Numerator/Denominator) once per completed interval.
type Halving struct {
	Interval    uint64
	Numerator   uint64
	Denominator uint64
}

// Params are the settlement-time protocol constants set once at bootstrap.
type Params struct {
	DefaultRewards  uint64
	Halving         Halving
	SelfPrincipal   types.Principal // the treasury's own order-book identity
	TreasuryAccount tokenbridge.Account
}

// RewardAtHeight computes default_rewards * ratio^floor(height/interval),
// using big.Int so the result is identical regardless of host integer
// width.
func RewardAtHeight(height uint64, p Params) uint64 {
	if p.Halving.Interval == 0 || p.Halving.Denominator == 0 {
		return p.DefaultRewards
	}
	k := height / p.Halving.Interval
	num := new(big.Int).Exp(big.NewInt(int64(p.Halving.Numerator)), big.NewInt(int64(k)), nil)
	den := new(big.Int).Exp(big.NewInt(int64(p.Halving.Denominator)), big.NewInt(int64(k)), nil)
	reward := new(big.Int).Mul(big.NewInt(int64(p.DefaultRewards)), num)
	reward.Div(reward, den)
	return reward.Uint64()
}

// floorMulDiv computes floor(a*b/c) using wide integer arithmetic,
// returning 0 when c is 0.
func floorMulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(0).SetUint64(a), big.NewInt(0).SetUint64(b))
	r.Div(r, big.NewInt(0).SetUint64(c))
	return r.Uint64()
}

// Result summarizes one settlement run for logging/testing.
type Result struct {
	Height       uint64
	HadWinner    bool
	CycleDeposit uint64
	Reinvest     uint64
	DODBurned    uint64
}

// Settle closes block `height`: picks the winner (if any), distributes
// per-user reward shares, reinvests half the remaining cycle pool into
// the treasury's own next-block order, and requests the token bridge to
// mint/burn accordingly. Running Settle twice on an already-settled
// block is a no-op.
func Settle(
	bs *blockstore.Store,
	ob *orderbook.OrderBook,
	miners *miner.Registry,
	stakers *staker.Registry,
	bridge *tokenbridge.Bridge,
	params Params,
	height uint64,
	logger zerolog.Logger,
) (*Result, error) {
	b, err := bs.Get(height)
	if err != nil {
		return nil, err
	}
	if b.Settled {
		return &Result{Height: height, HadWinner: b.Winner != nil, DODBurned: b.DODBurned}, nil
	}

	R := b.Rewards
	if err := bridge.MintToTreasury(R); err != nil {
		logger.Warn().Err(err).Uint64("height", height).Msg("mint to treasury failed, continuing")
	}

	candidates, err := miners.CandidatesAt(height)
	if err != nil {
		return nil, err
	}
	var head *block.MinerCandidate
	for _, c := range candidates {
		if head == nil || c.Less(*head) {
			head = c
		}
	}

	cycleDeposit, err := ob.TotalCyclesAt(height)
	if err != nil {
		return nil, err
	}

	var winnerInfo *block.MinerInfo
	var reinvest uint64
	if head != nil && cycleDeposit > head.CyclesPrice {
		info, err := miners.GetByAddress(head.BTCAddress)
		if err != nil {
			return nil, err
		}
		price := head.CyclesPrice
		info.RewardCycles = &price
		if err := miners.Put(info); err != nil {
			return nil, err
		}
		if err := stakers.Credit(info.Owner, price); err != nil {
			return nil, err
		}
		winnerInfo = info
		reinvest = (cycleDeposit - head.CyclesPrice) / 2
	} else {
		reinvest = cycleDeposit / 2
	}

	if err := ob.PlaceOrder(params.SelfPrincipal, height+1, height+2, reinvest); err != nil {
		return nil, err
	}

	entries, err := ob.EntriesAtHeight(height)
	if err != nil {
		return nil, err
	}

	// The treasury's own share of the block reward is its order value
	// over the total cycle pool, independent of the balance-debit path
	// below: the treasury is never credited cycles like an ordinary
	// staker, so gating its share on a balance check would make it
	// permanently zero. This mirrors the treasury special-case in the
	// original's user-block-share computation.
	var selfEntryValue uint64
	if entry, ok := entries[params.SelfPrincipal]; ok {
		selfEntryValue = entry.Value
	}
	selfShareReward := floorMulDiv(R, selfEntryValue, cycleDeposit)

	for user, entry := range entries {
		order, hasOrder, err := ob.GetUserOrder(user)
		if err != nil {
			return nil, err
		}
		active := hasOrder && order.Covers(height)

		var actualBet uint64
		if active && entry.Status == orderbook.Pending {
			acct, ok, err := stakers.Get(user)
			if err != nil {
				return nil, err
			}
			if ok && acct.Balance >= entry.Value {
				if err := stakers.Debit(user, entry.Value); err != nil {
					return nil, err
				}
				actualBet = entry.Value
				if err := ob.SetEntry(height, user, orderbook.BlockOrderEntry{Value: entry.Value, Status: orderbook.Filled}); err != nil {
					return nil, err
				}
			}
		}

		reward := floorMulDiv(R, actualBet, cycleDeposit)
		if err := stakers.AddReward(user, reward); err != nil {
			return nil, err
		}
	}

	toBurn := reinvest
	logger.Debug().Uint64("height", height).Uint64("to_burn", toBurn).Msg("cycle burn requested")

	b.Winner = winnerInfo
	b.Settled = true

	if selfShareReward != R {
		if err := bridge.BurnFromTreasury(selfShareReward); err != nil {
			logger.Warn().Err(err).Uint64("height", height).Msg("burn from treasury failed, continuing")
		}
		b.DODBurned = selfShareReward
		b.CycleBurned = toBurn
	}

	if err := bs.Put(b); err != nil {
		return nil, err
	}
	if winnerInfo != nil && head != nil {
		if err := bs.PutSigs(height, &block.BlockSigs{
			CommitTx: []byte(head.SignedCommitPSBT),
			RevealTx: []byte(head.SignedRevealPSBT),
		}); err != nil {
			return nil, err
		}
	}

	return &Result{
		Height:       height,
		HadWinner:    winnerInfo != nil,
		CycleDeposit: cycleDeposit,
		Reinvest:     reinvest,
		DODBurned:    b.DODBurned,
	}, nil
}
