// Package engine is the cadence driver: it owns every keyed store, runs
// the periodic tick that closes one block and opens the next, and
// dispatches the boundary operations callers invoke between ticks.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DOD-Blockchain/dod/internal/blockstore"
	"github.com/DOD-Blockchain/dod/internal/btcverify"
	klog "github.com/DOD-Blockchain/dod/internal/log"
	"github.com/DOD-Blockchain/dod/internal/miner"
	"github.com/DOD-Blockchain/dod/internal/oracle"
	"github.com/DOD-Blockchain/dod/internal/orderbook"
	"github.com/DOD-Blockchain/dod/internal/settlement"
	"github.com/DOD-Blockchain/dod/internal/staker"
	"github.com/DOD-Blockchain/dod/internal/tokenbridge"
	"github.com/DOD-Blockchain/dod/pkg/bitwork"
	"github.com/DOD-Blockchain/dod/pkg/block"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

var (
	ErrUnauthorized           = errors.New("engine: caller is not the owner")
	ErrAnonymous              = errors.New("engine: anonymous caller not permitted")
	ErrUnconfigured           = errors.New("engine: bootstrap has not run")
	ErrNotStarted             = errors.New("engine: start has not run")
	ErrMinerNotFound          = errors.New("engine: miner not registered")
	ErrBlockAlreadyMined      = errors.New("engine: block already has a winner")
	ErrSubmissionWindowClosed = errors.New("engine: submission window closed")
	ErrDuplicateSubmission    = errors.New("engine: btc address already submitted this block")
	ErrDifficultyNotMet       = errors.New("engine: commit txid does not satisfy difficulty target")
)

// Halving is re-exported so callers configuring bootstrap don't need to
// import the settlement package directly.
type Halving = settlement.Halving

// BootstrapParams are the immutable protocol constants fixed once at
// bootstrap, analogous to a genesis configuration.
type BootstrapParams struct {
	BlockIntervalNs    uint64
	Epoch              uint64
	DefaultRewards     uint64
	Halving            Halving
	TreasurySubaccount types.Subaccount
	TokenCanister      types.Principal
	StartDifficulty    bitwork.Bitwork
}

// Engine is the single owned value holding every keyed store and the
// protocol configuration; every boundary operation is a method on it.
type Engine struct {
	owner types.Principal
	self  types.Principal

	blocks  *blockstore.Store
	orders  *orderbook.OrderBook
	miners  *miner.Registry
	stakers *staker.Registry
	bridge  *tokenbridge.Bridge
	oracle  oracle.Bridge

	logger zerolog.Logger

	bootstrapped bool
	started      bool
	cfg          BootstrapParams

	considerIncrease *uint64
	considerDecrease *uint64
}

// New constructs an unbootstrapped Engine wired to the given stores and
// bridges. owner is the sole caller permitted to bootstrap/start/clean
// up; self is the engine's own principal, used as the treasury's order
// book identity.
func New(
	owner, self types.Principal,
	blocks *blockstore.Store,
	orders *orderbook.OrderBook,
	miners *miner.Registry,
	stakers *staker.Registry,
	bridge *tokenbridge.Bridge,
	oracleBridge oracle.Bridge,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		owner:   owner,
		self:    self,
		blocks:  blocks,
		orders:  orders,
		miners:  miners,
		stakers: stakers,
		bridge:  bridge,
		oracle:  oracleBridge,
		logger:  logger,
	}
}

func (e *Engine) requireOwner(caller types.Principal) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

func requireNonAnon(caller types.Principal) error {
	if caller.IsAnonymous() {
		return ErrAnonymous
	}
	return nil
}

// Bootstrap initializes the protocol configuration. Owner-only.
func (e *Engine) Bootstrap(caller types.Principal, params BootstrapParams) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := params.StartDifficulty.Validate(); err != nil {
		return err
	}
	e.cfg = params
	e.bootstrapped = true
	return nil
}

func randomHash() (types.Hash, error) {
	var h types.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return h, fmt.Errorf("engine: generate block hash: %w", err)
	}
	return h, nil
}

// Start creates the genesis block if none exists and marks the engine
// ready to tick. Owner-only.
func (e *Engine) Start(caller types.Principal, now time.Time) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !e.bootstrapped {
		return ErrUnconfigured
	}
	if _, err := e.blocks.Last(); err == nil {
		e.started = true
		return nil
	}

	hash, err := randomHash()
	if err != nil {
		return err
	}
	nowNs := uint64(now.UnixNano())
	genesis := &block.Block{
		Height:          0,
		Rewards:         settlement.RewardAtHeight(0, e.settlementParams()),
		Difficulty:      e.cfg.StartDifficulty,
		Hash:            hash,
		BlockTimeNs:     nowNs,
		NextBlockTimeNs: nowNs + e.cfg.BlockIntervalNs,
	}
	if err := e.blocks.Put(genesis); err != nil {
		return err
	}
	epoch := e.cfg.Epoch
	e.considerIncrease = &epoch
	e.considerDecrease = nil
	e.started = true
	return nil
}

func (e *Engine) settlementParams() settlement.Params {
	return settlement.Params{
		DefaultRewards: e.cfg.DefaultRewards,
		Halving:        e.cfg.Halving,
		SelfPrincipal:  e.self,
	}
}

// Run drives the periodic tick loop until ctx is cancelled: it sleeps
// until the open block's NextBlockTimeNs, then ticks. Each tick
// re-arms its own timer off the newly opened block, matching the
// "stop and rearm" cadence described for the reference engine.
func (e *Engine) Run(ctx context.Context) error {
	for {
		last, err := e.blocks.Last()
		if err != nil {
			return fmt.Errorf("engine: run without a genesis block: %w", err)
		}
		wait := time.Duration(int64(last.NextBlockTimeNs) - time.Now().UnixNano())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case now := <-timer.C:
			if err := e.Tick(now); err != nil {
				e.logger.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

// Tick closes the current last block via Settlement, computes the next
// difficulty, and opens the following block.
func (e *Engine) Tick(now time.Time) error {
	last, err := e.blocks.Last()
	if err != nil {
		return err
	}
	N := last.Height
	res, err := settlement.Settle(e.blocks, e.orders, e.miners, e.stakers, e.bridge, e.settlementParams(), N, klog.Settlement)
	if err != nil {
		return err
	}

	nextDiff, err := e.nextDifficulty(N, last.Difficulty, res.HadWinner)
	if err != nil {
		return err
	}

	hash, err := randomHash()
	if err != nil {
		return err
	}
	nowNs := uint64(now.UnixNano())
	next := &block.Block{
		Height:          N + 1,
		Rewards:         settlement.RewardAtHeight(N+1, e.settlementParams()),
		Difficulty:      nextDiff,
		Hash:            hash,
		BlockTimeNs:     nowNs,
		NextBlockTimeNs: nowNs + e.cfg.BlockIntervalNs,
	}
	return e.blocks.Put(next)
}

// nextDifficulty implements the consider_increase/consider_decrease
// epoch-marker state machine: Epoch consecutive outcomes of the same
// kind (all wins or all misses) shift difficulty by one nibble.
func (e *Engine) nextDifficulty(N uint64, current bitwork.Bitwork, hadWinner bool) (bitwork.Bitwork, error) {
	if hadWinner {
		e.considerDecrease = nil
		if e.considerIncrease == nil {
			v := N + e.cfg.Epoch
			e.considerIncrease = &v
			return current, nil
		}
		if *e.considerIncrease == N+1 {
			next, err := bitwork.PlusOne(current)
			if err != nil {
				return bitwork.Bitwork{}, err
			}
			v := *e.considerIncrease + e.cfg.Epoch
			e.considerIncrease = &v
			return next, nil
		}
		return current, nil
	}

	e.considerIncrease = nil
	if e.considerDecrease == nil {
		v := N + e.cfg.Epoch
		e.considerDecrease = &v
		return current, nil
	}
	if *e.considerDecrease == N+1 {
		next, err := bitwork.MinusOne(current)
		if err != nil {
			return bitwork.Bitwork{}, err
		}
		if next.Less(e.cfg.StartDifficulty) {
			next = e.cfg.StartDifficulty
		}
		v := *e.considerDecrease + e.cfg.Epoch
		e.considerDecrease = &v
		return next, nil
	}
	return current, nil
}

// RegisterMiner implements §4.E register.
func (e *Engine) RegisterMiner(caller types.Principal, btcAddress string, pubkey [33]byte) error {
	if err := requireNonAnon(caller); err != nil {
		return err
	}
	if err := e.miners.Register(caller, btcAddress, pubkey); err != nil {
		return err
	}
	return nil
}

// SubmissionResult is returned by SubmitMining.
type SubmissionResult struct {
	BlockHeight uint64
	CyclesPrice uint64
}

// SubmitMining implements §4.E submit: verifies the commit/reveal PSBT
// pair against the currently open block and, on success, inserts a
// candidate.
func (e *Engine) SubmitMining(caller types.Principal, btcAddress, commitPSBTB64, revealPSBTB64 string, cyclesPrice uint64, now time.Time) (*SubmissionResult, error) {
	info, err := e.miners.GetByOwner(caller)
	if err != nil {
		return nil, ErrMinerNotFound
	}
	if info.BTCAddress != btcAddress {
		return nil, ErrMinerNotFound
	}

	last, err := e.blocks.Last()
	if err != nil {
		return nil, err
	}
	if last.Winner != nil {
		return nil, ErrBlockAlreadyMined
	}
	if uint64(now.UnixNano()) >= last.NextBlockTimeNs {
		return nil, ErrSubmissionWindowClosed
	}
	if has, err := e.miners.HasCandidateAt(last.Height, btcAddress); err != nil {
		return nil, err
	} else if has {
		return nil, ErrDuplicateSubmission
	}

	rev := btcverify.ReverseBytes(last.Hash[:])
	commitTxid, prevScript, err := btcverify.VerifyCommit(commitPSBTB64, info.EcdsaPubkey[:], rev)
	if err != nil {
		return nil, err
	}
	if err := btcverify.VerifyReveal(revealPSBTB64, prevScript, info.EcdsaPubkey[:], commitTxid, btcAddress); err != nil {
		return nil, err
	}

	blockHashHex := hex.EncodeToString(last.Hash[:])
	ok, err := bitwork.Match(commitTxid, blockHashHex, last.Difficulty, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDifficultyNotMet
	}

	cand := &block.MinerCandidate{
		BTCAddress:       btcAddress,
		CyclesPrice:      cyclesPrice,
		SignedCommitPSBT: commitPSBTB64,
		SignedRevealPSBT: revealPSBTB64,
		SubmitTimeNs:     uint64(now.UnixNano()),
	}
	if dup, err := e.miners.AddCandidate(last.Height, cand); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrDuplicateSubmission
	}

	return &SubmissionResult{BlockHeight: last.Height, CyclesPrice: cyclesPrice}, nil
}

// DepositCycles implements §4.F deposit.
func (e *Engine) DepositCycles(caller types.Principal, icpE8s uint64) error {
	if err := requireNonAnon(caller); err != nil {
		return err
	}
	return e.stakers.Deposit(e.oracle, caller, icpE8s)
}

// SetBurningRate implements §4.F set_burnrate.
func (e *Engine) SetBurningRate(caller types.Principal, rate uint64) error {
	if err := requireNonAnon(caller); err != nil {
		return err
	}
	return e.stakers.SetBurnRate(caller, rate)
}

// PutOrders implements §4.D derive_burnrate_order.
func (e *Engine) PutOrders(caller types.Principal, startHeight, burnAmount uint64) error {
	if err := requireNonAnon(caller); err != nil {
		return err
	}
	return e.stakers.DeriveBurnrateOrder(caller, startHeight, burnAmount, func(start, end, amount uint64) error {
		return e.orders.PlaceOrder(caller, start, end, amount)
	})
}

// Claim implements §4.F claim. A nil `to` claims to the caller's own
// default account.
func (e *Engine) Claim(caller types.Principal, to *tokenbridge.Account, amount uint64) error {
	if err := requireNonAnon(caller); err != nil {
		return err
	}
	dest := tokenbridge.Account{Owner: caller}
	if to != nil {
		dest = *to
	}
	return e.stakers.Claim(e.bridge, caller, dest, amount)
}

// InnerTransferCycles implements §4.F inner_transfer: rejected while
// the caller has an order active at or beyond the last block's height.
func (e *Engine) InnerTransferCycles(caller types.Principal, recipients []staker.Recipient) error {
	if err := requireNonAnon(caller); err != nil {
		return err
	}
	last, err := e.blocks.Last()
	if err != nil {
		return err
	}
	order, hasOrder, err := e.orders.GetUserOrder(caller)
	if err != nil {
		return err
	}
	hasActiveOrder := hasOrder && order.End > last.Height
	return e.stakers.InnerTransfer(caller, recipients, hasActiveOrder)
}

// CleanUp clears the bootstrap configuration and the pending difficulty
// markers; it does not delete any stored orders or blocks. Owner-only and
// permitted only before Start has run, so it can never violate the
// contiguous-height invariant on a live chain.
func (e *Engine) CleanUp(caller types.Principal) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.started {
		return fmt.Errorf("engine: clean_up is only permitted before start")
	}
	e.bootstrapped = false
	e.considerIncrease = nil
	e.considerDecrease = nil
	return nil
}

// --- read-only queries (§6 "queries") ---

// LastBlock returns the highest-height block.
func (e *Engine) LastBlock() (*block.Block, error) {
	return e.blocks.Last()
}

// BlocksRange returns blocks in [from,to).
func (e *Engine) BlocksRange(from, to uint64) ([]*block.Block, error) {
	return e.blocks.Range(from, to)
}

// OrdersByBlock returns every order-book entry at height h.
func (e *Engine) OrdersByBlock(h uint64) (map[types.Principal]orderbook.BlockOrderEntry, error) {
	return e.orders.EntriesAtHeight(h)
}

// CandidatesAt returns the candidate queue for height h.
func (e *Engine) CandidatesAt(h uint64) ([]*block.MinerCandidate, error) {
	return e.miners.CandidatesAt(h)
}

// SigsAt returns the recorded winner signatures for height h, if any.
func (e *Engine) SigsAt(h uint64) (*block.BlockSigs, error) {
	return e.blocks.GetSigs(h)
}

// UserDetail returns a staker's account record.
func (e *Engine) UserDetail(p types.Principal) (*staker.UserDetail, bool, error) {
	return e.stakers.Get(p)
}

// UserRange returns a user's per-block order entries in [from,to).
func (e *Engine) UserRange(p types.Principal, from, to uint64) (map[uint64]orderbook.BlockOrderEntry, error) {
	return e.orders.UserEntriesInRange(p, from, to)
}

// MinerHistory implements the supplemented mining-history query: a
// miner's participation and outcomes in [from,to).
func (e *Engine) MinerHistory(btcAddress string, from, to uint64) ([]miner.HistoryEntry, error) {
	return e.miners.HistoryFor(e.blocks, btcAddress, from, to)
}

// EpochStatsResult reports how many blocks in an epoch window went
// unwon, alongside the total blocks settled in that window.
type EpochStatsResult struct {
	Failed uint64
	Total  uint64
	Ratio  float64
}

// EpochStats implements the supplemented failed-blocks-count query: over
// the most recently completed epoch ending at the chain's current
// height, how many blocks settled with no winner.
func (e *Engine) EpochStats() (EpochStatsResult, error) {
	last, err := e.blocks.Last()
	if err != nil {
		return EpochStatsResult{}, err
	}
	epoch := e.cfg.Epoch
	if epoch == 0 {
		return EpochStatsResult{}, fmt.Errorf("engine: epoch stats require bootstrap to have run")
	}
	to := last.Height
	var from uint64
	if to > epoch {
		from = to - epoch
	}
	blocks, err := e.blocks.Range(from, to)
	if err != nil {
		return EpochStatsResult{}, err
	}
	var failed uint64
	for _, b := range blocks {
		if b.Settled && b.Winner == nil {
			failed++
		}
	}
	total := uint64(len(blocks))
	var ratio float64
	if total > 0 {
		ratio = float64(failed) / float64(total)
	}
	return EpochStatsResult{Failed: failed, Total: total, Ratio: ratio}, nil
}
