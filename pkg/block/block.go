// Package block defines the engine's block and related mining data
// model: the append-only block header, the winning miner's recorded
// signatures, and the candidate submissions competing for each height.
package block

import (
	"github.com/DOD-Blockchain/dod/pkg/bitwork"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

// Status describes a block's lifecycle stage.
type Status int

const (
	// Open accepts miner submissions while now < NextBlockTimeNs and no
	// winner has been picked yet.
	Open Status = iota
	// Closed means the submission window has elapsed; a winner may
	// still be picked at the next engine tick.
	Closed
	// Settled means winner/burn accounting has been written; the block
	// is now immutable.
	Settled
)

// MinerInfo is a registered miner's identity and lifetime counters.
type MinerInfo struct {
	Owner        types.Principal
	BTCAddress   string
	EcdsaPubkey  [33]byte
	Status       string
	RewardCycles *uint64
	ClaimedDOD   uint64
	TotalDOD     uint64
}

// MinerCandidate is a verified mining submission awaiting winner
// selection at the next settlement tick.
type MinerCandidate struct {
	BTCAddress       string
	CyclesPrice      uint64
	SignedCommitPSBT string
	SignedRevealPSBT string
	SubmitTimeNs     uint64
}

// Less orders candidates for winner selection: ascending cycles price,
// then ascending submit time, then lexicographic btc address.
func (c MinerCandidate) Less(other MinerCandidate) bool {
	if c.CyclesPrice != other.CyclesPrice {
		return c.CyclesPrice < other.CyclesPrice
	}
	if c.SubmitTimeNs != other.SubmitTimeNs {
		return c.SubmitTimeNs < other.SubmitTimeNs
	}
	return c.BTCAddress < other.BTCAddress
}

// BlockSigs records the winning miner's raw commit/reveal transactions.
type BlockSigs struct {
	CommitTx []byte
	RevealTx []byte
}

// Block is the engine's unit of cadence: opened by one tick, settled by
// the next, and never mutated again.
type Block struct {
	Height          uint64
	Rewards         uint64
	Winner          *MinerInfo
	Difficulty      bitwork.Bitwork
	Hash            types.Hash
	BlockTimeNs     uint64
	NextBlockTimeNs uint64
	Settled         bool
	CycleBurned     uint64
	DODBurned       uint64
}

// IsOpen reports whether the block still accepts submissions at now,
// per the state machine in the engine loop design.
func (b *Block) IsOpen(nowNs uint64) bool {
	return !b.Settled && b.Winner == nil && nowNs < b.NextBlockTimeNs
}

// ReconstructedCycles is a read-only diagnostic that reconstructs the
// block's total cycle pool from its post-settlement fields, independent
// of the settlement-time running total. Never used by settlement
// itself -- settlement always sums BlockOrderEntry values directly.
func (b *Block) ReconstructedCycles() uint64 {
	total := b.CycleBurned * 2
	if b.Winner != nil && b.Winner.RewardCycles != nil {
		total += *b.Winner.RewardCycles
	}
	return total
}
