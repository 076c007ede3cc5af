// Package miner implements the miner identity registry and the per-block
// candidate queue mining submissions land in.
package miner

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DOD-Blockchain/dod/internal/blockstore"
	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/pkg/block"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

var (
	ErrAlreadyRegistered = errors.New("miner: owner already registered")
	ErrMinerNotFound     = errors.New("miner: not found")
)

const (
	prefixMinerByAddress = 'M'
	prefixOwnerIndex     = 'O'
	prefixCandidate      = 'C'
)

// Registry is the keyed store of miner identities and per-height
// candidates, mirroring the block store's composite-key conventions.
type Registry struct {
	db storage.DB
}

// New wraps db as a Registry.
func New(db storage.DB) *Registry {
	return &Registry{db: db}
}

func minerKey(btcAddress string) []byte {
	return append([]byte{prefixMinerByAddress}, []byte(btcAddress)...)
}

func ownerKey(owner types.Principal) []byte {
	return append([]byte{prefixOwnerIndex}, owner[:]...)
}

func candidateKey(height uint64, btcAddress string) []byte {
	key := make([]byte, 1+8+len(btcAddress))
	key[0] = prefixCandidate
	binary.BigEndian.PutUint64(key[1:9], height)
	copy(key[9:], btcAddress)
	return key
}

func candidatePrefix(height uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixCandidate
	binary.BigEndian.PutUint64(key[1:9], height)
	return key
}

// Layout: [29 owner][len(1) addr][addr][33 pubkey][len(1) status][status]
// [1 hasReward][8 rewardCycles][8 claimedDOD][8 totalDOD]
func encodeMinerInfo(m *block.MinerInfo) []byte {
	addrBytes := []byte(m.BTCAddress)
	statusBytes := []byte(m.Status)
	size := types.PrincipalSize + 1 + len(addrBytes) + 33 + 1 + len(statusBytes) + 1 + 8 + 8 + 8
	buf := make([]byte, size)
	off := 0
	copy(buf[off:], m.Owner[:])
	off += types.PrincipalSize
	buf[off] = byte(len(addrBytes))
	off++
	copy(buf[off:], addrBytes)
	off += len(addrBytes)
	copy(buf[off:], m.EcdsaPubkey[:])
	off += 33
	buf[off] = byte(len(statusBytes))
	off++
	copy(buf[off:], statusBytes)
	off += len(statusBytes)
	if m.RewardCycles != nil {
		buf[off] = 1
		off++
		binary.BigEndian.PutUint64(buf[off:], *m.RewardCycles)
		off += 8
	} else {
		buf[off] = 0
		off++
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:], m.ClaimedDOD)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], m.TotalDOD)
	return buf
}

func decodeMinerInfo(b []byte) (*block.MinerInfo, error) {
	if len(b) < types.PrincipalSize+1 {
		return nil, fmt.Errorf("miner: corrupt record")
	}
	m := &block.MinerInfo{}
	off := 0
	copy(m.Owner[:], b[off:off+types.PrincipalSize])
	off += types.PrincipalSize
	addrLen := int(b[off])
	off++
	if off+addrLen+33+1 > len(b) {
		return nil, fmt.Errorf("miner: corrupt record")
	}
	m.BTCAddress = string(b[off : off+addrLen])
	off += addrLen
	copy(m.EcdsaPubkey[:], b[off:off+33])
	off += 33
	statusLen := int(b[off])
	off++
	if off+statusLen+1+8+8+8 > len(b) {
		return nil, fmt.Errorf("miner: corrupt record")
	}
	m.Status = string(b[off : off+statusLen])
	off += statusLen
	hasReward := b[off]
	off++
	rewardVal := binary.BigEndian.Uint64(b[off:])
	off += 8
	if hasReward == 1 {
		r := rewardVal
		m.RewardCycles = &r
	}
	m.ClaimedDOD = binary.BigEndian.Uint64(b[off:])
	off += 8
	m.TotalDOD = binary.BigEndian.Uint64(b[off:])
	return m, nil
}

// Register creates a new miner identity, failing if owner already has one.
func (r *Registry) Register(owner types.Principal, btcAddress string, pubkey [33]byte) error {
	if _, err := r.GetByOwner(owner); err == nil {
		return ErrAlreadyRegistered
	}
	info := &block.MinerInfo{
		Owner:       owner,
		BTCAddress:  btcAddress,
		EcdsaPubkey: pubkey,
		Status:      "Activate",
	}
	if err := r.db.Put(minerKey(btcAddress), encodeMinerInfo(info)); err != nil {
		return err
	}
	return r.db.Put(ownerKey(owner), []byte(btcAddress))
}

// GetByAddress looks up a miner by its unique btc address key.
func (r *Registry) GetByAddress(btcAddress string) (*block.MinerInfo, error) {
	raw, err := r.db.Get(minerKey(btcAddress))
	if err != nil {
		return nil, ErrMinerNotFound
	}
	return decodeMinerInfo(raw)
}

// GetByOwner looks up a miner by its registering owner.
func (r *Registry) GetByOwner(owner types.Principal) (*block.MinerInfo, error) {
	addr, err := r.db.Get(ownerKey(owner))
	if err != nil {
		return nil, ErrMinerNotFound
	}
	return r.GetByAddress(string(addr))
}

// Put persists an updated MinerInfo (used by settlement to record the
// winner's reward_cycles).
func (r *Registry) Put(m *block.MinerInfo) error {
	return r.db.Put(minerKey(m.BTCAddress), encodeMinerInfo(m))
}

func encodeCandidate(c *block.MinerCandidate) []byte {
	commitBytes := []byte(c.SignedCommitPSBT)
	revealBytes := []byte(c.SignedRevealPSBT)
	buf := make([]byte, 8+4+len(commitBytes)+4+len(revealBytes)+8)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], c.CyclesPrice)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(commitBytes)))
	off += 4
	copy(buf[off:], commitBytes)
	off += len(commitBytes)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(revealBytes)))
	off += 4
	copy(buf[off:], revealBytes)
	off += len(revealBytes)
	binary.BigEndian.PutUint64(buf[off:], c.SubmitTimeNs)
	return buf
}

func decodeCandidate(btcAddress string, b []byte) (*block.MinerCandidate, error) {
	if len(b) < 8+4 {
		return nil, fmt.Errorf("miner: corrupt candidate")
	}
	off := 0
	c := &block.MinerCandidate{BTCAddress: btcAddress}
	c.CyclesPrice = binary.BigEndian.Uint64(b[off:])
	off += 8
	commitLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if off+commitLen+4 > len(b) {
		return nil, fmt.Errorf("miner: corrupt candidate")
	}
	c.SignedCommitPSBT = string(b[off : off+commitLen])
	off += commitLen
	revealLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if off+revealLen+8 > len(b) {
		return nil, fmt.Errorf("miner: corrupt candidate")
	}
	c.SignedRevealPSBT = string(b[off : off+revealLen])
	off += revealLen
	c.SubmitTimeNs = binary.BigEndian.Uint64(b[off:])
	return c, nil
}

// AddCandidate inserts a verified submission into height's candidate
// queue. Returns true if btcAddress already had a candidate at height
// (the caller must treat this as DuplicateSubmission).
func (r *Registry) AddCandidate(height uint64, c *block.MinerCandidate) (bool, error) {
	key := candidateKey(height, c.BTCAddress)
	if has, err := r.db.Has(key); err != nil {
		return false, err
	} else if has {
		return true, nil
	}
	return false, r.db.Put(key, encodeCandidate(c))
}

// CandidatesAt returns every candidate submitted for height, in no
// particular order; callers needing winner order should sort with
// block.MinerCandidate.Less.
func (r *Registry) CandidatesAt(height uint64) ([]*block.MinerCandidate, error) {
	var out []*block.MinerCandidate
	prefix := candidatePrefix(height)
	err := r.db.ForEach(prefix, func(key, value []byte) error {
		addr := string(key[9:])
		c, err := decodeCandidate(addr, value)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// HasCandidateAt reports whether btcAddress already submitted at height.
func (r *Registry) HasCandidateAt(height uint64, btcAddress string) (bool, error) {
	return r.db.Has(candidateKey(height, btcAddress))
}

// HistoryEntry is one block's outcome from a single miner's perspective.
type HistoryEntry struct {
	Height      uint64
	Won         bool
	CyclesPrice uint64
	SubmitTime  uint64
}

// HistoryFor scans [from,to) and reports btcAddress's participation at
// each height it submitted a candidate, joining against bs to report
// whether btcAddress was that height's settled winner.
func (r *Registry) HistoryFor(bs *blockstore.Store, btcAddress string, from, to uint64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for h := from; h < to; h++ {
		has, err := r.HasCandidateAt(h, btcAddress)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}
		raw, err := r.db.Get(candidateKey(h, btcAddress))
		if err != nil {
			continue
		}
		c, err := decodeCandidate(btcAddress, raw)
		if err != nil {
			return nil, err
		}
		var won bool
		if b, err := bs.Get(h); err == nil && b.Winner != nil {
			won = b.Winner.BTCAddress == btcAddress
		}
		out = append(out, HistoryEntry{Height: h, Won: won, CyclesPrice: c.CyclesPrice, SubmitTime: c.SubmitTimeNs})
	}
	return out, nil
}
