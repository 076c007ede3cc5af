// Package blockstore is the append-only block store keyed by height,
// following the same composite-key conventions as the order book and
// miner registry.
package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/pkg/bitwork"
	"github.com/DOD-Blockchain/dod/pkg/block"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

var ErrNotFound = errors.New("blockstore: block not found")

const (
	prefixBlock = 'b'
	prefixSigs  = 'g'
	keyTip      = "t"
)

// Store is the append-only, height-keyed block store.
type Store struct {
	db storage.DB
}

// New wraps db as a Store.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

func blockKey(height uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixBlock
	binary.BigEndian.PutUint64(key[1:], height)
	return key
}

func sigsKey(height uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixSigs
	binary.BigEndian.PutUint64(key[1:], height)
	return key
}

func tipKey() []byte {
	return []byte("s/" + keyTip)
}

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

func decodeMinerInfo(b []byte) (*block.MinerInfo, int, error) {
	if len(b) < types.PrincipalSize+1 {
		return nil, 0, fmt.Errorf("blockstore: corrupt miner record")
	}
	m := &block.MinerInfo{}
	off := 0
	copy(m.Owner[:], b[off:off+types.PrincipalSize])
	off += types.PrincipalSize
	addrLen := int(b[off])
	off++
	m.BTCAddress = string(b[off : off+addrLen])
	off += addrLen
	copy(m.EcdsaPubkey[:], b[off:off+33])
	off += 33
	statusLen := int(b[off])
	off++
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
	off += 8
	return m, off, nil
}

// encodeBlock lays out: height, rewards, hasWinner, [winner], pre, postHex,
// hash(32), blockTime, nextBlockTime, settled, cycleBurned, dodBurned.
func encodeBlock(b *block.Block) []byte {
	var winnerBytes []byte
	hasWinner := byte(0)
	if b.Winner != nil {
		hasWinner = 1
		winnerBytes = encodeMinerInfo(b.Winner)
	}
	size := 8 + 8 + 1 + len(winnerBytes) + 8 + 1 + 32 + 8 + 8 + 1 + 8 + 8
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], b.Height)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], b.Rewards)
	off += 8
	buf[off] = hasWinner
	off++
	copy(buf[off:], winnerBytes)
	off += len(winnerBytes)
	binary.BigEndian.PutUint64(buf[off:], uint64(b.Difficulty.Pre))
	off += 8
	buf[off] = b.Difficulty.PostHex
	off++
	copy(buf[off:], b.Hash[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:], b.BlockTimeNs)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], b.NextBlockTimeNs)
	off += 8
	if b.Settled {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint64(buf[off:], b.CycleBurned)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], b.DODBurned)
	return buf
}

func decodeBlock(raw []byte) (*block.Block, error) {
	if len(raw) < 18 {
		return nil, fmt.Errorf("blockstore: corrupt block record")
	}
	b := &block.Block{}
	off := 0
	b.Height = binary.BigEndian.Uint64(raw[off:])
	off += 8
	b.Rewards = binary.BigEndian.Uint64(raw[off:])
	off += 8
	hasWinner := raw[off]
	off++
	if hasWinner == 1 {
		winner, n, err := decodeMinerInfo(raw[off:])
		if err != nil {
			return nil, err
		}
		b.Winner = winner
		off += n
	}
	pre := binary.BigEndian.Uint64(raw[off:])
	off += 8
	postHex := raw[off]
	off++
	b.Difficulty = bitwork.Bitwork{Pre: int(pre), PostHex: postHex}
	copy(b.Hash[:], raw[off:off+32])
	off += 32
	b.BlockTimeNs = binary.BigEndian.Uint64(raw[off:])
	off += 8
	b.NextBlockTimeNs = binary.BigEndian.Uint64(raw[off:])
	off += 8
	b.Settled = raw[off] == 1
	off++
	b.CycleBurned = binary.BigEndian.Uint64(raw[off:])
	off += 8
	b.DODBurned = binary.BigEndian.Uint64(raw[off:])
	return b, nil
}

// Put stores or overwrites the block at its height and advances the tip
// marker if this height is the new highest.
func (s *Store) Put(b *block.Block) error {
	if err := s.db.Put(blockKey(b.Height), encodeBlock(b)); err != nil {
		return err
	}
	tip, ok, err := s.Tip()
	if err != nil {
		return err
	}
	if !ok || b.Height > tip {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, b.Height)
		if err := s.db.Put(tipKey(), buf); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the block at height.
func (s *Store) Get(height uint64) (*block.Block, error) {
	raw, err := s.db.Get(blockKey(height))
	if err != nil {
		return nil, ErrNotFound
	}
	return decodeBlock(raw)
}

// Tip returns the highest stored height, or ok=false if the store is empty.
func (s *Store) Tip() (uint64, bool, error) {
	raw, err := s.db.Get(tipKey())
	if err != nil {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// Last returns the highest-height block, or ErrNotFound if the store is empty.
func (s *Store) Last() (*block.Block, error) {
	tip, ok, err := s.Tip()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(tip)
}

// Range returns blocks in [from,to).
func (s *Store) Range(from, to uint64) ([]*block.Block, error) {
	var out []*block.Block
	for h := from; h < to; h++ {
		b, err := s.Get(h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// PutSigs records the winner's raw commit/reveal transactions for height.
func (s *Store) PutSigs(height uint64, sigs *block.BlockSigs) error {
	buf := make([]byte, 4+len(sigs.CommitTx)+4+len(sigs.RevealTx))
	binary.BigEndian.PutUint32(buf, uint32(len(sigs.CommitTx)))
	copy(buf[4:], sigs.CommitTx)
	off := 4 + len(sigs.CommitTx)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(sigs.RevealTx)))
	copy(buf[off+4:], sigs.RevealTx)
	return s.db.Put(sigsKey(height), buf)
}

// GetSigs returns the recorded signatures for height, if any.
func (s *Store) GetSigs(height uint64) (*block.BlockSigs, error) {
	raw, err := s.db.Get(sigsKey(height))
	if err != nil {
		return nil, ErrNotFound
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("blockstore: corrupt sigs record")
	}
	commitLen := binary.BigEndian.Uint32(raw)
	commit := raw[4 : 4+commitLen]
	off := 4 + int(commitLen)
	revealLen := binary.BigEndian.Uint32(raw[off:])
	reveal := raw[off+4 : off+4+int(revealLen)]
	return &block.BlockSigs{CommitTx: commit, RevealTx: reveal}, nil
}
