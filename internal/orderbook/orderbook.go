// Package orderbook implements the per-user standing range order and
// the per-block order index it projects, keyed the way the engine's
// other stores are: composite byte keys over a single KV namespace,
// never pointer graphs.
package orderbook

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

// Status is a BlockOrderEntry's settlement state.
type Status byte

const (
	Pending Status = iota
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Filled:
		return "Filled"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ErrInvalidRange is returned when a range's end does not exceed its start.
var ErrInvalidRange = errors.New("orderbook: range end must be greater than start")

// UserOrder is a user's single standing range order.
type UserOrder struct {
	Start          uint64
	End            uint64
	AmountPerBlock uint64
}

// Covers reports whether height h falls in [Start, End).
func (o UserOrder) Covers(h uint64) bool {
	return h >= o.Start && h < o.End
}

// BlockOrderEntry is one user's commitment at one block height.
type BlockOrderEntry struct {
	Value  uint64
	Status Status
}

const (
	prefixUserOrder  = 'U'
	prefixBlockOrder = 'B'
	prefixUserIndex  = 'P'
)

// OrderBook is the range-keyed user order index plus its per-block
// projection, backed by a KV store.
type OrderBook struct {
	db storage.DB
}

// New wraps db as an OrderBook.
func New(db storage.DB) *OrderBook {
	return &OrderBook{db: db}
}

func userOrderKey(u types.Principal) []byte {
	key := make([]byte, 1+types.PrincipalSize)
	key[0] = prefixUserOrder
	copy(key[1:], u[:])
	return key
}

func blockOrderKey(height uint64, u types.Principal) []byte {
	key := make([]byte, 1+8+types.PrincipalSize)
	key[0] = prefixBlockOrder
	binary.BigEndian.PutUint64(key[1:9], height)
	copy(key[9:], u[:])
	return key
}

func blockOrderPrefix(height uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixBlockOrder
	binary.BigEndian.PutUint64(key[1:9], height)
	return key
}

func userIndexKey(u types.Principal, height uint64) []byte {
	key := make([]byte, 1+types.PrincipalSize+8)
	key[0] = prefixUserIndex
	copy(key[1:1+types.PrincipalSize], u[:])
	binary.BigEndian.PutUint64(key[1+types.PrincipalSize:], height)
	return key
}

func userIndexPrefix(u types.Principal) []byte {
	key := make([]byte, 1+types.PrincipalSize)
	key[0] = prefixUserIndex
	copy(key[1:], u[:])
	return key
}

func encodeUserOrder(o UserOrder) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], o.Start)
	binary.BigEndian.PutUint64(buf[8:16], o.End)
	binary.BigEndian.PutUint64(buf[16:24], o.AmountPerBlock)
	return buf
}

func decodeUserOrder(b []byte) (UserOrder, error) {
	if len(b) != 24 {
		return UserOrder{}, fmt.Errorf("orderbook: corrupt user order (len %d)", len(b))
	}
	return UserOrder{
		Start:          binary.BigEndian.Uint64(b[0:8]),
		End:            binary.BigEndian.Uint64(b[8:16]),
		AmountPerBlock: binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

func encodeBlockOrderEntry(e BlockOrderEntry) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[0:8], e.Value)
	buf[8] = byte(e.Status)
	return buf
}

func decodeBlockOrderEntry(b []byte) (BlockOrderEntry, error) {
	if len(b) != 9 {
		return BlockOrderEntry{}, fmt.Errorf("orderbook: corrupt block order entry (len %d)", len(b))
	}
	return BlockOrderEntry{
		Value:  binary.BigEndian.Uint64(b[0:8]),
		Status: Status(b[8]),
	}, nil
}

// GetUserOrder returns u's current standing order, if any.
func (ob *OrderBook) GetUserOrder(u types.Principal) (UserOrder, bool, error) {
	raw, err := ob.db.Get(userOrderKey(u))
	if err != nil {
		return UserOrder{}, false, nil
	}
	order, err := decodeUserOrder(raw)
	if err != nil {
		return UserOrder{}, false, err
	}
	return order, true, nil
}

func (ob *OrderBook) putEntry(height uint64, u types.Principal, e BlockOrderEntry) error {
	encoded := encodeBlockOrderEntry(e)
	if err := ob.db.Put(blockOrderKey(height, u), encoded); err != nil {
		return err
	}
	return ob.db.Put(userIndexKey(u, height), encoded)
}

// PlaceOrder implements the order-book contract: overwrite u's standing
// order, upsert Pending entries for the new range, and cancel the tail
// of any prior order that extended past the new range's end.
func (ob *OrderBook) PlaceOrder(u types.Principal, start, end, amount uint64) error {
	if end <= start {
		return ErrInvalidRange
	}
	prior, hadPrior, err := ob.GetUserOrder(u)
	if err != nil {
		return err
	}

	if err := ob.db.Put(userOrderKey(u), encodeUserOrder(UserOrder{Start: start, End: end, AmountPerBlock: amount})); err != nil {
		return err
	}

	for h := start; h < end; h++ {
		if err := ob.putEntry(h, u, BlockOrderEntry{Value: amount, Status: Pending}); err != nil {
			return err
		}
	}

	if hadPrior && prior.End > end {
		cancelFrom := end
		if cancelFrom < prior.Start {
			cancelFrom = prior.Start
		}
		for h := cancelFrom; h < prior.End; h++ {
			if err := ob.putEntry(h, u, BlockOrderEntry{Value: 0, Status: Cancelled}); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetEntry overwrites a single (height,user) entry directly, used by
// settlement when flipping Pending to Filled.
func (ob *OrderBook) SetEntry(height uint64, u types.Principal, e BlockOrderEntry) error {
	return ob.putEntry(height, u, e)
}

// UserAt returns (value, status) for (height, user), defaulting to
// (0, Pending) when no entry exists.
func (ob *OrderBook) UserAt(height uint64, u types.Principal) (uint64, Status, error) {
	raw, err := ob.db.Get(blockOrderKey(height, u))
	if err != nil {
		return 0, Pending, nil
	}
	e, err := decodeBlockOrderEntry(raw)
	if err != nil {
		return 0, Pending, err
	}
	return e.Value, e.Status, nil
}

// EntriesAtHeight enumerates every user with any entry at height H.
func (ob *OrderBook) EntriesAtHeight(height uint64) (map[types.Principal]BlockOrderEntry, error) {
	out := make(map[types.Principal]BlockOrderEntry)
	prefix := blockOrderPrefix(height)
	err := ob.db.ForEach(prefix, func(key, value []byte) error {
		if len(key) != 1+8+types.PrincipalSize {
			return nil
		}
		var u types.Principal
		copy(u[:], key[9:])
		e, err := decodeBlockOrderEntry(value)
		if err != nil {
			return err
		}
		out[u] = e
		return nil
	})
	return out, err
}

// UserEntriesInRange enumerates a user's per-block entries in [from,to).
func (ob *OrderBook) UserEntriesInRange(u types.Principal, from, to uint64) (map[uint64]BlockOrderEntry, error) {
	out := make(map[uint64]BlockOrderEntry)
	prefix := userIndexPrefix(u)
	err := ob.db.ForEach(prefix, func(key, value []byte) error {
		if len(key) != 1+types.PrincipalSize+8 {
			return nil
		}
		h := binary.BigEndian.Uint64(key[1+types.PrincipalSize:])
		if h < from || h >= to {
			return nil
		}
		e, err := decodeBlockOrderEntry(value)
		if err != nil {
			return err
		}
		out[h] = e
		return nil
	})
	return out, err
}

// TotalCyclesAt sums every entry at height whose status is Pending or
// Cancelled -- the settlement-time definition of a block's cycle
// deposit. Filled rows (already-settled legacy rows on a re-run) are
// excluded.
func (ob *OrderBook) TotalCyclesAt(height uint64) (uint64, error) {
	entries, err := ob.EntriesAtHeight(height)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, e := range entries {
		if e.Status == Pending || e.Status == Cancelled {
			total += e.Value
		}
	}
	return total, nil
}
