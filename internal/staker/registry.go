// Package staker implements the staker ("user") registry: cycle
// balances, burn rates, and reward accounting, keyed by principal in a
// record bounded to fit stable-storage-style size limits.
package staker

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DOD-Blockchain/dod/internal/oracle"
	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/internal/tokenbridge"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

// BurnerFee is the minimum per-block burn rate a staker may configure.
const BurnerFee = 1_000

// MinStake is the minimum ICP e8s amount accepted by deposit.
const MinStake = 100_000_000 // 1 ICP

// MaxUserDetailBytes bounds a UserDetail's encoded size for
// stable-storage compatibility.
const MaxUserDetailBytes = 256

var (
	ErrNotFound            = errors.New("staker: not found")
	ErrInsufficientBalance = errors.New("staker: insufficient balance")
	ErrAmountTooLow        = errors.New("staker: amount too low")
	ErrClaimOverflow       = errors.New("staker: claim exceeds unclaimed total")
	ErrActiveOrder         = errors.New("staker: active order blocks transfer")
)

// UserDetail is a staker's account record.
type UserDetail struct {
	Principal        types.Principal
	Subaccount       types.Subaccount
	Balance          uint64
	ClaimedDOD       uint64
	TotalDOD         uint64
	CycleBurningRate uint64
}

const prefixUser = 'S'

// Registry is the keyed staker store.
type Registry struct {
	db storage.DB
}

// New wraps db as a Registry.
func New(db storage.DB) *Registry {
	return &Registry{db: db}
}

func userKey(p types.Principal) []byte {
	return append([]byte{prefixUser}, p[:]...)
}

func encode(u *UserDetail) []byte {
	buf := make([]byte, types.PrincipalSize+32+8+8+8+8)
	off := 0
	copy(buf[off:], u.Principal[:])
	off += types.PrincipalSize
	copy(buf[off:], u.Subaccount[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:], u.Balance)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], u.ClaimedDOD)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], u.TotalDOD)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], u.CycleBurningRate)
	return buf
}

func decode(b []byte) (*UserDetail, error) {
	want := types.PrincipalSize + 32 + 8 + 8 + 8 + 8
	if len(b) != want {
		return nil, fmt.Errorf("staker: corrupt record (len %d, want %d)", len(b), want)
	}
	u := &UserDetail{}
	off := 0
	copy(u.Principal[:], b[off:off+types.PrincipalSize])
	off += types.PrincipalSize
	copy(u.Subaccount[:], b[off:off+32])
	off += 32
	u.Balance = binary.BigEndian.Uint64(b[off:])
	off += 8
	u.ClaimedDOD = binary.BigEndian.Uint64(b[off:])
	off += 8
	u.TotalDOD = binary.BigEndian.Uint64(b[off:])
	off += 8
	u.CycleBurningRate = binary.BigEndian.Uint64(b[off:])
	return u, nil
}

// Get returns p's account record, if any.
func (r *Registry) Get(p types.Principal) (*UserDetail, bool, error) {
	raw, err := r.db.Get(userKey(p))
	if err != nil {
		return nil, false, nil
	}
	u, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (r *Registry) put(u *UserDetail) error {
	encoded := encode(u)
	if len(encoded) > MaxUserDetailBytes {
		return fmt.Errorf("staker: encoded record exceeds %d bytes", MaxUserDetailBytes)
	}
	return r.db.Put(userKey(u.Principal), encoded)
}

// Register idempotently creates p's account with a zero balance and the
// default derived subaccount.
func (r *Registry) Register(p types.Principal) (*UserDetail, error) {
	if u, ok, err := r.Get(p); err != nil {
		return nil, err
	} else if ok {
		return u, nil
	}
	u := &UserDetail{
		Principal:  p,
		Subaccount: types.SubaccountFromPrincipal(p),
	}
	if err := r.put(u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetBurnRate updates p's burn rate, requiring rate >= BurnerFee.
func (r *Registry) SetBurnRate(p types.Principal, rate uint64) error {
	if rate < BurnerFee {
		return ErrAmountTooLow
	}
	u, ok, err := r.Get(p)
	if err != nil {
		return err
	}
	if !ok {
		u, err = r.Register(p)
		if err != nil {
			return err
		}
	}
	u.CycleBurningRate = rate
	return r.put(u)
}

// Credit adds amount to p's balance, registering p if needed.
func (r *Registry) Credit(p types.Principal, amount uint64) error {
	u, ok, err := r.Get(p)
	if err != nil {
		return err
	}
	if !ok {
		u, err = r.Register(p)
		if err != nil {
			return err
		}
	}
	u.Balance += amount
	return r.put(u)
}

// Debit subtracts amount from p's balance, failing if insufficient.
func (r *Registry) Debit(p types.Principal, amount uint64) error {
	u, ok, err := r.Get(p)
	if err != nil {
		return err
	}
	if !ok || u.Balance < amount {
		return ErrInsufficientBalance
	}
	u.Balance -= amount
	return r.put(u)
}

// AddReward increments p's total_dod counter, used by settlement's
// per-user reward credit.
func (r *Registry) AddReward(p types.Principal, reward uint64) error {
	u, ok, err := r.Get(p)
	if err != nil {
		return err
	}
	if !ok {
		u, err = r.Register(p)
		if err != nil {
			return err
		}
	}
	u.TotalDOD += reward
	return r.put(u)
}

// Deposit converts icpE8s via the oracle bridge and credits the
// resulting cycles. icpE8s must be at least MinStake.
func (r *Registry) Deposit(bridge oracle.Bridge, p types.Principal, icpE8s uint64) error {
	if icpE8s < MinStake {
		return ErrAmountTooLow
	}
	cycles, err := bridge.ConvertICPToCycles(icpE8s)
	if err != nil {
		return err
	}
	return r.Credit(p, cycles)
}

// Recipient is one leg of an InnerTransfer.
type Recipient struct {
	To     types.Principal
	Amount uint64
}

// InnerTransfer moves cycles from `from` to each recipient, failing if
// `from` has an order active at or beyond lastHeight (hasActiveOrder)
// or if the requested total exceeds from's balance. Partially-valid
// transfers are not supported: either the full batch succeeds or none
// of it is applied.
func (r *Registry) InnerTransfer(from types.Principal, recipients []Recipient, hasActiveOrder bool) error {
	if hasActiveOrder {
		return ErrActiveOrder
	}
	var total uint64
	for _, rec := range recipients {
		total += rec.Amount
	}
	u, ok, err := r.Get(from)
	if err != nil {
		return err
	}
	if !ok || u.Balance < total {
		return ErrInsufficientBalance
	}
	u.Balance -= total
	if err := r.put(u); err != nil {
		return err
	}
	for _, rec := range recipients {
		if err := r.Credit(rec.To, rec.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Claim increments claimed_dod before requesting the token bridge to
// transfer amount from the treasury to `to`; state is mutated before
// the bridge call so a bridge failure never leaves accounting
// inconsistent with a never-issued transfer.
func (r *Registry) Claim(bridge *tokenbridge.Bridge, p types.Principal, to tokenbridge.Account, amount uint64) error {
	if amount == 0 {
		return ErrAmountTooLow
	}
	u, ok, err := r.Get(p)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if amount > u.TotalDOD-u.ClaimedDOD {
		return ErrClaimOverflow
	}
	u.ClaimedDOD += amount
	if err := r.put(u); err != nil {
		return err
	}
	return bridge.Claim(to, amount)
}

// DeriveBurnrateOrder validates and converts a one-shot burn_amount into
// a standing range order of k = floor(burn_amount/rate) blocks at the
// user's per-block burn rate, then delegates to place.
func (r *Registry) DeriveBurnrateOrder(p types.Principal, startHeight, burnAmount uint64, place func(start, end, amount uint64) error) error {
	u, ok, err := r.Get(p)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if u.CycleBurningRate < BurnerFee {
		return ErrAmountTooLow
	}
	if u.Balance < burnAmount || u.Balance < u.CycleBurningRate {
		return ErrInsufficientBalance
	}
	k := burnAmount / u.CycleBurningRate
	if k < 1 {
		return ErrAmountTooLow
	}
	return place(startHeight, startHeight+k, u.CycleBurningRate)
}
