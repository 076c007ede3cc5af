package minerkey

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/tyler-smith/go-bip32"

	"github.com/DOD-Blockchain/dod/pkg/crypto"
)

// BIP-86 derivation path constants: m/86'/coin_type'/account'/change/index,
// the standard path for a single-sig P2TR (taproot) key.
const (
	PurposeBIP86 = bip32.FirstHardenedChild + 86

	// CoinTypeBTC is BIP-44's registered coin type for Bitcoin; used for
	// both mainnet and testnet since this tool derives a single address
	// per keystore rather than separating change/receive chains.
	CoinTypeBTC = bip32.FirstHardenedChild + 0

	ChangeExternal = 0
)

// HDKey is a BIP-32 hierarchical deterministic key used to derive a
// miner's taproot signing key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte BIP-39 seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index. For hardened
// derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// DeriveMiningKey derives the key at m/86'/0'/account'/0/index, the
// taproot signing key a registered miner uses to sign commit/reveal PSBTs.
func (k *HDKey) DeriveMiningKey(account, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP86,
		CoinTypeBTC,
		bip32.FirstHardenedChild+account,
		ChangeExternal,
		index,
	)
}

// PrivateKeyBytes returns the raw 32-byte private key, or nil if this is
// a public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Signer returns a crypto.Signer from this HD key's private key.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// TaprootAddress derives the BIP-341 single-key P2TR address this key
// signs for, on the given network.
func (k *HDKey) TaprootAddress(params *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	pub, err := btcec.ParsePubKey(k.PublicKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %w", err)
	}
	outputKey := txscript.ComputeTaprootOutputKey(pub, nil)
	return btcutil.NewAddressTaproot(outputKey.SerializeCompressed()[1:], params)
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Neuter returns a public-key-only copy.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
