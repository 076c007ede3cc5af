// Package crypto provides cryptographic primitives for the engine.
package crypto

import (
	"github.com/DOD-Blockchain/dod/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// HashConcat hashes the concatenation of two hashes.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// PrincipalFromPubKey derives a self-authenticating principal from a
// compressed secp256k1 public key. Principal = BLAKE3(pubkey)[:29].
func PrincipalFromPubKey(pubKey []byte) types.Principal {
	h := Hash(pubKey)
	var p types.Principal
	copy(p[:], h[:types.PrincipalSize])
	return p
}
