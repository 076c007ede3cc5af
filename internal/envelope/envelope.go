// Package envelope extracts and validates the mining payload embedded in
// a reveal transaction's witness script: a single CBOR-encoded map
// describing the operation, the staker keys authorizing it, and (for
// mining ops) the DMT details (block height, timestamp, nonce).
package envelope

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidEnvelope is returned whenever witness data does not contain
// exactly one well-formed mining envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// OpMine is the only operation type this engine accepts.
const OpMine = "Mine"

// AssetDMT is the only asset type this engine accepts.
const AssetDMT = "DMT"

// DMTDetails carries the miner-supplied proof-of-work metadata.
type DMTDetails struct {
	Block uint64 `cbor:"blk"`
	Time  uint64 `cbor:"time"`
	Nonce uint64 `cbor:"nonce"`
}

// Payload is the asset-specific body of an envelope.
type Payload struct {
	Asset string      `cbor:"asset"`
	DMT   *DMTDetails `cbor:"dmt,omitempty"`
}

// Envelope is the structured blob embedded in a reveal transaction's
// witness script.
type Envelope struct {
	OpType  string   `cbor:"op"`
	Stakers [][]byte `cbor:"stakers"`
	Payload Payload  `cbor:"payload"`
}

// ParseFromTransaction scans tx's witness data for exactly one CBOR
// envelope and validates it is a well-formed Mine/DMT envelope.
// A count other than exactly one, any CBOR decode failure, or a
// mismatched op_type/asset_type are all reported as ErrInvalidEnvelope.
func ParseFromTransaction(tx *wire.MsgTx) (*Envelope, error) {
	var items [][]byte
	for _, in := range tx.TxIn {
		items = append(items, in.Witness...)
	}
	return ParseFromItems(items)
}

// ParseFromItems validates that exactly one of the given byte blobs
// decodes to a well-formed Mine/DMT envelope. Used directly by callers
// that source candidate blobs from somewhere other than a transaction's
// witness stack, such as a PSBT input's proprietary key-value fields.
func ParseFromItems(items [][]byte) (*Envelope, error) {
	var found []*Envelope
	for _, item := range items {
		env, ok := tryParse(item)
		if ok {
			found = append(found, env)
		}
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%w: found %d candidate envelopes, want exactly 1", ErrInvalidEnvelope, len(found))
	}
	env := found[0]
	if env.OpType != OpMine {
		return nil, fmt.Errorf("%w: op_type %q, want %q", ErrInvalidEnvelope, env.OpType, OpMine)
	}
	if env.Payload.Asset != AssetDMT {
		return nil, fmt.Errorf("%w: asset_type %q, want %q", ErrInvalidEnvelope, env.Payload.Asset, AssetDMT)
	}
	return env, nil
}

// tryParse attempts to decode a single witness item as a CBOR envelope.
// Witness items that are not CBOR maps, or that don't round-trip a
// non-empty op field, are silently rejected as non-candidates (they may
// be signatures, scripts, or control bytes unrelated to the envelope).
func tryParse(item []byte) (*Envelope, bool) {
	if len(item) == 0 {
		return nil, false
	}
	dec := cbor.NewDecoder(bytes.NewReader(item))
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, false
	}
	if env.OpType == "" {
		return nil, false
	}
	return &env, true
}

// Encode serializes an envelope to CBOR, mirroring the wire format the
// verifier parses. Used by tests to construct fixtures.
func Encode(env *Envelope) ([]byte, error) {
	return cbor.Marshal(env)
}
