package btcverify

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// AddressKind tags a Bitcoin address encoding. Using a closed tagged
// variant instead of raw string prefix checks keeps every verifier
// invariant written against a finite, exhaustively-handled set.
type AddressKind int

const (
	// AddressKindUnknown is the zero value; never a valid classification.
	AddressKindUnknown AddressKind = iota
	AddressKindP2PKH
	AddressKindP2SH
	AddressKindP2WPKH
	AddressKindP2TR
)

func (k AddressKind) String() string {
	switch k {
	case AddressKindP2PKH:
		return "P2PKH"
	case AddressKindP2SH:
		return "P2SH"
	case AddressKindP2WPKH:
		return "P2WPKH"
	case AddressKindP2TR:
		return "P2TR"
	default:
		return "unknown"
	}
}

// ClassifyAddress infers the network and address kind from an address's
// human-readable prefix, mirroring the prefix-based inference the
// original verifier performs before parsing: bc1q/tb1q -> P2WPKH,
// bc1p/tb1p -> P2TR, 1/m/n -> P2PKH, 3/2 -> P2SH.
func ClassifyAddress(address string) (AddressKind, *chaincfg.Params, error) {
	switch {
	case strings.HasPrefix(address, "bc1q"):
		return AddressKindP2WPKH, &chaincfg.MainNetParams, nil
	case strings.HasPrefix(address, "bc1p"):
		return AddressKindP2TR, &chaincfg.MainNetParams, nil
	case strings.HasPrefix(address, "tb1q"):
		return AddressKindP2WPKH, &chaincfg.TestNet3Params, nil
	case strings.HasPrefix(address, "tb1p"):
		return AddressKindP2TR, &chaincfg.TestNet3Params, nil
	case strings.HasPrefix(address, "1"):
		return AddressKindP2PKH, &chaincfg.MainNetParams, nil
	case strings.HasPrefix(address, "3"):
		return AddressKindP2SH, &chaincfg.MainNetParams, nil
	case strings.HasPrefix(address, "m") || strings.HasPrefix(address, "n"):
		return AddressKindP2PKH, &chaincfg.TestNet3Params, nil
	case strings.HasPrefix(address, "2"):
		return AddressKindP2SH, &chaincfg.TestNet3Params, nil
	default:
		return AddressKindUnknown, nil, fmt.Errorf("%w: unrecognized address prefix for %q", ErrInvalidCommit, address)
	}
}

// ScriptForAddress derives the scriptPubKey for address, validating that
// the decoded address matches the classified network and kind.
func ScriptForAddress(address string) ([]byte, AddressKind, error) {
	kind, params, err := ClassifyAddress(address)
	if err != nil {
		return nil, AddressKindUnknown, err
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, AddressKindUnknown, fmt.Errorf("%w: decode address: %v", ErrInvalidCommit, err)
	}
	if !addr.IsForNet(params) {
		return nil, AddressKindUnknown, fmt.Errorf("%w: address %q not valid for inferred network", ErrInvalidCommit, address)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, AddressKindUnknown, fmt.Errorf("%w: derive script: %v", ErrInvalidCommit, err)
	}
	return script, kind, nil
}

// IsP2TRScript reports whether script is a version-1 witness (Taproot)
// output script.
func IsP2TRScript(script []byte) bool {
	return len(script) == 34 && script[0] == txscript.OP_1 && script[1] == txscript.OP_DATA_32
}
