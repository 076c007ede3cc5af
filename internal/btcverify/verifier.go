// Package btcverify validates the commit/reveal PSBT pair a miner
// submits: BIP-174 decoding, BIP-341 Taproot key-path signature
// verification, and the binding checks that tie the two transactions
// together and to the current block.
package btcverify

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/DOD-Blockchain/dod/internal/envelope"
)

// MagicValue is the fixed witness-UTXO amount (in satoshis) every commit
// transaction's spent output must carry; it has no monetary meaning and
// exists purely as a protocol sentinel binding the commit to this
// engine rather than an ordinary spend.
const MagicValue = 546

var (
	ErrInvalidPSBT   = errors.New("invalid psbt")
	ErrInvalidCommit = errors.New("invalid commit transaction")
	ErrInvalidReveal = errors.New("invalid reveal transaction")
)

// decodePSBT base64-decodes and parses a PSBT, rejecting anything with
// more than one input (this protocol only ever deals with single-input
// commit/reveal transactions).
func decodePSBT(psbtB64 string) (*psbt.Packet, error) {
	raw, err := base64.StdEncoding.DecodeString(psbtB64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrInvalidPSBT, err)
	}
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidPSBT, err)
	}
	if len(packet.UnsignedTx.TxIn) != 1 || len(packet.Inputs) != 1 {
		return nil, fmt.Errorf("%w: expected exactly 1 input", ErrInvalidPSBT)
	}
	if len(packet.UnsignedTx.TxOut) == 0 {
		return nil, fmt.Errorf("%w: expected at least 1 output", ErrInvalidPSBT)
	}
	return packet, nil
}

// xOnly returns the last 32 bytes of a 33-byte compressed pubkey.
func xOnly(pubKey33 []byte) ([]byte, error) {
	if len(pubKey33) != 33 {
		return nil, fmt.Errorf("%w: pubkey must be 33 bytes, got %d", ErrInvalidPSBT, len(pubKey33))
	}
	return pubKey33[1:], nil
}

// verifyKeyPathSignature checks that input 0 of packet carries exactly
// one Taproot key-path signature and that it verifies against the
// internal key tweaked per BIP-341 (key-path only, no script tree).
func verifyKeyPathSignature(packet *psbt.Packet, internalPubKey33 []byte, errKind error) error {
	in := &packet.Inputs[0]
	if in.WitnessUtxo == nil {
		return fmt.Errorf("%w: missing witness utxo on input 0", errKind)
	}
	if len(in.TaprootScriptSpendSig) != 0 {
		return fmt.Errorf("%w: script-path signatures are not supported", errKind)
	}
	if len(in.TaprootKeySpendSig) == 0 {
		return fmt.Errorf("%w: missing taproot key-path signature", errKind)
	}

	internalXOnly, err := xOnly(internalPubKey33)
	if err != nil {
		return err
	}
	in.TaprootInternalKey = internalXOnly

	prevFetcher := txscript.NewCannedPrevOutputFetcher(in.WitnessUtxo.PkScript, in.WitnessUtxo.Value)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevFetcher)
	sigHashType := txscript.SigHashDefault
	sig := in.TaprootKeySpendSig
	if len(sig) == 65 {
		sigHashType = txscript.SigHashType(sig[64])
		sig = sig[:64]
	}
	sigHash, err := txscript.CalcTaprootSignatureHash(sigHashes, sigHashType, packet.UnsignedTx, 0, prevFetcher)
	if err != nil {
		return fmt.Errorf("%w: compute sighash: %v", errKind, err)
	}

	internalKey, err := btcec.ParsePubKey(append([]byte{0x02}, internalXOnly...))
	if err != nil {
		return fmt.Errorf("%w: parse internal key: %v", errKind, err)
	}
	tweakedKey := txscript.ComputeTaprootOutputKey(internalKey, nil)

	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: parse signature: %v", errKind, err)
	}
	if !parsedSig.Verify(sigHash, tweakedKey) {
		return fmt.Errorf("%w: schnorr signature verification failed", errKind)
	}
	return nil
}

// VerifyCommit validates a miner's commit transaction. blockHashRev is
// the reversed bytes of the current block's hash; the commit's single
// input must spend (blockHashRev as txid, vout 0). Returns the commit
// transaction's txid (hex) and the scriptPubKey of its output 0.
func VerifyCommit(psbtB64 string, minerPubKey33 []byte, blockHashRev []byte) (string, []byte, error) {
	packet, err := decodePSBT(psbtB64)
	if err != nil {
		return "", nil, err
	}
	in := &packet.Inputs[0]
	if in.WitnessUtxo == nil || in.WitnessUtxo.Value != MagicValue {
		return "", nil, fmt.Errorf("%w: witness-utxo value must be %d", ErrInvalidCommit, MagicValue)
	}

	wantTxid, err := chainhash.NewHash(blockHashRev)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad block hash: %v", ErrInvalidCommit, err)
	}
	prevOut := packet.UnsignedTx.TxIn[0].PreviousOutPoint
	if !prevOut.Hash.IsEqual(wantTxid) || prevOut.Index != 0 {
		return "", nil, fmt.Errorf("%w: input does not spend current block's commitment point", ErrInvalidCommit)
	}

	output0 := packet.UnsignedTx.TxOut[0]
	if !IsP2TRScript(output0.PkScript) {
		return "", nil, fmt.Errorf("%w: output 0 is not P2TR", ErrInvalidCommit)
	}

	if err := verifyKeyPathSignature(packet, minerPubKey33, ErrInvalidCommit); err != nil {
		return "", nil, err
	}

	txid := packet.UnsignedTx.TxHash()
	return txid.String(), output0.PkScript, nil
}

// VerifyReveal validates a miner's reveal transaction, which must spend
// the commit transaction's output 0, pay output 0 to minerAddress, and
// embed exactly one Mine/DMT envelope naming the miner as sole staker.
func VerifyReveal(psbtB64 string, prevScript []byte, minerPubKey33 []byte, commitTxidHex string, minerAddress string) error {
	packet, err := decodePSBT(psbtB64)
	if err != nil {
		return err
	}
	in := &packet.Inputs[0]
	if in.WitnessUtxo == nil || !bytes.Equal(in.WitnessUtxo.PkScript, prevScript) {
		return fmt.Errorf("%w: input does not spend the commit output's script", ErrInvalidReveal)
	}

	commitTxid, err := chainhash.NewHashFromStr(commitTxidHex)
	if err != nil {
		return fmt.Errorf("%w: bad commit txid: %v", ErrInvalidReveal, err)
	}
	prevOut := packet.UnsignedTx.TxIn[0].PreviousOutPoint
	if !prevOut.Hash.IsEqual(commitTxid) || prevOut.Index != 0 {
		return fmt.Errorf("%w: input does not spend the commit transaction's output 0", ErrInvalidReveal)
	}

	output0 := packet.UnsignedTx.TxOut[0]
	if !IsP2TRScript(output0.PkScript) {
		return fmt.Errorf("%w: output 0 is not P2TR", ErrInvalidReveal)
	}
	wantScript, kind, err := ScriptForAddress(minerAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReveal, err)
	}
	if kind != AddressKindP2TR {
		return fmt.Errorf("%w: miner address is not a taproot address", ErrInvalidReveal)
	}
	if !bytes.Equal(output0.PkScript, wantScript) {
		return fmt.Errorf("%w: output 0 does not pay the miner's address", ErrInvalidReveal)
	}

	if err := verifyKeyPathSignature(packet, minerPubKey33, ErrInvalidReveal); err != nil {
		return err
	}

	// BIP-174's global unsigned tx carries no witness data, so a wallet
	// that builds this PSBT properly can't place the envelope in
	// UnsignedTx's witness stack; it attaches the envelope bytes as an
	// input-level proprietary key-value pair instead (BIP-174's escape
	// hatch for application data). Both sources are checked so a PSBT
	// that does carry witness data on its unsigned tx still works.
	var items [][]byte
	for _, u := range in.Unknowns {
		items = append(items, u.Value)
	}
	for _, w := range packet.UnsignedTx.TxIn[0].Witness {
		items = append(items, w)
	}
	env, err := envelope.ParseFromItems(items)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReveal, err)
	}
	if len(env.Stakers) != 1 {
		return fmt.Errorf("%w: envelope must name exactly one staker", ErrInvalidReveal)
	}
	minerXOnly, err := xOnly(minerPubKey33)
	if err != nil {
		return err
	}
	if !bytes.Equal(env.Stakers[0], minerXOnly) {
		return fmt.Errorf("%w: envelope staker does not match miner pubkey", ErrInvalidReveal)
	}
	return nil
}

// ReverseBytes returns a new slice with b's bytes in reverse order.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// HexReverse is a convenience used by callers that hold a hex string
// and need the byte-reversed hex rendering (e.g. for bitwork.Match's
// reverse parameter versus the txid the verifier already produced).
func HexReverse(h string) (string, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ReverseBytes(b)), nil
}
