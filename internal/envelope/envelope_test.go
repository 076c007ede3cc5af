package envelope

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
)

func mineEnvelope(staker []byte) *Envelope {
	return &Envelope{
		OpType:  OpMine,
		Stakers: [][]byte{staker},
		Payload: Payload{
			Asset: AssetDMT,
			DMT:   &DMTDetails{Block: 1, Time: 2, Nonce: 3},
		},
	}
}

func txWithWitnessItem(item []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = wire.TxWitness{item}
	tx.AddTxIn(in)
	return tx
}

func TestParseFromTransaction_Valid(t *testing.T) {
	want := mineEnvelope([]byte{0x01, 0x02})
	raw, err := Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	tx := txWithWitnessItem(raw)
	got, err := ParseFromTransaction(tx)
	if err != nil {
		t.Fatalf("ParseFromTransaction: %v", err)
	}
	if got.OpType != OpMine || got.Payload.Asset != AssetDMT {
		t.Errorf("unexpected envelope: %+v", got)
	}
	if got.Payload.DMT == nil || got.Payload.DMT.Nonce != 3 {
		t.Errorf("unexpected dmt: %+v", got.Payload.DMT)
	}
}

func TestParseFromTransaction_WrongOp(t *testing.T) {
	env := mineEnvelope([]byte{0x01})
	env.OpType = "Transfer"
	raw, _ := Encode(env)
	tx := txWithWitnessItem(raw)
	if _, err := ParseFromTransaction(tx); err == nil {
		t.Error("expected error for non-Mine op_type")
	}
}

func TestParseFromTransaction_NoEnvelope(t *testing.T) {
	tx := txWithWitnessItem([]byte{0xde, 0xad, 0xbe, 0xef})
	if _, err := ParseFromTransaction(tx); err == nil {
		t.Error("expected error when no envelope is present")
	}
}

func TestParseFromTransaction_TwoEnvelopes(t *testing.T) {
	env := mineEnvelope([]byte{0x01})
	raw, _ := Encode(env)
	tx := wire.NewMsgTx(wire.TxVersion)
	in1 := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in1.Witness = wire.TxWitness{raw}
	in2 := wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil)
	in2.Witness = wire.TxWitness{raw}
	tx.AddTxIn(in1)
	tx.AddTxIn(in2)
	if _, err := ParseFromTransaction(tx); err == nil {
		t.Error("expected error for more than one envelope")
	}
}
