package config

import (
	"encoding/hex"
	"testing"

	"github.com/DOD-Blockchain/dod/pkg/types"
)

func TestGenesis_Validate_MainnetValid(t *testing.T) {
	g := MainnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("mainnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_TestnetValid(t *testing.T) {
	g := TestnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("testnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_RejectsZeroEpoch(t *testing.T) {
	g := MainnetGenesis()
	g.Epoch = 0
	if err := g.Validate(); err == nil {
		t.Error("expected error for zero epoch")
	}
}

func TestGenesis_Validate_RejectsBadDifficulty(t *testing.T) {
	g := MainnetGenesis()
	g.StartDifficulty.PostHex = 0x10
	if err := g.Validate(); err == nil {
		t.Error("expected error for out-of-range post_hex")
	}
}

func TestGenesis_ToEngineParams(t *testing.T) {
	g := TestnetGenesis()
	owner := types.Principal{0x01}
	g.Owner = owner.String()
	g.TokenCanister = hex.EncodeToString(make([]byte, types.PrincipalSize))

	params, gotOwner, err := g.ToEngineParams()
	if err != nil {
		t.Fatal(err)
	}
	if gotOwner != owner {
		t.Errorf("owner = %v, want %v", gotOwner, owner)
	}
	if params.Epoch != g.Epoch {
		t.Errorf("epoch = %d, want %d", params.Epoch, g.Epoch)
	}
	if params.Halving.Interval != g.Halving.Interval {
		t.Errorf("halving interval mismatch")
	}
}

func TestGenesis_HashDeterministic(t *testing.T) {
	g := MainnetGenesis()
	h1, err := g.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := g.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("genesis hash should be deterministic")
	}
}

func TestGenesis_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/genesis.json"
	g := TestnetGenesis()
	if err := g.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadGenesis(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ChainID != g.ChainID || loaded.Epoch != g.Epoch {
		t.Errorf("round-tripped genesis mismatch: %+v vs %+v", loaded, g)
	}
}
