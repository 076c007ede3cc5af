package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/DOD-Blockchain/dod/internal/engine"
	"github.com/DOD-Blockchain/dod/pkg/bitwork"
	"github.com/DOD-Blockchain/dod/pkg/crypto"
	"github.com/DOD-Blockchain/dod/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, fixed at bootstrap)
// These MUST match the values the engine was started with; changing them
// after genesis changes every derived reward and difficulty value.
// =============================================================================

// Genesis holds the bootstrap configuration passed to Engine.Bootstrap.
// This is immutable once the engine has started.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Timestamp uint64 `json:"timestamp"`

	BlockIntervalNs    uint64      `json:"block_interval_ns"`
	Epoch              uint64      `json:"epoch"`
	DefaultRewards     uint64      `json:"default_rewards"`
	Halving            HalvingRule `json:"halving"`
	TreasurySubaccount string      `json:"treasury_subaccount"` // hex, 32 bytes
	TokenCanister      string      `json:"token_canister"`      // hex principal
	StartDifficulty    BitworkRule `json:"start_difficulty"`
	Owner              string      `json:"owner"` // hex principal, the sole bootstrap/start caller
}

// HalvingRule is Genesis's JSON-friendly rendering of the reward decay
// ratio; Numerator/Denominator keep the ratio exact (e.g. 1/2) rather
// than a lossy float.
type HalvingRule struct {
	Interval    uint64 `json:"interval"`
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// BitworkRule is Genesis's JSON-friendly rendering of a starting
// difficulty target.
type BitworkRule struct {
	Pre     int  `json:"pre"`
	PostHex byte `json:"post_hex"` // 0-15
}

// ToEngineParams converts the file-friendly Genesis into the engine's
// BootstrapParams, parsing the hex-encoded fields it stores as strings.
func (g *Genesis) ToEngineParams() (engine.BootstrapParams, types.Principal, error) {
	subBytes, err := hex.DecodeString(g.TreasurySubaccount)
	if err != nil || len(subBytes) != 32 {
		return engine.BootstrapParams{}, types.Principal{}, fmt.Errorf("treasury_subaccount: must be 32 hex bytes")
	}
	var sub types.Subaccount
	copy(sub[:], subBytes)

	tokenCanister, err := types.HexToPrincipal(g.TokenCanister)
	if err != nil {
		return engine.BootstrapParams{}, types.Principal{}, fmt.Errorf("token_canister: %w", err)
	}
	owner, err := types.HexToPrincipal(g.Owner)
	if err != nil {
		return engine.BootstrapParams{}, types.Principal{}, fmt.Errorf("owner: %w", err)
	}

	diff := bitwork.Bitwork{Pre: g.StartDifficulty.Pre, PostHex: g.StartDifficulty.PostHex}
	if err := diff.Validate(); err != nil {
		return engine.BootstrapParams{}, types.Principal{}, fmt.Errorf("start_difficulty: %w", err)
	}

	params := engine.BootstrapParams{
		BlockIntervalNs:    g.BlockIntervalNs,
		Epoch:              g.Epoch,
		DefaultRewards:     g.DefaultRewards,
		Halving:            engine.Halving{Interval: g.Halving.Interval, Numerator: g.Halving.Numerator, Denominator: g.Halving.Denominator},
		TreasurySubaccount: sub,
		TokenCanister:      tokenCanister,
		StartDifficulty:    diff,
	}
	return params, owner, nil
}

// =============================================================================
// Pre-defined bootstrap configurations
// =============================================================================

// MainnetGenesis returns the mainnet bootstrap configuration: one block
// per second, a difficulty-adjustment epoch of 144 blocks (144 seconds
// at that cadence), and a halving interval of 210,000 blocks, Bitcoin's
// own halving block count, unscaled (about 58 hours at that cadence).
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:            "dod-mainnet-1",
		ChainName:          "DOD Mainnet",
		Timestamp:          1770734103,
		BlockIntervalNs:    uint64(1_000_000_000),
		Epoch:              144,
		DefaultRewards:     5_000_000_000,
		Halving:            HalvingRule{Interval: 210_000, Numerator: 1, Denominator: 2},
		TreasurySubaccount: hex.EncodeToString(make([]byte, 32)),
		StartDifficulty:    BitworkRule{Pre: 0, PostHex: 0},
	}
}

// TestnetGenesis returns the configuration for local development and
// integration tests: mainnet's block interval and starting difficulty,
// with a 4-block epoch and a 10-block halving interval.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "dod-testnet-1"
	g.ChainName = "DOD Testnet"
	g.Epoch = 4
	g.Halving.Interval = 10
	return g
}

// GenesisFor returns the bootstrap config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads a bootstrap configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Save writes the bootstrap configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the bootstrap configuration is structurally sound.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.BlockIntervalNs == 0 {
		return fmt.Errorf("block_interval_ns must be positive")
	}
	if g.Epoch == 0 {
		return fmt.Errorf("epoch must be positive")
	}
	if g.DefaultRewards == 0 {
		return fmt.Errorf("default_rewards must be positive")
	}
	if g.Halving.Denominator == 0 {
		return fmt.Errorf("halving.denominator must be positive")
	}
	if g.StartDifficulty.Pre < 0 || g.StartDifficulty.Pre > bitwork.MaxPre {
		return fmt.Errorf("start_difficulty.pre out of range")
	}
	if g.StartDifficulty.PostHex > 0xf {
		return fmt.Errorf("start_difficulty.post_hex out of range")
	}
	if len(g.TreasurySubaccount) != 0 {
		if _, err := hex.DecodeString(g.TreasurySubaccount); err != nil {
			return fmt.Errorf("treasury_subaccount must be hex-encoded")
		}
	}
	return nil
}

// Hash returns a BLAKE3 hash of the bootstrap configuration, used to
// detect genesis mismatches between a config file and a running engine.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
