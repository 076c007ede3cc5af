// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in Genesis, immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration. These settings can
// vary between nodes without breaking agreement on engine state.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// RPC server settings; parsed and validated, but dodengined starts no
	// RPC server
	RPC RPCConfig

	// Oracle exchange rate used to value cycles against the token ledger
	Oracle OracleConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// OracleConfig selects and parameterizes the oracle bridge used to price
// cycles against the token ledger at deposit time.
type OracleConfig struct {
	Mode        string `conf:"oracle.mode"` // "fixed" or "live"; dodengined runs only "fixed"
	E8sPerCycle uint64 `conf:"oracle.e8s_per_cycle"`
	Endpoint    string `conf:"oracle.endpoint"` // required by validation when Mode == "live"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.dodengine
//	macOS:   ~/Library/Application Support/DODEngine
//	Windows: %APPDATA%\DODEngine
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dodengine"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "DODEngine")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "DODEngine")
		}
		return filepath.Join(home, "AppData", "Roaming", "DODEngine")
	default:
		return filepath.Join(home, ".dodengine")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the block store directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// StateDir returns the order book / staker / miner registry directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.ChainDataDir(), "state")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "dodengine.conf")
}

// GenesisFile returns the bootstrap configuration file path.
func (c *Config) GenesisFile() string {
	return filepath.Join(c.ChainDataDir(), "genesis.json")
}
