// Command dodengined runs the DOD settlement engine as a long-lived
// daemon: it loads node configuration and the bootstrap genesis, opens
// the on-disk stores, bootstraps and starts the engine (creating the
// genesis block if this is a fresh data directory), and then drives the
// tick loop until signaled to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DOD-Blockchain/dod/config"
	"github.com/DOD-Blockchain/dod/internal/blockstore"
	"github.com/DOD-Blockchain/dod/internal/engine"
	klog "github.com/DOD-Blockchain/dod/internal/log"
	"github.com/DOD-Blockchain/dod/internal/miner"
	"github.com/DOD-Blockchain/dod/internal/oracle"
	"github.com/DOD-Blockchain/dod/internal/orderbook"
	"github.com/DOD-Blockchain/dod/internal/staker"
	"github.com/DOD-Blockchain/dod/internal/storage"
	"github.com/DOD-Blockchain/dod/internal/tokenbridge"
	"github.com/DOD-Blockchain/dod/pkg/crypto"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dodengined:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, flags, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/dodengined.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("daemon")

	genesisPath := cfg.GenesisFile()
	if flags.Genesis != "" {
		genesisPath = flags.Genesis
	}
	genesis, err := config.LoadGenesis(genesisPath)
	if err != nil {
		return fmt.Errorf("loading genesis %s: %w", genesisPath, err)
	}
	bootstrapParams, owner, err := genesis.ToEngineParams()
	if err != nil {
		return fmt.Errorf("genesis %s: %w", genesisPath, err)
	}

	blockDB, err := storage.NewBadger(cfg.BlocksDir())
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer blockDB.Close()

	stateDB, err := storage.NewBadger(cfg.StateDir())
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer stateDB.Close()

	blocks := blockstore.New(blockDB)
	orders := orderbook.New(storage.NewPrefixDB(stateDB, []byte("orderbook/")))
	miners := miner.New(storage.NewPrefixDB(stateDB, []byte("miners/")))
	stakers := staker.New(storage.NewPrefixDB(stateDB, []byte("stakers/")))

	self := crypto.PrincipalFromPubKey([]byte("dodengine-self:" + genesis.ChainID))
	treasury := tokenbridge.Account{Owner: self, Subaccount: bootstrapParams.TreasurySubaccount}
	bridge := tokenbridge.New(tokenbridge.NewFakeLedger(), treasury, self)

	var oracleBridge oracle.Bridge
	switch cfg.Oracle.Mode {
	case "", "fixed":
		oracleBridge = &oracle.FixedRateBridge{E8sPerCycle: cfg.Oracle.E8sPerCycle}
	default:
		return fmt.Errorf("oracle mode %q is not implemented by this build; use fixed", cfg.Oracle.Mode)
	}

	eng := engine.New(owner, self, blocks, orders, miners, stakers, bridge, oracleBridge, klog.Engine)

	if err := eng.Bootstrap(owner, bootstrapParams); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := eng.Start(owner, time.Now()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Str("datadir", cfg.DataDir).
		Msg("engine started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine run: %w", err)
	}
	logger.Info().Msg("engine shut down")
	return nil
}
