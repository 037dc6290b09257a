package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"vaultchain/config"
	"vaultchain/native/cdp"
	"vaultchain/observability/logging"
	"vaultchain/storage"
)

// cdpscand inspects and tunes the node-local state of the CDP offchain
// scanner: the resumable scan cursor and the per-pass iteration budget. It
// operates on the same LevelDB directory the node's scanner uses, so run it
// only while the node is stopped.
func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	setMaxIterations := flag.Uint("set-max-iterations", 0, "Store an override for the per-pass scan budget and exit")
	resetCursor := flag.Bool("reset-cursor", false, "Clear the persisted scan cursor and exit")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULT_ENV"))
	logger := logging.Setup("cdpscand", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "path", *configFile, "error", err)
		os.Exit(1)
	}
	params, err := cfg.EngineParams()
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.OffchainDBDir)
	if err != nil {
		logger.Error("failed to open offchain store", "dir", cfg.OffchainDBDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	state := cdp.NewScannerState(db)

	switch {
	case *setMaxIterations > 0:
		if err := state.SetMaxIterations(uint32(*setMaxIterations)); err != nil {
			logger.Error("failed to store iteration budget", "error", err)
			os.Exit(1)
		}
		logger.Info("scan budget updated", "maxIterations", *setMaxIterations)
	case *resetCursor:
		if err := state.SaveCursor(cdp.ScanCursor{}); err != nil {
			logger.Error("failed to reset cursor", "error", err)
			os.Exit(1)
		}
		logger.Info("scan cursor reset")
	default:
		cursor, err := state.LoadCursor()
		if err != nil {
			logger.Error("failed to read cursor", "error", err)
			os.Exit(1)
		}
		budget, err := state.MaxIterations()
		if err != nil {
			logger.Error("failed to read iteration budget", "error", err)
			os.Exit(1)
		}
		fmt.Printf("collateral types: %d\n", len(params.CollateralCurrencies))
		for i, currency := range params.CollateralCurrencies {
			fmt.Printf("  [%d] %s\n", i, currency.Key())
		}
		if cursor == nil {
			fmt.Println("cursor: none (next pass starts at a seeded random type)")
		} else {
			fmt.Printf("cursor: type index %d, resume key %q\n", cursor.CollateralIndex, cursor.StartKey)
		}
		fmt.Printf("scan budget: %d positions per pass\n", budget)
	}
}
