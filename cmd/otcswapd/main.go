package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"otcswap/archive"
	"otcswap/config"
	"otcswap/native/bank"
	"otcswap/native/common"
	"otcswap/native/fees"
	"otcswap/native/otc"
	"otcswap/native/registry"
	"otcswap/observability"
	"otcswap/observability/logging"
	"otcswap/rpc"
	"otcswap/state"
	"otcswap/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("otcswapd", cfg.LogPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager, cfg.Custody())
	flags := common.NewFlags()

	reg := registry.NewRegistry()
	reg.SetMinCodeSize(cfg.MinCodeSize)
	reg.SetMaxBatch(uint64(cfg.MaxBatchValidate))
	if cfg.TokenManifestPath != "" {
		oracle, err := loadManifestOracle(cfg.TokenManifestPath)
		if err != nil {
			logger.Error("failed to load token manifest", slog.Any("error", err))
			os.Exit(1)
		}
		reg.SetOracle(oracle)
	}
	snap, ok, err := manager.LoadRegistry()
	if err != nil {
		logger.Error("failed to load registry snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	if ok {
		reg.Restore(snap)
		logger.Info("registry snapshot restored", "validated", len(snap.Validated), "approved", len(snap.Approved))
	}

	minValidated, err := cfg.MinValidatedAmountInt()
	if err != nil {
		logger.Error("invalid minimum validated amount", slog.Any("error", err))
		os.Exit(1)
	}

	engine := otc.NewEngine()
	engine.SetState(manager)
	engine.SetTransferor(ledger)
	engine.SetRegistry(reg)
	engine.SetPauses(flags)
	engine.SetShutdown(flags)
	engine.SetCustody(cfg.Custody())
	engine.SetFeePolicy(feePolicy(cfg))
	engine.SetMinValidatedAmount(minValidated)
	engine.SetMaxOpenSwaps(cfg.MaxOpenSwapsPerUser)
	engine.SetMaxSwapDuration(time.Duration(cfg.MaxSwapDurationSeconds) * time.Second)
	engine.SetPruneRetention(time.Duration(cfg.PruneRetentionSeconds) * time.Second)
	if err := engine.LoadIndex(); err != nil {
		logger.Error("failed to rebuild swap index", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		logger.Error("failed to open archive", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(engine, reg, ledger, flags, manager, store, logger)
	server.SetRateLimit(cfg.RPCRateLimit, cfg.RPCRateBurst)

	go prunePeriodically(engine, store, logger, time.Duration(cfg.PruneIntervalSeconds)*time.Second)

	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func feePolicy(cfg *config.Config) fees.Policy {
	return fees.Policy{RateBps: cfg.FeeBps, Treasury: cfg.Treasury()}
}

// prunePeriodically archives and removes stale terminal swaps on a fixed
// interval.
func prunePeriodically(engine *otc.Engine, store *archive.Store, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		pruned, err := engine.Prune(time.Now().Unix())
		if err != nil {
			logger.Error("prune pass failed", slog.Any("error", err))
			continue
		}
		if len(pruned) == 0 {
			continue
		}
		if err := store.SaveSwaps(pruned); err != nil {
			logger.Error("failed to archive pruned swaps", slog.Any("error", err))
		}
		observability.SwapMetrics().RecordPruned(len(pruned))
		logger.Info("pruned stale swaps", "count", len(pruned))
	}
}
