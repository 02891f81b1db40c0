package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/chain"
	"github.com/ag-wnl/sol-amm-v3/internal/config"
	"github.com/ag-wnl/sol-amm-v3/internal/dex"
	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/replay"
	"github.com/ag-wnl/sol-amm-v3/internal/storage"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	runCfg, err := replayRunConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := openSinks(ctx, cfg.Journal, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer sinks.Close()

	m := metrics.New("clmm")
	serveMetrics(ctx, cfg.MetricsAddr, m, logger)

	opts := replay.Options{
		Journal: sinks.journal,
		Metrics: m,
		Logger:  logger,
	}
	if sinks.store != nil {
		opts.Checkpoints = sinks.store
	} else if cfg.CheckpointFile != "" {
		opts.Checkpoints = replay.NewFileCheckpoints(cfg.CheckpointFile)
	}

	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		chainID, err := chainClient.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		logger.Info("rpc connected", zap.String("chain_id", chainID.String()))
		opts.Caller = chainClient
	}

	decoder, err := dex.NewV3PoolDecoder(dex.DecoderConfig{})
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("pool", runCfg.Pool.Hex()),
		zap.Bool("rpc", cfg.RPCURL != ""),
		zap.String("checkpoint", runCfg.Checkpoint),
		zap.String("out", cfg.Out),
	)

	report, err := replay.NewReplayer(runCfg, decoder, opts).Run(ctx, inputFile)
	if err != nil {
		return err
	}

	if err := storage.WriteJSON(cfg.Out, report); err != nil {
		return err
	}
	if sinks.store != nil && report.Pool.ID != "" {
		if err := sinks.store.SavePools(ctx, []model.PoolSnapshot{report.Pool}); err != nil {
			return fmt.Errorf("save pools: %w", err)
		}
	}
	return nil
}

func replayRunConfig(cfg config.ReplayConfig) (replay.RunConfig, error) {
	if !common.IsHexAddress(cfg.Pool) {
		return replay.RunConfig{}, fmt.Errorf("invalid pool address %q", cfg.Pool)
	}
	runCfg := replay.RunConfig{
		Pool:         common.HexToAddress(cfg.Pool),
		TickSpacing:  cfg.TickSpacing,
		SeedTick:     cfg.Tick,
		SeedBlock:    cfg.Block,
		Checkpoint:   cfg.Checkpoint,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}
	if runCfg.Checkpoint == "" {
		runCfg.Checkpoint = strings.ToLower(runCfg.Pool.Hex())
	}

	for _, token := range []struct {
		value string
		dst   *common.Address
	}{
		{cfg.Token0, &runCfg.Token0},
		{cfg.Token1, &runCfg.Token1},
	} {
		if token.value == "" {
			continue
		}
		if !common.IsHexAddress(token.value) {
			return replay.RunConfig{}, fmt.Errorf("invalid token address %q", token.value)
		}
		*token.dst = common.HexToAddress(token.value)
	}

	if cfg.SqrtPrice != "" {
		seed, err := uint256.FromDecimal(cfg.SqrtPrice)
		if err != nil {
			return replay.RunConfig{}, fmt.Errorf("invalid sqrt-price %q: %w", cfg.SqrtPrice, err)
		}
		runCfg.SeedSqrtPriceX96 = seed
	}
	return runCfg, nil
}
