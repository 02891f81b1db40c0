package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/config"
	"github.com/ag-wnl/sol-amm-v3/internal/custody"
	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/registry"
	"github.com/ag-wnl/sol-amm-v3/internal/simulate"
	"github.com/ag-wnl/sol-amm-v3/internal/storage"
)

type simulateOutput struct {
	Summary simulate.Summary     `json:"summary"`
	Pools   []model.PoolSnapshot `json:"pools"`
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := openSinks(ctx, cfg.Journal, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer sinks.Close()

	m := metrics.New("clmm")
	serveMetrics(ctx, cfg.MetricsAddr, m, logger)

	vault := custody.NewVault()
	reg := registry.New(registry.Config{
		Custody: vault,
		Journal: sinks.journal,
		Metrics: m,
		Logger:  logger,
		Source:  "simulate",
	})

	inputFile, err := os.Open(cfg.Script)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer inputFile.Close()

	logger.Info("simulate start",
		zap.String("script", cfg.Script),
		zap.String("out", cfg.Out),
		zap.String("journal", cfg.Journal),
		zap.Bool("postgres", sinks.store != nil),
		zap.Bool("fail_fast", cfg.FailFast),
	)

	runner := simulate.NewRunner(simulate.RunConfig{FailFast: cfg.FailFast}, reg, vault, logger)
	summary, runErr := runner.Run(ctx, inputFile)

	snapshots := reg.Snapshots()
	if err := storage.WriteJSON(cfg.Out, simulateOutput{Summary: summary, Pools: snapshots}); err != nil {
		return err
	}
	if sinks.store != nil {
		if err := sinks.store.SavePools(ctx, snapshots); err != nil {
			return fmt.Errorf("save pools: %w", err)
		}
	}

	logger.Info("simulate complete",
		zap.Int("lines", summary.Lines),
		zap.Int("applied", summary.Applied),
		zap.Int("failed", summary.Failed),
		zap.Int("pools", len(snapshots)),
	)
	return runErr
}
