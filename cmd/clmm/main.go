package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/storage"
	"github.com/ag-wnl/sol-amm-v3/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "clmm",
		Short:        "Concentrated-liquidity pool engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Apply a JSONL operation script to in-memory pools",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("script", "", "input script JSONL")
	simulateCmd.Flags().String("out", "./data/snapshot.json", "final pool snapshot JSON")
	simulateCmd.Flags().String("journal", "", "optional journal JSONL path")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for journal and snapshots")
	simulateCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	simulateCmd.Flags().Bool("fail-fast", false, "stop at the first failing operation")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a deployed pool from raw logs and reconcile it",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("in", "", "input raw logs JSONL")
	replayCmd.Flags().String("pool", "", "pool contract address")
	replayCmd.Flags().String("rpc", "", "RPC URL used to seed and reconcile pool state")
	replayCmd.Flags().Uint64("block", 0, "block to read the seed state at, 0 means the block before the first replayed event")
	replayCmd.Flags().String("token0", "", "token0 address (read from the pool when rpc is set)")
	replayCmd.Flags().String("token1", "", "token1 address (read from the pool when rpc is set)")
	replayCmd.Flags().Int32("tick-spacing", 0, "tick spacing (read from the pool when rpc is set)")
	replayCmd.Flags().String("sqrt-price", "", "seed sqrt price Q64.96 when the input has no Initialize event")
	replayCmd.Flags().Int32("tick", 0, "seed tick matching sqrt-price")
	replayCmd.Flags().String("out", "./data/replay_snapshot.json", "replay report JSON")
	replayCmd.Flags().String("journal", "", "optional journal JSONL path")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for journal, snapshots and checkpoint")
	replayCmd.Flags().String("checkpoint", "", "checkpoint name, defaults to the pool address")
	replayCmd.Flags().String("checkpoint-file", "./data/replay_checkpoint.json", "checkpoint file used without Postgres")
	replayCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote token amounts for a liquidity position",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("sqrt-price", "", "current sqrt price Q64.96")
	quoteCmd.Flags().Int32("lower", 0, "lower tick")
	quoteCmd.Flags().Int32("upper", 0, "upper tick")
	quoteCmd.Flags().String("liquidity", "", "liquidity amount")
	quoteCmd.Flags().Bool("burn", false, "round down as a burn would")
	quoteCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// sinks bundles the optional journal targets of a command.
type sinks struct {
	journal storage.Storage
	store   *postgres.Store
}

func (s *sinks) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func openSinks(ctx context.Context, journalPath, dsn string) (*sinks, error) {
	var (
		out   sinks
		multi storage.Multi
	)
	if journalPath != "" {
		multi = append(multi, storage.NewJsonlStorage(journalPath))
	}
	if dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		out.store = store
		multi = append(multi, store)
	}
	if len(multi) > 0 {
		out.journal = multi
	}
	return &out, nil
}

// serveMetrics exposes m on addr until ctx is done. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server start", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
