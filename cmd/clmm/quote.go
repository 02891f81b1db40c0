package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/config"
	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
)

type quoteOutput struct {
	Tick      int32  `json:"tick"`
	Price     string `json:"price"`
	Lower     int32  `json:"tick_lower"`
	Upper     int32  `json:"tick_upper"`
	Liquidity string `json:"liquidity"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	RoundedUp bool   `json:"rounded_up"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sqrtPrice, err := uint256.FromDecimal(cfg.SqrtPrice)
	if err != nil {
		return fmt.Errorf("invalid sqrt-price %q: %w", cfg.SqrtPrice, err)
	}
	amount, err := uint256.FromDecimal(cfg.Liquidity)
	if err != nil {
		return fmt.Errorf("invalid liquidity %q: %w", cfg.Liquidity, err)
	}
	tick, err := fixedpoint.SqrtPriceToTick(sqrtPrice)
	if err != nil {
		return err
	}

	roundUp := !cfg.Burn
	amount0, amount1, err := liquidity.AmountsForLiquidity(sqrtPrice, tick, cfg.Lower, cfg.Upper, amount, roundUp)
	if err != nil {
		return err
	}

	logger.Debug("quote",
		zap.Int32("tick", tick),
		zap.Int32("lower", cfg.Lower),
		zap.Int32("upper", cfg.Upper),
		zap.String("liquidity", amount.Dec()),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(quoteOutput{
		Tick:      tick,
		Price:     fixedpoint.Price(sqrtPrice).String(),
		Lower:     cfg.Lower,
		Upper:     cfg.Upper,
		Liquidity: amount.Dec(),
		Amount0:   amount0.Dec(),
		Amount1:   amount1.Dec(),
		RoundedUp: roundUp,
	})
}
