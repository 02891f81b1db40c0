package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/custody"
	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/pool"
	"github.com/ag-wnl/sol-amm-v3/internal/registry"
	"github.com/ag-wnl/sol-amm-v3/internal/storage"
)

// RunConfig holds runtime settings for a script run.
type RunConfig struct {
	FailFast bool
}

// Summary counts the outcome of a script run.
type Summary struct {
	Lines   int `json:"lines"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// Runner applies simulation scripts to a registry backed by an in-memory vault.
type Runner struct {
	cfg    RunConfig
	reg    *registry.Registry
	vault  *custody.Vault
	logger *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, reg *registry.Registry, vault *custody.Vault, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, reg: reg, vault: vault, logger: logger}
}

// Run reads one ScriptOp per line and applies them in order. Failed operations are
// logged and counted; with FailFast the first failure aborts the run.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Summary, error) {
	var summary Summary
	err := storage.ScanJSONL(in, func(lineNo int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Lines++

		var op model.ScriptOp
		err := json.Unmarshal(line, &op)
		if err == nil {
			err = r.Apply(registry.WithSource(ctx, fmt.Sprintf("script:%d", lineNo)), op)
		}
		if err != nil {
			summary.Failed++
			r.logger.Warn("script op failed", zap.Int("line", lineNo), zap.String("op", op.Op), zap.Error(err))
			if r.cfg.FailFast {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			return nil
		}
		summary.Applied++
		return nil
	})
	return summary, err
}

// Apply executes a single script operation.
func (r *Runner) Apply(ctx context.Context, op model.ScriptOp) error {
	switch op.Op {
	case model.OpFund:
		return r.fund(op)
	case model.OpInitialize:
		return r.initialize(ctx, op)
	case model.OpMint, model.OpBurn:
		return r.modify(ctx, op)
	case model.OpSwap:
		return r.swap(ctx, op)
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

func (r *Runner) fund(op model.ScriptOp) error {
	account, err := parseAddress("account", op.Account)
	if err != nil {
		return err
	}
	token, err := parseAddress("token", op.Token)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", op.Amount)
	if err != nil {
		return err
	}
	if err := r.vault.Credit(account, token, amount); err != nil {
		return err
	}
	r.logger.Debug("account funded", zap.String("account", account.Hex()), zap.String("token", token.Hex()), zap.String("amount", amount.Dec()))
	return nil
}

func (r *Runner) initialize(ctx context.Context, op model.ScriptOp) error {
	token0, err := parseAddress("token0", op.Token0)
	if err != nil {
		return err
	}
	token1, err := parseAddress("token1", op.Token1)
	if err != nil {
		return err
	}
	sqrtPrice, err := parseAmount("sqrt_price_x96", op.SqrtPriceX96)
	if err != nil {
		return err
	}

	var tick int32
	if op.Tick != nil {
		tick = *op.Tick
	} else if tick, err = fixedpoint.SqrtPriceToTick(sqrtPrice); err != nil {
		return err
	}

	_, err = r.reg.InitializePool(ctx, token0, token1, sqrtPrice, tick, op.TickSpacing)
	return err
}

func (r *Runner) modify(ctx context.Context, op model.ScriptOp) error {
	id, err := poolFor(op)
	if err != nil {
		return err
	}
	owner, err := parseAddress("owner", op.Owner)
	if err != nil {
		return err
	}
	liquidity, err := parseAmount("liquidity", op.Liquidity)
	if err != nil {
		return err
	}

	if op.Op == model.OpMint {
		_, err = r.reg.Mint(ctx, id, owner, op.TickLower, op.TickUpper, liquidity)
	} else {
		_, err = r.reg.Burn(ctx, id, owner, op.TickLower, op.TickUpper, liquidity)
	}
	return err
}

func (r *Runner) swap(ctx context.Context, op model.ScriptOp) error {
	id, err := poolFor(op)
	if err != nil {
		return err
	}
	trader, err := parseAddress("account", op.Account)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", op.Amount)
	if err != nil {
		return err
	}

	params := pool.SwapParams{
		ZeroForOne: op.ZeroForOne,
		Amount:     amount,
		ExactInput: !op.ExactOutput,
	}
	if op.SqrtPriceLimitX96 != "" {
		if params.SqrtPriceLimitX96, err = parseAmount("sqrt_price_limit_x96", op.SqrtPriceLimitX96); err != nil {
			return err
		}
	}

	_, err = r.reg.Swap(ctx, id, trader, params)
	return err
}

// poolFor resolves the pool of an op; token order in the script does not matter.
func poolFor(op model.ScriptOp) (common.Hash, error) {
	a, err := parseAddress("token0", op.Token0)
	if err != nil {
		return common.Hash{}, err
	}
	b, err := parseAddress("token1", op.Token1)
	if err != nil {
		return common.Hash{}, err
	}
	token0, token1 := pool.SortTokens(a, b)
	return registry.PoolID(token0, token1), nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return v, nil
}
