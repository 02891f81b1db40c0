package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/custody"
	"github.com/ag-wnl/sol-amm-v3/internal/dex"
	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/pool"
	"github.com/ag-wnl/sol-amm-v3/internal/registry"
	"github.com/ag-wnl/sol-amm-v3/internal/storage"
)

// Replay event statuses reported to metrics.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

var errNotSeeded = errors.New("pool has no Initialize event and no seed price")

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	Pool        common.Address
	Token0      common.Address
	Token1      common.Address
	TickSpacing int32

	// SeedSqrtPriceX96 initializes the pool when the input has no Initialize event.
	SeedSqrtPriceX96 *uint256.Int
	SeedTick         int32
	// SeedBlock is the height the seed is read from when fetched over RPC. Zero reads the
	// block before the first replayed event, or that event's block when it is Initialize.
	SeedBlock uint64

	Checkpoint   string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Report summarizes a replay.
type Report struct {
	Events     int                `json:"events"`
	Applied    int                `json:"applied"`
	Skipped    int                `json:"skipped"`
	Failed     int                `json:"failed"`
	Mismatches int                `json:"mismatches"`
	LastBlock  uint64             `json:"last_block"`
	Pool       model.PoolSnapshot `json:"pool"`
}

// Replayer rebuilds a deployed pool from its event log and reconciles the engine
// against the prices, ticks and liquidity the chain reported.
type Replayer struct {
	cfg         RunConfig
	decoder     dex.Decoder
	caller      dex.ContractCaller
	journal     storage.Storage
	checkpoints Checkpointer
	metrics     *metrics.Metrics
	logger      *zap.Logger

	reg *registry.Registry
	id  common.Hash
}

// Options carries the optional dependencies of a Replayer.
type Options struct {
	// Caller enables seeding and final reconciliation against on-chain state.
	Caller      dex.ContractCaller
	Journal     storage.Storage
	Checkpoints Checkpointer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewReplayer builds a Replayer with its dependencies.
func NewReplayer(cfg RunConfig, decoder dex.Decoder, opts Options) *Replayer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		cfg:         cfg,
		decoder:     decoder,
		caller:      opts.Caller,
		journal:     opts.Journal,
		checkpoints: opts.Checkpoints,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// Run decodes the pool's logs from in and applies them in block order.
func (r *Replayer) Run(ctx context.Context, in io.Reader) (Report, error) {
	if r.decoder == nil {
		return Report{}, fmt.Errorf("decoder is nil")
	}

	events, err := r.readEvents(in)
	if err != nil {
		return Report{}, err
	}
	report := Report{Events: len(events)}
	if len(events) == 0 {
		r.logger.Info("no pool events in input", zap.String("pool", r.cfg.Pool.Hex()))
		return report, nil
	}
	report.LastBlock = events[len(events)-1].BlockNumber

	if r.checkpoints != nil && r.cfg.Checkpoint != "" {
		last, ok, err := r.checkpoints.LoadCheckpoint(ctx, r.cfg.Checkpoint)
		if err != nil {
			return Report{}, fmt.Errorf("load checkpoint: %w", err)
		}
		if ok && last >= report.LastBlock {
			r.logger.Info("nothing to replay", zap.Uint64("checkpoint", last), zap.Uint64("last_block", report.LastBlock))
			return report, nil
		}
	}

	if r.caller != nil {
		if r.cfg.SeedBlock == 0 {
			r.cfg.SeedBlock = seedBlockFor(events[0])
		}
		if err := r.seedFromChain(ctx); err != nil {
			return Report{}, err
		}
	}
	if r.cfg.Token0 == (common.Address{}) || r.cfg.Token1 == (common.Address{}) {
		return Report{}, fmt.Errorf("token0 and token1 are required without an rpc endpoint")
	}

	r.reg = registry.New(registry.Config{
		Custody: custody.Noop{},
		Journal: r.journal,
		Metrics: r.metrics,
		Logger:  r.logger,
		Source:  "replay",
	})
	r.id = registry.PoolID(r.cfg.Token0, r.cfg.Token1)

	r.logger.Info("replay events loaded",
		zap.String("pool", r.cfg.Pool.Hex()),
		zap.Int("events", len(events)),
		zap.Uint64("last_block", report.LastBlock),
	)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		status, mismatches, err := r.apply(ctx, ev)
		r.metrics.RecordReplayEvent(ev.EventName, status)
		report.Mismatches += mismatches
		switch status {
		case StatusApplied:
			report.Applied++
		case StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
			r.logger.Warn("replay event failed",
				zap.Uint64("block", ev.BlockNumber),
				zap.Uint64("log_index", ev.LogIndex),
				zap.String("event", ev.EventName),
				zap.Error(err),
			)
			if errors.Is(err, errNotSeeded) {
				return report, err
			}
		}
	}

	if snap, err := r.reg.Pool(r.id); err == nil {
		report.Pool = snap
	}

	if r.caller != nil {
		mismatches, err := r.reconcileWithChain(ctx, report.LastBlock)
		if err != nil {
			return report, err
		}
		report.Mismatches += mismatches
	}

	if r.checkpoints != nil && r.cfg.Checkpoint != "" {
		if err := r.checkpoints.SaveCheckpoint(ctx, r.cfg.Checkpoint, report.LastBlock); err != nil {
			return report, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	r.logger.Info("replay complete",
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("mismatches", report.Mismatches),
	)
	return report, nil
}

// readEvents decodes every non-removed log of the configured pool and sorts them.
func (r *Replayer) readEvents(in io.Reader) ([]model.ChainEvent, error) {
	var events []model.ChainEvent
	err := storage.ScanJSONL(in, func(lineNo int, line []byte) error {
		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if record.Removed || !record.FromPool(r.cfg.Pool.Hex()) || !r.decoder.CanDecode(record.Topic0()) {
			return nil
		}
		ev, err := r.decoder.Decode(record)
		if err != nil {
			r.metrics.RecordReplayEvent("undecodable", StatusFailed)
			r.logger.Warn("decode failed", zap.Int("line", lineNo), zap.Error(err))
			return nil
		}
		events = append(events, *ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func (r *Replayer) apply(ctx context.Context, ev model.ChainEvent) (string, int, error) {
	ctx = registry.WithSource(ctx, fmt.Sprintf("block:%d:%d", ev.BlockNumber, ev.LogIndex))

	switch data := ev.Decoded.(type) {
	case model.InitializeEventData:
		sqrtPrice, err := uint256.FromDecimal(data.SqrtPriceX96)
		if err != nil {
			return StatusFailed, 0, fmt.Errorf("sqrt price: %w", err)
		}
		if _, err := r.reg.InitializePool(ctx, r.cfg.Token0, r.cfg.Token1, sqrtPrice, data.Tick, r.cfg.TickSpacing); err != nil {
			return StatusFailed, 0, err
		}
		return StatusApplied, 0, nil
	}

	if err := r.ensureInitialized(ctx); err != nil {
		return StatusFailed, 0, err
	}

	switch data := ev.Decoded.(type) {
	case model.MintEventData:
		return r.applyMint(ctx, data)
	case model.BurnEventData:
		return r.applyBurn(ctx, data)
	case model.SwapEventData:
		return r.applySwap(ctx, data)
	default:
		return StatusFailed, 0, fmt.Errorf("unsupported event payload %T", ev.Decoded)
	}
}

// seedBlockFor returns the height whose state precedes first. A pool is created in the
// block of its Initialize event, so that block itself is read.
func seedBlockFor(first model.ChainEvent) uint64 {
	if first.EventName == dex.EventInitialize || first.BlockNumber == 0 {
		return first.BlockNumber
	}
	return first.BlockNumber - 1
}

// ensureInitialized seeds the pool from the configured price on the first event that needs it.
func (r *Replayer) ensureInitialized(ctx context.Context) error {
	if _, err := r.reg.Pool(r.id); err == nil {
		return nil
	}
	if r.cfg.SeedSqrtPriceX96 == nil {
		return errNotSeeded
	}
	_, err := r.reg.InitializePool(ctx, r.cfg.Token0, r.cfg.Token1, r.cfg.SeedSqrtPriceX96, r.cfg.SeedTick, r.cfg.TickSpacing)
	return err
}

func (r *Replayer) applyMint(ctx context.Context, data model.MintEventData) (string, int, error) {
	owner, amount, err := positionArgs(data.Owner, data.Amount)
	if err != nil {
		return StatusFailed, 0, err
	}
	amounts, err := r.reg.Mint(ctx, r.id, owner, data.TickLower, data.TickUpper, amount)
	if err != nil {
		return StatusFailed, 0, err
	}
	return StatusApplied, r.compareAmounts(amounts, data.Amount0, data.Amount1), nil
}

func (r *Replayer) applyBurn(ctx context.Context, data model.BurnEventData) (string, int, error) {
	owner, amount, err := positionArgs(data.Owner, data.Amount)
	if err != nil {
		return StatusFailed, 0, err
	}
	// Zero-amount burns only poke fee accounting.
	if amount.IsZero() {
		return StatusSkipped, 0, nil
	}
	amounts, err := r.reg.Burn(ctx, r.id, owner, data.TickLower, data.TickUpper, amount)
	if err != nil {
		return StatusFailed, 0, err
	}
	return StatusApplied, r.compareAmounts(amounts, data.Amount0, data.Amount1), nil
}

// applySwap moves the engine to the price the chain reported. The direction follows the
// price move. Fees are not modelled, so amounts are not compared; the resulting tick and
// active liquidity are.
func (r *Replayer) applySwap(ctx context.Context, data model.SwapEventData) (string, int, error) {
	target, err := uint256.FromDecimal(data.SqrtPriceX96)
	if err != nil {
		return StatusFailed, 0, fmt.Errorf("sqrt price: %w", err)
	}

	var current *uint256.Int
	if err := r.reg.View(r.id, func(p *pool.Pool) { current = p.SqrtPriceX96() }); err != nil {
		return StatusFailed, 0, err
	}
	if target.Eq(current) {
		return StatusSkipped, 0, nil
	}

	trader := common.HexToAddress(data.Recipient)
	res, err := r.reg.Swap(ctx, r.id, trader, pool.SwapParams{
		ZeroForOne:        target.Lt(current),
		Amount:            fixedpoint.MaxUint128,
		ExactInput:        true,
		SqrtPriceLimitX96: target,
	})
	if err != nil {
		return StatusFailed, 0, err
	}

	var tickOK, liquidityOK bool
	if err := r.reg.View(r.id, func(p *pool.Pool) {
		tickOK, liquidityOK = matchesChain(p, data.Tick, data.Liquidity)
	}); err != nil {
		return StatusFailed, 0, err
	}

	mismatches := 0
	if !tickOK {
		mismatches++
		r.metrics.RecordMismatch("tick")
		r.logger.Debug("tick mismatch", zap.Int32("engine", res.Tick), zap.Int32("chain", data.Tick))
	}
	if !liquidityOK {
		mismatches++
		r.metrics.RecordMismatch("liquidity")
		r.logger.Debug("liquidity mismatch", zap.String("engine", res.Liquidity.Dec()), zap.String("chain", data.Liquidity))
	}
	return StatusApplied, mismatches, nil
}

// matchesChain compares the pool with a chain-reported tick and active liquidity. A chain
// pool that stopped on a boundary while moving down has already crossed it and reports
// tick-1 with that tick's net liquidity removed; the engine crosses on the next swap.
func matchesChain(p *pool.Pool, chainTick int32, chainLiquidity string) (tickOK, liquidityOK bool) {
	tickOK = p.Tick() == chainTick
	liquidityOK = chainLiquidity == "" || p.Liquidity().Dec() == chainLiquidity
	if tickOK && liquidityOK || chainTick != p.Tick()-1 {
		return tickOK, liquidityOK
	}

	boundary, err := fixedpoint.TickToSqrtPrice(p.Tick())
	if err != nil || !boundary.Eq(p.SqrtPriceX96()) {
		return tickOK, liquidityOK
	}
	crossed := p.Liquidity()
	if info, ok := p.TickInfo(p.Tick()); ok {
		if crossed, err = liquidity.AddDelta(crossed, new(big.Int).Neg(info.LiquidityNet)); err != nil {
			return true, false
		}
	}
	return true, chainLiquidity == "" || crossed.Dec() == chainLiquidity
}

func (r *Replayer) compareAmounts(amounts pool.Amounts, amount0, amount1 string) int {
	mismatches := 0
	if amounts.Amount0.Dec() != amount0 {
		mismatches++
		r.metrics.RecordMismatch("amount0")
		r.logger.Debug("amount0 mismatch", zap.String("engine", amounts.Amount0.Dec()), zap.String("chain", amount0))
	}
	if amounts.Amount1.Dec() != amount1 {
		mismatches++
		r.metrics.RecordMismatch("amount1")
		r.logger.Debug("amount1 mismatch", zap.String("engine", amounts.Amount1.Dec()), zap.String("chain", amount1))
	}
	return mismatches
}

// seedFromChain fills unset pool configuration and the seed price from the deployed pool.
func (r *Replayer) seedFromChain(ctx context.Context) error {
	state, err := r.fetchState(ctx, r.cfg.SeedBlock)
	if err != nil {
		return fmt.Errorf("fetch pool state: %w", err)
	}
	if r.cfg.Token0 == (common.Address{}) {
		r.cfg.Token0 = common.HexToAddress(state.Token0)
	}
	if r.cfg.Token1 == (common.Address{}) {
		r.cfg.Token1 = common.HexToAddress(state.Token1)
	}
	if r.cfg.TickSpacing <= 0 {
		r.cfg.TickSpacing = state.TickSpacing
	}
	if r.cfg.SeedSqrtPriceX96 == nil {
		seed, err := uint256.FromDecimal(state.Slot0.SqrtPriceX96)
		if err != nil {
			return fmt.Errorf("slot0 sqrt price: %w", err)
		}
		// slot0 may sit on a boundary with the tick below it; the engine keeps the floor tick.
		if r.cfg.SeedTick, err = fixedpoint.SqrtPriceToTick(seed); err != nil {
			return fmt.Errorf("slot0 sqrt price: %w", err)
		}
		r.cfg.SeedSqrtPriceX96 = seed
	}
	r.logger.Info("pool state fetched",
		zap.String("token0", state.Token0),
		zap.String("token1", state.Token1),
		zap.Int32("tick_spacing", state.TickSpacing),
		zap.Int32("tick", state.Slot0.Tick),
	)
	return nil
}

// reconcileWithChain compares the final engine state with slot0 and liquidity at block.
func (r *Replayer) reconcileWithChain(ctx context.Context, block uint64) (int, error) {
	state, err := r.fetchState(ctx, block)
	if err != nil {
		return 0, fmt.Errorf("fetch final pool state: %w", err)
	}

	mismatches := 0
	err = r.reg.View(r.id, func(p *pool.Pool) {
		if p.SqrtPriceX96().Dec() != state.Slot0.SqrtPriceX96 {
			mismatches++
			r.metrics.RecordMismatch("final_sqrt_price")
		}
		tickOK, liquidityOK := matchesChain(p, state.Slot0.Tick, state.Liquidity)
		if !tickOK {
			mismatches++
			r.metrics.RecordMismatch("final_tick")
		}
		if !liquidityOK {
			mismatches++
			r.metrics.RecordMismatch("final_liquidity")
		}
	})
	if err != nil {
		return 0, err
	}
	return mismatches, nil
}

func (r *Replayer) fetchState(ctx context.Context, block uint64) (dex.PoolState, error) {
	var state dex.PoolState
	err := withRetry(ctx, fmt.Sprintf("pool state at block %d", block), r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		started := time.Now()
		var err error
		state, err = dex.FetchPoolState(ctx, r.caller, r.cfg.Pool, block, r.logger)
		r.metrics.RecordRPCLatency("pool_state", started)
		if err != nil {
			r.logger.Warn("pool state fetch failed", zap.Error(err), zap.Uint64("block", block))
		}
		return err
	})
	return state, err
}

func positionArgs(ownerHex, amountDec string) (common.Address, *uint256.Int, error) {
	if !common.IsHexAddress(ownerHex) {
		return common.Address{}, nil, fmt.Errorf("invalid owner %q", ownerHex)
	}
	amount, err := uint256.FromDecimal(amountDec)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid liquidity %q: %w", amountDec, err)
	}
	return common.HexToAddress(ownerHex), amount, nil
}
