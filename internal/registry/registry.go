// Package registry owns the set of pools and applies operations atomically with settlement.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/custody"
	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/pool"
	"github.com/ag-wnl/sol-amm-v3/internal/storage"
)

var ErrPoolNotFound = errors.New("pool not found")

// Config wires the collaborators of a Registry. Nil fields fall back to no-op implementations.
type Config struct {
	Custody custody.Custodian
	Journal storage.Storage
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Source tags journal entries, e.g. "simulate" or a block reference set per call.
	Source string
	// Now is the clock used for journal timestamps.
	Now func() time.Time
}

type entry struct {
	mu   sync.Mutex
	pool *pool.Pool
	seq  uint64
}

// Registry serializes operations per pool; different pools proceed independently.
type Registry struct {
	mu    sync.RWMutex
	pools map[common.Hash]*entry

	custody custody.Custodian
	journal storage.Storage
	metrics *metrics.Metrics
	logger  *zap.Logger
	source  string
	now     func() time.Time
}

func New(cfg Config) *Registry {
	r := &Registry{
		pools:   make(map[common.Hash]*entry),
		custody: cfg.Custody,
		journal: cfg.Journal,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		source:  cfg.Source,
		now:     cfg.Now,
	}
	if r.custody == nil {
		r.custody = custody.Noop{}
	}
	if r.journal == nil {
		r.journal = storage.Discard{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// PoolID returns the identity of the pool for the ordered pair.
func PoolID(token0, token1 common.Address) common.Hash {
	return pool.ID(token0, token1)
}

// VaultAddress is the custody account holding a pool's reserves.
func VaultAddress(id common.Hash) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("vault"), id.Bytes()))
}

// InitializePool creates and initializes the pool for (token0, token1).
func (r *Registry) InitializePool(ctx context.Context, token0, token1 common.Address, sqrtPriceX96 *uint256.Int, tick int32, spacing int32) (common.Hash, error) {
	started := time.Now()
	id, err := r.initializePool(ctx, token0, token1, sqrtPriceX96, tick, spacing)
	r.metrics.RecordOperation(model.KindInitialize, started, err)
	return id, err
}

func (r *Registry) initializePool(ctx context.Context, token0, token1 common.Address, sqrtPriceX96 *uint256.Int, tick int32, spacing int32) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	p, err := pool.New(token0, token1, spacing)
	if err != nil {
		return common.Hash{}, err
	}
	if err := p.Initialize(sqrtPriceX96, tick); err != nil {
		return common.Hash{}, err
	}

	r.mu.Lock()
	if _, exists := r.pools[p.ID()]; exists {
		r.mu.Unlock()
		return common.Hash{}, fmt.Errorf("%w: %s", pool.ErrAlreadyInitialized, p.ID().Hex())
	}
	e := &entry{pool: p}
	r.pools[p.ID()] = e
	e.mu.Lock()
	r.mu.Unlock()
	defer e.mu.Unlock()

	r.record(ctx, e, model.PoolEvent{Kind: model.KindInitialize, Amount0: "0", Amount1: "0"})
	r.logger.Info("pool initialized",
		zap.String("pool", p.ID().Hex()),
		zap.String("token0", token0.Hex()),
		zap.String("token1", token1.Hex()),
		zap.String("sqrt_price_x96", sqrtPriceX96.Dec()),
		zap.Int32("tick", p.Tick()),
		zap.Int32("tick_spacing", p.TickSpacing()),
	)
	return p.ID(), nil
}

// Mint adds liquidity for owner, who pays the returned amounts into the pool vault.
func (r *Registry) Mint(ctx context.Context, id common.Hash, owner common.Address, lower, upper int32, liquidity *uint256.Int) (pool.Amounts, error) {
	started := time.Now()
	var amounts pool.Amounts
	err := r.apply(ctx, id, func(p *pool.Pool) ([]custody.Transfer, model.PoolEvent, error) {
		var err error
		amounts, err = p.Mint(owner, lower, upper, liquidity)
		if err != nil {
			return nil, model.PoolEvent{}, err
		}
		vault := VaultAddress(id)
		transfers := []custody.Transfer{
			{Token: p.Token0(), From: owner, To: vault, Amount: amounts.Amount0},
			{Token: p.Token1(), From: owner, To: vault, Amount: amounts.Amount1},
		}
		return transfers, positionEvent(model.KindMint, owner, lower, upper, liquidity, amounts), nil
	})
	r.metrics.RecordOperation(model.KindMint, started, err)
	if err != nil {
		return pool.Amounts{}, err
	}
	return amounts, nil
}

// Burn removes liquidity for owner, who receives the returned amounts from the pool vault.
func (r *Registry) Burn(ctx context.Context, id common.Hash, owner common.Address, lower, upper int32, liquidity *uint256.Int) (pool.Amounts, error) {
	started := time.Now()
	var amounts pool.Amounts
	err := r.apply(ctx, id, func(p *pool.Pool) ([]custody.Transfer, model.PoolEvent, error) {
		var err error
		amounts, err = p.Burn(owner, lower, upper, liquidity)
		if err != nil {
			return nil, model.PoolEvent{}, err
		}
		vault := VaultAddress(id)
		transfers := []custody.Transfer{
			{Token: p.Token0(), From: vault, To: owner, Amount: amounts.Amount0},
			{Token: p.Token1(), From: vault, To: owner, Amount: amounts.Amount1},
		}
		return transfers, positionEvent(model.KindBurn, owner, lower, upper, liquidity, amounts), nil
	})
	r.metrics.RecordOperation(model.KindBurn, started, err)
	if err != nil {
		return pool.Amounts{}, err
	}
	return amounts, nil
}

// Swap trades for trader: the input token is paid into the vault and the output paid back.
func (r *Registry) Swap(ctx context.Context, id common.Hash, trader common.Address, params pool.SwapParams) (pool.SwapResult, error) {
	started := time.Now()
	var res pool.SwapResult
	err := r.apply(ctx, id, func(p *pool.Pool) ([]custody.Transfer, model.PoolEvent, error) {
		var err error
		res, err = p.Swap(params)
		if err != nil {
			return nil, model.PoolEvent{}, err
		}
		tokenIn, tokenOut := p.Token0(), p.Token1()
		if !params.ZeroForOne {
			tokenIn, tokenOut = tokenOut, tokenIn
		}
		vault := VaultAddress(id)
		transfers := []custody.Transfer{
			{Token: tokenIn, From: trader, To: vault, Amount: res.AmountIn},
			{Token: tokenOut, From: vault, To: trader, Amount: res.AmountOut},
		}
		amount0, amount1 := res.TokenAmounts()
		ev := model.PoolEvent{
			Kind:         model.KindSwap,
			Owner:        trader.Hex(),
			Amount0:      amount0.Dec(),
			Amount1:      amount1.Dec(),
			ZeroForOne:   params.ZeroForOne,
			ExactInput:   params.ExactInput,
			TicksCrossed: res.TicksCrossed,
		}
		return transfers, ev, nil
	})
	r.metrics.RecordOperation(model.KindSwap, started, err)
	if err != nil {
		return pool.SwapResult{}, err
	}
	r.metrics.AddTicksCrossed(res.TicksCrossed)
	return res, nil
}

type operation func(p *pool.Pool) ([]custody.Transfer, model.PoolEvent, error)

// apply runs op on a copy of the pool and commits it only after settlement succeeds.
func (r *Registry) apply(ctx context.Context, id common.Hash, op operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	staged := e.pool.Clone()
	transfers, ev, err := op(staged)
	if err != nil {
		return err
	}
	if err := r.custody.Settle(ctx, transfers); err != nil {
		r.metrics.RecordSettlementFailure()
		r.logger.Warn("settlement failed, operation rolled back",
			zap.String("pool", id.Hex()),
			zap.String("op", ev.Kind),
			zap.Error(err),
		)
		return fmt.Errorf("settle %s: %w", ev.Kind, err)
	}

	e.pool = staged
	r.record(ctx, e, ev)
	return nil
}

// record journals a committed operation. The operation stays committed if the write fails.
func (r *Registry) record(ctx context.Context, e *entry, ev model.PoolEvent) {
	e.seq++
	p := e.pool
	ev.Seq = e.seq
	ev.Pool = p.ID().Hex()
	ev.SqrtPriceX96 = p.SqrtPriceX96().Dec()
	ev.Tick = p.Tick()
	ev.PoolLiquidity = p.Liquidity().Dec()
	ev.CommittedAt = r.now().UTC()
	if ev.Source == "" {
		ev.Source = sourceFrom(ctx, r.source)
	}

	liq := p.Liquidity().Float64()
	r.metrics.UpdatePool(ev.Pool, liq, p.Tick())

	if err := r.journal.PutEventBatch(ctx, []model.PoolEvent{ev}); err != nil {
		r.metrics.RecordJournalError()
		r.logger.Error("journal write failed",
			zap.String("pool", ev.Pool),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err),
		)
	}
	r.logger.Debug("operation committed",
		zap.String("pool", ev.Pool),
		zap.String("op", ev.Kind),
		zap.Uint64("seq", ev.Seq),
		zap.String("amount0", ev.Amount0),
		zap.String("amount1", ev.Amount1),
		zap.Int32("tick", ev.Tick),
	)
}

func (r *Registry) entry(id common.Hash) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id.Hex())
	}
	return e, nil
}

// Pool returns a snapshot of the pool state.
func (r *Registry) Pool(id common.Hash) (model.PoolSnapshot, error) {
	e, err := r.entry(id)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Snapshot(), nil
}

// View runs fn with exclusive access to the live pool. fn must not retain or mutate p.
func (r *Registry) View(id common.Hash, fn func(p *pool.Pool)) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.pool)
	return nil
}

// Positions returns the positions of a pool.
func (r *Registry) Positions(id common.Hash) ([]model.PositionRecord, error) {
	snap, err := r.Pool(id)
	if err != nil {
		return nil, err
	}
	return snap.Positions, nil
}

// Snapshots returns every pool ordered by identity.
func (r *Registry) Snapshots() []model.PoolSnapshot {
	r.mu.RLock()
	ids := make([]common.Hash, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	out := make([]model.PoolSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := r.Pool(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

func positionEvent(kind string, owner common.Address, lower, upper int32, liquidity *uint256.Int, amounts pool.Amounts) model.PoolEvent {
	return model.PoolEvent{
		Kind:      kind,
		Owner:     owner.Hex(),
		TickLower: lower,
		TickUpper: upper,
		Liquidity: liquidity.Dec(),
		Amount0:   amounts.Amount0.Dec(),
		Amount1:   amounts.Amount1.Dec(),
	}
}

type sourceKey struct{}

// WithSource tags journal entries written under ctx, e.g. with a block and log index.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context, fallback string) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return fallback
}
