package pool

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/position"
	"github.com/ag-wnl/sol-amm-v3/internal/tick"
)

var (
	ErrIdenticalTokens               = errors.New("identical tokens")
	ErrTokensNotSorted               = errors.New("tokens not sorted")
	ErrAlreadyInitialized            = errors.New("pool already initialized")
	ErrNotInitialized                = errors.New("pool not initialized")
	ErrTickOutOfRange                = errors.New("tick out of range")
	ErrInsufficientPositionLiquidity = errors.New("insufficient position liquidity")
	ErrPriceLimitReached             = errors.New("price limit reached")
	ErrZeroAmount                    = errors.New("zero swap amount")

	ErrInvalidRange       = liquidity.ErrInvalidRange
	ErrZeroLiquidity      = liquidity.ErrZeroLiquidity
	ErrArithmeticOverflow = fixedpoint.ErrArithmeticOverflow
	ErrOutOfBounds        = fixedpoint.ErrOutOfBounds
)

// DefaultTickSpacing is used when a pool is created with a non-positive spacing.
const DefaultTickSpacing int32 = 1

// ID derives the pool identity from the ordered token pair.
func ID(token0, token1 common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte("pool"), token0.Bytes(), token1.Bytes())
}

// SortTokens returns the pair in canonical order.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// Pool is the state of one concentrated-liquidity pool. It is not safe for concurrent use;
// callers serialize access per pool.
type Pool struct {
	id      common.Hash
	token0  common.Address
	token1  common.Address
	spacing int32

	maxLiquidityPerTick *uint256.Int

	initialized  bool
	sqrtPriceX96 *uint256.Int
	tick         int32
	liquidity    *uint256.Int

	ticks     *tick.Table
	bitmap    *tick.Bitmap
	positions *position.Ledger
}

// New creates an uninitialized pool. token0 must sort strictly before token1.
func New(token0, token1 common.Address, spacing int32) (*Pool, error) {
	switch c := bytes.Compare(token0.Bytes(), token1.Bytes()); {
	case c == 0:
		return nil, fmt.Errorf("%w: %s", ErrIdenticalTokens, token0.Hex())
	case c > 0:
		return nil, fmt.Errorf("%w: %s > %s", ErrTokensNotSorted, token0.Hex(), token1.Hex())
	}
	if spacing <= 0 {
		spacing = DefaultTickSpacing
	}
	if spacing > fixedpoint.MaxTick {
		return nil, fmt.Errorf("%w: tick spacing %d", ErrInvalidRange, spacing)
	}

	return &Pool{
		id:                  ID(token0, token1),
		token0:              token0,
		token1:              token1,
		spacing:             spacing,
		maxLiquidityPerTick: tick.MaxLiquidityPerTick(spacing),
		sqrtPriceX96:        new(uint256.Int),
		liquidity:           new(uint256.Int),
		ticks:               tick.NewTable(),
		bitmap:              tick.NewBitmap(spacing),
		positions:           position.NewLedger(),
	}, nil
}

func (p *Pool) ID() common.Hash            { return p.id }
func (p *Pool) Token0() common.Address     { return p.token0 }
func (p *Pool) Token1() common.Address     { return p.token1 }
func (p *Pool) TickSpacing() int32         { return p.spacing }
func (p *Pool) Initialized() bool          { return p.initialized }
func (p *Pool) SqrtPriceX96() *uint256.Int { return p.sqrtPriceX96.Clone() }
func (p *Pool) Tick() int32                { return p.tick }
func (p *Pool) Liquidity() *uint256.Int    { return p.liquidity.Clone() }

// Initialize sets the starting price and tick. The tick must be the floor tick of
// sqrtPriceX96.
func (p *Pool) Initialize(sqrtPriceX96 *uint256.Int, tick int32) error {
	if p.initialized {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, p.id.Hex())
	}
	if tick < fixedpoint.MinTick || tick > fixedpoint.MaxTick {
		return fmt.Errorf("%w: tick %d", ErrTickOutOfRange, tick)
	}
	if sqrtPriceX96 == nil {
		return fmt.Errorf("%w: missing sqrt price", ErrTickOutOfRange)
	}
	derived, err := fixedpoint.SqrtPriceToTick(sqrtPriceX96)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTickOutOfRange, err)
	}
	if derived != tick {
		return fmt.Errorf("%w: tick %d inconsistent with sqrt price (tick %d)", ErrTickOutOfRange, tick, derived)
	}

	p.sqrtPriceX96 = sqrtPriceX96.Clone()
	p.tick = tick
	p.liquidity = new(uint256.Int)
	p.initialized = true
	return nil
}

// Clone returns a deep copy that can be mutated independently.
func (p *Pool) Clone() *Pool {
	return &Pool{
		id:                  p.id,
		token0:              p.token0,
		token1:              p.token1,
		spacing:             p.spacing,
		maxLiquidityPerTick: p.maxLiquidityPerTick.Clone(),
		initialized:         p.initialized,
		sqrtPriceX96:        p.sqrtPriceX96.Clone(),
		tick:                p.tick,
		liquidity:           p.liquidity.Clone(),
		ticks:               p.ticks.Clone(),
		bitmap:              p.bitmap.Clone(),
		positions:           p.positions.Clone(),
	}
}

// TickInfo returns the bookkeeping of tick; ok is false when it is not initialized.
func (p *Pool) TickInfo(i int32) (tick.Info, bool) {
	return p.ticks.Get(i)
}

// Position returns the liquidity owned by owner over [lower, upper).
func (p *Pool) Position(owner common.Address, lower, upper int32) (position.Info, bool) {
	return p.positions.Get(p.positionKey(owner, lower, upper))
}

func (p *Pool) Positions() []position.Entry {
	return p.positions.All()
}

func (p *Pool) positionKey(owner common.Address, lower, upper int32) position.Key {
	return position.Key{Pool: p.id, Owner: owner, Lower: lower, Upper: upper}
}

// Snapshot serializes the pool with its initialized ticks and positions.
func (p *Pool) Snapshot() model.PoolSnapshot {
	snap := model.PoolSnapshot{
		ID:           p.id.Hex(),
		Token0:       p.token0.Hex(),
		Token1:       p.token1.Hex(),
		TickSpacing:  p.spacing,
		Initialized:  p.initialized,
		SqrtPriceX96: p.sqrtPriceX96.Dec(),
		Tick:         p.tick,
		Liquidity:    p.liquidity.Dec(),
		Price:        fixedpoint.Price(p.sqrtPriceX96).String(),
		Ticks:        make([]model.TickRecord, 0, p.ticks.Len()),
		Positions:    make([]model.PositionRecord, 0, p.positions.Len()),
	}
	for _, i := range p.ticks.Ticks() {
		info, _ := p.ticks.Get(i)
		snap.Ticks = append(snap.Ticks, model.TickRecord{
			Tick:           i,
			LiquidityGross: info.LiquidityGross.Dec(),
			LiquidityNet:   info.LiquidityNet.String(),
		})
	}
	for _, entry := range p.positions.All() {
		snap.Positions = append(snap.Positions, model.PositionRecord{
			Pool:      entry.Key.Pool.Hex(),
			Owner:     entry.Key.Owner.Hex(),
			TickLower: entry.Key.Lower,
			TickUpper: entry.Key.Upper,
			Liquidity: entry.Info.Liquidity.Dec(),
		})
	}
	return snap
}

func (p *Pool) requireInitialized() error {
	if !p.initialized {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.id.Hex())
	}
	return nil
}

func (p *Pool) validatePositionRange(lower, upper int32) error {
	if err := liquidity.ValidateRange(lower, upper); err != nil {
		return err
	}
	if lower%p.spacing != 0 || upper%p.spacing != 0 {
		return fmt.Errorf("%w: [%d, %d] not aligned to spacing %d", ErrInvalidRange, lower, upper, p.spacing)
	}
	return nil
}

// inRange reports whether the current tick lies in [lower, upper).
func (p *Pool) inRange(lower, upper int32) bool {
	return lower <= p.tick && p.tick < upper
}
