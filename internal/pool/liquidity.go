package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
)

// Amounts are the token quantities a mint or burn moves between owner and pool.
type Amounts struct {
	Amount0 *uint256.Int
	Amount1 *uint256.Int
}

// Mint adds liquidity to owner's position over [lower, upper) and returns the token
// amounts owed to the pool, rounded up.
func (p *Pool) Mint(owner common.Address, lower, upper int32, amount *uint256.Int) (Amounts, error) {
	if err := p.requireInitialized(); err != nil {
		return Amounts{}, err
	}
	if err := p.validatePositionRange(lower, upper); err != nil {
		return Amounts{}, err
	}
	if amount == nil || amount.IsZero() {
		return Amounts{}, ErrZeroLiquidity
	}
	if err := fixedpoint.CheckUint128("liquidity", amount); err != nil {
		return Amounts{}, err
	}
	return p.modifyPosition(owner, lower, upper, amount.ToBig(), true)
}

// Burn removes liquidity from owner's position and returns the token amounts released
// by the pool, rounded down.
func (p *Pool) Burn(owner common.Address, lower, upper int32, amount *uint256.Int) (Amounts, error) {
	if err := p.requireInitialized(); err != nil {
		return Amounts{}, err
	}
	if err := p.validatePositionRange(lower, upper); err != nil {
		return Amounts{}, err
	}
	if amount == nil || amount.IsZero() {
		return Amounts{}, ErrZeroLiquidity
	}
	current, _ := p.Position(owner, lower, upper)
	if amount.Gt(current.Liquidity) {
		return Amounts{}, fmt.Errorf("%w: burn %s from position holding %s",
			ErrInsufficientPositionLiquidity, amount.Dec(), current.Liquidity.Dec())
	}
	return p.modifyPosition(owner, lower, upper, new(big.Int).Neg(amount.ToBig()), false)
}

// modifyPosition stages every change before applying any, so a failure leaves the pool untouched.
func (p *Pool) modifyPosition(owner common.Address, lower, upper int32, delta *big.Int, roundUp bool) (Amounts, error) {
	lowerInfo, lowerFlipped, err := p.ticks.Preview(lower, delta, false, p.maxLiquidityPerTick)
	if err != nil {
		return Amounts{}, err
	}
	upperInfo, upperFlipped, err := p.ticks.Preview(upper, delta, true, p.maxLiquidityPerTick)
	if err != nil {
		return Amounts{}, err
	}

	key := p.positionKey(owner, lower, upper)
	posInfo, err := p.positions.Preview(key, delta)
	if err != nil {
		return Amounts{}, err
	}

	active := p.liquidity
	if p.inRange(lower, upper) {
		if active, err = liquidity.AddDelta(p.liquidity, delta); err != nil {
			return Amounts{}, fmt.Errorf("pool liquidity: %w", err)
		}
	}

	abs, _ := uint256.FromBig(new(big.Int).Abs(delta))
	amount0, amount1, err := liquidity.AmountsForLiquidity(p.sqrtPriceX96, p.tick, lower, upper, abs, roundUp)
	if err != nil {
		return Amounts{}, err
	}

	if err := p.flipIfNeeded(lower, lowerFlipped, upper, upperFlipped); err != nil {
		return Amounts{}, err
	}
	p.ticks.Set(lower, lowerInfo)
	p.ticks.Set(upper, upperInfo)
	p.positions.Set(key, posInfo)
	p.liquidity = active

	return Amounts{Amount0: amount0, Amount1: amount1}, nil
}

func (p *Pool) flipIfNeeded(lower int32, lowerFlipped bool, upper int32, upperFlipped bool) error {
	staged := p.bitmap
	if lowerFlipped || upperFlipped {
		staged = p.bitmap.Clone()
	}
	for _, f := range []struct {
		tick    int32
		flipped bool
	}{{lower, lowerFlipped}, {upper, upperFlipped}} {
		if !f.flipped {
			continue
		}
		if err := staged.Flip(f.tick); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
	}
	p.bitmap = staged
	return nil
}
