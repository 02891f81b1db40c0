package liquidity

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
)

var (
	// ErrInvalidRange is returned when lower >= upper or a bound is outside the tick range.
	ErrInvalidRange = errors.New("invalid tick range")
	// ErrZeroLiquidity is returned for a zero liquidity amount.
	ErrZeroLiquidity = errors.New("zero liquidity")
)

// Amount0Delta returns L * (sqrtB - sqrtA) / (sqrtA * sqrtB), the token0 needed to move
// between the two prices. The prices may be given in either order.
func Amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.IsZero() {
		return nil, fmt.Errorf("%w: zero sqrt price", fixedpoint.ErrOutOfBounds)
	}

	numerator1 := new(uint256.Int).Lsh(liquidity, fixedpoint.Resolution)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		scaled, err := fixedpoint.MulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return fixedpoint.DivRoundingUp(scaled, sqrtA)
	}

	scaled, err := fixedpoint.MulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return scaled.Div(scaled, sqrtA), nil
}

// Amount1Delta returns L * (sqrtB - sqrtA), the token1 needed to move between the two prices.
func Amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return fixedpoint.MulDivRoundingUp(liquidity, diff, fixedpoint.Q96)
	}
	return fixedpoint.MulDiv(liquidity, diff, fixedpoint.Q96)
}

// AmountsForLiquidity returns the token amounts backing liquidity over [lower, upper) at
// the current price. Mint rounds up so the pool is never under-collateralized; burn rounds
// down.
func AmountsForLiquidity(
	sqrtCurrent *uint256.Int,
	tickCurrent int32,
	lower int32,
	upper int32,
	liquidity *uint256.Int,
	roundUp bool,
) (*uint256.Int, *uint256.Int, error) {
	if err := ValidateRange(lower, upper); err != nil {
		return nil, nil, err
	}
	if liquidity == nil || liquidity.IsZero() {
		return nil, nil, ErrZeroLiquidity
	}
	if err := fixedpoint.CheckUint128("liquidity", liquidity); err != nil {
		return nil, nil, err
	}

	sqrtLower, err := fixedpoint.TickToSqrtPrice(lower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := fixedpoint.TickToSqrtPrice(upper)
	if err != nil {
		return nil, nil, err
	}

	amount0, amount1 := new(uint256.Int), new(uint256.Int)
	switch {
	case tickCurrent < lower:
		amount0, err = Amount0Delta(sqrtLower, sqrtUpper, liquidity, roundUp)
	case tickCurrent < upper:
		amount0, err = Amount0Delta(sqrtCurrent, sqrtUpper, liquidity, roundUp)
		if err == nil {
			amount1, err = Amount1Delta(sqrtLower, sqrtCurrent, liquidity, roundUp)
		}
	default:
		amount1, err = Amount1Delta(sqrtLower, sqrtUpper, liquidity, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := fixedpoint.CheckUint128("amount0", amount0); err != nil {
		return nil, nil, err
	}
	if err := fixedpoint.CheckUint128("amount1", amount1); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// ValidateRange checks lower < upper with both bounds inside [MinTick, MaxTick].
func ValidateRange(lower, upper int32) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidRange, lower, upper)
	}
	if lower < fixedpoint.MinTick || upper > fixedpoint.MaxTick {
		return fmt.Errorf("%w: [%d, %d] outside [%d, %d]", ErrInvalidRange, lower, upper, fixedpoint.MinTick, fixedpoint.MaxTick)
	}
	return nil
}

// AddDelta applies a signed liquidity delta to an unsigned 128-bit liquidity value.
func AddDelta(x *uint256.Int, delta *big.Int) (*uint256.Int, error) {
	abs, overflow := uint256.FromBig(new(big.Int).Abs(delta))
	if overflow {
		return nil, fmt.Errorf("%w: liquidity delta %s", fixedpoint.ErrArithmeticOverflow, delta)
	}

	if delta.Sign() < 0 {
		if abs.Gt(x) {
			return nil, fmt.Errorf("%w: liquidity %s minus %s underflows", fixedpoint.ErrArithmeticOverflow, x.Dec(), abs.Dec())
		}
		return new(uint256.Int).Sub(x, abs), nil
	}

	sum := new(uint256.Int).Add(x, abs)
	if err := fixedpoint.CheckUint128("liquidity", sum); err != nil {
		return nil, err
	}
	return sum, nil
}
