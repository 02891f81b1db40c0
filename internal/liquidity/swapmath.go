package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
)

// NextSqrtPriceFromAmount0RoundingUp returns the price after adding (add=true) or removing
// amount of token0. Rounding up keeps the price move in the pool's favour.
func NextSqrtPriceFromAmount0RoundingUp(sqrtPrice, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return sqrtPrice.Clone(), nil
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, fixedpoint.Resolution)
	product, productOverflow := new(uint256.Int).MulOverflow(amount, sqrtPrice)

	if add {
		if !productOverflow {
			denominator, sumOverflow := new(uint256.Int).AddOverflow(numerator1, product)
			if !sumOverflow {
				return fixedpoint.MulDivRoundingUp(numerator1, sqrtPrice, denominator)
			}
		}
		// numerator1 / (numerator1/sqrtPrice + amount)
		denominator := new(uint256.Int).Div(numerator1, sqrtPrice)
		if _, overflow := denominator.AddOverflow(denominator, amount); overflow {
			return nil, fmt.Errorf("%w: token0 input too large", fixedpoint.ErrArithmeticOverflow)
		}
		return fixedpoint.DivRoundingUp(numerator1, denominator)
	}

	if productOverflow || !numerator1.Gt(product) {
		return nil, fmt.Errorf("%w: token0 output exceeds reserves", fixedpoint.ErrArithmeticOverflow)
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	return fixedpoint.MulDivRoundingUp(numerator1, sqrtPrice, denominator)
}

// NextSqrtPriceFromAmount1RoundingDown returns the price after adding or removing amount of token1.
func NextSqrtPriceFromAmount1RoundingDown(sqrtPrice, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if add {
		quotient, err := fixedpoint.MulDiv(amount, fixedpoint.Q96, liquidity)
		if err != nil {
			return nil, err
		}
		next, overflow := new(uint256.Int).AddOverflow(sqrtPrice, quotient)
		if overflow {
			return nil, fmt.Errorf("%w: token1 input too large", fixedpoint.ErrArithmeticOverflow)
		}
		if err := fixedpoint.CheckUint160("sqrt price", next); err != nil {
			return nil, err
		}
		return next, nil
	}

	quotient, err := fixedpoint.MulDivRoundingUp(amount, fixedpoint.Q96, liquidity)
	if err != nil {
		return nil, err
	}
	if !sqrtPrice.Gt(quotient) {
		return nil, fmt.Errorf("%w: token1 output exceeds reserves", fixedpoint.ErrArithmeticOverflow)
	}
	return new(uint256.Int).Sub(sqrtPrice, quotient), nil
}

// NextSqrtPriceFromInput returns the price after swapping amountIn into the pool.
func NextSqrtPriceFromInput(sqrtPrice, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPrice.IsZero() || liquidity.IsZero() {
		return nil, fmt.Errorf("%w: zero price or liquidity", fixedpoint.ErrOutOfBounds)
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount0RoundingUp(sqrtPrice, liquidity, amountIn, true)
	}
	return NextSqrtPriceFromAmount1RoundingDown(sqrtPrice, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after taking amountOut from the pool.
func NextSqrtPriceFromOutput(sqrtPrice, liquidity, amountOut *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPrice.IsZero() || liquidity.IsZero() {
		return nil, fmt.Errorf("%w: zero price or liquidity", fixedpoint.ErrOutOfBounds)
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount1RoundingDown(sqrtPrice, liquidity, amountOut, false)
	}
	return NextSqrtPriceFromAmount0RoundingUp(sqrtPrice, liquidity, amountOut, false)
}

// SwapStep is the outcome of swapping within one price segment of constant liquidity.
type SwapStep struct {
	SqrtPriceNext *uint256.Int
	AmountIn      *uint256.Int
	AmountOut     *uint256.Int
}

// ComputeSwapStep moves the price from sqrtCurrent toward sqrtTarget using at most
// amountRemaining (input when exactIn, output otherwise). The pool charges no fee, so when
// an exact-input step stops short of the target the whole remainder is taken as input.
func ComputeSwapStep(sqrtCurrent, sqrtTarget, liquidity, amountRemaining *uint256.Int, exactIn bool) (SwapStep, error) {
	zeroForOne := sqrtCurrent.Cmp(sqrtTarget) >= 0

	var (
		next      *uint256.Int
		amountIn  *uint256.Int
		amountOut *uint256.Int
		err       error
	)

	if exactIn {
		if zeroForOne {
			amountIn, err = Amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
		} else {
			amountIn, err = Amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
		}
		if err != nil {
			return SwapStep{}, err
		}
		if amountRemaining.Cmp(amountIn) >= 0 {
			next = sqrtTarget.Clone()
		} else if next, err = NextSqrtPriceFromInput(sqrtCurrent, liquidity, amountRemaining, zeroForOne); err != nil {
			return SwapStep{}, err
		}
	} else {
		if zeroForOne {
			amountOut, err = Amount1Delta(sqrtTarget, sqrtCurrent, liquidity, false)
		} else {
			amountOut, err = Amount0Delta(sqrtCurrent, sqrtTarget, liquidity, false)
		}
		if err != nil {
			return SwapStep{}, err
		}
		if amountRemaining.Cmp(amountOut) >= 0 {
			next = sqrtTarget.Clone()
		} else if next, err = NextSqrtPriceFromOutput(sqrtCurrent, liquidity, amountRemaining, zeroForOne); err != nil {
			return SwapStep{}, err
		}
	}

	reachedTarget := next.Eq(sqrtTarget)

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			if amountIn, err = Amount0Delta(next, sqrtCurrent, liquidity, true); err != nil {
				return SwapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = Amount1Delta(next, sqrtCurrent, liquidity, false); err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		if !(reachedTarget && exactIn) {
			if amountIn, err = Amount1Delta(sqrtCurrent, next, liquidity, true); err != nil {
				return SwapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = Amount0Delta(sqrtCurrent, next, liquidity, false); err != nil {
				return SwapStep{}, err
			}
		}
	}

	// A partial exact-output step moved the price far enough to release the full remainder.
	if !exactIn && (!reachedTarget || amountOut.Gt(amountRemaining)) {
		amountOut = amountRemaining.Clone()
	}
	if exactIn && !reachedTarget {
		amountIn = amountRemaining.Clone()
	}

	return SwapStep{SqrtPriceNext: next, AmountIn: amountIn, AmountOut: amountOut}, nil
}
