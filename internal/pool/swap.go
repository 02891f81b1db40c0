package pool

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
)

// SwapParams describes a swap request.
type SwapParams struct {
	// ZeroForOne swaps token0 in for token1 out, moving the price down.
	ZeroForOne bool
	// Amount is the exact input when ExactInput is set, otherwise the exact output.
	Amount     *uint256.Int
	ExactInput bool

	// SqrtPriceLimitX96 stops the swap at this price with a partial fill. Nil means the
	// swap must complete before the end of the price range.
	SqrtPriceLimitX96 *uint256.Int
}

// SwapResult is the outcome of a committed swap.
type SwapResult struct {
	ZeroForOne   bool
	AmountIn     *uint256.Int
	AmountOut    *uint256.Int
	SqrtPriceX96 *uint256.Int
	Tick         int32
	Liquidity    *uint256.Int
	TicksCrossed int
}

// TokenAmounts returns the swapped quantities ordered as (token0, token1).
func (r SwapResult) TokenAmounts() (amount0, amount1 *uint256.Int) {
	if r.ZeroForOne {
		return r.AmountIn, r.AmountOut
	}
	return r.AmountOut, r.AmountIn
}

// Swap walks the price across initialized ticks until the amount is consumed or the
// price limit is hit. State is only written once the whole walk succeeds.
func (p *Pool) Swap(params SwapParams) (SwapResult, error) {
	if err := p.requireInitialized(); err != nil {
		return SwapResult{}, err
	}
	if params.Amount == nil || params.Amount.IsZero() {
		return SwapResult{}, ErrZeroAmount
	}
	if err := fixedpoint.CheckUint128("swap amount", params.Amount); err != nil {
		return SwapResult{}, err
	}

	limit, explicitLimit, err := p.priceLimit(params)
	if err != nil {
		return SwapResult{}, err
	}

	var (
		remaining = params.Amount.Clone()
		amountIn  = new(uint256.Int)
		amountOut = new(uint256.Int)
		sqrtPrice = p.sqrtPriceX96.Clone()
		current   = p.tick
		active    = p.liquidity.Clone()
		crossed   int
	)

	for !remaining.IsZero() && !sqrtPrice.Eq(limit) {
		stepStart := sqrtPrice

		next, initialized := p.bitmap.NextInitializedTickWithinOneWord(current, params.ZeroForOne)
		if next < fixedpoint.MinTick {
			next = fixedpoint.MinTick
		} else if next > fixedpoint.MaxTick {
			next = fixedpoint.MaxTick
		}
		sqrtNext, err := fixedpoint.TickToSqrtPrice(next)
		if err != nil {
			return SwapResult{}, err
		}

		target := sqrtNext
		if params.ZeroForOne && sqrtNext.Lt(limit) || !params.ZeroForOne && sqrtNext.Gt(limit) {
			target = limit
		}

		step, err := liquidity.ComputeSwapStep(sqrtPrice, target, active, remaining, params.ExactInput)
		if err != nil {
			return SwapResult{}, fmt.Errorf("swap step at tick %d: %w", current, err)
		}
		sqrtPrice = step.SqrtPriceNext

		if params.ExactInput {
			remaining.Sub(remaining, step.AmountIn)
		} else {
			remaining.Sub(remaining, step.AmountOut)
		}
		amountIn.Add(amountIn, step.AmountIn)
		amountOut.Add(amountOut, step.AmountOut)

		switch {
		case sqrtPrice.Eq(sqrtNext):
			// Moving down, a walk that stops on the boundary keeps it uncrossed so the tick
			// stays the floor of the price. The next downward swap crosses it first.
			if params.ZeroForOne && (remaining.IsZero() || sqrtPrice.Eq(limit)) {
				current = next
				break
			}
			if initialized {
				if active, err = liquidity.AddDelta(active, p.ticks.Cross(next, params.ZeroForOne)); err != nil {
					return SwapResult{}, fmt.Errorf("cross tick %d: %w", next, err)
				}
				crossed++
			}
			if params.ZeroForOne {
				current = next - 1
			} else {
				current = next
			}
		case !sqrtPrice.Eq(stepStart):
			if current, err = fixedpoint.SqrtPriceToTick(sqrtPrice); err != nil {
				return SwapResult{}, err
			}
		}
	}

	if !remaining.IsZero() && !explicitLimit {
		return SwapResult{}, fmt.Errorf("%w: %s of %s unfilled at tick %d",
			ErrPriceLimitReached, remaining.Dec(), params.Amount.Dec(), current)
	}
	if err := fixedpoint.CheckUint128("amount in", amountIn); err != nil {
		return SwapResult{}, err
	}
	if err := fixedpoint.CheckUint128("amount out", amountOut); err != nil {
		return SwapResult{}, err
	}

	p.sqrtPriceX96 = sqrtPrice
	p.tick = current
	p.liquidity = active

	return SwapResult{
		ZeroForOne:   params.ZeroForOne,
		AmountIn:     amountIn,
		AmountOut:    amountOut,
		SqrtPriceX96: sqrtPrice.Clone(),
		Tick:         current,
		Liquidity:    active.Clone(),
		TicksCrossed: crossed,
	}, nil
}

// priceLimit resolves the stop price. Without an explicit limit the swap may run to one
// unit inside the representable range.
func (p *Pool) priceLimit(params SwapParams) (*uint256.Int, bool, error) {
	if params.SqrtPriceLimitX96 == nil {
		if params.ZeroForOne {
			return new(uint256.Int).AddUint64(fixedpoint.MinSqrtRatio, 1), false, nil
		}
		return new(uint256.Int).SubUint64(fixedpoint.MaxSqrtRatio, 1), false, nil
	}

	limit := params.SqrtPriceLimitX96
	if params.ZeroForOne {
		if !limit.Lt(p.sqrtPriceX96) || !limit.Gt(fixedpoint.MinSqrtRatio) {
			return nil, false, fmt.Errorf("%w: limit %s not below price %s",
				ErrPriceLimitReached, limit.Dec(), p.sqrtPriceX96.Dec())
		}
	} else if !limit.Gt(p.sqrtPriceX96) || !limit.Lt(fixedpoint.MaxSqrtRatio) {
		return nil, false, fmt.Errorf("%w: limit %s not above price %s",
			ErrPriceLimitReached, limit.Dec(), p.sqrtPriceX96.Dec())
	}
	return limit.Clone(), true, nil
}
