package fixedpoint

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const pricePrecision = 18

var q96Decimal = decimal.NewFromBigInt(Q96.ToBig(), 0)

// Price converts a Q64.96 sqrt price into the token1/token0 price for display.
// State transitions never consume this value.
func Price(sqrtPriceX96 *uint256.Int) decimal.Decimal {
	if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
		return decimal.Zero
	}
	sqrt := decimal.NewFromBigInt(sqrtPriceX96.ToBig(), 0).DivRound(q96Decimal, 2*pricePrecision)
	return sqrt.Mul(sqrt).Round(pricePrecision)
}
