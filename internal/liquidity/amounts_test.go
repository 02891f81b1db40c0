package liquidity

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
)

const (
	fixtureSqrtPrice = "5602277097478614198912276234240"
	fixtureTick      = int32(85176)
	fixtureLower     = int32(84222)
	fixtureUpper     = int32(86129)
	fixtureLiquidity = "1517882343751509868544"
)

func TestAmountsForLiquidityStraddling(t *testing.T) {
	sqrtCurrent := uint256.MustFromDecimal(fixtureSqrtPrice)
	liq := uint256.MustFromDecimal(fixtureLiquidity)

	amount0, amount1, err := AmountsForLiquidity(sqrtCurrent, fixtureTick, fixtureLower, fixtureUpper, liq, true)
	require.NoError(t, err)
	require.False(t, amount0.IsZero())
	require.False(t, amount1.IsZero())

	sqrtLower := mustSqrt(t, fixtureLower)
	sqrtUpper := mustSqrt(t, fixtureUpper)

	floor0, ceil0 := referenceAmount0(liq, sqrtCurrent, sqrtUpper)
	floor1, ceil1 := referenceAmount1(liq, sqrtLower, sqrtCurrent)
	assert.Equal(t, ceil0.String(), amount0.Dec())
	assert.Equal(t, ceil1.String(), amount1.Dec())

	down0, down1, err := AmountsForLiquidity(sqrtCurrent, fixtureTick, fixtureLower, fixtureUpper, liq, false)
	require.NoError(t, err)
	assert.Equal(t, floor0.String(), down0.Dec())
	assert.Equal(t, floor1.String(), down1.Dec())

	// Roughly one unit of token0 and five thousand units of token1 at a price of ~5000.
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.Equal(t, -1, amount0.ToBig().Cmp(oneToken))
	assert.Equal(t, 1, amount1.ToBig().Cmp(new(big.Int).Mul(oneToken, big.NewInt(4999))))
}

func TestAmountsForLiquidityOneSided(t *testing.T) {
	sqrtCurrent := uint256.MustFromDecimal(fixtureSqrtPrice)
	liq := uint256.MustFromDecimal(fixtureLiquidity)

	// Range entirely above the current price: token0 only.
	amount0, amount1, err := AmountsForLiquidity(sqrtCurrent, fixtureTick, 86000, 87000, liq, true)
	require.NoError(t, err)
	assert.False(t, amount0.IsZero())
	assert.True(t, amount1.IsZero())
	_, ceil0 := referenceAmount0(liq, mustSqrt(t, 86000), mustSqrt(t, 87000))
	assert.Equal(t, ceil0.String(), amount0.Dec())

	// Range entirely below: token1 only. The upper bound equal to the current tick counts as below.
	amount0, amount1, err = AmountsForLiquidity(sqrtCurrent, fixtureTick, 84000, fixtureTick, liq, true)
	require.NoError(t, err)
	assert.True(t, amount0.IsZero())
	assert.False(t, amount1.IsZero())
	_, ceil1 := referenceAmount1(liq, mustSqrt(t, 84000), mustSqrt(t, fixtureTick))
	assert.Equal(t, ceil1.String(), amount1.Dec())

	// Lower bound equal to the current tick straddles.
	amount0, amount1, err = AmountsForLiquidity(sqrtCurrent, fixtureTick, fixtureTick, 86000, liq, true)
	require.NoError(t, err)
	assert.False(t, amount0.IsZero())
	assert.False(t, amount1.IsZero())
}

func TestAmountsForLiquidityErrors(t *testing.T) {
	sqrtCurrent := uint256.MustFromDecimal(fixtureSqrtPrice)
	liq := uint256.NewInt(1000)

	_, _, err := AmountsForLiquidity(sqrtCurrent, fixtureTick, 100, 100, liq, true)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, _, err = AmountsForLiquidity(sqrtCurrent, fixtureTick, 200, 100, liq, true)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, _, err = AmountsForLiquidity(sqrtCurrent, fixtureTick, fixedpoint.MinTick-1, 0, liq, true)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, _, err = AmountsForLiquidity(sqrtCurrent, fixtureTick, 100, 200, new(uint256.Int), true)
	require.ErrorIs(t, err, ErrZeroLiquidity)

	tooMuch := new(uint256.Int).AddUint64(fixedpoint.MaxUint128, 1)
	_, _, err = AmountsForLiquidity(sqrtCurrent, fixtureTick, 100, 200, tooMuch, true)
	require.ErrorIs(t, err, fixedpoint.ErrArithmeticOverflow)
}

func TestAmount0DeltaOrderIndependent(t *testing.T) {
	a := mustSqrt(t, -100)
	b := mustSqrt(t, 300)
	liq := uint256.NewInt(1_000_000_000_000)

	ab, err := Amount0Delta(a, b, liq, true)
	require.NoError(t, err)
	ba, err := Amount0Delta(b, a, liq, true)
	require.NoError(t, err)
	assert.True(t, ab.Eq(ba))

	down, err := Amount0Delta(a, b, liq, false)
	require.NoError(t, err)
	assert.True(t, down.Cmp(ab) <= 0)

	_, err = Amount0Delta(new(uint256.Int), b, liq, true)
	require.ErrorIs(t, err, fixedpoint.ErrOutOfBounds)
}

func TestAddDelta(t *testing.T) {
	got, err := AddDelta(uint256.NewInt(100), big.NewInt(-40))
	require.NoError(t, err)
	assert.Equal(t, uint64(60), got.Uint64())

	got, err = AddDelta(uint256.NewInt(100), big.NewInt(40))
	require.NoError(t, err)
	assert.Equal(t, uint64(140), got.Uint64())

	_, err = AddDelta(uint256.NewInt(10), big.NewInt(-11))
	require.ErrorIs(t, err, fixedpoint.ErrArithmeticOverflow)

	_, err = AddDelta(fixedpoint.MaxUint128, big.NewInt(1))
	require.ErrorIs(t, err, fixedpoint.ErrArithmeticOverflow)
}

func mustSqrt(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	v, err := fixedpoint.TickToSqrtPrice(tick)
	require.NoError(t, err)
	return v
}

// referenceAmount0 returns floor and ceil of L * 2^96 * (b - a) / (a * b).
func referenceAmount0(liq, a, b *uint256.Int) (*big.Int, *big.Int) {
	num := new(big.Int).Lsh(liq.ToBig(), 96)
	num.Mul(num, new(big.Int).Sub(b.ToBig(), a.ToBig()))
	den := new(big.Int).Mul(a.ToBig(), b.ToBig())
	return floorCeil(num, den)
}

// referenceAmount1 returns floor and ceil of L * (b - a) / 2^96.
func referenceAmount1(liq, a, b *uint256.Int) (*big.Int, *big.Int) {
	num := new(big.Int).Mul(liq.ToBig(), new(big.Int).Sub(b.ToBig(), a.ToBig()))
	den := new(big.Int).Lsh(big.NewInt(1), 96)
	return floorCeil(num, den)
}

func floorCeil(num, den *big.Int) (*big.Int, *big.Int) {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	c := new(big.Int).Set(q)
	if r.Sign() != 0 {
		c.Add(c, big.NewInt(1))
	}
	return q, c
}
