package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickToSqrtPriceBounds(t *testing.T) {
	_, err := TickToSqrtPrice(MinTick - 1)
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = TickToSqrtPrice(MaxTick + 1)
	require.ErrorIs(t, err, ErrOutOfBounds)

	minRatio, err := TickToSqrtPrice(MinTick)
	require.NoError(t, err)
	assert.Equal(t, MinSqrtRatio.Dec(), minRatio.Dec())

	maxRatio, err := TickToSqrtPrice(MaxTick)
	require.NoError(t, err)
	assert.Equal(t, MaxSqrtRatio.Dec(), maxRatio.Dec())

	zero, err := TickToSqrtPrice(0)
	require.NoError(t, err)
	assert.Equal(t, Q96.Dec(), zero.Dec())
}

func TestTickToSqrtPriceMatchesReference(t *testing.T) {
	ticks := []int32{-887272, -500000, -123457, -50, -1, 1, 50, 85176, 84222, 86129, 123457, 500000, 887271}
	for _, tick := range ticks {
		got, err := TickToSqrtPrice(tick)
		require.NoError(t, err)

		want := referenceSqrtPrice(tick)
		diff := new(big.Float).Sub(new(big.Float).SetInt(got.ToBig()), want)
		diff.Abs(diff)
		if diff.Cmp(big.NewFloat(1)) <= 0 {
			continue
		}
		rel := new(big.Float).Quo(diff, want)
		relValue, _ := rel.Float64()
		assert.Less(t, relValue, 1e-10, "tick %d: got %s want %s", tick, got.Dec(), want.Text('f', 0))
	}
}

func TestTickToSqrtPriceMonotonic(t *testing.T) {
	prev, err := TickToSqrtPrice(MinTick)
	require.NoError(t, err)
	for tick := MinTick + 7919; tick <= MaxTick; tick += 7919 {
		cur, err := TickToSqrtPrice(tick)
		require.NoError(t, err)
		require.True(t, cur.Gt(prev), "tick %d not increasing", tick)
		prev = cur
	}
}

func TestSqrtPriceToTickRoundTrip(t *testing.T) {
	ticks := []int32{MinTick, MinTick + 1, -1, 0, 1, 85176, MaxTick - 1, MaxTick}
	for tick := MinTick; tick <= MaxTick; tick += 97 {
		ticks = append(ticks, tick)
	}
	// The ladder switches factors at every bit of |tick|.
	for bit := 0; bit < 20; bit++ {
		for _, d := range []int32{-1, 0, 1} {
			v := int32(1)<<bit + d
			if v <= MaxTick {
				ticks = append(ticks, v, -v)
			}
		}
	}

	for _, tick := range ticks {
		price, err := TickToSqrtPrice(tick)
		require.NoError(t, err)

		back, err := SqrtPriceToTick(price)
		require.NoError(t, err)
		require.Equal(t, tick, back, "round trip of tick %d", tick)

		if tick > MinTick {
			below, err := SqrtPriceToTick(new(uint256.Int).SubUint64(price, 1))
			require.NoError(t, err)
			require.Equal(t, tick-1, below, "price just under tick %d", tick)
		}
	}
}

func TestSqrtPriceToTickFloor(t *testing.T) {
	prices := []*uint256.Int{
		new(uint256.Int).AddUint64(MinSqrtRatio, 1),
		uint256.MustFromDecimal("5602277097478614198912276234240"),
		new(uint256.Int).AddUint64(Q96, 12345),
		new(uint256.Int).SubUint64(MaxSqrtRatio, 1),
	}
	for _, price := range prices {
		tick, err := SqrtPriceToTick(price)
		require.NoError(t, err)

		atTick, err := TickToSqrtPrice(tick)
		require.NoError(t, err)
		assert.True(t, atTick.Cmp(price) <= 0, "price at tick %d above %s", tick, price.Dec())

		if tick < MaxTick {
			above, err := TickToSqrtPrice(tick + 1)
			require.NoError(t, err)
			assert.True(t, above.Gt(price), "tick %d is not the floor of %s", tick, price.Dec())
		}
	}

	fixtureTick, err := SqrtPriceToTick(uint256.MustFromDecimal("5602277097478614198912276234240"))
	require.NoError(t, err)
	assert.Equal(t, int32(85176), fixtureTick)
}

func TestSqrtPriceToTickRejectsInvalidPrice(t *testing.T) {
	for _, price := range []*uint256.Int{
		nil,
		new(uint256.Int),
		new(uint256.Int).SubUint64(MinSqrtRatio, 1),
		new(uint256.Int).AddUint64(MaxSqrtRatio, 1),
	} {
		_, err := SqrtPriceToTick(price)
		assert.True(t, errors.Is(err, ErrOutOfBounds))
	}
}

func TestPrice(t *testing.T) {
	price := Price(uint256.MustFromDecimal("5602277097478614198912276234240"))
	diff := price.Sub(decimal.NewFromInt(5000)).Abs()
	assert.True(t, diff.LessThan(decimal.New(1, -9)), "price %s", price)

	assert.True(t, Price(Q96).Equal(decimal.NewFromInt(1)))
	assert.True(t, Price(nil).IsZero())
}

// referenceSqrtPrice computes sqrt(1.0001^tick) * 2^96 with 512-bit floats.
func referenceSqrtPrice(tick int32) *big.Float {
	const prec = 512
	base, _, err := big.ParseFloat("1.0001", 10, prec, big.ToNearestEven)
	if err != nil {
		panic(err)
	}

	abs := int64(tick)
	if abs < 0 {
		abs = -abs
	}
	result := new(big.Float).SetPrec(prec).SetInt64(1)
	for abs > 0 {
		if abs&1 == 1 {
			result.Mul(result, base)
		}
		base = new(big.Float).SetPrec(prec).Mul(base, base)
		abs >>= 1
	}
	if tick < 0 {
		result.Quo(new(big.Float).SetPrec(prec).SetInt64(1), result)
	}
	result.Sqrt(result)
	return result.Mul(result, new(big.Float).SetPrec(prec).SetInt(Q96.ToBig()))
}
