package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"
)

// sqrtRatioLadder[i] is 2^128 / sqrt(1.0001^(2^(i+1))) for the bits 0x2..0x80000 of |tick|.
var sqrtRatioLadder = [19]*uint256.Int{
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

var (
	sqrtRatioOddTick = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	q128             = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	low32Mask        = uint256.NewInt(0xffffffff)
)

// TickToSqrtPrice returns sqrt(1.0001^tick) as a Q64.96 value.
//
// The ratio is accumulated in Q128.128 over the set bits of |tick| and inverted for
// positive ticks, then rounded up to Q64.96 so that SqrtPriceToTick of the result
// yields tick again.
func TickToSqrtPrice(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: tick %d", ErrOutOfBounds, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&0x1 != 0 {
		ratio.Set(sqrtRatioOddTick)
	} else {
		ratio.Set(q128)
	}
	for i, factor := range sqrtRatioLadder {
		if absTick&(uint32(1)<<(i+1)) != 0 {
			ratio.Mul(ratio, factor)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(MaxUint256, ratio)
	}

	rounding := new(uint256.Int).And(ratio, low32Mask)
	ratio.Rsh(ratio, 32)
	if !rounding.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// SqrtPriceToTick returns the greatest tick whose sqrt price is <= sqrtPriceX96.
func SqrtPriceToTick(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Lt(MinSqrtRatio) || sqrtPriceX96.Gt(MaxSqrtRatio) {
		return 0, fmt.Errorf("%w: sqrt price %s", ErrOutOfBounds, decString(sqrtPriceX96))
	}

	low, high := MinTick, MaxTick
	result := MinTick
	for low <= high {
		mid := low + (high-low)/2
		ratio, err := TickToSqrtPrice(mid)
		if err != nil {
			return 0, err
		}
		if ratio.Cmp(sqrtPriceX96) <= 0 {
			result = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return result, nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.Dec()
}
