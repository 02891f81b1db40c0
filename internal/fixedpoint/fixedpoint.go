package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick whose sqrt price fits the Q64.96 range.
	MinTick int32 = -887272
	// MaxTick is the highest tick whose sqrt price fits the Q64.96 range.
	MaxTick int32 = 887272

	// Resolution is the number of fractional bits of a Q64.96 value.
	Resolution = 96
)

var (
	// ErrOutOfBounds is returned for ticks or prices outside the representable range.
	ErrOutOfBounds = errors.New("out of bounds")
	// ErrArithmeticOverflow is returned when a value exceeds its integer width.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

var (
	one = uint256.NewInt(1)

	// Q96 is 1.0 in Q64.96.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)

	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	MaxUint160 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 160), 1)
	MaxUint256 = new(uint256.Int).Not(new(uint256.Int))

	// MinSqrtRatio is TickToSqrtPrice(MinTick).
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio is TickToSqrtPrice(MaxTick).
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")
)

// MulDiv returns floor(x*y/d) computed with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: mulDiv result exceeds 256 bits", ErrArithmeticOverflow)
	}
	return z, nil
}

// MulDivRoundingUp returns ceil(x*y/d).
func MulDivRoundingUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	if z.Eq(MaxUint256) {
		return nil, fmt.Errorf("%w: mulDiv rounding exceeds 256 bits", ErrArithmeticOverflow)
	}
	return z.AddUint64(z, 1), nil
}

// DivRoundingUp returns ceil(x/d).
func DivRoundingUp(x, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	z := new(uint256.Int).Div(x, d)
	if !new(uint256.Int).Mod(x, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

// CheckUint128 fails when v does not fit in 128 bits.
func CheckUint128(name string, v *uint256.Int) error {
	if v.Gt(MaxUint128) {
		return fmt.Errorf("%w: %s %s exceeds 128 bits", ErrArithmeticOverflow, name, v.Dec())
	}
	return nil
}

// CheckUint160 fails when v does not fit in 160 bits.
func CheckUint160(name string, v *uint256.Int) error {
	if v.Gt(MaxUint160) {
		return fmt.Errorf("%w: %s %s exceeds 160 bits", ErrArithmeticOverflow, name, v.Dec())
	}
	return nil
}
