package tick

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/liquidity"
)

// Info is the liquidity bookkeeping of one initialized tick boundary.
type Info struct {
	// LiquidityGross is the total position liquidity referencing the tick.
	LiquidityGross *uint256.Int
	// LiquidityNet is added to active liquidity when price crosses the tick upward.
	LiquidityNet *big.Int
}

// Initialized reports whether any position references the tick.
func (i Info) Initialized() bool {
	return i.LiquidityGross != nil && !i.LiquidityGross.IsZero()
}

func (i Info) clone() Info {
	out := Info{LiquidityGross: new(uint256.Int), LiquidityNet: new(big.Int)}
	if i.LiquidityGross != nil {
		out.LiquidityGross.Set(i.LiquidityGross)
	}
	if i.LiquidityNet != nil {
		out.LiquidityNet.Set(i.LiquidityNet)
	}
	return out
}

// Table is a sparse map of initialized ticks.
type Table struct {
	ticks map[int32]Info
}

func NewTable() *Table {
	return &Table{ticks: make(map[int32]Info)}
}

// Get returns a copy of the tick info; the zero Info when the tick is uninitialized.
func (t *Table) Get(tick int32) (Info, bool) {
	info, ok := t.ticks[tick]
	if !ok {
		return Info{LiquidityGross: new(uint256.Int), LiquidityNet: new(big.Int)}, false
	}
	return info.clone(), true
}

// Preview computes the tick info after applying liquidityDelta without mutating the table.
// The upper endpoint of a range subtracts the delta from LiquidityNet so that crossing
// the whole range upward nets to zero.
func (t *Table) Preview(tick int32, liquidityDelta *big.Int, upper bool, maxLiquidity *uint256.Int) (Info, bool, error) {
	before, _ := t.Get(tick)

	grossAfter, err := liquidity.AddDelta(before.LiquidityGross, liquidityDelta)
	if err != nil {
		return Info{}, false, fmt.Errorf("tick %d: %w", tick, err)
	}
	if maxLiquidity != nil && grossAfter.Gt(maxLiquidity) {
		return Info{}, false, fmt.Errorf("%w: tick %d gross liquidity %s exceeds %s",
			fixedpoint.ErrArithmeticOverflow, tick, grossAfter.Dec(), maxLiquidity.Dec())
	}

	netAfter := new(big.Int).Set(before.LiquidityNet)
	if upper {
		netAfter.Sub(netAfter, liquidityDelta)
	} else {
		netAfter.Add(netAfter, liquidityDelta)
	}

	flipped := grossAfter.IsZero() != before.LiquidityGross.IsZero()
	return Info{LiquidityGross: grossAfter, LiquidityNet: netAfter}, flipped, nil
}

// Set stores info for the tick, deleting it once no liquidity references it.
func (t *Table) Set(tick int32, info Info) {
	if !info.Initialized() {
		delete(t.ticks, tick)
		return
	}
	t.ticks[tick] = info.clone()
}

// Update applies liquidityDelta to the tick and reports whether it flipped between
// initialized and uninitialized.
func (t *Table) Update(tick int32, liquidityDelta *big.Int, upper bool, maxLiquidity *uint256.Int) (bool, error) {
	info, flipped, err := t.Preview(tick, liquidityDelta, upper, maxLiquidity)
	if err != nil {
		return false, err
	}
	t.Set(tick, info)
	return flipped, nil
}

// Cross returns the liquidity change for moving past tick. Moving down (zeroForOne)
// negates LiquidityNet.
func (t *Table) Cross(tick int32, zeroForOne bool) *big.Int {
	info, _ := t.Get(tick)
	if zeroForOne {
		return info.LiquidityNet.Neg(info.LiquidityNet)
	}
	return info.LiquidityNet
}

// Len returns the number of initialized ticks.
func (t *Table) Len() int {
	return len(t.ticks)
}

// Ticks returns the initialized tick indices in ascending order.
func (t *Table) Ticks() []int32 {
	out := make([]int32, 0, len(t.ticks))
	for tick := range t.ticks {
		out = append(out, tick)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{ticks: make(map[int32]Info, len(t.ticks))}
	for tick, info := range t.ticks {
		out.ticks[tick] = info.clone()
	}
	return out
}

// MaxLiquidityPerTick bounds the gross liquidity of a tick so that the sum over every
// usable tick fits in 128 bits.
func MaxLiquidityPerTick(spacing int32) *uint256.Int {
	minTick := (fixedpoint.MinTick / spacing) * spacing
	maxTick := (fixedpoint.MaxTick / spacing) * spacing
	numTicks := uint64((maxTick-minTick)/spacing) + 1
	return new(uint256.Int).Div(fixedpoint.MaxUint128, uint256.NewInt(numTicks))
}
