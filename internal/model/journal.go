package model

import "time"

// Operation kinds recorded in the journal.
const (
	KindInitialize = "initialize"
	KindMint       = "mint"
	KindBurn       = "burn"
	KindSwap       = "swap"
)

// PoolEvent is the journal entry of one committed pool operation.
type PoolEvent struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Pool      string `json:"pool"`
	Owner     string `json:"owner,omitempty"`
	TickLower int32  `json:"tick_lower,omitempty"`
	TickUpper int32  `json:"tick_upper,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`

	ZeroForOne   bool `json:"zero_for_one,omitempty"`
	ExactInput   bool `json:"exact_input,omitempty"`
	TicksCrossed int  `json:"ticks_crossed,omitempty"`

	SqrtPriceX96  string    `json:"sqrt_price_x96"`
	Tick          int32     `json:"tick"`
	PoolLiquidity string    `json:"pool_liquidity"`
	Source        string    `json:"source,omitempty"`
	CommittedAt   time.Time `json:"committed_at"`
}
