package model

// ScriptOp is one line of a simulation script. Integer amounts are decimal strings.
type ScriptOp struct {
	Op      string `json:"op"`
	Token0  string `json:"token0,omitempty"`
	Token1  string `json:"token1,omitempty"`
	Account string `json:"account,omitempty"`
	Token   string `json:"token,omitempty"`
	Amount  string `json:"amount,omitempty"`

	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Tick         *int32 `json:"tick,omitempty"`
	TickSpacing  int32  `json:"tick_spacing,omitempty"`

	Owner     string `json:"owner,omitempty"`
	TickLower int32  `json:"tick_lower,omitempty"`
	TickUpper int32  `json:"tick_upper,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`

	ZeroForOne        bool   `json:"zero_for_one,omitempty"`
	ExactOutput       bool   `json:"exact_output,omitempty"`
	SqrtPriceLimitX96 string `json:"sqrt_price_limit_x96,omitempty"`
}

// Script operation names.
const (
	OpFund       = "fund"
	OpInitialize = "initialize"
	OpMint       = "mint"
	OpBurn       = "burn"
	OpSwap       = "swap"
)
