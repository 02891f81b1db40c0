package model

// PoolSnapshot is the serialized state of one pool.
type PoolSnapshot struct {
	ID           string           `json:"id"`
	Token0       string           `json:"token0"`
	Token1       string           `json:"token1"`
	TickSpacing  int32            `json:"tick_spacing"`
	Initialized  bool             `json:"initialized"`
	SqrtPriceX96 string           `json:"sqrt_price_x96"`
	Tick         int32            `json:"tick"`
	Liquidity    string           `json:"liquidity"`
	Price        string           `json:"price"`
	Ticks        []TickRecord     `json:"ticks"`
	Positions    []PositionRecord `json:"positions"`
}

// TickRecord is one initialized tick.
type TickRecord struct {
	Tick           int32  `json:"tick"`
	LiquidityGross string `json:"liquidity_gross"`
	LiquidityNet   string `json:"liquidity_net"`
}

// PositionRecord is one position with non-zero liquidity.
type PositionRecord struct {
	Pool      string `json:"pool"`
	Owner     string `json:"owner"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Liquidity string `json:"liquidity"`
}
