package postgres

// Integer columns that can exceed 64 bits are NUMERIC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		pool_id        TEXT PRIMARY KEY,
		token0         TEXT NOT NULL,
		token1         TEXT NOT NULL,
		tick_spacing   INTEGER NOT NULL,
		initialized    BOOLEAN NOT NULL,
		sqrt_price_x96 NUMERIC(49, 0) NOT NULL,
		tick           INTEGER NOT NULL,
		liquidity      NUMERIC(39, 0) NOT NULL,
		price          NUMERIC NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pool_ticks (
		pool_id         TEXT NOT NULL REFERENCES pools (pool_id),
		tick            INTEGER NOT NULL,
		liquidity_gross NUMERIC(39, 0) NOT NULL,
		liquidity_net   NUMERIC(40, 0) NOT NULL,
		PRIMARY KEY (pool_id, tick)
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		pool_id    TEXT NOT NULL REFERENCES pools (pool_id),
		owner      TEXT NOT NULL,
		tick_lower INTEGER NOT NULL,
		tick_upper INTEGER NOT NULL,
		liquidity  NUMERIC(39, 0) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (pool_id, owner, tick_lower, tick_upper)
	)`,
	`CREATE TABLE IF NOT EXISTS pool_events (
		pool_id        TEXT NOT NULL,
		seq            BIGINT NOT NULL,
		kind           TEXT NOT NULL,
		owner          TEXT NOT NULL,
		tick_lower     INTEGER NOT NULL,
		tick_upper     INTEGER NOT NULL,
		liquidity      TEXT NOT NULL,
		amount0        TEXT NOT NULL,
		amount1        TEXT NOT NULL,
		zero_for_one   BOOLEAN NOT NULL,
		exact_input    BOOLEAN NOT NULL,
		ticks_crossed  INTEGER NOT NULL,
		sqrt_price_x96 TEXT NOT NULL,
		tick           INTEGER NOT NULL,
		pool_liquidity TEXT NOT NULL,
		source         TEXT NOT NULL,
		committed_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (pool_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS replay_state (
		name       TEXT PRIMARY KEY,
		last_block BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}
