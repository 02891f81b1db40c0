package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ag-wnl/sol-amm-v3/internal/model"
)

// Store provides Postgres persistence for pools, positions, ticks and the journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables used by the store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SavePools upserts pool state and replaces each pool's ticks and positions in one transaction.
func (s *Store) SavePools(ctx context.Context, pools []model.PoolSnapshot) error {
	if len(pools) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		queued := 0
		for _, p := range pools {
			batch.Queue(`
				INSERT INTO pools (
					pool_id, token0, token1, tick_spacing, initialized, sqrt_price_x96, tick, liquidity, price, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
				ON CONFLICT (pool_id)
				DO UPDATE SET
					initialized = EXCLUDED.initialized,
					sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
					tick = EXCLUDED.tick,
					liquidity = EXCLUDED.liquidity,
					price = EXCLUDED.price,
					updated_at = now()
			`,
				p.ID,
				p.Token0,
				p.Token1,
				p.TickSpacing,
				p.Initialized,
				p.SqrtPriceX96,
				p.Tick,
				p.Liquidity,
				p.Price,
			)
			batch.Queue(`DELETE FROM pool_ticks WHERE pool_id = $1`, p.ID)
			batch.Queue(`DELETE FROM positions WHERE pool_id = $1`, p.ID)
			queued += 3

			for _, t := range p.Ticks {
				batch.Queue(`
					INSERT INTO pool_ticks (pool_id, tick, liquidity_gross, liquidity_net)
					VALUES ($1, $2, $3, $4)
				`, p.ID, t.Tick, t.LiquidityGross, t.LiquidityNet)
				queued++
			}
			for _, pos := range p.Positions {
				batch.Queue(`
					INSERT INTO positions (pool_id, owner, tick_lower, tick_upper, liquidity, updated_at)
					VALUES ($1, $2, $3, $4, $5, now())
				`, pos.Pool, pos.Owner, pos.TickLower, pos.TickUpper, pos.Liquidity)
				queued++
			}
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < queued; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		return br.Close()
	})
}

// PutEventBatch appends journal events; replays of the same sequence number are ignored.
func (s *Store) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO pool_events (
				seq, kind, pool_id, owner, tick_lower, tick_upper, liquidity, amount0, amount1,
				zero_for_one, exact_input, ticks_crossed, sqrt_price_x96, tick, pool_liquidity, source, committed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (pool_id, seq) DO NOTHING
		`,
			int64(ev.Seq),
			ev.Kind,
			ev.Pool,
			ev.Owner,
			ev.TickLower,
			ev.TickUpper,
			ev.Liquidity,
			ev.Amount0,
			ev.Amount1,
			ev.ZeroForOne,
			ev.ExactInput,
			ev.TicksCrossed,
			ev.SqrtPriceX96,
			ev.Tick,
			ev.PoolLiquidity,
			ev.Source,
			ev.CommittedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint returns the last replayed block for a name.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("checkpoint name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM replay_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCheckpoint upserts the last replayed block for a name.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("checkpoint name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, name, int64(block))
	return err
}
