package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ag-wnl/sol-amm-v3/internal/custody"
	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/pool"
)

var (
	usdc  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	weth  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	dai   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000000")

	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type memJournal struct {
	mu     sync.Mutex
	events []model.PoolEvent
	err    error
}

func (j *memJournal) PutEventBatch(_ context.Context, events []model.PoolEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, events...)
	return nil
}

func (j *memJournal) all() []model.PoolEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.PoolEvent(nil), j.events...)
}

type harness struct {
	reg     *Registry
	vault   *custody.Vault
	journal *memJournal
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{vault: custody.NewVault(), journal: &memJournal{}, metrics: metrics.New("test")}
	h.reg = New(Config{
		Custody: h.vault,
		Journal: h.journal,
		Metrics: h.metrics,
		Logger:  zaptest.NewLogger(t),
		Source:  "test",
		Now:     func() time.Time { return fixedNow },
	})
	return h
}

func (h *harness) fund(t *testing.T, account common.Address, amount string) {
	t.Helper()
	for _, token := range []common.Address{usdc, weth, dai} {
		require.NoError(t, h.vault.Credit(account, token, uint256.MustFromDecimal(amount)))
	}
}

func TestInitializePool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, PoolID(usdc, weth), id)

	_, err = h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 10)
	require.ErrorIs(t, err, pool.ErrAlreadyInitialized)
	_, err = h.reg.InitializePool(ctx, usdc, usdc, fixedpoint.Q96, 0, 10)
	require.ErrorIs(t, err, pool.ErrIdenticalTokens)
	_, err = h.reg.InitializePool(ctx, weth, usdc, fixedpoint.Q96, 0, 10)
	require.ErrorIs(t, err, pool.ErrTokensNotSorted)

	snap, err := h.reg.Pool(id)
	require.NoError(t, err)
	assert.True(t, snap.Initialized)
	assert.Equal(t, "0", snap.Liquidity)
	assert.Equal(t, "1", snap.Price)

	events := h.journal.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.KindInitialize, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, "test", events[0].Source)
	assert.Equal(t, fixedNow, events[0].CommittedAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues(model.KindInitialize, "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues(model.KindInitialize, "error")))
}

func TestMintSettlesIntoVault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, "1000000000000000000000")

	id, err := h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 10)
	require.NoError(t, err)

	amounts, err := h.reg.Mint(ctx, id, alice, -100, 100, uint256.MustFromDecimal("1000000000000000000"))
	require.NoError(t, err)
	require.False(t, amounts.Amount0.IsZero())

	vault := VaultAddress(id)
	assert.True(t, h.vault.Balance(vault, usdc).Eq(amounts.Amount0))
	assert.True(t, h.vault.Balance(vault, weth).Eq(amounts.Amount1))

	positions, err := h.reg.Positions(id)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, alice.Hex(), positions[0].Owner)
	assert.Equal(t, id.Hex(), positions[0].Pool)

	burned, err := h.reg.Burn(ctx, id, alice, -100, 100, uint256.MustFromDecimal("1000000000000000000"))
	require.NoError(t, err)
	assert.True(t, h.vault.Balance(vault, usdc).Eq(new(uint256.Int).Sub(amounts.Amount0, burned.Amount0)))

	events := h.journal.all()
	require.Len(t, events, 3)
	assert.Equal(t, model.KindMint, events[1].Kind)
	assert.Equal(t, amounts.Amount0.Dec(), events[1].Amount0)
	assert.Equal(t, "1000000000000000000", events[1].PoolLiquidity)
	assert.Equal(t, model.KindBurn, events[2].Kind)
	assert.Equal(t, "0", events[2].PoolLiquidity)
	assert.Equal(t, uint64(3), events[2].Seq)
}

func TestFailedSettlementLeavesPoolUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 1)
	require.NoError(t, err)
	before, err := h.reg.Pool(id)
	require.NoError(t, err)

	_, err = h.reg.Mint(ctx, id, bob, -100, 100, uint256.NewInt(1_000_000))
	require.ErrorIs(t, err, custody.ErrInsufficientBalance)

	after, err := h.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, h.journal.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SettlementFailures))
}

func TestSwapMovesBalances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, "1000000000000000000000")
	h.fund(t, bob, "1000000000000000000")

	id, err := h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 60)
	require.NoError(t, err)
	_, err = h.reg.Mint(ctx, id, alice, -600, 600, uint256.MustFromDecimal("100000000000000000000"))
	require.NoError(t, err)

	res, err := h.reg.Swap(ctx, id, bob, pool.SwapParams{
		ZeroForOne: true,
		Amount:     uint256.NewInt(1_000_000_000),
		ExactInput: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), res.AmountIn.Uint64())

	start := uint256.MustFromDecimal("1000000000000000000")
	assert.True(t, h.vault.Balance(bob, usdc).Eq(new(uint256.Int).Sub(start, res.AmountIn)))
	assert.True(t, h.vault.Balance(bob, weth).Eq(new(uint256.Int).Add(start, res.AmountOut)))

	// A swap the trader cannot pay for is rolled back.
	snap, err := h.reg.Pool(id)
	require.NoError(t, err)
	_, err = h.reg.Swap(ctx, id, bob, pool.SwapParams{
		ZeroForOne: true,
		Amount:     uint256.MustFromDecimal("2000000000000000000"),
		ExactInput: true,
	})
	require.ErrorIs(t, err, custody.ErrInsufficientBalance)
	after, err := h.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, snap, after)
}

func TestUnknownPool(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.Mint(context.Background(), PoolID(usdc, weth), alice, -10, 10, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrPoolNotFound)
	_, err = h.reg.Pool(PoolID(usdc, weth))
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestJournalFailureKeepsCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 1)
	require.NoError(t, err)
	h.fund(t, alice, "1000000000")

	h.journal.err = errors.New("disk full")
	_, err = h.reg.Mint(WithSource(ctx, "block:1"), id, alice, -10, 10, uint256.NewInt(1000))
	require.NoError(t, err)

	snap, err := h.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, "1000", snap.Liquidity)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JournalErrors))
}

func TestConcurrentPoolsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, "1000000000000000000000000")

	idA, err := h.reg.InitializePool(ctx, usdc, weth, fixedpoint.Q96, 0, 1)
	require.NoError(t, err)
	idB, err := h.reg.InitializePool(ctx, weth, dai, fixedpoint.Q96, 0, 1)
	require.NoError(t, err)

	const workers, mints = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := idA
			if w%2 == 1 {
				id = idB
			}
			for i := 0; i < mints; i++ {
				_, err := h.reg.Mint(ctx, id, alice, -50, 50, uint256.NewInt(1000))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	for _, id := range []common.Hash{idA, idB} {
		snap, err := h.reg.Pool(id)
		require.NoError(t, err)
		assert.Equal(t, "100000", snap.Liquidity)
		require.Len(t, snap.Positions, 1)
		assert.Equal(t, "100000", snap.Positions[0].Liquidity)
	}
	assert.Len(t, h.reg.Snapshots(), 2)
	assert.Len(t, h.journal.all(), 2+workers*mints)
}
