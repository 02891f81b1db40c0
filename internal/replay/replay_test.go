package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ag-wnl/sol-amm-v3/internal/dex"
	"github.com/ag-wnl/sol-amm-v3/internal/fixedpoint"
	"github.com/ag-wnl/sol-amm-v3/internal/metrics"
	"github.com/ag-wnl/sol-amm-v3/internal/model"
	"github.com/ag-wnl/sol-amm-v3/internal/pool"
)

var (
	poolAddr  = common.HexToAddress("0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8")
	otherPool = common.HexToAddress("0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640")
	usdc      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	weth      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice     = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob       = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
	router    = common.HexToAddress("0xe592427a0aece92de3edee1f18e0157c05861564")
)

type logBuilder struct {
	t     *testing.T
	abi   abi.ABI
	lines []string
}

func newLogBuilder(t *testing.T) *logBuilder {
	t.Helper()
	poolABI, err := dex.V3PoolABI()
	require.NoError(t, err)
	return &logBuilder{t: t, abi: poolABI}
}

func (b *logBuilder) add(address common.Address, block, index uint64, event string, indexed []common.Hash, values ...interface{}) *logBuilder {
	b.t.Helper()
	data, err := b.abi.Events[event].Inputs.NonIndexed().Pack(values...)
	require.NoError(b.t, err)

	topics := []string{b.abi.Events[event].ID.Hex()}
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}
	line, err := json.Marshal(model.LogRecord{
		ChainID:     1,
		BlockNumber: block,
		TxHash:      fmt.Sprintf("0x%064x", block*1000+index),
		LogIndex:    index,
		Address:     strings.ToLower(address.Hex()),
		Topics:      topics,
		Data:        hexutil.Encode(data),
	})
	require.NoError(b.t, err)
	b.lines = append(b.lines, string(line))
	return b
}

func (b *logBuilder) reader() *strings.Reader {
	return strings.NewReader(strings.Join(b.lines, "\n") + "\n")
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func int24Topic(v int32) common.Hash {
	n := big.NewInt(int64(v))
	if v < 0 {
		n.Add(n, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BigToHash(n)
}

func positionTopics(owner common.Address, lower, upper int32) []common.Hash {
	return []common.Hash{addressTopic(owner), int24Topic(lower), int24Topic(upper)}
}

func big256(v *uint256.Int) *big.Int { return v.ToBig() }

func newDecoder(t *testing.T) dex.Decoder {
	t.Helper()
	decoder, err := dex.NewV3PoolDecoder(dex.DecoderConfig{})
	require.NoError(t, err)
	return decoder
}

// mirrorHistory runs the same operations on a standalone pool to produce the values a
// chain would have emitted.
func mirrorHistory(t *testing.T) (*logBuilder, pool.SwapResult) {
	t.Helper()
	mirror, err := pool.New(usdc, weth, 60)
	require.NoError(t, err)
	require.NoError(t, mirror.Initialize(fixedpoint.Q96, 0))

	liq := uint256.MustFromDecimal("1000000000000000000")
	minted, err := mirror.Mint(alice, -600, 600, liq)
	require.NoError(t, err)
	swapped, err := mirror.Swap(pool.SwapParams{ZeroForOne: true, Amount: uint256.NewInt(1_000_000_000_000_000), ExactInput: true})
	require.NoError(t, err)

	b := newLogBuilder(t)
	// Swap is written before the mint to check block ordering.
	b.add(poolAddr, 102, 0, dex.EventSwap, []common.Hash{addressTopic(router), addressTopic(router)},
		big.NewInt(1_000_000_000_000_000), new(big.Int).Neg(big256(swapped.AmountOut)),
		big256(swapped.SqrtPriceX96), big256(swapped.Liquidity), big.NewInt(int64(swapped.Tick)))
	b.add(poolAddr, 100, 3, dex.EventInitialize, nil, big256(fixedpoint.Q96), big.NewInt(0))
	b.add(poolAddr, 101, 1, dex.EventMint, positionTopics(alice, -600, 600),
		alice, big256(liq), big256(minted.Amount0), big256(minted.Amount1))
	b.add(otherPool, 101, 2, dex.EventMint, positionTopics(bob, -60, 60),
		bob, big.NewInt(1), big.NewInt(1), big.NewInt(1))
	// Chain amounts deliberately disagree with the engine.
	b.add(poolAddr, 103, 0, dex.EventMint, positionTopics(bob, -1200, -600),
		bob, big.NewInt(5000), big.NewInt(1), big.NewInt(1))
	b.add(poolAddr, 104, 7, dex.EventBurn, positionTopics(alice, -600, 600),
		big.NewInt(0), big.NewInt(0), big.NewInt(0))
	return b, swapped
}

func TestReplayReconcilesHistory(t *testing.T) {
	b, swapped := mirrorHistory(t)
	m := metrics.New("test")
	checkpoints := NewFileCheckpoints(filepath.Join(t.TempDir(), "state", "checkpoint.json"))

	cfg := RunConfig{Pool: poolAddr, Token0: usdc, Token1: weth, TickSpacing: 60, Checkpoint: "usdc-weth"}
	replayer := NewReplayer(cfg, newDecoder(t), Options{Checkpoints: checkpoints, Metrics: m, Logger: zaptest.NewLogger(t)})

	report, err := replayer.Run(context.Background(), b.reader())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Events)
	assert.Equal(t, 4, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.Mismatches)
	assert.Equal(t, uint64(104), report.LastBlock)

	assert.Equal(t, swapped.SqrtPriceX96.Dec(), report.Pool.SqrtPriceX96)
	assert.Equal(t, swapped.Tick, report.Pool.Tick)
	assert.Equal(t, "1000000000000000000", report.Pool.Liquidity)
	assert.Len(t, report.Pool.Positions, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplayMismatches.WithLabelValues("amount0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReplayMismatches.WithLabelValues("tick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplayEvents.WithLabelValues(dex.EventSwap, StatusApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplayEvents.WithLabelValues(dex.EventBurn, StatusSkipped)))

	block, ok, err := checkpoints.LoadCheckpoint(context.Background(), "usdc-weth")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(104), block)

	again, _ := mirrorHistory(t)
	second, err := NewReplayer(cfg, newDecoder(t), Options{Checkpoints: checkpoints}).Run(context.Background(), again.reader())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Applied)
}

func TestReplayRequiresSeed(t *testing.T) {
	b := newLogBuilder(t).add(poolAddr, 10, 0, dex.EventMint, positionTopics(alice, -60, 60),
		alice, big.NewInt(1000), big.NewInt(3), big.NewInt(3))

	replayer := NewReplayer(RunConfig{Pool: poolAddr, Token0: usdc, Token1: weth}, newDecoder(t), Options{})
	report, err := replayer.Run(context.Background(), b.reader())
	require.ErrorIs(t, err, errNotSeeded)
	assert.Equal(t, 1, report.Failed)
}

func TestReplayRequiresTokensWithoutRPC(t *testing.T) {
	b := newLogBuilder(t).add(poolAddr, 10, 0, dex.EventInitialize, nil, big256(fixedpoint.Q96), big.NewInt(0))

	_, err := NewReplayer(RunConfig{Pool: poolAddr}, newDecoder(t), Options{}).Run(context.Background(), b.reader())
	require.ErrorContains(t, err, "token0 and token1 are required")
}

type chainStub struct {
	abi     abi.ABI
	results map[string][]interface{}
	calls   int
	fails   int
	// blocks records the height of every slot0 call; zero stands for latest.
	blocks []uint64
}

func newChainStub(t *testing.T, spacing int64, liquidity int64) *chainStub {
	t.Helper()
	poolABI, err := dex.V3PoolABI()
	require.NoError(t, err)
	return &chainStub{
		abi: poolABI,
		results: map[string][]interface{}{
			"token0":      {usdc},
			"token1":      {weth},
			"tickSpacing": {big.NewInt(spacing)},
			"liquidity":   {big.NewInt(liquidity)},
			"slot0":       {big256(fixedpoint.Q96), big.NewInt(0), uint16(0), uint16(1), uint16(1), uint8(0), true},
		},
	}
}

func (c *chainStub) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	c.calls++
	if c.fails > 0 {
		c.fails--
		return nil, fmt.Errorf("503 service unavailable")
	}
	method, err := c.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name == "slot0" {
		var height uint64
		if block != nil {
			height = block.Uint64()
		}
		c.blocks = append(c.blocks, height)
	}
	return method.Outputs.Pack(c.results[method.Name]...)
}

func TestReplaySeedsAndReconcilesFromChain(t *testing.T) {
	stub := newChainStub(t, 10, 7_000)
	stub.fails = 2

	b := newLogBuilder(t).add(poolAddr, 10, 0, dex.EventMint, positionTopics(alice, -10, 10),
		alice, big.NewInt(7_000), big.NewInt(4), big.NewInt(4))

	cfg := RunConfig{Pool: poolAddr, MaxRetries: 3, RetryBackoff: time.Millisecond}
	report, err := NewReplayer(cfg, newDecoder(t), Options{Caller: stub, Logger: zaptest.NewLogger(t)}).
		Run(context.Background(), b.reader())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, int32(10), report.Pool.TickSpacing)
	assert.Equal(t, "7000", report.Pool.Liquidity)
	assert.Equal(t, 0, report.Mismatches)
	assert.Greater(t, stub.calls, 2)
	assert.Equal(t, []uint64{9, 10}, stub.blocks)
}

func TestReplaySeedBlock(t *testing.T) {
	mint := func() *logBuilder {
		return newLogBuilder(t).add(poolAddr, 500, 0, dex.EventMint, positionTopics(alice, -10, 10),
			alice, big.NewInt(7_000), big.NewInt(4), big.NewInt(4))
	}
	tests := []struct {
		name   string
		input  *logBuilder
		seed   uint64
		blocks []uint64
	}{
		{name: "block before first event", input: mint(), blocks: []uint64{499, 500}},
		{name: "explicit override", input: mint(), seed: 320, blocks: []uint64{320, 500}},
		{
			name:   "initialize block",
			input:  newLogBuilder(t).add(poolAddr, 42, 1, dex.EventInitialize, nil, big256(fixedpoint.Q96), big.NewInt(0)),
			blocks: []uint64{42, 42},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newChainStub(t, 10, 0)
			cfg := RunConfig{Pool: poolAddr, SeedBlock: tt.seed}
			_, err := NewReplayer(cfg, newDecoder(t), Options{Caller: stub}).Run(context.Background(), tt.input.reader())
			require.NoError(t, err)
			assert.Equal(t, tt.blocks, stub.blocks)
		})
	}
}

func TestMatchesChainOnDownwardBoundary(t *testing.T) {
	p, err := pool.New(usdc, weth, 60)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(fixedpoint.Q96, 0))
	liq := uint256.MustFromDecimal("1000000000000000000")
	_, err = p.Mint(alice, -600, 600, liq)
	require.NoError(t, err)
	_, err = p.Mint(bob, -1200, -600, new(uint256.Int).Mul(liq, uint256.NewInt(2)))
	require.NoError(t, err)

	boundary, err := fixedpoint.TickToSqrtPrice(-600)
	require.NoError(t, err)
	_, err = p.Swap(pool.SwapParams{ZeroForOne: true, Amount: fixedpoint.MaxUint128, ExactInput: true, SqrtPriceLimitX96: boundary})
	require.NoError(t, err)
	require.Equal(t, int32(-600), p.Tick())

	tickOK, liquidityOK := matchesChain(p, -600, liq.Dec())
	assert.True(t, tickOK)
	assert.True(t, liquidityOK)

	tickOK, liquidityOK = matchesChain(p, -601, "2000000000000000000")
	assert.True(t, tickOK)
	assert.True(t, liquidityOK)

	tickOK, liquidityOK = matchesChain(p, -601, liq.Dec())
	assert.True(t, tickOK)
	assert.False(t, liquidityOK)

	tickOK, _ = matchesChain(p, -602, "")
	assert.False(t, tickOK)
}

func TestWithRetryReportsAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), "slot0", 2, time.Millisecond, func(context.Context) error {
		attempts++
		return fmt.Errorf("timeout")
	})
	require.ErrorContains(t, err, "slot0: 3 attempts: timeout")
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := withRetry(ctx, "slot0", 5, time.Hour, func(context.Context) error {
		attempts++
		cancel()
		return fmt.Errorf("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
