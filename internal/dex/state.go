package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ag-wnl/sol-amm-v3/internal/model"
)

// ContractCaller performs eth_call requests. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolState is the immutable configuration and live price slot of a deployed pool.
type PoolState struct {
	Token0      string
	Token1      string
	TickSpacing int32
	Slot0       model.PoolSlot0
	Liquidity   string
}

// FetchPoolState reads token0, token1, tickSpacing, slot0 and liquidity at a block height.
// A zero block reads the latest state.
func FetchPoolState(ctx context.Context, caller ContractCaller, pool common.Address, blockNumber uint64, logger *zap.Logger) (PoolState, error) {
	if caller == nil {
		return PoolState{}, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolABI, err := V3PoolABI()
	if err != nil {
		return PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}

	var blockPtr *big.Int
	if blockNumber > 0 {
		blockPtr = new(big.Int).SetUint64(blockNumber)
	}

	values, err := callPoolMethod(ctx, caller, pool, poolABI, "token0", blockPtr)
	if err != nil {
		return PoolState{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callPoolMethod(ctx, caller, pool, poolABI, "token1", blockPtr)
	if err != nil {
		return PoolState{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("token1: %w", err)
	}

	values, err = callPoolMethod(ctx, caller, pool, poolABI, "tickSpacing", blockPtr)
	if err != nil {
		return PoolState{}, err
	}
	tickSpacingInt, err := asBigInt(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("tick spacing: %w", err)
	}
	tickSpacing, err := int24FromBig(tickSpacingInt)
	if err != nil {
		return PoolState{}, fmt.Errorf("tick spacing: %w", err)
	}

	values, err = callPoolMethod(ctx, caller, pool, poolABI, "slot0", blockPtr)
	if err != nil {
		return PoolState{}, err
	}
	if len(values) < 2 {
		return PoolState{}, fmt.Errorf("slot0: unexpected values: %d", len(values))
	}
	sqrt, err := asBigInt(values[0])
	if err != nil {
		return PoolState{}, fmt.Errorf("slot0 sqrt price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}

	state := PoolState{
		Token0:      token0.Hex(),
		Token1:      token1.Hex(),
		TickSpacing: tickSpacing,
		Slot0:       model.PoolSlot0{SqrtPriceX96: sqrt.String(), Tick: tick},
	}

	if values, err := callPoolMethod(ctx, caller, pool, poolABI, "liquidity", blockPtr); err == nil {
		if liq, err := asBigInt(values[0]); err == nil {
			state.Liquidity = liq.String()
		}
	} else {
		logger.Debug("liquidity call failed", zap.String("pool", pool.Hex()), zap.Error(err))
	}

	return state, nil
}

func callPoolMethod(ctx context.Context, caller ContractCaller, pool common.Address, poolABI abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	data, err := poolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := poolABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	lo := big.NewInt(-1 << 23)
	hi := big.NewInt((1 << 23) - 1)
	if value.Cmp(lo) < 0 || value.Cmp(hi) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
