package forkstate

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/forkstate/config"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/ruleset"
	"github.com/DQYXACML/forkstate/tracing"
	"github.com/DQYXACML/forkstate/txmgr"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	miner = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func testConfig(gasLimit uint64, interval time.Duration) *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			ChainId:   31337,
			NetworkId: 31337,
			Hardfork:  ruleset.Cancun,
			Genesis:   map[common.Address]*big.Int{alice: ether(10)},
		},
		Mining: config.MiningConfig{
			Coinbase:    miner,
			BlockReward: ether(2),
			GasLimit:    gasLimit,
			Interval:    interval,
		},
	}
}

func newNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := NewNode(context.Background(), cfg)
	require.NoError(t, err)
	return n
}

func transfer(t *testing.T, nonce uint64, value *big.Int) txmgr.Tx {
	t.Helper()
	tx, err := txmgr.WithSender(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(2 * params.GWei),
		Gas:      21_000,
		To:       &bob,
		Value:    value,
	}), alice)
	require.NoError(t, err)
	return tx
}

func balanceOf(t *testing.T, n *Node, addr common.Address) *big.Int {
	t.Helper()
	acct, err := n.Adapter().GetAccount(addr)
	require.NoError(t, err)
	return acct.Balance.ToBig()
}

func TestGenesis(t *testing.T) {
	n := newNode(t, testConfig(30_000_000, 0))

	head := n.LatestHeader()
	assert.Equal(t, uint64(0), head.Number.Uint64())
	assert.Equal(t, big.NewInt(params.InitialBaseFee), head.BaseFee)
	assert.NotNil(t, head.WithdrawalsHash)
	assert.NotNil(t, head.ParentBeaconRoot)
	assert.Nil(t, head.RequestsHash)
	assert.Equal(t, ether(10), balanceOf(t, n, alice))
	assert.Nil(t, n.Adapter().ForkBoundary())
}

func TestMineBlock(t *testing.T) {
	ctx := context.Background()

	t.Run("IncludesPendingAndRewards", func(t *testing.T) {
		n := newNode(t, testConfig(30_000_000, 0))
		genesis := n.LatestHeader()

		hash, err := n.SendTransaction(transfer(t, 0, ether(1)))
		require.NoError(t, err)
		assert.Equal(t, 1, n.PendingCount())

		header, err := n.MineBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), header.Number.Uint64())
		assert.Equal(t, genesis.Hash(), header.ParentHash)
		assert.Greater(t, header.Time, genesis.Time)
		assert.Equal(t, uint64(21_000), header.GasUsed)
		assert.NotEqual(t, types.EmptyTxsHash, header.TxHash)
		assert.Equal(t, 0, n.PendingCount())
		assert.False(t, n.Adapter().InProgress())

		root, err := n.Adapter().StateRoot()
		require.NoError(t, err)
		assert.Equal(t, root, header.Root)
		assert.Equal(t, header.Hash(), n.LatestHeader().Hash())

		assert.Equal(t, ether(1), balanceOf(t, n, bob))
		assert.True(t, balanceOf(t, n, miner).Cmp(ether(2)) >= 0)

		_, err = n.SendTransaction(transfer(t, 0, ether(1)))
		require.Error(t, err)
		assert.True(t, errs.IsInput(err))
		assert.Equal(t, transfer(t, 0, ether(1)).Hash(), hash)
	})

	t.Run("EmptyBlock", func(t *testing.T) {
		n := newNode(t, testConfig(30_000_000, 0))

		header, err := n.MineBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.EmptyTxsHash, header.TxHash)
		assert.Equal(t, ether(2), balanceOf(t, n, miner))
		assert.Equal(t, int64(1), n.Adapter().Metrics().Snapshot().BlocksSealed)
	})

	t.Run("DefersOverGasLimit", func(t *testing.T) {
		n := newNode(t, testConfig(50_000, 0))
		for nonce := uint64(0); nonce < 3; nonce++ {
			_, err := n.SendTransaction(transfer(t, nonce, ether(1)))
			require.NoError(t, err)
		}

		header, err := n.MineBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(42_000), header.GasUsed)
		assert.Equal(t, 1, n.PendingCount())

		header, err = n.MineBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(21_000), header.GasUsed)
		assert.Equal(t, ether(3), balanceOf(t, n, bob))
	})

	t.Run("RejectedTransactionDiscardsBlock", func(t *testing.T) {
		n := newNode(t, testConfig(30_000_000, 0))
		_, err := n.SendTransaction(transfer(t, 0, ether(1)))
		require.NoError(t, err)
		_, err = n.SendTransaction(transfer(t, 7, ether(1)))
		require.NoError(t, err)

		_, err = n.MineBlock(ctx)
		require.Error(t, err)
		assert.True(t, errs.IsExecution(err))
		assert.False(t, n.Adapter().InProgress())
		assert.Equal(t, uint64(0), n.LatestHeader().Number.Uint64())
		assert.Equal(t, 1, n.PendingCount())
		assert.Equal(t, 0, balanceOf(t, n, bob).Sign())
		assert.Equal(t, int64(1), n.Adapter().Metrics().Snapshot().BlocksReverted)

		header, err := n.MineBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), header.Number.Uint64())
		assert.Equal(t, ether(1), balanceOf(t, n, bob))
	})
}

func TestCall(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, testConfig(30_000_000, 0))
	_, err := n.SendTransaction(transfer(t, 0, ether(1)))
	require.NoError(t, err)
	_, err = n.MineBlock(ctx)
	require.NoError(t, err)

	before, err := n.Adapter().StateRoot()
	require.NoError(t, err)

	t.Run("Pending", func(t *testing.T) {
		res, err := n.Call(ctx, transfer(t, 1, ether(5)), nil)
		require.NoError(t, err)
		assert.False(t, res.Failed())
		assert.Equal(t, ether(1), balanceOf(t, n, bob))
	})

	t.Run("HistoricalBlock", func(t *testing.T) {
		res, err := n.Call(ctx, transfer(t, 0, ether(5)), big.NewInt(0))
		require.NoError(t, err)
		assert.False(t, res.Failed())
	})

	t.Run("UnknownBlock", func(t *testing.T) {
		_, err := n.Call(ctx, transfer(t, 1, ether(1)), big.NewInt(99))
		require.Error(t, err)
		assert.True(t, errs.IsInput(err))
	})

	after, err := n.Adapter().StateRoot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, n.PendingCount())
}

func TestCallTree(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, testConfig(30_000_000, 0))

	traces, res, err := n.CallTree(ctx, transfer(t, 0, ether(1)), nil)
	require.NoError(t, err)
	assert.False(t, res.Failed())
	require.Len(t, traces, 1)
	assert.Equal(t, "CALL", traces[0].Type)
	assert.Equal(t, alice, traces[0].From)
	assert.Equal(t, bob, traces[0].To)
	assert.Empty(t, traces[0].Calls)
	assert.False(t, n.Adapter().TracingEnabled())
	assert.Equal(t, 0, balanceOf(t, n, bob).Sign())

	require.NoError(t, n.Adapter().EnableTracing(tracing.NewMessageTracer().Hooks()))
	_, _, err = n.CallTree(ctx, transfer(t, 0, ether(1)), nil)
	require.Error(t, err)
	assert.True(t, errs.IsInvariant(err))
	require.NoError(t, n.Adapter().DisableTracing())
}

func TestTraceTransaction(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, testConfig(30_000_000, 0))
	first, err := n.SendTransaction(transfer(t, 0, ether(1)))
	require.NoError(t, err)
	_, err = n.MineBlock(ctx)
	require.NoError(t, err)
	second, err := n.SendTransaction(transfer(t, 1, ether(1)))
	require.NoError(t, err)
	_, err = n.MineBlock(ctx)
	require.NoError(t, err)

	before, err := n.Adapter().StateRoot()
	require.NoError(t, err)

	for _, hash := range []common.Hash{first, second} {
		result, err := n.TraceTransaction(ctx, hash, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(21_000), result.Gas)
		assert.False(t, result.Failed)
		assert.Empty(t, result.StructLogs)
	}

	after, err := n.Adapter().StateRoot()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	t.Run("Unknown", func(t *testing.T) {
		_, err := n.TraceTransaction(ctx, common.HexToHash("0x01"), nil)
		require.Error(t, err)
		assert.True(t, errs.IsInput(err))
	})

	t.Run("Genesis", func(t *testing.T) {
		_, err := n.TraceBlockTransaction(ctx, 0, first, nil)
		require.Error(t, err)
		assert.True(t, errs.IsInput(err))
	})
}

func TestStartStop(t *testing.T) {
	n := newNode(t, testConfig(30_000_000, 10*time.Millisecond))
	require.NoError(t, n.Start(context.Background()))

	require.Eventually(t, func() bool {
		return n.LatestHeader().Number.Uint64() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, n.Stop(context.Background()))
	assert.True(t, n.Stopped())
}

func TestNextBaseFee(t *testing.T) {
	rules := ruleset.NewDescriptor(1, 1, ruleset.London)

	parent := &types.Header{Number: big.NewInt(10), GasLimit: 30_000_000}
	assert.Equal(t, big.NewInt(params.InitialBaseFee), nextBaseFee(rules, parent))

	parent.BaseFee = big.NewInt(params.InitialBaseFee)
	parent.GasUsed = 0
	assert.Equal(t, -1, nextBaseFee(rules, parent).Cmp(parent.BaseFee))

	parent.GasUsed = parent.GasLimit / 2
	assert.Equal(t, parent.BaseFee, nextBaseFee(rules, parent))
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(30_000_000, 0)
	cfg.MetricsAddr = "127.0.0.1:0"
	n := newNode(t, cfg)
	require.NoError(t, n.Start(context.Background()))
	defer func() {
		require.NoError(t, n.Stop(context.Background()))
	}()

	_, err := n.MineBlock(context.Background())
	require.NoError(t, err)

	resp, err := http.Get("http://" + n.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "forkstate_adapter_blocks_sealed_total 1")
}
