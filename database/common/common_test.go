package common

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/forkstate/tracing"
)

func TestNewSealedBlock(t *testing.T) {
	header := &types.Header{
		ParentHash: common.HexToHash("0x01"),
		Number:     big.NewInt(12),
		Time:       1_700_000_012,
		GasUsed:    42_000,
		Root:       common.HexToHash("0x02"),
		Difficulty: big.NewInt(0),
	}
	txs := []common.Hash{common.HexToHash("0xaa"), common.HexToHash("0xbb")}

	block := NewSealedBlock(header, txs)
	assert.Equal(t, header.Hash(), block.Hash)
	assert.Equal(t, header.ParentHash, block.ParentHash)
	assert.Equal(t, big.NewInt(12), block.Number)
	assert.Equal(t, header.Root, block.StateRoot)
	assert.Equal(t, uint64(42_000), block.GasUsed)
	assert.Len(t, block.TxHashes, 2)

	require.NotNil(t, block.Header())
	assert.Equal(t, header.Hash(), block.Header().Hash())

	header.Number.SetInt64(13)
	assert.Equal(t, big.NewInt(12), block.Number)
	assert.Equal(t, "sealed_blocks", block.TableName())
}

func TestConfigKey(t *testing.T) {
	assert.Equal(t, ConfigKey(nil), ConfigKey(&tracing.Config{}))
	assert.NotEqual(t, ConfigKey(nil), ConfigKey(&tracing.Config{DisableStorage: true}))
	assert.NotEqual(t, ConfigKey(&tracing.Config{Limit: 1}), ConfigKey(&tracing.Config{Limit: 2}))

	result := &tracing.TraceResult{Gas: 21000}
	trace := NewCachedTrace(common.HexToHash("0xaa"), big.NewInt(5), nil, result)
	assert.Equal(t, ConfigKey(nil), trace.ConfigKey)
	assert.Same(t, result, trace.Result)
	assert.Equal(t, "cached_traces", trace.TableName())
}
