package txmgr

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/forkstate/errs"
)

var (
	testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	recipient  = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

func TestWithSender(t *testing.T) {
	from := common.HexToAddress("0xabc0000000000000000000000000000000000abc")

	tests := []struct {
		name string
		tx   *types.Transaction
	}{
		{"legacy", types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(10), Gas: 21000, To: &recipient, Value: big.NewInt(5)})},
		{"access list", types.NewTx(&types.AccessListTx{ChainID: big.NewInt(1), Nonce: 2, GasPrice: big.NewInt(10), Gas: 30000, To: &recipient})},
		{"fee market", types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1), Nonce: 3, GasTipCap: big.NewInt(2), GasFeeCap: big.NewInt(20), Gas: 21000, To: &recipient})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped, err := WithSender(tt.tx, from)
			require.NoError(t, err)
			assert.Equal(t, tt.tx.Hash(), wrapped.Hash())
			assert.Equal(t, tt.tx.Type(), wrapped.Type())

			msg, err := wrapped.AsMessage(nil, nil)
			require.NoError(t, err)
			assert.Equal(t, from, msg.From)
			assert.Equal(t, tt.tx.Nonce(), msg.Nonce)
			assert.Equal(t, tt.tx.Gas(), msg.GasLimit)
		})
	}
}

func TestWithSenderRejectsUnsupportedTypes(t *testing.T) {
	blobTx := types.NewTx(&types.BlobTx{
		ChainID:    uint256.NewInt(1),
		GasTipCap:  uint256.NewInt(1),
		GasFeeCap:  uint256.NewInt(1),
		Gas:        21000,
		To:         recipient,
		Value:      uint256.NewInt(0),
		BlobFeeCap: uint256.NewInt(1),
	})

	_, err := WithSender(blobTx, common.Address{})
	require.Error(t, err)
	assert.True(t, errs.IsInvariant(err))

	_, err = NewFakeSenderLegacyTx(types.NewTx(&types.DynamicFeeTx{GasTipCap: big.NewInt(0), GasFeeCap: big.NewInt(0)}), common.Address{})
	assert.True(t, errs.IsInvariant(err))
}

func TestFakeSenderEffectiveGasPrice(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &recipient,
	})
	wrapped, err := NewFakeSenderFeeMarketTx(tx, common.Address{1})
	require.NoError(t, err)

	msg, err := wrapped.AsMessage(nil, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.GasPrice.Int64())

	msg, err = wrapped.AsMessage(nil, big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, int64(10), msg.GasPrice.Int64())
}

func TestOfflineSignTx(t *testing.T) {
	chainID := big.NewInt(31337)
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	expected := crypto.PubkeyToAddress(key.PublicKey)

	signed, raw, err := OfflineSignTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &recipient,
		Value:     big.NewInt(1),
	}, testKeyHex, chainID)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	signer := types.LatestSignerForChainID(chainID)
	block, err := RecoverSenders(&types.Header{Number: big.NewInt(1)}, []*types.Transaction{signed}, signer)
	require.NoError(t, err)
	assert.Equal(t, expected, block.Senders[0])

	msg, err := NewSignedTx(signed).AsMessage(signer, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, expected, msg.From)

	_, _, err = OfflineSignTx(&types.LegacyTx{}, "zz", chainID)
	assert.Error(t, err)
}
