package txmgr

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// OfflineSignTx signs txData with a hex encoded private key and returns the
// signed transaction along with its raw encoding.
func OfflineSignTx(txData types.TxData, privateKey string, chainId *big.Int) (*types.Transaction, string, error) {
	privateKeyEcdsa, err := crypto.HexToECDSA(privateKey)
	if err != nil {
		return nil, "", errors.Wrap(err, "parse private key")
	}

	tx := types.NewTx(txData)

	signer := types.LatestSignerForChainID(chainId)

	signedTx, err := types.SignTx(tx, signer, privateKeyEcdsa)
	if err != nil {
		return nil, "", errors.Wrap(err, "sign transaction")
	}

	signedTxData, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, "", errors.Wrap(err, "encode transaction")
	}

	return signedTx, hexutil.Encode(signedTxData), nil
}

// RecoverSenders builds a Block by recovering every sender from its
// signature.
func RecoverSenders(header *types.Header, txs []*types.Transaction, signer types.Signer) (*Block, error) {
	senders := make([]common.Address, len(txs))
	for i, tx := range txs {
		from, err := types.Sender(signer, tx)
		if err != nil {
			return nil, errors.Wrapf(err, "recover sender of tx %s", tx.Hash())
		}
		senders[i] = from
	}
	return &Block{Header: header, Transactions: txs, Senders: senders}, nil
}
