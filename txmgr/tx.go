package txmgr

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/DQYXACML/forkstate/errs"
)

// Tx is a transaction the engine can execute.
type Tx interface {
	Hash() common.Hash
	Type() uint8
	Transaction() *types.Transaction

	// AsMessage converts the transaction into an executable message. The
	// signer is only consulted by wrappers that recover their sender.
	AsMessage(signer types.Signer, baseFee *big.Int) (*core.Message, error)
}

// SignedTx is a transaction whose sender is recovered from its signature.
type SignedTx struct {
	tx *types.Transaction
}

func NewSignedTx(tx *types.Transaction) *SignedTx {
	return &SignedTx{tx: tx}
}

func (s *SignedTx) Hash() common.Hash               { return s.tx.Hash() }
func (s *SignedTx) Type() uint8                     { return s.tx.Type() }
func (s *SignedTx) Transaction() *types.Transaction { return s.tx }

func (s *SignedTx) AsMessage(signer types.Signer, baseFee *big.Int) (*core.Message, error) {
	msg, err := core.TransactionToMessage(s.tx, signer, baseFee)
	if err != nil {
		return nil, errs.Execution("invalid transaction signature", err).
			AddContext("tx", s.tx.Hash().Hex())
	}
	return msg, nil
}

// FakeSenderTx executes a transaction on behalf of a known sender without
// checking its signature. The hash is the hash of the wrapped transaction.
type FakeSenderTx struct {
	tx   *types.Transaction
	from common.Address
}

// NewFakeSenderLegacyTx wraps a legacy transaction.
func NewFakeSenderLegacyTx(tx *types.Transaction, from common.Address) (*FakeSenderTx, error) {
	return newFakeSender(tx, from, types.LegacyTxType)
}

// NewFakeSenderAccessListTx wraps an EIP-2930 transaction.
func NewFakeSenderAccessListTx(tx *types.Transaction, from common.Address) (*FakeSenderTx, error) {
	return newFakeSender(tx, from, types.AccessListTxType)
}

// NewFakeSenderFeeMarketTx wraps an EIP-1559 transaction.
func NewFakeSenderFeeMarketTx(tx *types.Transaction, from common.Address) (*FakeSenderTx, error) {
	return newFakeSender(tx, from, types.DynamicFeeTxType)
}

func newFakeSender(tx *types.Transaction, from common.Address, want uint8) (*FakeSenderTx, error) {
	if tx.Type() != want {
		return nil, errs.Invariant("expected transaction type %d, got %d", want, tx.Type())
	}
	return &FakeSenderTx{tx: tx, from: from}, nil
}

// WithSender picks the fake-sender wrapper matching the transaction's type.
// Blob and set-code transactions are not replayable and yield an invariant
// error.
func WithSender(tx *types.Transaction, from common.Address) (*FakeSenderTx, error) {
	switch tx.Type() {
	case types.LegacyTxType:
		return NewFakeSenderLegacyTx(tx, from)
	case types.AccessListTxType:
		return NewFakeSenderAccessListTx(tx, from)
	case types.DynamicFeeTxType:
		return NewFakeSenderFeeMarketTx(tx, from)
	default:
		return nil, errs.Invariant("tx type %d not supported for replay", tx.Type()).
			AddContext("tx", tx.Hash().Hex())
	}
}

func (f *FakeSenderTx) Hash() common.Hash               { return f.tx.Hash() }
func (f *FakeSenderTx) Type() uint8                     { return f.tx.Type() }
func (f *FakeSenderTx) Transaction() *types.Transaction { return f.tx }
func (f *FakeSenderTx) Sender() common.Address          { return f.from }

func (f *FakeSenderTx) AsMessage(_ types.Signer, baseFee *big.Int) (*core.Message, error) {
	msg := &core.Message{
		From:       f.from,
		To:         f.tx.To(),
		Nonce:      f.tx.Nonce(),
		Value:      new(big.Int).Set(f.tx.Value()),
		GasLimit:   f.tx.Gas(),
		GasPrice:   new(big.Int).Set(f.tx.GasPrice()),
		GasFeeCap:  new(big.Int).Set(f.tx.GasFeeCap()),
		GasTipCap:  new(big.Int).Set(f.tx.GasTipCap()),
		Data:       f.tx.Data(),
		AccessList: f.tx.AccessList(),
	}
	// Effective gas price, as core.TransactionToMessage computes it.
	if baseFee != nil {
		price := new(big.Int).Add(msg.GasTipCap, baseFee)
		if price.Cmp(msg.GasFeeCap) > 0 {
			price.Set(msg.GasFeeCap)
		}
		msg.GasPrice = price
	}
	return msg, nil
}

// Block is a block body whose transaction senders are already known.
type Block struct {
	Header       *types.Header
	Transactions []*types.Transaction
	Senders      []common.Address
}

// Number returns the block number.
func (b *Block) Number() *big.Int {
	return b.Header.Number
}
