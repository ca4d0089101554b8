// Package backend provides the account and storage state the engine executes
// against. Local keeps everything in an in-memory trie; Forked additionally
// reads state it has not seen from a remote chain.
package backend

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/ethereum/go-ethereum/triedb/hashdb"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Account is the externally visible part of an account.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
}

// NewAccount returns an account with the given nonce and balance.
func NewAccount(nonce uint64, balance *big.Int) *Account {
	return &Account{Nonce: nonce, Balance: uint256.MustFromBig(balance)}
}

// Backend is the state capability shared by the engine and the adapter.
type Backend interface {
	// StateRoot commits pending changes and returns the root identifying
	// the resulting state.
	StateRoot() (common.Hash, error)
	SetStateRoot(root common.Hash) error

	GetAccount(addr common.Address) (*Account, error)
	PutAccount(addr common.Address, account *Account) error
	GetContractCode(addr common.Address) ([]byte, error)
	PutContractCode(addr common.Address, code []byte) error
	GetContractStorage(addr common.Address, key common.Hash) (common.Hash, error)
	PutContractStorage(addr common.Address, key, value common.Hash) error

	// StateDB returns the live state. The returned value is replaced by
	// StateRoot and SetStateRoot, so callers must not hold on to it.
	StateDB() *state.StateDB
}

// Forked is a Backend that lazily serves state from a remote chain.
type Forked interface {
	Backend

	// RestoreForkBlockContext points remote reads at blockNumber and
	// restores root. A non-nil irregularState replaces root.
	RestoreForkBlockContext(root common.Hash, blockNumber *big.Int, irregularState *common.Hash) error
	ForkBlockNumber() uint64
	Prefetch(addrs ...common.Address) error
}

func newTrieDatabase(diskdb ethdb.Database) *triedb.Database {
	return triedb.NewDatabase(diskdb, &triedb.Config{
		Preimages: false,
		IsVerkle:  false,
		HashDB: &hashdb.Config{
			CleanCacheSize: 16 * 1024 * 1024,
		},
	})
}

// stateOps implements the account accessors shared by both variants.
type stateOps struct {
	sdb *state.StateDB
}

func (s *stateOps) StateDB() *state.StateDB {
	return s.sdb
}

func (s *stateOps) GetAccount(addr common.Address) (*Account, error) {
	acct := &Account{
		Nonce:   s.sdb.GetNonce(addr),
		Balance: new(uint256.Int).Set(s.sdb.GetBalance(addr)),
	}
	return acct, s.dbErr("get account")
}

func (s *stateOps) PutAccount(addr common.Address, account *Account) error {
	if !s.sdb.Exist(addr) {
		s.sdb.CreateAccount(addr)
	}
	balance := account.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}
	s.sdb.SetNonce(addr, account.Nonce, 0)
	s.sdb.SetBalance(addr, balance, tracing.BalanceChangeUnspecified)
	return s.dbErr("put account")
}

func (s *stateOps) GetContractCode(addr common.Address) ([]byte, error) {
	code := s.sdb.GetCode(addr)
	return common.CopyBytes(code), s.dbErr("get code")
}

func (s *stateOps) PutContractCode(addr common.Address, code []byte) error {
	if !s.sdb.Exist(addr) {
		s.sdb.CreateAccount(addr)
	}
	s.sdb.SetCode(addr, code)
	return s.dbErr("put code")
}

func (s *stateOps) GetContractStorage(addr common.Address, key common.Hash) (common.Hash, error) {
	value := s.sdb.GetState(addr, key)
	return value, s.dbErr("get storage")
}

func (s *stateOps) PutContractStorage(addr common.Address, key, value common.Hash) error {
	if !s.sdb.Exist(addr) {
		s.sdb.CreateAccount(addr)
	}
	s.sdb.SetState(addr, key, value)
	return s.dbErr("put storage")
}

func (s *stateOps) dbErr(op string) error {
	if err := s.sdb.Error(); err != nil {
		return errors.Wrap(err, op)
	}
	return nil
}
