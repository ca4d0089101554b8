// Package backendtest provides an in-memory remote chain for tests of the
// forked backend and its users.
package backendtest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type accountState struct {
	balance *big.Int
	nonce   uint64
	code    []byte
	storage map[common.Hash]common.Hash
}

// Chain is a fake remote chain. State set for a block is visible at that
// block and every later one until overridden.
type Chain struct {
	mu     sync.Mutex
	states map[uint64]map[common.Address]*accountState

	// Calls counts every state request served.
	Calls atomic.Int64
	// Err, when set, fails every request.
	Err error
}

var _ ethereum.ChainStateReader = (*Chain)(nil)

func NewChain() *Chain {
	return &Chain{states: make(map[uint64]map[common.Address]*accountState)}
}

func (c *Chain) account(block uint64, addr common.Address, create bool) *accountState {
	accounts, ok := c.states[block]
	if !ok {
		if !create {
			return nil
		}
		accounts = make(map[common.Address]*accountState)
		c.states[block] = accounts
	}
	acct, ok := accounts[addr]
	if !ok && create {
		acct = &accountState{balance: new(big.Int), storage: make(map[common.Hash]common.Hash)}
		accounts[addr] = acct
	}
	return acct
}

// SetBalance sets the balance of addr from block onwards.
func (c *Chain) SetBalance(block uint64, addr common.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(block, addr, true).balance = new(big.Int).Set(balance)
}

func (c *Chain) SetNonce(block uint64, addr common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(block, addr, true).nonce = nonce
}

func (c *Chain) SetCode(block uint64, addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(block, addr, true).code = common.CopyBytes(code)
}

func (c *Chain) SetStorage(block uint64, addr common.Address, key, value common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(block, addr, true).storage[key] = value
}

// lookup finds the latest state of addr at or before block.
func (c *Chain) lookup(addr common.Address, number *big.Int) (*accountState, error) {
	c.Calls.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		best      *accountState
		bestBlock uint64
	)
	for block := range c.states {
		if number != nil && block > number.Uint64() {
			continue
		}
		if acct := c.account(block, addr, false); acct != nil && (best == nil || block >= bestBlock) {
			best, bestBlock = acct, block
		}
	}
	return best, nil
}

func (c *Chain) BalanceAt(_ context.Context, addr common.Address, number *big.Int) (*big.Int, error) {
	acct, err := c.lookup(addr, number)
	if err != nil || acct == nil {
		return new(big.Int), err
	}
	return new(big.Int).Set(acct.balance), nil
}

func (c *Chain) NonceAt(_ context.Context, addr common.Address, number *big.Int) (uint64, error) {
	acct, err := c.lookup(addr, number)
	if err != nil || acct == nil {
		return 0, err
	}
	return acct.nonce, nil
}

func (c *Chain) CodeAt(_ context.Context, addr common.Address, number *big.Int) ([]byte, error) {
	acct, err := c.lookup(addr, number)
	if err != nil || acct == nil {
		return nil, err
	}
	return common.CopyBytes(acct.code), nil
}

func (c *Chain) StorageAt(_ context.Context, addr common.Address, key common.Hash, number *big.Int) ([]byte, error) {
	acct, err := c.lookup(addr, number)
	if err != nil || acct == nil {
		return common.Hash{}.Bytes(), err
	}
	return acct.storage[key].Bytes(), nil
}
