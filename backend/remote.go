package backend

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/DQYXACML/forkstate/errs"
)

const defaultCacheSize = 4096

type accountKey struct {
	block uint64
	addr  common.Address
}

type slotKey struct {
	block uint64
	addr  common.Address
	slot  common.Hash
}

type remoteAccount struct {
	nonce    uint64
	balance  *uint256.Int
	codeHash common.Hash
}

func (a *remoteAccount) empty() bool {
	return a.nonce == 0 && a.balance.IsZero() && a.codeHash == types.EmptyCodeHash
}

// remoteState fetches and caches state of the remote chain. Fetched code is
// written to the local key-value store so the state reader can resolve it by
// hash.
type remoteState struct {
	client   ethereum.ChainStateReader
	diskdb   ethdb.KeyValueWriter
	accounts *lru.Cache
	slots    *lru.Cache
}

func newRemoteState(client ethereum.ChainStateReader, diskdb ethdb.KeyValueWriter, cacheSize int) (*remoteState, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	accounts, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	slots, err := lru.New(cacheSize * 4)
	if err != nil {
		return nil, err
	}
	return &remoteState{client: client, diskdb: diskdb, accounts: accounts, slots: slots}, nil
}

func (r *remoteState) account(addr common.Address, block uint64) (*remoteAccount, error) {
	key := accountKey{block: block, addr: addr}
	if cached, ok := r.accounts.Get(key); ok {
		return cached.(*remoteAccount), nil
	}

	var (
		number  = new(big.Int).SetUint64(block)
		balance *big.Int
		nonce   uint64
		code    []byte
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() (err error) {
		balance, err = r.client.BalanceAt(ctx, addr, number)
		return err
	})
	g.Go(func() (err error) {
		nonce, err = r.client.NonceAt(ctx, addr, number)
		return err
	})
	g.Go(func() (err error) {
		code, err = r.client.CodeAt(ctx, addr, number)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errs.Network("fetch remote account", err).
			AddContext("address", addr.Hex()).
			AddContext("block", block)
	}

	acct := &remoteAccount{
		nonce:    nonce,
		balance:  uint256.MustFromBig(balance),
		codeHash: types.EmptyCodeHash,
	}
	if len(code) > 0 {
		acct.codeHash = crypto.Keccak256Hash(code)
		rawdb.WriteCode(r.diskdb, acct.codeHash, code)
	}
	r.accounts.Add(key, acct)
	log.Debug("fetched remote account", "address", addr, "block", block, "nonce", nonce, "balance", balance)
	return acct, nil
}

func (r *remoteState) storage(addr common.Address, slot common.Hash, block uint64) (common.Hash, error) {
	key := slotKey{block: block, addr: addr, slot: slot}
	if cached, ok := r.slots.Get(key); ok {
		return cached.(common.Hash), nil
	}
	value, err := r.client.StorageAt(context.Background(), addr, slot, new(big.Int).SetUint64(block))
	if err != nil {
		return common.Hash{}, errs.Network("fetch remote storage", err).
			AddContext("address", addr.Hex()).
			AddContext("slot", slot.Hex()).
			AddContext("block", block)
	}
	v := common.BytesToHash(value)
	r.slots.Add(key, v)
	return v, nil
}

// forkReader serves state from the local overlay and falls back to the
// remote chain for accounts and slots the overlay neither holds nor removed.
type forkReader struct {
	state.Reader
	db *forkDatabase
}

func (f *forkReader) Account(addr common.Address) (*types.StateAccount, error) {
	acct, err := f.Reader.Account(addr)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		f.db.served.addAccount(addr)
		return acct, nil
	}
	if f.db.removed.account(addr) {
		return nil, nil
	}
	ra, err := f.db.remote.account(addr, f.db.block)
	if err != nil {
		return nil, err
	}
	if ra.empty() {
		return nil, nil
	}
	f.db.served.addAccount(addr)
	return &types.StateAccount{
		Nonce:    ra.nonce,
		Balance:  new(uint256.Int).Set(ra.balance),
		Root:     types.EmptyRootHash,
		CodeHash: ra.codeHash.Bytes(),
	}, nil
}

func (f *forkReader) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	value, err := f.Reader.Storage(addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	if value == (common.Hash{}) {
		if f.db.removed.slot(addr, slot) {
			return common.Hash{}, nil
		}
		if value, err = f.db.remote.storage(addr, slot, f.db.block); err != nil {
			return common.Hash{}, err
		}
	}
	if value != (common.Hash{}) {
		f.db.served.addSlot(addr, slot)
	}
	return value, nil
}

// forkDatabase opens readers bound to the current remote context block and
// the removals of the current checkpoint.
type forkDatabase struct {
	*state.CachingDB
	remote  *remoteState
	block   uint64
	removed *removedSet
	served  *servedSet
}

func (db *forkDatabase) Reader(root common.Hash) (state.Reader, error) {
	local, err := db.CachingDB.Reader(root)
	if err != nil {
		return nil, err
	}
	return &forkReader{Reader: local, db: db}, nil
}
