package backend

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const prefetchConcurrency = 8

type checkpoint struct {
	overlay common.Hash
	block   uint64
	removed *removedSet
}

// Fork is a local overlay over a remote chain. Reads the overlay cannot
// serve go to the remote chain at the context block, which is the fork block
// unless a historical block context was restored.
//
// The roots it hands out bind the overlay root to the context block and to
// the remote entries the overlay deleted, so the same overlay over two remote
// blocks yields two different roots.
type Fork struct {
	stateOps

	db          *forkDatabase
	forkBlock   uint64
	checkpoints map[common.Hash]checkpoint
}

var _ Forked = (*Fork)(nil)

// NewFork creates an empty overlay over client's state at forkBlock.
func NewFork(client ethereum.ChainStateReader, forkBlock uint64, cacheSize int) (*Fork, error) {
	diskdb := rawdb.NewMemoryDatabase()
	remote, err := newRemoteState(client, diskdb, cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create remote cache")
	}
	db := &forkDatabase{
		CachingDB: state.NewDatabase(newTrieDatabase(diskdb), nil),
		remote:    remote,
		block:     forkBlock,
	}
	f := &Fork{
		db:          db,
		forkBlock:   forkBlock,
		checkpoints: make(map[common.Hash]checkpoint),
	}
	if err := f.SetStateRoot(f.emptyRoot(forkBlock)); err != nil {
		return nil, err
	}
	log.Info("forked backend ready", "forkBlock", forkBlock)
	return f, nil
}

func (f *Fork) ForkBlockNumber() uint64 {
	return f.forkBlock
}

// ContextBlockNumber returns the remote block reads are currently served
// from.
func (f *Fork) ContextBlockNumber() uint64 {
	return f.db.block
}

func (f *Fork) StateRoot() (common.Hash, error) {
	f.sdb.Finalise(true)
	removed := f.db.removed.extend(f.deleted())
	if err := f.dbErr("collect removals"); err != nil {
		return common.Hash{}, err
	}

	overlay, err := f.sdb.Commit(f.db.block, true, false)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "commit overlay")
	}
	cp := checkpoint{overlay: overlay, block: f.db.block, removed: removed}
	if err := f.open(cp); err != nil {
		return common.Hash{}, errors.Wrapf(err, "reopen overlay at %s", overlay)
	}
	return f.expose(cp), nil
}

func (f *Fork) SetStateRoot(root common.Hash) error {
	cp, ok := f.checkpoints[root]
	if !ok {
		return errors.Errorf("unknown state root %s", root)
	}
	if err := f.open(cp); err != nil {
		return errors.Wrapf(err, "open overlay %s", cp.overlay)
	}
	return nil
}

func (f *Fork) open(cp checkpoint) error {
	f.db.block = cp.block
	f.db.removed = cp.removed
	f.db.served = newServedSet()
	sdb, err := state.New(cp.overlay, f.db)
	if err != nil {
		return err
	}
	f.sdb = sdb
	return nil
}

// deleted returns the served accounts the finalised live state no longer
// holds and the served slots it now holds zero for.
func (f *Fork) deleted() ([]common.Address, []slotRef) {
	accounts, slots := f.db.served.entries()

	var gone []common.Address
	for _, addr := range accounts {
		if !f.sdb.Exist(addr) {
			gone = append(gone, addr)
		}
	}
	var cleared []slotRef
	for _, s := range slots {
		if f.sdb.Exist(s.addr) && f.sdb.GetState(s.addr, s.slot) == (common.Hash{}) {
			cleared = append(cleared, s)
		}
	}
	return gone, cleared
}

// RestoreForkBlockContext re-points remote reads for executing on top of
// blockNumber. Blocks before the fork start from an empty overlay over that
// remote block; the fork block itself starts from the empty overlay over the
// fork block; later blocks restore root, or irregularState when given.
func (f *Fork) RestoreForkBlockContext(root common.Hash, blockNumber *big.Int, irregularState *common.Hash) error {
	number := blockNumber.Uint64()

	var target common.Hash
	switch {
	case number < f.forkBlock:
		target = f.emptyRoot(number)
	case number == f.forkBlock:
		target = f.emptyRoot(f.forkBlock)
	default:
		target = root
	}
	if irregularState != nil {
		target = *irregularState
	}
	log.Debug("restoring fork block context", "block", number, "root", target)
	return f.SetStateRoot(target)
}

// Prefetch loads the given accounts from the remote chain concurrently so
// that execution does not stall on them one by one.
func (f *Fork) Prefetch(addrs ...common.Address) error {
	block := f.db.block
	g := new(errgroup.Group)
	g.SetLimit(prefetchConcurrency)
	for _, addr := range addrs {
		g.Go(func() error {
			_, err := f.db.remote.account(addr, block)
			return err
		})
	}
	return g.Wait()
}

// emptyRoot registers and returns the root of an empty overlay over block.
func (f *Fork) emptyRoot(block uint64) common.Hash {
	return f.expose(checkpoint{overlay: types.EmptyRootHash, block: block})
}

func (f *Fork) expose(cp checkpoint) common.Hash {
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], cp.block)
	parts := [][]byte{cp.overlay.Bytes(), enc[:]}
	if cp.removed != nil {
		parts = append(parts, cp.removed.digest.Bytes())
	}
	root := crypto.Keccak256Hash(parts...)
	f.checkpoints[root] = cp
	return root
}
