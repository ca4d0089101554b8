package backend

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Local keeps all state in an in-memory trie. Every committed root stays
// resolvable, so SetStateRoot only swaps the state handle.
type Local struct {
	stateOps
	db state.Database
}

// NewLocal returns an empty local backend.
func NewLocal() (*Local, error) {
	db := state.NewDatabase(newTrieDatabase(rawdb.NewMemoryDatabase()), nil)
	sdb, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return nil, errors.Wrap(err, "open empty state")
	}
	return &Local{stateOps: stateOps{sdb: sdb}, db: db}, nil
}

func (l *Local) StateRoot() (common.Hash, error) {
	root, err := l.sdb.Commit(0, true, false)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "commit state")
	}
	// A committed StateDB must not be reused.
	sdb, err := state.New(root, l.db)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "reopen state at %s", root)
	}
	l.sdb = sdb
	return root, nil
}

func (l *Local) SetStateRoot(root common.Hash) error {
	sdb, err := state.New(root, l.db)
	if err != nil {
		return errors.Wrapf(err, "unknown state root %s", root)
	}
	l.sdb = sdb
	return nil
}
