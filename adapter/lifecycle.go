package adapter

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/DQYXACML/forkstate/engine"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/txmgr"
)

// blockState is Idle when inProgress is false. checkpoint is the state root
// the block started from.
type blockState struct {
	inProgress bool
	checkpoint common.Hash
}

// Reward credits Amount wei to Address.
type Reward struct {
	Address common.Address
	Amount  *big.Int
}

// StartBlock opens a block on top of the current state.
func (a *Adapter) StartBlock() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.block.inProgress {
		return errs.Invariant("a block is already in progress")
	}
	root, err := a.backend.StateRoot()
	if err != nil {
		return err
	}
	a.block = blockState{inProgress: true, checkpoint: root}
	a.metrics.RecordBlockStarted()
	log.Debug("block started", "checkpoint", root)
	return nil
}

// RunTxInBlock executes tx with full validation and keeps its effects.
func (a *Adapter) RunTxInBlock(tx txmgr.Tx, header *types.Header) (*engine.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.vm.RunTx(engine.RunTxOpts{Header: header, Tx: tx})
}

// AddBlockRewards credits every reward in order. Credits applied before a
// failing one are kept; RevertBlock discards them.
func (a *Adapter) AddBlockRewards(rewards []Reward) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.block.inProgress {
		return errs.Invariant("cannot add block rewards without a block in progress")
	}
	for _, r := range rewards {
		if r.Amount == nil || r.Amount.Sign() < 0 {
			return errs.Input("invalid reward %v for %s", r.Amount, r.Address)
		}
		amount, overflow := uint256.FromBig(r.Amount)
		if overflow {
			return errs.Input("reward %v for %s does not fit 256 bits", r.Amount, r.Address)
		}
		account, err := a.backend.GetAccount(r.Address)
		if err != nil {
			return err
		}
		if _, overflow := account.Balance.AddOverflow(account.Balance, amount); overflow {
			return errs.Input("reward for %s overflows its balance", r.Address)
		}
		if err := a.backend.PutAccount(r.Address, account); err != nil {
			return err
		}
	}
	a.metrics.RecordRewards(len(rewards))
	return nil
}

// SealBlock keeps everything the block did and returns to Idle.
func (a *Adapter) SealBlock() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.block.inProgress {
		return errs.Invariant("cannot seal a block that was not started")
	}
	a.block = blockState{}
	a.metrics.RecordBlockSealed()
	return nil
}

// RevertBlock rolls the state back to where StartBlock found it. On failure
// the block stays in progress.
func (a *Adapter) RevertBlock() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.block.inProgress {
		return errs.Invariant("cannot revert a block that was not started")
	}
	if err := a.backend.SetStateRoot(a.block.checkpoint); err != nil {
		return err
	}
	log.Debug("block reverted", "checkpoint", a.block.checkpoint)
	a.block = blockState{}
	a.metrics.RecordBlockReverted()
	return nil
}

func (a *Adapter) InProgress() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.block.inProgress
}
