// Package adapter sits between the node and the execution engine. It keeps
// speculative execution isolated from committed state, drives the block
// start/seal/revert lifecycle, selects rulesets across a fork boundary and
// replays blocks for tracing.
package adapter

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/DQYXACML/forkstate/backend"
	"github.com/DQYXACML/forkstate/engine"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/metrics"
	"github.com/DQYXACML/forkstate/ruleset"
)

// ForkBoundary separates blocks of the remote chain from blocks produced
// locally. BlockNumber is the last remote block.
type ForkBoundary struct {
	NetworkID   uint64
	BlockNumber uint64
}

type Config struct {
	ChainID   uint64
	NetworkID uint64

	// Selector maps block numbers to hardforks. It is consulted on every
	// call.
	Selector ruleset.Selector

	// Fork must be set exactly when the backend is forked.
	Fork *ForkBoundary

	// Registry and Metrics are created when nil.
	Registry *ruleset.Registry
	Metrics  *metrics.Collector
}

// Adapter serialises every operation behind one mutex; isolation between
// dry runs comes from snapshot and restore of the state root.
type Adapter struct {
	mu sync.Mutex

	backend backend.Backend
	forked  backend.Forked
	vm      engine.VM

	chainID   uint64
	networkID uint64
	selector  ruleset.Selector
	registry  *ruleset.Registry
	fork      *ForkBoundary
	metrics   *metrics.Collector

	block   blockState
	session *session
}

func New(b backend.Backend, vm engine.VM, cfg Config) (*Adapter, error) {
	if b == nil || vm == nil {
		return nil, errs.Invariant("adapter needs a state backend and an engine")
	}
	if cfg.Selector == nil {
		return nil, errs.Config("no hardfork selector configured", nil)
	}

	forked, isForked := b.(backend.Forked)
	switch {
	case isForked && cfg.Fork == nil:
		return nil, errs.Config("forked backend requires a fork boundary", nil)
	case !isForked && cfg.Fork != nil:
		return nil, errs.Config("fork boundary requires a forked backend", nil)
	case isForked && forked.ForkBlockNumber() != cfg.Fork.BlockNumber:
		return nil, errs.Config(fmt.Sprintf("fork boundary %d does not match backend fork block %d",
			cfg.Fork.BlockNumber, forked.ForkBlockNumber()), nil)
	}

	a := &Adapter{
		backend:   b,
		vm:        vm,
		chainID:   cfg.ChainID,
		networkID: cfg.NetworkID,
		selector:  cfg.Selector,
		registry:  cfg.Registry,
		metrics:   cfg.Metrics,
	}
	if isForked {
		a.forked = forked
		boundary := *cfg.Fork
		a.fork = &boundary
	}
	if a.registry == nil {
		a.registry = ruleset.NewRegistry()
	}
	if a.metrics == nil {
		a.metrics = metrics.NewCollector()
	}
	return a, nil
}

// ForkBoundary returns the fork boundary, or nil when not forking.
func (a *Adapter) ForkBoundary() *ForkBoundary {
	if a.fork == nil {
		return nil
	}
	boundary := *a.fork
	return &boundary
}

func (a *Adapter) Metrics() *metrics.Collector {
	return a.metrics
}

// Ruleset returns the engine's current ruleset.
func (a *Adapter) Ruleset() *ruleset.Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vm.Ruleset()
}

func (a *Adapter) StateRoot() (common.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.StateRoot()
}

// RestoreContext resets the state to root.
func (a *Adapter) RestoreContext(root common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.SetStateRoot(root)
}

// SetBlockContext positions the state on top of header. A forked backend
// also re-points its remote reads at the header's block.
func (a *Adapter) SetBlockContext(header *types.Header, irregularState *common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.forked != nil {
		return a.forked.RestoreForkBlockContext(header.Root, header.Number, irregularState)
	}
	root := header.Root
	if irregularState != nil {
		root = *irregularState
	}
	return a.backend.SetStateRoot(root)
}

func (a *Adapter) GetAccount(addr common.Address) (*backend.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.GetAccount(addr)
}

func (a *Adapter) PutAccount(addr common.Address, account *backend.Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.PutAccount(addr, account)
}

func (a *Adapter) GetContractCode(addr common.Address) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.GetContractCode(addr)
}

func (a *Adapter) PutContractCode(addr common.Address, code []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.PutContractCode(addr, code)
}

func (a *Adapter) GetContractStorage(addr common.Address, key common.Hash) (common.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.GetContractStorage(addr, key)
}

func (a *Adapter) PutContractStorage(addr common.Address, key, value common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.PutContractStorage(addr, key, value)
}

// withRuleset installs rs on the engine for the duration of fn.
func (a *Adapter) withRuleset(rs *ruleset.Descriptor, fn func() error) error {
	previous := a.vm.Ruleset()
	a.vm.SetRuleset(rs)
	defer a.vm.SetRuleset(previous)
	return fn()
}

// restoreRoot returns the state to root, folding a failure into err.
func (a *Adapter) restoreRoot(root common.Hash, err error) error {
	rerr := a.backend.SetStateRoot(root)
	if rerr == nil {
		return err
	}
	log.Error("failed to restore state root", "root", root, "err", rerr)
	if err == nil {
		return errors.Wrap(rerr, "restore state root")
	}
	return fmt.Errorf("%w (restore state root: %w)", err, rerr)
}

func (a *Adapter) eventSource(vm engine.VM) (*engine.Events, error) {
	src, ok := vm.(engine.EventSource)
	if !ok {
		return nil, errs.Invariant("engine %T does not expose execution events", vm)
	}
	return src.Events(), nil
}
