package adapter

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/DQYXACML/forkstate/engine"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/ruleset"
	"github.com/DQYXACML/forkstate/tracing"
	"github.com/DQYXACML/forkstate/txmgr"
)

// session holds the listener ids of an enabled tracing session.
type session struct {
	beforeCall engine.ListenerID
	step       engine.ListenerID
	afterCall  engine.ListenerID
}

// EnableTracing attaches hooks to the engine's before-call, step and
// after-call events. Only one session may be enabled at a time.
func (a *Adapter) EnableTracing(hooks tracing.SessionHooks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	events, err := a.eventSource(a.vm)
	if err != nil {
		return err
	}
	if a.session != nil {
		return errs.Invariant("tracing is already enabled")
	}
	if hooks.BeforeCall == nil || hooks.Step == nil || hooks.AfterCall == nil {
		return errs.Invariant("tracing session needs before-call, step and after-call hooks")
	}

	a.session = &session{
		beforeCall: events.OnBeforeCall(hooks.BeforeCall),
		step:       events.OnStep(hooks.Step),
		afterCall:  events.OnAfterCall(hooks.AfterCall),
	}
	log.Debug("tracing enabled")
	return nil
}

// DisableTracing detaches the session's hooks. It is a no-op when no
// session is enabled.
func (a *Adapter) DisableTracing() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	events, err := a.eventSource(a.vm)
	if err != nil {
		return err
	}
	if a.session == nil {
		return nil
	}
	events.Remove(a.session.beforeCall)
	events.Remove(a.session.step)
	events.Remove(a.session.afterCall)
	a.session = nil
	log.Debug("tracing disabled")
	return nil
}

func (a *Adapter) TracingEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// TraceTransaction replays block up to and including the transaction with
// the given hash and returns the step trace of that transaction. The state
// must already be positioned at the block's parent; it is restored once the
// replay finishes. Transactions after the target are never executed.
func (a *Adapter) TraceTransaction(hash common.Hash, block *txmgr.Block, cfg *tracing.Config) (*tracing.TraceResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	res, err := a.traceTransaction(hash, block, cfg)
	a.metrics.RecordTrace(time.Since(start), err != nil)
	return res, err
}

func (a *Adapter) traceTransaction(hash common.Hash, block *txmgr.Block, cfg *tracing.Config) (result *tracing.TraceResult, err error) {
	if len(block.Senders) != len(block.Transactions) {
		return nil, errs.Invariant("block %d has %d transactions but %d senders",
			block.Number(), len(block.Transactions), len(block.Senders))
	}

	vm, err := a.traceEngine(block.Number().Uint64())
	if err != nil {
		return nil, err
	}
	if !vm.Ruleset().Gte(ruleset.SpuriousDragon) {
		return nil, errs.Input("tracing is not supported for transactions using hardforks older than Spurious Dragon")
	}
	events, err := a.eventSource(vm)
	if err != nil {
		return nil, err
	}

	initial, err := a.backend.StateRoot()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = a.restoreRoot(initial, err)
	}()

	for i, raw := range block.Transactions {
		tx, err := txmgr.WithSender(raw, block.Senders[i])
		if err != nil {
			return nil, err
		}
		opts := engine.RunTxOpts{Header: block.Header, Tx: tx, TxIndex: i}

		if tx.Hash() != hash {
			if _, err := vm.RunTx(opts); err != nil {
				return nil, errors.Wrapf(err, "replay transaction %d of block %d", i, block.Number())
			}
			continue
		}

		tracer := tracing.NewStepTracer(cfg, a.backend.StateDB())
		res, err := runWithStep(events, vm, opts, tracer.OnStep)
		if err != nil {
			return nil, errors.Wrapf(err, "trace transaction %s", hash)
		}
		log.Debug("traced transaction", "tx", hash, "block", block.Number(), "index", i,
			"ruleset", vm.Ruleset(), "steps", tracer.Steps())
		return tracer.Result(res.GasUsed, res.Failed(), res.ReturnValue)
	}
	return nil, errs.Invariant("transaction %s not found in block %d", hash, block.Number())
}

// runWithStep runs opts with step attached to events for the duration of
// the execution.
func runWithStep(events *engine.Events, vm engine.VM, opts engine.RunTxOpts, step gethtracing.OpcodeHook) (*engine.Result, error) {
	id := events.OnStep(step)
	defer events.Remove(id)
	return vm.RunTx(opts)
}

// traceEngine returns the engine that replays blockNumber. Remote blocks get
// a transient engine bound to the remote network's ruleset; local blocks use
// the adapter's engine as is.
func (a *Adapter) traceEngine(blockNumber uint64) (engine.VM, error) {
	if a.fork == nil || blockNumber > a.fork.BlockNumber {
		return a.vm, nil
	}

	hf, err := a.selector.SelectHardfork(blockNumber)
	if err != nil {
		return nil, errs.Config(fmt.Sprintf("network id %d does not correspond to a network that can be traced",
			a.fork.NetworkID), err)
	}
	rs := a.registry.Get(a.fork.NetworkID, a.fork.NetworkID, hf)
	return a.vm.WithRuleset(rs), nil
}
