package adapter

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/forkstate/engine"
	"github.com/DQYXACML/forkstate/ruleset"
	"github.com/DQYXACML/forkstate/tracing"
	"github.com/DQYXACML/forkstate/txmgr"
)

// DryRun executes tx in the context of header and discards every state
// change it makes. Nonce, balance and block gas limit checks are skipped.
// When forceZeroBaseFee is set, or the selected ruleset needs a base fee the
// header lacks, the execution sees a base fee of zero. The caller's header
// is never modified.
func (a *Adapter) DryRun(tx txmgr.Tx, header *types.Header, forceZeroBaseFee bool) (*engine.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	res, err := a.dryRun(tx, header, forceZeroBaseFee, nil)
	a.metrics.RecordDryRun(time.Since(start), err != nil)
	return res, err
}

// TraceCall is DryRun with a step tracer attached to the execution.
func (a *Adapter) TraceCall(tx txmgr.Tx, header *types.Header, cfg *tracing.Config) (*tracing.TraceResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	var tracer *tracing.StepTracer
	res, err := a.dryRun(tx, header, false, func() *tracing.StepTracer {
		tracer = tracing.NewStepTracer(cfg, a.backend.StateDB())
		return tracer
	})
	a.metrics.RecordTrace(time.Since(start), err != nil)
	if err != nil {
		return nil, err
	}
	return tracer.Result(res.GasUsed, res.Failed(), res.ReturnValue)
}

func (a *Adapter) dryRun(tx txmgr.Tx, header *types.Header, forceZeroBaseFee bool, newTracer func() *tracing.StepTracer) (res *engine.Result, err error) {
	initial, err := a.backend.StateRoot()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = a.restoreRoot(initial, err)
	}()

	rs, err := a.dryRunRuleset(header.Number.Uint64())
	if err != nil {
		return nil, err
	}

	execHeader := header
	if forceZeroBaseFee || (rs.RequiresBaseFee() && header.BaseFee == nil) {
		execHeader = types.CopyHeader(header)
		execHeader.BaseFee = new(big.Int)
	}

	err = a.withRuleset(rs, func() error {
		if newTracer != nil {
			events, err := a.eventSource(a.vm)
			if err != nil {
				return err
			}
			id := events.OnStep(newTracer().OnStep)
			defer events.Remove(id)
		}

		var runErr error
		res, runErr = a.vm.RunTx(engine.RunTxOpts{
			Header:                      execHeader,
			Tx:                          tx,
			SkipNonce:                   true,
			SkipBalance:                 true,
			SkipBlockGasLimitValidation: true,
		})
		return runErr
	})
	if err != nil {
		log.Debug("dry run failed", "tx", tx.Hash(), "block", header.Number, "err", err)
		return nil, err
	}
	log.Debug("dry run", "tx", tx.Hash(), "block", header.Number, "ruleset", rs, "gasUsed", res.GasUsed, "failed", res.Failed())
	return res, nil
}

// dryRunRuleset resolves the ruleset for a dry run at blockNumber. Blocks
// before the fork boundary run with the remote chain id; the network id is
// the remote one whenever the node is forking.
func (a *Adapter) dryRunRuleset(blockNumber uint64) (*ruleset.Descriptor, error) {
	hf, err := a.selector.SelectHardfork(blockNumber)
	if err != nil {
		return nil, err
	}

	chainID, networkID := a.chainID, a.networkID
	if a.fork != nil {
		networkID = a.fork.NetworkID
		if blockNumber < a.fork.BlockNumber {
			chainID = a.fork.NetworkID
		}
	}
	return a.registry.Get(chainID, networkID, hf), nil
}
