package engine

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/DQYXACML/forkstate/backend"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/ruleset"
	"github.com/DQYXACML/forkstate/txmgr"
)

// RunTxOpts describes a single transaction execution.
type RunTxOpts struct {
	Header  *types.Header
	Tx      txmgr.Tx
	TxIndex int

	SkipNonce   bool
	SkipBalance bool

	// SkipBlockGasLimitValidation lets the transaction use more gas than the
	// header's gas limit.
	SkipBlockGasLimitValidation bool
}

// Result is the outcome of an executed transaction. A transaction that
// reverted or ran out of gas still produces a Result; Err holds the reason.
type Result struct {
	GasUsed        uint64
	ReturnValue    []byte
	Logs           []*types.Log
	Err            error
	CreatedAddress *common.Address
}

func (r *Result) Failed() bool { return r.Err != nil }

func (r *Result) Reverted() bool { return errors.Is(r.Err, vm.ErrExecutionReverted) }

// VM is the execution capability the adapter drives.
type VM interface {
	RunTx(opts RunTxOpts) (*Result, error)
	Ruleset() *ruleset.Descriptor
	SetRuleset(rs *ruleset.Descriptor)

	// WithRuleset returns an engine bound to rs that shares this engine's
	// state backend and chain.
	WithRuleset(rs *ruleset.Descriptor) VM
}

// ChainContext resolves historical headers for the BLOCKHASH opcode.
type ChainContext interface {
	GetHeaderByNumber(number uint64) *types.Header
}

// Engine executes transactions with the go-ethereum EVM against a state
// backend.
type Engine struct {
	backend backend.Backend
	chain   ChainContext
	rules   *ruleset.Descriptor
	events  *Events
}

var (
	_ VM          = (*Engine)(nil)
	_ EventSource = (*Engine)(nil)
)

// New creates an engine. chain may be nil, in which case BLOCKHASH yields
// zero for every block.
func New(b backend.Backend, chain ChainContext, rules *ruleset.Descriptor) *Engine {
	return &Engine{
		backend: b,
		chain:   chain,
		rules:   rules,
		events:  NewEvents(),
	}
}

func (e *Engine) Ruleset() *ruleset.Descriptor { return e.rules }

func (e *Engine) SetRuleset(rs *ruleset.Descriptor) { e.rules = rs }

func (e *Engine) Events() *Events { return e.events }

func (e *Engine) WithRuleset(rs *ruleset.Descriptor) VM {
	return New(e.backend, e.chain, rs)
}

func (e *Engine) getHash(number uint64) common.Hash {
	if e.chain == nil {
		return common.Hash{}
	}
	if header := e.chain.GetHeaderByNumber(number); header != nil {
		return header.Hash()
	}
	return common.Hash{}
}

func (e *Engine) blockContext(header *types.Header) vm.BlockContext {
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     e.getHash,
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  new(big.Int),
	}
	if header.Difficulty != nil {
		blockCtx.Difficulty.Set(header.Difficulty)
	}
	if e.rules.RequiresBaseFee() {
		blockCtx.BaseFee = new(big.Int)
		if header.BaseFee != nil {
			blockCtx.BaseFee.Set(header.BaseFee)
		}
	}
	// Post-merge rules are only enabled by go-ethereum when a random value
	// is present.
	if e.rules.Gte(ruleset.Merge) {
		random := header.MixDigest
		blockCtx.Random = &random
		blockCtx.Difficulty = new(big.Int)
	}
	if e.rules.Gte(ruleset.Cancun) {
		blockCtx.BlobBaseFee = big.NewInt(1)
	}
	return blockCtx
}

func (e *Engine) RunTx(opts RunTxOpts) (*Result, error) {
	header := opts.Header
	cfg := e.rules.ChainConfig()
	blockCtx := e.blockContext(header)

	signer := types.MakeSigner(cfg, header.Number, header.Time)
	msg, err := opts.Tx.AsMessage(signer, blockCtx.BaseFee)
	if err != nil {
		return nil, err
	}
	msg.SkipNonceChecks = opts.SkipNonce
	msg.SkipFromEOACheck = opts.SkipNonce

	if forked, ok := e.backend.(backend.Forked); ok {
		if err := forked.Prefetch(touched(msg, header.Coinbase)...); err != nil {
			return nil, errors.Wrap(err, "prefetch remote accounts")
		}
	}

	sdb := e.backend.StateDB()
	if opts.SkipBalance {
		coverCost(sdb, msg)
	}

	evm := vm.NewEVM(blockCtx, sdb, cfg, vm.Config{
		Tracer:    e.events.Hooks(),
		NoBaseFee: opts.SkipBalance,
	})
	sdb.SetTxContext(opts.Tx.Hash(), opts.TxIndex)
	evm.SetTxContext(core.NewEVMTxContext(msg))

	gasPool := new(core.GasPool)
	if opts.SkipBlockGasLimitValidation {
		gasPool.AddGas(math.MaxUint64)
	} else {
		gasPool.AddGas(header.GasLimit)
	}

	nonce := sdb.GetNonce(msg.From)
	res, err := core.ApplyMessage(evm, msg, gasPool)
	if err != nil {
		return nil, errs.Execution("transaction rejected", err).
			AddContext("tx", opts.Tx.Hash().Hex()).
			AddContext("block", header.Number.Uint64())
	}
	if dbErr := sdb.Error(); dbErr != nil {
		return nil, errors.Wrap(dbErr, "state access during execution")
	}
	sdb.Finalise(cfg.IsEIP158(header.Number))

	result := &Result{
		GasUsed:     res.UsedGas,
		ReturnValue: res.ReturnData,
		Err:         res.Err,
		Logs:        txLogs(sdb, opts.Tx.Hash()),
	}
	if msg.To == nil && !res.Failed() {
		created := crypto.CreateAddress(msg.From, nonce)
		result.CreatedAddress = &created
	}

	log.Debug("executed transaction", "hash", opts.Tx.Hash(), "block", header.Number,
		"hardfork", e.rules.Hardfork(), "gasUsed", res.UsedGas, "failed", res.Failed())
	return result, nil
}

func txLogs(sdb *state.StateDB, hash common.Hash) []*types.Log {
	var logs []*types.Log
	for _, l := range sdb.Logs() {
		if l.TxHash == hash {
			logs = append(logs, l)
		}
	}
	return logs
}

// coverCost raises the sender's balance to what the message may spend, so
// that execution never fails on funds.
func coverCost(sdb *state.StateDB, msg *core.Message) {
	feeCap := msg.GasFeeCap
	if feeCap == nil {
		feeCap = msg.GasPrice
	}
	need := new(big.Int).SetUint64(msg.GasLimit)
	if feeCap != nil {
		need.Mul(need, feeCap)
	} else {
		need.SetUint64(0)
	}
	if msg.Value != nil {
		need.Add(need, msg.Value)
	}
	required, overflow := uint256.FromBig(need)
	if overflow {
		return
	}
	if sdb.GetBalance(msg.From).Cmp(required) < 0 {
		sdb.SetBalance(msg.From, required, tracing.BalanceChangeUnspecified)
	}
}

func touched(msg *core.Message, coinbase common.Address) []common.Address {
	addrs := []common.Address{msg.From, coinbase}
	if msg.To != nil {
		addrs = append(addrs, *msg.To)
	}
	for _, tuple := range msg.AccessList {
		addrs = append(addrs, tuple.Address)
	}
	return addrs
}
